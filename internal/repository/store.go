package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"appmarket/internal/domain"
)

// PublishedFile - опубликованная версия вместе с путем ее основного файла
type PublishedFile struct {
	AppID     uuid.UUID `db:"app_id"`
	VersionID uuid.UUID `db:"version_id"`
	FileID    uuid.UUID `db:"file_id"`
	Path      string    `db:"path"`
}

// Tx - набор запросов, доступных внутри транзакции и вне ее.
// Методы *ForUpdate блокируют строку до конца транзакции.
type Tx interface {
	DeveloperExists(ctx context.Context, id uuid.UUID) (bool, error)

	CreateApp(ctx context.Context, app *domain.App) error
	GetApp(ctx context.Context, id uuid.UUID) (*domain.App, error)
	GetAppForUpdate(ctx context.Context, id uuid.UUID) (*domain.App, error)
	SetAppStatus(ctx context.Context, id uuid.UUID, status domain.AppStatus) error
	SetAppPrice(ctx context.Context, id uuid.UUID, price float64) error
	TouchApp(ctx context.Context, id uuid.UUID) error

	CreateVersion(ctx context.Context, v *domain.AppVersion) error
	GetVersion(ctx context.Context, id uuid.UUID) (*domain.AppVersion, error)
	GetVersionBySubmission(ctx context.Context, submissionID uuid.UUID) (*domain.AppVersion, error)
	GetVersionByFileForUpdate(ctx context.Context, fileID uuid.UUID) (*domain.AppVersion, error)
	ListVersions(ctx context.Context, appID uuid.UUID) ([]domain.AppVersion, error)
	ListVersionsByStatus(ctx context.Context, appID uuid.UUID, status domain.VersionStatus) ([]domain.AppVersion, error)
	CountVersionsByStatus(ctx context.Context, appID uuid.UUID, status domain.VersionStatus) (int, error)
	UpdateVersionStatus(ctx context.Context, id uuid.UUID, status domain.VersionStatus, reason *string) error
	ListPublishedFiles(ctx context.Context) ([]PublishedFile, error)

	CreateFile(ctx context.Context, f *domain.AppFile) error
	GetFile(ctx context.Context, id uuid.UUID) (*domain.AppFile, error)
	UpdateFilePath(ctx context.Context, id uuid.UUID, path string) error

	CreateScreenshot(ctx context.Context, s *domain.AppScreenshot) error
	GetScreenshotForUpdate(ctx context.Context, id uuid.UUID) (*domain.AppScreenshot, error)
	ListScreenshotsByVersion(ctx context.Context, versionID uuid.UUID) ([]domain.AppScreenshot, error)
	UpdateScreenshot(ctx context.Context, s *domain.AppScreenshot) error

	EnsureTag(ctx context.Context, name string) (uuid.UUID, error)
	LinkAppTag(ctx context.Context, appID, tagID uuid.UUID) error
}

// Store выполняет запросы поверх *sqlx.DB
type Store struct {
	db *sqlx.DB
}

func NewStore(db *sqlx.DB) *Store {
	return &Store{db: db}
}

// Queries возвращает запросы вне транзакции
func (s *Store) Queries() Tx {
	return &queries{ext: s.db}
}

// InTx выполняет fn в одной транзакции; ошибка fn откатывает транзакцию
func (s *Store) InTx(ctx context.Context, fn func(tx Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(&queries{ext: tx}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// queries реализует Tx для *sqlx.DB и *sqlx.Tx
type queries struct {
	ext sqlx.ExtContext
}

var _ Tx = (*queries)(nil)

// notFound превращает sql.ErrNoRows в domain.ErrNotFound
func notFound(err error, what string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s: %w", what, domain.ErrNotFound)
	}
	return fmt.Errorf("failed to get %s: %w", what, err)
}

// uniqueViolation - код ошибки Postgres 23505
func uniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

// violated сообщает о нарушении конкретного уникального индекса
func violated(err error, constraint string) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505" && pqErr.Constraint == constraint
}

func expectOne(res sql.Result, what string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", what, domain.ErrNotFound)
	}
	return nil
}
