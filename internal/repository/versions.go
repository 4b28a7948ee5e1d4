package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"appmarket/internal/domain"
)

const versionColumns = `id, app_id, submission_id, version, changelog, status, status_reason, app_file_id, is_deleted, created_at, updated_at`

func (q *queries) CreateVersion(ctx context.Context, v *domain.AppVersion) error {
	query := `
        INSERT INTO app_versions (id, app_id, submission_id, version, changelog, status, app_file_id)
        VALUES ($1, $2, $3, $4, $5, $6, $7)
        RETURNING created_at, updated_at`

	err := q.ext.QueryRowxContext(
		ctx,
		query,
		v.ID,
		v.AppID,
		v.SubmissionID,
		v.Version,
		v.Changelog,
		v.Status,
		v.AppFileID,
	).Scan(&v.CreatedAt, &v.UpdatedAt)
	if err != nil {
		if violated(err, "uq_app_versions_version") {
			return fmt.Errorf("app %s already has version %q: %w", v.AppID, v.Version, domain.ErrConflict)
		}
		if uniqueViolation(err) {
			return fmt.Errorf("submission %s already recorded: %w", v.SubmissionID, domain.ErrConflict)
		}
		return fmt.Errorf("failed to create version: %w", err)
	}
	return nil
}

func (q *queries) GetVersion(ctx context.Context, id uuid.UUID) (*domain.AppVersion, error) {
	var v domain.AppVersion
	query := `SELECT ` + versionColumns + ` FROM app_versions WHERE id = $1 AND NOT is_deleted`

	if err := sqlx.GetContext(ctx, q.ext, &v, query, id); err != nil {
		return nil, notFound(err, "app version")
	}
	return &v, nil
}

func (q *queries) GetVersionBySubmission(ctx context.Context, submissionID uuid.UUID) (*domain.AppVersion, error) {
	var v domain.AppVersion
	query := `SELECT ` + versionColumns + ` FROM app_versions WHERE submission_id = $1`

	if err := sqlx.GetContext(ctx, q.ext, &v, query, submissionID); err != nil {
		return nil, notFound(err, "app version")
	}
	return &v, nil
}

func (q *queries) GetVersionByFileForUpdate(ctx context.Context, fileID uuid.UUID) (*domain.AppVersion, error) {
	var v domain.AppVersion
	query := `SELECT ` + versionColumns + ` FROM app_versions WHERE app_file_id = $1 FOR UPDATE`

	if err := sqlx.GetContext(ctx, q.ext, &v, query, fileID); err != nil {
		return nil, notFound(err, "app version")
	}
	return &v, nil
}

func (q *queries) ListVersions(ctx context.Context, appID uuid.UUID) ([]domain.AppVersion, error) {
	var versions []domain.AppVersion
	query := `SELECT ` + versionColumns + ` FROM app_versions
        WHERE app_id = $1 AND NOT is_deleted
        ORDER BY created_at DESC`

	if err := sqlx.SelectContext(ctx, q.ext, &versions, query, appID); err != nil {
		return nil, fmt.Errorf("failed to list versions: %w", err)
	}
	return versions, nil
}

// ListVersionsByStatus упорядочивает по времени создания, новые первыми
func (q *queries) ListVersionsByStatus(ctx context.Context, appID uuid.UUID, status domain.VersionStatus) ([]domain.AppVersion, error) {
	var versions []domain.AppVersion
	query := `SELECT ` + versionColumns + ` FROM app_versions
        WHERE app_id = $1 AND status = $2 AND NOT is_deleted
        ORDER BY created_at DESC, id DESC`

	if err := sqlx.SelectContext(ctx, q.ext, &versions, query, appID, status); err != nil {
		return nil, fmt.Errorf("failed to list versions by status: %w", err)
	}
	return versions, nil
}

func (q *queries) CountVersionsByStatus(ctx context.Context, appID uuid.UUID, status domain.VersionStatus) (int, error) {
	var n int
	query := `SELECT COUNT(*) FROM app_versions WHERE app_id = $1 AND status = $2 AND NOT is_deleted`

	if err := sqlx.GetContext(ctx, q.ext, &n, query, appID, status); err != nil {
		return 0, fmt.Errorf("failed to count versions: %w", err)
	}
	return n, nil
}

func (q *queries) UpdateVersionStatus(ctx context.Context, id uuid.UUID, status domain.VersionStatus, reason *string) error {
	query := `
        UPDATE app_versions
        SET status = $1,
            status_reason = $2,
            updated_at = CURRENT_TIMESTAMP
        WHERE id = $3`

	res, err := q.ext.ExecContext(ctx, query, status, reason, id)
	if err != nil {
		if uniqueViolation(err) {
			return fmt.Errorf("app already has a published version: %w", domain.ErrConflict)
		}
		return fmt.Errorf("failed to update version status: %w", err)
	}
	return expectOne(res, "app version")
}

func (q *queries) ListPublishedFiles(ctx context.Context) ([]PublishedFile, error) {
	var files []PublishedFile
	query := `
        SELECT v.app_id, v.id AS version_id, f.id AS file_id, f.path
        FROM app_versions v
        JOIN app_files f ON f.id = v.app_file_id
        WHERE v.status = $1 AND NOT v.is_deleted
        ORDER BY v.updated_at`

	if err := sqlx.SelectContext(ctx, q.ext, &files, query, domain.VersionPublished); err != nil {
		return nil, fmt.Errorf("failed to list published files: %w", err)
	}
	return files, nil
}
