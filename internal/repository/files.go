package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"appmarket/internal/domain"
)

func (q *queries) CreateFile(ctx context.Context, f *domain.AppFile) error {
	query := `
        INSERT INTO app_files (id, path, size_bytes, checksum)
        VALUES ($1, $2, $3, $4)
        RETURNING created_at`

	if err := q.ext.QueryRowxContext(ctx, query, f.ID, f.Path, f.SizeBytes, f.Checksum).Scan(&f.CreatedAt); err != nil {
		return fmt.Errorf("failed to create app file: %w", err)
	}
	return nil
}

func (q *queries) GetFile(ctx context.Context, id uuid.UUID) (*domain.AppFile, error) {
	var f domain.AppFile
	query := `SELECT id, path, size_bytes, checksum, created_at FROM app_files WHERE id = $1`

	if err := sqlx.GetContext(ctx, q.ext, &f, query, id); err != nil {
		return nil, notFound(err, "app file")
	}
	return &f, nil
}

// UpdateFilePath вызывается только после того, как объект уже перемещен
func (q *queries) UpdateFilePath(ctx context.Context, id uuid.UUID, path string) error {
	res, err := q.ext.ExecContext(ctx, `UPDATE app_files SET path = $1 WHERE id = $2`, path, id)
	if err != nil {
		return fmt.Errorf("failed to update file path: %w", err)
	}
	return expectOne(res, "app file")
}
