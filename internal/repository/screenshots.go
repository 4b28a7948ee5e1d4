package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"appmarket/internal/domain"
)

const screenshotColumns = `id, app_id, app_version_id, path, thumbnail_path, status, status_reason, size_bytes, checksum, is_deleted, created_at`

func (q *queries) CreateScreenshot(ctx context.Context, s *domain.AppScreenshot) error {
	query := `
        INSERT INTO app_screenshots (id, app_id, app_version_id, path, status, size_bytes, checksum)
        VALUES ($1, $2, $3, $4, $5, $6, $7)
        RETURNING created_at`

	err := q.ext.QueryRowxContext(
		ctx,
		query,
		s.ID,
		s.AppID,
		s.AppVersionID,
		s.Path,
		s.Status,
		s.SizeBytes,
		s.Checksum,
	).Scan(&s.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create screenshot: %w", err)
	}
	return nil
}

func (q *queries) GetScreenshotForUpdate(ctx context.Context, id uuid.UUID) (*domain.AppScreenshot, error) {
	var s domain.AppScreenshot
	query := `SELECT ` + screenshotColumns + ` FROM app_screenshots WHERE id = $1 FOR UPDATE`

	if err := sqlx.GetContext(ctx, q.ext, &s, query, id); err != nil {
		return nil, notFound(err, "screenshot")
	}
	return &s, nil
}

func (q *queries) ListScreenshotsByVersion(ctx context.Context, versionID uuid.UUID) ([]domain.AppScreenshot, error) {
	var shots []domain.AppScreenshot
	query := `SELECT ` + screenshotColumns + ` FROM app_screenshots
        WHERE app_version_id = $1 AND NOT is_deleted
        ORDER BY created_at, id`

	if err := sqlx.SelectContext(ctx, q.ext, &shots, query, versionID); err != nil {
		return nil, fmt.Errorf("failed to list screenshots: %w", err)
	}
	return shots, nil
}

func (q *queries) UpdateScreenshot(ctx context.Context, s *domain.AppScreenshot) error {
	query := `
        UPDATE app_screenshots
        SET status = $1,
            status_reason = $2,
            path = $3,
            thumbnail_path = $4
        WHERE id = $5`

	res, err := q.ext.ExecContext(ctx, query, s.Status, s.StatusReason, s.Path, s.ThumbnailPath, s.ID)
	if err != nil {
		return fmt.Errorf("failed to update screenshot: %w", err)
	}
	return expectOne(res, "screenshot")
}
