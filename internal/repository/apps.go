package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"appmarket/internal/domain"
)

const appColumns = `id, developer_id, name, slug, description, category, platform, price, app_status, is_deleted, created_at, updated_at`

func (q *queries) DeveloperExists(ctx context.Context, id uuid.UUID) (bool, error) {
	var exists bool
	err := sqlx.GetContext(ctx, q.ext, &exists,
		`SELECT EXISTS(SELECT 1 FROM developer_profiles WHERE id = $1)`, id)
	if err != nil {
		return false, fmt.Errorf("failed to check developer: %w", err)
	}
	return exists, nil
}

func (q *queries) CreateApp(ctx context.Context, app *domain.App) error {
	query := `
        INSERT INTO apps (id, developer_id, name, slug, description, category, platform, price, app_status)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
        RETURNING created_at, updated_at`

	err := q.ext.QueryRowxContext(
		ctx,
		query,
		app.ID,
		app.DeveloperID,
		app.Name,
		app.Slug,
		app.Description,
		app.Category,
		app.Platform,
		app.Price,
		app.AppStatus,
	).Scan(&app.CreatedAt, &app.UpdatedAt)
	if err != nil {
		if violated(err, "uq_apps_developer_slug") {
			return fmt.Errorf("developer already has an app named %q: %w", app.Slug, domain.ErrConflict)
		}
		return fmt.Errorf("failed to create app: %w", err)
	}
	return nil
}

func (q *queries) GetApp(ctx context.Context, id uuid.UUID) (*domain.App, error) {
	var app domain.App
	query := `SELECT ` + appColumns + ` FROM apps WHERE id = $1`

	if err := sqlx.GetContext(ctx, q.ext, &app, query, id); err != nil {
		return nil, notFound(err, "app")
	}
	return &app, nil
}

// GetAppForUpdate блокирует строку приложения: одобрение и снятие с публикации
// одного приложения выполняются последовательно
func (q *queries) GetAppForUpdate(ctx context.Context, id uuid.UUID) (*domain.App, error) {
	var app domain.App
	query := `SELECT ` + appColumns + ` FROM apps WHERE id = $1 FOR UPDATE`

	if err := sqlx.GetContext(ctx, q.ext, &app, query, id); err != nil {
		return nil, notFound(err, "app")
	}
	return &app, nil
}

func (q *queries) SetAppStatus(ctx context.Context, id uuid.UUID, status domain.AppStatus) error {
	res, err := q.ext.ExecContext(ctx,
		`UPDATE apps SET app_status = $1, updated_at = CURRENT_TIMESTAMP WHERE id = $2`, status, id)
	if err != nil {
		return fmt.Errorf("failed to update app status: %w", err)
	}
	return expectOne(res, "app")
}

func (q *queries) SetAppPrice(ctx context.Context, id uuid.UUID, price float64) error {
	res, err := q.ext.ExecContext(ctx,
		`UPDATE apps SET price = $1, updated_at = CURRENT_TIMESTAMP WHERE id = $2 AND NOT is_deleted`, price, id)
	if err != nil {
		return fmt.Errorf("failed to update app price: %w", err)
	}
	return expectOne(res, "app")
}

func (q *queries) TouchApp(ctx context.Context, id uuid.UUID) error {
	res, err := q.ext.ExecContext(ctx, `UPDATE apps SET updated_at = CURRENT_TIMESTAMP WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to touch app: %w", err)
	}
	return expectOne(res, "app")
}
