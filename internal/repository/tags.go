package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// EnsureTag возвращает id тега с точным (регистрозависимым) совпадением имени,
// создавая тег при отсутствии
func (q *queries) EnsureTag(ctx context.Context, name string) (uuid.UUID, error) {
	query := `
        INSERT INTO tags (id, name)
        VALUES ($1, $2)
        ON CONFLICT (name) DO UPDATE SET name = EXCLUDED.name
        RETURNING id`

	var id uuid.UUID
	if err := q.ext.QueryRowxContext(ctx, query, uuid.New(), name).Scan(&id); err != nil {
		return uuid.Nil, fmt.Errorf("failed to ensure tag %q: %w", name, err)
	}
	return id, nil
}

func (q *queries) LinkAppTag(ctx context.Context, appID, tagID uuid.UUID) error {
	_, err := q.ext.ExecContext(ctx,
		`INSERT INTO app_tags (app_id, tag_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`, appID, tagID)
	if err != nil {
		return fmt.Errorf("failed to link tag: %w", err)
	}
	return nil
}
