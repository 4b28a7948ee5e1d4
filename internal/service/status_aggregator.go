package service

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"appmarket/internal/domain"
	"appmarket/internal/logger"
	"appmarket/internal/repository"
)

// StatusAggregator - единственное место, где меняется App.AppStatus.
// Вызывается последним шагом транзакции, изменившей версии или цену.
type StatusAggregator struct {
	log zerolog.Logger
}

func NewStatusAggregator() *StatusAggregator {
	return &StatusAggregator{log: logger.Component("status")}
}

// Recompute выводит статус из числа опубликованных версий и цены и
// записывает его, только если он изменился
func (a *StatusAggregator) Recompute(ctx context.Context, tx repository.Tx, appID uuid.UUID) (domain.AppStatus, error) {
	app, err := tx.GetApp(ctx, appID)
	if err != nil {
		return "", err
	}

	published, err := tx.CountVersionsByStatus(ctx, appID, domain.VersionPublished)
	if err != nil {
		return "", err
	}

	derived := domain.DeriveAppStatus(published, app.Price)
	if app.IsDeleted {
		derived = domain.AppStatusDelisted
	}
	if derived == app.AppStatus {
		return derived, nil
	}

	if err := tx.SetAppStatus(ctx, appID, derived); err != nil {
		return "", fmt.Errorf("failed to persist app status: %w", err)
	}

	a.log.Info().
		Str("app_id", appID.String()).
		Str("from", string(app.AppStatus)).
		Str("to", string(derived)).
		Int("published", published).
		Msg("app status changed")
	return derived, nil
}
