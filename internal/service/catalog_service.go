package service

import (
	"context"
	"fmt"
	"math"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"appmarket/internal/domain"
	"appmarket/internal/logger"
	"appmarket/internal/repository"
)

// CatalogService - операции разработчика над уже созданным приложением
type CatalogService struct {
	store      Store
	aggregator *StatusAggregator
	log        zerolog.Logger
}

func NewCatalogService(store Store, aggregator *StatusAggregator) *CatalogService {
	return &CatalogService{
		store:      store,
		aggregator: aggregator,
		log:        logger.Component("catalog"),
	}
}

// AppVersions - приложение и его версии; StatusReason показывает причину асинхронного отказа
type AppVersions struct {
	App      *domain.App         `json:"app"`
	Versions []domain.AppVersion `json:"versions"`
}

// owned проверяет существование и владельца приложения
func owned(app *domain.App, developerID uuid.UUID) error {
	if app.IsDeleted {
		return fmt.Errorf("app %s: %w", app.ID, domain.ErrNotFound)
	}
	if app.DeveloperID != developerID {
		return fmt.Errorf("app %s belongs to another developer: %w", app.ID, domain.ErrForbidden)
	}
	return nil
}

func (s *CatalogService) UpdatePrice(ctx context.Context, developerID, appID uuid.UUID, price float64) (*domain.App, error) {
	if price < 0 || math.IsNaN(price) || math.IsInf(price, 0) {
		return nil, fmt.Errorf("%w: price must be a non-negative number", domain.ErrValidation)
	}

	var updated *domain.App
	err := s.store.InTx(ctx, func(tx repository.Tx) error {
		app, err := tx.GetAppForUpdate(ctx, appID)
		if err != nil {
			return err
		}
		if err := owned(app, developerID); err != nil {
			return err
		}

		if err := tx.SetAppPrice(ctx, appID, price); err != nil {
			return err
		}
		if _, err := s.aggregator.Recompute(ctx, tx, appID); err != nil {
			return err
		}

		updated, err = tx.GetApp(ctx, appID)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.log.Info().
		Str("app_id", appID.String()).
		Float64("price", price).
		Str("app_status", string(updated.AppStatus)).
		Msg("price updated")
	return updated, nil
}

// ListVersions доступен владельцу и администратору (developerID == uuid.Nil)
func (s *CatalogService) ListVersions(ctx context.Context, developerID, appID uuid.UUID) (*AppVersions, error) {
	q := s.store.Queries()

	app, err := q.GetApp(ctx, appID)
	if err != nil {
		return nil, err
	}
	if developerID != uuid.Nil {
		if err := owned(app, developerID); err != nil {
			return nil, err
		}
	}

	versions, err := q.ListVersions(ctx, appID)
	if err != nil {
		return nil, err
	}
	if versions == nil {
		versions = []domain.AppVersion{}
	}
	return &AppVersions{App: app, Versions: versions}, nil
}
