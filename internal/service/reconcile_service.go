package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"appmarket/internal/logger"
	"appmarket/internal/metrics"
	"appmarket/internal/storage"
)

// Исходы сверки одной опубликованной версии
const (
	ReconcileOK       = "ok"
	ReconcileRepaired = "repaired"
	ReconcileMissing  = "missing"
	ReconcileFailed   = "failed"
)

type ReconcileReport struct {
	Checked  int `json:"checked"`
	Repaired int `json:"repaired"`
	Missing  int `json:"missing"`
	Failed   int `json:"failed"`
}

// ReconcileService догоняет перемещения, не выполненные после коммита одобрения
type ReconcileService struct {
	store       Store
	storage     storage.Storage
	mover       ObjectMover
	publication *PublicationService
	log         zerolog.Logger
}

func NewReconcileService(store Store, objects storage.Storage, mover ObjectMover, publication *PublicationService) *ReconcileService {
	return &ReconcileService{
		store:       store,
		storage:     objects,
		mover:       mover,
		publication: publication,
		log:         logger.Component("reconcile"),
	}
}

// Run проверяет каждую опубликованную версию: основной файл должен лежать в зоне публикации.
// Если он остался в validated под тем же ключом, перемещение повторяется.
func (s *ReconcileService) Run(ctx context.Context) (ReconcileReport, error) {
	var report ReconcileReport

	files, err := s.store.Queries().ListPublishedFiles(ctx)
	if err != nil {
		return report, fmt.Errorf("list published files: %w", err)
	}

	for _, f := range files {
		if ctx.Err() != nil {
			return report, ctx.Err()
		}
		report.Checked++

		result := s.reconcileFile(ctx, f.Path)
		switch result {
		case ReconcileRepaired:
			report.Repaired++
		case ReconcileMissing:
			report.Missing++
			s.log.Error().
				Str("app_id", f.AppID.String()).
				Str("version_id", f.VersionID.String()).
				Str("path", f.Path).
				Msg("published file is missing from storage")
		case ReconcileFailed:
			report.Failed++
		}
		metrics.RecordReconcile(result)

		app, err := s.store.Queries().GetApp(ctx, f.AppID)
		if err != nil {
			s.log.Warn().Err(err).Str("app_id", f.AppID.String()).Msg("failed to load app for screenshot repair")
			continue
		}
		if err := s.publication.PublishScreenshots(ctx, app, f.VersionID); err != nil {
			s.log.Warn().Err(err).Str("version_id", f.VersionID.String()).Msg("screenshot repair incomplete")
		}
	}

	s.log.Info().
		Int("checked", report.Checked).
		Int("repaired", report.Repaired).
		Int("missing", report.Missing).
		Int("failed", report.Failed).
		Msg("reconciliation finished")
	return report, nil
}

func (s *ReconcileService) reconcileFile(ctx context.Context, key string) string {
	ok, err := s.storage.Exists(ctx, publishedZone, key)
	if err != nil {
		s.log.Warn().Err(err).Str("path", key).Msg("failed to stat published object")
		return ReconcileFailed
	}
	if ok {
		return ReconcileOK
	}

	err = s.mover.Move(ctx, approvalZone, key, publishedZone, key)
	switch {
	case err == nil:
		s.log.Info().Str("path", key).Msg("published file moved from validated zone")
		return ReconcileRepaired
	case errors.Is(err, storage.ErrObjectNotFound):
		return ReconcileMissing
	default:
		s.log.Warn().Err(err).Str("path", key).Msg("failed to repair published file")
		return ReconcileFailed
	}
}

// Start запускает сверку по расписанию cron и блокируется до отмены ctx
func (s *ReconcileService) Start(ctx context.Context, schedule string) error {
	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DefaultLogger)))

	_, err := c.AddFunc(schedule, func() {
		if _, err := s.Run(ctx); err != nil && ctx.Err() == nil {
			s.log.Error().Err(err).Msg("reconciliation failed")
		}
	})
	if err != nil {
		return fmt.Errorf("invalid reconcile schedule %q: %w", schedule, err)
	}

	s.log.Info().Str("schedule", schedule).Msg("reconciler started")
	c.Start()

	<-ctx.Done()
	<-c.Stop().Done()
	s.log.Info().Msg("reconciler stopped")
	return nil
}
