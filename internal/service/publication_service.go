package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"appmarket/internal/bus"
	"appmarket/internal/domain"
	"appmarket/internal/events"
	"appmarket/internal/logger"
	"appmarket/internal/metrics"
	"appmarket/internal/repository"
)

type PublicationResult struct {
	AppID                uuid.UUID        `json:"app_id"`
	VersionID            uuid.UUID        `json:"version_id"`
	Status               string           `json:"status"`
	AppStatus            domain.AppStatus `json:"app_status"`
	SupersededVersionID  *uuid.UUID       `json:"superseded_version_id,omitempty"`
	RepublishedVersionID *uuid.UUID       `json:"republished_version_id,omitempty"`
	Path                 string           `json:"path,omitempty"`
}

// Зоны основного файла версии до и после одобрения
var (
	approvalZone, _  = domain.ZoneForStatus(domain.VersionPendingApproval)
	publishedZone, _ = domain.ZoneForStatus(domain.VersionPublished)
)

// PublicationService выполняет административные команды approve и unpublish
type PublicationService struct {
	store      Store
	mover      ObjectMover
	publisher  bus.Publisher
	aggregator *StatusAggregator
	log        zerolog.Logger
}

func NewPublicationService(store Store, mover ObjectMover, publisher bus.Publisher, aggregator *StatusAggregator) *PublicationService {
	return &PublicationService{
		store:      store,
		mover:      mover,
		publisher:  publisher,
		aggregator: aggregator,
		log:        logger.Component("publication"),
	}
}

// lockVersion блокирует приложение и возвращает версию, принадлежащую ему
func lockVersion(ctx context.Context, tx repository.Tx, appID, versionID uuid.UUID) (*domain.App, *domain.AppVersion, error) {
	app, err := tx.GetAppForUpdate(ctx, appID)
	if err != nil {
		return nil, nil, err
	}
	if app.IsDeleted {
		return nil, nil, fmt.Errorf("app %s: %w", appID, domain.ErrNotFound)
	}

	version, err := tx.GetVersion(ctx, versionID)
	if err != nil {
		return nil, nil, err
	}
	if version.AppID != appID {
		return nil, nil, fmt.Errorf("version %s of app %s: %w", versionID, appID, domain.ErrNotFound)
	}
	return app, version, nil
}

// Approve публикует версию, ожидающую одобрения, и вытесняет текущую опубликованную.
// Сбой перемещения объектов после коммита возвращается как domain.ErrInconsistency вместе с результатом.
func (s *PublicationService) Approve(ctx context.Context, appID, versionID uuid.UUID) (*PublicationResult, error) {
	var (
		app    *domain.App
		file   *domain.AppFile
		result = &PublicationResult{AppID: appID, VersionID: versionID, Status: string(domain.VersionPublished)}
	)

	err := s.store.InTx(ctx, func(tx repository.Tx) error {
		var (
			version *domain.AppVersion
			err     error
		)
		app, version, err = lockVersion(ctx, tx, appID, versionID)
		if err != nil {
			return err
		}
		if version.Status != domain.VersionPendingApproval {
			return fmt.Errorf("version %s is %s, not pending approval: %w", versionID, version.Status, domain.ErrConflict)
		}

		current, err := tx.ListVersionsByStatus(ctx, appID, domain.VersionPublished)
		if err != nil {
			return err
		}
		for _, prev := range current {
			if prev.ID == versionID {
				continue
			}
			if err := tx.UpdateVersionStatus(ctx, prev.ID, domain.VersionSuperseded, nil); err != nil {
				return err
			}
			prevID := prev.ID
			result.SupersededVersionID = &prevID
		}

		if err := tx.UpdateVersionStatus(ctx, versionID, domain.VersionPublished, nil); err != nil {
			return err
		}
		if err := tx.TouchApp(ctx, appID); err != nil {
			return err
		}
		if result.AppStatus, err = s.aggregator.Recompute(ctx, tx, appID); err != nil {
			return err
		}

		file, err = tx.GetFile(ctx, version.AppFileID)
		return err
	})
	if err != nil {
		return nil, err
	}
	result.Path = file.Path

	log := s.log.With().Str("app_id", appID.String()).Str("version_id", versionID.String()).Logger()
	log.Info().Str("app_status", string(result.AppStatus)).Msg("version approved")

	// Путь внутри зоны не меняется: validated и published используют один ключ
	var moveErrs []error
	if err := s.mover.Move(ctx, approvalZone, file.Path, publishedZone, file.Path); err != nil {
		moveErrs = append(moveErrs, fmt.Errorf("move main file: %w", err))
	}
	if err := s.PublishScreenshots(ctx, app, versionID); err != nil {
		moveErrs = append(moveErrs, err)
	}

	approved := events.AppVersionApproved{
		AppID:               appID,
		VersionID:           versionID,
		SupersededVersionID: result.SupersededVersionID,
		Path:                file.Path,
		AppStatus:           string(result.AppStatus),
	}
	if err := bus.PublishEvent(ctx, s.publisher, events.TopicApps, appID.String(), approved); err != nil {
		log.Error().Err(err).Msg("failed to publish approval event")
	}

	if len(moveErrs) > 0 {
		err := errors.Join(moveErrs...)
		metrics.RecordInconsistency("approve")
		log.Error().Err(err).Msg("version published but objects were not moved, left for reconciliation")
		return result, fmt.Errorf("%w: %w", domain.ErrInconsistency, err)
	}
	return result, nil
}

// PublishScreenshots переносит обработанные скриншоты версии из карантина в зону публикации
// и фиксирует новые пути. Уже опубликованные скриншоты пропускаются.
func (s *PublicationService) PublishScreenshots(ctx context.Context, app *domain.App, versionID uuid.UUID) error {
	shots, err := s.store.Queries().ListScreenshotsByVersion(ctx, versionID)
	if err != nil {
		return fmt.Errorf("list screenshots: %w", err)
	}

	var errs []error
	for _, shot := range shots {
		if shot.Status != domain.ScreenshotProcessed || shot.Published() {
			continue
		}

		src := shot.Path
		dst := domain.ScreenshotKey(app.DeveloperID, app.Slug, shot.ID.String()+"-"+domain.BaseName(src))
		if err := s.mover.Move(ctx, shot.Zone(), src, domain.ZonePublished, dst); err != nil {
			errs = append(errs, fmt.Errorf("move screenshot %s: %w", shot.ID, err))
			continue
		}

		err := s.store.InTx(ctx, func(tx repository.Tx) error {
			cur, err := tx.GetScreenshotForUpdate(ctx, shot.ID)
			if err != nil {
				return err
			}
			if cur.Path != src {
				return nil
			}
			cur.Path = dst
			return tx.UpdateScreenshot(ctx, cur)
		})
		if err != nil {
			errs = append(errs, fmt.Errorf("commit screenshot %s path: %w", shot.ID, err))
		}
	}
	return errors.Join(errs...)
}

// Unpublish снимает опубликованную версию и возвращает самую свежую из прочих вытесненных.
// Выбор по времени создания, а не по номеру версии.
func (s *PublicationService) Unpublish(ctx context.Context, appID, versionID uuid.UUID) (*PublicationResult, error) {
	result := &PublicationResult{AppID: appID, VersionID: versionID, Status: string(domain.VersionSuperseded)}

	err := s.store.InTx(ctx, func(tx repository.Tx) error {
		_, version, err := lockVersion(ctx, tx, appID, versionID)
		if err != nil {
			return err
		}
		if version.Status != domain.VersionPublished {
			return fmt.Errorf("version %s is %s, not published: %w", versionID, version.Status, domain.ErrConflict)
		}

		if err := tx.UpdateVersionStatus(ctx, versionID, domain.VersionSuperseded, nil); err != nil {
			return err
		}

		candidates, err := tx.ListVersionsByStatus(ctx, appID, domain.VersionSuperseded)
		if err != nil {
			return err
		}
		for _, c := range candidates {
			if c.ID == versionID {
				continue
			}
			if err := tx.UpdateVersionStatus(ctx, c.ID, domain.VersionPublished, nil); err != nil {
				return err
			}
			id := c.ID
			result.RepublishedVersionID = &id
			break
		}

		if err := tx.TouchApp(ctx, appID); err != nil {
			return err
		}
		result.AppStatus, err = s.aggregator.Recompute(ctx, tx, appID)
		return err
	})
	if err != nil {
		return nil, err
	}

	ev := s.log.Info().Str("app_id", appID.String()).Str("version_id", versionID.String()).Str("app_status", string(result.AppStatus))
	if result.RepublishedVersionID != nil {
		ev = ev.Str("republished", result.RepublishedVersionID.String())
	}
	ev.Msg("version unpublished")

	unpublished := events.AppVersionUnpublished{
		AppID:                appID,
		VersionID:            versionID,
		RepublishedVersionID: result.RepublishedVersionID,
		AppStatus:            string(result.AppStatus),
	}
	if err := bus.PublishEvent(ctx, s.publisher, events.TopicApps, appID.String(), unpublished); err != nil {
		s.log.Error().Err(err).Str("app_id", appID.String()).Msg("failed to publish unpublish event")
	}
	return result, nil
}
