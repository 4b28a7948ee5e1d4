package service

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"appmarket/internal/bus"
	"appmarket/internal/domain"
	"appmarket/internal/events"
	"appmarket/internal/logger"
	"appmarket/internal/repository"
)

// ResultCoordinator переносит исходы проверки в реляционное хранилище.
// Каждая ветка защищена текущим статусом, поэтому повторная доставка ничего не меняет.
type ResultCoordinator struct {
	store      Store
	aggregator *StatusAggregator
	log        zerolog.Logger
}

func NewResultCoordinator(store Store, aggregator *StatusAggregator) *ResultCoordinator {
	return &ResultCoordinator{
		store:      store,
		aggregator: aggregator,
		log:        logger.Component("coordinator"),
	}
}

// Handle - обработчик топика исходов. nil означает «можно подтверждать».
func (c *ResultCoordinator) Handle(ctx context.Context, msg bus.Message) error {
	outcome, err := events.DecodeOutcome(msg.Payload)
	if err != nil {
		// Повтор не поможет: сообщение подтверждается и только логируется
		var unknown *events.ErrUnknownType
		if errors.As(err, &unknown) {
			c.log.Warn().Str("type", unknown.Type).Str("message_id", msg.ID).Msg("unknown outcome type, skipping")
		} else {
			c.log.Error().Err(err).Str("message_id", msg.ID).Msg("malformed outcome, skipping")
		}
		return nil
	}

	switch e := outcome.(type) {
	case events.ValidationSucceeded:
		err = c.onSucceeded(ctx, e)
	case events.ValidationFailed:
		switch {
		case e.AppFileID != nil:
			err = c.onFileFailed(ctx, e)
		case e.ScreenshotID != nil:
			err = c.onScreenshotFailed(ctx, e)
		default:
			c.log.Warn().Str("app_id", e.AppID.String()).Msg("validation failure without subject, skipping")
			return nil
		}
	case events.ScreenshotProcessed:
		err = c.onScreenshotProcessed(ctx, e)
	}

	// Запись могла быть удалена: предусловие не выполнено, повторять нечего
	if errors.Is(err, domain.ErrNotFound) {
		c.log.Warn().Err(err).Str("message_id", msg.ID).Msg("outcome refers to a missing record")
		return nil
	}
	return err
}

func (c *ResultCoordinator) onSucceeded(ctx context.Context, e events.ValidationSucceeded) error {
	return c.store.InTx(ctx, func(tx repository.Tx) error {
		version, err := tx.GetVersionByFileForUpdate(ctx, e.AppFileID)
		if err != nil {
			return err
		}
		if !c.pending(version, e.AppFileID, domain.VersionPendingApproval) {
			return nil
		}

		if err := tx.UpdateVersionStatus(ctx, version.ID, domain.VersionPendingApproval, nil); err != nil {
			return err
		}
		if err := tx.UpdateFilePath(ctx, e.AppFileID, e.Path); err != nil {
			return err
		}

		c.log.Info().
			Str("app_id", version.AppID.String()).
			Str("version_id", version.ID.String()).
			Str("path", e.Path).
			Msg("version validated, awaiting approval")
		return nil
	})
}

func (c *ResultCoordinator) onFileFailed(ctx context.Context, e events.ValidationFailed) error {
	fileID := *e.AppFileID

	return c.store.InTx(ctx, func(tx repository.Tx) error {
		version, err := tx.GetVersionByFileForUpdate(ctx, fileID)
		if err != nil {
			return err
		}
		if !c.pending(version, fileID, domain.VersionRejected) {
			return nil
		}

		reason := e.Reason
		if err := tx.UpdateVersionStatus(ctx, version.ID, domain.VersionRejected, &reason); err != nil {
			return err
		}
		if e.Path != "" {
			if err := tx.UpdateFilePath(ctx, fileID, e.Path); err != nil {
				return err
			}
		}
		if _, err := c.aggregator.Recompute(ctx, tx, version.AppID); err != nil {
			return err
		}

		c.log.Info().
			Str("app_id", version.AppID.String()).
			Str("version_id", version.ID.String()).
			Str("reason", e.Reason).
			Msg("version rejected")
		return nil
	})
}

func (c *ResultCoordinator) onScreenshotFailed(ctx context.Context, e events.ValidationFailed) error {
	return c.updateScreenshot(ctx, *e.ScreenshotID, func(shot *domain.AppScreenshot) {
		reason := e.Reason
		shot.Status = domain.ScreenshotRejected
		shot.StatusReason = &reason
		if e.Path != "" {
			shot.Path = e.Path
		}
		c.log.Info().
			Str("screenshot_id", shot.ID.String()).
			Str("reason", e.Reason).
			Msg("screenshot rejected")
	})
}

func (c *ResultCoordinator) onScreenshotProcessed(ctx context.Context, e events.ScreenshotProcessed) error {
	return c.updateScreenshot(ctx, e.ScreenshotID, func(shot *domain.AppScreenshot) {
		if shot.Checksum != "" && !strings.EqualFold(shot.Checksum, e.Checksum) {
			c.log.Warn().
				Str("screenshot_id", shot.ID.String()).
				Str("recorded", shot.Checksum).
				Str("reported", e.Checksum).
				Msg("screenshot checksum differs from submission")
		}
		shot.Status = domain.ScreenshotProcessed
		if e.ThumbnailPath != "" {
			thumb := e.ThumbnailPath
			shot.ThumbnailPath = &thumb
		}
		c.log.Info().Str("screenshot_id", shot.ID.String()).Msg("screenshot processed")
	})
}

// updateScreenshot применяет apply только к скриншоту, ожидающему проверки
func (c *ResultCoordinator) updateScreenshot(ctx context.Context, id uuid.UUID, apply func(shot *domain.AppScreenshot)) error {
	return c.store.InTx(ctx, func(tx repository.Tx) error {
		shot, err := tx.GetScreenshotForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if shot.Status != domain.ScreenshotPendingValidation {
			c.log.Debug().
				Str("screenshot_id", id.String()).
				Str("status", string(shot.Status)).
				Msg("screenshot already settled, ignoring outcome")
			return nil
		}
		apply(shot)
		return tx.UpdateScreenshot(ctx, shot)
	})
}

// pending - охрана статуса: исход применяется только к версии, ожидающей проверки
func (c *ResultCoordinator) pending(version *domain.AppVersion, fileID uuid.UUID, next domain.VersionStatus) bool {
	if version.Status == domain.VersionPendingValidation && domain.CanTransition(version.Status, next) {
		return true
	}
	c.log.Debug().
		Str("version_id", version.ID.String()).
		Str("file_id", fileID.String()).
		Str("status", string(version.Status)).
		Msg("version no longer pending validation, ignoring outcome")
	return false
}
