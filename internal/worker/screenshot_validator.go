package worker

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"appmarket/internal/bus"
	"appmarket/internal/config"
	"appmarket/internal/domain"
	"appmarket/internal/events"
	"appmarket/internal/imaging"
	"appmarket/internal/logger"
	"appmarket/internal/metrics"
	"appmarket/internal/storage"
	"appmarket/internal/validation"
)

// ThumbnailKey - ключ миниатюры в зоне публикации
func ThumbnailKey(appID, screenshotID uuid.UUID) string {
	return fmt.Sprintf("thumbnails/%s/%s.jpg", appID, screenshotID)
}

// ScreenshotValidator проверяет скриншот и строит миниатюру.
// Принятый скриншот остается в карантине до одобрения версии.
type ScreenshotValidator struct {
	storage      storage.Storage
	mover        Mover
	images       imaging.Processor
	publisher    bus.Publisher
	maxSize      int64
	maxDimension int
	thumbSide    int
	log          zerolog.Logger
}

func NewScreenshotValidator(objects storage.Storage, mover Mover, images imaging.Processor, publisher bus.Publisher, limits config.LimitsConfig) *ScreenshotValidator {
	thumbSide := limits.ThumbnailMaxSide
	if thumbSide <= 0 {
		thumbSide = 320
	}
	return &ScreenshotValidator{
		storage:      objects,
		mover:        mover,
		images:       images,
		publisher:    publisher,
		maxSize:      limits.MaxScreenshotSize,
		maxDimension: limits.MaxScreenshotDimension,
		thumbSide:    thumbSide,
		log:          logger.Component("screenshot-validator"),
	}
}

func (v *ScreenshotValidator) Handle(ctx context.Context, msg bus.Message) error {
	key, err := events.DecodeJob(msg.Payload)
	if err != nil {
		v.log.Error().Err(err).Str("message_id", msg.ID).Msg("malformed screenshot job, skipping")
		return nil
	}
	log := v.log.With().Str("key", key).Int64("attempt", msg.Attempt).Logger()

	info, err := v.storage.Stat(ctx, domain.ZoneQuarantine, key)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotFound) {
			log.Warn().Msg("screenshot is gone from quarantine, nothing to validate")
			metrics.RecordValidation("screenshot", false, CategoryNotFoundOrOversize)
			return nil
		}
		return fmt.Errorf("stat %s: %w", key, err)
	}

	appID, okApp := tagUUID(info.Tags, storage.TagAppID)
	shotID, okShot := tagUUID(info.Tags, storage.TagScreenshotID)
	correlated := okApp && okShot
	log = log.With().Str("app_id", appID.String()).Str("screenshot_id", shotID.String()).Logger()

	if !correlated {
		return v.reject(ctx, log, key, appID, shotID, false, reject(CategoryMissingMetadata, "missing metadata"))
	}
	if v.maxSize > 0 && info.Size > v.maxSize {
		return v.reject(ctx, log, key, appID, shotID, true,
			reject(CategoryInvalidImage, "image too large: %d bytes exceeds limit %d", info.Size, v.maxSize))
	}

	data, err := v.read(ctx, key)
	if err != nil {
		return err
	}

	actual, _, err := validation.SHA256Hex(bytes.NewReader(data))
	if err != nil {
		return err
	}
	if !validation.ChecksumMatches(actual, info.Tags[storage.TagChecksum]) {
		return v.reject(ctx, log, key, appID, shotID, true, reject(CategoryChecksumMismatch, "checksum mismatch"))
	}

	img, err := v.images.Inspect(data)
	if err != nil || (img.Format != imaging.FormatJPEG && img.Format != imaging.FormatPNG) {
		return v.reject(ctx, log, key, appID, shotID, true, reject(CategoryInvalidImage, "unsupported image format"))
	}
	if v.maxDimension > 0 && (img.Width > v.maxDimension || img.Height > v.maxDimension) {
		return v.reject(ctx, log, key, appID, shotID, true,
			reject(CategoryInvalidImage, "dimensions %dx%d exceed limit %d", img.Width, img.Height, v.maxDimension))
	}

	thumb, err := v.images.Thumbnail(data, v.thumbSide)
	if err != nil {
		return v.reject(ctx, log, key, appID, shotID, true, reject(CategoryInvalidImage, "thumbnail failed: %v", err))
	}

	thumbKey := ThumbnailKey(appID, shotID)
	if err := v.storage.Put(ctx, domain.ZonePublished, thumbKey, bytes.NewReader(thumb), int64(len(thumb)), "image/jpeg"); err != nil {
		return fmt.Errorf("store thumbnail: %w", err)
	}
	if err := v.storage.PutTags(ctx, domain.ZoneQuarantine, key, map[string]string{storage.TagScanStatus: storage.ScanStatusClean}); err != nil {
		return fmt.Errorf("tag clean: %w", err)
	}

	processed := events.ScreenshotProcessed{
		AppID:         appID,
		ScreenshotID:  shotID,
		Checksum:      actual,
		ThumbnailPath: thumbKey,
	}
	if err := bus.PublishEvent(ctx, v.publisher, events.TopicValidationOutcomes, appID.String(), processed); err != nil {
		return err
	}

	metrics.RecordValidation("screenshot", true, "")
	log.Info().
		Str("format", img.Format).
		Int("width", img.Width).
		Int("height", img.Height).
		Str("thumbnail", thumbKey).
		Msg("screenshot processed")
	return nil
}

func (v *ScreenshotValidator) read(ctx context.Context, key string) ([]byte, error) {
	obj, err := v.storage.Open(ctx, domain.ZoneQuarantine, key)
	if err != nil {
		return nil, fmt.Errorf("open screenshot: %w", err)
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, fmt.Errorf("read screenshot: %w", err)
	}
	return data, nil
}

func (v *ScreenshotValidator) reject(ctx context.Context, log zerolog.Logger, key string, appID, shotID uuid.UUID, correlated bool, r *Rejection) error {
	dst := RejectedKey(r.Category, key)

	var commit func(ctx context.Context) error
	if correlated {
		id := shotID
		failed := events.ValidationFailed{AppID: appID, ScreenshotID: &id, Reason: r.Reason, Path: dst}
		commit = func(ctx context.Context) error {
			return bus.PublishEvent(ctx, v.publisher, events.TopicValidationOutcomes, appID.String(), failed)
		}
	} else {
		log.Warn().Msg("rejected screenshot has no correlation tags, no outcome will be published")
	}

	if err := v.mover.MoveAndCommit(ctx, domain.ZoneQuarantine, key, domain.ZoneRejected, dst, commit); err != nil {
		return fmt.Errorf("move to rejected: %w", err)
	}

	metrics.RecordValidation("screenshot", false, r.Category)
	log.Info().Str("reason", r.Reason).Str("path", dst).Msg("screenshot rejected")
	return nil
}
