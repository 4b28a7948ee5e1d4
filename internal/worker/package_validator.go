package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"appmarket/internal/bus"
	"appmarket/internal/config"
	"appmarket/internal/domain"
	"appmarket/internal/events"
	"appmarket/internal/logger"
	"appmarket/internal/metrics"
	"appmarket/internal/scan"
	"appmarket/internal/storage"
	"appmarket/internal/validation"
)

// PackageValidator проверяет основной файл версии: размер, метаданные,
// контрольную сумму, сигнатуру и антивирус. Проверки идут строго по порядку.
type PackageValidator struct {
	storage   storage.Storage
	mover     Mover
	scanner   scan.Scanner
	publisher bus.Publisher
	maxSize   int64
	log       zerolog.Logger
}

func NewPackageValidator(objects storage.Storage, mover Mover, scanner scan.Scanner, publisher bus.Publisher, limits config.LimitsConfig) *PackageValidator {
	return &PackageValidator{
		storage:   objects,
		mover:     mover,
		scanner:   scanner,
		publisher: publisher,
		maxSize:   limits.MaxPackageSize,
		log:       logger.Component("package-validator"),
	}
}

// packageMeta - теги корреляции основного файла
type packageMeta struct {
	appID       uuid.UUID
	fileID      uuid.UUID
	developerID uuid.UUID
	checksum    string
	slug        string
	version     string
}

func parsePackageMeta(tags map[string]string) (packageMeta, bool) {
	var m packageMeta
	var ok bool
	if m.appID, ok = tagUUID(tags, storage.TagAppID); !ok {
		return m, false
	}
	if m.fileID, ok = tagUUID(tags, storage.TagAppFileID); !ok {
		return m, false
	}
	if m.developerID, ok = tagUUID(tags, storage.TagDeveloperID); !ok {
		return m, false
	}
	m.checksum = tags[storage.TagChecksum]
	m.slug = tags[storage.TagAppSlug]
	m.version = tags[storage.TagVersion]
	return m, m.slug != "" && m.version != ""
}

// correlated: событие можно отправить, только если известны оба идентификатора
func (m packageMeta) correlated() bool {
	return m.appID != uuid.Nil && m.fileID != uuid.Nil
}

// Handle - обработчик задания FileValidationJob. Ошибка означает временный сбой и повтор.
func (v *PackageValidator) Handle(ctx context.Context, msg bus.Message) error {
	key, err := events.DecodeJob(msg.Payload)
	if err != nil {
		v.log.Error().Err(err).Str("message_id", msg.ID).Msg("malformed validation job, skipping")
		return nil
	}
	log := v.log.With().Str("key", key).Int64("attempt", msg.Attempt).Logger()

	info, err := v.storage.Stat(ctx, domain.ZoneQuarantine, key)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotFound) {
			// Либо объект уже обработан при прошлой доставке, либо его не было: сопоставить не с чем
			log.Warn().Msg("object is gone from quarantine, nothing to validate")
			metrics.RecordValidation("package", false, CategoryNotFoundOrOversize)
			return nil
		}
		return fmt.Errorf("stat %s: %w", key, err)
	}

	meta, complete := parsePackageMeta(info.Tags)
	log = log.With().Str("app_id", meta.appID.String()).Str("file_id", meta.fileID.String()).Logger()

	rejection, err := v.check(ctx, key, info, meta, complete)
	if err != nil {
		return err
	}
	if rejection != nil {
		return v.reject(ctx, log, key, meta, rejection)
	}

	dst := domain.PublishedKey(meta.developerID, meta.slug, meta.version, domain.BaseName(key))
	if err := v.storage.PutTags(ctx, domain.ZoneQuarantine, key, map[string]string{storage.TagScanStatus: storage.ScanStatusClean}); err != nil {
		return fmt.Errorf("tag clean: %w", err)
	}

	succeeded := events.ValidationSucceeded{AppID: meta.appID, AppFileID: meta.fileID, Path: dst}
	err = v.mover.MoveAndCommit(ctx, domain.ZoneQuarantine, key, domain.ZoneValidated, dst, func(ctx context.Context) error {
		return bus.PublishEvent(ctx, v.publisher, events.TopicValidationOutcomes, meta.appID.String(), succeeded)
	})
	if err != nil {
		return fmt.Errorf("move to validated: %w", err)
	}

	metrics.RecordValidation("package", true, "")
	log.Info().Str("path", dst).Msg("package validated")
	return nil
}

// check возвращает отказ для первой не пройденной проверки или ошибку инфраструктуры
func (v *PackageValidator) check(ctx context.Context, key string, info *storage.ObjectInfo, meta packageMeta, complete bool) (*Rejection, error) {
	if v.maxSize > 0 && info.Size > v.maxSize {
		v.log.Warn().Str("key", key).Int64("size", info.Size).Int64("limit", v.maxSize).Msg("package exceeds size limit")
		return reject(CategoryNotFoundOrOversize, "not found or oversize"), nil
	}

	if !complete {
		return reject(CategoryMissingMetadata, "missing metadata"), nil
	}

	actual, err := v.checksum(ctx, key)
	if err != nil {
		return nil, err
	}
	if !validation.ChecksumMatches(actual, meta.checksum) {
		return reject(CategoryChecksumMismatch, "checksum mismatch"), nil
	}

	header, err := v.storage.ReadRange(ctx, domain.ZoneQuarantine, key, 0, validation.HeaderLength)
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	if !validation.MatchesSignature(domain.BaseName(key), header) {
		return reject(CategoryInvalidSignature, "invalid signature"), nil
	}

	verdict, err := v.scan(ctx, key, info.Size)
	if err != nil {
		return nil, err
	}
	switch verdict.Kind {
	case scan.VerdictSafe:
		return nil, nil
	case scan.VerdictMalicious:
		return reject(CategoryMalware, "malware detected: %s", verdict.Detail), nil
	default:
		// Сервис недоступен или не успел: закрытый отказ
		return reject(CategoryScanFailed, "scan failed: %s", verdict.Detail), nil
	}
}

func (v *PackageValidator) checksum(ctx context.Context, key string) (string, error) {
	obj, err := v.storage.Open(ctx, domain.ZoneQuarantine, key)
	if err != nil {
		return "", fmt.Errorf("open for checksum: %w", err)
	}
	defer obj.Close()

	sum, _, err := validation.SHA256Hex(obj)
	if err != nil {
		return "", fmt.Errorf("read for checksum: %w", err)
	}
	return sum, nil
}

func (v *PackageValidator) scan(ctx context.Context, key string, size int64) (scan.Verdict, error) {
	obj, err := v.storage.Open(ctx, domain.ZoneQuarantine, key)
	if err != nil {
		return scan.Verdict{}, fmt.Errorf("open for scan: %w", err)
	}
	defer obj.Close()

	start := time.Now()
	verdict := v.scanner.Scan(ctx, obj, domain.BaseName(key), size)
	v.log.Debug().
		Str("key", key).
		Str("verdict", string(verdict.Kind)).
		Dur("took", time.Since(start)).
		Msg("scan finished")
	return verdict, nil
}

// reject переносит объект в зону rejected и, если объект сопоставим, публикует ValidationFailed
func (v *PackageValidator) reject(ctx context.Context, log zerolog.Logger, key string, meta packageMeta, r *Rejection) error {
	dst := RejectedKey(r.Category, key)

	var commit func(ctx context.Context) error
	if meta.correlated() {
		fileID := meta.fileID
		failed := events.ValidationFailed{AppID: meta.appID, AppFileID: &fileID, Reason: r.Reason, Path: dst}
		commit = func(ctx context.Context) error {
			return bus.PublishEvent(ctx, v.publisher, events.TopicValidationOutcomes, meta.appID.String(), failed)
		}
	} else {
		log.Warn().Msg("rejected object has no correlation tags, no outcome will be published")
	}

	if err := v.mover.MoveAndCommit(ctx, domain.ZoneQuarantine, key, domain.ZoneRejected, dst, commit); err != nil {
		return fmt.Errorf("move to rejected: %w", err)
	}

	metrics.RecordValidation("package", false, r.Category)
	log.Info().Str("reason", r.Reason).Str("path", dst).Msg("package rejected")
	return nil
}
