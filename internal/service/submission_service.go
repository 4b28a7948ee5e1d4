package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"appmarket/internal/bus"
	"appmarket/internal/domain"
	"appmarket/internal/events"
	"appmarket/internal/logger"
	"appmarket/internal/repository"
	"appmarket/internal/storage"
	"appmarket/internal/validation"
)

const maxScreenshots = 10

// StagedObject - объект, который клиент уже загрузил в карантин под {submissionId}/{name}
type StagedObject struct {
	Name     string `json:"name"`
	Checksum string `json:"checksum"`
	Size     int64  `json:"size"`
}

type SubmissionRequest struct {
	DeveloperID uuid.UUID `json:"-"`
	// AppID задан, если это новая версия существующего приложения
	AppID        *uuid.UUID     `json:"app_id,omitempty"`
	SubmissionID uuid.UUID      `json:"submission_id"`
	Name         string         `json:"name"`
	Description  string         `json:"description"`
	Category     string         `json:"category"`
	Platform     string         `json:"platform"`
	Price        float64        `json:"price"`
	Tags         []string       `json:"tags"`
	Version      string         `json:"version"`
	Changelog    string         `json:"changelog"`
	MainFile     StagedObject   `json:"main_file"`
	Screenshots  []StagedObject `json:"screenshots"`
}

type SubmissionResult struct {
	AppID         uuid.UUID   `json:"app_id"`
	VersionID     uuid.UUID   `json:"version_id"`
	AppFileID     uuid.UUID   `json:"app_file_id"`
	ScreenshotIDs []uuid.UUID `json:"screenshot_ids"`
	Status        string      `json:"status"`
	// Resubmitted - записи уже существовали, повторно выполнены только теги и постановка в очередь
	Resubmitted bool `json:"resubmitted"`
}

// SubmissionService превращает загруженные клиентом объекты в записи
// App/AppVersion/AppFile/AppScreenshot и ставит задания на проверку
type SubmissionService struct {
	store     Store
	storage   storage.Storage
	publisher bus.Publisher
	log       zerolog.Logger
}

func NewSubmissionService(store Store, objects storage.Storage, publisher bus.Publisher) *SubmissionService {
	return &SubmissionService{
		store:     store,
		storage:   objects,
		publisher: publisher,
		log:       logger.Component("submission"),
	}
}

// dispatchItem - объект, который после коммита нужно пометить тегами и отправить на проверку
type dispatchItem struct {
	key   string
	tags  map[string]string
	topic string
	job   events.Event
}

// Finalize фиксирует отправку. Ошибки после коммита возвращаются вместе с результатом
// и оборачивают domain.ErrPartialSubmission: повтор с тем же SubmissionID безопасен.
func (s *SubmissionService) Finalize(ctx context.Context, req SubmissionRequest) (*SubmissionResult, error) {
	if err := validateSubmission(&req); err != nil {
		return nil, err
	}

	q := s.store.Queries()

	exists, err := q.DeveloperExists(ctx, req.DeveloperID)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, fmt.Errorf("developer %s: %w", req.DeveloperID, domain.ErrNotFound)
	}

	existing, err := q.GetVersionBySubmission(ctx, req.SubmissionID)
	switch {
	case err == nil:
		return s.resubmit(ctx, req, existing)
	case !errors.Is(err, domain.ErrNotFound):
		return nil, err
	}

	// Клиенту не доверяем: каждый объект должен реально лежать в карантине
	mainSize, err := s.verifyStaged(ctx, req.SubmissionID, req.MainFile)
	if err != nil {
		return nil, err
	}
	shotSizes := make([]int64, len(req.Screenshots))
	for i, shot := range req.Screenshots {
		if shotSizes[i], err = s.verifyStaged(ctx, req.SubmissionID, shot); err != nil {
			return nil, err
		}
	}

	result := &SubmissionResult{
		VersionID: uuid.New(),
		AppFileID: uuid.New(),
		Status:    string(domain.VersionPendingValidation),
	}
	var app *domain.App

	err = s.store.InTx(ctx, func(tx repository.Tx) error {
		if req.AppID != nil {
			app, err = tx.GetAppForUpdate(ctx, *req.AppID)
			if err != nil {
				return err
			}
			if app.IsDeleted {
				return fmt.Errorf("app %s: %w", app.ID, domain.ErrNotFound)
			}
			if app.DeveloperID != req.DeveloperID {
				return fmt.Errorf("app %s belongs to another developer: %w", app.ID, domain.ErrForbidden)
			}
			// Строка версии входит в ключ опубликованного объекта: повтор перезаписал бы чужие байты
			versions, err := tx.ListVersions(ctx, app.ID)
			if err != nil {
				return err
			}
			for _, v := range versions {
				if v.Status != domain.VersionRejected && domain.SameVersion(v.Version, req.Version) {
					return fmt.Errorf("app %s already has version %q: %w", app.ID, v.Version, domain.ErrConflict)
				}
			}
		} else {
			app = &domain.App{
				ID:          uuid.New(),
				DeveloperID: req.DeveloperID,
				Name:        req.Name,
				Slug:        domain.SanitizeAppName(req.Name),
				Description: req.Description,
				Category:    req.Category,
				Platform:    req.Platform,
				Price:       req.Price,
				AppStatus:   domain.DeriveAppStatus(0, req.Price),
			}
			if err := tx.CreateApp(ctx, app); err != nil {
				return err
			}
		}
		result.AppID = app.ID

		file := &domain.AppFile{
			ID:        result.AppFileID,
			Path:      domain.StagingKey(req.SubmissionID, req.MainFile.Name),
			SizeBytes: mainSize,
			Checksum:  strings.ToLower(req.MainFile.Checksum),
		}
		if err := tx.CreateFile(ctx, file); err != nil {
			return err
		}

		if !domain.CanTransition(domain.VersionDraft, domain.VersionPendingValidation) {
			return fmt.Errorf("draft cannot enter validation: %w", domain.ErrConflict)
		}
		version := &domain.AppVersion{
			ID:           result.VersionID,
			AppID:        app.ID,
			SubmissionID: req.SubmissionID,
			Version:      req.Version,
			Changelog:    req.Changelog,
			Status:       domain.VersionPendingValidation,
			AppFileID:    file.ID,
		}
		if err := tx.CreateVersion(ctx, version); err != nil {
			return err
		}

		for i, staged := range req.Screenshots {
			shot := &domain.AppScreenshot{
				ID:           uuid.New(),
				AppID:        app.ID,
				AppVersionID: version.ID,
				Path:         domain.StagingKey(req.SubmissionID, staged.Name),
				Status:       domain.ScreenshotPendingValidation,
				SizeBytes:    shotSizes[i],
				Checksum:     strings.ToLower(staged.Checksum),
			}
			if err := tx.CreateScreenshot(ctx, shot); err != nil {
				return err
			}
			result.ScreenshotIDs = append(result.ScreenshotIDs, shot.ID)
		}

		for _, name := range uniqueTags(req.Tags) {
			tagID, err := tx.EnsureTag(ctx, name)
			if err != nil {
				return err
			}
			if err := tx.LinkAppTag(ctx, app.ID, tagID); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info().
		Str("app_id", result.AppID.String()).
		Str("version_id", result.VersionID.String()).
		Str("submission_id", req.SubmissionID.String()).
		Int("screenshots", len(result.ScreenshotIDs)).
		Msg("submission recorded")

	items := s.dispatchItems(req.DeveloperID, app.Slug, req.Version, req.SubmissionID, result, req.MainFile, req.Screenshots)
	if err := s.dispatch(ctx, result, req.DeveloperID, req.Version, items, false); err != nil {
		return result, err
	}
	return result, nil
}

// resubmit повторяет шаги после коммита для уже записанной отправки
func (s *SubmissionService) resubmit(ctx context.Context, req SubmissionRequest, version *domain.AppVersion) (*SubmissionResult, error) {
	q := s.store.Queries()

	app, err := q.GetApp(ctx, version.AppID)
	if err != nil {
		return nil, err
	}
	if app.DeveloperID != req.DeveloperID {
		return nil, fmt.Errorf("submission %s belongs to another developer: %w", req.SubmissionID, domain.ErrConflict)
	}

	file, err := q.GetFile(ctx, version.AppFileID)
	if err != nil {
		return nil, err
	}
	shots, err := q.ListScreenshotsByVersion(ctx, version.ID)
	if err != nil {
		return nil, err
	}

	result := &SubmissionResult{
		AppID:       app.ID,
		VersionID:   version.ID,
		AppFileID:   file.ID,
		Status:      string(version.Status),
		Resubmitted: true,
	}
	for _, shot := range shots {
		result.ScreenshotIDs = append(result.ScreenshotIDs, shot.ID)
	}

	s.log.Info().
		Str("submission_id", req.SubmissionID.String()).
		Str("status", string(version.Status)).
		Msg("submission already recorded, re-dispatching")

	var items []dispatchItem
	// Задания нужны только тем объектам, которые еще ждут проверки
	if version.Status == domain.VersionPendingValidation {
		items = append(items, s.fileItem(app.ID, file.ID, req.DeveloperID, app.Slug, version.Version, file.Path, file.Checksum))
	}
	for _, shot := range shots {
		if shot.Status == domain.ScreenshotPendingValidation {
			items = append(items, s.screenshotItem(app.ID, shot.ID, req.DeveloperID, shot.Path, shot.Checksum))
		}
	}

	if err := s.dispatch(ctx, result, req.DeveloperID, version.Version, items, true); err != nil {
		return result, err
	}
	return result, nil
}

func (s *SubmissionService) dispatchItems(developerID uuid.UUID, appSlug, version string, submissionID uuid.UUID, result *SubmissionResult, main StagedObject, shots []StagedObject) []dispatchItem {
	items := []dispatchItem{
		s.fileItem(result.AppID, result.AppFileID, developerID, appSlug, version,
			domain.StagingKey(submissionID, main.Name), strings.ToLower(main.Checksum)),
	}
	for i, shot := range shots {
		items = append(items, s.screenshotItem(result.AppID, result.ScreenshotIDs[i], developerID,
			domain.StagingKey(submissionID, shot.Name), strings.ToLower(shot.Checksum)))
	}
	return items
}

func (s *SubmissionService) fileItem(appID, fileID, developerID uuid.UUID, appSlug, version, key, checksum string) dispatchItem {
	return dispatchItem{
		key: key,
		tags: map[string]string{
			storage.TagAppID:       appID.String(),
			storage.TagAppFileID:   fileID.String(),
			storage.TagDeveloperID: developerID.String(),
			storage.TagChecksum:    checksum,
			storage.TagAppSlug:     domain.SanitizeAppName(appSlug),
			storage.TagVersion:     domain.SanitizeSegment(version),
		},
		topic: events.TopicFileValidation,
		job:   events.FileValidationJob{ObjectKey: key},
	}
}

func (s *SubmissionService) screenshotItem(appID, shotID, developerID uuid.UUID, key, checksum string) dispatchItem {
	return dispatchItem{
		key: key,
		tags: map[string]string{
			storage.TagAppID:        appID.String(),
			storage.TagScreenshotID: shotID.String(),
			storage.TagDeveloperID:  developerID.String(),
			storage.TagChecksum:     checksum,
		},
		topic: events.TopicScreenshotValidation,
		job:   events.ScreenshotValidationJob{ObjectKey: key},
	}
}

// dispatch: теги корреляции, затем задания, затем доменное событие.
// Все ошибки собираются, чтобы один сбой не оставил остальные объекты без заданий.
func (s *SubmissionService) dispatch(ctx context.Context, result *SubmissionResult, developerID uuid.UUID, version string, items []dispatchItem, resubmission bool) error {
	var errs []error
	partition := result.AppID.String()

	for _, item := range items {
		if err := s.storage.PutTags(ctx, domain.ZoneQuarantine, item.key, item.tags); err != nil {
			// При повторе объект мог уже уйти из карантина: воркер его забрал
			if resubmission && errors.Is(err, storage.ErrObjectNotFound) {
				s.log.Debug().Str("key", item.key).Msg("staged object already consumed")
				continue
			}
			errs = append(errs, fmt.Errorf("tag %s: %w", item.key, err))
			continue
		}
		if err := bus.PublishEvent(ctx, s.publisher, item.topic, partition, item.job); err != nil {
			errs = append(errs, err)
		}
	}

	if len(errs) == 0 {
		submitted := events.AppVersionSubmitted{
			AppID:       result.AppID,
			VersionID:   result.VersionID,
			DeveloperID: developerID,
			Version:     version,
		}
		if err := bus.PublishEvent(ctx, s.publisher, events.TopicApps, partition, submitted); err != nil {
			errs = append(errs, err)
		}
	}

	if len(errs) > 0 {
		err := errors.Join(errs...)
		s.log.Error().Err(err).
			Str("app_id", result.AppID.String()).
			Str("version_id", result.VersionID.String()).
			Msg("submission committed but dispatch failed")
		return fmt.Errorf("%w: %w", domain.ErrPartialSubmission, err)
	}
	return nil
}

// verifyStaged проверяет наличие объекта и совпадение заявленного размера
func (s *SubmissionService) verifyStaged(ctx context.Context, submissionID uuid.UUID, staged StagedObject) (int64, error) {
	key := domain.StagingKey(submissionID, staged.Name)

	info, err := s.storage.Stat(ctx, domain.ZoneQuarantine, key)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotFound) {
			return 0, fmt.Errorf("staged object %s was not uploaded: %w", staged.Name, domain.ErrConflict)
		}
		return 0, err
	}
	if staged.Size > 0 && info.Size != staged.Size {
		return 0, fmt.Errorf("staged object %s has size %d, declared %d: %w", staged.Name, info.Size, staged.Size, domain.ErrConflict)
	}
	return info.Size, nil
}

func validateSubmission(req *SubmissionRequest) error {
	var problems []string

	if req.DeveloperID == uuid.Nil {
		problems = append(problems, "developer is required")
	}
	if req.SubmissionID == uuid.Nil {
		problems = append(problems, "submission_id is required")
	}
	if req.AppID == nil && strings.TrimSpace(req.Name) == "" {
		problems = append(problems, "name is required for a new app")
	}
	if strings.TrimSpace(req.Version) == "" || len(req.Version) > 64 {
		problems = append(problems, "version is required (max 64 chars)")
	}
	if req.Price < 0 {
		problems = append(problems, "price must not be negative")
	}
	if len(req.Screenshots) > maxScreenshots {
		problems = append(problems, fmt.Sprintf("at most %d screenshots", maxScreenshots))
	}

	seen := map[string]bool{}
	check := func(what string, o StagedObject) {
		if !domain.ValidObjectName(o.Name) {
			problems = append(problems, fmt.Sprintf("%s: invalid name %q", what, o.Name))
		}
		if !validation.ValidChecksum(o.Checksum) {
			problems = append(problems, fmt.Sprintf("%s: checksum must be 64 hex chars", what))
		}
		if o.Size < 0 {
			problems = append(problems, fmt.Sprintf("%s: size must not be negative", what))
		}
		if seen[o.Name] {
			problems = append(problems, fmt.Sprintf("%s: duplicate name %q", what, o.Name))
		}
		seen[o.Name] = true
	}

	check("main_file", req.MainFile)
	if !validation.SupportedExtension(req.MainFile.Name) {
		problems = append(problems, "main_file: unsupported package type")
	}
	for i, shot := range req.Screenshots {
		check(fmt.Sprintf("screenshots[%d]", i), shot)
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", domain.ErrValidation, strings.Join(problems, "; "))
	}
	return nil
}

// uniqueTags сохраняет регистр: теги совпадают только при точном совпадении имени
func uniqueTags(tags []string) []string {
	seen := make(map[string]bool, len(tags))
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		t = strings.TrimSpace(t)
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
	}
	return out
}
