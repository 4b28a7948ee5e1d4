// Package repotest - транзакционное хранилище в памяти с теми же ограничениями,
// что и схема Postgres (уникальность submission_id и одной опубликованной версии)
package repotest

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"appmarket/internal/domain"
	"appmarket/internal/repository"
)

type state struct {
	developers  map[uuid.UUID]domain.DeveloperProfile
	apps        map[uuid.UUID]domain.App
	versions    map[uuid.UUID]domain.AppVersion
	files       map[uuid.UUID]domain.AppFile
	screenshots map[uuid.UUID]domain.AppScreenshot
	tags        map[string]uuid.UUID
	appTags     map[[2]uuid.UUID]bool
	seq         int64
}

func newState() *state {
	return &state{
		developers:  map[uuid.UUID]domain.DeveloperProfile{},
		apps:        map[uuid.UUID]domain.App{},
		versions:    map[uuid.UUID]domain.AppVersion{},
		files:       map[uuid.UUID]domain.AppFile{},
		screenshots: map[uuid.UUID]domain.AppScreenshot{},
		tags:        map[string]uuid.UUID{},
		appTags:     map[[2]uuid.UUID]bool{},
	}
}

func (s *state) clone() *state {
	c := newState()
	c.seq = s.seq
	for k, v := range s.developers {
		c.developers[k] = v
	}
	for k, v := range s.apps {
		c.apps[k] = v
	}
	for k, v := range s.versions {
		c.versions[k] = v
	}
	for k, v := range s.files {
		c.files[k] = v
	}
	for k, v := range s.screenshots {
		c.screenshots[k] = v
	}
	for k, v := range s.tags {
		c.tags[k] = v
	}
	for k, v := range s.appTags {
		c.appTags[k] = v
	}
	return c
}

var epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// now выдает строго возрастающее время, чтобы порядок created_at был детерминирован
func (s *state) now() time.Time {
	s.seq++
	return epoch.Add(time.Duration(s.seq) * time.Second)
}

// Store сериализует транзакции одной блокировкой; это заменяет SELECT ... FOR UPDATE
type Store struct {
	mu   sync.Mutex
	data *state

	// CommitErr внедряет сбой фиксации транзакции
	CommitErr error
	commits   int
}

func New() *Store {
	return &Store{data: newState()}
}

func (s *Store) InTx(ctx context.Context, fn func(tx repository.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	work := s.data.clone()
	if err := fn(&memTx{st: work}); err != nil {
		return err
	}
	if s.CommitErr != nil {
		return s.CommitErr
	}
	s.data = work
	s.commits++
	return nil
}

// Queries возвращает снимок: записи через него не сохраняются
func (s *Store) Queries() repository.Tx {
	s.mu.Lock()
	defer s.mu.Unlock()
	return &memTx{st: s.data.clone()}
}

// Commits - число зафиксированных транзакций
func (s *Store) Commits() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.commits
}

func (s *Store) SeedDeveloper(id uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.developers[id] = domain.DeveloperProfile{ID: id, DisplayName: "dev", CreatedAt: s.data.now()}
}

func (s *Store) SeedApp(app domain.App) domain.App {
	s.mu.Lock()
	defer s.mu.Unlock()
	if app.ID == uuid.Nil {
		app.ID = uuid.New()
	}
	if app.AppStatus == "" {
		app.AppStatus = domain.AppStatusDelisted
	}
	if app.Slug == "" {
		app.Slug = domain.SanitizeAppName(app.Name)
	}
	app.CreatedAt = s.data.now()
	app.UpdatedAt = app.CreatedAt
	s.data.apps[app.ID] = app
	return app
}

// SeedVersion создает версию с файлом по указанному пути
func (s *Store) SeedVersion(appID uuid.UUID, version string, status domain.VersionStatus, path string) domain.AppVersion {
	s.mu.Lock()
	defer s.mu.Unlock()
	file := domain.AppFile{ID: uuid.New(), Path: path, SizeBytes: 1, Checksum: "", CreatedAt: s.data.now()}
	s.data.files[file.ID] = file
	v := domain.AppVersion{
		ID:           uuid.New(),
		AppID:        appID,
		SubmissionID: uuid.New(),
		Version:      version,
		Status:       status,
		AppFileID:    file.ID,
		CreatedAt:    s.data.now(),
	}
	v.UpdatedAt = v.CreatedAt
	s.data.versions[v.ID] = v
	return v
}

func (s *Store) SeedScreenshot(shot domain.AppScreenshot) domain.AppScreenshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	if shot.ID == uuid.Nil {
		shot.ID = uuid.New()
	}
	shot.CreatedAt = s.data.now()
	s.data.screenshots[shot.ID] = shot
	return shot
}

func (s *Store) App(id uuid.UUID) domain.App {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data.apps[id]
}

func (s *Store) Version(id uuid.UUID) domain.AppVersion {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data.versions[id]
}

func (s *Store) File(id uuid.UUID) domain.AppFile {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data.files[id]
}

func (s *Store) Screenshot(id uuid.UUID) domain.AppScreenshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data.screenshots[id]
}

func (s *Store) Apps() []domain.App {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.App, 0, len(s.data.apps))
	for _, a := range s.data.apps {
		out = append(out, a)
	}
	return out
}

func (s *Store) VersionsOf(appID uuid.UUID) []domain.AppVersion {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.AppVersion
	for _, v := range s.data.versions {
		if v.AppID == appID {
			out = append(out, v)
		}
	}
	sortByCreatedDesc(out)
	return out
}

func (s *Store) ScreenshotsOf(versionID uuid.UUID) []domain.AppScreenshot {
	return s.Queries().(*memTx).screenshotsOf(versionID)
}

// TagsOf возвращает имена тегов приложения
func (s *Store) TagsOf(appID uuid.UUID) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var names []string
	for name, id := range s.data.tags {
		if s.data.appTags[[2]uuid.UUID{appID, id}] {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

func (s *Store) TagCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.data.tags)
}

// PublishedCount считает опубликованные версии приложения
func (s *Store) PublishedCount(appID uuid.UUID) int {
	n := 0
	for _, v := range s.VersionsOf(appID) {
		if v.Status == domain.VersionPublished && !v.IsDeleted {
			n++
		}
	}
	return n
}

func sortByCreatedDesc(vs []domain.AppVersion) {
	sort.Slice(vs, func(i, j int) bool {
		if vs[i].CreatedAt.Equal(vs[j].CreatedAt) {
			return vs[i].ID.String() > vs[j].ID.String()
		}
		return vs[i].CreatedAt.After(vs[j].CreatedAt)
	})
}

type memTx struct {
	st *state
}

var _ repository.Tx = (*memTx)(nil)

func missing(what string) error {
	return fmt.Errorf("%s: %w", what, domain.ErrNotFound)
}

func (t *memTx) DeveloperExists(_ context.Context, id uuid.UUID) (bool, error) {
	_, ok := t.st.developers[id]
	return ok, nil
}

func (t *memTx) CreateApp(_ context.Context, app *domain.App) error {
	if _, ok := t.st.apps[app.ID]; ok {
		return fmt.Errorf("app %s exists: %w", app.ID, domain.ErrConflict)
	}
	for _, other := range t.st.apps {
		if other.DeveloperID == app.DeveloperID && other.Slug == app.Slug && !other.IsDeleted {
			return fmt.Errorf("developer already has an app named %q: %w", app.Slug, domain.ErrConflict)
		}
	}
	app.CreatedAt = t.st.now()
	app.UpdatedAt = app.CreatedAt
	t.st.apps[app.ID] = *app
	return nil
}

func (t *memTx) GetApp(_ context.Context, id uuid.UUID) (*domain.App, error) {
	app, ok := t.st.apps[id]
	if !ok {
		return nil, missing("app")
	}
	return &app, nil
}

func (t *memTx) GetAppForUpdate(ctx context.Context, id uuid.UUID) (*domain.App, error) {
	return t.GetApp(ctx, id)
}

func (t *memTx) SetAppStatus(_ context.Context, id uuid.UUID, status domain.AppStatus) error {
	app, ok := t.st.apps[id]
	if !ok {
		return missing("app")
	}
	app.AppStatus = status
	app.UpdatedAt = t.st.now()
	t.st.apps[id] = app
	return nil
}

func (t *memTx) SetAppPrice(_ context.Context, id uuid.UUID, price float64) error {
	app, ok := t.st.apps[id]
	if !ok || app.IsDeleted {
		return missing("app")
	}
	app.Price = price
	app.UpdatedAt = t.st.now()
	t.st.apps[id] = app
	return nil
}

func (t *memTx) TouchApp(_ context.Context, id uuid.UUID) error {
	app, ok := t.st.apps[id]
	if !ok {
		return missing("app")
	}
	app.UpdatedAt = t.st.now()
	t.st.apps[id] = app
	return nil
}

func (t *memTx) CreateVersion(_ context.Context, v *domain.AppVersion) error {
	for _, existing := range t.st.versions {
		if existing.SubmissionID == v.SubmissionID {
			return fmt.Errorf("submission %s already recorded: %w", v.SubmissionID, domain.ErrConflict)
		}
		if existing.AppID == v.AppID && existing.Version == v.Version &&
			existing.Status != domain.VersionRejected && v.Status != domain.VersionRejected && !existing.IsDeleted {
			return fmt.Errorf("app %s already has version %q: %w", v.AppID, v.Version, domain.ErrConflict)
		}
	}
	v.CreatedAt = t.st.now()
	v.UpdatedAt = v.CreatedAt
	t.st.versions[v.ID] = *v
	return nil
}

func (t *memTx) GetVersion(_ context.Context, id uuid.UUID) (*domain.AppVersion, error) {
	v, ok := t.st.versions[id]
	if !ok || v.IsDeleted {
		return nil, missing("app version")
	}
	return &v, nil
}

func (t *memTx) GetVersionBySubmission(_ context.Context, submissionID uuid.UUID) (*domain.AppVersion, error) {
	for _, v := range t.st.versions {
		if v.SubmissionID == submissionID {
			return &v, nil
		}
	}
	return nil, missing("app version")
}

func (t *memTx) GetVersionByFileForUpdate(_ context.Context, fileID uuid.UUID) (*domain.AppVersion, error) {
	for _, v := range t.st.versions {
		if v.AppFileID == fileID {
			return &v, nil
		}
	}
	return nil, missing("app version")
}

func (t *memTx) ListVersions(_ context.Context, appID uuid.UUID) ([]domain.AppVersion, error) {
	var out []domain.AppVersion
	for _, v := range t.st.versions {
		if v.AppID == appID && !v.IsDeleted {
			out = append(out, v)
		}
	}
	sortByCreatedDesc(out)
	return out, nil
}

func (t *memTx) ListVersionsByStatus(ctx context.Context, appID uuid.UUID, status domain.VersionStatus) ([]domain.AppVersion, error) {
	all, _ := t.ListVersions(ctx, appID)
	var out []domain.AppVersion
	for _, v := range all {
		if v.Status == status {
			out = append(out, v)
		}
	}
	return out, nil
}

func (t *memTx) CountVersionsByStatus(ctx context.Context, appID uuid.UUID, status domain.VersionStatus) (int, error) {
	vs, _ := t.ListVersionsByStatus(ctx, appID, status)
	return len(vs), nil
}

func (t *memTx) UpdateVersionStatus(_ context.Context, id uuid.UUID, status domain.VersionStatus, reason *string) error {
	v, ok := t.st.versions[id]
	if !ok {
		return missing("app version")
	}
	if status == domain.VersionPublished {
		for _, other := range t.st.versions {
			if other.ID != id && other.AppID == v.AppID && other.Status == domain.VersionPublished && !other.IsDeleted {
				return fmt.Errorf("app already has a published version: %w", domain.ErrConflict)
			}
		}
	}
	v.Status = status
	v.StatusReason = reason
	v.UpdatedAt = t.st.now()
	t.st.versions[id] = v
	return nil
}

func (t *memTx) ListPublishedFiles(_ context.Context) ([]repository.PublishedFile, error) {
	var out []repository.PublishedFile
	for _, v := range t.st.versions {
		if v.Status != domain.VersionPublished || v.IsDeleted {
			continue
		}
		f := t.st.files[v.AppFileID]
		out = append(out, repository.PublishedFile{AppID: v.AppID, VersionID: v.ID, FileID: f.ID, Path: f.Path})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].VersionID.String() < out[j].VersionID.String() })
	return out, nil
}

func (t *memTx) CreateFile(_ context.Context, f *domain.AppFile) error {
	f.CreatedAt = t.st.now()
	t.st.files[f.ID] = *f
	return nil
}

func (t *memTx) GetFile(_ context.Context, id uuid.UUID) (*domain.AppFile, error) {
	f, ok := t.st.files[id]
	if !ok {
		return nil, missing("app file")
	}
	return &f, nil
}

func (t *memTx) UpdateFilePath(_ context.Context, id uuid.UUID, path string) error {
	f, ok := t.st.files[id]
	if !ok {
		return missing("app file")
	}
	f.Path = path
	t.st.files[id] = f
	return nil
}

func (t *memTx) CreateScreenshot(_ context.Context, s *domain.AppScreenshot) error {
	s.CreatedAt = t.st.now()
	t.st.screenshots[s.ID] = *s
	return nil
}

func (t *memTx) GetScreenshotForUpdate(_ context.Context, id uuid.UUID) (*domain.AppScreenshot, error) {
	s, ok := t.st.screenshots[id]
	if !ok {
		return nil, missing("screenshot")
	}
	return &s, nil
}

func (t *memTx) screenshotsOf(versionID uuid.UUID) []domain.AppScreenshot {
	var out []domain.AppScreenshot
	for _, s := range t.st.screenshots {
		if s.AppVersionID == versionID && !s.IsDeleted {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

func (t *memTx) ListScreenshotsByVersion(_ context.Context, versionID uuid.UUID) ([]domain.AppScreenshot, error) {
	return t.screenshotsOf(versionID), nil
}

func (t *memTx) UpdateScreenshot(_ context.Context, s *domain.AppScreenshot) error {
	cur, ok := t.st.screenshots[s.ID]
	if !ok {
		return missing("screenshot")
	}
	cur.Status = s.Status
	cur.StatusReason = s.StatusReason
	cur.Path = s.Path
	cur.ThumbnailPath = s.ThumbnailPath
	t.st.screenshots[s.ID] = cur
	return nil
}

func (t *memTx) EnsureTag(_ context.Context, name string) (uuid.UUID, error) {
	if id, ok := t.st.tags[name]; ok {
		return id, nil
	}
	id := uuid.New()
	t.st.tags[name] = id
	return id, nil
}

func (t *memTx) LinkAppTag(_ context.Context, appID, tagID uuid.UUID) error {
	t.st.appTags[[2]uuid.UUID{appID, tagID}] = true
	return nil
}
