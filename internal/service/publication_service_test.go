package service_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"appmarket/internal/domain"
	"appmarket/internal/events"
)

// pendingApproval заводит версию, прошедшую проверку: файл лежит в validated
func pendingApproval(f *fixture, app domain.App, version string) domain.AppVersion {
	key := domain.PublishedKey(app.DeveloperID, app.Name, version, "chess.apk")
	f.objects.Seed(domain.ZoneValidated, key, apkData, nil)
	return f.store.SeedVersion(app.ID, version, domain.VersionPendingApproval, key)
}

func TestApprove_FirstVersion(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	app := f.store.SeedApp(domain.App{DeveloperID: uuid.New(), Name: "Chess Master", Price: 4.99})
	v := pendingApproval(f, app, "1.0.0")

	shot := f.store.SeedScreenshot(domain.AppScreenshot{
		AppID:        app.ID,
		AppVersionID: v.ID,
		Path:         "sub/board.png",
		Status:       domain.ScreenshotProcessed,
	})
	f.objects.Seed(domain.ZoneQuarantine, shot.Path, shotData, nil)
	rejectedShot := f.store.SeedScreenshot(domain.AppScreenshot{
		AppID:        app.ID,
		AppVersionID: v.ID,
		Path:         "invalid-image/sub/broken.png",
		Status:       domain.ScreenshotRejected,
	})

	res, err := f.publication().Approve(ctx, app.ID, v.ID)
	require.NoError(t, err)
	assert.Nil(t, res.SupersededVersionID)
	assert.Equal(t, domain.AppStatusActive, res.AppStatus)

	assert.Equal(t, domain.VersionPublished, f.store.Version(v.ID).Status)
	assert.Equal(t, domain.AppStatusActive, f.store.App(app.ID).AppStatus)

	key := f.store.File(v.AppFileID).Path
	assert.True(t, f.objects.Has(domain.ZonePublished, key))
	assert.False(t, f.objects.Has(domain.ZoneValidated, key))

	published := f.store.Screenshot(shot.ID)
	want := domain.ScreenshotKey(app.DeveloperID, app.Name, shot.ID.String()+"-board.png")
	assert.Equal(t, want, published.Path)
	assert.True(t, published.Published())
	assert.True(t, f.objects.Has(domain.ZonePublished, want))
	assert.False(t, f.objects.Has(domain.ZoneQuarantine, "sub/board.png"))

	assert.Equal(t, "invalid-image/sub/broken.png", f.store.Screenshot(rejectedShot.ID).Path)

	assert.Equal(t, []string{events.TypeAppVersionApproved}, f.bus.Types(events.TopicApps))
}

func TestApprove_SupersedesPublished(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	app := f.store.SeedApp(domain.App{DeveloperID: uuid.New(), Name: "Chess", Price: 2})
	v1 := pendingApproval(f, app, "1.0.0")
	v2 := pendingApproval(f, app, "2.0.0")

	_, err := f.publication().Approve(ctx, app.ID, v1.ID)
	require.NoError(t, err)

	res, err := f.publication().Approve(ctx, app.ID, v2.ID)
	require.NoError(t, err)
	require.NotNil(t, res.SupersededVersionID)
	assert.Equal(t, v1.ID, *res.SupersededVersionID)

	assert.Equal(t, domain.VersionSuperseded, f.store.Version(v1.ID).Status)
	assert.Equal(t, domain.VersionPublished, f.store.Version(v2.ID).Status)
	assert.Equal(t, 1, f.store.PublishedCount(app.ID))
	assert.Equal(t, domain.AppStatusActive, f.store.App(app.ID).AppStatus)
}

func TestApprove_FreeAppIsDelisted(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	app := f.store.SeedApp(domain.App{DeveloperID: uuid.New(), Name: "Free", Price: 0})
	v := pendingApproval(f, app, "1.0.0")

	res, err := f.publication().Approve(ctx, app.ID, v.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.AppStatusDelisted, res.AppStatus)
	assert.Equal(t, domain.VersionPublished, f.store.Version(v.ID).Status)
}

func TestApprove_Preconditions(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name    string
		prepare func(f *fixture) (appID, versionID uuid.UUID)
		wantErr error
	}{
		{
			name: "Приложение не найдено",
			prepare: func(f *fixture) (uuid.UUID, uuid.UUID) {
				return uuid.New(), uuid.New()
			},
			wantErr: domain.ErrNotFound,
		},
		{
			name: "Приложение удалено",
			prepare: func(f *fixture) (uuid.UUID, uuid.UUID) {
				app := f.store.SeedApp(domain.App{DeveloperID: uuid.New(), Name: "Gone", IsDeleted: true})
				v := pendingApproval(f, app, "1.0.0")
				return app.ID, v.ID
			},
			wantErr: domain.ErrNotFound,
		},
		{
			name: "Версия другого приложения",
			prepare: func(f *fixture) (uuid.UUID, uuid.UUID) {
				app := f.store.SeedApp(domain.App{DeveloperID: uuid.New(), Name: "A"})
				other := f.store.SeedApp(domain.App{DeveloperID: uuid.New(), Name: "B"})
				v := pendingApproval(f, other, "1.0.0")
				return app.ID, v.ID
			},
			wantErr: domain.ErrNotFound,
		},
		{
			name: "Версия еще проверяется",
			prepare: func(f *fixture) (uuid.UUID, uuid.UUID) {
				app := f.store.SeedApp(domain.App{DeveloperID: uuid.New(), Name: "A"})
				v := f.store.SeedVersion(app.ID, "1.0.0", domain.VersionPendingValidation, "sub/a.apk")
				return app.ID, v.ID
			},
			wantErr: domain.ErrConflict,
		},
		{
			name: "Версия уже отклонена",
			prepare: func(f *fixture) (uuid.UUID, uuid.UUID) {
				app := f.store.SeedApp(domain.App{DeveloperID: uuid.New(), Name: "A"})
				v := f.store.SeedVersion(app.ID, "1.0.0", domain.VersionRejected, "invalid-signature/sub/a.apk")
				return app.ID, v.ID
			},
			wantErr: domain.ErrConflict,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			appID, versionID := tt.prepare(f)

			res, err := f.publication().Approve(ctx, appID, versionID)
			assert.ErrorIs(t, err, tt.wantErr)
			assert.Nil(t, res)
			assert.Empty(t, f.bus.Messages())
		})
	}
}

func TestApprove_MoveFailureIsInconsistency(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	app := f.store.SeedApp(domain.App{DeveloperID: uuid.New(), Name: "Chess", Price: 1})
	v := pendingApproval(f, app, "1.0.0")
	f.objects.CopyErr = errors.New("storage unavailable")

	res, err := f.publication().Approve(ctx, app.ID, v.ID)
	require.ErrorIs(t, err, domain.ErrInconsistency)
	require.NotNil(t, res)

	// Запись уже зафиксирована, объект остался в validated до сверки
	assert.Equal(t, domain.VersionPublished, f.store.Version(v.ID).Status)
	key := f.store.File(v.AppFileID).Path
	assert.True(t, f.objects.Has(domain.ZoneValidated, key))

	f.objects.CopyErr = nil
	report, err := f.reconciler().Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Repaired)
	assert.True(t, f.objects.Has(domain.ZonePublished, key))
}

func TestApprove_ConcurrentKeepsSinglePublished(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	app := f.store.SeedApp(domain.App{DeveloperID: uuid.New(), Name: "Chess", Price: 1})

	var versions []domain.AppVersion
	for _, v := range []string{"1.0.0", "1.1.0", "1.2.0", "1.3.0"} {
		versions = append(versions, pendingApproval(f, app, v))
	}

	pub := f.publication()
	var wg sync.WaitGroup
	for _, v := range versions {
		wg.Add(1)
		go func(id uuid.UUID) {
			defer wg.Done()
			_, _ = pub.Approve(ctx, app.ID, id)
		}(v.ID)
	}
	wg.Wait()

	assert.Equal(t, 1, f.store.PublishedCount(app.ID))
	superseded := 0
	for _, v := range f.store.VersionsOf(app.ID) {
		if v.Status == domain.VersionSuperseded {
			superseded++
		}
	}
	assert.Equal(t, len(versions)-1, superseded)
}

func TestUnpublish_RepublishesMostRecent(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	app := f.store.SeedApp(domain.App{DeveloperID: uuid.New(), Name: "Chess", Price: 1, AppStatus: domain.AppStatusActive})

	// Выбор по времени создания: 1.5.0 создана позже 2.0.0
	older := f.store.SeedVersion(app.ID, "2.0.0", domain.VersionSuperseded, "k/2.0.0")
	recent := f.store.SeedVersion(app.ID, "1.5.0", domain.VersionSuperseded, "k/1.5.0")
	live := f.store.SeedVersion(app.ID, "3.0.0", domain.VersionPublished, "k/3.0.0")

	res, err := f.publication().Unpublish(ctx, app.ID, live.ID)
	require.NoError(t, err)
	require.NotNil(t, res.RepublishedVersionID)
	assert.Equal(t, recent.ID, *res.RepublishedVersionID)

	assert.Equal(t, domain.VersionSuperseded, f.store.Version(live.ID).Status)
	assert.Equal(t, domain.VersionPublished, f.store.Version(recent.ID).Status)
	assert.Equal(t, domain.VersionSuperseded, f.store.Version(older.ID).Status)
	assert.Equal(t, domain.AppStatusActive, f.store.App(app.ID).AppStatus)

	msgs := f.bus.OnTopic(events.TopicApps)
	require.Len(t, msgs, 1)
	assert.Equal(t, events.TypeAppVersionUnpublished, events.TypeOf(msgs[0].Payload))
	assert.Equal(t, app.ID.String(), msgs[0].Key)
}

func TestUnpublish_OnlyVersionDelists(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	app := f.store.SeedApp(domain.App{DeveloperID: uuid.New(), Name: "Chess", Price: 1, AppStatus: domain.AppStatusActive})
	live := f.store.SeedVersion(app.ID, "1.0.0", domain.VersionPublished, "k/1.0.0")

	res, err := f.publication().Unpublish(ctx, app.ID, live.ID)
	require.NoError(t, err)
	assert.Nil(t, res.RepublishedVersionID)
	assert.Equal(t, domain.AppStatusDelisted, res.AppStatus)
	assert.Equal(t, domain.AppStatusDelisted, f.store.App(app.ID).AppStatus)
	assert.Equal(t, domain.VersionSuperseded, f.store.Version(live.ID).Status)
}

func TestUnpublish_NotPublished(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	app := f.store.SeedApp(domain.App{DeveloperID: uuid.New(), Name: "Chess"})
	v := f.store.SeedVersion(app.ID, "1.0.0", domain.VersionSuperseded, "k/1.0.0")

	_, err := f.publication().Unpublish(ctx, app.ID, v.ID)
	assert.ErrorIs(t, err, domain.ErrConflict)
	assert.Equal(t, domain.VersionSuperseded, f.store.Version(v.ID).Status)
}

// Полный путь: отправка, исход проверки, одобрение
func TestPipeline_SubmitValidateApprove(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	dev := uuid.New()
	f.store.SeedDeveloper(dev)

	sub, err := f.submissions().Finalize(ctx, stage(f, dev))
	require.NoError(t, err)

	staged := f.store.File(sub.AppFileID).Path
	validated := domain.PublishedKey(dev, "Chess Master", "1.0.0", "chess.apk")
	require.NoError(t, f.mover.Move(ctx, domain.ZoneQuarantine, staged, domain.ZoneValidated, validated))

	require.NoError(t, f.coordinator().Handle(ctx, outcome(t, events.ValidationSucceeded{
		AppID: sub.AppID, AppFileID: sub.AppFileID, Path: validated,
	})))
	require.NoError(t, f.coordinator().Handle(ctx, outcome(t, events.ScreenshotProcessed{
		AppID: sub.AppID, ScreenshotID: sub.ScreenshotIDs[0], Checksum: sum(shotData),
	})))

	res, err := f.publication().Approve(ctx, sub.AppID, sub.VersionID)
	require.NoError(t, err)
	assert.Equal(t, domain.AppStatusActive, res.AppStatus)
	assert.True(t, f.objects.Has(domain.ZonePublished, validated))
	assert.True(t, f.store.Screenshot(sub.ScreenshotIDs[0]).Published())
}
