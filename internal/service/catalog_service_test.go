package service_test

import (
	"context"
	"math"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"appmarket/internal/domain"
	"appmarket/internal/repository"
)

func TestUpdatePrice(t *testing.T) {
	ctx := context.Background()
	dev := uuid.New()

	tests := []struct {
		name       string
		price      float64
		published  bool
		caller     uuid.UUID
		wantErr    error
		wantStatus domain.AppStatus
	}{
		{name: "Бесплатное приложение снимается с витрины", price: 0, published: true, caller: dev, wantStatus: domain.AppStatusDelisted},
		{name: "Платное с опубликованной версией активно", price: 9.99, published: true, caller: dev, wantStatus: domain.AppStatusActive},
		{name: "Без опубликованной версии не активно", price: 9.99, published: false, caller: dev, wantStatus: domain.AppStatusDelisted},
		{name: "Отрицательная цена", price: -1, published: true, caller: dev, wantErr: domain.ErrValidation},
		{name: "Цена NaN", price: math.NaN(), published: true, caller: dev, wantErr: domain.ErrValidation},
		{name: "Чужое приложение", price: 1, published: true, caller: uuid.New(), wantErr: domain.ErrForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			app := f.store.SeedApp(domain.App{DeveloperID: dev, Name: "Chess", Price: 4.99, AppStatus: domain.AppStatusActive})
			status := domain.VersionPendingApproval
			if tt.published {
				status = domain.VersionPublished
			}
			f.store.SeedVersion(app.ID, "1.0.0", status, "k")

			got, err := f.catalog().UpdatePrice(ctx, tt.caller, app.ID, tt.price)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.InDelta(t, 4.99, f.store.App(app.ID).Price, 0.0001, "price unchanged")
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantStatus, got.AppStatus)
			assert.Equal(t, tt.wantStatus, f.store.App(app.ID).AppStatus)
			assert.InDelta(t, tt.price, got.Price, 0.0001)
		})
	}
}

func TestListVersions(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	dev := uuid.New()
	app := f.store.SeedApp(domain.App{DeveloperID: dev, Name: "Chess"})
	first := f.store.SeedVersion(app.ID, "1.0.0", domain.VersionPendingValidation, "k1")
	second := f.store.SeedVersion(app.ID, "1.1.0", domain.VersionPendingValidation, "k2")

	require.NoError(t, f.store.InTx(ctx, func(tx repository.Tx) error {
		return tx.UpdateVersionStatus(ctx, first.ID, domain.VersionRejected, ptr("invalid signature"))
	}))

	t.Run("Владелец видит причину отказа", func(t *testing.T) {
		got, err := f.catalog().ListVersions(ctx, dev, app.ID)
		require.NoError(t, err)
		require.Len(t, got.Versions, 2)
		assert.Equal(t, second.ID, got.Versions[0].ID, "newest first")
		require.NotNil(t, got.Versions[1].StatusReason)
		assert.Equal(t, "invalid signature", *got.Versions[1].StatusReason)
	})

	t.Run("Администратор", func(t *testing.T) {
		got, err := f.catalog().ListVersions(ctx, uuid.Nil, app.ID)
		require.NoError(t, err)
		assert.Len(t, got.Versions, 2)
	})

	t.Run("Чужой разработчик", func(t *testing.T) {
		_, err := f.catalog().ListVersions(ctx, uuid.New(), app.ID)
		assert.ErrorIs(t, err, domain.ErrForbidden)
	})

	t.Run("Приложение не найдено", func(t *testing.T) {
		_, err := f.catalog().ListVersions(ctx, dev, uuid.New())
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})
}

func TestStatusAggregator_Recompute(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name    string
		app     domain.App
		publish bool
		want    domain.AppStatus
	}{
		{name: "Активно", app: domain.App{Price: 1, AppStatus: domain.AppStatusDelisted}, publish: true, want: domain.AppStatusActive},
		{name: "Нет опубликованной версии", app: domain.App{Price: 1, AppStatus: domain.AppStatusActive}, want: domain.AppStatusDelisted},
		{name: "Удаленное приложение", app: domain.App{Price: 1, IsDeleted: true, AppStatus: domain.AppStatusActive}, publish: true, want: domain.AppStatusDelisted},
		{name: "Статус уже верный", app: domain.App{Price: 0, AppStatus: domain.AppStatusDelisted}, publish: true, want: domain.AppStatusDelisted},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			tt.app.DeveloperID = uuid.New()
			app := f.store.SeedApp(tt.app)
			if tt.publish {
				f.store.SeedVersion(app.ID, "1.0.0", domain.VersionPublished, "k")
			}

			var got domain.AppStatus
			err := f.store.InTx(ctx, func(tx repository.Tx) error {
				var err error
				got, err = f.aggregator.Recompute(ctx, tx, app.ID)
				return err
			})
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.want, f.store.App(app.ID).AppStatus)
		})
	}
}
