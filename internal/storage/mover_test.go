package storage_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"appmarket/internal/domain"
	"appmarket/internal/storage"
	"appmarket/internal/storage/storagetest"
)

func TestMover_Move(t *testing.T) {
	ctx := context.Background()
	tags := map[string]string{storage.TagAppID: "a1"}

	tests := []struct {
		name    string
		setup   func(m *storagetest.Memory)
		wantErr error
		wantSrc bool
		wantDst bool
		anyErr  bool
	}{
		{
			name: "moves and deletes source",
			setup: func(m *storagetest.Memory) {
				m.Seed(domain.ZoneQuarantine, "sub/app.apk", []byte("payload"), tags)
			},
			wantDst: true,
		},
		{
			name:    "missing source and destination",
			setup:   func(m *storagetest.Memory) {},
			wantErr: storage.ErrObjectNotFound,
		},
		{
			name: "already moved",
			setup: func(m *storagetest.Memory) {
				m.Seed(domain.ZoneValidated, "dev/app/1.0/app.apk", []byte("payload"), tags)
			},
			wantDst: true,
		},
		{
			name: "copy failure keeps source",
			setup: func(m *storagetest.Memory) {
				m.Seed(domain.ZoneQuarantine, "sub/app.apk", []byte("payload"), tags)
				m.CopyErr = errors.New("boom")
			},
			anyErr:  true,
			wantSrc: true,
		},
		{
			name: "unverified copy keeps source",
			setup: func(m *storagetest.Memory) {
				m.Seed(domain.ZoneQuarantine, "sub/app.apk", []byte("payload"), tags)
				m.LostCopies = true
			},
			wantErr: storage.ErrCopyNotVerified,
			wantSrc: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mem := storagetest.New()
			tt.setup(mem)
			mover := storage.NewMover(mem, 2, time.Millisecond)

			err := mover.Move(ctx, domain.ZoneQuarantine, "sub/app.apk", domain.ZoneValidated, "dev/app/1.0/app.apk")

			switch {
			case tt.wantErr != nil:
				assert.ErrorIs(t, err, tt.wantErr)
			case tt.anyErr:
				assert.Error(t, err)
			default:
				require.NoError(t, err)
			}
			assert.Equal(t, tt.wantSrc, mem.Has(domain.ZoneQuarantine, "sub/app.apk"))
			assert.Equal(t, tt.wantDst, mem.Has(domain.ZoneValidated, "dev/app/1.0/app.apk"))
		})
	}
}

func TestMover_MovePreservesTags(t *testing.T) {
	mem := storagetest.New()
	mem.Seed(domain.ZoneValidated, "dev/app/1.0/app.apk", []byte("x"), map[string]string{storage.TagChecksum: "abc"})

	err := storage.NewMover(mem, 1, time.Millisecond).
		Move(context.Background(), domain.ZoneValidated, "dev/app/1.0/app.apk", domain.ZonePublished, "dev/app/1.0/app.apk")
	require.NoError(t, err)

	assert.Equal(t, "abc", mem.Tags(domain.ZonePublished, "dev/app/1.0/app.apk")[storage.TagChecksum])
}

func TestMover_SameLocationIsNoop(t *testing.T) {
	mem := storagetest.New()
	mem.Seed(domain.ZonePublished, "k", []byte("x"), nil)

	err := storage.NewMover(mem, 1, time.Millisecond).
		Move(context.Background(), domain.ZonePublished, "k", domain.ZonePublished, "k")
	require.NoError(t, err)
	assert.True(t, mem.Has(domain.ZonePublished, "k"))
}

func TestMover_MoveAndCommit(t *testing.T) {
	ctx := context.Background()
	src, dst := "sub/app.apk", "invalid-signature/sub/app.apk"

	t.Run("commit failure keeps source for retry", func(t *testing.T) {
		mem := storagetest.New()
		mem.Seed(domain.ZoneQuarantine, src, []byte("payload"), nil)
		mover := storage.NewMover(mem, 1, time.Millisecond)

		boom := errors.New("bus down")
		err := mover.MoveAndCommit(ctx, domain.ZoneQuarantine, src, domain.ZoneRejected, dst, func(context.Context) error { return boom })
		assert.ErrorIs(t, err, boom)
		assert.True(t, mem.Has(domain.ZoneQuarantine, src))
		assert.True(t, mem.Has(domain.ZoneRejected, dst))

		calls := 0
		err = mover.MoveAndCommit(ctx, domain.ZoneQuarantine, src, domain.ZoneRejected, dst, func(context.Context) error {
			calls++
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, 1, calls)
		assert.False(t, mem.Has(domain.ZoneQuarantine, src))
	})

	t.Run("commit skipped when already moved", func(t *testing.T) {
		mem := storagetest.New()
		mem.Seed(domain.ZoneRejected, dst, []byte("payload"), nil)

		called := false
		err := storage.NewMover(mem, 1, time.Millisecond).
			MoveAndCommit(ctx, domain.ZoneQuarantine, src, domain.ZoneRejected, dst, func(context.Context) error {
				called = true
				return nil
			})
		require.NoError(t, err)
		assert.False(t, called)
	})

	t.Run("copy failure skips commit", func(t *testing.T) {
		mem := storagetest.New()
		mem.Seed(domain.ZoneQuarantine, src, []byte("payload"), nil)
		mem.CopyErr = errors.New("boom")

		called := false
		err := storage.NewMover(mem, 1, time.Millisecond).
			MoveAndCommit(ctx, domain.ZoneQuarantine, src, domain.ZoneRejected, dst, func(context.Context) error {
				called = true
				return nil
			})
		assert.Error(t, err)
		assert.False(t, called)
	})
}
