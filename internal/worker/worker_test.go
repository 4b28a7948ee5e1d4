package worker_test

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"appmarket/internal/bus"
	"appmarket/internal/events"
	"appmarket/internal/imaging"
	"appmarket/internal/scan"
	"appmarket/internal/storage"
)

func sum(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}

func job(t *testing.T, e events.Event) bus.Message {
	t.Helper()
	payload, err := events.Encode(e)
	require.NoError(t, err)
	return bus.Message{ID: "1-0", Payload: payload, Attempt: 1}
}

// scannerFunc позволяет задать вердикт прямо в тесте
type scannerFunc func(ctx context.Context, r io.Reader, name string, size int64) scan.Verdict

func (f scannerFunc) Scan(ctx context.Context, r io.Reader, name string, size int64) scan.Verdict {
	return f(ctx, r, name, size)
}

func verdict(v scan.Verdict) scan.Scanner {
	return scannerFunc(func(_ context.Context, r io.Reader, _ string, _ int64) scan.Verdict {
		_, _ = io.Copy(io.Discard, r)
		return v
	})
}

type fakeImages struct {
	info     imaging.Info
	err      error
	thumbErr error
}

func (f fakeImages) Inspect([]byte) (imaging.Info, error) {
	return f.info, f.err
}

func (f fakeImages) Thumbnail(_ []byte, maxSide int) ([]byte, error) {
	if f.thumbErr != nil {
		return nil, f.thumbErr
	}
	return []byte("thumb"), nil
}

func newMover(objects storage.Storage) *storage.Mover {
	return storage.NewMover(objects, 2, time.Millisecond)
}
