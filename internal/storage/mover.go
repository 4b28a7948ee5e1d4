package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"appmarket/internal/domain"
	"appmarket/internal/logger"
	"appmarket/internal/metrics"
)

// ErrCopyNotVerified - копия не появилась в зоне назначения за отведенное число проверок
var ErrCopyNotVerified = errors.New("copy not verified")

// Mover перемещает объекты между зонами: копирование, проверка копии, удаление источника
type Mover struct {
	storage  Storage
	attempts int
	interval time.Duration
	log      zerolog.Logger
}

func NewMover(storage Storage, attempts int, interval time.Duration) *Mover {
	if attempts <= 0 {
		attempts = 10
	}
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	return &Mover{
		storage:  storage,
		attempts: attempts,
		interval: interval,
		log:      logger.Component("mover"),
	}
}

// Move переносит объект. Если источника нет, а назначение уже есть, считается,
// что перенос уже выполнен (повтор после сбоя между перемещением и коммитом).
// Источник удаляется только после подтверждения копии.
func (m *Mover) Move(ctx context.Context, srcZone domain.Zone, srcKey string, dstZone domain.Zone, dstKey string) error {
	return m.MoveAndCommit(ctx, srcZone, srcKey, dstZone, dstKey, nil)
}

// MoveAndCommit вызывает commit между подтверждением копии и удалением источника.
// Ошибка commit оставляет источник на месте, поэтому повтор снова найдет объект
// и дойдет до commit. Если источник уже удален, commit считается выполненным.
func (m *Mover) MoveAndCommit(ctx context.Context, srcZone domain.Zone, srcKey string, dstZone domain.Zone, dstKey string, commit func(ctx context.Context) error) (err error) {
	if srcZone == dstZone && srcKey == dstKey {
		if commit != nil {
			return commit(ctx)
		}
		return nil
	}
	defer func() { metrics.RecordMove(string(srcZone), string(dstZone), err) }()

	src, err := m.storage.Stat(ctx, srcZone, srcKey)
	if err != nil {
		if !errors.Is(err, ErrObjectNotFound) {
			return fmt.Errorf("failed to stat source: %w", err)
		}
		exists, existsErr := m.storage.Exists(ctx, dstZone, dstKey)
		if existsErr != nil {
			return fmt.Errorf("failed to check destination: %w", existsErr)
		}
		if exists {
			m.log.Info().
				Str("src", string(srcZone)+"/"+srcKey).
				Str("dst", string(dstZone)+"/"+dstKey).
				Msg("source missing, destination present: already moved")
			return nil
		}
		return err
	}

	if err := m.storage.Copy(ctx, srcZone, srcKey, dstZone, dstKey); err != nil {
		return fmt.Errorf("copy failed, source kept: %w", err)
	}

	if err := m.awaitCopy(ctx, dstZone, dstKey, src.Size); err != nil {
		return err
	}

	if commit != nil {
		if err := commit(ctx); err != nil {
			return fmt.Errorf("commit after copy, source kept: %w", err)
		}
	}

	if err := m.storage.Delete(ctx, srcZone, srcKey); err != nil {
		return fmt.Errorf("failed to delete source after copy: %w", err)
	}

	m.log.Debug().
		Str("src", string(srcZone)+"/"+srcKey).
		Str("dst", string(dstZone)+"/"+dstKey).
		Int64("size", src.Size).
		Msg("object moved")
	return nil
}

// awaitCopy опрашивает назначение, пока там не появится объект того же размера
func (m *Mover) awaitCopy(ctx context.Context, zone domain.Zone, key string, size int64) error {
	for attempt := 1; attempt <= m.attempts; attempt++ {
		info, err := m.storage.Stat(ctx, zone, key)
		switch {
		case err == nil && info.Size == size:
			return nil
		case err != nil && !errors.Is(err, ErrObjectNotFound):
			return fmt.Errorf("failed to verify copy: %w", err)
		}

		if attempt == m.attempts {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(m.interval):
		}
	}
	return fmt.Errorf("%w: %s/%s after %d attempts", ErrCopyNotVerified, zone, key, m.attempts)
}
