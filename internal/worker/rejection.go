// Package worker содержит обработчики заданий проверки: основной пакет версии и скриншоты.
// Воркер не пишет в реляционное хранилище: он перемещает объект и публикует исход.
package worker

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"appmarket/internal/domain"
	"appmarket/internal/storage"
)

// Категории отказа; категория - первый сегмент ключа в зоне rejected
const (
	CategoryNotFoundOrOversize = "not-found-or-oversize"
	CategoryMissingMetadata    = "missing-metadata"
	CategoryChecksumMismatch   = "checksum-mismatch"
	CategoryInvalidSignature   = "invalid-signature"
	CategoryMalware            = "malware-detected"
	CategoryScanFailed         = "scan-failed"
	CategoryInvalidImage       = "invalid-image"
)

// Rejection - терминальный отказ проверки
type Rejection struct {
	Category string
	Reason   string
}

func reject(category, format string, args ...any) *Rejection {
	return &Rejection{Category: category, Reason: fmt.Sprintf(format, args...)}
}

// RejectedKey - ключ объекта в зоне rejected: {category}/{originalKey}
func RejectedKey(category, key string) string {
	return category + "/" + key
}

// Mover - перемещение с фиксацией исхода до удаления источника, см. storage.Mover
type Mover interface {
	MoveAndCommit(ctx context.Context, srcZone domain.Zone, srcKey string, dstZone domain.Zone, dstKey string, commit func(ctx context.Context) error) error
}

// tagUUID читает идентификатор корреляции из тегов объекта
func tagUUID(tags map[string]string, key string) (uuid.UUID, bool) {
	v, ok := tags[key]
	if !ok {
		return uuid.Nil, false
	}
	id, err := uuid.Parse(v)
	if err != nil || id == uuid.Nil {
		return uuid.Nil, false
	}
	return id, true
}

var _ Mover = (*storage.Mover)(nil)
