// storage.go
package storage

import (
	"context"
	"errors"
	"io"

	"appmarket/internal/domain"
)

// ErrObjectNotFound возвращается, когда объекта нет в указанной зоне
var ErrObjectNotFound = errors.New("object not found")

// Object определяет интерфейс для потока объекта
type Object interface {
	io.ReadCloser
	ContentLength() int64
	ContentType() string
}

// object реализует интерфейс Object
type object struct {
	io.ReadCloser
	contentLength int64
	contentType   string
	cancel        context.CancelFunc
}

func (o *object) ContentLength() int64 {
	return o.contentLength
}

func (o *object) ContentType() string {
	return o.contentType
}

func (o *object) Close() error {
	err := o.ReadCloser.Close()
	if o.cancel != nil {
		o.cancel()
	}
	return err
}

// ObjectInfo - метаданные объекта вместе с тегами корреляции
type ObjectInfo struct {
	Key         string
	Size        int64
	ContentType string
	ETag        string
	Tags        map[string]string
}

// Storage определяет операции над зонированным объектным хранилищем
type Storage interface {
	// Stat возвращает размер и теги объекта или ErrObjectNotFound
	Stat(ctx context.Context, zone domain.Zone, key string) (*ObjectInfo, error)
	Exists(ctx context.Context, zone domain.Zone, key string) (bool, error)
	GetTags(ctx context.Context, zone domain.Zone, key string) (map[string]string, error)
	// PutTags дополняет существующие теги объекта
	PutTags(ctx context.Context, zone domain.Zone, key string, tags map[string]string) error
	// Open открывает поток с ограничением по времени; закрытие потока освобождает таймер
	Open(ctx context.Context, zone domain.Zone, key string) (Object, error)
	ReadRange(ctx context.Context, zone domain.Zone, key string, offset, length int64) ([]byte, error)
	Put(ctx context.Context, zone domain.Zone, key string, r io.Reader, size int64, contentType string) error
	// Copy выполняет серверное копирование с сохранением тегов
	Copy(ctx context.Context, srcZone domain.Zone, srcKey string, dstZone domain.Zone, dstKey string) error
	Delete(ctx context.Context, zone domain.Zone, key string) error
}

// Tag keys корреляции объекта с записями в БД
const (
	TagAppID        = "AppId"
	TagAppFileID    = "AppFileId"
	TagScreenshotID = "ScreenshotId"
	TagDeveloperID  = "DeveloperId"
	TagChecksum     = "Checksum"
	TagAppSlug      = "AppSlug"
	TagVersion      = "Version"
	TagScanStatus   = "scan-status"

	ScanStatusClean = "clean"
)
