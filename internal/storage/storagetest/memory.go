// Package storagetest содержит хранилище в памяти для тестов сервисов и воркеров
package storagetest

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"

	"appmarket/internal/domain"
	"appmarket/internal/storage"
)

type entry struct {
	data        []byte
	contentType string
	tags        map[string]string
}

// Memory реализует storage.Storage в памяти. Поля *Err позволяют внедрять сбои.
type Memory struct {
	mu      sync.Mutex
	objects map[string]*entry

	CopyErr   error
	DeleteErr error
	PutErr    error
	TagsErr   error
	// LostCopies - копия "выполнена", но объект в назначении не появляется
	LostCopies bool
}

func New() *Memory {
	return &Memory{objects: make(map[string]*entry)}
}

func id(zone domain.Zone, key string) string {
	return string(zone) + "/" + key
}

func notFound(zone domain.Zone, key string) error {
	return fmt.Errorf("%w: %s/%s", storage.ErrObjectNotFound, zone, key)
}

// Seed кладет объект с тегами напрямую
func (m *Memory) Seed(zone domain.Zone, key string, data []byte, tags map[string]string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t := make(map[string]string, len(tags))
	for k, v := range tags {
		t[k] = v
	}
	m.objects[id(zone, key)] = &entry{data: append([]byte(nil), data...), tags: t}
}

func (m *Memory) Has(zone domain.Zone, key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.objects[id(zone, key)]
	return ok
}

func (m *Memory) Tags(zone domain.Zone, key string) map[string]string {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.objects[id(zone, key)]
	if !ok {
		return nil
	}
	out := make(map[string]string, len(e.tags))
	for k, v := range e.tags {
		out[k] = v
	}
	return out
}

func (m *Memory) Data(zone domain.Zone, key string) []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.objects[id(zone, key)]; ok {
		return append([]byte(nil), e.data...)
	}
	return nil
}

// Keys возвращает все ключи зоны
func (m *Memory) Keys(zone domain.Zone) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	prefix := string(zone) + "/"
	var keys []string
	for k := range m.objects {
		if len(k) > len(prefix) && k[:len(prefix)] == prefix {
			keys = append(keys, k[len(prefix):])
		}
	}
	return keys
}

func (m *Memory) Stat(_ context.Context, zone domain.Zone, key string) (*storage.ObjectInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.objects[id(zone, key)]
	if !ok {
		return nil, notFound(zone, key)
	}
	tags := make(map[string]string, len(e.tags))
	for k, v := range e.tags {
		tags[k] = v
	}
	return &storage.ObjectInfo{Key: key, Size: int64(len(e.data)), ContentType: e.contentType, Tags: tags}, nil
}

func (m *Memory) Exists(_ context.Context, zone domain.Zone, key string) (bool, error) {
	return m.Has(zone, key), nil
}

func (m *Memory) GetTags(_ context.Context, zone domain.Zone, key string) (map[string]string, error) {
	if !m.Has(zone, key) {
		return nil, notFound(zone, key)
	}
	return m.Tags(zone, key), nil
}

func (m *Memory) PutTags(_ context.Context, zone domain.Zone, key string, tags map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.TagsErr != nil {
		return m.TagsErr
	}
	e, ok := m.objects[id(zone, key)]
	if !ok {
		return notFound(zone, key)
	}
	for k, v := range tags {
		e.tags[k] = v
	}
	return nil
}

func (m *Memory) Open(_ context.Context, zone domain.Zone, key string) (storage.Object, error) {
	data := m.Data(zone, key)
	if data == nil && !m.Has(zone, key) {
		return nil, notFound(zone, key)
	}
	return &memObject{Reader: bytes.NewReader(data), size: int64(len(data))}, nil
}

func (m *Memory) ReadRange(_ context.Context, zone domain.Zone, key string, offset, length int64) ([]byte, error) {
	if !m.Has(zone, key) {
		return nil, notFound(zone, key)
	}
	data := m.Data(zone, key)
	if offset >= int64(len(data)) {
		return []byte{}, nil
	}
	end := offset + length
	if end > int64(len(data)) {
		end = int64(len(data))
	}
	return data[offset:end], nil
}

func (m *Memory) Put(_ context.Context, zone domain.Zone, key string, r io.Reader, _ int64, contentType string) error {
	if m.PutErr != nil {
		return m.PutErr
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[id(zone, key)] = &entry{data: data, contentType: contentType, tags: map[string]string{}}
	return nil
}

func (m *Memory) Copy(_ context.Context, srcZone domain.Zone, srcKey string, dstZone domain.Zone, dstKey string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.CopyErr != nil {
		return m.CopyErr
	}
	e, ok := m.objects[id(srcZone, srcKey)]
	if !ok {
		return notFound(srcZone, srcKey)
	}
	if m.LostCopies {
		return nil
	}
	tags := make(map[string]string, len(e.tags))
	for k, v := range e.tags {
		tags[k] = v
	}
	m.objects[id(dstZone, dstKey)] = &entry{data: append([]byte(nil), e.data...), contentType: e.contentType, tags: tags}
	return nil
}

func (m *Memory) Delete(_ context.Context, zone domain.Zone, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.DeleteErr != nil {
		return m.DeleteErr
	}
	delete(m.objects, id(zone, key))
	return nil
}

type memObject struct {
	*bytes.Reader
	size int64
}

func (o *memObject) Close() error         { return nil }
func (o *memObject) ContentLength() int64 { return o.size }
func (o *memObject) ContentType() string  { return "application/octet-stream" }

var _ storage.Storage = (*Memory)(nil)
