// Package bustest - публикатор в памяти для тестов сервисов и воркеров
package bustest

import (
	"context"
	"sync"

	"appmarket/internal/bus"
	"appmarket/internal/events"
)

type Published struct {
	Topic   string
	Key     string
	Payload []byte
}

// Recorder запоминает опубликованные сообщения; Err внедряет сбой публикации
type Recorder struct {
	mu       sync.Mutex
	messages []Published
	Err      error
}

func (r *Recorder) Publish(_ context.Context, topic, key string, payload []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return r.Err
	}
	r.messages = append(r.messages, Published{Topic: topic, Key: key, Payload: append([]byte(nil), payload...)})
	return nil
}

func (r *Recorder) Messages() []Published {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Published(nil), r.messages...)
}

// OnTopic возвращает сообщения одного топика в порядке публикации
func (r *Recorder) OnTopic(topic string) []Published {
	var out []Published
	for _, m := range r.Messages() {
		if m.Topic == topic {
			out = append(out, m)
		}
	}
	return out
}

// Types возвращает дискриминаторы сообщений топика
func (r *Recorder) Types(topic string) []string {
	var out []string
	for _, m := range r.OnTopic(topic) {
		out = append(out, events.TypeOf(m.Payload))
	}
	return out
}

func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = nil
}

var _ bus.Publisher = (*Recorder)(nil)
