// Package bus - шина сообщений на Redis Streams. Каждый топик разбит на
// фиксированное число потоков-партиций; ключ партиционирования - AppId.
package bus

import (
	"context"
	"fmt"
	"hash/fnv"
	"strconv"

	"github.com/go-redis/redis/v8"

	"appmarket/internal/config"
	"appmarket/internal/events"
)

const (
	fieldKey     = "key"
	fieldPayload = "payload"
	fieldSource  = "source"
	fieldError   = "error"

	deadSuffix = ":dead"
)

// Message - прочитанное из потока сообщение
type Message struct {
	ID      string
	Topic   string
	Stream  string
	Key     string
	Payload []byte
	// Attempt - номер доставки, начиная с 1
	Attempt int64
}

// Handler обрабатывает сообщение. nil означает, что сообщение можно подтвердить.
type Handler func(ctx context.Context, msg Message) error

type Publisher interface {
	Publish(ctx context.Context, topic, key string, payload []byte) error
}

// PublishEvent сериализует событие и публикует его с ключом партиционирования
func PublishEvent(ctx context.Context, p Publisher, topic, key string, e events.Event) error {
	payload, err := events.Encode(e)
	if err != nil {
		return err
	}
	if err := p.Publish(ctx, topic, key, payload); err != nil {
		return fmt.Errorf("failed to publish %s to %s: %w", e.EventType(), topic, err)
	}
	return nil
}

// Partition выбирает партицию по FNV-1a от ключа
func Partition(key string, partitions int) int {
	if partitions <= 1 {
		return 0
	}
	h := fnv.New32a()
	h.Write([]byte(key))
	return int(h.Sum32() % uint32(partitions))
}

func StreamName(topic string, partition int) string {
	return topic + ":" + strconv.Itoa(partition)
}

func DeadLetterStream(topic string) string {
	return topic + deadSuffix
}

// NewRedisClient подключается к Redis и проверяет соединение
func NewRedisClient(ctx context.Context, conf config.BusConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     conf.Addr,
		Password: conf.Password,
		DB:       conf.DB,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", conf.Addr, err)
	}
	return client, nil
}

// RedisPublisher пишет сообщения в поток партиции
type RedisPublisher struct {
	client     *redis.Client
	partitions int
	maxLen     int64
}

func NewPublisher(client *redis.Client, conf config.BusConfig) *RedisPublisher {
	return &RedisPublisher{
		client:     client,
		partitions: conf.Partitions,
		maxLen:     conf.MaxLen,
	}
}

func (p *RedisPublisher) Publish(ctx context.Context, topic, key string, payload []byte) error {
	stream := StreamName(topic, Partition(key, p.partitions))

	args := &redis.XAddArgs{
		Stream: stream,
		Values: map[string]interface{}{
			fieldKey:     key,
			fieldPayload: payload,
		},
	}
	if p.maxLen > 0 {
		args.MaxLen = p.maxLen
		args.Approx = true
	}

	if err := p.client.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("xadd %s: %w", stream, err)
	}
	return nil
}

var _ Publisher = (*RedisPublisher)(nil)
