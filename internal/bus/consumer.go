package bus

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"appmarket/internal/config"
	"appmarket/internal/logger"
	"appmarket/internal/metrics"
)

const claimBatch = 10

// Consumer читает топик через группу потребителей. На каждую партицию - своя
// горутина, сообщения партиции обрабатываются строго по одному, поэтому порядок
// событий одного приложения сохраняется. Подтверждение (XACK) - только после
// успешного обработчика; упавшее сообщение остается в pending и повторяется
// раньше следующих.
type Consumer struct {
	client        *redis.Client
	topic         string
	group         string
	name          string
	partitions    int
	block         time.Duration
	backoff       time.Duration
	claimMinIdle  time.Duration
	maxDeliveries int64
	sem           *semaphore.Weighted
	handler       Handler
	log           zerolog.Logger
}

// NewConsumer создает потребителя. sem ограничивает число одновременно
// обрабатываемых сообщений в процессе и может быть общим для нескольких топиков.
func NewConsumer(client *redis.Client, conf config.BusConfig, topic string, sem *semaphore.Weighted, handler Handler) *Consumer {
	name := conf.Consumer
	if name == "" {
		name = "consumer-" + fmt.Sprint(time.Now().UnixNano())
	}
	return &Consumer{
		client:        client,
		topic:         topic,
		group:         conf.Group,
		name:          name,
		partitions:    conf.Partitions,
		block:         conf.BlockTimeout,
		backoff:       conf.RetryBackoff,
		claimMinIdle:  conf.ClaimMinIdle,
		maxDeliveries: int64(conf.MaxDeliveries),
		sem:           sem,
		handler:       handler,
		log:           logger.Component("bus").With().Str("topic", topic).Logger(),
	}
}

// Run блокируется до отмены ctx. Обрабатываемое в момент отмены сообщение
// дорабатывается и подтверждается.
func (c *Consumer) Run(ctx context.Context) error {
	for p := 0; p < c.partitions; p++ {
		if err := c.ensureGroup(ctx, StreamName(c.topic, p)); err != nil {
			return err
		}
	}

	c.log.Info().Int("partitions", c.partitions).Str("consumer", c.name).Msg("consumer started")

	g, gctx := errgroup.WithContext(ctx)
	for p := 0; p < c.partitions; p++ {
		stream := StreamName(c.topic, p)
		g.Go(func() error {
			return c.consumePartition(gctx, stream)
		})
	}

	err := g.Wait()
	c.log.Info().Msg("consumer stopped")
	return err
}

func (c *Consumer) ensureGroup(ctx context.Context, stream string) error {
	err := c.client.XGroupCreateMkStream(ctx, stream, c.group, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("failed to create consumer group on %s: %w", stream, err)
	}
	return nil
}

func (c *Consumer) consumePartition(ctx context.Context, stream string) error {
	// После рестарта сначала дочитываем свои неподтвержденные сообщения
	backlog := true
	lastClaim := time.Time{}
	// attempts - попытки, уже сделанные этим процессом для неподтвержденных сообщений
	attempts := map[string]int64{}

	for ctx.Err() == nil {
		if !backlog && c.claimMinIdle > 0 && time.Since(lastClaim) > c.claimMinIdle/2 {
			lastClaim = time.Now()
			if claimed := c.claimStale(ctx, stream); claimed > 0 {
				backlog = true
			}
		}

		start := ">"
		if backlog {
			start = "0"
		}

		res, err := c.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    c.group,
			Consumer: c.name,
			Streams:  []string{stream, start},
			Count:    1,
			Block:    c.block,
		}).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				backlog = false
				continue
			}
			if ctx.Err() != nil {
				return nil
			}
			c.log.Error().Err(err).Str("stream", stream).Msg("xreadgroup failed")
			c.sleep(ctx)
			continue
		}

		var messages []redis.XMessage
		for _, s := range res {
			messages = append(messages, s.Messages...)
		}
		if backlog && len(messages) == 0 {
			backlog = false
			continue
		}

		for _, xm := range messages {
			if !c.process(ctx, stream, xm, backlog, attempts) {
				backlog = true
				c.sleep(ctx)
				break
			}
		}
	}
	return nil
}

// process возвращает false, если сообщение осталось неподтвержденным
func (c *Consumer) process(ctx context.Context, stream string, xm redis.XMessage, redelivery bool, attempts map[string]int64) bool {
	if err := c.sem.Acquire(ctx, 1); err != nil {
		return false
	}
	defer c.sem.Release(1)

	// Начатое сообщение доводим до конца даже при остановке процесса
	hctx := context.WithoutCancel(ctx)

	msg := c.toMessage(stream, xm)
	if redelivery {
		msg.Attempt = c.deliveryCount(hctx, stream, xm.ID)
	}
	if prev, ok := attempts[xm.ID]; ok && prev >= msg.Attempt {
		msg.Attempt = prev + 1
	}

	log := c.log.With().Str("stream", stream).Str("id", xm.ID).Int64("attempt", msg.Attempt).Logger()

	if c.maxDeliveries > 0 && msg.Attempt > c.maxDeliveries {
		if err := c.deadLetter(hctx, stream, xm, "max deliveries exceeded"); err != nil {
			log.Error().Err(err).Msg("failed to dead-letter message")
			return false
		}
		delete(attempts, xm.ID)
		log.Warn().Msg("message moved to dead-letter stream")
		metrics.RecordMessage(c.topic, "dead", 0)
		return true
	}

	started := time.Now()
	err := c.safeHandle(hctx, msg)
	if err != nil {
		attempts[xm.ID] = msg.Attempt
		log.Error().Err(err).Msg("handler failed, message left pending")
		metrics.RecordMessage(c.topic, "failed", time.Since(started))
		return false
	}
	delete(attempts, xm.ID)

	if err := c.client.XAck(hctx, stream, c.group, xm.ID).Err(); err != nil {
		// Повторная доставка безопасна: обработчики проверяют статус
		log.Error().Err(err).Msg("xack failed")
		return false
	}
	metrics.RecordMessage(c.topic, "acked", time.Since(started))
	return true
}

func (c *Consumer) safeHandle(ctx context.Context, msg Message) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return c.handler(ctx, msg)
}

func (c *Consumer) toMessage(stream string, xm redis.XMessage) Message {
	msg := Message{
		ID:      xm.ID,
		Topic:   c.topic,
		Stream:  stream,
		Attempt: 1,
	}
	if v, ok := xm.Values[fieldKey].(string); ok {
		msg.Key = v
	}
	if v, ok := xm.Values[fieldPayload].(string); ok {
		msg.Payload = []byte(v)
	}
	return msg
}

func (c *Consumer) deliveryCount(ctx context.Context, stream, id string) int64 {
	pending, err := c.client.XPendingExt(ctx, &redis.XPendingExtArgs{
		Stream: stream,
		Group:  c.group,
		Start:  id,
		End:    id,
		Count:  1,
	}).Result()
	if err != nil || len(pending) == 0 {
		return 1
	}
	return pending[0].RetryCount
}

func (c *Consumer) deadLetter(ctx context.Context, stream string, xm redis.XMessage, reason string) error {
	values := map[string]interface{}{
		fieldSource: stream + "/" + xm.ID,
		fieldError:  reason,
	}
	for k, v := range xm.Values {
		values[k] = v
	}

	pipe := c.client.TxPipeline()
	pipe.XAdd(ctx, &redis.XAddArgs{Stream: DeadLetterStream(c.topic), Values: values})
	pipe.XAck(ctx, stream, c.group, xm.ID)
	_, err := pipe.Exec(ctx)
	return err
}

// claimStale забирает сообщения, зависшие у упавших потребителей дольше claimMinIdle.
// XPENDING + XCLAIM одинаково разбираются клиентом для Redis 6.2 и 7.
func (c *Consumer) claimStale(ctx context.Context, stream string) int {
	pending, err := c.client.XPendingExt(ctx, &redis.XPendingExtArgs{
		Stream: stream,
		Group:  c.group,
		Start:  "-",
		End:    "+",
		Count:  claimBatch,
	}).Result()
	if err != nil {
		if ctx.Err() == nil && !errors.Is(err, redis.Nil) {
			c.log.Warn().Err(err).Str("stream", stream).Msg("xpending failed")
		}
		return 0
	}

	var ids []string
	for _, p := range pending {
		if p.Consumer != c.name && p.Idle >= c.claimMinIdle {
			ids = append(ids, p.ID)
		}
	}
	if len(ids) == 0 {
		return 0
	}

	messages, err := c.client.XClaim(ctx, &redis.XClaimArgs{
		Stream:   stream,
		Group:    c.group,
		Consumer: c.name,
		MinIdle:  c.claimMinIdle,
		Messages: ids,
	}).Result()
	if err != nil {
		if ctx.Err() == nil {
			c.log.Warn().Err(err).Str("stream", stream).Msg("xclaim failed")
		}
		return 0
	}
	if len(messages) > 0 {
		c.log.Info().Str("stream", stream).Int("claimed", len(messages)).Msg("claimed stale messages")
	}
	return len(messages)
}

func (c *Consumer) sleep(ctx context.Context) {
	if c.backoff <= 0 {
		return
	}
	select {
	case <-ctx.Done():
	case <-time.After(c.backoff):
	}
}
