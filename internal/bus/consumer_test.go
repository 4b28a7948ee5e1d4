package bus_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/semaphore"

	"appmarket/internal/bus"
	"appmarket/internal/config"
	"appmarket/internal/events"
)

const topic = events.TopicValidationOutcomes

var stream = bus.StreamName(topic, 0)

func newRedis(t *testing.T) *redis.Client {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return client
}

func busConfig(consumer string) config.BusConfig {
	return config.BusConfig{
		Partitions:    1,
		Group:         "appmarket",
		Consumer:      consumer,
		BlockTimeout:  20 * time.Millisecond,
		RetryBackoff:  5 * time.Millisecond,
		MaxDeliveries: 5,
	}
}

// recorder запоминает доставки; fail решает, вернуть ли ошибку
type recorder struct {
	mu   sync.Mutex
	msgs []bus.Message
	fail func(msg bus.Message, seen int) error
}

func (r *recorder) handle(_ context.Context, msg bus.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, msg)
	if r.fail != nil {
		return r.fail(msg, len(r.msgs))
	}
	return nil
}

func (r *recorder) delivered() []bus.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]bus.Message(nil), r.msgs...)
}

func (r *recorder) count() int {
	return len(r.delivered())
}

// start запускает потребителя и возвращает функцию остановки
func start(t *testing.T, client *redis.Client, conf config.BusConfig, h bus.Handler) func() {
	t.Helper()
	c := bus.NewConsumer(client, conf, topic, semaphore.NewWeighted(2), h)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	var once sync.Once
	stop := func() {
		once.Do(func() {
			cancel()
			select {
			case err := <-done:
				assert.NoError(t, err)
			case <-time.After(5 * time.Second):
				t.Fatal("consumer did not stop")
			}
		})
	}
	t.Cleanup(stop)
	return stop
}

func publish(t *testing.T, client *redis.Client, payloads ...string) {
	t.Helper()
	p := bus.NewPublisher(client, config.BusConfig{Partitions: 1})
	for _, payload := range payloads {
		require.NoError(t, p.Publish(context.Background(), topic, "app-1", []byte(payload)))
	}
}

func pendingCount(t *testing.T, client *redis.Client) int {
	t.Helper()
	pending, err := client.XPendingExt(context.Background(), &redis.XPendingExtArgs{
		Stream: stream,
		Group:  "appmarket",
		Start:  "-",
		End:    "+",
		Count:  100,
	}).Result()
	require.NoError(t, err)
	return len(pending)
}

func payloads(msgs []bus.Message) []string {
	out := make([]string, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, string(m.Payload))
	}
	return out
}

func TestConsumer_AcksInOrder(t *testing.T) {
	client := newRedis(t)
	publish(t, client, "first", "second", "third")

	rec := &recorder{}
	stop := start(t, client, busConfig("worker-1"), rec.handle)

	require.Eventually(t, func() bool { return rec.count() == 3 }, 5*time.Second, 10*time.Millisecond)
	stop()

	msgs := rec.delivered()
	assert.Equal(t, []string{"first", "second", "third"}, payloads(msgs))
	for _, m := range msgs {
		assert.Equal(t, "app-1", m.Key)
		assert.Equal(t, topic, m.Topic)
		assert.Equal(t, int64(1), m.Attempt)
	}
	assert.Zero(t, pendingCount(t, client), "every handled message is acked")
}

func TestConsumer_FailedMessageRetriedBeforeNewer(t *testing.T) {
	client := newRedis(t)
	publish(t, client, "first", "second")

	rec := &recorder{fail: func(msg bus.Message, seen int) error {
		if string(msg.Payload) == "first" && seen == 1 {
			return errors.New("database unavailable")
		}
		return nil
	}}
	stop := start(t, client, busConfig("worker-1"), rec.handle)

	require.Eventually(t, func() bool { return rec.count() == 3 }, 5*time.Second, 10*time.Millisecond)
	stop()

	msgs := rec.delivered()
	assert.Equal(t, []string{"first", "first", "second"}, payloads(msgs))
	assert.Equal(t, msgs[0].ID, msgs[1].ID)
	assert.Equal(t, []int64{1, 2, 1}, []int64{msgs[0].Attempt, msgs[1].Attempt, msgs[2].Attempt})
	assert.Zero(t, pendingCount(t, client))
}

func TestConsumer_FailedMessageStaysPending(t *testing.T) {
	client := newRedis(t)
	publish(t, client, "first")

	rec := &recorder{fail: func(bus.Message, int) error { return errors.New("still broken") }}
	conf := busConfig("worker-1")
	conf.MaxDeliveries = 0
	conf.RetryBackoff = time.Hour
	stop := start(t, client, conf, rec.handle)

	require.Eventually(t, func() bool { return rec.count() == 1 }, 5*time.Second, 10*time.Millisecond)
	stop()

	assert.Equal(t, 1, pendingCount(t, client), "failed message is not acked")
}

func TestConsumer_DeadLetterAfterMaxDeliveries(t *testing.T) {
	client := newRedis(t)
	publish(t, client, "poison")

	rec := &recorder{fail: func(bus.Message, int) error { return errors.New("cannot handle") }}
	conf := busConfig("worker-1")
	conf.MaxDeliveries = 2
	stop := start(t, client, conf, rec.handle)

	var dead []redis.XMessage
	require.Eventually(t, func() bool {
		var err error
		dead, err = client.XRange(context.Background(), bus.DeadLetterStream(topic), "-", "+").Result()
		return err == nil && len(dead) == 1
	}, 5*time.Second, 10*time.Millisecond)
	stop()

	msgs := rec.delivered()
	require.Len(t, msgs, 2, "handler is not called past the delivery limit")
	assert.Equal(t, []int64{1, 2}, []int64{msgs[0].Attempt, msgs[1].Attempt})

	assert.Equal(t, stream+"/"+msgs[0].ID, dead[0].Values["source"])
	assert.Equal(t, "max deliveries exceeded", dead[0].Values["error"])
	assert.Equal(t, "poison", dead[0].Values["payload"])
	assert.Zero(t, pendingCount(t, client), "dead-lettered message is acked")
}

func TestConsumer_ClaimsStaleMessages(t *testing.T) {
	ctx := context.Background()
	client := newRedis(t)

	require.NoError(t, client.XGroupCreateMkStream(ctx, stream, "appmarket", "0").Err())
	publish(t, client, "orphan")

	// Потребитель прочитал сообщение и упал, не подтвердив его
	taken, err := client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    "appmarket",
		Consumer: "crashed",
		Streams:  []string{stream, ">"},
		Count:    1,
	}).Result()
	require.NoError(t, err)
	require.Len(t, taken[0].Messages, 1)
	time.Sleep(60 * time.Millisecond)

	rec := &recorder{}
	conf := busConfig("survivor")
	conf.ClaimMinIdle = 50 * time.Millisecond
	stop := start(t, client, conf, rec.handle)

	require.Eventually(t, func() bool { return rec.count() == 1 }, 5*time.Second, 10*time.Millisecond)
	stop()

	msgs := rec.delivered()
	assert.Equal(t, taken[0].Messages[0].ID, msgs[0].ID)
	assert.Equal(t, "orphan", string(msgs[0].Payload))
	assert.Zero(t, pendingCount(t, client))
}

func TestConsumer_FreshPendingIsNotClaimed(t *testing.T) {
	ctx := context.Background()
	client := newRedis(t)

	require.NoError(t, client.XGroupCreateMkStream(ctx, stream, "appmarket", "0").Err())
	publish(t, client, "in-progress")
	_, err := client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    "appmarket",
		Consumer: "busy",
		Streams:  []string{stream, ">"},
		Count:    1,
	}).Result()
	require.NoError(t, err)

	rec := &recorder{}
	conf := busConfig("other")
	conf.ClaimMinIdle = time.Hour
	stop := start(t, client, conf, rec.handle)

	time.Sleep(100 * time.Millisecond)
	stop()

	assert.Zero(t, rec.count(), "a message still being handled elsewhere is left alone")
	assert.Equal(t, 1, pendingCount(t, client))
}
