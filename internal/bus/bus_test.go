package bus_test

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"appmarket/internal/bus"
	"appmarket/internal/bus/bustest"
	"appmarket/internal/events"
)

func TestPartition(t *testing.T) {
	key := uuid.New().String()

	first := bus.Partition(key, 8)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, bus.Partition(key, 8), "same key must map to the same partition")
	}
	assert.GreaterOrEqual(t, first, 0)
	assert.Less(t, first, 8)

	assert.Equal(t, 0, bus.Partition(key, 1))
	assert.Equal(t, 0, bus.Partition(key, 0))
}

func TestPartition_Spreads(t *testing.T) {
	seen := map[int]bool{}
	for i := 0; i < 200; i++ {
		seen[bus.Partition(uuid.New().String(), 4)] = true
	}
	assert.Len(t, seen, 4)
}

func TestStreamNames(t *testing.T) {
	assert.Equal(t, "pipeline.validation-outcomes:3", bus.StreamName(events.TopicValidationOutcomes, 3))
	assert.Equal(t, "pipeline.validation-outcomes:dead", bus.DeadLetterStream(events.TopicValidationOutcomes))
}

func TestPublishEvent(t *testing.T) {
	rec := &bustest.Recorder{}
	appID := uuid.New()

	err := bus.PublishEvent(context.Background(), rec, events.TopicValidationOutcomes, appID.String(),
		events.ValidationSucceeded{AppID: appID, AppFileID: uuid.New(), Path: "dev/app/1.0/app.apk"})
	require.NoError(t, err)

	msgs := rec.OnTopic(events.TopicValidationOutcomes)
	require.Len(t, msgs, 1)
	assert.Equal(t, appID.String(), msgs[0].Key)
	assert.Equal(t, events.TypeValidationSucceeded, events.TypeOf(msgs[0].Payload))
}

func TestPublishEvent_Error(t *testing.T) {
	rec := &bustest.Recorder{Err: errors.New("redis down")}

	err := bus.PublishEvent(context.Background(), rec, events.TopicApps, "k", events.AppVersionSubmitted{})
	assert.ErrorContains(t, err, "redis down")
	assert.Empty(t, rec.Messages())
}
