package service_test

import (
	"crypto/sha256"
	"encoding/hex"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"appmarket/internal/bus"
	"appmarket/internal/bus/bustest"
	"appmarket/internal/events"
	"appmarket/internal/repository/repotest"
	"appmarket/internal/service"
	"appmarket/internal/storage"
	"appmarket/internal/storage/storagetest"
)

type fixture struct {
	store      *repotest.Store
	objects    *storagetest.Memory
	bus        *bustest.Recorder
	mover      *storage.Mover
	aggregator *service.StatusAggregator
}

func newFixture() *fixture {
	objects := storagetest.New()
	return &fixture{
		store:      repotest.New(),
		objects:    objects,
		bus:        &bustest.Recorder{},
		mover:      storage.NewMover(objects, 3, time.Millisecond),
		aggregator: service.NewStatusAggregator(),
	}
}

func (f *fixture) submissions() *service.SubmissionService {
	return service.NewSubmissionService(f.store, f.objects, f.bus)
}

func (f *fixture) coordinator() *service.ResultCoordinator {
	return service.NewResultCoordinator(f.store, f.aggregator)
}

func (f *fixture) publication() *service.PublicationService {
	return service.NewPublicationService(f.store, f.mover, f.bus, f.aggregator)
}

func (f *fixture) catalog() *service.CatalogService {
	return service.NewCatalogService(f.store, f.aggregator)
}

func (f *fixture) reconciler() *service.ReconcileService {
	return service.NewReconcileService(f.store, f.objects, f.mover, f.publication())
}

func sum(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}

// outcome упаковывает событие так, как его доставит шина
func outcome(t *testing.T, e events.Event) bus.Message {
	t.Helper()
	payload, err := events.Encode(e)
	require.NoError(t, err)
	return bus.Message{
		ID:      "1-0",
		Topic:   events.TopicValidationOutcomes,
		Payload: payload,
	}
}

func ptr[T any](v T) *T {
	return &v
}
