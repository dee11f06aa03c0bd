package outbox

import (
	"context"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ordercore/internal/bus"
	"ordercore/internal/events"
	"ordercore/internal/logger"
)

func TestPumpPublishesInInsertOrder(t *testing.T) {
	store := NewMemStore()
	mem := bus.NewMemory()

	var got []bus.Message
	mem.Subscribe("order-events", "collector", func(_ context.Context, m bus.Message) error {
		got = append(got, m)
		return nil
	})

	env1 := events.MustNew(events.TypeOrderCreated, "order-service", "ord-1", events.OrderCreated{OrderID: "ord-1"})
	env2 := events.MustNew(events.TypeOrderConfirmed, "order-service", "ord-1", events.OrderConfirmed{OrderID: "ord-1"})
	r1, err := FromEnvelope("order-events", []byte("ord-1"), env1)
	require.NoError(t, err)
	r2, err := FromEnvelope("order-events", []byte("ord-1"), env2)
	require.NoError(t, err)
	store.Insert(r1, r2)

	pump := NewPump(store, mem, logger.NewNop(), 0)
	n, err := pump.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	require.NoError(t, mem.Drain(context.Background()))
	require.Len(t, got, 2)
	assert.Equal(t, events.TypeOrderCreated, got[0].Headers[events.HeaderEventType])
	assert.Equal(t, events.TypeOrderConfirmed, got[1].Headers[events.HeaderEventType])
	assert.Equal(t, env1.EventID, got[0].Headers[events.HeaderMessageID])

	for _, r := range store.All() {
		assert.NotNil(t, r.PublishedAt)
	}
}

type failingPublisher struct {
	failures int
	inner    bus.Publisher
}

func (f *failingPublisher) Publish(ctx context.Context, m bus.Message) error {
	if f.failures > 0 {
		f.failures--
		return errors.New("broker down")
	}
	return f.inner.Publish(ctx, m)
}

func TestPumpRetriesAfterPublishFailure(t *testing.T) {
	store := NewMemStore()
	mem := bus.NewMemory()
	mem.Subscribe("order-events", "collector", func(context.Context, bus.Message) error { return nil })

	env := events.MustNew(events.TypeOrderFailed, "order-service", "ord-9", events.OrderFailed{OrderID: "ord-9"})
	row, err := FromEnvelope("order-events", []byte("ord-9"), env)
	require.NoError(t, err)
	store.Insert(row)

	pub := &failingPublisher{failures: 1, inner: mem}
	pump := NewPump(store, pub, logger.NewNop(), 0)

	n, err := pump.RunOnce(context.Background())
	require.Error(t, err)
	assert.Equal(t, 0, n)
	require.Nil(t, store.All()[0].PublishedAt)

	n, err = pump.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.NotNil(t, store.All()[0].PublishedAt)
}
