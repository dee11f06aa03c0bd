package orders

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ordercore/internal/bus"
	"ordercore/internal/events"
	"ordercore/internal/logger"
	"ordercore/internal/metrics"
	"ordercore/internal/outbox"
)

func newConsumer(t *testing.T) (*Consumer, *MemRepo) {
	t.Helper()
	repo := NewMemRepo(outbox.NewMemStore())
	c := NewConsumer(repo, nil, metrics.New("test"), logger.NewNop(), "order-service")
	return c, repo
}

func seedOrder(t *testing.T, repo *MemRepo, status Status) *Order {
	t.Helper()
	o := &Order{ID: uuid.NewString(), CustomerID: "C1", ProductID: "SKU-002", Quantity: 3}
	require.NoError(t, repo.CreatePending(context.Background(), o))
	if status != StatusPending {
		_, err := repo.Transition(context.Background(), o.ID, status,
			[]Status{StatusPending}, TransitionOpts{})
		require.NoError(t, err)
		o.Status = status
	}
	return o
}

func message(t *testing.T, eventType string, payload any) bus.Message {
	t.Helper()
	env := events.MustNew(eventType, "inventory-service", "", payload)
	b, err := events.Marshal(env)
	require.NoError(t, err)
	return bus.Message{Topic: events.TopicInventoryEvents, Value: b}
}

func TestConsumerStockReservedConfirms(t *testing.T) {
	c, repo := newConsumer(t)
	o := seedOrder(t, repo, StatusPending)

	msg := message(t, events.TypeStockReserved, events.StockReserved{
		OrderID: o.ID, ReservationID: "res-9", ProductID: "SKU-002", Quantity: 3, RemainingStock: 197,
	})
	require.NoError(t, c.Handle(context.Background(), msg))

	got, err := repo.GetByID(context.Background(), o.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusConfirmed, got.Status)
	require.NotNil(t, got.ReservationID)
	assert.Equal(t, "res-9", *got.ReservationID)

	// redelivery is a no-op
	require.NoError(t, c.Handle(context.Background(), msg))
	again, err := repo.GetByID(context.Background(), o.ID)
	require.NoError(t, err)
	assert.Equal(t, got.UpdatedAt, again.UpdatedAt)
}

func TestConsumerStockReservedAfterTimeoutRace(t *testing.T) {
	c, repo := newConsumer(t)
	o := seedOrder(t, repo, StatusPendingVerification)

	msg := message(t, events.TypeStockReserved, events.StockReserved{
		OrderID: o.ID, ReservationID: "res-9",
	})
	require.NoError(t, c.Handle(context.Background(), msg))

	got, err := repo.GetByID(context.Background(), o.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusConfirmed, got.Status)
}

func TestConsumerTerminalStateAbsorbs(t *testing.T) {
	c, repo := newConsumer(t)
	o := seedOrder(t, repo, StatusCancelled)

	msg := message(t, events.TypeStockReserved, events.StockReserved{
		OrderID: o.ID, ReservationID: "res-9",
	})
	require.NoError(t, c.Handle(context.Background(), msg)) // acked, not applied

	got, err := repo.GetByID(context.Background(), o.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, got.Status)
	assert.Nil(t, got.ReservationID)
}

func TestConsumerOrderVerifiedConfirms(t *testing.T) {
	c, repo := newConsumer(t)
	o := seedOrder(t, repo, StatusPendingVerification)

	msg := message(t, events.TypeOrderVerified, events.OrderVerified{
		OrderID: o.ID, Status: "confirmed", ReservationID: "res-5", RecoveredFromCrash: true,
	})
	require.NoError(t, c.Handle(context.Background(), msg))

	got, err := repo.GetByID(context.Background(), o.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusConfirmed, got.Status)
	require.NotNil(t, got.ReservationID)
	assert.Equal(t, "res-5", *got.ReservationID)
}

func TestConsumerOrderVerifiedNotFoundFails(t *testing.T) {
	c, repo := newConsumer(t)
	o := seedOrder(t, repo, StatusPendingVerification)

	msg := message(t, events.TypeOrderVerified, events.OrderVerified{
		OrderID: o.ID, Status: "not_found", Reason: "Insufficient stock: have 1, need 3",
	})
	require.NoError(t, c.Handle(context.Background(), msg))

	got, err := repo.GetByID(context.Background(), o.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, got.Status)
	require.NotNil(t, got.ErrorMessage)
	assert.Contains(t, *got.ErrorMessage, "Insufficient stock")
}

func TestConsumerAcceptsLegacyVerificationComplete(t *testing.T) {
	c, repo := newConsumer(t)
	o := seedOrder(t, repo, StatusPendingVerification)

	msg := message(t, events.TypeVerificationComplete, events.VerificationComplete{
		OrderID: o.ID, Verified: true, ReservationID: "res-5",
	})
	require.NoError(t, c.Handle(context.Background(), msg))

	got, err := repo.GetByID(context.Background(), o.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusConfirmed, got.Status)
}

func TestConsumerVerificationSkippedOutsidePendingVerification(t *testing.T) {
	c, repo := newConsumer(t)
	o := seedOrder(t, repo, StatusPending)

	msg := message(t, events.TypeOrderVerified, events.OrderVerified{
		OrderID: o.ID, Status: "not_found",
	})
	require.NoError(t, c.Handle(context.Background(), msg))

	got, err := repo.GetByID(context.Background(), o.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, got.Status)
}

func TestConsumerOrphanEventAcked(t *testing.T) {
	c, _ := newConsumer(t)
	msg := message(t, events.TypeStockReserved, events.StockReserved{
		OrderID: uuid.NewString(), ReservationID: "res-1",
	})
	assert.NoError(t, c.Handle(context.Background(), msg))
}

func TestConsumerDropsGarbage(t *testing.T) {
	c, _ := newConsumer(t)

	// not an envelope at all
	assert.NoError(t, c.Handle(context.Background(), bus.Message{Value: []byte("not json")}))

	// unknown event type
	env := events.MustNew("OrderShipped", "x", "", map[string]string{"orderId": "o-1"})
	b, err := events.Marshal(env)
	require.NoError(t, err)
	assert.NoError(t, c.Handle(context.Background(), bus.Message{Value: b}))
}
