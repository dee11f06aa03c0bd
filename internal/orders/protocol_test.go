package orders_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ordercore/internal/bus"
	"ordercore/internal/events"
	"ordercore/internal/inventory"
	"ordercore/internal/logger"
	"ordercore/internal/metrics"
	"ordercore/internal/orders"
	"ordercore/internal/outbox"
)

// inProcClient routes reservation RPCs straight into the custodian
// service. Its mode simulates the transport:
//
//	ok               normal round trip
//	commit-then-lose the custodian commits but the reply is lost, which
//	                 covers both gremlin latency and the crash after
//	                 commit (the coordinator cannot tell them apart)
//	lose             the request never reaches the custodian
type inProcClient struct {
	svc  *inventory.Service
	mode string
}

func (c *inProcClient) Reserve(ctx context.Context, orderID, productID string, quantity int64, key string) (*orders.ReserveResult, error) {
	if c.mode == "lose" {
		return nil, orders.ErrInventoryAmbiguous
	}
	res, err := c.svc.Reserve(ctx, inventory.ReserveParams{
		OrderID: orderID, ProductID: productID, Quantity: quantity, IdempotencyKey: key,
	})
	if err != nil {
		return nil, err
	}
	if c.mode == "commit-then-lose" {
		return nil, orders.ErrInventoryAmbiguous
	}
	out := &orders.ReserveResult{RemainingStock: res.RemainingStock, Message: res.Message}
	switch res.Code {
	case inventory.ReserveConfirmed:
		out.Outcome = orders.OutcomeConfirmed
		out.ReservationID = res.Reservation.ID
	case inventory.ReserveAlreadyExists:
		out.Outcome = orders.OutcomeAlreadyReserved
		out.ReservationID = res.Reservation.ID
	case inventory.ReserveInsufficientStock:
		out.Outcome = orders.OutcomeInsufficientStock
	case inventory.ReserveProductNotFound:
		out.Outcome = orders.OutcomeProductNotFound
	}
	return out, nil
}

func (c *inProcClient) Release(ctx context.Context, orderID, reservationID, reason string) (*orders.ReleaseResult, error) {
	res, err := c.svc.Release(ctx, orderID, reservationID, reason)
	if err != nil {
		return nil, err
	}
	return &orders.ReleaseResult{Released: res.Released, NewStock: res.NewStock, Message: res.Message}, nil
}

// harness is both services plus the bus, everything in memory.
type harness struct {
	bus       *bus.Memory
	client    *inProcClient
	coord     *orders.Coordinator
	orderRepo *orders.MemRepo
	invStore  *inventory.MemStore
	invSvc    *inventory.Service
	orderPump *outbox.Pump
	invPump   *outbox.Pump
	observed  []events.Envelope
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	log := logger.NewNop()
	b := bus.NewMemory()

	invStore := inventory.NewMemStore(outbox.NewMemStore())
	invSvc := inventory.NewService(invStore, nil, metrics.New("inventory-test"), log, "inventory-service")

	orderRepo := orders.NewMemRepo(outbox.NewMemStore())
	client := &inProcClient{svc: invSvc, mode: "ok"}
	coord := orders.NewCoordinator(orderRepo, client, nil, metrics.New("order-test"), log, "order-service")
	consumer := orders.NewConsumer(orderRepo, nil, metrics.New("consumer-test"), log, "order-service")

	h := &harness{
		bus:       b,
		client:    client,
		coord:     coord,
		orderRepo: orderRepo,
		invStore:  invStore,
		invSvc:    invSvc,
		orderPump: outbox.NewPump(orderRepo.Outbox, b, log, 0),
		invPump:   outbox.NewPump(invStore.Outbox, b, log, 0),
	}

	b.Subscribe(events.TopicInventoryEvents, "order-service-sub", consumer.Handle)
	b.Subscribe(events.QueueVerifyOrders, "inventory-verify", invSvc.HandleVerifyOrder)
	observe := func(_ context.Context, m bus.Message) error {
		env, err := events.Unmarshal(m.Value)
		if err != nil {
			return err
		}
		h.observed = append(h.observed, env)
		return nil
	}
	b.Subscribe(events.TopicOrderEvents, "observer", observe)
	b.Subscribe(events.TopicInventoryEvents, "observer", observe)
	return h
}

// settle pumps both outboxes and drains the bus until nothing moves,
// i.e. every order has reached its steady state.
func (h *harness) settle(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	for i := 0; i < 25; i++ {
		n1, err := h.orderPump.RunOnce(ctx)
		require.NoError(t, err)
		n2, err := h.invPump.RunOnce(ctx)
		require.NoError(t, err)
		require.NoError(t, h.bus.Drain(ctx))
		if n1 == 0 && n2 == 0 && h.bus.Pending() == 0 {
			return
		}
	}
	t.Fatal("protocol did not reach steady state")
}

func (h *harness) observedTypes() []string {
	var out []string
	for _, env := range h.observed {
		out = append(out, env.EventType)
	}
	return out
}

func (h *harness) stock(t *testing.T, productID string) int64 {
	t.Helper()
	p, err := h.invStore.GetProduct(context.Background(), productID)
	require.NoError(t, err)
	return p.Stock
}

func TestProtocolHappyPath(t *testing.T) {
	h := newHarness(t)
	h.invStore.SeedProduct(inventory.Product{ID: "SKU-002", Name: "Wireless Mouse", Stock: 200, LowStockThreshold: 20})

	res, err := h.coord.CreateOrder(context.Background(), orders.CreateOrderRequest{
		CustomerID: "C1", ProductID: "SKU-002", Quantity: 3,
	})
	require.NoError(t, err)
	assert.Equal(t, orders.StatusConfirmed, res.Order.Status)
	h.settle(t)

	assert.EqualValues(t, 197, h.stock(t, "SKU-002"))
	types := h.observedTypes()
	assert.Contains(t, types, events.TypeOrderCreated)
	assert.Contains(t, types, events.TypeStockReserved)
	assert.Contains(t, types, events.TypeOrderConfirmed)
}

func TestProtocolInsufficientStock(t *testing.T) {
	h := newHarness(t)
	h.invStore.SeedProduct(inventory.Product{ID: "SKU-001", Name: "Mechanical Keyboard", Stock: 50, LowStockThreshold: 10})

	res, err := h.coord.CreateOrder(context.Background(), orders.CreateOrderRequest{
		CustomerID: "C1", ProductID: "SKU-001", Quantity: 100,
	})
	require.NoError(t, err)
	assert.Equal(t, orders.StatusFailed, res.Order.Status)
	require.NotNil(t, res.Order.ErrorMessage)
	assert.Contains(t, *res.Order.ErrorMessage, "Insufficient stock")
	h.settle(t)

	assert.EqualValues(t, 50, h.stock(t, "SKU-001"))
	assert.Contains(t, h.observedTypes(), events.TypeOrderFailed)
}

// The reply is lost after the custodian committed: gremlin latency past
// the deadline, or a crash between commit and reply. Verification finds
// the reservation and the consumer races in with StockReserved; either
// way the order confirms and stock moves exactly once.
func TestProtocolLostReplyAfterCommit(t *testing.T) {
	h := newHarness(t)
	h.invStore.SeedProduct(inventory.Product{ID: "SKU-002", Name: "Wireless Mouse", Stock: 200, LowStockThreshold: 20})
	h.client.mode = "commit-then-lose"

	res, err := h.coord.CreateOrder(context.Background(), orders.CreateOrderRequest{
		CustomerID: "C1", ProductID: "SKU-002", Quantity: 3, IdempotencyKey: "k-lost",
	})
	require.NoError(t, err)
	assert.Equal(t, orders.StatusPendingVerification, res.Order.Status)
	h.settle(t)

	got, err := h.orderRepo.GetByID(context.Background(), res.Order.ID)
	require.NoError(t, err)
	assert.Equal(t, orders.StatusConfirmed, got.Status)
	require.NotNil(t, got.ReservationID)

	assert.EqualValues(t, 197, h.stock(t, "SKU-002"))
	active, err := h.invStore.FindActiveByOrder(context.Background(), res.Order.ID)
	require.NoError(t, err)
	assert.Equal(t, *got.ReservationID, active.ID)

	var verified []events.Envelope
	for _, env := range h.observed {
		if env.EventType == events.TypeOrderVerified {
			verified = append(verified, env)
		}
	}
	require.NotEmpty(t, verified)
	payload, err := events.Decode(verified[0])
	require.NoError(t, err)
	assert.True(t, payload.(events.OrderVerified).RecoveredFromCrash)
}

// The request never reached the custodian. Verification performs the
// reservation itself with the derived idempotency key.
func TestProtocolLostRequestRecoversByReserving(t *testing.T) {
	h := newHarness(t)
	h.invStore.SeedProduct(inventory.Product{ID: "SKU-002", Name: "Wireless Mouse", Stock: 200, LowStockThreshold: 20})
	h.client.mode = "lose"

	res, err := h.coord.CreateOrder(context.Background(), orders.CreateOrderRequest{
		CustomerID: "C1", ProductID: "SKU-002", Quantity: 3, IdempotencyKey: "k-drop",
	})
	require.NoError(t, err)
	assert.Equal(t, orders.StatusPendingVerification, res.Order.Status)
	h.settle(t)

	got, err := h.orderRepo.GetByID(context.Background(), res.Order.ID)
	require.NoError(t, err)
	assert.Equal(t, orders.StatusConfirmed, got.Status)
	assert.EqualValues(t, 197, h.stock(t, "SKU-002"))

	active, err := h.invStore.FindActiveByOrder(context.Background(), res.Order.ID)
	require.NoError(t, err)
	assert.Equal(t, "verify-k-drop", active.IdempotencyKey)
}

// Verification that cannot reserve settles the order as failed.
func TestProtocolVerificationFails(t *testing.T) {
	h := newHarness(t)
	h.invStore.SeedProduct(inventory.Product{ID: "SKU-001", Name: "Mechanical Keyboard", Stock: 1, LowStockThreshold: 10})
	h.client.mode = "lose"

	res, err := h.coord.CreateOrder(context.Background(), orders.CreateOrderRequest{
		CustomerID: "C1", ProductID: "SKU-001", Quantity: 5,
	})
	require.NoError(t, err)
	assert.Equal(t, orders.StatusPendingVerification, res.Order.Status)
	h.settle(t)

	got, err := h.orderRepo.GetByID(context.Background(), res.Order.ID)
	require.NoError(t, err)
	assert.Equal(t, orders.StatusFailed, got.Status)
	assert.EqualValues(t, 1, h.stock(t, "SKU-001"))
}

func TestProtocolIdempotentCreateRetry(t *testing.T) {
	h := newHarness(t)
	h.invStore.SeedProduct(inventory.Product{ID: "SKU-002", Name: "Wireless Mouse", Stock: 200, LowStockThreshold: 20})
	req := orders.CreateOrderRequest{CustomerID: "C1", ProductID: "SKU-002", Quantity: 3, IdempotencyKey: "k-42"}

	first, err := h.coord.CreateOrder(context.Background(), req)
	require.NoError(t, err)
	second, err := h.coord.CreateOrder(context.Background(), req)
	require.NoError(t, err)
	h.settle(t)

	assert.Equal(t, first.Order.ID, second.Order.ID)
	assert.True(t, second.Cached)
	assert.EqualValues(t, 197, h.stock(t, "SKU-002"), "stock deducted exactly once")
}

func TestProtocolCancelAfterConfirmRestoresStock(t *testing.T) {
	h := newHarness(t)
	h.invStore.SeedProduct(inventory.Product{ID: "SKU-003", Name: "USB-C Dock", Stock: 100, LowStockThreshold: 15})

	res, err := h.coord.CreateOrder(context.Background(), orders.CreateOrderRequest{
		CustomerID: "C1", ProductID: "SKU-003", Quantity: 2,
	})
	require.NoError(t, err)
	require.Equal(t, orders.StatusConfirmed, res.Order.Status)
	h.settle(t)
	assert.EqualValues(t, 98, h.stock(t, "SKU-003"))

	cancelled, err := h.coord.CancelOrder(context.Background(), res.Order.ID)
	require.NoError(t, err)
	assert.Equal(t, orders.StatusCancelled, cancelled.Status)
	h.settle(t)

	assert.EqualValues(t, 100, h.stock(t, "SKU-003"))
	_, err = h.invStore.FindActiveByOrder(context.Background(), res.Order.ID)
	assert.ErrorIs(t, err, inventory.ErrReservationNotFound)
	assert.Contains(t, h.observedTypes(), events.TypeStockReleased)
}

// Redelivering the VerifyOrder message any number of times converges to
// one reservation and one confirmed order.
func TestProtocolVerifyIdempotence(t *testing.T) {
	h := newHarness(t)
	h.invStore.SeedProduct(inventory.Product{ID: "SKU-002", Name: "Wireless Mouse", Stock: 200, LowStockThreshold: 20})
	h.client.mode = "lose"

	res, err := h.coord.CreateOrder(context.Background(), orders.CreateOrderRequest{
		CustomerID: "C1", ProductID: "SKU-002", Quantity: 3, IdempotencyKey: "k-redeliver",
	})
	require.NoError(t, err)

	// grab the VerifyOrder row and deliver it by hand, three times
	var verify bus.Message
	for _, r := range h.orderRepo.Outbox.All() {
		if r.EventType == events.TypeVerifyOrder {
			verify = bus.Message{Topic: r.Topic, Key: r.PartitionKey, Value: r.Payload}
		}
	}
	require.NotNil(t, verify.Value)
	for i := 0; i < 3; i++ {
		require.NoError(t, h.invSvc.HandleVerifyOrder(context.Background(), verify))
	}
	h.settle(t)

	got, err := h.orderRepo.GetByID(context.Background(), res.Order.ID)
	require.NoError(t, err)
	assert.Equal(t, orders.StatusConfirmed, got.Status)
	assert.EqualValues(t, 197, h.stock(t, "SKU-002"), "redelivery must not deduct twice")
}
