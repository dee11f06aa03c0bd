package orders

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"ordercore/internal/events"
	"ordercore/internal/metrics"
	"ordercore/internal/outbox"
	"ordercore/internal/redisx"
)

var (
	// ErrConflict means an idempotency key was replayed with a different
	// request body.
	ErrConflict = errors.New("idempotency key already used with a different request")
	// ErrCancelTerminal means the order already finished in failed or
	// cancelled and cannot be cancelled (again).
	ErrCancelTerminal = errors.New("order is in a terminal state")
)

type ValidationError struct{ Msg string }

func (e *ValidationError) Error() string { return e.Msg }

type CreateOrderRequest struct {
	CustomerID     string `json:"customerId"`
	ProductID      string `json:"productId"`
	Quantity       int64  `json:"quantity"`
	IdempotencyKey string `json:"idempotencyKey,omitempty"`
}

func (r CreateOrderRequest) Validate() error {
	switch {
	case r.CustomerID == "":
		return &ValidationError{Msg: "customerId is required"}
	case r.ProductID == "":
		return &ValidationError{Msg: "productId is required"}
	case r.Quantity <= 0:
		return &ValidationError{Msg: "quantity must be positive"}
	}
	return nil
}

// CreateResult is the outcome of a create call. Cached marks an
// idempotent replay that returned the previously created order.
type CreateResult struct {
	Order  *Order
	Cached bool
}

// Coordinator owns the order lifecycle: it creates orders, drives the
// synchronous reservation call, and routes ambiguous outcomes into the
// verification queue.
type Coordinator struct {
	repo      Repo
	inventory InventoryClient
	cache     *redis.Client
	metrics   *metrics.Metrics
	log       *zap.SugaredLogger
	producer  string
}

func NewCoordinator(repo Repo, inv InventoryClient, cache *redis.Client, m *metrics.Metrics, log *zap.SugaredLogger, producer string) *Coordinator {
	return &Coordinator{
		repo:      repo,
		inventory: inv,
		cache:     cache,
		metrics:   m,
		log:       log,
		producer:  producer,
	}
}

// CreateOrder runs the creation protocol: idempotency lookup, persist in
// pending with the creation event, reserve with a hard deadline, classify.
// Ambiguous RPC outcomes (timeout, unreachable) park the order in
// pending_verification and enqueue a VerifyOrder message; they are never
// reported to the caller as failures.
func (s *Coordinator) CreateOrder(ctx context.Context, req CreateOrderRequest) (*CreateResult, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	if req.IdempotencyKey != "" {
		existing, err := s.repo.GetByIdempotencyKey(ctx, req.IdempotencyKey)
		if err == nil {
			return s.replay(existing, req)
		}
		if !errors.Is(err, ErrNotFound) {
			return nil, err
		}
	}

	key := req.IdempotencyKey
	if key == "" {
		key = uuid.NewString()
	}

	o := &Order{
		ID:             uuid.NewString(),
		CustomerID:     req.CustomerID,
		ProductID:      req.ProductID,
		Quantity:       req.Quantity,
		IdempotencyKey: &key,
	}
	created, err := eventRow(events.TopicOrderEvents, events.TypeOrderCreated, s.producer, o.ID, events.OrderCreated{
		OrderID:        o.ID,
		CustomerID:     o.CustomerID,
		ProductID:      o.ProductID,
		Quantity:       o.Quantity,
		IdempotencyKey: key,
	})
	if err != nil {
		return nil, err
	}
	if err := s.repo.CreatePending(ctx, o, created); err != nil {
		if errors.Is(err, ErrDuplicateKey) {
			existing, gerr := s.repo.GetByIdempotencyKey(ctx, key)
			if gerr != nil {
				return nil, gerr
			}
			return s.replay(existing, req)
		}
		return nil, err
	}
	s.log.Infow("order created", "orderId", o.ID, "productId", o.ProductID, "quantity", o.Quantity)

	start := time.Now()
	res, rpcErr := s.inventory.Reserve(ctx, o.ID, o.ProductID, o.Quantity, key)
	if rpcErr != nil {
		if errors.Is(rpcErr, ErrInventoryAmbiguous) {
			s.metrics.ReserveLatency.WithLabelValues("ambiguous").Observe(time.Since(start).Seconds())
			return s.toVerification(ctx, o, key)
		}
		s.metrics.ReserveLatency.WithLabelValues("error").Observe(time.Since(start).Seconds())
		s.metrics.OrdersCreated.WithLabelValues("error").Inc()
		return nil, errors.Wrap(rpcErr, "reserve stock")
	}

	switch res.Outcome {
	case OutcomeConfirmed, OutcomeAlreadyReserved:
		s.metrics.ReserveLatency.WithLabelValues("ok").Observe(time.Since(start).Seconds())
		return s.confirm(ctx, o, res.ReservationID)
	case OutcomeInsufficientStock, OutcomeProductNotFound:
		s.metrics.ReserveLatency.WithLabelValues("domain_failure").Observe(time.Since(start).Seconds())
		return s.fail(ctx, o, res.Message)
	default:
		s.metrics.OrdersCreated.WithLabelValues("error").Inc()
		return nil, errors.Errorf("unexpected reserve outcome %q", res.Outcome)
	}
}

func (s *Coordinator) replay(existing *Order, req CreateOrderRequest) (*CreateResult, error) {
	if existing.CustomerID != req.CustomerID ||
		existing.ProductID != req.ProductID ||
		existing.Quantity != req.Quantity {
		s.metrics.OrdersCreated.WithLabelValues("conflict").Inc()
		return nil, ErrConflict
	}
	s.metrics.OrdersCreated.WithLabelValues("cached").Inc()
	return &CreateResult{Order: existing, Cached: true}, nil
}

func (s *Coordinator) confirm(ctx context.Context, o *Order, reservationID string) (*CreateResult, error) {
	row, err := eventRow(events.TopicOrderEvents, events.TypeOrderConfirmed, s.producer, o.ID, events.OrderConfirmed{
		OrderID:       o.ID,
		ReservationID: reservationID,
	})
	if err != nil {
		return nil, err
	}
	updated, err := s.repo.Transition(ctx, o.ID, StatusConfirmed,
		[]Status{StatusPending, StatusPendingVerification},
		TransitionOpts{ReservationID: &reservationID, Outbox: []outbox.Row{row}})
	if err != nil {
		if errors.Is(err, ErrStale) {
			// another path settled the order first; report what it decided
			s.log.Warnw("confirm raced with another transition", "orderId", o.ID, "status", updated.Status)
			return &CreateResult{Order: updated}, nil
		}
		return nil, err
	}
	s.metrics.OrdersCreated.WithLabelValues("confirmed").Inc()
	s.cacheOrder(ctx, updated)
	s.log.Infow("order confirmed", "orderId", o.ID, "reservationId", reservationID)
	return &CreateResult{Order: updated}, nil
}

func (s *Coordinator) fail(ctx context.Context, o *Order, reason string) (*CreateResult, error) {
	row, err := eventRow(events.TopicOrderEvents, events.TypeOrderFailed, s.producer, o.ID, events.OrderFailed{
		OrderID: o.ID,
		Reason:  reason,
	})
	if err != nil {
		return nil, err
	}
	updated, err := s.repo.Transition(ctx, o.ID, StatusFailed,
		[]Status{StatusPending, StatusPendingVerification},
		TransitionOpts{ErrorMessage: &reason, Outbox: []outbox.Row{row}})
	if err != nil {
		if errors.Is(err, ErrStale) {
			return &CreateResult{Order: updated}, nil
		}
		return nil, err
	}
	s.metrics.OrdersCreated.WithLabelValues("failed").Inc()
	s.cacheOrder(ctx, updated)
	s.log.Infow("order failed", "orderId", o.ID, "reason", reason)
	return &CreateResult{Order: updated}, nil
}

// toVerification parks the order and enqueues the verification message in
// the same transaction, so the queue entry exists iff the state says so.
func (s *Coordinator) toVerification(ctx context.Context, o *Order, key string) (*CreateResult, error) {
	pending, err := eventRow(events.TopicOrderEvents, events.TypeOrderPendingVerification, s.producer, o.ID, events.OrderPendingVerification{
		OrderID:   o.ID,
		ProductID: o.ProductID,
		Quantity:  o.Quantity,
	})
	if err != nil {
		return nil, err
	}
	verify, err := eventRow(events.QueueVerifyOrders, events.TypeVerifyOrder, s.producer, o.ID, events.VerifyOrder{
		OrderID:             o.ID,
		ProductID:           o.ProductID,
		Quantity:            o.Quantity,
		IdempotencyKey:      key,
		OriginalRequestTime: o.CreatedAt,
	})
	if err != nil {
		return nil, err
	}
	updated, err := s.repo.Transition(ctx, o.ID, StatusPendingVerification,
		[]Status{StatusPending},
		TransitionOpts{Outbox: []outbox.Row{pending, verify}})
	if err != nil {
		if errors.Is(err, ErrStale) {
			// StockReserved may have confirmed the order while the RPC
			// reply was lost; the consumer won that race
			return &CreateResult{Order: updated}, nil
		}
		return nil, err
	}
	s.metrics.OrdersCreated.WithLabelValues("pending_verification").Inc()
	s.cacheOrder(ctx, updated)
	s.log.Warnw("order pending verification", "orderId", o.ID)
	return &CreateResult{Order: updated}, nil
}

// CancelOrder releases any reservation the order holds and moves it to
// cancelled. A failed release does not block the cancel: the reservation
// may already be gone, or the custodian may be down.
func (s *Coordinator) CancelOrder(ctx context.Context, id string) (*Order, error) {
	o, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if o.Status == StatusFailed || o.Status == StatusCancelled {
		return o, ErrCancelTerminal
	}

	const reason = "cancelled by customer"
	reservationID := ""
	if o.ReservationID != nil {
		reservationID = *o.ReservationID
		rel, err := s.inventory.Release(ctx, o.ID, reservationID, reason)
		if err != nil {
			s.log.Warnw("release failed during cancel", "orderId", id, "error", err)
		} else if !rel.Released {
			s.log.Warnw("release skipped during cancel", "orderId", id, "message", rel.Message)
		}
	}

	row, err := eventRow(events.TopicOrderEvents, events.TypeOrderCancelled, s.producer, id, events.OrderCancelled{
		OrderID:       id,
		ReservationID: reservationID,
		Reason:        reason,
	})
	if err != nil {
		return nil, err
	}
	updated, err := s.repo.Transition(ctx, id, StatusCancelled,
		[]Status{StatusPending, StatusPendingVerification, StatusConfirmed},
		TransitionOpts{ErrorMessage: strptr(reason), Outbox: []outbox.Row{row}})
	if err != nil {
		if errors.Is(err, ErrStale) {
			return updated, ErrCancelTerminal
		}
		return nil, err
	}
	s.metrics.OrdersCancelled.Inc()
	s.cacheOrder(ctx, updated)
	s.log.Infow("order cancelled", "orderId", id, "reservationId", reservationID)
	return updated, nil
}

// GetOrder reads through the snapshot cache.
func (s *Coordinator) GetOrder(ctx context.Context, id string) (*Order, error) {
	if o := s.cachedOrder(ctx, id); o != nil {
		return o, nil
	}
	o, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	s.cacheOrder(ctx, o)
	return o, nil
}

func (s *Coordinator) ListOrders(ctx context.Context, f ListFilter) ([]*Order, error) {
	if f.Status != "" && !Known(f.Status) {
		return nil, &ValidationError{Msg: "unknown status filter"}
	}
	return s.repo.List(ctx, f)
}

func (s *Coordinator) cacheOrder(ctx context.Context, o *Order) {
	cacheOrderSnapshot(ctx, s.cache, s.log, o)
}

func (s *Coordinator) cachedOrder(ctx context.Context, id string) *Order {
	return cachedOrderSnapshot(ctx, s.cache, id)
}

// cacheOrderSnapshot keeps the read path warm. Cache failures are logged
// and otherwise ignored; Postgres stays the source of truth.
func cacheOrderSnapshot(ctx context.Context, cache *redis.Client, log *zap.SugaredLogger, o *Order) {
	if cache == nil || o == nil {
		return
	}
	b, err := json.Marshal(o)
	if err != nil {
		return
	}
	key := fmt.Sprintf(redisx.KeyOrder, o.ID)
	if err := cache.Set(ctx, key, b, redisx.TTLOrderCache).Err(); err != nil {
		log.Debugw("order cache set failed", "orderId", o.ID, "error", err)
	}
}

func cachedOrderSnapshot(ctx context.Context, cache *redis.Client, id string) *Order {
	if cache == nil {
		return nil
	}
	b, err := cache.Get(ctx, fmt.Sprintf(redisx.KeyOrder, id)).Bytes()
	if err != nil {
		return nil
	}
	var o Order
	if err := json.Unmarshal(b, &o); err != nil {
		return nil
	}
	return &o
}

func eventRow(topic, eventType, producer, orderID string, payload any) (outbox.Row, error) {
	return outbox.RowFor(topic, eventType, producer, orderID, payload)
}

func strptr(s string) *string { return &s }
