package orders

import (
	"context"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"ordercore/internal/bus"
	"ordercore/internal/events"
	"ordercore/internal/metrics"
	"ordercore/internal/outbox"
)

// Consumer applies inventory and verification events to order state. Every
// transition goes through the same guarded repo call as the synchronous
// reply path, so the two paths can race without double effects.
//
// Returning nil acks the message. Only infrastructure errors (DB down)
// return non-nil and trigger redelivery; malformed, orphan and stale
// messages are acked so they cannot block the stream.
type Consumer struct {
	repo     Repo
	cache    *redis.Client
	metrics  *metrics.Metrics
	log      *zap.SugaredLogger
	producer string
}

func NewConsumer(repo Repo, cache *redis.Client, m *metrics.Metrics, log *zap.SugaredLogger, producer string) *Consumer {
	return &Consumer{repo: repo, cache: cache, metrics: m, log: log, producer: producer}
}

func (c *Consumer) Handle(ctx context.Context, m bus.Message) error {
	env, err := events.Unmarshal(m.Value)
	if err != nil {
		c.log.Warnw("dropping undecodable message", "topic", m.Topic, "error", err)
		return nil
	}
	payload, err := events.Decode(env)
	if err != nil {
		if errors.Is(err, events.ErrUnknownEventType) {
			c.log.Infow("ignoring unknown event type", "eventType", env.EventType, "eventId", env.EventID)
		} else {
			c.log.Warnw("dropping malformed event payload", "eventType", env.EventType, "eventId", env.EventID, "error", err)
		}
		c.count(env.EventType, "dropped")
		return nil
	}

	switch p := payload.(type) {
	case events.StockReserved:
		return c.onStockReserved(ctx, env, p)
	case events.StockReleased:
		c.log.Infow("stock released", "orderId", p.OrderID, "productId", p.ProductID, "newStock", p.NewStock)
		c.count(env.EventType, "applied")
		return nil
	case events.OrderVerified:
		verified := p.Status == "confirmed"
		return c.onVerification(ctx, env, p.OrderID, verified, p.ReservationID, p.Reason)
	case events.VerificationComplete:
		return c.onVerification(ctx, env, p.OrderID, p.Verified, p.ReservationID, p.Reason)
	case events.LowStockAlert:
		c.log.Warnw("low stock alert", "productId", p.ProductID, "stock", p.Stock, "threshold", p.Threshold)
		c.count(env.EventType, "applied")
		return nil
	default:
		c.log.Debugw("event not handled by order service", "eventType", env.EventType)
		c.count(env.EventType, "skipped")
		return nil
	}
}

func (c *Consumer) onStockReserved(ctx context.Context, env events.Envelope, p events.StockReserved) error {
	row, err := eventRow(events.TopicOrderEvents, events.TypeOrderConfirmed, c.producer, p.OrderID, events.OrderConfirmed{
		OrderID:       p.OrderID,
		ReservationID: p.ReservationID,
	})
	if err != nil {
		return err
	}
	updated, err := c.repo.Transition(ctx, p.OrderID, StatusConfirmed,
		[]Status{StatusPending, StatusPendingVerification},
		TransitionOpts{ReservationID: &p.ReservationID, Outbox: []outbox.Row{row}})
	return c.settle(ctx, env, updated, err, "confirmed by StockReserved")
}

func (c *Consumer) onVerification(ctx context.Context, env events.Envelope, orderID string, verified bool, reservationID, reason string) error {
	if verified {
		row, err := eventRow(events.TopicOrderEvents, events.TypeOrderConfirmed, c.producer, orderID, events.OrderConfirmed{
			OrderID:       orderID,
			ReservationID: reservationID,
		})
		if err != nil {
			return err
		}
		opts := TransitionOpts{Outbox: []outbox.Row{row}}
		if reservationID != "" {
			opts.ReservationID = &reservationID
		}
		updated, err := c.repo.Transition(ctx, orderID, StatusConfirmed,
			[]Status{StatusPendingVerification}, opts)
		return c.settle(ctx, env, updated, err, "confirmed by verification")
	}

	if reason == "" {
		reason = "verification could not reserve stock"
	}
	row, err := eventRow(events.TopicOrderEvents, events.TypeOrderFailed, c.producer, orderID, events.OrderFailed{
		OrderID: orderID,
		Reason:  reason,
	})
	if err != nil {
		return err
	}
	updated, err := c.repo.Transition(ctx, orderID, StatusFailed,
		[]Status{StatusPendingVerification},
		TransitionOpts{ErrorMessage: &reason, Outbox: []outbox.Row{row}})
	return c.settle(ctx, env, updated, err, "failed by verification")
}

// settle translates a transition result into ack/nack: orphans and stale
// transitions ack, infrastructure errors nack for redelivery.
func (c *Consumer) settle(ctx context.Context, env events.Envelope, updated *Order, err error, what string) error {
	switch {
	case err == nil:
		c.count(env.EventType, "applied")
		c.cacheOrder(ctx, updated)
		c.log.Infow("order transitioned", "orderId", updated.ID, "status", updated.Status, "via", what, "eventId", env.EventID)
		return nil
	case errors.Is(err, ErrNotFound):
		c.count(env.EventType, "orphan")
		c.log.Warnw("event references unknown order", "eventType", env.EventType, "eventId", env.EventID)
		return nil
	case errors.Is(err, ErrStale):
		c.count(env.EventType, "skipped")
		c.log.Infow("event skipped, order already settled", "orderId", updated.ID, "status", updated.Status, "eventType", env.EventType)
		return nil
	default:
		c.count(env.EventType, "error")
		return err
	}
}

func (c *Consumer) count(eventType, result string) {
	c.metrics.EventsConsumed.WithLabelValues(eventType, result).Inc()
}

func (c *Consumer) cacheOrder(ctx context.Context, o *Order) {
	cacheOrderSnapshot(ctx, c.cache, c.log, o)
}
