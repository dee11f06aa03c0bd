package inventory

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"ordercore/internal/bus"
	"ordercore/internal/events"
	"ordercore/internal/metrics"
	"ordercore/internal/outbox"
	"ordercore/internal/redisx"
)

// Service wraps the store with event emission, the stock cache and
// counters. All events ride the store's outbox: StockReserved and
// LowStockAlert commit with the reservation, StockReleased with the
// release, and verification outcomes are appended durably before ack.
type Service struct {
	store    Store
	cache    *redis.Client
	metrics  *metrics.Metrics
	log      *zap.SugaredLogger
	producer string
}

func NewService(store Store, cache *redis.Client, m *metrics.Metrics, log *zap.SugaredLogger, producer string) *Service {
	return &Service{store: store, cache: cache, metrics: m, log: log, producer: producer}
}

func (s *Service) Reserve(ctx context.Context, p ReserveParams) (*ReserveResult, error) {
	var after *Product
	result, err := s.store.Reserve(ctx, p, func(res *Reservation, prod *Product) ([]outbox.Row, error) {
		after = prod
		rows := make([]outbox.Row, 0, 2)
		reserved, err := outbox.RowFor(events.TopicInventoryEvents, events.TypeStockReserved, s.producer, res.OrderID, events.StockReserved{
			OrderID:        res.OrderID,
			ReservationID:  res.ID,
			ProductID:      res.ProductID,
			Quantity:       res.Quantity,
			RemainingStock: prod.Stock,
		})
		if err != nil {
			return nil, err
		}
		rows = append(rows, reserved)

		if prod.Stock <= prod.LowStockThreshold {
			alert, err := outbox.RowFor(events.TopicInventoryEvents, events.TypeLowStockAlert, s.producer, res.OrderID, events.LowStockAlert{
				ProductID: prod.ID,
				Name:      prod.Name,
				Stock:     prod.Stock,
				Threshold: prod.LowStockThreshold,
			})
			if err != nil {
				return nil, err
			}
			rows = append(rows, alert)
		}
		return rows, nil
	})
	if err != nil {
		s.metrics.Reservations.WithLabelValues("error").Inc()
		return nil, err
	}

	s.metrics.Reservations.WithLabelValues(string(result.Code)).Inc()
	switch result.Code {
	case ReserveConfirmed:
		s.cacheProduct(ctx, after)
		s.metrics.StockLevel.WithLabelValues(after.ID).Set(float64(after.Stock))
		s.log.Infow("stock reserved", "orderId", p.OrderID, "productId", p.ProductID,
			"quantity", p.Quantity, "remaining", result.RemainingStock, "reservationId", result.Reservation.ID)
	case ReserveAlreadyExists:
		s.log.Infow("reserve replayed", "orderId", p.OrderID, "reservationId", result.Reservation.ID)
	default:
		s.log.Infow("reserve rejected", "orderId", p.OrderID, "productId", p.ProductID, "reason", result.Message)
	}
	return result, nil
}

func (s *Service) Release(ctx context.Context, orderID, reservationID, reason string) (*ReleaseResult, error) {
	var after *Product
	result, err := s.store.Release(ctx, orderID, reservationID, reason, func(res *Reservation, prod *Product) ([]outbox.Row, error) {
		after = prod
		row, err := outbox.RowFor(events.TopicInventoryEvents, events.TypeStockReleased, s.producer, res.OrderID, events.StockReleased{
			OrderID:       res.OrderID,
			ReservationID: res.ID,
			ProductID:     res.ProductID,
			Quantity:      res.Quantity,
			NewStock:      prod.Stock,
			Reason:        reason,
		})
		if err != nil {
			return nil, err
		}
		return []outbox.Row{row}, nil
	})
	if err != nil {
		s.metrics.Releases.WithLabelValues("error").Inc()
		return nil, err
	}

	if result.Released {
		s.metrics.Releases.WithLabelValues("released").Inc()
		s.cacheProduct(ctx, after)
		s.metrics.StockLevel.WithLabelValues(after.ID).Set(float64(after.Stock))
		s.log.Infow("stock released", "orderId", orderID, "reservationId", reservationID,
			"newStock", result.NewStock, "reason", reason)
	} else {
		s.metrics.Releases.WithLabelValues("rejected").Inc()
		s.log.Warnw("release rejected", "orderId", orderID, "reservationId", reservationID, "message", result.Message)
	}
	return result, nil
}

// CheckStock reads through the product cache.
func (s *Service) CheckStock(ctx context.Context, productID string) (*Product, error) {
	if p := s.cachedProduct(ctx, productID); p != nil {
		return p, nil
	}
	p, err := s.store.GetProduct(ctx, productID)
	if err != nil {
		return nil, err
	}
	s.cacheProduct(ctx, p)
	return p, nil
}

func (s *Service) Products(ctx context.Context) ([]*Product, error) {
	return s.store.ListProducts(ctx)
}

func (s *Service) Audit(ctx context.Context, productID string, limit int) ([]*StockAudit, error) {
	return s.store.AuditTrail(ctx, productID, limit)
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// HandleVerifyOrder closes the recovery loop for orders parked in
// pending_verification. Idempotent under redelivery: the finder sees any
// reservation from a previous attempt, and the reserve fallback carries a
// derived idempotency key. Outcome events are queued durably before the
// message is acked; infrastructure errors nack for redelivery.
func (s *Service) HandleVerifyOrder(ctx context.Context, m bus.Message) error {
	env, err := events.Unmarshal(m.Value)
	if err != nil {
		s.log.Warnw("dropping undecodable verify message", "error", err)
		return nil
	}
	payload, err := events.Decode(env)
	if err != nil {
		s.log.Warnw("dropping malformed verify message", "eventId", env.EventID, "error", err)
		s.metrics.VerifyHandled.WithLabelValues("dropped").Inc()
		return nil
	}
	vo, ok := payload.(events.VerifyOrder)
	if !ok {
		s.log.Warnw("unexpected event type on verify queue", "eventType", env.EventType)
		s.metrics.VerifyHandled.WithLabelValues("dropped").Inc()
		return nil
	}
	s.log.Infow("verifying order", "orderId", vo.OrderID, "requestedAt", vo.OriginalRequestTime)

	existing, err := s.store.FindActiveByOrder(ctx, vo.OrderID)
	if err == nil {
		// the original call committed before its reply was lost
		return s.publishVerified(ctx, events.OrderVerified{
			OrderID:            vo.OrderID,
			Status:             "confirmed",
			ReservationID:      existing.ID,
			RecoveredFromCrash: true,
		}, "recovered")
	}
	if !errors.Is(err, ErrReservationNotFound) {
		s.metrics.VerifyHandled.WithLabelValues("error").Inc()
		return err
	}

	result, err := s.Reserve(ctx, ReserveParams{
		OrderID:        vo.OrderID,
		ProductID:      vo.ProductID,
		Quantity:       vo.Quantity,
		IdempotencyKey: "verify-" + vo.IdempotencyKey,
	})
	if err != nil {
		s.metrics.VerifyHandled.WithLabelValues("error").Inc()
		return err
	}

	switch result.Code {
	case ReserveConfirmed:
		return s.publishVerified(ctx, events.OrderVerified{
			OrderID:            vo.OrderID,
			Status:             "confirmed",
			ReservationID:      result.Reservation.ID,
			RecoveredFromCrash: false,
		}, "reserved")
	case ReserveAlreadyExists:
		return s.publishVerified(ctx, events.OrderVerified{
			OrderID:            vo.OrderID,
			Status:             "confirmed",
			ReservationID:      result.Reservation.ID,
			RecoveredFromCrash: true,
		}, "recovered")
	default:
		return s.publishVerified(ctx, events.OrderVerified{
			OrderID:            vo.OrderID,
			Status:             "not_found",
			RecoveredFromCrash: false,
			Reason:             result.Message,
		}, "not_found")
	}
}

func (s *Service) publishVerified(ctx context.Context, v events.OrderVerified, metric string) error {
	row, err := outbox.RowFor(events.TopicInventoryEvents, events.TypeOrderVerified, s.producer, v.OrderID, v)
	if err != nil {
		return err
	}
	if err := s.store.AppendEvents(ctx, row); err != nil {
		s.metrics.VerifyHandled.WithLabelValues("error").Inc()
		return err
	}
	s.metrics.VerifyHandled.WithLabelValues(metric).Inc()
	s.log.Infow("order verified", "orderId", v.OrderID, "status", v.Status,
		"recoveredFromCrash", v.RecoveredFromCrash, "reservationId", v.ReservationID)
	return nil
}

func (s *Service) cacheProduct(ctx context.Context, p *Product) {
	if s.cache == nil || p == nil {
		return
	}
	b, err := json.Marshal(p)
	if err != nil {
		return
	}
	key := fmt.Sprintf(redisx.KeyStock, p.ID)
	if err := s.cache.Set(ctx, key, b, redisx.TTLStockCache).Err(); err != nil {
		s.log.Debugw("stock cache set failed", "productId", p.ID, "error", err)
	}
}

func (s *Service) cachedProduct(ctx context.Context, productID string) *Product {
	if s.cache == nil {
		return nil
	}
	b, err := s.cache.Get(ctx, fmt.Sprintf(redisx.KeyStock, productID)).Bytes()
	if err != nil {
		return nil
	}
	var p Product
	if err := json.Unmarshal(b, &p); err != nil {
		return nil
	}
	return &p
}
