package inventory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"ordercore/internal/outbox"
)

// MemStore mirrors PGStore behind one mutex, including the uniqueness
// rules the schema enforces (idempotency key, one active reservation per
// order) and the outbox coupling. Tests and local runs use it in place of
// Postgres.
type MemStore struct {
	mu            sync.Mutex
	products      map[string]*Product
	reservations  map[string]*Reservation
	byKey         map[string]string // idempotency key -> reservation id
	activeByOrder map[string]string // order id -> active reservation id
	audits        []*StockAudit
	nextAuditID   int64
	Outbox        *outbox.MemStore
}

func NewMemStore(ob *outbox.MemStore) *MemStore {
	return &MemStore{
		products:      make(map[string]*Product),
		reservations:  make(map[string]*Reservation),
		byKey:         make(map[string]string),
		activeByOrder: make(map[string]string),
		nextAuditID:   1,
		Outbox:        ob,
	}
}

// SeedProduct installs or replaces a product row.
func (s *MemStore) SeedProduct(p Product) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p.UpdatedAt = time.Now()
	cp := p
	s.products[p.ID] = &cp
}

func (s *MemStore) Reserve(_ context.Context, p ReserveParams, onReserved EventsFunc) (*ReserveResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if p.IdempotencyKey != "" {
		if id, ok := s.byKey[p.IdempotencyKey]; ok {
			existing := *s.reservations[id]
			var stock int64
			if prod, ok := s.products[existing.ProductID]; ok {
				stock = prod.Stock
			}
			return &ReserveResult{
				Code:           ReserveAlreadyExists,
				Reservation:    &existing,
				RemainingStock: stock,
				Message:        "reservation already exists",
			}, nil
		}
	}
	if id, ok := s.activeByOrder[p.OrderID]; ok {
		existing := *s.reservations[id]
		var stock int64
		if prod, ok := s.products[existing.ProductID]; ok {
			stock = prod.Stock
		}
		return &ReserveResult{
			Code:           ReserveAlreadyExists,
			Reservation:    &existing,
			RemainingStock: stock,
			Message:        "reservation already exists",
		}, nil
	}

	prod, ok := s.products[p.ProductID]
	if !ok {
		return &ReserveResult{Code: ReserveProductNotFound, Message: notFoundMsg(p.ProductID)}, nil
	}
	if prod.Stock < p.Quantity {
		return &ReserveResult{
			Code:           ReserveInsufficientStock,
			RemainingStock: prod.Stock,
			Message:        insufficientMsg(prod.Stock, p.Quantity),
		}, nil
	}

	previous := prod.Stock
	prod.Stock -= p.Quantity
	prod.UpdatedAt = time.Now()

	res := &Reservation{
		ID:             uuid.NewString(),
		OrderID:        p.OrderID,
		ProductID:      p.ProductID,
		Quantity:       p.Quantity,
		Status:         ReservationActive,
		IdempotencyKey: p.IdempotencyKey,
		CreatedAt:      time.Now(),
	}
	s.reservations[res.ID] = res
	s.activeByOrder[p.OrderID] = res.ID
	if p.IdempotencyKey != "" {
		s.byKey[p.IdempotencyKey] = res.ID
	}
	s.appendAudit(p.ProductID, previous, prod.Stock, -p.Quantity, "reserve", p.OrderID, res.ID, "stock reserved")

	if onReserved != nil {
		after := *prod
		cp := *res
		rows, err := onReserved(&cp, &after)
		if err != nil {
			return nil, err
		}
		s.Outbox.Insert(rows...)
	}

	cp := *res
	return &ReserveResult{Code: ReserveConfirmed, Reservation: &cp, RemainingStock: prod.Stock}, nil
}

func (s *MemStore) Release(_ context.Context, orderID, reservationID, reason string, onReleased EventsFunc) (*ReleaseResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, ok := s.reservations[reservationID]
	if !ok || res.OrderID != orderID {
		return &ReleaseResult{Released: false, Message: "reservation not found"}, nil
	}
	if res.Status != ReservationActive {
		cp := *res
		return &ReleaseResult{
			Released:    false,
			Message:     fmt.Sprintf("reservation already %s", res.Status),
			Reservation: &cp,
		}, nil
	}

	prod, ok := s.products[res.ProductID]
	if !ok {
		return nil, ErrProductNotFound
	}
	previous := prod.Stock
	prod.Stock += res.Quantity
	prod.UpdatedAt = time.Now()

	now := time.Now()
	res.Status = ReservationReleased
	res.ReleasedAt = &now
	delete(s.activeByOrder, orderID)
	s.appendAudit(res.ProductID, previous, prod.Stock, res.Quantity, "release", orderID, res.ID, reason)

	if onReleased != nil {
		after := *prod
		cp := *res
		rows, err := onReleased(&cp, &after)
		if err != nil {
			return nil, err
		}
		s.Outbox.Insert(rows...)
	}

	cp := *res
	return &ReleaseResult{Released: true, NewStock: prod.Stock, Reservation: &cp}, nil
}

func (s *MemStore) FindActiveByOrder(_ context.Context, orderID string) (*Reservation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.activeByOrder[orderID]
	if !ok {
		return nil, ErrReservationNotFound
	}
	cp := *s.reservations[id]
	return &cp, nil
}

func (s *MemStore) GetProduct(_ context.Context, productID string) (*Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.products[productID]
	if !ok {
		return nil, ErrProductNotFound
	}
	cp := *p
	return &cp, nil
}

func (s *MemStore) ListProducts(_ context.Context) ([]*Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Product, 0, len(s.products))
	for _, p := range s.products {
		cp := *p
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemStore) AuditTrail(_ context.Context, productID string, limit int) ([]*StockAudit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if limit <= 0 {
		limit = 50
	}
	var out []*StockAudit
	for i := len(s.audits) - 1; i >= 0 && len(out) < limit; i-- {
		if s.audits[i].ProductID == productID {
			cp := *s.audits[i]
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *MemStore) AppendEvents(_ context.Context, rows ...outbox.Row) error {
	s.Outbox.Insert(rows...)
	return nil
}

func (s *MemStore) Ping(context.Context) error { return nil }

func (s *MemStore) appendAudit(productID string, previous, current, change int64, op, orderID, reservationID, reason string) {
	s.audits = append(s.audits, &StockAudit{
		ID:             s.nextAuditID,
		ProductID:      productID,
		PreviousStock:  previous,
		NewStock:       current,
		QuantityChange: change,
		Operation:      op,
		OrderID:        orderID,
		ReservationID:  reservationID,
		Reason:         reason,
		CreatedAt:      time.Now(),
	})
	s.nextAuditID++
}

var _ Store = (*MemStore)(nil)
