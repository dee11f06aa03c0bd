package orders

import (
	"context"
	"sort"
	"sync"
	"time"

	"ordercore/internal/outbox"
)

// MemRepo keeps orders in memory with the same contract as PGRepo,
// including the idempotency-key uniqueness and the outbox coupling.
// It backs tests and local runs without Postgres.
type MemRepo struct {
	mu     sync.Mutex
	orders map[string]*Order
	byKey  map[string]string // idempotency key -> order id
	Outbox *outbox.MemStore
}

func NewMemRepo(ob *outbox.MemStore) *MemRepo {
	return &MemRepo{
		orders: make(map[string]*Order),
		byKey:  make(map[string]string),
		Outbox: ob,
	}
}

func (r *MemRepo) CreatePending(_ context.Context, o *Order, rows ...outbox.Row) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if o.IdempotencyKey != nil {
		if _, exists := r.byKey[*o.IdempotencyKey]; exists {
			return ErrDuplicateKey
		}
		r.byKey[*o.IdempotencyKey] = o.ID
	}
	now := time.Now()
	o.Status = StatusPending
	o.CreatedAt = now
	o.UpdatedAt = now

	cp := *o
	r.orders[o.ID] = &cp
	r.Outbox.Insert(rows...)
	return nil
}

func (r *MemRepo) GetByID(_ context.Context, id string) (*Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.orders[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *o
	return &cp, nil
}

func (r *MemRepo) GetByIdempotencyKey(_ context.Context, key string) (*Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.byKey[key]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *r.orders[id]
	return &cp, nil
}

func (r *MemRepo) List(_ context.Context, f ListFilter) ([]*Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}
	if limit > 200 {
		limit = 200
	}

	var out []*Order
	for _, o := range r.orders {
		if f.Status != "" && o.Status != f.Status {
			continue
		}
		cp := *o
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *MemRepo) Transition(_ context.Context, orderID string, target Status, allowedFrom []Status, opts TransitionOpts) (*Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	o, ok := r.orders[orderID]
	if !ok {
		return nil, ErrNotFound
	}
	if o.Status == target {
		cp := *o
		return &cp, nil
	}
	if !CanTransition(o.Status, target) || !statusIn(o.Status, allowedFrom) {
		cp := *o
		return &cp, ErrStale
	}

	if opts.ReservationID != nil {
		o.ReservationID = opts.ReservationID
	}
	if opts.ErrorMessage != nil {
		o.ErrorMessage = opts.ErrorMessage
	}
	o.Status = target
	now := time.Now()
	o.UpdatedAt = now
	if o.Terminal() {
		o.CompletedAt = &now
	}

	r.Outbox.Insert(opts.Outbox...)
	cp := *o
	return &cp, nil
}

var _ Repo = (*MemRepo)(nil)
