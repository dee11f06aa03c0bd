package orders

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"

	"ordercore/internal/outbox"
)

var (
	ErrNotFound = errors.New("order not found")
	// ErrStale means the order was not in any of the states the transition
	// allows. Consumers treat it as already-handled and ack.
	ErrStale = errors.New("order not in an allowed state for transition")
	// ErrDuplicateKey means another request with the same idempotency key
	// committed first. The caller re-reads by key.
	ErrDuplicateKey = errors.New("idempotency key already used")
)

type ListFilter struct {
	Status Status
	Limit  int
}

// TransitionOpts carries the column updates and events that ride along
// with a status change, all in one transaction.
type TransitionOpts struct {
	ReservationID *string
	ErrorMessage  *string
	Outbox        []outbox.Row
}

type Repo interface {
	CreatePending(ctx context.Context, o *Order, rows ...outbox.Row) error
	GetByID(ctx context.Context, id string) (*Order, error)
	GetByIdempotencyKey(ctx context.Context, key string) (*Order, error)
	List(ctx context.Context, f ListFilter) ([]*Order, error)
	Transition(ctx context.Context, orderID string, target Status, allowedFrom []Status, opts TransitionOpts) (*Order, error)
}

type PGRepo struct{ DB *pgxpool.Pool }

func NewPGRepo(db *pgxpool.Pool) *PGRepo { return &PGRepo{DB: db} }

const orderColumns = `id, customer_id, product_id, quantity, status, idempotency_key,
	reservation_id, error_message, created_at, updated_at, completed_at`

func scanOrder(row pgx.Row) (*Order, error) {
	var o Order
	err := row.Scan(&o.ID, &o.CustomerID, &o.ProductID, &o.Quantity, &o.Status,
		&o.IdempotencyKey, &o.ReservationID, &o.ErrorMessage,
		&o.CreatedAt, &o.UpdatedAt, &o.CompletedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, errors.Wrap(err, "scan order")
	}
	return &o, nil
}

// CreatePending inserts the order in status pending together with its
// creation event. A concurrent insert with the same idempotency key loses
// the race on the partial unique index and gets ErrDuplicateKey.
func (r *PGRepo) CreatePending(ctx context.Context, o *Order, rows ...outbox.Row) error {
	tx, err := r.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return errors.Wrap(err, "begin create order")
	}
	defer tx.Rollback(ctx)

	err = tx.QueryRow(ctx, `
		INSERT INTO orders (id, customer_id, product_id, quantity, status, idempotency_key)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at, updated_at`,
		o.ID, o.CustomerID, o.ProductID, o.Quantity, StatusPending, o.IdempotencyKey,
	).Scan(&o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrDuplicateKey
		}
		return errors.Wrap(err, "insert order")
	}
	o.Status = StatusPending

	if err := outbox.Insert(ctx, tx, rows...); err != nil {
		return err
	}
	return errors.Wrap(tx.Commit(ctx), "commit create order")
}

func (r *PGRepo) GetByID(ctx context.Context, id string) (*Order, error) {
	return scanOrder(r.DB.QueryRow(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE id = $1`, id))
}

func (r *PGRepo) GetByIdempotencyKey(ctx context.Context, key string) (*Order, error) {
	return scanOrder(r.DB.QueryRow(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE idempotency_key = $1`, key))
}

func (r *PGRepo) List(ctx context.Context, f ListFilter) ([]*Order, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}
	if limit > 200 {
		limit = 200
	}

	var (
		rows pgx.Rows
		err  error
	)
	if f.Status != "" {
		rows, err = r.DB.Query(ctx,
			`SELECT `+orderColumns+` FROM orders WHERE status = $1 ORDER BY created_at DESC LIMIT $2`,
			f.Status, limit)
	} else {
		rows, err = r.DB.Query(ctx,
			`SELECT `+orderColumns+` FROM orders ORDER BY created_at DESC LIMIT $1`,
			limit)
	}
	if err != nil {
		return nil, errors.Wrap(err, "list orders")
	}
	defer rows.Close()

	var out []*Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

// Transition locks the order, checks it is in one of allowedFrom, applies
// the target status plus column updates, and writes opts.Outbox in the
// same transaction. If the order already carries the target status the
// call is a no-op and returns the order unchanged.
func (r *PGRepo) Transition(ctx context.Context, orderID string, target Status, allowedFrom []Status, opts TransitionOpts) (*Order, error) {
	tx, err := r.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, errors.Wrap(err, "begin transition")
	}
	defer tx.Rollback(ctx)

	o, err := scanOrder(tx.QueryRow(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE id = $1 FOR UPDATE`, orderID))
	if err != nil {
		return nil, err
	}

	if o.Status == target {
		return o, nil // redelivered event, already applied
	}
	if !CanTransition(o.Status, target) || !statusIn(o.Status, allowedFrom) {
		return o, ErrStale
	}

	if opts.ReservationID != nil {
		o.ReservationID = opts.ReservationID
	}
	if opts.ErrorMessage != nil {
		o.ErrorMessage = opts.ErrorMessage
	}
	o.Status = target

	err = tx.QueryRow(ctx, `
		UPDATE orders
		SET status = $2,
		    reservation_id = COALESCE($3, reservation_id),
		    error_message  = COALESCE($4, error_message),
		    updated_at     = now(),
		    completed_at   = CASE WHEN $5 THEN now() ELSE completed_at END
		WHERE id = $1
		RETURNING updated_at, completed_at`,
		orderID, target, opts.ReservationID, opts.ErrorMessage, o.Terminal(),
	).Scan(&o.UpdatedAt, &o.CompletedAt)
	if err != nil {
		return nil, errors.Wrap(err, "update order status")
	}

	if err := outbox.Insert(ctx, tx, opts.Outbox...); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, errors.Wrap(err, "commit transition")
	}
	return o, nil
}

func statusIn(s Status, in []Status) bool {
	for _, x := range in {
		if s == x {
			return true
		}
	}
	return false
}

var _ Repo = (*PGRepo)(nil)
