package inventory

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"

	"ordercore/internal/outbox"
)

type PGStore struct{ DB *pgxpool.Pool }

func NewPGStore(db *pgxpool.Pool) *PGStore { return &PGStore{DB: db} }

const reservationColumns = `id, order_id, product_id, quantity, status,
	COALESCE(idempotency_key, ''), created_at, released_at`

func scanReservation(row pgx.Row) (*Reservation, error) {
	var r Reservation
	err := row.Scan(&r.ID, &r.OrderID, &r.ProductID, &r.Quantity, &r.Status,
		&r.IdempotencyKey, &r.CreatedAt, &r.ReleasedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrReservationNotFound
		}
		return nil, errors.Wrap(err, "scan reservation")
	}
	return &r, nil
}

func scanProduct(row pgx.Row) (*Product, error) {
	var p Product
	err := row.Scan(&p.ID, &p.Name, &p.Stock, &p.LowStockThreshold, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrProductNotFound
		}
		return nil, errors.Wrap(err, "scan product")
	}
	return &p, nil
}

// retryableTx matches serialization failures and deadlocks, which a
// serializable transaction is expected to hit under contention.
func retryableTx(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "40001" || pgErr.Code == "40P01"
	}
	return false
}

func uniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// Reserve runs the reservation protocol in one serializable transaction
// and retries once when the database aborts it as a serialization victim.
func (s *PGStore) Reserve(ctx context.Context, p ReserveParams, onReserved EventsFunc) (*ReserveResult, error) {
	res, err := s.reserveOnce(ctx, p, onReserved)
	if err != nil && retryableTx(err) {
		return s.reserveOnce(ctx, p, onReserved)
	}
	return res, err
}

func (s *PGStore) reserveOnce(ctx context.Context, p ReserveParams, onReserved EventsFunc) (*ReserveResult, error) {
	tx, err := s.DB.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return nil, errors.Wrap(err, "begin reserve")
	}
	defer tx.Rollback(ctx)

	// idempotency short-circuit: same key means same reservation
	if p.IdempotencyKey != "" {
		existing, err := scanReservation(tx.QueryRow(ctx,
			`SELECT `+reservationColumns+` FROM reservations WHERE idempotency_key = $1`,
			p.IdempotencyKey))
		if err == nil {
			var stock int64
			if err := tx.QueryRow(ctx,
				`SELECT stock FROM products WHERE product_id = $1`, existing.ProductID,
			).Scan(&stock); err != nil {
				return nil, errors.Wrap(err, "read stock for replay")
			}
			if err := tx.Commit(ctx); err != nil {
				return nil, errors.Wrap(err, "commit replay")
			}
			return &ReserveResult{
				Code:           ReserveAlreadyExists,
				Reservation:    existing,
				RemainingStock: stock,
				Message:        "reservation already exists",
			}, nil
		}
		if !errors.Is(err, ErrReservationNotFound) {
			return nil, err
		}
	}

	prod, err := scanProduct(tx.QueryRow(ctx,
		`SELECT product_id, name, stock, low_stock_threshold, updated_at
		 FROM products WHERE product_id = $1 FOR UPDATE`, p.ProductID))
	if err != nil {
		if errors.Is(err, ErrProductNotFound) {
			return &ReserveResult{Code: ReserveProductNotFound, Message: notFoundMsg(p.ProductID)}, nil
		}
		return nil, err
	}

	if prod.Stock < p.Quantity {
		return &ReserveResult{
			Code:           ReserveInsufficientStock,
			RemainingStock: prod.Stock,
			Message:        insufficientMsg(prod.Stock, p.Quantity),
		}, nil
	}

	newStock := prod.Stock - p.Quantity
	if _, err := tx.Exec(ctx,
		`UPDATE products SET stock = stock - $2, updated_at = now() WHERE product_id = $1`,
		p.ProductID, p.Quantity); err != nil {
		return nil, errors.Wrap(err, "deduct stock")
	}

	res := &Reservation{
		ID:             uuid.NewString(),
		OrderID:        p.OrderID,
		ProductID:      p.ProductID,
		Quantity:       p.Quantity,
		Status:         ReservationActive,
		IdempotencyKey: p.IdempotencyKey,
	}
	err = tx.QueryRow(ctx,
		`INSERT INTO reservations (id, order_id, product_id, quantity, status, idempotency_key)
		 VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''))
		 RETURNING created_at`,
		res.ID, res.OrderID, res.ProductID, res.Quantity, res.Status, res.IdempotencyKey,
	).Scan(&res.CreatedAt)
	if err != nil {
		if uniqueViolation(err) {
			// lost the race on idempotency_key or the one-active-per-order
			// index; the surviving row is the reservation
			return s.replayAfterConflict(ctx, p)
		}
		return nil, errors.Wrap(err, "insert reservation")
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO stock_audit (product_id, previous_stock, new_stock, quantity_change,
		                          operation, order_id, reservation_id, reason)
		 VALUES ($1, $2, $3, $4, 'reserve', $5, $6, $7)`,
		p.ProductID, prod.Stock, newStock, -p.Quantity, p.OrderID, res.ID, "stock reserved",
	); err != nil {
		return nil, errors.Wrap(err, "insert audit row")
	}

	after := *prod
	after.Stock = newStock
	if onReserved != nil {
		rows, err := onReserved(res, &after)
		if err != nil {
			return nil, err
		}
		if err := outbox.Insert(ctx, tx, rows...); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, errors.Wrap(err, "commit reserve")
	}
	return &ReserveResult{Code: ReserveConfirmed, Reservation: res, RemainingStock: newStock}, nil
}

// replayAfterConflict re-reads the reservation that won a unique-index
// race. Runs outside the aborted transaction.
func (s *PGStore) replayAfterConflict(ctx context.Context, p ReserveParams) (*ReserveResult, error) {
	var existing *Reservation
	var err error
	if p.IdempotencyKey != "" {
		existing, err = scanReservation(s.DB.QueryRow(ctx,
			`SELECT `+reservationColumns+` FROM reservations WHERE idempotency_key = $1`,
			p.IdempotencyKey))
	}
	if existing == nil {
		existing, err = s.FindActiveByOrder(ctx, p.OrderID)
	}
	if err != nil {
		return nil, errors.Wrap(err, "reread reservation after conflict")
	}
	var stock int64
	if err := s.DB.QueryRow(ctx,
		`SELECT stock FROM products WHERE product_id = $1`, existing.ProductID,
	).Scan(&stock); err != nil {
		return nil, errors.Wrap(err, "read stock after conflict")
	}
	return &ReserveResult{
		Code:           ReserveAlreadyExists,
		Reservation:    existing,
		RemainingStock: stock,
		Message:        "reservation already exists",
	}, nil
}

func (s *PGStore) Release(ctx context.Context, orderID, reservationID, reason string, onReleased EventsFunc) (*ReleaseResult, error) {
	res, err := s.releaseOnce(ctx, orderID, reservationID, reason, onReleased)
	if err != nil && retryableTx(err) {
		return s.releaseOnce(ctx, orderID, reservationID, reason, onReleased)
	}
	return res, err
}

func (s *PGStore) releaseOnce(ctx context.Context, orderID, reservationID, reason string, onReleased EventsFunc) (*ReleaseResult, error) {
	tx, err := s.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, errors.Wrap(err, "begin release")
	}
	defer tx.Rollback(ctx)

	res, err := scanReservation(tx.QueryRow(ctx,
		`SELECT `+reservationColumns+` FROM reservations
		 WHERE id = $1 AND order_id = $2 FOR UPDATE`, reservationID, orderID))
	if err != nil {
		if errors.Is(err, ErrReservationNotFound) {
			return &ReleaseResult{Released: false, Message: "reservation not found"}, nil
		}
		return nil, err
	}
	if res.Status != ReservationActive {
		return &ReleaseResult{
			Released:    false,
			Message:     fmt.Sprintf("reservation already %s", res.Status),
			Reservation: res,
		}, nil
	}

	prod, err := scanProduct(tx.QueryRow(ctx,
		`SELECT product_id, name, stock, low_stock_threshold, updated_at
		 FROM products WHERE product_id = $1 FOR UPDATE`, res.ProductID))
	if err != nil {
		return nil, err
	}

	newStock := prod.Stock + res.Quantity
	if _, err := tx.Exec(ctx,
		`UPDATE products SET stock = stock + $2, updated_at = now() WHERE product_id = $1`,
		res.ProductID, res.Quantity); err != nil {
		return nil, errors.Wrap(err, "restore stock")
	}
	if _, err := tx.Exec(ctx,
		`UPDATE reservations SET status = $2, released_at = now() WHERE id = $1`,
		res.ID, ReservationReleased); err != nil {
		return nil, errors.Wrap(err, "mark reservation released")
	}
	if _, err := tx.Exec(ctx,
		`INSERT INTO stock_audit (product_id, previous_stock, new_stock, quantity_change,
		                          operation, order_id, reservation_id, reason)
		 VALUES ($1, $2, $3, $4, 'release', $5, $6, $7)`,
		res.ProductID, prod.Stock, newStock, res.Quantity, orderID, res.ID, reason,
	); err != nil {
		return nil, errors.Wrap(err, "insert audit row")
	}

	res.Status = ReservationReleased
	after := *prod
	after.Stock = newStock
	if onReleased != nil {
		rows, err := onReleased(res, &after)
		if err != nil {
			return nil, err
		}
		if err := outbox.Insert(ctx, tx, rows...); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, errors.Wrap(err, "commit release")
	}
	return &ReleaseResult{Released: true, NewStock: newStock, Reservation: res}, nil
}

func (s *PGStore) FindActiveByOrder(ctx context.Context, orderID string) (*Reservation, error) {
	return scanReservation(s.DB.QueryRow(ctx,
		`SELECT `+reservationColumns+` FROM reservations
		 WHERE order_id = $1 AND status = 'active'`, orderID))
}

func (s *PGStore) GetProduct(ctx context.Context, productID string) (*Product, error) {
	return scanProduct(s.DB.QueryRow(ctx,
		`SELECT product_id, name, stock, low_stock_threshold, updated_at
		 FROM products WHERE product_id = $1`, productID))
}

func (s *PGStore) ListProducts(ctx context.Context) ([]*Product, error) {
	rows, err := s.DB.Query(ctx,
		`SELECT product_id, name, stock, low_stock_threshold, updated_at
		 FROM products ORDER BY product_id`)
	if err != nil {
		return nil, errors.Wrap(err, "list products")
	}
	defer rows.Close()

	var out []*Product
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *PGStore) AuditTrail(ctx context.Context, productID string, limit int) ([]*StockAudit, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.DB.Query(ctx,
		`SELECT id, product_id, previous_stock, new_stock, quantity_change,
		        operation, COALESCE(order_id, ''), COALESCE(reservation_id, ''),
		        COALESCE(reason, ''), created_at
		 FROM stock_audit WHERE product_id = $1 ORDER BY id DESC LIMIT $2`,
		productID, limit)
	if err != nil {
		return nil, errors.Wrap(err, "audit trail")
	}
	defer rows.Close()

	var out []*StockAudit
	for rows.Next() {
		var a StockAudit
		if err := rows.Scan(&a.ID, &a.ProductID, &a.PreviousStock, &a.NewStock,
			&a.QuantityChange, &a.Operation, &a.OrderID, &a.ReservationID,
			&a.Reason, &a.CreatedAt); err != nil {
			return nil, errors.Wrap(err, "scan audit row")
		}
		out = append(out, &a)
	}
	return out, rows.Err()
}

func (s *PGStore) AppendEvents(ctx context.Context, rows ...outbox.Row) error {
	return outbox.Insert(ctx, s.DB, rows...)
}

func (s *PGStore) Ping(ctx context.Context) error {
	return s.DB.Ping(ctx)
}

var _ Store = (*PGStore)(nil)
