package inventory

import (
	"context"
	"fmt"

	"github.com/pkg/errors"

	"ordercore/internal/outbox"
)

var (
	ErrProductNotFound     = errors.New("product not found")
	ErrReservationNotFound = errors.New("reservation not found")
)

type ReserveCode string

const (
	ReserveConfirmed         ReserveCode = "confirmed"
	ReserveAlreadyExists     ReserveCode = "already_exists"
	ReserveInsufficientStock ReserveCode = "insufficient_stock"
	ReserveProductNotFound   ReserveCode = "product_not_found"
)

type ReserveParams struct {
	OrderID        string
	ProductID      string
	Quantity       int64
	IdempotencyKey string
}

type ReserveResult struct {
	Code           ReserveCode
	Reservation    *Reservation // set for confirmed and already_exists
	RemainingStock int64
	Message        string
}

type ReleaseResult struct {
	Released    bool
	NewStock    int64
	Message     string
	Reservation *Reservation
}

// EventsFunc builds the outbox rows that must commit together with a
// successful mutation. It runs inside the transaction, after the state
// change, with the post-change reservation and product.
type EventsFunc func(res *Reservation, prod *Product) ([]outbox.Row, error)

// Store is the custodian's durable state. Reserve and Release run their
// whole decision inside one transaction; domain failures roll back and
// report through the result, never through the error.
type Store interface {
	Reserve(ctx context.Context, p ReserveParams, onReserved EventsFunc) (*ReserveResult, error)
	Release(ctx context.Context, orderID, reservationID string, reason string, onReleased EventsFunc) (*ReleaseResult, error)
	FindActiveByOrder(ctx context.Context, orderID string) (*Reservation, error)
	GetProduct(ctx context.Context, productID string) (*Product, error)
	ListProducts(ctx context.Context) ([]*Product, error)
	AuditTrail(ctx context.Context, productID string, limit int) ([]*StockAudit, error)
	// AppendEvents durably queues events that are not tied to a state
	// change, such as verification outcomes.
	AppendEvents(ctx context.Context, rows ...outbox.Row) error
	Ping(ctx context.Context) error
}

func insufficientMsg(have, need int64) string {
	return fmt.Sprintf("Insufficient stock: have %d, need %d", have, need)
}

func notFoundMsg(productID string) string {
	return fmt.Sprintf("Product not found: %s", productID)
}
