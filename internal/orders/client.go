package orders

import (
	"context"

	"github.com/pkg/errors"
)

// ReserveOutcome is the custodian's definitive answer to a reserve call.
type ReserveOutcome string

const (
	OutcomeConfirmed         ReserveOutcome = "confirmed"
	OutcomeAlreadyReserved   ReserveOutcome = "already_exists"
	OutcomeInsufficientStock ReserveOutcome = "insufficient_stock"
	OutcomeProductNotFound   ReserveOutcome = "product_not_found"
)

type ReserveResult struct {
	Outcome        ReserveOutcome
	ReservationID  string
	RemainingStock int64
	Message        string
}

type ReleaseResult struct {
	Released bool
	NewStock int64
	Message  string
}

// ErrInventoryAmbiguous marks an RPC failure where the reservation may or
// may not have committed on the custodian side (deadline exceeded or
// transport unavailable). The order must go to pending_verification, never
// straight to failed.
var ErrInventoryAmbiguous = errors.New("inventory outcome unknown")

// InventoryClient is the coordinator's view of the custodian. The gRPC
// implementation maps transport errors onto ErrInventoryAmbiguous; any
// other error means the call definitively did not happen.
type InventoryClient interface {
	Reserve(ctx context.Context, orderID, productID string, quantity int64, idempotencyKey string) (*ReserveResult, error)
	Release(ctx context.Context, orderID, reservationID, reason string) (*ReleaseResult, error)
}
