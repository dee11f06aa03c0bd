package orders

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"

	"ordercore/internal/inventorypb"
)

// GRPCInventory adapts the custodian's gRPC surface to InventoryClient.
// It owns the hard reserve deadline: a breach comes back as
// ErrInventoryAmbiguous, never as a plain error, because the custodian may
// have committed before the reply was lost.
type GRPCInventory struct {
	client         inventorypb.InventoryServiceClient
	reserveTimeout time.Duration
	healthTimeout  time.Duration
}

func NewGRPCInventory(client inventorypb.InventoryServiceClient, reserveTimeout, healthTimeout time.Duration) *GRPCInventory {
	return &GRPCInventory{
		client:         client,
		reserveTimeout: reserveTimeout,
		healthTimeout:  healthTimeout,
	}
}

// DialInventory connects to the custodian without blocking; gRPC retries
// the transport in the background and calls fail fast with Unavailable
// while it is down, which is exactly the ambiguous path.
func DialInventory(target string) (*grpc.ClientConn, error) {
	conn, err := grpc.Dial(target, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, errors.Wrap(err, "dial inventory")
	}
	return conn, nil
}

func (g *GRPCInventory) Reserve(ctx context.Context, orderID, productID string, quantity int64, idempotencyKey string) (*ReserveResult, error) {
	ctx, cancel := context.WithTimeout(ctx, g.reserveTimeout)
	defer cancel()

	resp, err := g.client.ReserveStock(ctx, &inventorypb.ReserveRequest{
		OrderId:        orderID,
		ProductId:      productID,
		Quantity:       quantity,
		IdempotencyKey: idempotencyKey,
	})
	if err != nil {
		return nil, classifyRPCError(err)
	}

	res := &ReserveResult{
		ReservationID:  resp.GetReservationId(),
		RemainingStock: resp.GetRemainingStock(),
		Message:        resp.GetMessage(),
	}
	switch resp.GetStatus() {
	case inventorypb.ReserveStatus_CONFIRMED:
		res.Outcome = OutcomeConfirmed
	case inventorypb.ReserveStatus_ALREADY_EXISTS:
		res.Outcome = OutcomeAlreadyReserved
	case inventorypb.ReserveStatus_INSUFFICIENT_STOCK:
		res.Outcome = OutcomeInsufficientStock
	case inventorypb.ReserveStatus_PRODUCT_NOT_FOUND:
		res.Outcome = OutcomeProductNotFound
	default:
		return nil, errors.Errorf("reserve returned unknown status %d", resp.GetStatus())
	}
	return res, nil
}

func (g *GRPCInventory) Release(ctx context.Context, orderID, reservationID, reason string) (*ReleaseResult, error) {
	ctx, cancel := context.WithTimeout(ctx, g.reserveTimeout)
	defer cancel()

	resp, err := g.client.ReleaseStock(ctx, &inventorypb.ReleaseRequest{
		OrderId:       orderID,
		ReservationId: reservationID,
		Reason:        reason,
	})
	if err != nil {
		return nil, classifyRPCError(err)
	}
	return &ReleaseResult{
		Released: resp.GetSuccess(),
		NewStock: resp.GetNewStock(),
		Message:  resp.GetMessage(),
	}, nil
}

// Healthy probes the custodian with its own short deadline. Informational
// only; the coordinator's health never depends on it.
func (g *GRPCInventory) Healthy(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, g.healthTimeout)
	defer cancel()
	resp, err := g.client.HealthCheck(ctx, &inventorypb.HealthCheckRequest{})
	return err == nil && resp.GetHealthy()
}

func classifyRPCError(err error) error {
	switch status.Code(err) {
	case codes.DeadlineExceeded:
		return errors.Wrap(ErrInventoryAmbiguous, "deadline exceeded")
	case codes.Unavailable:
		return errors.Wrap(ErrInventoryAmbiguous, "inventory unavailable")
	default:
		return errors.Wrap(err, "inventory rpc")
	}
}

var _ InventoryClient = (*GRPCInventory)(nil)
