package inventory

import (
	"context"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"ordercore/internal/chaos"
	"ordercore/internal/inventorypb"
)

// Pinger is what the health rule needs from the bus connection.
type Pinger interface {
	Ping(ctx context.Context) error
}

// GRPCServer exposes the custodian over gRPC. Reservation work runs on a
// detached context: once a request reaches the handler it is completed
// even if the caller's deadline fires first, since an abandoned commit is
// exactly what the verification path recovers from.
type GRPCServer struct {
	inventorypb.UnimplementedInventoryServiceServer

	svc   *Service
	chaos *chaos.Injector
	bus   Pinger
	log   *zap.SugaredLogger
}

func NewGRPCServer(svc *Service, injector *chaos.Injector, bus Pinger, log *zap.SugaredLogger) *GRPCServer {
	return &GRPCServer{svc: svc, chaos: injector, bus: bus, log: log}
}

func (g *GRPCServer) ReserveStock(ctx context.Context, req *inventorypb.ReserveRequest) (*inventorypb.ReserveResponse, error) {
	if req.GetOrderId() == "" || req.GetProductId() == "" {
		return nil, status.Error(codes.InvalidArgument, "orderId and productId are required")
	}
	if req.GetQuantity() <= 0 {
		return nil, status.Error(codes.InvalidArgument, "quantity must be positive")
	}

	g.chaos.GremlinDelay()

	result, err := g.svc.Reserve(context.WithoutCancel(ctx), ReserveParams{
		OrderID:        req.GetOrderId(),
		ProductID:      req.GetProductId(),
		Quantity:       req.GetQuantity(),
		IdempotencyKey: req.GetIdempotencyKey(),
	})
	if err != nil {
		g.log.Errorw("reserve failed", "orderId", req.GetOrderId(), "error", err)
		return nil, status.Error(codes.Internal, "reservation failed")
	}

	resp := &inventorypb.ReserveResponse{
		RemainingStock: result.RemainingStock,
		Message:        result.Message,
	}
	switch result.Code {
	case ReserveConfirmed:
		resp.Success = true
		resp.Status = inventorypb.ReserveStatus_CONFIRMED
		resp.ReservationId = result.Reservation.ID
		g.chaos.MaybeCrash("reserveStock")
	case ReserveAlreadyExists:
		resp.Success = true
		resp.Status = inventorypb.ReserveStatus_ALREADY_EXISTS
		resp.ReservationId = result.Reservation.ID
	case ReserveInsufficientStock:
		resp.Status = inventorypb.ReserveStatus_INSUFFICIENT_STOCK
	case ReserveProductNotFound:
		resp.Status = inventorypb.ReserveStatus_PRODUCT_NOT_FOUND
	}
	return resp, nil
}

func (g *GRPCServer) ReleaseStock(ctx context.Context, req *inventorypb.ReleaseRequest) (*inventorypb.ReleaseResponse, error) {
	if req.GetOrderId() == "" || req.GetReservationId() == "" {
		return nil, status.Error(codes.InvalidArgument, "orderId and reservationId are required")
	}

	result, err := g.svc.Release(context.WithoutCancel(ctx),
		req.GetOrderId(), req.GetReservationId(), req.GetReason())
	if err != nil {
		g.log.Errorw("release failed", "orderId", req.GetOrderId(), "error", err)
		return nil, status.Error(codes.Internal, "release failed")
	}
	return &inventorypb.ReleaseResponse{
		Success:  result.Released,
		Message:  result.Message,
		NewStock: result.NewStock,
	}, nil
}

func (g *GRPCServer) CheckStock(ctx context.Context, req *inventorypb.CheckStockRequest) (*inventorypb.CheckStockResponse, error) {
	if req.GetProductId() == "" {
		return nil, status.Error(codes.InvalidArgument, "productId is required")
	}
	p, err := g.svc.CheckStock(ctx, req.GetProductId())
	if err != nil {
		if errors.Is(err, ErrProductNotFound) {
			return nil, status.Error(codes.NotFound, notFoundMsg(req.GetProductId()))
		}
		return nil, status.Error(codes.Internal, "stock lookup failed")
	}
	return &inventorypb.CheckStockResponse{
		ProductId:         p.ID,
		Name:              p.Name,
		Stock:             p.Stock,
		LowStockThreshold: p.LowStockThreshold,
	}, nil
}

// HealthCheck is healthy iff the owned database is reachable and the bus
// connection works. Nothing downstream is consulted.
func (g *GRPCServer) HealthCheck(ctx context.Context, _ *inventorypb.HealthCheckRequest) (*inventorypb.HealthCheckResponse, error) {
	if err := g.svc.Ping(ctx); err != nil {
		return &inventorypb.HealthCheckResponse{Healthy: false, Message: "database unreachable"}, nil
	}
	if g.bus != nil {
		if err := g.bus.Ping(ctx); err != nil {
			return &inventorypb.HealthCheckResponse{Healthy: false, Message: "bus unreachable"}, nil
		}
	}
	return &inventorypb.HealthCheckResponse{Healthy: true, Message: "ok"}, nil
}
