// Package inventorypb holds hand-maintained bindings for
// api/proto/inventory.proto. The struct tags define the wire format; keep
// them in sync with the proto file when the schema changes. The protobuf
// runtime derives descriptors from the tags, so no generated registration
// is needed.
package inventorypb

import (
	"github.com/golang/protobuf/proto"
)

type ReserveStatus int32

const (
	ReserveStatus_UNKNOWN            ReserveStatus = 0
	ReserveStatus_CONFIRMED          ReserveStatus = 1
	ReserveStatus_INSUFFICIENT_STOCK ReserveStatus = 2
	ReserveStatus_PRODUCT_NOT_FOUND  ReserveStatus = 3
	ReserveStatus_ALREADY_EXISTS     ReserveStatus = 4
)

var ReserveStatus_name = map[int32]string{
	0: "UNKNOWN",
	1: "CONFIRMED",
	2: "INSUFFICIENT_STOCK",
	3: "PRODUCT_NOT_FOUND",
	4: "ALREADY_EXISTS",
}

var ReserveStatus_value = map[string]int32{
	"UNKNOWN":            0,
	"CONFIRMED":          1,
	"INSUFFICIENT_STOCK": 2,
	"PRODUCT_NOT_FOUND":  3,
	"ALREADY_EXISTS":     4,
}

func (x ReserveStatus) String() string {
	return proto.EnumName(ReserveStatus_name, int32(x))
}

type ReserveRequest struct {
	OrderId        string `protobuf:"bytes,1,opt,name=order_id,json=orderId,proto3" json:"order_id,omitempty"`
	ProductId      string `protobuf:"bytes,2,opt,name=product_id,json=productId,proto3" json:"product_id,omitempty"`
	Quantity       int64  `protobuf:"varint,3,opt,name=quantity,proto3" json:"quantity,omitempty"`
	IdempotencyKey string `protobuf:"bytes,4,opt,name=idempotency_key,json=idempotencyKey,proto3" json:"idempotency_key,omitempty"`
}

func (m *ReserveRequest) Reset()         { *m = ReserveRequest{} }
func (m *ReserveRequest) String() string { return proto.CompactTextString(m) }
func (*ReserveRequest) ProtoMessage()    {}

func (m *ReserveRequest) GetOrderId() string {
	if m != nil {
		return m.OrderId
	}
	return ""
}

func (m *ReserveRequest) GetProductId() string {
	if m != nil {
		return m.ProductId
	}
	return ""
}

func (m *ReserveRequest) GetQuantity() int64 {
	if m != nil {
		return m.Quantity
	}
	return 0
}

func (m *ReserveRequest) GetIdempotencyKey() string {
	if m != nil {
		return m.IdempotencyKey
	}
	return ""
}

type ReserveResponse struct {
	Success        bool          `protobuf:"varint,1,opt,name=success,proto3" json:"success,omitempty"`
	Status         ReserveStatus `protobuf:"varint,2,opt,name=status,proto3,enum=inventory.ReserveStatus" json:"status,omitempty"`
	ReservationId  string        `protobuf:"bytes,3,opt,name=reservation_id,json=reservationId,proto3" json:"reservation_id,omitempty"`
	RemainingStock int64         `protobuf:"varint,4,opt,name=remaining_stock,json=remainingStock,proto3" json:"remaining_stock,omitempty"`
	Message        string        `protobuf:"bytes,5,opt,name=message,proto3" json:"message,omitempty"`
}

func (m *ReserveResponse) Reset()         { *m = ReserveResponse{} }
func (m *ReserveResponse) String() string { return proto.CompactTextString(m) }
func (*ReserveResponse) ProtoMessage()    {}

func (m *ReserveResponse) GetSuccess() bool {
	if m != nil {
		return m.Success
	}
	return false
}

func (m *ReserveResponse) GetStatus() ReserveStatus {
	if m != nil {
		return m.Status
	}
	return ReserveStatus_UNKNOWN
}

func (m *ReserveResponse) GetReservationId() string {
	if m != nil {
		return m.ReservationId
	}
	return ""
}

func (m *ReserveResponse) GetRemainingStock() int64 {
	if m != nil {
		return m.RemainingStock
	}
	return 0
}

func (m *ReserveResponse) GetMessage() string {
	if m != nil {
		return m.Message
	}
	return ""
}

type ReleaseRequest struct {
	OrderId       string `protobuf:"bytes,1,opt,name=order_id,json=orderId,proto3" json:"order_id,omitempty"`
	ReservationId string `protobuf:"bytes,2,opt,name=reservation_id,json=reservationId,proto3" json:"reservation_id,omitempty"`
	Reason        string `protobuf:"bytes,3,opt,name=reason,proto3" json:"reason,omitempty"`
}

func (m *ReleaseRequest) Reset()         { *m = ReleaseRequest{} }
func (m *ReleaseRequest) String() string { return proto.CompactTextString(m) }
func (*ReleaseRequest) ProtoMessage()    {}

func (m *ReleaseRequest) GetOrderId() string {
	if m != nil {
		return m.OrderId
	}
	return ""
}

func (m *ReleaseRequest) GetReservationId() string {
	if m != nil {
		return m.ReservationId
	}
	return ""
}

func (m *ReleaseRequest) GetReason() string {
	if m != nil {
		return m.Reason
	}
	return ""
}

type ReleaseResponse struct {
	Success  bool   `protobuf:"varint,1,opt,name=success,proto3" json:"success,omitempty"`
	Message  string `protobuf:"bytes,2,opt,name=message,proto3" json:"message,omitempty"`
	NewStock int64  `protobuf:"varint,3,opt,name=new_stock,json=newStock,proto3" json:"new_stock,omitempty"`
}

func (m *ReleaseResponse) Reset()         { *m = ReleaseResponse{} }
func (m *ReleaseResponse) String() string { return proto.CompactTextString(m) }
func (*ReleaseResponse) ProtoMessage()    {}

func (m *ReleaseResponse) GetSuccess() bool {
	if m != nil {
		return m.Success
	}
	return false
}

func (m *ReleaseResponse) GetMessage() string {
	if m != nil {
		return m.Message
	}
	return ""
}

func (m *ReleaseResponse) GetNewStock() int64 {
	if m != nil {
		return m.NewStock
	}
	return 0
}

type CheckStockRequest struct {
	ProductId string `protobuf:"bytes,1,opt,name=product_id,json=productId,proto3" json:"product_id,omitempty"`
}

func (m *CheckStockRequest) Reset()         { *m = CheckStockRequest{} }
func (m *CheckStockRequest) String() string { return proto.CompactTextString(m) }
func (*CheckStockRequest) ProtoMessage()    {}

func (m *CheckStockRequest) GetProductId() string {
	if m != nil {
		return m.ProductId
	}
	return ""
}

type CheckStockResponse struct {
	ProductId         string `protobuf:"bytes,1,opt,name=product_id,json=productId,proto3" json:"product_id,omitempty"`
	Name              string `protobuf:"bytes,2,opt,name=name,proto3" json:"name,omitempty"`
	Stock             int64  `protobuf:"varint,3,opt,name=stock,proto3" json:"stock,omitempty"`
	LowStockThreshold int64  `protobuf:"varint,4,opt,name=low_stock_threshold,json=lowStockThreshold,proto3" json:"low_stock_threshold,omitempty"`
}

func (m *CheckStockResponse) Reset()         { *m = CheckStockResponse{} }
func (m *CheckStockResponse) String() string { return proto.CompactTextString(m) }
func (*CheckStockResponse) ProtoMessage()    {}

func (m *CheckStockResponse) GetProductId() string {
	if m != nil {
		return m.ProductId
	}
	return ""
}

func (m *CheckStockResponse) GetName() string {
	if m != nil {
		return m.Name
	}
	return ""
}

func (m *CheckStockResponse) GetStock() int64 {
	if m != nil {
		return m.Stock
	}
	return 0
}

func (m *CheckStockResponse) GetLowStockThreshold() int64 {
	if m != nil {
		return m.LowStockThreshold
	}
	return 0
}

type HealthCheckRequest struct{}

func (m *HealthCheckRequest) Reset()         { *m = HealthCheckRequest{} }
func (m *HealthCheckRequest) String() string { return proto.CompactTextString(m) }
func (*HealthCheckRequest) ProtoMessage()    {}

type HealthCheckResponse struct {
	Healthy bool   `protobuf:"varint,1,opt,name=healthy,proto3" json:"healthy,omitempty"`
	Message string `protobuf:"bytes,2,opt,name=message,proto3" json:"message,omitempty"`
}

func (m *HealthCheckResponse) Reset()         { *m = HealthCheckResponse{} }
func (m *HealthCheckResponse) String() string { return proto.CompactTextString(m) }
func (*HealthCheckResponse) ProtoMessage()    {}

func (m *HealthCheckResponse) GetHealthy() bool {
	if m != nil {
		return m.Healthy
	}
	return false
}

func (m *HealthCheckResponse) GetMessage() string {
	if m != nil {
		return m.Message
	}
	return ""
}
