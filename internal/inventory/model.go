package inventory

import "time"

type Product struct {
	ID                string    `json:"productId"`
	Name              string    `json:"name"`
	Stock             int64     `json:"stock"`
	LowStockThreshold int64     `json:"lowStockThreshold"`
	UpdatedAt         time.Time `json:"updatedAt"`
}

type ReservationStatus string

const (
	ReservationActive    ReservationStatus = "active"
	ReservationReleased  ReservationStatus = "released"
	ReservationCommitted ReservationStatus = "committed"
)

type Reservation struct {
	ID             string            `json:"reservationId"`
	OrderID        string            `json:"orderId"`
	ProductID      string            `json:"productId"`
	Quantity       int64             `json:"quantity"`
	Status         ReservationStatus `json:"status"`
	IdempotencyKey string            `json:"idempotencyKey,omitempty"`
	CreatedAt      time.Time         `json:"createdAt"`
	ReleasedAt     *time.Time        `json:"releasedAt,omitempty"`
}

// StockAudit rows are append-only; replaying them in id order reproduces
// the current stock of a product.
type StockAudit struct {
	ID             int64     `json:"id"`
	ProductID      string    `json:"productId"`
	PreviousStock  int64     `json:"previousStock"`
	NewStock       int64     `json:"newStock"`
	QuantityChange int64     `json:"quantityChange"`
	Operation      string    `json:"operation"` // reserve, release, adjust
	OrderID        string    `json:"orderId,omitempty"`
	ReservationID  string    `json:"reservationId,omitempty"`
	Reason         string    `json:"reason,omitempty"`
	CreatedAt      time.Time `json:"createdAt"`
}
