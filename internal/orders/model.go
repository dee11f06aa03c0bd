package orders

import "time"

type Order struct {
	ID             string     `json:"id"`
	CustomerID     string     `json:"customerId"`
	ProductID      string     `json:"productId"`
	Quantity       int64      `json:"quantity"`
	Status         Status     `json:"status"`
	IdempotencyKey *string    `json:"idempotencyKey,omitempty"`
	ReservationID  *string    `json:"reservationId,omitempty"`
	ErrorMessage   *string    `json:"errorMessage,omitempty"`
	CreatedAt      time.Time  `json:"createdAt"`
	UpdatedAt      time.Time  `json:"updatedAt"`
	CompletedAt    *time.Time `json:"completedAt,omitempty"`
}

// Terminal reports whether the order has reached a state that bus events
// can no longer move it out of.
func (o *Order) Terminal() bool {
	return o.Status == StatusConfirmed || o.Status == StatusFailed || o.Status == StatusCancelled
}
