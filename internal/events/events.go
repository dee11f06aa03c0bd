package events

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

const (
	TypeOrderCreated             = "OrderCreated"
	TypeOrderConfirmed           = "OrderConfirmed"
	TypeOrderFailed              = "OrderFailed"
	TypeOrderCancelled           = "OrderCancelled"
	TypeOrderPendingVerification = "OrderPendingVerification"
	TypeStockReserved            = "StockReserved"
	TypeStockReleased            = "StockReleased"
	TypeLowStockAlert            = "LowStockAlert"
	TypeOrderVerified            = "OrderVerified"
	TypeVerificationComplete     = "VerificationComplete"
	TypeVerifyOrder              = "VerifyOrder"
	TypeSystemMetrics            = "SystemMetrics"
)

// ErrUnknownEventType is returned by Decode for event types outside the
// closed set above. Consumers reject such messages at the boundary.
var ErrUnknownEventType = errors.New("unknown event type")

// Envelope is the wire shape of every bus message. The correlation id is
// the order id; the message id is the event id.
type Envelope struct {
	EventID       string          `json:"eventId"`
	EventType     string          `json:"eventType"`
	Version       int             `json:"version"`
	Timestamp     time.Time       `json:"timestamp"`
	Producer      string          `json:"producer,omitempty"`
	CorrelationID string          `json:"correlationId,omitempty"`
	Data          json.RawMessage `json:"data"`
}

// New wraps a typed payload in a fresh envelope.
func New(eventType, producer, correlationID string, data any) (Envelope, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return Envelope{}, errors.Wrapf(err, "marshal %s payload", eventType)
	}
	return Envelope{
		EventID:       uuid.NewString(),
		EventType:     eventType,
		Version:       1,
		Timestamp:     time.Now().UTC(),
		Producer:      producer,
		CorrelationID: correlationID,
		Data:          raw,
	}, nil
}

// MustNew is New for payloads that cannot fail to marshal (all of ours).
func MustNew(eventType, producer, correlationID string, data any) Envelope {
	env, err := New(eventType, producer, correlationID, data)
	if err != nil {
		panic(err)
	}
	return env
}

func Marshal(env Envelope) ([]byte, error) {
	return json.Marshal(env)
}

func Unmarshal(b []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(b, &env); err != nil {
		return Envelope{}, errors.Wrap(err, "decode envelope")
	}
	return env, nil
}

// ---- payloads ----

type OrderCreated struct {
	OrderID        string `json:"orderId"`
	CustomerID     string `json:"customerId"`
	ProductID      string `json:"productId"`
	Quantity       int64  `json:"quantity"`
	IdempotencyKey string `json:"idempotencyKey,omitempty"`
}

type OrderConfirmed struct {
	OrderID       string `json:"orderId"`
	ReservationID string `json:"reservationId"`
}

type OrderFailed struct {
	OrderID string `json:"orderId"`
	Reason  string `json:"reason"`
}

type OrderCancelled struct {
	OrderID       string `json:"orderId"`
	ReservationID string `json:"reservationId,omitempty"`
	Reason        string `json:"reason,omitempty"`
}

type OrderPendingVerification struct {
	OrderID   string `json:"orderId"`
	ProductID string `json:"productId"`
	Quantity  int64  `json:"quantity"`
}

type StockReserved struct {
	OrderID        string `json:"orderId"`
	ReservationID  string `json:"reservationId"`
	ProductID      string `json:"productId"`
	Quantity       int64  `json:"quantity"`
	RemainingStock int64  `json:"remainingStock"`
}

type StockReleased struct {
	OrderID       string `json:"orderId"`
	ReservationID string `json:"reservationId"`
	ProductID     string `json:"productId"`
	Quantity      int64  `json:"quantity"`
	NewStock      int64  `json:"newStock"`
	Reason        string `json:"reason,omitempty"`
}

type LowStockAlert struct {
	ProductID string `json:"productId"`
	Name      string `json:"name,omitempty"`
	Stock     int64  `json:"stock"`
	Threshold int64  `json:"threshold"`
}

// OrderVerified closes the verification loop. Status is "confirmed" when a
// reservation exists or could be made, "not_found" when no reservation can
// be made (including insufficient stock).
type OrderVerified struct {
	OrderID            string `json:"orderId"`
	Status             string `json:"status"`
	ReservationID      string `json:"reservationId,omitempty"`
	RecoveredFromCrash bool   `json:"recoveredFromCrash"`
	Reason             string `json:"reason,omitempty"`
}

// VerificationComplete is the legacy wire shape of OrderVerified. Accepted
// on ingress only; never emitted.
type VerificationComplete struct {
	OrderID       string `json:"orderId"`
	Verified      bool   `json:"verified"`
	ReservationID string `json:"reservationId,omitempty"`
	Reason        string `json:"reason,omitempty"`
}

// VerifyOrder is the point-to-point recovery request on the verify-orders
// queue.
type VerifyOrder struct {
	OrderID             string    `json:"orderId"`
	ProductID           string    `json:"productId"`
	Quantity            int64     `json:"quantity"`
	IdempotencyKey      string    `json:"idempotencyKey"`
	OriginalRequestTime time.Time `json:"originalRequestTime"`
}

type SystemMetrics struct {
	Service string           `json:"service"`
	Stats   map[string]int64 `json:"stats"`
}

// Decode maps an envelope to its typed payload. Unknown event types are
// rejected so consumers never act on payloads they cannot interpret.
func Decode(env Envelope) (any, error) {
	var (
		out any
		err error
	)
	switch env.EventType {
	case TypeOrderCreated:
		out, err = decodeAs[OrderCreated](env)
	case TypeOrderConfirmed:
		out, err = decodeAs[OrderConfirmed](env)
	case TypeOrderFailed:
		out, err = decodeAs[OrderFailed](env)
	case TypeOrderCancelled:
		out, err = decodeAs[OrderCancelled](env)
	case TypeOrderPendingVerification:
		out, err = decodeAs[OrderPendingVerification](env)
	case TypeStockReserved:
		out, err = decodeAs[StockReserved](env)
	case TypeStockReleased:
		out, err = decodeAs[StockReleased](env)
	case TypeLowStockAlert:
		out, err = decodeAs[LowStockAlert](env)
	case TypeOrderVerified:
		out, err = decodeAs[OrderVerified](env)
	case TypeVerificationComplete:
		out, err = decodeAs[VerificationComplete](env)
	case TypeVerifyOrder:
		out, err = decodeAs[VerifyOrder](env)
	case TypeSystemMetrics:
		out, err = decodeAs[SystemMetrics](env)
	default:
		return nil, errors.Wrap(ErrUnknownEventType, env.EventType)
	}
	return out, err
}

func decodeAs[T any](env Envelope) (T, error) {
	var t T
	if err := json.Unmarshal(env.Data, &t); err != nil {
		return t, errors.Wrapf(err, "decode %s payload", env.EventType)
	}
	return t, nil
}
