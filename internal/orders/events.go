package orders

import (
	"encoding/json"
	"time"
)

const (
	EventOrderPlaced        = "OrderPlaced"
	EventOrderCancelled     = "OrderCancelled"
	EventOrderStatusChanged = "OrderStatusChanged"
	EventPaymentAuthorized  = "PaymentAuthorized"
	EventPaymentFailed      = "PaymentFailed"
)

// Envelope is the versioned wrapper every lifecycle event is published in.
type Envelope struct {
	EventID       string          `json:"event_id"`
	EventType     string          `json:"event_type"`
	EventVersion  int             `json:"event_version"`
	OccurredAt    time.Time       `json:"occurred_at"`
	Producer      string          `json:"producer"`
	TraceID       string          `json:"trace_id,omitempty"`
	CorrelationID string          `json:"correlation_id,omitempty"` // order_id
	Payload       json.RawMessage `json:"payload"`
}

type ItemQty struct {
	VariantID string `json:"variant_id"`
	Qty       int    `json:"qty"`
}

type OrderPlacedPayload struct {
	OrderID     string    `json:"order_id"`
	OrderNumber string    `json:"order_number"`
	UserID      string    `json:"user_id,omitempty"`
	Items       []ItemQty `json:"items"`
	TotalCents  int64     `json:"total_cents"`
}

type OrderCancelledPayload struct {
	OrderID   string    `json:"order_id"`
	Restocked []ItemQty `json:"restocked"`
	ByAdmin   bool      `json:"by_admin"`
}

type OrderStatusChangedPayload struct {
	OrderID string `json:"order_id"`
	From    Status `json:"from"`
	To      Status `json:"to"`
}

// PaymentResultPayload is consumed from the payment gateway collaborator; the
// core only records the outcome, it never talks to the gateway itself.
type PaymentResultPayload struct {
	OrderID    string `json:"order_id"`
	PaymentRef string `json:"payment_ref,omitempty"`
	Reason     string `json:"reason,omitempty"`
}
