package models

import "time"

// Event types published to the order-events topic
const (
	EventTypeOrderCreated       = "ORDER_CREATED"
	EventTypeOrderStatusChanged = "ORDER_STATUS_CHANGED"
	EventTypeOrderRescheduled   = "ORDER_RESCHEDULED"
	EventTypeNotification       = "NOTIFICATION"
)

// BaseEvent contains common fields for all events
type BaseEvent struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
}

// OrderCreatedEvent published when an order is booked
type OrderCreatedEvent struct {
	BaseEvent
	OrderID     string      `json:"order_id"`
	ServiceType ServiceType `json:"service_type"`
	PartnerID   string      `json:"partner_id"`
	SlotStart   time.Time   `json:"slot_start"`
	TotalCents  int64       `json:"total_cents"`
	Status      OrderStatus `json:"status"`
}

// OrderStatusChangedEvent mirrors one transition log entry
type OrderStatusChangedEvent struct {
	BaseEvent
	OrderID     string      `json:"order_id"`
	ServiceType ServiceType `json:"service_type"`
	From        OrderStatus `json:"from"`
	To          OrderStatus `json:"to"`
	Actor       string      `json:"actor"`
	Reason      string      `json:"reason"`
}

// OrderRescheduledEvent published after a reschedule commits
type OrderRescheduledEvent struct {
	BaseEvent
	OrderID      string    `json:"order_id"`
	NewOrderID   string    `json:"new_order_id,omitempty"`
	OldPartnerID string    `json:"old_partner_id"`
	OldSlotStart time.Time `json:"old_slot_start"`
	NewPartnerID string    `json:"new_partner_id"`
	NewSlotStart time.Time `json:"new_slot_start"`
	FeeCents     int64     `json:"fee_cents"`
}

// Notification kinds
const (
	NotificationReceipt     = "receipt"
	NotificationPaymentLink = "payment_link"
	NotificationQuote       = "quote"
)

// NotificationEvent is handed to the SMS/email delivery service
type NotificationEvent struct {
	BaseEvent
	Kind    string `json:"kind"`
	OrderID string `json:"order_id,omitempty"`
	Phone   string `json:"phone"`
	Message string `json:"message"`
}

// Payment provider event types the reconciler applies
const (
	ProviderPaymentSucceeded = "payment_intent.succeeded"
	ProviderPaymentFailed    = "payment_intent.payment_failed"
	ProviderChargeRefunded   = "charge.refunded"
	ProviderDisputeCreated   = "charge.dispute.created"
)

// ProviderEvent is the inbound webhook document
type ProviderEvent struct {
	ID      string            `json:"id"`
	Type    string            `json:"type"`
	Created int64             `json:"created"`
	Data    ProviderEventData `json:"data"`
}

// ProviderEventData wraps the object the event is about
type ProviderEventData struct {
	Object ProviderObject `json:"object"`
}

// ProviderObject is the subset of payment intent / charge / dispute fields
// the reconciler reads
type ProviderObject struct {
	ID             string            `json:"id"`
	PaymentIntent  string            `json:"payment_intent,omitempty"`
	Amount         int64             `json:"amount"`
	AmountRefunded int64             `json:"amount_refunded,omitempty"`
	Status         string            `json:"status,omitempty"`
	Reason         string            `json:"reason,omitempty"`
	Metadata       map[string]string `json:"metadata,omitempty"`
	LastError      *ProviderError    `json:"last_payment_error,omitempty"`
}

// ProviderError is the provider's description of a failed attempt
type ProviderError struct {
	Code        string `json:"code"`
	DeclineCode string `json:"decline_code,omitempty"`
	Message     string `json:"message"`
	Type        string `json:"type,omitempty"`
}

// OrderID returns the order the event refers to, from metadata
func (e *ProviderEvent) OrderID() string {
	if e.Data.Object.Metadata == nil {
		return ""
	}
	return e.Data.Object.Metadata["order_id"]
}

// PaymentEventEnvelope is how provider events travel over Kafka
type PaymentEventEnvelope struct {
	Payload   []byte `json:"payload"`
	Signature string `json:"signature"`
}
