package models

import (
	"fmt"
	"time"

	"github.com/lib/pq"
)

// ServiceType identifies the kind of service an order is for
type ServiceType string

const (
	ServiceLaundry  ServiceType = "LAUNDRY"
	ServiceCleaning ServiceType = "CLEANING"
)

// Valid reports whether st is a known service type
func (st ServiceType) Valid() bool {
	return st == ServiceLaundry || st == ServiceCleaning
}

// OrderStatus is the closed set of order states. Legal moves between them
// live in the lifecycle package and nowhere else.
type OrderStatus string

const (
	StatusPendingPickup   OrderStatus = "pending_pickup"
	StatusPending         OrderStatus = "pending"
	StatusAtFacility      OrderStatus = "at_facility"
	StatusAwaitingPayment OrderStatus = "awaiting_payment"
	StatusPaymentFailed   OrderStatus = "payment_failed"
	StatusPaidProcessing  OrderStatus = "paid_processing"
	StatusInProgress      OrderStatus = "in_progress"
	StatusOutForDelivery  OrderStatus = "out_for_delivery"
	StatusDelivered       OrderStatus = "delivered"
	StatusCompleted       OrderStatus = "completed"
	StatusCanceled        OrderStatus = "canceled"
	StatusRefunded        OrderStatus = "refunded"
	StatusRescheduled     OrderStatus = "rescheduled"
)

// ActorRole identifies who is asking for a change
type ActorRole string

const (
	RoleCustomer ActorRole = "customer"
	RolePartner  ActorRole = "partner"
	RoleAdmin    ActorRole = "admin"
	RoleSystem   ActorRole = "system"
	RolePayments ActorRole = "payments"
)

// Actor is recorded on every transition and modification
type Actor struct {
	Role ActorRole `json:"role"`
	ID   string    `json:"id"`
}

func (a Actor) String() string {
	if a.ID == "" {
		return string(a.Role)
	}
	return string(a.Role) + ":" + a.ID
}

// Order represents one purchased service instance
type Order struct {
	ID             string        `db:"id" json:"id"`
	IdempotencyKey string        `db:"idempotency_key" json:"idempotency_key"`
	CustomerID     string        `db:"customer_id" json:"customer_id"`
	Phone          string        `db:"phone" json:"phone"`
	ServiceType    ServiceType   `db:"service_type" json:"service_type"`
	Status         OrderStatus   `db:"status" json:"status"`
	Zip            string        `db:"zip" json:"zip"`
	Details        DetailsColumn `db:"details" json:"details"`

	PartnerID     string     `db:"partner_id" json:"partner_id"`
	PickupStart   time.Time  `db:"pickup_start" json:"pickup_start"`
	PickupEnd     time.Time  `db:"pickup_end" json:"pickup_end"`
	DeliveryStart *time.Time `db:"delivery_start" json:"delivery_start,omitempty"`
	DeliveryEnd   *time.Time `db:"delivery_end" json:"delivery_end,omitempty"`
	ReservedUnits int        `db:"reserved_units" json:"reserved_units"`

	SubtotalCents       int64  `db:"subtotal_cents" json:"subtotal_cents"`
	TaxCents            int64  `db:"tax_cents" json:"tax_cents"`
	DeliveryFeeCents    int64  `db:"delivery_fee_cents" json:"delivery_fee_cents"`
	TotalCents          int64  `db:"total_cents" json:"total_cents"`
	QuoteCents          *int64 `db:"quote_cents" json:"quote_cents,omitempty"`
	ProposedQuoteCents  *int64 `db:"proposed_quote_cents" json:"proposed_quote_cents,omitempty"`
	RefundCents         int64  `db:"refund_cents" json:"refund_cents"`
	PaymentCustomerID   string `db:"payment_customer_id" json:"payment_customer_id,omitempty"`
	PaymentMethodID     string `db:"payment_method_id" json:"payment_method_id,omitempty"`
	PaymentIntentID     string `db:"payment_intent_id" json:"payment_intent_id,omitempty"`
	PaymentErrorCode    string `db:"payment_error_code" json:"payment_error_code,omitempty"`
	PaymentErrorMessage string `db:"payment_error_message" json:"payment_error_message,omitempty"`
	CaptureAttempts     int    `db:"capture_attempts" json:"capture_attempts"`

	PaidAt      *time.Time `db:"paid_at" json:"paid_at,omitempty"`
	RefundedAt  *time.Time `db:"refunded_at" json:"refunded_at,omitempty"`
	NeedsReview bool       `db:"needs_review" json:"needs_review"`

	RescheduledFromID string `db:"rescheduled_from_id" json:"rescheduled_from_id,omitempty"`
	RescheduledToID   string `db:"rescheduled_to_id" json:"rescheduled_to_id,omitempty"`

	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// ChargeableCents is the amount a charge or a fee is computed from: the
// quote once one is set, the booking total before that.
func (o *Order) ChargeableCents() int64 {
	if o.QuoteCents != nil {
		return *o.QuoteCents
	}
	return o.TotalCents
}

// PaidCents is what the customer has actually paid so far
func (o *Order) PaidCents() int64 {
	if o.PaidAt == nil {
		return 0
	}
	return o.ChargeableCents()
}

// SlotKey returns the ledger key of the order's pickup slot
func (o *Order) SlotKey() SlotKey {
	return NewSlotKey(o.PartnerID, o.ServiceType, o.PickupStart)
}

// SlotKey addresses one capacity ledger entry
type SlotKey struct {
	PartnerID   string
	ServiceType ServiceType
	SlotStart   time.Time
}

// NewSlotKey builds a key with the slot start normalised to UTC seconds
func NewSlotKey(partnerID string, st ServiceType, start time.Time) SlotKey {
	return SlotKey{PartnerID: partnerID, ServiceType: st, SlotStart: start.UTC().Truncate(time.Second)}
}

// String is the stable identity of the key, used for maps and cache keys
func (k SlotKey) String() string {
	return fmt.Sprintf("%s:%s:%d", k.PartnerID, k.ServiceType, k.SlotStart.Unix())
}

// CapacityEntry is bookable capacity for one (partner, service type, slot start)
type CapacityEntry struct {
	PartnerID     string      `db:"partner_id" json:"partner_id"`
	ServiceType   ServiceType `db:"service_type" json:"service_type"`
	SlotStart     time.Time   `db:"slot_start" json:"slot_start"`
	TotalUnits    int         `db:"total_units" json:"total_units"`
	ConsumedUnits int         `db:"consumed_units" json:"consumed_units"`
	UpdatedAt     time.Time   `db:"updated_at" json:"updated_at"`
}

// Key returns the ledger key of the entry
func (e CapacityEntry) Key() SlotKey {
	return NewSlotKey(e.PartnerID, e.ServiceType, e.SlotStart)
}

// Partner is a provider performing pickups or cleanings
type Partner struct {
	ID                 string         `db:"id" json:"id"`
	Name               string         `db:"name" json:"name"`
	ZipCodes           pq.StringArray `db:"zip_codes" json:"zip_codes"`
	ServiceTypes       pq.StringArray `db:"service_types" json:"service_types"`
	LaundryMaxOrders   int            `db:"laundry_max_orders_per_slot" json:"laundry_max_orders_per_slot"`
	CleaningMaxMinutes int            `db:"cleaning_max_minutes_per_slot" json:"cleaning_max_minutes_per_slot"`
	SlotMinutes        int            `db:"slot_minutes" json:"slot_minutes"`
	DayStartHour       int            `db:"day_start_hour" json:"day_start_hour"`
	DayEndHour         int            `db:"day_end_hour" json:"day_end_hour"`
	Timezone           string         `db:"timezone" json:"timezone"`
	Active             bool           `db:"active" json:"active"`
}

// Offers reports whether the partner performs the given service type
func (p *Partner) Offers(st ServiceType) bool {
	for _, s := range p.ServiceTypes {
		if ServiceType(s) == st {
			return true
		}
	}
	return false
}

// Serves reports whether the partner covers the zip code
func (p *Partner) Serves(zip string) bool {
	for _, z := range p.ZipCodes {
		if z == zip {
			return true
		}
	}
	return false
}

// SlotAvailability describes one bookable slot
type SlotAvailability struct {
	PartnerID      string      `json:"partner_id"`
	PartnerName    string      `json:"partner_name"`
	ServiceType    ServiceType `json:"service_type"`
	Start          time.Time   `json:"start"`
	End            time.Time   `json:"end"`
	TotalUnits     int         `json:"total_units"`
	ConsumedUnits  int         `json:"consumed_units"`
	RemainingUnits int         `json:"remaining_units"`
}

// CancellationPolicy is versioned per service type; exactly one is active
// for a service type at a time.
type CancellationPolicy struct {
	ID                    int64       `db:"id" json:"id"`
	ServiceType           ServiceType `db:"service_type" json:"service_type"`
	Version               int         `db:"version" json:"version"`
	NoticeHours           int         `db:"notice_hours" json:"notice_hours"`
	CancellationFeePct    float64     `db:"cancellation_fee_percent" json:"cancellation_fee_percent"`
	RescheduleNoticeHours int         `db:"reschedule_notice_hours" json:"reschedule_notice_hours"`
	RescheduleFeePct      float64     `db:"reschedule_fee_percent" json:"reschedule_fee_percent"`
	AllowCancel           bool        `db:"allow_cancel" json:"allow_cancel"`
	AllowReschedule       bool        `db:"allow_reschedule" json:"allow_reschedule"`
	Active                bool        `db:"active" json:"active"`
	Referenced            bool        `db:"referenced" json:"referenced"`
	CreatedAt             time.Time   `db:"created_at" json:"created_at"`
}

// PaymentEventRecord marks an external payment event as applied
type PaymentEventRecord struct {
	EventID     string    `db:"event_id" json:"event_id"`
	EventType   string    `db:"event_type" json:"event_type"`
	OrderID     string    `db:"order_id" json:"order_id,omitempty"`
	Payload     []byte    `db:"payload" json:"-"`
	ProcessedAt time.Time `db:"processed_at" json:"processed_at"`
}

// Modification kinds
const (
	ModificationCancel     = "cancel"
	ModificationReschedule = "reschedule"
)

// OrderModification is an append-only record of a cancel or reschedule
type OrderModification struct {
	ID            string     `db:"id" json:"id"`
	OrderID       string     `db:"order_id" json:"order_id"`
	NewOrderID    string     `db:"new_order_id" json:"new_order_id,omitempty"`
	Kind          string     `db:"kind" json:"kind"`
	OldPartnerID  string     `db:"old_partner_id" json:"old_partner_id"`
	OldSlotStart  time.Time  `db:"old_slot_start" json:"old_slot_start"`
	NewPartnerID  string     `db:"new_partner_id" json:"new_partner_id,omitempty"`
	NewSlotStart  *time.Time `db:"new_slot_start" json:"new_slot_start,omitempty"`
	FeeCents      int64      `db:"fee_cents" json:"fee_cents"`
	FeeCharged    bool       `db:"fee_charged" json:"fee_charged"`
	RefundCents   int64      `db:"refund_cents" json:"refund_cents"`
	PolicyID      *int64     `db:"policy_id" json:"policy_id,omitempty"`
	PolicyVersion int        `db:"policy_version" json:"policy_version"`
	Reason        string     `db:"reason" json:"reason"`
	Actor         string     `db:"actor" json:"actor"`
	CreatedAt     time.Time  `db:"created_at" json:"created_at"`
}

// OrderEvent is one entry in the transition log
type OrderEvent struct {
	ID         int64       `db:"id" json:"id"`
	OrderID    string      `db:"order_id" json:"order_id"`
	FromStatus OrderStatus `db:"from_status" json:"from_status"`
	ToStatus   OrderStatus `db:"to_status" json:"to_status"`
	Actor      string      `db:"actor" json:"actor"`
	Reason     string      `db:"reason" json:"reason"`
	CreatedAt  time.Time   `db:"created_at" json:"created_at"`
}

// Payment retry states
const (
	RetryScheduled = "scheduled"
	RetrySucceeded = "succeeded"
	RetryFailed    = "failed"
	RetrySkipped   = "skipped"
)

// PaymentRetry schedules another auto-charge attempt for an order
type PaymentRetry struct {
	ID          int64     `db:"id" json:"id"`
	OrderID     string    `db:"order_id" json:"order_id"`
	Attempt     int       `db:"attempt" json:"attempt"`
	ErrorCode   string    `db:"error_code" json:"error_code"`
	ScheduledAt time.Time `db:"scheduled_at" json:"scheduled_at"`
	Status      string    `db:"status" json:"status"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time `db:"updated_at" json:"updated_at"`
}

// PriceBreakdown is what the pricing calculator returns
type PriceBreakdown struct {
	SubtotalCents    int64 `json:"subtotal_cents"`
	TaxCents         int64 `json:"tax_cents"`
	DeliveryFeeCents int64 `json:"delivery_fee_cents"`
	TotalCents       int64 `json:"total_cents"`
}
