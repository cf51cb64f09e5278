package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"pickup-order-service/internal/models"
)

// CreateOrder inserts a new order
func (s *Store) CreateOrder(ctx context.Context, order *models.Order) error {
	query := `
		INSERT INTO orders (
			id, idempotency_key, customer_id, phone, service_type, status, zip, details,
			partner_id, pickup_start, pickup_end, delivery_start, delivery_end, reserved_units,
			subtotal_cents, tax_cents, delivery_fee_cents, total_cents, quote_cents,
			payment_customer_id, payment_method_id, rescheduled_from_id, paid_at, payment_intent_id
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8,
			$9, $10, $11, $12, $13, $14,
			$15, $16, $17, $18, $19,
			$20, $21, $22, $23, $24
		)
		RETURNING created_at, updated_at`

	err := s.q.GetContext(ctx, order, query,
		order.ID, order.IdempotencyKey, order.CustomerID, order.Phone, order.ServiceType, order.Status, order.Zip, order.Details,
		order.PartnerID, order.PickupStart, order.PickupEnd, order.DeliveryStart, order.DeliveryEnd, order.ReservedUnits,
		order.SubtotalCents, order.TaxCents, order.DeliveryFeeCents, order.TotalCents, order.QuoteCents,
		order.PaymentCustomerID, order.PaymentMethodID, order.RescheduledFromID, order.PaidAt, order.PaymentIntentID)
	if isUniqueViolation(err) {
		return ErrDuplicateIdempotencyKey
	}
	return err
}

func (s *Store) getOrder(ctx context.Context, query string, arg interface{}) (*models.Order, error) {
	var order models.Order
	err := s.q.GetContext(ctx, &order, query, arg)
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// GetOrderByID retrieves an order by ID
func (s *Store) GetOrderByID(ctx context.Context, id string) (*models.Order, error) {
	order, err := s.getOrder(ctx, "SELECT * FROM orders WHERE id = $1", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.NewNotFoundError("order", id)
	}
	return order, err
}

// LockOrder reads an order with a row lock held until the transaction ends
func (s *Store) LockOrder(ctx context.Context, id string) (*models.Order, error) {
	order, err := s.getOrder(ctx, "SELECT * FROM orders WHERE id = $1 FOR UPDATE", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.NewNotFoundError("order", id)
	}
	return order, err
}

// GetOrderByIdempotencyKey returns nil, nil when no order holds the key
func (s *Store) GetOrderByIdempotencyKey(ctx context.Context, key string) (*models.Order, error) {
	order, err := s.getOrder(ctx, "SELECT * FROM orders WHERE idempotency_key = $1", key)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return order, err
}

// GetOrderByPaymentIntent finds the order a provider payment intent belongs to.
// A rescheduled order shares its intent with its successor; the live one wins.
func (s *Store) GetOrderByPaymentIntent(ctx context.Context, intentID string) (*models.Order, error) {
	order, err := s.getOrder(ctx, `
		SELECT * FROM orders WHERE payment_intent_id = $1
		ORDER BY (status = 'rescheduled'), created_at DESC
		LIMIT 1`, intentID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.NewNotFoundError("order with payment intent", intentID)
	}
	return order, err
}

// UpdateOrder writes every mutable column of the order
func (s *Store) UpdateOrder(ctx context.Context, order *models.Order) error {
	query := `
		UPDATE orders SET
			status = $2, partner_id = $3, pickup_start = $4, pickup_end = $5,
			delivery_start = $6, delivery_end = $7, reserved_units = $8,
			quote_cents = $9, proposed_quote_cents = $10, refund_cents = $11,
			payment_intent_id = $12, payment_error_code = $13, payment_error_message = $14,
			capture_attempts = $15, paid_at = $16, needs_review = $17,
			rescheduled_to_id = $18, refunded_at = $19, updated_at = NOW()
		WHERE id = $1`

	res, err := s.q.ExecContext(ctx, query,
		order.ID, order.Status, order.PartnerID, order.PickupStart, order.PickupEnd,
		order.DeliveryStart, order.DeliveryEnd, order.ReservedUnits,
		order.QuoteCents, order.ProposedQuoteCents, order.RefundCents,
		order.PaymentIntentID, order.PaymentErrorCode, order.PaymentErrorMessage,
		order.CaptureAttempts, order.PaidAt, order.NeedsReview,
		order.RescheduledToID, order.RefundedAt)
	if err != nil {
		return fmt.Errorf("failed to update order %s: %w", order.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return models.NewNotFoundError("order", order.ID)
	}
	return nil
}

// InsertOrderEvent appends to the transition log
func (s *Store) InsertOrderEvent(ctx context.Context, event *models.OrderEvent) error {
	query := `
		INSERT INTO order_events (order_id, from_status, to_status, actor, reason, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id`

	return s.q.GetContext(ctx, &event.ID, query,
		event.OrderID, event.FromStatus, event.ToStatus, event.Actor, event.Reason, event.CreatedAt)
}

// ListOrderEvents returns the transition log of an order, oldest first
func (s *Store) ListOrderEvents(ctx context.Context, orderID string) ([]models.OrderEvent, error) {
	var events []models.OrderEvent
	err := s.q.SelectContext(ctx, &events,
		"SELECT * FROM order_events WHERE order_id = $1 ORDER BY id", orderID)
	return events, err
}

// InsertModification appends a cancel or reschedule record
func (s *Store) InsertModification(ctx context.Context, mod *models.OrderModification) error {
	query := `
		INSERT INTO order_modifications (
			id, order_id, new_order_id, kind, old_partner_id, old_slot_start, new_partner_id, new_slot_start,
			fee_cents, fee_charged, refund_cents, policy_id, policy_version, reason, actor, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`

	_, err := s.q.ExecContext(ctx, query,
		mod.ID, mod.OrderID, mod.NewOrderID, mod.Kind, mod.OldPartnerID, mod.OldSlotStart, mod.NewPartnerID, mod.NewSlotStart,
		mod.FeeCents, mod.FeeCharged, mod.RefundCents, mod.PolicyID, mod.PolicyVersion, mod.Reason, mod.Actor, mod.CreatedAt)
	return err
}

// ListModifications returns the modification history of an order
func (s *Store) ListModifications(ctx context.Context, orderID string) ([]models.OrderModification, error) {
	var mods []models.OrderModification
	err := s.q.SelectContext(ctx, &mods,
		"SELECT * FROM order_modifications WHERE order_id = $1 ORDER BY created_at", orderID)
	return mods, err
}
