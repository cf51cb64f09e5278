package store

import (
	"context"
	"fmt"
	"time"

	"pickup-order-service/internal/models"
)

func (s *Store) IsPaymentEventProcessed(ctx context.Context, eventID string) (bool, error) {
	var exists bool
	err := s.q.GetContext(ctx, &exists,
		"SELECT EXISTS (SELECT 1 FROM payment_events WHERE event_id = $1)", eventID)
	return exists, err
}

// InsertPaymentEvent records an event id. It reports false without error
// when the id was already recorded.
func (s *Store) InsertPaymentEvent(ctx context.Context, rec *models.PaymentEventRecord) (bool, error) {
	res, err := s.q.ExecContext(ctx, `
		INSERT INTO payment_events (event_id, event_type, order_id, payload, processed_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (event_id) DO NOTHING`,
		rec.EventID, rec.EventType, rec.OrderID, rec.Payload, rec.ProcessedAt)
	if err != nil {
		return false, fmt.Errorf("failed to record payment event %s: %w", rec.EventID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (s *Store) InsertPaymentRetry(ctx context.Context, retry *models.PaymentRetry) error {
	return s.q.GetContext(ctx, &retry.ID, `
		INSERT INTO payment_retries (order_id, attempt, error_code, scheduled_at, status)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id`,
		retry.OrderID, retry.Attempt, retry.ErrorCode, retry.ScheduledAt, retry.Status)
}

// ListDuePaymentRetries returns scheduled retries whose time has come, oldest first
func (s *Store) ListDuePaymentRetries(ctx context.Context, now time.Time, limit int) ([]models.PaymentRetry, error) {
	var retries []models.PaymentRetry
	err := s.q.SelectContext(ctx, &retries, `
		SELECT * FROM payment_retries
		WHERE status = $1 AND scheduled_at <= $2
		ORDER BY scheduled_at
		LIMIT $3`, models.RetryScheduled, now, limit)
	return retries, err
}

func (s *Store) UpdatePaymentRetryStatus(ctx context.Context, id int64, status string) error {
	_, err := s.q.ExecContext(ctx,
		"UPDATE payment_retries SET status = $2, updated_at = NOW() WHERE id = $1", id, status)
	return err
}
