package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"pickup-order-service/internal/lifecycle"
	"pickup-order-service/internal/models"
	"pickup-order-service/internal/notify"
	"pickup-order-service/internal/payment"
	"pickup-order-service/internal/redisclient"
	"pickup-order-service/internal/store"
	"pickup-order-service/internal/util"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

var (
	autoChargeActor = models.Actor{Role: models.RolePayments, ID: "auto-charge"}
	webhookActor    = models.Actor{Role: models.RolePayments, ID: "webhook"}
)

const retryLockKey = "payment-retries"

// PaymentConfig tunes charging and retries
type PaymentConfig struct {
	Currency           string
	RetryBackoff       time.Duration
	MaxCaptureAttempts int
	RetryBatchSize     int
	RetryLockTTL       time.Duration
}

// DefaultPaymentConfig retries a failed charge every two hours, three
// attempts in total
func DefaultPaymentConfig() PaymentConfig {
	return PaymentConfig{
		Currency:           "usd",
		RetryBackoff:       2 * time.Hour,
		MaxCaptureAttempts: 3,
		RetryBatchSize:     50,
		RetryLockTTL:       5 * time.Minute,
	}
}

// Locker keeps one instance at a time running payment retries
type Locker interface {
	AcquireLock(ctx context.Context, key string, ttl time.Duration) (*redisclient.Lock, error)
	ReleaseLock(ctx context.Context, lock *redisclient.Lock) error
}

// Reconciler is the only component that moves orders into paid_processing,
// payment_failed or refunded
type Reconciler struct {
	repo     store.Repository
	provider payment.Provider
	verifier *payment.Verifier
	sm       *StateMachine
	notifier notify.Notifier
	locker   Locker
	cfg      PaymentConfig
	logger   *zap.Logger
	now      func() time.Time
}

// NewReconciler creates a payment reconciler. locker may be nil.
func NewReconciler(
	repo store.Repository,
	provider payment.Provider,
	verifier *payment.Verifier,
	sm *StateMachine,
	notifier notify.Notifier,
	locker Locker,
	cfg PaymentConfig,
) *Reconciler {
	return &Reconciler{
		repo:     repo,
		provider: provider,
		verifier: verifier,
		sm:       sm,
		notifier: notifier,
		locker:   locker,
		cfg:      cfg,
		logger:   util.GetLogger(),
		now:      time.Now,
	}
}

// ChargeOutcome is the result of one auto-charge attempt
type ChargeOutcome struct {
	Charged         bool                `json:"charged"`
	PaymentIntentID string              `json:"payment_intent_id,omitempty"`
	Error           *models.PaymentError `json:"error,omitempty"`
	RetryScheduled  *time.Time          `json:"retry_scheduled_at,omitempty"`
}

// AutoCharge charges the order's quote off-session against its saved
// payment method and applies the result. A declined charge is not an error:
// the order moves to payment_failed and a retry is scheduled. The returned
// error is only set when the outcome could not be recorded.
func (r *Reconciler) AutoCharge(ctx context.Context, orderID string, linkOnFailure bool) (*ChargeOutcome, error) {
	ctx, span := util.StartSpan(ctx, "Reconciler.AutoCharge", attribute.String("order_id", orderID))
	defer span.End()

	order, err := r.repo.GetOrderByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if !lifecycle.CanAutoCharge(order, models.RoleSystem) {
		return nil, models.NewValidationError("NO_PAYMENT_METHOD", "order has no saved payment method")
	}
	amount := order.ChargeableCents()
	if amount <= 0 {
		return nil, models.NewValidationError("NO_AMOUNT", "order has no amount to charge")
	}

	attempt := order.CaptureAttempts + 1
	start := time.Now()
	charge, chargeErr := r.provider.CreateCharge(ctx, payment.ChargeRequest{
		AmountCents:     amount,
		Currency:        r.cfg.Currency,
		CustomerID:      order.PaymentCustomerID,
		PaymentMethodID: order.PaymentMethodID,
		OffSession:      true,
		IdempotencyKey:  fmt.Sprintf("charge:%s:%d:%d", order.ID, amount, attempt),
		Description:     fmt.Sprintf("%s order %s", order.ServiceType, order.ID),
		Metadata:        map[string]string{"order_id": order.ID, "attempt": strconv.Itoa(attempt)},
	})
	util.PaymentProcessingLatency.Observe(time.Since(start).Seconds())

	var perr *models.PaymentError
	if chargeErr != nil {
		perr = payment.Classify(chargeErr)
	} else {
		perr = payment.ClassifyCharge(charge)
	}

	if perr == nil {
		return r.recordChargeSuccess(ctx, orderID, charge)
	}

	intentID := ""
	if charge != nil {
		intentID = charge.ID
	}
	var provErr *payment.ProviderError
	if errors.As(chargeErr, &provErr) && provErr.ChargeID != "" {
		intentID = provErr.ChargeID
	}
	return r.recordChargeFailure(ctx, orderID, intentID, perr, linkOnFailure)
}

func (r *Reconciler) recordChargeSuccess(ctx context.Context, orderID string, charge *payment.Charge) (*ChargeOutcome, error) {
	var order *models.Order
	var entry *models.OrderEvent
	err := r.repo.WithTx(ctx, func(tx store.Repository) error {
		locked, err := tx.LockOrder(ctx, orderID)
		if err != nil {
			return err
		}
		locked.CaptureAttempts++
		locked.PaymentIntentID = charge.ID
		locked.PaymentErrorCode, locked.PaymentErrorMessage = "", ""
		if charge.Status == payment.ChargeSucceeded {
			paidAt := r.now().UTC()
			locked.PaidAt = &paidAt
		}
		entry, err = r.sm.Apply(ctx, tx, locked, models.StatusPaidProcessing, autoChargeActor, "payment_auto_charged")
		order = locked
		return err
	})
	if err != nil {
		util.PaymentAutoChargesTotal.WithLabelValues("record_failed").Inc()
		r.logger.Error("Charge succeeded but order update failed",
			zap.String("order_id", orderID),
			zap.String("payment_intent_id", charge.ID),
			zap.Error(err))
		return nil, fmt.Errorf("failed to record charge %s: %w", charge.ID, err)
	}

	util.PaymentAutoChargesTotal.WithLabelValues("succeeded").Inc()
	r.sm.Publish(ctx, order.ServiceType, entry)
	r.logger.Info("Order auto-charged",
		zap.String("order_id", orderID),
		zap.String("payment_intent_id", charge.ID),
		zap.Int64("amount_cents", charge.AmountCents))

	if order.PaidAt != nil {
		r.notify(ctx, models.NotificationReceipt, order, func(ctx context.Context) error {
			return r.notifier.SendReceipt(ctx, order.ID, order.Phone,
				fmt.Sprintf("Payment of %s received for your order %s. Thank you!", formatCents(charge.AmountCents), shortID(order.ID)))
		})
	}
	return &ChargeOutcome{Charged: true, PaymentIntentID: charge.ID}, nil
}

func (r *Reconciler) recordChargeFailure(ctx context.Context, orderID, intentID string, perr *models.PaymentError, linkOnFailure bool) (*ChargeOutcome, error) {
	outcome := &ChargeOutcome{PaymentIntentID: intentID, Error: perr}
	var order *models.Order
	var entry *models.OrderEvent
	err := r.repo.WithTx(ctx, func(tx store.Repository) error {
		locked, err := tx.LockOrder(ctx, orderID)
		if err != nil {
			return err
		}
		locked.CaptureAttempts++
		locked.PaymentErrorCode = perr.Code
		locked.PaymentErrorMessage = perr.Message
		if intentID != "" {
			locked.PaymentIntentID = intentID
		}
		entry, err = r.sm.Apply(ctx, tx, locked, models.StatusPaymentFailed, autoChargeActor, "payment_auto_charge_failed: "+string(perr.Kind))
		if err != nil {
			return err
		}
		order = locked

		outcome.RetryScheduled, err = r.scheduleRetry(ctx, tx, locked, perr.Code)
		return err
	})
	if err != nil {
		util.PaymentAutoChargesTotal.WithLabelValues("record_failed").Inc()
		r.logger.Error("Charge failed and the failure could not be recorded",
			zap.String("order_id", orderID),
			zap.String("code", perr.Code),
			zap.Error(err))
		return nil, err
	}

	util.PaymentAutoChargesTotal.WithLabelValues(string(perr.Kind)).Inc()
	r.sm.Publish(ctx, order.ServiceType, entry)
	r.logger.Warn("Auto-charge failed",
		zap.String("order_id", orderID),
		zap.String("kind", string(perr.Kind)),
		zap.String("code", perr.Code),
		zap.Int("attempts", order.CaptureAttempts),
		zap.Bool("retry_scheduled", outcome.RetryScheduled != nil))

	if linkOnFailure || outcome.RetryScheduled == nil {
		r.sendPaymentLink(ctx, order)
	}
	return outcome, nil
}

func (r *Reconciler) sendPaymentLink(ctx context.Context, order *models.Order) {
	r.notify(ctx, models.NotificationPaymentLink, order, func(ctx context.Context) error {
		return r.notifier.SendPaymentLink(ctx, order.ID, order.Phone,
			fmt.Sprintf("We could not charge your saved card for order %s. Please pay %s using the link in your account.",
				shortID(order.ID), formatCents(order.ChargeableCents())))
	})
}

// ChargeFee charges a reschedule fee off-session. It
// reports whether the fee was collected; failures are logged only.
func (r *Reconciler) ChargeFee(ctx context.Context, order *models.Order, feeCents int64, key string) bool {
	if r == nil || feeCents <= 0 {
		return false
	}
	if !lifecycle.CanAutoCharge(order, models.RoleSystem) {
		r.logger.Info("Fee not charged, no saved payment method",
			zap.String("order_id", order.ID),
			zap.Int64("fee_cents", feeCents))
		return false
	}

	charge, err := r.provider.CreateCharge(ctx, payment.ChargeRequest{
		AmountCents:     feeCents,
		Currency:        r.cfg.Currency,
		CustomerID:      order.PaymentCustomerID,
		PaymentMethodID: order.PaymentMethodID,
		OffSession:      true,
		IdempotencyKey:  "fee:" + key,
		Description:     "fee " + key,
		Metadata:        map[string]string{"order_id": order.ID, "fee": key},
	})
	if err == nil {
		if perr := payment.ClassifyCharge(charge); perr != nil {
			err = perr
		}
	}
	if err != nil {
		util.PaymentAutoChargesTotal.WithLabelValues("fee_failed").Inc()
		r.logger.Error("Fee charge failed",
			zap.String("order_id", order.ID),
			zap.Int64("fee_cents", feeCents),
			zap.Error(err))
		return false
	}
	util.PaymentAutoChargesTotal.WithLabelValues("fee_succeeded").Inc()
	return true
}

// IngestResult is what the webhook endpoint acknowledges
type IngestResult struct {
	Received         bool `json:"received"`
	AlreadyProcessed bool `json:"alreadyProcessed"`
}

// Ingest applies one provider event at most once. The signature is checked
// before anything is read or written. The event id is recorded in the same
// transaction as the order mutation.
func (r *Reconciler) Ingest(ctx context.Context, payload []byte, signature string) (*IngestResult, error) {
	ctx, span := util.StartSpan(ctx, "Reconciler.Ingest")
	defer span.End()

	if err := r.verifier.Verify(payload, signature); err != nil {
		util.PaymentEventsTotal.WithLabelValues("unknown", "invalid_signature").Inc()
		r.logger.Warn("Rejected payment event", zap.Error(err))
		return nil, err
	}
	ev, err := payment.ParseEvent(payload)
	if err != nil {
		util.PaymentEventsTotal.WithLabelValues("unknown", "malformed").Inc()
		return nil, err
	}

	seen, err := r.repo.IsPaymentEventProcessed(ctx, ev.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to check event %s: %w", ev.ID, err)
	}
	if seen {
		util.PaymentEventsTotal.WithLabelValues(ev.Type, "duplicate").Inc()
		r.logger.Info("Event already processed", zap.String("event_id", ev.ID))
		return &IngestResult{Received: true, AlreadyProcessed: true}, nil
	}

	var (
		duplicate bool
		order     *models.Order
		entry     *models.OrderEvent
		outcome   string
	)
	err = r.repo.WithTx(ctx, func(tx store.Repository) error {
		rec := &models.PaymentEventRecord{
			EventID:     ev.ID,
			EventType:   ev.Type,
			OrderID:     ev.OrderID(),
			Payload:     payload,
			ProcessedAt: r.now().UTC(),
		}
		inserted, err := tx.InsertPaymentEvent(ctx, rec)
		if err != nil {
			return err
		}
		if !inserted {
			duplicate = true
			return nil
		}

		switch ev.Type {
		case models.ProviderPaymentSucceeded, models.ProviderPaymentFailed,
			models.ProviderChargeRefunded, models.ProviderDisputeCreated:
		default:
			outcome = "ignored"
			r.logger.Info("Unhandled payment event type",
				zap.String("event_id", ev.ID),
				zap.String("type", ev.Type))
			return nil
		}

		order, err = r.resolveOrder(ctx, tx, ev)
		if models.IsNotFound(err) {
			outcome = "unknown_order"
			r.logger.Warn("Payment event for unknown order",
				zap.String("event_id", ev.ID),
				zap.String("type", ev.Type),
				zap.String("order_id", ev.OrderID()))
			return nil
		}
		if err != nil {
			return err
		}

		entry, outcome, err = r.applyEvent(ctx, tx, order, ev)
		return err
	})
	if err != nil {
		util.PaymentEventsTotal.WithLabelValues(ev.Type, "error").Inc()
		r.logger.Error("Failed to apply payment event",
			zap.String("event_id", ev.ID),
			zap.String("type", ev.Type),
			zap.Error(err))
		return nil, err
	}
	if duplicate {
		util.PaymentEventsTotal.WithLabelValues(ev.Type, "duplicate").Inc()
		return &IngestResult{Received: true, AlreadyProcessed: true}, nil
	}

	util.PaymentEventsTotal.WithLabelValues(ev.Type, outcome).Inc()
	if order != nil {
		r.sm.Publish(ctx, order.ServiceType, entry)
		settled := outcome == "settled" || (entry != nil && entry.ToStatus == models.StatusPaidProcessing)
		if settled {
			r.notify(ctx, models.NotificationReceipt, order, func(ctx context.Context) error {
				return r.notifier.SendReceipt(ctx, order.ID, order.Phone,
					fmt.Sprintf("Payment of %s received for your order %s. Thank you!", formatCents(order.ChargeableCents()), shortID(order.ID)))
			})
		}
		if outcome == "payment_link" {
			r.sendPaymentLink(ctx, order)
		}
	}
	return &IngestResult{Received: true}, nil
}

// resolveOrder locks the order an event refers to. A charge made before a
// reschedule names the predecessor, so the successor chain is followed.
func (r *Reconciler) resolveOrder(ctx context.Context, tx store.Repository, ev *models.ProviderEvent) (*models.Order, error) {
	id := ev.OrderID()
	if id == "" {
		intent := ev.Data.Object.PaymentIntent
		if intent == "" {
			intent = ev.Data.Object.ID
		}
		found, err := tx.GetOrderByPaymentIntent(ctx, intent)
		if err != nil {
			return nil, err
		}
		id = found.ID
	}

	for hops := 0; ; hops++ {
		order, err := tx.LockOrder(ctx, id)
		if err != nil {
			return nil, err
		}
		if order.Status != models.StatusRescheduled || order.RescheduledToID == "" || hops >= 10 {
			return order, nil
		}
		id = order.RescheduledToID
	}
}

// applyEvent maps a provider event to an order mutation. The transition is
// validated before any field changes; an event that does not fit the order's
// status is kept on record and the order is flagged for review instead.
func (r *Reconciler) applyEvent(ctx context.Context, tx store.Repository, order *models.Order, ev *models.ProviderEvent) (*models.OrderEvent, string, error) {
	if lifecycle.IsTerminal(order.ServiceType, order.Status) {
		return r.applyToTerminal(ctx, tx, order, ev)
	}

	obj := ev.Data.Object
	reason := ev.Type + " " + ev.ID

	switch ev.Type {
	case models.ProviderPaymentSucceeded:
		if order.Status == models.StatusPaidProcessing || isPastPayment(order.Status) {
			// confirmation of a charge already applied
			outcome := "confirmed"
			if order.PaidAt == nil {
				paidAt := r.now().UTC()
				order.PaidAt = &paidAt
				outcome = "settled"
			}
			if obj.ID != "" {
				order.PaymentIntentID = obj.ID
			}
			order.PaymentErrorCode, order.PaymentErrorMessage = "", ""
			return nil, outcome, tx.UpdateOrder(ctx, order)
		}
		if err := lifecycle.ValidateTransition(order.Status, models.StatusPaidProcessing, order.ServiceType, order); err != nil {
			return r.flag(ctx, tx, order, models.StatusPaidProcessing, err)
		}
		paidAt := r.now().UTC()
		order.PaidAt = &paidAt
		if obj.ID != "" {
			order.PaymentIntentID = obj.ID
		}
		order.PaymentErrorCode, order.PaymentErrorMessage = "", ""
		return r.apply(ctx, tx, order, models.StatusPaidProcessing, reason)

	case models.ProviderPaymentFailed:
		if order.Status == models.StatusPaymentFailed && obj.ID != "" && obj.ID == order.PaymentIntentID {
			// the synchronous charge failure was already recorded
			return nil, "confirmed", nil
		}
		if err := lifecycle.ValidateTransition(order.Status, models.StatusPaymentFailed, order.ServiceType, order); err != nil {
			return r.flag(ctx, tx, order, models.StatusPaymentFailed, err)
		}
		order.CaptureAttempts++
		if obj.ID != "" {
			order.PaymentIntentID = obj.ID
		}
		if obj.LastError != nil {
			order.PaymentErrorCode = obj.LastError.Code
			if obj.LastError.DeclineCode != "" {
				order.PaymentErrorCode = obj.LastError.DeclineCode
			}
			order.PaymentErrorMessage = obj.LastError.Message
		}
		entry, _, err := r.apply(ctx, tx, order, models.StatusPaymentFailed, reason)
		if err != nil {
			return nil, "", err
		}
		scheduled, err := r.scheduleRetry(ctx, tx, order, order.PaymentErrorCode)
		if err != nil {
			return nil, "", err
		}
		if scheduled == nil {
			return entry, "payment_link", nil
		}
		return entry, "retry_scheduled", nil

	case models.ProviderChargeRefunded:
		if err := lifecycle.ValidateTransition(order.Status, models.StatusRefunded, order.ServiceType, order); err != nil {
			return r.flag(ctx, tx, order, models.StatusRefunded, err)
		}
		r.recordRefund(order, obj)
		return r.apply(ctx, tx, order, models.StatusRefunded, reason)

	case models.ProviderDisputeCreated:
		return r.flagDispute(ctx, tx, order, ev)
	}
	return nil, "ignored", nil
}

// applyToTerminal handles events for orders that can no longer change. The
// one mutation allowed is the first provider refund of a canceled order.
func (r *Reconciler) applyToTerminal(ctx context.Context, tx store.Repository, order *models.Order, ev *models.ProviderEvent) (*models.OrderEvent, string, error) {
	switch ev.Type {
	case models.ProviderChargeRefunded:
		if order.Status == models.StatusCanceled && order.RefundedAt == nil {
			r.recordRefund(order, ev.Data.Object)
			return nil, "refund_recorded", tx.UpdateOrder(ctx, order)
		}
	case models.ProviderPaymentSucceeded:
		if order.PaidAt != nil && ev.Data.Object.ID == order.PaymentIntentID {
			return nil, "confirmed", nil
		}
	case models.ProviderDisputeCreated:
		return r.flagDispute(ctx, tx, order, ev)
	}

	order.NeedsReview = true
	r.logger.Warn("Payment event for an order in a terminal status, flagged for review",
		zap.String("order_id", order.ID),
		zap.String("status", string(order.Status)),
		zap.String("event_id", ev.ID),
		zap.String("type", ev.Type))
	return nil, "flagged", tx.UpdateOrder(ctx, order)
}

func (r *Reconciler) recordRefund(order *models.Order, obj models.ProviderObject) {
	amount := obj.AmountRefunded
	if amount == 0 {
		amount = obj.Amount
	}
	refundedAt := r.now().UTC()
	order.RefundCents = amount
	order.RefundedAt = &refundedAt
}

func (r *Reconciler) flagDispute(ctx context.Context, tx store.Repository, order *models.Order, ev *models.ProviderEvent) (*models.OrderEvent, string, error) {
	order.NeedsReview = true
	r.logger.Warn("Payment disputed, order flagged for review",
		zap.String("order_id", order.ID),
		zap.String("event_id", ev.ID),
		zap.String("dispute_reason", ev.Data.Object.Reason),
		zap.Int64("amount_cents", ev.Data.Object.Amount))
	return nil, "flagged", tx.UpdateOrder(ctx, order)
}

func (r *Reconciler) flag(ctx context.Context, tx store.Repository, order *models.Order, target models.OrderStatus, cause error) (*models.OrderEvent, string, error) {
	order.NeedsReview = true
	r.logger.Warn("Payment event conflicts with order status, flagged for review",
		zap.String("order_id", order.ID),
		zap.String("status", string(order.Status)),
		zap.String("target", string(target)),
		zap.Error(cause))
	return nil, "flagged", tx.UpdateOrder(ctx, order)
}

func (r *Reconciler) apply(ctx context.Context, tx store.Repository, order *models.Order, target models.OrderStatus, reason string) (*models.OrderEvent, string, error) {
	entry, err := r.sm.Apply(ctx, tx, order, target, webhookActor, reason)
	if err != nil {
		return nil, "", err
	}
	return entry, "applied", nil
}

// scheduleRetry books the next off-session attempt for a failed payment. It
// returns nil when the order has no saved card or is out of attempts.
func (r *Reconciler) scheduleRetry(ctx context.Context, tx store.Repository, order *models.Order, code string) (*time.Time, error) {
	if order.CaptureAttempts >= r.cfg.MaxCaptureAttempts || !lifecycle.CanAutoCharge(order, models.RoleSystem) {
		return nil, nil
	}
	retry := &models.PaymentRetry{
		OrderID:     order.ID,
		Attempt:     order.CaptureAttempts + 1,
		ErrorCode:   code,
		ScheduledAt: r.now().UTC().Add(r.cfg.RetryBackoff),
		Status:      models.RetryScheduled,
	}
	if err := tx.InsertPaymentRetry(ctx, retry); err != nil {
		return nil, fmt.Errorf("failed to schedule payment retry: %w", err)
	}
	return &retry.ScheduledAt, nil
}

func isPastPayment(s models.OrderStatus) bool {
	switch s {
	case models.StatusInProgress, models.StatusOutForDelivery, models.StatusDelivered, models.StatusCompleted:
		return true
	}
	return false
}

// RetryReport summarises one RetryDuePayments run
type RetryReport struct {
	Locked    bool `json:"locked"`
	Attempted int  `json:"attempted"`
	Succeeded int  `json:"succeeded"`
	Failed    int  `json:"failed"`
	Skipped   int  `json:"skipped"`
}

// RetryDuePayments re-attempts every scheduled retry that is due. Only one
// instance runs at a time when a locker is configured.
func (r *Reconciler) RetryDuePayments(ctx context.Context) (*RetryReport, error) {
	ctx, span := util.StartSpan(ctx, "Reconciler.RetryDuePayments")
	defer span.End()

	report := &RetryReport{}
	if r.locker != nil {
		lock, err := r.locker.AcquireLock(ctx, retryLockKey, r.cfg.RetryLockTTL)
		if err != nil {
			return nil, fmt.Errorf("failed to acquire retry lock: %w", err)
		}
		if lock == nil {
			report.Locked = true
			r.logger.Info("Payment retries already running elsewhere")
			return report, nil
		}
		defer func() {
			if err := r.locker.ReleaseLock(context.WithoutCancel(ctx), lock); err != nil {
				r.logger.Warn("Failed to release retry lock", zap.Error(err))
			}
		}()
	}

	due, err := r.repo.ListDuePaymentRetries(ctx, r.now().UTC(), r.cfg.RetryBatchSize)
	if err != nil {
		return nil, fmt.Errorf("failed to list due retries: %w", err)
	}

	for _, retry := range due {
		status, err := r.runRetry(ctx, retry)
		if err != nil {
			r.logger.Error("Payment retry failed to run",
				zap.Int64("retry_id", retry.ID),
				zap.String("order_id", retry.OrderID),
				zap.Error(err))
			continue
		}
		if err := r.repo.UpdatePaymentRetryStatus(ctx, retry.ID, status); err != nil {
			return report, fmt.Errorf("failed to update retry %d: %w", retry.ID, err)
		}
		util.PaymentRetriesTotal.WithLabelValues(status).Inc()
		switch status {
		case models.RetrySucceeded:
			report.Attempted++
			report.Succeeded++
		case models.RetryFailed:
			report.Attempted++
			report.Failed++
		default:
			report.Skipped++
		}
	}

	r.logger.Info("Payment retries run",
		zap.Int("due", len(due)),
		zap.Int("succeeded", report.Succeeded),
		zap.Int("failed", report.Failed),
		zap.Int("skipped", report.Skipped))
	return report, nil
}

func (r *Reconciler) runRetry(ctx context.Context, retry models.PaymentRetry) (string, error) {
	order, err := r.repo.GetOrderByID(ctx, retry.OrderID)
	if models.IsNotFound(err) {
		return models.RetrySkipped, nil
	}
	if err != nil {
		return "", err
	}
	if order.Status != models.StatusPaymentFailed || !lifecycle.CanAutoCharge(order, models.RoleSystem) {
		return models.RetrySkipped, nil
	}

	outcome, err := r.AutoCharge(ctx, order.ID, false)
	if err != nil {
		return "", err
	}
	if outcome.Charged {
		return models.RetrySucceeded, nil
	}
	return models.RetryFailed, nil
}

func (r *Reconciler) notify(ctx context.Context, kind string, order *models.Order, send func(context.Context) error) {
	if r.notifier == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := send(ctx); err != nil {
		util.NotificationsFailedTotal.WithLabelValues(kind).Inc()
		r.logger.Warn("Notification failed",
			zap.String("kind", kind),
			zap.String("order_id", order.ID),
			zap.Error(err))
	}
}

func formatCents(cents int64) string {
	return fmt.Sprintf("$%d.%02d", cents/100, cents%100)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
