package service

import (
	"context"
	"testing"
	"time"

	"pickup-order-service/internal/models"
	"pickup-order-service/internal/payment"
	"pickup-order-service/internal/redisclient"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// awaitingPayment books a cleaning order and quotes it without a saved card
func (h *harness) awaitingPayment(t *testing.T, key string) *models.Order {
	t.Helper()
	order := h.create(t, cleaningRequest(key, slotA, ""))
	res, err := h.svc.UpdateQuote(context.Background(), order.ID, QuoteRequest{QuoteCents: 15000}, admin)
	require.NoError(t, err)
	require.Equal(t, models.StatusAwaitingPayment, res.Order.Status)
	return res.Order
}

func (h *harness) paid(t *testing.T, key string) *models.Order {
	t.Helper()
	order := h.create(t, cleaningRequest(key, slotA, "pm_card_visa"))
	res, err := h.svc.UpdateQuote(context.Background(), order.ID, QuoteRequest{QuoteCents: 15000}, admin)
	require.NoError(t, err)
	require.True(t, res.AutoCharged)
	return res.Order
}

func TestIngestPaymentSucceeded(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	order := h.awaitingPayment(t, "k-1")

	payload, sig := h.webhook(t, "evt_1", models.ProviderPaymentSucceeded, models.ProviderObject{
		ID:       "pi_manual",
		Amount:   15000,
		Metadata: map[string]string{"order_id": order.ID},
	})

	res, err := h.rec.Ingest(ctx, payload, sig)
	require.NoError(t, err)
	assert.True(t, res.Received)
	assert.False(t, res.AlreadyProcessed)

	stored := h.reload(t, order.ID)
	assert.Equal(t, models.StatusPaidProcessing, stored.Status)
	assert.NotNil(t, stored.PaidAt)
	assert.Equal(t, "pi_manual", stored.PaymentIntentID)
	assert.Len(t, h.notifications(t, models.NotificationReceipt), 1)

	eventsBefore, err := h.repo.ListOrderEvents(ctx, order.ID)
	require.NoError(t, err)

	res, err = h.rec.Ingest(ctx, payload, sig)
	require.NoError(t, err)
	assert.True(t, res.AlreadyProcessed)

	eventsAfter, err := h.repo.ListOrderEvents(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, len(eventsBefore), len(eventsAfter))
	assert.Len(t, h.notifications(t, models.NotificationReceipt), 1)
}

func TestIngestRejectsInvalidSignature(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	order := h.awaitingPayment(t, "k-1")

	payload, _ := h.webhook(t, "evt_forged", models.ProviderPaymentSucceeded, models.ProviderObject{
		ID:       "pi_x",
		Metadata: map[string]string{"order_id": order.ID},
	})

	_, err := h.rec.Ingest(ctx, payload, "t=1,v1=deadbeef")
	require.ErrorIs(t, err, models.ErrInvalidSignature)

	seen, err := h.repo.IsPaymentEventProcessed(ctx, "evt_forged")
	require.NoError(t, err)
	assert.False(t, seen)
	assert.Equal(t, models.StatusAwaitingPayment, h.reload(t, order.ID).Status)
}

func TestIngestResolvesOrderByPaymentIntent(t *testing.T) {
	h := newHarness(t)
	order := h.awaitingPayment(t, "k-1")
	h.setOrder(t, order.ID, func(o *models.Order) { o.PaymentIntentID = "pi_link" })

	payload, sig := h.webhook(t, "evt_1", models.ProviderPaymentFailed, models.ProviderObject{
		ID:        "pi_link",
		LastError: &models.ProviderError{Code: "card_declined", DeclineCode: "expired_card", Message: "Your card has expired."},
	})
	_, err := h.rec.Ingest(context.Background(), payload, sig)
	require.NoError(t, err)

	stored := h.reload(t, order.ID)
	assert.Equal(t, models.StatusPaymentFailed, stored.Status)
	assert.Equal(t, "expired_card", stored.PaymentErrorCode)
	assert.Equal(t, 1, stored.CaptureAttempts)
	assert.Len(t, h.notifications(t, models.NotificationPaymentLink), 1, "no saved card to retry")
}

func TestIngestSucceededAfterAutoChargeOnlyConfirms(t *testing.T) {
	h := newHarness(t)
	order := h.paid(t, "k-1")
	eventsBefore, err := h.repo.ListOrderEvents(context.Background(), order.ID)
	require.NoError(t, err)

	payload, sig := h.webhook(t, "evt_1", models.ProviderPaymentSucceeded, models.ProviderObject{
		ID:       order.PaymentIntentID,
		Metadata: map[string]string{"order_id": order.ID},
	})
	_, err = h.rec.Ingest(context.Background(), payload, sig)
	require.NoError(t, err)

	eventsAfter, err := h.repo.ListOrderEvents(context.Background(), order.ID)
	require.NoError(t, err)
	assert.Equal(t, len(eventsBefore), len(eventsAfter))
	assert.Equal(t, models.StatusPaidProcessing, h.reload(t, order.ID).Status)
}

func TestIngestRefund(t *testing.T) {
	h := newHarness(t)
	order := h.paid(t, "k-1")

	payload, sig := h.webhook(t, "evt_refund", models.ProviderChargeRefunded, models.ProviderObject{
		ID:             "ch_1",
		PaymentIntent:  order.PaymentIntentID,
		Amount:         15000,
		AmountRefunded: 15000,
	})
	_, err := h.rec.Ingest(context.Background(), payload, sig)
	require.NoError(t, err)

	stored := h.reload(t, order.ID)
	assert.Equal(t, models.StatusRefunded, stored.Status)
	assert.EqualValues(t, 15000, stored.RefundCents)
}

func TestIngestRefundOfCanceledOrderRecordsAmountOnly(t *testing.T) {
	h := newHarness(t)
	order := h.paid(t, "k-1")
	_, err := h.svc.CancelOrder(context.Background(), order.ID, "", customer)
	require.NoError(t, err)

	payload, sig := h.webhook(t, "evt_refund", models.ProviderChargeRefunded, models.ProviderObject{
		ID:             "ch_1",
		PaymentIntent:  order.PaymentIntentID,
		AmountRefunded: 15000,
		Metadata:       map[string]string{"order_id": order.ID},
	})
	_, err = h.rec.Ingest(context.Background(), payload, sig)
	require.NoError(t, err)

	stored := h.reload(t, order.ID)
	assert.Equal(t, models.StatusCanceled, stored.Status)
	assert.EqualValues(t, 15000, stored.RefundCents)
	assert.False(t, stored.NeedsReview)
}

func TestIngestSecondRefundOfCanceledOrderIsFlagged(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	order := h.paid(t, "k-1")
	_, err := h.svc.CancelOrder(ctx, order.ID, "", customer)
	require.NoError(t, err)

	for _, ev := range []struct {
		id     string
		amount int64
	}{{"evt_refund_1", 15000}, {"evt_refund_2", 9000}} {
		payload, sig := h.webhook(t, ev.id, models.ProviderChargeRefunded, models.ProviderObject{
			ID:             "ch_1",
			PaymentIntent:  order.PaymentIntentID,
			AmountRefunded: ev.amount,
			Metadata:       map[string]string{"order_id": order.ID},
		})
		_, err = h.rec.Ingest(ctx, payload, sig)
		require.NoError(t, err)
	}

	stored := h.reload(t, order.ID)
	assert.Equal(t, models.StatusCanceled, stored.Status)
	assert.EqualValues(t, 15000, stored.RefundCents)
	assert.True(t, stored.NeedsReview)
}

func TestIngestLeavesRefundedOrderUnchanged(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	order := h.paid(t, "k-1")

	payload, sig := h.webhook(t, "evt_refund_1", models.ProviderChargeRefunded, models.ProviderObject{
		ID:             "ch_1",
		PaymentIntent:  order.PaymentIntentID,
		AmountRefunded: 15000,
	})
	_, err := h.rec.Ingest(ctx, payload, sig)
	require.NoError(t, err)

	refunded := h.reload(t, order.ID)
	require.Equal(t, models.StatusRefunded, refunded.Status)
	require.NotNil(t, refunded.RefundedAt)
	eventsBefore, err := h.repo.ListOrderEvents(ctx, order.ID)
	require.NoError(t, err)

	payload, sig = h.webhook(t, "evt_refund_2", models.ProviderChargeRefunded, models.ProviderObject{
		ID:             "ch_2",
		PaymentIntent:  order.PaymentIntentID,
		AmountRefunded: 4000,
	})
	_, err = h.rec.Ingest(ctx, payload, sig)
	require.NoError(t, err)

	payload, sig = h.webhook(t, "evt_failed", models.ProviderPaymentFailed, models.ProviderObject{
		ID:        order.PaymentIntentID,
		Metadata:  map[string]string{"order_id": order.ID},
		LastError: &models.ProviderError{Code: "card_declined", DeclineCode: "insufficient_funds"},
	})
	_, err = h.rec.Ingest(ctx, payload, sig)
	require.NoError(t, err)

	stored := h.reload(t, order.ID)
	assert.Equal(t, models.StatusRefunded, stored.Status)
	assert.EqualValues(t, 15000, stored.RefundCents)
	assert.True(t, refunded.RefundedAt.Equal(*stored.RefundedAt))
	assert.Equal(t, refunded.CaptureAttempts, stored.CaptureAttempts)
	assert.Equal(t, refunded.PaymentErrorCode, stored.PaymentErrorCode)
	assert.True(t, stored.NeedsReview)

	eventsAfter, err := h.repo.ListOrderEvents(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, len(eventsBefore), len(eventsAfter))

	due, err := h.repo.ListDuePaymentRetries(ctx, testNow.Add(48*time.Hour), 10)
	require.NoError(t, err)
	assert.Empty(t, due)
}

// processingCharge books a cleaning order whose auto-charge is accepted but
// not yet settled by the provider
func (h *harness) processingCharge(t *testing.T, key string) *models.Order {
	t.Helper()
	order := h.create(t, cleaningRequest(key, slotA, payment.MethodProcessing))
	res, err := h.svc.UpdateQuote(context.Background(), order.ID, QuoteRequest{QuoteCents: 15000}, admin)
	require.NoError(t, err)
	require.True(t, res.AutoCharged)

	stored := h.reload(t, order.ID)
	require.Equal(t, models.StatusPaidProcessing, stored.Status)
	require.Nil(t, stored.PaidAt)
	require.NotEmpty(t, stored.PaymentIntentID)
	return stored
}

func TestIngestFailureOfProcessingCharge(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	order := h.processingCharge(t, "k-1")
	assert.Empty(t, h.notifications(t, models.NotificationReceipt))

	payload, sig := h.webhook(t, "evt_failed", models.ProviderPaymentFailed, models.ProviderObject{
		ID:        order.PaymentIntentID,
		Metadata:  map[string]string{"order_id": order.ID},
		LastError: &models.ProviderError{Code: "card_declined", DeclineCode: "insufficient_funds", Message: "Your card has insufficient funds."},
	})
	_, err := h.rec.Ingest(ctx, payload, sig)
	require.NoError(t, err)

	stored := h.reload(t, order.ID)
	assert.Equal(t, models.StatusPaymentFailed, stored.Status)
	assert.Equal(t, order.CaptureAttempts+1, stored.CaptureAttempts)
	assert.Equal(t, "insufficient_funds", stored.PaymentErrorCode)
	assert.False(t, stored.NeedsReview)

	due, err := h.repo.ListDuePaymentRetries(ctx, testNow.Add(time.Hour), 10)
	require.NoError(t, err)
	assert.Empty(t, due, "retry waits for the backoff")

	due, err = h.repo.ListDuePaymentRetries(ctx, testNow.Add(3*time.Hour), 10)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, stored.CaptureAttempts+1, due[0].Attempt)
	assert.Empty(t, h.notifications(t, models.NotificationPaymentLink))
}

func TestIngestSettlesProcessingCharge(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	order := h.processingCharge(t, "k-1")
	eventsBefore, err := h.repo.ListOrderEvents(ctx, order.ID)
	require.NoError(t, err)

	payload, sig := h.webhook(t, "evt_paid", models.ProviderPaymentSucceeded, models.ProviderObject{
		ID:       order.PaymentIntentID,
		Metadata: map[string]string{"order_id": order.ID},
	})
	_, err = h.rec.Ingest(ctx, payload, sig)
	require.NoError(t, err)

	stored := h.reload(t, order.ID)
	assert.Equal(t, models.StatusPaidProcessing, stored.Status)
	assert.NotNil(t, stored.PaidAt)
	assert.Len(t, h.notifications(t, models.NotificationReceipt), 1)

	eventsAfter, err := h.repo.ListOrderEvents(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, len(eventsBefore), len(eventsAfter))

	// once settled, a late failure notice no longer applies
	payload, sig = h.webhook(t, "evt_failed", models.ProviderPaymentFailed, models.ProviderObject{
		ID:       order.PaymentIntentID,
		Metadata: map[string]string{"order_id": order.ID},
	})
	_, err = h.rec.Ingest(ctx, payload, sig)
	require.NoError(t, err)

	stored = h.reload(t, order.ID)
	assert.Equal(t, models.StatusPaidProcessing, stored.Status)
	assert.True(t, stored.NeedsReview)
}

func TestIngestDisputeFlagsOrder(t *testing.T) {
	h := newHarness(t)
	order := h.paid(t, "k-1")

	payload, sig := h.webhook(t, "evt_dispute", models.ProviderDisputeCreated, models.ProviderObject{
		ID:            "dp_1",
		PaymentIntent: order.PaymentIntentID,
		Amount:        15000,
		Reason:        "fraudulent",
	})
	res, err := h.rec.Ingest(context.Background(), payload, sig)
	require.NoError(t, err)
	assert.True(t, res.Received)

	stored := h.reload(t, order.ID)
	assert.True(t, stored.NeedsReview)
	assert.Equal(t, models.StatusPaidProcessing, stored.Status)
}

func TestIngestIllegalTransitionFlagsAndAcks(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	order := h.create(t, laundryRequest("k-1", slotA))

	payload, sig := h.webhook(t, "evt_odd", models.ProviderPaymentFailed, models.ProviderObject{
		ID:       "pi_odd",
		Metadata: map[string]string{"order_id": order.ID},
	})
	res, err := h.rec.Ingest(ctx, payload, sig)
	require.NoError(t, err)
	assert.True(t, res.Received)

	stored := h.reload(t, order.ID)
	assert.Equal(t, models.StatusPendingPickup, stored.Status)
	assert.True(t, stored.NeedsReview)

	seen, err := h.repo.IsPaymentEventProcessed(ctx, "evt_odd")
	require.NoError(t, err)
	assert.True(t, seen)
}

func TestIngestUnknownTypeAndOrderAreAcked(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	payload, sig := h.webhook(t, "evt_other", "customer.updated", models.ProviderObject{ID: "cus_1"})
	res, err := h.rec.Ingest(ctx, payload, sig)
	require.NoError(t, err)
	assert.True(t, res.Received)

	payload, sig = h.webhook(t, "evt_orphan", models.ProviderPaymentSucceeded, models.ProviderObject{
		ID:       "pi_orphan",
		Metadata: map[string]string{"order_id": "missing"},
	})
	res, err = h.rec.Ingest(ctx, payload, sig)
	require.NoError(t, err)
	assert.True(t, res.Received)

	seen, err := h.repo.IsPaymentEventProcessed(ctx, "evt_orphan")
	require.NoError(t, err)
	assert.True(t, seen)
}

func TestIngestFollowsRescheduledOrderToSuccessor(t *testing.T) {
	h := newHarness(t)
	order := h.paid(t, "k-1")

	res, err := h.svc.RescheduleOrder(context.Background(), order.ID, &RescheduleRequest{SlotStart: slotB}, customer)
	require.NoError(t, err)

	payload, sig := h.webhook(t, "evt_refund", models.ProviderChargeRefunded, models.ProviderObject{
		ID:             "ch_1",
		PaymentIntent:  order.PaymentIntentID,
		AmountRefunded: 15000,
		Metadata:       map[string]string{"order_id": order.ID},
	})
	_, err = h.rec.Ingest(context.Background(), payload, sig)
	require.NoError(t, err)

	assert.Equal(t, models.StatusRescheduled, h.reload(t, order.ID).Status)
	successor := h.reload(t, res.NewOrderID)
	assert.Equal(t, models.StatusRefunded, successor.Status)
	assert.EqualValues(t, 15000, successor.RefundCents)
}

func TestRetryDuePaymentsChargesUpdatedCard(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	order := h.create(t, cleaningRequest("k-1", slotA, "pm_card_chargeDeclined"))
	_, err := h.svc.UpdateQuote(ctx, order.ID, QuoteRequest{QuoteCents: 15000}, admin)
	require.NoError(t, err)

	report, err := h.rec.RetryDuePayments(ctx)
	require.NoError(t, err)
	assert.Zero(t, report.Attempted, "retry is not due yet")

	h.setOrder(t, order.ID, func(o *models.Order) { o.PaymentMethodID = "pm_card_visa" })
	h.setNow(testNow.Add(3 * time.Hour))

	report, err = h.rec.RetryDuePayments(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Succeeded)

	stored := h.reload(t, order.ID)
	assert.Equal(t, models.StatusPaidProcessing, stored.Status)
	assert.Equal(t, 2, stored.CaptureAttempts)
	assert.Empty(t, stored.PaymentErrorCode)

	report, err = h.rec.RetryDuePayments(ctx)
	require.NoError(t, err)
	assert.Zero(t, report.Attempted)
}

func TestRetryDuePaymentsStopsAfterMaxAttempts(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	order := h.create(t, cleaningRequest("k-1", slotA, "pm_card_insufficientFunds"))
	_, err := h.svc.UpdateQuote(ctx, order.ID, QuoteRequest{QuoteCents: 15000}, admin)
	require.NoError(t, err)
	assert.Empty(t, h.notifications(t, models.NotificationPaymentLink))

	h.setNow(testNow.Add(3 * time.Hour))
	report, err := h.rec.RetryDuePayments(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Failed)

	h.setNow(testNow.Add(6 * time.Hour))
	report, err = h.rec.RetryDuePayments(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Failed)

	stored := h.reload(t, order.ID)
	assert.Equal(t, models.StatusPaymentFailed, stored.Status)
	assert.Equal(t, 3, stored.CaptureAttempts)
	assert.Equal(t, "insufficient_funds", stored.PaymentErrorCode)

	due, err := h.repo.ListDuePaymentRetries(ctx, testNow.Add(48*time.Hour), 10)
	require.NoError(t, err)
	assert.Empty(t, due)
	assert.Len(t, h.notifications(t, models.NotificationPaymentLink), 1)
}

func TestRetryDuePaymentsSkipsSettledOrders(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	order := h.create(t, cleaningRequest("k-1", slotA, "pm_card_chargeDeclined"))
	_, err := h.svc.UpdateQuote(ctx, order.ID, QuoteRequest{QuoteCents: 15000}, admin)
	require.NoError(t, err)

	payload, sig := h.webhook(t, "evt_paid", models.ProviderPaymentSucceeded, models.ProviderObject{
		ID:       "pi_link",
		Metadata: map[string]string{"order_id": order.ID},
	})
	_, err = h.rec.Ingest(ctx, payload, sig)
	require.NoError(t, err)

	h.setNow(testNow.Add(3 * time.Hour))
	report, err := h.rec.RetryDuePayments(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Skipped)
	assert.Len(t, h.provider.Calls(), 1)
}

func TestRetryDuePaymentsHonorsLock(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	locker := redisclient.NewFromRedis(rdb)
	h.rec.locker = locker

	held, err := locker.AcquireLock(ctx, retryLockKey, time.Minute)
	require.NoError(t, err)
	require.NotNil(t, held)

	report, err := h.rec.RetryDuePayments(ctx)
	require.NoError(t, err)
	assert.True(t, report.Locked)

	require.NoError(t, locker.ReleaseLock(ctx, held))
	report, err = h.rec.RetryDuePayments(ctx)
	require.NoError(t, err)
	assert.False(t, report.Locked)
}

func TestChargeFeeWithoutCard(t *testing.T) {
	h := newHarness(t)
	order := h.create(t, laundryRequest("k-1", slotA))

	assert.False(t, h.rec.ChargeFee(context.Background(), order, 500, "reschedule:x"))
	assert.Empty(t, h.provider.Calls())

	var nilRec *Reconciler
	assert.False(t, nilRec.ChargeFee(context.Background(), order, 500, "reschedule:x"))
}
