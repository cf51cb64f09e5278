package policy

import (
	"strings"
	"testing"
	"time"

	"pickup-order-service/internal/models"

	"github.com/stretchr/testify/assert"
)

var now = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

func cleaningPolicy() *models.CancellationPolicy {
	return &models.CancellationPolicy{
		ID:                    7,
		ServiceType:           models.ServiceCleaning,
		Version:               3,
		NoticeHours:           24,
		CancellationFeePct:    50,
		RescheduleNoticeHours: 24,
		RescheduleFeePct:      25,
		AllowCancel:           true,
		AllowReschedule:       true,
		Active:                true,
	}
}

func paidCleaning(slotStart time.Time) *models.Order {
	quote := int64(15000)
	paidAt := now.Add(-48 * time.Hour)
	return &models.Order{
		ServiceType: models.ServiceCleaning,
		Status:      models.StatusPaidProcessing,
		PickupStart: slotStart,
		TotalCents:  15000,
		QuoteCents:  &quote,
		PaidAt:      &paidAt,
	}
}

func TestEvaluate_CleaningNoticeBoundary(t *testing.T) {
	p := cleaningPolicy()

	exact := Evaluate(paidCleaning(now.Add(24*time.Hour)), p, now)
	assert.True(t, exact.CanCancel)
	assert.Equal(t, int64(0), exact.CancellationFeeCents)
	assert.Equal(t, int64(15000), exact.RefundAmountCents)

	late := Evaluate(paidCleaning(now.Add(23*time.Hour+59*time.Minute)), p, now)
	assert.True(t, late.CanCancel)
	assert.Equal(t, int64(7500), late.CancellationFeeCents)
	assert.Equal(t, int64(7500), late.RefundAmountCents)
	assert.Equal(t, int64(3750), late.RescheduleFeeCents)
	assert.Equal(t, 3, late.PolicyVersion)
	if assert.NotNil(t, late.PolicyID) {
		assert.Equal(t, int64(7), *late.PolicyID)
	}
}

func TestEvaluate_ZeroNoticeIsAlwaysFree(t *testing.T) {
	p := cleaningPolicy()
	p.NoticeHours = 0
	p.RescheduleNoticeHours = 0

	ev := Evaluate(paidCleaning(now.Add(time.Minute)), p, now)
	assert.True(t, ev.CanCancel)
	assert.Zero(t, ev.CancellationFeeCents)
	assert.Zero(t, ev.RescheduleFeeCents)
}

func TestEvaluate_CleaningFlagsAndStatus(t *testing.T) {
	p := cleaningPolicy()
	p.AllowCancel = false
	ev := Evaluate(paidCleaning(now.Add(72*time.Hour)), p, now)
	assert.False(t, ev.CanCancel)
	assert.NotEmpty(t, ev.CancelReason)
	assert.True(t, ev.CanReschedule)

	inService := paidCleaning(now.Add(-time.Hour))
	inService.Status = models.StatusInProgress
	ev = Evaluate(inService, cleaningPolicy(), now)
	assert.False(t, ev.CanCancel)
	assert.False(t, ev.CanReschedule)
	assert.Contains(t, ev.CancelReason, "in_progress")

	moved := paidCleaning(now.Add(72 * time.Hour))
	moved.Status = models.StatusRescheduled
	ev = Evaluate(moved, cleaningPolicy(), now)
	assert.False(t, ev.CanCancel)
	assert.False(t, ev.CanReschedule)
}

func TestEvaluate_CleaningWithoutPolicy(t *testing.T) {
	ev := Evaluate(paidCleaning(now.Add(72*time.Hour)), nil, now)
	assert.False(t, ev.CanCancel)
	assert.False(t, ev.CanReschedule)
}

func TestEvaluate_UnpaidCleaningOwesNoFee(t *testing.T) {
	order := &models.Order{
		ServiceType: models.ServiceCleaning,
		Status:      models.StatusPending,
		PickupStart: now.Add(2 * time.Hour),
		TotalCents:  10000,
	}
	ev := Evaluate(order, cleaningPolicy(), now)
	assert.True(t, ev.CanCancel)
	assert.True(t, ev.CanReschedule)
	assert.Zero(t, ev.CancellationFeeCents)
	assert.Zero(t, ev.RescheduleFeeCents)
	assert.Zero(t, ev.RefundAmountCents)
}

func TestEvaluate_LaundryAlwaysFreeBeforePickup(t *testing.T) {
	order := &models.Order{
		ServiceType: models.ServiceLaundry,
		Status:      models.StatusPendingPickup,
		PickupStart: now.Add(10 * time.Minute),
		TotalCents:  4000,
	}
	ev := Evaluate(order, nil, now)
	assert.True(t, ev.CanCancel)
	assert.True(t, ev.CanReschedule)
	assert.Zero(t, ev.CancellationFeeCents)
	assert.Zero(t, ev.RescheduleFeeCents)

	order.Status = models.StatusAtFacility
	ev = Evaluate(order, nil, now)
	assert.False(t, ev.CanCancel)
	assert.Equal(t, "laundry orders can only be changed before pickup", ev.CancelReason)
}

func TestRenderTerms(t *testing.T) {
	p := *cleaningPolicy()
	p.RescheduleFeePct = 12.5
	text := RenderTerms([]models.CancellationPolicy{p})

	assert.True(t, strings.Contains(text, "Cleaning (policy v3)"))
	assert.Contains(t, text, "24 hours notice")
	assert.Contains(t, text, "50% of the order amount")
	assert.Contains(t, text, "12.5% of the order amount")
}
