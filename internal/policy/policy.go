// Package policy maps an order and the active cancellation policy to the
// actions a customer may take and what they cost.
package policy

import (
	"fmt"
	"math"
	"time"

	"pickup-order-service/internal/lifecycle"
	"pickup-order-service/internal/models"
)

// Evaluation is the outcome of Evaluate
type Evaluation struct {
	CanCancel            bool   `json:"can_cancel"`
	CancelReason         string `json:"cancel_reason,omitempty"`
	CancellationFeeCents int64  `json:"cancellation_fee_cents"`
	CanReschedule        bool   `json:"can_reschedule"`
	RescheduleReason     string `json:"reschedule_reason,omitempty"`
	RescheduleFeeCents   int64  `json:"reschedule_fee_cents"`
	RefundAmountCents    int64  `json:"refund_amount_cents"`
	PolicyID             *int64 `json:"policy_id,omitempty"`
	PolicyVersion        int    `json:"policy_version"`
}

// Evaluate decides, at time now, whether the order may be canceled or
// rescheduled and the fee for each. p is the policy active for the order's
// service type at request time; it may be nil for laundry.
func Evaluate(order *models.Order, p *models.CancellationPolicy, now time.Time) Evaluation {
	ev := Evaluation{}
	if p != nil {
		id := p.ID
		ev.PolicyID = &id
		ev.PolicyVersion = p.Version
	}

	st := order.ServiceType
	if lifecycle.IsTerminal(st, order.Status) {
		reason := fmt.Sprintf("order is %s and can no longer be changed", order.Status)
		ev.CancelReason, ev.RescheduleReason = reason, reason
		return ev
	}

	switch st {
	case models.ServiceLaundry:
		evaluateLaundry(order, &ev)
	case models.ServiceCleaning:
		evaluateCleaning(order, p, now, &ev)
	default:
		ev.CancelReason = "unknown service type"
		ev.RescheduleReason = ev.CancelReason
	}
	return ev
}

// Laundry is paid after completion, so before pickup both actions are free.
func evaluateLaundry(order *models.Order, ev *Evaluation) {
	if order.Status == models.StatusPendingPickup {
		ev.CanCancel = true
		ev.CanReschedule = true
		ev.RefundAmountCents = order.PaidCents()
		return
	}
	reason := "laundry orders can only be changed before pickup"
	ev.CancelReason, ev.RescheduleReason = reason, reason
}

func evaluateCleaning(order *models.Order, p *models.CancellationPolicy, now time.Time, ev *Evaluation) {
	if p == nil {
		reason := "no active cancellation policy for cleaning"
		ev.CancelReason, ev.RescheduleReason = reason, reason
		return
	}

	lead := order.PickupStart.Sub(now)
	// fees are a share of what was paid; an unpaid order owes nothing
	paid := order.PaidCents()

	switch {
	case !p.AllowCancel:
		ev.CancelReason = "cancellation is not allowed for cleaning orders"
	case !lifecycle.IsCancellable(order.ServiceType, order.Status):
		ev.CancelReason = fmt.Sprintf("orders in status %s cannot be canceled", order.Status)
	default:
		ev.CanCancel = true
		if withinNotice(lead, p.NoticeHours) {
			ev.CancellationFeeCents = percentOf(paid, p.CancellationFeePct)
		}
		ev.RefundAmountCents = paid - ev.CancellationFeeCents
	}

	switch {
	case !p.AllowReschedule:
		ev.RescheduleReason = "rescheduling is not allowed for cleaning orders"
	case !lifecycle.IsReschedulable(order.ServiceType, order.Status):
		ev.RescheduleReason = fmt.Sprintf("orders in status %s cannot be rescheduled", order.Status)
	default:
		ev.CanReschedule = true
		if withinNotice(lead, p.RescheduleNoticeHours) {
			ev.RescheduleFeeCents = percentOf(paid, p.RescheduleFeePct)
		}
	}
}

// withinNotice reports whether lead time is short of the notice window. A
// zero window never charges.
func withinNotice(lead time.Duration, noticeHours int) bool {
	if noticeHours <= 0 {
		return false
	}
	return lead < time.Duration(noticeHours)*time.Hour
}

func percentOf(amount int64, pct float64) int64 {
	if amount <= 0 || pct <= 0 {
		return 0
	}
	return int64(math.Round(float64(amount) * pct / 100))
}
