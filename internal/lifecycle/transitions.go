// Package lifecycle holds the one adjacency table every status mutation
// consults, plus the predicates derived from it.
package lifecycle

import (
	"fmt"

	"pickup-order-service/internal/models"
)

type edges map[models.OrderStatus][]models.OrderStatus

var laundryEdges = edges{
	models.StatusPendingPickup: {models.StatusAtFacility, models.StatusCanceled},
	models.StatusAtFacility: {
		models.StatusAwaitingPayment, models.StatusPaidProcessing, models.StatusPaymentFailed, models.StatusCanceled,
	},
	models.StatusAwaitingPayment: {models.StatusPaidProcessing, models.StatusPaymentFailed, models.StatusCanceled},
	models.StatusPaymentFailed: {
		models.StatusPaidProcessing, models.StatusPaymentFailed, models.StatusAwaitingPayment, models.StatusCanceled,
	},
	models.StatusPaidProcessing: {models.StatusInProgress, models.StatusRefunded, models.StatusPaymentFailed},
	models.StatusInProgress:     {models.StatusOutForDelivery, models.StatusRefunded},
	models.StatusOutForDelivery: {models.StatusDelivered, models.StatusRefunded},
	models.StatusDelivered:      {models.StatusCompleted, models.StatusRefunded},
	models.StatusCompleted:      nil,
	models.StatusCanceled:       nil,
	models.StatusRefunded:       nil,
}

var cleaningEdges = edges{
	models.StatusPending: {
		models.StatusAwaitingPayment, models.StatusPaidProcessing, models.StatusPaymentFailed,
		models.StatusCanceled, models.StatusRescheduled,
	},
	models.StatusAwaitingPayment: {
		models.StatusPaidProcessing, models.StatusPaymentFailed, models.StatusCanceled, models.StatusRescheduled,
	},
	models.StatusPaymentFailed: {
		models.StatusPaidProcessing, models.StatusPaymentFailed, models.StatusAwaitingPayment, models.StatusCanceled,
	},
	models.StatusPaidProcessing: {
		models.StatusInProgress, models.StatusCanceled, models.StatusRefunded, models.StatusRescheduled,
		models.StatusPaymentFailed,
	},
	models.StatusInProgress:  {models.StatusCompleted, models.StatusRefunded},
	models.StatusCompleted:   nil,
	models.StatusCanceled:    nil,
	models.StatusRefunded:    nil,
	models.StatusRescheduled: nil,
}

func table(st models.ServiceType) edges {
	switch st {
	case models.ServiceLaundry:
		return laundryEdges
	case models.ServiceCleaning:
		return cleaningEdges
	}
	return nil
}

// InitialStatus is the status an order is created in
func InitialStatus(st models.ServiceType) (models.OrderStatus, error) {
	switch st {
	case models.ServiceLaundry:
		return models.StatusPendingPickup, nil
	case models.ServiceCleaning:
		return models.StatusPending, nil
	}
	return "", models.NewValidationError("INVALID_SERVICE_TYPE", fmt.Sprintf("unknown service type %q", st))
}

// ValidStatuses lists the statuses an order of the given type may be in
func ValidStatuses(st models.ServiceType) []models.OrderStatus {
	t := table(st)
	out := make([]models.OrderStatus, 0, len(t))
	for s := range t {
		out = append(out, s)
	}
	return out
}

// IsValidStatus reports whether s belongs to the service type's status set
func IsValidStatus(st models.ServiceType, s models.OrderStatus) bool {
	_, ok := table(st)[s]
	return ok
}

// IsTerminal reports whether no transition leaves s
func IsTerminal(st models.ServiceType, s models.OrderStatus) bool {
	next, ok := table(st)[s]
	return ok && len(next) == 0
}

func allowed(st models.ServiceType, from, to models.OrderStatus) bool {
	for _, s := range table(st)[from] {
		if s == to {
			return true
		}
	}
	return false
}

// IsCancellable reports whether an order in status s may still move to canceled
func IsCancellable(st models.ServiceType, s models.OrderStatus) bool {
	return allowed(st, s, models.StatusCanceled)
}

// IsReschedulable reports whether an order in status s may still be moved to
// another slot. Laundry can move only before pickup; cleaning until service starts.
func IsReschedulable(st models.ServiceType, s models.OrderStatus) bool {
	switch st {
	case models.ServiceLaundry:
		return s == models.StatusPendingPickup
	case models.ServiceCleaning:
		return allowed(st, s, models.StatusRescheduled)
	}
	return false
}

// IsQuotable reports whether a quote may be set on an order in status s
func IsQuotable(st models.ServiceType, s models.OrderStatus) bool {
	switch st {
	case models.ServiceLaundry:
		return s == models.StatusAtFacility || s == models.StatusAwaitingPayment || s == models.StatusPaymentFailed
	case models.ServiceCleaning:
		return s == models.StatusPending || s == models.StatusAwaitingPayment || s == models.StatusPaymentFailed
	}
	return false
}

// IsPaymentStatus reports whether s may only be entered by payment reconciliation
func IsPaymentStatus(s models.OrderStatus) bool {
	return s == models.StatusPaidProcessing || s == models.StatusPaymentFailed || s == models.StatusRefunded
}

// ValidateTransition checks current -> target against the service type's
// adjacency table and the cross-cutting guards. A nil error means valid.
func ValidateTransition(current, target models.OrderStatus, st models.ServiceType, order *models.Order) error {
	reject := func(reason string) error {
		return &models.TransitionError{ServiceType: st, From: current, To: target, Reason: reason}
	}

	if !st.Valid() {
		return reject("unknown service type")
	}
	if !IsValidStatus(st, current) {
		return reject("current status is not valid for service type")
	}
	if !IsValidStatus(st, target) {
		return reject("target status is not valid for service type")
	}
	if !allowed(st, current, target) {
		return reject("transition not permitted")
	}

	switch target {
	case models.StatusCanceled:
		if !IsCancellable(st, current) {
			return reject("order is no longer cancellable")
		}
	case models.StatusPaidProcessing, models.StatusPaymentFailed:
		if order != nil && order.ChargeableCents() <= 0 {
			return reject("order has no amount to charge")
		}
		// a processing charge may still fail; a settled one may not
		if target == models.StatusPaymentFailed && current == models.StatusPaidProcessing &&
			(order == nil || order.PaidAt != nil) {
			return reject("payment already settled")
		}
	case models.StatusRefunded:
		if order != nil && order.PaidAt == nil {
			return reject("order was never paid")
		}
	case models.StatusRescheduled:
		if order != nil && order.RescheduledToID == "" {
			return reject("successor order is not linked")
		}
	}
	return nil
}

// CanAutoCharge reports whether an off-session charge may be attempted. Orders
// without a saved customer and payment method fall back to a payment link.
func CanAutoCharge(order *models.Order, role models.ActorRole) bool {
	if order == nil || role == models.RoleCustomer {
		return false
	}
	return order.PaymentCustomerID != "" && order.PaymentMethodID != ""
}

// PostQuoteStatus is the status an order moves to right after a quote is set
func PostQuoteStatus(order *models.Order, role models.ActorRole) models.OrderStatus {
	if CanAutoCharge(order, role) {
		return models.StatusPaidProcessing
	}
	return models.StatusAwaitingPayment
}
