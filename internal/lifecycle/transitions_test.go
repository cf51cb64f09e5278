package lifecycle

import (
	"errors"
	"testing"
	"time"

	"pickup-order-service/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func paidOrder(st models.ServiceType) *models.Order {
	quote := int64(15000)
	paidAt := time.Now()
	return &models.Order{
		ServiceType:     st,
		TotalCents:      12000,
		QuoteCents:      &quote,
		PaidAt:          &paidAt,
		RescheduledToID: "successor",
	}
}

func allStatuses() []models.OrderStatus {
	return []models.OrderStatus{
		models.StatusPendingPickup, models.StatusPending, models.StatusAtFacility,
		models.StatusAwaitingPayment, models.StatusPaymentFailed, models.StatusPaidProcessing,
		models.StatusInProgress, models.StatusOutForDelivery, models.StatusDelivered,
		models.StatusCompleted, models.StatusCanceled, models.StatusRefunded, models.StatusRescheduled,
	}
}

func TestValidateTransition_RejectsEveryPairOutsideTable(t *testing.T) {
	for _, st := range []models.ServiceType{models.ServiceLaundry, models.ServiceCleaning} {
		order := paidOrder(st)
		for _, from := range allStatuses() {
			for _, to := range allStatuses() {
				err := ValidateTransition(from, to, st, order)
				if from == models.StatusPaidProcessing && to == models.StatusPaymentFailed {
					assert.Error(t, err, "%s: settled payment cannot fail", st)
					continue
				}
				if allowed(st, from, to) {
					assert.NoError(t, err, "%s: %s -> %s should be valid", st, from, to)
					continue
				}
				require.Error(t, err, "%s: %s -> %s should be rejected", st, from, to)
				var te *models.TransitionError
				require.True(t, errors.As(err, &te))
				assert.Equal(t, from, te.From)
				assert.Equal(t, to, te.To)
			}
		}
	}
}

func TestValidateTransition_LaundryHappyPath(t *testing.T) {
	order := paidOrder(models.ServiceLaundry)
	path := []models.OrderStatus{
		models.StatusPendingPickup, models.StatusAtFacility, models.StatusAwaitingPayment,
		models.StatusPaidProcessing, models.StatusInProgress, models.StatusOutForDelivery,
		models.StatusDelivered, models.StatusCompleted,
	}
	for i := 0; i+1 < len(path); i++ {
		assert.NoError(t, ValidateTransition(path[i], path[i+1], models.ServiceLaundry, order))
	}
}

func TestValidateTransition_CleaningHappyPath(t *testing.T) {
	order := paidOrder(models.ServiceCleaning)
	path := []models.OrderStatus{
		models.StatusPending, models.StatusPaidProcessing, models.StatusInProgress, models.StatusCompleted,
	}
	for i := 0; i+1 < len(path); i++ {
		assert.NoError(t, ValidateTransition(path[i], path[i+1], models.ServiceCleaning, order))
	}
}

func TestValidateTransition_Guards(t *testing.T) {
	unpaid := &models.Order{ServiceType: models.ServiceLaundry, TotalCents: 0}
	err := ValidateTransition(models.StatusAtFacility, models.StatusPaidProcessing, models.ServiceLaundry, unpaid)
	assert.Error(t, err)

	notPaid := &models.Order{ServiceType: models.ServiceCleaning, TotalCents: 1000}
	err = ValidateTransition(models.StatusPaidProcessing, models.StatusRefunded, models.ServiceCleaning, notPaid)
	assert.Error(t, err)

	unlinked := &models.Order{ServiceType: models.ServiceCleaning, TotalCents: 1000}
	err = ValidateTransition(models.StatusPending, models.StatusRescheduled, models.ServiceCleaning, unlinked)
	assert.Error(t, err)
}

func TestValidateTransition_ProcessingChargeMayFail(t *testing.T) {
	for _, st := range []models.ServiceType{models.ServiceLaundry, models.ServiceCleaning} {
		processing := &models.Order{ServiceType: st, TotalCents: 12000}
		assert.NoError(t, ValidateTransition(models.StatusPaidProcessing, models.StatusPaymentFailed, st, processing))

		settled := paidOrder(st)
		assert.Error(t, ValidateTransition(models.StatusPaidProcessing, models.StatusPaymentFailed, st, settled))
		assert.Error(t, ValidateTransition(models.StatusPaidProcessing, models.StatusPaymentFailed, st, nil))
	}
}

func TestTerminalStates(t *testing.T) {
	for _, s := range []models.OrderStatus{models.StatusCompleted, models.StatusCanceled, models.StatusRefunded} {
		assert.True(t, IsTerminal(models.ServiceLaundry, s))
		assert.True(t, IsTerminal(models.ServiceCleaning, s))
	}
	assert.True(t, IsTerminal(models.ServiceCleaning, models.StatusRescheduled))
	assert.False(t, IsValidStatus(models.ServiceLaundry, models.StatusRescheduled))
	assert.False(t, IsTerminal(models.ServiceLaundry, models.StatusPaymentFailed))
}

func TestIsCancellable(t *testing.T) {
	assert.True(t, IsCancellable(models.ServiceLaundry, models.StatusPendingPickup))
	assert.True(t, IsCancellable(models.ServiceLaundry, models.StatusAwaitingPayment))
	assert.False(t, IsCancellable(models.ServiceLaundry, models.StatusPaidProcessing))
	assert.False(t, IsCancellable(models.ServiceLaundry, models.StatusDelivered))
	assert.True(t, IsCancellable(models.ServiceCleaning, models.StatusPaidProcessing))
	assert.False(t, IsCancellable(models.ServiceCleaning, models.StatusInProgress))
	assert.False(t, IsCancellable(models.ServiceCleaning, models.StatusRescheduled))
}

func TestInitialStatus(t *testing.T) {
	s, err := InitialStatus(models.ServiceLaundry)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPendingPickup, s)

	s, err = InitialStatus(models.ServiceCleaning)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, s)

	_, err = InitialStatus("PLUMBING")
	assert.Error(t, err)
}

func TestCanAutoChargeAndPostQuoteStatus(t *testing.T) {
	withPM := &models.Order{PaymentCustomerID: "cus_1", PaymentMethodID: "pm_1"}
	legacy := &models.Order{PaymentCustomerID: "cus_1"}

	assert.True(t, CanAutoCharge(withPM, models.RoleAdmin))
	assert.False(t, CanAutoCharge(withPM, models.RoleCustomer))
	assert.False(t, CanAutoCharge(legacy, models.RoleAdmin))

	assert.Equal(t, models.StatusPaidProcessing, PostQuoteStatus(withPM, models.RoleAdmin))
	assert.Equal(t, models.StatusAwaitingPayment, PostQuoteStatus(legacy, models.RoleAdmin))
}
