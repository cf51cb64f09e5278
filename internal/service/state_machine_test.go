package service

import (
	"context"
	"encoding/json"
	"testing"

	"pickup-order-service/internal/models"
	"pickup-order-service/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApplyReservesPaymentStatusesForReconciliation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	order := h.awaitingPayment(t, "k-1")

	err := h.repo.WithTx(ctx, func(tx store.Repository) error {
		_, err := h.sm.Apply(ctx, tx, order, models.StatusPaidProcessing, admin, "manual")
		return err
	})
	var te *models.TransitionError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, models.StatusAwaitingPayment, order.Status)

	payments := models.Actor{Role: models.RolePayments, ID: "test"}
	err = h.repo.WithTx(ctx, func(tx store.Repository) error {
		_, err := h.sm.Apply(ctx, tx, order, models.StatusPaidProcessing, payments, "settled")
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, models.StatusPaidProcessing, h.reload(t, order.ID).Status)
}

func TestApplyWritesLogAndPublishes(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	order := h.create(t, laundryRequest("k-1", slotA))
	partner := models.Actor{Role: models.RolePartner, ID: laundryPartnerID}

	var entry *models.OrderEvent
	err := h.repo.WithTx(ctx, func(tx store.Repository) error {
		var err error
		entry, err = h.sm.Apply(ctx, tx, order, models.StatusAtFacility, partner, "picked up")
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, models.StatusPendingPickup, entry.FromStatus)
	assert.Equal(t, models.StatusAtFacility, entry.ToStatus)
	assert.Equal(t, "partner:"+laundryPartnerID, entry.Actor)
	assert.Equal(t, testNow, entry.CreatedAt)

	before := len(h.pub.Messages(eventsTopic))
	h.sm.Publish(ctx, order.ServiceType, entry, nil)
	msgs := h.pub.Messages(eventsTopic)
	require.Len(t, msgs, before+1)

	var published models.OrderStatusChangedEvent
	require.NoError(t, json.Unmarshal(msgs[len(msgs)-1].Value, &published))
	assert.Equal(t, models.EventTypeOrderStatusChanged, published.EventType)
	assert.Equal(t, order.ID, published.OrderID)
	assert.Equal(t, models.StatusAtFacility, published.To)
}

func TestApplyRollsBackWithTransaction(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	order := h.create(t, laundryRequest("k-1", slotA))
	partner := models.Actor{Role: models.RolePartner, ID: laundryPartnerID}

	err := h.repo.WithTx(ctx, func(tx store.Repository) error {
		if _, err := h.sm.Apply(ctx, tx, order, models.StatusAtFacility, partner, ""); err != nil {
			return err
		}
		return errInjected
	})
	require.ErrorIs(t, err, errInjected)

	assert.Equal(t, models.StatusPendingPickup, h.reload(t, order.ID).Status)
	events, err := h.repo.ListOrderEvents(ctx, order.ID)
	require.NoError(t, err)
	assert.Len(t, events, 1)
}
