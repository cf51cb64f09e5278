package service

import (
	"context"
	"fmt"
	"time"

	"pickup-order-service/internal/capacity"
	"pickup-order-service/internal/lifecycle"
	"pickup-order-service/internal/models"
	"pickup-order-service/internal/store"
	"pickup-order-service/internal/util"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// RescheduleRequest moves an order to another slot, optionally with another
// partner
type RescheduleRequest struct {
	PartnerID string    `json:"partner_id"`
	SlotStart time.Time `json:"slot_start" binding:"required"`
	Reason    string    `json:"reason"`
}

// RescheduleResult is returned by RescheduleOrder. For cleaning, Order is
// the predecessor and NewOrderID names the successor.
type RescheduleResult struct {
	Order      *models.Order `json:"order"`
	NewOrderID string        `json:"new_order_id,omitempty"`
	Strategy   string        `json:"strategy"`
	FeeCents   int64         `json:"fee_cents"`
	FeeCharged bool          `json:"fee_charged"`
}

type slotTarget struct {
	partner *models.Partner
	start   time.Time
	end     time.Time
}

type rescheduleOutcome struct {
	order     *models.Order
	successor *models.Order
	entries   []*models.OrderEvent
}

// rescheduleStrategy persists a reschedule once capacity has moved
type rescheduleStrategy interface {
	name() string
	persist(ctx context.Context, tx store.Repository, order *models.Order, target slotTarget, mod *models.OrderModification, actor models.Actor) (*rescheduleOutcome, error)
}

// inPlaceStrategy moves the existing order to the new slot (laundry)
type inPlaceStrategy struct{}

func (inPlaceStrategy) name() string { return "in_place" }

func (inPlaceStrategy) persist(ctx context.Context, tx store.Repository, order *models.Order, target slotTarget, mod *models.OrderModification, actor models.Actor) (*rescheduleOutcome, error) {
	order.PartnerID = target.partner.ID
	order.PickupStart = target.start
	order.PickupEnd = target.end
	if err := tx.UpdateOrder(ctx, order); err != nil {
		return nil, err
	}
	if err := tx.InsertModification(ctx, mod); err != nil {
		return nil, err
	}
	return &rescheduleOutcome{order: order}, nil
}

// successorStrategy books a new order and closes the old one as
// rescheduled, linking the two (cleaning)
type successorStrategy struct {
	sm *StateMachine
}

func (successorStrategy) name() string { return "successor" }

func (s successorStrategy) persist(ctx context.Context, tx store.Repository, order *models.Order, target slotTarget, mod *models.OrderModification, actor models.Actor) (*rescheduleOutcome, error) {
	successor := *order
	successor.ID = uuid.New().String()
	successor.IdempotencyKey = "reschedule:" + order.ID
	successor.PartnerID = target.partner.ID
	successor.PickupStart = target.start
	successor.PickupEnd = target.end
	successor.RescheduledFromID = order.ID
	successor.RescheduledToID = ""
	successor.NeedsReview = false

	if err := tx.CreateOrder(ctx, &successor); err != nil {
		return nil, fmt.Errorf("failed to create successor order: %w", err)
	}
	created, err := s.sm.RecordInitial(ctx, tx, &successor, actor, "rescheduled from "+order.ID)
	if err != nil {
		return nil, err
	}

	order.RescheduledToID = successor.ID
	closed, err := s.sm.Apply(ctx, tx, order, models.StatusRescheduled, actor, "rescheduled to "+successor.ID)
	if err != nil {
		return nil, err
	}

	mod.NewOrderID = successor.ID
	if err := tx.InsertModification(ctx, mod); err != nil {
		return nil, err
	}
	return &rescheduleOutcome{order: order, successor: &successor, entries: []*models.OrderEvent{closed, created}}, nil
}

func (s *OrderService) strategyFor(st models.ServiceType) rescheduleStrategy {
	if st == models.ServiceCleaning {
		return successorStrategy{sm: s.sm}
	}
	return inPlaceStrategy{}
}

// RescheduleOrder moves an order to a new slot. Capacity moves first: the
// new slot is reserved, then the old one released, then the order is
// persisted. A failure after the new reservation undoes the completed steps
// in reverse order.
func (s *OrderService) RescheduleOrder(ctx context.Context, orderID string, req *RescheduleRequest, actor models.Actor) (*RescheduleResult, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.RescheduleOrder", attribute.String("order_id", orderID))
	defer span.End()

	order, err := s.repo.GetOrderByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if err := authorizeOrderChange(order, actor); err != nil {
		return nil, err
	}
	pol, err := s.activePolicy(ctx, order.ServiceType)
	if err != nil {
		return nil, err
	}
	ev := s.evaluate(order, pol, actor)
	if !ev.CanReschedule {
		return nil, models.NewValidationError("RESCHEDULE_NOT_ALLOWED", ev.RescheduleReason)
	}

	st := order.ServiceType
	partnerID := req.PartnerID
	if partnerID == "" {
		partnerID = order.PartnerID
	}
	newPartner, err := s.repo.GetPartner(ctx, partnerID)
	if err != nil {
		return nil, err
	}
	if !newPartner.Serves(order.Zip) {
		return nil, models.NewValidationError("ZIP_NOT_SERVED", fmt.Sprintf("partner %s does not serve %s", newPartner.ID, order.Zip))
	}
	newStart := req.SlotStart.UTC().Truncate(time.Second)
	if err := capacity.ValidateSlot(newPartner, st, newStart); err != nil {
		return nil, err
	}
	if !newStart.After(s.now()) {
		return nil, models.NewValidationError("SLOT_IN_PAST", "the new slot has already started")
	}
	if newPartner.ID == order.PartnerID && newStart.Equal(order.PickupStart) {
		return nil, models.NewValidationError("SAME_SLOT", "the order is already booked in this slot")
	}
	oldPartner, err := s.repo.GetPartner(ctx, order.PartnerID)
	if err != nil {
		return nil, err
	}

	units := order.ReservedUnits
	oldStart := order.PickupStart
	comp := newCompensator("reschedule", s.logger)
	undoCtx := context.WithoutCancel(ctx)

	ok, err := s.ledger.Reserve(ctx, newPartner, st, newStart, units)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, models.NewSlotFullError(models.NewSlotKey(newPartner.ID, st, newStart))
	}
	comp.push("release new slot", func(ctx context.Context) error {
		return s.ledger.Release(ctx, newPartner.ID, st, newStart, units)
	})

	if err := s.ledger.Release(ctx, order.PartnerID, st, oldStart, units); err != nil {
		_ = comp.rollback(undoCtx)
		return nil, fmt.Errorf("failed to release previous slot: %w", err)
	}
	comp.push("re-reserve previous slot", func(ctx context.Context) error {
		ok, err := s.ledger.Reserve(ctx, oldPartner, st, oldStart, units)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("previous slot %s no longer has room", oldStart.Format(time.RFC3339))
		}
		return nil
	})

	newStartCopy := newStart
	mod := &models.OrderModification{
		ID:            uuid.New().String(),
		OrderID:       order.ID,
		Kind:          models.ModificationReschedule,
		OldPartnerID:  order.PartnerID,
		OldSlotStart:  oldStart,
		NewPartnerID:  newPartner.ID,
		NewSlotStart:  &newStartCopy,
		FeeCents:      ev.RescheduleFeeCents,
		PolicyID:      ev.PolicyID,
		PolicyVersion: ev.PolicyVersion,
		Reason:        req.Reason,
		Actor:         actor.String(),
		CreatedAt:     s.now().UTC(),
	}
	target := slotTarget{partner: newPartner, start: newStart, end: capacity.SlotEnd(newPartner, newStart)}
	strategy := s.strategyFor(st)

	var outcome *rescheduleOutcome
	err = s.repo.WithTx(ctx, func(tx store.Repository) error {
		locked, err := tx.LockOrder(ctx, orderID)
		if err != nil {
			return err
		}
		if locked.Status != order.Status || !locked.PickupStart.Equal(oldStart) || locked.PartnerID != order.PartnerID {
			return models.NewValidationError("ORDER_CHANGED", "order changed during reschedule, retry the request")
		}
		if !lifecycle.IsReschedulable(st, locked.Status) {
			return models.NewValidationError("RESCHEDULE_NOT_ALLOWED", fmt.Sprintf("orders in status %s cannot be rescheduled", locked.Status))
		}
		outcome, err = strategy.persist(ctx, tx, locked, target, mod, actor)
		if err != nil {
			return err
		}
		if ev.PolicyID != nil {
			return tx.MarkPolicyReferenced(ctx, *ev.PolicyID)
		}
		return nil
	})
	if err != nil {
		if rbErr := comp.rollback(undoCtx); rbErr != nil {
			s.logger.Error("Reschedule rollback incomplete",
				zap.String("order_id", orderID),
				zap.Error(rbErr))
		}
		return nil, err
	}

	util.OrdersRescheduledTotal.WithLabelValues(string(st), strategy.name()).Inc()
	s.sm.Publish(ctx, st, outcome.entries...)
	if s.events != nil {
		if err := s.events.PublishOrderRescheduled(ctx, mod); err != nil {
			s.logger.Error("Failed to publish OrderRescheduled event", zap.String("order_id", orderID), zap.Error(err))
		}
		if outcome.successor != nil {
			if err := s.events.PublishOrderCreated(ctx, outcome.successor); err != nil {
				s.logger.Error("Failed to publish OrderCreated event", zap.String("order_id", outcome.successor.ID), zap.Error(err))
			}
		}
	}

	result := &RescheduleResult{Order: outcome.order, Strategy: strategy.name(), FeeCents: mod.FeeCents}
	if outcome.successor != nil {
		result.NewOrderID = outcome.successor.ID
	}
	if mod.FeeCents > 0 {
		result.FeeCharged = s.payments.ChargeFee(ctx, outcome.order, mod.FeeCents, "reschedule:"+mod.ID)
	}

	s.logger.Info("Order rescheduled",
		zap.String("order_id", orderID),
		zap.String("strategy", strategy.name()),
		zap.String("new_order_id", result.NewOrderID),
		zap.String("partner_id", newPartner.ID),
		zap.Time("slot_start", newStart),
		zap.Int64("fee_cents", result.FeeCents),
		zap.Bool("fee_charged", result.FeeCharged))
	return result, nil
}
