package service

import (
	"context"
	"time"

	"pickup-order-service/internal/broker"
	"pickup-order-service/internal/lifecycle"
	"pickup-order-service/internal/models"
	"pickup-order-service/internal/store"
	"pickup-order-service/internal/util"

	"go.uber.org/zap"
)

// StateMachine applies status changes. It is the only writer of the status
// column and of the transition log.
type StateMachine struct {
	events *broker.EventPublisher
	logger *zap.Logger
	now    func() time.Time
}

// NewStateMachine creates a state machine. events may be nil.
func NewStateMachine(events *broker.EventPublisher) *StateMachine {
	return &StateMachine{
		events: events,
		logger: util.GetLogger(),
		now:    time.Now,
	}
}

// Apply validates order.Status -> target, writes the order and appends the
// transition log entry through repo. Call it inside the transaction that
// makes the rest of the change, then Publish the returned entry after commit.
func (sm *StateMachine) Apply(ctx context.Context, repo store.Repository, order *models.Order, target models.OrderStatus, actor models.Actor, reason string) (*models.OrderEvent, error) {
	from := order.Status
	st := order.ServiceType

	if lifecycle.IsPaymentStatus(target) && actor.Role != models.RolePayments {
		util.OrderTransitionsRejected.WithLabelValues(string(st), string(target)).Inc()
		return nil, &models.TransitionError{ServiceType: st, From: from, To: target,
			Reason: "only payment reconciliation may set payment statuses"}
	}
	if err := lifecycle.ValidateTransition(from, target, st, order); err != nil {
		util.OrderTransitionsRejected.WithLabelValues(string(st), string(target)).Inc()
		sm.logger.Warn("Rejected transition",
			zap.String("order_id", order.ID),
			zap.String("from", string(from)),
			zap.String("to", string(target)),
			zap.String("actor", actor.String()),
			zap.Error(err))
		return nil, err
	}

	order.Status = target
	if err := repo.UpdateOrder(ctx, order); err != nil {
		order.Status = from
		return nil, err
	}

	entry := &models.OrderEvent{
		OrderID:    order.ID,
		FromStatus: from,
		ToStatus:   target,
		Actor:      actor.String(),
		Reason:     reason,
		CreatedAt:  sm.now().UTC(),
	}
	if err := repo.InsertOrderEvent(ctx, entry); err != nil {
		return nil, err
	}

	util.OrderTransitionsTotal.WithLabelValues(string(st), string(from), string(target)).Inc()
	sm.logger.Info("Order transitioned",
		zap.String("order_id", order.ID),
		zap.String("from", string(from)),
		zap.String("to", string(target)),
		zap.String("actor", actor.String()))
	return entry, nil
}

// RecordInitial logs the creation of an order in its initial status
func (sm *StateMachine) RecordInitial(ctx context.Context, repo store.Repository, order *models.Order, actor models.Actor, reason string) (*models.OrderEvent, error) {
	entry := &models.OrderEvent{
		OrderID:   order.ID,
		ToStatus:  order.Status,
		Actor:     actor.String(),
		Reason:    reason,
		CreatedAt: sm.now().UTC(),
	}
	if err := repo.InsertOrderEvent(ctx, entry); err != nil {
		return nil, err
	}
	return entry, nil
}

// Publish emits committed transition log entries. Failures are logged only.
func (sm *StateMachine) Publish(ctx context.Context, st models.ServiceType, entries ...*models.OrderEvent) {
	if sm.events == nil {
		return
	}
	for _, e := range entries {
		if e == nil {
			continue
		}
		if err := sm.events.PublishStatusChanged(ctx, st, e); err != nil {
			sm.logger.Error("Failed to publish status change",
				zap.String("order_id", e.OrderID),
				zap.String("to", string(e.ToStatus)),
				zap.Error(err))
		}
	}
}
