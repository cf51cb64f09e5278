package broker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"pickup-order-service/internal/models"
	"pickup-order-service/internal/util"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// EventPublisher handles publishing domain events
type EventPublisher struct {
	publisher Publisher
	topic     string
}

// NewEventPublisher creates a new event publisher writing to topic
func NewEventPublisher(publisher Publisher, topic string) *EventPublisher {
	return &EventPublisher{publisher: publisher, topic: topic}
}

func newBase(eventType string) models.BaseEvent {
	return models.BaseEvent{EventID: uuid.New().String(), EventType: eventType, Timestamp: time.Now().UTC()}
}

func orderKey(orderID string) string {
	return "order-" + orderID
}

// PublishOrderCreated publishes OrderCreated event
func (ep *EventPublisher) PublishOrderCreated(ctx context.Context, order *models.Order) error {
	event := &models.OrderCreatedEvent{
		BaseEvent:   newBase(models.EventTypeOrderCreated),
		OrderID:     order.ID,
		ServiceType: order.ServiceType,
		PartnerID:   order.PartnerID,
		SlotStart:   order.PickupStart,
		TotalCents:  order.TotalCents,
		Status:      order.Status,
	}
	return ep.publisher.PublishEvent(ctx, ep.topic, orderKey(order.ID), event)
}

// PublishStatusChanged mirrors one transition log entry
func (ep *EventPublisher) PublishStatusChanged(ctx context.Context, st models.ServiceType, entry *models.OrderEvent) error {
	event := &models.OrderStatusChangedEvent{
		BaseEvent:   newBase(models.EventTypeOrderStatusChanged),
		OrderID:     entry.OrderID,
		ServiceType: st,
		From:        entry.FromStatus,
		To:          entry.ToStatus,
		Actor:       entry.Actor,
		Reason:      entry.Reason,
	}
	return ep.publisher.PublishEvent(ctx, ep.topic, orderKey(entry.OrderID), event)
}

// PublishOrderRescheduled publishes OrderRescheduled event
func (ep *EventPublisher) PublishOrderRescheduled(ctx context.Context, mod *models.OrderModification) error {
	event := &models.OrderRescheduledEvent{
		BaseEvent:    newBase(models.EventTypeOrderRescheduled),
		OrderID:      mod.OrderID,
		NewOrderID:   mod.NewOrderID,
		OldPartnerID: mod.OldPartnerID,
		OldSlotStart: mod.OldSlotStart,
		NewPartnerID: mod.NewPartnerID,
		FeeCents:     mod.FeeCents,
	}
	if mod.NewSlotStart != nil {
		event.NewSlotStart = *mod.NewSlotStart
	}
	return ep.publisher.PublishEvent(ctx, ep.topic, orderKey(mod.OrderID), event)
}

// PaymentEventFunc applies one signed provider event
type PaymentEventFunc func(ctx context.Context, payload []byte, signature string) error

// EventHandler routes inbound payment event envelopes
type EventHandler struct {
	onPaymentEvent PaymentEventFunc
	logger         *zap.Logger
}

// NewEventHandler creates a new event handler
func NewEventHandler() *EventHandler {
	return &EventHandler{logger: util.GetLogger()}
}

// OnPaymentEvent registers the handler for provider events
func (eh *EventHandler) OnPaymentEvent(handler PaymentEventFunc) {
	eh.onPaymentEvent = handler
}

// HandleMessage decodes an envelope and hands it on. Envelopes that can
// never succeed (malformed, bad signature) are logged and acknowledged so
// they do not block the partition.
func (eh *EventHandler) HandleMessage(ctx context.Context, msg kafka.Message) error {
	var env models.PaymentEventEnvelope
	if err := json.Unmarshal(msg.Value, &env); err != nil {
		eh.logger.Error("Dropping malformed payment envelope",
			zap.Int64("offset", msg.Offset),
			zap.Error(err))
		return nil
	}

	if eh.onPaymentEvent == nil {
		return fmt.Errorf("no payment event handler registered")
	}

	err := eh.onPaymentEvent(ctx, env.Payload, env.Signature)
	if errors.Is(err, models.ErrInvalidSignature) {
		eh.logger.Warn("Dropping payment envelope with invalid signature",
			zap.Int64("offset", msg.Offset),
			zap.Error(err))
		return nil
	}
	var ve *models.ValidationError
	if errors.As(err, &ve) {
		eh.logger.Warn("Dropping invalid payment event",
			zap.Int64("offset", msg.Offset),
			zap.Error(err))
		return nil
	}
	return err
}
