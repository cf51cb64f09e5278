// Package notify hands customer messages to the SMS/email delivery service.
// Every call is best effort; callers log failures and move on.
package notify

import (
	"context"
	"fmt"
	"time"

	"pickup-order-service/internal/broker"
	"pickup-order-service/internal/models"
	"pickup-order-service/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Notifier is the notification capability
type Notifier interface {
	SendReceipt(ctx context.Context, orderID, phone, message string) error
	SendPaymentLink(ctx context.Context, orderID, phone, message string) error
	SendQuote(ctx context.Context, orderID, phone, message string) error
}

// KafkaNotifier publishes NotificationEvents for the delivery service
type KafkaNotifier struct {
	publisher broker.Publisher
	topic     string
}

func NewKafkaNotifier(publisher broker.Publisher, topic string) *KafkaNotifier {
	return &KafkaNotifier{publisher: publisher, topic: topic}
}

func (n *KafkaNotifier) send(ctx context.Context, kind, orderID, phone, message string) error {
	if phone == "" {
		return fmt.Errorf("order %s has no phone number", orderID)
	}
	event := &models.NotificationEvent{
		BaseEvent: models.BaseEvent{
			EventID:   uuid.New().String(),
			EventType: models.EventTypeNotification,
			Timestamp: time.Now().UTC(),
		},
		Kind:    kind,
		OrderID: orderID,
		Phone:   phone,
		Message: message,
	}
	return n.publisher.PublishEvent(ctx, n.topic, phone, event)
}

func (n *KafkaNotifier) SendReceipt(ctx context.Context, orderID, phone, message string) error {
	return n.send(ctx, models.NotificationReceipt, orderID, phone, message)
}

func (n *KafkaNotifier) SendPaymentLink(ctx context.Context, orderID, phone, message string) error {
	return n.send(ctx, models.NotificationPaymentLink, orderID, phone, message)
}

func (n *KafkaNotifier) SendQuote(ctx context.Context, orderID, phone, message string) error {
	return n.send(ctx, models.NotificationQuote, orderID, phone, message)
}

// LogNotifier only logs; used when no delivery service is configured
type LogNotifier struct {
	logger *zap.Logger
}

func NewLogNotifier() *LogNotifier {
	return &LogNotifier{logger: util.GetLogger()}
}

func (n *LogNotifier) log(kind, orderID, phone, message string) error {
	n.logger.Info("Notification",
		zap.String("kind", kind),
		zap.String("order_id", orderID),
		zap.String("phone", phone),
		zap.String("message", message))
	return nil
}

func (n *LogNotifier) SendReceipt(ctx context.Context, orderID, phone, message string) error {
	return n.log(models.NotificationReceipt, orderID, phone, message)
}

func (n *LogNotifier) SendPaymentLink(ctx context.Context, orderID, phone, message string) error {
	return n.log(models.NotificationPaymentLink, orderID, phone, message)
}

func (n *LogNotifier) SendQuote(ctx context.Context, orderID, phone, message string) error {
	return n.log(models.NotificationQuote, orderID, phone, message)
}
