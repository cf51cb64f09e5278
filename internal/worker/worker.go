package worker

import (
	"context"
	"time"

	"pickup-order-service/internal/broker"
	"pickup-order-service/internal/service"
	"pickup-order-service/internal/util"

	"go.uber.org/zap"
)

// PaymentEventWorker applies provider events delivered over Kafka through
// the same idempotent path as the webhook endpoint
type PaymentEventWorker struct {
	consumer     *broker.Consumer
	eventHandler *broker.EventHandler
	logger       *zap.Logger
}

// NewPaymentEventWorker creates a new payment event worker
func NewPaymentEventWorker(consumer *broker.Consumer, reconciler *service.Reconciler) *PaymentEventWorker {
	eventHandler := broker.NewEventHandler()
	eventHandler.OnPaymentEvent(func(ctx context.Context, payload []byte, signature string) error {
		_, err := reconciler.Ingest(ctx, payload, signature)
		return err
	})

	return &PaymentEventWorker{
		consumer:     consumer,
		eventHandler: eventHandler,
		logger:       util.GetLogger(),
	}
}

// Start consumes until ctx is canceled
func (w *PaymentEventWorker) Start(ctx context.Context) error {
	w.logger.Info("Starting payment event worker")
	return w.consumer.StartConsuming(ctx, w.eventHandler.HandleMessage)
}

// Stop stops the worker
func (w *PaymentEventWorker) Stop() error {
	w.logger.Info("Stopping payment event worker")
	return w.consumer.Close()
}

// RetryRunner is the part of the reconciler the retry worker drives
type RetryRunner interface {
	RetryDuePayments(ctx context.Context) (*service.RetryReport, error)
}

// RetryWorker runs due payment retries on a fixed interval
type RetryWorker struct {
	runner   RetryRunner
	interval time.Duration
	logger   *zap.Logger
}

// NewRetryWorker creates a retry worker ticking every interval
func NewRetryWorker(runner RetryRunner, interval time.Duration) *RetryWorker {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &RetryWorker{
		runner:   runner,
		interval: interval,
		logger:   util.GetLogger(),
	}
}

// Start runs once immediately, then on every tick until ctx is canceled
func (w *RetryWorker) Start(ctx context.Context) error {
	w.logger.Info("Starting payment retry worker", zap.Duration("interval", w.interval))

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		w.runOnce(ctx)
		select {
		case <-ctx.Done():
			w.logger.Info("Stopping payment retry worker")
			return nil
		case <-ticker.C:
		}
	}
}

func (w *RetryWorker) runOnce(ctx context.Context) {
	report, err := w.runner.RetryDuePayments(ctx)
	if err != nil {
		if ctx.Err() == nil {
			w.logger.Error("Payment retry run failed", zap.Error(err))
		}
		return
	}
	if report.Attempted > 0 {
		w.logger.Info("Payment retry run finished",
			zap.Int("succeeded", report.Succeeded),
			zap.Int("failed", report.Failed))
	}
}
