package store

import (
	"context"
	"errors"
	"time"

	"pickup-order-service/internal/models"
)

// ErrDuplicateIdempotencyKey is returned by CreateOrder when another order
// already holds the key
var ErrDuplicateIdempotencyKey = errors.New("duplicate idempotency key")

// Repository is the persistent state the engine works against. Every
// implementation must run WithTx callbacks atomically.
type Repository interface {
	CreateOrder(ctx context.Context, order *models.Order) error
	GetOrderByID(ctx context.Context, id string) (*models.Order, error)
	GetOrderByIdempotencyKey(ctx context.Context, key string) (*models.Order, error)
	GetOrderByPaymentIntent(ctx context.Context, intentID string) (*models.Order, error)
	LockOrder(ctx context.Context, id string) (*models.Order, error)
	UpdateOrder(ctx context.Context, order *models.Order) error

	InsertOrderEvent(ctx context.Context, event *models.OrderEvent) error
	ListOrderEvents(ctx context.Context, orderID string) ([]models.OrderEvent, error)
	InsertModification(ctx context.Context, mod *models.OrderModification) error
	ListModifications(ctx context.Context, orderID string) ([]models.OrderModification, error)

	GetActivePolicy(ctx context.Context, st models.ServiceType) (*models.CancellationPolicy, error)
	ListActivePolicies(ctx context.Context) ([]models.CancellationPolicy, error)
	MarkPolicyReferenced(ctx context.Context, id int64) error

	GetPartner(ctx context.Context, id string) (*models.Partner, error)
	ListPartners(ctx context.Context, st models.ServiceType, zip string) ([]models.Partner, error)

	IsPaymentEventProcessed(ctx context.Context, eventID string) (bool, error)
	InsertPaymentEvent(ctx context.Context, rec *models.PaymentEventRecord) (bool, error)
	InsertPaymentRetry(ctx context.Context, retry *models.PaymentRetry) error
	ListDuePaymentRetries(ctx context.Context, now time.Time, limit int) ([]models.PaymentRetry, error)
	UpdatePaymentRetryStatus(ctx context.Context, id int64, status string) error

	WithTx(ctx context.Context, fn func(Repository) error) error
}
