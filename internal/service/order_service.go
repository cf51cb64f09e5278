package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"pickup-order-service/internal/broker"
	"pickup-order-service/internal/capacity"
	"pickup-order-service/internal/lifecycle"
	"pickup-order-service/internal/models"
	"pickup-order-service/internal/notify"
	"pickup-order-service/internal/policy"
	"pickup-order-service/internal/store"
	"pickup-order-service/internal/util"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// Pricer is the pricing calculator contract
type Pricer interface {
	Quote(st models.ServiceType, zip string, details models.Details) (models.PriceBreakdown, error)
}

// OrderService handles order business logic
type OrderService struct {
	repo     store.Repository
	ledger   *capacity.Ledger
	pricer   Pricer
	sm       *StateMachine
	payments *Reconciler
	notifier notify.Notifier
	events   *broker.EventPublisher
	logger   *zap.Logger
	now      func() time.Time
}

// NewOrderService creates a new order service. events may be nil.
func NewOrderService(
	repo store.Repository,
	ledger *capacity.Ledger,
	pricer Pricer,
	sm *StateMachine,
	payments *Reconciler,
	notifier notify.Notifier,
	events *broker.EventPublisher,
) *OrderService {
	return &OrderService{
		repo:     repo,
		ledger:   ledger,
		pricer:   pricer,
		sm:       sm,
		payments: payments,
		notifier: notifier,
		events:   events,
		logger:   util.GetLogger(),
		now:      time.Now,
	}
}

// CreateOrderRequest represents a request to create an order
type CreateOrderRequest struct {
	IdempotencyKey    string               `json:"idempotency_key"`
	CustomerID        string               `json:"customer_id"`
	Phone             string               `json:"phone"`
	ServiceType       models.ServiceType   `json:"service_type" binding:"required"`
	Zip               string               `json:"zip" binding:"required"`
	PartnerID         string               `json:"partner_id" binding:"required"`
	SlotStart         time.Time            `json:"slot_start" binding:"required"`
	Details           models.DetailsColumn `json:"details"`
	PaymentCustomerID string               `json:"payment_customer_id,omitempty"`
	PaymentMethodID   string               `json:"payment_method_id,omitempty"`
}

func (r *CreateOrderRequest) validate() error {
	if r.IdempotencyKey == "" {
		return models.NewValidationError("MISSING_IDEMPOTENCY_KEY", "an idempotency key is required")
	}
	if !r.ServiceType.Valid() {
		return models.NewValidationError("INVALID_SERVICE_TYPE", fmt.Sprintf("unknown service type %q", r.ServiceType))
	}
	if r.Details.Details == nil || r.Details.ServiceType() != r.ServiceType {
		return models.NewValidationError("INVALID_DETAILS", fmt.Sprintf("%s details are required", r.ServiceType))
	}
	if err := r.Details.Validate(); err != nil {
		return err
	}
	if r.Zip == "" {
		return models.NewValidationError("INVALID_ZIP", "zip is required")
	}
	if (r.PaymentCustomerID == "") != (r.PaymentMethodID == "") {
		return models.NewValidationError("INVALID_PAYMENT_METHOD", "payment customer and payment method must be given together")
	}
	return nil
}

// CreateOrder books a slot and persists the order. A replay with the same
// idempotency key returns the original order and reserves nothing; created
// reports whether this call made the order.
func (s *OrderService) CreateOrder(ctx context.Context, req *CreateOrderRequest, actor models.Actor) (order *models.Order, created bool, err error) {
	ctx, span := util.StartSpan(ctx, "OrderService.CreateOrder",
		attribute.String("idempotency_key", req.IdempotencyKey))
	defer span.End()

	if err := req.validate(); err != nil {
		util.OrdersFailedTotal.WithLabelValues("invalid_request").Inc()
		return nil, false, err
	}

	existing, err := s.repo.GetOrderByIdempotencyKey(ctx, req.IdempotencyKey)
	if err != nil {
		return nil, false, fmt.Errorf("failed to check idempotency: %w", err)
	}
	if existing != nil {
		s.logger.Info("Duplicate order request detected",
			zap.String("idempotency_key", req.IdempotencyKey),
			zap.String("order_id", existing.ID))
		return existing, false, nil
	}

	partner, err := s.repo.GetPartner(ctx, req.PartnerID)
	if err != nil {
		return nil, false, err
	}
	if !partner.Serves(req.Zip) {
		return nil, false, models.NewValidationError("ZIP_NOT_SERVED", fmt.Sprintf("partner %s does not serve %s", partner.ID, req.Zip))
	}
	slotStart := req.SlotStart.UTC().Truncate(time.Second)
	if err := capacity.ValidateSlot(partner, req.ServiceType, slotStart); err != nil {
		return nil, false, err
	}
	if !slotStart.After(s.now()) {
		return nil, false, models.NewValidationError("SLOT_IN_PAST", "the slot has already started")
	}

	price, err := s.pricer.Quote(req.ServiceType, req.Zip, req.Details.Details)
	if err != nil {
		return nil, false, err
	}
	units, err := capacity.UnitsFor(req.Details.Details)
	if err != nil {
		return nil, false, models.NewValidationError("INVALID_DETAILS", err.Error())
	}
	status, err := lifecycle.InitialStatus(req.ServiceType)
	if err != nil {
		return nil, false, err
	}

	ok, err := s.ledger.Reserve(ctx, partner, req.ServiceType, slotStart, units)
	if err != nil {
		util.OrdersFailedTotal.WithLabelValues("capacity_error").Inc()
		return nil, false, err
	}
	if !ok {
		util.OrdersFailedTotal.WithLabelValues("slot_full").Inc()
		return nil, false, models.NewSlotFullError(models.NewSlotKey(partner.ID, req.ServiceType, slotStart))
	}

	order = &models.Order{
		ID:                uuid.New().String(),
		IdempotencyKey:    req.IdempotencyKey,
		CustomerID:        req.CustomerID,
		Phone:             req.Phone,
		ServiceType:       req.ServiceType,
		Status:            status,
		Zip:               req.Zip,
		Details:           req.Details,
		PartnerID:         partner.ID,
		PickupStart:       slotStart,
		PickupEnd:         capacity.SlotEnd(partner, slotStart),
		ReservedUnits:     units,
		SubtotalCents:     price.SubtotalCents,
		TaxCents:          price.TaxCents,
		DeliveryFeeCents:  price.DeliveryFeeCents,
		TotalCents:        price.TotalCents,
		PaymentCustomerID: req.PaymentCustomerID,
		PaymentMethodID:   req.PaymentMethodID,
	}

	err = s.repo.WithTx(ctx, func(tx store.Repository) error {
		if err := tx.CreateOrder(ctx, order); err != nil {
			return err
		}
		_, err := s.sm.RecordInitial(ctx, tx, order, actor, "order booked")
		return err
	})
	if err != nil {
		if relErr := s.ledger.Release(ctx, partner.ID, req.ServiceType, slotStart, units); relErr != nil {
			util.CompensationsTotal.WithLabelValues("create_order", "failed").Inc()
		} else {
			util.CompensationsTotal.WithLabelValues("create_order", "ok").Inc()
		}

		if errors.Is(err, store.ErrDuplicateIdempotencyKey) {
			existing, getErr := s.repo.GetOrderByIdempotencyKey(ctx, req.IdempotencyKey)
			if getErr == nil && existing != nil {
				return existing, false, nil
			}
			return nil, false, &models.ConflictError{Code: models.ConflictIdempotencyInUse,
				Message: "an order with this idempotency key is being created"}
		}
		util.OrdersFailedTotal.WithLabelValues("db_error").Inc()
		return nil, false, fmt.Errorf("failed to create order: %w", err)
	}

	util.OrdersCreatedTotal.WithLabelValues(string(order.ServiceType)).Inc()
	s.logger.Info("Order created",
		zap.String("order_id", order.ID),
		zap.String("service_type", string(order.ServiceType)),
		zap.String("partner_id", order.PartnerID),
		zap.Time("slot_start", order.PickupStart),
		zap.Int("units", units))

	if s.events != nil {
		if err := s.events.PublishOrderCreated(ctx, order); err != nil {
			s.logger.Error("Failed to publish OrderCreated event", zap.String("order_id", order.ID), zap.Error(err))
		}
	}
	return order, true, nil
}

// GetOrder retrieves an order by ID
func (s *OrderService) GetOrder(ctx context.Context, orderID string) (*models.Order, error) {
	return s.repo.GetOrderByID(ctx, orderID)
}

// OrderEvents returns the transition log of an order
func (s *OrderService) OrderEvents(ctx context.Context, orderID string) ([]models.OrderEvent, error) {
	if _, err := s.repo.GetOrderByID(ctx, orderID); err != nil {
		return nil, err
	}
	return s.repo.ListOrderEvents(ctx, orderID)
}

// OrderModifications returns the cancel/reschedule history of an order
func (s *OrderService) OrderModifications(ctx context.Context, orderID string) ([]models.OrderModification, error) {
	if _, err := s.repo.GetOrderByID(ctx, orderID); err != nil {
		return nil, err
	}
	return s.repo.ListModifications(ctx, orderID)
}

// AvailableSlots lists bookable slots for a zip on a date
func (s *OrderService) AvailableSlots(ctx context.Context, st models.ServiceType, zip, date string) ([]models.SlotAvailability, error) {
	return s.ledger.AvailableSlots(ctx, st, zip, date)
}

// activePolicy returns the policy in force now; laundry may have none
func (s *OrderService) activePolicy(ctx context.Context, st models.ServiceType) (*models.CancellationPolicy, error) {
	p, err := s.repo.GetActivePolicy(ctx, st)
	if models.IsNotFound(err) {
		return nil, nil
	}
	return p, err
}

// EvaluateOrder reports what the customer may do with the order right now
func (s *OrderService) EvaluateOrder(ctx context.Context, orderID string) (*policy.Evaluation, error) {
	order, err := s.repo.GetOrderByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	p, err := s.activePolicy(ctx, order.ServiceType)
	if err != nil {
		return nil, err
	}
	ev := policy.Evaluate(order, p, s.now())
	return &ev, nil
}

// CancelTerms renders the cancellation terms from the active policies
func (s *OrderService) CancelTerms(ctx context.Context) (string, []models.CancellationPolicy, error) {
	policies, err := s.repo.ListActivePolicies(ctx)
	if err != nil {
		return "", nil, err
	}
	return policy.RenderTerms(policies), policies, nil
}

// CancelResult is returned by CancelOrder
type CancelResult struct {
	Order       *models.Order `json:"order"`
	FeeCents    int64         `json:"fee_cents"`
	FeeCharged  bool          `json:"fee_charged"`
	RefundCents int64         `json:"refund_cents"`
}

// evaluate applies the policy for the actor. Admins waive fees and the
// policy's allow flags but never the lifecycle rules.
func (s *OrderService) evaluate(order *models.Order, p *models.CancellationPolicy, actor models.Actor) policy.Evaluation {
	ev := policy.Evaluate(order, p, s.now())
	if actor.Role != models.RoleAdmin {
		return ev
	}
	ev.CancellationFeeCents, ev.RescheduleFeeCents = 0, 0
	ev.RefundAmountCents = order.PaidCents()
	ev.CanCancel = lifecycle.IsCancellable(order.ServiceType, order.Status)
	ev.CanReschedule = lifecycle.IsReschedulable(order.ServiceType, order.Status)
	if ev.CanCancel {
		ev.CancelReason = ""
	}
	if ev.CanReschedule {
		ev.RescheduleReason = ""
	}
	return ev
}

// authorizeOrderChange keeps customers and partners to their own orders
func authorizeOrderChange(order *models.Order, actor models.Actor) error {
	switch actor.Role {
	case models.RoleCustomer:
		if actor.ID != order.CustomerID {
			return models.NewValidationError("FORBIDDEN", "order belongs to another customer")
		}
	case models.RolePartner:
		if actor.ID != "" && actor.ID != order.PartnerID {
			return models.NewValidationError("FORBIDDEN", "order belongs to another partner")
		}
	}
	return nil
}

// CancelOrder cancels an order under the active policy and returns its
// capacity to the ledger
func (s *OrderService) CancelOrder(ctx context.Context, orderID, reason string, actor models.Actor) (*CancelResult, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.CancelOrder", attribute.String("order_id", orderID))
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
	if !ev.CanCancel {
		return nil, models.NewValidationError("CANCEL_NOT_ALLOWED", ev.CancelReason)
	}

	mod := &models.OrderModification{
		ID:            uuid.New().String(),
		OrderID:       order.ID,
		Kind:          models.ModificationCancel,
		OldPartnerID:  order.PartnerID,
		OldSlotStart:  order.PickupStart,
		FeeCents:      ev.CancellationFeeCents,
		RefundCents:   ev.RefundAmountCents,
		PolicyID:      ev.PolicyID,
		PolicyVersion: ev.PolicyVersion,
		Reason:        reason,
		Actor:         actor.String(),
		CreatedAt:     s.now().UTC(),
	}
	// the fee is a share of the payment and is kept out of the refund
	mod.FeeCharged = ev.CancellationFeeCents > 0

	var entry *models.OrderEvent
	err = s.repo.WithTx(ctx, func(tx store.Repository) error {
		locked, err := tx.LockOrder(ctx, orderID)
		if err != nil {
			return err
		}
		if locked.Status != order.Status {
			return models.NewValidationError("ORDER_CHANGED", fmt.Sprintf("order moved to %s, retry the request", locked.Status))
		}
		locked.RefundCents = ev.RefundAmountCents
		entry, err = s.sm.Apply(ctx, tx, locked, models.StatusCanceled, actor, reason)
		if err != nil {
			return err
		}
		if err := tx.InsertModification(ctx, mod); err != nil {
			return err
		}
		if ev.PolicyID != nil {
			if err := tx.MarkPolicyReferenced(ctx, *ev.PolicyID); err != nil {
				return err
			}
		}
		order = locked
		return nil
	})
	if err != nil {
		return nil, err
	}

	if err := s.ledger.Release(ctx, order.PartnerID, order.ServiceType, order.PickupStart, order.ReservedUnits); err != nil {
		s.logger.Error("Capacity not returned after cancel",
			zap.String("order_id", order.ID),
			zap.Error(err))
	}

	util.OrdersCanceledTotal.WithLabelValues(string(order.ServiceType)).Inc()
	s.sm.Publish(ctx, order.ServiceType, entry)

	result := &CancelResult{Order: order, FeeCents: mod.FeeCents, FeeCharged: mod.FeeCharged, RefundCents: mod.RefundCents}

	s.logger.Info("Order canceled",
		zap.String("order_id", order.ID),
		zap.String("actor", actor.String()),
		zap.Int64("fee_cents", result.FeeCents),
		zap.Bool("fee_charged", result.FeeCharged),
		zap.Int64("refund_cents", result.RefundCents))
	return result, nil
}

// TransitionOrder moves an order along its operational path, e.g. a partner
// marking a pickup at the facility. Cancel, reschedule and payment statuses
// have their own entry points.
func (s *OrderService) TransitionOrder(ctx context.Context, orderID string, target models.OrderStatus, reason string, actor models.Actor) (*models.Order, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.TransitionOrder", attribute.String("order_id", orderID))
	defer span.End()

	switch {
	case actor.Role == models.RoleCustomer:
		return nil, models.NewValidationError("FORBIDDEN", "customers cannot change order status")
	case target == models.StatusCanceled || target == models.StatusRescheduled:
		return nil, models.NewValidationError("USE_DEDICATED_ENDPOINT", fmt.Sprintf("use the %s operation", target))
	}

	var order *models.Order
	var entry *models.OrderEvent
	err := s.repo.WithTx(ctx, func(tx store.Repository) error {
		locked, err := tx.LockOrder(ctx, orderID)
		if err != nil {
			return err
		}
		if err := authorizeOrderChange(locked, actor); err != nil {
			return err
		}
		entry, err = s.sm.Apply(ctx, tx, locked, target, actor, reason)
		order = locked
		return err
	})
	if err != nil {
		return nil, err
	}

	s.sm.Publish(ctx, order.ServiceType, entry)
	return order, nil
}

func (s *OrderService) notifyBestEffort(ctx context.Context, kind, orderID string, send func(context.Context) error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := send(ctx); err != nil {
		util.NotificationsFailedTotal.WithLabelValues(kind).Inc()
		s.logger.Warn("Notification failed",
			zap.String("kind", kind),
			zap.String("order_id", orderID),
			zap.Error(err))
	}
}
