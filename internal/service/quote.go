package service

import (
	"context"
	"fmt"

	"pickup-order-service/internal/lifecycle"
	"pickup-order-service/internal/models"
	"pickup-order-service/internal/store"
	"pickup-order-service/internal/util"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// QuoteRequest sets the final price of an order
type QuoteRequest struct {
	QuoteCents     int64  `json:"quote_cents" binding:"required"`
	Reason         string `json:"reason"`
	NotifyCustomer bool   `json:"notify_customer"`
}

// QuoteResult is returned by UpdateQuote and ApproveQuote. AutoCharged is
// true only when the off-session charge succeeded.
type QuoteResult struct {
	Order           *models.Order        `json:"order"`
	AutoCharged     bool                 `json:"autoCharged"`
	PaymentIntentID string               `json:"paymentIntentId,omitempty"`
	ChargeError     *models.PaymentError `json:"chargeError,omitempty"`
}

// UpdateQuote sets the quote and either charges the saved payment method or
// moves the order to awaiting_payment for manual settlement
func (s *OrderService) UpdateQuote(ctx context.Context, orderID string, req QuoteRequest, actor models.Actor) (*QuoteResult, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.UpdateQuote", attribute.String("order_id", orderID))
	defer span.End()

	switch actor.Role {
	case models.RoleAdmin, models.RoleSystem:
	case models.RolePartner:
		return nil, models.NewValidationError("FORBIDDEN", "partners propose quotes for admin approval")
	default:
		return nil, models.NewValidationError("FORBIDDEN", "only admins can set a quote")
	}
	if req.QuoteCents <= 0 {
		return nil, models.NewValidationError("INVALID_QUOTE", "quote must be a positive amount")
	}

	var (
		order      *models.Order
		entry      *models.OrderEvent
		autoCharge bool
	)
	err := s.repo.WithTx(ctx, func(tx store.Repository) error {
		locked, err := tx.LockOrder(ctx, orderID)
		if err != nil {
			return err
		}
		if !lifecycle.IsQuotable(locked.ServiceType, locked.Status) {
			return models.NewValidationError("QUOTE_NOT_ALLOWED",
				fmt.Sprintf("a quote cannot be set on a %s order", locked.Status))
		}
		quote := req.QuoteCents
		locked.QuoteCents = &quote
		locked.ProposedQuoteCents = nil
		order = locked

		autoCharge = lifecycle.PostQuoteStatus(locked, actor.Role) == models.StatusPaidProcessing
		if autoCharge || locked.Status == models.StatusAwaitingPayment {
			return tx.UpdateOrder(ctx, locked)
		}
		entry, err = s.sm.Apply(ctx, tx, locked, models.StatusAwaitingPayment, actor, quoteReason(req))
		return err
	})
	if err != nil {
		return nil, err
	}
	s.sm.Publish(ctx, order.ServiceType, entry)

	s.logger.Info("Quote set",
		zap.String("order_id", order.ID),
		zap.Int64("quote_cents", req.QuoteCents),
		zap.String("actor", actor.String()),
		zap.Bool("auto_charge", autoCharge))

	result := &QuoteResult{Order: order}
	if !autoCharge {
		s.sendQuoteNotice(ctx, order, req.NotifyCustomer)
		return result, nil
	}

	outcome, err := s.payments.AutoCharge(ctx, order.ID, req.NotifyCustomer)
	if err != nil {
		return nil, fmt.Errorf("quote saved but charge could not be recorded: %w", err)
	}
	result.AutoCharged = outcome.Charged
	result.PaymentIntentID = outcome.PaymentIntentID
	result.ChargeError = outcome.Error

	if result.Order, err = s.repo.GetOrderByID(ctx, order.ID); err != nil {
		return nil, err
	}
	return result, nil
}

func quoteReason(req QuoteRequest) string {
	if req.Reason != "" {
		return req.Reason
	}
	return "quote set"
}

// sendQuoteNotice tells the customer what is owed. A saved card means a
// plain quote message; otherwise the customer gets a payment link.
func (s *OrderService) sendQuoteNotice(ctx context.Context, order *models.Order, notifyCustomer bool) {
	if !notifyCustomer || s.notifier == nil {
		return
	}
	amount := formatCents(order.ChargeableCents())
	if order.PaymentMethodID == "" {
		s.notifyBestEffort(ctx, models.NotificationPaymentLink, order.ID, func(ctx context.Context) error {
			return s.notifier.SendPaymentLink(ctx, order.ID, order.Phone,
				fmt.Sprintf("Your order %s is ready. Total due: %s. Pay using the link in your account.", shortID(order.ID), amount))
		})
		return
	}
	s.notifyBestEffort(ctx, models.NotificationQuote, order.ID, func(ctx context.Context) error {
		return s.notifier.SendQuote(ctx, order.ID, order.Phone,
			fmt.Sprintf("Your order %s has been quoted at %s.", shortID(order.ID), amount))
	})
}

// ProposeQuote stores a partner's proposed amount for admin approval
func (s *OrderService) ProposeQuote(ctx context.Context, orderID string, quoteCents int64, actor models.Actor) (*models.Order, error) {
	if actor.Role != models.RolePartner && actor.Role != models.RoleAdmin {
		return nil, models.NewValidationError("FORBIDDEN", "only partners can propose a quote")
	}
	if quoteCents <= 0 {
		return nil, models.NewValidationError("INVALID_QUOTE", "quote must be a positive amount")
	}

	var order *models.Order
	err := s.repo.WithTx(ctx, func(tx store.Repository) error {
		locked, err := tx.LockOrder(ctx, orderID)
		if err != nil {
			return err
		}
		if err := authorizeOrderChange(locked, actor); err != nil {
			return err
		}
		if !lifecycle.IsQuotable(locked.ServiceType, locked.Status) {
			return models.NewValidationError("QUOTE_NOT_ALLOWED",
				fmt.Sprintf("a quote cannot be proposed on a %s order", locked.Status))
		}
		locked.ProposedQuoteCents = &quoteCents
		order = locked
		return tx.UpdateOrder(ctx, locked)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Quote proposed",
		zap.String("order_id", orderID),
		zap.Int64("proposed_cents", quoteCents),
		zap.String("actor", actor.String()))
	return order, nil
}

// ApproveQuote turns the partner's proposal into the order's quote
func (s *OrderService) ApproveQuote(ctx context.Context, orderID string, notifyCustomer bool, actor models.Actor) (*QuoteResult, error) {
	if actor.Role != models.RoleAdmin {
		return nil, models.NewValidationError("FORBIDDEN", "only admins can approve a quote")
	}
	order, err := s.repo.GetOrderByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.ProposedQuoteCents == nil {
		return nil, models.NewValidationError("NO_PROPOSED_QUOTE", "there is no proposed quote to approve")
	}
	return s.UpdateQuote(ctx, orderID, QuoteRequest{
		QuoteCents:     *order.ProposedQuoteCents,
		Reason:         "partner quote approved",
		NotifyCustomer: notifyCustomer,
	}, actor)
}
