// Package payment holds the contract the engine needs from the payment
// provider, a deterministic in-process provider, and webhook verification.
package payment

import (
	"context"
	"errors"
	"fmt"

	"pickup-order-service/internal/models"
)

// Charge statuses reported by a provider
const (
	ChargeSucceeded      = "succeeded"
	ChargeProcessing     = "processing"
	ChargeRequiresAction = "requires_action"
	ChargeFailed         = "failed"
)

// ChargeRequest asks for money to move from a saved payment method
type ChargeRequest struct {
	AmountCents     int64
	Currency        string
	CustomerID      string
	PaymentMethodID string
	OffSession      bool
	IdempotencyKey  string
	Description     string
	Metadata        map[string]string
}

// Charge is the provider's view of a payment intent
type Charge struct {
	ID          string `json:"id"`
	Status      string `json:"status"`
	AmountCents int64  `json:"amount_cents"`
}

// Provider is the external payment capability
type Provider interface {
	CreateCharge(ctx context.Context, req ChargeRequest) (*Charge, error)
	RetrieveCharge(ctx context.Context, id string) (*Charge, error)
}

// ProviderError is what a provider returns for a failed attempt. Code and
// DeclineCode follow the card-network vocabulary.
type ProviderError struct {
	Type        string
	Code        string
	DeclineCode string
	Message     string
	ChargeID    string
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("provider error %s/%s: %s", e.Type, e.Code, e.Message)
}

// Provider error types
const (
	ErrorTypeCard = "card_error"
	ErrorTypeAPI  = "api_error"
)

// Classify maps any provider failure into one of the three payment error
// kinds. Unknown failures count as processor errors.
func Classify(err error) *models.PaymentError {
	if err == nil {
		return nil
	}

	var pe *models.PaymentError
	if errors.As(err, &pe) {
		return pe
	}

	var perr *ProviderError
	if !errors.As(err, &perr) {
		return &models.PaymentError{Kind: models.PaymentProcessorError, Code: "processor_error", Message: err.Error()}
	}

	code := perr.Code
	if perr.DeclineCode != "" {
		code = perr.DeclineCode
	}
	switch {
	case perr.Code == "authentication_required" || perr.DeclineCode == "authentication_required":
		return &models.PaymentError{Kind: models.PaymentRequiresAction, Code: "authentication_required", Message: perr.Message}
	case perr.Type == ErrorTypeCard:
		return &models.PaymentError{Kind: models.PaymentDeclined, Code: code, Message: perr.Message}
	default:
		return &models.PaymentError{Kind: models.PaymentProcessorError, Code: code, Message: perr.Message}
	}
}

// ClassifyCharge turns a charge that did not succeed synchronously into a
// payment error. Processing charges are not failures.
func ClassifyCharge(ch *Charge) *models.PaymentError {
	switch ch.Status {
	case ChargeSucceeded, ChargeProcessing:
		return nil
	case ChargeRequiresAction:
		return &models.PaymentError{Kind: models.PaymentRequiresAction, Code: "authentication_required",
			Message: "the card requires customer authentication"}
	default:
		return &models.PaymentError{Kind: models.PaymentProcessorError, Code: ch.Status,
			Message: fmt.Sprintf("charge %s ended in status %s", ch.ID, ch.Status)}
	}
}
