package payment

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// Test payment methods understood by MockProvider
const (
	MethodSucceeds       = "pm_card_visa"
	MethodDeclines       = "pm_card_chargeDeclined"
	MethodInsufficient   = "pm_card_insufficientFunds"
	MethodRequiresAction = "pm_card_authenticationRequired"
	MethodProcessorError = "pm_card_processorError"
	MethodProcessing     = "pm_card_processing"
)

// MockProvider is a deterministic provider keyed on the payment method id.
// Unknown methods succeed. It honours idempotency keys.
type MockProvider struct {
	mu      sync.Mutex
	charges map[string]*Charge
	byKey   map[string]string
	calls   []ChargeRequest
	fail    map[string]error
}

func NewMockProvider() *MockProvider {
	return &MockProvider{
		charges: make(map[string]*Charge),
		byKey:   make(map[string]string),
		fail:    make(map[string]error),
	}
}

// FailWith makes every charge on paymentMethodID return err
func (m *MockProvider) FailWith(paymentMethodID string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fail[paymentMethodID] = err
}

// Clear removes a failure set with FailWith
func (m *MockProvider) Clear(paymentMethodID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.fail, paymentMethodID)
}

// Calls returns every charge request received
func (m *MockProvider) Calls() []ChargeRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]ChargeRequest(nil), m.calls...)
}

func (m *MockProvider) CreateCharge(ctx context.Context, req ChargeRequest) (*Charge, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls = append(m.calls, req)
	if req.IdempotencyKey != "" {
		if id, ok := m.byKey[req.IdempotencyKey]; ok {
			c := *m.charges[id]
			return &c, nil
		}
	}
	if req.AmountCents <= 0 {
		return nil, &ProviderError{Type: "invalid_request_error", Code: "amount_too_small", Message: "amount must be positive"}
	}
	if err, ok := m.fail[req.PaymentMethodID]; ok {
		return nil, err
	}

	id := "pi_" + uuid.New().String()
	charge := &Charge{ID: id, Status: ChargeSucceeded, AmountCents: req.AmountCents}
	var err error
	switch req.PaymentMethodID {
	case MethodProcessing:
		charge.Status = ChargeProcessing
	case MethodDeclines:
		charge.Status = ChargeFailed
		err = &ProviderError{Type: ErrorTypeCard, Code: "card_declined", DeclineCode: "generic_decline", Message: "Your card was declined.", ChargeID: id}
	case MethodInsufficient:
		charge.Status = ChargeFailed
		err = &ProviderError{Type: ErrorTypeCard, Code: "card_declined", DeclineCode: "insufficient_funds", Message: "Your card has insufficient funds.", ChargeID: id}
	case MethodRequiresAction:
		charge.Status = ChargeRequiresAction
		err = &ProviderError{Type: ErrorTypeCard, Code: "authentication_required", Message: "This payment requires authentication.", ChargeID: id}
	case MethodProcessorError:
		charge.Status = ChargeFailed
		err = &ProviderError{Type: ErrorTypeAPI, Code: "processing_error", Message: "An error occurred while processing the card.", ChargeID: id}
	}

	m.charges[id] = charge
	if req.IdempotencyKey != "" && err == nil {
		m.byKey[req.IdempotencyKey] = id
	}
	if err != nil {
		return nil, err
	}
	c := *charge
	return &c, nil
}

func (m *MockProvider) RetrieveCharge(ctx context.Context, id string) (*Charge, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.charges[id]
	if !ok {
		return nil, fmt.Errorf("charge %s not found", id)
	}
	cp := *c
	return &cp, nil
}
