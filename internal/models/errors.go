package models

import (
	"errors"
	"fmt"
)

// ValidationError is bad input or an action the policy disallows. It is
// returned to the caller and never retried.
type ValidationError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func NewValidationError(code, message string) *ValidationError {
	return &ValidationError{Code: code, Message: message}
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// TransitionError rejects a status change that is not in the adjacency
// table or fails a guard. It names both the current and attempted status.
type TransitionError struct {
	ServiceType ServiceType `json:"service_type"`
	From        OrderStatus `json:"from"`
	To          OrderStatus `json:"to"`
	Reason      string      `json:"reason"`
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("invalid transition %s -> %s for %s: %s", e.From, e.To, e.ServiceType, e.Reason)
}

// Conflict codes
const (
	ConflictSlotFull         = "SLOT_FULL"
	ConflictIdempotencyInUse = "IDEMPOTENCY_IN_FLIGHT"
)

// ConflictError means the request cannot be satisfied in the current state
// of a shared resource; callers should re-query rather than retry blindly.
type ConflictError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func NewSlotFullError(key SlotKey) *ConflictError {
	return &ConflictError{
		Code:    ConflictSlotFull,
		Message: fmt.Sprintf("slot %s for partner %s is full", key.SlotStart.UTC().Format("2006-01-02T15:04Z"), key.PartnerID),
	}
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// IsSlotFull reports whether err is a SLOT_FULL conflict
func IsSlotFull(err error) bool {
	var ce *ConflictError
	return errors.As(err, &ce) && ce.Code == ConflictSlotFull
}

// NotFoundError means a referenced order, policy, partner or slot is absent
type NotFoundError struct {
	Entity string `json:"entity"`
	ID     string `json:"id"`
}

func NewNotFoundError(entity, id string) *NotFoundError {
	return &NotFoundError{Entity: entity, ID: id}
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Entity, e.ID)
}

// IsNotFound reports whether err is a NotFoundError
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

// PaymentErrorKind classifies provider failures
type PaymentErrorKind string

const (
	PaymentDeclined       PaymentErrorKind = "card_declined"
	PaymentRequiresAction PaymentErrorKind = "requires_action"
	PaymentProcessorError PaymentErrorKind = "processor_error"
)

// PaymentError is terminal for the current attempt only
type PaymentError struct {
	Kind    PaymentErrorKind `json:"kind"`
	Code    string           `json:"code"`
	Message string           `json:"message"`
}

func (e *PaymentError) Error() string {
	return fmt.Sprintf("payment %s (%s): %s", e.Kind, e.Code, e.Message)
}

// ErrInvalidSignature rejects an inbound payment event before any mutation
var ErrInvalidSignature = errors.New("invalid payment event signature")
