package domain

import "fmt"

// Error types for consistent error handling across the billing engine.

// ErrNotFound indicates a resource was not found.
type ErrNotFound struct {
	Resource string
	ID       string
}

func (e *ErrNotFound) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Resource, e.ID)
}

// ErrValidation indicates a validation error (bad input).
type ErrValidation struct {
	Field   string
	Message string
}

func (e *ErrValidation) Error() string {
	return fmt.Sprintf("validation error on '%s': %s", e.Field, e.Message)
}

// ErrConflict indicates the operation conflicts with current state
// (e.g. billing groups already enabled, group closed).
type ErrConflict struct {
	Message string
}

func (e *ErrConflict) Error() string {
	return e.Message
}

// ErrTabMismatch indicates a billing group does not belong to the same tab
// as the line item being assigned.
type ErrTabMismatch struct {
	GroupID string
	TabID   string
}

func (e *ErrTabMismatch) Error() string {
	return fmt.Sprintf("billing group %s does not belong to tab %s", e.GroupID, e.TabID)
}

// ErrNoBillingGroups indicates automatic assignment was requested on a tab
// with no billing groups, so no target exists.
type ErrNoBillingGroups struct {
	TabID string
}

func (e *ErrNoBillingGroups) Error() string {
	return fmt.Sprintf("tab %s has no billing groups", e.TabID)
}

// ErrDepositExhausted indicates a deposit application exceeds the remaining
// deposit capacity. The application is refused, never clamped.
type ErrDepositExhausted struct {
	GroupID        string
	RemainingCents int64
	RequestedCents int64
}

func (e *ErrDepositExhausted) Error() string {
	return fmt.Sprintf("deposit exhausted on group %s: remaining=%d requested=%d",
		e.GroupID, e.RemainingCents, e.RequestedCents)
}

// ErrUnauthorized indicates invalid credentials, token or API key.
type ErrUnauthorized struct {
	Message string
}

func (e *ErrUnauthorized) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return "unauthorized"
}

// ErrExternalService indicates a failure in an external service call.
type ErrExternalService struct {
	Service string
	Err     error
}

func (e *ErrExternalService) Error() string {
	return fmt.Sprintf("external service error [%s]: %v", e.Service, e.Err)
}

func (e *ErrExternalService) Unwrap() error {
	return e.Err
}

// ErrCircuitOpen indicates the circuit breaker is open.
type ErrCircuitOpen struct {
	Service string
}

func (e *ErrCircuitOpen) Error() string {
	return fmt.Sprintf("circuit breaker open for service: %s", e.Service)
}
