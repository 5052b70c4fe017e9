// Package shared contains common domain types, errors, and events used across
// all domain packages. This package has zero external dependencies.
package shared

import (
	"errors"
	"fmt"
)

// Base domain errors that can be used for error checking with errors.Is().
var (
	// Entity errors
	ErrNotFound      = errors.New("entity not found")
	ErrAlreadyExists = errors.New("entity already exists")

	// Validation errors
	ErrValidation    = errors.New("validation error")
	ErrInvalidID     = errors.New("invalid ID")
	ErrInvalidInput  = errors.New("invalid input")
	ErrInvalidAmount = errors.New("amount must be positive")

	// State errors
	ErrInvalidState     = errors.New("invalid state")
	ErrStateTransition  = errors.New("invalid state transition")
	ErrAlreadyProcessed = errors.New("already processed")

	// Ledger errors
	ErrAllocationInconsistency = errors.New("allocation inconsistency")
	ErrDuplicateCallback       = errors.New("duplicate gateway callback")

	// External service errors
	ErrGateway            = errors.New("gateway error")
	ErrServiceUnavailable = errors.New("service unavailable")
	ErrTimeout            = errors.New("operation timeout")
)

// DomainError represents a domain-specific error with context.
type DomainError struct {
	Domain  string // e.g., "fees", "payment", "gateway"
	Op      string // Operation that failed, e.g., "Assign", "Allocate"
	Kind    error  // Base error type for errors.Is() checking
	Message string // Human-readable message
	Err     error  // Underlying error (optional)
}

// Error implements the error interface.
func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s.%s: %s: %v", e.Domain, e.Op, e.Message, e.Err)
	}
	return fmt.Sprintf("%s.%s: %s", e.Domain, e.Op, e.Message)
}

// Unwrap returns the underlying error for errors.Unwrap().
func (e *DomainError) Unwrap() error {
	if e.Err != nil {
		return e.Err
	}
	return e.Kind
}

// Is implements errors.Is() matching.
func (e *DomainError) Is(target error) bool {
	if e.Kind != nil && errors.Is(e.Kind, target) {
		return true
	}
	if e.Err != nil && errors.Is(e.Err, target) {
		return true
	}
	return false
}

// NewDomainError creates a new domain error.
func NewDomainError(domain, op string, kind error, message string) *DomainError {
	return &DomainError{
		Domain:  domain,
		Op:      op,
		Kind:    kind,
		Message: message,
	}
}

// WrapError wraps an existing error with domain context.
func WrapError(domain, op string, kind error, message string, err error) *DomainError {
	return &DomainError{
		Domain:  domain,
		Op:      op,
		Kind:    kind,
		Message: message,
		Err:     err,
	}
}

// Fees domain errors
var (
	ErrTemplateNotFound   = NewDomainError("fees", "FindTemplate", ErrNotFound, "fee template not found")
	ErrTemplateInactive   = NewDomainError("fees", "Assign", ErrNotFound, "fee template is inactive")
	ErrObligationNotFound = NewDomainError("fees", "FindObligation", ErrNotFound, "fee obligation not found")
	ErrStudentNotFound    = NewDomainError("fees", "FindStudent", ErrNotFound, "student not found")
)

// Payment domain errors
var (
	ErrPaymentNotFound    = NewDomainError("payment", "Find", ErrNotFound, "payment not found")
	ErrNonPositiveAmount  = NewDomainError("payment", "Validate", ErrInvalidAmount, "payment amount must be positive")
	ErrInvalidPaymentMode = NewDomainError("payment", "Validate", ErrInvalidInput, "unknown payment mode")
	ErrPaymentNotPending  = NewDomainError("payment", "Transition", ErrStateTransition, "payment is not pending")
	ErrPaymentTerminal    = NewDomainError("payment", "Transition", ErrStateTransition, "payment already in terminal state")
	ErrMissingPhoneNumber = NewDomainError("payment", "Validate", ErrInvalidInput, "mobile money payment requires a phone number")
	ErrOverAllocation     = NewDomainError("payment", "Allocate", ErrAllocationInconsistency, "allocated sum would exceed payment amount")
	ErrObligationVanished = NewDomainError("payment", "Allocate", ErrAllocationInconsistency, "referenced obligation vanished mid-transaction")
)

// Gateway domain errors
var (
	ErrTransactionNotFound = NewDomainError("gateway", "Find", ErrNotFound, "gateway transaction not found")
	ErrTransactionTerminal = NewDomainError("gateway", "Transition", ErrAlreadyProcessed, "gateway transaction already terminal")
	ErrCallbackUnmatched   = NewDomainError("gateway", "HandleCallback", ErrNotFound, "no transaction matches callback")
	ErrGatewayAuth         = NewDomainError("gateway", "Authenticate", ErrGateway, "gateway authentication failed")
	ErrGatewayUnavailable  = NewDomainError("gateway", "Request", ErrServiceUnavailable, "gateway is unavailable")
	ErrInvalidPhoneNumber  = NewDomainError("gateway", "Normalize", ErrInvalidInput, "phone number cannot be normalized")
	ErrGatewayRejected     = NewDomainError("gateway", "Initiate", ErrGateway, "gateway rejected the request")
)

// IsNotFound checks if the error is a "not found" error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsValidation checks if the error is a validation error.
func IsValidation(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrInvalidID) ||
		errors.Is(err, ErrInvalidInput) ||
		errors.Is(err, ErrInvalidAmount)
}

// IsGateway checks if the error came from the mobile-money gateway.
func IsGateway(err error) bool {
	return errors.Is(err, ErrGateway) ||
		errors.Is(err, ErrServiceUnavailable) ||
		errors.Is(err, ErrTimeout)
}

// IsAllocationInconsistency checks if the error is a ledger consistency failure.
// These must abort the enclosing transaction and be flagged for manual review.
func IsAllocationInconsistency(err error) bool {
	return errors.Is(err, ErrAllocationInconsistency)
}
