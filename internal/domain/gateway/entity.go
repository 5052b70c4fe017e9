// Package gateway contains the mobile-money gateway transaction model: one
// external request/response cycle tied 1:1 to a mobile-money payment, and the
// state machine that guards its resolution.
package gateway

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/shulehub/shule-fees-hub/internal/domain/shared"
)

// Status is the gateway transaction state.
//
// Machine: INITIATED → PENDING → {COMPLETED, FAILED}. Both end states are
// terminal and never revisited; reprocessing the same external confirmation
// must not apply funds twice. TIMEOUT is operational, not a state: a
// transaction past the SLA window is resolved by an explicit status query.
type Status string

const (
	StatusInitiated Status = "INITIATED"
	StatusPending   Status = "PENDING"
	StatusCompleted Status = "COMPLETED"
	StatusFailed    Status = "FAILED"
)

// IsTerminal returns true for COMPLETED and FAILED.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// CanTransitionTo reports whether the machine allows s → next.
func (s Status) CanTransitionTo(next Status) bool {
	switch s {
	case StatusInitiated:
		return next == StatusPending || next == StatusFailed
	case StatusPending:
		return next == StatusCompleted || next == StatusFailed
	default:
		return false
	}
}

// Transaction records one request/response cycle with the external processor.
type Transaction struct {
	ID        string
	PaymentID string

	// External correlation identifiers issued by the processor.
	CheckoutRequestID string
	MerchantRequestID string

	PhoneNumber string
	Amount      decimal.Decimal
	Status      Status

	// Result fields, populated when the transaction resolves.
	ResultCode      *int
	ResultDesc      string
	GatewayReceipt  string
	TransactionDate *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// NewTransaction builds an INITIATED transaction for a payment.
func NewTransaction(id, paymentID, phone string, amount decimal.Decimal, now time.Time) *Transaction {
	return &Transaction{
		ID:          id,
		PaymentID:   paymentID,
		PhoneNumber: phone,
		Amount:      amount,
		Status:      StatusInitiated,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// Accept records the processor's acceptance of the request and moves the
// transaction to PENDING, waiting for the asynchronous confirmation.
func (t *Transaction) Accept(checkoutRequestID, merchantRequestID string, now time.Time) error {
	if err := t.transition(StatusPending, now); err != nil {
		return err
	}
	t.CheckoutRequestID = checkoutRequestID
	t.MerchantRequestID = merchantRequestID
	return nil
}

// Resolve records the confirmation result and moves the transaction to its
// terminal state. Resolving an already-terminal transaction is rejected with
// ErrTransactionTerminal - that is the idempotency guard.
func (t *Transaction) Resolve(result CallbackResult, now time.Time) error {
	next := StatusFailed
	if result.Succeeded() {
		next = StatusCompleted
	}
	if err := t.transition(next, now); err != nil {
		return err
	}
	code := result.ResultCode
	t.ResultCode = &code
	t.ResultDesc = result.ResultDesc
	t.GatewayReceipt = result.GatewayReceipt
	if !result.TransactionDate.IsZero() {
		txDate := result.TransactionDate
		t.TransactionDate = &txDate
	}
	return nil
}

// MarkFailed moves an INITIATED transaction straight to FAILED, used when the
// processor rejects the request before issuing correlation IDs.
func (t *Transaction) MarkFailed(desc string, now time.Time) error {
	if err := t.transition(StatusFailed, now); err != nil {
		return err
	}
	t.ResultDesc = desc
	return nil
}

func (t *Transaction) transition(next Status, now time.Time) error {
	if t.Status.IsTerminal() {
		return shared.ErrTransactionTerminal
	}
	if !t.Status.CanTransitionTo(next) {
		return shared.WrapError("gateway", "Transition", shared.ErrStateTransition,
			fmt.Sprintf("cannot move %s to %s", t.Status, next), nil)
	}
	t.Status = next
	t.UpdatedAt = now
	return nil
}

// CallbackResult is the normalized confirmation delivered by the processor,
// either via webhook or via an explicit status query.
type CallbackResult struct {
	CheckoutRequestID string
	MerchantRequestID string
	ResultCode        int
	ResultDesc        string
	GatewayReceipt    string
	Amount            decimal.Decimal
	PhoneNumber       string
	TransactionDate   time.Time
}

// Succeeded returns true when the processor confirmed the money moved.
func (r CallbackResult) Succeeded() bool {
	return r.ResultCode == 0
}
