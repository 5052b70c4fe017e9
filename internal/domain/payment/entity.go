// Package payment contains the payment record domain model: one money-in
// event, its forward-only lifecycle, its receipt number, and the allocation
// rows linking it to fee obligations.
package payment

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/shulehub/shule-fees-hub/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// VALUE OBJECTS
// ══════════════════════════════════════════════════════════════════════════════

// Mode is the closed set of ways money comes in.
type Mode string

const (
	// ModeCash is money handed over at the bursar's desk.
	ModeCash Mode = "CASH"
	// ModeBank is a bank deposit or transfer.
	ModeBank Mode = "BANK"
	// ModeMobileMoney is an asynchronous mobile-money payment.
	ModeMobileMoney Mode = "MOBILE_MONEY"
)

// ParseMode validates a raw mode string.
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToUpper(strings.TrimSpace(s))) {
	case ModeCash:
		return ModeCash, nil
	case ModeBank:
		return ModeBank, nil
	case ModeMobileMoney:
		return ModeMobileMoney, nil
	default:
		return "", shared.ErrInvalidPaymentMode
	}
}

// IsSynchronous returns true when the mode settles inline with the creating
// request rather than waiting for a gateway confirmation.
func (m Mode) IsSynchronous() bool {
	return m == ModeCash || m == ModeBank
}

// Status is the payment lifecycle state.
//
// Machine: CREATED → COMPLETED (synchronous modes) or
// CREATED → PENDING → {COMPLETED, FAILED} (mobile money).
// COMPLETED and FAILED are terminal and never revisited.
type Status string

const (
	StatusCreated   Status = "CREATED"
	StatusPending   Status = "PENDING"
	StatusCompleted Status = "COMPLETED"
	StatusFailed    Status = "FAILED"
)

// IsTerminal returns true for states that can never transition again.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// CanTransitionTo reports whether the machine allows s → next.
func (s Status) CanTransitionTo(next Status) bool {
	switch s {
	case StatusCreated:
		return next == StatusPending || next == StatusCompleted || next == StatusFailed
	case StatusPending:
		return next == StatusCompleted || next == StatusFailed
	default:
		return false
	}
}

// PayerInfo identifies who handed the money over.
type PayerInfo struct {
	Name  string
	Phone string
}

// ══════════════════════════════════════════════════════════════════════════════
// PAYMENT
// ══════════════════════════════════════════════════════════════════════════════

// Payment is one money-in event. Amount is immutable after creation; status
// only moves forward.
type Payment struct {
	ID            string
	StudentID     string
	Amount        decimal.Decimal
	Mode          Mode
	Status        Status
	ReceiptNumber string
	Payer         PayerInfo
	FailureReason string
	CreatedAt     time.Time
	CompletedAt   *time.Time
}

// New validates the input and builds a payment in the CREATED state.
func New(id, studentID string, amount decimal.Decimal, mode Mode, payer PayerInfo, now time.Time) (*Payment, error) {
	if strings.TrimSpace(studentID) == "" {
		return nil, shared.NewDomainError("payment", "New", shared.ErrInvalidInput, "student ID is required")
	}
	if !amount.IsPositive() {
		return nil, shared.ErrNonPositiveAmount
	}
	if mode == ModeMobileMoney && strings.TrimSpace(payer.Phone) == "" {
		return nil, shared.ErrMissingPhoneNumber
	}
	return &Payment{
		ID:        id,
		StudentID: studentID,
		Amount:    amount,
		Mode:      mode,
		Status:    StatusCreated,
		Payer:     payer,
		CreatedAt: now,
	}, nil
}

// TransitionTo advances the lifecycle, rejecting illegal transitions outright.
func (p *Payment) TransitionTo(next Status, now time.Time) error {
	if p.Status.IsTerminal() {
		return shared.ErrPaymentTerminal
	}
	if !p.Status.CanTransitionTo(next) {
		return shared.WrapError("payment", "Transition", shared.ErrStateTransition,
			fmt.Sprintf("cannot move %s to %s", p.Status, next), nil)
	}
	p.Status = next
	if next == StatusCompleted {
		completedAt := now
		p.CompletedAt = &completedAt
	}
	return nil
}

// Fail moves the payment to FAILED with a reason for the audit trail.
func (p *Payment) Fail(reason string, now time.Time) error {
	if err := p.TransitionTo(StatusFailed, now); err != nil {
		return err
	}
	p.FailureReason = reason
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// ALLOCATION
// ══════════════════════════════════════════════════════════════════════════════

// Allocation is the junction record linking a payment to an obligation with
// the exact amount applied. It is the audit trail that lets balances be
// reconstructed deterministically.
type Allocation struct {
	ID           string
	PaymentID    string
	ObligationID string
	Amount       decimal.Decimal
	CreatedAt    time.Time
}

// ══════════════════════════════════════════════════════════════════════════════
// RECEIPTS
// ══════════════════════════════════════════════════════════════════════════════

// FormatReceiptNumber renders a receipt number unique and increasing within
// the given year. The sequence value comes from an atomic DB counter, never
// from counting rows.
func FormatReceiptNumber(year int, seq int64) string {
	return fmt.Sprintf("RCP-%d-%06d", year, seq)
}
