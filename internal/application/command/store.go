// Package command contains the write-side application handlers: obligation
// assignment, payment creation, the allocation engine, and gateway
// reconciliation. Every ledger mutation runs inside a Ledger transaction so
// that a cash deposit and a gateway callback racing on the same student
// serialize instead of losing updates.
package command

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/shulehub/shule-fees-hub/internal/domain/fees"
	"github.com/shulehub/shule-fees-hub/internal/domain/gateway"
	"github.com/shulehub/shule-fees-hub/internal/domain/payment"
)

// Ledger is the transactional boundary around the fee ledger. A function
// passed to InTx either fully commits or fully rolls back - partially applied
// payments must never persist.
type Ledger interface {
	InTx(ctx context.Context, fn func(ctx context.Context, tx LedgerTx) error) error
}

// LedgerTx is the set of ledger operations available inside one transaction.
// The *ForUpdate methods take row locks for the duration of the transaction;
// the guarded methods only succeed from the expected current state, which is
// what makes duplicate callbacks and racing writers safe.
type LedgerTx interface {
	// ─────────────────────────────────────────────────────────────────────────
	// Templates
	// ─────────────────────────────────────────────────────────────────────────

	// GetTemplate returns a fee template.
	// Returns ErrTemplateNotFound when unknown.
	GetTemplate(ctx context.Context, id string) (*fees.Template, error)

	// InsertTemplate stores a new fee template.
	InsertTemplate(ctx context.Context, tpl *fees.Template) error

	// ─────────────────────────────────────────────────────────────────────────
	// Obligations
	// ─────────────────────────────────────────────────────────────────────────

	// InsertObligation stores a new obligation.
	InsertObligation(ctx context.Context, o *fees.Obligation) error

	// UnpaidObligationsForUpdate loads the student's unpaid obligations with
	// row locks, due date ascending, ties broken by creation order.
	UnpaidObligationsForUpdate(ctx context.Context, studentID string) ([]*fees.Obligation, error)

	// UpdateObligation persists a mutated obligation.
	// Returns ErrObligationVanished when the row no longer exists.
	UpdateObligation(ctx context.Context, o *fees.Obligation) error

	// ─────────────────────────────────────────────────────────────────────────
	// Credits
	// ─────────────────────────────────────────────────────────────────────────

	// InsertCredit records an overpayment as account-level credit.
	InsertCredit(ctx context.Context, c *fees.AccountCredit) error

	// ConsumeCredits consumes the student's unconsumed credits oldest-first,
	// up to limit, and returns the consumed total, to be folded into a new
	// obligation's carryover. A credit straddling the limit is split: the
	// excess is re-inserted as a fresh credit keeping its original position
	// in the queue. The returned total never exceeds limit.
	ConsumeCredits(ctx context.Context, studentID string, limit decimal.Decimal, now time.Time) (decimal.Decimal, error)

	// ─────────────────────────────────────────────────────────────────────────
	// Payments
	// ─────────────────────────────────────────────────────────────────────────

	// InsertPayment stores a new payment.
	InsertPayment(ctx context.Context, p *payment.Payment) error

	// GetPaymentForUpdate loads a payment with a row lock.
	// Returns ErrPaymentNotFound when unknown.
	GetPaymentForUpdate(ctx context.Context, id string) (*payment.Payment, error)

	// UpdatePaymentStatus persists a payment's status fields.
	UpdatePaymentStatus(ctx context.Context, p *payment.Payment) error

	// InsertAllocation stores one allocation row.
	InsertAllocation(ctx context.Context, a *payment.Allocation) error

	// NextReceiptSequence atomically increments and returns the receipt
	// counter for the given year.
	NextReceiptSequence(ctx context.Context, year int) (int64, error)

	// ─────────────────────────────────────────────────────────────────────────
	// Gateway transactions
	// ─────────────────────────────────────────────────────────────────────────

	// InsertTransaction stores a new gateway transaction.
	InsertTransaction(ctx context.Context, t *gateway.Transaction) error

	// GetTransactionByCheckoutIDForUpdate loads a transaction by correlation
	// ID with a row lock. Returns ErrTransactionNotFound when unknown.
	GetTransactionByCheckoutIDForUpdate(ctx context.Context, checkoutRequestID string) (*gateway.Transaction, error)

	// GetTransactionByPaymentIDForUpdate loads a payment's transaction with a
	// row lock. Returns ErrTransactionNotFound when unknown.
	GetTransactionByPaymentIDForUpdate(ctx context.Context, paymentID string) (*gateway.Transaction, error)

	// UpdateTransaction persists transaction fields without a status guard,
	// used for recording the processor's acceptance.
	UpdateTransaction(ctx context.Context, t *gateway.Transaction) error

	// ResolveTransaction persists a terminal transaction guarded on the row
	// still being PENDING. Returns false when a concurrent writer already
	// resolved it - the caller must then treat the callback as a duplicate.
	ResolveTransaction(ctx context.Context, t *gateway.Transaction) (bool, error)
}
