// Package fees contains the fee obligation ledger domain model.
// This is the system of record for what each student owes and what has been
// paid. Obligations are mutated only by the allocation engine and are never
// deleted - they are the historical ledger.
package fees

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/shulehub/shule-fees-hub/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// FEE TEMPLATE
// ══════════════════════════════════════════════════════════════════════════════

// Template is a named, priced charge definition (e.g. "Term 1 Tuition 2026").
// Templates are created by staff and become immutable once obligations
// reference them.
type Template struct {
	ID           string
	Name         string
	Amount       decimal.Decimal
	Term         string
	AcademicYear string
	Active       bool
	CreatedAt    time.Time
}

// Validate checks that the template is well-formed.
func (t *Template) Validate() error {
	if strings.TrimSpace(t.Name) == "" {
		return shared.NewDomainError("fees", "Validate", shared.ErrInvalidInput, "template name is required")
	}
	if !t.Amount.IsPositive() {
		return shared.NewDomainError("fees", "Validate", shared.ErrInvalidAmount, "template amount must be positive")
	}
	if strings.TrimSpace(t.AcademicYear) == "" {
		return shared.NewDomainError("fees", "Validate", shared.ErrInvalidInput, "academic year is required")
	}
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// FEE OBLIGATION
// ══════════════════════════════════════════════════════════════════════════════

// Obligation is one student's instance of owing a Template's amount.
//
// Invariant: Balance() == max(0, Amount - PaidAmount - Carryover) at all times.
// PaidAmount only ever grows, and only the allocation engine grows it.
type Obligation struct {
	ID           string
	StudentID    string
	ClassID      string
	TemplateID   string
	Title        string
	Amount       decimal.Decimal
	PaidAmount   decimal.Decimal
	Carryover    decimal.Decimal
	Term         string
	AcademicYear string
	DueDate      time.Time
	Paid         bool
	PaidAt       *time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// NewObligation creates an obligation from a template with nothing paid yet.
// The carryover is credit applied at assignment time from the student's
// account credit balance (overpayment from earlier payments).
func NewObligation(id, studentID, classID string, tpl *Template, dueDate time.Time, carryover decimal.Decimal, now time.Time) *Obligation {
	o := &Obligation{
		ID:           id,
		StudentID:    studentID,
		ClassID:      classID,
		TemplateID:   tpl.ID,
		Title:        tpl.Name,
		Amount:       tpl.Amount,
		PaidAmount:   decimal.Zero,
		Carryover:    carryover,
		Term:         tpl.Term,
		AcademicYear: tpl.AcademicYear,
		DueDate:      dueDate,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if o.Outstanding().LessThanOrEqual(decimal.Zero) {
		o.markPaid(now)
	}
	return o
}

// Outstanding returns Amount - PaidAmount - Carryover. May be negative when
// carryover credit exceeds the charge.
func (o *Obligation) Outstanding() decimal.Decimal {
	return o.Amount.Sub(o.PaidAmount).Sub(o.Carryover)
}

// Balance returns the amount still owed, never negative.
func (o *Obligation) Balance() decimal.Decimal {
	out := o.Outstanding()
	if out.IsNegative() {
		return decimal.Zero
	}
	return out
}

// Apply records a portion of a payment against this obligation.
// The applied amount must not exceed the outstanding balance.
func (o *Obligation) Apply(amount decimal.Decimal, now time.Time) error {
	if !amount.IsPositive() {
		return shared.NewDomainError("fees", "Apply", shared.ErrInvalidAmount, "applied amount must be positive")
	}
	if amount.GreaterThan(o.Outstanding()) {
		return shared.ErrOverAllocation
	}
	o.PaidAmount = o.PaidAmount.Add(amount)
	o.UpdatedAt = now
	if o.PaidAmount.Add(o.Carryover).GreaterThanOrEqual(o.Amount) {
		o.markPaid(now)
	}
	return nil
}

func (o *Obligation) markPaid(now time.Time) {
	o.Paid = true
	paidAt := now
	o.PaidAt = &paidAt
	o.UpdatedAt = now
}

// ══════════════════════════════════════════════════════════════════════════════
// ACCOUNT CREDIT
// ══════════════════════════════════════════════════════════════════════════════

// AccountCredit records overpayment that exceeded every outstanding obligation
// of a student. Credits sit on the account until a new obligation is assigned,
// at which point they are consumed into that obligation's carryover.
type AccountCredit struct {
	ID              string
	StudentID       string
	SourcePaymentID string
	Amount          decimal.Decimal
	Consumed        bool
	ConsumedAt      *time.Time
	CreatedAt       time.Time
}

// BalanceSummary aggregates a student's ledger for reporting.
type BalanceSummary struct {
	StudentID   string          `json:"student_id"`
	TotalDue    decimal.Decimal `json:"total_due"`
	TotalPaid   decimal.Decimal `json:"total_paid"`
	Carryover   decimal.Decimal `json:"carryover"`
	Balance     decimal.Decimal `json:"balance"`
	Credit      decimal.Decimal `json:"credit"`
	Obligations int             `json:"obligations"`
	Unpaid      int             `json:"unpaid"`
}

// Summarize folds a set of obligations plus unconsumed credit into a summary.
func Summarize(studentID string, obligations []*Obligation, credit decimal.Decimal) BalanceSummary {
	s := BalanceSummary{
		StudentID: studentID,
		TotalDue:  decimal.Zero,
		TotalPaid: decimal.Zero,
		Carryover: decimal.Zero,
		Balance:   decimal.Zero,
		Credit:    credit,
	}
	for _, o := range obligations {
		s.TotalDue = s.TotalDue.Add(o.Amount)
		s.TotalPaid = s.TotalPaid.Add(o.PaidAmount)
		s.Carryover = s.Carryover.Add(o.Carryover)
		s.Balance = s.Balance.Add(o.Balance())
		s.Obligations++
		if !o.Paid {
			s.Unpaid++
		}
	}
	return s
}
