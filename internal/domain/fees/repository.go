package fees

import (
	"context"

	"github.com/shopspring/decimal"
)

// ══════════════════════════════════════════════════════════════════════════════
// REPOSITORY INTERFACES
// These interfaces define the read-side contract for the fee ledger.
// Ledger mutation goes through the transactional store in the application
// layer; implementations live in infrastructure/persistence.
// ══════════════════════════════════════════════════════════════════════════════

// TemplateRepository provides access to fee templates.
type TemplateRepository interface {
	// Create stores a new template.
	// Returns ErrAlreadyExists when a template with the same name, term and
	// academic year already exists.
	Create(ctx context.Context, tpl *Template) error

	// GetByID returns a template by ID.
	// Returns ErrTemplateNotFound when the template is unknown.
	GetByID(ctx context.Context, id string) (*Template, error)

	// List returns templates, optionally restricted to active ones.
	List(ctx context.Context, onlyActive bool) ([]*Template, error)

	// Deactivate marks a template inactive so no new obligations reference it.
	Deactivate(ctx context.Context, id string) error
}

// ObligationRepository provides read access to fee obligations.
type ObligationRepository interface {
	// GetByID returns an obligation by ID.
	// Returns ErrObligationNotFound when the obligation is unknown.
	GetByID(ctx context.Context, id string) (*Obligation, error)

	// ListByStudent returns every obligation of a student, due date ascending,
	// ties broken by creation order.
	ListByStudent(ctx context.Context, studentID string) ([]*Obligation, error)

	// ListByClass returns all obligations for students of a class.
	ListByClass(ctx context.Context, classID string) ([]*Obligation, error)

	// ListByTerm returns all obligations whose template belongs to a term.
	ListByTerm(ctx context.Context, term, academicYear string) ([]*Obligation, error)
}

// CreditRepository provides read access to account credits.
type CreditRepository interface {
	// UnconsumedTotal returns the sum of the student's unconsumed credits.
	UnconsumedTotal(ctx context.Context, studentID string) (decimal.Decimal, error)

	// ListByStudent returns the student's credit history, newest first.
	ListByStudent(ctx context.Context, studentID string) ([]*AccountCredit, error)
}
