package payment

import (
	"context"
	"time"
)

// Repository provides read access to payments and allocations.
// Ledger mutation goes through the transactional store in the application
// layer; implementations live in infrastructure/persistence.
type Repository interface {
	// GetByID returns a payment by ID.
	// Returns ErrPaymentNotFound when the payment is unknown.
	GetByID(ctx context.Context, id string) (*Payment, error)

	// ListByStudent returns a student's payments, newest first.
	ListByStudent(ctx context.Context, studentID string) ([]*Payment, error)

	// ListAllocations returns the allocation rows of one payment.
	ListAllocations(ctx context.Context, paymentID string) ([]*Allocation, error)

	// ListPendingOlderThan returns mobile-money payments still PENDING whose
	// creation time is before the cutoff. Used by the reconciliation job.
	ListPendingOlderThan(ctx context.Context, cutoff time.Time) ([]*Payment, error)
}
