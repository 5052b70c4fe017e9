// Package postgres implements the PostgreSQL persistence layer for the
// school fee ledger.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/shulehub/shule-fees-hub/internal/domain/payment"
	"github.com/shulehub/shule-fees-hub/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// PAYMENT REPOSITORY
// Read-only access. Payment status changes go through the ledger store.
// ══════════════════════════════════════════════════════════════════════════════

// PaymentRepository implements payment.Repository for PostgreSQL.
type PaymentRepository struct {
	conn *Connection
}

// NewPaymentRepository creates a new PaymentRepository.
func NewPaymentRepository(conn *Connection) *PaymentRepository {
	return &PaymentRepository{conn: conn}
}

const paymentColumns = `
	id, student_id, amount, mode, status, payer_name, payer_phone,
	receipt_number, failure_reason, created_at, completed_at
`

// GetByID returns a payment by ID.
func (r *PaymentRepository) GetByID(ctx context.Context, id string) (*payment.Payment, error) {
	query := `
		SELECT ` + paymentColumns + `
		FROM payments
		WHERE id = $1
	`

	p, err := scanPayment(r.conn.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, shared.ErrPaymentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get payment: %w", err)
	}
	return p, nil
}

// ListByStudent returns a student's payments, newest first.
func (r *PaymentRepository) ListByStudent(ctx context.Context, studentID string) ([]*payment.Payment, error) {
	query := `
		SELECT ` + paymentColumns + `
		FROM payments
		WHERE student_id = $1
		ORDER BY created_at DESC
	`

	return r.list(ctx, query, studentID)
}

// ListPendingOlderThan returns payments still PENDING whose creation time is
// before the cutoff. Feeds the reconciliation job.
func (r *PaymentRepository) ListPendingOlderThan(ctx context.Context, cutoff time.Time) ([]*payment.Payment, error) {
	query := `
		SELECT ` + paymentColumns + `
		FROM payments
		WHERE status = 'PENDING' AND created_at < $1
		ORDER BY created_at ASC
	`

	return r.list(ctx, query, cutoff)
}

// ListAllocations returns the allocation rows of one payment.
func (r *PaymentRepository) ListAllocations(ctx context.Context, paymentID string) ([]*payment.Allocation, error) {
	query := `
		SELECT id, payment_id, obligation_id, amount, created_at
		FROM payment_allocations
		WHERE payment_id = $1
		ORDER BY created_at ASC
	`

	rows, err := r.conn.Query(ctx, query, paymentID)
	if err != nil {
		return nil, fmt.Errorf("failed to list allocations: %w", err)
	}
	defer rows.Close()

	var allocations []*payment.Allocation
	for rows.Next() {
		a := &payment.Allocation{}
		if err := rows.Scan(&a.ID, &a.PaymentID, &a.ObligationID, &a.Amount, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan allocation: %w", err)
		}
		allocations = append(allocations, a)
	}
	return allocations, rows.Err()
}

func (r *PaymentRepository) list(ctx context.Context, query string, args ...interface{}) ([]*payment.Payment, error) {
	rows, err := r.conn.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list payments: %w", err)
	}
	defer rows.Close()

	var payments []*payment.Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan payment: %w", err)
		}
		payments = append(payments, p)
	}
	return payments, rows.Err()
}
