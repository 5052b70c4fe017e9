// Package postgres implements the PostgreSQL persistence layer for the
// school fee ledger.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/shulehub/shule-fees-hub/internal/domain/fees"
	"github.com/shulehub/shule-fees-hub/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// FEE OBLIGATION REPOSITORY
// Read-only access. Obligation mutation goes through the ledger store so it
// always runs under a transaction and row locks.
// ══════════════════════════════════════════════════════════════════════════════

// ObligationRepository implements fees.ObligationRepository for PostgreSQL.
type ObligationRepository struct {
	conn *Connection
}

// NewObligationRepository creates a new ObligationRepository.
func NewObligationRepository(conn *Connection) *ObligationRepository {
	return &ObligationRepository{conn: conn}
}

// GetByID returns an obligation by ID.
func (r *ObligationRepository) GetByID(ctx context.Context, id string) (*fees.Obligation, error) {
	query := `
		SELECT ` + obligationColumns + `
		FROM fee_obligations
		WHERE id = $1
	`

	o, err := scanObligation(r.conn.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, shared.ErrObligationNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get obligation: %w", err)
	}
	return o, nil
}

// ListByStudent returns every obligation of a student, due date ascending,
// ties broken by creation order.
func (r *ObligationRepository) ListByStudent(ctx context.Context, studentID string) ([]*fees.Obligation, error) {
	query := `
		SELECT ` + obligationColumns + `
		FROM fee_obligations
		WHERE student_id = $1
		ORDER BY due_date ASC, created_at ASC
	`

	return r.list(ctx, query, studentID)
}

// ListByClass returns all obligations for students of a class.
func (r *ObligationRepository) ListByClass(ctx context.Context, classID string) ([]*fees.Obligation, error) {
	query := `
		SELECT ` + obligationColumns + `
		FROM fee_obligations
		WHERE class_id = $1
		ORDER BY student_id ASC, due_date ASC
	`

	return r.list(ctx, query, classID)
}

// ListByTerm returns all obligations of a term in an academic year.
func (r *ObligationRepository) ListByTerm(ctx context.Context, term, academicYear string) ([]*fees.Obligation, error) {
	query := `
		SELECT ` + obligationColumns + `
		FROM fee_obligations
		WHERE term = $1 AND academic_year = $2
		ORDER BY student_id ASC, due_date ASC
	`

	return r.list(ctx, query, term, academicYear)
}

// ListStudentsWithUnpaid returns the distinct IDs of students that still
// carry unpaid obligations.
func (r *ObligationRepository) ListStudentsWithUnpaid(ctx context.Context) ([]string, error) {
	query := `
		SELECT DISTINCT student_id
		FROM fee_obligations
		WHERE NOT paid
		ORDER BY student_id ASC
	`

	rows, err := r.conn.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list students with unpaid obligations: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan student id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (r *ObligationRepository) list(ctx context.Context, query string, args ...interface{}) ([]*fees.Obligation, error) {
	rows, err := r.conn.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list obligations: %w", err)
	}
	defer rows.Close()

	var obligations []*fees.Obligation
	for rows.Next() {
		o, err := scanObligation(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan obligation: %w", err)
		}
		obligations = append(obligations, o)
	}
	return obligations, rows.Err()
}

// ══════════════════════════════════════════════════════════════════════════════
// ACCOUNT CREDIT REPOSITORY
// ══════════════════════════════════════════════════════════════════════════════

// CreditRepository implements fees.CreditRepository for PostgreSQL.
type CreditRepository struct {
	conn *Connection
}

// NewCreditRepository creates a new CreditRepository.
func NewCreditRepository(conn *Connection) *CreditRepository {
	return &CreditRepository{conn: conn}
}

// UnconsumedTotal returns the sum of the student's unconsumed credits.
func (r *CreditRepository) UnconsumedTotal(ctx context.Context, studentID string) (decimal.Decimal, error) {
	query := `
		SELECT COALESCE(SUM(amount), 0)
		FROM account_credits
		WHERE student_id = $1 AND NOT consumed
	`

	var total decimal.Decimal
	if err := r.conn.QueryRow(ctx, query, studentID).Scan(&total); err != nil {
		return decimal.Zero, fmt.Errorf("failed to sum account credits: %w", err)
	}
	return total, nil
}

// ListByStudent returns the student's credit history, newest first.
func (r *CreditRepository) ListByStudent(ctx context.Context, studentID string) ([]*fees.AccountCredit, error) {
	query := `
		SELECT id, student_id, amount, source_payment_id, consumed, consumed_at, created_at
		FROM account_credits
		WHERE student_id = $1
		ORDER BY created_at DESC
	`

	rows, err := r.conn.Query(ctx, query, studentID)
	if err != nil {
		return nil, fmt.Errorf("failed to list account credits: %w", err)
	}
	defer rows.Close()

	var credits []*fees.AccountCredit
	for rows.Next() {
		c := &fees.AccountCredit{}
		err := rows.Scan(
			&c.ID, &c.StudentID, &c.Amount, &c.SourcePaymentID,
			&c.Consumed, &c.ConsumedAt, &c.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan account credit: %w", err)
		}
		credits = append(credits, c)
	}
	return credits, rows.Err()
}
