// Package postgres implements the PostgreSQL persistence layer for the
// school fee ledger.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/shulehub/shule-fees-hub/internal/application/command"
	"github.com/shulehub/shule-fees-hub/internal/domain/fees"
	"github.com/shulehub/shule-fees-hub/internal/domain/gateway"
	"github.com/shulehub/shule-fees-hub/internal/domain/payment"
	"github.com/shulehub/shule-fees-hub/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// LEDGER STORE
// Transactional write-side store. Every money-moving operation runs inside
// one database transaction opened by InTx; the *ForUpdate loads take row
// locks so a cash deposit and a gateway callback racing on the same student
// serialize instead of losing updates.
// ══════════════════════════════════════════════════════════════════════════════

// LedgerStore implements command.Ledger for PostgreSQL.
type LedgerStore struct {
	conn *Connection
}

// NewLedgerStore creates a new LedgerStore.
func NewLedgerStore(conn *Connection) *LedgerStore {
	return &LedgerStore{conn: conn}
}

// InTx runs fn inside one read-write transaction. The transaction commits
// when fn returns nil and rolls back otherwise.
func (s *LedgerStore) InTx(ctx context.Context, fn func(ctx context.Context, tx command.LedgerTx) error) error {
	return s.conn.WithTx(ctx, DefaultTxOptions(), func(tx pgx.Tx) error {
		return fn(ctx, &ledgerTx{tx: tx})
	})
}

// ledgerTx implements command.LedgerTx over one open pgx transaction.
type ledgerTx struct {
	tx pgx.Tx
}

// ─────────────────────────────────────────────────────────────────────────────
// Templates
// ─────────────────────────────────────────────────────────────────────────────

func (t *ledgerTx) GetTemplate(ctx context.Context, id string) (*fees.Template, error) {
	query := `
		SELECT id, name, amount, term, academic_year, active, created_at
		FROM fee_templates
		WHERE id = $1
	`

	tpl := &fees.Template{}
	err := t.tx.QueryRow(ctx, query, id).Scan(
		&tpl.ID, &tpl.Name, &tpl.Amount, &tpl.Term, &tpl.AcademicYear,
		&tpl.Active, &tpl.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, shared.ErrTemplateNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load fee template: %w", err)
	}
	return tpl, nil
}

func (t *ledgerTx) InsertTemplate(ctx context.Context, tpl *fees.Template) error {
	query := `
		INSERT INTO fee_templates (id, name, amount, term, academic_year, active, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	_, err := t.tx.Exec(ctx, query,
		tpl.ID, tpl.Name, tpl.Amount, tpl.Term, tpl.AcademicYear, tpl.Active, tpl.CreatedAt,
	)
	if err != nil {
		if IsUniqueViolation(err) {
			return shared.ErrAlreadyExists
		}
		return fmt.Errorf("failed to insert fee template: %w", err)
	}
	return nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Obligations
// ─────────────────────────────────────────────────────────────────────────────

const obligationColumns = `
	id, student_id, class_id, template_id, name, amount, paid_amount, carryover,
	term, academic_year, due_date, paid, paid_at, created_at, updated_at
`

func scanObligation(row pgx.Row) (*fees.Obligation, error) {
	o := &fees.Obligation{}
	err := row.Scan(
		&o.ID, &o.StudentID, &o.ClassID, &o.TemplateID, &o.Title,
		&o.Amount, &o.PaidAmount, &o.Carryover,
		&o.Term, &o.AcademicYear, &o.DueDate,
		&o.Paid, &o.PaidAt, &o.CreatedAt, &o.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return o, nil
}

func (t *ledgerTx) InsertObligation(ctx context.Context, o *fees.Obligation) error {
	query := `
		INSERT INTO fee_obligations (
			id, student_id, class_id, template_id, name, amount, paid_amount,
			carryover, term, academic_year, due_date, paid, paid_at, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	`

	_, err := t.tx.Exec(ctx, query,
		o.ID, o.StudentID, o.ClassID, o.TemplateID, o.Title,
		o.Amount, o.PaidAmount, o.Carryover,
		o.Term, o.AcademicYear, o.DueDate,
		o.Paid, o.PaidAt, o.CreatedAt, o.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert obligation: %w", err)
	}
	return nil
}

func (t *ledgerTx) UnpaidObligationsForUpdate(ctx context.Context, studentID string) ([]*fees.Obligation, error) {
	// Locked oldest-due-first so every allocating writer takes row locks in
	// the same order and deadlocks cannot form.
	query := `
		SELECT ` + obligationColumns + `
		FROM fee_obligations
		WHERE student_id = $1 AND NOT paid
		ORDER BY due_date ASC, created_at ASC
		FOR UPDATE
	`

	rows, err := t.tx.Query(ctx, query, studentID)
	if err != nil {
		return nil, fmt.Errorf("failed to lock unpaid obligations: %w", err)
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

func (t *ledgerTx) UpdateObligation(ctx context.Context, o *fees.Obligation) error {
	query := `
		UPDATE fee_obligations
		SET paid_amount = $2, carryover = $3, paid = $4, paid_at = $5, updated_at = $6
		WHERE id = $1
	`

	tag, err := t.tx.Exec(ctx, query,
		o.ID, o.PaidAmount, o.Carryover, o.Paid, o.PaidAt, o.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update obligation: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrObligationVanished
	}
	return nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Credits
// ─────────────────────────────────────────────────────────────────────────────

func (t *ledgerTx) InsertCredit(ctx context.Context, c *fees.AccountCredit) error {
	query := `
		INSERT INTO account_credits (id, student_id, amount, source_payment_id, consumed, consumed_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	_, err := t.tx.Exec(ctx, query,
		c.ID, c.StudentID, c.Amount, c.SourcePaymentID, c.Consumed, c.ConsumedAt, c.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert account credit: %w", err)
	}
	return nil
}

func (t *ledgerTx) ConsumeCredits(ctx context.Context, studentID string, limit decimal.Decimal, now time.Time) (decimal.Decimal, error) {
	if !limit.IsPositive() {
		return decimal.Zero, nil
	}

	// Locked oldest-first so credits are spent in the order they were earned
	// and two concurrent assignments for one student serialize.
	selectQuery := `
		SELECT id, amount, source_payment_id, created_at
		FROM account_credits
		WHERE student_id = $1 AND NOT consumed
		ORDER BY created_at ASC, id ASC
		FOR UPDATE
	`

	rows, err := t.tx.Query(ctx, selectQuery, studentID)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to lock credits: %w", err)
	}

	var credits []*fees.AccountCredit
	for rows.Next() {
		c := &fees.AccountCredit{StudentID: studentID}
		if err := rows.Scan(&c.ID, &c.Amount, &c.SourcePaymentID, &c.CreatedAt); err != nil {
			rows.Close()
			return decimal.Zero, fmt.Errorf("failed to scan credit: %w", err)
		}
		credits = append(credits, c)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return decimal.Zero, err
	}

	total := decimal.Zero
	var consumedIDs []string
	var remainder *fees.AccountCredit
	for _, c := range credits {
		if total.GreaterThanOrEqual(limit) {
			break
		}
		take := decimal.Min(c.Amount, limit.Sub(total))
		total = total.Add(take)
		consumedIDs = append(consumedIDs, c.ID)
		if take.LessThan(c.Amount) {
			// The credit straddles the limit: consume it whole and requeue
			// the excess under the original timestamp so it keeps its place.
			remainder = &fees.AccountCredit{
				ID:              uuid.NewString(),
				StudentID:       studentID,
				SourcePaymentID: c.SourcePaymentID,
				Amount:          c.Amount.Sub(take),
				CreatedAt:       c.CreatedAt,
			}
		}
	}
	if len(consumedIDs) == 0 {
		return decimal.Zero, nil
	}

	updateQuery := `
		UPDATE account_credits
		SET consumed = TRUE, consumed_at = $2
		WHERE id = ANY($1)
	`
	if _, err := t.tx.Exec(ctx, updateQuery, consumedIDs, now); err != nil {
		return decimal.Zero, fmt.Errorf("failed to consume credits: %w", err)
	}

	if remainder != nil {
		if err := t.InsertCredit(ctx, remainder); err != nil {
			return decimal.Zero, err
		}
	}
	return total, nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Payments
// ─────────────────────────────────────────────────────────────────────────────

func (t *ledgerTx) InsertPayment(ctx context.Context, p *payment.Payment) error {
	query := `
		INSERT INTO payments (
			id, student_id, amount, mode, status, payer_name, payer_phone,
			receipt_number, failure_reason, created_at, updated_at, completed_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $10, $11)
	`

	_, err := t.tx.Exec(ctx, query,
		p.ID, p.StudentID, p.Amount, string(p.Mode), string(p.Status),
		p.Payer.Name, p.Payer.Phone,
		p.ReceiptNumber, p.FailureReason, p.CreatedAt, p.CompletedAt,
	)
	if err != nil {
		if IsUniqueViolation(err) {
			return shared.ErrAlreadyExists
		}
		return fmt.Errorf("failed to insert payment: %w", err)
	}
	return nil
}

func (t *ledgerTx) GetPaymentForUpdate(ctx context.Context, id string) (*payment.Payment, error) {
	query := `
		SELECT id, student_id, amount, mode, status, payer_name, payer_phone,
			   receipt_number, failure_reason, created_at, completed_at
		FROM payments
		WHERE id = $1
		FOR UPDATE
	`

	p, err := scanPayment(t.tx.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, shared.ErrPaymentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lock payment: %w", err)
	}
	return p, nil
}

func (t *ledgerTx) UpdatePaymentStatus(ctx context.Context, p *payment.Payment) error {
	query := `
		UPDATE payments
		SET status = $2, receipt_number = $3, failure_reason = $4,
			completed_at = $5, updated_at = NOW()
		WHERE id = $1
	`

	tag, err := t.tx.Exec(ctx, query,
		p.ID, string(p.Status), p.ReceiptNumber, p.FailureReason, p.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update payment status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrPaymentNotFound
	}
	return nil
}

func (t *ledgerTx) InsertAllocation(ctx context.Context, a *payment.Allocation) error {
	query := `
		INSERT INTO payment_allocations (id, payment_id, obligation_id, amount, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`

	_, err := t.tx.Exec(ctx, query, a.ID, a.PaymentID, a.ObligationID, a.Amount, a.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert allocation: %w", err)
	}
	return nil
}

func (t *ledgerTx) NextReceiptSequence(ctx context.Context, year int) (int64, error) {
	// Atomic upsert: the first completion of a year creates the counter row,
	// every completion after that increments it under the row lock the
	// UPDATE takes. Receipt numbers are therefore unique and increasing
	// within a year even under concurrent completions.
	query := `
		INSERT INTO receipt_sequences (year, last_value)
		VALUES ($1, 1)
		ON CONFLICT (year) DO UPDATE SET last_value = receipt_sequences.last_value + 1
		RETURNING last_value
	`

	var seq int64
	if err := t.tx.QueryRow(ctx, query, year).Scan(&seq); err != nil {
		return 0, fmt.Errorf("failed to advance receipt sequence: %w", err)
	}
	return seq, nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Gateway transactions
// ─────────────────────────────────────────────────────────────────────────────

func (t *ledgerTx) InsertTransaction(ctx context.Context, gtx *gateway.Transaction) error {
	query := `
		INSERT INTO gateway_transactions (
			id, payment_id, status, checkout_request_id, merchant_request_id,
			phone_number, amount, result_code, result_desc, gateway_receipt,
			transaction_date, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`

	_, err := t.tx.Exec(ctx, query,
		gtx.ID, gtx.PaymentID, string(gtx.Status),
		gtx.CheckoutRequestID, gtx.MerchantRequestID,
		gtx.PhoneNumber, gtx.Amount,
		gtx.ResultCode, gtx.ResultDesc, gtx.GatewayReceipt,
		gtx.TransactionDate, gtx.CreatedAt, gtx.UpdatedAt,
	)
	if err != nil {
		if IsUniqueViolation(err) {
			return shared.ErrAlreadyExists
		}
		return fmt.Errorf("failed to insert gateway transaction: %w", err)
	}
	return nil
}

func (t *ledgerTx) GetTransactionByCheckoutIDForUpdate(ctx context.Context, checkoutRequestID string) (*gateway.Transaction, error) {
	query := `
		SELECT ` + transactionColumns + `
		FROM gateway_transactions
		WHERE checkout_request_id = $1
		FOR UPDATE
	`

	gtx, err := scanTransaction(t.tx.QueryRow(ctx, query, checkoutRequestID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, shared.ErrTransactionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lock gateway transaction: %w", err)
	}
	return gtx, nil
}

func (t *ledgerTx) GetTransactionByPaymentIDForUpdate(ctx context.Context, paymentID string) (*gateway.Transaction, error) {
	query := `
		SELECT ` + transactionColumns + `
		FROM gateway_transactions
		WHERE payment_id = $1
		FOR UPDATE
	`

	gtx, err := scanTransaction(t.tx.QueryRow(ctx, query, paymentID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, shared.ErrTransactionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lock gateway transaction: %w", err)
	}
	return gtx, nil
}

func (t *ledgerTx) UpdateTransaction(ctx context.Context, gtx *gateway.Transaction) error {
	query := `
		UPDATE gateway_transactions
		SET status = $2, checkout_request_id = $3, merchant_request_id = $4,
			result_code = $5, result_desc = $6, gateway_receipt = $7,
			transaction_date = $8, updated_at = $9
		WHERE id = $1
	`

	tag, err := t.tx.Exec(ctx, query,
		gtx.ID, string(gtx.Status), gtx.CheckoutRequestID, gtx.MerchantRequestID,
		gtx.ResultCode, gtx.ResultDesc, gtx.GatewayReceipt,
		gtx.TransactionDate, gtx.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update gateway transaction: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrTransactionNotFound
	}
	return nil
}

func (t *ledgerTx) ResolveTransaction(ctx context.Context, gtx *gateway.Transaction) (bool, error) {
	// Guarded transition: only one writer can flip PENDING to a terminal
	// state. A zero row count means someone else already resolved it and the
	// caller must treat this confirmation as a duplicate.
	query := `
		UPDATE gateway_transactions
		SET status = $2, result_code = $3, result_desc = $4, gateway_receipt = $5,
			transaction_date = $6, updated_at = $7
		WHERE id = $1 AND status = 'PENDING'
	`

	tag, err := t.tx.Exec(ctx, query,
		gtx.ID, string(gtx.Status),
		gtx.ResultCode, gtx.ResultDesc, gtx.GatewayReceipt,
		gtx.TransactionDate, gtx.UpdatedAt,
	)
	if err != nil {
		return false, fmt.Errorf("failed to resolve gateway transaction: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Scan helpers shared with the read repositories
// ─────────────────────────────────────────────────────────────────────────────

func scanPayment(row pgx.Row) (*payment.Payment, error) {
	p := &payment.Payment{}
	var mode, status string
	err := row.Scan(
		&p.ID, &p.StudentID, &p.Amount, &mode, &status,
		&p.Payer.Name, &p.Payer.Phone,
		&p.ReceiptNumber, &p.FailureReason, &p.CreatedAt, &p.CompletedAt,
	)
	if err != nil {
		return nil, err
	}
	p.Mode = payment.Mode(mode)
	p.Status = payment.Status(status)
	return p, nil
}

const transactionColumns = `
	id, payment_id, status, checkout_request_id, merchant_request_id,
	phone_number, amount, result_code, result_desc, gateway_receipt,
	transaction_date, created_at, updated_at
`

func scanTransaction(row pgx.Row) (*gateway.Transaction, error) {
	gtx := &gateway.Transaction{}
	var status string
	err := row.Scan(
		&gtx.ID, &gtx.PaymentID, &status,
		&gtx.CheckoutRequestID, &gtx.MerchantRequestID,
		&gtx.PhoneNumber, &gtx.Amount,
		&gtx.ResultCode, &gtx.ResultDesc, &gtx.GatewayReceipt,
		&gtx.TransactionDate, &gtx.CreatedAt, &gtx.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	gtx.Status = gateway.Status(status)
	return gtx, nil
}
