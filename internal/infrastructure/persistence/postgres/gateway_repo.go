// Package postgres implements the PostgreSQL persistence layer for the
// school fee ledger.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/shulehub/shule-fees-hub/internal/domain/gateway"
	"github.com/shulehub/shule-fees-hub/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// GATEWAY TRANSACTION REPOSITORY
// Read-only access. The guarded PENDING → terminal transition goes through
// the ledger store.
// ══════════════════════════════════════════════════════════════════════════════

// GatewayRepository implements gateway.Repository for PostgreSQL.
type GatewayRepository struct {
	conn *Connection
}

// NewGatewayRepository creates a new GatewayRepository.
func NewGatewayRepository(conn *Connection) *GatewayRepository {
	return &GatewayRepository{conn: conn}
}

// GetByID returns a transaction by internal ID.
func (r *GatewayRepository) GetByID(ctx context.Context, id string) (*gateway.Transaction, error) {
	query := `
		SELECT ` + transactionColumns + `
		FROM gateway_transactions
		WHERE id = $1
	`

	return r.get(ctx, query, id)
}

// GetByCheckoutRequestID returns a transaction by the processor's correlation ID.
func (r *GatewayRepository) GetByCheckoutRequestID(ctx context.Context, checkoutRequestID string) (*gateway.Transaction, error) {
	query := `
		SELECT ` + transactionColumns + `
		FROM gateway_transactions
		WHERE checkout_request_id = $1
	`

	return r.get(ctx, query, checkoutRequestID)
}

// GetByPaymentID returns the transaction tied to a payment.
func (r *GatewayRepository) GetByPaymentID(ctx context.Context, paymentID string) (*gateway.Transaction, error) {
	query := `
		SELECT ` + transactionColumns + `
		FROM gateway_transactions
		WHERE payment_id = $1
		ORDER BY created_at DESC
		LIMIT 1
	`

	return r.get(ctx, query, paymentID)
}

func (r *GatewayRepository) get(ctx context.Context, query string, arg interface{}) (*gateway.Transaction, error) {
	gtx, err := scanTransaction(r.conn.QueryRow(ctx, query, arg))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, shared.ErrTransactionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get gateway transaction: %w", err)
	}
	return gtx, nil
}
