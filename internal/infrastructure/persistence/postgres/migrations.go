// Package postgres implements the PostgreSQL persistence layer for the
// school fee ledger.
package postgres

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 001: CREATE FEE LEDGER
// ══════════════════════════════════════════════════════════════════════════════

const migration001Up = `
-- Migration: Create fee templates, obligations and account credits
-- Version: 001

-- Chargeable items defined by school staff. Templates become immutable once
-- obligations reference them; staff deactivate rather than edit.
CREATE TABLE IF NOT EXISTS fee_templates (
    id UUID PRIMARY KEY,
    name VARCHAR(120) NOT NULL,
    amount NUMERIC(12,2) NOT NULL,
    term VARCHAR(20) NOT NULL,
    academic_year VARCHAR(9) NOT NULL,
    active BOOLEAN NOT NULL DEFAULT TRUE,
    created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),

    CONSTRAINT positive_template_amount CHECK (amount > 0),
    CONSTRAINT unique_template_per_term UNIQUE (name, term, academic_year)
);

CREATE INDEX IF NOT EXISTS idx_fee_templates_term ON fee_templates(term, academic_year);
CREATE INDEX IF NOT EXISTS idx_fee_templates_active ON fee_templates(active) WHERE active;

-- One student's debt for one template. paid_amount and carryover together
-- never exceed amount; the ledger enforces this in the allocation path and
-- the CHECK backs it up.
CREATE TABLE IF NOT EXISTS fee_obligations (
    id UUID PRIMARY KEY,
    student_id VARCHAR(64) NOT NULL,
    class_id VARCHAR(64) NOT NULL DEFAULT '',
    template_id UUID NOT NULL REFERENCES fee_templates(id),
    name VARCHAR(120) NOT NULL,
    amount NUMERIC(12,2) NOT NULL,
    paid_amount NUMERIC(12,2) NOT NULL DEFAULT 0,
    carryover NUMERIC(12,2) NOT NULL DEFAULT 0,
    term VARCHAR(20) NOT NULL,
    academic_year VARCHAR(9) NOT NULL,
    due_date TIMESTAMP WITH TIME ZONE NOT NULL,
    paid BOOLEAN NOT NULL DEFAULT FALSE,
    paid_at TIMESTAMP WITH TIME ZONE,
    created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),

    CONSTRAINT positive_obligation_amount CHECK (amount > 0),
    CONSTRAINT non_negative_paid CHECK (paid_amount >= 0),
    CONSTRAINT non_negative_carryover CHECK (carryover >= 0),
    CONSTRAINT no_overpayment CHECK (paid_amount + carryover <= amount)
);

CREATE INDEX IF NOT EXISTS idx_obligations_student ON fee_obligations(student_id);
CREATE INDEX IF NOT EXISTS idx_obligations_class ON fee_obligations(class_id);
CREATE INDEX IF NOT EXISTS idx_obligations_term ON fee_obligations(term, academic_year);
-- Allocation loads unpaid obligations ordered oldest due date first.
CREATE INDEX IF NOT EXISTS idx_obligations_unpaid
    ON fee_obligations(student_id, due_date, created_at) WHERE NOT paid;

-- Overpayment remainder held against the student's account until the next
-- obligation is assigned.
CREATE TABLE IF NOT EXISTS account_credits (
    id UUID PRIMARY KEY,
    student_id VARCHAR(64) NOT NULL,
    amount NUMERIC(12,2) NOT NULL,
    source_payment_id UUID NOT NULL,
    consumed BOOLEAN NOT NULL DEFAULT FALSE,
    consumed_at TIMESTAMP WITH TIME ZONE,
    created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),

    CONSTRAINT positive_credit_amount CHECK (amount > 0)
);

CREATE INDEX IF NOT EXISTS idx_credits_student ON account_credits(student_id);
CREATE INDEX IF NOT EXISTS idx_credits_unconsumed
    ON account_credits(student_id) WHERE NOT consumed;
`

const migration001Down = `
DROP TABLE IF EXISTS account_credits;
DROP TABLE IF EXISTS fee_obligations;
DROP TABLE IF EXISTS fee_templates;
`

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 002: CREATE PAYMENTS
// ══════════════════════════════════════════════════════════════════════════════

const migration002Up = `
-- Migration: Create payments, allocations and receipt sequences
-- Version: 002

CREATE TABLE IF NOT EXISTS payments (
    id UUID PRIMARY KEY,
    student_id VARCHAR(64) NOT NULL,
    amount NUMERIC(12,2) NOT NULL,
    mode VARCHAR(20) NOT NULL,
    status VARCHAR(20) NOT NULL,
    payer_name VARCHAR(120) NOT NULL DEFAULT '',
    payer_phone VARCHAR(20) NOT NULL DEFAULT '',
    receipt_number VARCHAR(20) NOT NULL DEFAULT '',
    failure_reason TEXT NOT NULL DEFAULT '',
    created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
    completed_at TIMESTAMP WITH TIME ZONE,

    CONSTRAINT positive_payment_amount CHECK (amount > 0),
    CONSTRAINT valid_mode CHECK (mode IN ('CASH', 'BANK', 'MOBILE_MONEY')),
    CONSTRAINT valid_payment_status CHECK (status IN ('CREATED', 'PENDING', 'COMPLETED', 'FAILED'))
);

CREATE INDEX IF NOT EXISTS idx_payments_student ON payments(student_id, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_payments_pending
    ON payments(created_at) WHERE status = 'PENDING';
-- Receipt numbers are unique once assigned; blank until completion.
CREATE UNIQUE INDEX IF NOT EXISTS idx_payments_receipt
    ON payments(receipt_number) WHERE receipt_number <> '';

-- Immutable journal rows: one per (payment, obligation) split.
CREATE TABLE IF NOT EXISTS payment_allocations (
    id UUID PRIMARY KEY,
    payment_id UUID NOT NULL REFERENCES payments(id),
    obligation_id UUID NOT NULL REFERENCES fee_obligations(id),
    amount NUMERIC(12,2) NOT NULL,
    created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),

    CONSTRAINT positive_allocation_amount CHECK (amount > 0),
    CONSTRAINT unique_payment_obligation UNIQUE (payment_id, obligation_id)
);

CREATE INDEX IF NOT EXISTS idx_allocations_payment ON payment_allocations(payment_id);
CREATE INDEX IF NOT EXISTS idx_allocations_obligation ON payment_allocations(obligation_id);

-- Per-year counter backing gap-free receipt numbers. Incremented with an
-- atomic upsert inside the completing transaction.
CREATE TABLE IF NOT EXISTS receipt_sequences (
    year INTEGER PRIMARY KEY,
    last_value BIGINT NOT NULL DEFAULT 0
);
`

const migration002Down = `
DROP TABLE IF EXISTS receipt_sequences;
DROP TABLE IF EXISTS payment_allocations;
DROP TABLE IF EXISTS payments;
`

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 003: CREATE GATEWAY TRANSACTIONS
// ══════════════════════════════════════════════════════════════════════════════

const migration003Up = `
-- Migration: Create gateway transactions
-- Version: 003

-- One row per STK push attempt. checkout_request_id is the correlation key
-- callbacks arrive with; it is unique so duplicate callbacks collapse onto
-- the same row.
CREATE TABLE IF NOT EXISTS gateway_transactions (
    id UUID PRIMARY KEY,
    payment_id UUID NOT NULL REFERENCES payments(id),
    status VARCHAR(20) NOT NULL,
    checkout_request_id VARCHAR(64) NOT NULL DEFAULT '',
    merchant_request_id VARCHAR(64) NOT NULL DEFAULT '',
    phone_number VARCHAR(20) NOT NULL,
    amount NUMERIC(12,2) NOT NULL,
    result_code INTEGER,
    result_desc TEXT NOT NULL DEFAULT '',
    gateway_receipt VARCHAR(64) NOT NULL DEFAULT '',
    transaction_date TIMESTAMP WITH TIME ZONE,
    created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),

    CONSTRAINT positive_txn_amount CHECK (amount > 0),
    CONSTRAINT valid_txn_status CHECK (status IN ('INITIATED', 'PENDING', 'COMPLETED', 'FAILED'))
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_gateway_txn_checkout
    ON gateway_transactions(checkout_request_id) WHERE checkout_request_id <> '';
CREATE INDEX IF NOT EXISTS idx_gateway_txn_payment ON gateway_transactions(payment_id);
CREATE INDEX IF NOT EXISTS idx_gateway_txn_pending
    ON gateway_transactions(created_at) WHERE status IN ('INITIATED', 'PENDING');
`

const migration003Down = `
DROP TABLE IF EXISTS gateway_transactions;
`
