// Package query contains read operations (CQRS - Queries). These paths are
// read-only aggregations for dashboards and exports; they never mutate the
// ledger and may serve eventually-consistent snapshots.
package query

import (
	"context"
	"errors"
	"time"

	"github.com/shulehub/shule-fees-hub/internal/domain/fees"
	"github.com/shulehub/shule-fees-hub/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// GET STUDENT BALANCE QUERY
// ══════════════════════════════════════════════════════════════════════════════

// BalanceCache caches balance summaries keyed by student ID. A miss returns
// (nil, nil). Cache failures are logged and ignored - the database remains
// the source of truth.
type BalanceCache interface {
	GetBalance(ctx context.Context, studentID string) (*fees.BalanceSummary, error)
	SetBalance(ctx context.Context, summary *fees.BalanceSummary, ttl time.Duration) error
	InvalidateBalance(ctx context.Context, studentID string) error
}

// GetStudentBalanceQuery contains the query parameters.
type GetStudentBalanceQuery struct {
	// StudentID is the internal student ID.
	StudentID string

	// SkipCache forces a fresh read, used right after a payment completes.
	SkipCache bool
}

// Validate checks the query parameters.
func (q *GetStudentBalanceQuery) Validate() error {
	if q.StudentID == "" {
		return errors.New("student_id must be provided")
	}
	return nil
}

// GetStudentBalanceHandler aggregates a student's obligations and credits
// into a single balance summary.
type GetStudentBalanceHandler struct {
	obligations fees.ObligationRepository
	credits     fees.CreditRepository
	cache       BalanceCache
	cacheTTL    time.Duration
	logger      *logger.Logger
}

// NewGetStudentBalanceHandler creates the handler. The cache is optional.
func NewGetStudentBalanceHandler(obligations fees.ObligationRepository, credits fees.CreditRepository, cache BalanceCache, cacheTTL time.Duration, log *logger.Logger) *GetStudentBalanceHandler {
	if log == nil {
		log = logger.Default()
	}
	if cacheTTL <= 0 {
		cacheTTL = time.Minute
	}
	return &GetStudentBalanceHandler{
		obligations: obligations,
		credits:     credits,
		cache:       cache,
		cacheTTL:    cacheTTL,
		logger:      log.With(logger.Component("get_student_balance")),
	}
}

// Handle executes the query.
func (h *GetStudentBalanceHandler) Handle(ctx context.Context, q GetStudentBalanceQuery) (*fees.BalanceSummary, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}

	if h.cache != nil && !q.SkipCache {
		cached, err := h.cache.GetBalance(ctx, q.StudentID)
		if err != nil {
			h.logger.Warn("balance cache read failed", logger.StudentID(q.StudentID), logger.Err(err))
		} else if cached != nil {
			return cached, nil
		}
	}

	obligations, err := h.obligations.ListByStudent(ctx, q.StudentID)
	if err != nil {
		return nil, err
	}
	credit, err := h.credits.UnconsumedTotal(ctx, q.StudentID)
	if err != nil {
		return nil, err
	}

	summary := fees.Summarize(q.StudentID, obligations, credit)

	if h.cache != nil {
		if err := h.cache.SetBalance(ctx, &summary, h.cacheTTL); err != nil {
			h.logger.Warn("balance cache write failed", logger.StudentID(q.StudentID), logger.Err(err))
		}
	}
	return &summary, nil
}
