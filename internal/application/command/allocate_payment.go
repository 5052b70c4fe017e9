package command

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/shulehub/shule-fees-hub/internal/domain/fees"
	"github.com/shulehub/shule-fees-hub/internal/domain/payment"
	"github.com/shulehub/shule-fees-hub/internal/domain/shared"
	"github.com/shulehub/shule-fees-hub/pkg/logger"
)

// Allocator is the allocation engine: it distributes one payment across a
// student's outstanding obligations inside an already-open ledger
// transaction. The caller owns the transaction; if Apply returns an error the
// caller must let the whole transaction roll back.
type Allocator struct {
	logger *logger.Logger
}

// NewAllocator creates an Allocator.
func NewAllocator(log *logger.Logger) *Allocator {
	if log == nil {
		log = logger.Default()
	}
	return &Allocator{logger: log.With(logger.Component("allocator"))}
}

// Apply loads the student's unpaid obligations under row locks, runs the
// deterministic oldest-due-first distribution, and persists every mutated
// obligation together with its allocation row. Overpayment left after all
// obligations are settled is recorded as account-level credit, never
// discarded.
func (a *Allocator) Apply(ctx context.Context, tx LedgerTx, p *payment.Payment, now time.Time) (fees.AllocationOutcome, error) {
	obligations, err := tx.UnpaidObligationsForUpdate(ctx, p.StudentID)
	if err != nil {
		return fees.AllocationOutcome{}, err
	}

	outcome, err := fees.Allocate(obligations, p.Amount, now)
	if err != nil {
		return fees.AllocationOutcome{}, err
	}

	applied := make(map[string]*fees.Obligation, len(obligations))
	for _, o := range obligations {
		applied[o.ID] = o
	}

	for _, entry := range outcome.Entries {
		o, ok := applied[entry.ObligationID]
		if !ok {
			return fees.AllocationOutcome{}, shared.ErrObligationVanished
		}
		if err := tx.UpdateObligation(ctx, o); err != nil {
			return fees.AllocationOutcome{}, err
		}
		if err := tx.InsertAllocation(ctx, &payment.Allocation{
			ID:           uuid.NewString(),
			PaymentID:    p.ID,
			ObligationID: entry.ObligationID,
			Amount:       entry.Amount,
			CreatedAt:    now,
		}); err != nil {
			return fees.AllocationOutcome{}, err
		}
	}

	if outcome.Remaining.IsPositive() {
		if err := tx.InsertCredit(ctx, &fees.AccountCredit{
			ID:              uuid.NewString(),
			StudentID:       p.StudentID,
			SourcePaymentID: p.ID,
			Amount:          outcome.Remaining,
			CreatedAt:       now,
		}); err != nil {
			return fees.AllocationOutcome{}, err
		}
		a.logger.Info("overpayment recorded as account credit",
			logger.StudentID(p.StudentID),
			logger.PaymentID(p.ID),
			logger.Amount(outcome.Remaining),
		)
	}

	return outcome, nil
}
