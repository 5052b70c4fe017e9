package fees

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/shulehub/shule-fees-hub/internal/domain/shared"
)

// AllocationEntry records how much of a payment was applied to one obligation.
type AllocationEntry struct {
	ObligationID string
	Amount       decimal.Decimal
}

// AllocationOutcome is the result of distributing a payment amount across a
// student's outstanding obligations.
type AllocationOutcome struct {
	// Entries lists the per-obligation amounts, in the order they were applied.
	Entries []AllocationEntry

	// Settled lists the IDs of obligations that became fully paid.
	Settled []string

	// Remaining is the overpayment left after every obligation is settled.
	// It must be recorded as an account credit, never discarded.
	Remaining decimal.Decimal
}

// TotalApplied returns the sum of all entry amounts.
func (o AllocationOutcome) TotalApplied() decimal.Decimal {
	total := decimal.Zero
	for _, e := range o.Entries {
		total = total.Add(e.Amount)
	}
	return total
}

// Allocate distributes amount across the given obligations, oldest due date
// first, ties broken by creation order. Obligations are mutated in place.
//
// The algorithm is deterministic and conserves money: the sum of entry
// amounts plus Remaining always equals amount. Callers must run it inside a
// transaction holding row locks on the obligations, and must persist every
// mutated obligation together with the allocation rows, or none of them.
func Allocate(obligations []*Obligation, amount decimal.Decimal, now time.Time) (AllocationOutcome, error) {
	outcome := AllocationOutcome{Remaining: decimal.Zero}

	if !amount.IsPositive() {
		return outcome, shared.ErrNonPositiveAmount
	}

	// The repository query already orders rows, but ordering is a correctness
	// property of the ledger, so it is enforced here as well.
	sorted := make([]*Obligation, len(obligations))
	copy(sorted, obligations)
	sort.SliceStable(sorted, func(i, j int) bool {
		if !sorted[i].DueDate.Equal(sorted[j].DueDate) {
			return sorted[i].DueDate.Before(sorted[j].DueDate)
		}
		return sorted[i].CreatedAt.Before(sorted[j].CreatedAt)
	})

	remaining := amount
	for _, o := range sorted {
		if !remaining.IsPositive() {
			break
		}
		outstanding := o.Outstanding()
		if outstanding.LessThanOrEqual(decimal.Zero) {
			continue
		}

		applied := decimal.Min(remaining, outstanding)
		if err := o.Apply(applied, now); err != nil {
			return AllocationOutcome{}, err
		}

		outcome.Entries = append(outcome.Entries, AllocationEntry{
			ObligationID: o.ID,
			Amount:       applied,
		})
		if o.Paid {
			outcome.Settled = append(outcome.Settled, o.ID)
		}
		remaining = remaining.Sub(applied)
	}

	outcome.Remaining = remaining

	if !outcome.TotalApplied().Add(outcome.Remaining).Equal(amount) {
		return AllocationOutcome{}, shared.ErrOverAllocation
	}
	return outcome, nil
}
