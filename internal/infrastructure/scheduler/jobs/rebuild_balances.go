package jobs

import (
	"context"

	"github.com/shulehub/shule-fees-hub/internal/application/query"
	"github.com/shulehub/shule-fees-hub/internal/domain/fees"
	"github.com/shulehub/shule-fees-hub/pkg/logger"
)

// StudentLister lists students whose balances can still change. Satisfied by
// postgres.ObligationRepository.
type StudentLister interface {
	ListStudentsWithUnpaid(ctx context.Context) ([]string, error)
}

// BalanceReader computes a student's balance summary. Satisfied by
// query.GetStudentBalanceHandler.
type BalanceReader interface {
	Handle(ctx context.Context, q query.GetStudentBalanceQuery) (*fees.BalanceSummary, error)
}

// RebuildBalances warms the balance snapshot cache for every student with an
// outstanding obligation, so the morning dashboard reads land on fresh
// snapshots instead of stampeding the database.
type RebuildBalances struct {
	students StudentLister
	balances BalanceReader
	logger   *logger.Logger
}

// NewRebuildBalances creates the job.
func NewRebuildBalances(students StudentLister, balances BalanceReader, log *logger.Logger) *RebuildBalances {
	if log == nil {
		log = logger.Default()
	}
	return &RebuildBalances{
		students: students,
		balances: balances,
		logger:   log.With(logger.Component("rebuild_balances")),
	}
}

// Name implements scheduler.Job.
func (j *RebuildBalances) Name() string {
	return "rebuild_balance_snapshots"
}

// Description implements scheduler.Job.
func (j *RebuildBalances) Description() string {
	return "recomputes and caches balance snapshots for students with unpaid obligations"
}

// Run implements scheduler.Job. A single failed recomputation does not stop
// the sweep.
func (j *RebuildBalances) Run(ctx context.Context) error {
	students, err := j.students.ListStudentsWithUnpaid(ctx)
	if err != nil {
		return err
	}
	if len(students) == 0 {
		return nil
	}

	rebuilt := 0
	for _, studentID := range students {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		// SkipCache forces a fresh read, which writes the snapshot back.
		_, err := j.balances.Handle(ctx, query.GetStudentBalanceQuery{
			StudentID: studentID,
			SkipCache: true,
		})
		if err != nil {
			j.logger.Warn("balance snapshot rebuild failed",
				logger.StudentID(studentID), logger.Err(err))
			continue
		}
		rebuilt++
	}

	j.logger.Info("balance snapshots rebuilt",
		logger.Int("students", len(students)),
		logger.Int("rebuilt", rebuilt),
	)
	return nil
}
