package query

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shulehub/shule-fees-hub/internal/domain/fees"
	"github.com/shulehub/shule-fees-hub/internal/domain/shared"
)

var queryNow = time.Date(2026, 3, 12, 10, 0, 0, 0, time.UTC)

type fakeObligations struct {
	byStudent map[string][]*fees.Obligation
	byClass   map[string][]*fees.Obligation
	byTerm    []*fees.Obligation
	err       error
}

func (f *fakeObligations) GetByID(ctx context.Context, id string) (*fees.Obligation, error) {
	return nil, shared.ErrObligationNotFound
}

func (f *fakeObligations) ListByStudent(ctx context.Context, studentID string) ([]*fees.Obligation, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.byStudent[studentID], nil
}

func (f *fakeObligations) ListByClass(ctx context.Context, classID string) ([]*fees.Obligation, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.byClass[classID], nil
}

func (f *fakeObligations) ListByTerm(ctx context.Context, term, academicYear string) ([]*fees.Obligation, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.byTerm, nil
}

type fakeCredits struct {
	totals map[string]decimal.Decimal
}

func (f *fakeCredits) UnconsumedTotal(ctx context.Context, studentID string) (decimal.Decimal, error) {
	total, ok := f.totals[studentID]
	if !ok {
		return decimal.Zero, nil
	}
	return total, nil
}

func (f *fakeCredits) ListByStudent(ctx context.Context, studentID string) ([]*fees.AccountCredit, error) {
	return nil, nil
}

type fakeBalanceCache struct {
	entries map[string]*fees.BalanceSummary
	getErr  error
	sets    int
}

func (c *fakeBalanceCache) GetBalance(ctx context.Context, studentID string) (*fees.BalanceSummary, error) {
	if c.getErr != nil {
		return nil, c.getErr
	}
	return c.entries[studentID], nil
}

func (c *fakeBalanceCache) SetBalance(ctx context.Context, summary *fees.BalanceSummary, ttl time.Duration) error {
	if c.entries == nil {
		c.entries = make(map[string]*fees.BalanceSummary)
	}
	c.entries[summary.StudentID] = summary
	c.sets++
	return nil
}

func (c *fakeBalanceCache) InvalidateBalance(ctx context.Context, studentID string) error {
	delete(c.entries, studentID)
	return nil
}

func studentObligation(id string, amount, paid int64, isPaid bool) *fees.Obligation {
	return &fees.Obligation{
		ID:         id,
		StudentID:  "stu-1",
		Amount:     decimal.NewFromInt(amount),
		PaidAmount: decimal.NewFromInt(paid),
		Carryover:  decimal.Zero,
		DueDate:    queryNow,
		Paid:       isPaid,
		CreatedAt:  queryNow,
	}
}

func TestGetStudentBalance_AggregatesLedger(t *testing.T) {
	obligations := &fakeObligations{byStudent: map[string][]*fees.Obligation{
		"stu-1": {
			studentObligation("ob-1", 10000, 10000, true),
			studentObligation("ob-2", 3000, 1000, false),
		},
	}}
	credits := &fakeCredits{totals: map[string]decimal.Decimal{"stu-1": decimal.NewFromInt(250)}}

	h := NewGetStudentBalanceHandler(obligations, credits, nil, 0, nil)
	summary, err := h.Handle(context.Background(), GetStudentBalanceQuery{StudentID: "stu-1"})
	require.NoError(t, err)

	assert.True(t, summary.TotalDue.Equal(decimal.NewFromInt(13000)))
	assert.True(t, summary.TotalPaid.Equal(decimal.NewFromInt(11000)))
	assert.True(t, summary.Balance.Equal(decimal.NewFromInt(2000)))
	assert.True(t, summary.Credit.Equal(decimal.NewFromInt(250)))
	assert.Equal(t, 1, summary.Unpaid)
}

func TestGetStudentBalance_RequiresStudentID(t *testing.T) {
	h := NewGetStudentBalanceHandler(&fakeObligations{}, &fakeCredits{}, nil, 0, nil)
	_, err := h.Handle(context.Background(), GetStudentBalanceQuery{})
	assert.Error(t, err)
}

func TestGetStudentBalance_CacheHitSkipsRepositories(t *testing.T) {
	cached := &fees.BalanceSummary{StudentID: "stu-1", Balance: decimal.NewFromInt(777)}
	cache := &fakeBalanceCache{entries: map[string]*fees.BalanceSummary{"stu-1": cached}}
	obligations := &fakeObligations{err: errors.New("repository must not be hit")}

	h := NewGetStudentBalanceHandler(obligations, &fakeCredits{}, cache, time.Minute, nil)
	summary, err := h.Handle(context.Background(), GetStudentBalanceQuery{StudentID: "stu-1"})
	require.NoError(t, err)
	assert.True(t, summary.Balance.Equal(decimal.NewFromInt(777)))
}

func TestGetStudentBalance_SkipCacheForcesFreshRead(t *testing.T) {
	cached := &fees.BalanceSummary{StudentID: "stu-1", Balance: decimal.NewFromInt(777)}
	cache := &fakeBalanceCache{entries: map[string]*fees.BalanceSummary{"stu-1": cached}}
	obligations := &fakeObligations{byStudent: map[string][]*fees.Obligation{
		"stu-1": {studentObligation("ob-1", 3000, 1000, false)},
	}}

	h := NewGetStudentBalanceHandler(obligations, &fakeCredits{}, cache, time.Minute, nil)
	summary, err := h.Handle(context.Background(), GetStudentBalanceQuery{StudentID: "stu-1", SkipCache: true})
	require.NoError(t, err)

	assert.True(t, summary.Balance.Equal(decimal.NewFromInt(2000)))
	assert.Equal(t, 1, cache.sets, "fresh read refreshes the cache")
}

func TestGetStudentBalance_CacheFailureFallsThrough(t *testing.T) {
	cache := &fakeBalanceCache{getErr: errors.New("redis down")}
	obligations := &fakeObligations{byStudent: map[string][]*fees.Obligation{
		"stu-1": {studentObligation("ob-1", 3000, 0, false)},
	}}

	h := NewGetStudentBalanceHandler(obligations, &fakeCredits{}, cache, time.Minute, nil)
	summary, err := h.Handle(context.Background(), GetStudentBalanceQuery{StudentID: "stu-1"})
	require.NoError(t, err, "the database remains the source of truth")
	assert.True(t, summary.Balance.Equal(decimal.NewFromInt(3000)))
}

func TestGetClassBalances(t *testing.T) {
	a := studentObligation("ob-1", 10000, 4000, false)
	b := &fees.Obligation{
		ID: "ob-2", StudentID: "stu-2",
		Amount: decimal.NewFromInt(10000), PaidAmount: decimal.NewFromInt(10000),
		Carryover: decimal.Zero, Paid: true, DueDate: queryNow, CreatedAt: queryNow,
	}
	obligations := &fakeObligations{byClass: map[string][]*fees.Obligation{"class-4w": {a, b}}}

	h := NewGetClassBalancesHandler(obligations)
	report, err := h.Handle(context.Background(), "class-4w")
	require.NoError(t, err)

	assert.True(t, report.TotalDue.Equal(decimal.NewFromInt(20000)))
	assert.True(t, report.TotalPaid.Equal(decimal.NewFromInt(14000)))
	assert.True(t, report.Balance.Equal(decimal.NewFromInt(6000)))
	require.Len(t, report.Students, 2)
	assert.Equal(t, "stu-1", report.Students[0].StudentID, "students sorted by ID")

	_, err = h.Handle(context.Background(), "")
	assert.Error(t, err)
}

func TestGetTermCollections(t *testing.T) {
	obligations := &fakeObligations{byTerm: []*fees.Obligation{
		studentObligation("ob-1", 10000, 10000, true),
		studentObligation("ob-2", 10000, 2500, false),
	}}

	h := NewGetTermCollectionsHandler(obligations)
	report, err := h.Handle(context.Background(), "T1", "2026")
	require.NoError(t, err)

	assert.Equal(t, 2, report.Obligations)
	assert.Equal(t, 1, report.FullyPaid)
	assert.True(t, report.TotalDue.Equal(decimal.NewFromInt(20000)))
	assert.True(t, report.TotalPaid.Equal(decimal.NewFromInt(12500)))
	assert.True(t, report.Balance.Equal(decimal.NewFromInt(7500)))

	_, err = h.Handle(context.Background(), "", "2026")
	assert.Error(t, err)
}
