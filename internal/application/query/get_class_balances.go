package query

import (
	"context"
	"errors"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/shulehub/shule-fees-hub/internal/domain/fees"
)

// ══════════════════════════════════════════════════════════════════════════════
// CLASS / TERM REPORTS
// Eventually-consistent rollups for dashboards and exports. Not on the
// ledger correctness path.
// ══════════════════════════════════════════════════════════════════════════════

// ClassBalancesDTO is the per-class rollup.
type ClassBalancesDTO struct {
	ClassID   string                `json:"class_id"`
	TotalDue  decimal.Decimal       `json:"total_due"`
	TotalPaid decimal.Decimal       `json:"total_paid"`
	Balance   decimal.Decimal       `json:"balance"`
	Students  []fees.BalanceSummary `json:"students"`
}

// GetClassBalancesHandler aggregates obligations per student for one class.
type GetClassBalancesHandler struct {
	obligations fees.ObligationRepository
}

// NewGetClassBalancesHandler creates the handler.
func NewGetClassBalancesHandler(obligations fees.ObligationRepository) *GetClassBalancesHandler {
	return &GetClassBalancesHandler{obligations: obligations}
}

// Handle executes the query.
func (h *GetClassBalancesHandler) Handle(ctx context.Context, classID string) (*ClassBalancesDTO, error) {
	if classID == "" {
		return nil, errors.New("class_id must be provided")
	}

	obligations, err := h.obligations.ListByClass(ctx, classID)
	if err != nil {
		return nil, err
	}

	byStudent := make(map[string][]*fees.Obligation)
	for _, o := range obligations {
		byStudent[o.StudentID] = append(byStudent[o.StudentID], o)
	}

	dto := &ClassBalancesDTO{
		ClassID:   classID,
		TotalDue:  decimal.Zero,
		TotalPaid: decimal.Zero,
		Balance:   decimal.Zero,
	}
	for studentID, list := range byStudent {
		summary := fees.Summarize(studentID, list, decimal.Zero)
		dto.TotalDue = dto.TotalDue.Add(summary.TotalDue)
		dto.TotalPaid = dto.TotalPaid.Add(summary.TotalPaid)
		dto.Balance = dto.Balance.Add(summary.Balance)
		dto.Students = append(dto.Students, summary)
	}
	sort.Slice(dto.Students, func(i, j int) bool {
		return dto.Students[i].StudentID < dto.Students[j].StudentID
	})
	return dto, nil
}

// TermCollectionsDTO is the per-term rollup.
type TermCollectionsDTO struct {
	Term         string          `json:"term"`
	AcademicYear string          `json:"academic_year"`
	TotalDue     decimal.Decimal `json:"total_due"`
	TotalPaid    decimal.Decimal `json:"total_paid"`
	Balance      decimal.Decimal `json:"balance"`
	Obligations  int             `json:"obligations"`
	FullyPaid    int             `json:"fully_paid"`
}

// GetTermCollectionsHandler totals collections for one term of one year.
type GetTermCollectionsHandler struct {
	obligations fees.ObligationRepository
}

// NewGetTermCollectionsHandler creates the handler.
func NewGetTermCollectionsHandler(obligations fees.ObligationRepository) *GetTermCollectionsHandler {
	return &GetTermCollectionsHandler{obligations: obligations}
}

// Handle executes the query.
func (h *GetTermCollectionsHandler) Handle(ctx context.Context, term, academicYear string) (*TermCollectionsDTO, error) {
	if term == "" || academicYear == "" {
		return nil, errors.New("term and academic_year must be provided")
	}

	obligations, err := h.obligations.ListByTerm(ctx, term, academicYear)
	if err != nil {
		return nil, err
	}

	dto := &TermCollectionsDTO{
		Term:         term,
		AcademicYear: academicYear,
		TotalDue:     decimal.Zero,
		TotalPaid:    decimal.Zero,
		Balance:      decimal.Zero,
	}
	for _, o := range obligations {
		dto.TotalDue = dto.TotalDue.Add(o.Amount)
		dto.TotalPaid = dto.TotalPaid.Add(o.PaidAmount)
		dto.Balance = dto.Balance.Add(o.Balance())
		dto.Obligations++
		if o.Paid {
			dto.FullyPaid++
		}
	}
	return dto, nil
}
