package command

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shulehub/shule-fees-hub/internal/domain/fees"
	"github.com/shulehub/shule-fees-hub/internal/domain/shared"
)

func seedTemplate(t *testing.T, ledger *fakeLedger, id string, amount int64, active bool) *fees.Template {
	t.Helper()
	tpl := &fees.Template{
		ID:           id,
		Name:         "Tuition " + id,
		Amount:       decimal.NewFromInt(amount),
		Term:         "T1",
		AcademicYear: "2026",
		Active:       active,
		CreatedAt:    testNow,
	}
	ledger.mu.Lock()
	ledger.templates[tpl.ID] = *tpl
	ledger.mu.Unlock()
	return tpl
}

func newAssignHandler(ledger *fakeLedger, pub shared.EventPublisher) *AssignObligationHandler {
	h := NewAssignObligationHandler(ledger, pub, nil)
	h.now = func() time.Time { return testNow }
	return h
}

func TestAssignObligation_ConsumesCreditsIntoCarryover(t *testing.T) {
	ledger := newFakeLedger()
	seedTemplate(t, ledger, "tpl-1", 5000, true)
	require.NoError(t, ledger.InsertCredit(context.Background(), &fees.AccountCredit{
		ID: "cr-1", StudentID: "stu-1", SourcePaymentID: "pay-0",
		Amount: decimal.NewFromInt(1500), CreatedAt: testNow,
	}))

	h := newAssignHandler(ledger, nil)
	obligation, err := h.Handle(context.Background(), AssignObligationInput{
		StudentID:  "stu-1",
		ClassID:    "class-4w",
		TemplateID: "tpl-1",
		DueDate:    testNow.AddDate(0, 1, 0),
	})
	require.NoError(t, err)

	assert.True(t, obligation.Carryover.Equal(decimal.NewFromInt(1500)))
	assert.True(t, obligation.Balance().Equal(decimal.NewFromInt(3500)))
	assert.False(t, obligation.Paid)

	credits := ledger.creditsFor("stu-1")
	require.Len(t, credits, 1)
	assert.True(t, credits[0].Consumed, "consumed credit must not be folded in twice")
}

func TestAssignObligation_CarryoverCanSettleOutright(t *testing.T) {
	ledger := newFakeLedger()
	pub := &capturingPublisher{}
	seedTemplate(t, ledger, "tpl-1", 5000, true)
	require.NoError(t, ledger.InsertCredit(context.Background(), &fees.AccountCredit{
		ID: "cr-1", StudentID: "stu-1", SourcePaymentID: "pay-0",
		Amount: decimal.NewFromInt(6000), CreatedAt: testNow,
	}))

	h := newAssignHandler(ledger, pub)
	obligation, err := h.Handle(context.Background(), AssignObligationInput{
		StudentID:  "stu-1",
		TemplateID: "tpl-1",
		DueDate:    testNow.AddDate(0, 1, 0),
	})
	require.NoError(t, err)

	assert.True(t, obligation.Paid)
	assert.True(t, obligation.Balance().IsZero())
	assert.True(t, obligation.Carryover.Equal(decimal.NewFromInt(5000)),
		"carryover is capped at the obligation amount")
	assert.Equal(t, []shared.EventType{shared.EventObligationSettled}, pub.eventTypes())

	// The 1000 beyond the charge stays on the account as credit.
	var unconsumed decimal.Decimal
	for _, c := range ledger.creditsFor("stu-1") {
		if !c.Consumed {
			unconsumed = unconsumed.Add(c.Amount)
		}
	}
	assert.True(t, unconsumed.Equal(decimal.NewFromInt(1000)))
}

func TestAssignObligation_ExcessCreditSpansObligations(t *testing.T) {
	ledger := newFakeLedger()
	seedTemplate(t, ledger, "tpl-1", 5000, true)
	require.NoError(t, ledger.InsertCredit(context.Background(), &fees.AccountCredit{
		ID: "cr-1", StudentID: "stu-1", SourcePaymentID: "pay-0",
		Amount: decimal.NewFromInt(6000), CreatedAt: testNow,
	}))

	h := newAssignHandler(ledger, nil)

	first, err := h.Handle(context.Background(), AssignObligationInput{
		StudentID:  "stu-1",
		TemplateID: "tpl-1",
		DueDate:    testNow.AddDate(0, 1, 0),
	})
	require.NoError(t, err)
	assert.True(t, first.Paid)
	assert.True(t, first.Carryover.Equal(decimal.NewFromInt(5000)))

	second, err := h.Handle(context.Background(), AssignObligationInput{
		StudentID:  "stu-1",
		TemplateID: "tpl-1",
		DueDate:    testNow.AddDate(0, 2, 0),
	})
	require.NoError(t, err)
	assert.False(t, second.Paid)
	assert.True(t, second.Carryover.Equal(decimal.NewFromInt(1000)))
	assert.True(t, second.Balance().Equal(decimal.NewFromInt(4000)))

	// The full 6000 ended up applied, nothing stranded or double-counted.
	for _, c := range ledger.creditsFor("stu-1") {
		assert.True(t, c.Consumed)
	}
}

func TestAssignObligation_InactiveTemplateRejected(t *testing.T) {
	ledger := newFakeLedger()
	seedTemplate(t, ledger, "tpl-1", 5000, false)

	h := newAssignHandler(ledger, nil)
	_, err := h.Handle(context.Background(), AssignObligationInput{
		StudentID:  "stu-1",
		TemplateID: "tpl-1",
		DueDate:    testNow.AddDate(0, 1, 0),
	})
	assert.ErrorIs(t, err, shared.ErrTemplateInactive)
	assert.True(t, shared.IsNotFound(err), "inactive templates are invisible to callers")
}

func TestAssignObligation_UnknownTemplate(t *testing.T) {
	h := newAssignHandler(newFakeLedger(), nil)
	_, err := h.Handle(context.Background(), AssignObligationInput{
		StudentID:  "stu-1",
		TemplateID: "tpl-missing",
		DueDate:    testNow,
	})
	assert.True(t, shared.IsNotFound(err))
}

func TestAssignObligation_MissingStudent(t *testing.T) {
	h := newAssignHandler(newFakeLedger(), nil)
	_, err := h.Handle(context.Background(), AssignObligationInput{TemplateID: "tpl-1", DueDate: testNow})
	assert.True(t, shared.IsValidation(err))
}

func TestCreateTemplate_Valid(t *testing.T) {
	ledger := newFakeLedger()
	h := NewCreateTemplateHandler(ledger, nil)
	h.now = func() time.Time { return testNow }

	tpl, err := h.Handle(context.Background(), CreateTemplateInput{
		Name:         "Term 1 Tuition",
		Amount:       decimal.NewFromInt(15000),
		Term:         "T1",
		AcademicYear: "2026",
	})
	require.NoError(t, err)
	assert.True(t, tpl.Active)
	assert.NotEmpty(t, tpl.ID)

	stored, err := ledger.GetTemplate(context.Background(), tpl.ID)
	require.NoError(t, err)
	assert.Equal(t, "Term 1 Tuition", stored.Name)
}

func TestCreateTemplate_Invalid(t *testing.T) {
	h := NewCreateTemplateHandler(newFakeLedger(), nil)

	_, err := h.Handle(context.Background(), CreateTemplateInput{
		Name:         "Term 1 Tuition",
		Amount:       decimal.NewFromInt(-5),
		AcademicYear: "2026",
	})
	assert.True(t, shared.IsValidation(err))

	_, err = h.Handle(context.Background(), CreateTemplateInput{
		Amount:       decimal.NewFromInt(100),
		AcademicYear: "2026",
	})
	assert.True(t, shared.IsValidation(err))
}

func TestCreateTemplate_Duplicate(t *testing.T) {
	ledger := newFakeLedger()
	h := NewCreateTemplateHandler(ledger, nil)

	in := CreateTemplateInput{
		Name:         "Term 1 Tuition",
		Amount:       decimal.NewFromInt(15000),
		Term:         "T1",
		AcademicYear: "2026",
	}
	_, err := h.Handle(context.Background(), in)
	require.NoError(t, err)

	_, err = h.Handle(context.Background(), in)
	assert.ErrorIs(t, err, shared.ErrAlreadyExists)
}
