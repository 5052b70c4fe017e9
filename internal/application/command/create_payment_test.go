package command

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shulehub/shule-fees-hub/internal/domain/fees"
	"github.com/shulehub/shule-fees-hub/internal/domain/gateway"
	"github.com/shulehub/shule-fees-hub/internal/domain/payment"
	"github.com/shulehub/shule-fees-hub/internal/domain/shared"
)

var testNow = time.Date(2026, 3, 12, 10, 0, 0, 0, time.UTC)

func seedObligation(t *testing.T, ledger *fakeLedger, id, studentID string, amount int64, dueDate time.Time) *fees.Obligation {
	t.Helper()
	tpl := &fees.Template{
		ID:           "tpl-" + id,
		Name:         "Tuition " + id,
		Amount:       decimal.NewFromInt(amount),
		Term:         "T1",
		AcademicYear: "2026",
		Active:       true,
		CreatedAt:    testNow,
	}
	o := fees.NewObligation(id, studentID, "class-4w", tpl, dueDate, decimal.Zero, testNow)
	require.NoError(t, ledger.InsertObligation(context.Background(), o))
	return o
}

func TestCreatePayment_CashAllocatesInline(t *testing.T) {
	ledger := newFakeLedger()
	pub := &capturingPublisher{}
	seedObligation(t, ledger, "ob-1", "stu-1", 6000, testNow.AddDate(0, 0, 7))
	seedObligation(t, ledger, "ob-2", "stu-1", 4000, testNow.AddDate(0, 0, 30))

	h := NewCreatePaymentHandler(ledger, NewAllocator(nil), &fakeProcessor{}, pub, nil)
	h.now = func() time.Time { return testNow }

	result, err := h.Handle(context.Background(), CreatePaymentInput{
		StudentID: "stu-1",
		Amount:    decimal.NewFromInt(7500),
		Mode:      "cash",
		PayerName: "Wanjiku Kamau",
	})
	require.NoError(t, err)

	assert.Equal(t, payment.StatusCompleted, result.Payment.Status)
	assert.Equal(t, "RCP-2026-000001", result.Payment.ReceiptNumber)
	assert.Empty(t, result.CheckoutRequestID)

	first := ledger.storedObligation("ob-1")
	assert.True(t, first.Paid)
	second := ledger.storedObligation("ob-2")
	assert.False(t, second.Paid)
	assert.True(t, second.PaidAmount.Equal(decimal.NewFromInt(1500)),
		"older obligation settles before the newer one receives anything")

	allocations := ledger.allocationsFor(result.Payment.ID)
	require.Len(t, allocations, 2)
	assert.Equal(t, []shared.EventType{shared.EventPaymentCompleted}, pub.eventTypes())
}

func TestCreatePayment_SplitPaymentsMatchSinglePayment(t *testing.T) {
	seed := func(ledger *fakeLedger) {
		seedObligation(t, ledger, "ob-1", "stu-1", 10000, testNow.AddDate(0, 0, 7))
		seedObligation(t, ledger, "ob-2", "stu-1", 5000, testNow.AddDate(0, 0, 30))
	}
	pay := func(ledger *fakeLedger, amount int64) {
		h := NewCreatePaymentHandler(ledger, NewAllocator(nil), &fakeProcessor{}, nil, nil)
		h.now = func() time.Time { return testNow }
		_, err := h.Handle(context.Background(), CreatePaymentInput{
			StudentID: "stu-1",
			Amount:    decimal.NewFromInt(amount),
			Mode:      "cash",
		})
		require.NoError(t, err)
	}

	split := newFakeLedger()
	seed(split)
	pay(split, 6000)
	pay(split, 6000)

	single := newFakeLedger()
	seed(single)
	pay(single, 12000)

	// Two deposits summing to 12000 must leave the same ledger as one
	// deposit of 12000.
	for _, id := range []string{"ob-1", "ob-2"} {
		a := split.storedObligation(id)
		b := single.storedObligation(id)
		assert.True(t, a.PaidAmount.Equal(b.PaidAmount), "obligation %s: %s vs %s", id, a.PaidAmount, b.PaidAmount)
		assert.Equal(t, b.Paid, a.Paid, "obligation %s", id)
	}
	assert.True(t, split.storedObligation("ob-1").Paid)
	assert.False(t, split.storedObligation("ob-2").Paid)
	assert.True(t, split.storedObligation("ob-2").PaidAmount.Equal(decimal.NewFromInt(2000)))

	creditTotal := func(ledger *fakeLedger) decimal.Decimal {
		total := decimal.Zero
		for _, c := range ledger.creditsFor("stu-1") {
			if !c.Consumed {
				total = total.Add(c.Amount)
			}
		}
		return total
	}
	assert.True(t, creditTotal(split).Equal(creditTotal(single)))
}

func TestCreatePayment_OverpaymentBecomesCredit(t *testing.T) {
	ledger := newFakeLedger()
	seedObligation(t, ledger, "ob-1", "stu-1", 6000, testNow.AddDate(0, 0, 7))

	h := NewCreatePaymentHandler(ledger, NewAllocator(nil), &fakeProcessor{}, nil, nil)
	h.now = func() time.Time { return testNow }

	result, err := h.Handle(context.Background(), CreatePaymentInput{
		StudentID: "stu-1",
		Amount:    decimal.NewFromInt(10000),
		Mode:      "BANK",
	})
	require.NoError(t, err)

	credits := ledger.creditsFor("stu-1")
	require.Len(t, credits, 1)
	assert.True(t, credits[0].Amount.Equal(decimal.NewFromInt(4000)))
	assert.Equal(t, result.Payment.ID, credits[0].SourcePaymentID)
	assert.False(t, credits[0].Consumed)
}

func TestCreatePayment_InvalidMode(t *testing.T) {
	h := NewCreatePaymentHandler(newFakeLedger(), NewAllocator(nil), &fakeProcessor{}, nil, nil)

	_, err := h.Handle(context.Background(), CreatePaymentInput{
		StudentID: "stu-1",
		Amount:    decimal.NewFromInt(100),
		Mode:      "CHEQUE",
	})
	assert.ErrorIs(t, err, shared.ErrInvalidPaymentMode)
}

func TestCreatePayment_MobileMoneyPendsOnAcceptance(t *testing.T) {
	ledger := newFakeLedger()
	processor := &fakeProcessor{initResp: &gateway.InitiateResponse{
		CheckoutRequestID: "ws_CO_777",
		MerchantRequestID: "mr_1",
		CustomerMessage:   "Success. Request accepted for processing",
	}}

	h := NewCreatePaymentHandler(ledger, NewAllocator(nil), processor, nil, nil)
	h.now = func() time.Time { return testNow }

	result, err := h.Handle(context.Background(), CreatePaymentInput{
		StudentID:  "stu-1",
		Amount:     decimal.NewFromInt(5000),
		Mode:       "MOBILE_MONEY",
		PayerPhone: "0712345678",
	})
	require.NoError(t, err)

	assert.Equal(t, payment.StatusPending, result.Payment.Status)
	assert.Equal(t, "ws_CO_777", result.CheckoutRequestID)
	assert.Empty(t, result.Payment.ReceiptNumber, "receipts are only issued for money actually received")

	gtx, ok := ledger.storedTransactionByCheckout("ws_CO_777")
	require.True(t, ok)
	assert.Equal(t, gateway.StatusPending, gtx.Status)
	assert.Equal(t, result.Payment.ID, gtx.PaymentID)

	require.Len(t, processor.initiated, 1)
	assert.Equal(t, "stu-1", processor.initiated[0].AccountRef)
	assert.Equal(t, "5000", processor.initiated[0].Amount)
}

func TestCreatePayment_MobileMoneyRequiresPhone(t *testing.T) {
	h := NewCreatePaymentHandler(newFakeLedger(), NewAllocator(nil), &fakeProcessor{}, nil, nil)

	_, err := h.Handle(context.Background(), CreatePaymentInput{
		StudentID: "stu-1",
		Amount:    decimal.NewFromInt(5000),
		Mode:      "MOBILE_MONEY",
	})
	assert.ErrorIs(t, err, shared.ErrMissingPhoneNumber)
}

func TestCreatePayment_FailedInitiationMarksPaymentFailed(t *testing.T) {
	ledger := newFakeLedger()
	pub := &capturingPublisher{}
	processor := &fakeProcessor{initErr: shared.ErrGatewayRejected}

	h := NewCreatePaymentHandler(ledger, NewAllocator(nil), processor, pub, nil)
	h.now = func() time.Time { return testNow }

	_, err := h.Handle(context.Background(), CreatePaymentInput{
		StudentID:  "stu-1",
		Amount:     decimal.NewFromInt(5000),
		Mode:       "MOBILE_MONEY",
		PayerPhone: "0712345678",
	})
	require.Error(t, err)
	assert.True(t, shared.IsGateway(err))

	// The payment must not stay PENDING after the processor said no.
	var stored payment.Payment
	for _, p := range ledger.payments {
		stored = p
	}
	assert.Equal(t, payment.StatusFailed, stored.Status)
	assert.NotEmpty(t, stored.FailureReason)
	assert.Equal(t, []shared.EventType{shared.EventPaymentFailed}, pub.eventTypes())
}
