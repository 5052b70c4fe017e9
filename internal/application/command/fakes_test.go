package command

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/shulehub/shule-fees-hub/internal/domain/fees"
	"github.com/shulehub/shule-fees-hub/internal/domain/gateway"
	"github.com/shulehub/shule-fees-hub/internal/domain/payment"
	"github.com/shulehub/shule-fees-hub/internal/domain/shared"
)

// fakeLedger is an in-memory Ledger/LedgerTx. It stores value copies so that
// the *ForUpdate reads hand out snapshots and the guarded ResolveTransaction
// can check the stored row, the same way the SQL store does.
type fakeLedger struct {
	mu sync.Mutex

	templates    map[string]fees.Template
	obligations  map[string]fees.Obligation
	credits      []fees.AccountCredit
	payments     map[string]payment.Payment
	allocations  []payment.Allocation
	transactions map[string]gateway.Transaction
	receiptSeq   map[int]int64
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{
		templates:    make(map[string]fees.Template),
		obligations:  make(map[string]fees.Obligation),
		payments:     make(map[string]payment.Payment),
		transactions: make(map[string]gateway.Transaction),
		receiptSeq:   make(map[int]int64),
	}
}

func (l *fakeLedger) InTx(ctx context.Context, fn func(ctx context.Context, tx LedgerTx) error) error {
	return fn(ctx, l)
}

// ─────────────────────────────────────────────────────────────────────────────
// Templates
// ─────────────────────────────────────────────────────────────────────────────

func (l *fakeLedger) GetTemplate(ctx context.Context, id string) (*fees.Template, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	tpl, ok := l.templates[id]
	if !ok {
		return nil, shared.ErrTemplateNotFound
	}
	return &tpl, nil
}

func (l *fakeLedger) InsertTemplate(ctx context.Context, tpl *fees.Template) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, existing := range l.templates {
		if existing.Name == tpl.Name && existing.Term == tpl.Term && existing.AcademicYear == tpl.AcademicYear {
			return shared.ErrAlreadyExists
		}
	}
	l.templates[tpl.ID] = *tpl
	return nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Obligations
// ─────────────────────────────────────────────────────────────────────────────

func (l *fakeLedger) InsertObligation(ctx context.Context, o *fees.Obligation) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.obligations[o.ID] = *o
	return nil
}

func (l *fakeLedger) UnpaidObligationsForUpdate(ctx context.Context, studentID string) ([]*fees.Obligation, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []*fees.Obligation
	for _, o := range l.obligations {
		if o.StudentID == studentID && !o.Paid {
			copied := o
			out = append(out, &copied)
		}
	}
	sortObligations(out)
	return out, nil
}

func (l *fakeLedger) UpdateObligation(ctx context.Context, o *fees.Obligation) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.obligations[o.ID]; !ok {
		return shared.ErrObligationVanished
	}
	l.obligations[o.ID] = *o
	return nil
}

func sortObligations(list []*fees.Obligation) {
	for i := 1; i < len(list); i++ {
		for j := i; j > 0 && obligationBefore(list[j], list[j-1]); j-- {
			list[j], list[j-1] = list[j-1], list[j]
		}
	}
}

func obligationBefore(a, b *fees.Obligation) bool {
	if !a.DueDate.Equal(b.DueDate) {
		return a.DueDate.Before(b.DueDate)
	}
	return a.CreatedAt.Before(b.CreatedAt)
}

// ─────────────────────────────────────────────────────────────────────────────
// Credits
// ─────────────────────────────────────────────────────────────────────────────

func (l *fakeLedger) InsertCredit(ctx context.Context, c *fees.AccountCredit) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.credits = append(l.credits, *c)
	return nil
}

func (l *fakeLedger) ConsumeCredits(ctx context.Context, studentID string, limit decimal.Decimal, now time.Time) (decimal.Decimal, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	total := decimal.Zero
	var remainder *fees.AccountCredit
	for i := range l.credits {
		if l.credits[i].StudentID != studentID || l.credits[i].Consumed {
			continue
		}
		if total.GreaterThanOrEqual(limit) {
			break
		}
		take := decimal.Min(l.credits[i].Amount, limit.Sub(total))
		total = total.Add(take)
		l.credits[i].Consumed = true
		consumedAt := now
		l.credits[i].ConsumedAt = &consumedAt
		if take.LessThan(l.credits[i].Amount) {
			remainder = &fees.AccountCredit{
				ID:              uuid.NewString(),
				StudentID:       studentID,
				SourcePaymentID: l.credits[i].SourcePaymentID,
				Amount:          l.credits[i].Amount.Sub(take),
				CreatedAt:       l.credits[i].CreatedAt,
			}
		}
	}
	if remainder != nil {
		l.credits = append(l.credits, *remainder)
	}
	return total, nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Payments
// ─────────────────────────────────────────────────────────────────────────────

func (l *fakeLedger) InsertPayment(ctx context.Context, p *payment.Payment) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.payments[p.ID] = *p
	return nil
}

func (l *fakeLedger) GetPaymentForUpdate(ctx context.Context, id string) (*payment.Payment, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	p, ok := l.payments[id]
	if !ok {
		return nil, shared.ErrPaymentNotFound
	}
	return &p, nil
}

func (l *fakeLedger) UpdatePaymentStatus(ctx context.Context, p *payment.Payment) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.payments[p.ID]; !ok {
		return shared.ErrPaymentNotFound
	}
	l.payments[p.ID] = *p
	return nil
}

func (l *fakeLedger) InsertAllocation(ctx context.Context, a *payment.Allocation) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.allocations = append(l.allocations, *a)
	return nil
}

func (l *fakeLedger) NextReceiptSequence(ctx context.Context, year int) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.receiptSeq[year]++
	return l.receiptSeq[year], nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Gateway transactions
// ─────────────────────────────────────────────────────────────────────────────

func (l *fakeLedger) InsertTransaction(ctx context.Context, t *gateway.Transaction) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.transactions[t.ID] = *t
	return nil
}

func (l *fakeLedger) GetTransactionByCheckoutIDForUpdate(ctx context.Context, checkoutRequestID string) (*gateway.Transaction, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, t := range l.transactions {
		if t.CheckoutRequestID == checkoutRequestID {
			copied := t
			return &copied, nil
		}
	}
	return nil, shared.ErrTransactionNotFound
}

func (l *fakeLedger) GetTransactionByPaymentIDForUpdate(ctx context.Context, paymentID string) (*gateway.Transaction, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, t := range l.transactions {
		if t.PaymentID == paymentID {
			copied := t
			return &copied, nil
		}
	}
	return nil, shared.ErrTransactionNotFound
}

func (l *fakeLedger) UpdateTransaction(ctx context.Context, t *gateway.Transaction) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.transactions[t.ID]; !ok {
		return shared.ErrTransactionNotFound
	}
	l.transactions[t.ID] = *t
	return nil
}

func (l *fakeLedger) ResolveTransaction(ctx context.Context, t *gateway.Transaction) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	stored, ok := l.transactions[t.ID]
	if !ok {
		return false, shared.ErrTransactionNotFound
	}
	if stored.Status.IsTerminal() {
		return false, nil
	}
	l.transactions[t.ID] = *t
	return true, nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Test accessors
// ─────────────────────────────────────────────────────────────────────────────

func (l *fakeLedger) storedPayment(id string) payment.Payment {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.payments[id]
}

func (l *fakeLedger) storedObligation(id string) fees.Obligation {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.obligations[id]
}

func (l *fakeLedger) storedTransactionByCheckout(checkoutRequestID string) (gateway.Transaction, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, t := range l.transactions {
		if t.CheckoutRequestID == checkoutRequestID {
			return t, true
		}
	}
	return gateway.Transaction{}, false
}

func (l *fakeLedger) allocationsFor(paymentID string) []payment.Allocation {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []payment.Allocation
	for _, a := range l.allocations {
		if a.PaymentID == paymentID {
			out = append(out, a)
		}
	}
	return out
}

func (l *fakeLedger) creditsFor(studentID string) []fees.AccountCredit {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []fees.AccountCredit
	for _, c := range l.credits {
		if c.StudentID == studentID {
			out = append(out, c)
		}
	}
	return out
}

// fakeProcessor stubs the external mobile-money processor.
type fakeProcessor struct {
	mu sync.Mutex

	initResp *gateway.InitiateResponse
	initErr  error

	queryResult *gateway.CallbackResult
	queryErr    error

	initiated []gateway.InitiateRequest
	queried   []string
}

func (p *fakeProcessor) Initiate(ctx context.Context, req gateway.InitiateRequest) (*gateway.InitiateResponse, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.initiated = append(p.initiated, req)
	if p.initErr != nil {
		return nil, p.initErr
	}
	return p.initResp, nil
}

func (p *fakeProcessor) Query(ctx context.Context, checkoutRequestID string) (*gateway.CallbackResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.queried = append(p.queried, checkoutRequestID)
	if p.queryErr != nil {
		return nil, p.queryErr
	}
	return p.queryResult, nil
}

// capturingPublisher records published events.
type capturingPublisher struct {
	mu     sync.Mutex
	events []shared.Event
}

func (p *capturingPublisher) Publish(ctx context.Context, event shared.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

func (p *capturingPublisher) eventTypes() []shared.EventType {
	p.mu.Lock()
	defer p.mu.Unlock()
	types := make([]shared.EventType, 0, len(p.events))
	for _, e := range p.events {
		types = append(types, e.EventType())
	}
	return types
}
