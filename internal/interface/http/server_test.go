package http

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shulehub/shule-fees-hub/internal/application/command"
	"github.com/shulehub/shule-fees-hub/internal/application/query"
	"github.com/shulehub/shule-fees-hub/internal/domain/fees"
	"github.com/shulehub/shule-fees-hub/internal/domain/gateway"
	"github.com/shulehub/shule-fees-hub/internal/domain/payment"
	"github.com/shulehub/shule-fees-hub/internal/domain/shared"
	"github.com/shulehub/shule-fees-hub/internal/interface/http/handlers"
)

var testNow = time.Date(2026, 3, 12, 10, 0, 0, 0, time.UTC)

// ─────────────────────────────────────────────────────────────────────────────
// In-memory ledger backing the command handlers under test
// ─────────────────────────────────────────────────────────────────────────────

type testLedger struct {
	templates    map[string]fees.Template
	obligations  map[string]fees.Obligation
	credits      []fees.AccountCredit
	payments     map[string]payment.Payment
	allocations  []payment.Allocation
	transactions map[string]gateway.Transaction
	receiptSeq   int64
}

func newTestLedger() *testLedger {
	return &testLedger{
		templates:    make(map[string]fees.Template),
		obligations:  make(map[string]fees.Obligation),
		payments:     make(map[string]payment.Payment),
		transactions: make(map[string]gateway.Transaction),
	}
}

func (l *testLedger) InTx(ctx context.Context, fn func(ctx context.Context, tx command.LedgerTx) error) error {
	return fn(ctx, l)
}

func (l *testLedger) GetTemplate(ctx context.Context, id string) (*fees.Template, error) {
	tpl, ok := l.templates[id]
	if !ok {
		return nil, shared.ErrTemplateNotFound
	}
	return &tpl, nil
}

func (l *testLedger) InsertTemplate(ctx context.Context, tpl *fees.Template) error {
	l.templates[tpl.ID] = *tpl
	return nil
}

func (l *testLedger) InsertObligation(ctx context.Context, o *fees.Obligation) error {
	l.obligations[o.ID] = *o
	return nil
}

func (l *testLedger) UnpaidObligationsForUpdate(ctx context.Context, studentID string) ([]*fees.Obligation, error) {
	var out []*fees.Obligation
	for _, o := range l.obligations {
		if o.StudentID == studentID && !o.Paid {
			copied := o
			out = append(out, &copied)
		}
	}
	return out, nil
}

func (l *testLedger) UpdateObligation(ctx context.Context, o *fees.Obligation) error {
	if _, ok := l.obligations[o.ID]; !ok {
		return shared.ErrObligationVanished
	}
	l.obligations[o.ID] = *o
	return nil
}

func (l *testLedger) InsertCredit(ctx context.Context, c *fees.AccountCredit) error {
	l.credits = append(l.credits, *c)
	return nil
}

func (l *testLedger) ConsumeCredits(ctx context.Context, studentID string, limit decimal.Decimal, now time.Time) (decimal.Decimal, error) {
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
		if take.LessThan(l.credits[i].Amount) {
			remainder = &fees.AccountCredit{
				ID:              l.credits[i].ID + "-split",
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

func (l *testLedger) InsertPayment(ctx context.Context, p *payment.Payment) error {
	l.payments[p.ID] = *p
	return nil
}

func (l *testLedger) GetPaymentForUpdate(ctx context.Context, id string) (*payment.Payment, error) {
	p, ok := l.payments[id]
	if !ok {
		return nil, shared.ErrPaymentNotFound
	}
	return &p, nil
}

func (l *testLedger) UpdatePaymentStatus(ctx context.Context, p *payment.Payment) error {
	l.payments[p.ID] = *p
	return nil
}

func (l *testLedger) InsertAllocation(ctx context.Context, a *payment.Allocation) error {
	l.allocations = append(l.allocations, *a)
	return nil
}

func (l *testLedger) NextReceiptSequence(ctx context.Context, year int) (int64, error) {
	l.receiptSeq++
	return l.receiptSeq, nil
}

func (l *testLedger) InsertTransaction(ctx context.Context, t *gateway.Transaction) error {
	l.transactions[t.ID] = *t
	return nil
}

func (l *testLedger) GetTransactionByCheckoutIDForUpdate(ctx context.Context, checkoutRequestID string) (*gateway.Transaction, error) {
	for _, t := range l.transactions {
		if t.CheckoutRequestID == checkoutRequestID {
			copied := t
			return &copied, nil
		}
	}
	return nil, shared.ErrTransactionNotFound
}

func (l *testLedger) GetTransactionByPaymentIDForUpdate(ctx context.Context, paymentID string) (*gateway.Transaction, error) {
	for _, t := range l.transactions {
		if t.PaymentID == paymentID {
			copied := t
			return &copied, nil
		}
	}
	return nil, shared.ErrTransactionNotFound
}

func (l *testLedger) UpdateTransaction(ctx context.Context, t *gateway.Transaction) error {
	l.transactions[t.ID] = *t
	return nil
}

func (l *testLedger) ResolveTransaction(ctx context.Context, t *gateway.Transaction) (bool, error) {
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
// Read-side stubs
// ─────────────────────────────────────────────────────────────────────────────

type stubPayments struct{ ledger *testLedger }

func (s stubPayments) GetByID(ctx context.Context, id string) (*payment.Payment, error) {
	p, ok := s.ledger.payments[id]
	if !ok {
		return nil, shared.ErrPaymentNotFound
	}
	return &p, nil
}

func (s stubPayments) ListByStudent(ctx context.Context, studentID string) ([]*payment.Payment, error) {
	var out []*payment.Payment
	for _, p := range s.ledger.payments {
		if p.StudentID == studentID {
			copied := p
			out = append(out, &copied)
		}
	}
	return out, nil
}

func (s stubPayments) ListAllocations(ctx context.Context, paymentID string) ([]*payment.Allocation, error) {
	var out []*payment.Allocation
	for _, a := range s.ledger.allocations {
		if a.PaymentID == paymentID {
			copied := a
			out = append(out, &copied)
		}
	}
	return out, nil
}

func (s stubPayments) ListPendingOlderThan(ctx context.Context, cutoff time.Time) ([]*payment.Payment, error) {
	return nil, nil
}

type stubTemplates struct{ ledger *testLedger }

func (s stubTemplates) Create(ctx context.Context, tpl *fees.Template) error {
	return s.ledger.InsertTemplate(ctx, tpl)
}

func (s stubTemplates) GetByID(ctx context.Context, id string) (*fees.Template, error) {
	return s.ledger.GetTemplate(ctx, id)
}

func (s stubTemplates) List(ctx context.Context, onlyActive bool) ([]*fees.Template, error) {
	var out []*fees.Template
	for _, tpl := range s.ledger.templates {
		if onlyActive && !tpl.Active {
			continue
		}
		copied := tpl
		out = append(out, &copied)
	}
	return out, nil
}

func (s stubTemplates) Deactivate(ctx context.Context, id string) error {
	tpl, ok := s.ledger.templates[id]
	if !ok {
		return shared.ErrTemplateNotFound
	}
	tpl.Active = false
	s.ledger.templates[id] = tpl
	return nil
}

type stubObligations struct{ ledger *testLedger }

func (s stubObligations) GetByID(ctx context.Context, id string) (*fees.Obligation, error) {
	o, ok := s.ledger.obligations[id]
	if !ok {
		return nil, shared.ErrObligationNotFound
	}
	return &o, nil
}

func (s stubObligations) ListByStudent(ctx context.Context, studentID string) ([]*fees.Obligation, error) {
	var out []*fees.Obligation
	for _, o := range s.ledger.obligations {
		if o.StudentID == studentID {
			copied := o
			out = append(out, &copied)
		}
	}
	return out, nil
}

func (s stubObligations) ListByClass(ctx context.Context, classID string) ([]*fees.Obligation, error) {
	var out []*fees.Obligation
	for _, o := range s.ledger.obligations {
		if o.ClassID == classID {
			copied := o
			out = append(out, &copied)
		}
	}
	return out, nil
}

func (s stubObligations) ListByTerm(ctx context.Context, term, academicYear string) ([]*fees.Obligation, error) {
	var out []*fees.Obligation
	for _, o := range s.ledger.obligations {
		if o.Term == term && o.AcademicYear == academicYear {
			copied := o
			out = append(out, &copied)
		}
	}
	return out, nil
}

type stubCredits struct{ ledger *testLedger }

func (s stubCredits) UnconsumedTotal(ctx context.Context, studentID string) (decimal.Decimal, error) {
	total := decimal.Zero
	for _, c := range s.ledger.credits {
		if c.StudentID == studentID && !c.Consumed {
			total = total.Add(c.Amount)
		}
	}
	return total, nil
}

func (s stubCredits) ListByStudent(ctx context.Context, studentID string) ([]*fees.AccountCredit, error) {
	var out []*fees.AccountCredit
	for _, c := range s.ledger.credits {
		if c.StudentID == studentID {
			copied := c
			out = append(out, &copied)
		}
	}
	return out, nil
}

type stubTransactions struct{ ledger *testLedger }

func (s stubTransactions) GetByID(ctx context.Context, id string) (*gateway.Transaction, error) {
	t, ok := s.ledger.transactions[id]
	if !ok {
		return nil, shared.ErrTransactionNotFound
	}
	return &t, nil
}

func (s stubTransactions) GetByCheckoutRequestID(ctx context.Context, checkoutRequestID string) (*gateway.Transaction, error) {
	return s.ledger.GetTransactionByCheckoutIDForUpdate(ctx, checkoutRequestID)
}

func (s stubTransactions) GetByPaymentID(ctx context.Context, paymentID string) (*gateway.Transaction, error) {
	for _, t := range s.ledger.transactions {
		if t.PaymentID == paymentID {
			copied := t
			return &copied, nil
		}
	}
	return nil, shared.ErrTransactionNotFound
}

type stubProcessor struct {
	initResp    *gateway.InitiateResponse
	initErr     error
	queryResult *gateway.CallbackResult
	queryErr    error
}

func (p stubProcessor) Initiate(ctx context.Context, req gateway.InitiateRequest) (*gateway.InitiateResponse, error) {
	if p.initErr != nil {
		return nil, p.initErr
	}
	return p.initResp, nil
}

func (p stubProcessor) Query(ctx context.Context, checkoutRequestID string) (*gateway.CallbackResult, error) {
	if p.queryErr != nil {
		return nil, p.queryErr
	}
	return p.queryResult, nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Test server assembly
// ─────────────────────────────────────────────────────────────────────────────

type testEnv struct {
	server  *Server
	handler http.Handler
	ledger  *testLedger
}

func newTestEnv(t *testing.T, mutate func(*Config, *testLedger, gateway.Processor) gateway.Processor) testEnv {
	t.Helper()

	cfg := DefaultConfig()
	cfg.RateLimitPerMinute = 0 // irrelevant here, avoids the cleanup goroutine

	ledger := newTestLedger()
	var processor gateway.Processor = stubProcessor{}
	if mutate != nil {
		processor = mutate(&cfg, ledger, processor)
	}

	allocator := command.NewAllocator(nil)
	callbacks := command.NewHandleCallbackHandler(ledger, allocator, nil, nil)

	deps := Dependencies{
		CreatePayment:    command.NewCreatePaymentHandler(ledger, allocator, processor, nil, nil),
		HandleCallback:   callbacks,
		ResolvePending:   command.NewResolvePendingHandler(processor, callbacks, nil),
		CreateTemplate:   command.NewCreateTemplateHandler(ledger, nil),
		AssignObligation: command.NewAssignObligationHandler(ledger, nil, nil),

		GetStudentBalance:  query.NewGetStudentBalanceHandler(stubObligations{ledger}, stubCredits{ledger}, nil, 0, nil),
		GetClassBalances:   query.NewGetClassBalancesHandler(stubObligations{ledger}),
		GetTermCollections: query.NewGetTermCollectionsHandler(stubObligations{ledger}),

		Payments:     stubPayments{ledger},
		Templates:    stubTemplates{ledger},
		Obligations:  stubObligations{ledger},
		Credits:      stubCredits{ledger},
		Transactions: stubTransactions{ledger},

		HealthChecker: handlers.NewNoopHealthChecker(),
	}

	server := NewServer(cfg, deps)
	return testEnv{
		server:  server,
		handler: server.buildMiddlewareChain(server.router),
		ledger:  ledger,
	}
}

func (e testEnv) do(method, target string, body string, header map[string]string) *httptest.ResponseRecorder {
	var reader *bytes.Reader
	if body == "" {
		reader = bytes.NewReader(nil)
	} else {
		reader = bytes.NewReader([]byte(body))
	}
	req := httptest.NewRequest(method, target, reader)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func decodeEnvelope(t *testing.T, rec *httptest.ResponseRecorder) (JSONResponse, json.RawMessage) {
	t.Helper()
	var envelope struct {
		Success bool            `json:"success"`
		Data    json.RawMessage `json:"data"`
		Error   *APIError       `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope))
	return JSONResponse{Success: envelope.Success, Error: envelope.Error}, envelope.Data
}

func (e testEnv) seedObligation(t *testing.T, id, studentID string, amount int64) {
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
	require.NoError(t, e.ledger.InsertTemplate(context.Background(), tpl))
	o := fees.NewObligation(id, studentID, "class-4w", tpl, testNow.AddDate(0, 0, 14), decimal.Zero, testNow)
	require.NoError(t, e.ledger.InsertObligation(context.Background(), o))
}

// ─────────────────────────────────────────────────────────────────────────────
// Status endpoints
// ─────────────────────────────────────────────────────────────────────────────

func TestHealthEndpoint(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.do(http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(http.MethodGet, "/live", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHealthEndpoint_FailingDependency(t *testing.T) {
	checker := handlers.NewCompositeHealthChecker("test")
	checker.AddCheck("postgres", func(ctx context.Context) error {
		return context.DeadlineExceeded
	})

	env := newTestEnv(t, nil)
	env.server.deps.HealthChecker = checker

	rec := env.do(http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestRootAndUnknownPath(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.do(http.MethodGet, "/", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(http.MethodGet, "/nope", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSecurityHeadersApplied(t *testing.T) {
	env := newTestEnv(t, nil)
	rec := env.do(http.MethodGet, "/health", "", nil)
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

// ─────────────────────────────────────────────────────────────────────────────
// Payments
// ─────────────────────────────────────────────────────────────────────────────

func TestCreatePayment_Cash(t *testing.T) {
	env := newTestEnv(t, nil)
	env.seedObligation(t, "ob-1", "stu-1", 5000)

	rec := env.do(http.MethodPost, "/api/v1/payments",
		`{"student_id":"stu-1","amount":"5000","mode":"CASH","payer_name":"Wanjiku Kamau"}`, nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	_, data := decodeEnvelope(t, rec)
	var resp createPaymentResponse
	require.NoError(t, json.Unmarshal(data, &resp))
	assert.Equal(t, "COMPLETED", resp.Payment.Status)
	assert.True(t, strings.HasPrefix(resp.Payment.ReceiptNumber, "RCP-"))
	assert.Empty(t, resp.CheckoutRequestID)
}

func TestCreatePayment_MobileMoneyAccepted(t *testing.T) {
	env := newTestEnv(t, func(cfg *Config, ledger *testLedger, _ gateway.Processor) gateway.Processor {
		return stubProcessor{initResp: &gateway.InitiateResponse{
			CheckoutRequestID: "ws_CO_42",
			MerchantRequestID: "mr_42",
			CustomerMessage:   "Success. Request accepted for processing",
		}}
	})
	env.seedObligation(t, "ob-1", "stu-1", 5000)

	rec := env.do(http.MethodPost, "/api/v1/payments",
		`{"student_id":"stu-1","amount":"5000","mode":"MOBILE_MONEY","payer_phone":"0712345678"}`, nil)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	_, data := decodeEnvelope(t, rec)
	var resp createPaymentResponse
	require.NoError(t, json.Unmarshal(data, &resp))
	assert.Equal(t, "PENDING", resp.Payment.Status)
	assert.Equal(t, "ws_CO_42", resp.CheckoutRequestID)
}

func TestCreatePayment_BadRequests(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.do(http.MethodPost, "/api/v1/payments", `{not json`, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(http.MethodPost, "/api/v1/payments",
		`{"student_id":"stu-1","amount":"one million","mode":"CASH"}`, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(http.MethodPost, "/api/v1/payments",
		`{"student_id":"stu-1","amount":"100","mode":"CHEQUE"}`, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(http.MethodPost, "/api/v1/payments",
		`{"student_id":"stu-1","amount":"-100","mode":"CASH"}`, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetPayment_NotFound(t *testing.T) {
	env := newTestEnv(t, nil)
	rec := env.do(http.MethodGet, "/api/v1/payments/nope", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	envelope, _ := decodeEnvelope(t, rec)
	assert.False(t, envelope.Success)
	require.NotNil(t, envelope.Error)
	assert.Equal(t, "not_found", envelope.Error.Code)
}

// ─────────────────────────────────────────────────────────────────────────────
// Gateway webhook
// ─────────────────────────────────────────────────────────────────────────────

const ackBody = `{"ResultCode":0,"ResultDesc":"Accepted"}`

func successCallbackJSON(checkoutRequestID string) string {
	return `{
	  "Body": {
	    "stkCallback": {
	      "MerchantRequestID": "mr_1",
	      "CheckoutRequestID": "` + checkoutRequestID + `",
	      "ResultCode": 0,
	      "ResultDesc": "The service request is processed successfully.",
	      "CallbackMetadata": {
	        "Item": [
	          {"Name": "Amount", "Value": 5000.00},
	          {"Name": "MpesaReceiptNumber", "Value": "NLJ7RT61SV"},
	          {"Name": "TransactionDate", "Value": 20260312130522},
	          {"Name": "PhoneNumber", "Value": 254712345678}
	        ]
	      }
	    }
	  }
	}`
}

func seedPendingMobilePayment(t *testing.T, env testEnv, paymentID, checkoutRequestID string, amount int64) {
	t.Helper()
	ctx := context.Background()

	p, err := payment.New(paymentID, "stu-1", decimal.NewFromInt(amount), payment.ModeMobileMoney,
		payment.PayerInfo{Phone: "254712345678"}, testNow)
	require.NoError(t, err)
	require.NoError(t, p.TransitionTo(payment.StatusPending, testNow))
	require.NoError(t, env.ledger.InsertPayment(ctx, p))

	gtx := gateway.NewTransaction("gtx-"+paymentID, paymentID, p.Payer.Phone, p.Amount, testNow)
	require.NoError(t, gtx.Accept(checkoutRequestID, "mr-"+paymentID, testNow))
	require.NoError(t, env.ledger.InsertTransaction(ctx, gtx))
}

func TestGatewayCallback_SuccessIsAckedAndApplied(t *testing.T) {
	env := newTestEnv(t, nil)
	env.seedObligation(t, "ob-1", "stu-1", 5000)
	seedPendingMobilePayment(t, env, "pay-1", "ws_CO_1", 5000)

	rec := env.do(http.MethodPost, "/api/v1/payments/gateway-callback", successCallbackJSON("ws_CO_1"), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, ackBody, rec.Body.String())

	p := env.ledger.payments["pay-1"]
	assert.Equal(t, payment.StatusCompleted, p.Status)
	assert.NotEmpty(t, p.ReceiptNumber)
}

func TestGatewayCallback_UnparseableBodyStillAcked(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.do(http.MethodPost, "/api/v1/payments/gateway-callback", `<xml>nope</xml>`, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, ackBody, rec.Body.String())
}

func TestGatewayCallback_UnmatchedStillAcked(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.do(http.MethodPost, "/api/v1/payments/gateway-callback", successCallbackJSON("ws_CO_unknown"), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, ackBody, rec.Body.String())
}

func TestGatewayCallback_DuplicateStillAcked(t *testing.T) {
	env := newTestEnv(t, nil)
	env.seedObligation(t, "ob-1", "stu-1", 5000)
	seedPendingMobilePayment(t, env, "pay-1", "ws_CO_1", 5000)

	first := env.do(http.MethodPost, "/api/v1/payments/gateway-callback", successCallbackJSON("ws_CO_1"), nil)
	require.Equal(t, http.StatusOK, first.Code)

	second := env.do(http.MethodPost, "/api/v1/payments/gateway-callback", successCallbackJSON("ws_CO_1"), nil)
	require.Equal(t, http.StatusOK, second.Code)
	assert.JSONEq(t, ackBody, second.Body.String())

	// The redelivery must not have allocated twice.
	count := 0
	for _, a := range env.ledger.allocations {
		if a.PaymentID == "pay-1" {
			count++
		}
	}
	assert.Equal(t, 1, count)
}

// ─────────────────────────────────────────────────────────────────────────────
// Fee administration & auth
// ─────────────────────────────────────────────────────────────────────────────

func TestAdminEndpointsRequireAPIKey(t *testing.T) {
	env := newTestEnv(t, func(cfg *Config, _ *testLedger, p gateway.Processor) gateway.Processor {
		cfg.APIKeys = []string{"sekrit"}
		return p
	})
	body := `{"name":"Term 1 Tuition","amount":"15000","term":"T1","academic_year":"2026"}`

	rec := env.do(http.MethodPost, "/api/v1/fee-templates", body, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = env.do(http.MethodPost, "/api/v1/fee-templates", body, map[string]string{"X-API-Key": "wrong"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = env.do(http.MethodPost, "/api/v1/fee-templates", body, map[string]string{"X-API-Key": "sekrit"})
	assert.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	// Bearer scheme is accepted as a fallback.
	rec = env.do(http.MethodPost, "/api/v1/obligations",
		`{"student_id":"stu-1","template_id":"tpl-x","due_date":"2026-04-01"}`,
		map[string]string{"Authorization": "Bearer sekrit"})
	assert.NotEqual(t, http.StatusUnauthorized, rec.Code)

	// Read endpoints stay open.
	rec = env.do(http.MethodGet, "/api/v1/fee-templates", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestCreateTemplate_Validation(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.do(http.MethodPost, "/api/v1/fee-templates",
		`{"name":"","amount":"100","academic_year":"2026"}`, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(http.MethodPost, "/api/v1/fee-templates",
		`{"name":"Lunch","amount":"abc","academic_year":"2026"}`, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAssignObligation_FullFlow(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.do(http.MethodPost, "/api/v1/fee-templates",
		`{"name":"Term 1 Tuition","amount":"15000","term":"T1","academic_year":"2026"}`, nil)
	require.Equal(t, http.StatusCreated, rec.Code)

	_, data := decodeEnvelope(t, rec)
	var tpl templateDTO
	require.NoError(t, json.Unmarshal(data, &tpl))

	rec = env.do(http.MethodPost, "/api/v1/obligations",
		`{"student_id":"stu-1","class_id":"class-4w","template_id":"`+tpl.ID+`","due_date":"2026-04-01"}`, nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	_, data = decodeEnvelope(t, rec)
	var o obligationDTO
	require.NoError(t, json.Unmarshal(data, &o))
	assert.Equal(t, "15000", o.Amount)
	assert.Equal(t, "15000", o.Balance)
	assert.False(t, o.Paid)

	// Bad due date format is rejected before touching the ledger.
	rec = env.do(http.MethodPost, "/api/v1/obligations",
		`{"student_id":"stu-1","template_id":"`+tpl.ID+`","due_date":"01/04/2026"}`, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// Unknown template maps to 404.
	rec = env.do(http.MethodPost, "/api/v1/obligations",
		`{"student_id":"stu-1","template_id":"tpl-nope","due_date":"2026-04-01"}`, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDeactivateTemplate_BlocksAssignment(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.do(http.MethodPost, "/api/v1/fee-templates",
		`{"name":"Term 1 Tuition","amount":"15000","term":"T1","academic_year":"2026"}`, nil)
	require.Equal(t, http.StatusCreated, rec.Code)
	_, data := decodeEnvelope(t, rec)
	var tpl templateDTO
	require.NoError(t, json.Unmarshal(data, &tpl))

	rec = env.do(http.MethodDelete, "/api/v1/fee-templates/"+tpl.ID, "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	// Inactive templates look the same as unknown ones to callers.
	rec = env.do(http.MethodPost, "/api/v1/obligations",
		`{"student_id":"stu-1","template_id":"`+tpl.ID+`","due_date":"2026-04-01"}`, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

// ─────────────────────────────────────────────────────────────────────────────
// Balances & reports
// ─────────────────────────────────────────────────────────────────────────────

func TestGetBalance(t *testing.T) {
	env := newTestEnv(t, nil)
	env.seedObligation(t, "ob-1", "stu-1", 5000)

	rec := env.do(http.MethodGet, "/api/v1/students/stu-1/balance", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	_, data := decodeEnvelope(t, rec)
	var summary fees.BalanceSummary
	require.NoError(t, json.Unmarshal(data, &summary))
	assert.Equal(t, "stu-1", summary.StudentID)
	assert.True(t, summary.Balance.Equal(decimal.NewFromInt(5000)))
}

func TestTermReport_RequiresParams(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.do(http.MethodGet, "/api/v1/reports/terms", "", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(http.MethodGet, "/api/v1/reports/terms?term=T1&academic_year=2026", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestGatewayQuery_ResolvesStuckPayment(t *testing.T) {
	env := newTestEnv(t, func(cfg *Config, ledger *testLedger, _ gateway.Processor) gateway.Processor {
		return stubProcessor{queryResult: &gateway.CallbackResult{
			CheckoutRequestID: "ws_CO_1",
			ResultCode:        0,
			ResultDesc:        "The service request is processed successfully.",
		}}
	})
	env.seedObligation(t, "ob-1", "stu-1", 5000)
	seedPendingMobilePayment(t, env, "pay-1", "ws_CO_1", 5000)

	rec := env.do(http.MethodPost, "/api/v1/payments/gateway-query",
		`{"checkout_request_id":"ws_CO_1"}`, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	_, data := decodeEnvelope(t, rec)
	var resp map[string]string
	require.NoError(t, json.Unmarshal(data, &resp))
	assert.Equal(t, "applied", resp["outcome"])
	assert.Equal(t, payment.StatusCompleted, env.ledger.payments["pay-1"].Status)
}
