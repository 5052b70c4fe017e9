package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"github.com/shulehub/shule-fees-hub/internal/application/command"
	"github.com/shulehub/shule-fees-hub/internal/domain/payment"
	"github.com/shulehub/shule-fees-hub/internal/domain/shared"
	"github.com/shulehub/shule-fees-hub/internal/infrastructure/external/daraja"
	"github.com/shulehub/shule-fees-hub/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// WIRE SHAPES
// ══════════════════════════════════════════════════════════════════════════════

type createPaymentRequest struct {
	StudentID   string `json:"student_id"`
	Amount      string `json:"amount"`
	Mode        string `json:"mode"`
	PayerName   string `json:"payer_name"`
	PayerPhone  string `json:"payer_phone"`
	Description string `json:"description"`
}

type paymentDTO struct {
	ID            string     `json:"id"`
	StudentID     string     `json:"student_id"`
	Amount        string     `json:"amount"`
	Mode          string     `json:"mode"`
	Status        string     `json:"status"`
	ReceiptNumber string     `json:"receipt_number,omitempty"`
	PayerName     string     `json:"payer_name,omitempty"`
	PayerPhone    string     `json:"payer_phone,omitempty"`
	FailureReason string     `json:"failure_reason,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
}

type createPaymentResponse struct {
	Payment           paymentDTO `json:"payment"`
	CheckoutRequestID string     `json:"checkout_request_id,omitempty"`
	CustomerMessage   string     `json:"customer_message,omitempty"`
}

type allocationDTO struct {
	ID           string    `json:"id"`
	ObligationID string    `json:"obligation_id"`
	Amount       string    `json:"amount"`
	CreatedAt    time.Time `json:"created_at"`
}

func toPaymentDTO(p *payment.Payment) paymentDTO {
	return paymentDTO{
		ID:            p.ID,
		StudentID:     p.StudentID,
		Amount:        p.Amount.String(),
		Mode:          string(p.Mode),
		Status:        string(p.Status),
		ReceiptNumber: p.ReceiptNumber,
		PayerName:     p.Payer.Name,
		PayerPhone:    p.Payer.Phone,
		FailureReason: p.FailureReason,
		CreatedAt:     p.CreatedAt,
		CompletedAt:   p.CompletedAt,
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// PAYMENT ENDPOINTS
// ══════════════════════════════════════════════════════════════════════════════

// handleCreatePayment accepts a money-in request. Cash and bank settle in the
// response; mobile money returns 202 with the checkout request ID to poll.
func (s *Server) handleCreatePayment(w http.ResponseWriter, r *http.Request) {
	var req createPaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid_request", "Malformed JSON body")
		return
	}

	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid_request", "Amount is not a valid decimal")
		return
	}

	result, err := s.deps.CreatePayment.Handle(r.Context(), command.CreatePaymentInput{
		StudentID:   req.StudentID,
		Amount:      amount,
		Mode:        req.Mode,
		PayerName:   req.PayerName,
		PayerPhone:  req.PayerPhone,
		Description: req.Description,
	})
	if err != nil {
		s.writeDomainError(w, err)
		return
	}

	status := http.StatusCreated
	if result.Payment.Status == payment.StatusPending {
		status = http.StatusAccepted
	}
	writeJSON(w, status, createPaymentResponse{
		Payment:           toPaymentDTO(result.Payment),
		CheckoutRequestID: result.CheckoutRequestID,
		CustomerMessage:   result.CustomerMessage,
	})
}

// handleGetPayment returns one payment with its allocations.
func (s *Server) handleGetPayment(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	p, err := s.deps.Payments.GetByID(r.Context(), id)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}

	allocations, err := s.deps.Payments.ListAllocations(r.Context(), id)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}

	dtos := make([]allocationDTO, 0, len(allocations))
	for _, a := range allocations {
		dtos = append(dtos, allocationDTO{
			ID:           a.ID,
			ObligationID: a.ObligationID,
			Amount:       a.Amount.String(),
			CreatedAt:    a.CreatedAt,
		})
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"payment":     toPaymentDTO(p),
		"allocations": dtos,
	})
}

// handleListPayments returns a student's payments, newest first.
func (s *Server) handleListPayments(w http.ResponseWriter, r *http.Request) {
	studentID := r.PathValue("id")

	payments, err := s.deps.Payments.ListByStudent(r.Context(), studentID)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}

	dtos := make([]paymentDTO, 0, len(payments))
	for _, p := range payments {
		dtos = append(dtos, toPaymentDTO(p))
	}
	writeJSON(w, http.StatusOK, dtos)
}

// ══════════════════════════════════════════════════════════════════════════════
// GATEWAY WEBHOOK & RECONCILIATION
// ══════════════════════════════════════════════════════════════════════════════

// handleGatewayCallback receives the processor's confirmation. The response
// is ALWAYS the fixed acknowledgment with HTTP 200: a non-200 only makes the
// processor retry a callback we either applied, already applied, or flagged,
// and processing failures are resolved by the reconciliation sweep instead.
func (s *Server) handleGatewayCallback(w http.ResponseWriter, r *http.Request) {
	result, err := daraja.ParseCallback(r.Body)
	if err != nil {
		s.logger.Warn("unparseable gateway callback", logger.Err(err))
		s.writeAck(w)
		return
	}

	outcome, err := s.deps.HandleCallback.Handle(r.Context(), result)
	if err != nil {
		s.logger.Error("gateway callback processing failed",
			logger.CheckoutRequestID(result.CheckoutRequestID),
			logger.Err(err),
		)
	} else {
		s.logger.Info("gateway callback processed",
			logger.CheckoutRequestID(result.CheckoutRequestID),
			logger.String("outcome", string(outcome)),
		)
	}

	s.writeAck(w)
}

func (s *Server) writeAck(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	data, err := daraja.MarshalAck()
	if err != nil {
		return
	}
	_, _ = w.Write(data)
}

type gatewayQueryRequest struct {
	CheckoutRequestID string `json:"checkout_request_id"`
}

// handleGatewayQuery lets staff force-resolve a stuck transaction without
// waiting for the reconciliation sweep.
func (s *Server) handleGatewayQuery(w http.ResponseWriter, r *http.Request) {
	var req gatewayQueryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid_request", "Malformed JSON body")
		return
	}
	if req.CheckoutRequestID == "" {
		writeJSONError(w, http.StatusBadRequest, "invalid_request", "checkout_request_id is required")
		return
	}

	outcome, err := s.deps.ResolvePending.Handle(r.Context(), req.CheckoutRequestID)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"checkout_request_id": req.CheckoutRequestID,
		"outcome":             string(outcome),
	})
}

// ══════════════════════════════════════════════════════════════════════════════
// ERROR MAPPING
// ══════════════════════════════════════════════════════════════════════════════

// writeDomainError translates domain error kinds to HTTP statuses.
func (s *Server) writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case shared.IsNotFound(err):
		writeJSONError(w, http.StatusNotFound, "not_found", err.Error())
	case shared.IsValidation(err):
		writeJSONError(w, http.StatusBadRequest, "invalid_request", err.Error())
	case errors.Is(err, shared.ErrStateTransition),
		errors.Is(err, shared.ErrInvalidState),
		errors.Is(err, shared.ErrAlreadyProcessed),
		errors.Is(err, shared.ErrAlreadyExists):
		writeJSONError(w, http.StatusConflict, "conflict", err.Error())
	case shared.IsGateway(err):
		writeJSONError(w, http.StatusBadGateway, "gateway_error", err.Error())
	default:
		s.logger.Error("unhandled error", logger.Err(err))
		writeJSONError(w, http.StatusInternalServerError, "internal_server_error", "An unexpected error occurred")
	}
}
