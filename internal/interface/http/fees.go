package http

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"github.com/shulehub/shule-fees-hub/internal/application/command"
	"github.com/shulehub/shule-fees-hub/internal/application/query"
	"github.com/shulehub/shule-fees-hub/internal/domain/fees"
)

// ══════════════════════════════════════════════════════════════════════════════
// WIRE SHAPES
// ══════════════════════════════════════════════════════════════════════════════

type createTemplateRequest struct {
	Name         string `json:"name"`
	Amount       string `json:"amount"`
	Term         string `json:"term"`
	AcademicYear string `json:"academic_year"`
}

type templateDTO struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Amount       string    `json:"amount"`
	Term         string    `json:"term"`
	AcademicYear string    `json:"academic_year"`
	Active       bool      `json:"active"`
	CreatedAt    time.Time `json:"created_at"`
}

func toTemplateDTO(t *fees.Template) templateDTO {
	return templateDTO{
		ID:           t.ID,
		Name:         t.Name,
		Amount:       t.Amount.String(),
		Term:         t.Term,
		AcademicYear: t.AcademicYear,
		Active:       t.Active,
		CreatedAt:    t.CreatedAt,
	}
}

type assignObligationRequest struct {
	StudentID  string `json:"student_id"`
	ClassID    string `json:"class_id"`
	TemplateID string `json:"template_id"`
	DueDate    string `json:"due_date"`
}

type obligationDTO struct {
	ID           string     `json:"id"`
	StudentID    string     `json:"student_id"`
	ClassID      string     `json:"class_id,omitempty"`
	TemplateID   string     `json:"template_id"`
	Title        string     `json:"title"`
	Amount       string     `json:"amount"`
	PaidAmount   string     `json:"paid_amount"`
	Carryover    string     `json:"carryover"`
	Balance      string     `json:"balance"`
	Term         string     `json:"term,omitempty"`
	AcademicYear string     `json:"academic_year,omitempty"`
	DueDate      time.Time  `json:"due_date"`
	Paid         bool       `json:"paid"`
	PaidAt       *time.Time `json:"paid_at,omitempty"`
}

func toObligationDTO(o *fees.Obligation) obligationDTO {
	return obligationDTO{
		ID:           o.ID,
		StudentID:    o.StudentID,
		ClassID:      o.ClassID,
		TemplateID:   o.TemplateID,
		Title:        o.Title,
		Amount:       o.Amount.String(),
		PaidAmount:   o.PaidAmount.String(),
		Carryover:    o.Carryover.String(),
		Balance:      o.Balance().String(),
		Term:         o.Term,
		AcademicYear: o.AcademicYear,
		DueDate:      o.DueDate,
		Paid:         o.Paid,
		PaidAt:       o.PaidAt,
	}
}

type creditDTO struct {
	ID              string     `json:"id"`
	SourcePaymentID string     `json:"source_payment_id"`
	Amount          string     `json:"amount"`
	Consumed        bool       `json:"consumed"`
	ConsumedAt      *time.Time `json:"consumed_at,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
}

// ══════════════════════════════════════════════════════════════════════════════
// FEE TEMPLATE ENDPOINTS
// ══════════════════════════════════════════════════════════════════════════════

func (s *Server) handleCreateTemplate(w http.ResponseWriter, r *http.Request) {
	var req createTemplateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid_request", "Malformed JSON body")
		return
	}

	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid_request", "Amount is not a valid decimal")
		return
	}

	tpl, err := s.deps.CreateTemplate.Handle(r.Context(), command.CreateTemplateInput{
		Name:         req.Name,
		Amount:       amount,
		Term:         req.Term,
		AcademicYear: req.AcademicYear,
	})
	if err != nil {
		s.writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, toTemplateDTO(tpl))
}

func (s *Server) handleListTemplates(w http.ResponseWriter, r *http.Request) {
	onlyActive := getQueryParamBool(r, "active")

	templates, err := s.deps.Templates.List(r.Context(), onlyActive)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}

	dtos := make([]templateDTO, 0, len(templates))
	for _, t := range templates {
		dtos = append(dtos, toTemplateDTO(t))
	}
	writeJSON(w, http.StatusOK, dtos)
}

func (s *Server) handleGetTemplate(w http.ResponseWriter, r *http.Request) {
	tpl, err := s.deps.Templates.GetByID(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toTemplateDTO(tpl))
}

// handleDeactivateTemplate retires a template. Existing obligations keep
// their copied amounts; only new assignment is blocked.
func (s *Server) handleDeactivateTemplate(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Templates.Deactivate(r.Context(), r.PathValue("id")); err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"deactivated": true})
}

// ══════════════════════════════════════════════════════════════════════════════
// OBLIGATION ENDPOINTS
// ══════════════════════════════════════════════════════════════════════════════

func (s *Server) handleAssignObligation(w http.ResponseWriter, r *http.Request) {
	var req assignObligationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid_request", "Malformed JSON body")
		return
	}

	dueDate, err := time.Parse("2006-01-02", req.DueDate)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid_request", "due_date must be YYYY-MM-DD")
		return
	}

	obligation, err := s.deps.AssignObligation.Handle(r.Context(), command.AssignObligationInput{
		StudentID:  req.StudentID,
		ClassID:    req.ClassID,
		TemplateID: req.TemplateID,
		DueDate:    dueDate,
	})
	if err != nil {
		s.writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, toObligationDTO(obligation))
}

func (s *Server) handleListObligations(w http.ResponseWriter, r *http.Request) {
	obligations, err := s.deps.Obligations.ListByStudent(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}

	dtos := make([]obligationDTO, 0, len(obligations))
	for _, o := range obligations {
		dtos = append(dtos, toObligationDTO(o))
	}
	writeJSON(w, http.StatusOK, dtos)
}

func (s *Server) handleListCredits(w http.ResponseWriter, r *http.Request) {
	credits, err := s.deps.Credits.ListByStudent(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}

	dtos := make([]creditDTO, 0, len(credits))
	for _, c := range credits {
		dtos = append(dtos, creditDTO{
			ID:              c.ID,
			SourcePaymentID: c.SourcePaymentID,
			Amount:          c.Amount.String(),
			Consumed:        c.Consumed,
			ConsumedAt:      c.ConsumedAt,
			CreatedAt:       c.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, dtos)
}

// ══════════════════════════════════════════════════════════════════════════════
// BALANCE & REPORT ENDPOINTS
// ══════════════════════════════════════════════════════════════════════════════

func (s *Server) handleGetBalance(w http.ResponseWriter, r *http.Request) {
	summary, err := s.deps.GetStudentBalance.Handle(r.Context(), query.GetStudentBalanceQuery{
		StudentID: r.PathValue("id"),
		SkipCache: getQueryParamBool(r, "fresh"),
	})
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (s *Server) handleClassReport(w http.ResponseWriter, r *http.Request) {
	report, err := s.deps.GetClassBalances.Handle(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleTermReport(w http.ResponseWriter, r *http.Request) {
	term := getQueryParam(r, "term", "")
	academicYear := getQueryParam(r, "academic_year", "")
	if term == "" || academicYear == "" {
		writeJSONError(w, http.StatusBadRequest, "invalid_request", "term and academic_year query parameters are required")
		return
	}

	report, err := s.deps.GetTermCollections.Handle(r.Context(), term, academicYear)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}
