package command

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/shulehub/shule-fees-hub/internal/domain/fees"
	"github.com/shulehub/shule-fees-hub/pkg/logger"
)

// CreateTemplateInput describes a new chargeable item.
type CreateTemplateInput struct {
	Name         string
	Amount       decimal.Decimal
	Term         string
	AcademicYear string
}

// CreateTemplateHandler creates fee templates. Templates become immutable
// once obligations reference them; staff deactivate rather than edit.
type CreateTemplateHandler struct {
	ledger Ledger
	logger *logger.Logger
	now    func() time.Time
}

// NewCreateTemplateHandler creates a CreateTemplateHandler.
func NewCreateTemplateHandler(ledger Ledger, log *logger.Logger) *CreateTemplateHandler {
	if log == nil {
		log = logger.Default()
	}
	return &CreateTemplateHandler{
		ledger: ledger,
		logger: log.With(logger.Component("create_template")),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Handle validates and stores the template.
func (h *CreateTemplateHandler) Handle(ctx context.Context, in CreateTemplateInput) (*fees.Template, error) {
	tpl := &fees.Template{
		ID:           uuid.NewString(),
		Name:         in.Name,
		Amount:       in.Amount,
		Term:         in.Term,
		AcademicYear: in.AcademicYear,
		Active:       true,
		CreatedAt:    h.now(),
	}
	if err := tpl.Validate(); err != nil {
		return nil, err
	}

	err := h.ledger.InTx(ctx, func(ctx context.Context, tx LedgerTx) error {
		return tx.InsertTemplate(ctx, tpl)
	})
	if err != nil {
		return nil, err
	}

	h.logger.Info("fee template created",
		logger.String("template_id", tpl.ID),
		logger.String("name", tpl.Name),
		logger.Amount(tpl.Amount),
	)
	return tpl, nil
}
