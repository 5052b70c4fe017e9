package command

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/shulehub/shule-fees-hub/internal/domain/fees"
	"github.com/shulehub/shule-fees-hub/internal/domain/shared"
	"github.com/shulehub/shule-fees-hub/pkg/logger"
)

// AssignObligationInput identifies the student, the template and the due date.
type AssignObligationInput struct {
	StudentID  string
	ClassID    string
	TemplateID string
	DueDate    time.Time
}

// AssignObligationHandler creates a fee obligation from an active template.
// Unconsumed account credit of the student, up to the obligation amount, is
// folded into the new obligation's carryover inside the same transaction.
type AssignObligationHandler struct {
	ledger Ledger
	events shared.EventPublisher
	logger *logger.Logger
	now    func() time.Time
}

// NewAssignObligationHandler creates an AssignObligationHandler.
func NewAssignObligationHandler(ledger Ledger, events shared.EventPublisher, log *logger.Logger) *AssignObligationHandler {
	if log == nil {
		log = logger.Default()
	}
	return &AssignObligationHandler{
		ledger: ledger,
		events: events,
		logger: log.With(logger.Component("assign_obligation")),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Handle creates the obligation. Fails with a NotFound kind when the template
// is unknown or inactive.
func (h *AssignObligationHandler) Handle(ctx context.Context, in AssignObligationInput) (*fees.Obligation, error) {
	if in.StudentID == "" {
		return nil, shared.NewDomainError("fees", "Assign", shared.ErrInvalidInput, "student ID is required")
	}

	now := h.now()
	var obligation *fees.Obligation

	err := h.ledger.InTx(ctx, func(ctx context.Context, tx LedgerTx) error {
		tpl, err := tx.GetTemplate(ctx, in.TemplateID)
		if err != nil {
			return err
		}
		if !tpl.Active {
			return shared.ErrTemplateInactive
		}

		// Consume at most the template amount so carryover can never exceed
		// the obligation; any excess credit stays queued for the next one.
		carryover, err := tx.ConsumeCredits(ctx, in.StudentID, tpl.Amount, now)
		if err != nil {
			return err
		}

		obligation = fees.NewObligation(uuid.NewString(), in.StudentID, in.ClassID, tpl, in.DueDate, carryover, now)
		return tx.InsertObligation(ctx, obligation)
	})
	if err != nil {
		return nil, err
	}

	// Carryover alone can settle a small charge outright.
	if h.events != nil && obligation.Paid {
		_ = h.events.Publish(ctx, shared.ObligationSettledEvent{
			BaseEvent:    shared.NewBaseEvent(shared.EventObligationSettled, obligation.ID),
			StudentID:    obligation.StudentID,
			ObligationID: obligation.ID,
			Title:        obligation.Title,
		})
	}

	h.logger.Info("obligation assigned",
		logger.StudentID(in.StudentID),
		logger.String("template_id", in.TemplateID),
		logger.Amount(obligation.Amount),
	)
	return obligation, nil
}
