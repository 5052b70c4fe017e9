package command

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/shulehub/shule-fees-hub/internal/domain/gateway"
	"github.com/shulehub/shule-fees-hub/internal/domain/payment"
	"github.com/shulehub/shule-fees-hub/internal/domain/shared"
	"github.com/shulehub/shule-fees-hub/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// CREATE PAYMENT
// ══════════════════════════════════════════════════════════════════════════════

// CreatePaymentInput carries a validated money-in request.
type CreatePaymentInput struct {
	StudentID   string
	Amount      decimal.Decimal
	Mode        string
	PayerName   string
	PayerPhone  string
	Description string
}

// CreatePaymentResult is returned to the caller. For mobile money it carries
// the processor's correlation ID for client-side polling.
type CreatePaymentResult struct {
	Payment           *payment.Payment
	CheckoutRequestID string
	CustomerMessage   string
}

// CreatePaymentHandler creates payments and routes them by mode: synchronous
// modes allocate inline in one transaction; mobile money persists a PENDING
// payment plus an INITIATED gateway transaction, submits the request, and
// waits for the asynchronous confirmation.
type CreatePaymentHandler struct {
	ledger    Ledger
	allocator *Allocator
	processor gateway.Processor
	events    shared.EventPublisher
	logger    *logger.Logger
	now       func() time.Time
}

// NewCreatePaymentHandler creates a CreatePaymentHandler.
func NewCreatePaymentHandler(ledger Ledger, allocator *Allocator, processor gateway.Processor, events shared.EventPublisher, log *logger.Logger) *CreatePaymentHandler {
	if log == nil {
		log = logger.Default()
	}
	return &CreatePaymentHandler{
		ledger:    ledger,
		allocator: allocator,
		processor: processor,
		events:    events,
		logger:    log.With(logger.Component("create_payment")),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Handle validates the input and executes the payment flow.
func (h *CreatePaymentHandler) Handle(ctx context.Context, in CreatePaymentInput) (*CreatePaymentResult, error) {
	mode, err := payment.ParseMode(in.Mode)
	if err != nil {
		return nil, err
	}

	now := h.now()
	p, err := payment.New(uuid.NewString(), in.StudentID, in.Amount, mode,
		payment.PayerInfo{Name: in.PayerName, Phone: in.PayerPhone}, now)
	if err != nil {
		return nil, err
	}

	if mode.IsSynchronous() {
		return h.createSynchronous(ctx, p, now)
	}
	return h.createMobileMoney(ctx, p, in.Description, now)
}

// createSynchronous commits the payment and its full allocation atomically.
func (h *CreatePaymentHandler) createSynchronous(ctx context.Context, p *payment.Payment, now time.Time) (*CreatePaymentResult, error) {
	err := h.ledger.InTx(ctx, func(ctx context.Context, tx LedgerTx) error {
		seq, err := tx.NextReceiptSequence(ctx, now.Year())
		if err != nil {
			return err
		}
		p.ReceiptNumber = payment.FormatReceiptNumber(now.Year(), seq)

		if err := p.TransitionTo(payment.StatusCompleted, now); err != nil {
			return err
		}
		if err := tx.InsertPayment(ctx, p); err != nil {
			return err
		}
		_, err = h.allocator.Apply(ctx, tx, p, now)
		return err
	})
	if err != nil {
		return nil, err
	}

	h.publishCompleted(ctx, p)
	return &CreatePaymentResult{Payment: p}, nil
}

// createMobileMoney persists the pending payment and transaction first so a
// fast callback can find them, then submits the request to the processor.
func (h *CreatePaymentHandler) createMobileMoney(ctx context.Context, p *payment.Payment, description string, now time.Time) (*CreatePaymentResult, error) {
	gtx := gateway.NewTransaction(uuid.NewString(), p.ID, p.Payer.Phone, p.Amount, now)

	// No receipt number yet: receipts are only issued for money actually
	// received, so mobile money gets one when the confirmation arrives.
	err := h.ledger.InTx(ctx, func(ctx context.Context, tx LedgerTx) error {
		if err := p.TransitionTo(payment.StatusPending, now); err != nil {
			return err
		}
		if err := tx.InsertPayment(ctx, p); err != nil {
			return err
		}
		return tx.InsertTransaction(ctx, gtx)
	})
	if err != nil {
		return nil, err
	}

	resp, err := h.processor.Initiate(ctx, gateway.InitiateRequest{
		PhoneNumber: p.Payer.Phone,
		Amount:      p.Amount.StringFixed(0),
		AccountRef:  p.StudentID,
		Description: description,
	})
	if err != nil {
		// The payment must not stay PENDING forever after a failed initiation.
		h.failInitiation(ctx, p, gtx, err)
		return nil, err
	}

	acceptedAt := h.now()
	if err := gtx.Accept(resp.CheckoutRequestID, resp.MerchantRequestID, acceptedAt); err != nil {
		return nil, err
	}
	err = h.ledger.InTx(ctx, func(ctx context.Context, tx LedgerTx) error {
		return tx.UpdateTransaction(ctx, gtx)
	})
	if err != nil {
		return nil, err
	}

	h.logger.Info("mobile money payment initiated",
		logger.StudentID(p.StudentID),
		logger.PaymentID(p.ID),
		logger.CheckoutRequestID(resp.CheckoutRequestID),
		logger.Amount(p.Amount),
	)

	return &CreatePaymentResult{
		Payment:           p,
		CheckoutRequestID: resp.CheckoutRequestID,
		CustomerMessage:   resp.CustomerMessage,
	}, nil
}

func (h *CreatePaymentHandler) failInitiation(ctx context.Context, p *payment.Payment, gtx *gateway.Transaction, cause error) {
	now := h.now()
	err := h.ledger.InTx(ctx, func(ctx context.Context, tx LedgerTx) error {
		locked, err := tx.GetPaymentForUpdate(ctx, p.ID)
		if err != nil {
			return err
		}
		if locked.Status.IsTerminal() {
			return nil
		}
		if err := locked.Fail(cause.Error(), now); err != nil {
			return err
		}
		if err := tx.UpdatePaymentStatus(ctx, locked); err != nil {
			return err
		}
		p.Status = locked.Status
		p.FailureReason = locked.FailureReason
		if err := gtx.MarkFailed(cause.Error(), now); err != nil {
			return err
		}
		return tx.UpdateTransaction(ctx, gtx)
	})
	if err != nil {
		h.logger.Error("failed to mark payment FAILED after initiation error",
			logger.PaymentID(p.ID), logger.Err(err))
		return
	}

	if h.events != nil {
		event := shared.PaymentFailedEvent{
			BaseEvent: shared.NewBaseEvent(shared.EventPaymentFailed, p.ID),
			StudentID: p.StudentID,
			Amount:    p.Amount.String(),
			Reason:    cause.Error(),
		}
		_ = h.events.Publish(ctx, event)
	}
}

func (h *CreatePaymentHandler) publishCompleted(ctx context.Context, p *payment.Payment) {
	if h.events == nil {
		return
	}
	event := shared.PaymentCompletedEvent{
		BaseEvent:     shared.NewBaseEvent(shared.EventPaymentCompleted, p.ID),
		StudentID:     p.StudentID,
		Amount:        p.Amount.String(),
		Mode:          string(p.Mode),
		ReceiptNumber: p.ReceiptNumber,
	}
	if err := h.events.Publish(ctx, event); err != nil {
		h.logger.Warn("failed to publish payment completed event",
			logger.PaymentID(p.ID), logger.Err(err))
	}
}
