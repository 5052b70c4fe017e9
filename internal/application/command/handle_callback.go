package command

import (
	"context"
	"errors"
	"time"

	"github.com/shulehub/shule-fees-hub/internal/domain/gateway"
	"github.com/shulehub/shule-fees-hub/internal/domain/payment"
	"github.com/shulehub/shule-fees-hub/internal/domain/shared"
	"github.com/shulehub/shule-fees-hub/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// GATEWAY RECONCILIATION
// ══════════════════════════════════════════════════════════════════════════════

// CallbackOutcome says what the reconciliation handler did with a callback.
type CallbackOutcome string

const (
	// OutcomeApplied means the transaction resolved and, on success, the
	// allocation engine ran exactly once.
	OutcomeApplied CallbackOutcome = "applied"

	// OutcomeDuplicate means the transaction was already terminal. The
	// callback changed nothing - the idempotency guard held.
	OutcomeDuplicate CallbackOutcome = "duplicate"

	// OutcomeUnmatched means no transaction matches the correlation ID. The
	// callback is logged for manual follow-up and still acknowledged.
	OutcomeUnmatched CallbackOutcome = "unmatched"
)

// HandleCallbackHandler processes the gateway's asynchronous confirmation,
// idempotently, and triggers allocation exactly once per successful
// transaction. The same handler serves webhook deliveries and status-query
// results from the reconciliation job.
type HandleCallbackHandler struct {
	ledger    Ledger
	allocator *Allocator
	events    shared.EventPublisher
	logger    *logger.Logger
	now       func() time.Time
}

// NewHandleCallbackHandler creates a HandleCallbackHandler.
func NewHandleCallbackHandler(ledger Ledger, allocator *Allocator, events shared.EventPublisher, log *logger.Logger) *HandleCallbackHandler {
	if log == nil {
		log = logger.Default()
	}
	return &HandleCallbackHandler{
		ledger:    ledger,
		allocator: allocator,
		events:    events,
		logger:    log.With(logger.Component("reconciliation")),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Handle applies one confirmation result. Internal failures are returned for
// logging, but the HTTP layer acknowledges the gateway regardless - refusing
// the acknowledgment only causes pointless redelivery.
func (h *HandleCallbackHandler) Handle(ctx context.Context, result gateway.CallbackResult) (CallbackOutcome, error) {
	now := h.now()

	var (
		outcome   = OutcomeApplied
		resolved  *gateway.Transaction
		completed *payment.Payment
		failed    *payment.Payment
	)

	err := h.ledger.InTx(ctx, func(ctx context.Context, tx LedgerTx) error {
		gtx, err := tx.GetTransactionByCheckoutIDForUpdate(ctx, result.CheckoutRequestID)
		if errors.Is(err, shared.ErrNotFound) {
			outcome = OutcomeUnmatched
			return nil
		}
		if err != nil {
			return err
		}

		// Idempotency guard: a terminal transaction is never revisited.
		if gtx.Status.IsTerminal() {
			outcome = OutcomeDuplicate
			return nil
		}

		if err := gtx.Resolve(result, now); err != nil {
			if errors.Is(err, shared.ErrAlreadyProcessed) {
				outcome = OutcomeDuplicate
				return nil
			}
			return err
		}

		// The guarded write races against concurrent duplicates: only one
		// transaction can flip PENDING to terminal.
		won, err := tx.ResolveTransaction(ctx, gtx)
		if err != nil {
			return err
		}
		if !won {
			outcome = OutcomeDuplicate
			return nil
		}
		resolved = gtx

		p, err := tx.GetPaymentForUpdate(ctx, gtx.PaymentID)
		if err != nil {
			return err
		}

		if result.Succeeded() {
			seq, err := tx.NextReceiptSequence(ctx, now.Year())
			if err != nil {
				return err
			}
			p.ReceiptNumber = payment.FormatReceiptNumber(now.Year(), seq)

			if err := p.TransitionTo(payment.StatusCompleted, now); err != nil {
				return err
			}
			if _, err := h.allocator.Apply(ctx, tx, p, now); err != nil {
				return err
			}
			completed = p
		} else {
			if err := p.Fail(result.ResultDesc, now); err != nil {
				return err
			}
			failed = p
		}
		return tx.UpdatePaymentStatus(ctx, p)
	})
	if err != nil {
		return outcome, err
	}

	switch outcome {
	case OutcomeUnmatched:
		h.logger.Warn("gateway callback matches no transaction, flagged for manual follow-up",
			logger.CheckoutRequestID(result.CheckoutRequestID),
			logger.Int("result_code", result.ResultCode),
		)
		h.publish(ctx, shared.CallbackUnmatchedEvent{
			BaseEvent:         shared.NewBaseEvent(shared.EventCallbackUnmatched, result.CheckoutRequestID),
			CheckoutRequestID: result.CheckoutRequestID,
			ResultCode:        result.ResultCode,
		})
	case OutcomeDuplicate:
		h.logger.Info("duplicate gateway callback ignored",
			logger.CheckoutRequestID(result.CheckoutRequestID))
	case OutcomeApplied:
		h.logger.Info("gateway transaction resolved",
			logger.CheckoutRequestID(result.CheckoutRequestID),
			logger.String("status", string(resolved.Status)),
		)
		if completed != nil {
			h.publish(ctx, shared.PaymentCompletedEvent{
				BaseEvent:     shared.NewBaseEvent(shared.EventPaymentCompleted, completed.ID),
				StudentID:     completed.StudentID,
				Amount:        completed.Amount.String(),
				Mode:          string(completed.Mode),
				ReceiptNumber: completed.ReceiptNumber,
			})
		}
		if failed != nil {
			h.publish(ctx, shared.PaymentFailedEvent{
				BaseEvent: shared.NewBaseEvent(shared.EventPaymentFailed, failed.ID),
				StudentID: failed.StudentID,
				Amount:    failed.Amount.String(),
				Reason:    failed.FailureReason,
			})
		}
	}

	return outcome, nil
}

func (h *HandleCallbackHandler) publish(ctx context.Context, event shared.Event) {
	if h.events == nil {
		return
	}
	if err := h.events.Publish(ctx, event); err != nil {
		h.logger.Warn("failed to publish event",
			logger.String("event_type", string(event.EventType())), logger.Err(err))
	}
}
