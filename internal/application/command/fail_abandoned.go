package command

import (
	"context"
	"time"

	"github.com/shulehub/shule-fees-hub/internal/domain/payment"
	"github.com/shulehub/shule-fees-hub/internal/domain/shared"
	"github.com/shulehub/shule-fees-hub/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// FAIL ABANDONED PAYMENT
// A mobile-money payment whose transaction was never accepted by the processor
// has no checkout request ID, so there is nothing to query: the push either
// never went out or the acceptance was lost before it could be persisted. Such
// a payment cannot complete and is failed through the normal guarded path.
// ══════════════════════════════════════════════════════════════════════════════

// FailAbandonedHandler fails a PENDING payment that has no gateway correlation
// ID. Payments with a checkout request ID must be resolved through the status
// query instead; this handler refuses them.
type FailAbandonedHandler struct {
	ledger Ledger
	events shared.EventPublisher
	logger *logger.Logger
	now    func() time.Time
}

// NewFailAbandonedHandler creates a FailAbandonedHandler.
func NewFailAbandonedHandler(ledger Ledger, events shared.EventPublisher, log *logger.Logger) *FailAbandonedHandler {
	if log == nil {
		log = logger.Default()
	}
	return &FailAbandonedHandler{
		ledger: ledger,
		events: events,
		logger: log.With(logger.Component("fail_abandoned")),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Handle fails the payment and its transaction. Already-terminal payments are
// left alone, so the call is safe to repeat.
func (h *FailAbandonedHandler) Handle(ctx context.Context, paymentID, reason string) error {
	now := h.now()
	var failed *payment.Payment

	err := h.ledger.InTx(ctx, func(ctx context.Context, tx LedgerTx) error {
		locked, err := tx.GetPaymentForUpdate(ctx, paymentID)
		if err != nil {
			return err
		}
		if locked.Status.IsTerminal() {
			return nil
		}

		gtx, err := tx.GetTransactionByPaymentIDForUpdate(ctx, paymentID)
		if err != nil {
			return err
		}
		if gtx.CheckoutRequestID != "" {
			return shared.NewDomainError("payment", "FailAbandoned", shared.ErrInvalidState,
				"transaction has a checkout request ID, resolve it through a status query")
		}

		if err := locked.Fail(reason, now); err != nil {
			return err
		}
		if err := tx.UpdatePaymentStatus(ctx, locked); err != nil {
			return err
		}
		if !gtx.Status.IsTerminal() {
			if err := gtx.MarkFailed(reason, now); err != nil {
				return err
			}
			if err := tx.UpdateTransaction(ctx, gtx); err != nil {
				return err
			}
		}
		failed = locked
		return nil
	})
	if err != nil {
		return err
	}
	if failed == nil {
		return nil
	}

	h.logger.Info("abandoned payment failed",
		logger.PaymentID(failed.ID),
		logger.StudentID(failed.StudentID),
		logger.String("reason", reason),
	)

	if h.events != nil {
		event := shared.PaymentFailedEvent{
			BaseEvent: shared.NewBaseEvent(shared.EventPaymentFailed, failed.ID),
			StudentID: failed.StudentID,
			Amount:    failed.Amount.String(),
			Reason:    reason,
		}
		_ = h.events.Publish(ctx, event)
	}
	return nil
}
