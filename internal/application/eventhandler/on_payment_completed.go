// Package eventhandler contains subscribers that react to domain events off
// the ledger correctness path: payment confirmations, cache invalidation,
// unmatched-callback alerts.
package eventhandler

import (
	"context"
	"fmt"

	"github.com/shulehub/shule-fees-hub/internal/application/query"
	"github.com/shulehub/shule-fees-hub/internal/domain/shared"
	"github.com/shulehub/shule-fees-hub/pkg/logger"
)

// Notifier delivers a confirmation message to the payer. Delivery is
// fire-and-forget: failures are logged, never propagated to the ledger.
type Notifier interface {
	Send(ctx context.Context, studentID, message string) error
}

// OnPaymentCompleted sends the payment confirmation and drops the student's
// cached balance snapshot so the next dashboard read is fresh.
type OnPaymentCompleted struct {
	notifier Notifier
	cache    query.BalanceCache
	logger   *logger.Logger
}

// NewOnPaymentCompleted creates the subscriber. Both collaborators are
// optional.
func NewOnPaymentCompleted(notifier Notifier, cache query.BalanceCache, log *logger.Logger) *OnPaymentCompleted {
	if log == nil {
		log = logger.Default()
	}
	return &OnPaymentCompleted{
		notifier: notifier,
		cache:    cache,
		logger:   log.With(logger.Component("on_payment_completed")),
	}
}

// Handle processes a PaymentCompletedEvent.
func (h *OnPaymentCompleted) Handle(ctx context.Context, event shared.Event) error {
	e, ok := event.(shared.PaymentCompletedEvent)
	if !ok {
		return nil
	}

	if h.cache != nil {
		if err := h.cache.InvalidateBalance(ctx, e.StudentID); err != nil {
			h.logger.Warn("failed to invalidate balance cache",
				logger.StudentID(e.StudentID), logger.Err(err))
		}
	}

	if h.notifier != nil {
		msg := fmt.Sprintf("Payment of %s received. Receipt %s.", e.Amount, e.ReceiptNumber)
		if err := h.notifier.Send(ctx, e.StudentID, msg); err != nil {
			h.logger.Warn("payment confirmation not delivered",
				logger.StudentID(e.StudentID), logger.Err(err))
		}
	}
	return nil
}
