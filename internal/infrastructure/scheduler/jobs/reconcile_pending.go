// Package jobs contains the scheduled jobs wired into the worker process.
package jobs

import (
	"context"
	"time"

	"github.com/shulehub/shule-fees-hub/internal/application/command"
	"github.com/shulehub/shule-fees-hub/internal/domain/gateway"
	"github.com/shulehub/shule-fees-hub/internal/domain/payment"
	"github.com/shulehub/shule-fees-hub/pkg/logger"
)

// PendingResolver resolves one stuck transaction by its checkout request ID.
// Satisfied by command.ResolvePendingHandler.
type PendingResolver interface {
	Handle(ctx context.Context, checkoutRequestID string) (command.CallbackOutcome, error)
}

// AbandonedFailer fails a stuck payment that has no checkout request ID and
// therefore cannot be queried. Satisfied by command.FailAbandonedHandler.
type AbandonedFailer interface {
	Handle(ctx context.Context, paymentID, reason string) error
}

// ReconcilePending sweeps mobile-money payments that are still PENDING past
// the callback SLA window and resolves each one with a status query against
// the processor. A payment left PENDING forever would strand the parent's
// money; this job is the safety net behind the webhook.
type ReconcilePending struct {
	payments  payment.Repository
	gateways  gateway.Repository
	resolver  PendingResolver
	failer    AbandonedFailer
	slaWindow time.Duration
	logger    *logger.Logger
	now       func() time.Time
}

// NewReconcilePending creates the job. slaWindow is how long a payment may
// stay PENDING before it is considered stuck.
func NewReconcilePending(
	payments payment.Repository,
	gateways gateway.Repository,
	resolver PendingResolver,
	failer AbandonedFailer,
	slaWindow time.Duration,
	log *logger.Logger,
) *ReconcilePending {
	if slaWindow <= 0 {
		slaWindow = 2 * time.Minute
	}
	if log == nil {
		log = logger.Default()
	}
	return &ReconcilePending{
		payments:  payments,
		gateways:  gateways,
		resolver:  resolver,
		failer:    failer,
		slaWindow: slaWindow,
		logger:    log.With(logger.Component("reconcile_pending")),
		now:       time.Now,
	}
}

// Name implements scheduler.Job.
func (j *ReconcilePending) Name() string {
	return "reconcile_pending_payments"
}

// Description implements scheduler.Job.
func (j *ReconcilePending) Description() string {
	return "queries the gateway for payments stuck in PENDING past the callback SLA"
}

// Run implements scheduler.Job. One unresolvable payment does not stop the
// sweep; it is logged and retried on the next tick.
func (j *ReconcilePending) Run(ctx context.Context) error {
	cutoff := j.now().Add(-j.slaWindow)

	stuck, err := j.payments.ListPendingOlderThan(ctx, cutoff)
	if err != nil {
		return err
	}
	if len(stuck) == 0 {
		return nil
	}

	j.logger.Info("reconciling stuck payments", logger.Int("count", len(stuck)))

	for _, p := range stuck {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		tx, err := j.gateways.GetByPaymentID(ctx, p.ID)
		if err != nil {
			j.logger.Warn("stuck payment has no gateway transaction",
				logger.PaymentID(p.ID), logger.Err(err))
			continue
		}
		if tx.CheckoutRequestID == "" {
			// The processor never accepted the push; there is nothing to
			// query, so past the SLA the payment is failed outright.
			if err := j.failer.Handle(ctx, p.ID, "no gateway acceptance recorded"); err != nil {
				j.logger.Warn("failed to close abandoned payment",
					logger.PaymentID(p.ID), logger.Err(err))
				continue
			}
			j.logger.Info("abandoned payment closed", logger.PaymentID(p.ID))
			continue
		}

		outcome, err := j.resolver.Handle(ctx, tx.CheckoutRequestID)
		if err != nil {
			j.logger.Warn("reconciliation query failed",
				logger.PaymentID(p.ID),
				logger.CheckoutRequestID(tx.CheckoutRequestID),
				logger.Err(err),
			)
			continue
		}

		j.logger.Info("stuck payment resolved",
			logger.PaymentID(p.ID),
			logger.CheckoutRequestID(tx.CheckoutRequestID),
			logger.String("outcome", string(outcome)),
		)
	}
	return nil
}
