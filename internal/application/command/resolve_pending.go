package command

import (
	"context"

	"github.com/shulehub/shule-fees-hub/internal/domain/gateway"
	"github.com/shulehub/shule-fees-hub/pkg/logger"
)

// ResolvePendingHandler resolves a transaction that never received its
// callback by querying the processor directly, then feeding the result
// through the exact same guarded reconciliation path the webhook uses.
// Serves the administrative gateway-query endpoint and the background
// reconciliation job.
type ResolvePendingHandler struct {
	processor gateway.Processor
	callbacks *HandleCallbackHandler
	logger    *logger.Logger
}

// NewResolvePendingHandler creates a ResolvePendingHandler.
func NewResolvePendingHandler(processor gateway.Processor, callbacks *HandleCallbackHandler, log *logger.Logger) *ResolvePendingHandler {
	if log == nil {
		log = logger.Default()
	}
	return &ResolvePendingHandler{
		processor: processor,
		callbacks: callbacks,
		logger:    log.With(logger.Component("resolve_pending")),
	}
}

// Handle queries the processor and applies the result.
func (h *ResolvePendingHandler) Handle(ctx context.Context, checkoutRequestID string) (CallbackOutcome, error) {
	result, err := h.processor.Query(ctx, checkoutRequestID)
	if err != nil {
		return "", err
	}
	return h.callbacks.Handle(ctx, *result)
}
