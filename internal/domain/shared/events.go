// Package shared contains common domain types, errors, and events used across
// all domain packages.
package shared

import (
	"context"
	"time"
)

// EventType represents the type of domain event.
type EventType string

// Domain event types. Each event represents something significant that
// happened in the ledger and is consumed off the correctness path
// (notifications, receipt rendering, report refresh).
const (
	// Payment events
	EventPaymentCreated   EventType = "payment.created"
	EventPaymentCompleted EventType = "payment.completed"
	EventPaymentFailed    EventType = "payment.failed"

	// Allocation events
	EventPaymentAllocated EventType = "ledger.payment_allocated"
	EventCreditRecorded   EventType = "ledger.credit_recorded"

	// Obligation events
	EventObligationAssigned EventType = "ledger.obligation_assigned"
	EventObligationSettled  EventType = "ledger.obligation_settled"

	// Gateway events
	EventGatewayInitiated  EventType = "gateway.initiated"
	EventGatewayResolved   EventType = "gateway.resolved"
	EventCallbackUnmatched EventType = "gateway.callback_unmatched"
)

// Event is the base interface for all domain events.
type Event interface {
	// EventType returns the type of the event.
	EventType() EventType

	// OccurredAt returns when the event occurred.
	OccurredAt() time.Time

	// AggregateID returns the ID of the aggregate that produced this event.
	AggregateID() string

	// Payload returns the event data as a map for serialization.
	Payload() map[string]interface{}
}

// BaseEvent provides common event functionality.
type BaseEvent struct {
	Type          EventType `json:"type"`
	Timestamp     time.Time `json:"timestamp"`
	AggregateId   string    `json:"aggregate_id"`
	Version       int       `json:"version"`
	CorrelationID string    `json:"correlation_id,omitempty"`
}

// EventType implements Event interface.
func (e BaseEvent) EventType() EventType {
	return e.Type
}

// OccurredAt implements Event interface.
func (e BaseEvent) OccurredAt() time.Time {
	return e.Timestamp
}

// AggregateID implements Event interface.
func (e BaseEvent) AggregateID() string {
	return e.AggregateId
}

// NewBaseEvent creates a new base event.
func NewBaseEvent(eventType EventType, aggregateID string) BaseEvent {
	return BaseEvent{
		Type:        eventType,
		Timestamp:   time.Now(),
		AggregateId: aggregateID,
		Version:     1,
	}
}

// WithCorrelationID sets the correlation ID for tracing.
func (e BaseEvent) WithCorrelationID(id string) BaseEvent {
	e.CorrelationID = id
	return e
}

// PaymentCompletedEvent is emitted after a payment reaches COMPLETED and its
// allocations have been committed.
type PaymentCompletedEvent struct {
	BaseEvent
	StudentID     string `json:"student_id"`
	Amount        string `json:"amount"`
	Mode          string `json:"mode"`
	ReceiptNumber string `json:"receipt_number"`
}

// Payload implements Event interface.
func (e PaymentCompletedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"student_id":     e.StudentID,
		"amount":         e.Amount,
		"mode":           e.Mode,
		"receipt_number": e.ReceiptNumber,
	}
}

// PaymentFailedEvent is emitted when a payment reaches FAILED.
type PaymentFailedEvent struct {
	BaseEvent
	StudentID string `json:"student_id"`
	Amount    string `json:"amount"`
	Reason    string `json:"reason"`
}

// Payload implements Event interface.
func (e PaymentFailedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"student_id": e.StudentID,
		"amount":     e.Amount,
		"reason":     e.Reason,
	}
}

// ObligationSettledEvent is emitted when an obligation becomes fully paid.
type ObligationSettledEvent struct {
	BaseEvent
	StudentID    string `json:"student_id"`
	ObligationID string `json:"obligation_id"`
	Title        string `json:"title"`
}

// Payload implements Event interface.
func (e ObligationSettledEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"student_id":    e.StudentID,
		"obligation_id": e.ObligationID,
		"title":         e.Title,
	}
}

// CallbackUnmatchedEvent is emitted when a gateway callback references an
// unknown transaction. Flagged for manual follow-up; the webhook still acks.
type CallbackUnmatchedEvent struct {
	BaseEvent
	CheckoutRequestID string `json:"checkout_request_id"`
	ResultCode        int    `json:"result_code"`
}

// Payload implements Event interface.
func (e CallbackUnmatchedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"checkout_request_id": e.CheckoutRequestID,
		"result_code":         e.ResultCode,
	}
}

// EventHandler processes a published event.
type EventHandler func(ctx context.Context, event Event) error

// EventPublisher publishes domain events to interested subscribers.
// Publishing is fire-and-forget: failures must never affect ledger state.
type EventPublisher interface {
	Publish(ctx context.Context, event Event) error
}
