package messaging

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shulehub/shule-fees-hub/internal/domain/shared"
)

func syncBus() *InMemoryEventBus {
	cfg := DefaultInMemoryEventBusConfig()
	cfg.AsyncMode = false
	return NewInMemoryEventBus(cfg)
}

func TestInMemoryEventBus_PublishDelivers(t *testing.T) {
	bus := syncBus()
	defer bus.Close()

	var got shared.Event
	err := bus.Subscribe(shared.EventPaymentCompleted, func(ctx context.Context, e shared.Event) error {
		got = e
		return nil
	})
	require.NoError(t, err)

	event := shared.PaymentCompletedEvent{
		BaseEvent:     shared.NewBaseEvent(shared.EventPaymentCompleted, "pay-1"),
		StudentID:     "stu-1",
		Amount:        "15000",
		ReceiptNumber: "RCP-2026-000042",
	}
	require.NoError(t, bus.Publish(context.Background(), event))

	require.NotNil(t, got)
	assert.Equal(t, shared.EventPaymentCompleted, got.EventType())
	assert.Equal(t, "pay-1", got.AggregateID())
}

func TestInMemoryEventBus_TypeFiltering(t *testing.T) {
	bus := syncBus()
	defer bus.Close()

	var completed, failed int
	bus.Subscribe(shared.EventPaymentCompleted, func(ctx context.Context, e shared.Event) error {
		completed++
		return nil
	})
	bus.Subscribe(shared.EventPaymentFailed, func(ctx context.Context, e shared.Event) error {
		failed++
		return nil
	})

	event := shared.PaymentFailedEvent{
		BaseEvent: shared.NewBaseEvent(shared.EventPaymentFailed, "pay-2"),
	}
	require.NoError(t, bus.Publish(context.Background(), event))

	assert.Equal(t, 0, completed)
	assert.Equal(t, 1, failed)
}

func TestInMemoryEventBus_SubscribeAll(t *testing.T) {
	bus := syncBus()
	defer bus.Close()

	var seen []shared.EventType
	bus.SubscribeAll(func(ctx context.Context, e shared.Event) error {
		seen = append(seen, e.EventType())
		return nil
	})

	bus.Publish(context.Background(), shared.PaymentCompletedEvent{
		BaseEvent: shared.NewBaseEvent(shared.EventPaymentCompleted, "pay-1"),
	})
	bus.Publish(context.Background(), shared.CallbackUnmatchedEvent{
		BaseEvent: shared.NewBaseEvent(shared.EventCallbackUnmatched, "ws_CO_1"),
	})

	assert.Equal(t, []shared.EventType{shared.EventPaymentCompleted, shared.EventCallbackUnmatched}, seen)
}

func TestInMemoryEventBus_HandlerErrorSwallowed(t *testing.T) {
	bus := syncBus()
	defer bus.Close()

	bus.Subscribe(shared.EventPaymentCompleted, func(ctx context.Context, e shared.Event) error {
		return errors.New("notification service down")
	})

	err := bus.Publish(context.Background(), shared.PaymentCompletedEvent{
		BaseEvent: shared.NewBaseEvent(shared.EventPaymentCompleted, "pay-1"),
	})
	assert.NoError(t, err)
}

func TestInMemoryEventBus_AsyncDrainsOnClose(t *testing.T) {
	cfg := DefaultInMemoryEventBusConfig()
	cfg.WorkerPoolSize = 2
	bus := NewInMemoryEventBus(cfg)

	var count atomic.Int64
	done := make(chan struct{}, 5)
	bus.Subscribe(shared.EventPaymentCompleted, func(ctx context.Context, e shared.Event) error {
		count.Add(1)
		done <- struct{}{}
		return nil
	})

	for i := 0; i < 5; i++ {
		require.NoError(t, bus.Publish(context.Background(), shared.PaymentCompletedEvent{
			BaseEvent: shared.NewBaseEvent(shared.EventPaymentCompleted, "pay-1"),
		}))
	}

	for i := 0; i < 5; i++ {
		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatal("handler did not run")
		}
	}

	require.NoError(t, bus.Close())
	assert.Equal(t, int64(5), count.Load())
}

func TestInMemoryEventBus_ClosedRejectsPublish(t *testing.T) {
	bus := syncBus()
	require.NoError(t, bus.Close())

	err := bus.Publish(context.Background(), shared.PaymentCompletedEvent{
		BaseEvent: shared.NewBaseEvent(shared.EventPaymentCompleted, "pay-1"),
	})
	assert.ErrorIs(t, err, ErrEventBusClosed)

	err = bus.Subscribe(shared.EventPaymentCompleted, func(ctx context.Context, e shared.Event) error { return nil })
	assert.ErrorIs(t, err, ErrEventBusClosed)
}
