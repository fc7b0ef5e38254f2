package events

import (
	"context"
	"errors"
	"testing"

	"go.uber.org/zap"
)

func TestMemoryBusDispatchesToSubscribers(t *testing.T) {
	bus := NewMemoryBus(zap.NewNop())

	var got []string
	bus.Subscribe(TypeHoldRequested, func(ctx context.Context, env Envelope) error {
		got = append(got, "first:"+env.AggregateID)
		return nil
	})
	bus.Subscribe(TypeHoldRequested, func(ctx context.Context, env Envelope) error {
		got = append(got, "second:"+env.AggregateID)
		return nil
	})
	bus.Subscribe(TypeHoldFailed, func(ctx context.Context, env Envelope) error {
		t.Fatal("hold.failed handler must not fire for hold.requested")
		return nil
	})

	env, err := NewEnvelope(TypeHoldRequested, "bk-1", "corr-1", "test",
		HoldRequestedPayload{BookingID: "bk-1", ScheduleID: "sch-1"})
	if err != nil {
		t.Fatalf("NewEnvelope: %v", err)
	}
	if err := bus.Publish(context.Background(), env); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	if len(got) != 2 || got[0] != "first:bk-1" || got[1] != "second:bk-1" {
		t.Fatalf("unexpected dispatch order: %v", got)
	}
}

func TestMemoryBusHandlerErrorDoesNotStopOthers(t *testing.T) {
	bus := NewMemoryBus(zap.NewNop())

	secondRan := false
	bus.Subscribe(TypePaymentFailed, func(ctx context.Context, env Envelope) error {
		return errors.New("boom")
	})
	bus.Subscribe(TypePaymentFailed, func(ctx context.Context, env Envelope) error {
		secondRan = true
		return nil
	})

	env, _ := NewEnvelope(TypePaymentFailed, "bk-1", "corr-1", "test",
		PaymentFailedPayload{BookingID: "bk-1", Reason: "declined"})
	if err := bus.Publish(context.Background(), env); err != nil {
		t.Fatalf("Publish must swallow handler errors, got %v", err)
	}
	if !secondRan {
		t.Fatal("second handler did not run after first handler error")
	}
}

func TestEnvelopeDecodeRoundTrip(t *testing.T) {
	env, err := NewEnvelope(TypeHoldSucceeded, "bk-9", "corr-9", "test",
		HoldSucceededPayload{BookingID: "bk-9", HoldID: "hold-1", ScheduleID: "sch-2"})
	if err != nil {
		t.Fatalf("NewEnvelope: %v", err)
	}
	if env.EventID == "" {
		t.Fatal("envelope must carry a unique event id")
	}
	if env.EventType != TypeHoldSucceeded || env.AggregateID != "bk-9" || env.CorrelationID != "corr-9" {
		t.Fatalf("envelope header mismatch: %+v", env)
	}

	var p HoldSucceededPayload
	if err := env.Decode(&p); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if p.HoldID != "hold-1" || p.ScheduleID != "sch-2" {
		t.Fatalf("payload mismatch: %+v", p)
	}
}
