package schedule

import (
	"context"
	"errors"

	"medibook/events"
	tasks "medibook/services/tasks"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"
)

const sourceEngine = "schedule-engine"

// Listener answers hold.requested events from the saga. On success it also
// schedules a one-shot expiry task at the hold's deadline, so expiry usually
// fires on time; the periodic reaper sweep remains the safety net.
type Listener struct {
	Engine Engine
	Bus    events.Bus
	Tasks  *asynq.Client // optional; nil disables scheduled expiry
	Logger *zap.Logger
}

// Register subscribes the listener on the bus.
func (l *Listener) Register() {
	l.Bus.Subscribe(events.TypeHoldRequested, l.handleHoldRequested)
}

func (l *Listener) handleHoldRequested(ctx context.Context, env events.Envelope) error {
	var req events.HoldRequestedPayload
	if err := env.Decode(&req); err != nil {
		l.Logger.Warn("dropping malformed hold request", zap.String("eventId", env.EventID), zap.Error(err))
		return nil
	}

	hold, err := l.Engine.HoldForBooking(ctx, req.ScheduleID, req.BookingID, env.CorrelationID)
	if err != nil {
		if errors.Is(err, ErrNoCapacity) || errors.Is(err, ErrNotFound) {
			return l.publishFailed(ctx, env, req.BookingID, err.Error())
		}
		return err
	}

	out, err := events.NewEnvelope(events.TypeHoldSucceeded, req.BookingID, env.CorrelationID, sourceEngine,
		events.HoldSucceededPayload{
			BookingID:    req.BookingID,
			HoldID:       hold.ID,
			HoldExpireAt: hold.ExpireAt,
			ScheduleID:   req.ScheduleID,
		})
	if err != nil {
		return err
	}
	if err := l.Bus.Publish(ctx, out); err != nil {
		return err
	}

	if l.Tasks != nil {
		task, opts, err := tasks.NewHoldExpiryTask(hold.ID, hold.ExpireAt)
		if err == nil {
			_, err = l.Tasks.Enqueue(task, opts...)
		}
		if err != nil {
			l.Logger.Warn("could not schedule hold expiry task; sweep will catch it",
				zap.String("holdId", hold.ID), zap.Error(err))
		}
	}
	return nil
}

func (l *Listener) publishFailed(ctx context.Context, env events.Envelope, bookingID, reason string) error {
	out, err := events.NewEnvelope(events.TypeHoldFailed, bookingID, env.CorrelationID, sourceEngine,
		events.HoldFailedPayload{BookingID: bookingID, Reason: reason})
	if err != nil {
		return err
	}
	return l.Bus.Publish(ctx, out)
}
