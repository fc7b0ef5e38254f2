package schedule

import (
	"context"
	"time"

	"medibook/events"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

const sourceReaper = "hold-reaper"

// Reaper periodically expires overdue holds and returns their capacity.
// Each expiry is announced as a hold.expired event so the saga can react.
type Reaper struct {
	Engine Engine
	Bus    events.Bus
	Now    func() time.Time
	Logger *zap.Logger

	cron *cron.Cron
}

func NewReaper(engine Engine, bus events.Bus, logger *zap.Logger) *Reaper {
	return &Reaper{
		Engine: engine,
		Bus:    bus,
		Now:    time.Now,
		Logger: logger,
	}
}

// Start schedules the sweep on a cron spec (e.g. "@every 30s"), taken from
// configuration.
func (r *Reaper) Start(spec string) error {
	r.cron = cron.New()
	_, err := r.cron.AddFunc(spec, func() {
		if _, err := r.SweepOnce(context.Background()); err != nil {
			r.Logger.Error("hold sweep failed", zap.Error(err))
		}
	})
	if err != nil {
		return err
	}
	r.cron.Start()
	r.Logger.Info("hold reaper started", zap.String("schedule", spec))
	return nil
}

func (r *Reaper) Stop() {
	if r.cron != nil {
		r.cron.Stop()
	}
}

// SweepOnce expires every due hold and emits one hold.expired per winner.
// Concurrent confirms and cancels are safe: whichever transition lands first
// wins and the losers observe a terminal hold.
func (r *Reaper) SweepOnce(ctx context.Context) (int, error) {
	expired, err := r.Engine.ExpireDue(ctx, r.Now())
	if err != nil {
		return 0, err
	}
	for _, hold := range expired {
		env, err := events.NewEnvelope(events.TypeHoldExpired, hold.BookingID, hold.CorrelationID, sourceReaper,
			events.HoldExpiredPayload{BookingID: hold.BookingID, HoldID: hold.ID})
		if err != nil {
			r.Logger.Error("failed to build hold.expired event", zap.String("holdId", hold.ID), zap.Error(err))
			continue
		}
		if err := r.Bus.Publish(ctx, env); err != nil {
			r.Logger.Error("failed to publish hold.expired", zap.String("holdId", hold.ID), zap.Error(err))
		}
	}
	if len(expired) > 0 {
		r.Logger.Info("expired holds reaped", zap.Int("count", len(expired)))
	}
	return len(expired), nil
}
