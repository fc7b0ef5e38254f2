package schedule

import (
	"context"
	"errors"
	"fmt"
	"time"

	scheduleRepo "medibook/database/repository/schedule"
	"medibook/models"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	// ErrNoCapacity is the defined "no capacity" outcome of HoldForBooking.
	ErrNoCapacity = errors.New("schedule has no free capacity")
	// ErrNotFound covers a missing schedule or hold.
	ErrNotFound = errors.New("schedule or hold not found")
	// ErrHoldTerminal means the hold already reached CONFIRMED, CANCELLED or
	// EXPIRED and the requested transition lost the race.
	ErrHoldTerminal = errors.New("hold already in a terminal state")
	// ErrWrongBooking means the hold belongs to a different booking.
	ErrWrongBooking = errors.New("hold owned by a different booking")
)

// Engine owns the capacity ledger: it grants, confirms, releases and expires
// time-bounded holds without ever letting bookedCount exceed
// capacity+overbookLimit or drift from the set of live holds.
type Engine interface {
	HoldForBooking(ctx context.Context, scheduleID, bookingID, correlationID string) (*models.ScheduleHold, error)
	ConfirmHold(ctx context.Context, holdID, bookingID string) error
	CancelHold(ctx context.Context, holdID, bookingID string) error
	IsAvailable(ctx context.Context, scheduleID string) (bool, error)
	ExpireHold(ctx context.Context, holdID string) (*models.ScheduleHold, error)
	ExpireDue(ctx context.Context, now time.Time) ([]models.ScheduleHold, error)
	ReconcileLedgers(ctx context.Context) (int, error)
}

// DefaultEngine implements Engine on a schedule repository. The repository's
// ReserveCapacity/ReleaseCapacity carry the atomicity; the engine sequences
// them with hold bookkeeping.
type DefaultEngine struct {
	Repo   scheduleRepo.Repository
	TTL    time.Duration
	Now    func() time.Time
	Logger *zap.Logger
}

func NewEngine(repo scheduleRepo.Repository, ttl time.Duration, logger *zap.Logger) *DefaultEngine {
	return &DefaultEngine{
		Repo:   repo,
		TTL:    ttl,
		Now:    time.Now,
		Logger: logger,
	}
}

// HoldForBooking atomically reserves one unit of capacity and records a HELD
// hold with expireAt = now + TTL. When the reserve guard fails it returns
// ErrNoCapacity and nothing is mutated.
func (e *DefaultEngine) HoldForBooking(ctx context.Context, scheduleID, bookingID, correlationID string) (*models.ScheduleHold, error) {
	if err := e.Repo.ReserveCapacity(ctx, scheduleID); err != nil {
		switch {
		case errors.Is(err, scheduleRepo.ErrNoCapacity):
			return nil, ErrNoCapacity
		case errors.Is(err, scheduleRepo.ErrNotFound):
			return nil, ErrNotFound
		default:
			return nil, fmt.Errorf("reserve capacity: %w", err)
		}
	}

	now := e.Now()
	hold := &models.ScheduleHold{
		ID:            uuid.New().String(),
		ScheduleID:    scheduleID,
		BookingID:     bookingID,
		CorrelationID: correlationID,
		Status:        models.HoldHeld,
		ExpireAt:      now.Add(e.TTL),
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := e.Repo.CreateHold(ctx, hold); err != nil {
		// The unit was already counted; give it back before failing.
		if rerr := e.Repo.ReleaseCapacity(ctx, scheduleID); rerr != nil {
			e.Logger.Error("failed to release capacity after hold insert failure",
				zap.String("scheduleId", scheduleID), zap.Error(rerr))
		}
		return nil, fmt.Errorf("create hold: %w", err)
	}

	e.Logger.Info("hold granted",
		zap.String("holdId", hold.ID),
		zap.String("bookingId", bookingID),
		zap.String("scheduleId", scheduleID),
		zap.Time("expireAt", hold.ExpireAt))
	return hold, nil
}

// ConfirmHold flips a HELD hold owned by bookingID to CONFIRMED. The unit was
// counted at hold time, so bookedCount does not change.
func (e *DefaultEngine) ConfirmHold(ctx context.Context, holdID, bookingID string) error {
	hold, err := e.getOwnedHold(ctx, holdID, bookingID)
	if err != nil {
		return err
	}
	if hold.Status.Terminal() {
		return ErrHoldTerminal
	}
	ok, err := e.Repo.TransitionHold(ctx, holdID, models.HoldHeld, models.HoldConfirmed, e.Now())
	if err != nil {
		return err
	}
	if !ok {
		// Lost the race with cancel or expiry.
		return ErrHoldTerminal
	}
	return nil
}

// CancelHold releases a HELD hold and returns its capacity unit. Cancelling a
// hold that already ended up CANCELLED or EXPIRED is a no-op; a CONFIRMED
// hold cannot be cancelled here.
func (e *DefaultEngine) CancelHold(ctx context.Context, holdID, bookingID string) error {
	hold, err := e.getOwnedHold(ctx, holdID, bookingID)
	if err != nil {
		return err
	}
	switch hold.Status {
	case models.HoldCancelled, models.HoldExpired:
		return nil
	case models.HoldConfirmed:
		return ErrHoldTerminal
	}
	ok, err := e.Repo.TransitionHold(ctx, holdID, models.HoldHeld, models.HoldCancelled, e.Now())
	if err != nil {
		return err
	}
	if !ok {
		// Someone else finished the hold first; re-read to stay idempotent.
		cur, gerr := e.Repo.GetHold(ctx, holdID)
		if gerr == nil && (cur.Status == models.HoldCancelled || cur.Status == models.HoldExpired) {
			return nil
		}
		return ErrHoldTerminal
	}
	return e.Repo.ReleaseCapacity(ctx, hold.ScheduleID)
}

// IsAvailable is an advisory read of the ledger, never a reservation.
func (e *DefaultEngine) IsAvailable(ctx context.Context, scheduleID string) (bool, error) {
	sched, err := e.Repo.GetSchedule(ctx, scheduleID)
	if err != nil {
		if errors.Is(err, scheduleRepo.ErrNotFound) {
			return false, ErrNotFound
		}
		return false, err
	}
	return sched.HasCapacity(), nil
}

// ExpireHold expires a single due hold. It returns the hold when this call
// won the transition, nil when the hold was already terminal or not yet due.
func (e *DefaultEngine) ExpireHold(ctx context.Context, holdID string) (*models.ScheduleHold, error) {
	hold, err := e.Repo.GetHold(ctx, holdID)
	if err != nil {
		if errors.Is(err, scheduleRepo.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if hold.Status != models.HoldHeld || hold.ExpireAt.After(e.Now()) {
		return nil, nil
	}
	ok, err := e.Repo.TransitionHold(ctx, holdID, models.HoldHeld, models.HoldExpired, e.Now())
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	if err := e.Repo.ReleaseCapacity(ctx, hold.ScheduleID); err != nil {
		return nil, err
	}
	hold.Status = models.HoldExpired
	return hold, nil
}

// ExpireDue sweeps every HELD hold whose TTL has elapsed. Safe to run
// concurrently with confirm/cancel: the compare-and-set transition decides
// the winner and losers no-op.
func (e *DefaultEngine) ExpireDue(ctx context.Context, now time.Time) ([]models.ScheduleHold, error) {
	due, err := e.Repo.ListExpiredHolds(ctx, now, 0)
	if err != nil {
		return nil, err
	}
	var expired []models.ScheduleHold
	for _, hold := range due {
		ok, err := e.Repo.TransitionHold(ctx, hold.ID, models.HoldHeld, models.HoldExpired, now)
		if err != nil {
			e.Logger.Error("failed to expire hold", zap.String("holdId", hold.ID), zap.Error(err))
			continue
		}
		if !ok {
			continue
		}
		if err := e.Repo.ReleaseCapacity(ctx, hold.ScheduleID); err != nil {
			e.Logger.Error("failed to release capacity for expired hold",
				zap.String("holdId", hold.ID), zap.String("scheduleId", hold.ScheduleID), zap.Error(err))
			continue
		}
		hold.Status = models.HoldExpired
		expired = append(expired, hold)
	}
	return expired, nil
}

// ReconcileLedgers realigns every schedule's bookedCount with its live hold
// set and returns how many ledgers it repaired. A hold write and its ledger
// write are separate documents, so a crash between them leaves the count off
// by one; this runs at startup before any traffic touches the ledger.
func (e *DefaultEngine) ReconcileLedgers(ctx context.Context) (int, error) {
	scheds, err := e.Repo.ListSchedules(ctx, "")
	if err != nil {
		return 0, fmt.Errorf("list schedules for reconcile: %w", err)
	}
	repaired := 0
	for _, sched := range scheds {
		live, err := e.Repo.CountLiveHolds(ctx, sched.ID)
		if err != nil {
			return repaired, fmt.Errorf("count live holds for %s: %w", sched.ID, err)
		}
		if live == sched.BookedCount {
			continue
		}
		if err := e.Repo.SyncBookedCount(ctx, sched.ID, live); err != nil {
			return repaired, err
		}
		e.Logger.Warn("repaired drifted capacity ledger",
			zap.String("scheduleId", sched.ID),
			zap.Int("bookedCount", sched.BookedCount),
			zap.Int("liveHolds", live))
		repaired++
	}
	return repaired, nil
}

func (e *DefaultEngine) getOwnedHold(ctx context.Context, holdID, bookingID string) (*models.ScheduleHold, error) {
	hold, err := e.Repo.GetHold(ctx, holdID)
	if err != nil {
		if errors.Is(err, scheduleRepo.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if hold.BookingID != bookingID {
		return nil, ErrWrongBooking
	}
	return hold, nil
}
