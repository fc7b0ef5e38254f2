package scheduleRepo

import (
	"context"
	"errors"
	"time"

	"medibook/models"
)

var (
	// ErrNoCapacity means the atomic reserve found no free capacity. Not a
	// fault: it is a defined outcome of holdForBooking.
	ErrNoCapacity = errors.New("schedule has no remaining capacity")
	// ErrNotFound means the schedule or hold does not exist (or the schedule
	// is soft-deleted).
	ErrNotFound = errors.New("schedule entity not found")
)

// Repository owns the capacity ledger and its holds. ReserveCapacity and
// ReleaseCapacity are the only mutations of bookedCount and both must be
// atomic with respect to concurrent callers on the same schedule; this is the
// single place overselling could be introduced.
type Repository interface {
	GetSchedule(ctx context.Context, id string) (*models.PackageSchedule, error)
	ListSchedules(ctx context.Context, clinicID string) ([]models.PackageSchedule, error)

	// ReserveCapacity increments bookedCount iff the schedule is live and
	// bookedCount < capacity+overbookLimit. Returns ErrNoCapacity when the
	// guard fails; no mutation happens in that case.
	ReserveCapacity(ctx context.Context, scheduleID string) error

	// ReleaseCapacity decrements bookedCount, guarded against going below
	// zero. Callers only release capacity they previously reserved.
	ReleaseCapacity(ctx context.Context, scheduleID string) error

	CreateHold(ctx context.Context, hold *models.ScheduleHold) error
	GetHold(ctx context.Context, holdID string) (*models.ScheduleHold, error)

	// TransitionHold flips a hold from one status to another iff it is
	// currently in the from status. Returns false when the hold was not in
	// that status (already terminal, or missing); this compare-and-set makes
	// confirm/cancel/expire races safe.
	TransitionHold(ctx context.Context, holdID string, from, to models.HoldStatus, now time.Time) (bool, error)

	// ListExpiredHolds returns holds still HELD whose expireAt is before now.
	ListExpiredHolds(ctx context.Context, now time.Time, limit int) ([]models.ScheduleHold, error)

	// CountLiveHolds counts holds in {HELD, CONFIRMED} for a schedule; used
	// to reconcile the ledger against the hold set.
	CountLiveHolds(ctx context.Context, scheduleID string) (int, error)

	// SyncBookedCount overwrites bookedCount. Hold and ledger writes are
	// separate documents, so a crash between them can leave the count off by
	// one; the startup reconcile uses this to realign the ledger with the
	// live hold set before traffic resumes.
	SyncBookedCount(ctx context.Context, scheduleID string, count int) error
}
