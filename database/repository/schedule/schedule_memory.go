package scheduleRepo

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"medibook/models"
)

// MemoryScheduleRepo is an in-memory Repository with the same guard semantics
// as the Mongo implementation. A single mutex serializes ledger mutations, so
// the reserve check-and-increment is atomic here too.
type MemoryScheduleRepo struct {
	mu        sync.Mutex
	schedules map[string]*models.PackageSchedule
	holds     map[string]*models.ScheduleHold
}

func NewMemoryScheduleRepo() *MemoryScheduleRepo {
	return &MemoryScheduleRepo{
		schedules: make(map[string]*models.PackageSchedule),
		holds:     make(map[string]*models.ScheduleHold),
	}
}

// SeedSchedule registers a schedule in the ledger.
func (r *MemoryScheduleRepo) SeedSchedule(sched *models.PackageSchedule) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *sched
	r.schedules[sched.ID] = &cp
}

func (r *MemoryScheduleRepo) GetSchedule(ctx context.Context, id string) (*models.PackageSchedule, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sched, ok := r.schedules[id]
	if !ok || sched.Deleted {
		return nil, ErrNotFound
	}
	cp := *sched
	return &cp, nil
}

func (r *MemoryScheduleRepo) ListSchedules(ctx context.Context, clinicID string) ([]models.PackageSchedule, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.PackageSchedule
	for _, s := range r.schedules {
		if s.Deleted {
			continue
		}
		if clinicID != "" && s.ClinicID != clinicID {
			continue
		}
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *MemoryScheduleRepo) ReserveCapacity(ctx context.Context, scheduleID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	sched, ok := r.schedules[scheduleID]
	if !ok || sched.Deleted {
		return ErrNotFound
	}
	if sched.BookedCount >= sched.Limit() {
		return ErrNoCapacity
	}
	sched.BookedCount++
	sched.Version++
	sched.UpdatedAt = time.Now()
	return nil
}

func (r *MemoryScheduleRepo) ReleaseCapacity(ctx context.Context, scheduleID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	sched, ok := r.schedules[scheduleID]
	if !ok {
		return ErrNotFound
	}
	if sched.BookedCount <= 0 {
		return fmt.Errorf("release capacity on %s: ledger already at zero", scheduleID)
	}
	sched.BookedCount--
	sched.Version++
	sched.UpdatedAt = time.Now()
	return nil
}

func (r *MemoryScheduleRepo) CreateHold(ctx context.Context, hold *models.ScheduleHold) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.holds[hold.ID]; exists {
		return fmt.Errorf("hold %s already exists", hold.ID)
	}
	cp := *hold
	r.holds[hold.ID] = &cp
	return nil
}

func (r *MemoryScheduleRepo) GetHold(ctx context.Context, holdID string) (*models.ScheduleHold, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	hold, ok := r.holds[holdID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *hold
	return &cp, nil
}

func (r *MemoryScheduleRepo) TransitionHold(ctx context.Context, holdID string, from, to models.HoldStatus, now time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	hold, ok := r.holds[holdID]
	if !ok || hold.Status != from {
		return false, nil
	}
	hold.Status = to
	hold.UpdatedAt = now
	return true, nil
}

func (r *MemoryScheduleRepo) ListExpiredHolds(ctx context.Context, now time.Time, limit int) ([]models.ScheduleHold, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.ScheduleHold
	for _, h := range r.holds {
		if h.Status == models.HoldHeld && h.ExpireAt.Before(now) {
			out = append(out, *h)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ExpireAt.Before(out[j].ExpireAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *MemoryScheduleRepo) SyncBookedCount(ctx context.Context, scheduleID string, count int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	sched, ok := r.schedules[scheduleID]
	if !ok {
		return ErrNotFound
	}
	sched.BookedCount = count
	sched.Version++
	sched.UpdatedAt = time.Now()
	return nil
}

func (r *MemoryScheduleRepo) CountLiveHolds(ctx context.Context, scheduleID string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, h := range r.holds {
		if h.ScheduleID == scheduleID && (h.Status == models.HoldHeld || h.Status == models.HoldConfirmed) {
			n++
		}
	}
	return n, nil
}
