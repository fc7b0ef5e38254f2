package schedule

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	scheduleRepo "medibook/database/repository/schedule"
	"medibook/models"

	"go.uber.org/zap"
)

func newTestEngine(t *testing.T, capacity, overbook int) (*DefaultEngine, *scheduleRepo.MemoryScheduleRepo) {
	t.Helper()
	repo := scheduleRepo.NewMemoryScheduleRepo()
	repo.SeedSchedule(&models.PackageSchedule{
		ID:            "sch-1",
		ClinicID:      "cl-1",
		PackageID:     "pkg-1",
		Capacity:      capacity,
		OverbookLimit: overbook,
	})
	return NewEngine(repo, time.Minute, zap.NewNop()), repo
}

func bookedCount(t *testing.T, repo *scheduleRepo.MemoryScheduleRepo, id string) int {
	t.Helper()
	sched, err := repo.GetSchedule(context.Background(), id)
	if err != nil {
		t.Fatalf("GetSchedule: %v", err)
	}
	return sched.BookedCount
}

func TestHoldForBookingGrantsUntilLimit(t *testing.T) {
	eng, repo := newTestEngine(t, 2, 1)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := eng.HoldForBooking(ctx, "sch-1", "bk-a", "corr-a"); err != nil {
			t.Fatalf("grant %d: %v", i+1, err)
		}
	}
	if _, err := eng.HoldForBooking(ctx, "sch-1", "bk-b", "corr-b"); !errors.Is(err, ErrNoCapacity) {
		t.Fatalf("expected ErrNoCapacity past capacity+overbookLimit, got %v", err)
	}
	if got := bookedCount(t, repo, "sch-1"); got != 3 {
		t.Fatalf("bookedCount = %d, want 3", got)
	}
}

func TestHoldForBookingUnknownSchedule(t *testing.T) {
	eng, _ := newTestEngine(t, 1, 0)
	if _, err := eng.HoldForBooking(context.Background(), "nope", "bk-a", "corr-a"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

// Many concurrent requests against one schedule must never push bookedCount
// past capacity+overbookLimit, and the ledger must equal the live hold set.
func TestConcurrentHoldsNeverOversell(t *testing.T) {
	const capacity, overbook, requests = 5, 2, 40
	eng, repo := newTestEngine(t, capacity, overbook)
	ctx := context.Background()

	var wg sync.WaitGroup
	var mu sync.Mutex
	granted := 0
	for i := 0; i < requests; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := eng.HoldForBooking(ctx, "sch-1", "bk", "corr"); err == nil {
				mu.Lock()
				granted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	limit := capacity + overbook
	if granted != limit {
		t.Fatalf("granted %d holds, want exactly %d", granted, limit)
	}
	if got := bookedCount(t, repo, "sch-1"); got != limit {
		t.Fatalf("bookedCount = %d, want %d", got, limit)
	}
	live, err := repo.CountLiveHolds(ctx, "sch-1")
	if err != nil {
		t.Fatalf("CountLiveHolds: %v", err)
	}
	if live != limit {
		t.Fatalf("live holds = %d, ledger = %d; must match", live, limit)
	}
}

func TestConfirmHoldIsTerminal(t *testing.T) {
	eng, repo := newTestEngine(t, 1, 0)
	ctx := context.Background()

	hold, err := eng.HoldForBooking(ctx, "sch-1", "bk-a", "corr-a")
	if err != nil {
		t.Fatalf("HoldForBooking: %v", err)
	}
	if err := eng.ConfirmHold(ctx, hold.ID, "bk-a"); err != nil {
		t.Fatalf("ConfirmHold: %v", err)
	}

	// Confirmation keeps the capacity unit.
	if got := bookedCount(t, repo, "sch-1"); got != 1 {
		t.Fatalf("bookedCount after confirm = %d, want 1", got)
	}
	if err := eng.ConfirmHold(ctx, hold.ID, "bk-a"); !errors.Is(err, ErrHoldTerminal) {
		t.Fatalf("second confirm: expected ErrHoldTerminal, got %v", err)
	}
	if err := eng.CancelHold(ctx, hold.ID, "bk-a"); !errors.Is(err, ErrHoldTerminal) {
		t.Fatalf("cancel after confirm: expected ErrHoldTerminal, got %v", err)
	}
}

func TestCancelHoldReleasesCapacityOnce(t *testing.T) {
	eng, repo := newTestEngine(t, 1, 0)
	ctx := context.Background()

	hold, err := eng.HoldForBooking(ctx, "sch-1", "bk-a", "corr-a")
	if err != nil {
		t.Fatalf("HoldForBooking: %v", err)
	}
	if err := eng.CancelHold(ctx, hold.ID, "bk-a"); err != nil {
		t.Fatalf("CancelHold: %v", err)
	}
	if got := bookedCount(t, repo, "sch-1"); got != 0 {
		t.Fatalf("bookedCount after cancel = %d, want 0", got)
	}

	// Repeated cancel is a no-op, never a double release.
	if err := eng.CancelHold(ctx, hold.ID, "bk-a"); err != nil {
		t.Fatalf("repeat cancel: %v", err)
	}
	if got := bookedCount(t, repo, "sch-1"); got != 0 {
		t.Fatalf("bookedCount after repeat cancel = %d, want 0", got)
	}
}

func TestHoldOwnershipIsEnforced(t *testing.T) {
	eng, _ := newTestEngine(t, 1, 0)
	ctx := context.Background()

	hold, err := eng.HoldForBooking(ctx, "sch-1", "bk-a", "corr-a")
	if err != nil {
		t.Fatalf("HoldForBooking: %v", err)
	}
	if err := eng.ConfirmHold(ctx, hold.ID, "bk-other"); !errors.Is(err, ErrWrongBooking) {
		t.Fatalf("confirm by other booking: expected ErrWrongBooking, got %v", err)
	}
	if err := eng.CancelHold(ctx, hold.ID, "bk-other"); !errors.Is(err, ErrWrongBooking) {
		t.Fatalf("cancel by other booking: expected ErrWrongBooking, got %v", err)
	}
}

func TestExpireDueReleasesCapacity(t *testing.T) {
	eng, repo := newTestEngine(t, 2, 0)
	ctx := context.Background()

	base := time.Date(2026, 8, 28, 9, 0, 0, 0, time.UTC)
	eng.Now = func() time.Time { return base }

	held, err := eng.HoldForBooking(ctx, "sch-1", "bk-a", "corr-a")
	if err != nil {
		t.Fatalf("HoldForBooking: %v", err)
	}
	fresh, err := eng.HoldForBooking(ctx, "sch-1", "bk-b", "corr-b")
	if err != nil {
		t.Fatalf("HoldForBooking: %v", err)
	}

	// First hold passes its deadline, second one gets more time.
	eng.Now = func() time.Time { return base.Add(30 * time.Second) }
	if err := eng.ConfirmHold(ctx, fresh.ID, "bk-b"); err != nil {
		t.Fatalf("ConfirmHold: %v", err)
	}

	expired, err := eng.ExpireDue(ctx, base.Add(2*time.Minute))
	if err != nil {
		t.Fatalf("ExpireDue: %v", err)
	}
	if len(expired) != 1 || expired[0].ID != held.ID {
		t.Fatalf("expired = %+v, want exactly the overdue hold %s", expired, held.ID)
	}
	if got := bookedCount(t, repo, "sch-1"); got != 1 {
		t.Fatalf("bookedCount = %d, want 1 (confirmed hold keeps its unit)", got)
	}

	// A second sweep finds nothing.
	expired, err = eng.ExpireDue(ctx, base.Add(3*time.Minute))
	if err != nil {
		t.Fatalf("second ExpireDue: %v", err)
	}
	if len(expired) != 0 {
		t.Fatalf("second sweep expired %d holds, want 0", len(expired))
	}
}

func TestExpireHoldNotYetDueIsNoop(t *testing.T) {
	eng, repo := newTestEngine(t, 1, 0)
	ctx := context.Background()

	hold, err := eng.HoldForBooking(ctx, "sch-1", "bk-a", "corr-a")
	if err != nil {
		t.Fatalf("HoldForBooking: %v", err)
	}
	won, err := eng.ExpireHold(ctx, hold.ID)
	if err != nil {
		t.Fatalf("ExpireHold: %v", err)
	}
	if won != nil {
		t.Fatal("hold expired before its deadline")
	}
	if got := bookedCount(t, repo, "sch-1"); got != 1 {
		t.Fatalf("bookedCount = %d, want 1", got)
	}
}

// A confirm and an expiry racing for the same hold: exactly one wins and the
// ledger reflects the winner.
func TestConfirmLosesToExpiry(t *testing.T) {
	eng, repo := newTestEngine(t, 1, 0)
	ctx := context.Background()

	base := time.Date(2026, 8, 28, 9, 0, 0, 0, time.UTC)
	eng.Now = func() time.Time { return base }
	hold, err := eng.HoldForBooking(ctx, "sch-1", "bk-a", "corr-a")
	if err != nil {
		t.Fatalf("HoldForBooking: %v", err)
	}

	eng.Now = func() time.Time { return base.Add(2 * time.Minute) }
	won, err := eng.ExpireHold(ctx, hold.ID)
	if err != nil || won == nil {
		t.Fatalf("ExpireHold should win: hold=%v err=%v", won, err)
	}
	if err := eng.ConfirmHold(ctx, hold.ID, "bk-a"); !errors.Is(err, ErrHoldTerminal) {
		t.Fatalf("confirm after expiry: expected ErrHoldTerminal, got %v", err)
	}
	if got := bookedCount(t, repo, "sch-1"); got != 0 {
		t.Fatalf("bookedCount = %d, want 0 after expiry", got)
	}
}

// A crash between a hold write and its ledger write leaves bookedCount off by
// one; the startup reconcile must realign it with the live hold set.
func TestReconcileLedgersRepairsDrift(t *testing.T) {
	repo := scheduleRepo.NewMemoryScheduleRepo()
	// Ledger claims 3 units, but only one live hold exists.
	repo.SeedSchedule(&models.PackageSchedule{ID: "sch-1", ClinicID: "cl-1", Capacity: 5, BookedCount: 3})
	repo.SeedSchedule(&models.PackageSchedule{ID: "sch-2", ClinicID: "cl-1", Capacity: 5})
	eng := NewEngine(repo, time.Minute, zap.NewNop())
	ctx := context.Background()

	now := time.Date(2026, 8, 28, 9, 0, 0, 0, time.UTC)
	holds := []*models.ScheduleHold{
		{ID: "h-live", ScheduleID: "sch-1", BookingID: "bk-a", Status: models.HoldHeld, ExpireAt: now.Add(time.Minute)},
		{ID: "h-gone", ScheduleID: "sch-1", BookingID: "bk-b", Status: models.HoldExpired, ExpireAt: now.Add(-time.Minute)},
	}
	for _, h := range holds {
		if err := repo.CreateHold(ctx, h); err != nil {
			t.Fatalf("CreateHold(%s): %v", h.ID, err)
		}
	}

	repaired, err := eng.ReconcileLedgers(ctx)
	if err != nil {
		t.Fatalf("ReconcileLedgers: %v", err)
	}
	if repaired != 1 {
		t.Fatalf("repaired %d ledgers, want 1", repaired)
	}
	if got := bookedCount(t, repo, "sch-1"); got != 1 {
		t.Fatalf("bookedCount = %d, want 1 (the live hold)", got)
	}
	if got := bookedCount(t, repo, "sch-2"); got != 0 {
		t.Fatalf("clean ledger moved to %d, want 0", got)
	}

	// A second pass finds everything aligned.
	repaired, err = eng.ReconcileLedgers(ctx)
	if err != nil {
		t.Fatalf("second ReconcileLedgers: %v", err)
	}
	if repaired != 0 {
		t.Fatalf("second pass repaired %d ledgers, want 0", repaired)
	}
}

func TestIsAvailableIsAdvisory(t *testing.T) {
	eng, _ := newTestEngine(t, 1, 0)
	ctx := context.Background()

	ok, err := eng.IsAvailable(ctx, "sch-1")
	if err != nil || !ok {
		t.Fatalf("IsAvailable = %v, %v; want true", ok, err)
	}
	if _, err := eng.HoldForBooking(ctx, "sch-1", "bk-a", "corr-a"); err != nil {
		t.Fatalf("HoldForBooking: %v", err)
	}
	ok, err = eng.IsAvailable(ctx, "sch-1")
	if err != nil || ok {
		t.Fatalf("IsAvailable = %v, %v; want false at limit", ok, err)
	}
	if _, err := eng.IsAvailable(ctx, "nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
