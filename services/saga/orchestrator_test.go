package saga

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	bookingRepo "medibook/database/repository/booking"
	sagaRepo "medibook/database/repository/saga"
	scheduleRepo "medibook/database/repository/schedule"
	"medibook/events"
	"medibook/models"
	"medibook/services/schedule"

	"go.uber.org/zap"
)

type fakePayments struct {
	mu      sync.Mutex
	refunds []string
	voids   []string
}

func (f *fakePayments) Refund(ctx context.Context, bookingID, paymentID, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refunds = append(f.refunds, paymentID)
	return nil
}

func (f *fakePayments) VoidLink(ctx context.Context, bookingID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.voids = append(f.voids, bookingID)
	return nil
}

func (f *fakePayments) refundCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.refunds)
}

func (f *fakePayments) voidCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.voids)
}

type harness struct {
	bus      *events.MemoryBus
	bookings *bookingRepo.MemoryBookingRepo
	sagas    *sagaRepo.MemorySagaRepo
	repo     *scheduleRepo.MemoryScheduleRepo
	engine   *schedule.DefaultEngine
	payments *fakePayments
	orch     *Orchestrator
}

// newHarness wires the full in-process pipeline: orchestrator and hold engine
// listener on one synchronous bus, payments faked. With the memory bus every
// publish dispatches inline, so Start drives the saga as far as the available
// events carry it before returning.
func newHarness(t *testing.T, capacity int) *harness {
	t.Helper()
	logger := zap.NewNop()

	repo := scheduleRepo.NewMemoryScheduleRepo()
	repo.SeedSchedule(&models.PackageSchedule{ID: "sch-1", ClinicID: "cl-1", PackageID: "pkg-1", Capacity: capacity})

	bus := events.NewMemoryBus(logger)
	engine := schedule.NewEngine(repo, time.Minute, logger)
	listener := &schedule.Listener{Engine: engine, Bus: bus, Logger: logger}
	listener.Register()

	bookings := bookingRepo.NewMemoryBookingRepo()
	sagas := sagaRepo.NewMemorySagaRepo(bookings)
	payments := &fakePayments{}

	orch := NewOrchestrator(sagas, bookings, engine, payments, bus, logger)
	orch.Register()

	return &harness{
		bus:      bus,
		bookings: bookings,
		sagas:    sagas,
		repo:     repo,
		engine:   engine,
		payments: payments,
		orch:     orch,
	}
}

func (h *harness) startBooking(t *testing.T, id string) *models.Booking {
	t.Helper()
	booking := &models.Booking{
		ID:         id,
		PatientID:  "pat-1",
		ClinicID:   "cl-1",
		PackageID:  "pkg-1",
		ScheduleID: "sch-1",
		Price:      150,
	}
	if err := h.orch.Start(context.Background(), booking); err != nil {
		t.Fatalf("Start: %v", err)
	}
	return booking
}

func (h *harness) booking(t *testing.T, id string) *models.Booking {
	t.Helper()
	b, err := h.bookings.GetByID(context.Background(), id)
	if err != nil {
		t.Fatalf("GetByID(%s): %v", id, err)
	}
	return b
}

func (h *harness) state(t *testing.T, id string) *models.BookingSagaState {
	t.Helper()
	s, err := h.sagas.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("saga Get(%s): %v", id, err)
	}
	return s
}

func (h *harness) publish(t *testing.T, eventType, bookingID, correlationID string, payload any) {
	t.Helper()
	env, err := events.NewEnvelope(eventType, bookingID, correlationID, "test", payload)
	if err != nil {
		t.Fatalf("NewEnvelope: %v", err)
	}
	if err := h.bus.Publish(context.Background(), env); err != nil {
		t.Fatalf("Publish: %v", err)
	}
}

func (h *harness) paymentSucceeded(t *testing.T, bookingID, correlationID, paymentID string) {
	t.Helper()
	h.publish(t, events.TypePaymentSucceeded, bookingID, correlationID,
		events.PaymentSucceededPayload{BookingID: bookingID, PaymentID: paymentID, TransactionID: "txn-1"})
}

func TestHappyPathConfirmsBooking(t *testing.T) {
	h := newHarness(t, 3)

	var confirmed []events.Envelope
	h.bus.Subscribe(events.TypeBookingConfirmed, func(ctx context.Context, env events.Envelope) error {
		confirmed = append(confirmed, env)
		return nil
	})

	h.startBooking(t, "bk-1")

	// The hold round-trip ran synchronously during Start.
	b := h.booking(t, "bk-1")
	if b.Status != models.BookingPendingPayment {
		t.Fatalf("status after hold = %s, want PENDING_PAYMENT", b.Status)
	}
	if b.HoldID == "" {
		t.Fatal("booking did not record its hold id")
	}

	state := h.state(t, "bk-1")
	h.paymentSucceeded(t, "bk-1", state.CorrelationID, "pay-1")

	b = h.booking(t, "bk-1")
	if b.Status != models.BookingConfirmed {
		t.Fatalf("status after payment = %s, want CONFIRMED", b.Status)
	}
	if b.PaymentID != "pay-1" {
		t.Fatalf("booking payment id = %s, want pay-1", b.PaymentID)
	}
	state = h.state(t, "bk-1")
	if state.Step != models.StepCompleted {
		t.Fatalf("saga step = %s, want COMPLETED", state.Step)
	}

	hold, err := h.repo.GetHold(context.Background(), b.HoldID)
	if err != nil {
		t.Fatalf("GetHold: %v", err)
	}
	if hold.Status != models.HoldConfirmed {
		t.Fatalf("hold status = %s, want CONFIRMED", hold.Status)
	}
	if len(confirmed) != 1 {
		t.Fatalf("booking.confirmed published %d times, want 1", len(confirmed))
	}
}

func TestNoCapacityRejectsBooking(t *testing.T) {
	h := newHarness(t, 0)
	h.startBooking(t, "bk-1")

	b := h.booking(t, "bk-1")
	if b.Status != models.BookingRejectedNoSlot {
		t.Fatalf("status = %s, want REJECTED_NO_SLOT", b.Status)
	}
	if h.state(t, "bk-1").Step != models.StepCompensated {
		t.Fatal("saga must end compensated on hold failure")
	}
}

func TestPaymentFailureReleasesHold(t *testing.T) {
	h := newHarness(t, 1)
	h.startBooking(t, "bk-1")
	b := h.booking(t, "bk-1")
	state := h.state(t, "bk-1")

	h.publish(t, events.TypePaymentFailed, "bk-1", state.CorrelationID,
		events.PaymentFailedPayload{BookingID: "bk-1", Reason: "card declined"})

	if got := h.booking(t, "bk-1").Status; got != models.BookingCancelled {
		t.Fatalf("status = %s, want CANCELLED", got)
	}
	hold, err := h.repo.GetHold(context.Background(), b.HoldID)
	if err != nil {
		t.Fatalf("GetHold: %v", err)
	}
	if hold.Status != models.HoldCancelled {
		t.Fatalf("hold status = %s, want CANCELLED", hold.Status)
	}

	// The released unit is bookable again.
	sched, _ := h.repo.GetSchedule(context.Background(), "sch-1")
	if sched.BookedCount != 0 {
		t.Fatalf("bookedCount = %d, want 0 after release", sched.BookedCount)
	}
}

func TestHoldExpiryWhileAwaitingPayment(t *testing.T) {
	h := newHarness(t, 1)
	h.startBooking(t, "bk-1")
	b := h.booking(t, "bk-1")
	state := h.state(t, "bk-1")

	h.publish(t, events.TypeHoldExpired, "bk-1", state.CorrelationID,
		events.HoldExpiredPayload{BookingID: "bk-1", HoldID: b.HoldID})

	if got := h.booking(t, "bk-1").Status; got != models.BookingExpired {
		t.Fatalf("status = %s, want EXPIRED", got)
	}
	if h.payments.voidCount() != 1 {
		t.Fatalf("void count = %d, want 1 (open payment link must be voided)", h.payments.voidCount())
	}
}

func TestForeignHoldExpiryIsIgnored(t *testing.T) {
	h := newHarness(t, 2)
	h.startBooking(t, "bk-1")
	state := h.state(t, "bk-1")

	h.publish(t, events.TypeHoldExpired, "bk-1", state.CorrelationID,
		events.HoldExpiredPayload{BookingID: "bk-1", HoldID: "some-other-hold"})

	if got := h.booking(t, "bk-1").Status; got != models.BookingPendingPayment {
		t.Fatalf("status = %s, want PENDING_PAYMENT untouched", got)
	}
}

// The customer paid but the hold expired first: the saga must land in the
// dedicated terminal status and refund, never confirm.
func TestPaymentAfterHoldLostRefunds(t *testing.T) {
	h := newHarness(t, 1)
	h.startBooking(t, "bk-1")
	b := h.booking(t, "bk-1")
	state := h.state(t, "bk-1")

	// The hold quietly expires; the saga has not heard about it yet.
	h.engine.Now = func() time.Time { return time.Now().Add(2 * time.Minute) }
	won, err := h.engine.ExpireHold(context.Background(), b.HoldID)
	if err != nil || won == nil {
		t.Fatalf("ExpireHold should win: hold=%v err=%v", won, err)
	}

	h.paymentSucceeded(t, "bk-1", state.CorrelationID, "pay-1")

	if got := h.booking(t, "bk-1").Status; got != models.BookingFailedAfterPay {
		t.Fatalf("status = %s, want FAILED_NO_SLOT_AFTER_PAYMENT", got)
	}
	if h.payments.refundCount() != 1 || h.payments.refunds[0] != "pay-1" {
		t.Fatalf("refunds = %v, want exactly [pay-1]", h.payments.refunds)
	}
}

func TestDuplicateEventIsDropped(t *testing.T) {
	h := newHarness(t, 1)
	h.startBooking(t, "bk-1")
	state := h.state(t, "bk-1")

	env, err := events.NewEnvelope(events.TypePaymentSucceeded, "bk-1", state.CorrelationID, "test",
		events.PaymentSucceededPayload{BookingID: "bk-1", PaymentID: "pay-1"})
	if err != nil {
		t.Fatalf("NewEnvelope: %v", err)
	}
	if err := h.bus.Publish(context.Background(), env); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	// Redelivery of the exact same event.
	if err := h.bus.Publish(context.Background(), env); err != nil {
		t.Fatalf("Publish duplicate: %v", err)
	}

	if got := h.booking(t, "bk-1").Status; got != models.BookingConfirmed {
		t.Fatalf("status = %s, want CONFIRMED", got)
	}
	if h.payments.refundCount() != 0 {
		t.Fatal("duplicate delivery must not trigger compensation")
	}
}

func TestStaleCorrelationIsDropped(t *testing.T) {
	h := newHarness(t, 1)
	h.startBooking(t, "bk-1")

	h.paymentSucceeded(t, "bk-1", "some-old-run", "pay-1")

	if got := h.booking(t, "bk-1").Status; got != models.BookingPendingPayment {
		t.Fatalf("status = %s, want PENDING_PAYMENT untouched by stale event", got)
	}
}

func TestOutOfStepEventIsDropped(t *testing.T) {
	h := newHarness(t, 1)
	h.startBooking(t, "bk-1")
	state := h.state(t, "bk-1")

	// A hold failure arriving while already awaiting payment must not move
	// the booking backward.
	h.publish(t, events.TypeHoldFailed, "bk-1", state.CorrelationID,
		events.HoldFailedPayload{BookingID: "bk-1", Reason: "late"})

	if got := h.booking(t, "bk-1").Status; got != models.BookingPendingPayment {
		t.Fatalf("status = %s, want PENDING_PAYMENT", got)
	}
}

func TestEventForUnknownBookingIsDropped(t *testing.T) {
	h := newHarness(t, 1)
	// Must not error; just acknowledged and logged.
	h.publish(t, events.TypePaymentSucceeded, "ghost", "corr",
		events.PaymentSucceededPayload{BookingID: "ghost", PaymentID: "pay-1"})
}

func TestUserCancelReleasesHoldAndVoidsLink(t *testing.T) {
	h := newHarness(t, 1)
	h.startBooking(t, "bk-1")
	b := h.booking(t, "bk-1")

	if err := h.orch.Cancel(context.Background(), "bk-1"); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if got := h.booking(t, "bk-1").Status; got != models.BookingCancelled {
		t.Fatalf("status = %s, want CANCELLED", got)
	}
	hold, _ := h.repo.GetHold(context.Background(), b.HoldID)
	if hold.Status != models.HoldCancelled {
		t.Fatalf("hold status = %s, want CANCELLED", hold.Status)
	}
	if h.payments.voidCount() != 1 {
		t.Fatalf("void count = %d, want 1", h.payments.voidCount())
	}
}

func TestCancelConfirmedBookingIsRefused(t *testing.T) {
	h := newHarness(t, 1)
	h.startBooking(t, "bk-1")
	state := h.state(t, "bk-1")
	h.paymentSucceeded(t, "bk-1", state.CorrelationID, "pay-1")

	if err := h.orch.Cancel(context.Background(), "bk-1"); !errors.Is(err, ErrNotCancellable) {
		t.Fatalf("expected ErrNotCancellable, got %v", err)
	}
	if err := h.orch.Cancel(context.Background(), "ghost"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

// A payment confirmation that lands between the cancel's status check and its
// hold release must win: the cancel sees the CONFIRMED hold and refuses
// instead of stranding a confirmed hold under a CANCELLED booking.
func TestCancelAfterHoldConfirmedIsRefused(t *testing.T) {
	h := newHarness(t, 1)
	h.startBooking(t, "bk-1")
	b := h.booking(t, "bk-1")

	// The racing confirmation flips the hold first.
	if err := h.engine.ConfirmHold(context.Background(), b.HoldID, b.ID); err != nil {
		t.Fatalf("ConfirmHold: %v", err)
	}

	if err := h.orch.Cancel(context.Background(), "bk-1"); !errors.Is(err, ErrNotCancellable) {
		t.Fatalf("Cancel = %v, want ErrNotCancellable", err)
	}
	if got := h.booking(t, "bk-1").Status; got != models.BookingPendingPayment {
		t.Fatalf("status = %s, want PENDING_PAYMENT untouched by refused cancel", got)
	}
	hold, err := h.repo.GetHold(context.Background(), b.HoldID)
	if err != nil {
		t.Fatalf("GetHold: %v", err)
	}
	if hold.Status != models.HoldConfirmed {
		t.Fatalf("hold status = %s, want CONFIRMED", hold.Status)
	}
	sched, _ := h.repo.GetSchedule(context.Background(), "sch-1")
	if sched.BookedCount != 1 {
		t.Fatalf("bookedCount = %d, want 1 (confirmed unit stays counted)", sched.BookedCount)
	}
}

// Two writers load the same snapshot and both try to finish the saga; the
// status-guarded write lets exactly one land.
func TestConcurrentTransitionsCannotBothLand(t *testing.T) {
	h := newHarness(t, 1)
	h.startBooking(t, "bk-1")
	ctx := context.Background()

	confirmState, confirmBooking := h.state(t, "bk-1"), h.booking(t, "bk-1")
	cancelState, cancelBooking := h.state(t, "bk-1"), h.booking(t, "bk-1")

	applied, err := h.orch.apply(ctx, confirmState, confirmBooking, "", models.BookingConfirmed, models.StepCompleted)
	if err != nil || !applied {
		t.Fatalf("first transition: applied=%v err=%v, want it to land", applied, err)
	}
	applied, err = h.orch.apply(ctx, cancelState, cancelBooking, "", models.BookingCancelled, models.StepCompensated)
	if err != nil {
		t.Fatalf("second transition errored: %v", err)
	}
	if applied {
		t.Fatal("second transition from the same snapshot must not land")
	}
	if got := h.booking(t, "bk-1").Status; got != models.BookingConfirmed {
		t.Fatalf("status = %s, want CONFIRMED from the winning transition", got)
	}
}

// A redelivered hold success against a saga already awaiting payment must not
// emit a second payment request.
func TestReplayedHoldSucceededEmitsOnePaymentRequest(t *testing.T) {
	h := newHarness(t, 1)

	var requests []events.Envelope
	h.bus.Subscribe(events.TypePaymentRequested, func(ctx context.Context, env events.Envelope) error {
		requests = append(requests, env)
		return nil
	})

	h.startBooking(t, "bk-1")
	if len(requests) != 1 {
		t.Fatalf("payment.requested published %d times after start, want 1", len(requests))
	}
	b := h.booking(t, "bk-1")
	state := h.state(t, "bk-1")

	env, err := events.NewEnvelope(events.TypeHoldSucceeded, "bk-1", state.CorrelationID, "test",
		events.HoldSucceededPayload{BookingID: "bk-1", HoldID: b.HoldID, ScheduleID: "sch-1"})
	if err != nil {
		t.Fatalf("NewEnvelope: %v", err)
	}
	for i := 0; i < 2; i++ {
		if err := h.bus.Publish(context.Background(), env); err != nil {
			t.Fatalf("Publish replay %d: %v", i, err)
		}
	}

	if len(requests) != 1 {
		t.Fatalf("payment.requested published %d times, want exactly 1", len(requests))
	}
	if got := h.booking(t, "bk-1").Status; got != models.BookingPendingPayment {
		t.Fatalf("status = %s, want PENDING_PAYMENT", got)
	}
}

// A saga stranded mid-flight (its request event was lost) resumes after
// Recover re-emits the pending request.
func TestRecoverResumesStrandedSaga(t *testing.T) {
	logger := zap.NewNop()
	repo := scheduleRepo.NewMemoryScheduleRepo()
	repo.SeedSchedule(&models.PackageSchedule{ID: "sch-1", Capacity: 1})

	// No listener on the bus yet: the hold request goes unheard, exactly like
	// a crash between persist and delivery.
	bus := events.NewMemoryBus(logger)
	engine := schedule.NewEngine(repo, time.Minute, logger)
	bookings := bookingRepo.NewMemoryBookingRepo()
	sagas := sagaRepo.NewMemorySagaRepo(bookings)
	payments := &fakePayments{}
	orch := NewOrchestrator(sagas, bookings, engine, payments, bus, logger)
	orch.Register()

	booking := &models.Booking{ID: "bk-1", PatientID: "pat-1", ClinicID: "cl-1", PackageID: "pkg-1", ScheduleID: "sch-1", Price: 100}
	if err := orch.Start(context.Background(), booking); err != nil {
		t.Fatalf("Start: %v", err)
	}
	got, err := bookings.GetByID(context.Background(), "bk-1")
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if got.Status != models.BookingPendingSchedule {
		t.Fatalf("status = %s, want PENDING_SCHEDULE while the request is lost", got.Status)
	}

	// The hold engine comes back and recovery re-emits.
	listener := &schedule.Listener{Engine: engine, Bus: bus, Logger: logger}
	listener.Register()
	if err := orch.Recover(context.Background()); err != nil {
		t.Fatalf("Recover: %v", err)
	}

	got, _ = bookings.GetByID(context.Background(), "bk-1")
	if got.Status != models.BookingPendingPayment {
		t.Fatalf("status after recovery = %s, want PENDING_PAYMENT", got.Status)
	}
}
