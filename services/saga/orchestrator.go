package saga

import (
	"context"
	"errors"
	"fmt"
	"time"

	bookingRepo "medibook/database/repository/booking"
	sagaRepo "medibook/database/repository/saga"
	"medibook/events"
	"medibook/models"
	"medibook/services/schedule"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const source = "booking-saga"

var (
	// ErrNotFound means no saga run exists for the booking.
	ErrNotFound = errors.New("booking saga not found")
	// ErrNotCancellable means the booking already reached a state the user
	// cannot cancel out of.
	ErrNotCancellable = errors.New("booking can no longer be cancelled")
)

// PaymentPort is the compensation surface of the payment collaborator. The
// exact financial semantics of a reversal (refund vs. void-before-capture)
// belong to the gateway; the saga only requests one.
type PaymentPort interface {
	Refund(ctx context.Context, bookingID, paymentID, reason string) error
	VoidLink(ctx context.Context, bookingID string) error
}

// Orchestrator drives each booking through hold, payment and confirmation,
// persisting Booking and BookingSagaState atomically on every transition.
// It never blocks waiting for a downstream outcome: it records where it is
// and resumes on the next inbound event. Duplicate and out-of-step events
// are acknowledged and dropped; a transition is applied at most once.
type Orchestrator struct {
	Sagas    sagaRepo.Repository
	Bookings bookingRepo.Repository
	Holds    schedule.Engine
	Payments PaymentPort
	Bus      events.Bus
	Logger   *zap.Logger
	Now      func() time.Time
}

func NewOrchestrator(sagas sagaRepo.Repository, bookings bookingRepo.Repository, holds schedule.Engine, payments PaymentPort, bus events.Bus, logger *zap.Logger) *Orchestrator {
	return &Orchestrator{
		Sagas:    sagas,
		Bookings: bookings,
		Holds:    holds,
		Payments: payments,
		Bus:      bus,
		Logger:   logger,
		Now:      time.Now,
	}
}

// Register subscribes the orchestrator to every event it consumes.
func (o *Orchestrator) Register() {
	o.Bus.Subscribe(events.TypeHoldSucceeded, o.handleHoldSucceeded)
	o.Bus.Subscribe(events.TypeHoldFailed, o.handleHoldFailed)
	o.Bus.Subscribe(events.TypeHoldExpired, o.handleHoldExpired)
	o.Bus.Subscribe(events.TypePaymentSucceeded, o.handlePaymentSucceeded)
	o.Bus.Subscribe(events.TypePaymentFailed, o.handlePaymentFailed)
}

// Start accepts a new booking: it persists the booking with a fresh saga run
// and emits the hold request. The saga record exists before the event goes
// out, so a crash in between is recovered by Recover re-emitting.
func (o *Orchestrator) Start(ctx context.Context, booking *models.Booking) error {
	now := o.Now()
	booking.Status = models.BookingPending
	booking.CreatedAt = now
	booking.UpdatedAt = now

	state := &models.BookingSagaState{
		BookingID:     booking.ID,
		CorrelationID: uuid.New().String(),
		Step:          models.StepAwaitingHold,
		Status:        models.BookingPending,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := o.Sagas.CreateWithBooking(ctx, state, booking); err != nil {
		return fmt.Errorf("start saga for booking %s: %w", booking.ID, err)
	}

	// Booking accepted: PENDING -> PENDING_SCHEDULE, request the hold.
	applied, err := o.apply(ctx, state, booking, "", models.BookingPendingSchedule, models.StepAwaitingHold)
	if err != nil {
		return err
	}
	if !applied {
		return fmt.Errorf("saga for booking %s moved during start", booking.ID)
	}
	return o.publishHoldRequested(ctx, state, booking)
}

// Cancel is the user-initiated compensation path. Only bookings still waiting
// on the hold or the payment can be cancelled.
func (o *Orchestrator) Cancel(ctx context.Context, bookingID string) error {
	state, err := o.Sagas.Get(ctx, bookingID)
	if err != nil {
		if errors.Is(err, sagaRepo.ErrNotFound) {
			return ErrNotFound
		}
		return err
	}
	if state.Status != models.BookingPendingSchedule && state.Status != models.BookingPendingPayment {
		return ErrNotCancellable
	}
	booking, err := o.Bookings.GetByID(ctx, bookingID)
	if err != nil {
		return err
	}

	if booking.HoldID != "" {
		if err := o.Holds.CancelHold(ctx, booking.HoldID, booking.ID); err != nil {
			if errors.Is(err, schedule.ErrHoldTerminal) {
				// CancelHold is a no-op for CANCELLED and EXPIRED holds, so
				// terminal here means a racing payment confirmation already
				// won. The booking is about to be CONFIRMED; refuse.
				return ErrNotCancellable
			}
			return fmt.Errorf("release hold on cancel: %w", err)
		}
	}
	if state.Status == models.BookingPendingPayment {
		if err := o.Payments.VoidLink(ctx, booking.ID); err != nil {
			o.Logger.Warn("could not void payment link on cancel",
				zap.String("bookingId", booking.ID), zap.Error(err))
		}
	}
	applied, err := o.apply(ctx, state, booking, "", models.BookingCancelled, models.StepCompensated)
	if err != nil {
		return err
	}
	if !applied {
		return ErrNotCancellable
	}
	return nil
}

// Recover resumes every in-flight saga after a restart by re-emitting the
// request the saga was waiting on. BookingSagaState, not Booking, decides
// where to resume.
func (o *Orchestrator) Recover(ctx context.Context) error {
	states, err := o.Sagas.ListNonTerminal(ctx)
	if err != nil {
		return fmt.Errorf("list in-flight sagas: %w", err)
	}
	for i := range states {
		state := &states[i]
		booking, err := o.Bookings.GetByID(ctx, state.BookingID)
		if err != nil {
			o.Logger.Error("saga recovery: booking missing",
				zap.String("bookingId", state.BookingID), zap.Error(err))
			continue
		}
		state.Retries++

		switch state.Status {
		case models.BookingPending:
			// Crashed before the accept transition landed.
			applied, err := o.apply(ctx, state, booking, "", models.BookingPendingSchedule, models.StepAwaitingHold)
			if err != nil {
				o.Logger.Error("saga recovery failed", zap.String("bookingId", state.BookingID), zap.Error(err))
				continue
			}
			if !applied {
				continue
			}
			fallthrough
		case models.BookingPendingSchedule:
			if err := o.publishHoldRequested(ctx, state, booking); err != nil {
				o.Logger.Error("saga recovery: re-emit hold request failed",
					zap.String("bookingId", state.BookingID), zap.Error(err))
			}
		case models.BookingPendingPayment:
			if err := o.publishPaymentRequested(ctx, state, booking); err != nil {
				o.Logger.Error("saga recovery: re-emit payment request failed",
					zap.String("bookingId", state.BookingID), zap.Error(err))
			}
		}
	}
	if len(states) > 0 {
		o.Logger.Info("saga recovery complete", zap.Int("resumed", len(states)))
	}
	return nil
}

func (o *Orchestrator) handleHoldSucceeded(ctx context.Context, env events.Envelope) error {
	state, booking, ok, err := o.load(ctx, env)
	if err != nil || !ok {
		return err
	}
	if state.Status != models.BookingPendingSchedule {
		o.dropOutOfStep(env, state)
		return nil
	}
	var p events.HoldSucceededPayload
	if err := env.Decode(&p); err != nil {
		return err
	}

	booking.HoldID = p.HoldID
	applied, err := o.apply(ctx, state, booking, env.EventID, models.BookingPendingPayment, models.StepAwaitingPayment)
	if err != nil {
		return err
	}
	if !applied {
		return nil
	}
	return o.publishPaymentRequested(ctx, state, booking)
}

func (o *Orchestrator) handleHoldFailed(ctx context.Context, env events.Envelope) error {
	state, booking, ok, err := o.load(ctx, env)
	if err != nil || !ok {
		return err
	}
	if state.Status != models.BookingPendingSchedule {
		o.dropOutOfStep(env, state)
		return nil
	}
	_, err = o.apply(ctx, state, booking, env.EventID, models.BookingRejectedNoSlot, models.StepCompensated)
	return err
}

func (o *Orchestrator) handleHoldExpired(ctx context.Context, env events.Envelope) error {
	state, booking, ok, err := o.load(ctx, env)
	if err != nil || !ok {
		return err
	}
	if state.Status != models.BookingPendingSchedule && state.Status != models.BookingPendingPayment {
		o.dropOutOfStep(env, state)
		return nil
	}
	var p events.HoldExpiredPayload
	if err := env.Decode(&p); err != nil {
		return err
	}
	if booking.HoldID != "" && booking.HoldID != p.HoldID {
		o.Logger.Warn("dropping expiry for a hold this booking does not own",
			zap.String("bookingId", booking.ID), zap.String("holdId", p.HoldID))
		return nil
	}

	if state.Status == models.BookingPendingPayment {
		// Release the in-flight payment request; a late success will still be
		// caught as the paid-but-lost-slot race.
		if err := o.Payments.VoidLink(ctx, booking.ID); err != nil {
			o.Logger.Warn("could not void payment link on expiry",
				zap.String("bookingId", booking.ID), zap.Error(err))
		}
	}
	_, err = o.apply(ctx, state, booking, env.EventID, models.BookingExpired, models.StepCompensated)
	return err
}

func (o *Orchestrator) handlePaymentSucceeded(ctx context.Context, env events.Envelope) error {
	state, booking, ok, err := o.load(ctx, env)
	if err != nil || !ok {
		return err
	}
	if state.Status != models.BookingPendingPayment {
		o.dropOutOfStep(env, state)
		return nil
	}
	var p events.PaymentSucceededPayload
	if err := env.Decode(&p); err != nil {
		return err
	}
	booking.PaymentID = p.PaymentID

	confirmErr := o.Holds.ConfirmHold(ctx, booking.HoldID, booking.ID)
	switch {
	case confirmErr == nil:
		applied, err := o.apply(ctx, state, booking, env.EventID, models.BookingConfirmed, models.StepCompleted)
		if err != nil {
			return err
		}
		if !applied {
			return nil
		}
		return o.publishBookingConfirmed(ctx, state, booking)

	case errors.Is(confirmErr, schedule.ErrHoldTerminal), errors.Is(confirmErr, schedule.ErrNotFound):
		// The customer paid but the hold is gone. A distinct terminal status
		// keeps this apart from an ordinary payment failure for operators.
		o.Logger.Warn("payment landed after hold was lost, refunding",
			zap.String("bookingId", booking.ID), zap.String("paymentId", p.PaymentID))
		applied, err := o.apply(ctx, state, booking, env.EventID, models.BookingFailedAfterPay, models.StepCompensated)
		if err != nil {
			return err
		}
		if !applied {
			return nil
		}
		if err := o.Payments.Refund(ctx, booking.ID, p.PaymentID, "slot lost before confirmation"); err != nil {
			o.Logger.Error("compensating refund failed",
				zap.String("bookingId", booking.ID), zap.String("paymentId", p.PaymentID), zap.Error(err))
		}
		return nil

	default:
		// Infrastructure trouble: leave the saga untouched so redelivery can
		// retry from the last good step.
		return fmt.Errorf("confirm hold for booking %s: %w", booking.ID, confirmErr)
	}
}

func (o *Orchestrator) handlePaymentFailed(ctx context.Context, env events.Envelope) error {
	state, booking, ok, err := o.load(ctx, env)
	if err != nil || !ok {
		return err
	}
	if state.Status != models.BookingPendingPayment {
		o.dropOutOfStep(env, state)
		return nil
	}

	if booking.HoldID != "" {
		if err := o.Holds.CancelHold(ctx, booking.HoldID, booking.ID); err != nil &&
			!errors.Is(err, schedule.ErrHoldTerminal) {
			return fmt.Errorf("release hold after payment failure: %w", err)
		}
	}
	_, err = o.apply(ctx, state, booking, env.EventID, models.BookingCancelled, models.StepCompensated)
	return err
}

// load fetches the saga run and booking for an envelope and applies the
// guards shared by every handler: unknown booking, foreign correlation id,
// duplicate event id and finished runs are all dropped without error.
func (o *Orchestrator) load(ctx context.Context, env events.Envelope) (*models.BookingSagaState, *models.Booking, bool, error) {
	state, err := o.Sagas.Get(ctx, env.AggregateID)
	if err != nil {
		if errors.Is(err, sagaRepo.ErrNotFound) {
			o.Logger.Warn("dropping event for unknown booking",
				zap.String("eventType", env.EventType), zap.String("bookingId", env.AggregateID))
			return nil, nil, false, nil
		}
		return nil, nil, false, err
	}
	if env.CorrelationID != state.CorrelationID {
		o.Logger.Warn("dropping event from a stale saga run",
			zap.String("eventType", env.EventType),
			zap.String("bookingId", env.AggregateID),
			zap.String("eventCorrelationId", env.CorrelationID),
			zap.String("sagaCorrelationId", state.CorrelationID))
		return nil, nil, false, nil
	}
	if env.EventID != "" && env.EventID == state.LastEventID {
		o.Logger.Debug("dropping duplicate event",
			zap.String("eventType", env.EventType), zap.String("eventId", env.EventID))
		return nil, nil, false, nil
	}
	if state.Terminal() {
		o.dropOutOfStep(env, state)
		return nil, nil, false, nil
	}
	booking, err := o.Bookings.GetByID(ctx, env.AggregateID)
	if err != nil {
		return nil, nil, false, err
	}
	return state, booking, true, nil
}

// apply persists one transition: saga state and booking move together or not
// at all, guarded by a compare-and-set on the status the state was loaded
// with. Returns false when the run moved underneath the caller, so two racing
// transitions can never both land and none ever goes backward.
func (o *Orchestrator) apply(ctx context.Context, state *models.BookingSagaState, booking *models.Booking, eventID string, status models.BookingStatus, step models.SagaStep) (bool, error) {
	from := state.Status
	now := o.Now()
	state.Status = status
	state.Step = step
	if eventID != "" {
		state.LastEventID = eventID
	}
	state.UpdatedAt = now
	booking.Status = status
	booking.UpdatedAt = now

	if err := o.Sagas.UpdateWithBooking(ctx, state, booking, from); err != nil {
		if errors.Is(err, sagaRepo.ErrStaleState) {
			o.Logger.Warn("dropping transition that lost a concurrent race",
				zap.String("bookingId", booking.ID),
				zap.String("from", string(from)),
				zap.String("to", string(status)))
			return false, nil
		}
		return false, fmt.Errorf("persist transition to %s for booking %s: %w", status, booking.ID, err)
	}
	o.Logger.Info("booking transition",
		zap.String("bookingId", booking.ID),
		zap.String("status", string(status)),
		zap.String("step", string(step)))
	return true, nil
}

func (o *Orchestrator) dropOutOfStep(env events.Envelope, state *models.BookingSagaState) {
	o.Logger.Warn("dropping out-of-step event",
		zap.String("eventType", env.EventType),
		zap.String("bookingId", state.BookingID),
		zap.String("currentStatus", string(state.Status)))
}

func (o *Orchestrator) publishHoldRequested(ctx context.Context, state *models.BookingSagaState, booking *models.Booking) error {
	env, err := events.NewEnvelope(events.TypeHoldRequested, booking.ID, state.CorrelationID, source,
		events.HoldRequestedPayload{BookingID: booking.ID, ScheduleID: booking.ScheduleID})
	if err != nil {
		return err
	}
	return o.Bus.Publish(ctx, env)
}

func (o *Orchestrator) publishPaymentRequested(ctx context.Context, state *models.BookingSagaState, booking *models.Booking) error {
	env, err := events.NewEnvelope(events.TypePaymentRequested, booking.ID, state.CorrelationID, source,
		events.PaymentRequestedPayload{
			BookingID:   booking.ID,
			PatientID:   booking.PatientID,
			Price:       booking.Price,
			Description: fmt.Sprintf("Checkup booking %s", booking.ID),
		})
	if err != nil {
		return err
	}
	return o.Bus.Publish(ctx, env)
}

func (o *Orchestrator) publishBookingConfirmed(ctx context.Context, state *models.BookingSagaState, booking *models.Booking) error {
	env, err := events.NewEnvelope(events.TypeBookingConfirmed, booking.ID, state.CorrelationID, source,
		events.BookingConfirmedPayload{BookingID: booking.ID, HoldID: booking.HoldID, PaymentID: booking.PaymentID})
	if err != nil {
		return err
	}
	return o.Bus.Publish(ctx, env)
}
