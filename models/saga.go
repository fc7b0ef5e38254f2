package models

import "time"

// SagaStep records how far a booking saga has progressed. It is coarser than
// BookingStatus: it names the outcome the saga is currently waiting for.
type SagaStep string

const (
	StepAwaitingHold    SagaStep = "AWAITING_HOLD"
	StepAwaitingPayment SagaStep = "AWAITING_PAYMENT"
	StepCompleted       SagaStep = "COMPLETED"
	StepCompensated     SagaStep = "COMPENSATED"
)

// BookingSagaState is the durable progress record for one saga run. It is the
// recovery source of truth: after a restart the orchestrator resumes from this
// record, not from the Booking alone. CorrelationID is immutable once
// assigned; at most one non-terminal state exists per booking.
type BookingSagaState struct {
	BookingID     string        `bson:"booking_id" json:"bookingId"`
	CorrelationID string        `bson:"correlation_id" json:"correlationId"`
	Step          SagaStep      `bson:"step" json:"step"`
	Status        BookingStatus `bson:"status" json:"status"`
	LastEventID   string        `bson:"last_event_id,omitempty" json:"lastEventId,omitempty"`
	Retries       int           `bson:"retries" json:"retries"`
	CreatedAt     time.Time     `bson:"created_at" json:"createdAt"`
	UpdatedAt     time.Time     `bson:"updated_at" json:"updatedAt"`
}

// Terminal reports whether the saga run has finished, successfully or not.
func (s *BookingSagaState) Terminal() bool {
	return s.Step == StepCompleted || s.Step == StepCompensated
}
