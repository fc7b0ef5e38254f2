package events

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Event types double as routing keys on the broker-backed bus.
const (
	TypeHoldRequested    = "hold.requested"
	TypeHoldSucceeded    = "hold.succeeded"
	TypeHoldFailed       = "hold.failed"
	TypeHoldExpired      = "hold.expired"
	TypePaymentRequested = "payment.requested"
	TypePaymentSucceeded = "payment.succeeded"
	TypePaymentFailed    = "payment.failed"
	TypeBookingConfirmed = "booking.confirmed"
)

// Envelope is the uniform wrapper around every cross-component notification.
// AggregateID is always the booking id; CorrelationID is stable across one
// whole saga run and is used to reject stale or foreign events.
type Envelope struct {
	EventID       string          `json:"eventId"`
	EventType     string          `json:"eventType"`
	AggregateID   string          `json:"aggregateId"`
	CorrelationID string          `json:"correlationId"`
	Timestamp     time.Time       `json:"timestamp"`
	Source        string          `json:"source"`
	Payload       json.RawMessage `json:"payload"`
}

// NewEnvelope wraps payload in a fresh envelope with a unique event id.
func NewEnvelope(eventType, aggregateID, correlationID, source string, payload any) (Envelope, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("marshal %s payload: %w", eventType, err)
	}
	return Envelope{
		EventID:       uuid.New().String(),
		EventType:     eventType,
		AggregateID:   aggregateID,
		CorrelationID: correlationID,
		Timestamp:     time.Now().UTC(),
		Source:        source,
		Payload:       b,
	}, nil
}

// Decode unmarshals the payload into v.
func (e Envelope) Decode(v any) error {
	if err := json.Unmarshal(e.Payload, v); err != nil {
		return fmt.Errorf("decode %s payload: %w", e.EventType, err)
	}
	return nil
}

// Payloads, one per event type. These are the contracts between the saga,
// the hold engine, the payment gateway and downstream consumers.

type HoldRequestedPayload struct {
	BookingID  string `json:"bookingId"`
	ScheduleID string `json:"scheduleId"`
}

type HoldSucceededPayload struct {
	BookingID    string    `json:"bookingId"`
	HoldID       string    `json:"holdId"`
	HoldExpireAt time.Time `json:"holdExpireAt"`
	ScheduleID   string    `json:"scheduleId"`
}

type HoldFailedPayload struct {
	BookingID string `json:"bookingId"`
	Reason    string `json:"reason"`
}

type HoldExpiredPayload struct {
	BookingID string `json:"bookingId"`
	HoldID    string `json:"holdId"`
}

type PaymentRequestedPayload struct {
	BookingID   string  `json:"bookingId"`
	PatientID   string  `json:"patientId"`
	Price       float64 `json:"price"`
	Description string  `json:"description"`
}

type PaymentSucceededPayload struct {
	BookingID     string `json:"bookingId"`
	PaymentID     string `json:"paymentId"`
	TransactionID string `json:"transactionId"`
}

type PaymentFailedPayload struct {
	BookingID string `json:"bookingId"`
	Reason    string `json:"reason"`
}

type BookingConfirmedPayload struct {
	BookingID string `json:"bookingId"`
	HoldID    string `json:"holdId"`
	PaymentID string `json:"paymentId"`
}
