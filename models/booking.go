package models

import (
	"fmt"
	"time"
)

// BookingStatus is the lifecycle state of a booking. It only ever moves
// forward; terminal states are never left.
type BookingStatus string

const (
	BookingPending         BookingStatus = "PENDING"
	BookingPendingSchedule BookingStatus = "PENDING_SCHEDULE"
	BookingPendingPayment  BookingStatus = "PENDING_PAYMENT"
	BookingConfirmed       BookingStatus = "CONFIRMED"
	BookingRejectedNoSlot  BookingStatus = "REJECTED_NO_SLOT"
	BookingCancelled       BookingStatus = "CANCELLED"
	BookingExpired         BookingStatus = "EXPIRED"
	BookingFailedAfterPay  BookingStatus = "FAILED_NO_SLOT_AFTER_PAYMENT"
	BookingAbsent          BookingStatus = "ABSENT"
	BookingCompleted       BookingStatus = "COMPLETED"
)

// ParseBookingStatus maps a stored label back to a BookingStatus. An
// unrecognized label is a data error and is surfaced, never defaulted.
func ParseBookingStatus(s string) (BookingStatus, error) {
	switch BookingStatus(s) {
	case BookingPending, BookingPendingSchedule, BookingPendingPayment,
		BookingConfirmed, BookingRejectedNoSlot, BookingCancelled,
		BookingExpired, BookingFailedAfterPay, BookingAbsent, BookingCompleted:
		return BookingStatus(s), nil
	}
	return "", fmt.Errorf("unknown booking status %q", s)
}

// Terminal reports whether no saga-driven transition can leave this status.
func (s BookingStatus) Terminal() bool {
	switch s {
	case BookingConfirmed, BookingRejectedNoSlot, BookingCancelled,
		BookingExpired, BookingFailedAfterPay, BookingAbsent, BookingCompleted:
		return true
	}
	return false
}

// Booking is the appointment record driven by the saga orchestrator. It is
// owned exclusively by the orchestrator; everything else reads it.
type Booking struct {
	ID         string        `bson:"id" json:"id"`
	PatientID  string        `bson:"patient_id" json:"patientId"`
	ClinicID   string        `bson:"clinic_id" json:"clinicId"`
	PackageID  string        `bson:"package_id" json:"packageId"`
	ScheduleID string        `bson:"schedule_id" json:"scheduleId"`
	Status     BookingStatus `bson:"status" json:"status"`
	HoldID     string        `bson:"hold_id,omitempty" json:"holdId,omitempty"`
	PaymentID  string        `bson:"payment_id,omitempty" json:"paymentId,omitempty"`
	Price      float64       `bson:"price" json:"price"`
	Notes      string        `bson:"notes,omitempty" json:"notes,omitempty"`
	CreatedAt  time.Time     `bson:"created_at" json:"createdAt"`
	UpdatedAt  time.Time     `bson:"updated_at" json:"updatedAt"`
}
