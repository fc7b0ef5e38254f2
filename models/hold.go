package models

import (
	"fmt"
	"time"
)

// HoldStatus is the lifecycle state of a schedule hold. HELD is the only
// live state; the other three are terminal.
type HoldStatus string

const (
	HoldHeld      HoldStatus = "HELD"
	HoldConfirmed HoldStatus = "CONFIRMED"
	HoldCancelled HoldStatus = "CANCELLED"
	HoldExpired   HoldStatus = "EXPIRED"
)

// ParseHoldStatus maps a stored label back to a HoldStatus, erroring on
// anything unrecognized.
func ParseHoldStatus(s string) (HoldStatus, error) {
	switch HoldStatus(s) {
	case HoldHeld, HoldConfirmed, HoldCancelled, HoldExpired:
		return HoldStatus(s), nil
	}
	return "", fmt.Errorf("unknown hold status %q", s)
}

// Terminal reports whether the status permits no further transition.
func (s HoldStatus) Terminal() bool {
	return s == HoldConfirmed || s == HoldCancelled || s == HoldExpired
}

// ScheduleHold is a time-bounded reservation of one unit of schedule
// capacity. A HELD or CONFIRMED hold counts exactly once toward the owning
// schedule's bookedCount; CANCELLED and EXPIRED holds count zero.
type ScheduleHold struct {
	ID            string     `bson:"id" json:"id"`
	ScheduleID    string     `bson:"schedule_id" json:"scheduleId"`
	BookingID     string     `bson:"booking_id" json:"bookingId"`
	CorrelationID string     `bson:"correlation_id" json:"correlationId"`
	Status        HoldStatus `bson:"status" json:"status"`
	ExpireAt      time.Time  `bson:"expire_at" json:"expireAt"`
	CreatedAt     time.Time  `bson:"created_at" json:"createdAt"`
	UpdatedAt     time.Time  `bson:"updated_at" json:"updatedAt"`
}
