package models

import "time"

// PackageSchedule is the capacity ledger for one bookable schedule instance
// of a checkup package. Invariant, enforced at every mutation:
// 0 <= BookedCount <= Capacity + OverbookLimit. Every HELD or CONFIRMED hold
// for this schedule counts exactly once toward BookedCount.
type PackageSchedule struct {
	ID            string    `bson:"id" json:"id"`
	ClinicID      string    `bson:"clinic_id" json:"clinicId"`
	DoctorID      string    `bson:"doctor_id" json:"doctorId"`
	PackageID     string    `bson:"package_id" json:"packageId"`
	Date          string    `bson:"date" json:"date"`   // "YYYY-MM-DD"
	Start         int       `bson:"start" json:"start"` // minutes from midnight
	End           int       `bson:"end" json:"end"`
	Capacity      int       `bson:"capacity" json:"capacity"`
	BookedCount   int       `bson:"booked_count" json:"bookedCount"`
	OverbookLimit int       `bson:"overbook_limit" json:"overbookLimit"`
	Version       int       `bson:"version" json:"version"`
	Deleted       bool      `bson:"deleted" json:"deleted"`
	CreatedAt     time.Time `bson:"created_at" json:"createdAt"`
	UpdatedAt     time.Time `bson:"updated_at" json:"updatedAt"`
}

// Limit is the hard ceiling on BookedCount.
func (s *PackageSchedule) Limit() int {
	return s.Capacity + s.OverbookLimit
}

// HasCapacity reports whether one more hold could currently be granted.
// Advisory only; the authoritative check is the repository's atomic reserve.
func (s *PackageSchedule) HasCapacity() bool {
	return !s.Deleted && s.BookedCount < s.Limit()
}
