package bookingRepo

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"medibook/models"
)

// MemoryBookingRepo backs tests and single-process development.
type MemoryBookingRepo struct {
	mu       sync.Mutex
	bookings map[string]*models.Booking
}

func NewMemoryBookingRepo() *MemoryBookingRepo {
	return &MemoryBookingRepo{bookings: make(map[string]*models.Booking)}
}

func (r *MemoryBookingRepo) Create(ctx context.Context, booking *models.Booking) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.bookings[booking.ID]; exists {
		return fmt.Errorf("booking %s already exists", booking.ID)
	}
	cp := *booking
	r.bookings[booking.ID] = &cp
	return nil
}

func (r *MemoryBookingRepo) GetByID(ctx context.Context, id string) (*models.Booking, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.bookings[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *b
	return &cp, nil
}

func (r *MemoryBookingRepo) Update(ctx context.Context, booking *models.Booking) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.bookings[booking.ID]; !ok {
		return ErrNotFound
	}
	cp := *booking
	r.bookings[booking.ID] = &cp
	return nil
}

func (r *MemoryBookingRepo) ListByPatient(ctx context.Context, patientID string) ([]models.Booking, error) {
	return r.list(func(b *models.Booking) bool { return b.PatientID == patientID })
}

func (r *MemoryBookingRepo) ListByClinic(ctx context.Context, clinicID string) ([]models.Booking, error) {
	return r.list(func(b *models.Booking) bool { return b.ClinicID == clinicID })
}

func (r *MemoryBookingRepo) list(match func(*models.Booking) bool) ([]models.Booking, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.Booking
	for _, b := range r.bookings {
		if match(b) {
			out = append(out, *b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}
