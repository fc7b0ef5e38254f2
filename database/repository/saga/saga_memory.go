package sagaRepo

import (
	"context"
	"fmt"
	"sync"

	bookingRepo "medibook/database/repository/booking"
	"medibook/models"
)

// MemorySagaRepo shares the booking repository so saga-state and booking
// writes land together under one lock, mirroring the Mongo transaction.
type MemorySagaRepo struct {
	mu       sync.Mutex
	sagas    map[string]*models.BookingSagaState
	bookings bookingRepo.Repository
}

func NewMemorySagaRepo(bookings bookingRepo.Repository) *MemorySagaRepo {
	return &MemorySagaRepo{
		sagas:    make(map[string]*models.BookingSagaState),
		bookings: bookings,
	}
}

func (r *MemorySagaRepo) CreateWithBooking(ctx context.Context, saga *models.BookingSagaState, booking *models.Booking) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.sagas[saga.BookingID]; exists {
		return fmt.Errorf("saga for booking %s already exists", saga.BookingID)
	}
	if err := r.bookings.Create(ctx, booking); err != nil {
		return err
	}
	cp := *saga
	r.sagas[saga.BookingID] = &cp
	return nil
}

func (r *MemorySagaRepo) Get(ctx context.Context, bookingID string) (*models.BookingSagaState, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	saga, ok := r.sagas[bookingID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *saga
	return &cp, nil
}

func (r *MemorySagaRepo) UpdateWithBooking(ctx context.Context, saga *models.BookingSagaState, booking *models.Booking, from models.BookingStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.sagas[saga.BookingID]
	if !ok {
		return ErrNotFound
	}
	if cur.Status != from {
		return ErrStaleState
	}
	if err := r.bookings.Update(ctx, booking); err != nil {
		return err
	}
	cp := *saga
	r.sagas[saga.BookingID] = &cp
	return nil
}

func (r *MemorySagaRepo) ListNonTerminal(ctx context.Context) ([]models.BookingSagaState, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.BookingSagaState
	for _, s := range r.sagas {
		if !s.Terminal() {
			out = append(out, *s)
		}
	}
	return out, nil
}
