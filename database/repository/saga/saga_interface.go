package sagaRepo

import (
	"context"
	"errors"

	"medibook/models"
)

var (
	ErrNotFound = errors.New("saga state not found")
	// ErrStaleState means the guarded update found the saga in a different
	// status than the caller loaded it with: another writer's transition
	// landed first and this one must not.
	ErrStaleState = errors.New("saga state moved since it was read")
)

// Repository persists saga progress. Writes always carry the Booking along so
// a crash can never separate "hold confirmed" from "booking marked CONFIRMED":
// both implementations apply the pair atomically.
type Repository interface {
	// CreateWithBooking stores a fresh saga state and its booking together.
	CreateWithBooking(ctx context.Context, saga *models.BookingSagaState, booking *models.Booking) error

	Get(ctx context.Context, bookingID string) (*models.BookingSagaState, error)

	// UpdateWithBooking persists a transition: saga state and booking in one
	// atomic write, applied iff the stored saga is still in the from status.
	// Returns ErrStaleState when it is not, so two racing transitions can
	// never both land.
	UpdateWithBooking(ctx context.Context, saga *models.BookingSagaState, booking *models.Booking, from models.BookingStatus) error

	// ListNonTerminal returns sagas still in flight, for crash recovery.
	ListNonTerminal(ctx context.Context) ([]models.BookingSagaState, error)
}
