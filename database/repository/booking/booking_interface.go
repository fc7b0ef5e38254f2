package bookingRepo

import (
	"context"
	"errors"

	"medibook/models"
)

var ErrNotFound = errors.New("booking not found")

// Repository stores booking records. Status mutations flow through the saga
// repository so Booking and BookingSagaState stay consistent; this interface
// is the read side plus the admin override.
type Repository interface {
	Create(ctx context.Context, booking *models.Booking) error
	GetByID(ctx context.Context, id string) (*models.Booking, error)
	Update(ctx context.Context, booking *models.Booking) error
	ListByPatient(ctx context.Context, patientID string) ([]models.Booking, error)
	ListByClinic(ctx context.Context, clinicID string) ([]models.Booking, error)
}
