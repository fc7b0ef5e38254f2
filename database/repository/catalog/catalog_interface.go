package catalogRepo

import (
	"context"
	"errors"

	"medibook/models"
)

var ErrNotFound = errors.New("catalog entity not found")

// Repository serves the clinic/doctor/package directory. Read-only here: the
// directory is owned by clinic administration, this service only looks up.
type Repository interface {
	GetClinic(ctx context.Context, id string) (*models.Clinic, error)
	ListClinics(ctx context.Context) ([]models.Clinic, error)
	GetDoctor(ctx context.Context, id string) (*models.Doctor, error)
	GetPackage(ctx context.Context, id string) (*models.CheckupPackage, error)
	ListPackages(ctx context.Context, clinicID string) ([]models.CheckupPackage, error)
}
