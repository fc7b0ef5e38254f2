package booking

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	bookingRepo "medibook/database/repository/booking"
	catalogRepo "medibook/database/repository/catalog"
	scheduleRepo "medibook/database/repository/schedule"
	"medibook/models"
	"medibook/services/payment"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	// ErrForbidden means the caller may not see or mutate this booking.
	ErrForbidden = errors.New("caller not allowed to access this booking")
	// ErrBadTransition means the requested admin override is not reachable
	// from the booking's current status.
	ErrBadTransition = errors.New("status not reachable from current state")
)

// RoleAdmin may override statuses and read any booking; RoleClinic may read
// its clinic's bookings.
const (
	RoleAdmin  = "admin"
	RoleClinic = "clinic"
)

// SagaDriver is the slice of the orchestrator the booking service drives.
type SagaDriver interface {
	Start(ctx context.Context, booking *models.Booking) error
	Cancel(ctx context.Context, bookingID string) error
}

// CreateBookingInput is the caller-supplied part of a new booking.
type CreateBookingInput struct {
	ClinicID   string `json:"clinicId" binding:"required"`
	PackageID  string `json:"packageId" binding:"required"`
	ScheduleID string `json:"scheduleId" binding:"required"`
	Notes      string `json:"notes"`
}

// Service is the booking command and query surface exposed to the host
// transport layer.
type Service interface {
	Create(ctx context.Context, caller models.CallerIdentity, input CreateBookingInput) (*models.Booking, error)
	Get(ctx context.Context, caller models.CallerIdentity, bookingID string) (*models.Booking, error)
	ListByPatient(ctx context.Context, caller models.CallerIdentity, patientID string) ([]models.Booking, error)
	ListByClinic(ctx context.Context, caller models.CallerIdentity, clinicID string) ([]models.Booking, error)
	Cancel(ctx context.Context, caller models.CallerIdentity, bookingID string) error
	OverrideStatus(ctx context.Context, caller models.CallerIdentity, bookingID, status string) (*models.Booking, error)
	PaymentURL(ctx context.Context, caller models.CallerIdentity, bookingID string) (string, error)
}

// DefaultBookingService implements Service.
type DefaultBookingService struct {
	Bookings  bookingRepo.Repository
	Catalog   catalogRepo.Repository
	Schedules scheduleRepo.Repository
	Saga      SagaDriver
	Payments  payment.Gateway
	Cache     *redis.Client // optional; nil disables detail caching
	Logger    *zap.Logger
}

const detailCacheTTL = 2 * time.Minute

func detailKey(bookingID string) string {
	return "booking:detail:" + bookingID
}

// Create validates the catalog references, persists the booking and kicks
// off its saga. The returned booking is PENDING_SCHEDULE; the capacity and
// payment outcomes arrive asynchronously.
func (s *DefaultBookingService) Create(ctx context.Context, caller models.CallerIdentity, input CreateBookingInput) (*models.Booking, error) {
	if _, err := s.Catalog.GetClinic(ctx, input.ClinicID); err != nil {
		return nil, fmt.Errorf("clinic %s: %w", input.ClinicID, err)
	}
	pkg, err := s.Catalog.GetPackage(ctx, input.PackageID)
	if err != nil {
		return nil, fmt.Errorf("package %s: %w", input.PackageID, err)
	}
	sched, err := s.Schedules.GetSchedule(ctx, input.ScheduleID)
	if err != nil {
		return nil, fmt.Errorf("schedule %s: %w", input.ScheduleID, err)
	}
	if sched.ClinicID != input.ClinicID || sched.PackageID != input.PackageID {
		return nil, fmt.Errorf("schedule %s does not belong to the requested clinic/package", input.ScheduleID)
	}

	booking := &models.Booking{
		ID:         uuid.New().String(),
		PatientID:  caller.UserID,
		ClinicID:   input.ClinicID,
		PackageID:  input.PackageID,
		ScheduleID: input.ScheduleID,
		Price:      pkg.Price,
		Notes:      input.Notes,
	}
	if err := s.Saga.Start(ctx, booking); err != nil {
		return nil, err
	}
	return booking, nil
}

func (s *DefaultBookingService) Get(ctx context.Context, caller models.CallerIdentity, bookingID string) (*models.Booking, error) {
	if s.Cache != nil {
		if data, err := s.Cache.Get(ctx, detailKey(bookingID)).Result(); err == nil {
			var b models.Booking
			if err := json.Unmarshal([]byte(data), &b); err == nil {
				return s.authorizeRead(caller, &b)
			}
		}
	}

	b, err := s.Bookings.GetByID(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if s.Cache != nil {
		if data, err := json.Marshal(b); err == nil {
			if err := s.Cache.Set(ctx, detailKey(bookingID), data, detailCacheTTL).Err(); err != nil {
				s.Logger.Warn("booking detail cache write failed", zap.String("bookingId", bookingID), zap.Error(err))
			}
		}
	}
	return s.authorizeRead(caller, b)
}

func (s *DefaultBookingService) ListByPatient(ctx context.Context, caller models.CallerIdentity, patientID string) ([]models.Booking, error) {
	if caller.UserID != patientID && !caller.HasRole(RoleAdmin) {
		return nil, ErrForbidden
	}
	return s.Bookings.ListByPatient(ctx, patientID)
}

func (s *DefaultBookingService) ListByClinic(ctx context.Context, caller models.CallerIdentity, clinicID string) ([]models.Booking, error) {
	if !caller.HasRole(RoleAdmin) && !caller.HasRole(RoleClinic) {
		return nil, ErrForbidden
	}
	return s.Bookings.ListByClinic(ctx, clinicID)
}

// Cancel routes a user cancellation through the saga's compensation path.
func (s *DefaultBookingService) Cancel(ctx context.Context, caller models.CallerIdentity, bookingID string) error {
	b, err := s.Bookings.GetByID(ctx, bookingID)
	if err != nil {
		return err
	}
	if b.PatientID != caller.UserID && !caller.HasRole(RoleAdmin) {
		return ErrForbidden
	}
	if err := s.Saga.Cancel(ctx, bookingID); err != nil {
		return err
	}
	s.invalidate(ctx, bookingID)
	return nil
}

// OverrideStatus is the admin-only hook for the post-confirmation states the
// saga does not drive (patient showed up, or did not).
func (s *DefaultBookingService) OverrideStatus(ctx context.Context, caller models.CallerIdentity, bookingID, status string) (*models.Booking, error) {
	if !caller.HasRole(RoleAdmin) {
		return nil, ErrForbidden
	}
	target, err := models.ParseBookingStatus(status)
	if err != nil {
		return nil, err
	}
	b, err := s.Bookings.GetByID(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if b.Status != models.BookingConfirmed ||
		(target != models.BookingAbsent && target != models.BookingCompleted) {
		return nil, ErrBadTransition
	}

	b.Status = target
	b.UpdatedAt = time.Now()
	if err := s.Bookings.Update(ctx, b); err != nil {
		return nil, err
	}
	s.invalidate(ctx, bookingID)
	s.Logger.Info("booking status overridden",
		zap.String("bookingId", bookingID),
		zap.String("status", status),
		zap.String("by", caller.UserID))
	return b, nil
}

func (s *DefaultBookingService) PaymentURL(ctx context.Context, caller models.CallerIdentity, bookingID string) (string, error) {
	b, err := s.Bookings.GetByID(ctx, bookingID)
	if err != nil {
		return "", err
	}
	if b.PatientID != caller.UserID && !caller.HasRole(RoleAdmin) {
		return "", ErrForbidden
	}
	pay, err := s.Payments.PaymentForBooking(ctx, bookingID)
	if err != nil {
		return "", err
	}
	return pay.LinkURL, nil
}

func (s *DefaultBookingService) authorizeRead(caller models.CallerIdentity, b *models.Booking) (*models.Booking, error) {
	if b.PatientID != caller.UserID && !caller.HasRole(RoleAdmin) && !caller.HasRole(RoleClinic) {
		return nil, ErrForbidden
	}
	return b, nil
}

func (s *DefaultBookingService) invalidate(ctx context.Context, bookingID string) {
	if s.Cache != nil {
		s.Cache.Del(ctx, detailKey(bookingID))
	}
}
