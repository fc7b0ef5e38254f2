package handlers

import (
	"errors"
	"net/http"

	bookingRepo "medibook/database/repository/booking"
	"medibook/middleware"
	"medibook/services/booking"
	"medibook/services/payment"
	"medibook/services/saga"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// BookingHandler exposes the booking service over HTTP.
type BookingHandler struct {
	Service booking.Service
	Logger  *zap.Logger
}

func NewBookingHandler(svc booking.Service, logger *zap.Logger) *BookingHandler {
	return &BookingHandler{Service: svc, Logger: logger}
}

// CreateBookingHandler accepts a new booking request. The response carries the
// booking in PENDING_SCHEDULE; hold and payment outcomes arrive asynchronously
// and are observed by polling GET /bookings/:id.
func (h *BookingHandler) CreateBookingHandler(c *gin.Context) {
	var input booking.CreateBookingInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid input", "details": err.Error()})
		return
	}

	b, err := h.Service.Create(c.Request.Context(), middleware.Caller(c), input)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"booking": b})
}

func (h *BookingHandler) GetBookingHandler(c *gin.Context) {
	b, err := h.Service.Get(c.Request.Context(), middleware.Caller(c), c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"booking": b})
}

// ListMyBookingsHandler lists the caller's own bookings.
func (h *BookingHandler) ListMyBookingsHandler(c *gin.Context) {
	caller := middleware.Caller(c)
	list, err := h.Service.ListByPatient(c.Request.Context(), caller, caller.UserID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"bookings": list})
}

func (h *BookingHandler) ListClinicBookingsHandler(c *gin.Context) {
	list, err := h.Service.ListByClinic(c.Request.Context(), middleware.Caller(c), c.Param("clinicID"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"bookings": list})
}

func (h *BookingHandler) CancelBookingHandler(c *gin.Context) {
	if err := h.Service.Cancel(c.Request.Context(), middleware.Caller(c), c.Param("id")); err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "cancelled"})
}

// PaymentURLHandler returns the payment link for a booking awaiting payment.
func (h *BookingHandler) PaymentURLHandler(c *gin.Context) {
	url, err := h.Service.PaymentURL(c.Request.Context(), middleware.Caller(c), c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"paymentUrl": url})
}

// OverrideStatusHandler marks a confirmed booking COMPLETED or ABSENT.
func (h *BookingHandler) OverrideStatusHandler(c *gin.Context) {
	var input struct {
		Status string `json:"status" binding:"required"`
	}
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid input", "details": err.Error()})
		return
	}

	b, err := h.Service.OverrideStatus(c.Request.Context(), middleware.Caller(c), c.Param("id"), input.Status)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"booking": b})
}

func (h *BookingHandler) respondError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, bookingRepo.ErrNotFound), errors.Is(err, saga.ErrNotFound),
		errors.Is(err, payment.ErrNoPayment):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, booking.ErrForbidden):
		c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
	case errors.Is(err, booking.ErrBadTransition), errors.Is(err, saga.ErrNotCancellable):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		h.Logger.Error("booking request failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
