package handlers

import (
	"errors"
	"net/http"

	catalogRepo "medibook/database/repository/catalog"
	scheduleRepo "medibook/database/repository/schedule"
	"medibook/models"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// CatalogHandler serves the read-only clinic directory plus advisory schedule
// availability.
type CatalogHandler struct {
	Catalog   catalogRepo.Repository
	Schedules scheduleRepo.Repository
	Logger    *zap.Logger
}

func NewCatalogHandler(catalog catalogRepo.Repository, schedules scheduleRepo.Repository, logger *zap.Logger) *CatalogHandler {
	return &CatalogHandler{Catalog: catalog, Schedules: schedules, Logger: logger}
}

func (h *CatalogHandler) ListClinicsHandler(c *gin.Context) {
	clinics, err := h.Catalog.ListClinics(c.Request.Context())
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"clinics": clinics})
}

func (h *CatalogHandler) GetClinicHandler(c *gin.Context) {
	clinic, err := h.Catalog.GetClinic(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"clinic": clinic})
}

func (h *CatalogHandler) GetDoctorHandler(c *gin.Context) {
	doctor, err := h.Catalog.GetDoctor(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"doctor": doctor})
}

func (h *CatalogHandler) ListPackagesHandler(c *gin.Context) {
	packages, err := h.Catalog.ListPackages(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"packages": packages})
}

// scheduleView decorates a schedule with its advisory availability. Only the
// hold engine's atomic reserve is authoritative; this flag can be stale the
// moment it is computed.
type scheduleView struct {
	models.PackageSchedule
	Available bool `json:"available"`
}

func (h *CatalogHandler) ListSchedulesHandler(c *gin.Context) {
	schedules, err := h.Schedules.ListSchedules(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	views := make([]scheduleView, 0, len(schedules))
	for _, s := range schedules {
		views = append(views, scheduleView{PackageSchedule: s, Available: s.HasCapacity()})
	}
	c.JSON(http.StatusOK, gin.H{"schedules": views})
}

func (h *CatalogHandler) GetScheduleHandler(c *gin.Context) {
	sched, err := h.Schedules.GetSchedule(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"schedule": scheduleView{PackageSchedule: *sched, Available: sched.HasCapacity()}})
}

func (h *CatalogHandler) respondError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, catalogRepo.ErrNotFound), errors.Is(err, scheduleRepo.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	default:
		h.Logger.Error("catalog request failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
