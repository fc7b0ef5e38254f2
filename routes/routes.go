package routes

import (
	"net/http"
	"time"

	"medibook/handlers"
	"medibook/middleware"
	"medibook/services/booking"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

// RegisterCatalogRoutes registers the public clinic directory endpoints.
func RegisterCatalogRoutes(r *gin.Engine, hb *handlers.HandlerBundle) {
	api := r.Group("/api/catalog")
	{
		api.GET("/clinics", hb.Catalog.ListClinicsHandler)
		api.GET("/clinics/:id", hb.Catalog.GetClinicHandler)
		api.GET("/clinics/:id/packages", hb.Catalog.ListPackagesHandler)
		api.GET("/clinics/:id/schedules", hb.Catalog.ListSchedulesHandler)
		api.GET("/doctors/:id", hb.Catalog.GetDoctorHandler)
		api.GET("/schedules/:id", hb.Catalog.GetScheduleHandler)
	}
}

// RegisterBookingRoutes registers the booking lifecycle endpoints. All of them
// require authentication; service-level checks enforce ownership.
func RegisterBookingRoutes(r *gin.Engine, hb *handlers.HandlerBundle) {
	api := r.Group("/api/bookings")
	{
		api.Use(middleware.JWTAuthMiddleware())
		api.POST("", hb.Booking.CreateBookingHandler)
		api.GET("", hb.Booking.ListMyBookingsHandler)
		api.GET("/:id", hb.Booking.GetBookingHandler)
		api.DELETE("/:id", hb.Booking.CancelBookingHandler)
		api.GET("/:id/payment-url", hb.Booking.PaymentURLHandler)
		api.GET("/clinic/:clinicID", hb.Booking.ListClinicBookingsHandler)
	}
}

// RegisterAdminRoutes registers endpoints for clinic administration.
func RegisterAdminRoutes(r *gin.Engine, hb *handlers.HandlerBundle) {
	api := r.Group("/api/admin")
	{
		api.Use(middleware.JWTAuthMiddleware())
		api.Use(middleware.RequireRole(booking.RoleAdmin))
		api.PUT("/bookings/:id/status", hb.Booking.OverrideStatusHandler)
	}
}

// RegisterWebhookRoutes registers the payment gateway callback. No auth; the
// handler verifies the gateway signature itself.
func RegisterWebhookRoutes(r *gin.Engine, hb *handlers.HandlerBundle) {
	r.POST("/api/payments/webhook", hb.PaymentWebhook.Handle)
}

// RegisterHealthRoute registers a health-check endpoint.
func RegisterHealthRoute(r *gin.Engine) {
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
}

// RegisterRoutes centralizes registration of all endpoints and middleware.
func RegisterRoutes(r *gin.Engine, hb *handlers.HandlerBundle) {
	r.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Authorization", "Content-Type", "Stripe-Signature"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	RegisterHealthRoute(r)
	RegisterCatalogRoutes(r, hb)
	RegisterBookingRoutes(r, hb)
	RegisterAdminRoutes(r, hb)
	RegisterWebhookRoutes(r, hb)
}
