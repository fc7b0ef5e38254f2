package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"medibook/config"
	"medibook/cron"
	"medibook/database"
	bookingRepoPkg "medibook/database/repository/booking"
	catalogRepoPkg "medibook/database/repository/catalog"
	sagaRepoPkg "medibook/database/repository/saga"
	scheduleRepoPkg "medibook/database/repository/schedule"
	"medibook/events"
	"medibook/handlers"
	"medibook/middleware"
	"medibook/routes"
	"medibook/services/booking"
	"medibook/services/payment"
	"medibook/services/saga"
	"medibook/services/schedule"
	"medibook/utils"

	"github.com/gin-gonic/gin"
	"github.com/hibiken/asynq"
	"github.com/stripe/stripe-go/v76"
)

func main() {
	config.LoadConfig()
	logger := utils.GetLogger()

	database.InitDB()
	utils.InitCache()
	stripe.Key = config.AppConfig.StripeKey

	// Create the Gin router.
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(utils.ErrorHandler())
	router.Use(gin.Logger())
	router.Use(middleware.RateLimitMiddleware())

	// Repositories.
	schedRepo := scheduleRepoPkg.NewMongoScheduleRepo()
	bkRepo := bookingRepoPkg.NewMongoBookingRepo()
	sgRepo := sagaRepoPkg.NewMongoSagaRepo()
	catRepo := catalogRepoPkg.NewMongoCatalogRepo()

	// Event bus. The memory bus keeps everything in-process; rabbit fans the
	// same envelopes out through a broker.
	var bus events.Bus
	var rabbit *events.RabbitBus
	if config.AppConfig.EventBus == "rabbit" {
		var err error
		rabbit, err = events.NewRabbitBus(
			config.AppConfig.RabbitURL,
			config.AppConfig.RabbitExchange,
			config.AppConfig.RabbitQueue,
			logger,
		)
		if err != nil {
			logger.Sugar().Fatalf("main: failed to connect to rabbitmq: %v", err)
		}
		bus = rabbit
	} else {
		bus = events.NewMemoryBus(logger)
	}

	// Hold engine plus its expiry machinery. Realign the capacity ledgers
	// with the live hold set before any traffic touches them.
	engine := schedule.NewEngine(schedRepo, config.HoldTTL(), logger)
	if _, err := engine.ReconcileLedgers(context.Background()); err != nil {
		logger.Sugar().Errorf("main: capacity ledger reconcile failed: %v", err)
	}
	taskClient := asynq.NewClient(asynq.RedisClientOpt{
		Addr:     config.AppConfig.RedisAddr,
		Password: config.AppConfig.RedisPassword,
		DB:       config.AppConfig.RedisQueueDB,
	})
	defer taskClient.Close()

	scheduleListener := &schedule.Listener{
		Engine: engine,
		Bus:    bus,
		Tasks:  taskClient,
		Logger: logger,
	}
	scheduleListener.Register()

	reaper := schedule.NewReaper(engine, bus, logger)
	if err := reaper.Start(config.AppConfig.ReaperInterval); err != nil {
		logger.Sugar().Fatalf("main: failed to start hold reaper: %v", err)
	}
	defer reaper.Stop()

	cron.InitExpiryWorker(engine, bus, logger)

	// Payment gateway.
	gateway := payment.NewStripeGateway(utils.GetCacheClient(), logger)
	paymentListener := &payment.Listener{
		Gateway:  gateway,
		Bus:      bus,
		Currency: "usd",
		Logger:   logger,
	}
	paymentListener.Register()

	// Saga orchestrator.
	orchestrator := saga.NewOrchestrator(sgRepo, bkRepo, engine, gateway, bus, logger)
	orchestrator.Register()

	if rabbit != nil {
		if err := rabbit.Run(context.Background()); err != nil {
			logger.Sugar().Fatalf("main: failed to start rabbitmq consumer: %v", err)
		}
	}

	// Resume whatever was in flight before the restart.
	if err := orchestrator.Recover(context.Background()); err != nil {
		logger.Sugar().Errorf("main: saga recovery failed: %v", err)
	}

	// Services and handlers.
	bookingService := &booking.DefaultBookingService{
		Bookings:  bkRepo,
		Catalog:   catRepo,
		Schedules: schedRepo,
		Saga:      orchestrator,
		Payments:  gateway,
		Cache:     utils.GetCacheClient(),
		Logger:    logger,
	}

	handlerBundle := &handlers.HandlerBundle{
		Booking:        handlers.NewBookingHandler(bookingService, logger),
		Catalog:        handlers.NewCatalogHandler(catRepo, schedRepo, logger),
		PaymentWebhook: handlers.NewPaymentWebhookHandler(bus, logger),
	}

	routes.RegisterRoutes(router, handlerBundle)

	// Start the HTTP server.
	port := config.AppConfig.AppPort
	if port == "" {
		port = "8080"
	}
	srv := &http.Server{
		Addr:    "0.0.0.0:" + port,
		Handler: router,
	}

	logger.Sugar().Infof("Starting server on %s...", srv.Addr)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Sugar().Fatalf("main: server failed to start: %v", err)
		}
	}()

	// Wait for an OS signal to gracefully shutdown.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Sugar().Info("main: server is shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Sugar().Fatalf("main: server forced to shutdown: %v", err)
	}
	if rabbit != nil {
		_ = rabbit.Close()
	}

	logger.Sugar().Info("main: server stopped gracefully")
}
