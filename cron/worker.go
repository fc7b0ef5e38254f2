package cron

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"medibook/config"
	"medibook/events"
	"medibook/services/schedule"
	"medibook/services/tasks"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"
)

// InitExpiryWorker runs the async worker that fires per-hold expiry tasks at
// their deadlines. The periodic reaper sweep covers anything this worker
// misses.
func InitExpiryWorker(engine schedule.Engine, bus events.Bus, logger *zap.Logger) {
	redisOpts := asynq.RedisClientOpt{
		Addr:     config.AppConfig.RedisAddr,
		Password: config.AppConfig.RedisPassword,
		DB:       config.AppConfig.RedisQueueDB,
	}

	srv := asynq.NewServer(
		redisOpts,
		asynq.Config{
			Concurrency: 10,
			Queues: map[string]int{
				"default": 1,
			},
		},
	)

	mux := asynq.NewServeMux()
	mux.HandleFunc(tasks.TypeHoldExpire, handleHoldExpireTask(engine, bus, logger))

	go func() {
		log.Println("[ExpiryWorker] starting async worker...")
		const maxAttempts = 5

		for attempts := 1; attempts <= maxAttempts; attempts++ {
			if err := srv.Run(mux); err != nil {
				log.Printf("[ExpiryWorker] attempt %d/%d failed to start worker: %v", attempts, maxAttempts, err)

				if attempts == maxAttempts {
					log.Fatal("[ExpiryWorker] max retry attempts reached, exiting")
				}
				time.Sleep(time.Duration(attempts*2) * time.Second)
			} else {
				break
			}
		}
	}()
}

func handleHoldExpireTask(engine schedule.Engine, bus events.Bus, logger *zap.Logger) asynq.HandlerFunc {
	return func(ctx context.Context, task *asynq.Task) error {
		var p tasks.HoldExpiryPayload
		if err := json.Unmarshal(task.Payload(), &p); err != nil {
			logger.Warn("invalid hold expiry payload", zap.Error(err))
			return err
		}

		hold, err := engine.ExpireHold(ctx, p.HoldID)
		if err != nil {
			logger.Error("hold expiry task failed", zap.String("holdId", p.HoldID), zap.Error(err))
			return err
		}
		if hold == nil {
			// Confirmed, cancelled, or already reaped. Nothing to announce.
			return nil
		}

		env, err := events.NewEnvelope(events.TypeHoldExpired, hold.BookingID, hold.CorrelationID, "hold-reaper",
			events.HoldExpiredPayload{BookingID: hold.BookingID, HoldID: hold.ID})
		if err != nil {
			return err
		}
		return bus.Publish(ctx, env)
	}
}
