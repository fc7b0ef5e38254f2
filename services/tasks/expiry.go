package tasks

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"
)

const TypeHoldExpire = "hold:expire"

// HoldExpiryPayload identifies the hold to expire when the task fires.
type HoldExpiryPayload struct {
	HoldID string `json:"holdId"`
}

// NewHoldExpiryTask builds a one-shot task scheduled at the hold's deadline.
func NewHoldExpiryTask(holdID string, fireAt time.Time) (*asynq.Task, []asynq.Option, error) {
	b, err := json.Marshal(HoldExpiryPayload{HoldID: holdID})
	if err != nil {
		return nil, nil, err
	}
	task := asynq.NewTask(TypeHoldExpire, b)
	opts := []asynq.Option{asynq.ProcessAt(fireAt)}

	return task, opts, nil
}
