package events

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// Handler consumes one envelope. Delivery is at-least-once with no ordering
// guarantee across event types; handlers must be idempotent.
type Handler func(ctx context.Context, env Envelope) error

// Bus carries envelopes between components. Any transport satisfying the
// event contracts is conformant; this service ships an in-process bus and a
// RabbitMQ-backed one.
type Bus interface {
	Publish(ctx context.Context, env Envelope) error
	Subscribe(eventType string, h Handler)
}

// MemoryBus dispatches envelopes synchronously to subscribers in the same
// process. Handler errors are logged, not returned to the publisher, to keep
// publish semantics fire-and-forget like the broker bus.
type MemoryBus struct {
	mu       sync.RWMutex
	handlers map[string][]Handler
	logger   *zap.Logger
}

func NewMemoryBus(logger *zap.Logger) *MemoryBus {
	return &MemoryBus{
		handlers: make(map[string][]Handler),
		logger:   logger,
	}
}

func (b *MemoryBus) Subscribe(eventType string, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[eventType] = append(b.handlers[eventType], h)
}

func (b *MemoryBus) Publish(ctx context.Context, env Envelope) error {
	b.mu.RLock()
	hs := b.handlers[env.EventType]
	b.mu.RUnlock()

	for _, h := range hs {
		if err := h(ctx, env); err != nil {
			b.logger.Error("event handler failed",
				zap.String("eventType", env.EventType),
				zap.String("eventId", env.EventID),
				zap.String("bookingId", env.AggregateID),
				zap.Error(err))
		}
	}
	return nil
}
