package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// RabbitBus is a Bus backed by a RabbitMQ topic exchange. Routing key is the
// event type; bodies are JSON envelopes. Each subscriber gets a durable queue
// bound to its event type, so delivery is at-least-once.
type RabbitBus struct {
	conn     *amqp.Connection
	ch       *amqp.Channel
	exchange string
	queue    string
	logger   *zap.Logger

	mu       sync.Mutex
	handlers map[string][]Handler
}

// NewRabbitBus dials the broker and declares the topic exchange plus one
// durable queue for this service instance.
func NewRabbitBus(url, exchange, queue string, logger *zap.Logger) (*RabbitBus, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial rabbitmq: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("declare exchange: %w", err)
	}
	if _, err := ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("declare queue: %w", err)
	}
	return &RabbitBus{
		conn:     conn,
		ch:       ch,
		exchange: exchange,
		queue:    queue,
		logger:   logger,
		handlers: make(map[string][]Handler),
	}, nil
}

func (b *RabbitBus) Publish(ctx context.Context, env Envelope) error {
	body, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}
	return b.ch.PublishWithContext(ctx, b.exchange, env.EventType, false, false, amqp.Publishing{
		ContentType: "application/json",
		MessageId:   env.EventID,
		Body:        body,
	})
}

func (b *RabbitBus) Subscribe(eventType string, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.ch.QueueBind(b.queue, eventType, b.exchange, false, nil); err != nil {
		b.logger.Error("queue bind failed", zap.String("eventType", eventType), zap.Error(err))
		return
	}
	b.handlers[eventType] = append(b.handlers[eventType], h)
}

// Run consumes from the service queue until ctx is cancelled. Handler errors
// nack with requeue; undecodable bodies are acked and dropped.
func (b *RabbitBus) Run(ctx context.Context) error {
	msgs, err := b.ch.ConsumeWithContext(ctx, b.queue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("consume: %w", err)
	}
	go func() {
		for d := range msgs {
			var env Envelope
			if err := json.Unmarshal(d.Body, &env); err != nil {
				b.logger.Warn("dropping undecodable event", zap.String("routingKey", d.RoutingKey), zap.Error(err))
				_ = d.Ack(false)
				continue
			}
			b.mu.Lock()
			hs := b.handlers[env.EventType]
			b.mu.Unlock()

			failed := false
			for _, h := range hs {
				if err := h(ctx, env); err != nil {
					b.logger.Error("event handler failed",
						zap.String("eventType", env.EventType),
						zap.String("eventId", env.EventID),
						zap.Error(err))
					failed = true
				}
			}
			if failed {
				_ = d.Nack(false, true)
			} else {
				_ = d.Ack(false)
			}
		}
	}()
	return nil
}

func (b *RabbitBus) Close() error {
	if b.ch != nil {
		_ = b.ch.Close()
	}
	if b.conn != nil {
		return b.conn.Close()
	}
	return nil
}
