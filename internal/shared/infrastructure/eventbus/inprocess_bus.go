package eventbus

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"
)

// InProcessEventBus stands in for the broker in local mode. The outbox
// processor publishes to it and it dispatches synchronously, so a
// subscriber failure flows back to the outbox as a publish failure and
// the message is retried.
type InProcessEventBus struct {
	registry *ConsumerRegistry
	logger   *slog.Logger

	// dispatch is serialised so subscribers see events in outbox order.
	mu sync.Mutex
}

// NewInProcessEventBus creates a bus with an empty registry.
func NewInProcessEventBus(logger *slog.Logger) *InProcessEventBus {
	if logger == nil {
		logger = slog.Default()
	}
	return &InProcessEventBus{registry: NewConsumerRegistry(logger), logger: logger}
}

func (b *InProcessEventBus) RegisterConsumer(consumer EventConsumer) {
	b.registry.Register(consumer)
}

// Publish decodes an outbox envelope and hands it to the subscribers.
// An undecodable payload is dropped; retrying it could never succeed.
func (b *InProcessEventBus) Publish(ctx context.Context, routingKey string, payload []byte) error {
	var event ConsumedEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		b.logger.Error("dropping undecodable event", "routing_key", routingKey, "error", err)
		return nil
	}
	if event.RoutingKey == "" {
		event.RoutingKey = routingKey
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	start := time.Now()
	err := b.registry.Dispatch(ctx, &event)
	attrs := []any{
		"routing_key", event.RoutingKey,
		"event_id", event.EventID,
		"correlation_id", event.Metadata.CorrelationID,
		"duration_ms", time.Since(start).Milliseconds(),
	}
	if err != nil {
		b.logger.Error("event dispatch failed", append(attrs, "error", err)...)
		return err
	}
	b.logger.Debug("event dispatched", attrs...)
	return nil
}

// Start blocks until ctx is done; dispatch happens inside Publish.
func (b *InProcessEventBus) Start(ctx context.Context) error {
	b.logger.Info("in-process event bus started", "event_types", b.registry.EventTypes())
	<-ctx.Done()
	return ctx.Err()
}

func (b *InProcessEventBus) Close() error { return nil }

var (
	_ Publisher = (*InProcessEventBus)(nil)
	_ Consumer  = (*InProcessEventBus)(nil)
	_ Publisher = (*RabbitMQPublisher)(nil)
	_ Publisher = (*NoopPublisher)(nil)
)
