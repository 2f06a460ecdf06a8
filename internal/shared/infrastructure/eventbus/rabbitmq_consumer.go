package eventbus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

const (
	// DefaultConsumerQueueName is the durable queue the notification worker reads.
	DefaultConsumerQueueName = "agora.notifications"
	// DefaultDeadLetterExchange receives deliveries that failed twice.
	DefaultDeadLetterExchange = "agora.notifications.dlx"
)

// RabbitMQConsumer reads entitlement events from a durable queue and hands
// them to the registry. A delivery that fails is requeued once; a second
// failure routes it to the dead-letter exchange.
type RabbitMQConsumer struct {
	conn     *amqp.Connection
	channel  *amqp.Channel
	queue    string
	exchange string
	registry *ConsumerRegistry
	logger   *slog.Logger

	mu      sync.Mutex
	running bool
	closed  chan struct{}
}

// RabbitMQConsumerConfig configures the RabbitMQ consumer.
type RabbitMQConsumerConfig struct {
	URL       string
	QueueName string
	Exchange  string
	// DeadLetterExchange is declared as a fanout exchange with a queue of
	// the same name so failed notifications can be inspected.
	DeadLetterExchange string
	Logger             *slog.Logger
}

// NewRabbitMQConsumer connects and declares the exchanges and queues.
// Routing keys are bound from the registry when Start is called.
func NewRabbitMQConsumer(cfg RabbitMQConsumerConfig, registry *ConsumerRegistry) (*RabbitMQConsumer, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.QueueName == "" {
		cfg.QueueName = DefaultConsumerQueueName
	}
	if cfg.Exchange == "" {
		cfg.Exchange = ExchangeName
	}
	if cfg.DeadLetterExchange == "" {
		cfg.DeadLetterExchange = DefaultDeadLetterExchange
	}

	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}
	if err := declareTopology(ch, cfg); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, err
	}

	cfg.Logger.Info("RabbitMQ consumer connected",
		"queue", cfg.QueueName,
		"exchange", cfg.Exchange,
		"dead_letter_exchange", cfg.DeadLetterExchange,
	)
	return &RabbitMQConsumer{
		conn:     conn,
		channel:  ch,
		queue:    cfg.QueueName,
		exchange: cfg.Exchange,
		registry: registry,
		logger:   cfg.Logger,
		closed:   make(chan struct{}),
	}, nil
}

func declareTopology(ch *amqp.Channel, cfg RabbitMQConsumerConfig) error {
	if err := declareExchange(ch, cfg.Exchange); err != nil {
		return err
	}
	if err := ch.ExchangeDeclare(cfg.DeadLetterExchange, "fanout", true, false, false, false, nil); err != nil {
		return fmt.Errorf("failed to declare dead-letter exchange: %w", err)
	}
	if _, err := ch.QueueDeclare(cfg.DeadLetterExchange, true, false, false, false, nil); err != nil {
		return fmt.Errorf("failed to declare dead-letter queue: %w", err)
	}
	if err := ch.QueueBind(cfg.DeadLetterExchange, "", cfg.DeadLetterExchange, false, nil); err != nil {
		return fmt.Errorf("failed to bind dead-letter queue: %w", err)
	}

	args := amqp.Table{"x-dead-letter-exchange": cfg.DeadLetterExchange}
	if _, err := ch.QueueDeclare(cfg.QueueName, true, false, false, false, args); err != nil {
		return fmt.Errorf("failed to declare queue: %w", err)
	}
	return nil
}

// RegisterConsumer adds consumer to the registry. Its routing keys are bound
// on Start.
func (c *RabbitMQConsumer) RegisterConsumer(consumer EventConsumer) {
	c.registry.Register(consumer)
}

// Start binds every registered routing key and consumes until ctx is done or
// Close is called.
func (c *RabbitMQConsumer) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return errors.New("consumer already running")
	}
	c.running = true
	c.mu.Unlock()

	for _, routingKey := range c.registry.EventTypes() {
		if err := c.channel.QueueBind(c.queue, routingKey, c.exchange, false, nil); err != nil {
			return fmt.Errorf("failed to bind %s: %w", routingKey, err)
		}
		c.logger.Debug("bound queue to routing key", "queue", c.queue, "routing_key", routingKey)
	}

	if err := c.channel.Qos(1, 0, false); err != nil {
		return fmt.Errorf("failed to set QoS: %w", err)
	}
	msgs, err := c.channel.Consume(c.queue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("failed to start consuming: %w", err)
	}
	c.logger.Info("started consuming events", "queue", c.queue)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.closed:
			return nil
		case msg, ok := <-msgs:
			if !ok {
				return errors.New("message channel closed unexpectedly")
			}
			c.settle(msg, c.handle(ctx, msg.RoutingKey, msg.Body), msg.Redelivered)
		}
	}
}

// acknowledger is the part of amqp.Delivery used to settle a message.
type acknowledger interface {
	Ack(multiple bool) error
	Nack(multiple, requeue bool) error
}

// settle acks a handled delivery. A failed first delivery is requeued and a
// failed redelivery is dead-lettered.
func (c *RabbitMQConsumer) settle(msg acknowledger, err error, redelivered bool) {
	var settleErr error
	switch {
	case err == nil:
		settleErr = msg.Ack(false)
	case redelivered:
		c.logger.Warn("dead-lettering event after redelivery failed", "error", err)
		settleErr = msg.Nack(false, false)
	default:
		settleErr = msg.Nack(false, true)
	}
	if settleErr != nil {
		c.logger.Error("failed to settle message", "error", settleErr)
	}
}

// handle decodes and dispatches one delivery. An undecodable body is
// dropped since no retry can fix it.
func (c *RabbitMQConsumer) handle(ctx context.Context, routingKey string, body []byte) error {
	event := &ConsumedEvent{}
	if err := json.Unmarshal(body, event); err != nil {
		c.logger.Error("dropping undecodable event", "routing_key", routingKey, "error", err)
		return nil
	}
	if event.RoutingKey == "" {
		event.RoutingKey = routingKey
	}

	start := time.Now()
	if err := c.registry.Dispatch(ctx, event); err != nil {
		return fmt.Errorf("dispatch %s %s: %w", event.RoutingKey, event.EventID, err)
	}
	c.logger.Debug("event processed",
		"routing_key", event.RoutingKey,
		"event_id", event.EventID,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return nil
}

// Close stops Start and closes the connection.
func (c *RabbitMQConsumer) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	select {
	case <-c.closed:
		return nil
	default:
		close(c.closed)
	}
	c.running = false

	if err := c.channel.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
		c.logger.Warn("error closing channel", "error", err)
	}
	if err := c.conn.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
		return err
	}
	c.logger.Info("RabbitMQ consumer closed")
	return nil
}

var _ Consumer = (*RabbitMQConsumer)(nil)
