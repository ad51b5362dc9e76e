package broker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Guizzs26/go-region-sync/internal/models"
	"github.com/Guizzs26/go-region-sync/internal/service"
	"github.com/Guizzs26/go-region-sync/pkg/metrics"
	amqp "github.com/rabbitmq/amqp091-go"
)

const (
	retryHeader         = "x-sync-fk-retries"
	defaultMaxFKRetries = 10
	defaultThrottle     = 5 * time.Second
)

// MessageHandler processes one decoded sync message
type MessageHandler interface {
	ProcessMessage(ctx context.Context, msg models.SyncMessage) (*models.SyncResult, error)
}

// ConsumerConfig describes the queue topology and retry policy of the consumer
type ConsumerConfig struct {
	Queue        string
	FKRetryDelay time.Duration
	MaxFKRetries int
	Throttle     time.Duration
}

type disposition int

const (
	dispositionAck disposition = iota
	dispositionRequeue
	dispositionRetryLater
	dispositionDeadLetter
)

func (d disposition) String() string {
	switch d {
	case dispositionAck:
		return "ack"
	case dispositionRequeue:
		return "requeue"
	case dispositionRetryLater:
		return "retry_later"
	case dispositionDeadLetter:
		return "dead_letter"
	}
	return "unknown"
}

// dispositionFor maps a processing outcome to a broker action.
// Invalid messages and integrity faults cannot be fixed by redelivery. A missing
// dependency gets a delayed retry until the budget runs out. Everything else is requeued.
func dispositionFor(err error, fkRetries, maxFKRetries int) disposition {
	switch {
	case err == nil:
		return dispositionAck
	case errors.Is(err, models.ErrInvalidMessage), errors.Is(err, service.ErrIntegrity):
		return dispositionDeadLetter
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return dispositionRequeue
	case service.IsForeignKeyViolation(err):
		if fkRetries >= maxFKRetries {
			return dispositionDeadLetter
		}
		return dispositionRetryLater
	default:
		return dispositionRequeue
	}
}

// RabbitMQConsumer manages the connection and message flow from the broker
type RabbitMQConsumer struct {
	conn    *amqp.Connection
	channel *amqp.Channel
	handler MessageHandler
	cfg     ConsumerConfig
	logger  *slog.Logger
}

// NewRabbitMQConsumer connects and declares the sync, retry and dead letter topology
func NewRabbitMQConsumer(url string, cfg ConsumerConfig, handler MessageHandler, logger *slog.Logger) (*RabbitMQConsumer, error) {
	if cfg.MaxFKRetries <= 0 {
		cfg.MaxFKRetries = defaultMaxFKRetries
	}
	if cfg.Throttle <= 0 {
		cfg.Throttle = defaultThrottle
	}

	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open a channel: %w", err)
	}

	// QoS: Prefetch 1 keeps one message in flight per consumer
	if err := ch.Qos(1, 0, false); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to set QoS: %w", err)
	}

	c := &RabbitMQConsumer{
		conn:    conn,
		channel: ch,
		handler: handler,
		cfg:     cfg,
		logger:  logger.With("queue", cfg.Queue),
	}

	if err := c.declareTopology(); err != nil {
		c.Close()
		return nil, err
	}
	return c, nil
}

func (c *RabbitMQConsumer) declareTopology() error {
	for _, ex := range []struct{ name, kind string }{
		{SyncExchange, "topic"},
		{RetryExchange, "topic"},
		{DeadExchange, "topic"},
	} {
		if err := c.channel.ExchangeDeclare(ex.name, ex.kind, true, false, false, false, nil); err != nil {
			return fmt.Errorf("failed to declare exchange %s: %w", ex.name, err)
		}
	}

	if _, err := c.channel.QueueDeclare(c.cfg.Queue, true, false, false, false, amqp.Table{
		"x-dead-letter-exchange": DeadExchange,
	}); err != nil {
		return fmt.Errorf("failed to declare queue: %w", err)
	}
	if err := c.channel.QueueBind(c.cfg.Queue, "sync.#", SyncExchange, false, nil); err != nil {
		return fmt.Errorf("failed to bind queue: %w", err)
	}

	// Expired retries dead letter back into the sync exchange with their original routing key
	if _, err := c.channel.QueueDeclare(RetryQueue, true, false, false, false, amqp.Table{
		"x-message-ttl":          c.cfg.FKRetryDelay.Milliseconds(),
		"x-dead-letter-exchange": SyncExchange,
	}); err != nil {
		return fmt.Errorf("failed to declare retry queue: %w", err)
	}
	if err := c.channel.QueueBind(RetryQueue, "#", RetryExchange, false, nil); err != nil {
		return fmt.Errorf("failed to bind retry queue: %w", err)
	}

	if _, err := c.channel.QueueDeclare(DeadQueue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("failed to declare dead letter queue: %w", err)
	}
	if err := c.channel.QueueBind(DeadQueue, "#", DeadExchange, false, nil); err != nil {
		return fmt.Errorf("failed to bind dead letter queue: %w", err)
	}
	return nil
}

// Listen consumes until ctx is cancelled or the channel closes
func (c *RabbitMQConsumer) Listen(ctx context.Context) error {
	msgs, err := c.channel.Consume(c.cfg.Queue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("failed to register consumer: %w", err)
	}

	c.logger.Info("Consumer is online and waiting for messages")

	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-msgs:
			if !ok {
				return fmt.Errorf("message channel closed")
			}
			c.handle(ctx, d)
		}
	}
}

func (c *RabbitMQConsumer) handle(ctx context.Context, d amqp.Delivery) {
	var msg models.SyncMessage
	err := json.Unmarshal(d.Body, &msg)
	if err != nil {
		err = fmt.Errorf("%w: %v", models.ErrInvalidMessage, err)
	} else {
		_, err = c.handler.ProcessMessage(ctx, msg)
	}

	retries := retryCount(d.Headers)
	action := dispositionFor(err, retries, c.cfg.MaxFKRetries)
	l := c.logger.With("sync_event_id", msg.SyncEventID, "routing_key", d.RoutingKey, "disposition", action.String())

	switch action {
	case dispositionAck:
		if err := d.Ack(false); err != nil {
			l.Error("Failed to Ack message", "error", err)
		}

	case dispositionDeadLetter:
		l.Error("Message cannot be processed, dead lettering", "error", err, "fk_retries", retries)
		_ = d.Nack(false, false)

	case dispositionRetryLater:
		if perr := c.publishRetry(ctx, d, retries+1); perr != nil {
			l.Error("Failed to schedule delayed retry, requeueing", "error", perr)
			c.throttle(ctx)
			_ = d.Nack(false, true)
			action = dispositionRequeue
			break
		}
		l.Warn("Dependency not synced yet, retry scheduled", "error", err, "delay", c.cfg.FKRetryDelay, "fk_retries", retries+1)
		_ = d.Ack(false)

	case dispositionRequeue:
		l.Error("Processing failed, requeueing", "error", err)
		if ctx.Err() == nil {
			c.throttle(ctx)
		}
		_ = d.Nack(false, true)
	}

	metrics.ConsumerMessages.WithLabelValues(action.String()).Inc()
}

func (c *RabbitMQConsumer) publishRetry(ctx context.Context, d amqp.Delivery, retries int) error {
	headers := amqp.Table{}
	for k, v := range d.Headers {
		headers[k] = v
	}
	headers[retryHeader] = int32(retries)

	return c.channel.PublishWithContext(ctx, RetryExchange, d.RoutingKey, false, false, amqp.Publishing{
		Headers:      headers,
		MessageId:    d.MessageId,
		ContentType:  d.ContentType,
		DeliveryMode: amqp.Persistent,
		Timestamp:    d.Timestamp,
		Body:         d.Body,
	})
}

// throttle slows down hot failure loops without delaying shutdown
func (c *RabbitMQConsumer) throttle(ctx context.Context) {
	select {
	case <-ctx.Done():
	case <-time.After(c.cfg.Throttle):
	}
}

func retryCount(headers amqp.Table) int {
	switch v := headers[retryHeader].(type) {
	case int32:
		return int(v)
	case int64:
		return int(v)
	case int:
		return v
	}
	return 0
}

// Close gracefully terminates RabbitMQ resources
func (c *RabbitMQConsumer) Close() {
	c.logger.Info("Shutting down RabbitMQ consumer")
	if c.channel != nil {
		c.channel.Close()
	}
	if c.conn != nil {
		c.conn.Close()
	}
}
