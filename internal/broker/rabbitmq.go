package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Guizzs26/go-region-sync/internal/models"
	"github.com/Guizzs26/go-region-sync/pkg/metrics"

	amqp "github.com/rabbitmq/amqp091-go"
)

const (
	// SyncExchange carries every change notification, routed by sync.<region>.<entitytype>
	SyncExchange = "region.sync"
	// RetryExchange parks messages waiting for a referenced entity to sync
	RetryExchange = "region.sync.retry"
	RetryQueue    = "region.sync.retry.wait"
	// DeadExchange receives messages that redelivery cannot fix
	DeadExchange = "region.sync.dlx"
	DeadQueue    = "region.sync.dead"

	confirmTimeout = 10 * time.Second
)

// RabbitMQClient handles the low-level communication with the message broker
type RabbitMQClient struct {
	conn       *amqp.Connection
	channel    *amqp.Channel
	logger     *slog.Logger
	connClosed chan *amqp.Error
	chanClosed chan *amqp.Error
	closeOnce  sync.Once
	healthy    atomic.Bool
	ctx        context.Context
	cancel     context.CancelFunc
}

// NewRabbitMQClient initializes a connection and a channel, enabling Publisher Confirms by default
func NewRabbitMQClient(url string, l *slog.Logger) (*RabbitMQClient, error) {
	c, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	ch, err := c.Channel()
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to open RabbitMQ channel: %w", err)
	}

	if err := ch.ExchangeDeclare(SyncExchange, "topic", true, false, false, false, nil); err != nil {
		ch.Close()
		c.Close()
		return nil, fmt.Errorf("failed to declare topic exchange: %w", err)
	}

	if err := ch.Confirm(false); err != nil {
		ch.Close()
		c.Close()
		return nil, fmt.Errorf("failed to activate Publisher Confirms: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	client := &RabbitMQClient{
		conn:       c,
		channel:    ch,
		logger:     l,
		connClosed: make(chan *amqp.Error, 1),
		chanClosed: make(chan *amqp.Error, 1),
		ctx:        ctx,
		cancel:     cancel,
	}

	client.healthy.Store(true)
	metrics.HealthStatus.Set(1)

	client.conn.NotifyClose(client.connClosed)
	client.channel.NotifyClose(client.chanClosed)

	go client.monitor()

	l.Info("Connected to RabbitMQ, publisher confirms enabled", "exchange", SyncExchange)
	return client, nil
}

func (r *RabbitMQClient) monitor() {
	select {
	case err := <-r.connClosed:
		r.healthy.Store(false)
		metrics.HealthStatus.Set(0)
		r.logger.Warn("RabbitMQ connection closed", "error", err)
	case err := <-r.chanClosed:
		r.healthy.Store(false)
		metrics.HealthStatus.Set(0)
		r.logger.Warn("RabbitMQ channel closed", "error", err)
	case <-r.ctx.Done():
	}
}

// Publish sends a message and blocks until the broker confirms (ACK/NACK) it
func (r *RabbitMQClient) Publish(ctx context.Context, exchange, routingKey string, msg models.SyncMessage) error {
	if !r.IsHealthy() {
		return fmt.Errorf("broker connection is closed")
	}

	publishing, err := newPublishing(msg)
	if err != nil {
		return err
	}

	deferred, err := r.channel.PublishWithDeferredConfirmWithContext(ctx, exchange, routingKey, false, false, publishing)
	if err != nil {
		r.logger.Error("failed to publish message to exchange",
			"sync_event_id", msg.SyncEventID,
			"routing_key", routingKey,
			"error", err,
		)
		return fmt.Errorf("publish call failed: %w", err)
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-deferred.Done():
		if !deferred.Acked() {
			return fmt.Errorf("RabbitMQ NACK received: message not persisted")
		}
		return nil
	case <-time.After(confirmTimeout):
		return fmt.Errorf("publisher confirm timeout")
	}
}

// Close gracefully shuts down the RabbitMQ resources
func (r *RabbitMQClient) Close() error {
	r.closeOnce.Do(func() {
		r.logger.Info("Terminating RabbitMQ client")
		r.cancel()
		if r.channel != nil {
			r.channel.Close()
		}
		if r.conn != nil {
			r.conn.Close()
		}
	})
	return nil
}

// IsHealthy returns true if the connection and channel are active
func (r *RabbitMQClient) IsHealthy() bool {
	return r.healthy.Load()
}

func newPublishing(msg models.SyncMessage) (amqp.Publishing, error) {
	body, err := json.Marshal(msg)
	if err != nil {
		return amqp.Publishing{}, fmt.Errorf("failed to serialize message: %w", err)
	}
	return amqp.Publishing{
		Headers: amqp.Table{
			"sync_event_id": msg.SyncEventID,
			"source_region": msg.SourceRegion,
		},
		MessageId:    msg.SyncEventID,
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now().UTC(),
		Body:         body,
	}, nil
}
