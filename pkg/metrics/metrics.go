package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// MessagesProcessed tracks the total throughput of the outbox relay
	// Labels allow filtering by status (sent/error), origin region and entity type
	MessagesProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_messages_processed_total",
		Help: "Total number of outbox rows processed by the relay service",
	}, []string{"status", "region", "entity_type"})

	// BatchDuration measures how long it takes to process an entire batch
	BatchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "relay_batch_duration_seconds",
		Help:    "Duration of batch processing in seconds",
		Buckets: prometheus.DefBuckets,
	})

	// BatchSize tracks the number of outbox rows actually claimed in each batch
	BatchSize = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "relay_batch_size",
		Help:    "Number of outbox rows processed per batch",
		Buckets: []float64{1, 10, 50, 100, 500, 1000},
	})

	// RabbitMQReconnections counts how many times a service had to restore the broker link
	RabbitMQReconnections = promauto.NewCounter(prometheus.CounterOpts{
		Name: "relay_rabbitmq_reconnections_total",
		Help: "Total number of RabbitMQ reconnection attempts",
	})

	// HealthStatus is 1 while the broker link is up, 0 otherwise
	HealthStatus = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "relay_healthy",
		Help: "Current health status of the broker link (1 for healthy, 0 for unhealthy)",
	})

	// DLQSize tracks outbox rows that exhausted their attempts
	DLQSize = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "relay_dlq_size",
		Help: "Current number of outbox rows moved to the dead state",
	})
)
