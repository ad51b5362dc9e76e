package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// SyncDuration tracks the end-to-end latency of processing one SyncMessage
	SyncDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "sync_processing_duration_seconds",
		Help:    "Time taken to process a sync message from reception to the last target write",
		Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
	}, []string{"status", "entity_type", "operation"}) // status: success, invalid, integrity, fk_violation, error

	// TargetOutcomes counts per region results of propagation
	TargetOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sync_target_outcomes_total",
		Help: "Per target region outcome of propagated changes",
	}, []string{"region", "outcome"})

	// ResolutionFailures counts messages whose targets could not be resolved and were skipped
	ResolutionFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sync_resolution_failures_total",
		Help: "Target resolution failures that degraded to an empty target set",
	}, []string{"source_region"})

	// ComplianceBlocks counts messages stopped by the sanitization gate
	ComplianceBlocks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sync_compliance_blocks_total",
		Help: "Messages not replicated because the row failed the sanitization gate",
	}, []string{"entity_type"})

	// OverrideConsentUsed counts replications allowed by an explicit override consent
	OverrideConsentUsed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sync_override_consent_used_total",
		Help: "Unsanitized rows replicated globally because override consent was recorded",
	}, []string{"entity_type"})

	// LockRetries tracks how many times a target write was retried after a lock conflict
	LockRetries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sync_lock_retries_total",
		Help: "Number of internal retries triggered by lock conflicts on target stores",
	}, []string{"region"})

	// ConsumerMessages tracks broker level dispositions
	ConsumerMessages = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "consumer_messages_total",
		Help: "Total number of messages handled by the consumer, by disposition",
	}, []string{"disposition"}) // ack, requeue, retry_later, dead_letter
)
