package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/Guizzs26/go-region-sync/internal/models"
	"github.com/Guizzs26/go-region-sync/pkg/metrics"
)

const revertTimeout = 5 * time.Second

// Repository defines the contract for outbox data persistence
type Repository interface {
	FetchAndClaim(ctx context.Context, batchSize int) ([]models.OutboxEntry, error)
	MarkAsSent(ctx context.Context, id int64) error
	MarkAsError(ctx context.Context, id int64, errLog string) error
	MarkManyAsPending(ctx context.Context, ids []int64, note string, strategy models.RevertStrategy) error
}

// Publisher defines the contract for message publishing
type Publisher interface {
	Publish(ctx context.Context, exchange, routingKey string, msg models.SyncMessage) error
}

// OutboxRelay moves change notifications from a region's outbox onto the broker
type OutboxRelay struct {
	repo     Repository
	broker   Publisher
	region   string
	exchange string
	logger   *slog.Logger
}

func NewOutboxRelay(r Repository, b Publisher, region, exchange string, l *slog.Logger) *OutboxRelay {
	return &OutboxRelay{
		repo:     r,
		broker:   b,
		region:   strings.ToUpper(strings.TrimSpace(region)),
		exchange: exchange,
		logger:   l.With("source_region", strings.ToUpper(strings.TrimSpace(region))),
	}
}

// RoutingKey is sync.<region>.<entitytype>, lowercased
func RoutingKey(region, entityType string) string {
	return strings.ToLower(fmt.Sprintf("sync.%s.%s", region, entityType))
}

// ProcessNextBatch claims a batch and publishes it in order.
// On shutdown or broker failure the unsent remainder goes back to pending without
// consuming an attempt.
func (s *OutboxRelay) ProcessNextBatch(ctx context.Context, batchSize int) error {
	start := time.Now()

	entries, err := s.repo.FetchAndClaim(ctx, batchSize)
	if err != nil {
		return fmt.Errorf("fetch failure: %w", err)
	}
	if len(entries) == 0 {
		return nil
	}

	metrics.BatchSize.Observe(float64(len(entries)))

	defer func() {
		metrics.BatchDuration.Observe(time.Since(start).Seconds())
		s.logger.Info("Batch cycle telemetry",
			"count", len(entries),
			"duration_ms", time.Since(start).Milliseconds(),
		)
	}()

	for i, e := range entries {
		select {
		case <-ctx.Done():
			s.logger.Warn("Shutdown signal received. Reverting remaining messages.")
			s.revert(entries[i:], "graceful_shutdown", models.StrategyInfraFailure)
			return ctx.Err()
		default:
		}

		msg := e.ToSyncMessage(s.region)
		l := s.logger.With("outbox_id", e.ID, "sync_event_id", msg.SyncEventID, "entity_type", msg.EntityType)

		if err := msg.Validate(); err != nil {
			l.Error("Outbox row cannot form a valid message", "error", err)
			_ = s.repo.MarkAsError(ctx, e.ID, err.Error())
			metrics.MessagesProcessed.WithLabelValues("error", s.region, msg.EntityType).Inc()
			continue
		}

		if err := s.broker.Publish(ctx, s.exchange, RoutingKey(s.region, msg.EntityType), msg); err != nil {
			l.Error("Broker publish failed, aborting batch", "error", err)
			s.revert(entries[i:], "broker_offline", models.StrategyInfraFailure)
			metrics.MessagesProcessed.WithLabelValues("error", s.region, msg.EntityType).Inc()
			return fmt.Errorf("broker failure: %w", err)
		}

		if err := s.repo.MarkAsSent(ctx, e.ID); err != nil {
			// Already published: the consumer's idempotency check absorbs the duplicate
			l.Error("Message sent but failed to update status in DB", "error", err)
			s.revert(entries[i+1:], "db_checkpoint_failure", models.StrategyBusinessFailure)
			metrics.MessagesProcessed.WithLabelValues("error", s.region, msg.EntityType).Inc()
			return fmt.Errorf("db checkpoint failure: %w", err)
		}

		metrics.MessagesProcessed.WithLabelValues("sent", s.region, msg.EntityType).Inc()
	}

	return nil
}

func (s *OutboxRelay) revert(remaining []models.OutboxEntry, note string, strategy models.RevertStrategy) {
	if len(remaining) == 0 {
		return
	}

	ids := make([]int64, 0, len(remaining))
	for _, e := range remaining {
		ids = append(ids, e.ID)
	}

	ctx, cancel := context.WithTimeout(context.Background(), revertTimeout)
	defer cancel()

	if err := s.repo.MarkManyAsPending(ctx, ids, note, strategy); err != nil {
		s.logger.Error("CRITICAL: Failed to revert claimed messages", "error", err, "note", note, "count", len(ids))
	}
}
