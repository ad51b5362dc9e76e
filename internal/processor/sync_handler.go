package processor

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/Guizzs26/go-region-sync/internal/mapper"
	"github.com/Guizzs26/go-region-sync/internal/models"
	"github.com/Guizzs26/go-region-sync/internal/service"
	"github.com/Guizzs26/go-region-sync/pkg/metrics"
)

// SchemaResolver maps a message to the table it addresses
type SchemaResolver interface {
	Resolve(msg models.SyncMessage) (mapper.Schema, error)
}

// TargetResolver decides where a change goes
type TargetResolver interface {
	ResolveTargets(ctx context.Context, msg models.SyncMessage) []string
}

// DeletePropagator removes an instance from the targets
type DeletePropagator interface {
	PropagateDelete(ctx context.Context, msg models.SyncMessage, targets []string) (*models.SyncResult, error)
}

// UpsertPropagator copies an instance into the targets
type UpsertPropagator interface {
	PropagateUpsert(ctx context.Context, msg models.SyncMessage, targets []string) (*models.SyncResult, error)
}

// SyncHandler is the entry point of the engine for one inbound message
type SyncHandler struct {
	schemas  SchemaResolver
	resolver TargetResolver
	deleter  DeletePropagator
	upserter UpsertPropagator
	logger   *slog.Logger
}

func NewSyncHandler(schemas SchemaResolver, resolver TargetResolver, deleter DeletePropagator, upserter UpsertPropagator, logger *slog.Logger) *SyncHandler {
	return &SyncHandler{
		schemas:  schemas,
		resolver: resolver,
		deleter:  deleter,
		upserter: upserter,
		logger:   logger,
	}
}

// ProcessMessage validates, resolves and dispatches one message. It never retries;
// redelivery belongs to the transport.
func (h *SyncHandler) ProcessMessage(ctx context.Context, msg models.SyncMessage) (result *models.SyncResult, err error) {
	start := time.Now()

	defer func() {
		metrics.SyncDuration.WithLabelValues(
			statusFor(err),
			msg.EntityType,
			msg.Operation(),
		).Observe(time.Since(start).Seconds())
	}()

	if err := msg.Validate(); err != nil {
		h.logger.Error("Rejected invalid sync message", "error", err)
		return nil, err
	}
	if _, err := h.schemas.Resolve(msg); err != nil {
		h.logger.Error("Rejected sync message addressing an unsafe table", "error", err)
		return nil, err
	}

	l := h.logger.With(
		"sync_event_id", msg.SyncEventID,
		"entity_type", msg.EntityType,
		"entity_id", msg.EntityID,
		"source_region", msg.SourceRegion,
		"operation", msg.Operation(),
	)

	targets := h.resolver.ResolveTargets(ctx, msg)
	if len(targets) == 0 {
		// Resolution swallows errors; a cancelled context must still reach the transport
		if err := ctx.Err(); err != nil {
			l.Warn("Cancelled during target resolution")
			return nil, err
		}
		l.Info("No targets, nothing to replicate")
		return &models.SyncResult{}, nil
	}

	if msg.IsDeleted {
		result, err = h.deleter.PropagateDelete(ctx, msg, targets)
	} else {
		result, err = h.upserter.PropagateUpsert(ctx, msg, targets)
	}

	if err != nil {
		l.Error("Propagation finished with failures", "error", err, "outcomes", summarize(result))
		return result, err
	}

	l.Info("Propagation complete", "outcomes", summarize(result))
	return result, nil
}

func statusFor(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, models.ErrInvalidMessage):
		return "invalid"
	case errors.Is(err, service.ErrIntegrity):
		return "integrity"
	case service.IsForeignKeyViolation(err):
		return "fk_violation"
	default:
		return "error"
	}
}

func summarize(result *models.SyncResult) map[string]string {
	if result == nil {
		return nil
	}
	out := make(map[string]string, len(result.Outcomes))
	for _, o := range result.Outcomes {
		out[o.Region] = string(o.Status)
	}
	return out
}
