package service

import (
	"context"
	"errors"
	"log/slog"

	"github.com/Guizzs26/go-region-sync/internal/models"
	"github.com/Guizzs26/go-region-sync/internal/rules"
	"github.com/Guizzs26/go-region-sync/pkg/metrics"
)

// MetadataSource is the contract the resolver needs from the metadata loader
type MetadataSource interface {
	LoadMetadata(ctx context.Context, msg models.SyncMessage) (*models.EntitySyncConfiguration, *models.EntityRowMetadata, error)
}

// TargetResolver decides which regions a change must reach
type TargetResolver struct {
	metadata MetadataSource
	engine   *rules.Engine
	logger   *slog.Logger
}

func NewTargetResolver(metadata MetadataSource, engine *rules.Engine, logger *slog.Logger) *TargetResolver {
	return &TargetResolver{
		metadata: metadata,
		engine:   engine,
		logger:   logger,
	}
}

// ResolveTargets never fails: missing metadata and lookup errors both yield no targets.
// The transport may redeliver, so skipping is preferred over blocking the queue.
func (r *TargetResolver) ResolveTargets(ctx context.Context, msg models.SyncMessage) []string {
	l := r.logger.With(
		"sync_event_id", msg.SyncEventID,
		"entity_type", msg.EntityType,
		"entity_id", msg.EntityID,
		"source_region", msg.SourceRegion,
	)

	cfg, meta, err := r.metadata.LoadMetadata(ctx, msg)
	if err != nil {
		if errors.Is(err, ErrMetadataNotFound) {
			l.Info("No sync metadata, skipping replication", "reason", err.Error())
			return nil
		}
		l.Error("Target resolution failed, skipping replication", "error", err)
		metrics.ResolutionFailures.WithLabelValues(r.engine.MetricLabel(msg.SourceRegion)).Inc()
		return nil
	}

	decision := r.engine.Resolve(cfg, meta, msg)

	switch {
	case decision.Blocked():
		l.Warn("Compliance gate blocked replication",
			"scope", decision.Scope.String(),
			"reason", string(decision.Reason),
			"is_sanitized", formatSanitized(meta),
		)
		metrics.ComplianceBlocks.WithLabelValues(msg.EntityType).Inc()
		return nil
	case decision.Reason == rules.ReasonOverrideConsent:
		l.Info("Unsanitized row replicated under override consent",
			"consent_at", decision.ConsentAt.UTC(),
			"data_residency", meta.DataResidency,
			"data_origin_region", meta.DataOriginRegion,
		)
		metrics.OverrideConsentUsed.WithLabelValues(msg.EntityType).Inc()
	case decision.Reason == rules.ReasonUnknownScope:
		l.Warn("Unknown sync scope, failing closed")
	}

	targets := r.engine.RouteToHub(msg.SourceRegion, decision.Targets)
	targets = rules.ExcludeSource(msg.SourceRegion, targets)

	l.Info("Targets determined",
		"scope", decision.Scope.String(),
		"reason", string(decision.Reason),
		"classification", cfg.DataClassification.String(),
		"legal_basis", cfg.LegalBasis.String(),
		"targets", targets,
	)

	return targets
}

func formatSanitized(meta *models.EntityRowMetadata) string {
	if meta == nil || meta.IsSanitized == nil {
		return "unknown"
	}
	if *meta.IsSanitized {
		return "true"
	}
	return "false"
}
