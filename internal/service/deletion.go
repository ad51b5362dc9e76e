package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/Guizzs26/go-region-sync/internal/db"
	"github.com/Guizzs26/go-region-sync/internal/mapper"
	"github.com/Guizzs26/go-region-sync/internal/models"
	"github.com/Guizzs26/go-region-sync/pkg/metrics"
)

// DeletionPropagator removes an instance from every target region
type DeletionPropagator struct {
	stores  StoreProvider
	schemas *mapper.SchemaRegistry
	logger  *slog.Logger
}

func NewDeletionPropagator(stores StoreProvider, schemas *mapper.SchemaRegistry, logger *slog.Logger) *DeletionPropagator {
	return &DeletionPropagator{
		stores:  stores,
		schemas: schemas,
		logger:  logger,
	}
}

// PropagateDelete visits targets in order. A failing region does not stop the others;
// all failures are returned together.
func (p *DeletionPropagator) PropagateDelete(ctx context.Context, msg models.SyncMessage, targets []string) (*models.SyncResult, error) {
	result := &models.SyncResult{Targets: targets}

	schema, err := p.schemas.Resolve(msg)
	if err != nil {
		return result, err
	}

	l := p.logger.With(
		"sync_event_id", msg.SyncEventID,
		"entity_type", msg.EntityType,
		"entity_id", msg.EntityID,
		"table", schema.Table,
	)

	var errs []error
	for i, target := range targets {
		if err := ctx.Err(); err != nil {
			markNotAttempted(result, targets[i:])
			l.Warn("Cancelled before deleting from remaining targets", "remaining", targets[i:])
			return result, errors.Join(append(errs, err)...)
		}

		tl := l.With("target_region", target)

		store, ok := p.stores.Store(target)
		if !ok {
			tl.Warn("No connection for target region, skipping")
			record(result, models.TargetOutcome{Region: target, Status: models.TargetNoStore})
			continue
		}

		affected, err := store.Delete(ctx, schema, msg.EntityID)
		if err != nil {
			if errors.Is(err, db.ErrForeignKeyViolation) {
				err = &ForeignKeyConstraintError{Region: target, EntityType: msg.EntityType, EntityID: msg.EntityID, Err: err}
			} else {
				err = fmt.Errorf("delete in region %s: %w", target, err)
			}
			tl.Error("Delete failed in target region", "error", err)
			record(result, models.TargetOutcome{Region: target, Status: models.TargetFailed, Err: err})
			errs = append(errs, err)
			continue
		}

		tl.Info("Delete propagated", "rows_affected", affected)
		record(result, models.TargetOutcome{Region: target, Status: models.TargetDeleted, RowsAffected: affected})
	}

	return result, errors.Join(errs...)
}

func record(result *models.SyncResult, outcome models.TargetOutcome) {
	result.Outcomes = append(result.Outcomes, outcome)
	metrics.TargetOutcomes.WithLabelValues(outcome.Region, string(outcome.Status)).Inc()
}

func markNotAttempted(result *models.SyncResult, remaining []string) {
	for _, target := range remaining {
		result.Outcomes = append(result.Outcomes, models.TargetOutcome{Region: target, Status: models.TargetNotAttempted})
	}
}
