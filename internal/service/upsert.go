package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/Guizzs26/go-region-sync/internal/db"
	"github.com/Guizzs26/go-region-sync/internal/mapper"
	"github.com/Guizzs26/go-region-sync/internal/models"
	"github.com/Guizzs26/go-region-sync/pkg/metrics"
)

const defaultLockRetries = 3

// UpsertPropagator copies the source row into every target region, preserving its identifier
type UpsertPropagator struct {
	stores      StoreProvider
	schemas     *mapper.SchemaRegistry
	logger      *slog.Logger
	lockRetries int
	now         func() time.Time
}

type UpsertOption func(*UpsertPropagator)

// WithLockRetries bounds the in-process retries on deadlocks and lock conflicts
func WithLockRetries(n int) UpsertOption {
	return func(p *UpsertPropagator) {
		if n > 0 {
			p.lockRetries = n
		}
	}
}

// WithClock overrides the bookkeeping timestamp source
func WithClock(now func() time.Time) UpsertOption {
	return func(p *UpsertPropagator) { p.now = now }
}

func NewUpsertPropagator(stores StoreProvider, schemas *mapper.SchemaRegistry, logger *slog.Logger, opts ...UpsertOption) *UpsertPropagator {
	p := &UpsertPropagator{
		stores:      stores,
		schemas:     schemas,
		logger:      logger,
		lockRetries: defaultLockRetries,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// PropagateUpsert fetches the source row once and applies it to each target in order.
// Each target is isolated: failures are collected and returned joined, so a retry of the
// message only re-applies what is missing thanks to the idempotency token.
// An integrity fault in the source row or cancellation stops the loop.
func (p *UpsertPropagator) PropagateUpsert(ctx context.Context, msg models.SyncMessage, targets []string) (*models.SyncResult, error) {
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

	source, ok := p.stores.Store(msg.SourceRegion)
	if !ok {
		return result, fmt.Errorf("no store registered for source region %s", msg.SourceRegion)
	}

	row, err := source.FetchRow(ctx, schema, msg.EntityID)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			l.Info("Source row vanished before propagation, nothing to write")
			return result, nil
		}
		return result, fmt.Errorf("fetch source row: %w", err)
	}

	var errs []error
	for i, target := range targets {
		if err := ctx.Err(); err != nil {
			markNotAttempted(result, targets[i:])
			l.Warn("Cancelled before writing remaining targets", "remaining", targets[i:])
			return result, errors.Join(append(errs, err)...)
		}

		outcome, err := p.applyToTarget(ctx, l.With("target_region", target), msg, schema, row, target)
		record(result, outcome)
		if err == nil {
			continue
		}
		if errors.Is(err, ErrIntegrity) {
			markNotAttempted(result, targets[i+1:])
			return result, errors.Join(append(errs, err)...)
		}
		errs = append(errs, err)
	}

	return result, errors.Join(errs...)
}

func (p *UpsertPropagator) applyToTarget(ctx context.Context, l *slog.Logger, msg models.SyncMessage, schema mapper.Schema, row models.Row, target string) (models.TargetOutcome, error) {
	outcome := models.TargetOutcome{Region: target}

	store, ok := p.stores.Store(target)
	if !ok {
		l.Warn("No connection for target region, skipping")
		outcome.Status = models.TargetNoStore
		return outcome, nil
	}

	// Idempotency check: the same event is applied at most once per target row
	state, err := store.SyncState(ctx, schema, msg.EntityID)
	switch {
	case errors.Is(err, db.ErrNotFound):
		state = nil
	case err != nil:
		err = fmt.Errorf("read sync state in region %s: %w", target, err)
		l.Error("Idempotency check failed", "error", err)
		outcome.Status, outcome.Err = models.TargetFailed, err
		return outcome, err
	}

	if state != nil && state.LastSyncEventID == msg.SyncEventID {
		l.Info("Already synced, skipping target")
		outcome.Status = models.TargetAlreadySynced
		return outcome, nil
	}
	if state != nil && msg.Version > 0 && state.Version >= msg.Version {
		l.Warn("Stale event, target holds a newer version",
			"incoming_version", msg.Version,
			"stored_version", state.Version,
		)
		outcome.Status = models.TargetStale
		return outcome, nil
	}

	// Identity validation
	if id := schema.Identifier(row); id == nil {
		err := fmt.Errorf("%w: source row %s/%s has no %s", ErrIntegrity, schema.Table, msg.EntityID, schema.PrimaryKey)
		l.Error("Source row missing its identifier, aborting message", "error", err)
		outcome.Status, outcome.Err = models.TargetFailed, err
		return outcome, err
	}

	stamp := models.SyncStamp{EventID: msg.SyncEventID, Version: msg.Version, SyncedAt: p.now().UTC()}
	if err := p.writeWithRetry(ctx, l, store, schema, withIdentity(row, schema, msg.EntityID), stamp, target); err != nil {
		if errors.Is(err, db.ErrForeignKeyViolation) {
			err = &ForeignKeyConstraintError{Region: target, EntityType: msg.EntityType, EntityID: msg.EntityID, Err: err}
			l.Warn("Target rejected row on a missing reference, retry after the dependency syncs", "error", err)
		} else {
			err = fmt.Errorf("upsert in region %s: %w", target, err)
			l.Error("Upsert failed in target region", "error", err)
		}
		outcome.Status, outcome.Err = models.TargetFailed, err
		return outcome, err
	}

	l.Info("Upsert propagated")
	outcome.Status, outcome.RowsAffected = models.TargetApplied, 1
	return outcome, nil
}

// writeWithRetry retries lock contention with a linear backoff: 200ms, 400ms, 600ms...
func (p *UpsertPropagator) writeWithRetry(ctx context.Context, l *slog.Logger, store db.Store, schema mapper.Schema, row models.Row, stamp models.SyncStamp, target string) error {
	var err error
	for attempt := 1; attempt <= p.lockRetries; attempt++ {
		err = store.Upsert(ctx, schema, row, stamp)
		if err == nil || !errors.Is(err, db.ErrLockConflict) {
			return err
		}

		metrics.LockRetries.WithLabelValues(target).Inc()
		if attempt == p.lockRetries {
			break
		}

		backoff := time.Duration(attempt) * 200 * time.Millisecond
		l.Warn("Lock contention on target, retrying internally",
			"attempt", attempt,
			"backoff", backoff,
			"error", err,
		)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
	}
	return fmt.Errorf("failed after %d attempts: %w", p.lockRetries, err)
}

// withIdentity pins the primary key to the message entity id; targets never mint their own
func withIdentity(row models.Row, schema mapper.Schema, entityID string) models.Row {
	out := row.Clone()
	for k := range out {
		if strings.EqualFold(k, schema.PrimaryKey) {
			delete(out, k)
		}
	}
	out[schema.PrimaryKey] = entityID
	return out
}
