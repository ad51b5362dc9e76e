package db

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Guizzs26/go-region-sync/internal/mapper"
	"github.com/Guizzs26/go-region-sync/internal/models"
)

// PostgreSQL error codes the engine reacts to
const (
	pgForeignKeyViolation    = "23503"
	pgSerializationFailure   = "40001"
	pgDeadlockDetected       = "40P01"
	pgLockNotAvailable       = "55P03"
	defaultPostgresOpTimeout = 10 * time.Second
)

// PostgresStore is a regional store backed by PostgreSQL. It also hosts the outbox of its region.
type PostgresStore struct {
	pool    *pgxpool.Pool
	sql     *mapper.SQLBuilder
	logger  *slog.Logger
	timeout time.Duration
}

func NewPostgresStore(ctx context.Context, connString string, logger *slog.Logger) (*PostgresStore, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("failed to parse postgres config: %w", err)
	}

	p, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create postgres pool: %w", err)
	}

	if err := p.Ping(ctx); err != nil {
		p.Close()
		return nil, fmt.Errorf("postgres ping failed: %w", err)
	}

	logger.Info("Connected to Postgres successfully", "host", config.ConnConfig.Host, "database", config.ConnConfig.Database)

	return &PostgresStore{
		pool:    p,
		sql:     mapper.NewSQLBuilder(mapper.Postgres),
		logger:  logger,
		timeout: defaultPostgresOpTimeout,
	}, nil
}

func (r *PostgresStore) SyncConfiguration(ctx context.Context, entityType string) (*models.EntitySyncConfiguration, error) {
	opCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query, args := r.sql.BuildSelectSyncConfiguration(entityType)

	var (
		scope, classification, basis *string
		exposure                     *string
		cfg                          = models.EntitySyncConfiguration{EntityType: entityType}
	)
	err := r.pool.QueryRow(opCtx, query, args...).Scan(
		&scope,
		&classification,
		&basis,
		&cfg.RequiresSanitizationForGlobalSync,
		&cfg.AllowSanitizationOverrideConsentEnabled,
		&cfg.IsEnabled,
		&exposure,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to load sync configuration for %s: %w", entityType, err)
	}

	cfg.SyncScope = models.ParseSyncScope(deref(scope))
	cfg.DataClassification = models.ParseDataClassification(deref(classification))
	cfg.LegalBasis = models.ParseLegalBasis(deref(basis))
	cfg.ExposureRegions = models.SplitRegionList(deref(exposure))

	return &cfg, nil
}

func (r *PostgresStore) RowMetadata(ctx context.Context, s mapper.Schema, entityID string) (*models.EntityRowMetadata, error) {
	opCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query, args := r.sql.BuildSelectRowMetadata(s, entityID)

	var (
		residency, origin *string
		meta              models.EntityRowMetadata
	)
	err := r.pool.QueryRow(opCtx, query, args...).Scan(&residency, &origin, &meta.IsSanitized, &meta.SanitizationOverrideConsentAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to load row metadata %s/%s: %w", s.Table, entityID, err)
	}
	meta.DataResidency = deref(residency)
	meta.DataOriginRegion = deref(origin)

	return &meta, nil
}

func (r *PostgresStore) FetchRow(ctx context.Context, s mapper.Schema, entityID string) (models.Row, error) {
	opCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query, args := r.sql.BuildSelectRow(s, entityID)

	rows, err := r.pool.Query(opCtx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch %s/%s: %w", s.Table, entityID, err)
	}

	row, err := pgx.CollectOneRow(rows, pgx.RowToMap)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to scan %s/%s: %w", s.Table, entityID, err)
	}

	return models.Row(row), nil
}

func (r *PostgresStore) SyncState(ctx context.Context, s mapper.Schema, entityID string) (*models.SyncState, error) {
	opCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query, args := r.sql.BuildSelectSyncState(s, entityID)

	var (
		eventID *string
		version *int64
		state   models.SyncState
	)
	err := r.pool.QueryRow(opCtx, query, args...).Scan(&eventID, &state.LastSyncedAt, &version)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to read sync state %s/%s: %w", s.Table, entityID, err)
	}
	state.LastSyncEventID = deref(eventID)
	if version != nil {
		state.Version = *version
	}

	return &state, nil
}

// Upsert writes the row and stamps its bookkeeping in one transaction
func (r *PostgresStore) Upsert(ctx context.Context, s mapper.Schema, row models.Row, stamp models.SyncStamp) error {
	upsertQuery, upsertArgs, err := r.sql.BuildUpsert(s, row)
	if err != nil {
		return err
	}
	entityID := fmt.Sprint(s.Identifier(row))
	stampQuery, stampArgs := r.sql.BuildStamp(s, entityID, stamp)

	opCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	tx, err := r.pool.BeginTx(opCtx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("failed to start transaction: %w", err)
	}
	// Safety: Rollback is a no-op if Commit was already called
	defer tx.Rollback(context.Background())

	if _, err := tx.Exec(opCtx, upsertQuery, upsertArgs...); err != nil {
		return classifyPostgres(fmt.Errorf("upsert %s/%s", s.Table, entityID), err)
	}

	if _, err := tx.Exec(opCtx, stampQuery, stampArgs...); err != nil {
		return classifyPostgres(fmt.Errorf("stamp %s/%s", s.Table, entityID), err)
	}

	if err := tx.Commit(opCtx); err != nil {
		return classifyPostgres(fmt.Errorf("commit %s/%s", s.Table, entityID), err)
	}

	return nil
}

func (r *PostgresStore) Delete(ctx context.Context, s mapper.Schema, entityID string) (int64, error) {
	opCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query, args := r.sql.BuildDelete(s, entityID)

	tag, err := r.pool.Exec(opCtx, query, args...)
	if err != nil {
		return 0, classifyPostgres(fmt.Errorf("delete %s/%s", s.Table, entityID), err)
	}
	return tag.RowsAffected(), nil
}

func (r *PostgresStore) Close() error {
	r.logger.Info("Closing Postgres connection pool")
	r.pool.Close()
	return nil
}

// classifyPostgres maps driver errors onto the store sentinels, keeping the original for logs
func classifyPostgres(op error, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgForeignKeyViolation:
			return fmt.Errorf("%v: %w (constraint %s): %w", op, ErrForeignKeyViolation, pgErr.ConstraintName, err)
		case pgSerializationFailure, pgDeadlockDetected, pgLockNotAvailable:
			return fmt.Errorf("%v: %w: %w", op, ErrLockConflict, err)
		}
	}
	return fmt.Errorf("%v: %w", op, err)
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
