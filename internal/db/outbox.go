package db

import (
	"context"
	"fmt"
	"slices"

	"github.com/jackc/pgx/v5"

	"github.com/Guizzs26/go-region-sync/internal/models"
)

// FetchAndClaim moves a batch of pending rows to 'processing' and returns them oldest first.
// SKIP LOCKED lets several relays share one outbox without double publishing.
func (r *PostgresStore) FetchAndClaim(ctx context.Context, batchSize int) ([]models.OutboxEntry, error) {
	query := `
		UPDATE sync_outbox
		SET status = 'processing', updated_at = CURRENT_TIMESTAMP
		WHERE id IN (
			SELECT id FROM sync_outbox
			WHERE status IN ('pending', 'error')
			ORDER BY created_at ASC, id ASC
			LIMIT $1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING id, entity_type, entity_id, table_name, is_deleted, event_id, version, attempts
	`

	rows, err := r.pool.Query(ctx, query, batchSize)
	if err != nil {
		return nil, fmt.Errorf("failed to claim outbox batch: %w", err)
	}

	entries, err := pgx.CollectRows(rows, pgx.RowToStructByName[models.OutboxEntry])
	if err != nil {
		return nil, fmt.Errorf("failed to scan outbox batch: %w", err)
	}

	slices.SortFunc(entries, func(a, b models.OutboxEntry) int {
		switch {
		case a.ID < b.ID:
			return -1
		case a.ID > b.ID:
			return 1
		}
		return 0
	})

	return entries, nil
}

func (r *PostgresStore) MarkAsSent(ctx context.Context, id int64) error {
	query := `
		UPDATE sync_outbox
		SET status = 'sent', updated_at = CURRENT_TIMESTAMP
		WHERE id = $1
	`
	_, err := r.pool.Exec(ctx, query, id)
	return err
}

func (r *PostgresStore) MarkAsError(ctx context.Context, id int64, errLog string) error {
	query := `
		UPDATE sync_outbox
		SET status = 'error',
		    attempts = attempts + 1,
		    error_log = $2,
		    updated_at = CURRENT_TIMESTAMP
		WHERE id = $1
	`
	_, err := r.pool.Exec(ctx, query, id, errLog)
	return err
}

// MarkManyAsPending returns claimed rows to the queue. Business failures consume an attempt.
func (r *PostgresStore) MarkManyAsPending(ctx context.Context, ids []int64, note string, strategy models.RevertStrategy) error {
	if len(ids) == 0 {
		return nil
	}

	increment := 0
	if strategy == models.StrategyBusinessFailure {
		increment = 1
	}

	query := `
		UPDATE sync_outbox
		SET status = 'pending',
		    attempts = attempts + $3,
		    error_log = $2,
		    updated_at = CURRENT_TIMESTAMP
		WHERE id = ANY($1)
	`
	_, err := r.pool.Exec(ctx, query, ids, note, increment)
	return err
}

// ResetStaleMessages rescues rows left in 'processing' by a relay that died mid batch
func (r *PostgresStore) ResetStaleMessages(ctx context.Context, staleMinutes int) (int64, error) {
	query := `
		UPDATE sync_outbox
		SET status = 'pending', updated_at = CURRENT_TIMESTAMP
		WHERE status = 'processing'
		  AND updated_at < CURRENT_TIMESTAMP - make_interval(mins => $1)
	`
	tag, err := r.pool.Exec(ctx, query, staleMinutes)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// MoveToDLQ parks rows that exhausted their attempts and returns the dead row count
func (r *PostgresStore) MoveToDLQ(ctx context.Context, maxAttempts int) (int64, error) {
	query := `
		UPDATE sync_outbox
		SET status = 'dead', updated_at = CURRENT_TIMESTAMP
		WHERE status IN ('pending', 'error')
		  AND attempts >= $1
	`
	if _, err := r.pool.Exec(ctx, query, maxAttempts); err != nil {
		return 0, fmt.Errorf("failed to move exhausted rows to dead state: %w", err)
	}

	var dead int64
	if err := r.pool.QueryRow(ctx, `SELECT count(*) FROM sync_outbox WHERE status = 'dead'`).Scan(&dead); err != nil {
		return 0, fmt.Errorf("failed to count dead rows: %w", err)
	}
	return dead, nil
}
