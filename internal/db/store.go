package db

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/Guizzs26/go-region-sync/internal/mapper"
	"github.com/Guizzs26/go-region-sync/internal/models"
	"github.com/Guizzs26/go-region-sync/internal/region"
)

var (
	// ErrNotFound is returned when the configuration or row does not exist in the store
	ErrNotFound = errors.New("record not found")
	// ErrForeignKeyViolation is returned when the target rejects a row referencing a missing entity
	ErrForeignKeyViolation = errors.New("foreign key violation")
	// ErrLockConflict is returned for deadlocks and serialization failures worth retrying at once
	ErrLockConflict = errors.New("lock conflict")
)

// Store is one region's data store as seen by the sync engine
type Store interface {
	// SyncConfiguration returns the enabled policy of an entity type, ErrNotFound otherwise
	SyncConfiguration(ctx context.Context, entityType string) (*models.EntitySyncConfiguration, error)
	RowMetadata(ctx context.Context, s mapper.Schema, entityID string) (*models.EntityRowMetadata, error)
	FetchRow(ctx context.Context, s mapper.Schema, entityID string) (models.Row, error)
	SyncState(ctx context.Context, s mapper.Schema, entityID string) (*models.SyncState, error)
	// Upsert writes the row and its bookkeeping atomically
	Upsert(ctx context.Context, s mapper.Schema, row models.Row, stamp models.SyncStamp) error
	Delete(ctx context.Context, s mapper.Schema, entityID string) (int64, error)
	Close() error
}

// StoreSet holds one independent store per region
type StoreSet struct {
	stores map[string]Store
}

// NewStoreSet wraps already opened stores keyed by region code
func NewStoreSet(stores map[string]Store) *StoreSet {
	set := &StoreSet{stores: make(map[string]Store, len(stores))}
	for code, s := range stores {
		set.stores[region.Normalize(code)] = s
	}
	return set
}

// Open connects to every region in parallel. The descriptor scheme selects the driver.
func Open(ctx context.Context, regions []region.Region, logger *slog.Logger) (*StoreSet, error) {
	opened := make([]Store, len(regions))

	g, gctx := errgroup.WithContext(ctx)
	for i, r := range regions {
		g.Go(func() error {
			s, err := openStore(gctx, r.ConnectionDescriptor, logger.With("region", r.Code))
			if err != nil {
				return fmt.Errorf("region %s: %w", r.Code, err)
			}
			opened[i] = s
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		for _, s := range opened {
			if s != nil {
				_ = s.Close()
			}
		}
		return nil, err
	}

	set := &StoreSet{stores: make(map[string]Store, len(regions))}
	for i, r := range regions {
		set.stores[region.Normalize(r.Code)] = opened[i]
	}
	return set, nil
}

func openStore(ctx context.Context, descriptor string, logger *slog.Logger) (Store, error) {
	scheme, _, _ := strings.Cut(descriptor, "://")
	switch strings.ToLower(scheme) {
	case "postgres", "postgresql":
		return NewPostgresStore(ctx, descriptor, logger)
	case "firebirdsql", "firebird":
		return NewFirebirdStore(ctx, descriptor, logger)
	case "memory":
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unsupported connection descriptor scheme %q", scheme)
	}
}

// Store returns the store of a region, false when the region has none
func (s *StoreSet) Store(code string) (Store, bool) {
	st, ok := s.stores[region.Normalize(code)]
	return st, ok
}

func (s *StoreSet) Close() error {
	var errs []error
	for code, st := range s.stores {
		if err := st.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", code, err))
		}
	}
	return errors.Join(errs...)
}
