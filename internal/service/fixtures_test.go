package service

import (
	"context"
	"log/slog"
	"sync"

	"github.com/Guizzs26/go-region-sync/internal/db"
	"github.com/Guizzs26/go-region-sync/internal/mapper"
	"github.com/Guizzs26/go-region-sync/internal/models"
	"github.com/Guizzs26/go-region-sync/internal/region"
)

var regionCodes = []string{"EU", "EU-MAIN", "US", "IN"}

// faultyStore injects failures in front of an in-memory store
type faultyStore struct {
	*db.MemoryStore

	mu           sync.Mutex
	upsertErrs   []error
	deleteErr    error
	syncStateErr error
	metadataErr  error
	afterUpsert  func()
}

func newFaultyStore() *faultyStore {
	return &faultyStore{MemoryStore: db.NewMemoryStore()}
}

func (f *faultyStore) failUpserts(errs ...error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.upsertErrs = append(f.upsertErrs, errs...)
}

func (f *faultyStore) Upsert(ctx context.Context, s mapper.Schema, row models.Row, stamp models.SyncStamp) error {
	f.mu.Lock()
	var err error
	if len(f.upsertErrs) > 0 {
		err, f.upsertErrs = f.upsertErrs[0], f.upsertErrs[1:]
	}
	hook := f.afterUpsert
	f.mu.Unlock()

	if err == nil {
		err = f.MemoryStore.Upsert(ctx, s, row, stamp)
	}
	if hook != nil {
		hook()
	}
	return err
}

func (f *faultyStore) Delete(ctx context.Context, s mapper.Schema, entityID string) (int64, error) {
	if f.deleteErr != nil {
		return 0, f.deleteErr
	}
	return f.MemoryStore.Delete(ctx, s, entityID)
}

func (f *faultyStore) SyncState(ctx context.Context, s mapper.Schema, entityID string) (*models.SyncState, error) {
	if f.syncStateErr != nil {
		return nil, f.syncStateErr
	}
	return f.MemoryStore.SyncState(ctx, s, entityID)
}

func (f *faultyStore) RowMetadata(ctx context.Context, s mapper.Schema, entityID string) (*models.EntityRowMetadata, error) {
	if f.metadataErr != nil {
		return nil, f.metadataErr
	}
	return f.MemoryStore.RowMetadata(ctx, s, entityID)
}

type world struct {
	stores   map[string]*faultyStore
	set      *db.StoreSet
	registry *region.Registry
	schemas  *mapper.SchemaRegistry
	logger   *slog.Logger
}

func newWorld() (*world, error) {
	w := &world{
		stores: make(map[string]*faultyStore, len(regionCodes)),
		logger: slog.New(slog.DiscardHandler),
	}

	regions := make([]region.Region, 0, len(regionCodes))
	raw := make(map[string]db.Store, len(regionCodes))
	for _, code := range regionCodes {
		st := newFaultyStore()
		w.stores[code] = st
		raw[code] = st
		regions = append(regions, region.Region{Code: code, ConnectionDescriptor: "memory://" + code})
	}
	w.set = db.NewStoreSet(raw)

	var err error
	w.registry, err = region.New(regions, region.Topology{
		Satellites: []string{"US", "IN"},
		Aggregator: "EU-MAIN",
		EURegions:  []string{"EU", "EU-MAIN"},
	})
	if err != nil {
		return nil, err
	}

	w.schemas, err = mapper.NewSchemaRegistry()
	if err != nil {
		return nil, err
	}
	return w, nil
}

func (w *world) configureEverywhere(cfg models.EntitySyncConfiguration) {
	for _, st := range w.stores {
		st.PutConfiguration(cfg)
	}
}

func boolPtr(b bool) *bool { return &b }

func strPtr(s string) *string { return &s }
