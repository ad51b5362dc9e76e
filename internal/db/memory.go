package db

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/Guizzs26/go-region-sync/internal/mapper"
	"github.com/Guizzs26/go-region-sync/internal/models"
)

// MemoryStore is an in-process regional store for local runs and tests
type MemoryStore struct {
	mu      sync.RWMutex
	configs map[string]models.EntitySyncConfiguration
	tables  map[string]map[string]models.Row
	writes  int
	deletes int
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		configs: make(map[string]models.EntitySyncConfiguration),
		tables:  make(map[string]map[string]models.Row),
	}
}

// PutConfiguration registers the sync policy of an entity type
func (m *MemoryStore) PutConfiguration(cfg models.EntitySyncConfiguration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.configs[strings.ToLower(cfg.EntityType)] = cfg
}

// PutRow seeds a row without counting it as a replicated write
func (m *MemoryStore) PutRow(table, entityID string, row models.Row) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.table(table)[entityID] = row.Clone()
}

// Row returns a copy of a stored row
func (m *MemoryStore) Row(table, entityID string) (models.Row, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	row, ok := m.tables[strings.ToLower(table)][entityID]
	if !ok {
		return nil, false
	}
	return row.Clone(), true
}

// Writes counts successful upserts
func (m *MemoryStore) Writes() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.writes
}

// Deletes counts delete calls, including those that matched nothing
func (m *MemoryStore) Deletes() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.deletes
}

func (m *MemoryStore) table(name string) map[string]models.Row {
	key := strings.ToLower(name)
	t, ok := m.tables[key]
	if !ok {
		t = make(map[string]models.Row)
		m.tables[key] = t
	}
	return t
}

func (m *MemoryStore) SyncConfiguration(ctx context.Context, entityType string) (*models.EntitySyncConfiguration, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	cfg, ok := m.configs[strings.ToLower(entityType)]
	if !ok || !cfg.IsEnabled {
		return nil, ErrNotFound
	}
	return &cfg, nil
}

func (m *MemoryStore) RowMetadata(ctx context.Context, s mapper.Schema, entityID string) (*models.EntityRowMetadata, error) {
	row, err := m.get(ctx, s, entityID)
	if err != nil {
		return nil, err
	}

	meta := &models.EntityRowMetadata{}
	meta.DataResidency, _ = row["data_residency"].(string)
	meta.DataOriginRegion, _ = row["data_origin_region"].(string)
	switch v := row["is_sanitized"].(type) {
	case bool:
		meta.IsSanitized = &v
	case *bool:
		meta.IsSanitized = v
	}
	switch v := row["sanitization_override_consent_at"].(type) {
	case time.Time:
		meta.SanitizationOverrideConsentAt = &v
	case *time.Time:
		meta.SanitizationOverrideConsentAt = v
	}
	return meta, nil
}

func (m *MemoryStore) FetchRow(ctx context.Context, s mapper.Schema, entityID string) (models.Row, error) {
	return m.get(ctx, s, entityID)
}

func (m *MemoryStore) SyncState(ctx context.Context, s mapper.Schema, entityID string) (*models.SyncState, error) {
	row, err := m.get(ctx, s, entityID)
	if err != nil {
		return nil, err
	}
	state := &models.SyncState{}
	state.LastSyncEventID, _ = row[mapper.ColLastSyncEventID].(string)
	state.Version, _ = row[mapper.ColSyncVersion].(int64)
	if t, ok := row[mapper.ColLastSyncedAt].(time.Time); ok {
		state.LastSyncedAt = &t
	}
	return state, nil
}

// Upsert merges the written columns into the stored row and stamps the bookkeeping
func (m *MemoryStore) Upsert(ctx context.Context, s mapper.Schema, row models.Row, stamp models.SyncStamp) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	cols, err := s.Columns(row)
	if err != nil {
		return fmt.Errorf("upsert %s: %w", s.Table, err)
	}
	entityID := fmt.Sprint(cols[0].Value)

	m.mu.Lock()
	defer m.mu.Unlock()

	t := m.table(s.Table)
	stored, ok := t[entityID]
	if !ok {
		stored = make(models.Row, len(cols)+3)
	} else {
		stored = stored.Clone()
	}
	for _, c := range cols {
		stored[c.Name] = c.Value
	}
	stored[mapper.ColLastSyncedAt] = stamp.SyncedAt
	stored[mapper.ColLastSyncEventID] = stamp.EventID
	stored[mapper.ColSyncVersion] = stamp.Version
	t[entityID] = stored
	m.writes++
	return nil
}

func (m *MemoryStore) Delete(ctx context.Context, s mapper.Schema, entityID string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deletes++
	t := m.table(s.Table)
	if _, ok := t[entityID]; !ok {
		return 0, nil
	}
	delete(t, entityID)
	return 1, nil
}

func (m *MemoryStore) Close() error {
	return nil
}

func (m *MemoryStore) get(ctx context.Context, s mapper.Schema, entityID string) (models.Row, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	row, ok := m.tables[strings.ToLower(s.Table)][entityID]
	if !ok {
		return nil, ErrNotFound
	}
	return row.Clone(), nil
}
