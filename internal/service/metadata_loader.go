package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/Guizzs26/go-region-sync/internal/db"
	"github.com/Guizzs26/go-region-sync/internal/mapper"
	"github.com/Guizzs26/go-region-sync/internal/models"
)

// MetadataLoader reads the sync policy of an entity type and the privacy attributes of
// one instance from the source region. It never writes.
type MetadataLoader struct {
	stores  StoreProvider
	schemas *mapper.SchemaRegistry
	logger  *slog.Logger
}

func NewMetadataLoader(stores StoreProvider, schemas *mapper.SchemaRegistry, logger *slog.Logger) *MetadataLoader {
	return &MetadataLoader{
		stores:  stores,
		schemas: schemas,
		logger:  logger,
	}
}

// LoadMetadata returns ErrMetadataNotFound when the type is unconfigured or disabled,
// or when the row no longer exists at the source
func (l *MetadataLoader) LoadMetadata(ctx context.Context, msg models.SyncMessage) (*models.EntitySyncConfiguration, *models.EntityRowMetadata, error) {
	log := l.logger.With(
		"sync_event_id", msg.SyncEventID,
		"entity_type", msg.EntityType,
		"entity_id", msg.EntityID,
		"source_region", msg.SourceRegion,
	)

	store, ok := l.stores.Store(msg.SourceRegion)
	if !ok {
		return nil, nil, fmt.Errorf("no store registered for source region %s", msg.SourceRegion)
	}

	cfg, err := store.SyncConfiguration(ctx, msg.EntityType)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			log.Warn("Entity type has no enabled sync configuration, not syncing")
			return nil, nil, fmt.Errorf("%w: entity type %s not configured", ErrMetadataNotFound, msg.EntityType)
		}
		return nil, nil, fmt.Errorf("load sync configuration: %w", err)
	}
	if !cfg.IsEnabled {
		log.Warn("Entity type sync is disabled, not syncing")
		return nil, nil, fmt.Errorf("%w: entity type %s disabled", ErrMetadataNotFound, msg.EntityType)
	}

	schema, err := l.schemas.Resolve(msg)
	if err != nil {
		return nil, nil, err
	}

	meta, err := store.RowMetadata(ctx, schema, msg.EntityID)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			log.Info("Source row not found, nothing to resolve", "table", schema.Table)
			return nil, nil, fmt.Errorf("%w: row %s/%s", ErrMetadataNotFound, schema.Table, msg.EntityID)
		}
		return nil, nil, fmt.Errorf("load row metadata: %w", err)
	}

	return cfg, meta, nil
}
