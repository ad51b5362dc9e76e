package models

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidMessage marks a SyncMessage that cannot be processed as delivered.
// Redelivering it will not help.
var ErrInvalidMessage = errors.New("invalid sync message")

// SyncMessage is the change notification delivered by the transport, one per change event
type SyncMessage struct {
	EntityType   string  `json:"entity_type"`
	EntityID     string  `json:"entity_id"`
	SourceRegion string  `json:"source_region"`
	TableName    *string `json:"table_name,omitempty"`
	IsDeleted    bool    `json:"is_deleted"`
	SyncEventID  string  `json:"sync_event_id"`

	// Version is an optional per-entity sequence. Zero means the producer does not supply one.
	Version int64 `json:"version,omitempty"`
}

// Table returns the physical store name, falling back to the entity type
func (m SyncMessage) Table() string {
	if m.TableName != nil && strings.TrimSpace(*m.TableName) != "" {
		return strings.TrimSpace(*m.TableName)
	}
	return m.EntityType
}

// Operation is the label used in logs and metrics
func (m SyncMessage) Operation() string {
	if m.IsDeleted {
		return "delete"
	}
	return "upsert"
}

// Validate checks the mandatory fields without touching any store
func (m SyncMessage) Validate() error {
	var missing []string
	if strings.TrimSpace(m.EntityType) == "" {
		missing = append(missing, "entity_type")
	}
	if strings.TrimSpace(m.EntityID) == "" {
		missing = append(missing, "entity_id")
	}
	if strings.TrimSpace(m.SourceRegion) == "" {
		missing = append(missing, "source_region")
	}
	if strings.TrimSpace(m.SyncEventID) == "" {
		missing = append(missing, "sync_event_id")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing %s", ErrInvalidMessage, strings.Join(missing, ", "))
	}
	if m.Version < 0 {
		return fmt.Errorf("%w: negative version %d", ErrInvalidMessage, m.Version)
	}
	return nil
}
