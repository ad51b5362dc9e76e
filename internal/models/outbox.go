package models

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// eventNamespace seeds the deterministic event ids derived for outbox rows without one
var eventNamespace = uuid.MustParse("5b0c6a4e-8f62-4f0e-9a43-3d2b4f7e1c90")

// OutboxEntry is a row of the regional sync_outbox table
type OutboxEntry struct {
	ID         int64   `db:"id"`
	EntityType string  `db:"entity_type"`
	EntityID   string  `db:"entity_id"`
	TableName  *string `db:"table_name"`
	IsDeleted  bool    `db:"is_deleted"`
	EventID    *string `db:"event_id"`
	Version    int64   `db:"version"`
	Attempts   int     `db:"attempts"`
}

// RevertStrategy decides whether a revert to pending counts against the retry budget
type RevertStrategy int

const (
	// StrategyInfraFailure reverts without consuming an attempt (broker down, shutdown)
	StrategyInfraFailure RevertStrategy = iota
	// StrategyBusinessFailure reverts and increments the attempt counter
	StrategyBusinessFailure
)

// SyncEventID returns the stored event id or a stable id derived from the region and row id.
// Republishing the same row therefore always carries the same idempotency token.
func (e OutboxEntry) SyncEventID(sourceRegion string) string {
	if e.EventID != nil && strings.TrimSpace(*e.EventID) != "" {
		return strings.TrimSpace(*e.EventID)
	}
	name := fmt.Sprintf("%s:%d", strings.ToUpper(sourceRegion), e.ID)
	return uuid.NewSHA1(eventNamespace, []byte(name)).String()
}

// ToSyncMessage converts the outbox row into the transport message
func (e OutboxEntry) ToSyncMessage(sourceRegion string) SyncMessage {
	return SyncMessage{
		EntityType:   e.EntityType,
		EntityID:     e.EntityID,
		SourceRegion: strings.ToUpper(sourceRegion),
		TableName:    e.TableName,
		IsDeleted:    e.IsDeleted,
		SyncEventID:  e.SyncEventID(sourceRegion),
		Version:      e.Version,
	}
}
