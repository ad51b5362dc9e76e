package models

import "time"

// Row is a full record snapshot keyed by column name
type Row map[string]any

// Clone returns a shallow copy so writers never mutate the source snapshot
func (r Row) Clone() Row {
	out := make(Row, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// SyncState is the replication bookkeeping stored on every replicated row
type SyncState struct {
	LastSyncEventID string
	LastSyncedAt    *time.Time
	Version         int64
}

// SyncStamp is written into a target row's bookkeeping after a successful upsert
type SyncStamp struct {
	EventID  string
	Version  int64
	SyncedAt time.Time
}

// TargetStatus describes what happened to one target region
type TargetStatus string

const (
	TargetApplied       TargetStatus = "applied"
	TargetDeleted       TargetStatus = "deleted"
	TargetAlreadySynced TargetStatus = "already_synced"
	TargetStale         TargetStatus = "stale"
	TargetNoStore       TargetStatus = "no_store"
	TargetFailed        TargetStatus = "failed"
	TargetNotAttempted  TargetStatus = "not_attempted"
)

// TargetOutcome is the per region result of a propagation
type TargetOutcome struct {
	Region       string
	Status       TargetStatus
	RowsAffected int64
	Err          error
}

// SyncResult aggregates the outcome of processing one SyncMessage
type SyncResult struct {
	Targets  []string
	Outcomes []TargetOutcome
}

// Count returns how many targets ended with the given status
func (r *SyncResult) Count(status TargetStatus) int {
	if r == nil {
		return 0
	}
	n := 0
	for _, o := range r.Outcomes {
		if o.Status == status {
			n++
		}
	}
	return n
}
