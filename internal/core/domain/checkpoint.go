package domain

import "time"

// SyncCheckpoint records what is known about a synchronized entity so the
// next sync can be a delta instead of a full snapshot. One exists per target
// key; LastSyncAt only ever advances.
type SyncCheckpoint struct {
	TargetKey  string
	LastHash   uint64
	LastSyncAt time.Time
	// ItemKeys maps item key -> item-level checkpoint hash for per-key
	// delta reconciliation.
	ItemKeys map[string]uint64
}
