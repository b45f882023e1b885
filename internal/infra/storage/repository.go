// Package storage defines the repository interfaces the sync core persists
// through. Implementations live in the memory and postgres subpackages.
package storage

import (
	"context"

	"github.com/haunv/profilesync/internal/core/domain"
)

// ProfileRepository persists synchronized profiles.
type ProfileRepository interface {
	// Get returns the profile for an address, nil if not found.
	Get(ctx context.Context, address string) (*domain.Profile, error)

	// Save upserts a profile.
	Save(ctx context.Context, profile *domain.Profile) error

	// Delete removes a profile.
	Delete(ctx context.Context, address string) error
}

// CheckpointRepository persists incremental sync checkpoints.
type CheckpointRepository interface {
	// Get returns the checkpoint for a target key, nil if not found.
	Get(ctx context.Context, targetKey string) (*domain.SyncCheckpoint, error)

	// Save upserts a checkpoint.
	Save(ctx context.Context, cp *domain.SyncCheckpoint) error

	// Delete removes a checkpoint.
	Delete(ctx context.Context, targetKey string) error

	// List returns all checkpoints.
	List(ctx context.Context) ([]*domain.SyncCheckpoint, error)
}

// AuditRepository persists audit entries.
type AuditRepository interface {
	// Record appends an audit entry.
	Record(ctx context.Context, entry *domain.AuditEntry) error

	// Recent returns the most recent entries, newest first.
	Recent(ctx context.Context, limit int) ([]*domain.AuditEntry, error)
}
