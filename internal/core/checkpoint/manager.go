// Package checkpoint manages per-entity incremental sync state. A checkpoint
// records the last known collection hash and sync time for a target key so
// the next sync can be a delta instead of a full snapshot.
package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/haunv/profilesync/internal/core/domain"
	"github.com/haunv/profilesync/internal/infra/storage"
)

var (
	// ErrCheckpointNotFound is returned when advancing a checkpoint that
	// was never initialized.
	ErrCheckpointNotFound = errors.New("checkpoint not found")

	// ErrTimeRegression is returned when an advance would move the
	// checkpoint's last sync time backwards.
	ErrTimeRegression = errors.New("checkpoint time regression")
)

// Manager coordinates checkpoint reads and monotonic advances.
type Manager struct {
	repo storage.CheckpointRepository

	// mu serializes advances per process so concurrent syncs for the same
	// target cannot interleave a stale write.
	mu sync.Mutex
}

// NewManager creates a checkpoint manager over the given repository.
func NewManager(repo storage.CheckpointRepository) *Manager {
	return &Manager{repo: repo}
}

// Get retrieves the checkpoint for a target key, nil if none exists.
func (m *Manager) Get(ctx context.Context, targetKey string) (*domain.SyncCheckpoint, error) {
	return m.repo.Get(ctx, targetKey)
}

// Initialize creates a checkpoint after a first full sync.
func (m *Manager) Initialize(ctx context.Context, targetKey string, hash uint64, itemKeys map[string]uint64) (*domain.SyncCheckpoint, error) {
	cp := &domain.SyncCheckpoint{
		TargetKey:  targetKey,
		LastHash:   hash,
		LastSyncAt: time.Now(),
		ItemKeys:   itemKeys,
	}
	if err := m.repo.Save(ctx, cp); err != nil {
		return nil, fmt.Errorf("failed to save checkpoint: %w", err)
	}
	return cp, nil
}

// Advance moves the checkpoint forward after a successful sync. The last sync
// time only ever advances; a regressive write is rejected.
func (m *Manager) Advance(ctx context.Context, targetKey string, hash uint64, itemKeys map[string]uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp, err := m.repo.Get(ctx, targetKey)
	if err != nil {
		return fmt.Errorf("failed to get checkpoint: %w", err)
	}
	if cp == nil {
		return ErrCheckpointNotFound
	}

	now := time.Now()
	if now.Before(cp.LastSyncAt) {
		return fmt.Errorf("%w: %s is before %s", ErrTimeRegression, now, cp.LastSyncAt)
	}

	cp.LastHash = hash
	cp.LastSyncAt = now
	if itemKeys != nil {
		cp.ItemKeys = itemKeys
	}

	if err := m.repo.Save(ctx, cp); err != nil {
		return fmt.Errorf("failed to save checkpoint: %w", err)
	}
	return nil
}

// Reset removes the checkpoint, forcing the next sync to be full.
func (m *Manager) Reset(ctx context.Context, targetKey string) error {
	return m.repo.Delete(ctx, targetKey)
}

// Age returns how long ago the target was last synced. Unknown targets
// report a zero time and false.
func (m *Manager) Age(ctx context.Context, targetKey string) (time.Duration, bool, error) {
	cp, err := m.repo.Get(ctx, targetKey)
	if err != nil {
		return 0, false, err
	}
	if cp == nil {
		return 0, false, nil
	}
	return time.Since(cp.LastSyncAt), true, nil
}
