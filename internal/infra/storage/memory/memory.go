// Package memory provides in-memory repository implementations, used when no
// database is configured and throughout the tests.
package memory

import (
	"context"
	"sync"

	"github.com/haunv/profilesync/internal/core/domain"
)

// MemoryStorage backs all in-memory repositories.
type MemoryStorage struct {
	mu          sync.RWMutex
	profiles    map[string]*domain.Profile
	checkpoints map[string]*domain.SyncCheckpoint
	audit       []*domain.AuditEntry
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		profiles:    make(map[string]*domain.Profile),
		checkpoints: make(map[string]*domain.SyncCheckpoint),
	}
}

// -----------------------------------------------------------------------------
// Profile Repository
// -----------------------------------------------------------------------------

type ProfileRepo struct {
	store *MemoryStorage
}

func NewProfileRepo(store *MemoryStorage) *ProfileRepo {
	return &ProfileRepo{store: store}
}

func (r *ProfileRepo) Get(ctx context.Context, address string) (*domain.Profile, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	p, ok := r.store.profiles[address]
	if !ok {
		return nil, nil
	}
	cp := *p
	return &cp, nil
}

func (r *ProfileRepo) Save(ctx context.Context, profile *domain.Profile) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	cp := *profile
	r.store.profiles[profile.Address] = &cp
	return nil
}

func (r *ProfileRepo) Delete(ctx context.Context, address string) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	delete(r.store.profiles, address)
	return nil
}

// -----------------------------------------------------------------------------
// Checkpoint Repository
// -----------------------------------------------------------------------------

type CheckpointRepo struct {
	store *MemoryStorage
}

func NewCheckpointRepo(store *MemoryStorage) *CheckpointRepo {
	return &CheckpointRepo{store: store}
}

func (r *CheckpointRepo) Get(ctx context.Context, targetKey string) (*domain.SyncCheckpoint, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	cp, ok := r.store.checkpoints[targetKey]
	if !ok {
		return nil, nil
	}
	out := *cp
	out.ItemKeys = make(map[string]uint64, len(cp.ItemKeys))
	for k, v := range cp.ItemKeys {
		out.ItemKeys[k] = v
	}
	return &out, nil
}

func (r *CheckpointRepo) Save(ctx context.Context, cp *domain.SyncCheckpoint) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	out := *cp
	out.ItemKeys = make(map[string]uint64, len(cp.ItemKeys))
	for k, v := range cp.ItemKeys {
		out.ItemKeys[k] = v
	}
	r.store.checkpoints[cp.TargetKey] = &out
	return nil
}

func (r *CheckpointRepo) Delete(ctx context.Context, targetKey string) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	delete(r.store.checkpoints, targetKey)
	return nil
}

func (r *CheckpointRepo) List(ctx context.Context) ([]*domain.SyncCheckpoint, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	out := make([]*domain.SyncCheckpoint, 0, len(r.store.checkpoints))
	for _, cp := range r.store.checkpoints {
		c := *cp
		out = append(out, &c)
	}
	return out, nil
}

// -----------------------------------------------------------------------------
// Audit Repository
// -----------------------------------------------------------------------------

type AuditRepo struct {
	store *MemoryStorage
}

func NewAuditRepo(store *MemoryStorage) *AuditRepo {
	return &AuditRepo{store: store}
}

func (r *AuditRepo) Record(ctx context.Context, entry *domain.AuditEntry) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	cp := *entry
	r.store.audit = append(r.store.audit, &cp)
	return nil
}

func (r *AuditRepo) Recent(ctx context.Context, limit int) ([]*domain.AuditEntry, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	n := len(r.store.audit)
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]*domain.AuditEntry, 0, limit)
	for i := n - 1; i >= n-limit; i-- {
		cp := *r.store.audit[i]
		out = append(out, &cp)
	}
	return out, nil
}
