package optimizer

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/cespare/xxhash/v2"
	"github.com/haunv/profilesync/internal/core/checkpoint"
	"github.com/haunv/profilesync/internal/core/domain"
	"github.com/haunv/profilesync/internal/infra/fetch"
)

// FullFetch fetches a complete collection snapshot.
type FullFetch func(ctx context.Context) (*fetch.CollectionSnapshot, error)

// DeltaFetch fetches changes since a checkpoint hash. A nil DeltaFetch means
// the source has no delta support.
type DeltaFetch func(ctx context.Context, sinceHash uint64) (*fetch.CollectionDelta, error)

// IncrementalResult describes what a sync produced. For a full sync Snapshot
// holds the complete item set; for a delta sync Delta holds the change set.
type IncrementalResult struct {
	FullSync bool
	Snapshot *fetch.CollectionSnapshot
	Delta    *fetch.CollectionDelta
	Added    int
	Removed  int
	Total    int
	Hash     uint64
}

// Incremental decides between full and delta fetches using stored
// checkpoints, and advances the checkpoint after every successful sync.
type Incremental struct {
	checkpoints *checkpoint.Manager
	log         *slog.Logger
}

// NewIncremental creates an incremental syncer.
func NewIncremental(checkpoints *checkpoint.Manager) *Incremental {
	return &Incremental{checkpoints: checkpoints, log: slog.Default()}
}

// Sync performs a full fetch when no checkpoint exists for targetKey,
// otherwise attempts a delta fetch from the stored hash. A failing delta
// fetch falls back to a full fetch instead of propagating the error; the
// checkpoint advances from whichever fetch succeeded.
func (inc *Incremental) Sync(ctx context.Context, targetKey string, full FullFetch, delta DeltaFetch) (*IncrementalResult, error) {
	cp, err := inc.checkpoints.Get(ctx, targetKey)
	if err != nil {
		return nil, fmt.Errorf("failed to load checkpoint: %w", err)
	}

	if cp != nil && delta != nil {
		d, err := delta(ctx, cp.LastHash)
		if err == nil {
			return inc.applyDelta(ctx, targetKey, cp, d)
		}
		inc.log.Debug("delta fetch failed, falling back to full sync",
			"target", targetKey, "error", err)
	}

	return inc.fullSync(ctx, targetKey, cp, full)
}

// ForceFull performs a full fetch regardless of checkpoint state.
func (inc *Incremental) ForceFull(ctx context.Context, targetKey string, full FullFetch) (*IncrementalResult, error) {
	cp, err := inc.checkpoints.Get(ctx, targetKey)
	if err != nil {
		return nil, fmt.Errorf("failed to load checkpoint: %w", err)
	}
	return inc.fullSync(ctx, targetKey, cp, full)
}

func (inc *Incremental) fullSync(ctx context.Context, targetKey string, cp *domain.SyncCheckpoint, full FullFetch) (*IncrementalResult, error) {
	snapshot, err := full(ctx)
	if err != nil {
		return nil, err
	}

	itemKeys := make(map[string]uint64, len(snapshot.Items))
	for _, item := range snapshot.Items {
		itemKeys[item.Key()] = xxhash.Sum64String(item.Key())
	}
	hash := HashItemKeys(itemKeys)

	added, removed := diffKeys(cp, itemKeys)

	if cp == nil {
		if _, err := inc.checkpoints.Initialize(ctx, targetKey, hash, itemKeys); err != nil {
			return nil, err
		}
	} else {
		if err := inc.checkpoints.Advance(ctx, targetKey, hash, itemKeys); err != nil {
			return nil, err
		}
	}

	return &IncrementalResult{
		FullSync: true,
		Snapshot: snapshot,
		Added:    added,
		Removed:  removed,
		Total:    len(snapshot.Items),
		Hash:     hash,
	}, nil
}

func (inc *Incremental) applyDelta(ctx context.Context, targetKey string, cp *domain.SyncCheckpoint, d *fetch.CollectionDelta) (*IncrementalResult, error) {
	itemKeys := make(map[string]uint64, len(cp.ItemKeys)+len(d.Added))
	for k, v := range cp.ItemKeys {
		itemKeys[k] = v
	}
	for _, item := range d.Added {
		itemKeys[item.Key()] = xxhash.Sum64String(item.Key())
	}
	for _, key := range d.Removed {
		delete(itemKeys, key)
	}

	hash := d.NewHash
	if hash == 0 {
		hash = HashItemKeys(itemKeys)
	}

	if err := inc.checkpoints.Advance(ctx, targetKey, hash, itemKeys); err != nil {
		return nil, err
	}

	return &IncrementalResult{
		FullSync: false,
		Delta:    d,
		Added:    len(d.Added),
		Removed:  len(d.Removed),
		Total:    len(itemKeys),
		Hash:     hash,
	}, nil
}

// HashItemKeys computes a stable hash over an item key set, independent of
// map iteration order.
func HashItemKeys(itemKeys map[string]uint64) uint64 {
	keys := make([]string, 0, len(itemKeys))
	for k := range itemKeys {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	h := xxhash.New()
	for _, k := range keys {
		h.WriteString(k)
		h.Write([]byte{'\n'})
	}
	return h.Sum64()
}

func diffKeys(cp *domain.SyncCheckpoint, current map[string]uint64) (added, removed int) {
	if cp == nil {
		return len(current), 0
	}
	for k := range current {
		if _, ok := cp.ItemKeys[k]; !ok {
			added++
		}
	}
	for k := range cp.ItemKeys {
		if _, ok := current[k]; !ok {
			removed++
		}
	}
	return added, removed
}
