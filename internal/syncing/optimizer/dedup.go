// Package optimizer sits in front of fetch operations: it batches related
// requests, shares in-flight fetches among concurrent identical callers, and
// prefers incremental deltas over full refreshes when a checkpoint exists.
package optimizer

import (
	"context"
	"sync"
	"time"

	"github.com/haunv/profilesync/internal/syncing/metrics"
)

// DefaultDedupTTL is the window during which concurrent identical requests
// share one in-flight fetch.
const DefaultDedupTTL = 5 * time.Second

// FetchFunc produces the shared value for a deduplicated request.
type FetchFunc func(ctx context.Context) (any, error)

type flight struct {
	startedAt time.Time
	done      chan struct{}
	result    any
	err       error
}

// Deduplicator coalesces concurrent identical requests: within the TTL window
// after the first request started, further calls with the same key wait for
// the leader's result instead of fetching again. Once the window elapses the
// next call starts a fresh fetch even if the prior one is still running.
type Deduplicator struct {
	ttl time.Duration

	mu       sync.Mutex
	inflight map[string]*flight
}

// NewDeduplicator creates a deduplicator (ttl <= 0 uses the default).
func NewDeduplicator(ttl time.Duration) *Deduplicator {
	if ttl <= 0 {
		ttl = DefaultDedupTTL
	}
	return &Deduplicator{
		ttl:      ttl,
		inflight: make(map[string]*flight),
	}
}

// Do executes fn for key, or joins an in-flight execution within the TTL
// window. All joined callers receive the same result or the same failure.
func (d *Deduplicator) Do(ctx context.Context, key string, fn FetchFunc) (any, error) {
	d.mu.Lock()
	if f, ok := d.inflight[key]; ok && time.Since(f.startedAt) < d.ttl {
		d.mu.Unlock()
		metrics.DedupJoined.Inc()
		select {
		case <-f.done:
			return f.result, f.err
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	f := &flight{startedAt: time.Now(), done: make(chan struct{})}
	d.inflight[key] = f
	d.mu.Unlock()

	f.result, f.err = fn(ctx)
	close(f.done)

	d.mu.Lock()
	if d.inflight[key] == f {
		delete(d.inflight, key)
	}
	d.mu.Unlock()

	return f.result, f.err
}

// InFlight reports whether a shareable request for key is currently running.
func (d *Deduplicator) InFlight(key string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	f, ok := d.inflight[key]
	return ok && time.Since(f.startedAt) < d.ttl
}
