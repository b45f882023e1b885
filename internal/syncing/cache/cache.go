// Package cache implements the tagged in-memory cache used by the sync core:
// TTL expiry, size-bounded eviction (LRU, LFU, or TTL order), transparent
// compression above a size threshold, and event-driven tag invalidation. An
// optional remote tier shares entries across instances; remote failures never
// fail the local operation.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/haunv/profilesync/internal/core/domain"
	"github.com/haunv/profilesync/internal/syncing/metrics"
)

// ErrValueTooLarge is returned by Set when a single payload exceeds the
// configured size bound. Storing it would push the cache over the bound no
// matter how many victims were evicted.
var ErrValueTooLarge = errors.New("cache value exceeds configured size bound")

// EvictionPolicy selects victims under size pressure.
type EvictionPolicy string

const (
	// EvictLRU removes the least recently accessed entries first.
	EvictLRU EvictionPolicy = "lru"
	// EvictLFU removes the least frequently accessed entries first.
	EvictLFU EvictionPolicy = "lfu"
	// EvictTTL removes the entries closest to expiry first.
	EvictTTL EvictionPolicy = "ttl"
)

// ParsePolicy maps a config string to a policy, defaulting to LRU.
func ParsePolicy(s string) EvictionPolicy {
	switch EvictionPolicy(s) {
	case EvictLFU:
		return EvictLFU
	case EvictTTL:
		return EvictTTL
	default:
		return EvictLRU
	}
}

// RemoteTier is an optional shared cache backend (redis). Get misses return
// found=false with a nil error.
type RemoteTier interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, payload []byte, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) error
}

// Config bounds the cache.
type Config struct {
	MaxSizeBytes         int
	MaxEntries           int
	Policy               EvictionPolicy
	CompressionThreshold int
	DefaultTTL           time.Duration
}

// DefaultConfig returns the bounds used when the config leaves them unset.
func DefaultConfig() Config {
	return Config{
		MaxSizeBytes:         32 << 20, // 32 MiB
		MaxEntries:           10000,
		Policy:               EvictLRU,
		CompressionThreshold: 4 << 10, // 4 KiB
		DefaultTTL:           5 * time.Minute,
	}
}

// Options control a single Set.
type Options struct {
	TTL     time.Duration
	Tags    []string
	Version int
}

// Stats is a point-in-time snapshot of cache behavior. Hit and miss rates are
// exponentially weighted so they reflect recent behavior over history.
type Stats struct {
	HitRate          float64 `json:"hit_rate"`
	MissRate         float64 `json:"miss_rate"`
	EntryCount       int     `json:"entry_count"`
	TotalSize        int     `json:"total_size_bytes"`
	EvictionCount    int64   `json:"eviction_count"`
	CompressionRatio float64 `json:"compression_ratio"`
}

// ewmaAlpha weights each new hit/miss sample.
const ewmaAlpha = 0.05

// Cache is the tagged intelligent cache.
type Cache struct {
	cfg    Config
	remote RemoteTier
	log    *slog.Logger

	mu        sync.Mutex
	entries   map[string]*Entry
	rules     []InvalidationRule
	totalSize int

	hitRate       float64
	missRate      float64
	sampled       bool
	evictionCount int64
	rawBytes      int64 // uncompressed size of compressed entries
	storedBytes   int64 // stored size of compressed entries
}

// New creates a cache. remote may be nil.
func New(cfg Config, remote RemoteTier) *Cache {
	def := DefaultConfig()
	if cfg.MaxSizeBytes <= 0 {
		cfg.MaxSizeBytes = def.MaxSizeBytes
	}
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = def.MaxEntries
	}
	if cfg.Policy == "" {
		cfg.Policy = def.Policy
	}
	if cfg.CompressionThreshold <= 0 {
		cfg.CompressionThreshold = def.CompressionThreshold
	}
	if cfg.DefaultTTL <= 0 {
		cfg.DefaultTTL = def.DefaultTTL
	}
	return &Cache{
		cfg:     cfg,
		remote:  remote,
		log:     slog.Default(),
		entries: make(map[string]*Entry),
	}
}

// Set stores a value under key. Values above the compression threshold are
// compressed before storing. Eviction, if needed, completes before the new
// entry becomes visible.
func (c *Cache) Set(ctx context.Context, key string, value any, opts Options) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to encode cache value: %w", err)
	}

	payload := raw
	compressed := false
	if len(raw) >= c.cfg.CompressionThreshold {
		payload = compress(raw)
		compressed = true
	}

	ttl := opts.TTL
	if ttl <= 0 {
		ttl = c.cfg.DefaultTTL
	}

	now := time.Now()
	entry := &Entry{
		Key:          key,
		Payload:      payload,
		Compressed:   compressed,
		RawSize:      len(raw),
		CreatedAt:    now,
		ExpiresAt:    now.Add(ttl),
		LastAccessed: now,
		Tags:         opts.Tags,
		Version:      opts.Version,
	}
	if entry.Size() > c.cfg.MaxSizeBytes {
		return fmt.Errorf("%w: %q needs %d bytes, max is %d", ErrValueTooLarge, key, entry.Size(), c.cfg.MaxSizeBytes)
	}

	c.mu.Lock()
	if old, ok := c.entries[key]; ok {
		c.removeLocked(old)
	}
	c.ensureRoomLocked(entry.Size())
	c.entries[key] = entry
	c.totalSize += entry.Size()
	if compressed {
		c.rawBytes += int64(entry.RawSize)
		c.storedBytes += int64(entry.Size())
	}
	c.publishGaugesLocked()
	c.mu.Unlock()

	if c.remote != nil {
		if err := c.remote.Set(ctx, key, raw, ttl); err != nil {
			c.log.Warn("remote cache set failed", "key", key, "error", err)
		}
	}
	return nil
}

// Get loads the value for key into dest. Expired entries count as misses and
// are removed lazily. On a local miss the remote tier, when configured, is
// consulted before reporting a miss.
func (c *Cache) Get(ctx context.Context, key string, dest any) (bool, error) {
	c.mu.Lock()
	entry, ok := c.entries[key]
	now := time.Now()
	if ok && entry.Expired(now) {
		c.removeLocked(entry)
		c.publishGaugesLocked()
		ok = false
	}
	if !ok {
		// The lookup outcome is only known after the remote tier answers.
		c.mu.Unlock()
		found, err := c.getRemote(ctx, key, dest)
		c.mu.Lock()
		c.recordLookupLocked(found)
		c.mu.Unlock()
		if found {
			metrics.CacheHits.Inc()
		} else {
			metrics.CacheMisses.Inc()
		}
		return found, err
	}
	entry.AccessCount++
	entry.LastAccessed = now
	payload := entry.Payload
	wasCompressed := entry.Compressed
	c.recordLookupLocked(true)
	c.mu.Unlock()

	metrics.CacheHits.Inc()

	raw := payload
	if wasCompressed {
		var err error
		raw, err = decompress(payload)
		if err != nil {
			return false, err
		}
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		return false, fmt.Errorf("failed to decode cache value: %w", err)
	}
	return true, nil
}

func (c *Cache) getRemote(ctx context.Context, key string, dest any) (bool, error) {
	if c.remote == nil {
		return false, nil
	}
	raw, found, err := c.remote.Get(ctx, key)
	if err != nil {
		c.log.Warn("remote cache get failed", "key", key, "error", err)
		return false, nil
	}
	if !found {
		return false, nil
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		return false, fmt.Errorf("failed to decode remote cache value: %w", err)
	}
	return true, nil
}

// Peek returns the stored entry metadata without counting a lookup. Used by
// the recovery engine to judge staleness of a fallback value.
func (c *Cache) Peek(key string) (*Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[key]
	if !ok || entry.Expired(time.Now()) {
		return nil, false
	}
	cp := *entry
	return &cp, true
}

// Delete removes a key from the local and remote tiers.
func (c *Cache) Delete(ctx context.Context, key string) {
	c.mu.Lock()
	if entry, ok := c.entries[key]; ok {
		c.removeLocked(entry)
		c.publishGaugesLocked()
	}
	c.mu.Unlock()

	if c.remote != nil {
		if err := c.remote.Del(ctx, key); err != nil {
			c.log.Warn("remote cache delete failed", "key", key, "error", err)
		}
	}
}

// Discard removes a key from the local tier only. It handles invalidations
// initiated by another instance, where echoing the removal back to the
// remote tier would re-publish it in a loop.
func (c *Cache) Discard(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if entry, ok := c.entries[key]; ok {
		c.removeLocked(entry)
		c.publishGaugesLocked()
	}
}

// InvalidateByTags removes every entry carrying any of the given tags and
// returns how many were removed.
func (c *Cache) InvalidateByTags(ctx context.Context, tags ...string) int {
	c.mu.Lock()
	var victims []string
	for _, entry := range c.entries {
		for _, tag := range tags {
			if entry.HasTag(tag) {
				victims = append(victims, entry.Key)
				break
			}
		}
	}
	for _, key := range victims {
		c.removeLocked(c.entries[key])
	}
	c.publishGaugesLocked()
	c.mu.Unlock()

	if c.remote != nil && len(victims) > 0 {
		if err := c.remote.Del(ctx, victims...); err != nil {
			c.log.Warn("remote cache invalidation failed", "error", err)
		}
	}
	return len(victims)
}

// InvalidateByEvent applies the registered invalidation rules triggered by
// the event's type. Rules run in priority order and the first matching rule
// wins per entry.
func (c *Cache) InvalidateByEvent(ctx context.Context, event domain.SyncEvent) int {
	c.mu.Lock()
	var victims []string
	for _, entry := range c.entries {
		for _, rule := range c.rules {
			if rule.Event != event.Type {
				continue
			}
			if rule.matches(entry) {
				// Highest-priority matching rule wins for this entry.
				victims = append(victims, entry.Key)
				break
			}
		}
	}
	for _, key := range victims {
		c.removeLocked(c.entries[key])
	}
	c.publishGaugesLocked()
	c.mu.Unlock()

	if c.remote != nil && len(victims) > 0 {
		if err := c.remote.Del(ctx, victims...); err != nil {
			c.log.Warn("remote cache invalidation failed", "error", err)
		}
	}
	if len(victims) > 0 {
		c.log.Debug("cache invalidated by event", "event", event.Type, "removed", len(victims))
	}
	return len(victims)
}

// Sweep removes expired entries eagerly. The cache treats expired entries as
// absent regardless; Sweep just reclaims their space.
func (c *Cache) Sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := time.Now()
	removed := 0
	for _, entry := range c.entries {
		if entry.Expired(now) {
			c.removeLocked(entry)
			removed++
		}
	}
	c.publishGaugesLocked()
	return removed
}

// Clear drops every entry.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*Entry)
	c.totalSize = 0
	c.publishGaugesLocked()
}

// Stats returns a snapshot of cache behavior.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	ratio := 1.0
	if c.rawBytes > 0 {
		ratio = float64(c.storedBytes) / float64(c.rawBytes)
	}
	return Stats{
		HitRate:          c.hitRate,
		MissRate:         c.missRate,
		EntryCount:       len(c.entries),
		TotalSize:        c.totalSize,
		EvictionCount:    c.evictionCount,
		CompressionRatio: ratio,
	}
}

// Capacity returns the configured size and entry bounds.
func (c *Cache) Capacity() (maxBytes, maxEntries int) {
	return c.cfg.MaxSizeBytes, c.cfg.MaxEntries
}

// ensureRoomLocked evicts victims per the configured policy until the new
// payload fits within both the size and entry-count bounds.
func (c *Cache) ensureRoomLocked(incoming int) {
	for len(c.entries) > 0 &&
		(c.totalSize+incoming > c.cfg.MaxSizeBytes || len(c.entries)+1 > c.cfg.MaxEntries) {
		victim := c.selectVictimLocked()
		if victim == nil {
			return
		}
		c.removeLocked(victim)
		c.evictionCount++
		metrics.CacheEvictions.WithLabelValues(string(c.cfg.Policy)).Inc()
	}
}

func (c *Cache) selectVictimLocked() *Entry {
	var victim *Entry
	for _, entry := range c.entries {
		if victim == nil {
			victim = entry
			continue
		}
		switch c.cfg.Policy {
		case EvictLFU:
			if entry.AccessCount < victim.AccessCount {
				victim = entry
			}
		case EvictTTL:
			if entry.ExpiresAt.Before(victim.ExpiresAt) {
				victim = entry
			}
		default: // LRU
			if entry.LastAccessed.Before(victim.LastAccessed) {
				victim = entry
			}
		}
	}
	return victim
}

func (c *Cache) removeLocked(entry *Entry) {
	if _, ok := c.entries[entry.Key]; !ok {
		return
	}
	delete(c.entries, entry.Key)
	c.totalSize -= entry.Size()
	if entry.Compressed {
		c.rawBytes -= int64(entry.RawSize)
		c.storedBytes -= int64(entry.Size())
	}
}

func (c *Cache) recordLookupLocked(hit bool) {
	sample := 0.0
	if hit {
		sample = 1.0
	}
	if !c.sampled {
		c.hitRate = sample
		c.missRate = 1 - sample
		c.sampled = true
		return
	}
	c.hitRate = (1-ewmaAlpha)*c.hitRate + ewmaAlpha*sample
	c.missRate = (1-ewmaAlpha)*c.missRate + ewmaAlpha*(1-sample)
}

func (c *Cache) publishGaugesLocked() {
	metrics.CacheSizeBytes.Set(float64(c.totalSize))
	metrics.CacheEntries.Set(float64(len(c.entries)))
}
