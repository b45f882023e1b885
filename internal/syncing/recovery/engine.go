package recovery

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/haunv/profilesync/internal/core/domain"
	"github.com/haunv/profilesync/internal/syncing/cache"
	"github.com/haunv/profilesync/internal/syncing/metrics"
)

// StalenessThreshold marks cache fallback values older than this as stale.
const StalenessThreshold = 24 * time.Hour

// Resolution is the engine's decision for one classified failure.
type Resolution struct {
	Strategy domain.RecoveryStrategy

	// Retry is set when the caller should retry after Delay.
	Retry bool
	Delay time.Duration

	// Value holds a fallback payload when a cache or partial fallback
	// produced one; FromCache and Stale qualify it.
	Value     any
	FromCache bool
	Stale     bool

	// Terminal is set when no further recovery is possible.
	Terminal bool

	Message string
	Actions []string
}

// Engine executes recovery strategies for classified errors. Retry ceilings
// are keyed by (operation type, target key) so independent calls for the same
// logical operation share one attempt budget.
type Engine struct {
	backoff Backoff
	cache   *cache.Cache
	log     *slog.Logger

	mu       sync.Mutex
	attempts map[string]int
}

// NewEngine creates a recovery engine. c may be nil to disable cache
// fallbacks.
func NewEngine(backoff Backoff, c *cache.Cache) *Engine {
	return &Engine{
		backoff:  backoff,
		cache:    c,
		log:      slog.Default(),
		attempts: make(map[string]int),
	}
}

func retryKey(op domain.OperationType, targetKey string) string {
	return string(op) + "|" + targetKey
}

// Resolve decides the next action for a classified error. cacheKey names the
// entry a FALLBACK_CACHE strategy may serve; it is ignored for other
// strategies.
func (e *Engine) Resolve(ctx context.Context, cerr *domain.ClassifiedError, cacheKey string) Resolution {
	switch cerr.Strategy {
	case domain.RecoveryRetryAutomatic:
		return e.resolveRetry(ctx, cerr, cacheKey)
	case domain.RecoveryFallbackCache:
		return e.resolveCacheFallback(ctx, cerr, cacheKey)
	case domain.RecoveryFallbackPartial:
		return e.resolvePartial(cerr)
	case domain.RecoveryRetryManual:
		metrics.RecoveriesTotal.WithLabelValues(string(cerr.Strategy), "surfaced").Inc()
		return Resolution{Strategy: cerr.Strategy, Terminal: true, Message: cerr.Message, Actions: cerr.Actions}
	case domain.RecoveryRequireReconnection, domain.RecoveryRequireUserAction:
		metrics.RecoveriesTotal.WithLabelValues(string(cerr.Strategy), "surfaced").Inc()
		return Resolution{Strategy: cerr.Strategy, Terminal: true, Message: cerr.Message, Actions: cerr.Actions}
	default:
		metrics.RecoveriesTotal.WithLabelValues(string(domain.RecoveryNone), "surfaced").Inc()
		return Resolution{Strategy: domain.RecoveryNone, Terminal: true, Message: cerr.Message, Actions: cerr.Actions}
	}
}

func (e *Engine) resolveRetry(ctx context.Context, cerr *domain.ClassifiedError, cacheKey string) Resolution {
	key := retryKey(cerr.Operation, cerr.TargetKey)

	e.mu.Lock()
	attempt := e.attempts[key]
	e.attempts[key] = attempt + 1
	e.mu.Unlock()

	if e.backoff.Exhausted(attempt) {
		e.log.Warn("retry budget exhausted",
			"operation", cerr.Operation, "target", cerr.TargetKey, "attempts", attempt)
		metrics.RecoveriesTotal.WithLabelValues(string(cerr.Strategy), "exhausted").Inc()

		// Read-class operations degrade to the last cached value once
		// retries run out; writes surface the failure.
		if !cerr.Operation.IsWrite() && e.cache != nil && cacheKey != "" {
			if res := e.resolveCacheFallback(ctx, cerr, cacheKey); res.FromCache {
				return res
			}
		}
		return Resolution{
			Strategy: cerr.Strategy,
			Terminal: true,
			Message:  "The sync kept failing and automatic retries are exhausted.",
			Actions:  []string{"retry the sync manually", "check your connection"},
		}
	}

	metrics.RetriesTotal.WithLabelValues(string(cerr.Kind)).Inc()
	return Resolution{
		Strategy: cerr.Strategy,
		Retry:    true,
		Delay:    e.backoff.Delay(attempt),
		Message:  cerr.Message,
		Actions:  cerr.Actions,
	}
}

func (e *Engine) resolveCacheFallback(ctx context.Context, cerr *domain.ClassifiedError, cacheKey string) Resolution {
	if e.cache == nil || cacheKey == "" {
		return e.resolvePartial(cerr)
	}

	entry, ok := e.cache.Peek(cacheKey)
	if !ok {
		return e.resolvePartial(cerr)
	}

	var value any
	found, err := e.cache.Get(ctx, cacheKey, &value)
	if err != nil || !found {
		return e.resolvePartial(cerr)
	}

	stale := time.Since(entry.CreatedAt) > StalenessThreshold
	metrics.RecoveriesTotal.WithLabelValues(string(domain.RecoveryFallbackCache), "served").Inc()
	msg, actions := describe(cerr.Kind, domain.RecoveryFallbackCache)
	return Resolution{
		Strategy:  domain.RecoveryFallbackCache,
		Value:     value,
		FromCache: true,
		Stale:     stale,
		Message:   msg,
		Actions:   actions,
	}
}

func (e *Engine) resolvePartial(cerr *domain.ClassifiedError) Resolution {
	metrics.RecoveriesTotal.WithLabelValues(string(domain.RecoveryFallbackPartial), "served").Inc()
	msg, actions := describe(cerr.Kind, domain.RecoveryFallbackPartial)
	return Resolution{
		Strategy: domain.RecoveryFallbackPartial,
		Value:    partialPayload(cerr.Operation),
		Message:  msg,
		Actions:  actions,
	}
}

// partialPayload is the degraded placeholder per operation type.
func partialPayload(op domain.OperationType) any {
	switch op {
	case domain.OperationNFTFetch:
		return &domain.SyncPayload{Collections: 0, TotalNFTs: 0}
	case domain.OperationWalletVerify:
		return &domain.WalletIdentity{Verified: false}
	case domain.OperationEligibilityCheck:
		return false
	default:
		return nil
	}
}

// RecordSuccess clears the retry budget for an operation after it succeeds.
func (e *Engine) RecordSuccess(op domain.OperationType, targetKey string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.attempts, retryKey(op, targetKey))
}

// Attempts reports the consumed retry budget for an operation.
func (e *Engine) Attempts(op domain.OperationType, targetKey string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.attempts[retryKey(op, targetKey)]
}
