// Package orchestrator owns the sync state machine: it reacts to wallet and
// app lifecycle triggers, schedules periodic sync, routes operations through
// the optimizer, caches results, emits lifecycle events on the bus, and hands
// failures to the recovery engine.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/haunv/profilesync/internal/core/checkpoint"
	"github.com/haunv/profilesync/internal/core/domain"
	"github.com/haunv/profilesync/internal/infra/fetch"
	"github.com/haunv/profilesync/internal/infra/security"
	"github.com/haunv/profilesync/internal/infra/storage"
	"github.com/haunv/profilesync/internal/syncing/bus"
	"github.com/haunv/profilesync/internal/syncing/cache"
	"github.com/haunv/profilesync/internal/syncing/metrics"
	"github.com/haunv/profilesync/internal/syncing/optimizer"
	"github.com/haunv/profilesync/internal/syncing/recovery"
)

// ErrNoIdentity is returned when a sync is requested without a connected
// wallet identity.
var ErrNoIdentity = errors.New("no wallet identity connected")

const eventSource = "sync-orchestrator"

// State is the orchestrator's lifecycle state.
type State string

const (
	StateIdle   State = "idle"
	StateActive State = "active"
)

// Status is a snapshot of the orchestrator.
type Status struct {
	State        State
	Address      string
	LastSyncAt   time.Time
	SyncCount    int64
	FailureCount int64
	LastError    string
}

// Config holds orchestrator timing knobs.
type Config struct {
	AutoSyncEnabled bool
	SyncInterval    time.Duration
	// IdleThreshold switches periodic sync to collection-only once the
	// caller has been inactive this long.
	IdleThreshold time.Duration
	// CatchUpThreshold triggers a sync on app focus when the last sync is
	// older than this.
	CatchUpThreshold time.Duration
	// HistoryLimit bounds the retained operation history.
	HistoryLimit int
}

// DefaultConfig returns the standard timing knobs.
func DefaultConfig() Config {
	return Config{
		AutoSyncEnabled:  true,
		SyncInterval:     5 * time.Minute,
		IdleThreshold:    10 * time.Minute,
		CatchUpThreshold: 5 * time.Minute,
		HistoryLimit:     100,
	}
}

// Deps are the collaborators the orchestrator is constructed with.
type Deps struct {
	Source      fetch.Source
	Cache       *cache.Cache
	Bus         *bus.Bus
	Batcher     *optimizer.Batcher
	Dedup       *optimizer.Deduplicator
	Incremental *optimizer.Incremental
	Recovery    *recovery.Engine
	Profiles    storage.ProfileRepository
	Checkpoints *checkpoint.Manager
	Validator   security.SessionValidator
	Audit       security.AuditSink
	Clock       Clock
}

// Orchestrator coordinates profile synchronization for one connected
// identity at a time.
type Orchestrator struct {
	cfg Config
	d   Deps
	log *slog.Logger

	mu                sync.Mutex
	identity          *domain.WalletIdentity
	state             State
	lastSyncAt        time.Time
	lastActivity      time.Time
	syncCount         int64
	failureCount      int64
	lastError         string
	pendingBackground bool
	periodicStop      chan struct{}
	history           []*domain.Operation
}

// New creates an orchestrator. The batcher's nft-fetch handler is registered
// here so batched collection fetches flow through the incremental syncer.
func New(cfg Config, deps Deps) *Orchestrator {
	def := DefaultConfig()
	if cfg.SyncInterval <= 0 {
		cfg.SyncInterval = def.SyncInterval
	}
	if cfg.IdleThreshold <= 0 {
		cfg.IdleThreshold = def.IdleThreshold
	}
	if cfg.CatchUpThreshold <= 0 {
		cfg.CatchUpThreshold = def.CatchUpThreshold
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = def.HistoryLimit
	}
	if deps.Clock == nil {
		deps.Clock = RealClock()
	}
	if deps.Validator == nil {
		deps.Validator = security.AllowAll{}
	}

	o := &Orchestrator{
		cfg:   cfg,
		d:     deps,
		log:   slog.Default(),
		state: StateIdle,
	}

	if deps.Batcher != nil {
		deps.Batcher.RegisterHandler(domain.OperationNFTFetch, o.batchFetchCollections)
	}
	return o
}

// batchFetchCollections resolves one flushed nft-fetch batch: every unique
// address in the batch is synced in parallel through the incremental syncer.
func (o *Orchestrator) batchFetchCollections(ctx context.Context, addresses []string) (map[string]any, error) {
	var (
		mu  sync.Mutex
		wg  sync.WaitGroup
		out = make(map[string]any, len(addresses))
	)
	for _, addr := range addresses {
		wg.Add(1)
		go func(addr string) {
			defer wg.Done()
			res, err := o.d.Incremental.Sync(ctx, addr,
				func(ctx context.Context) (*fetch.CollectionSnapshot, error) {
					return o.d.Source.FetchCollection(ctx, addr)
				},
				func(ctx context.Context, since uint64) (*fetch.CollectionDelta, error) {
					return o.d.Source.FetchCollectionDelta(ctx, addr, since)
				},
			)
			if err != nil {
				return // missing key fails the operation downstream
			}
			mu.Lock()
			out[addr] = res
			mu.Unlock()
		}(addr)
	}
	wg.Wait()
	return out, nil
}

// HandleWalletConnected registers the identity, emits wallet-connected, and
// runs a forced full sync that bypasses batching and deduplication.
func (o *Orchestrator) HandleWalletConnected(ctx context.Context, address, sessionID string) (*domain.SyncResult, error) {
	o.mu.Lock()
	o.identity = &domain.WalletIdentity{
		Address:     address,
		SessionID:   sessionID,
		ConnectedAt: o.d.Clock.Now(),
	}
	o.lastActivity = o.d.Clock.Now()
	o.pendingBackground = false
	o.mu.Unlock()

	o.d.Bus.Publish(domain.NewEvent(domain.EventWalletConnected, eventSource, map[string]any{
		"address": address,
	}))

	o.startPeriodic()

	return o.syncProfile(ctx, domain.ScopeFull, true)
}

// HandleWalletDisconnected cancels periodic sync, clears wallet-scoped cache
// entries, and resets status.
func (o *Orchestrator) HandleWalletDisconnected(ctx context.Context) {
	o.stopPeriodic()

	o.mu.Lock()
	addr := ""
	if o.identity != nil {
		addr = o.identity.Address
	}
	o.identity = nil
	o.state = StateIdle
	o.lastError = ""
	o.pendingBackground = false
	o.mu.Unlock()

	event := domain.NewEvent(domain.EventWalletDisconnected, eventSource, map[string]any{
		"address": addr,
	})
	o.d.Cache.InvalidateByEvent(ctx, event)
	o.d.Bus.Publish(event)
}

// HandleCollectionChanged invalidates collection caches and runs a
// collection-only resync.
func (o *Orchestrator) HandleCollectionChanged(ctx context.Context) (*domain.SyncResult, error) {
	o.RecordActivity()

	o.mu.Lock()
	addr := ""
	if o.identity != nil {
		addr = o.identity.Address
	}
	o.mu.Unlock()

	event := domain.NewEvent(domain.EventNFTCollectionUpdated, eventSource, map[string]any{
		"address": addr,
	})
	o.d.Cache.InvalidateByEvent(ctx, event)
	o.d.Bus.Publish(event)

	return o.syncProfile(ctx, domain.ScopeCollection, false)
}

// RequestSync is the manual trigger; always forced.
func (o *Orchestrator) RequestSync(ctx context.Context, scope domain.SyncScope) (*domain.SyncResult, error) {
	o.RecordActivity()
	return o.syncProfile(ctx, scope, true)
}

// HandleAppFocus runs a catch-up sync when a background sync is pending or
// the last sync is older than the catch-up threshold.
func (o *Orchestrator) HandleAppFocus(ctx context.Context) (*domain.SyncResult, error) {
	o.mu.Lock()
	pending := o.pendingBackground
	o.pendingBackground = false
	stale := o.lastSyncAt.IsZero() || o.d.Clock.Now().Sub(o.lastSyncAt) > o.cfg.CatchUpThreshold
	o.lastActivity = o.d.Clock.Now()
	o.mu.Unlock()

	if !pending && !stale {
		return nil, nil
	}
	return o.syncProfile(ctx, domain.ScopeFull, false)
}

// HandleAppBlur marks a pending background sync; the periodic timer keeps
// running.
func (o *Orchestrator) HandleAppBlur() {
	o.mu.Lock()
	o.pendingBackground = true
	o.mu.Unlock()
}

// RecordActivity notes caller activity for the idleness heuristic.
func (o *Orchestrator) RecordActivity() {
	o.mu.Lock()
	o.lastActivity = o.d.Clock.Now()
	o.mu.Unlock()
}

// Status returns a snapshot of orchestrator state.
func (o *Orchestrator) Status() Status {
	o.mu.Lock()
	defer o.mu.Unlock()
	s := Status{
		State:        o.state,
		LastSyncAt:   o.lastSyncAt,
		SyncCount:    o.syncCount,
		FailureCount: o.failureCount,
		LastError:    o.lastError,
	}
	if o.identity != nil {
		s.Address = o.identity.Address
	}
	return s
}

// History returns the retained operation history, oldest first.
func (o *Orchestrator) History() []*domain.Operation {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]*domain.Operation, len(o.history))
	copy(out, o.history)
	return out
}

// Stop cancels periodic sync.
func (o *Orchestrator) Stop() {
	o.stopPeriodic()
}

func (o *Orchestrator) startPeriodic() {
	if !o.cfg.AutoSyncEnabled {
		return
	}

	o.mu.Lock()
	if o.periodicStop != nil {
		o.mu.Unlock()
		return
	}
	stop := make(chan struct{})
	o.periodicStop = stop
	o.mu.Unlock()

	go o.runPeriodic(stop)
}

func (o *Orchestrator) stopPeriodic() {
	o.mu.Lock()
	stop := o.periodicStop
	o.periodicStop = nil
	o.mu.Unlock()
	if stop != nil {
		close(stop)
	}
}

func (o *Orchestrator) runPeriodic(stop chan struct{}) {
	ticker := o.d.Clock.NewTicker(o.cfg.SyncInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C():
			// Skip the tick entirely if the identity went away while
			// the stop signal is still in flight.
			o.mu.Lock()
			connected := o.identity != nil
			idle := o.d.Clock.Now().Sub(o.lastActivity) > o.cfg.IdleThreshold
			o.mu.Unlock()
			if !connected {
				continue
			}

			scope := domain.ScopeFull
			if idle {
				scope = domain.ScopeCollection
			}
			ctx, cancel := context.WithTimeout(context.Background(), o.cfg.SyncInterval)
			if _, err := o.syncProfile(ctx, scope, false); err != nil {
				o.log.Warn("periodic sync failed", "error", err)
			}
			cancel()
		}
	}
}

// syncProfile is the single sync entry point. Non-forced syncs coalesce with
// concurrent identical triggers through the deduplicator; forced syncs run
// regardless.
func (o *Orchestrator) syncProfile(ctx context.Context, scope domain.SyncScope, forced bool) (*domain.SyncResult, error) {
	o.mu.Lock()
	identity := o.identity
	o.mu.Unlock()
	if identity == nil {
		return nil, ErrNoIdentity
	}

	if forced || o.d.Dedup == nil {
		return o.runSync(ctx, identity, scope, forced)
	}

	key := "sync:" + string(scope) + ":" + identity.Address
	v, err := o.d.Dedup.Do(ctx, key, func(ctx context.Context) (any, error) {
		return o.runSync(ctx, identity, scope, forced)
	})
	if err != nil {
		return nil, err
	}
	return v.(*domain.SyncResult), nil
}

func (o *Orchestrator) runSync(ctx context.Context, identity *domain.WalletIdentity, scope domain.SyncScope, forced bool) (*domain.SyncResult, error) {
	start := o.d.Clock.Now()

	o.mu.Lock()
	o.state = StateActive
	o.mu.Unlock()

	o.d.Bus.Publish(domain.NewEvent(domain.EventProfileSyncStarted, eventSource, map[string]any{
		"address": identity.Address,
		"scope":   string(scope),
		"forced":  forced,
	}))

	result := &domain.SyncResult{
		Timestamp: start,
		Payload:   &domain.SyncPayload{Address: identity.Address},
	}

	err := o.runOperations(ctx, identity, scope, forced, result)

	result.Duration = o.d.Clock.Now().Sub(start)
	result.Success = err == nil

	// Every started operation must be terminal by now; fail any stragglers
	// so no caller is left waiting on an abandoned operation.
	for _, op := range result.Operations {
		if !op.Status.Terminal() {
			op.Fail(recovery.Classify(fmt.Errorf("operation abandoned"), op.Type, identity.Address))
		}
		metrics.OperationsTotal.WithLabelValues(string(op.Type), string(op.Status)).Inc()
	}

	o.mu.Lock()
	o.state = StateIdle
	if err == nil {
		o.syncCount++
		o.lastSyncAt = o.d.Clock.Now()
		o.lastError = ""
	} else {
		o.failureCount++
		o.lastError = err.Error()
	}
	o.history = append(o.history, result.Operations...)
	if len(o.history) > o.cfg.HistoryLimit {
		o.history = o.history[len(o.history)-o.cfg.HistoryLimit:]
	}
	o.mu.Unlock()

	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	metrics.SyncsTotal.WithLabelValues(string(scope), outcome).Inc()
	metrics.SyncDuration.WithLabelValues(string(scope)).Observe(result.Duration.Seconds())

	if err != nil {
		cerr := recovery.Classify(err, domain.OperationNFTFetch, identity.Address)
		result.Error = cerr
		o.d.Bus.Publish(domain.NewEvent(domain.EventSyncError, eventSource, map[string]any{
			"address": identity.Address,
			"kind":    string(cerr.Kind),
			"message": cerr.Message,
			"actions": cerr.Actions,
		}))
	}

	o.d.Bus.Publish(domain.NewEvent(domain.EventProfileSyncCompleted, eventSource, map[string]any{
		"address":  identity.Address,
		"success":  result.Success,
		"degraded": result.Degraded,
		"new":      result.Payload.NewNFTs,
		"removed":  result.Payload.RemovedNFTs,
		"duration": result.Duration.String(),
	}))

	return result, nil
}

func (o *Orchestrator) runOperations(ctx context.Context, identity *domain.WalletIdentity, scope domain.SyncScope, forced bool, result *domain.SyncResult) error {
	if scope == domain.ScopeFull {
		if err := o.verifyWallet(ctx, identity, result); err != nil {
			return err
		}
	}

	if err := o.syncCollection(ctx, identity, forced, result); err != nil {
		return err
	}

	if scope == domain.ScopeFull {
		if err := o.updateProfile(ctx, identity, result); err != nil {
			return err
		}
	}
	return nil
}

func (o *Orchestrator) verifyWallet(ctx context.Context, identity *domain.WalletIdentity, result *domain.SyncResult) error {
	op := domain.NewOperation(domain.OperationWalletVerify)
	op.Begin()
	result.Operations = append(result.Operations, op)

	verified, err := o.withRetry(ctx, op, identity.Address, "", func(ctx context.Context) (any, error) {
		return o.d.Source.VerifyWallet(ctx, identity.Address)
	})
	if err != nil {
		return err
	}
	if id, ok := verified.(*domain.WalletIdentity); ok {
		o.mu.Lock()
		if o.identity != nil && o.identity.Address == identity.Address {
			o.identity.Verified = id.Verified
			o.identity.NetworkType = id.NetworkType
		}
		o.mu.Unlock()
	}
	op.Complete()
	o.d.Recovery.RecordSuccess(op.Type, identity.Address)
	return nil
}

func (o *Orchestrator) syncCollection(ctx context.Context, identity *domain.WalletIdentity, forced bool, result *domain.SyncResult) error {
	op := domain.NewOperation(domain.OperationNFTFetch)
	op.Begin()
	result.Operations = append(result.Operations, op)

	cacheKey := "nft:" + identity.Address

	fetchOnce := func(ctx context.Context) (any, error) {
		if forced || o.d.Batcher == nil {
			// Forced syncs bypass batching and go straight to a full
			// fetch.
			return o.d.Incremental.ForceFull(ctx, identity.Address, func(ctx context.Context) (*fetch.CollectionSnapshot, error) {
				return o.d.Source.FetchCollection(ctx, identity.Address)
			})
		}
		return o.d.Batcher.Submit(ctx, domain.OperationNFTFetch, identity.Address)
	}

	v, err := o.withRetry(ctx, op, identity.Address, cacheKey, fetchOnce)
	if err != nil {
		return err
	}

	if res, ok := v.(*optimizer.IncrementalResult); ok {
		result.Payload.NewNFTs = res.Added
		result.Payload.RemovedNFTs = res.Removed
		result.Payload.TotalNFTs = res.Total
		result.Payload.FullSync = res.FullSync

		if err := o.d.Cache.Set(ctx, cacheKey, res, cache.Options{
			TTL:  10 * time.Minute,
			Tags: []string{"nft", "wallet"},
		}); err != nil {
			o.log.Warn("failed to cache collection", "address", identity.Address, "error", err)
		}
	} else {
		// Degraded fallback value from the recovery engine.
		result.Degraded = true
		if stale, _ := op.Metadata["stale"].(bool); stale {
			result.Stale = true
		}
	}

	op.Complete()
	o.d.Recovery.RecordSuccess(op.Type, identity.Address)
	return nil
}

func (o *Orchestrator) updateProfile(ctx context.Context, identity *domain.WalletIdentity, result *domain.SyncResult) error {
	op := domain.NewOperation(domain.OperationProfileUpdate)
	op.Begin()
	result.Operations = append(result.Operations, op)

	// Write-class operation: session and permission checks come first, and
	// both are audited.
	if err := o.authorizeWrite(ctx, identity, op); err != nil {
		cerr := recovery.Classify(err, op.Type, identity.Address)
		op.Fail(cerr)
		return cerr
	}

	statsKey := "profile:" + identity.Address
	v, err := o.withRetry(ctx, op, identity.Address, statsKey, func(ctx context.Context) (any, error) {
		return o.d.Source.FetchProfileStats(ctx, identity.Address)
	})
	if err != nil {
		return err
	}

	if stats, ok := v.(*domain.ProfileStats); ok {
		now := o.d.Clock.Now()
		profile, err := o.d.Profiles.Get(ctx, identity.Address)
		if err != nil {
			cerr := recovery.Classify(err, op.Type, identity.Address)
			op.Fail(cerr)
			return cerr
		}
		if profile == nil {
			profile = &domain.Profile{Address: identity.Address}
		}
		profile.Stats = *stats
		profile.UpdatedAt = now
		profile.LastSyncAt = now
		if err := o.d.Profiles.Save(ctx, profile); err != nil {
			cerr := recovery.Classify(err, op.Type, identity.Address)
			op.Fail(cerr)
			return cerr
		}

		if err := o.d.Cache.Set(ctx, statsKey, stats, cache.Options{
			TTL:  10 * time.Minute,
			Tags: []string{"profile", "wallet"},
		}); err != nil {
			o.log.Warn("failed to cache profile stats", "address", identity.Address, "error", err)
		}
		result.Payload.ProfileUpdated = true
	} else {
		result.Degraded = true
		if stale, _ := op.Metadata["stale"].(bool); stale {
			result.Stale = true
		}
	}

	op.Complete()
	o.d.Recovery.RecordSuccess(op.Type, identity.Address)
	return nil
}

// CheckEligibility reports whether the connected wallet holds at least one
// item of the named collection. It answers from the cached collection when
// possible and falls back to a fresh fetch.
func (o *Orchestrator) CheckEligibility(ctx context.Context, collection string) (bool, error) {
	o.mu.Lock()
	identity := o.identity
	o.mu.Unlock()
	if identity == nil {
		return false, ErrNoIdentity
	}

	op := domain.NewOperation(domain.OperationEligibilityCheck)
	op.Begin()
	defer func() {
		if !op.Status.Terminal() {
			op.Complete()
		}
		metrics.OperationsTotal.WithLabelValues(string(op.Type), string(op.Status)).Inc()
	}()

	cacheKey := "nft:" + identity.Address
	var cached optimizer.IncrementalResult
	found, err := o.d.Cache.Get(ctx, cacheKey, &cached)
	if err == nil && found && cached.Snapshot != nil {
		return holdsCollection(cached.Snapshot.Items, collection), nil
	}

	v, err := o.withRetry(ctx, op, identity.Address, cacheKey, func(ctx context.Context) (any, error) {
		return o.d.Source.FetchCollection(ctx, identity.Address)
	})
	if err != nil {
		return false, err
	}
	snap, ok := v.(*fetch.CollectionSnapshot)
	if !ok {
		// Degraded fallback: without real holdings data the wallet is not
		// eligible.
		return false, nil
	}
	o.d.Recovery.RecordSuccess(op.Type, identity.Address)
	return holdsCollection(snap.Items, collection), nil
}

func holdsCollection(items []domain.NFTItem, collection string) bool {
	for _, item := range items {
		if item.Collection == collection || item.Contract == collection {
			return true
		}
	}
	return false
}

// InvalidateCache is the explicit cache-invalidation operation. It is
// write-class: the session must hold permission for it.
func (o *Orchestrator) InvalidateCache(ctx context.Context, tags ...string) (int, error) {
	o.mu.Lock()
	identity := o.identity
	o.mu.Unlock()
	if identity == nil {
		return 0, ErrNoIdentity
	}

	op := domain.NewOperation(domain.OperationCacheInvalidate)
	op.Begin()

	if err := o.authorizeWrite(ctx, identity, op); err != nil {
		cerr := recovery.Classify(err, op.Type, identity.Address)
		op.Fail(cerr)
		metrics.OperationsTotal.WithLabelValues(string(op.Type), string(op.Status)).Inc()
		return 0, cerr
	}

	n := o.d.Cache.InvalidateByTags(ctx, tags...)
	op.Complete()
	metrics.OperationsTotal.WithLabelValues(string(op.Type), string(op.Status)).Inc()
	return n, nil
}

func (o *Orchestrator) authorizeWrite(ctx context.Context, identity *domain.WalletIdentity, op *domain.Operation) error {
	started := o.d.Clock.Now()

	vres, err := o.d.Validator.Validate(ctx, identity.SessionID)
	if err != nil {
		return fmt.Errorf("session validation: %w", err)
	}
	if !vres.Valid {
		o.recordAudit(ctx, identity, op, "validate_session", "denied", started)
		return &fetch.StatusError{Code: 401, Status: "session invalid: " + vres.Reason}
	}

	allowed, err := o.d.Validator.HasPermission(ctx, identity.SessionID, op.Type, identity.Address)
	if err != nil {
		return fmt.Errorf("permission check: %w", err)
	}
	outcome := "granted"
	if !allowed {
		outcome = "denied"
	}
	o.recordAudit(ctx, identity, op, "check_permission", outcome, started)
	if !allowed {
		return &fetch.StatusError{Code: 403, Status: "permission denied"}
	}
	return nil
}

func (o *Orchestrator) recordAudit(ctx context.Context, identity *domain.WalletIdentity, op *domain.Operation, action, outcome string, started time.Time) {
	if o.d.Audit == nil {
		return
	}
	entry := domain.NewAuditEntry(identity.Address, identity.SessionID, op.Type, identity.Address, action, outcome)
	entry.Duration = o.d.Clock.Now().Sub(started)
	o.d.Audit.Record(ctx, entry)
}

// withRetry runs fn, classifying failures and following the recovery
// engine's decisions: retry with backoff, serve a fallback value, or give up
// with the classified error. Fallback details land in op.Metadata for the
// caller to surface.
func (o *Orchestrator) withRetry(ctx context.Context, op *domain.Operation, targetKey, cacheKey string, fn func(ctx context.Context) (any, error)) (any, error) {
	for {
		v, err := fn(ctx)
		if err == nil {
			return v, nil
		}

		cerr := recovery.Classify(err, op.Type, targetKey)
		res := o.d.Recovery.Resolve(ctx, cerr, cacheKey)

		switch {
		case res.Retry:
			op.Status = domain.OperationRetrying
			op.RetryCount++
			o.log.Debug("retrying operation",
				"type", op.Type, "target", targetKey, "attempt", op.RetryCount, "delay", res.Delay)
			select {
			case <-o.d.Clock.After(res.Delay):
			case <-ctx.Done():
				op.Fail(cerr)
				return nil, cerr
			}
			op.Status = domain.OperationInProgress

		case res.FromCache, res.Strategy == domain.RecoveryFallbackPartial && res.Value != nil:
			o.log.Info("serving fallback after failure",
				"type", op.Type, "target", targetKey, "strategy", res.Strategy, "stale", res.Stale)
			op.Metadata["fallback"] = string(res.Strategy)
			op.Metadata["stale"] = res.Stale
			return res.Value, nil

		default:
			cerr.Message = res.Message
			cerr.Actions = res.Actions
			op.Fail(cerr)
			return nil, cerr
		}
	}
}
