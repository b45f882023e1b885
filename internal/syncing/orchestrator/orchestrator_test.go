package orchestrator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/haunv/profilesync/internal/core/checkpoint"
	"github.com/haunv/profilesync/internal/core/domain"
	"github.com/haunv/profilesync/internal/infra/fetch"
	"github.com/haunv/profilesync/internal/infra/storage/memory"
	"github.com/haunv/profilesync/internal/syncing/bus"
	"github.com/haunv/profilesync/internal/syncing/cache"
	"github.com/haunv/profilesync/internal/syncing/optimizer"
	"github.com/haunv/profilesync/internal/syncing/recovery"
)

// =============================================================================
// Fakes
// =============================================================================

// fakeClock drives virtual time; tick channels are fed manually.
type fakeClock struct {
	mu   sync.Mutex
	now  time.Time
	tick chan time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{
		now:  time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
		tick: make(chan time.Time, 1),
	}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func (c *fakeClock) NewTicker(d time.Duration) Ticker { return &fakeTicker{c: c.tick} }

func (c *fakeClock) After(d time.Duration) <-chan time.Time {
	ch := make(chan time.Time, 1)
	ch <- c.Now()
	return ch
}

// Tick fires one periodic tick and lets the loop pick it up.
func (c *fakeClock) Tick() {
	c.tick <- c.Now()
}

type fakeTicker struct {
	c chan time.Time
}

func (t *fakeTicker) C() <-chan time.Time { return t.c }
func (t *fakeTicker) Stop()               {}

type stubSource struct {
	mu             sync.Mutex
	verifyCalls    int
	fetchCalls     int
	deltaCalls     int
	statsCalls     int
	verifyErr      error
	fetchErr       error
	statsErr       error
	fetchDelay     time.Duration
	items          []domain.NFTItem
	deltaSupported bool
	delta          *fetch.CollectionDelta
}

func (s *stubSource) VerifyWallet(ctx context.Context, address string) (*domain.WalletIdentity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.verifyCalls++
	if s.verifyErr != nil {
		return nil, s.verifyErr
	}
	return &domain.WalletIdentity{Address: address, NetworkType: domain.NetworkTypeEVM, Verified: true}, nil
}

func (s *stubSource) FetchCollection(ctx context.Context, address string) (*fetch.CollectionSnapshot, error) {
	s.mu.Lock()
	delay := s.fetchDelay
	s.mu.Unlock()
	if delay > 0 {
		time.Sleep(delay)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.fetchCalls++
	if s.fetchErr != nil {
		return nil, s.fetchErr
	}
	return &fetch.CollectionSnapshot{Address: address, Items: s.items, FetchedAt: time.Now()}, nil
}

func (s *stubSource) FetchCollectionDelta(ctx context.Context, address string, sinceHash uint64) (*fetch.CollectionDelta, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deltaCalls++
	if !s.deltaSupported {
		return nil, fetch.ErrDeltaUnsupported
	}
	return s.delta, nil
}

func (s *stubSource) FetchProfileStats(ctx context.Context, address string) (*domain.ProfileStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statsCalls++
	if s.statsErr != nil {
		return nil, s.statsErr
	}
	return &domain.ProfileStats{TotalNFTs: len(s.items), Collections: 1}, nil
}

func (s *stubSource) counts() (verify, fetchN, stats int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.verifyCalls, s.fetchCalls, s.statsCalls
}

type fixture struct {
	orch   *Orchestrator
	source *stubSource
	bus    *bus.Bus
	cache  *cache.Cache
	clock  *fakeClock
	store  *memory.MemoryStorage
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()

	clock := newFakeClock()
	source := &stubSource{
		items: []domain.NFTItem{
			{Contract: "0xC1", TokenID: "1", Collection: "apes"},
			{Contract: "0xC1", TokenID: "2", Collection: "apes"},
		},
	}
	store := memory.NewMemoryStorage()
	c := cache.New(cache.Config{}, nil)
	for _, rule := range cache.DefaultRules() {
		c.RegisterRule(rule)
	}
	b := bus.New(0)
	cp := checkpoint.NewManager(memory.NewCheckpointRepo(store))

	backoff := recovery.Backoff{BaseDelay: time.Millisecond, MaxDelay: 10 * time.Millisecond, Multiplier: 2, MaxAttempts: 2}

	orch := New(cfg, Deps{
		Source:      source,
		Cache:       c,
		Bus:         b,
		Dedup:       optimizer.NewDeduplicator(50 * time.Millisecond),
		Incremental: optimizer.NewIncremental(cp),
		Recovery:    recovery.NewEngine(backoff, c),
		Profiles:    memory.NewProfileRepo(store),
		Checkpoints: cp,
		Clock:       clock,
	})
	t.Cleanup(orch.Stop)

	return &fixture{orch: orch, source: source, bus: b, cache: c, clock: clock, store: store}
}

func collect(b *bus.Bus, types ...domain.EventType) *[]domain.SyncEvent {
	var mu sync.Mutex
	events := &[]domain.SyncEvent{}
	for _, et := range types {
		b.Subscribe(et, func(e domain.SyncEvent) {
			mu.Lock()
			*events = append(*events, e)
			mu.Unlock()
		})
	}
	return events
}

// =============================================================================
// Wallet lifecycle
// =============================================================================

func TestWalletConnect_FullSyncAndEvents(t *testing.T) {
	f := newFixture(t, Config{AutoSyncEnabled: false})
	events := collect(f.bus, domain.EventWalletConnected, domain.EventProfileSyncStarted, domain.EventProfileSyncCompleted)

	res, err := f.orch.HandleWalletConnected(context.Background(), "0xABC", "sess-1")
	if err != nil {
		t.Fatalf("connect sync failed: %v", err)
	}
	if !res.Success {
		t.Fatalf("expected successful sync, got %+v", res)
	}
	if !res.Payload.FullSync {
		t.Error("first sync after connect must be a full sync")
	}
	if res.Payload.TotalNFTs != 2 || res.Payload.NewNFTs != 2 {
		t.Errorf("payload counts = total %d new %d, want 2/2", res.Payload.TotalNFTs, res.Payload.NewNFTs)
	}
	if !res.Payload.ProfileUpdated {
		t.Error("full sync should update the profile")
	}

	want := []domain.EventType{domain.EventWalletConnected, domain.EventProfileSyncStarted, domain.EventProfileSyncCompleted}
	if len(*events) != len(want) {
		t.Fatalf("got %d events, want %d", len(*events), len(want))
	}
	for i, et := range want {
		if (*events)[i].Type != et {
			t.Errorf("event %d = %s, want %s", i, (*events)[i].Type, et)
		}
	}
	if ok, _ := (*events)[2].Payload["success"].(bool); !ok {
		t.Error("profile-sync-completed should report success")
	}

	// Profile persisted.
	p, err := memory.NewProfileRepo(f.store).Get(context.Background(), "0xABC")
	if err != nil || p == nil {
		t.Fatalf("profile not persisted: %v", err)
	}
	if p.Stats.TotalNFTs != 2 {
		t.Errorf("persisted total = %d, want 2", p.Stats.TotalNFTs)
	}

	// Collection cached under the wallet's key.
	if _, ok := f.cache.Peek("nft:0xABC"); !ok {
		t.Error("collection result not cached")
	}

	if got := f.orch.Status(); got.SyncCount != 1 || got.Address != "0xABC" {
		t.Errorf("status = %+v", got)
	}
}

func TestWalletDisconnect_ClearsStateAndCache(t *testing.T) {
	f := newFixture(t, Config{AutoSyncEnabled: false})
	ctx := context.Background()

	if _, err := f.orch.HandleWalletConnected(ctx, "0xABC", "sess-1"); err != nil {
		t.Fatal(err)
	}
	events := collect(f.bus, domain.EventWalletDisconnected)

	f.orch.HandleWalletDisconnected(ctx)

	if _, ok := f.cache.Peek("nft:0xABC"); ok {
		t.Error("wallet-tagged cache entries should be invalidated on disconnect")
	}
	if _, ok := f.cache.Peek("profile:0xABC"); ok {
		t.Error("profile cache entry survived disconnect")
	}
	if len(*events) != 1 {
		t.Fatalf("expected one disconnect event, got %d", len(*events))
	}
	if got := f.orch.Status(); got.Address != "" || got.State != StateIdle {
		t.Errorf("status after disconnect = %+v", got)
	}

	if _, err := f.orch.RequestSync(ctx, domain.ScopeFull); !errors.Is(err, ErrNoIdentity) {
		t.Errorf("sync without identity = %v, want ErrNoIdentity", err)
	}
}

// =============================================================================
// Triggers
// =============================================================================

func TestCollectionChanged_CollectionScopeOnly(t *testing.T) {
	f := newFixture(t, Config{AutoSyncEnabled: false})
	ctx := context.Background()

	if _, err := f.orch.HandleWalletConnected(ctx, "0xABC", "sess-1"); err != nil {
		t.Fatal(err)
	}
	v0, _, s0 := f.source.counts()

	res, err := f.orch.HandleCollectionChanged(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if !res.Success {
		t.Fatalf("collection resync failed: %+v", res)
	}

	v1, _, s1 := f.source.counts()
	if v1 != v0 {
		t.Error("collection-only sync must not re-verify the wallet")
	}
	if s1 != s0 {
		t.Error("collection-only sync must not refetch profile stats")
	}
}

func TestAppFocus_CatchUpOnlyWhenStaleOrPending(t *testing.T) {
	f := newFixture(t, Config{AutoSyncEnabled: false, CatchUpThreshold: 5 * time.Minute})
	ctx := context.Background()

	if _, err := f.orch.HandleWalletConnected(ctx, "0xABC", "sess-1"); err != nil {
		t.Fatal(err)
	}

	// Fresh sync, no pending background work: focus is a no-op.
	res, err := f.orch.HandleAppFocus(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if res != nil {
		t.Error("focus right after a sync should not trigger another")
	}

	// Blur marks pending work; the next focus catches up.
	f.orch.HandleAppBlur()
	res, err = f.orch.HandleAppFocus(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if res == nil || !res.Success {
		t.Fatalf("focus after blur should sync, got %+v", res)
	}

	// Stale last sync also triggers catch-up.
	f.clock.Advance(10 * time.Minute)
	res, err = f.orch.HandleAppFocus(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if res == nil {
		t.Error("focus with stale last sync should catch up")
	}
}

func TestPeriodicTick_ScopeFollowsIdleness(t *testing.T) {
	f := newFixture(t, Config{
		AutoSyncEnabled: true,
		SyncInterval:    time.Minute,
		IdleThreshold:   10 * time.Minute,
	})
	ctx := context.Background()

	if _, err := f.orch.HandleWalletConnected(ctx, "0xABC", "sess-1"); err != nil {
		t.Fatal(err)
	}
	v0, _, s0 := f.source.counts()

	// Active caller: periodic tick runs a full sync (verify + stats).
	done := make(chan domain.SyncEvent, 4)
	f.bus.Subscribe(domain.EventProfileSyncCompleted, func(e domain.SyncEvent) { done <- e })

	f.clock.Tick()
	waitEvent(t, done)

	v1, _, s1 := f.source.counts()
	if v1 != v0+1 || s1 != s0+1 {
		t.Errorf("active tick should run full scope: verify %d->%d stats %d->%d", v0, v1, s0, s1)
	}

	// Idle caller: tick downgrades to collection-only.
	f.clock.Advance(30 * time.Minute)
	f.clock.Tick()
	waitEvent(t, done)

	v2, _, s2 := f.source.counts()
	if v2 != v1 || s2 != s1 {
		t.Error("idle tick should run collection scope only")
	}
}

func waitEvent(t *testing.T, ch chan domain.SyncEvent) domain.SyncEvent {
	t.Helper()
	select {
	case e := <-ch:
		return e
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for sync completion event")
		return domain.SyncEvent{}
	}
}

// =============================================================================
// Failure paths
// =============================================================================

func TestSyncFailure_EmitsErrorAndCountsFailure(t *testing.T) {
	f := newFixture(t, Config{AutoSyncEnabled: false})
	ctx := context.Background()
	f.source.verifyErr = &fetch.StatusError{Code: 401, Status: "401 Unauthorized"}

	errs := collect(f.bus, domain.EventSyncError)

	res, err := f.orch.HandleWalletConnected(ctx, "0xABC", "sess-1")
	if err != nil {
		t.Fatalf("runSync should report failure in the result, not the error: %v", err)
	}
	if res.Success {
		t.Fatal("sync against a 401 source should not succeed")
	}
	if res.Error == nil || res.Error.Kind != domain.ErrorKindAuth {
		t.Errorf("result error = %+v, want auth kind", res.Error)
	}

	if len(*errs) != 1 {
		t.Fatalf("expected one sync-error event, got %d", len(*errs))
	}
	if kind, _ := (*errs)[0].Payload["kind"].(string); kind != string(domain.ErrorKindAuth) {
		t.Errorf("sync-error kind = %s", kind)
	}

	if got := f.orch.Status(); got.FailureCount != 1 || got.LastError == "" {
		t.Errorf("status = %+v", got)
	}

	// Every recorded operation reached a terminal status.
	for _, op := range f.orch.History() {
		if !op.Status.Terminal() {
			t.Errorf("operation %s left in status %s", op.Type, op.Status)
		}
	}
}

func TestSyncFailure_ExhaustedRetriesFallBackToCache(t *testing.T) {
	f := newFixture(t, Config{AutoSyncEnabled: false})
	ctx := context.Background()

	// Seed the cache through one good sync, then make the source flaky.
	if _, err := f.orch.HandleWalletConnected(ctx, "0xABC", "sess-1"); err != nil {
		t.Fatal(err)
	}
	f.source.mu.Lock()
	f.source.fetchErr = errors.New("dial tcp: connection refused")
	f.source.mu.Unlock()

	res, err := f.orch.RequestSync(ctx, domain.ScopeCollection)
	if err != nil {
		t.Fatalf("exhausted retries over a warm cache should degrade, not fail: %v", err)
	}
	if !res.Success || !res.Degraded {
		t.Errorf("expected degraded success, got success=%v degraded=%v", res.Success, res.Degraded)
	}
}

func TestConcurrentTriggers_CoalesceThroughDedup(t *testing.T) {
	f := newFixture(t, Config{AutoSyncEnabled: false})
	ctx := context.Background()

	if _, err := f.orch.HandleWalletConnected(ctx, "0xABC", "sess-1"); err != nil {
		t.Fatal(err)
	}
	f.source.mu.Lock()
	f.source.fetchDelay = 20 * time.Millisecond
	f.source.mu.Unlock()
	_, fetches0, _ := f.source.counts()

	const n = 8
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := f.orch.HandleCollectionChanged(ctx); err != nil {
				t.Errorf("coalesced sync failed: %v", err)
			}
		}()
	}
	wg.Wait()

	_, fetches1, _ := f.source.counts()
	if got := fetches1 - fetches0; got >= n {
		t.Errorf("%d concurrent triggers caused %d fetches; expected coalescing", n, got)
	}
}

func TestOperationHistory_Bounded(t *testing.T) {
	f := newFixture(t, Config{AutoSyncEnabled: false, HistoryLimit: 4})
	ctx := context.Background()

	if _, err := f.orch.HandleWalletConnected(ctx, "0xABC", "sess-1"); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 5; i++ {
		if _, err := f.orch.RequestSync(ctx, domain.ScopeFull); err != nil {
			t.Fatal(err)
		}
	}

	if got := len(f.orch.History()); got > 4 {
		t.Errorf("history length = %d, want at most 4", got)
	}
}
