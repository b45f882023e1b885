package e2e

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/haunv/profilesync/internal/control"
	"github.com/haunv/profilesync/internal/core/config"
	"github.com/haunv/profilesync/internal/core/domain"
	"github.com/haunv/profilesync/internal/infra/fetch"
)

const TestWallet = "0x28c6c06298d514db089934071355e5743bf21d60"

// stubSource serves a fixed collection without a network.
type stubSource struct {
	mu    sync.Mutex
	items []domain.NFTItem
}

func (s *stubSource) VerifyWallet(ctx context.Context, address string) (*domain.WalletIdentity, error) {
	return &domain.WalletIdentity{Address: address, NetworkType: domain.NetworkTypeEVM, Verified: true}, nil
}

func (s *stubSource) FetchCollection(ctx context.Context, address string) (*fetch.CollectionSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return &fetch.CollectionSnapshot{Address: address, Items: s.items, FetchedAt: time.Now()}, nil
}

func (s *stubSource) FetchCollectionDelta(ctx context.Context, address string, sinceHash uint64) (*fetch.CollectionDelta, error) {
	return nil, fetch.ErrDeltaUnsupported
}

func (s *stubSource) FetchProfileStats(ctx context.Context, address string) (*domain.ProfileStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return &domain.ProfileStats{TotalNFTs: len(s.items), Collections: 1}, nil
}

func (s *stubSource) addItem(item domain.NFTItem) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items = append(s.items, item)
}

func newTestService(t *testing.T) (*control.Service, *stubSource) {
	t.Helper()

	source := &stubSource{
		items: []domain.NFTItem{
			{Contract: "0xC0FFEE", TokenID: "1", Collection: "mochi"},
			{Contract: "0xC0FFEE", TokenID: "2", Collection: "mochi"},
			{Contract: "0xBEEF", TokenID: "7", Collection: "neko"},
		},
	}

	cfg := &config.AppConfig{}
	cfg.Server.Port = 0 // health server not started in these tests

	svc, err := control.NewService(cfg, source, nil)
	if err != nil {
		t.Fatalf("Failed to create service: %v", err)
	}
	return svc, source
}

func TestWalletConnectFlow(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	var (
		mu     sync.Mutex
		events []domain.EventType
	)
	record := func(e domain.SyncEvent) {
		mu.Lock()
		events = append(events, e.Type)
		mu.Unlock()
	}
	svc.Bus().Subscribe(domain.EventWalletConnected, record)
	svc.Bus().Subscribe(domain.EventProfileSyncStarted, record)
	svc.Bus().Subscribe(domain.EventProfileSyncCompleted, record)

	res, err := svc.Orchestrator().HandleWalletConnected(ctx, TestWallet, "sess-e2e")
	if err != nil {
		t.Fatalf("Wallet connect sync failed: %v", err)
	}

	if !res.Success {
		t.Fatalf("Expected successful sync, got %+v", res)
	}
	if !res.Payload.FullSync || res.Payload.TotalNFTs != 3 || res.Payload.NewNFTs != 3 {
		t.Errorf("Unexpected payload: %+v", res.Payload)
	}

	mu.Lock()
	defer mu.Unlock()
	want := []domain.EventType{
		domain.EventWalletConnected,
		domain.EventProfileSyncStarted,
		domain.EventProfileSyncCompleted,
	}
	if len(events) != len(want) {
		t.Fatalf("Got events %v, want %v", events, want)
	}
	for i := range want {
		if events[i] != want[i] {
			t.Errorf("Event %d = %s, want %s", i, events[i], want[i])
		}
	}
}

func TestIncrementalResyncFlow(t *testing.T) {
	svc, source := newTestService(t)
	ctx := context.Background()

	if _, err := svc.Orchestrator().HandleWalletConnected(ctx, TestWallet, "sess-e2e"); err != nil {
		t.Fatalf("Wallet connect failed: %v", err)
	}

	// Grow the collection and resync. The source has no delta support, so
	// the resync is a full fetch diffed against the checkpoint.
	source.addItem(domain.NFTItem{Contract: "0xBEEF", TokenID: "8", Collection: "neko"})

	res, err := svc.Orchestrator().RequestSync(ctx, domain.ScopeCollection)
	if err != nil {
		t.Fatalf("Resync failed: %v", err)
	}

	if res.Payload.NewNFTs != 1 || res.Payload.RemovedNFTs != 0 {
		t.Errorf("Expected exactly the added item in the diff, got new=%d removed=%d",
			res.Payload.NewNFTs, res.Payload.RemovedNFTs)
	}
	if res.Payload.TotalNFTs != 4 {
		t.Errorf("Expected total 4, got %d", res.Payload.TotalNFTs)
	}

	// Checkpoint advanced.
	cp, err := svc.Checkpoints().Get(ctx, TestWallet)
	if err != nil || cp == nil {
		t.Fatalf("Checkpoint missing after sync: %v", err)
	}
	if len(cp.ItemKeys) != 4 {
		t.Errorf("Checkpoint tracks %d items, want 4", len(cp.ItemKeys))
	}
}

func TestDisconnectClearsCachedData(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	if _, err := svc.Orchestrator().HandleWalletConnected(ctx, TestWallet, "sess-e2e"); err != nil {
		t.Fatalf("Wallet connect failed: %v", err)
	}
	if _, ok := svc.Cache().Peek("nft:" + TestWallet); !ok {
		t.Fatal("Expected cached collection after sync")
	}

	svc.Orchestrator().HandleWalletDisconnected(ctx)

	if _, ok := svc.Cache().Peek("nft:" + TestWallet); ok {
		t.Error("Cached collection survived disconnect")
	}
	if _, ok := svc.Cache().Peek("profile:" + TestWallet); ok {
		t.Error("Cached profile stats survived disconnect")
	}
}

func TestGracefulShutdown(t *testing.T) {
	svc, _ := newTestService(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := svc.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	if _, err := svc.Orchestrator().HandleWalletConnected(ctx, TestWallet, "sess-e2e"); err != nil {
		t.Fatalf("Wallet connect failed: %v", err)
	}

	cancel()

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer stopCancel()

	if err := svc.Stop(stopCtx); err != nil {
		t.Errorf("Stop failed: %v", err)
	}
}
