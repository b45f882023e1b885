package checkpoint

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/haunv/profilesync/internal/infra/storage/memory"
)

func newManager() *Manager {
	store := memory.NewMemoryStorage()
	return NewManager(memory.NewCheckpointRepo(store))
}

func TestInitialize_Get(t *testing.T) {
	m := newManager()
	ctx := context.Background()

	cp, err := m.Initialize(ctx, "0xABC", 42, map[string]uint64{"a:1": 1})
	if err != nil {
		t.Fatalf("initialize failed: %v", err)
	}
	if cp.LastHash != 42 {
		t.Errorf("unexpected hash: %d", cp.LastHash)
	}

	got, err := m.Get(ctx, "0xABC")
	if err != nil || got == nil {
		t.Fatalf("get failed: %v %v", got, err)
	}
	if got.LastHash != 42 || len(got.ItemKeys) != 1 {
		t.Errorf("unexpected checkpoint: %+v", got)
	}
}

func TestGet_Missing(t *testing.T) {
	m := newManager()

	cp, err := m.Get(context.Background(), "unknown")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if cp != nil {
		t.Error("expected nil for unknown target")
	}
}

func TestAdvance_Monotonic(t *testing.T) {
	m := newManager()
	ctx := context.Background()

	if _, err := m.Initialize(ctx, "0xABC", 1, nil); err != nil {
		t.Fatalf("initialize failed: %v", err)
	}

	first, _ := m.Get(ctx, "0xABC")

	time.Sleep(2 * time.Millisecond)
	if err := m.Advance(ctx, "0xABC", 2, nil); err != nil {
		t.Fatalf("advance failed: %v", err)
	}

	second, _ := m.Get(ctx, "0xABC")
	if second.LastHash != 2 {
		t.Errorf("hash not advanced: %d", second.LastHash)
	}
	if !second.LastSyncAt.After(first.LastSyncAt) {
		t.Error("last sync time did not advance")
	}
}

func TestAdvance_Unknown(t *testing.T) {
	m := newManager()

	err := m.Advance(context.Background(), "unknown", 1, nil)
	if !errors.Is(err, ErrCheckpointNotFound) {
		t.Errorf("expected ErrCheckpointNotFound, got %v", err)
	}
}

func TestReset(t *testing.T) {
	m := newManager()
	ctx := context.Background()

	m.Initialize(ctx, "0xABC", 1, nil)
	if err := m.Reset(ctx, "0xABC"); err != nil {
		t.Fatalf("reset failed: %v", err)
	}

	cp, _ := m.Get(ctx, "0xABC")
	if cp != nil {
		t.Error("checkpoint survived reset")
	}
}

func TestAge(t *testing.T) {
	m := newManager()
	ctx := context.Background()

	if _, known, _ := m.Age(ctx, "0xABC"); known {
		t.Error("unknown target reported as known")
	}

	m.Initialize(ctx, "0xABC", 1, nil)
	time.Sleep(5 * time.Millisecond)

	age, known, err := m.Age(ctx, "0xABC")
	if err != nil || !known {
		t.Fatalf("age failed: known=%v err=%v", known, err)
	}
	if age <= 0 {
		t.Errorf("expected positive age, got %v", age)
	}
}
