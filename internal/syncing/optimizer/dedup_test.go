package optimizer

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestDedup_ConcurrentCallersShareOneFetch(t *testing.T) {
	d := NewDeduplicator(5 * time.Second)

	var calls atomic.Int64
	release := make(chan struct{})
	fn := func(ctx context.Context) (any, error) {
		calls.Add(1)
		<-release
		return "result", nil
	}

	const n = 10
	var wg sync.WaitGroup
	results := make([]any, n)
	errs := make([]error, n)

	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = d.Do(context.Background(), "collection:0xABC", fn)
		}(i)
	}

	// Let all callers enqueue before the leader finishes.
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	if got := calls.Load(); got != 1 {
		t.Errorf("expected exactly 1 underlying fetch, got %d", got)
	}
	for i := 0; i < n; i++ {
		if errs[i] != nil {
			t.Errorf("caller %d failed: %v", i, errs[i])
		}
		if results[i] != "result" {
			t.Errorf("caller %d got %v", i, results[i])
		}
	}
}

func TestDedup_SharedFailure(t *testing.T) {
	d := NewDeduplicator(5 * time.Second)

	wantErr := errors.New("fetch exploded")
	release := make(chan struct{})
	fn := func(ctx context.Context) (any, error) {
		<-release
		return nil, wantErr
	}

	var wg sync.WaitGroup
	errs := make([]error, 3)
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = d.Do(context.Background(), "k", fn)
		}(i)
	}
	time.Sleep(30 * time.Millisecond)
	close(release)
	wg.Wait()

	for i, err := range errs {
		if !errors.Is(err, wantErr) {
			t.Errorf("caller %d: expected shared failure, got %v", i, err)
		}
	}
}

func TestDedup_WindowExpiryStartsFreshFetch(t *testing.T) {
	d := NewDeduplicator(30 * time.Millisecond)

	var calls atomic.Int64
	release := make(chan struct{})
	fn := func(ctx context.Context) (any, error) {
		calls.Add(1)
		<-release
		return nil, nil
	}

	go d.Do(context.Background(), "k", fn)
	time.Sleep(50 * time.Millisecond) // past the TTL window, leader still running

	done := make(chan struct{})
	go func() {
		d.Do(context.Background(), "k", fn)
		close(done)
	}()
	time.Sleep(20 * time.Millisecond)
	close(release)
	<-done

	if got := calls.Load(); got != 2 {
		t.Errorf("expected a fresh fetch after the window elapsed, got %d calls", got)
	}
}

func TestDedup_CallerContextCancel(t *testing.T) {
	d := NewDeduplicator(5 * time.Second)

	release := make(chan struct{})
	defer close(release)
	fn := func(ctx context.Context) (any, error) {
		<-release
		return nil, nil
	}

	go d.Do(context.Background(), "k", fn)
	time.Sleep(20 * time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := d.Do(ctx, "k", fn)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled for joined caller, got %v", err)
	}
}
