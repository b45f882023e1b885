package optimizer

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/haunv/profilesync/internal/core/domain"
)

func TestBatch_FlushAtSizeThreshold(t *testing.T) {
	b := NewBatcher(BatchConfig{Size: 3, Timeout: time.Minute})

	var flushes atomic.Int64
	b.RegisterHandler(domain.OperationNFTFetch, func(ctx context.Context, keys []string) (map[string]any, error) {
		flushes.Add(1)
		out := make(map[string]any, len(keys))
		for _, k := range keys {
			out[k] = "v:" + k
		}
		return out, nil
	})

	var wg sync.WaitGroup
	results := make([]any, 3)
	for i, key := range []string{"a", "b", "c"} {
		wg.Add(1)
		go func(i int, key string) {
			defer wg.Done()
			results[i], _ = b.Submit(context.Background(), domain.OperationNFTFetch, key)
		}(i, key)
	}
	wg.Wait()

	if flushes.Load() != 1 {
		t.Errorf("expected 1 flush, got %d", flushes.Load())
	}
	for i, key := range []string{"a", "b", "c"} {
		if results[i] != "v:"+key {
			t.Errorf("operation %d got %v, wanted its own slice of the result", i, results[i])
		}
	}
}

func TestBatch_FlushOnTimeout(t *testing.T) {
	b := NewBatcher(BatchConfig{Size: 5, Timeout: 50 * time.Millisecond})

	b.RegisterHandler(domain.OperationNFTFetch, func(ctx context.Context, keys []string) (map[string]any, error) {
		out := make(map[string]any)
		for _, k := range keys {
			out[k] = k
		}
		return out, nil
	})

	start := time.Now()
	result, err := b.Submit(context.Background(), domain.OperationNFTFetch, "solo")
	if err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	elapsed := time.Since(start)

	if result != "solo" {
		t.Errorf("unexpected result %v", result)
	}
	if elapsed < 50*time.Millisecond {
		t.Errorf("batch flushed before the timeout: %v", elapsed)
	}
	if elapsed > 500*time.Millisecond {
		t.Errorf("batch flushed far later than timeout + handler latency: %v", elapsed)
	}
}

func TestBatch_DeduplicatesKeysWithinBatch(t *testing.T) {
	b := NewBatcher(BatchConfig{Size: 4, Timeout: time.Minute})

	var gotKeys []string
	b.RegisterHandler(domain.OperationNFTFetch, func(ctx context.Context, keys []string) (map[string]any, error) {
		gotKeys = keys
		out := make(map[string]any)
		for _, k := range keys {
			out[k] = k
		}
		return out, nil
	})

	var wg sync.WaitGroup
	for _, key := range []string{"x", "y", "x", "x"} {
		wg.Add(1)
		go func(key string) {
			defer wg.Done()
			if _, err := b.Submit(context.Background(), domain.OperationNFTFetch, key); err != nil {
				t.Errorf("submit failed: %v", err)
			}
		}(key)
	}
	wg.Wait()

	if len(gotKeys) != 2 {
		t.Errorf("expected 2 unique keys in the batch, handler saw %v", gotKeys)
	}
}

func TestBatch_FailureReportedToEveryOperation(t *testing.T) {
	b := NewBatcher(BatchConfig{Size: 2, Timeout: time.Minute})

	wantErr := errors.New("upstream down")
	b.RegisterHandler(domain.OperationNFTFetch, func(ctx context.Context, keys []string) (map[string]any, error) {
		return nil, wantErr
	})

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, key := range []string{"a", "b"} {
		wg.Add(1)
		go func(i int, key string) {
			defer wg.Done()
			_, errs[i] = b.Submit(context.Background(), domain.OperationNFTFetch, key)
		}(i, key)
	}
	wg.Wait()

	for i, err := range errs {
		if !errors.Is(err, wantErr) {
			t.Errorf("operation %d: expected batch failure, got %v", i, err)
		}
	}
}

func TestBatch_MissingResultFailsOnlyThatOperation(t *testing.T) {
	b := NewBatcher(BatchConfig{Size: 2, Timeout: time.Minute})

	b.RegisterHandler(domain.OperationNFTFetch, func(ctx context.Context, keys []string) (map[string]any, error) {
		return map[string]any{"a": "ok"}, nil
	})

	var wg sync.WaitGroup
	var aResult any
	var aErr, bErr error
	wg.Add(2)
	go func() {
		defer wg.Done()
		aResult, aErr = b.Submit(context.Background(), domain.OperationNFTFetch, "a")
	}()
	go func() {
		defer wg.Done()
		_, bErr = b.Submit(context.Background(), domain.OperationNFTFetch, "b")
	}()
	wg.Wait()

	if aErr != nil || aResult != "ok" {
		t.Errorf("operation a should succeed: %v %v", aResult, aErr)
	}
	if bErr == nil {
		t.Error("operation b should fail when the handler returns no result for it")
	}
}

func TestBatch_NoHandler(t *testing.T) {
	b := NewBatcher(BatchConfig{})

	_, err := b.Submit(context.Background(), domain.OperationEligibilityCheck, "k")
	if !errors.Is(err, ErrNoBatchHandler) {
		t.Errorf("expected ErrNoBatchHandler, got %v", err)
	}
}
