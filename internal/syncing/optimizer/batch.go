package optimizer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/haunv/profilesync/internal/core/domain"
	"github.com/haunv/profilesync/internal/syncing/metrics"
)

// Batching defaults.
const (
	DefaultBatchSize    = 5
	DefaultBatchTimeout = 2 * time.Second
)

// ErrNoBatchHandler is returned when an operation type has no registered
// batch handler.
var ErrNoBatchHandler = errors.New("no batch handler registered for operation type")

// BatchHandler resolves one flushed batch. It receives the unique target keys
// of the batch in first-enqueued order and returns a result per key. Keys
// absent from the returned map fail their operations.
type BatchHandler func(ctx context.Context, keys []string) (map[string]any, error)

// BatchConfig bounds pending batches.
type BatchConfig struct {
	Size    int
	Timeout time.Duration
}

type batchResult struct {
	value any
	err   error
}

// batchOperation lives only inside the pending queue; its result channel is
// resolved exactly once when the batch flushes.
type batchOperation struct {
	id         string
	opType     domain.OperationType
	targetKey  string
	enqueuedAt time.Time
	result     chan batchResult
}

type pendingBatch struct {
	ops   []*batchOperation
	timer *time.Timer
}

// Batcher groups same-type operations and flushes a batch once it reaches the
// size threshold or once the timeout since its first enqueue elapses,
// whichever comes first. Operations resolve in enqueue order; a batch-level
// failure is delivered to every operation in the batch.
type Batcher struct {
	cfg BatchConfig

	mu       sync.Mutex
	pending  map[domain.OperationType]*pendingBatch
	handlers map[domain.OperationType]BatchHandler
	closed   bool
}

// NewBatcher creates a batcher (zero config fields use the defaults).
func NewBatcher(cfg BatchConfig) *Batcher {
	if cfg.Size <= 0 {
		cfg.Size = DefaultBatchSize
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultBatchTimeout
	}
	return &Batcher{
		cfg:      cfg,
		pending:  make(map[domain.OperationType]*pendingBatch),
		handlers: make(map[domain.OperationType]BatchHandler),
	}
}

// RegisterHandler sets the batch handler for an operation type.
func (b *Batcher) RegisterHandler(opType domain.OperationType, handler BatchHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[opType] = handler
}

// Submit enqueues an operation and blocks until its batch resolves or the
// context is done.
func (b *Batcher) Submit(ctx context.Context, opType domain.OperationType, targetKey string) (any, error) {
	op := &batchOperation{
		id:         uuid.New().String(),
		opType:     opType,
		targetKey:  targetKey,
		enqueuedAt: time.Now(),
		result:     make(chan batchResult, 1),
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, errors.New("batcher closed")
	}
	if _, ok := b.handlers[opType]; !ok {
		b.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrNoBatchHandler, opType)
	}

	pb, ok := b.pending[opType]
	if !ok {
		pb = &pendingBatch{}
		pb.timer = time.AfterFunc(b.cfg.Timeout, func() {
			b.flush(opType, "timeout")
		})
		b.pending[opType] = pb
	}
	pb.ops = append(pb.ops, op)
	full := len(pb.ops) >= b.cfg.Size
	b.mu.Unlock()

	if full {
		b.flush(opType, "size")
	}

	select {
	case res := <-op.result:
		return res.value, res.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Flush forces every pending batch out immediately.
func (b *Batcher) Flush() {
	b.mu.Lock()
	types := make([]domain.OperationType, 0, len(b.pending))
	for opType := range b.pending {
		types = append(types, opType)
	}
	b.mu.Unlock()

	for _, opType := range types {
		b.flush(opType, "forced")
	}
}

// Close flushes what is pending and rejects further submissions.
func (b *Batcher) Close() {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()
	b.Flush()
}

func (b *Batcher) flush(opType domain.OperationType, reason string) {
	b.mu.Lock()
	pb, ok := b.pending[opType]
	if !ok || len(pb.ops) == 0 {
		b.mu.Unlock()
		return
	}
	delete(b.pending, opType)
	pb.timer.Stop()
	handler := b.handlers[opType]
	ops := pb.ops
	b.mu.Unlock()

	metrics.BatchFlushes.WithLabelValues(string(opType), reason).Inc()

	// Unique target keys, first-enqueued order.
	seen := make(map[string]struct{}, len(ops))
	keys := make([]string, 0, len(ops))
	for _, op := range ops {
		if _, ok := seen[op.targetKey]; ok {
			continue
		}
		seen[op.targetKey] = struct{}{}
		keys = append(keys, op.targetKey)
	}

	results, err := handler(context.Background(), keys)

	// Resolve continuations in enqueue order. Every operation gets exactly
	// one resolution, including on batch-level failure.
	for _, op := range ops {
		switch {
		case err != nil:
			op.result <- batchResult{err: err}
		default:
			value, ok := results[op.targetKey]
			if !ok {
				op.result <- batchResult{err: fmt.Errorf("batch handler returned no result for %q", op.targetKey)}
				continue
			}
			op.result <- batchResult{value: value}
		}
	}
}

// PendingCount returns how many operations are queued for a type.
func (b *Batcher) PendingCount(opType domain.OperationType) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if pb, ok := b.pending[opType]; ok {
		return len(pb.ops)
	}
	return 0
}
