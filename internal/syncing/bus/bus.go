// Package bus provides the typed pub/sub event bus connecting the sync
// components. Handlers are fanned out per event type, a bounded history ring
// keeps recent events for inspection, and WaitFor blocks until the next
// matching event is published.
package bus

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
	"unsafe"

	"github.com/haunv/profilesync/internal/core/domain"
)

// ErrWaitTimeout is returned by WaitFor when the timeout elapses before a
// matching event is published.
var ErrWaitTimeout = errors.New("timed out waiting for event")

// DefaultHistorySize is the capacity of the history ring buffer.
const DefaultHistorySize = 100

// Handler processes a published event.
type Handler func(domain.SyncEvent)

type registration struct {
	id uintptr
	fn Handler
}

// Bus is a typed pub/sub event bus with bounded history.
type Bus struct {
	mu       sync.Mutex
	handlers map[domain.EventType][]registration
	waiters  map[domain.EventType][]chan domain.SyncEvent
	history  []domain.SyncEvent
	capacity int
	log      *slog.Logger
}

// New creates a bus with the given history capacity (0 means default).
func New(historySize int) *Bus {
	if historySize <= 0 {
		historySize = DefaultHistorySize
	}
	return &Bus{
		handlers: make(map[domain.EventType][]registration),
		waiters:  make(map[domain.EventType][]chan domain.SyncEvent),
		capacity: historySize,
		log:      slog.Default(),
	}
}

// handlerID returns the identity of a handler value. The func value's data
// pointer is used rather than its code pointer: distinct closures created
// from the same literal share code but not data, and each must count as its
// own subscriber.
func handlerID(fn Handler) uintptr {
	return *(*uintptr)(unsafe.Pointer(&fn))
}

// Subscribe registers a handler for an event type and returns an unsubscribe
// func. Registering the same func value twice for the same type is
// idempotent; distinct closures are distinct subscribers.
func (b *Bus) Subscribe(eventType domain.EventType, fn Handler) func() {
	id := handlerID(fn)

	b.mu.Lock()
	defer b.mu.Unlock()

	for _, reg := range b.handlers[eventType] {
		if reg.id == id {
			return b.unsubscribeFunc(eventType, id)
		}
	}
	b.handlers[eventType] = append(b.handlers[eventType], registration{id: id, fn: fn})
	return b.unsubscribeFunc(eventType, id)
}

func (b *Bus) unsubscribeFunc(eventType domain.EventType, id uintptr) func() {
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		regs := b.handlers[eventType]
		for i, reg := range regs {
			if reg.id == id {
				b.handlers[eventType] = append(regs[:i:i], regs[i+1:]...)
				return
			}
		}
	}
}

// Publish appends the event to history, wakes matching waiters, and fans the
// event out to subscribed handlers. A handler panic is logged and swallowed
// so remaining handlers still run.
func (b *Bus) Publish(event domain.SyncEvent) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	b.mu.Lock()
	b.history = append(b.history, event)
	if len(b.history) > b.capacity {
		b.history = b.history[len(b.history)-b.capacity:]
	}

	waiters := b.waiters[event.Type]
	delete(b.waiters, event.Type)

	regs := make([]registration, len(b.handlers[event.Type]))
	copy(regs, b.handlers[event.Type])
	b.mu.Unlock()

	for _, ch := range waiters {
		ch <- event
	}

	for _, reg := range regs {
		b.dispatch(reg.fn, event)
	}
}

func (b *Bus) dispatch(fn Handler, event domain.SyncEvent) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Error("event handler panicked", "type", event.Type, "panic", r)
		}
	}()
	fn(event)
}

// WaitFor blocks until the next event of the given type is published. With
// timeout <= 0 it waits until the context is done; otherwise it fails with
// ErrWaitTimeout once the timeout elapses. Cancelling one waiter does not
// affect others.
func (b *Bus) WaitFor(ctx context.Context, eventType domain.EventType, timeout time.Duration) (domain.SyncEvent, error) {
	ch := make(chan domain.SyncEvent, 1)

	b.mu.Lock()
	b.waiters[eventType] = append(b.waiters[eventType], ch)
	b.mu.Unlock()

	var timer <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		timer = t.C
	}

	select {
	case ev := <-ch:
		return ev, nil
	case <-timer:
		b.removeWaiter(eventType, ch)
		return domain.SyncEvent{}, ErrWaitTimeout
	case <-ctx.Done():
		b.removeWaiter(eventType, ch)
		return domain.SyncEvent{}, ctx.Err()
	}
}

func (b *Bus) removeWaiter(eventType domain.EventType, ch chan domain.SyncEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()
	waiters := b.waiters[eventType]
	for i, w := range waiters {
		if w == ch {
			b.waiters[eventType] = append(waiters[:i:i], waiters[i+1:]...)
			return
		}
	}
}

// History returns recent events, newest last. An empty eventType matches all
// types; limit <= 0 returns everything retained.
func (b *Bus) History(eventType domain.EventType, limit int) []domain.SyncEvent {
	b.mu.Lock()
	defer b.mu.Unlock()

	var out []domain.SyncEvent
	for _, ev := range b.history {
		if eventType == "" || ev.Type == eventType {
			out = append(out, ev)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out
}
