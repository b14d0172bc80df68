// Package registry holds in-process waiters for realtime events and resolves
// them when a matching event is dispatched.
package registry

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/vietddude/bridge/internal/core/domain"
	"github.com/vietddude/bridge/internal/metrics"
)

// DefaultTimeout applies when Wait is called without a timeout.
const DefaultTimeout = 25 * time.Second

type waiter struct {
	id    uint64
	match domain.EventPredicate
	ch    chan *domain.RealtimeEvent
}

// Registry is a set of pending waiters kept in registration order.
type Registry struct {
	clock clockwork.Clock

	mu      sync.Mutex
	nextID  uint64
	waiters []*waiter
}

// New creates an empty registry. A nil clock uses the real clock.
func New(clock clockwork.Clock) *Registry {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Registry{clock: clock}
}

// Wait blocks until an event matching match is dispatched or timeout elapses.
// It returns (nil, nil) on timeout and ctx.Err() if ctx ends first.
func (r *Registry) Wait(ctx context.Context, match domain.EventPredicate, timeout time.Duration) (*domain.RealtimeEvent, error) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	w := r.register(match)
	timer := r.clock.NewTimer(timeout)
	defer timer.Stop()

	select {
	case ev := <-w.ch:
		return ev, nil
	case <-timer.Chan():
		return r.abandon(w), nil
	case <-ctx.Done():
		if ev := r.abandon(w); ev != nil {
			return ev, nil
		}
		return nil, ctx.Err()
	}
}

// Dispatch resolves every waiter whose predicate matches ev with the same event
// and removes them. It returns the number of waiters resolved.
func (r *Registry) Dispatch(ev *domain.RealtimeEvent) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	resolved := 0
	kept := r.waiters[:0]
	for _, w := range r.waiters {
		if w.match(ev) {
			w.ch <- ev // buffered, each waiter is resolved at most once
			resolved++
			continue
		}
		kept = append(kept, w)
	}
	for i := len(kept); i < len(r.waiters); i++ {
		r.waiters[i] = nil
	}
	r.waiters = kept
	metrics.RealtimePendingWaiters.Set(float64(len(r.waiters)))
	return resolved
}

// Len returns the number of pending waiters.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.waiters)
}

func (r *Registry) register(match domain.EventPredicate) *waiter {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.nextID++
	w := &waiter{
		id:    r.nextID,
		match: match,
		ch:    make(chan *domain.RealtimeEvent, 1),
	}
	r.waiters = append(r.waiters, w)
	metrics.RealtimePendingWaiters.Set(float64(len(r.waiters)))
	return w
}

// abandon removes w after a timeout. If a dispatch already resolved it, the
// delivered event is returned instead so it is not lost.
func (r *Registry) abandon(w *waiter) *domain.RealtimeEvent {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i, cur := range r.waiters {
		if cur.id == w.id {
			r.waiters = append(r.waiters[:i], r.waiters[i+1:]...)
			metrics.RealtimePendingWaiters.Set(float64(len(r.waiters)))
			return nil
		}
	}
	select {
	case ev := <-w.ch:
		return ev
	default:
		return nil
	}
}
