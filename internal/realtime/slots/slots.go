// Package slots bounds how many long-poll requests may wait on the same
// merchant/customer pair at once.
package slots

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// DefaultLimit is the number of concurrent waiters allowed per key.
const DefaultLimit = 1

// ErrSlotBusy is returned when every slot for a key is taken.
var ErrSlotBusy = errors.New("poll slot busy")

// Limiter hands out poll slots. The returned release func must be called
// exactly once; calling it again is a no-op.
type Limiter interface {
	Acquire(ctx context.Context, key string) (release func(), err error)
}

// Key builds the slot key for a merchant/customer pair.
func Key(merchantID, customerID string) string {
	return merchantID + ":" + customerID
}

// Local is a process-local Limiter.
type Local struct {
	limit int
	mu    sync.Mutex
	held  map[string]int
}

// NewLocal creates a limiter allowing limit holders per key.
func NewLocal(limit int) *Local {
	if limit <= 0 {
		limit = DefaultLimit
	}
	return &Local{limit: limit, held: make(map[string]int)}
}

func (l *Local) Acquire(ctx context.Context, key string) (func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held[key] >= l.limit {
		return nil, ErrSlotBusy
	}
	l.held[key]++
	return sync.OnceFunc(func() { l.release(key) }), nil
}

// Held reports how many slots are taken for key.
func (l *Local) Held(key string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.held[key]
}

func (l *Local) release(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held[key] <= 1 {
		delete(l.held, key)
		return
	}
	l.held[key]--
}

// SlotStore is the shared counter backing a Distributed limiter.
type SlotStore interface {
	AcquireSlot(ctx context.Context, key string, limit int, ttl time.Duration) (bool, error)
	ReleaseSlot(ctx context.Context, key string) error
}

// Distributed shares slots across bridge processes through a SlotStore.
// Counters expire after ttl so a crashed process cannot pin a slot.
type Distributed struct {
	store SlotStore
	limit int
	ttl   time.Duration
	log   *slog.Logger
}

// NewDistributed creates a limiter over store. ttl should exceed the longest
// wait timeout.
func NewDistributed(store SlotStore, limit int, ttl time.Duration) *Distributed {
	if limit <= 0 {
		limit = DefaultLimit
	}
	return &Distributed{
		store: store,
		limit: limit,
		ttl:   ttl,
		log:   slog.Default().With("component", "slots"),
	}
}

func (d *Distributed) Acquire(ctx context.Context, key string) (func(), error) {
	ok, err := d.store.AcquireSlot(ctx, key, d.limit, d.ttl)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire poll slot: %w", err)
	}
	if !ok {
		return nil, ErrSlotBusy
	}
	return sync.OnceFunc(func() {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
		defer cancel()
		if err := d.store.ReleaseSlot(ctx, key); err != nil {
			d.log.Warn("Failed to release poll slot", "key", key, "error", err)
		}
	}), nil
}
