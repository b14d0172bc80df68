package slots

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestLocal_OneSlotPerKey(t *testing.T) {
	l := NewLocal(1)
	ctx := context.Background()
	key := Key("m-1", "c-1")

	release, err := l.Acquire(ctx, key)
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	if _, err := l.Acquire(ctx, key); !errors.Is(err, ErrSlotBusy) {
		t.Fatalf("expected ErrSlotBusy, got %v", err)
	}

	// Other customers are unaffected.
	other, err := l.Acquire(ctx, Key("m-1", "c-2"))
	if err != nil {
		t.Fatalf("Acquire for other key failed: %v", err)
	}
	other()

	release()
	release()
	if got := l.Held(key); got != 0 {
		t.Errorf("expected slot freed once, held = %d", got)
	}

	again, err := l.Acquire(ctx, key)
	if err != nil {
		t.Fatalf("Acquire after release failed: %v", err)
	}
	again()
}

func TestLocal_ConcurrentAcquireRespectsLimit(t *testing.T) {
	const limit = 3
	l := NewLocal(limit)
	key := Key("m-1", "c-1")

	var wg sync.WaitGroup
	var mu sync.Mutex
	var releases []func()
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release, err := l.Acquire(context.Background(), key)
			if err != nil {
				return
			}
			mu.Lock()
			releases = append(releases, release)
			mu.Unlock()
		}()
	}
	wg.Wait()

	if len(releases) != limit {
		t.Fatalf("expected %d holders, got %d", limit, len(releases))
	}
	for _, r := range releases {
		r()
	}
	if got := l.Held(key); got != 0 {
		t.Errorf("expected no holders, got %d", got)
	}
}

func TestLocal_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := NewLocal(1).Acquire(ctx, "k"); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

type fakeStore struct {
	mu       sync.Mutex
	counts   map[string]int
	released int
	err      error
}

func (f *fakeStore) AcquireSlot(_ context.Context, key string, limit int, _ time.Duration) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return false, f.err
	}
	if f.counts[key] >= limit {
		return false, nil
	}
	f.counts[key]++
	return true, nil
}

func (f *fakeStore) ReleaseSlot(_ context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.counts[key]--
	f.released++
	return nil
}

func TestDistributed_AcquireRelease(t *testing.T) {
	store := &fakeStore{counts: map[string]int{}}
	d := NewDistributed(store, 1, time.Minute)
	ctx := context.Background()

	release, err := d.Acquire(ctx, "m-1:c-1")
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	if _, err := d.Acquire(ctx, "m-1:c-1"); !errors.Is(err, ErrSlotBusy) {
		t.Fatalf("expected ErrSlotBusy, got %v", err)
	}
	release()
	release()
	if store.released != 1 {
		t.Errorf("expected a single release, got %d", store.released)
	}
}

func TestDistributed_StoreError(t *testing.T) {
	store := &fakeStore{counts: map[string]int{}, err: errors.New("redis down")}
	d := NewDistributed(store, 1, time.Minute)

	_, err := d.Acquire(context.Background(), "k")
	if err == nil || errors.Is(err, ErrSlotBusy) {
		t.Errorf("expected store error, got %v", err)
	}
}
