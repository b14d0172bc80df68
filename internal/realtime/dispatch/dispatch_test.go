package dispatch

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/vietddude/bridge/internal/core/domain"
	"github.com/vietddude/bridge/internal/infra/storage/memory"
	"github.com/vietddude/bridge/internal/realtime/fallback"
	"github.com/vietddude/bridge/internal/realtime/registry"
	"github.com/vietddude/bridge/internal/realtime/slots"
)

type fixture struct {
	store    *memory.EventStore
	fallback *fallback.Fallback
	registry *registry.Registry
	limiter  *slots.Local
	d        *Dispatcher
}

func newFixture(cfg Config) *fixture {
	f := &fixture{
		store:    memory.NewEventStore(),
		registry: registry.New(nil),
		limiter:  slots.NewLocal(1),
	}
	f.fallback = fallback.New(f.store, nil)
	f.d = New(f.fallback, f.registry, f.limiter, cfg, nil)
	return f
}

func (f *fixture) waitRegistered(t *testing.T, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for f.registry.Len() < n {
		if time.Now().After(deadline) {
			t.Fatalf("waiter never registered")
		}
		time.Sleep(time.Millisecond)
	}
}

type result struct {
	ev  *domain.RealtimeEvent
	err error
}

func (f *fixture) waitAsync(ctx context.Context, timeout time.Duration) <-chan result {
	out := make(chan result, 1)
	go func() {
		ev, err := f.d.WaitForCustomerEvent(ctx, "m-1", "c-1", timeout)
		out <- result{ev, err}
	}()
	return out
}

func TestWait_TimesOutWithNil(t *testing.T) {
	f := newFixture(Config{})

	start := time.Now()
	ev, err := f.d.WaitForCustomerEvent(context.Background(), "m-1", "c-1", 200*time.Millisecond)
	elapsed := time.Since(start)

	if err != nil || ev != nil {
		t.Fatalf("expected (nil, nil), got %+v, %v", ev, err)
	}
	if elapsed < 180*time.Millisecond || elapsed > 2*time.Second {
		t.Errorf("unexpected wait duration %v", elapsed)
	}
	if f.registry.Len() != 0 {
		t.Errorf("waiter leaked")
	}
	if f.limiter.Held(slots.Key("m-1", "c-1")) != 0 {
		t.Errorf("poll slot not released")
	}
}

func TestWait_ClaimsExistingEventImmediately(t *testing.T) {
	f := newFixture(Config{})
	_ = f.store.Insert(context.Background(), &domain.RealtimeEvent{ID: "e-1", MerchantID: "m-1", CustomerID: "c-1"})

	start := time.Now()
	ev, err := f.d.WaitForCustomerEvent(context.Background(), "m-1", "c-1", 10*time.Second)
	if err != nil || ev == nil || ev.ID != "e-1" {
		t.Fatalf("expected e-1, got %+v, %v", ev, err)
	}
	if time.Since(start) > time.Second {
		t.Errorf("existing event was not claimed immediately")
	}
}

func TestWait_PushResolvesAndMarksDelivered(t *testing.T) {
	f := newFixture(Config{})
	ctx := context.Background()
	done := f.waitAsync(ctx, 10*time.Second)
	f.waitRegistered(t, 1)

	ev := &domain.RealtimeEvent{ID: "e-1", MerchantID: "m-1", CustomerID: "c-1"}
	_ = f.store.Insert(ctx, ev)
	if n := f.registry.Dispatch(ev); n != 1 {
		t.Fatalf("expected one waiter resolved, got %d", n)
	}

	select {
	case r := <-done:
		if r.err != nil || r.ev == nil || r.ev.ID != "e-1" {
			t.Fatalf("expected e-1, got %+v, %v", r.ev, r.err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("push did not resolve the wait")
	}

	again, err := f.fallback.ClaimNext(ctx, "m-1", "c-1")
	if err != nil || again != nil {
		t.Errorf("pushed event still claimable: %+v, %v", again, err)
	}
}

func TestWait_PushOfDeliveredEventIsReturnedAndLogged(t *testing.T) {
	f := newFixture(Config{})
	var buf bytes.Buffer
	f.d.log = slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	ctx := context.Background()

	ev := &domain.RealtimeEvent{ID: "e-1", MerchantID: "m-1", CustomerID: "c-1"}
	_ = f.store.Insert(ctx, ev)
	if won, err := f.store.MarkDelivered(ctx, "e-1", time.Now()); err != nil || !won {
		t.Fatalf("MarkDelivered = %v, %v", won, err)
	}

	done := f.waitAsync(ctx, 10*time.Second)
	f.waitRegistered(t, 1)
	f.registry.Dispatch(ev)

	select {
	case r := <-done:
		if r.err != nil || r.ev == nil || r.ev.ID != "e-1" {
			t.Fatalf("expected e-1, got %+v, %v", r.ev, r.err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("push did not resolve the wait")
	}
	if !strings.Contains(buf.String(), "already delivered") || !strings.Contains(buf.String(), "id=e-1") {
		t.Errorf("duplicate delivery not logged: %q", buf.String())
	}
}

func TestWait_MissedPushIsRecoveredBySubWindowPoll(t *testing.T) {
	f := newFixture(Config{SubWindow: 50 * time.Millisecond})
	ctx := context.Background()
	done := f.waitAsync(ctx, 5*time.Second)
	f.waitRegistered(t, 1)

	// Stored but never published.
	_ = f.store.Insert(ctx, &domain.RealtimeEvent{ID: "e-1", MerchantID: "m-1", CustomerID: "c-1"})

	select {
	case r := <-done:
		if r.err != nil || r.ev == nil || r.ev.ID != "e-1" {
			t.Fatalf("expected e-1, got %+v, %v", r.ev, r.err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("fallback poll never claimed the event")
	}
}

func TestWait_IgnoresOtherCustomers(t *testing.T) {
	f := newFixture(Config{})
	done := f.waitAsync(context.Background(), 300*time.Millisecond)
	f.waitRegistered(t, 1)

	f.registry.Dispatch(&domain.RealtimeEvent{ID: "e-9", MerchantID: "m-1", CustomerID: "c-2"})

	r := <-done
	if r.err != nil || r.ev != nil {
		t.Errorf("expected timeout, got %+v, %v", r.ev, r.err)
	}
}

func TestWait_SlotBusy(t *testing.T) {
	f := newFixture(Config{})
	ctx, cancel := context.WithCancel(context.Background())
	done := f.waitAsync(ctx, 10*time.Second)
	f.waitRegistered(t, 1)

	_, err := f.d.WaitForCustomerEvent(context.Background(), "m-1", "c-1", time.Second)
	if !errors.Is(err, slots.ErrSlotBusy) {
		t.Fatalf("expected ErrSlotBusy, got %v", err)
	}

	cancel()
	r := <-done
	if !errors.Is(r.err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", r.err)
	}
	if f.limiter.Held(slots.Key("m-1", "c-1")) != 0 {
		t.Errorf("poll slot not released after cancel")
	}
}

func TestWait_MissingScope(t *testing.T) {
	f := newFixture(Config{})
	if _, err := f.d.WaitForCustomerEvent(context.Background(), "m-1", "", time.Second); !errors.Is(err, ErrMissingScope) {
		t.Errorf("expected ErrMissingScope, got %v", err)
	}
}
