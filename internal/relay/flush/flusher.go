// Package flush replays queued relay operations against the central ledger API.
package flush

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/singleflight"

	"github.com/vietddude/bridge/internal/core/domain"
	"github.com/vietddude/bridge/internal/metrics"
	"github.com/vietddude/bridge/internal/relay/client"
	"github.com/vietddude/bridge/internal/relay/queue"
)

// DefaultInterval is the pause between automatic flush cycles.
const DefaultInterval = 5 * time.Second

// Relayer delivers one operation to the central API.
type Relayer interface {
	Call(ctx context.Context, endpoint string, body []byte, opts client.CallOptions) (*client.Response, error)
}

// Store is the queue the flusher drains.
type Store interface {
	ListPending() []domain.QueuedOperation
	Remove(id string) error
	Len() int
}

// Result summarises one flush cycle.
type Result struct {
	Pending  int `json:"pending"`
	Replayed int `json:"replayed"`
	Failed   int `json:"failed"`
}

// Flusher drains the queue on an interval and on demand.
type Flusher struct {
	interval time.Duration
	store    Store
	relay    Relayer
	clock    clockwork.Clock
	group    singleflight.Group
	log      *slog.Logger
}

// NewFlusher creates a flusher. A nil clock uses the real clock.
func NewFlusher(interval time.Duration, store Store, relay Relayer, clock clockwork.Clock) *Flusher {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Flusher{
		interval: interval,
		store:    store,
		relay:    relay,
		clock:    clock,
		log:      slog.Default().With("component", "flush"),
	}
}

// Run flushes every interval until ctx is cancelled.
func (f *Flusher) Run(ctx context.Context) error {
	f.log.Info("Starting flush loop", "interval", f.interval)

	ticker := f.clock.NewTicker(f.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			f.log.Info("Flush loop stopped")
			return nil
		case <-ticker.Chan():
			res := f.Flush(ctx)
			if res.Replayed > 0 || res.Failed > 0 {
				f.log.Info("Flush cycle finished", "replayed", res.Replayed, "failed", res.Failed, "pending", res.Pending)
			}
		}
	}
}

// Flush runs one cycle. Callers arriving while a cycle is in flight wait for
// that cycle and share its result instead of starting a second one.
func (f *Flusher) Flush(ctx context.Context) Result {
	ch := f.group.DoChan("flush", func() (any, error) {
		return f.flushOnce(context.WithoutCancel(ctx)), nil
	})

	select {
	case <-ctx.Done():
		return Result{Pending: f.store.Len()}
	case r := <-ch:
		return r.Val.(Result)
	}
}

// flushOnce replays a snapshot of the queue. A failing entry stays queued and
// does not stop the rest of the batch.
func (f *Flusher) flushOnce(ctx context.Context) Result {
	metrics.FlushCyclesTotal.Inc()

	var res Result
	for _, op := range f.store.ListPending() {
		endpoint, err := op.Kind.Endpoint()
		if err != nil {
			f.log.Error("Skipping queued operation with unknown kind", "id", op.ID, "kind", op.Kind)
			metrics.FlushReplayedTotal.WithLabelValues("invalid").Inc()
			res.Failed++
			continue
		}

		if _, err := f.relay.Call(ctx, endpoint, op.Payload, client.CallOptions{IdempotencyKey: op.IdempotencyKey}); err != nil {
			f.log.Debug("Replay failed, keeping operation queued", "id", op.ID, "kind", op.Kind, "error", err)
			metrics.FlushReplayedTotal.WithLabelValues("failed").Inc()
			res.Failed++
			continue
		}

		metrics.FlushReplayedTotal.WithLabelValues("success").Inc()
		res.Replayed++
		if err := f.store.Remove(op.ID); err != nil && !errors.Is(err, queue.ErrNotFound) {
			// Upstream has the operation; the next replay is absorbed by its idempotency key.
			f.log.Error("Failed to remove delivered operation", "id", op.ID, "error", err)
		}
	}

	res.Pending = f.store.Len()
	return res
}
