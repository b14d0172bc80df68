// Package fallback claims realtime events straight from the durable event log
// when push notifications were missed or never arrived.
package fallback

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/vietddude/bridge/internal/core/domain"
	"github.com/vietddude/bridge/internal/infra/storage"
	"github.com/vietddude/bridge/internal/metrics"
)

const patchTimeout = 5 * time.Second

// Fallback claims the oldest unclaimed event for a merchant/customer pair.
type Fallback struct {
	repo  storage.EventRepository
	clock clockwork.Clock
	log   *slog.Logger
	bg    sync.WaitGroup
}

// New creates a fallback over repo. A nil clock uses the real clock.
func New(repo storage.EventRepository, clock clockwork.Clock) *Fallback {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Fallback{
		repo:  repo,
		clock: clock,
		log:   slog.Default().With("component", "fallback"),
	}
}

// ClaimNext finds the oldest pending event and claims it with a conditional
// update. Losing the race to another consumer returns (nil, nil); the caller
// retries on its next poll.
func (f *Fallback) ClaimNext(ctx context.Context, merchantID, customerID string) (*domain.RealtimeEvent, error) {
	ev, err := f.repo.FindOldestUndelivered(ctx, merchantID, customerID)
	if err != nil {
		metrics.RealtimeClaimsTotal.WithLabelValues("error").Inc()
		return nil, err
	}
	if ev == nil {
		metrics.RealtimeClaimsTotal.WithLabelValues("empty").Inc()
		return nil, nil
	}

	now := f.clock.Now().UTC()
	won, err := f.repo.MarkDelivered(ctx, ev.ID, now)
	if err != nil {
		metrics.RealtimeClaimsTotal.WithLabelValues("error").Inc()
		return nil, err
	}
	if !won {
		metrics.RealtimeClaimsTotal.WithLabelValues("lost").Inc()
		return nil, nil
	}
	metrics.RealtimeClaimsTotal.WithLabelValues("claimed").Inc()

	ev.DeliveredAt = &now
	if ev.CustomerID == "" {
		ev.CustomerID = customerID
		f.patchCustomer(ev.ID, customerID)
	}
	return ev, nil
}

// MarkDelivered claims an event that arrived over the push path. An event that
// is already delivered is not an error.
func (f *Fallback) MarkDelivered(ctx context.Context, id string) (bool, error) {
	return f.repo.MarkDelivered(ctx, id, f.clock.Now().UTC())
}

// Wait blocks until background patches have finished.
func (f *Fallback) Wait() {
	f.bg.Wait()
}

// patchCustomer runs in the background and only logs failures.
func (f *Fallback) patchCustomer(id, customerID string) {
	f.bg.Add(1)
	go func() {
		defer f.bg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), patchTimeout)
		defer cancel()
		if err := f.repo.PatchCustomerID(ctx, id, customerID); err != nil {
			f.log.Warn("Failed to patch customer on claimed event", "id", id, "customerId", customerID, "error", err)
		}
	}()
}
