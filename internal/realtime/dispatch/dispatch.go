// Package dispatch composes the listener registry, the persisted-event
// fallback and poll slots into a single "wait for the next customer event"
// operation.
package dispatch

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/vietddude/bridge/internal/core/domain"
	"github.com/vietddude/bridge/internal/metrics"
	"github.com/vietddude/bridge/internal/realtime/slots"
)

const (
	DefaultTimeout   = 25 * time.Second
	DefaultSubWindow = 5 * time.Second
)

var ErrMissingScope = errors.New("merchantId and customerId are required")

// Claimer is the persisted-event side of a wait.
type Claimer interface {
	ClaimNext(ctx context.Context, merchantID, customerID string) (*domain.RealtimeEvent, error)
	MarkDelivered(ctx context.Context, id string) (bool, error)
}

// Listeners is the push side of a wait.
type Listeners interface {
	Wait(ctx context.Context, match domain.EventPredicate, timeout time.Duration) (*domain.RealtimeEvent, error)
}

type Config struct {
	DefaultTimeout time.Duration
	// SubWindow bounds each push wait before the fallback is re-checked.
	SubWindow time.Duration
}

type Dispatcher struct {
	claims    Claimer
	listeners Listeners
	slots     slots.Limiter
	clock     clockwork.Clock
	cfg       Config
	log       *slog.Logger
}

// New creates a dispatcher. limiter may be nil to disable poll slots.
func New(claims Claimer, listeners Listeners, limiter slots.Limiter, cfg Config, clock clockwork.Clock) *Dispatcher {
	if cfg.DefaultTimeout <= 0 {
		cfg.DefaultTimeout = DefaultTimeout
	}
	if cfg.SubWindow <= 0 {
		cfg.SubWindow = DefaultSubWindow
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Dispatcher{
		claims:    claims,
		listeners: listeners,
		slots:     limiter,
		clock:     clock,
		cfg:       cfg,
		log:       slog.Default().With("component", "dispatch"),
	}
}

// WaitForCustomerEvent returns the next event for the pair, or (nil, nil) if
// none arrives within timeout. A non-positive timeout uses the configured
// default. slots.ErrSlotBusy is returned when the pair already has the
// maximum number of waiters.
func (d *Dispatcher) WaitForCustomerEvent(
	ctx context.Context,
	merchantID, customerID string,
	timeout time.Duration,
) (*domain.RealtimeEvent, error) {
	if merchantID == "" || customerID == "" {
		return nil, ErrMissingScope
	}
	if timeout <= 0 {
		timeout = d.cfg.DefaultTimeout
	}

	if d.slots != nil {
		release, err := d.slots.Acquire(ctx, slots.Key(merchantID, customerID))
		if err != nil {
			if errors.Is(err, slots.ErrSlotBusy) {
				metrics.RealtimeWaitsTotal.WithLabelValues("busy").Inc()
			}
			return nil, err
		}
		defer release()
	}

	deadline := d.clock.Now().Add(timeout)

	if ev := d.claim(ctx, merchantID, customerID); ev != nil {
		metrics.RealtimeWaitsTotal.WithLabelValues("claimed").Inc()
		return ev, nil
	}

	match := domain.ForCustomer(merchantID, customerID)
	for {
		remaining := deadline.Sub(d.clock.Now())
		if remaining <= 0 {
			metrics.RealtimeWaitsTotal.WithLabelValues("timeout").Inc()
			return nil, nil
		}
		window := min(remaining, d.cfg.SubWindow)

		ev, err := d.listeners.Wait(ctx, match, window)
		if err != nil {
			metrics.RealtimeWaitsTotal.WithLabelValues("cancelled").Inc()
			return nil, err
		}
		if ev != nil {
			won, err := d.claims.MarkDelivered(ctx, ev.ID)
			switch {
			case err != nil:
				d.log.Warn("Failed to mark pushed event delivered", "id", ev.ID, "error", err)
			case !won:
				d.log.Debug("Pushed event was already delivered, returning it again",
					"id", ev.ID, "merchantId", merchantID, "customerId", customerID)
			}
			metrics.RealtimeWaitsTotal.WithLabelValues("push").Inc()
			return ev, nil
		}

		if ev := d.claim(ctx, merchantID, customerID); ev != nil {
			metrics.RealtimeWaitsTotal.WithLabelValues("claimed").Inc()
			return ev, nil
		}
	}
}

// claim swallows store errors; the push path and the next sub-window keep
// the wait alive while the store is unavailable.
func (d *Dispatcher) claim(ctx context.Context, merchantID, customerID string) *domain.RealtimeEvent {
	ev, err := d.claims.ClaimNext(ctx, merchantID, customerID)
	if err != nil {
		if ctx.Err() == nil {
			d.log.Warn("Fallback claim failed", "merchantId", merchantID, "customerId", customerID, "error", err)
		}
		return nil
	}
	return ev
}
