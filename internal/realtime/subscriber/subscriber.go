// Package subscriber keeps a single long-lived subscription to the realtime
// notification channel and hands each parsed event to a handler.
package subscriber

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/vietddude/bridge/internal/core/domain"
	"github.com/vietddude/bridge/internal/metrics"
)

const (
	DefaultChannel = "loyalty_realtime_events"
	DefaultBackoff = 5 * time.Second
)

// State is the subscriber's connection state.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateSubscribed
	StateDisabled
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateSubscribed:
		return "subscribed"
	case StateDisabled:
		return "disabled"
	default:
		return "unknown"
	}
}

func (s State) gauge() float64 {
	if s == StateDisabled {
		return -1
	}
	return float64(s)
}

// Source opens subscriptions on a pub/sub channel.
type Source interface {
	Listen(ctx context.Context, channel string) (Stream, error)
}

// Stream is one open subscription. Next and Close are never called
// concurrently.
type Stream interface {
	Next(ctx context.Context) ([]byte, error)
	Close(ctx context.Context) error
}

// Handler receives every well-formed event.
type Handler func(*domain.RealtimeEvent)

type Config struct {
	Channel string
	Backoff time.Duration
}

// Subscriber owns the subscription lifecycle. Only connect and teardown touch
// the stream.
type Subscriber struct {
	src     Source
	cfg     Config
	clock   clockwork.Clock
	log     *slog.Logger
	disable sync.Once

	mu      sync.Mutex
	handler Handler
	state   State
	stream  Stream
	timer   clockwork.Timer
	stopped bool
	ctx     context.Context
	cancel  context.CancelFunc
	readers sync.WaitGroup
}

// New creates a subscriber. A nil source puts it in the disabled state, where
// callers rely on the persisted-event fallback alone.
func New(src Source, cfg Config, handler Handler, clock clockwork.Clock) *Subscriber {
	if cfg.Channel == "" {
		cfg.Channel = DefaultChannel
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = DefaultBackoff
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Subscriber{
		src:     src,
		cfg:     cfg,
		clock:   clock,
		handler: handler,
		log:     slog.Default().With("component", "subscriber", "channel", cfg.Channel),
	}
}

// Start begins connecting in the background.
func (s *Subscriber) Start(ctx context.Context) error {
	if s.src == nil {
		s.disable.Do(func() {
			s.log.Warn("No notification source configured, relying on persisted-event polling")
		})
		s.setState(StateDisabled)
		return nil
	}

	s.mu.Lock()
	if s.ctx != nil {
		s.mu.Unlock()
		return errors.New("subscriber already started")
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.mu.Unlock()

	go s.connect()
	return nil
}

// Stop unregisters the handler, then tears the subscription down.
func (s *Subscriber) Stop(ctx context.Context) error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.stopped = true
	s.handler = nil
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	stream := s.stream
	s.stream = nil
	cancel := s.cancel
	if s.state != StateDisabled {
		s.state = StateDisconnected
	}
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	// Close before waiting: a stream's Next may not observe cancellation.
	var closeErr error
	if stream != nil {
		closeErr = stream.Close(ctx)
	}

	done := make(chan struct{})
	go func() {
		s.readers.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return errors.Join(closeErr, ctx.Err())
	}
	return closeErr
}

// State returns the current connection state.
func (s *Subscriber) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Subscriber) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
	metrics.SubscriberState.Set(st.gauge())
}

func (s *Subscriber) connect() {
	s.mu.Lock()
	if s.stopped || s.ctx.Err() != nil {
		s.mu.Unlock()
		return
	}
	s.timer = nil
	s.state = StateConnecting
	ctx := s.ctx
	s.mu.Unlock()
	metrics.SubscriberState.Set(StateConnecting.gauge())

	stream, err := s.src.Listen(ctx, s.cfg.Channel)
	if err != nil {
		if ctx.Err() == nil {
			s.log.Warn("Failed to subscribe", "error", err, "retry_in", s.cfg.Backoff)
		}
		s.scheduleReconnect()
		return
	}

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		_ = stream.Close(context.Background())
		return
	}
	s.stream = stream
	s.state = StateSubscribed
	s.readers.Add(1)
	s.mu.Unlock()
	metrics.SubscriberState.Set(StateSubscribed.gauge())
	s.log.Info("Subscribed to notification channel")

	go s.read(ctx, stream)
}

func (s *Subscriber) read(ctx context.Context, stream Stream) {
	defer s.readers.Done()
	for {
		payload, err := stream.Next(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			s.log.Warn("Subscription dropped", "error", err, "retry_in", s.cfg.Backoff)
			s.teardown(stream)
			s.scheduleReconnect()
			return
		}
		s.deliver(payload)
	}
}

func (s *Subscriber) deliver(payload []byte) {
	var ev domain.RealtimeEvent
	if err := json.Unmarshal(payload, &ev); err != nil || !ev.Valid() {
		metrics.RealtimeNotificationsTotal.WithLabelValues("dropped").Inc()
		s.log.Debug("Dropping malformed notification", "payload", string(payload))
		return
	}
	ev.Normalize()

	s.mu.Lock()
	h := s.handler
	s.mu.Unlock()
	if h == nil {
		return
	}
	metrics.RealtimeNotificationsTotal.WithLabelValues("delivered").Inc()
	h(&ev)
}

func (s *Subscriber) teardown(stream Stream) {
	s.mu.Lock()
	owned := s.stream == stream
	if owned {
		s.stream = nil
	}
	s.mu.Unlock()
	if !owned {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := stream.Close(ctx); err != nil {
		s.log.Debug("Error closing subscription", "error", err)
	}
}

// scheduleReconnect arms the reconnect timer unless one is already pending.
func (s *Subscriber) scheduleReconnect() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	s.state = StateDisconnected
	metrics.SubscriberState.Set(StateDisconnected.gauge())
	if s.timer != nil {
		return
	}
	metrics.SubscriberReconnectsTotal.Inc()
	s.timer = s.clock.AfterFunc(s.cfg.Backoff, func() { go s.connect() })
}
