// Package server exposes the customer event long-poll over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/vietddude/bridge/internal/core/domain"
	"github.com/vietddude/bridge/internal/realtime/slots"
)

// MaxTimeout caps client-requested waits.
const MaxTimeout = 60 * time.Second

// Waiter is the event dispatch facade.
type Waiter interface {
	WaitForCustomerEvent(ctx context.Context, merchantID, customerID string, timeout time.Duration) (*domain.RealtimeEvent, error)
}

type Server struct {
	waiter Waiter
	state  func() string
	server *http.Server
	log    *slog.Logger
}

// NewServer creates a realtime server listening on addr. state reports the
// subscriber state for /health.
func NewServer(addr string, waiter Waiter, state func() string) *Server {
	mux := http.NewServeMux()
	s := &Server{
		waiter: waiter,
		state:  state,
		server: &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
		},
		log: slog.Default().With("component", "realtime-server"),
	}

	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /events/wait", s.handleWait)
	mux.Handle("GET /metrics", promhttp.Handler())

	return s
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

func (s *Server) Start() error {
	s.log.Info("Realtime server listening", "addr", s.server.Addr)
	err := s.server.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *Server) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	state := "disabled"
	if s.state != nil {
		state = s.state()
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "subscriber": state})
}

func (s *Server) handleWait(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	merchantID := q.Get("merchantId")
	customerID := q.Get("customerId")
	if merchantID == "" || customerID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "merchantId and customerId are required"})
		return
	}

	var timeout time.Duration
	if raw := q.Get("timeoutMs"); raw != "" {
		ms, err := strconv.Atoi(raw)
		if err != nil || ms <= 0 {
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": "timeoutMs must be a positive integer"})
			return
		}
		timeout = min(time.Duration(ms)*time.Millisecond, MaxTimeout)
	}

	ev, err := s.waiter.WaitForCustomerEvent(r.Context(), merchantID, customerID, timeout)
	switch {
	case errors.Is(err, slots.ErrSlotBusy):
		writeJSON(w, http.StatusTooManyRequests, map[string]any{"error": "another wait is already active for this customer"})
	case errors.Is(err, context.Canceled):
		// Client went away.
	case err != nil:
		s.log.Error("Event wait failed", "merchantId", merchantID, "customerId", customerID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": err.Error()})
	case ev == nil:
		w.WriteHeader(http.StatusNoContent)
	default:
		writeJSON(w, http.StatusOK, map[string]any{"event": ev})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
