// Package server is the HTTP front POS terminals talk to. Quotes are relayed
// synchronously; commits and refunds fall back to the durable queue when the
// central API cannot be reached.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/vietddude/bridge/internal/core/domain"
	"github.com/vietddude/bridge/internal/metrics"
	"github.com/vietddude/bridge/internal/relay/client"
	"github.com/vietddude/bridge/internal/relay/flush"
)

const maxBodyBytes = 1 << 20

// Relayer delivers a request to the central API.
type Relayer interface {
	Call(ctx context.Context, endpoint string, body []byte, opts client.CallOptions) (*client.Response, error)
	GetHealth() client.HealthStatus
}

// Queue stores operations that could not be relayed.
type Queue interface {
	EnqueueOnce(op domain.QueuedOperation) (domain.QueuedOperation, bool, error)
	ListPending() []domain.QueuedOperation
	Len() int
}

// Flusher triggers an immediate flush cycle.
type Flusher interface {
	Flush(ctx context.Context) flush.Result
}

// Server serves the relay HTTP surface.
type Server struct {
	relay    Relayer
	queue    Queue
	flusher  Flusher
	defaults Defaults
	server   *http.Server
	log      *slog.Logger
}

// NewServer creates a relay server listening on addr.
func NewServer(addr string, relay Relayer, queue Queue, flusher Flusher, defaults Defaults) *Server {
	mux := http.NewServeMux()
	s := &Server{
		relay:    relay,
		queue:    queue,
		flusher:  flusher,
		defaults: defaults,
		server: &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
		},
		log: slog.Default().With("component", "relay-server"),
	}

	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("POST /quote", s.handleQuote)
	mux.HandleFunc("POST /commit", s.handleCommit)
	mux.HandleFunc("POST /refund", s.handleRefund)
	mux.HandleFunc("POST /queue/flush", s.handleFlush)
	mux.HandleFunc("GET /queue", s.handleListQueue)
	mux.Handle("GET /metrics", promhttp.Handler())

	return s
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	s.log.Info("Relay server listening", "addr", s.server.Addr)
	err := s.server.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Stop stops the HTTP server.
func (s *Server) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":       true,
		"pending":  s.queue.Len(),
		"upstream": s.relay.GetHealth(),
	})
}

func (s *Server) handleQuote(w http.ResponseWriter, r *http.Request) {
	raw, ok := s.readBody(w, r)
	if !ok {
		return
	}
	var req quoteRequest
	payload, err := decodeBody(raw, &req, s.defaults, true)
	if err == nil {
		err = req.validate()
	}
	if err != nil {
		s.writeError(w, err)
		return
	}

	// Quotes are never queued: a replayed estimate has no meaning.
	resp, err := s.relay.Call(r.Context(), domain.EndpointQuote, payload, client.CallOptions{})
	if err != nil {
		s.log.Warn("Quote relay failed", "orderId", req.OrderID, "error", err)
		writeJSON(w, http.StatusBadGateway, map[string]any{
			"error":  "upstream unavailable",
			"reason": err.Error(),
		})
		return
	}
	writeRaw(w, http.StatusOK, resp.Body)
}

func (s *Server) handleCommit(w http.ResponseWriter, r *http.Request) {
	raw, ok := s.readBody(w, r)
	if !ok {
		return
	}
	var req commitRequest
	payload, err := decodeBody(raw, &req, s.defaults, false)
	if err == nil {
		err = req.validate()
	}
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.relayOrQueue(w, r, domain.OperationCommit, req.key(), payload)
}

func (s *Server) handleRefund(w http.ResponseWriter, r *http.Request) {
	raw, ok := s.readBody(w, r)
	if !ok {
		return
	}
	var req refundRequest
	payload, err := decodeBody(raw, &req, s.defaults, false)
	if err == nil {
		err = req.validate()
	}
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.relayOrQueue(w, r, domain.OperationRefund, req.key(), payload)
}

// relayOrQueue tries the central API once and queues the operation on any failure.
func (s *Server) relayOrQueue(
	w http.ResponseWriter,
	r *http.Request,
	kind domain.OperationKind,
	key string,
	payload json.RawMessage,
) {
	endpoint, _ := kind.Endpoint()

	resp, err := s.relay.Call(r.Context(), endpoint, payload, client.CallOptions{IdempotencyKey: key})
	if err == nil {
		writeRaw(w, http.StatusOK, resp.Body)
		return
	}
	reason := err.Error()

	op := domain.QueuedOperation{
		ID:             uuid.NewString(),
		Kind:           kind,
		IdempotencyKey: key,
		Payload:        payload,
		EnqueuedAt:     time.Now().UTC(),
		Reason:         reason,
	}
	stored, created, qErr := s.queue.EnqueueOnce(op)
	if qErr != nil {
		s.log.Error("Failed to queue operation", "kind", kind, "idempotencyKey", key, "error", qErr)
		writeJSON(w, http.StatusInternalServerError, map[string]any{
			"error":  "operation was not completed and could not be queued",
			"reason": qErr.Error(),
		})
		return
	}

	if created {
		metrics.QueueEnqueuedTotal.WithLabelValues(string(kind)).Inc()
		s.log.Warn("Relay failed, operation queued", "kind", kind, "id", stored.ID, "idempotencyKey", key, "error", err)
	} else {
		s.log.Info("Operation already queued", "kind", kind, "id", stored.ID, "idempotencyKey", key)
	}

	writeJSON(w, http.StatusAccepted, map[string]any{
		"queued": true,
		"id":     stored.ID,
		"reason": reason,
	})
}

func (s *Server) handleFlush(w http.ResponseWriter, r *http.Request) {
	res := s.flusher.Flush(r.Context())
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":      true,
		"pending": res.Pending,
	})
}

func (s *Server) handleListQueue(w http.ResponseWriter, r *http.Request) {
	type entry struct {
		ID             string               `json:"id"`
		Kind           domain.OperationKind `json:"kind"`
		IdempotencyKey string               `json:"idempotencyKey"`
		EnqueuedAt     time.Time            `json:"enqueuedAt"`
		Reason         string               `json:"reason,omitempty"`
	}
	pending := s.queue.ListPending()
	out := make([]entry, 0, len(pending))
	for _, op := range pending {
		out = append(out, entry{op.ID, op.Kind, op.IdempotencyKey, op.EnqueuedAt, op.Reason})
	}
	writeJSON(w, http.StatusOK, map[string]any{"pending": len(out), "operations": out})
}

func (s *Server) readBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid body", "reason": err.Error()})
		return nil, false
	}
	return raw, true
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	var ve *ValidationError
	if errors.As(err, &ve) {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid request", "field": ve.Field, "reason": ve.Reason})
		return
	}
	s.log.Error("Request handling failed", "error", err)
	writeJSON(w, http.StatusInternalServerError, map[string]any{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeRaw(w http.ResponseWriter, status int, body []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}
