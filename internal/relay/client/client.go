// Package client wraps outbound calls from the relay to the central ledger API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/vietddude/bridge/internal/core/signer"
	"github.com/vietddude/bridge/internal/metrics"
)

// Header names attached to every outbound call.
const (
	HeaderRequestID      = "X-Request-Id"
	HeaderIdempotencyKey = "Idempotency-Key"
	HeaderStaffKey       = "X-Staff-Key"
)

// Config holds central API connection settings.
type Config struct {
	BaseURL  string
	Secret   string // empty disables signing
	StaffKey string
	Timeout  time.Duration
}

// CallOptions carries per-call settings.
type CallOptions struct {
	IdempotencyKey string
}

// Response is a 2xx answer from the central API.
type Response struct {
	StatusCode int
	Body       json.RawMessage
}

// StatusError is returned for any non-2xx answer.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("http %d: %s", e.StatusCode, e.Body)
}

// HealthStatus summarises recent upstream behaviour.
type HealthStatus struct {
	Available     bool          `json:"available"`
	Latency       time.Duration `json:"latency"`
	ErrorRate     float64       `json:"errorRate"`
	LastSuccessAt time.Time     `json:"lastSuccessAt"`
	LastFailureAt time.Time     `json:"lastFailureAt"`
}

// Client calls the central ledger API.
type Client struct {
	cfg        Config
	httpClient *http.Client
	clock      clockwork.Clock

	mu           sync.RWMutex
	health       HealthStatus
	totalLatency time.Duration
	successCount int
	failureCount int
	requestCount int
}

// New creates a client. A nil clock uses the real clock.
func New(cfg Config, clock clockwork.Clock) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	return &Client{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		clock: clock,
		health: HealthStatus{
			Available: true,
		},
	}
}

// Call posts body to endpoint. Any transport failure or non-2xx status is an error.
func (c *Client) Call(ctx context.Context, endpoint string, body []byte, opts CallOptions) (*Response, error) {
	start := c.clock.Now()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+endpoint, bytes.NewReader(body))
	if err != nil {
		c.record(endpoint, "error", 0)
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderRequestID, uuid.NewString())
	if opts.IdempotencyKey != "" {
		req.Header.Set(HeaderIdempotencyKey, opts.IdempotencyKey)
	}
	if c.cfg.StaffKey != "" {
		req.Header.Set(HeaderStaffKey, c.cfg.StaffKey)
	}
	if c.cfg.Secret != "" {
		req.Header.Set(signer.HeaderName, signer.HeaderAt(c.cfg.Secret, start, body))
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.record(endpoint, "error", 0)
		return nil, fmt.Errorf("relay call %s: %w", endpoint, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		c.record(endpoint, "error", 0)
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		c.record(endpoint, "http_error", 0)
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(respBody))}
	}

	c.record(endpoint, "success", c.clock.Since(start))

	if len(bytes.TrimSpace(respBody)) == 0 || !json.Valid(respBody) {
		respBody, _ = json.Marshal(map[string]any{"ok": true})
	}
	return &Response{StatusCode: resp.StatusCode, Body: respBody}, nil
}

// GetHealth returns the upstream health snapshot.
func (c *Client) GetHealth() HealthStatus {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.health
}

// Close releases idle connections.
func (c *Client) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}

func (c *Client) record(endpoint, outcome string, latency time.Duration) {
	metrics.RelayCallsTotal.WithLabelValues(endpoint, outcome).Inc()

	c.mu.Lock()
	defer c.mu.Unlock()

	c.requestCount++
	now := c.clock.Now()
	if outcome == "success" {
		metrics.RelayLatency.WithLabelValues(endpoint).Observe(latency.Seconds())
		c.successCount++
		c.totalLatency += latency
		c.health.LastSuccessAt = now
		c.health.Available = true
		c.health.Latency = c.totalLatency / time.Duration(c.successCount)
	} else {
		c.failureCount++
		c.health.LastFailureAt = now
	}

	c.health.ErrorRate = float64(c.failureCount) / float64(c.requestCount)
	if c.health.ErrorRate > 0.5 && c.health.LastFailureAt.After(c.health.LastSuccessAt) {
		c.health.Available = false
	}
}
