package client

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/vietddude/bridge/internal/core/signer"
)

func TestClient_CallAttachesHeaders(t *testing.T) {
	var (
		mu         sync.Mutex
		requestIDs []string
	)
	body := []byte(`{"merchantId":"m-1","orderId":"o-1"}`)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/loyalty/commit" {
			t.Errorf("expected path /loyalty/commit, got %s", r.URL.Path)
		}
		got, _ := io.ReadAll(r.Body)
		if string(got) != string(body) {
			t.Errorf("body not forwarded verbatim: %s", got)
		}
		if key := r.Header.Get(HeaderIdempotencyKey); key != "m-1:o-1:commit" {
			t.Errorf("unexpected idempotency key %q", key)
		}
		if staff := r.Header.Get(HeaderStaffKey); staff != "staff-123" {
			t.Errorf("unexpected staff key %q", staff)
		}
		if err := signer.Verify(r.Header.Get(signer.HeaderName), got, time.Now(), 0, "s3cret"); err != nil {
			t.Errorf("signature did not verify: %v", err)
		}

		mu.Lock()
		requestIDs = append(requestIDs, r.Header.Get(HeaderRequestID))
		mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok":true,"receiptId":"r-1"}`))
	}))
	defer server.Close()

	c := New(Config{BaseURL: server.URL + "/", Secret: "s3cret", StaffKey: "staff-123"}, nil)
	for i := 0; i < 2; i++ {
		resp, err := c.Call(context.Background(), "/loyalty/commit", body, CallOptions{IdempotencyKey: "m-1:o-1:commit"})
		if err != nil {
			t.Fatalf("Call failed: %v", err)
		}
		if string(resp.Body) != `{"ok":true,"receiptId":"r-1"}` {
			t.Errorf("unexpected response body %s", resp.Body)
		}
	}

	if len(requestIDs) != 2 || requestIDs[0] == "" || requestIDs[0] == requestIDs[1] {
		t.Errorf("expected a fresh request id per attempt, got %v", requestIDs)
	}
	if h := c.GetHealth(); !h.Available || h.ErrorRate != 0 {
		t.Errorf("unexpected health %+v", h)
	}
}

func TestClient_UnsignedWhenNoSecret(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := r.Header[signer.HeaderName]; ok {
			t.Error("signature header must be absent without a secret")
		}
		if _, ok := r.Header[HeaderIdempotencyKey]; ok {
			t.Error("idempotency header must be absent when no key is given")
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	c := New(Config{BaseURL: server.URL}, nil)
	resp, err := c.Call(context.Background(), "/loyalty/quote", []byte(`{}`), CallOptions{})
	if err != nil {
		t.Fatalf("Call failed: %v", err)
	}
	if resp.StatusCode != http.StatusNoContent || string(resp.Body) != `{"ok":true}` {
		t.Errorf("unexpected response %d %s", resp.StatusCode, resp.Body)
	}
}

func TestClient_NonSuccessStatusIsError(t *testing.T) {
	for _, status := range []int{http.StatusBadRequest, http.StatusConflict, http.StatusInternalServerError, http.StatusBadGateway} {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "nope", status)
		}))

		c := New(Config{BaseURL: server.URL}, nil)
		_, err := c.Call(context.Background(), "/loyalty/refund", []byte(`{}`), CallOptions{IdempotencyKey: "k"})
		server.Close()

		var se *StatusError
		if !errors.As(err, &se) {
			t.Fatalf("status %d: expected StatusError, got %v", status, err)
		}
		if se.StatusCode != status || se.Body != "nope" {
			t.Errorf("unexpected StatusError %+v", se)
		}
	}
}

func TestClient_TransportFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close()

	c := New(Config{BaseURL: url, Timeout: time.Second}, nil)
	if _, err := c.Call(context.Background(), "/loyalty/commit", []byte(`{}`), CallOptions{}); err == nil {
		t.Fatal("expected error for unreachable upstream")
	}
	h := c.GetHealth()
	if h.Available || h.ErrorRate != 1 {
		t.Errorf("expected unavailable upstream after failure, got %+v", h)
	}
}
