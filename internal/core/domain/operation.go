package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// OperationKind identifies which ledger endpoint a queued operation replays against.
type OperationKind string

const (
	OperationCommit OperationKind = "COMMIT"
	OperationRefund OperationKind = "REFUND"
)

// Central ledger API paths.
const (
	EndpointQuote  = "/loyalty/quote"
	EndpointCommit = "/loyalty/commit"
	EndpointRefund = "/loyalty/refund"
)

// Endpoint returns the central API path for the kind.
func (k OperationKind) Endpoint() (string, error) {
	switch k {
	case OperationCommit:
		return EndpointCommit, nil
	case OperationRefund:
		return EndpointRefund, nil
	default:
		return "", fmt.Errorf("unknown operation kind: %q", k)
	}
}

// QueuedOperation is a commit or refund waiting for the central API to acknowledge it.
// It is never mutated once queued.
type QueuedOperation struct {
	ID             string          `json:"id"`
	Kind           OperationKind   `json:"kind"`
	IdempotencyKey string          `json:"idempotencyKey"`
	Payload        json.RawMessage `json:"payload"`
	EnqueuedAt     time.Time       `json:"enqueuedAt"`
	Reason         string          `json:"reason,omitempty"`
}
