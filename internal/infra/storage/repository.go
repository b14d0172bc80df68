package storage

import (
	"context"
	"time"

	"github.com/vietddude/bridge/internal/core/domain"
)

// EventRepository reads and claims events from the durable realtime event log.
type EventRepository interface {
	// FindOldestUndelivered returns the oldest unclaimed event for the merchant
	// and customer (events without a customer are included), ordered by emission
	// time then id. It returns nil when nothing is pending.
	FindOldestUndelivered(ctx context.Context, merchantID, customerID string) (*domain.RealtimeEvent, error)

	// MarkDelivered sets delivered_at only if it is still NULL and reports
	// whether this call performed the transition.
	MarkDelivered(ctx context.Context, id string, at time.Time) (bool, error)

	// PatchCustomerID attributes an event that was stored without a customer.
	PatchCustomerID(ctx context.Context, id, customerID string) error
}
