package domain

import (
	"time"
)

// DefaultEventType is used when the publisher did not classify the event.
const DefaultEventType = "loyalty.transaction"

// RealtimeEvent is a ledger mutation notification persisted in the event log.
type RealtimeEvent struct {
	ID              string     `json:"id"`
	MerchantID      string     `json:"merchantId"`
	CustomerID      string     `json:"customerId"`
	TransactionID   *string    `json:"transactionId,omitempty"`
	TransactionType *string    `json:"transactionType,omitempty"`
	Amount          *float64   `json:"amount,omitempty"`
	EventType       string     `json:"eventType"`
	EmittedAt       time.Time  `json:"emittedAt"`
	DeliveredAt     *time.Time `json:"deliveredAt,omitempty"`
}

// Normalize fills defaults and moves EmittedAt into UTC.
func (e *RealtimeEvent) Normalize() {
	if e.EventType == "" {
		e.EventType = DefaultEventType
	}
	if e.EmittedAt.IsZero() {
		e.EmittedAt = time.Now()
	}
	e.EmittedAt = e.EmittedAt.UTC()
	if e.DeliveredAt != nil {
		t := e.DeliveredAt.UTC()
		e.DeliveredAt = &t
	}
}

// Valid reports whether the required routing fields are present.
func (e *RealtimeEvent) Valid() bool {
	return e.ID != "" && e.MerchantID != "" && e.CustomerID != ""
}

// EventPredicate selects events a waiter is interested in.
type EventPredicate func(*RealtimeEvent) bool

// ForCustomer matches events for one merchant/customer pair.
func ForCustomer(merchantID, customerID string) EventPredicate {
	return func(e *RealtimeEvent) bool {
		return e.MerchantID == merchantID && e.CustomerID == customerID
	}
}
