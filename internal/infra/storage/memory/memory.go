package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/vietddude/bridge/internal/core/domain"
)

// EventStore is an in-memory realtime event log used when no database is configured.
type EventStore struct {
	mu     sync.RWMutex
	events map[string]*domain.RealtimeEvent
}

func NewEventStore() *EventStore {
	return &EventStore{
		events: make(map[string]*domain.RealtimeEvent),
	}
}

// Insert stores a copy of ev.
func (s *EventStore) Insert(ctx context.Context, ev *domain.RealtimeEvent) error {
	if ev.ID == "" || ev.MerchantID == "" {
		return fmt.Errorf("event id and merchant id are required")
	}
	cp := *ev
	cp.Normalize()

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.events[cp.ID]; exists {
		return fmt.Errorf("event %s already exists", cp.ID)
	}
	s.events[cp.ID] = &cp
	return nil
}

// Get returns a copy of the stored event.
func (s *EventStore) Get(ctx context.Context, id string) (*domain.RealtimeEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ev, ok := s.events[id]
	if !ok {
		return nil, nil
	}
	cp := *ev
	return &cp, nil
}

func (s *EventStore) FindOldestUndelivered(
	ctx context.Context,
	merchantID, customerID string,
) (*domain.RealtimeEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var candidates []*domain.RealtimeEvent
	for _, ev := range s.events {
		if ev.DeliveredAt != nil || ev.MerchantID != merchantID {
			continue
		}
		if ev.CustomerID != customerID && ev.CustomerID != "" {
			continue
		}
		candidates = append(candidates, ev)
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	sort.Slice(candidates, func(i, j int) bool {
		if !candidates[i].EmittedAt.Equal(candidates[j].EmittedAt) {
			return candidates[i].EmittedAt.Before(candidates[j].EmittedAt)
		}
		return candidates[i].ID < candidates[j].ID
	})
	cp := *candidates[0]
	return &cp, nil
}

func (s *EventStore) MarkDelivered(ctx context.Context, id string, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ev, ok := s.events[id]
	if !ok || ev.DeliveredAt != nil {
		return false, nil
	}
	t := at.UTC()
	ev.DeliveredAt = &t
	return true, nil
}

func (s *EventStore) PatchCustomerID(ctx context.Context, id, customerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if ev, ok := s.events[id]; ok && ev.CustomerID == "" {
		ev.CustomerID = customerID
	}
	return nil
}
