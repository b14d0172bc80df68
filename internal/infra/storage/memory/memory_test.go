package memory

import (
	"context"
	"testing"
	"time"

	"github.com/vietddude/bridge/internal/core/domain"
)

func TestEventStore_FindOldestUndelivered(t *testing.T) {
	s := NewEventStore()
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	for _, ev := range []*domain.RealtimeEvent{
		{ID: "b", MerchantID: "m-1", CustomerID: "c-1", EmittedAt: base},
		{ID: "a", MerchantID: "m-1", CustomerID: "c-1", EmittedAt: base},
		{ID: "orphan", MerchantID: "m-1", EmittedAt: base.Add(time.Minute)},
		{ID: "other", MerchantID: "m-2", CustomerID: "c-1", EmittedAt: base.Add(-time.Hour)},
	} {
		if err := s.Insert(ctx, ev); err != nil {
			t.Fatalf("Insert failed: %v", err)
		}
	}

	got, _ := s.FindOldestUndelivered(ctx, "m-1", "c-1")
	if got == nil || got.ID != "a" {
		t.Fatalf("expected id tie-break to pick a, got %+v", got)
	}

	for _, id := range []string{"a", "b"} {
		if ok, _ := s.MarkDelivered(ctx, id, base); !ok {
			t.Fatalf("MarkDelivered(%s) lost", id)
		}
	}
	got, _ = s.FindOldestUndelivered(ctx, "m-1", "c-1")
	if got == nil || got.ID != "orphan" {
		t.Fatalf("expected orphan event, got %+v", got)
	}
}

func TestEventStore_MarkDeliveredOnce(t *testing.T) {
	s := NewEventStore()
	ctx := context.Background()
	_ = s.Insert(ctx, &domain.RealtimeEvent{ID: "e-1", MerchantID: "m-1", CustomerID: "c-1"})

	if ok, _ := s.MarkDelivered(ctx, "e-1", time.Now()); !ok {
		t.Fatal("first MarkDelivered should win")
	}
	if ok, _ := s.MarkDelivered(ctx, "e-1", time.Now()); ok {
		t.Fatal("second MarkDelivered should be a no-op")
	}
	if ok, _ := s.MarkDelivered(ctx, "missing", time.Now()); ok {
		t.Fatal("unknown id should not be marked")
	}
}

func TestEventStore_InsertRejectsDuplicates(t *testing.T) {
	s := NewEventStore()
	ctx := context.Background()
	ev := &domain.RealtimeEvent{ID: "e-1", MerchantID: "m-1", CustomerID: "c-1"}
	if err := s.Insert(ctx, ev); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}
	if err := s.Insert(ctx, ev); err == nil {
		t.Fatal("expected duplicate insert to fail")
	}
}
