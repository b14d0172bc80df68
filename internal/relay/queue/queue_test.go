package queue

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/vietddude/bridge/internal/core/domain"
)

func newOp(i int) domain.QueuedOperation {
	return domain.QueuedOperation{
		ID:             fmt.Sprintf("op-%d", i),
		Kind:           domain.OperationCommit,
		IdempotencyKey: fmt.Sprintf("m-1:order-%d:commit", i),
		Payload:        json.RawMessage(fmt.Sprintf(`{"merchantId":"m-1","orderId":"order-%d","holdId":"h-%d"}`, i, i)),
		EnqueuedAt:     time.Date(2026, 1, 2, 3, 4, i, 0, time.UTC),
		Reason:         "connection refused",
	}
}

func TestQueue_RoundTripAcrossRestart(t *testing.T) {
	path := filepath.Join(t.TempDir(), "queue.json")

	q, err := Open(path)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}

	var want []domain.QueuedOperation
	for i := 0; i < 5; i++ {
		op := newOp(i)
		if err := q.Enqueue(op); err != nil {
			t.Fatalf("Enqueue failed: %v", err)
		}
		want = append(want, op)
	}

	reopened, err := Open(path)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}

	got := reopened.ListPending()
	if len(got) != len(want) {
		t.Fatalf("expected %d ops, got %d", len(want), len(got))
	}
	for i := range want {
		if !reflect.DeepEqual(got[i], want[i]) {
			t.Errorf("op %d mismatch:\n got  %+v\n want %+v", i, got[i], want[i])
		}
	}
}

func TestQueue_Remove(t *testing.T) {
	path := filepath.Join(t.TempDir(), "queue.json")
	q, err := Open(path)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	for i := 0; i < 3; i++ {
		if err := q.Enqueue(newOp(i)); err != nil {
			t.Fatalf("Enqueue failed: %v", err)
		}
	}

	if err := q.Remove("op-1"); err != nil {
		t.Fatalf("Remove failed: %v", err)
	}
	if err := q.Remove("op-1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound on second remove, got %v", err)
	}

	reopened, err := Open(path)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	got := reopened.ListPending()
	if len(got) != 2 || got[0].ID != "op-0" || got[1].ID != "op-2" {
		t.Errorf("unexpected queue after remove: %+v", got)
	}
}

func TestQueue_SnapshotIsolation(t *testing.T) {
	q, err := Open(filepath.Join(t.TempDir(), "queue.json"))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	_ = q.Enqueue(newOp(0))

	snap := q.ListPending()
	_ = q.Enqueue(newOp(1))
	snap[0].ID = "mutated"

	if len(snap) != 1 {
		t.Errorf("snapshot grew after enqueue: %d", len(snap))
	}
	if q.ListPending()[0].ID != "op-0" {
		t.Error("mutating a snapshot changed the queue")
	}
}

func TestQueue_CorruptFileTreatedAsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "queue.json")
	if err := os.WriteFile(path, []byte(`[{"id":"op-0","kind":"COMM`), 0o644); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	q, err := Open(path)
	if err != nil {
		t.Fatalf("Open should tolerate corruption, got %v", err)
	}
	if q.Len() != 0 {
		t.Errorf("expected empty queue, got %d", q.Len())
	}
	if _, err := os.Stat(path + ".corrupt"); err != nil {
		t.Errorf("expected corrupt file to be kept aside: %v", err)
	}

	if err := q.Enqueue(newOp(1)); err != nil {
		t.Fatalf("Enqueue after corruption failed: %v", err)
	}
}

func TestQueue_EnqueueStorageFailure(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "state")
	q, err := Open(filepath.Join(dir, "queue.json"))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if err := q.Enqueue(newOp(0)); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}

	if err := os.RemoveAll(dir); err != nil {
		t.Fatalf("RemoveAll failed: %v", err)
	}

	if err := q.Enqueue(newOp(1)); err == nil {
		t.Fatal("expected Enqueue to fail when storage is gone")
	}
	if q.Len() != 1 {
		t.Errorf("failed enqueue must not be kept in memory, len=%d", q.Len())
	}
}

func TestQueue_EnqueueOnceCollapsesByKey(t *testing.T) {
	q, err := Open(filepath.Join(t.TempDir(), "queue.json"))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}

	first := newOp(7)
	stored, queued, err := q.EnqueueOnce(first)
	if err != nil || !queued || stored.ID != "op-7" {
		t.Fatalf("first EnqueueOnce = %+v, %v, %v", stored, queued, err)
	}

	retry := newOp(7)
	retry.ID = "op-7-retry"
	stored, queued, err = q.EnqueueOnce(retry)
	if err != nil {
		t.Fatalf("second EnqueueOnce failed: %v", err)
	}
	if queued || stored.ID != "op-7" {
		t.Errorf("expected existing op-7 to be returned, got %+v (queued=%v)", stored, queued)
	}
	if q.Len() != 1 {
		t.Errorf("expected a single queued entry, got %d", q.Len())
	}
}
