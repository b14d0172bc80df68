// Package queue persists relay operations that could not be delivered to the
// central ledger API so they survive restarts until a replay succeeds.
package queue

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/vietddude/bridge/internal/core/domain"
	"github.com/vietddude/bridge/internal/metrics"
)

// ErrNotFound is returned by Remove when the id is not queued.
var ErrNotFound = errors.New("queued operation not found")

// Queue is an ordered list of unacknowledged operations rewritten as a single
// JSON document on every mutation.
type Queue struct {
	path string
	mu   sync.Mutex
	ops  []domain.QueuedOperation
	log  *slog.Logger
}

// Open loads the queue file at path. A missing file is an empty queue; a file
// that cannot be decoded is moved aside and also treated as empty.
func Open(path string) (*Queue, error) {
	q := &Queue{
		path: path,
		log:  slog.Default().With("component", "queue"),
	}

	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create queue directory: %w", err)
		}
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		metrics.QueueDepth.Set(0)
		return q, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read queue file: %w", err)
	}

	if len(data) > 0 {
		if err := json.Unmarshal(data, &q.ops); err != nil {
			q.ops = nil
			backup := path + ".corrupt"
			if renameErr := os.Rename(path, backup); renameErr != nil {
				q.log.Warn("Failed to move corrupt queue file aside", "path", path, "error", renameErr)
			}
			q.log.Warn("Queue file is corrupt, starting with an empty queue",
				"path", path, "backup", backup, "error", err)
		}
	}

	metrics.QueueDepth.Set(float64(len(q.ops)))
	q.log.Info("Loaded queue", "path", path, "pending", len(q.ops))
	return q, nil
}

// Enqueue appends op and persists the queue. If persisting fails the operation
// is not kept in memory either.
func (q *Queue) Enqueue(op domain.QueuedOperation) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.appendLocked(op)
}

// ListPending returns a snapshot of the queued operations in enqueue order.
func (q *Queue) ListPending() []domain.QueuedOperation {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]domain.QueuedOperation, len(q.ops))
	copy(out, q.ops)
	return out
}

// EnqueueOnce appends op unless an operation with the same idempotency key is
// already queued, in which case the existing entry is returned unchanged.
func (q *Queue) EnqueueOnce(op domain.QueuedOperation) (domain.QueuedOperation, bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if op.IdempotencyKey != "" {
		for _, existing := range q.ops {
			if existing.IdempotencyKey == op.IdempotencyKey {
				return existing, false, nil
			}
		}
	}

	if err := q.appendLocked(op); err != nil {
		return domain.QueuedOperation{}, false, err
	}
	return op, true, nil
}

func (q *Queue) appendLocked(op domain.QueuedOperation) error {
	next := make([]domain.QueuedOperation, len(q.ops), len(q.ops)+1)
	copy(next, q.ops)
	next = append(next, op)

	if err := q.persist(next); err != nil {
		return err
	}
	q.ops = next
	metrics.QueueDepth.Set(float64(len(q.ops)))
	return nil
}

// Remove drops the operation with id and persists the queue.
func (q *Queue) Remove(id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	idx := -1
	for i, op := range q.ops {
		if op.ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		return ErrNotFound
	}

	next := make([]domain.QueuedOperation, 0, len(q.ops)-1)
	next = append(next, q.ops[:idx]...)
	next = append(next, q.ops[idx+1:]...)

	if err := q.persist(next); err != nil {
		return err
	}
	q.ops = next
	metrics.QueueDepth.Set(float64(len(q.ops)))
	return nil
}

// Len returns the number of pending operations.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.ops)
}

// Path returns the backing file path.
func (q *Queue) Path() string {
	return q.path
}

// persist writes ops to a temp file and renames it over the queue file so a
// crash leaves either the old or the new document on disk. Caller holds q.mu.
func (q *Queue) persist(ops []domain.QueuedOperation) error {
	if ops == nil {
		ops = []domain.QueuedOperation{}
	}
	data, err := json.Marshal(ops)
	if err != nil {
		return fmt.Errorf("failed to encode queue: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(q.path), filepath.Base(q.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp queue file: %w", err)
	}
	tmpName := tmp.Name()
	cleanup := func() {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
	}

	if _, err := tmp.Write(data); err != nil {
		cleanup()
		return fmt.Errorf("failed to write queue file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		cleanup()
		return fmt.Errorf("failed to sync queue file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to close queue file: %w", err)
	}
	if err := os.Rename(tmpName, q.path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to replace queue file: %w", err)
	}
	return nil
}
