// Package queue is the durable log of pending remote operations.
//
// The queue is persisted under its own key, separate from the task list, so
// pending remote work survives a crash even if the task list write was the
// one that got lost. It is the only record of outstanding remote work.
// Every change re-reads the persisted queue inside one kv transaction, so
// processes sharing the storage never drop each other's items.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/harrisonrobin/calsync/pkg/kv"
	"github.com/harrisonrobin/calsync/pkg/model"
)

const (
	// Key is the kv key the queue is persisted under.
	Key = "sync_queue"
	// CorruptKey receives an unreadable queue found at startup.
	CorruptKey = "sync_queue.corrupt"
)

// Queue holds at most one pending item per task, oldest first.
type Queue struct {
	kv     kv.Store
	logger *log.Logger
	now    func() time.Time

	mu    sync.Mutex
	items []model.QueueItem
}

// Open loads the persisted queue.
func Open(ctx context.Context, store kv.Store, logger *log.Logger) (*Queue, error) {
	if logger == nil {
		logger = log.New(os.Stderr, "[queue] ", log.LstdFlags)
	}
	q := &Queue{kv: store, logger: logger, now: time.Now}

	b, err := store.Get(ctx, Key)
	switch {
	case errors.Is(err, kv.ErrNotFound):
		return q, nil
	case err != nil:
		return nil, fmt.Errorf("failed to load sync queue: %w", err)
	}
	items, err := decode(b)
	if err != nil {
		// Keep the unreadable bytes so the pending work can be recovered by hand.
		q.logger.Printf("WARNING: stored sync queue is corrupt, saved as %s and starting empty: %v", CorruptKey, err)
		if err := store.Set(ctx, CorruptKey, quoteRaw(b)); err != nil {
			return nil, fmt.Errorf("failed to back up corrupt sync queue: %w", err)
		}
		if err := store.Set(ctx, Key, []byte("[]")); err != nil {
			return nil, fmt.Errorf("failed to reset corrupt sync queue: %w", err)
		}
		return q, nil
	}
	q.items = items
	return q, nil
}

// Reload re-reads the persisted queue, picking up items queued by other
// processes.
func (q *Queue) Reload(ctx context.Context) error {
	b, err := q.kv.Get(ctx, Key)
	if errors.Is(err, kv.ErrNotFound) {
		b = nil
	} else if err != nil {
		return fmt.Errorf("failed to load sync queue: %w", err)
	}
	items, err := decode(b)
	if err != nil {
		return fmt.Errorf("failed to load sync queue: %w", err)
	}
	q.mu.Lock()
	q.items = items
	q.mu.Unlock()
	return nil
}

// mutate runs fn on the persisted queue and stores the result. fn returns
// false when it changed nothing.
func (q *Queue) mutate(ctx context.Context, fn func(items []model.QueueItem) ([]model.QueueItem, bool)) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var (
		next    []model.QueueItem
		changed bool
	)
	err := q.kv.Update(ctx, Key, func(b []byte) ([]byte, error) {
		items, err := decode(b)
		if err != nil {
			return nil, fmt.Errorf("stored sync queue is unreadable: %w", err)
		}
		next, changed = fn(items)
		if !changed {
			next = items
			return nil, nil
		}
		if next == nil {
			next = []model.QueueItem{}
		}
		enc, err := json.Marshal(next)
		if err != nil {
			return nil, fmt.Errorf("failed to encode sync queue: %w", err)
		}
		return enc, nil
	})
	if err != nil {
		return false, fmt.Errorf("failed to persist sync queue: %w", err)
	}
	q.items = next
	return changed, nil
}

func decode(b []byte) ([]model.QueueItem, error) {
	if len(b) == 0 {
		return nil, nil
	}
	var items []model.QueueItem
	if err := json.Unmarshal(b, &items); err != nil {
		return nil, err
	}
	return items, nil
}

// Enqueue appends item, replacing any pending item for the same task. The
// replacement goes to the tail. Missing ID and Timestamp are filled in.
func (q *Queue) Enqueue(ctx context.Context, item model.QueueItem) (model.QueueItem, error) {
	if item.TaskID == "" {
		return model.QueueItem{}, fmt.Errorf("queue item has no task id")
	}
	if item.ID == "" {
		item.ID = uuid.NewString()
	}
	if item.Timestamp.IsZero() {
		item.Timestamp = q.now()
	}
	item = item.Clone()

	_, err := q.mutate(ctx, func(items []model.QueueItem) ([]model.QueueItem, bool) {
		next := make([]model.QueueItem, 0, len(items)+1)
		for _, existing := range items {
			if existing.TaskID == item.TaskID {
				q.logger.Printf("Replacing pending %s for task %s with %s", existing.Kind, item.TaskID, item.Kind)
				continue
			}
			next = append(next, existing)
		}
		return append(next, item.Clone()), true
	})
	if err != nil {
		return model.QueueItem{}, err
	}
	return item, nil
}

// Remove deletes the item with the given id. Removing an unknown id is not
// an error; the item may have been replaced meanwhile.
func (q *Queue) Remove(ctx context.Context, id string) error {
	_, err := q.mutate(ctx, func(items []model.QueueItem) ([]model.QueueItem, bool) {
		next := make([]model.QueueItem, 0, len(items))
		found := false
		for _, it := range items {
			if it.ID == id {
				found = true
				continue
			}
			next = append(next, it)
		}
		return next, found
	})
	return err
}

// Patch carries the retry metadata Update may change. Nil fields are left
// untouched.
type Patch struct {
	RetryCount  *int
	LastError   *string
	Timestamp   *time.Time
	NextAttempt *time.Time
}

// Update applies p to the item with the given id. It reports false when the
// item is no longer queued.
func (q *Queue) Update(ctx context.Context, id string, p Patch) (bool, error) {
	return q.mutate(ctx, func(items []model.QueueItem) ([]model.QueueItem, bool) {
		for i := range items {
			it := &items[i]
			if it.ID != id {
				continue
			}
			if p.RetryCount != nil {
				it.RetryCount = *p.RetryCount
			}
			if p.LastError != nil {
				it.LastError = *p.LastError
			}
			if p.Timestamp != nil {
				it.Timestamp = *p.Timestamp
			}
			if p.NextAttempt != nil {
				it.NextAttempt = *p.NextAttempt
			}
			return items, true
		}
		return items, false
	})
}

// Rebind records a freshly assigned remote id on the pending item for
// taskID, if any. A create becomes an update of the new event, and an
// update or delete that was queued before the id existed now targets it.
func (q *Queue) Rebind(ctx context.Context, taskID, remoteID string) error {
	_, err := q.mutate(ctx, func(items []model.QueueItem) ([]model.QueueItem, bool) {
		changed := false
		for i := range items {
			it := &items[i]
			if it.TaskID != taskID || it.RemoteID != "" {
				continue
			}
			it.RemoteID = remoteID
			if it.Kind == model.OpCreate {
				it.Kind = model.OpUpdate
			}
			if it.Task != nil {
				it.Task.RemoteID = remoteID
			}
			changed = true
		}
		return items, changed
	})
	return err
}

// List returns every pending item, oldest first.
func (q *Queue) List() []model.QueueItem {
	q.mu.Lock()
	defer q.mu.Unlock()
	return cloneItems(q.items)
}

// Len returns the number of pending items.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// PendingDelete reports whether a delete of the given remote event is queued.
func (q *Queue) PendingDelete(remoteID string) bool {
	if remoteID == "" {
		return false
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, it := range q.items {
		if it.Kind == model.OpDelete && it.RemoteID == remoteID {
			return true
		}
	}
	return false
}

func cloneItems(items []model.QueueItem) []model.QueueItem {
	out := make([]model.QueueItem, len(items))
	for i, it := range items {
		out[i] = it.Clone()
	}
	return out
}

// quoteRaw wraps arbitrary bytes as a JSON string so every backend accepts them.
func quoteRaw(b []byte) []byte {
	out, _ := json.Marshal(string(b))
	return out
}
