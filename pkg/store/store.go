// Package store holds the task list.
//
// Every change goes through Update, which runs a read-modify-write of the
// persisted list inside one kv transaction and only then makes the result
// visible. The list is re-read from storage for every change, so writes made
// by another process sharing the same storage are never overwritten. Reads
// are served from the copy kept in memory; Reload refreshes it. Subscribers
// are notified after the write, outside the lock, with their own copy.
package store

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/harrisonrobin/calsync/pkg/kv"
	"github.com/harrisonrobin/calsync/pkg/model"
)

// Key is the kv key the task list is persisted under.
const Key = "tasks"

// ErrTaskNotFound is returned when an id does not match any task.
var ErrTaskNotFound = errors.New("task not found")

// Listener is called with the new task list after every change.
type Listener func(tasks []model.Task)

// Store is the shared task-list container.
type Store struct {
	kv     kv.Store
	logger *log.Logger
	now    func() time.Time

	mu    sync.Mutex
	tasks []model.Task
	// raw is the encoding tasks was last read from or written as.
	raw []byte

	subMu   sync.Mutex
	subs    map[int]Listener
	nextSub int
}

// Open loads the persisted task list. A corrupt list is logged and replaced
// by an empty one rather than failing startup.
func Open(ctx context.Context, store kv.Store, logger *log.Logger) (*Store, error) {
	if logger == nil {
		logger = log.New(os.Stderr, "[store] ", log.LstdFlags)
	}
	s := &Store{
		kv:     store,
		logger: logger,
		now:    time.Now,
		subs:   make(map[int]Listener),
	}

	if err := s.Reload(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// Reload re-reads the persisted list, picking up changes written by other
// processes. Subscribers are notified when it changed.
func (s *Store) Reload(ctx context.Context) error {
	b, err := s.kv.Get(ctx, Key)
	switch {
	case errors.Is(err, kv.ErrNotFound):
		b = nil
	case err != nil:
		return fmt.Errorf("failed to load tasks: %w", err)
	}

	s.mu.Lock()
	if bytes.Equal(b, s.raw) {
		s.mu.Unlock()
		return nil
	}
	tasks := s.decode(b)
	s.tasks, s.raw = tasks, b
	snapshot := model.CloneTasks(tasks)
	s.mu.Unlock()

	s.publish(snapshot)
	return nil
}

// decode parses a persisted list. A corrupt list is logged and read as
// empty rather than failing.
func (s *Store) decode(b []byte) []model.Task {
	if len(b) == 0 {
		return nil
	}
	var tasks []model.Task
	if err := json.Unmarshal(b, &tasks); err != nil {
		s.logger.Printf("WARNING: stored task list is corrupt, starting empty: %v", err)
		return nil
	}
	return tasks
}

// Snapshot returns a copy of the current task list.
func (s *Store) Snapshot() []model.Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	return model.CloneTasks(s.tasks)
}

// Len returns the number of tasks.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tasks)
}

// Get returns the task with the given id.
func (s *Store) Get(id string) (model.Task, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.tasks {
		if t.ID == id {
			return t.Clone(), true
		}
	}
	return model.Task{}, false
}

// FindByRemoteID returns the task linked to a remote event.
func (s *Store) FindByRemoteID(remoteID string) (model.Task, bool) {
	if remoteID == "" {
		return model.Task{}, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.tasks {
		if t.RemoteID == remoteID {
			return t.Clone(), true
		}
	}
	return model.Task{}, false
}

// Update replaces the task list with fn's result. fn receives a private
// copy of the list as currently persisted; if it returns an error, or
// persisting fails, nothing changes.
func (s *Store) Update(ctx context.Context, fn func(tasks []model.Task) ([]model.Task, error)) error {
	s.mu.Lock()
	var (
		next  []model.Task
		raw   []byte
		fnErr error
	)
	err := s.kv.Update(ctx, Key, func(b []byte) ([]byte, error) {
		next, fnErr = fn(s.decode(b))
		if fnErr != nil {
			return nil, fnErr
		}
		if next == nil {
			next = []model.Task{}
		}
		enc, err := json.Marshal(next)
		if err != nil {
			return nil, fmt.Errorf("failed to encode tasks: %w", err)
		}
		raw = enc
		return enc, nil
	})
	if fnErr != nil {
		s.mu.Unlock()
		return fnErr
	}
	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("failed to persist tasks: %w", err)
	}
	s.tasks, s.raw = next, raw
	snapshot := model.CloneTasks(next)
	s.mu.Unlock()

	s.publish(snapshot)
	return nil
}

// Replace swaps in a whole new list.
func (s *Store) Replace(ctx context.Context, tasks []model.Task) error {
	return s.Update(ctx, func([]model.Task) ([]model.Task, error) {
		return model.CloneTasks(tasks), nil
	})
}

// Subscribe registers fn for change notifications and returns a func that
// unregisters it.
func (s *Store) Subscribe(fn Listener) func() {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn
	return func() {
		s.subMu.Lock()
		defer s.subMu.Unlock()
		delete(s.subs, id)
	}
}

func (s *Store) publish(tasks []model.Task) {
	s.subMu.Lock()
	ids := make([]int, 0, len(s.subs))
	for id := range s.subs {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	listeners := make([]Listener, 0, len(ids))
	for _, id := range ids {
		listeners = append(listeners, s.subs[id])
	}
	s.subMu.Unlock()

	for _, fn := range listeners {
		fn(model.CloneTasks(tasks))
	}
}

// Export writes the task list as a JSON array.
func (s *Store) Export(w io.Writer) error {
	tasks := s.Snapshot()
	if tasks == nil {
		tasks = []model.Task{}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(tasks); err != nil {
		return fmt.Errorf("failed to export tasks: %w", err)
	}
	return nil
}

// DecodeExport parses the Export format. Missing ids are generated and
// missing timestamps are set to now.
func DecodeExport(r io.Reader, now time.Time) ([]model.Task, error) {
	var tasks []model.Task
	if err := json.NewDecoder(r).Decode(&tasks); err != nil {
		return nil, fmt.Errorf("invalid task file: %w", err)
	}
	for i := range tasks {
		t := &tasks[i]
		if t.ID == "" {
			t.ID = uuid.NewString()
		}
		if t.CreatedAt.IsZero() {
			t.CreatedAt = now
		}
		if t.UpdatedAt.IsZero() {
			t.UpdatedAt = now
		}
		if t.Date == "" {
			t.Date = now.Format(model.DateLayout)
		}
		if err := t.Validate(); err != nil {
			return nil, fmt.Errorf("task %d (%s): %w", i, t.ID, err)
		}
	}
	return tasks, nil
}

// Import replaces the whole task list with the contents of r.
// A malformed file leaves the store untouched.
func (s *Store) Import(ctx context.Context, r io.Reader) (int, error) {
	tasks, err := DecodeExport(r, s.now())
	if err != nil {
		return 0, err
	}
	if err := s.Replace(ctx, tasks); err != nil {
		return 0, err
	}
	return len(tasks), nil
}
