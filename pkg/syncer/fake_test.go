package syncer

import (
	"context"
	"fmt"
	"io"
	"log"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/harrisonrobin/calsync/pkg/kv"
	"github.com/harrisonrobin/calsync/pkg/model"
	"github.com/harrisonrobin/calsync/pkg/queue"
	"github.com/harrisonrobin/calsync/pkg/store"
)

// fakeRemote is an in-memory calendar with call recording and scripted
// failures.
type fakeRemote struct {
	mu      sync.Mutex
	calls   []string
	modes   []model.Mode
	results map[string][]model.Result
	events  []model.RemoteEvent
	nextID  int

	// When set, Create signals started and waits for release.
	started chan struct{}
	release chan struct{}
	// panicOn makes Create panic for a task with this text.
	panicOn string
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{results: make(map[string][]model.Result)}
}

// fail queues results for the next calls of op.
func (f *fakeRemote) fail(op string, results ...model.Result) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.results[op] = append(f.results[op], results...)
}

func (f *fakeRemote) record(op string, mode model.Mode) (model.Result, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, op)
	f.modes = append(f.modes, mode)
	if rs := f.results[op]; len(rs) > 0 {
		f.results[op] = rs[1:]
		return rs[0], true
	}
	return model.Result{}, false
}

func (f *fakeRemote) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeRemote) Create(ctx context.Context, task model.Task, mode model.Mode) model.Result {
	if f.panicOn != "" && task.Text == f.panicOn {
		panic("remote exploded")
	}
	if f.started != nil {
		f.started <- struct{}{}
		<-f.release
	}
	if res, ok := f.record("create", mode); ok {
		return res
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	return model.Result{Success: true, EventID: fmt.Sprintf("evt-%d", f.nextID), Status: 200}
}

func (f *fakeRemote) Update(ctx context.Context, task model.Task, eventID string, mode model.Mode) model.Result {
	if res, ok := f.record("update "+eventID, mode); ok {
		return res
	}
	return model.Result{Success: true, EventID: eventID, Status: 200}
}

func (f *fakeRemote) Delete(ctx context.Context, eventID string, mode model.Mode) model.Result {
	if res, ok := f.record("delete "+eventID, mode); ok {
		return res
	}
	return model.Result{Success: true, EventID: eventID, Status: 204}
}

func (f *fakeRemote) List(ctx context.Context, from, to time.Time, pullAll bool, mode model.Mode) []model.RemoteEvent {
	f.record("list", mode)
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.RemoteEvent
	for _, ev := range f.events {
		if pullAll || ev.Owned {
			out = append(out, ev)
		}
	}
	return out
}

type fakeSession struct {
	auth   atomic.Bool
	linked atomic.Bool
}

func (s *fakeSession) Authenticated() bool { return s.auth.Load() }
func (s *fakeSession) Linked() bool        { return s.linked.Load() }

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type notifications struct {
	mu   sync.Mutex
	list []Notification
}

func (n *notifications) Notify(x Notification) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.list = append(n.list, x)
}

func (n *notifications) All() []Notification {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]Notification(nil), n.list...)
}

type harness struct {
	engine  *Engine
	remote  *fakeRemote
	store   *store.Store
	queue   *queue.Queue
	session *fakeSession
	clock   *fakeClock
	notes   *notifications
	kv      kv.Store
}

func setupEngine(t *testing.T) *harness {
	t.Helper()
	ctx := context.Background()
	db, err := kv.OpenSQLite(":memory:")
	if err != nil {
		t.Fatalf("OpenSQLite failed: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	discard := log.New(io.Discard, "", 0)
	st, err := store.Open(ctx, db, discard)
	if err != nil {
		t.Fatalf("store.Open failed: %v", err)
	}
	q, err := queue.Open(ctx, db, discard)
	if err != nil {
		t.Fatalf("queue.Open failed: %v", err)
	}

	h := &harness{
		remote:  newFakeRemote(),
		store:   st,
		queue:   q,
		session: &fakeSession{},
		clock:   &fakeClock{t: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)},
		notes:   &notifications{},
		kv:      db,
	}
	h.session.auth.Store(true)
	h.session.linked.Store(true)

	opts := DefaultOptions()
	opts.Logger = discard
	opts.Notifier = h.notes
	opts.Now = h.clock.Now
	h.engine = New(ctx, st, q, h.remote, h.session, db, opts)
	return h
}

// addTask stores a new task and queues its creation, the way a user action does.
func (h *harness) addTask(t *testing.T, id, text string) model.Task {
	t.Helper()
	ctx := context.Background()
	task := model.Task{
		ID:        id,
		Text:      text,
		Date:      "2024-05-02",
		CreatedAt: h.clock.Now(),
		UpdatedAt: h.clock.Now(),
	}
	err := h.store.Update(ctx, func(tasks []model.Task) ([]model.Task, error) {
		return append(tasks, task), nil
	})
	if err != nil {
		t.Fatalf("store update failed: %v", err)
	}
	if err := h.engine.Enqueue(ctx, model.OpCreate, task); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	return task
}

func (h *harness) task(t *testing.T, id string) model.Task {
	t.Helper()
	task, ok := h.store.Get(id)
	if !ok {
		t.Fatalf("task %s not found", id)
	}
	return task
}

// manualTimers replaces the debounce timer so tests decide when it fires.
type manualTimers struct {
	mu      sync.Mutex
	pending []func()
	stopped int
}

type manualTimer struct {
	owner *manualTimers
	fired bool
}

func (m *manualTimer) Stop() bool {
	m.owner.mu.Lock()
	defer m.owner.mu.Unlock()
	m.owner.stopped++
	return !m.fired
}

func (m *manualTimers) install(e *Engine) {
	e.afterFunc = func(d time.Duration, f func()) stopper {
		m.mu.Lock()
		defer m.mu.Unlock()
		m.pending = append(m.pending, f)
		return &manualTimer{owner: m}
	}
}

func (m *manualTimers) scheduled() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pending)
}

func (m *manualTimers) fire(i int) {
	m.mu.Lock()
	f := m.pending[i]
	m.mu.Unlock()
	f()
}
