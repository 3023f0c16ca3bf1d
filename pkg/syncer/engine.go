// Package syncer reconciles the local task list with the remote calendar.
//
// Local mutations are pushed through the durable queue (Flush) and remote
// changes are merged back last-writer-wins (Pull). Neither direction runs
// unless sync is permitted: an authenticated session, a linked calendar and
// sync enabled in the configuration.
package syncer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/harrisonrobin/calsync/pkg/kv"
	"github.com/harrisonrobin/calsync/pkg/model"
	"github.com/harrisonrobin/calsync/pkg/policy"
	"github.com/harrisonrobin/calsync/pkg/queue"
	"github.com/harrisonrobin/calsync/pkg/store"
)

// LastSyncKey is the kv key holding the time of the last successful sync.
const LastSyncKey = "last_sync"

var (
	// ErrBusy is returned when a flush or sync cycle is already running.
	ErrBusy = errors.New("sync already in progress")
	// ErrNotPermitted is returned when sync is not currently allowed.
	ErrNotPermitted = errors.New("sync not permitted: not connected, not linked or disabled")
	// ErrUnauthorized is returned when the remote rejected or lacked credentials.
	ErrUnauthorized = errors.New("remote calendar rejected credentials")
	// ErrOffline is returned when the engine knows it has no connectivity.
	ErrOffline = errors.New("offline")
)

// Remote is the calendar the engine pushes to and pulls from.
type Remote interface {
	Create(ctx context.Context, task model.Task, mode model.Mode) model.Result
	Update(ctx context.Context, task model.Task, eventID string, mode model.Mode) model.Result
	Delete(ctx context.Context, eventID string, mode model.Mode) model.Result
	List(ctx context.Context, from, to time.Time, pullAll bool, mode model.Mode) []model.RemoteEvent
}

// Session reports the account state sync depends on.
type Session interface {
	Authenticated() bool
	Linked() bool
}

// Options configures an Engine.
type Options struct {
	Policy  policy.Policy
	Enabled bool
	PullAll bool

	WindowPast   time.Duration
	WindowFuture time.Duration

	AutoDebounce   time.Duration
	PendingRefresh time.Duration
	Interval       time.Duration

	Logger   *log.Logger
	Notifier Notifier
	// OnPending is called whenever the visible pending count changes.
	OnPending func(n int)
	Now       func() time.Time
}

// DefaultOptions returns the options used when nothing is configured.
func DefaultOptions() Options {
	return Options{
		Policy:         policy.Default(),
		Enabled:        true,
		WindowPast:     30 * 24 * time.Hour,
		WindowFuture:   90 * 24 * time.Hour,
		AutoDebounce:   2 * time.Second,
		PendingRefresh: 5 * time.Second,
		Interval:       5 * time.Minute,
	}
}

type stopper interface{ Stop() bool }

// Engine is the sync engine. It is safe for concurrent use.
type Engine struct {
	store   *store.Store
	queue   *queue.Queue
	remote  Remote
	session Session
	kv      kv.Store
	opts    Options
	logger  *log.Logger

	// id names this engine in the shared flush lease.
	id       string
	flushing atomic.Bool
	cycle    sync.Mutex

	afterFunc func(time.Duration, func()) stopper

	mu        sync.Mutex
	baseCtx   context.Context
	online    bool
	enabled   bool
	autoFired bool
	autoTimer stopper
	autoGen   int
	running   bool
	pushTimer stopper
	pending   int
	lastSync  time.Time
	// assigned holds remote ids created by the running flush that the
	// store has not been updated with yet.
	assigned map[string]string
	// carried accumulates drops from silent runs until a notifying run
	// reports them.
	carried Counts
}

// New creates an engine. It starts online; feed connectivity changes
// through SetOnline.
func New(ctx context.Context, st *store.Store, q *queue.Queue, remote Remote, session Session, kvs kv.Store, opts Options) *Engine {
	if opts.Logger == nil {
		opts.Logger = log.New(os.Stderr, "[sync] ", log.LstdFlags)
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Policy.MaxRetries == 0 {
		opts.Policy = policy.Default()
	}
	if opts.Notifier == nil {
		opts.Notifier = NotifierFunc(func(Notification) {})
	}
	e := &Engine{
		id:      uuid.NewString(),
		store:   st,
		queue:   q,
		remote:  remote,
		session: session,
		kv:      kvs,
		opts:    opts,
		logger:  opts.Logger,
		afterFunc: func(d time.Duration, f func()) stopper {
			return time.AfterFunc(d, f)
		},
		baseCtx:  context.Background(),
		online:   true,
		enabled:  opts.Enabled,
		assigned: make(map[string]string),
		pending:  q.Len(),
	}
	e.lastSync = e.loadLastSync(ctx)
	return e
}

// Permitted reports whether sync may run right now.
func (e *Engine) Permitted() bool {
	e.mu.Lock()
	enabled, session := e.enabled, e.session
	e.mu.Unlock()
	return enabled && session != nil && session.Authenticated() && session.Linked()
}

// Online reports the last known connectivity.
func (e *Engine) Online() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.online
}

// Enqueue records a local mutation for later push. It does nothing when
// sync is not permitted. An update of a task that was never pushed becomes
// a create carrying the newer snapshot. While Run drives the engine, a
// silent push follows after the auto-sync debounce.
func (e *Engine) Enqueue(ctx context.Context, kind model.OpKind, task model.Task) error {
	if !e.Permitted() {
		e.logger.Printf("Sync not permitted, not queueing %s of %s", kind, task.ID)
		return nil
	}

	remoteID := task.RemoteID
	if remoteID == "" {
		e.mu.Lock()
		remoteID = e.assigned[task.ID]
		e.mu.Unlock()
	}

	item := model.QueueItem{Kind: kind, TaskID: task.ID, RemoteID: remoteID}
	switch kind {
	case model.OpCreate, model.OpUpdate:
		snap := task.Clone()
		snap.RemoteID = remoteID
		item.Task = &snap
		if remoteID == "" {
			item.Kind = model.OpCreate
		} else {
			item.Kind = model.OpUpdate
		}
	case model.OpDelete:
	default:
		return fmt.Errorf("unknown operation %q", kind)
	}

	if _, err := e.queue.Enqueue(ctx, item); err != nil {
		return fmt.Errorf("failed to queue %s of %s: %w", item.Kind, task.ID, err)
	}
	e.RefreshPending()
	e.schedulePush()
	return nil
}

// RefreshPending re-reads the queue length into the visible pending count.
func (e *Engine) RefreshPending() int {
	n := e.queue.Len()
	e.mu.Lock()
	changed := n != e.pending
	e.pending = n
	e.mu.Unlock()
	if changed && e.opts.OnPending != nil {
		e.opts.OnPending(n)
	}
	return n
}

// Status is the externally visible sync state.
type Status struct {
	Pending   int
	LastSync  time.Time
	Online    bool
	Permitted bool
	Syncing   bool
	// Dropped counts operations dropped by background runs that no summary
	// has reported yet.
	Dropped int
}

// Status returns a snapshot of the sync state.
func (e *Engine) Status() Status {
	permitted := e.Permitted()
	e.mu.Lock()
	defer e.mu.Unlock()
	return Status{
		Pending:   e.pending,
		LastSync:  e.lastSync,
		Online:    e.online,
		Permitted: permitted,
		Syncing:   e.flushing.Load(),
		Dropped:   e.carried.Dropped,
	}
}

func (e *Engine) loadLastSync(ctx context.Context) time.Time {
	if e.kv == nil {
		return time.Time{}
	}
	b, err := e.kv.Get(ctx, LastSyncKey)
	if err != nil {
		if !errors.Is(err, kv.ErrNotFound) {
			e.logger.Printf("Warning: could not read last sync time: %v", err)
		}
		return time.Time{}
	}
	var t time.Time
	if err := json.Unmarshal(b, &t); err != nil {
		e.logger.Printf("Warning: stored last sync time is corrupt: %v", err)
		return time.Time{}
	}
	return t
}

func (e *Engine) saveLastSync(ctx context.Context, t time.Time) {
	e.mu.Lock()
	e.lastSync = t
	e.mu.Unlock()
	if e.kv == nil {
		return
	}
	b, _ := json.Marshal(t)
	if err := e.kv.Set(ctx, LastSyncKey, b); err != nil {
		e.logger.Printf("Warning: could not persist last sync time: %v", err)
	}
}
