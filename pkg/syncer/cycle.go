package syncer

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/harrisonrobin/calsync/pkg/model"
)

// SyncNow runs one cycle: flush, then pull, so freshly pushed local
// changes are not overwritten by a stale listing. In notify mode the
// outcome is reported through the Notifier, including drops from earlier
// silent runs.
func (e *Engine) SyncNow(ctx context.Context, mode model.Mode) (Summary, error) {
	if !e.cycle.TryLock() {
		return Summary{}, ErrBusy
	}
	defer e.cycle.Unlock()

	if !e.Online() {
		e.report(mode, Notification{Level: LevelWarning, Message: "Offline: changes stay queued until the connection returns"})
		return Summary{}, ErrOffline
	}
	if !e.Permitted() {
		e.report(mode, Notification{Level: LevelWarning, Message: "Calendar sync is off or not connected"})
		return Summary{}, ErrNotPermitted
	}

	var s Summary
	counts, err := e.Flush(ctx, mode)
	s.Counts = counts
	if err != nil {
		if errors.Is(err, ErrUnauthorized) {
			e.report(mode, Notification{Level: LevelError, Message: "Google Calendar rejected the stored credentials; run: calsync auth", Counts: counts})
		}
		return s, err
	}

	pulled, err := e.Pull(ctx, mode)
	s.Pulled = pulled
	if err != nil {
		e.report(mode, Notification{Level: LevelError, Message: "Could not merge calendar changes: " + err.Error(), Counts: counts})
		return s, err
	}

	e.saveLastSync(ctx, e.opts.Now())

	if mode == model.Notify {
		e.mu.Lock()
		s.CarriedDrops = e.carried.Dropped
		e.carried = Counts{}
		e.mu.Unlock()
		e.opts.Notifier.Notify(Notification{Level: s.Level(), Message: s.Message(), Counts: s.Counts, Pulled: s.Pulled})
	}
	return s, nil
}

func (e *Engine) report(mode model.Mode, n Notification) {
	if mode == model.Notify {
		e.opts.Notifier.Notify(n)
	}
}

// SetOnline records a connectivity change and may schedule an auto-sync.
func (e *Engine) SetOnline(online bool) {
	e.mu.Lock()
	e.online = online
	e.mu.Unlock()
	e.Reevaluate()
}

// SetEnabled turns sync on or off.
func (e *Engine) SetEnabled(enabled bool) {
	e.mu.Lock()
	e.enabled = enabled
	e.mu.Unlock()
	e.Reevaluate()
}

// SetSession swaps the account state sync depends on.
func (e *Engine) SetSession(s Session) {
	e.mu.Lock()
	e.session = s
	e.mu.Unlock()
	e.Reevaluate()
}

// Reevaluate schedules an auto-sync when the engine has just become online
// and permitted. It fires once per such transition, after the debounce, and
// not again until the engine leaves that state and comes back. Call it
// after anything the session depends on changes.
func (e *Engine) Reevaluate() {
	ready := e.Online() && e.Permitted()

	e.mu.Lock()
	defer e.mu.Unlock()
	if !ready {
		e.autoFired = false
		if e.autoTimer != nil {
			e.autoTimer.Stop()
			e.autoTimer = nil
		}
		return
	}
	if e.autoFired {
		return
	}
	e.autoFired = true
	e.autoGen++
	gen, ctx := e.autoGen, e.baseCtx
	e.autoTimer = e.afterFunc(e.opts.AutoDebounce, func() {
		e.mu.Lock()
		if e.autoGen == gen {
			e.autoTimer = nil
		}
		e.mu.Unlock()
		e.autoSync(ctx)
	})
}

// schedulePush arms a silent flush after the auto-sync debounce. Each call
// pushes it back, so a burst of changes goes out in one flush. Nothing is
// scheduled unless Run is driving the engine.
func (e *Engine) schedulePush() {
	if !e.Online() || !e.Permitted() {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.running {
		return
	}
	if e.pushTimer != nil {
		e.pushTimer.Stop()
	}
	ctx := e.baseCtx
	e.pushTimer = e.afterFunc(e.opts.AutoDebounce, func() {
		if ctx.Err() != nil {
			return
		}
		if _, err := e.Flush(ctx, model.Silent); err != nil && !errors.Is(err, ErrBusy) {
			e.logger.Printf("Automatic push failed: %v", err)
		}
	})
}

// reload picks up tasks and queue items written by other processes.
func (e *Engine) reload(ctx context.Context) {
	if err := e.store.Reload(ctx); err != nil {
		e.logger.Printf("Warning: could not reload tasks: %v", err)
	}
	if err := e.queue.Reload(ctx); err != nil {
		e.logger.Printf("Warning: could not reload sync queue: %v", err)
	}
}

func (e *Engine) autoSync(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	e.logger.Println("Connection available, starting automatic sync")
	if _, err := e.SyncNow(ctx, model.Silent); err != nil && !errors.Is(err, ErrBusy) {
		e.logger.Printf("Automatic sync failed: %v", err)
	}
}

// Run drives the engine until ctx is cancelled: it applies connectivity
// changes from online, refreshes the pending count and syncs on the
// configured interval. online may be nil.
func (e *Engine) Run(ctx context.Context, online <-chan bool) error {
	e.mu.Lock()
	e.baseCtx = ctx
	e.running = true
	e.mu.Unlock()

	var wg sync.WaitGroup
	defer wg.Wait()

	pendingTick := time.NewTicker(positive(e.opts.PendingRefresh, 5*time.Second))
	defer pendingTick.Stop()
	syncTick := time.NewTicker(positive(e.opts.Interval, 5*time.Minute))
	defer syncTick.Stop()

	e.RefreshPending()
	e.Reevaluate()

	for {
		select {
		case <-ctx.Done():
			e.mu.Lock()
			e.running = false
			for _, t := range []stopper{e.autoTimer, e.pushTimer} {
				if t != nil {
					t.Stop()
				}
			}
			e.autoTimer, e.pushTimer = nil, nil
			e.mu.Unlock()
			return nil

		case on, ok := <-online:
			if !ok {
				online = nil
				continue
			}
			e.SetOnline(on)

		case <-pendingTick.C:
			// picks up changes, sign-ins and calendar links made by other processes
			e.mu.Lock()
			before := e.pending
			e.mu.Unlock()
			e.reload(ctx)
			if e.RefreshPending() > before {
				e.schedulePush()
			}
			e.Reevaluate()

		case <-syncTick.C:
			if !e.Online() || !e.Permitted() {
				continue
			}
			wg.Add(1)
			go func() {
				defer wg.Done()
				if _, err := e.SyncNow(ctx, model.Silent); err != nil && !errors.Is(err, ErrBusy) {
					e.logger.Printf("Periodic sync failed: %v", err)
				}
			}()
		}
	}
}

func positive(d, fallback time.Duration) time.Duration {
	if d <= 0 {
		return fallback
	}
	return d
}
