package syncer

import (
	"context"
	"fmt"
	"runtime/debug"

	"github.com/harrisonrobin/calsync/pkg/logger"
	"github.com/harrisonrobin/calsync/pkg/model"
	"github.com/harrisonrobin/calsync/pkg/policy"
	"github.com/harrisonrobin/calsync/pkg/queue"
)

// Counts summarises one flush.
type Counts struct {
	Processed int
	Retrying  int
	Dropped   int
}

func (c Counts) add(o Counts) Counts {
	return Counts{
		Processed: c.Processed + o.Processed,
		Retrying:  c.Retrying + o.Retrying,
		Dropped:   c.Dropped + o.Dropped,
	}
}

// Flush pushes every queued operation to the remote, oldest first. Only one
// flush runs at a time; a concurrent call returns ErrBusy without touching
// the remote. In silent mode items still backing off are skipped.
func (e *Engine) Flush(ctx context.Context, mode model.Mode) (Counts, error) {
	if !e.Permitted() {
		return Counts{}, ErrNotPermitted
	}
	if !e.flushing.CompareAndSwap(false, true) {
		return Counts{}, ErrBusy
	}
	defer e.flushing.Store(false)
	defer e.RefreshPending()

	if err := e.queue.Reload(ctx); err != nil {
		e.logger.Printf("Warning: could not reload sync queue: %v", err)
	}
	if held, err := e.acquireLease(ctx); !held {
		if err != nil {
			return Counts{}, fmt.Errorf("failed to claim flush: %w", err)
		}
		return Counts{}, ErrBusy
	}
	defer e.releaseLease(ctx)
	defer logger.Timer("flush")()

	var (
		c        Counts
		stopErr  error
		assigned = make(map[string]string)
	)

	for _, it := range e.queue.List() {
		if ctx.Err() != nil {
			stopErr = ctx.Err()
			break
		}
		// The previous remote call may have taken arbitrarily long.
		if !e.Online() {
			stopErr = ErrOffline
			break
		}
		if !e.Permitted() {
			stopErr = ErrNotPermitted
			break
		}
		now := e.opts.Now()
		if mode == model.Silent && it.NextAttempt.After(now) {
			logger.Debugf("Skipping %s of %s until %s", it.Kind, it.TaskID, it.NextAttempt.Format("15:04:05"))
			continue
		}

		// A process that stalled past the lease must not push alongside
		// the one that took over.
		if held, err := e.acquireLease(ctx); !held {
			if err != nil {
				e.logger.Printf("Warning: could not extend flush lease: %v", err)
			}
			stopErr = ErrBusy
			break
		}

		res, err := e.process(ctx, it, mode)
		if err != nil {
			e.logger.Printf("Error processing queue item %s (%s of %s), skipping: %v", it.ID, it.Kind, it.TaskID, err)
			continue
		}

		switch {
		case res.Success:
			if err := e.queue.Remove(ctx, it.ID); err != nil {
				e.logger.Printf("Warning: could not remove synced item %s: %v", it.ID, err)
			}
			if it.Kind == model.OpCreate && res.EventID != "" {
				assigned[it.TaskID] = res.EventID
				e.mu.Lock()
				e.assigned[it.TaskID] = res.EventID
				e.mu.Unlock()
				if err := e.queue.Rebind(ctx, it.TaskID, res.EventID); err != nil {
					e.logger.Printf("Warning: could not rebind queued work for %s: %v", it.TaskID, err)
				}
			}
			c.Processed++

		case res.Unauthorized:
			// Leave the item as it is and stop; nothing else can succeed.
			e.logger.Printf("Stopping flush, %s of %s unauthorized: %s", it.Kind, it.TaskID, res.Message)
			stopErr = ErrUnauthorized

		default:
			e.handleFailure(ctx, it, res, mode, &c)
		}
		if stopErr != nil {
			break
		}
	}

	if err := e.applyAssigned(ctx, assigned); err != nil {
		e.logger.Printf("Error recording remote ids: %v", err)
		if stopErr == nil {
			stopErr = err
		}
	}

	if mode == model.Silent && c.Dropped > 0 {
		e.mu.Lock()
		e.carried.Dropped += c.Dropped
		e.mu.Unlock()
	}
	e.logger.Printf("Flush done: %d processed, %d retrying, %d dropped", c.Processed, c.Retrying, c.Dropped)
	return c, stopErr
}

// process performs the remote call for one item. A panic is turned into an
// error so one bad item cannot abort the flush.
func (e *Engine) process(ctx context.Context, it model.QueueItem, mode model.Mode) (res model.Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v\n%s", r, debug.Stack())
		}
	}()

	switch it.Kind {
	case model.OpCreate:
		if it.Task == nil {
			return model.Result{Success: true}, nil
		}
		return e.remote.Create(ctx, *it.Task, mode), nil
	case model.OpUpdate:
		if it.Task == nil || it.RemoteID == "" {
			return model.Result{Success: true}, nil
		}
		return e.remote.Update(ctx, *it.Task, it.RemoteID, mode), nil
	case model.OpDelete:
		if it.RemoteID == "" {
			return model.Result{Success: true}, nil
		}
		return e.remote.Delete(ctx, it.RemoteID, mode), nil
	}
	return model.Result{}, fmt.Errorf("unknown operation %q", it.Kind)
}

func (e *Engine) handleFailure(ctx context.Context, it model.QueueItem, res model.Result, mode model.Mode, c *Counts) {
	cls := policy.Classification{Retryable: res.Retryable}
	if e.opts.Policy.ShouldDrop(it.RetryCount, cls) {
		if err := e.queue.Remove(ctx, it.ID); err != nil {
			e.logger.Printf("Warning: could not remove dropped item %s: %v", it.ID, err)
		}
		c.Dropped++
		reason := "permanent failure"
		if res.Retryable {
			reason = fmt.Sprintf("gave up after %d attempts", it.RetryCount+1)
		}
		e.logger.Printf("Dropped %s of %s (%s): %s", it.Kind, it.TaskID, reason, res.Message)
		if mode == model.Notify {
			e.opts.Notifier.Notify(Notification{
				Level:   LevelError,
				Message: fmt.Sprintf("Could not %s %q on the calendar (%s): %s", it.Kind, describe(it), reason, res.Message),
			})
		}
		return
	}

	now := e.opts.Now()
	retries := it.RetryCount + 1
	next := now.Add(e.opts.Policy.Backoff(it.RetryCount))
	msg := res.Message
	ok, err := e.queue.Update(ctx, it.ID, queue.Patch{
		RetryCount:  &retries,
		LastError:   &msg,
		Timestamp:   &now,
		NextAttempt: &next,
	})
	if err == nil && !ok {
		// Replaced by a newer change while the call was in flight.
		e.logger.Printf("Not retrying %s of %s, superseded by a newer change", it.Kind, it.TaskID)
		return
	}
	if err != nil {
		// Still queued with its old retry count.
		e.logger.Printf("Warning: could not record retry for %s: %v", it.ID, err)
	}
	c.Retrying++
	e.logger.Printf("Will retry %s of %s (attempt %d failed): %s", it.Kind, it.TaskID, retries, res.Message)
}

// applyAssigned writes new remote ids onto their tasks in one store update.
func (e *Engine) applyAssigned(ctx context.Context, assigned map[string]string) error {
	if len(assigned) == 0 {
		return nil
	}
	defer func() {
		e.mu.Lock()
		for id := range assigned {
			delete(e.assigned, id)
		}
		e.mu.Unlock()
	}()

	return e.store.Update(ctx, func(tasks []model.Task) ([]model.Task, error) {
		for i := range tasks {
			if id, ok := assigned[tasks[i].ID]; ok && tasks[i].RemoteID == "" {
				tasks[i].RemoteID = id
				tasks[i].Synced = true
			}
		}
		return tasks, nil
	})
}

func describe(it model.QueueItem) string {
	if it.Task != nil && it.Task.Text != "" {
		return it.Task.Text
	}
	return it.TaskID
}
