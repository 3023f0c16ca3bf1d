package syncer

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/harrisonrobin/calsync/pkg/logger"
	"github.com/harrisonrobin/calsync/pkg/model"
)

const untitled = "(no title)"

var errUnchanged = errors.New("unchanged")

// Pull merges remote events from the configured window into the task list
// and returns how many tasks changed. The remote version wins only when it
// is strictly newer. Local tasks are never deleted by a pull.
func (e *Engine) Pull(ctx context.Context, mode model.Mode) (int, error) {
	if !e.Permitted() {
		return 0, ErrNotPermitted
	}
	defer logger.Timer("pull")()

	now := e.opts.Now()
	events := e.remote.List(ctx, now.Add(-e.opts.WindowPast), now.Add(e.opts.WindowFuture), e.opts.PullAll, mode)
	if len(events) == 0 {
		return 0, nil
	}

	if err := e.queue.Reload(ctx); err != nil {
		e.logger.Printf("Warning: could not reload sync queue: %v", err)
	}
	// Events whose deletion is still queued must not come back.
	deletedRemote := make(map[string]bool)
	deletedTask := make(map[string]bool)
	for _, it := range e.queue.List() {
		if it.Kind != model.OpDelete {
			continue
		}
		deletedTask[it.TaskID] = true
		if it.RemoteID != "" {
			deletedRemote[it.RemoteID] = true
		}
	}

	changed := 0
	// Queued work for tasks found on the remote by task id.
	rebind := make(map[string]string)
	err := e.store.Update(ctx, func(tasks []model.Task) ([]model.Task, error) {
		byRemote := make(map[string]int, len(tasks))
		byID := make(map[string]int, len(tasks))
		for i, t := range tasks {
			if t.RemoteID != "" {
				byRemote[t.RemoteID] = i
			}
			byID[t.ID] = i
		}

		dirty := false
		for _, ev := range events {
			if ev.Status == model.EventCancelled {
				continue
			}
			if deletedRemote[ev.ID] || (ev.TaskID != "" && deletedTask[ev.TaskID]) {
				logger.Debugf("Skipping event %s, its delete is queued", ev.ID)
				if !deletedRemote[ev.ID] {
					rebind[ev.TaskID] = ev.ID
				}
				continue
			}

			idx, found := byRemote[ev.ID]
			relinked := false
			if !found && ev.TaskID != "" {
				if j, ok := byID[ev.TaskID]; ok {
					if tasks[j].RemoteID != "" {
						// A second event for a task that is already linked.
						e.logger.Printf("Ignoring event %s: task %s is linked to %s", ev.ID, ev.TaskID, tasks[j].RemoteID)
						continue
					}
					e.logger.Printf("Relinking task %s to event %s", ev.TaskID, ev.ID)
					tasks[j].RemoteID = ev.ID
					tasks[j].Synced = true
					byRemote[ev.ID] = j
					rebind[ev.TaskID] = ev.ID
					idx, found, relinked = j, true, true
					dirty = true
				}
			}

			if found {
				t := &tasks[idx]
				if relinked {
					changed++
				}
				if !ev.Updated.After(t.UpdatedAt) {
					continue
				}
				if sameContent(*t, ev) {
					updated := ev.Updated
					t.UpdatedAt = updated
					t.RemoteUpdatedAt = &updated
					dirty = true
					continue
				}
				ev.ApplyTo(t)
				if t.Text == "" {
					t.Text = untitled
				}
				if !relinked {
					changed++
				}
				dirty = true
				continue
			}

			if ev.Date == "" {
				continue
			}
			t := ev.NewTask(uuid.NewString())
			if t.Text == "" {
				t.Text = untitled
			}
			tasks = append(tasks, t)
			byRemote[ev.ID] = len(tasks) - 1
			changed++
			dirty = true
		}

		if !dirty {
			return nil, errUnchanged
		}
		return tasks, nil
	})
	if errors.Is(err, errUnchanged) {
		err = nil
		changed = 0
	}
	if err != nil {
		return 0, err
	}
	for taskID, eventID := range rebind {
		if err := e.queue.Rebind(ctx, taskID, eventID); err != nil {
			e.logger.Printf("Warning: could not rebind queued work for %s: %v", taskID, err)
		}
	}
	e.RefreshPending()
	e.logger.Printf("Pull done: %d tasks changed from %d events", changed, len(events))
	return changed, nil
}

func sameContent(t model.Task, ev model.RemoteEvent) bool {
	return t.Text == ev.Title &&
		t.Completed == ev.Completed &&
		t.Date == ev.Date &&
		t.Time == ev.Time &&
		t.Priority == ev.Priority &&
		t.Description == ev.Description
}
