// Package overdue tracks incomplete tasks whose scheduled time has passed,
// so each lapse is reported once.
package overdue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/harrisonrobin/calsync/pkg/kv"
	"github.com/harrisonrobin/calsync/pkg/model"
)

// Key is the kv key the table is persisted under.
const Key = "overdue_seen"

type Entry struct {
	TaskID string
	Text   string
	Due    time.Time
}

// Table remembers the due time each overdue task was last reported at.
type Table struct {
	kv      kv.Store
	Entries map[string]time.Time `json:"entries"`
	dirty   bool
}

// Load reads the table. A missing or corrupt table starts empty.
func Load(ctx context.Context, kvs kv.Store) (*Table, error) {
	t := &Table{kv: kvs, Entries: make(map[string]time.Time)}
	b, err := kvs.Get(ctx, Key)
	if errors.Is(err, kv.ErrNotFound) {
		return t, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read overdue table: %w", err)
	}
	if err := json.Unmarshal(b, t); err != nil || t.Entries == nil {
		t.Entries = make(map[string]time.Time)
	}
	return t, nil
}

func (t *Table) Save(ctx context.Context) error {
	if !t.dirty {
		return nil
	}
	b, err := json.Marshal(t)
	if err != nil {
		return err
	}
	if err := t.kv.Set(ctx, Key, b); err != nil {
		return fmt.Errorf("failed to save overdue table: %w", err)
	}
	t.dirty = false
	return nil
}

// Due returns when a task becomes overdue: its start time, or the end of
// its day when it has no time of day.
func Due(task model.Task, loc *time.Location) (time.Time, bool) {
	if loc == nil {
		loc = time.Local
	}
	if task.HasTime() {
		at, err := time.ParseInLocation(model.DateLayout+" "+model.ClockLayout, task.Date+" "+task.Time, loc)
		return at, err == nil
	}
	day, err := time.ParseInLocation(model.DateLayout, task.Date, loc)
	if err != nil {
		return time.Time{}, false
	}
	return day.AddDate(0, 0, 1), true
}

// IsOverdue reports whether task is incomplete and past due at now.
func IsOverdue(task model.Task, now time.Time, loc *time.Location) bool {
	due, ok := Due(task, loc)
	return ok && !task.Completed && due.Before(now)
}

// Sweep returns tasks that became overdue since the last sweep and records
// them. Records of tasks that were completed, deleted or rescheduled are
// dropped, so a rescheduled task is reported again when it lapses.
func (t *Table) Sweep(tasks []model.Task, now time.Time, loc *time.Location) []Entry {
	live := make(map[string]bool, len(tasks))
	var swept []Entry
	for _, task := range tasks {
		if !IsOverdue(task, now, loc) {
			continue
		}
		due, _ := Due(task, loc)
		live[task.ID] = true
		if seen, ok := t.Entries[task.ID]; ok && seen.Equal(due) {
			continue
		}
		t.Entries[task.ID] = due
		t.dirty = true
		swept = append(swept, Entry{TaskID: task.ID, Text: task.Text, Due: due})
	}
	for id := range t.Entries {
		if !live[id] {
			delete(t.Entries, id)
			t.dirty = true
		}
	}
	sort.Slice(swept, func(i, j int) bool { return swept[i].Due.Before(swept[j].Due) })
	return swept
}
