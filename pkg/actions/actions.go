// Package actions applies user and interpreter intents to the task list and
// queues the matching remote operations.
package actions

import (
	"context"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/harrisonrobin/calsync/pkg/model"
	"github.com/harrisonrobin/calsync/pkg/store"
)

// Enqueuer records a mutation for the next push.
type Enqueuer interface {
	Enqueue(ctx context.Context, kind model.OpKind, task model.Task) error
}

// Service mutates the store and keeps the sync queue in step.
type Service struct {
	store  *store.Store
	sync   Enqueuer
	logger *log.Logger
	now    func() time.Time
}

// New creates a Service. sync may be nil when sync is not configured.
func New(st *store.Store, sync Enqueuer, logger *log.Logger) *Service {
	if logger == nil {
		logger = log.New(os.Stderr, "[actions] ", log.LstdFlags)
	}
	return &Service{store: st, sync: sync, logger: logger, now: time.Now}
}

// Draft holds the user-supplied fields of a new task.
type Draft struct {
	Text        string
	Date        string
	Time        string
	Priority    model.Priority
	Description string
}

// Changes lists the fields an edit touches. Nil fields are left alone.
type Changes struct {
	Text        *string
	Date        *string
	Time        *string
	Priority    *model.Priority
	Description *string
	Completed   *bool
}

func (c Changes) apply(t *model.Task) {
	if c.Text != nil {
		t.Text = strings.TrimSpace(*c.Text)
	}
	if c.Date != nil {
		t.Date = *c.Date
	}
	if c.Time != nil {
		t.Time = *c.Time
	}
	if c.Priority != nil {
		t.Priority = *c.Priority
	}
	if c.Description != nil {
		t.Description = *c.Description
	}
	if c.Completed != nil {
		t.Completed = *c.Completed
	}
}

// Add creates a task dated today unless the draft says otherwise.
func (s *Service) Add(ctx context.Context, d Draft) (model.Task, error) {
	now := s.now()
	task := model.Task{
		ID:          uuid.NewString(),
		Text:        strings.TrimSpace(d.Text),
		Date:        d.Date,
		Time:        d.Time,
		Priority:    d.Priority,
		Description: d.Description,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if task.Date == "" {
		task.Date = now.Format(model.DateLayout)
	}
	if err := normalize(&task); err != nil {
		return model.Task{}, err
	}

	err := s.store.Update(ctx, func(tasks []model.Task) ([]model.Task, error) {
		return append(tasks, task), nil
	})
	if err != nil {
		return model.Task{}, err
	}
	s.enqueue(ctx, model.OpCreate, task)
	return task, nil
}

// Edit applies changes to the task with the given id.
func (s *Service) Edit(ctx context.Context, id string, c Changes) (model.Task, error) {
	return s.modify(ctx, id, func(t *model.Task) { c.apply(t) })
}

// Toggle flips the completion flag.
func (s *Service) Toggle(ctx context.Context, id string) (model.Task, error) {
	return s.modify(ctx, id, func(t *model.Task) { t.Completed = !t.Completed })
}

// SetCompleted sets the completion flag.
func (s *Service) SetCompleted(ctx context.Context, id string, done bool) (model.Task, error) {
	return s.modify(ctx, id, func(t *model.Task) { t.Completed = done })
}

func (s *Service) modify(ctx context.Context, id string, fn func(*model.Task)) (model.Task, error) {
	var updated model.Task
	err := s.store.Update(ctx, func(tasks []model.Task) ([]model.Task, error) {
		i := indexOf(tasks, id)
		if i < 0 {
			return nil, fmt.Errorf("%w: %s", store.ErrTaskNotFound, id)
		}
		t := tasks[i]
		fn(&t)
		if err := normalize(&t); err != nil {
			return nil, err
		}
		t.UpdatedAt = s.now()
		tasks[i] = t
		updated = t
		return tasks, nil
	})
	if err != nil {
		return model.Task{}, err
	}
	s.enqueue(ctx, model.OpUpdate, updated)
	return updated, nil
}

// Delete removes a task.
func (s *Service) Delete(ctx context.Context, id string) (model.Task, error) {
	var removed model.Task
	err := s.store.Update(ctx, func(tasks []model.Task) ([]model.Task, error) {
		i := indexOf(tasks, id)
		if i < 0 {
			return nil, fmt.Errorf("%w: %s", store.ErrTaskNotFound, id)
		}
		removed = tasks[i]
		return append(tasks[:i], tasks[i+1:]...), nil
	})
	if err != nil {
		return model.Task{}, err
	}
	s.enqueue(ctx, model.OpDelete, removed)
	return removed, nil
}

// Clear removes every task, or only completed ones, and returns how many
// were removed.
func (s *Service) Clear(ctx context.Context, completedOnly bool) (int, error) {
	var removed []model.Task
	err := s.store.Update(ctx, func(tasks []model.Task) ([]model.Task, error) {
		kept := tasks[:0]
		for _, t := range tasks {
			if completedOnly && !t.Completed {
				kept = append(kept, t)
				continue
			}
			removed = append(removed, t)
		}
		return kept, nil
	})
	if err != nil {
		return 0, err
	}
	for _, t := range removed {
		s.enqueue(ctx, model.OpDelete, t)
	}
	return len(removed), nil
}

// Import replaces the task list. Imported tasks are not pushed; their
// remote links, if any, are kept as they are.
func (s *Service) Import(ctx context.Context, tasks []model.Task) error {
	return s.store.Replace(ctx, tasks)
}

// Find resolves a reference to a task: an exact id, a unique id prefix or a
// case-insensitive exact text match.
func (s *Service) Find(ref string) (model.Task, error) {
	if t, ok := s.store.Get(ref); ok {
		return t, nil
	}
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return model.Task{}, store.ErrTaskNotFound
	}
	var matches []model.Task
	for _, t := range s.store.Snapshot() {
		if strings.HasPrefix(t.ID, ref) || strings.EqualFold(t.Text, ref) {
			matches = append(matches, t)
		}
	}
	switch len(matches) {
	case 0:
		return model.Task{}, fmt.Errorf("%w: %s", store.ErrTaskNotFound, ref)
	case 1:
		return matches[0], nil
	}
	return model.Task{}, fmt.Errorf("%q matches %d tasks", ref, len(matches))
}

// enqueue never fails the local mutation; the change is already saved.
func (s *Service) enqueue(ctx context.Context, kind model.OpKind, t model.Task) {
	if s.sync == nil {
		return
	}
	if err := s.sync.Enqueue(ctx, kind, t); err != nil {
		s.logger.Printf("WARNING: %v", err)
	}
}

func indexOf(tasks []model.Task, id string) int {
	for i, t := range tasks {
		if t.ID == id {
			return i
		}
	}
	return -1
}

// normalize canonicalises the priority and validates the task.
func normalize(t *model.Task) error {
	p, err := model.ParsePriority(string(t.Priority))
	if err != nil {
		return err
	}
	t.Priority = p
	return t.Validate()
}
