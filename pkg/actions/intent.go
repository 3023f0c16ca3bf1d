package actions

import (
	"context"
	"errors"
	"fmt"

	"github.com/harrisonrobin/calsync/pkg/model"
)

// IntentKind names a structured action produced by the interpreter.
type IntentKind string

const (
	IntentAdd        IntentKind = "add"
	IntentUpdate     IntentKind = "update"
	IntentComplete   IntentKind = "complete"
	IntentUncomplete IntentKind = "uncomplete"
	IntentDelete     IntentKind = "delete"
	IntentClear      IntentKind = "clear"
)

// Intent is one action. Task is an id, id prefix or exact task text; it is
// required for everything but add and clear.
type Intent struct {
	Kind        IntentKind      `json:"kind"`
	Task        string          `json:"task,omitempty"`
	Text        *string         `json:"text,omitempty"`
	Date        *string         `json:"date,omitempty"`
	Time        *string         `json:"time,omitempty"`
	Priority    *model.Priority `json:"priority,omitempty"`
	Description *string         `json:"description,omitempty"`
	// CompletedOnly restricts clear to completed tasks.
	CompletedOnly bool `json:"completedOnly,omitempty"`
}

var errNoRef = errors.New("intent has no task reference")

// Report summarises an Apply call.
type Report struct {
	Applied int
	Failed  int
}

// Apply runs intents in order. A failing intent is reported and skipped;
// the returned error joins all failures.
func (s *Service) Apply(ctx context.Context, intents []Intent) (Report, error) {
	var (
		rep  Report
		errs []error
	)
	for i, in := range intents {
		if err := s.apply(ctx, in); err != nil {
			rep.Failed++
			errs = append(errs, fmt.Errorf("intent %d (%s): %w", i, in.Kind, err))
			continue
		}
		rep.Applied++
	}
	return rep, errors.Join(errs...)
}

func (s *Service) apply(ctx context.Context, in Intent) error {
	switch in.Kind {
	case IntentAdd:
		d := Draft{Text: deref(in.Text), Date: deref(in.Date), Time: deref(in.Time), Description: deref(in.Description)}
		if in.Priority != nil {
			d.Priority = *in.Priority
		}
		_, err := s.Add(ctx, d)
		return err
	case IntentClear:
		_, err := s.Clear(ctx, in.CompletedOnly)
		return err
	case IntentUpdate, IntentComplete, IntentUncomplete, IntentDelete:
	default:
		return fmt.Errorf("unknown intent kind %q", in.Kind)
	}

	if in.Task == "" {
		return errNoRef
	}
	t, err := s.Find(in.Task)
	if err != nil {
		return err
	}
	switch in.Kind {
	case IntentUpdate:
		_, err = s.Edit(ctx, t.ID, Changes{
			Text:        in.Text,
			Date:        in.Date,
			Time:        in.Time,
			Priority:    in.Priority,
			Description: in.Description,
		})
	case IntentComplete:
		_, err = s.SetCompleted(ctx, t.ID, true)
	case IntentUncomplete:
		_, err = s.SetCompleted(ctx, t.ID, false)
	case IntentDelete:
		_, err = s.Delete(ctx, t.ID)
	}
	return err
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
