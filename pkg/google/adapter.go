// Package google is the remote adapter over the Google Calendar API.
//
// Expected failures never surface as errors. Every operation returns a
// model.Result that the sync engine feeds to the retry policy.
package google

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"time"

	"golang.org/x/oauth2"
	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/googleapi"

	"github.com/harrisonrobin/calsync/pkg/model"
	"github.com/harrisonrobin/calsync/pkg/policy"
)

// PageSize bounds a single events.list page.
const PageSize = 500

// TokenSource hands out a bearer token for each remote call. In silent mode
// it must not prompt the user.
type TokenSource interface {
	Token(ctx context.Context, silent bool) (*oauth2.Token, error)
}

// Adapter performs task operations against one calendar.
type Adapter struct {
	srv        *calendar.Service
	calendarID string
	tokens     TokenSource
	loc        *time.Location
	logger     *log.Logger
}

// Options configures an Adapter.
type Options struct {
	CalendarID string
	// Location is the zone timed tasks are written in and read back in.
	Location *time.Location
	Logger   *log.Logger
}

// NewAdapter creates an Adapter over srv.
func NewAdapter(srv *calendar.Service, tokens TokenSource, opts Options) *Adapter {
	a := &Adapter{
		srv:        srv,
		calendarID: opts.CalendarID,
		tokens:     tokens,
		loc:        opts.Location,
		logger:     opts.Logger,
	}
	if a.calendarID == "" {
		a.calendarID = PrimaryCalendar
	}
	if a.loc == nil {
		a.loc = time.Local
	}
	if a.logger == nil {
		a.logger = log.New(os.Stderr, "[google] ", log.LstdFlags)
	}
	return a
}

// WithCalendar returns a copy of the adapter that targets calendarID.
func (a *Adapter) WithCalendar(calendarID string) *Adapter {
	c := *a
	c.calendarID = calendarID
	return &c
}

// CalendarID returns the calendar the adapter writes to.
func (a *Adapter) CalendarID() string {
	return a.calendarID
}

// Create inserts an event for task and reports its id.
func (a *Adapter) Create(ctx context.Context, task model.Task, mode model.Mode) model.Result {
	ev, err := ToEvent(task, a.loc)
	if err != nil {
		return model.Result{Message: err.Error()}
	}
	call := a.srv.Events.Insert(a.calendarID, ev).Context(ctx)
	if res, ok := a.authorize(ctx, mode, call.Header()); !ok {
		return res
	}
	created, err := call.Do()
	if err != nil {
		return a.failed("create", task.ID, err)
	}
	return model.Result{Success: true, EventID: created.Id, Status: created.HTTPStatusCode}
}

// Update rewrites the event eventID from task.
func (a *Adapter) Update(ctx context.Context, task model.Task, eventID string, mode model.Mode) model.Result {
	ev, err := ToEvent(task, a.loc)
	if err != nil {
		return model.Result{Message: err.Error()}
	}
	// The event may switch between all-day and timed; clear the other form.
	if task.HasTime() {
		ev.Start.NullFields = []string{"Date"}
		ev.End.NullFields = []string{"Date"}
	} else {
		ev.Start.NullFields = []string{"DateTime", "TimeZone"}
		ev.End.NullFields = []string{"DateTime", "TimeZone"}
	}
	if task.Priority == model.PriorityNone {
		// An empty ColorId is omitted from the patch; null it to drop the old colour.
		ev.NullFields = append(ev.NullFields, "ColorId")
	}
	call := a.srv.Events.Patch(a.calendarID, eventID, ev).Context(ctx)
	if res, ok := a.authorize(ctx, mode, call.Header()); !ok {
		return res
	}
	updated, err := call.Do()
	if err != nil {
		return a.failed("update", eventID, err)
	}
	return model.Result{Success: true, EventID: updated.Id, Status: updated.HTTPStatusCode}
}

// Delete removes the event. An event that is already gone counts as deleted.
func (a *Adapter) Delete(ctx context.Context, eventID string, mode model.Mode) model.Result {
	call := a.srv.Events.Delete(a.calendarID, eventID).Context(ctx)
	if res, ok := a.authorize(ctx, mode, call.Header()); !ok {
		return res
	}
	if err := call.Do(); err != nil {
		f := FailureFromError(err)
		if policy.IsGone(f) {
			a.logger.Printf("Event %s already gone (%d), treating delete as done", eventID, f.Status)
			return model.Result{Success: true, EventID: eventID, Status: f.Status}
		}
		return a.failed("delete", eventID, err)
	}
	return model.Result{Success: true, EventID: eventID, Status: http.StatusNoContent}
}

// List returns the events starting in [from, to). Unless pullAll is set,
// events calsync did not write are left out. Failures are logged and yield
// an empty list.
func (a *Adapter) List(ctx context.Context, from, to time.Time, pullAll bool, mode model.Mode) []model.RemoteEvent {
	call := a.srv.Events.List(a.calendarID).
		TimeMin(from.Format(time.RFC3339)).
		TimeMax(to.Format(time.RFC3339)).
		SingleEvents(true).
		OrderBy("startTime").
		MaxResults(PageSize)
	if res, ok := a.authorize(ctx, mode, call.Header()); !ok {
		a.logger.Printf("Skipping event listing: %s", res.Message)
		return nil
	}

	var out []model.RemoteEvent
	err := call.Pages(ctx, func(page *calendar.Events) error {
		for _, item := range page.Items {
			re, err := FromEvent(item, a.loc)
			if err != nil {
				a.logger.Printf("Skipping event %s: %v", item.Id, err)
				continue
			}
			if !pullAll && !re.Owned {
				continue
			}
			out = append(out, re)
		}
		return nil
	})
	if err != nil {
		a.logger.Printf("Unable to retrieve events from calendar %s: %v", a.calendarID, err)
		return nil
	}
	return out
}

// authorize attaches a bearer token to the call headers. When no token is
// available it returns the Result to report instead.
func (a *Adapter) authorize(ctx context.Context, mode model.Mode, h http.Header) (model.Result, bool) {
	if a.tokens == nil {
		return model.Result{Unauthorized: true, Message: "not connected to Google Calendar"}, false
	}
	tok, err := a.tokens.Token(ctx, mode == model.Silent)
	if err != nil || tok == nil || tok.AccessToken == "" {
		msg := "not connected to Google Calendar"
		if err != nil {
			msg = fmt.Sprintf("%s: %v", msg, err)
		}
		return model.Result{Unauthorized: true, Message: msg}, false
	}
	h.Set("Authorization", tok.Type()+" "+tok.AccessToken)
	return model.Result{}, true
}

func (a *Adapter) failed(op, id string, err error) model.Result {
	f := FailureFromError(err)
	c := policy.Classify(f)
	a.logger.Printf("Calendar %s of %s failed (status %d, retryable %v): %s", op, id, f.Status, c.Retryable, f.Message)
	return model.Result{
		Retryable:    c.Retryable,
		Unauthorized: c.Unauthorized,
		Status:       f.Status,
		Message:      f.Message,
	}
}

// FailureFromError extracts status and message from an API error. Anything
// that is not an API response is treated as a network failure.
func FailureFromError(err error) policy.Failure {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		f := policy.Failure{Status: gerr.Code, Message: gerr.Message}
		if f.Message == "" {
			f.Message = http.StatusText(gerr.Code)
		}
		if len(gerr.Errors) > 0 {
			f.Reason = gerr.Errors[0].Reason
		}
		return f
	}
	return policy.Failure{Network: true, Message: err.Error()}
}
