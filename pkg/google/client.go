package google

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/option"

	"github.com/harrisonrobin/calsync/pkg/model"
)

// PrimaryCalendar is the id Google accepts for the account's own calendar.
const PrimaryCalendar = "primary"

// NewService creates a calendar service that sends requests through
// httpClient. Credentials are attached per call by the Adapter, so the
// client does not need to carry them.
func NewService(ctx context.Context, httpClient *http.Client, opts ...option.ClientOption) (*calendar.Service, error) {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	opts = append([]option.ClientOption{option.WithHTTPClient(httpClient)}, opts...)
	srv, err := calendar.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("unable to create Calendar service: %w", err)
	}
	return srv, nil
}

// ResolveCalendar finds the id of the calendar named name. Matching is
// case-insensitive. An empty name or "primary" needs no lookup.
func (a *Adapter) ResolveCalendar(ctx context.Context, name string, mode model.Mode) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" || strings.EqualFold(name, PrimaryCalendar) {
		return PrimaryCalendar, nil
	}

	call := a.srv.CalendarList.List()
	if res, ok := a.authorize(ctx, mode, call.Header()); !ok {
		return "", fmt.Errorf("unable to list calendars: %s", res.Message)
	}

	var matches []string
	err := call.Pages(ctx, func(page *calendar.CalendarList) error {
		for _, item := range page.Items {
			if strings.EqualFold(strings.TrimSpace(item.Summary), name) {
				matches = append(matches, item.Id)
			}
		}
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("unable to retrieve calendar list: %w", err)
	}

	switch len(matches) {
	case 0:
		return "", fmt.Errorf("calendar '%s' not found", name)
	case 1:
		return matches[0], nil
	default:
		return "", fmt.Errorf("calendar name '%s' is ambiguous", name)
	}
}
