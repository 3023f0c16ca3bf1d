package google

import (
	"strings"
	"testing"
	"time"

	"google.golang.org/api/calendar/v3"

	"github.com/harrisonrobin/calsync/pkg/model"
)

func mustLoad(t *testing.T, name string) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation(name)
	if err != nil {
		t.Skipf("zoneinfo for %s unavailable: %v", name, err)
	}
	return loc
}

func TestTimedTaskRoundTrip(t *testing.T) {
	loc := mustLoad(t, "Europe/Berlin")
	task := model.Task{
		ID:          "t1",
		Text:        "buy milk",
		Date:        "2024-05-01",
		Time:        "14:30",
		Priority:    model.PriorityHigh,
		Description: "buy milk",
	}

	ev, err := ToEvent(task, loc)
	if err != nil {
		t.Fatalf("ToEvent failed: %v", err)
	}
	if ev.Start.DateTime != "2024-05-01T14:30:00+02:00" {
		t.Errorf("unexpected start %q", ev.Start.DateTime)
	}
	if ev.End.DateTime != "2024-05-01T15:30:00+02:00" {
		t.Errorf("expected one hour event, end %q", ev.End.DateTime)
	}
	if ev.Start.TimeZone != "Europe/Berlin" {
		t.Errorf("unexpected time zone %q", ev.Start.TimeZone)
	}
	if ev.ColorId != "11" {
		t.Errorf("expected high priority color, got %q", ev.ColorId)
	}
	if !strings.HasSuffix(ev.Description, Marker) {
		t.Errorf("marker must be last: %q", ev.Description)
	}

	ev.Id = "evt-1"
	ev.Updated = "2024-05-01T10:00:00.000Z"
	re, err := FromEvent(ev, loc)
	if err != nil {
		t.Fatalf("FromEvent failed: %v", err)
	}
	if re.Priority != model.PriorityHigh {
		t.Errorf("priority = %q, want high", re.Priority)
	}
	if re.Description != "buy milk" {
		t.Errorf("description = %q, want %q", re.Description, "buy milk")
	}
	if re.Time != "14:30" || re.Date != "2024-05-01" {
		t.Errorf("got %s %s, want 2024-05-01 14:30", re.Date, re.Time)
	}
	if re.Completed {
		t.Error("expected not completed")
	}
	if !re.Owned || re.TaskID != "t1" {
		t.Errorf("expected owned event for t1, got owned=%v task=%q", re.Owned, re.TaskID)
	}
	if want := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC); !re.Updated.Equal(want) {
		t.Errorf("updated = %v, want %v", re.Updated, want)
	}
}

func TestAllDayMapping(t *testing.T) {
	task := model.Task{ID: "t2", Text: "pay rent", Date: "2024-02-29", Completed: true}

	ev, err := ToEvent(task, time.UTC)
	if err != nil {
		t.Fatalf("ToEvent failed: %v", err)
	}
	if ev.Start.Date != "2024-02-29" || ev.End.Date != "2024-03-01" {
		t.Errorf("expected one-day range, got %s..%s", ev.Start.Date, ev.End.Date)
	}
	if ev.Start.DateTime != "" {
		t.Errorf("all-day event must not carry a DateTime")
	}

	re, err := FromEvent(ev, time.UTC)
	if err != nil {
		t.Fatalf("FromEvent failed: %v", err)
	}
	if re.Time != "" {
		t.Errorf("expected no time of day, got %q", re.Time)
	}
	if re.Date != "2024-02-29" {
		t.Errorf("date = %q", re.Date)
	}
	if !re.Completed {
		t.Error("expected completed")
	}
}

func TestParseDescription(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want ParsedDescription
	}{
		{
			name: "foreign",
			in:   "  Team standup  ",
			want: ParsedDescription{Description: "Team standup"},
		},
		{
			name: "marker only",
			in:   "\n\n#calsync",
			want: ParsedDescription{Owned: true},
		},
		{
			name: "everything",
			in:   "Priority: low\nwater plants\nin the hall\n[x] completed\n\n#calsync",
			want: ParsedDescription{Description: "water plants\nin the hall", Priority: model.PriorityLow, Completed: true, Owned: true},
		},
		{
			name: "unknown priority stays in text",
			in:   "Priority: urgent\ncall bob\n\n#calsync",
			want: ParsedDescription{Description: "Priority: urgent\ncall bob", Owned: true},
		},
		{
			name: "priority without body",
			in:   "Priority: medium\n\n[x] completed\n\n#calsync",
			want: ParsedDescription{Priority: model.PriorityMedium, Completed: true, Owned: true},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ParseDescription(tt.in); got != tt.want {
				t.Errorf("ParseDescription(%q) = %+v, want %+v", tt.in, got, tt.want)
			}
		})
	}
}

func TestBuildDescriptionRoundTrip(t *testing.T) {
	for _, task := range []model.Task{
		{Description: ""},
		{Description: "multi\nline", Priority: model.PriorityMedium},
		{Description: "done", Completed: true},
		{Priority: model.PriorityLow, Completed: true},
	} {
		p := ParseDescription(BuildDescription(task))
		if p.Description != task.Description || p.Priority != task.Priority || p.Completed != task.Completed || !p.Owned {
			t.Errorf("round trip of %+v gave %+v", task, p)
		}
	}
}

func TestFromEventCancelledWithoutStart(t *testing.T) {
	re, err := FromEvent(&calendar.Event{Id: "x", Status: "cancelled"}, time.UTC)
	if err != nil {
		t.Fatalf("FromEvent failed: %v", err)
	}
	if re.Status != model.EventCancelled {
		t.Errorf("status = %q", re.Status)
	}
}

func TestToEventRejectsBadDate(t *testing.T) {
	if _, err := ToEvent(model.Task{ID: "t", Date: "tomorrow"}, time.UTC); err == nil {
		t.Error("expected error for invalid date")
	}
}

func TestMarkerLikeDescriptionSurvivesRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		task model.Task
	}{
		{"completion marker in open task", model.Task{ID: "t1", Text: "a", Date: "2024-05-01", Description: "copy this line: [x] completed"}},
		{"priority line without priority", model.Task{ID: "t2", Text: "b", Date: "2024-05-01", Description: "Priority: high\nfor the boss"}},
		{"both on a completed high task", model.Task{ID: "t3", Text: "c", Date: "2024-05-01", Priority: model.PriorityHigh, Completed: true, Description: "Priority: low\nends with [x] completed"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev, err := ToEvent(tt.task, time.UTC)
			if err != nil {
				t.Fatalf("ToEvent failed: %v", err)
			}
			re, err := FromEvent(ev, time.UTC)
			if err != nil {
				t.Fatalf("FromEvent failed: %v", err)
			}
			if re.Description != tt.task.Description {
				t.Errorf("description = %q, want %q", re.Description, tt.task.Description)
			}
			if re.Completed != tt.task.Completed {
				t.Errorf("completed = %v, want %v", re.Completed, tt.task.Completed)
			}
			if re.Priority != tt.task.Priority {
				t.Errorf("priority = %q, want %q", re.Priority, tt.task.Priority)
			}
		})
	}
}

func TestEventWithoutFieldPropertiesUsesTextMarkers(t *testing.T) {
	ev := &calendar.Event{
		Id:          "evt-1",
		Summary:     "old event",
		Description: "Priority: low\nnotes\n[x] completed\n\n#calsync",
		Start:       &calendar.EventDateTime{Date: "2024-05-01"},
		ExtendedProperties: &calendar.EventExtendedProperties{
			Private: map[string]string{TaskIDProperty: "t1"},
		},
	}
	re, err := FromEvent(ev, time.UTC)
	if err != nil {
		t.Fatalf("FromEvent failed: %v", err)
	}
	if re.Priority != model.PriorityLow || !re.Completed || re.Description != "notes" {
		t.Errorf("unexpected fields %+v", re)
	}
}

func TestToEventWritesFieldProperties(t *testing.T) {
	ev, err := ToEvent(model.Task{ID: "t1", Text: "a", Date: "2024-05-01"}, time.UTC)
	if err != nil {
		t.Fatalf("ToEvent failed: %v", err)
	}
	props := ev.ExtendedProperties.Private
	if props[PriorityProperty] != "none" || props[CompletedProperty] != "false" {
		t.Errorf("unexpected properties %v", props)
	}
}
