package google

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"google.golang.org/api/calendar/v3"

	"github.com/harrisonrobin/calsync/pkg/model"
)

const (
	// Marker identifies events written by calsync. It is always the last
	// thing in the description.
	Marker = "#calsync"
	// TaskIDProperty is the private extended property holding the local task id.
	TaskIDProperty = "calsync_task_id"
	// PriorityProperty and CompletedProperty hold the task fields the
	// description also shows as text. When present they are authoritative,
	// so description text that looks like a marker is never misread.
	PriorityProperty  = "calsync_priority"
	CompletedProperty = "calsync_completed"

	noPriority = "none"

	priorityPrefix  = "Priority: "
	completedMarker = "[x] completed"
	timedDuration   = time.Hour
)

// Google calendar color ids per priority.
var priorityColors = map[model.Priority]string{
	model.PriorityHigh:   "11", // tomato
	model.PriorityMedium: "5",  // banana
	model.PriorityLow:    "2",  // sage
}

// BuildDescription encodes the task fields that have no native event field.
func BuildDescription(t model.Task) string {
	var b strings.Builder
	if t.Priority != model.PriorityNone {
		b.WriteString(priorityPrefix)
		b.WriteString(string(t.Priority))
		b.WriteString("\n")
	}
	b.WriteString(t.Description)
	if t.Completed {
		b.WriteString("\n")
		b.WriteString(completedMarker)
	}
	b.WriteString("\n\n")
	b.WriteString(Marker)
	return b.String()
}

// ParsedDescription is what ParseDescription recovers from an event body.
type ParsedDescription struct {
	Description string
	Priority    model.Priority
	Completed   bool
	Owned       bool
}

func stripMarker(desc string) (string, bool) {
	s := strings.ReplaceAll(desc, "\r\n", "\n")
	owned := false
	if i := strings.LastIndex(s, Marker); i >= 0 {
		owned = true
		s = s[:i] + s[i+len(Marker):]
	}
	return strings.TrimRight(s, " \n"), owned
}

// ParseDescription reverses BuildDescription by reading the text markers.
// It serves events that carry no field properties. Foreign descriptions come
// back unchanged apart from surrounding whitespace.
func ParseDescription(desc string) ParsedDescription {
	var p ParsedDescription
	s, owned := stripMarker(desc)
	p.Owned = owned

	if strings.HasSuffix(s, completedMarker) {
		p.Completed = true
		s = strings.TrimSuffix(s, completedMarker)
		s = strings.TrimSuffix(s, "\n")
	}

	if strings.HasPrefix(s, priorityPrefix) {
		line, rest, _ := strings.Cut(s, "\n")
		if prio, err := model.ParsePriority(strings.TrimPrefix(line, priorityPrefix)); err == nil {
			p.Priority = prio
			s = rest
		}
	}

	p.Description = strings.TrimSpace(s)
	return p
}

// parseKnownDescription strips exactly what BuildDescription added for a
// task with the given priority and completion, leaving the rest verbatim.
func parseKnownDescription(desc string, prio model.Priority, completed bool) ParsedDescription {
	p := ParsedDescription{Priority: prio, Completed: completed}
	s, owned := stripMarker(desc)
	p.Owned = owned

	if completed && strings.HasSuffix(s, completedMarker) {
		s = strings.TrimSuffix(s, completedMarker)
		s = strings.TrimSuffix(s, "\n")
	}
	if prio != model.PriorityNone {
		if line, rest, _ := strings.Cut(s, "\n"); line == priorityPrefix+string(prio) {
			s = rest
		}
	}

	p.Description = strings.TrimSpace(s)
	return p
}

// fieldProperties reads priority and completion from the private properties.
// ok is false when the event does not carry both.
func fieldProperties(props map[string]string) (prio model.Priority, completed bool, ok bool) {
	ps, hasPrio := props[PriorityProperty]
	cs, hasDone := props[CompletedProperty]
	if !hasPrio || !hasDone {
		return model.PriorityNone, false, false
	}
	completed, err := strconv.ParseBool(cs)
	if err != nil {
		return model.PriorityNone, false, false
	}
	if ps != noPriority {
		if prio, err = model.ParsePriority(ps); err != nil {
			return model.PriorityNone, false, false
		}
	}
	return prio, completed, true
}

// ToEvent converts a task into the event calsync writes for it. A task with
// a time of day becomes a one hour event in loc; otherwise an all-day event.
func ToEvent(t model.Task, loc *time.Location) (*calendar.Event, error) {
	if loc == nil {
		loc = time.Local
	}
	day, err := time.ParseInLocation(model.DateLayout, t.Date, loc)
	if err != nil {
		return nil, fmt.Errorf("task %s has invalid date %q: %w", t.ID, t.Date, err)
	}

	ev := &calendar.Event{
		Summary:     t.Text,
		Description: BuildDescription(t),
		ColorId:     priorityColors[t.Priority],
		ExtendedProperties: &calendar.EventExtendedProperties{
			Private: map[string]string{
				TaskIDProperty:    t.ID,
				PriorityProperty:  priorityValue(t.Priority),
				CompletedProperty: strconv.FormatBool(t.Completed),
			},
		},
	}

	if !t.HasTime() {
		ev.Start = &calendar.EventDateTime{Date: day.Format(model.DateLayout)}
		ev.End = &calendar.EventDateTime{Date: day.AddDate(0, 0, 1).Format(model.DateLayout)}
		return ev, nil
	}

	start, err := time.ParseInLocation(model.DateLayout+" "+model.ClockLayout, t.Date+" "+t.Time, loc)
	if err != nil {
		return nil, fmt.Errorf("task %s has invalid time %q: %w", t.ID, t.Time, err)
	}
	tz := zoneName(loc)
	ev.Start = &calendar.EventDateTime{DateTime: start.Format(time.RFC3339), TimeZone: tz}
	ev.End = &calendar.EventDateTime{DateTime: start.Add(timedDuration).Format(time.RFC3339), TimeZone: tz}
	return ev, nil
}

// FromEvent normalises an event into task terms, reading times in loc.
func FromEvent(ev *calendar.Event, loc *time.Location) (model.RemoteEvent, error) {
	if loc == nil {
		loc = time.Local
	}
	re := model.RemoteEvent{
		ID:     ev.Id,
		Title:  ev.Summary,
		Status: model.EventStatus(ev.Status),
	}
	if re.Status == "" {
		re.Status = model.EventActive
	}

	var props map[string]string
	if ev.ExtendedProperties != nil {
		props = ev.ExtendedProperties.Private
	}
	p := ParseDescription(ev.Description)
	if prio, completed, ok := fieldProperties(props); ok {
		p = parseKnownDescription(ev.Description, prio, completed)
	}
	re.Description = p.Description
	re.Priority = p.Priority
	re.Completed = p.Completed
	re.Owned = p.Owned

	if id := props[TaskIDProperty]; id != "" {
		re.TaskID = id
		re.Owned = true
	}

	if ev.Updated != "" {
		updated, err := time.Parse(time.RFC3339, ev.Updated)
		if err != nil {
			return re, fmt.Errorf("event %s has invalid updated time %q: %w", ev.Id, ev.Updated, err)
		}
		re.Updated = updated
	}

	// Cancelled instances may come without times.
	if ev.Start == nil {
		if re.Status == model.EventCancelled {
			return re, nil
		}
		return re, fmt.Errorf("event %s has no start", ev.Id)
	}
	switch {
	case ev.Start.DateTime != "":
		start, err := time.Parse(time.RFC3339, ev.Start.DateTime)
		if err != nil {
			return re, fmt.Errorf("event %s has invalid start %q: %w", ev.Id, ev.Start.DateTime, err)
		}
		start = start.In(loc)
		re.Date = start.Format(model.DateLayout)
		re.Time = start.Format(model.ClockLayout)
	case ev.Start.Date != "":
		if _, err := time.Parse(model.DateLayout, ev.Start.Date); err != nil {
			return re, fmt.Errorf("event %s has invalid date %q: %w", ev.Id, ev.Start.Date, err)
		}
		re.Date = ev.Start.Date
	default:
		return re, fmt.Errorf("event %s has an empty start", ev.Id)
	}
	return re, nil
}

func priorityValue(p model.Priority) string {
	if p == model.PriorityNone {
		return noPriority
	}
	return string(p)
}

// zoneName returns the IANA name Google expects, or "" for the process-local
// zone, in which case the offset inside DateTime is used.
func zoneName(loc *time.Location) string {
	name := loc.String()
	if name == "Local" {
		return ""
	}
	return name
}
