package model

import (
	"fmt"
	"strings"
	"time"
)

const (
	// DateLayout is the calendar-date format used for Task.Date.
	DateLayout = "2006-01-02"
	// ClockLayout is the time-of-day format used for Task.Time.
	ClockLayout = "15:04"
)

// Priority is the optional importance of a task.
type Priority string

const (
	PriorityNone   Priority = ""
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
	PriorityLow    Priority = "low"
)

// ParsePriority accepts the level names plus the usual short forms (h, m, l).
func ParsePriority(s string) (Priority, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "":
		return PriorityNone, nil
	case "high", "h":
		return PriorityHigh, nil
	case "medium", "med", "m":
		return PriorityMedium, nil
	case "low", "l":
		return PriorityLow, nil
	}
	return PriorityNone, fmt.Errorf("unknown priority %q", s)
}

// Task is a user-visible unit of work.
type Task struct {
	ID          string    `json:"id"`
	Text        string    `json:"text"`
	Completed   bool      `json:"completed"`
	Date        string    `json:"date"`
	Time        string    `json:"time,omitempty"`
	Priority    Priority  `json:"priority,omitempty"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`

	// Remote linkage. RemoteID is only ever set after the task was pushed
	// to, or pulled from, the remote calendar.
	RemoteID        string     `json:"remoteId,omitempty"`
	RemoteUpdatedAt *time.Time `json:"remoteUpdatedAt,omitempty"`
	Synced          bool       `json:"synced,omitempty"`
}

// HasTime reports whether the task is scheduled at a time of day.
func (t Task) HasTime() bool {
	return t.Time != ""
}

// Clone returns a copy that shares no pointers with t.
func (t Task) Clone() Task {
	c := t
	if t.RemoteUpdatedAt != nil {
		ts := *t.RemoteUpdatedAt
		c.RemoteUpdatedAt = &ts
	}
	return c
}

// Validate checks the date and time-of-day formats.
func (t Task) Validate() error {
	if strings.TrimSpace(t.Text) == "" {
		return fmt.Errorf("task text is empty")
	}
	if _, err := time.Parse(DateLayout, t.Date); err != nil {
		return fmt.Errorf("invalid date %q: want YYYY-MM-DD", t.Date)
	}
	if t.Time != "" {
		if _, err := time.Parse(ClockLayout, t.Time); err != nil {
			return fmt.Errorf("invalid time %q: want HH:MM", t.Time)
		}
	}
	if _, err := ParsePriority(string(t.Priority)); err != nil {
		return err
	}
	return nil
}

// CloneTasks deep-copies a task slice.
func CloneTasks(tasks []Task) []Task {
	if tasks == nil {
		return nil
	}
	out := make([]Task, len(tasks))
	for i, t := range tasks {
		out[i] = t.Clone()
	}
	return out
}
