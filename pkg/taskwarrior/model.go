package taskwarrior

import (
	"fmt"
	"strings"
	"time"
)

const (
	PENDING   = "pending"
	COMPLETED = "completed"
	WAITING   = "waiting"
	DELETED   = "deleted"
	RECURRING = "recurring"
)

// Time is a timestamp in Taskwarrior's export format.
type Time struct {
	time.Time
}

const timeLayout = "20060102T150405Z" // YYYYMMDDTHHMMSSZ, always UTC

func (ct *Time) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "" || s == "0" {
		ct.Time = time.Time{}
		return nil
	}

	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return fmt.Errorf("failed to parse Taskwarrior time string '%s': %w", s, err)
	}
	ct.Time = t
	return nil
}

func (ct Time) MarshalJSON() ([]byte, error) {
	if ct.Time.IsZero() {
		return []byte(`""`), nil
	}
	return []byte(`"` + ct.Time.UTC().Format(timeLayout) + `"`), nil
}

type Annotation struct {
	Description string `json:"description"`
	Entry       *Time  `json:"entry"`
}

// Task is one entry of `task export`.
type Task struct {
	UUID        string       `json:"uuid"`
	Description string       `json:"description"`
	Status      string       `json:"status"`
	Priority    string       `json:"priority,omitempty"`
	Project     string       `json:"project,omitempty"`
	Tags        []string     `json:"tags,omitempty"`
	Annotations []Annotation `json:"annotations,omitempty"`
	Entry       *Time        `json:"entry,omitempty"`
	Modified    *Time        `json:"modified,omitempty"`
	Due         *Time        `json:"due,omitempty"`
	Scheduled   *Time        `json:"scheduled,omitempty"`
	End         *Time        `json:"end,omitempty"`
}

// when returns the date the task belongs on: scheduled, else due.
func (t Task) when() (time.Time, bool) {
	for _, ts := range []*Time{t.Scheduled, t.Due} {
		if ts != nil && !ts.IsZero() {
			return ts.Time, true
		}
	}
	return time.Time{}, false
}
