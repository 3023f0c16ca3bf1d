package model

import "time"

// OpKind is the remote operation a queue item stands for.
type OpKind string

const (
	OpCreate OpKind = "create"
	OpUpdate OpKind = "update"
	OpDelete OpKind = "delete"
)

// QueueItem is a durable record of one pending remote operation.
// Task is required for create/update; RemoteID for update/delete.
type QueueItem struct {
	ID          string    `json:"id"`
	Kind        OpKind    `json:"kind"`
	TaskID      string    `json:"taskId"`
	Task        *Task     `json:"task,omitempty"`
	RemoteID    string    `json:"remoteId,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
	RetryCount  int       `json:"retryCount"`
	LastError   string    `json:"lastError,omitempty"`
	NextAttempt time.Time `json:"nextAttempt,omitempty"`
}

// Clone returns a copy whose task snapshot is not shared.
func (q QueueItem) Clone() QueueItem {
	c := q
	if q.Task != nil {
		t := q.Task.Clone()
		c.Task = &t
	}
	return c
}

// EventStatus is the remote lifecycle state of an event.
type EventStatus string

const (
	EventActive    EventStatus = "confirmed"
	EventTentative EventStatus = "tentative"
	EventCancelled EventStatus = "cancelled"
)

// RemoteEvent is a calendar event normalised into task terms.
type RemoteEvent struct {
	ID          string
	Title       string
	Description string
	Priority    Priority
	Completed   bool
	Date        string
	Time        string
	Status      EventStatus
	Updated     time.Time

	// Owned is true when the event carries this tool's marker.
	Owned bool
	// TaskID is the local task id recorded on the event, if any.
	TaskID string
}

// ApplyTo overwrites the mutable fields of t with the remote version.
func (e RemoteEvent) ApplyTo(t *Task) {
	t.Text = e.Title
	t.Completed = e.Completed
	t.Date = e.Date
	t.Time = e.Time
	t.Priority = e.Priority
	t.Description = e.Description
	t.UpdatedAt = e.Updated
	updated := e.Updated
	t.RemoteUpdatedAt = &updated
}

// NewTask builds a remotely-mirrored local task from the event.
func (e RemoteEvent) NewTask(id string) Task {
	t := Task{
		ID:        id,
		CreatedAt: e.Updated,
		RemoteID:  e.ID,
		Synced:    true,
	}
	e.ApplyTo(&t)
	return t
}

// Mode says whether a sync run may interrupt the user. Silent runs never
// prompt for credentials and suppress per-item error notices.
type Mode int

const (
	Notify Mode = iota
	Silent
)

func (m Mode) String() string {
	if m == Silent {
		return "silent"
	}
	return "notify"
}

// Result is the outcome of one remote operation. Expected failures are
// reported here instead of as errors.
type Result struct {
	Success   bool
	Retryable bool
	// Unauthorized means no usable token was available or the service
	// rejected the credentials. The operation should stay queued.
	Unauthorized bool
	EventID      string
	Status       int
	Message      string
}
