package syncer

import (
	"fmt"
	"strings"
)

// Level is the severity of a notification.
type Level int

const (
	LevelInfo Level = iota
	LevelSuccess
	LevelWarning
	LevelError
)

func (l Level) String() string {
	switch l {
	case LevelSuccess:
		return "success"
	case LevelWarning:
		return "warning"
	case LevelError:
		return "error"
	default:
		return "info"
	}
}

// Notification is a user-facing message about sync.
type Notification struct {
	Level   Level
	Message string
	Counts  Counts
	Pulled  int
}

// Notifier receives notifications.
type Notifier interface {
	Notify(n Notification)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(n Notification)

func (f NotifierFunc) Notify(n Notification) { f(n) }

// Summary is the outcome of one sync cycle.
type Summary struct {
	Counts
	Pulled int
	// CarriedDrops are drops from earlier silent runs reported with this one.
	CarriedDrops int
}

// Message renders the summary for the user.
func (s Summary) Message() string {
	parts := []string{
		fmt.Sprintf("%d pushed", s.Processed),
		fmt.Sprintf("%d pulled", s.Pulled),
	}
	if s.Retrying > 0 {
		parts = append(parts, fmt.Sprintf("%d retrying", s.Retrying))
	}
	if dropped := s.Dropped + s.CarriedDrops; dropped > 0 {
		parts = append(parts, fmt.Sprintf("%d dropped", dropped))
	}
	return "Synced: " + strings.Join(parts, ", ")
}

// Level picks the severity matching the summary.
func (s Summary) Level() Level {
	switch {
	case s.Dropped+s.CarriedDrops > 0:
		return LevelError
	case s.Retrying > 0:
		return LevelWarning
	default:
		return LevelSuccess
	}
}
