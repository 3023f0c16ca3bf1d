// Package taskwarrior reads Taskwarrior exports and converts them to tasks.
package taskwarrior

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"time"

	"github.com/harrisonrobin/calsync/pkg/model"
)

type Client struct {
	// Binary is the task executable, "task" by default.
	Binary string
}

func NewClient() *Client {
	return &Client{Binary: "task"}
}

// Export runs `task <filter> export` and parses its output.
func (c *Client) Export(ctx context.Context, filter []string) ([]Task, error) {
	args := append(append([]string{}, filter...), "export", "rc.hooks=0")
	cmd := exec.CommandContext(ctx, c.Binary, args...)

	output, err := cmd.Output()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return nil, fmt.Errorf("taskwarrior command failed: exit code %d, %s, stderr: %s",
				exitErr.ExitCode(), err, exitErr.Stderr)
		}
		return nil, fmt.Errorf("taskwarrior command failed: %w", err)
	}
	return Parse(strings.NewReader(string(output)))
}

// Parse reads either a JSON array, as written by `task export`, or a stream
// of JSON objects, one per line, as hooks receive them.
func Parse(r io.Reader) ([]Task, error) {
	br := bufio.NewReader(r)
	first, err := peekNonSpace(br)
	if err == io.EOF {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	if first == '[' {
		var tasks []Task
		if err := json.NewDecoder(br).Decode(&tasks); err != nil {
			return nil, fmt.Errorf("failed to unmarshal taskwarrior output: %w", err)
		}
		return tasks, nil
	}

	var tasks []Task
	decoder := json.NewDecoder(br)
	for {
		var task Task
		if err := decoder.Decode(&task); err != nil {
			if err == io.EOF {
				break
			}
			return nil, fmt.Errorf("failed to decode task json: %w", err)
		}
		tasks = append(tasks, task)
	}
	return tasks, nil
}

func peekNonSpace(br *bufio.Reader) (byte, error) {
	for {
		b, err := br.ReadByte()
		if err != nil {
			return 0, err
		}
		switch b {
		case ' ', '\t', '\r', '\n':
			continue
		}
		return b, br.UnreadByte()
	}
}

// ToTasks converts Taskwarrior tasks. Deleted and recurring templates are
// skipped; a task without due or scheduled date lands on now's date.
// Times at local midnight are treated as date-only.
func ToTasks(tw []Task, loc *time.Location, now time.Time) []model.Task {
	if loc == nil {
		loc = time.Local
	}
	var out []model.Task
	for _, t := range tw {
		if t.Status == DELETED || t.Status == RECURRING || strings.TrimSpace(t.Description) == "" {
			continue
		}
		task := model.Task{
			ID:          t.UUID,
			Text:        t.Description,
			Completed:   t.Status == COMPLETED,
			Priority:    priority(t.Priority),
			Description: notes(t),
			CreatedAt:   stamp(t.Entry, now),
			UpdatedAt:   stamp(t.Modified, stamp(t.Entry, now)),
		}
		if at, ok := t.when(); ok {
			at = at.In(loc)
			task.Date = at.Format(model.DateLayout)
			if at.Hour() != 0 || at.Minute() != 0 {
				task.Time = at.Format(model.ClockLayout)
			}
		} else {
			task.Date = now.In(loc).Format(model.DateLayout)
		}
		out = append(out, task)
	}
	return out
}

func priority(p string) model.Priority {
	switch p {
	case "H":
		return model.PriorityHigh
	case "M":
		return model.PriorityMedium
	case "L":
		return model.PriorityLow
	}
	return model.PriorityNone
}

func notes(t Task) string {
	var lines []string
	if t.Project != "" {
		lines = append(lines, "project: "+t.Project)
	}
	if len(t.Tags) > 0 {
		lines = append(lines, "tags: "+strings.Join(t.Tags, ", "))
	}
	for _, a := range t.Annotations {
		lines = append(lines, a.Description)
	}
	return strings.Join(lines, "\n")
}

func stamp(ts *Time, fallback time.Time) time.Time {
	if ts == nil || ts.IsZero() {
		return fallback
	}
	return ts.Time
}
