// Package orgmode reads TODO/DONE headlines from Org files as tasks.
package orgmode

import (
	"bufio"
	"io"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/harrisonrobin/calsync/pkg/model"
)

var (
	headlineRegex = regexp.MustCompile(`^\*+\s+(TODO|DONE)\s+(?:\[#([A-Z])\]\s*)?(.*?)(?:\s+(:[\w@:]+:))?\s*$`)
	stampRegex    = regexp.MustCompile(`(DEADLINE|SCHEDULED):\s+<(\d{4}-\d{2}-\d{2})(?:\s+[A-Za-z]{2,3}\.?)?(?:\s+(\d{1,2}:\d{2}))?[^>]*>`)
	idRegex       = regexp.MustCompile(`^:ID:\s+(\S+)`)
	headingRegex  = regexp.MustCompile(`^\*+\s`)
)

// ParseFiles parses several Org files into one task list.
func ParseFiles(paths []string, now time.Time) ([]model.Task, error) {
	var all []model.Task
	for _, path := range paths {
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		tasks, err := Parse(f, now)
		f.Close()
		if err != nil {
			return nil, err
		}
		all = append(all, tasks...)
	}
	return all, nil
}

// Parse returns one task per TODO or DONE headline. SCHEDULED takes
// precedence over DEADLINE; an undated task lands on now's date. The :ID:
// property, when present, becomes the task id. Body text becomes the
// description.
func Parse(r io.Reader, now time.Time) ([]model.Task, error) {
	scanner := bufio.NewScanner(r)
	var (
		tasks   []model.Task
		current *entry
	)
	flush := func() {
		if current != nil {
			tasks = append(tasks, current.task(now))
			current = nil
		}
	}

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())

		if m := headlineRegex.FindStringSubmatch(line); m != nil {
			flush()
			current = &entry{done: m[1] == "DONE", priority: m[2], title: strings.TrimSpace(m[3])}
			if m[4] != "" {
				current.tags = strings.Split(strings.Trim(m[4], ":"), ":")
			}
			continue
		}
		if headingRegex.MatchString(line) {
			flush()
			continue
		}
		if current == nil {
			continue
		}

		if ms := stampRegex.FindAllStringSubmatch(line, -1); ms != nil {
			for _, m := range ms {
				current.stamp(m[1], m[2], m[3])
			}
			continue
		}
		if m := idRegex.FindStringSubmatch(line); m != nil {
			current.id = m[1]
			continue
		}
		if strings.HasPrefix(line, ":") {
			// drawer
			continue
		}
		if line != "" {
			current.body = append(current.body, line)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	flush()
	return tasks, nil
}

type entry struct {
	id       string
	done     bool
	priority string
	title    string
	tags     []string
	body     []string

	date, clock         string
	scheduled, deadline bool
}

func (e *entry) stamp(kind, date, clock string) {
	if kind == "SCHEDULED" {
		e.date, e.clock, e.scheduled = date, clock, true
		return
	}
	if !e.scheduled {
		e.date, e.clock, e.deadline = date, clock, true
	}
}

func (e *entry) task(now time.Time) model.Task {
	t := model.Task{
		ID:        e.id,
		Text:      e.title,
		Completed: e.done,
		Date:      e.date,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.Date == "" {
		t.Date = now.Format(model.DateLayout)
	}
	if e.clock != "" {
		if c, err := time.Parse("15:04", e.clock); err == nil {
			t.Time = c.Format(model.ClockLayout)
		}
	}
	switch e.priority {
	case "A":
		t.Priority = model.PriorityHigh
	case "B":
		t.Priority = model.PriorityMedium
	case "C":
		t.Priority = model.PriorityLow
	}
	desc := e.body
	if len(e.tags) > 0 {
		desc = append([]string{"tags: " + strings.Join(e.tags, ", ")}, desc...)
	}
	t.Description = strings.Join(desc, "\n")
	return t
}
