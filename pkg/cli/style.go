package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/harrisonrobin/calsync/pkg/model"
	"github.com/harrisonrobin/calsync/pkg/syncer"
)

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Underline(true)
	idStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	faintStyle  = lipgloss.NewStyle().Faint(true)
	doneStyle   = lipgloss.NewStyle().Faint(true).Strikethrough(true)
	labelStyle  = lipgloss.NewStyle().Bold(true).Width(12)

	priorityStyles = map[model.Priority]lipgloss.Style{
		model.PriorityHigh:   lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true),
		model.PriorityMedium: lipgloss.NewStyle().Foreground(lipgloss.Color("11")),
		model.PriorityLow:    lipgloss.NewStyle().Foreground(lipgloss.Color("10")),
	}

	levelStyles = map[syncer.Level]lipgloss.Style{
		syncer.LevelInfo:    lipgloss.NewStyle().Foreground(lipgloss.Color("12")),
		syncer.LevelSuccess: lipgloss.NewStyle().Foreground(lipgloss.Color("10")),
		syncer.LevelWarning: lipgloss.NewStyle().Foreground(lipgloss.Color("11")),
		syncer.LevelError:   lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true),
	}
)

const shortIDLen = 8

func shortID(id string) string {
	if len(id) > shortIDLen {
		return id[:shortIDLen]
	}
	return id
}

// renderTask formats one list line. queued marks a task with a pending
// remote operation.
func renderTask(t model.Task, queued bool) string {
	box := "[ ]"
	if t.Completed {
		box = "[x]"
	}
	when := t.Date
	if t.HasTime() {
		when += " " + t.Time
	}
	text := t.Text
	if t.Completed {
		text = doneStyle.Render(text)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s %s %s  %s", idStyle.Render(shortID(t.ID)), box, when, text)
	if t.Priority != model.PriorityNone {
		b.WriteString(" " + priorityStyles[t.Priority].Render("!"+string(t.Priority)))
	}
	switch {
	case queued:
		b.WriteString(" " + faintStyle.Render("(pending)"))
	case t.Synced:
		b.WriteString(" " + faintStyle.Render("(synced)"))
	}
	return b.String()
}

func renderNotification(n syncer.Notification) string {
	return levelStyles[n.Level].Render(n.Message)
}

func renderField(label, value string) string {
	return labelStyle.Render(label+":") + " " + value
}

func renderTime(t time.Time) string {
	if t.IsZero() {
		return "never"
	}
	return t.Local().Format("2006-01-02 15:04:05")
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
