package cli

import (
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/harrisonrobin/calsync/pkg/actions"
	"github.com/harrisonrobin/calsync/pkg/model"
	"github.com/harrisonrobin/calsync/pkg/overdue"
)

// schedule resolves --when, --date and --time. Explicit --date and --time
// override what --when yields.
func (a *app) schedule(when, date, clock string) (string, string, error) {
	if when != "" {
		d, c, err := parseWhen(when, a.now().In(a.loc))
		if err != nil {
			return "", "", err
		}
		if date == "" {
			date = d
		}
		if clock == "" {
			clock = c
		}
	}
	return date, clock, nil
}

func newAddCmd(a *app) *cobra.Command {
	var date, clock, when, priority, desc string
	cmd := &cobra.Command{
		Use:   "add <text>...",
		Short: "Add a task",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			date, clock, err := a.schedule(when, date, clock)
			if err != nil {
				return err
			}
			p, err := model.ParsePriority(priority)
			if err != nil {
				return err
			}
			if date == "" {
				date = a.now().In(a.loc).Format(model.DateLayout)
			}
			task, err := a.actions.Add(cmd.Context(), actions.Draft{
				Text:        strings.Join(args, " "),
				Date:        date,
				Time:        clock,
				Priority:    p,
				Description: desc,
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(a.out, "Added: %s\n", renderTask(task, false))
			a.push(cmd.Context())
			return nil
		},
	}
	cmd.Flags().StringVar(&date, "date", "", "Date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&clock, "time", "", "Time of day (HH:MM)")
	cmd.Flags().StringVarP(&when, "when", "w", "", `Natural date, e.g. "tomorrow at 3pm"`)
	cmd.Flags().StringVarP(&priority, "priority", "p", "", "Priority (high, medium, low)")
	cmd.Flags().StringVarP(&desc, "desc", "d", "", "Description")
	return cmd
}

func newListCmd(a *app) *cobra.Command {
	var all, late bool
	var on string
	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List tasks",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			queued := make(map[string]bool)
			for _, it := range a.queue.List() {
				queued[it.TaskID] = true
			}

			var tasks []model.Task
			for _, t := range a.store.Snapshot() {
				if !all && t.Completed {
					continue
				}
				if on != "" && t.Date != on {
					continue
				}
				if late && !overdue.IsOverdue(t, a.now(), a.loc) {
					continue
				}
				tasks = append(tasks, t)
			}
			sortTasks(tasks)

			if len(tasks) == 0 {
				fmt.Fprintln(a.out, "No tasks.")
				return nil
			}
			fmt.Fprintln(a.out, headerStyle.Render(fmt.Sprintf("%d task(s)", len(tasks))))
			for _, t := range tasks {
				fmt.Fprintln(a.out, renderTask(t, queued[t.ID]))
			}
			return nil
		},
	}
	cmd.Flags().BoolVarP(&all, "all", "a", false, "Include completed tasks")
	cmd.Flags().StringVar(&on, "date", "", "Only tasks on this date (YYYY-MM-DD)")
	cmd.Flags().BoolVar(&late, "overdue", false, "Only incomplete tasks past their date or time")
	return cmd
}

func sortTasks(tasks []model.Task) {
	sort.SliceStable(tasks, func(i, j int) bool {
		a, b := tasks[i], tasks[j]
		if a.Date != b.Date {
			return a.Date < b.Date
		}
		if a.Time != b.Time {
			// untimed tasks first
			return a.Time < b.Time
		}
		return a.CreatedAt.Before(b.CreatedAt)
	})
}

func newEditCmd(a *app) *cobra.Command {
	var text, date, clock, when, priority, desc string
	var noTime bool
	cmd := &cobra.Command{
		Use:   "edit <id>",
		Short: "Change a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			task, err := a.actions.Find(args[0])
			if err != nil {
				return err
			}
			flags := cmd.Flags()
			var c actions.Changes
			if flags.Changed("text") {
				c.Text = &text
			}
			if flags.Changed("desc") {
				c.Description = &desc
			}
			if flags.Changed("priority") {
				p, err := model.ParsePriority(priority)
				if err != nil {
					return err
				}
				c.Priority = &p
			}
			if flags.Changed("when") || flags.Changed("date") || flags.Changed("time") {
				d, t, err := a.schedule(when, date, clock)
				if err != nil {
					return err
				}
				if d != "" {
					c.Date = &d
				}
				if t != "" {
					c.Time = &t
				}
			}
			if noTime {
				empty := ""
				c.Time = &empty
			}

			updated, err := a.actions.Edit(cmd.Context(), task.ID, c)
			if err != nil {
				return err
			}
			fmt.Fprintf(a.out, "Updated: %s\n", renderTask(updated, false))
			a.push(cmd.Context())
			return nil
		},
	}
	cmd.Flags().StringVar(&text, "text", "", "New text")
	cmd.Flags().StringVar(&date, "date", "", "New date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&clock, "time", "", "New time of day (HH:MM)")
	cmd.Flags().StringVarP(&when, "when", "w", "", "New natural date")
	cmd.Flags().StringVarP(&priority, "priority", "p", "", "New priority (high, medium, low, or empty)")
	cmd.Flags().StringVarP(&desc, "desc", "d", "", "New description")
	cmd.Flags().BoolVar(&noTime, "all-day", false, "Remove the time of day")
	return cmd
}

func newDoneCmd(a *app, done bool) *cobra.Command {
	use, short, verb := "done <id>...", "Mark tasks completed", "Completed"
	if !done {
		use, short, verb = "undone <id>...", "Mark tasks not completed", "Reopened"
	}
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, ref := range args {
				task, err := a.actions.Find(ref)
				if err != nil {
					return err
				}
				if _, err := a.actions.SetCompleted(cmd.Context(), task.ID, done); err != nil {
					return err
				}
				fmt.Fprintf(a.out, "%s: %s\n", verb, task.Text)
			}
			a.push(cmd.Context())
			return nil
		},
	}
}

func newRmCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:     "rm <id>...",
		Aliases: []string{"delete"},
		Short:   "Delete tasks",
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, ref := range args {
				task, err := a.actions.Find(ref)
				if err != nil {
					return err
				}
				if _, err := a.actions.Delete(cmd.Context(), task.ID); err != nil {
					return err
				}
				fmt.Fprintf(a.out, "Deleted: %s\n", task.Text)
			}
			a.push(cmd.Context())
			return nil
		},
	}
}

func newClearCmd(a *app) *cobra.Command {
	var completed bool
	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete all tasks",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := a.actions.Clear(cmd.Context(), completed)
			if err != nil {
				return err
			}
			fmt.Fprintf(a.out, "Deleted %d task(s)\n", n)
			a.push(cmd.Context())
			return nil
		},
	}
	cmd.Flags().BoolVar(&completed, "completed", false, "Only delete completed tasks")
	return cmd
}
