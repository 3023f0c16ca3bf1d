package cli

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/harrisonrobin/calsync/pkg/inbox"
	"github.com/harrisonrobin/calsync/pkg/logger"
	"github.com/harrisonrobin/calsync/pkg/model"
	"github.com/harrisonrobin/calsync/pkg/netwatch"
	"github.com/harrisonrobin/calsync/pkg/overdue"
	"github.com/harrisonrobin/calsync/pkg/syncer"
)

func newSyncCmd(a *app) *cobra.Command {
	var pullOnly, pushOnly bool
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Push queued changes, then pull calendar changes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if pullOnly && pushOnly {
				return errors.New("--pull-only and --push-only are mutually exclusive")
			}
			ctx := cmd.Context()
			if !a.engine.Permitted() {
				return fmt.Errorf("%w (run: calsync auth)", syncer.ErrNotPermitted)
			}
			if !a.online(ctx) {
				return syncer.ErrOffline
			}
			defer logger.Timer("sync")()

			switch {
			case pushOnly:
				counts, err := a.engine.Flush(ctx, model.Notify)
				s := syncer.Summary{Counts: counts}
				a.notify(syncer.Notification{Level: s.Level(), Message: s.Message(), Counts: counts})
				return err
			case pullOnly:
				n, err := a.engine.Pull(ctx, model.Notify)
				if err != nil {
					return err
				}
				a.notify(syncer.Notification{Level: syncer.LevelSuccess, Message: fmt.Sprintf("Pulled %d change(s)", n), Pulled: n})
				return nil
			}
			_, err := a.engine.SyncNow(ctx, model.Notify)
			return err
		},
	}
	cmd.Flags().BoolVar(&pullOnly, "pull-only", false, "Only merge calendar changes")
	cmd.Flags().BoolVar(&pushOnly, "push-only", false, "Only push queued changes")
	return cmd
}

func newStatusCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show sync state and queued changes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			st := a.engine.Status()
			l, err := loadLink(ctx, a.kv)
			if err != nil {
				logger.Warnf("%v", err)
			}
			calendar := a.cfg.Calendar
			if l.matches(a.cfg.Calendar) {
				calendar += " (" + l.ID + ")"
			} else {
				calendar += " (not linked)"
			}

			fmt.Fprintln(a.out, renderField("Calendar", calendar))
			fmt.Fprintln(a.out, renderField("Signed in", yesNo(a.session.Authenticated())))
			fmt.Fprintln(a.out, renderField("Sync", yesNo(st.Permitted)))
			fmt.Fprintln(a.out, renderField("Online", yesNo(a.online(ctx))))
			fmt.Fprintln(a.out, renderField("Last sync", renderTime(st.LastSync)))
			fmt.Fprintln(a.out, renderField("Tasks", fmt.Sprint(a.store.Len())))
			fmt.Fprintln(a.out, renderField("Pending", fmt.Sprint(st.Pending)))
			for _, it := range a.queue.List() {
				line := fmt.Sprintf("  %s %s", it.Kind, shortID(it.TaskID))
				if it.Task != nil {
					line += " " + it.Task.Text
				}
				if it.RetryCount > 0 {
					line += faintStyle.Render(fmt.Sprintf(" (retry %d: %s)", it.RetryCount, it.LastError))
				}
				fmt.Fprintln(a.out, line)
			}
			return nil
		},
	}
}

// watchOverdue reports each task once when it passes its date or time.
func (a *app) watchOverdue(ctx context.Context, every time.Duration) error {
	table, err := overdue.Load(ctx, a.kv)
	if err != nil {
		return err
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		for _, e := range table.Sweep(a.store.Snapshot(), a.now(), a.loc) {
			a.notify(syncer.Notification{
				Level:   syncer.LevelWarning,
				Message: fmt.Sprintf("Overdue: %s (due %s)", e.Text, e.Due.In(a.loc).Format("2006-01-02 15:04")),
			})
		}
		if err := table.Save(ctx); err != nil {
			logger.Warnf("%v", err)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func newDaemonCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "daemon",
		Short: "Sync in the background and apply intent files from the inbox",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			var online <-chan bool
			if !a.offline {
				mon := netwatch.NewMonitor(a.prober, a.cfg.Sync.ProbeInterval.D(), logger.New("netwatch"))
				online = mon.Watch(ctx)
			} else {
				a.engine.SetOnline(false)
			}
			watcher := inbox.New(a.cfg.Inbox.Dir, a.actions, logger.New("inbox"))

			logger.Infof("calsync daemon started (calendar %s, inbox %s)", a.cfg.Calendar, a.cfg.Inbox.Dir)
			errs := make(chan error, 3)
			go func() { errs <- watcher.Run(ctx) }()
			go func() { errs <- a.engine.Run(ctx, online) }()
			go func() { errs <- a.watchOverdue(ctx, time.Minute) }()

			var first error
			for i := 0; i < 3; i++ {
				if err := <-errs; err != nil && first == nil {
					first = err
					cancel()
				}
			}
			logger.Infof("calsync daemon stopped")
			return first
		},
	}
}
