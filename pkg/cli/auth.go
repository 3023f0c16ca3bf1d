package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/harrisonrobin/calsync/pkg/model"
)

func newAuthCmd(a *app) *cobra.Command {
	var logout bool
	cmd := &cobra.Command{
		Use:   "auth",
		Short: "Connect to Google Calendar and link the configured calendar",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if logout {
				if err := a.tokens.Logout(); err != nil {
					return err
				}
				if err := saveLink(ctx, a.kv, link{}); err != nil {
					return err
				}
				fmt.Fprintln(a.out, "Signed out. Queued changes are kept until you sign in again.")
				return nil
			}

			if err := a.tokens.Login(ctx); err != nil {
				return fmt.Errorf("authentication failed: %w", err)
			}
			fmt.Fprintln(a.out, "Authentication successful!")
			return a.link(ctx)
		},
	}
	cmd.Flags().BoolVar(&logout, "logout", false, "Remove the stored token")
	return cmd
}

// link verifies the configured calendar exists and records its id.
func (a *app) link(ctx context.Context) error {
	id, err := a.remote.ResolveCalendar(ctx, a.cfg.Calendar, model.Notify)
	if err != nil {
		return err
	}
	if err := saveLink(ctx, a.kv, link{Name: a.cfg.Calendar, ID: id, LinkedAt: a.now()}); err != nil {
		return err
	}
	a.remote = a.remote.WithCalendar(id)
	fmt.Fprintf(a.out, "Linked calendar %q (%s)\n", a.cfg.Calendar, id)
	return nil
}
