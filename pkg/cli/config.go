package cli

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/harrisonrobin/calsync/pkg/config"
)

func newConfigCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Show or change the configuration",
	}

	show := &cobra.Command{
		Use:         "show",
		Short:       "Print the effective configuration",
		Args:        cobra.NoArgs,
		Annotations: map[string]string{setupAnnotation: setupConfigOnly},
		RunE: func(cmd *cobra.Command, args []string) error {
			b, err := yaml.Marshal(a.cfg)
			if err != nil {
				return err
			}
			fmt.Fprintf(a.out, "# %s\n%s", a.configPath, b)
			return nil
		},
	}

	var force bool
	initCmd := &cobra.Command{
		Use:         "init",
		Short:       "Write a config file with the defaults",
		Args:        cobra.NoArgs,
		Annotations: map[string]string{setupAnnotation: setupConfigOnly},
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := os.Stat(a.configPath); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", a.configPath)
			}
			if err := config.Save(a.configPath, a.cfg); err != nil {
				return err
			}
			fmt.Fprintf(a.out, "Wrote %s\n", a.configPath)
			return nil
		},
	}
	initCmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing file")

	setCalendar := &cobra.Command{
		Use:   "set-calendar <name>",
		Short: "Set the calendar tasks are synced with",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := strings.TrimSpace(strings.Join(args, " "))
			a.cfg.Calendar = name
			if err := config.Save(a.configPath, a.cfg); err != nil {
				return fmt.Errorf("error saving config: %w", err)
			}
			a.session.calendar = name
			fmt.Fprintf(a.out, "Default calendar set to: %s\n", name)

			if !a.session.Authenticated() {
				fmt.Fprintln(a.out, "Not signed in; run: calsync auth")
				return nil
			}
			return a.link(cmd.Context())
		},
	}

	cmd.AddCommand(show, initCmd, setCalendar)
	return cmd
}
