// Package cli implements the calsync command line.
package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/harrisonrobin/calsync/pkg/syncer"
)

// Version is set at build time.
var Version = "dev"

// setupAnnotation marks commands that only need the configuration, not
// the storage and sync stack.
const setupAnnotation = "calsync.setup"

const setupConfigOnly = "config"

func newRootCmd(out, errOut io.Writer) (*cobra.Command, *app) {
	a := &app{out: out, errOut: errOut}

	root := &cobra.Command{
		Use:           "calsync",
		Short:         "Offline-first task list mirrored to Google Calendar",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Annotations[setupAnnotation] == setupConfigOnly {
				return a.loadConfig()
			}
			return a.open(cmd.Context())
		},
	}
	root.SetOut(out)
	root.SetErr(errOut)

	root.PersistentFlags().StringVar(&a.configPath, "config", "", "config file (default $XDG_CONFIG_HOME/calsync/config.yaml)")
	root.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false, "Verbose output")
	root.PersistentFlags().BoolVar(&a.offline, "offline", false, "Do not contact Google Calendar")

	root.AddCommand(
		newAddCmd(a),
		newListCmd(a),
		newEditCmd(a),
		newDoneCmd(a, true),
		newDoneCmd(a, false),
		newRmCmd(a),
		newClearCmd(a),
		newExportCmd(a),
		newImportCmd(a),
		newSyncCmd(a),
		newStatusCmd(a),
		newDaemonCmd(a),
		newAuthCmd(a),
		newConfigCmd(a),
	)
	return root, a
}

// Execute runs the command line and returns the process exit code.
func Execute() int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root, a := newRootCmd(os.Stdout, os.Stderr)
	err := root.ExecuteContext(ctx)
	if cerr := a.close(); cerr != nil && err == nil {
		err = cerr
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, levelStyles[syncer.LevelError].Render("Error: ")+err.Error())
		return 1
	}
	return 0
}
