package cli

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/harrisonrobin/calsync/pkg/model"
	"github.com/harrisonrobin/calsync/pkg/orgmode"
	"github.com/harrisonrobin/calsync/pkg/store"
	"github.com/harrisonrobin/calsync/pkg/taskwarrior"
)

const (
	formatJSON        = "json"
	formatTaskwarrior = "taskwarrior"
	formatOrg         = "org"
)

func newExportCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "export [file]",
		Short: "Write all tasks as JSON",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 || args[0] == "-" {
				return a.store.Export(a.out)
			}
			f, err := os.OpenFile(args[0], os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
			if err != nil {
				return err
			}
			if err := a.store.Export(f); err != nil {
				f.Close()
				return err
			}
			if err := f.Close(); err != nil {
				return err
			}
			fmt.Fprintf(a.errOut, "Exported %d task(s) to %s\n", a.store.Len(), args[0])
			return nil
		},
	}
}

func newImportCmd(a *app) *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "import [file]",
		Short: "Replace all tasks with the contents of a file",
		Long: `Replace the whole task list with tasks read from a file ("-" for stdin).

Formats: json (calsync export), taskwarrior (task export) and org.
With --format taskwarrior and no file, "task export" is run directly.
Imported tasks are not pushed to the calendar.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := ""
			if len(args) == 1 {
				path = args[0]
			}
			if format == "" {
				format = detectFormat(path)
			}

			var (
				tasks []model.Task
				err   error
			)
			if format == formatTaskwarrior && path == "" {
				var tw []taskwarrior.Task
				tw, err = taskwarrior.NewClient().Export(cmd.Context(), nil)
				if err == nil {
					tasks = taskwarrior.ToTasks(tw, a.loc, a.now())
				}
			} else {
				if path == "" {
					return fmt.Errorf("a file is required for format %s", format)
				}
				var r io.ReadCloser
				if r, err = openInput(path); err != nil {
					return err
				}
				tasks, err = a.decode(format, r)
				r.Close()
			}
			if err != nil {
				return err
			}

			if err := a.actions.Import(cmd.Context(), tasks); err != nil {
				return err
			}
			fmt.Fprintf(a.out, "Imported %d task(s)\n", len(tasks))
			return nil
		},
	}
	cmd.Flags().StringVarP(&format, "format", "f", "", "json, taskwarrior or org (default from file extension)")
	return cmd
}

func (a *app) decode(format string, r io.Reader) ([]model.Task, error) {
	now := a.now()
	switch format {
	case formatJSON:
		return store.DecodeExport(r, now)
	case formatTaskwarrior:
		tw, err := taskwarrior.Parse(r)
		if err != nil {
			return nil, err
		}
		return taskwarrior.ToTasks(tw, a.loc, now), nil
	case formatOrg:
		return orgmode.Parse(r, now.In(a.loc))
	}
	return nil, fmt.Errorf("unknown format %q", format)
}

func detectFormat(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".org":
		return formatOrg
	case "":
		if path == "" {
			return formatTaskwarrior
		}
	}
	return formatJSON
}

func openInput(path string) (io.ReadCloser, error) {
	if path == "-" {
		return io.NopCloser(os.Stdin), nil
	}
	return os.Open(path)
}
