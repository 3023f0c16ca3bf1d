package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/harrisonrobin/calsync/pkg/model"
	"github.com/harrisonrobin/calsync/pkg/syncer"
)

// setupHome points the config directory at a fresh temp dir.
func setupHome(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", home)
	return filepath.Join(home, "calsync")
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	root, a := newRootCmd(&out, &errOut)
	root.SetArgs(append([]string{"--offline"}, args...))
	err := root.ExecuteContext(context.Background())
	if cerr := a.close(); cerr != nil {
		t.Errorf("close failed: %v", cerr)
	}
	return out.String() + errOut.String(), err
}

func mustRun(t *testing.T, args ...string) string {
	t.Helper()
	out, err := run(t, args...)
	if err != nil {
		t.Fatalf("calsync %s failed: %v\n%s", strings.Join(args, " "), err, out)
	}
	return out
}

func TestAddListAndComplete(t *testing.T) {
	setupHome(t)

	out := mustRun(t, "add", "buy", "milk", "--date", "2024-03-10", "--time", "14:30", "-p", "high")
	if !strings.Contains(out, "buy milk") || !strings.Contains(out, "2024-03-10 14:30") {
		t.Errorf("add output = %q", out)
	}
	mustRun(t, "add", "call", "bank", "--date", "2024-03-09")

	out = mustRun(t, "list")
	if !strings.Contains(out, "2 task(s)") || !strings.Contains(out, "!high") {
		t.Errorf("list output = %q", out)
	}
	if strings.Index(out, "call bank") > strings.Index(out, "buy milk") {
		t.Errorf("tasks not sorted by date: %q", out)
	}

	mustRun(t, "done", "buy milk")
	out = mustRun(t, "list")
	if strings.Contains(out, "buy milk") {
		t.Errorf("completed task listed without --all: %q", out)
	}
	out = mustRun(t, "list", "--all")
	if !strings.Contains(out, "[x]") {
		t.Errorf("list --all output = %q", out)
	}

	mustRun(t, "clear", "--completed")
	out = mustRun(t, "list", "--all")
	if !strings.Contains(out, "1 task(s)") {
		t.Errorf("after clear: %q", out)
	}
}

func TestEditAndRemove(t *testing.T) {
	setupHome(t)
	mustRun(t, "add", "draft", "--date", "2024-05-01", "--time", "09:00")

	out := mustRun(t, "edit", "draft", "--text", "final draft", "--all-day", "-p", "low")
	if !strings.Contains(out, "final draft") || strings.Contains(out, "09:00") {
		t.Errorf("edit output = %q", out)
	}
	if _, err := run(t, "edit", "nope", "--text", "x"); err == nil {
		t.Error("expected error editing unknown task")
	}
	if _, err := run(t, "edit", "final draft", "--date", "someday"); err == nil {
		t.Error("expected error for invalid date")
	}

	mustRun(t, "rm", "final draft")
	if out := mustRun(t, "list", "--all"); !strings.Contains(out, "No tasks.") {
		t.Errorf("list after rm = %q", out)
	}
}

func TestImportAndExport(t *testing.T) {
	dir := setupHome(t)
	org := filepath.Join(t.TempDir(), "todo.org")
	os.WriteFile(org, []byte("* TODO [#A] Ship it\n  DEADLINE: <2024-06-01 Sat>\n* DONE Plan\n"), 0o600)

	out := mustRun(t, "import", org)
	if !strings.Contains(out, "Imported 2 task(s)") {
		t.Errorf("import output = %q", out)
	}

	exported := filepath.Join(dir, "export.json")
	mustRun(t, "export", exported)
	b, err := os.ReadFile(exported)
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	var tasks []model.Task
	if err := json.Unmarshal(b, &tasks); err != nil {
		t.Fatalf("export is not valid JSON: %v", err)
	}
	if len(tasks) != 2 || tasks[0].Priority != model.PriorityHigh || tasks[0].Date != "2024-06-01" {
		t.Errorf("exported tasks = %+v", tasks)
	}

	bad := filepath.Join(dir, "bad.json")
	os.WriteFile(bad, []byte(`[{"text": `), 0o600)
	if _, err := run(t, "import", bad); err == nil {
		t.Error("expected error for corrupt import")
	}
	if out := mustRun(t, "list", "--all"); !strings.Contains(out, "2 task(s)") {
		t.Errorf("corrupt import changed the task list: %q", out)
	}
}

func TestSyncRequiresSignIn(t *testing.T) {
	setupHome(t)
	_, err := run(t, "sync")
	if !errors.Is(err, syncer.ErrNotPermitted) {
		t.Errorf("sync err = %v, want ErrNotPermitted", err)
	}
}

func TestStatus(t *testing.T) {
	setupHome(t)
	mustRun(t, "add", "x", "--date", "2024-01-01")
	out := mustRun(t, "status")
	for _, want := range []string{"primary (not linked)", "Signed in:", "Last sync:", "never"} {
		if !strings.Contains(out, want) {
			t.Errorf("status output missing %q:\n%s", want, out)
		}
	}
}

func TestConfigInitAndShow(t *testing.T) {
	dir := setupHome(t)
	mustRun(t, "config", "init")
	if _, err := os.Stat(filepath.Join(dir, "config.yaml")); err != nil {
		t.Fatalf("config file not written: %v", err)
	}
	if _, err := run(t, "config", "init"); err == nil {
		t.Error("expected error when config exists")
	}

	out := mustRun(t, "config", "set-calendar", "Work", "Tasks")
	if !strings.Contains(out, "Work Tasks") || !strings.Contains(out, "calsync auth") {
		t.Errorf("set-calendar output = %q", out)
	}
	out = mustRun(t, "config", "show")
	if !strings.Contains(out, "calendar: Work Tasks") {
		t.Errorf("config show = %q", out)
	}
}

func TestListOverdue(t *testing.T) {
	setupHome(t)
	mustRun(t, "add", "file", "taxes", "--date", "2001-04-15")
	mustRun(t, "add", "renew", "passport", "--date", "2999-01-01")

	out := mustRun(t, "list", "--overdue")
	if !strings.Contains(out, "file taxes") || strings.Contains(out, "renew passport") {
		t.Errorf("list --overdue = %q", out)
	}
}
