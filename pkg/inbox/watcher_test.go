package inbox

import (
	"context"
	"errors"
	"io"
	"log"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/harrisonrobin/calsync/pkg/actions"
)

type fakeApplier struct {
	mu      sync.Mutex
	batches [][]actions.Intent
	err     error
}

func (f *fakeApplier) Apply(ctx context.Context, intents []actions.Intent) (actions.Report, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.batches = append(f.batches, intents)
	if f.err != nil {
		return actions.Report{Failed: len(intents)}, f.err
	}
	return actions.Report{Applied: len(intents)}, nil
}

func (f *fakeApplier) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.batches)
}

func setupWatcher(t *testing.T) (*Watcher, *fakeApplier, string) {
	t.Helper()
	dir := t.TempDir()
	app := &fakeApplier{}
	w := New(dir, app, log.New(io.Discard, "", 0))
	w.debounce = 10 * time.Millisecond
	return w, app, dir
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func TestProcessFileRenamesToDone(t *testing.T) {
	w, app, dir := setupWatcher(t)
	path := filepath.Join(dir, "001.json")
	writeFile(t, path, `[{"kind":"add","text":"water plants"},{"kind":"clear"}]`)

	if err := w.ProcessFile(context.Background(), path); err != nil {
		t.Fatalf("ProcessFile failed: %v", err)
	}
	if exists(path) || !exists(filepath.Join(dir, "001.done")) {
		t.Error("file was not renamed to .done")
	}
	if len(app.batches) != 1 || len(app.batches[0]) != 2 {
		t.Fatalf("batches = %+v", app.batches)
	}
	if app.batches[0][0].Kind != actions.IntentAdd || *app.batches[0][0].Text != "water plants" {
		t.Errorf("first intent = %+v", app.batches[0][0])
	}
}

func TestProcessFileMarksUnparsableAsFailed(t *testing.T) {
	w, app, dir := setupWatcher(t)
	path := filepath.Join(dir, "bad.json")
	writeFile(t, path, `{not json`)

	if err := w.ProcessFile(context.Background(), path); err == nil {
		t.Error("expected error for invalid file")
	}
	if !exists(filepath.Join(dir, "bad.failed")) {
		t.Error("file was not renamed to .failed")
	}
	if app.count() != 0 {
		t.Error("invalid file was applied")
	}
}

func TestProcessFileWithFailingIntentsIsDone(t *testing.T) {
	w, app, dir := setupWatcher(t)
	app.err = errors.New("unknown task")
	path := filepath.Join(dir, "x.json")
	writeFile(t, path, `[{"kind":"delete","task":"nope"}]`)

	if err := w.ProcessFile(context.Background(), path); err != nil {
		t.Fatalf("ProcessFile failed: %v", err)
	}
	if !exists(filepath.Join(dir, "x.done")) {
		t.Error("file was not renamed to .done")
	}
}

func TestProcessPendingIgnoresOtherFiles(t *testing.T) {
	w, app, dir := setupWatcher(t)
	writeFile(t, filepath.Join(dir, "a.json"), `[]`)
	writeFile(t, filepath.Join(dir, "b.json"), `[{"kind":"clear"}]`)
	writeFile(t, filepath.Join(dir, "old.done"), `[]`)
	writeFile(t, filepath.Join(dir, "notes.txt"), `hello`)

	n, err := w.ProcessPending(context.Background())
	if err != nil || n != 2 {
		t.Fatalf("ProcessPending = %d, %v", n, err)
	}
	if app.count() != 2 {
		t.Errorf("applied %d batches, want 2", app.count())
	}
}

func TestRunPicksUpNewFiles(t *testing.T) {
	w, app, dir := setupWatcher(t)
	writeFile(t, filepath.Join(dir, "early.json"), `[{"kind":"clear"}]`)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	waitFor(t, func() bool { return exists(filepath.Join(dir, "early.done")) })

	tmp := filepath.Join(dir, "late.tmp")
	writeFile(t, tmp, `[{"kind":"add","text":"late"}]`)
	if err := os.Rename(tmp, filepath.Join(dir, "late.json")); err != nil {
		t.Fatalf("Rename failed: %v", err)
	}
	waitFor(t, func() bool { return exists(filepath.Join(dir, "late.done")) })

	cancel()
	if err := <-done; err != nil {
		t.Errorf("Run returned %v", err)
	}
	if app.count() != 2 {
		t.Errorf("applied %d batches, want 2", app.count())
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}
