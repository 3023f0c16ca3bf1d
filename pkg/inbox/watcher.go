// Package inbox ingests intent files dropped into a directory.
//
// Each *.json file holds an array of actions.Intent. Once applied the file
// is renamed to *.done; a file that cannot be parsed becomes *.failed.
package inbox

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/harrisonrobin/calsync/pkg/actions"
)

const (
	doneSuffix   = ".done"
	failedSuffix = ".failed"
)

// Applier runs a batch of intents.
type Applier interface {
	Apply(ctx context.Context, intents []actions.Intent) (actions.Report, error)
}

// Watcher applies intent files as they appear.
type Watcher struct {
	dir      string
	apply    Applier
	debounce time.Duration
	logger   *log.Logger
}

// New creates a Watcher for dir. If logger is nil, a default logger writing
// to stderr is used.
func New(dir string, apply Applier, logger *log.Logger) *Watcher {
	if logger == nil {
		logger = log.New(os.Stderr, "[inbox] ", log.LstdFlags)
	}
	return &Watcher{dir: dir, apply: apply, debounce: 200 * time.Millisecond, logger: logger}
}

// Run processes files already waiting, then watches for new ones until ctx
// is done. Bursts of writes to the same file are coalesced.
func (w *Watcher) Run(ctx context.Context) error {
	if err := os.MkdirAll(w.dir, 0o700); err != nil {
		return fmt.Errorf("failed to create inbox %s: %w", w.dir, err)
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	defer fsw.Close()
	if err := fsw.Add(w.dir); err != nil {
		return fmt.Errorf("failed to watch inbox %s: %w", w.dir, err)
	}

	if _, err := w.ProcessPending(ctx); err != nil {
		w.logger.Printf("WARNING: %v", err)
	}

	pending := make(map[string]struct{})
	var fire <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			if !isIntentFile(ev.Name) || !ev.Has(fsnotify.Create|fsnotify.Write|fsnotify.Rename) {
				continue
			}
			pending[ev.Name] = struct{}{}
			fire = time.After(w.debounce)

		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			w.logger.Printf("WARNING: watcher error: %v", err)

		case <-fire:
			fire = nil
			for _, path := range sortedKeys(pending) {
				if _, err := os.Stat(path); err != nil {
					continue
				}
				if err := w.ProcessFile(ctx, path); err != nil {
					w.logger.Printf("WARNING: %v", err)
				}
			}
			clear(pending)
		}
	}
}

// ProcessPending applies every intent file currently in the directory,
// oldest name first.
func (w *Watcher) ProcessPending(ctx context.Context) (int, error) {
	paths, err := filepath.Glob(filepath.Join(w.dir, "*.json"))
	if err != nil {
		return 0, err
	}
	sort.Strings(paths)
	n := 0
	for _, path := range paths {
		if err := w.ProcessFile(ctx, path); err != nil {
			w.logger.Printf("WARNING: %v", err)
			continue
		}
		n++
	}
	return n, nil
}

// ProcessFile applies one intent file and renames it. Intents that fail
// individually are logged; the file still counts as handled.
func (w *Watcher) ProcessFile(ctx context.Context, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", path, err)
	}

	var intents []actions.Intent
	if err := json.Unmarshal(data, &intents); err != nil {
		w.finish(path, failedSuffix)
		return fmt.Errorf("invalid intent file %s: %w", filepath.Base(path), err)
	}

	rep, err := w.apply.Apply(ctx, intents)
	if err != nil {
		w.logger.Printf("WARNING: %s: %v", filepath.Base(path), err)
	}
	w.logger.Printf("Applied %d intents from %s (%d failed)", rep.Applied, filepath.Base(path), rep.Failed)
	w.finish(path, doneSuffix)
	return nil
}

func (w *Watcher) finish(path, suffix string) {
	target := strings.TrimSuffix(path, filepath.Ext(path)) + suffix
	if err := os.Rename(path, target); err != nil {
		w.logger.Printf("WARNING: failed to rename %s: %v", path, err)
	}
}

func isIntentFile(path string) bool {
	return filepath.Ext(path) == ".json" && !strings.HasPrefix(filepath.Base(path), ".")
}

func sortedKeys(m map[string]struct{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
