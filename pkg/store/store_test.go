package store

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/harrisonrobin/calsync/pkg/kv"
	"github.com/harrisonrobin/calsync/pkg/model"
)

func setupStore(t *testing.T) (*Store, kv.Store) {
	t.Helper()
	db, err := kv.OpenSQLite(":memory:")
	if err != nil {
		t.Fatalf("OpenSQLite failed: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	s, err := Open(context.Background(), db, log.New(io.Discard, "", 0))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	return s, db
}

func add(t *testing.T, s *Store, task model.Task) {
	t.Helper()
	err := s.Update(context.Background(), func(tasks []model.Task) ([]model.Task, error) {
		return append(tasks, task), nil
	})
	if err != nil {
		t.Fatalf("Update failed: %v", err)
	}
}

func TestUpdatePersistsAndReloads(t *testing.T) {
	s, db := setupStore(t)
	add(t, s, model.Task{ID: "t1", Text: "buy milk", Date: "2024-05-01"})

	reloaded, err := Open(context.Background(), db, log.New(io.Discard, "", 0))
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	got, ok := reloaded.Get("t1")
	if !ok {
		t.Fatal("expected task to survive reload")
	}
	if got.Text != "buy milk" {
		t.Errorf("expected text 'buy milk', got %q", got.Text)
	}
}

func TestUpdateErrorLeavesStateUnchanged(t *testing.T) {
	s, _ := setupStore(t)
	add(t, s, model.Task{ID: "t1", Text: "a", Date: "2024-05-01"})

	boom := errors.New("boom")
	err := s.Update(context.Background(), func(tasks []model.Task) ([]model.Task, error) {
		tasks[0].Text = "changed"
		return nil, boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	if got, _ := s.Get("t1"); got.Text != "a" {
		t.Errorf("expected unchanged text, got %q", got.Text)
	}
}

func TestSnapshotIsACopy(t *testing.T) {
	s, _ := setupStore(t)
	add(t, s, model.Task{ID: "t1", Text: "a", Date: "2024-05-01"})

	snap := s.Snapshot()
	snap[0].Text = "mutated"

	if got, _ := s.Get("t1"); got.Text != "a" {
		t.Errorf("snapshot mutation leaked into store: %q", got.Text)
	}
}

func TestSubscribe(t *testing.T) {
	s, _ := setupStore(t)

	var calls int
	var last []model.Task
	cancel := s.Subscribe(func(tasks []model.Task) {
		calls++
		last = tasks
	})

	add(t, s, model.Task{ID: "t1", Text: "a", Date: "2024-05-01"})
	if calls != 1 || len(last) != 1 {
		t.Fatalf("expected one notification with one task, got %d calls, %d tasks", calls, len(last))
	}

	cancel()
	add(t, s, model.Task{ID: "t2", Text: "b", Date: "2024-05-01"})
	if calls != 1 {
		t.Errorf("expected no notification after cancel, got %d calls", calls)
	}
}

func TestFindByRemoteID(t *testing.T) {
	s, _ := setupStore(t)
	add(t, s, model.Task{ID: "t1", Text: "a", Date: "2024-05-01", RemoteID: "evt-1"})

	if got, ok := s.FindByRemoteID("evt-1"); !ok || got.ID != "t1" {
		t.Errorf("expected t1, got %+v (found=%v)", got, ok)
	}
	if _, ok := s.FindByRemoteID(""); ok {
		t.Error("empty remote id must never match")
	}
}

func TestCorruptStoredListStartsEmpty(t *testing.T) {
	db, err := kv.OpenSQLite(":memory:")
	if err != nil {
		t.Fatalf("OpenSQLite failed: %v", err)
	}
	defer db.Close()
	if err := db.Set(context.Background(), Key, []byte("{broken")); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	var logs bytes.Buffer
	s, err := Open(context.Background(), db, log.New(&logs, "", 0))
	if err != nil {
		t.Fatalf("Open should recover from corrupt data, got %v", err)
	}
	if s.Len() != 0 {
		t.Errorf("expected empty store, got %d tasks", s.Len())
	}
	if !strings.Contains(logs.String(), "corrupt") {
		t.Errorf("expected a warning to be logged, got %q", logs.String())
	}
}

func TestExportImportRoundTrip(t *testing.T) {
	s, _ := setupStore(t)
	add(t, s, model.Task{ID: "t1", Text: "a", Date: "2024-05-01", Time: "09:30", Priority: model.PriorityHigh})

	var buf bytes.Buffer
	if err := s.Export(&buf); err != nil {
		t.Fatalf("Export failed: %v", err)
	}

	other, _ := setupStore(t)
	add(t, other, model.Task{ID: "old", Text: "superseded", Date: "2024-01-01"})

	n, err := other.Import(context.Background(), &buf)
	if err != nil {
		t.Fatalf("Import failed: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 imported task, got %d", n)
	}
	if _, ok := other.Get("old"); ok {
		t.Error("import must replace the whole list")
	}
	got, ok := other.Get("t1")
	if !ok || got.Time != "09:30" || got.Priority != model.PriorityHigh {
		t.Errorf("unexpected imported task: %+v", got)
	}
}

func TestImportFillsMissingFields(t *testing.T) {
	s, _ := setupStore(t)
	now := time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }

	n, err := s.Import(context.Background(), strings.NewReader(`[{"text":"no id","date":"2024-06-02"}]`))
	if err != nil {
		t.Fatalf("Import failed: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 task, got %d", n)
	}
	got := s.Snapshot()[0]
	if got.ID == "" {
		t.Error("expected generated id")
	}
	if !got.CreatedAt.Equal(now) || !got.UpdatedAt.Equal(now) {
		t.Errorf("expected timestamps set to now, got %v / %v", got.CreatedAt, got.UpdatedAt)
	}
}

func TestImportCorruptFileKeepsTasks(t *testing.T) {
	s, _ := setupStore(t)
	add(t, s, model.Task{ID: "t1", Text: "a", Date: "2024-05-01"})

	if _, err := s.Import(context.Background(), strings.NewReader(`{"not":"an array"}`)); err == nil {
		t.Fatal("expected error for corrupt import")
	}
	if s.Len() != 1 {
		t.Errorf("expected existing tasks to survive, got %d", s.Len())
	}
}

func TestStoresSharingStorageKeepEachOthersTasks(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "calsync.db")
	open := func() *Store {
		db, err := kv.OpenSQLite(path)
		if err != nil {
			t.Fatalf("OpenSQLite failed: %v", err)
		}
		t.Cleanup(func() { db.Close() })
		s, err := Open(ctx, db, log.New(io.Discard, "", 0))
		if err != nil {
			t.Fatalf("Open failed: %v", err)
		}
		return s
	}

	daemon := open()
	cli := open()

	var seen []model.Task
	daemon.Subscribe(func(tasks []model.Task) { seen = tasks })

	add(t, cli, model.Task{ID: "cli", Text: "added offline", Date: "2024-05-01"})
	add(t, daemon, model.Task{ID: "inbox", Text: "from an intent", Date: "2024-05-01"})

	if daemon.Len() != 2 {
		t.Fatalf("expected the daemon's write to keep the other task, got %d", daemon.Len())
	}
	if got, ok := open().Get("cli"); !ok || got.Text != "added offline" {
		t.Fatalf("task written by the other process was lost")
	}

	if err := cli.Reload(ctx); err != nil {
		t.Fatalf("Reload failed: %v", err)
	}
	if cli.Len() != 2 {
		t.Errorf("expected reload to see both tasks, got %d", cli.Len())
	}

	seen = nil
	if err := daemon.Reload(ctx); err != nil {
		t.Fatalf("Reload failed: %v", err)
	}
	if seen != nil {
		t.Error("unchanged reload must not notify subscribers")
	}
}
