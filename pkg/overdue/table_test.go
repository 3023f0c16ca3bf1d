package overdue

import (
	"context"
	"testing"
	"time"

	"github.com/harrisonrobin/calsync/pkg/kv"
	"github.com/harrisonrobin/calsync/pkg/model"
)

func TestDue(t *testing.T) {
	timed, ok := Due(model.Task{Date: "2024-03-10", Time: "14:30"}, time.UTC)
	if !ok || !timed.Equal(time.Date(2024, 3, 10, 14, 30, 0, 0, time.UTC)) {
		t.Errorf("timed due = %v, %v", timed, ok)
	}
	allDay, ok := Due(model.Task{Date: "2024-03-10"}, time.UTC)
	if !ok || !allDay.Equal(time.Date(2024, 3, 11, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("all-day due = %v, %v", allDay, ok)
	}
	if _, ok := Due(model.Task{Date: "bad"}, time.UTC); ok {
		t.Error("expected invalid date to have no due time")
	}
}

func TestSweepReportsOnce(t *testing.T) {
	db, err := kv.OpenSQLite(":memory:")
	if err != nil {
		t.Fatalf("OpenSQLite failed: %v", err)
	}
	defer db.Close()
	ctx := context.Background()

	table, err := Load(ctx, db)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	now := time.Date(2024, 3, 10, 15, 0, 0, 0, time.UTC)
	tasks := []model.Task{
		{ID: "late", Text: "late", Date: "2024-03-10", Time: "14:30"},
		{ID: "today", Text: "today", Date: "2024-03-10"},
		{ID: "done", Text: "done", Date: "2024-03-01", Completed: true},
		{ID: "old", Text: "old", Date: "2024-03-08"},
	}

	swept := table.Sweep(tasks, now, time.UTC)
	if len(swept) != 2 || swept[0].TaskID != "old" || swept[1].TaskID != "late" {
		t.Fatalf("first sweep = %+v", swept)
	}
	if err := table.Save(ctx); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	reloaded, err := Load(ctx, db)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if swept := reloaded.Sweep(tasks, now, time.UTC); len(swept) != 0 {
		t.Errorf("second sweep reported again: %+v", swept)
	}

	// Rescheduled and lapsed again.
	tasks[0].Time = "14:45"
	swept = reloaded.Sweep(tasks, now, time.UTC)
	if len(swept) != 1 || swept[0].TaskID != "late" {
		t.Errorf("rescheduled sweep = %+v", swept)
	}

	// Completed tasks are forgotten.
	tasks[3].Completed = true
	reloaded.Sweep(tasks, now, time.UTC)
	if _, ok := reloaded.Entries["old"]; ok {
		t.Error("completed task still recorded")
	}
}

func TestLoadCorruptTable(t *testing.T) {
	db, err := kv.OpenSQLite(":memory:")
	if err != nil {
		t.Fatalf("OpenSQLite failed: %v", err)
	}
	defer db.Close()
	ctx := context.Background()
	db.Set(ctx, Key, []byte("not json"))

	table, err := Load(ctx, db)
	if err != nil || len(table.Entries) != 0 {
		t.Errorf("Load = %+v, %v", table, err)
	}
}
