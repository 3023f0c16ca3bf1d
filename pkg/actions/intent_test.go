package actions

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/harrisonrobin/calsync/pkg/model"
)

func TestApplyIntents(t *testing.T) {
	svc, st, rec := setupService(t)
	raw := `[
		{"kind": "add", "text": "Dentist", "date": "2024-03-15", "time": "10:00", "priority": "high"},
		{"kind": "add", "text": "Groceries"},
		{"kind": "complete", "task": "groceries"},
		{"kind": "update", "task": "dentist", "description": "bring x-rays"},
		{"kind": "delete", "task": "nothing-like-this"},
		{"kind": "fly"}
	]`
	var intents []Intent
	if err := json.Unmarshal([]byte(raw), &intents); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}

	rep, err := svc.Apply(context.Background(), intents)
	if err == nil {
		t.Error("expected joined error for failing intents")
	}
	if rep.Applied != 4 || rep.Failed != 2 {
		t.Errorf("report = %+v, want 4 applied, 2 failed", rep)
	}

	var dentist, groceries model.Task
	for _, task := range st.Snapshot() {
		switch task.Text {
		case "Dentist":
			dentist = task
		case "Groceries":
			groceries = task
		}
	}
	if dentist.Time != "10:00" || dentist.Priority != model.PriorityHigh || dentist.Description != "bring x-rays" {
		t.Errorf("dentist = %+v", dentist)
	}
	if !groceries.Completed {
		t.Errorf("groceries not completed: %+v", groceries)
	}
	if got := rec.kinds(); got != "create,create,update,update" {
		t.Errorf("queued %q", got)
	}
}

func TestApplyClearAndMissingReference(t *testing.T) {
	svc, st, _ := setupService(t)
	ctx := context.Background()
	svc.Add(ctx, Draft{Text: "a"})

	rep, err := svc.Apply(ctx, []Intent{{Kind: IntentUncomplete}, {Kind: IntentClear}})
	if err == nil || rep.Failed != 1 || rep.Applied != 1 {
		t.Errorf("Apply = %+v, %v", rep, err)
	}
	if st.Len() != 0 {
		t.Errorf("store has %d tasks after clear", st.Len())
	}
}
