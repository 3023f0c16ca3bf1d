package cli

import (
	"testing"
	"time"
)

func TestParseWhen(t *testing.T) {
	// Monday
	now := time.Date(2024, 3, 4, 10, 0, 0, 0, time.UTC)

	date, clock, err := parseWhen("2024-12-24", now)
	if err != nil || date != "2024-12-24" || clock != "" {
		t.Errorf("iso date = %q %q %v", date, clock, err)
	}

	date, clock, err = parseWhen("tomorrow", now)
	if err != nil || date != "2024-03-05" || clock != "" {
		t.Errorf("tomorrow = %q %q %v", date, clock, err)
	}

	date, clock, err = parseWhen("next wednesday at 2:25 p.m", now)
	if err != nil {
		t.Fatalf("parseWhen failed: %v", err)
	}
	if clock != "14:25" {
		t.Errorf("clock = %q, want 14:25", clock)
	}
	if d, _ := time.Parse("2006-01-02", date); d.Weekday() != time.Wednesday {
		t.Errorf("date %s is not a Wednesday", date)
	}

	if _, _, err := parseWhen("purple elephant", now); err == nil {
		t.Error("expected error for unparseable text")
	}
}
