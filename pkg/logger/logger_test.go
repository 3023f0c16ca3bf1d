package logger

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func withOutput(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	SetOutput(&buf)
	prev := Level()
	t.Cleanup(func() {
		SetOutput(os.Stderr)
		SetLevel(prev)
	})
	return &buf
}

func TestLevels(t *testing.T) {
	buf := withOutput(t)
	l := New("queue")

	SetLevel(LevelSilent)
	l.Printf("hidden")
	Infof("hidden")
	Warnf("disk %s", "full")
	if strings.Contains(buf.String(), "hidden") {
		t.Errorf("silent level leaked output: %q", buf.String())
	}
	if !strings.Contains(buf.String(), "WARNING: disk full") {
		t.Errorf("warnings must always print: %q", buf.String())
	}

	buf.Reset()
	SetLevel(LevelInfo)
	l.Printf("enqueued")
	Debugf("detail")
	if !strings.Contains(buf.String(), "[queue] ") || !strings.Contains(buf.String(), "enqueued") {
		t.Errorf("expected prefixed info line, got %q", buf.String())
	}
	if strings.Contains(buf.String(), "detail") {
		t.Error("debug line printed at info level")
	}

	buf.Reset()
	SetLevel(LevelDebug)
	Debugf("detail")
	Timer("flush")()
	if !strings.Contains(buf.String(), "[debug] ") || !strings.Contains(buf.String(), "flush took") {
		t.Errorf("expected debug output, got %q", buf.String())
	}
}

func TestParseLevel(t *testing.T) {
	tests := map[string]int{"": LevelInfo, "silent": LevelSilent, "INFO": LevelInfo, "debug": LevelDebug}
	for in, want := range tests {
		got, err := ParseLevel(in)
		if err != nil || got != want {
			t.Errorf("ParseLevel(%q) = %d, %v; want %d", in, got, err, want)
		}
	}
	if _, err := ParseLevel("trace"); err == nil {
		t.Error("expected error for unknown level")
	}
}

func TestUseFile(t *testing.T) {
	withOutput(t)
	SetLevel(LevelInfo)
	path := filepath.Join(t.TempDir(), "calsync.log")

	closer := UseFile(FileOptions{Path: path, MaxSizeMB: 1, MaxBackups: 1, MaxAgeDays: 1})
	Infof("to file")
	if err := closer.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("log file not written: %v", err)
	}
	if !strings.Contains(string(b), "to file") {
		t.Errorf("unexpected log content %q", b)
	}
}
