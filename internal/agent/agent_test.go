package agent

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/guestflow/cottage-agent/internal/config"
	"github.com/guestflow/cottage-agent/internal/task"
)

func newTestAgent(t *testing.T) *Agent {
	t.Helper()

	a, err := New(Options{
		Config: &config.Config{
			WorkspaceRoot: t.TempDir(),
			StateDir:      t.TempDir(),
			LogFormat:     "text",
			LogLevel:      "error",
		},
		Version: "test",
	})
	if err != nil {
		t.Fatalf("new agent: %v", err)
	}
	t.Cleanup(func() { _ = a.Close() })
	return a
}

func TestNewRequiresConfig(t *testing.T) {
	t.Parallel()

	if _, err := New(Options{}); err == nil {
		t.Fatalf("expected error for missing config")
	}
}

func TestNewRejectsMissingWorkspace(t *testing.T) {
	t.Parallel()

	_, err := New(Options{Config: &config.Config{
		WorkspaceRoot: filepath.Join(t.TempDir(), "does-not-exist"),
		StateDir:      t.TempDir(),
	}})
	if err == nil {
		t.Fatalf("expected error for missing workspace dir")
	}
}

func TestSecondInstanceIsRefused(t *testing.T) {
	t.Parallel()

	state := t.TempDir()
	cfg := &config.Config{WorkspaceRoot: t.TempDir(), StateDir: state, LogLevel: "error"}

	a1, err := New(Options{Config: cfg})
	if err != nil {
		t.Fatalf("first agent: %v", err)
	}
	defer a1.Close()

	if _, err := New(Options{Config: cfg}); err == nil {
		t.Fatalf("expected lock conflict for second agent")
	}

	// After the first closes, the state dir is usable again.
	if err := a1.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	a2, err := New(Options{Config: cfg})
	if err != nil {
		t.Fatalf("agent after release: %v", err)
	}
	_ = a2.Close()
}

func TestProcessEndToEnd(t *testing.T) {
	t.Parallel()

	a := newTestAgent(t)
	ws := a.cfg.WorkspaceRoot
	if err := os.WriteFile(filepath.Join(ws, "config.json"), []byte(`{"a":1}`), 0o644); err != nil {
		t.Fatalf("seed workspace: %v", err)
	}

	rep := a.Process(context.Background(), "შექმენი ფაილი config.json", nil)
	if !rep.Success {
		t.Fatalf("run failed: %+v", rep.Err)
	}
	if len(rep.Tasks) != 2 || rep.Tasks[1].Type != task.TypeFileSearch {
		t.Fatalf("tasks got=%+v", rep.Tasks)
	}

	// Run events were persisted.
	a.events.Close()
	entries, err := a.Events(50)
	if err != nil {
		t.Fatalf("events: %v", err)
	}
	if len(entries) == 0 {
		t.Fatalf("no events recorded")
	}
}

func TestNewLoggerRejectsUnknown(t *testing.T) {
	t.Parallel()

	if _, err := newLogger("xml", "info"); err == nil {
		t.Fatalf("expected error for unknown format")
	}
	if _, err := newLogger("json", "loud"); err == nil {
		t.Fatalf("expected error for unknown level")
	}
	l, err := newLogger("", "")
	if err != nil || l == nil {
		t.Fatalf("defaults failed: %v", err)
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	t.Parallel()

	a := newTestAgent(t)
	if err := a.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := a.Close(); err != nil && !errors.Is(err, os.ErrClosed) {
		// Second close may surface the already-closed store; anything else
		// is a bug.
		t.Logf("second close: %v", err)
	}
}
