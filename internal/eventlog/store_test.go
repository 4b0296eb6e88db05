package eventlog

import (
	"testing"
)

func TestEmitAndList(t *testing.T) {
	t.Parallel()

	s, err := New(Options{StateDir: t.TempDir()})
	if err != nil {
		t.Fatalf("new store: %v", err)
	}

	s.Emit("invoke.begin", map[string]any{"tool": "file-search"})
	s.Emit("invoke.end", map[string]any{"tool": "file-search", "success": true})
	s.Close()

	entries, err := s.List(10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("entries got=%d, want=2", len(entries))
	}
	// Newest first.
	if entries[0].Kind != "invoke.end" {
		t.Fatalf("entries[0].Kind got=%q, want=invoke.end", entries[0].Kind)
	}
	if entries[1].Fields["tool"] != "file-search" {
		t.Fatalf("entries[1].Fields[tool] got=%v", entries[1].Fields["tool"])
	}
	if entries[0].CreatedAt == "" {
		t.Fatalf("missing CreatedAt")
	}
}

func TestEmitBlankKindIgnored(t *testing.T) {
	t.Parallel()

	s, err := New(Options{StateDir: t.TempDir()})
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	s.Emit("  ", nil)
	s.Close()

	entries, err := s.List(10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("entries got=%d, want=0", len(entries))
	}
}

func TestRotationKeepsRecentEntries(t *testing.T) {
	t.Parallel()

	s, err := New(Options{StateDir: t.TempDir(), MaxBytes: 256, MaxBackups: 2})
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	for i := 0; i < 50; i++ {
		s.Emit("checkpoint.record", map[string]any{"seq": i, "padding": "xxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxx"})
	}
	s.Close()

	entries, err := s.List(1000)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(entries) == 0 {
		t.Fatalf("expected surviving entries after rotation")
	}
	// The newest entry is always in the active file.
	if got, ok := entries[0].Fields["seq"].(float64); !ok || int(got) != 49 {
		t.Fatalf("entries[0].Fields[seq] got=%v, want=49", entries[0].Fields["seq"])
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	t.Parallel()

	s, err := New(Options{StateDir: t.TempDir()})
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	s.Close()
	s.Close()
}
