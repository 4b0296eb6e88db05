package checkpoint

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/guestflow/cottage-agent/internal/tool"
)

type fakeRestorer struct {
	restored []string
	failIDs  map[string]bool
}

func (f *fakeRestorer) Restore(_ context.Context, backupID string) error {
	if f.failIDs[backupID] {
		return errors.New("blob missing")
	}
	f.restored = append(f.restored, backupID)
	return nil
}

func changeResult(changes ...tool.FileChange) tool.InvocationResult {
	return tool.InvocationResult{Success: true, Changes: changes}
}

func TestRecordAppendsJournalInOrder(t *testing.T) {
	t.Parallel()

	m := NewManager(nil, nil)
	cp := m.Create(DefaultPolicy())

	if err := m.Record(cp, "t1", changeResult(tool.FileChange{Path: "a.js", BackupID: "b1"})); err != nil {
		t.Fatalf("record t1: %v", err)
	}
	if err := m.Record(cp, "t2", changeResult(
		tool.FileChange{Path: "b.js", BackupID: "b2"},
		tool.FileChange{Path: "c.js", BackupID: "b3"},
	)); err != nil {
		t.Fatalf("record t2: %v", err)
	}

	j := cp.Journal()
	if len(j) != 3 {
		t.Fatalf("journal len got=%d, want=3", len(j))
	}
	wantIDs := []string{"b1", "b2", "b3"}
	for i, rec := range j {
		if rec.BackupID != wantIDs[i] {
			t.Fatalf("journal[%d].BackupID got=%q, want=%q", i, rec.BackupID, wantIDs[i])
		}
	}
	if j[2].TaskID != "t2" {
		t.Fatalf("journal[2].TaskID got=%q, want=t2", j[2].TaskID)
	}

	if _, ok := cp.Result("t1"); !ok {
		t.Fatalf("result for t1 missing")
	}
}

func TestRecordRejectsMissingTaskID(t *testing.T) {
	t.Parallel()

	m := NewManager(nil, nil)
	cp := m.Create(DefaultPolicy())
	if err := m.Record(cp, "  ", changeResult()); err == nil {
		t.Fatalf("expected error for blank task id")
	}
}

func TestClearEmptiesJournal(t *testing.T) {
	t.Parallel()

	m := NewManager(nil, nil)
	cp := m.Create(DefaultPolicy())
	_ = m.Record(cp, "t1", changeResult(tool.FileChange{Path: "a.js", BackupID: "b1"}))

	m.Clear(cp)
	if got := len(cp.Journal()); got != 0 {
		t.Fatalf("journal len after clear got=%d, want=0", got)
	}
	if _, ok := cp.Result("t1"); ok {
		t.Fatalf("result for t1 survived clear")
	}
}

func TestRollbackRestoresInReverseOrder(t *testing.T) {
	t.Parallel()

	m := NewManager(nil, nil)
	cp := m.Create(DefaultPolicy())
	_ = m.Record(cp, "t1", changeResult(tool.FileChange{Path: "a.js", BackupID: "b1"}))
	_ = m.Record(cp, "t2", changeResult(tool.FileChange{Path: "b.js", BackupID: "b2"}))
	_ = m.Record(cp, "t3", changeResult(tool.FileChange{Path: "c.js", BackupID: "b3"}))

	fr := &fakeRestorer{}
	eng := NewEngine(fr, m, nil, nil)
	res := eng.Rollback(context.Background(), cp)

	if res.Partial() {
		t.Fatalf("unexpected failures: %v", res.Errs)
	}
	want := []string{"b3", "b2", "b1"}
	if len(fr.restored) != len(want) {
		t.Fatalf("restored len got=%d, want=%d", len(fr.restored), len(want))
	}
	for i, id := range want {
		if fr.restored[i] != id {
			t.Fatalf("restore order[%d] got=%q, want=%q", i, fr.restored[i], id)
		}
	}
	if got := len(cp.Journal()); got != 0 {
		t.Fatalf("journal not cleared after rollback, len=%d", got)
	}
}

func TestRollbackCollectsFailuresAndContinues(t *testing.T) {
	t.Parallel()

	m := NewManager(nil, nil)
	cp := m.Create(DefaultPolicy())
	_ = m.Record(cp, "t1", changeResult(tool.FileChange{Path: "a.js", BackupID: "b1"}))
	_ = m.Record(cp, "t2", changeResult(tool.FileChange{Path: "b.js", BackupID: "b2"}))
	_ = m.Record(cp, "t3", changeResult(tool.FileChange{Path: "c.js", BackupID: "b3"}))

	fr := &fakeRestorer{failIDs: map[string]bool{"b2": true}}
	eng := NewEngine(fr, m, nil, nil)
	res := eng.Rollback(context.Background(), cp)

	if !res.Partial() {
		t.Fatalf("expected partial result")
	}
	if len(res.Errs) != 1 {
		t.Fatalf("errors got=%d, want=1", len(res.Errs))
	}
	// b3 and b1 still restored around the failure.
	if len(fr.restored) != 2 || fr.restored[0] != "b3" || fr.restored[1] != "b1" {
		t.Fatalf("restored got=%v, want=[b3 b1]", fr.restored)
	}

	var terr *tool.Error
	if !errors.As(res.Err(), &terr) {
		t.Fatalf("Err() type got=%T, want=*tool.Error", res.Err())
	}
	if terr.Code != tool.ErrorCodeRollbackPartial {
		t.Fatalf("code got=%q, want=%q", terr.Code, tool.ErrorCodeRollbackPartial)
	}
}

func TestRollbackEmptyJournalIsNoop(t *testing.T) {
	t.Parallel()

	m := NewManager(nil, nil)
	cp := m.Create(DefaultPolicy())

	fr := &fakeRestorer{}
	eng := NewEngine(fr, m, nil, nil)
	res := eng.Rollback(context.Background(), cp)

	if res.Partial() || len(res.RestoredFiles) != 0 || len(fr.restored) != 0 {
		t.Fatalf("expected no-op, got restored=%v errs=%v", fr.restored, res.Errs)
	}
	// A second pass stays a no-op.
	res = eng.Rollback(context.Background(), cp)
	if res.Partial() || len(res.RestoredFiles) != 0 {
		t.Fatalf("second pass not idempotent: %v", res.Errs)
	}
}

func TestRollbackHonorsMaxDepth(t *testing.T) {
	t.Parallel()

	m := NewManager(nil, nil)
	cp := m.Create(Policy{AutoRollback: true, MaxDepth: 2})
	_ = m.Record(cp, "t1", changeResult(tool.FileChange{Path: "a.js", BackupID: "b1"}))
	_ = m.Record(cp, "t2", changeResult(tool.FileChange{Path: "b.js", BackupID: "b2"}))
	_ = m.Record(cp, "t3", changeResult(tool.FileChange{Path: "c.js", BackupID: "b3"}))

	fr := &fakeRestorer{}
	eng := NewEngine(fr, m, nil, nil)
	res := eng.Rollback(context.Background(), cp)

	if res.Partial() {
		t.Fatalf("unexpected failures: %v", res.Errs)
	}
	if len(fr.restored) != 2 || fr.restored[0] != "b3" || fr.restored[1] != "b2" {
		t.Fatalf("restored got=%v, want=[b3 b2]", fr.restored)
	}
}

func TestRecordVerification(t *testing.T) {
	t.Parallel()

	m := NewManager(nil, nil)
	cp := m.Create(DefaultPolicy())
	m.RecordVerification(cp, "t1", VerificationResult{Check: "syntax_check", Passed: true})
	m.RecordVerification(cp, "t1", VerificationResult{Check: "build_test", Passed: false, Detail: "missing file"})

	vs := cp.Verifications("t1")
	if len(vs) != 2 {
		t.Fatalf("verifications len got=%d, want=2", len(vs))
	}
	if vs[1].Check != "build_test" || vs[1].Passed {
		t.Fatalf("verifications[1] got=%+v", vs[1])
	}
}

func TestRollbackPreservesExternallyModifiedFiles(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "notes.md")
	if err := os.WriteFile(path, []byte("tool wrote this"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	m := NewManager(nil, nil)
	cp := m.Create(DefaultPolicy())
	// The journaled write predates the file's current mtime, so the file
	// was changed after the run touched it.
	res := changeResult(tool.FileChange{Path: path, BackupID: "b1"})
	res.AtUnixMs = time.Now().Add(-time.Hour).UnixMilli()
	_ = m.Record(cp, "t1", res)

	fr := &fakeRestorer{}
	eng := NewEngine(fr, m, nil, nil)
	out := eng.Rollback(context.Background(), cp)

	if len(fr.restored) != 0 {
		t.Fatalf("restored got=%v, want none", fr.restored)
	}
	if len(out.SkippedFiles) != 1 || out.SkippedFiles[0] != path {
		t.Fatalf("skipped got=%v, want=[%s]", out.SkippedFiles, path)
	}
	if out.Partial() {
		t.Fatalf("skips are not failures: %v", out.Errs)
	}
}

func TestRollbackRestoresWhenPreserveDisabled(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "notes.md")
	if err := os.WriteFile(path, []byte("tool wrote this"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	m := NewManager(nil, nil)
	cp := m.Create(Policy{AutoRollback: true})
	res := changeResult(tool.FileChange{Path: path, BackupID: "b1"})
	res.AtUnixMs = time.Now().Add(-time.Hour).UnixMilli()
	_ = m.Record(cp, "t1", res)

	fr := &fakeRestorer{}
	eng := NewEngine(fr, m, nil, nil)
	out := eng.Rollback(context.Background(), cp)

	if len(fr.restored) != 1 || fr.restored[0] != "b1" {
		t.Fatalf("restored got=%v, want=[b1]", fr.restored)
	}
	if len(out.SkippedFiles) != 0 {
		t.Fatalf("skipped got=%v, want none", out.SkippedFiles)
	}
}

func TestRollbackRestoresUnmodifiedFilesUnderPreserve(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "notes.md")
	if err := os.WriteFile(path, []byte("tool wrote this"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	m := NewManager(nil, nil)
	cp := m.Create(DefaultPolicy())
	// Journaled after the write, as in a live run: mtime <= record time.
	res := changeResult(tool.FileChange{Path: path, BackupID: "b1"})
	res.AtUnixMs = time.Now().Add(time.Second).UnixMilli()
	_ = m.Record(cp, "t1", res)

	fr := &fakeRestorer{}
	eng := NewEngine(fr, m, nil, nil)
	out := eng.Rollback(context.Background(), cp)

	if len(fr.restored) != 1 {
		t.Fatalf("restored got=%v, want=[b1]", fr.restored)
	}
	if len(out.SkippedFiles) != 0 {
		t.Fatalf("skipped got=%v, want none", out.SkippedFiles)
	}
}
