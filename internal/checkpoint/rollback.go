package checkpoint

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/guestflow/cottage-agent/internal/tool"
)

// Restorer puts a single backed-up file back the way it was.
// *backup.Store satisfies it.
type Restorer interface {
	Restore(ctx context.Context, backupID string) error
}

// RollbackResult reports what a rollback pass actually did. Errs holds one
// entry per journal record that could not be restored; restoration continues
// past individual failures so later records still get their chance.
// SkippedFiles lists paths left alone because they were modified outside the
// run and the policy preserves user files.
type RollbackResult struct {
	CheckpointID  string
	RestoredFiles []string
	SkippedFiles  []string
	Errs          []error
}

// Partial reports whether some, but not all, records were restored cleanly.
func (r RollbackResult) Partial() bool {
	return len(r.Errs) > 0
}

// Err folds the collected failures into a single ROLLBACK_PARTIAL error,
// or nil when every record restored cleanly.
func (r RollbackResult) Err() error {
	if len(r.Errs) == 0 {
		return nil
	}
	msgs := make([]string, 0, len(r.Errs))
	for _, e := range r.Errs {
		msgs = append(msgs, e.Error())
	}
	return &tool.Error{
		Code:    tool.ErrorCodeRollbackPartial,
		Message: fmt.Sprintf("rollback restored %d file(s) with %d failure(s): %s", len(r.RestoredFiles), len(r.Errs), strings.Join(msgs, "; ")),
	}
}

// Engine replays a checkpoint's journal in reverse to undo the filesystem
// effects of a failed run.
type Engine struct {
	restorer Restorer
	manager  *Manager
	log      *slog.Logger
	sink     tool.EventSink
}

func NewEngine(restorer Restorer, manager *Manager, log *slog.Logger, sink tool.EventSink) *Engine {
	if log == nil {
		log = slog.Default()
	}
	return &Engine{
		restorer: restorer,
		manager:  manager,
		log:      log.With("component", "rollback"),
		sink:     sink,
	}
}

// Rollback restores every journaled file change in reverse insertion order,
// so a file touched by several tasks ends up with its oldest backup. Each
// failure is collected rather than aborting the pass. The checkpoint is
// cleared afterwards whether or not every restore succeeded; retrying a
// half-done rollback against stale journal entries would clobber the files
// that did restore.
func (e *Engine) Rollback(ctx context.Context, cp *Checkpoint) RollbackResult {
	res := RollbackResult{}
	if cp == nil {
		return res
	}
	res.CheckpointID = cp.ID

	records := cp.journal
	if max := cp.Policy.MaxDepth; max > 0 && len(records) > max {
		records = records[len(records)-max:]
	}

	e.emit("rollback.begin", map[string]any{
		"checkpoint_id": cp.ID,
		"records":       len(records),
	})

	// With PreserveUserFiles, a file modified after the run's last journaled
	// write to it belongs to the user now; every record for it is skipped.
	var lastWrite map[string]int64
	if cp.Policy.PreserveUserFiles {
		lastWrite = make(map[string]int64, len(records))
		for _, rec := range records {
			if rec.AtUnixMs > lastWrite[rec.Path] {
				lastWrite[rec.Path] = rec.AtUnixMs
			}
		}
	}

	seen := make(map[string]bool, len(records))
	skipped := make(map[string]bool)
	for i := len(records) - 1; i >= 0; i-- {
		rec := records[i]
		if lastWrite != nil && modifiedSince(rec.Path, lastWrite[rec.Path]) {
			if !skipped[rec.Path] {
				skipped[rec.Path] = true
				res.SkippedFiles = append(res.SkippedFiles, rec.Path)
				e.log.Info("restore skipped, file modified outside the run", "path", rec.Path)
			}
			continue
		}
		if rec.BackupID == "" {
			res.Errs = append(res.Errs, fmt.Errorf("restore %s: no backup recorded", rec.Path))
			continue
		}
		if err := e.restorer.Restore(ctx, rec.BackupID); err != nil {
			res.Errs = append(res.Errs, fmt.Errorf("restore %s: %w", rec.Path, err))
			e.log.Warn("restore failed", "path", rec.Path, "backup_id", rec.BackupID, "error", err)
			continue
		}
		if !seen[rec.Path] {
			seen[rec.Path] = true
			res.RestoredFiles = append(res.RestoredFiles, rec.Path)
		}
	}

	if e.manager != nil {
		e.manager.Clear(cp)
	} else {
		cp.journal = nil
	}

	e.log.Info("rollback finished",
		"checkpoint_id", cp.ID,
		"restored", len(res.RestoredFiles),
		"skipped", len(res.SkippedFiles),
		"failures", len(res.Errs))
	e.emit("rollback.end", map[string]any{
		"checkpoint_id": cp.ID,
		"restored":      len(res.RestoredFiles),
		"skipped":       len(res.SkippedFiles),
		"failures":      len(res.Errs),
	})
	return res
}

// modifiedSince reports whether the file at path was written after the given
// time. A missing or unreadable file is treated as unmodified so the restore
// can still run.
func modifiedSince(path string, sinceUnixMs int64) bool {
	if sinceUnixMs <= 0 {
		return false
	}
	st, err := os.Stat(path)
	if err != nil {
		return false
	}
	return st.ModTime().UnixMilli() > sinceUnixMs
}

func (e *Engine) emit(kind string, fields map[string]any) {
	if e == nil || e.sink == nil {
		return
	}
	e.sink.Emit(kind, fields)
}
