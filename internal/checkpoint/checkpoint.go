// Package checkpoint tracks the file-change journal and per-task progress of
// one orchestration run, and replays that journal in reverse to undo a failed
// run's filesystem side effects.
package checkpoint

import (
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/guestflow/cottage-agent/internal/tool"
)

// Policy controls how a run's checkpoint is rolled back.
type Policy struct {
	// AutoRollback triggers rollback on any PROVE/VERIFY failure.
	AutoRollback bool `json:"auto_rollback"`
	// MaxDepth caps how many journal entries one rollback pass may replay.
	// Zero means unlimited.
	MaxDepth int `json:"max_depth,omitempty"`
	// PreserveUserFiles skips restoring a file whose on-disk copy changed
	// after the run's last journaled write to it. Edits made outside the
	// run survive the rollback instead of being clobbered.
	PreserveUserFiles bool `json:"preserve_user_files"`
}

func DefaultPolicy() Policy {
	return Policy{AutoRollback: true, PreserveUserFiles: true}
}

// FileChangeRecord is one journal entry: a file a task changed and the backup
// issued before the change was applied. Appended only; consumed by the
// rollback engine in reverse insertion order.
type FileChangeRecord struct {
	Path     string `json:"path"`
	BackupID string `json:"backup_id"`
	TaskID   string `json:"task_id"`
	// AtUnixMs is when the change was applied; rollback compares it
	// against the file's mtime to detect edits made outside the run.
	AtUnixMs int64 `json:"at_unix_ms"`
}

// VerificationResult records the outcome of one named check for a task.
type VerificationResult struct {
	Check    string `json:"check"`
	Passed   bool   `json:"passed"`
	Detail   string `json:"detail,omitempty"`
	AtUnixMs int64  `json:"at_unix_ms"`
}

// Checkpoint is the journal of file changes and task progress for one run.
// It is owned exclusively by the run that created it; no two concurrent runs
// ever share one, so there is no internal locking.
type Checkpoint struct {
	ID              string
	CreatedAtUnixMs int64
	Policy          Policy

	journal       []FileChangeRecord
	results       map[string]tool.InvocationResult
	verifications map[string][]VerificationResult
}

// Journal returns a copy of the file-change journal in insertion order.
func (c *Checkpoint) Journal() []FileChangeRecord {
	if c == nil {
		return nil
	}
	return append([]FileChangeRecord(nil), c.journal...)
}

// Result returns the recorded execution result for a task id.
func (c *Checkpoint) Result(taskID string) (tool.InvocationResult, bool) {
	if c == nil || c.results == nil {
		return tool.InvocationResult{}, false
	}
	res, ok := c.results[strings.TrimSpace(taskID)]
	return res, ok
}

// Verifications returns the recorded check outcomes for a task id.
func (c *Checkpoint) Verifications(taskID string) []VerificationResult {
	if c == nil || c.verifications == nil {
		return nil
	}
	return append([]VerificationResult(nil), c.verifications[strings.TrimSpace(taskID)]...)
}

// Manager creates and maintains checkpoints on behalf of the task executor.
type Manager struct {
	log  *slog.Logger
	sink tool.EventSink
}

func NewManager(log *slog.Logger, sink tool.EventSink) *Manager {
	if log == nil {
		log = slog.Default()
	}
	return &Manager{log: log.With("component", "checkpoint"), sink: sink}
}

// Create returns a fresh checkpoint with an empty journal.
func (m *Manager) Create(policy Policy) *Checkpoint {
	cp := &Checkpoint{
		ID:              "cp_" + uuid.NewString(),
		CreatedAtUnixMs: time.Now().UnixMilli(),
		Policy:          policy,
		results:         make(map[string]tool.InvocationResult),
		verifications:   make(map[string][]VerificationResult),
	}
	if m != nil {
		m.log.Debug("checkpoint created", "checkpoint_id", cp.ID)
		m.emit("checkpoint.create", map[string]any{"checkpoint_id": cp.ID})
	}
	return cp
}

// Record appends a task's execution result and, when the result carries file
// changes, the corresponding journal entries in the order produced.
// Append-only: nothing recorded earlier is modified.
func (m *Manager) Record(cp *Checkpoint, taskID string, res tool.InvocationResult) error {
	if cp == nil {
		return errors.New("nil checkpoint")
	}
	taskID = strings.TrimSpace(taskID)
	if taskID == "" {
		return errors.New("missing task id")
	}
	if cp.results == nil {
		cp.results = make(map[string]tool.InvocationResult)
	}
	cp.results[taskID] = res

	at := res.AtUnixMs
	if at == 0 {
		at = time.Now().UnixMilli()
	}
	for _, ch := range res.Changes {
		path := strings.TrimSpace(ch.Path)
		if path == "" {
			continue
		}
		cp.journal = append(cp.journal, FileChangeRecord{
			Path:     path,
			BackupID: strings.TrimSpace(ch.BackupID),
			TaskID:   taskID,
			AtUnixMs: at,
		})
	}

	if m != nil {
		m.emit("checkpoint.record", map[string]any{
			"checkpoint_id": cp.ID,
			"task_id":       taskID,
			"success":       res.Success,
			"file_changes":  len(res.Changes),
		})
	}
	return nil
}

// RecordVerification appends one named-check outcome for a task.
func (m *Manager) RecordVerification(cp *Checkpoint, taskID string, vr VerificationResult) {
	if cp == nil {
		return
	}
	taskID = strings.TrimSpace(taskID)
	if cp.verifications == nil {
		cp.verifications = make(map[string][]VerificationResult)
	}
	cp.verifications[taskID] = append(cp.verifications[taskID], vr)
}

// Clear empties the journal and progress maps. Called by the owning run
// after a rollback or at normal completion; never during execution.
func (m *Manager) Clear(cp *Checkpoint) {
	if cp == nil {
		return
	}
	cp.journal = nil
	cp.results = make(map[string]tool.InvocationResult)
	cp.verifications = make(map[string][]VerificationResult)
	if m != nil {
		m.log.Debug("checkpoint cleared", "checkpoint_id", cp.ID)
		m.emit("checkpoint.clear", map[string]any{"checkpoint_id": cp.ID})
	}
}

func (m *Manager) emit(kind string, fields map[string]any) {
	if m == nil || m.sink == nil {
		return
	}
	m.sink.Emit(kind, fields)
}
