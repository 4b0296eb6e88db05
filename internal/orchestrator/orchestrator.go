// Package orchestrator drives one request end to end: decompose into tasks,
// walk each task through its state machine, and roll back filesystem effects
// when a task cannot prove its preconditions or verify its results.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/guestflow/cottage-agent/internal/checkpoint"
	"github.com/guestflow/cottage-agent/internal/task"
	"github.com/guestflow/cottage-agent/internal/tool"
)

// Task states. Transitions are strictly forward except the failure path,
// which moves through RollingBack to Failed.
const (
	StatePlanned     = "planned"
	StateProving     = "proving"
	StateActing      = "acting"
	StateVerifying   = "verifying"
	StateCompleted   = "completed"
	StateRollingBack = "rolling_back"
	StateFailed      = "failed"
)

// Failure phases reported on RunError.
const (
	PhaseDecompose = "DECOMPOSE"
	PhaseProve     = "PROVE"
	PhaseAct       = "ACT"
	PhaseVerify    = "VERIFY"
)

// TaskReport is the per-task slice of a run report.
type TaskReport struct {
	TaskID   string      `json:"task_id"`
	Type     string      `json:"type"`
	State    string      `json:"state"`
	Error    *tool.Error `json:"error,omitempty"`
	Duration int64       `json:"duration_ms"`
}

// RunError describes why a run failed and what the rollback did about it.
type RunError struct {
	Code     tool.ErrorCode `json:"code"`
	Phase    string         `json:"phase"`
	TaskType string         `json:"task_type,omitempty"`
	Message  string         `json:"message"`

	RolledBack      bool     `json:"rolled_back"`
	RestoredFiles   []string `json:"restored_files,omitempty"`
	RollbackPartial bool     `json:"rollback_partial,omitempty"`
}

func (e *RunError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s (%s): %s", e.Code, e.Phase, e.Message)
}

// Report is the outcome of one Process call.
type Report struct {
	RunID      string       `json:"run_id"`
	Success    bool         `json:"success"`
	Response   string       `json:"response"`
	Tasks      []TaskReport `json:"tasks"`
	Err        *RunError    `json:"error,omitempty"`
	DurationMs int64        `json:"duration_ms"`
}

// Options wires an Engine.
type Options struct {
	Registry   *tool.Registry
	Invoker    *tool.Invoker
	Decomposer *task.Decomposer
	Checkpoint *checkpoint.Manager
	Rollback   *checkpoint.Engine
	// Policy controls automatic rollback for each run's checkpoint.
	Policy checkpoint.Policy
	// WorkspaceRoot anchors the post-act verification checks.
	WorkspaceRoot string
	// TaskTimeout is the per-task caller budget. Zero leaves only the
	// descriptor timeouts and the invoker ceiling in effect.
	TaskTimeout time.Duration

	Log  *slog.Logger
	Sink tool.EventSink
}

// Engine executes one request at a time per call; calls are independent and
// safe to run concurrently because each owns its checkpoint.
type Engine struct {
	registry    *tool.Registry
	invoker     *tool.Invoker
	decomposer  *task.Decomposer
	checkpoints *checkpoint.Manager
	rollback    *checkpoint.Engine
	verifiers   map[string]Verifier
	policy      checkpoint.Policy
	taskTimeout time.Duration

	log  *slog.Logger
	sink tool.EventSink
}

func New(opts Options) (*Engine, error) {
	if opts.Registry == nil || opts.Invoker == nil || opts.Decomposer == nil {
		return nil, errors.New("missing registry, invoker, or decomposer")
	}
	if opts.Checkpoint == nil || opts.Rollback == nil {
		return nil, errors.New("missing checkpoint manager or rollback engine")
	}
	log := opts.Log
	if log == nil {
		log = slog.Default()
	}
	return &Engine{
		registry:    opts.Registry,
		invoker:     opts.Invoker,
		decomposer:  opts.Decomposer,
		checkpoints: opts.Checkpoint,
		rollback:    opts.Rollback,
		verifiers:   builtinVerifiers(opts.WorkspaceRoot),
		policy:      opts.Policy,
		taskTimeout: opts.TaskTimeout,
		log:         log.With("component", "orchestrator"),
		sink:        opts.Sink,
	}, nil
}

// Process handles one user request: decompose, execute, report.
// runContext carries caller-supplied data the tools consume (patch edits,
// probe ports); it is never mutated.
func (e *Engine) Process(ctx context.Context, request string, runContext map[string]any) Report {
	started := time.Now()
	runID := "run_" + uuid.NewString()

	plan, err := e.decomposer.Decompose(request, runContext)
	if err != nil {
		var terr *tool.Error
		re := &RunError{Code: tool.ErrorCodeDecompositionFailed, Phase: PhaseDecompose, Message: err.Error()}
		if errors.As(err, &terr) {
			re.Code = terr.Code
			re.Message = terr.Message
		}
		return Report{
			RunID:      runID,
			Response:   "could not understand the request",
			Err:        re,
			DurationMs: time.Since(started).Milliseconds(),
		}
	}

	rep := e.Run(ctx, plan, request, runContext)
	rep.RunID = runID
	rep.DurationMs = time.Since(started).Milliseconds()
	return rep
}

// Run executes an already-decomposed plan in order.
func (e *Engine) Run(ctx context.Context, plan []task.Task, request string, runContext map[string]any) Report {
	if ctx == nil {
		ctx = context.Background()
	}
	rep := Report{Tasks: make([]TaskReport, 0, len(plan))}
	cp := e.checkpoints.Create(e.policy)

	completed := make(map[string]bool, len(plan))
	satisfied := make(map[string]bool)
	prior := make(map[string]tool.InvocationResult, len(plan))

	e.emit("run.begin", map[string]any{"checkpoint_id": cp.ID, "tasks": len(plan)})

	for _, t := range plan {
		tr := TaskReport{TaskID: t.ID, Type: t.Type, State: StatePlanned}
		taskStart := time.Now()

		// PROVE
		tr.State = StateProving
		if missing := unmetPrecondition(t, completed, satisfied); missing != "" {
			tr.State = StateFailed
			tr.Error = &tool.Error{
				Code:     tool.ErrorCodePreconditionFailed,
				Message:  fmt.Sprintf("precondition %q not met", missing),
				ToolName: t.Type,
			}
			tr.Duration = time.Since(taskStart).Milliseconds()
			rep.Tasks = append(rep.Tasks, tr)
			rep.Err = e.fail(ctx, cp, &rep, PhaseProve, t.Type, tr.Error)
			return rep
		}

		// ACT
		tr.State = StateActing
		inputs := e.buildInputs(t, request, runContext, prior)
		res, err := e.invoker.Invoke(ctx, t.Type, inputs, tool.InvokeOptions{Timeout: e.taskTimeout})
		if err != nil {
			// Unknown tool or invoker misuse: nothing ran, nothing to journal.
			tr.State = StateFailed
			code := tool.ErrorCodeUnknown
			if errors.Is(err, tool.ErrUnknownTool) {
				code = tool.ErrorCodeUnknownTool
			}
			tr.Error = &tool.Error{Code: code, Message: err.Error(), ToolName: t.Type}
			tr.Duration = time.Since(taskStart).Milliseconds()
			rep.Tasks = append(rep.Tasks, tr)
			rep.Err = e.fail(ctx, cp, &rep, PhaseAct, t.Type, tr.Error)
			return rep
		}
		if rerr := e.checkpoints.Record(cp, t.ID, res); rerr != nil {
			e.log.Warn("checkpoint record failed", "task_id", t.ID, "error", rerr)
		}
		if !res.Success {
			tr.State = StateFailed
			tr.Error = res.Error
			tr.Duration = time.Since(taskStart).Milliseconds()
			rep.Tasks = append(rep.Tasks, tr)
			rep.Err = e.fail(ctx, cp, &rep, PhaseAct, t.Type, res.Error)
			return rep
		}

		// VERIFY
		tr.State = StateVerifying
		if verr := e.verify(ctx, cp, t, res); verr != nil {
			tr.State = StateFailed
			tr.Error = verr
			tr.Duration = time.Since(taskStart).Milliseconds()
			rep.Tasks = append(rep.Tasks, tr)
			rep.Err = e.fail(ctx, cp, &rep, PhaseVerify, t.Type, verr)
			return rep
		}

		tr.State = StateCompleted
		tr.Duration = time.Since(taskStart).Milliseconds()
		rep.Tasks = append(rep.Tasks, tr)

		completed[t.Type] = true
		for _, tag := range res.Satisfies {
			satisfied[tag] = true
		}
		prior[t.Type] = res
	}

	e.checkpoints.Clear(cp)
	rep.Success = true
	rep.Response = summarize(rep.Tasks)
	e.emit("run.end", map[string]any{"checkpoint_id": cp.ID, "success": true, "tasks": len(rep.Tasks)})
	return rep
}

// fail rolls back the run's journal (when the policy allows) and folds the
// trigger into a RunError.
func (e *Engine) fail(ctx context.Context, cp *checkpoint.Checkpoint, rep *Report, phase, taskType string, cause *tool.Error) *RunError {
	re := &RunError{Phase: phase, TaskType: taskType, Message: "task failed"}
	if cause != nil {
		re.Code = cause.Code
		re.Message = cause.Message
	}
	if re.Code == "" {
		re.Code = tool.ErrorCodeUnknown
	}

	if cp.Policy.AutoRollback && len(cp.Journal()) > 0 {
		markRollingBack(rep)
		rbRes := e.rollback.Rollback(ctx, cp)
		re.RolledBack = true
		re.RestoredFiles = rbRes.RestoredFiles
		re.RollbackPartial = rbRes.Partial()
		if rbRes.Partial() {
			re.Code = tool.ErrorCodeRollbackPartial
			re.Message = rbRes.Err().Error() + "; trigger: " + re.Message
		}
	} else {
		e.checkpoints.Clear(cp)
	}
	markFailed(rep)

	rep.Response = "request failed: " + re.Message
	e.log.Warn("run failed", "phase", phase, "task_type", taskType, "code", string(re.Code), "rolled_back", re.RolledBack)
	e.emit("run.end", map[string]any{
		"checkpoint_id": cp.ID,
		"success":       false,
		"phase":         phase,
		"code":          string(re.Code),
		"rolled_back":   re.RolledBack,
	})
	return re
}

// verify runs every named check for a task. A check already satisfied by the
// tool's own result tags passes without its verifier running.
func (e *Engine) verify(ctx context.Context, cp *checkpoint.Checkpoint, t task.Task, res tool.InvocationResult) *tool.Error {
	tags := make(map[string]bool, len(res.Satisfies))
	for _, tag := range res.Satisfies {
		tags[tag] = true
	}

	for _, check := range t.Verifications {
		vr := checkpoint.VerificationResult{Check: check, AtUnixMs: time.Now().UnixMilli()}
		if tags[check] {
			vr.Passed = true
			e.checkpoints.RecordVerification(cp, t.ID, vr)
			continue
		}
		verifier, ok := e.verifiers[check]
		if !ok {
			vr.Detail = "no verifier registered"
			e.checkpoints.RecordVerification(cp, t.ID, vr)
			return &tool.Error{
				Code:     tool.ErrorCodeVerificationFailed,
				Message:  fmt.Sprintf("check %q has no verifier", check),
				ToolName: t.Type,
			}
		}
		if err := verifier(ctx, res); err != nil {
			vr.Detail = err.Error()
			e.checkpoints.RecordVerification(cp, t.ID, vr)
			return &tool.Error{
				Code:        tool.ErrorCodeVerificationFailed,
				FailureMode: check,
				Message:     fmt.Sprintf("check %q failed: %v", check, err),
				ToolName:    t.Type,
			}
		}
		vr.Passed = true
		e.checkpoints.RecordVerification(cp, t.ID, vr)
	}
	return nil
}

// buildInputs assembles a task's tool inputs from the request, the caller's
// run context, and earlier task results.
func (e *Engine) buildInputs(t task.Task, request string, runContext map[string]any, prior map[string]tool.InvocationResult) map[string]any {
	inputs := map[string]any{"request": request}
	if len(runContext) > 0 {
		inputs["context"] = runContext
	}

	switch t.Type {
	case task.TypeFilePatch:
		if edits, ok := runContext["edits"]; ok {
			inputs["edits"] = edits
			break
		}
		// No explicit edits: patch the first located file with the
		// caller-supplied content.
		content, _ := runContext["content"].(string)
		if search, ok := prior[task.TypeFileSearch]; ok {
			if results, ok := search.Data["results"].([]string); ok && len(results) > 0 && content != "" {
				inputs["path"] = results[0]
				inputs["content"] = content
			}
		}
	case task.TypeDevServer:
		if port, ok := runContext["port"]; ok {
			inputs["port"] = port
		}
	}
	return inputs
}

func unmetPrecondition(t task.Task, completed, satisfied map[string]bool) string {
	for _, p := range t.Preconditions {
		if !completed[p] && !satisfied[p] {
			return p
		}
	}
	return ""
}

func markRollingBack(rep *Report) {
	for i := range rep.Tasks {
		if rep.Tasks[i].State == StateCompleted {
			rep.Tasks[i].State = StateRollingBack
		}
	}
}

func markFailed(rep *Report) {
	for i := range rep.Tasks {
		if rep.Tasks[i].State == StateRollingBack {
			rep.Tasks[i].State = StateFailed
		}
	}
}

func summarize(tasks []TaskReport) string {
	types := make([]string, 0, len(tasks))
	for _, t := range tasks {
		types = append(types, t.Type)
	}
	return fmt.Sprintf("completed %d task(s): %s", len(tasks), strings.Join(types, ", "))
}

func (e *Engine) emit(kind string, fields map[string]any) {
	if e == nil || e.sink == nil {
		return
	}
	e.sink.Emit(kind, fields)
}
