// Package tool provides the tool catalog and the invocation envelope used by
// the assistant's task orchestrator: a registry of named capabilities and an
// invoker that runs a single handler under timeout/cancellation, classifies
// failures against the tool's declared failure modes, and sanitizes payloads
// before anything is logged.
package tool

import (
	"context"
	"time"
)

// Handler executes one tool call. Implementations may do file I/O, run a
// command, or call out over the network; the engine only sees the contract.
type Handler func(ctx context.Context, inputs map[string]any) (map[string]any, error)

// FailureMode is a declared, nameable way a tool can fail.
//
// Match is the substring looked for in a handler error (case-insensitive).
// When empty, the mode name itself is used as the match text.
type FailureMode struct {
	Name  string `json:"name"`
	Match string `json:"match,omitempty"`
}

// Descriptor describes one registered tool. Immutable after registration;
// call/error counters are owned by the Registry and live outside of it.
type Descriptor struct {
	Name           string        `json:"name"`
	Description    string        `json:"description,omitempty"`
	Inputs         []string      `json:"inputs,omitempty"`
	Outputs        []string      `json:"outputs,omitempty"`
	HasSideEffects bool          `json:"has_side_effects"`
	FailureModes   []FailureMode `json:"failure_modes,omitempty"`
	Timeout        time.Duration `json:"timeout,omitempty"`

	Handler Handler `json:"-"`
}

// Stats is a snapshot of a descriptor's lifetime counters.
type Stats struct {
	Calls              int64   `json:"calls"`
	Errors             int64   `json:"errors"`
	SuccessRate        float64 `json:"success_rate"`
	LastCalledAtUnixMs int64   `json:"last_called_at_unix_ms,omitempty"`
}

// FileChange reports one filesystem side effect of a tool call. BackupID is
// the opaque identifier issued by the file-backup collaborator before the
// change was applied.
type FileChange struct {
	Path     string `json:"path"`
	BackupID string `json:"backup_id"`
}

// InvocationResult is the normalized outcome of one tool call. Produced once
// per invocation and never mutated afterwards.
type InvocationResult struct {
	ToolName   string         `json:"tool_name"`
	Success    bool           `json:"success"`
	Cancelled  bool           `json:"cancelled,omitempty"`
	Data       map[string]any `json:"data,omitempty"`
	Error      *Error         `json:"error,omitempty"`
	Satisfies  []string       `json:"satisfies,omitempty"`
	Changes    []FileChange   `json:"changes,omitempty"`
	DurationMs int64          `json:"duration_ms"`
	AtUnixMs   int64          `json:"at_unix_ms"`
}
