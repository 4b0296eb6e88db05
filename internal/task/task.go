// Package task turns a free-form user request into an ordered list of
// executable tasks. Requests arrive in Georgian or English; recognition is
// keyword-driven and deterministic.
package task

import (
	"strings"

	"github.com/google/uuid"
)

// Known task types. Each maps 1:1 onto a registered tool name.
const (
	TypeContextAnalysis = "context-analysis"
	TypeFileSearch      = "file-search"
	TypeFilePatch       = "file-patch"
	TypeDevServer       = "dev-server"
)

// Task is one unit of work in a run plan.
type Task struct {
	ID          string `json:"id"`
	Type        string `json:"type"`
	Description string `json:"description"`
	Priority    int    `json:"priority"`
	// Preconditions name task types that must have completed before this
	// task may act.
	Preconditions []string `json:"preconditions,omitempty"`
	// Verifications name the checks that must pass after this task acts.
	Verifications []string `json:"verifications,omitempty"`
}

func newTask(typ, description string, priority int, preconditions []string) Task {
	return Task{
		ID:            "task_" + uuid.NewString(),
		Type:          typ,
		Description:   strings.TrimSpace(description),
		Priority:      priority,
		Preconditions: preconditions,
		Verifications: verificationsFor(typ),
	}
}

// verificationsFor returns the named checks the executor runs after a task
// of the given type.
func verificationsFor(typ string) []string {
	switch typ {
	case TypeContextAnalysis:
		return []string{"context_loaded"}
	case TypeFileSearch:
		return []string{"results_recorded"}
	case TypeFilePatch:
		return []string{"syntax_check", "typescript_check", "build_test"}
	case TypeDevServer:
		return []string{"server_probe"}
	default:
		return nil
	}
}
