package task

import (
	"log/slog"
	"strings"

	"github.com/guestflow/cottage-agent/internal/tool"
)

// Decomposer maps a user request onto an ordered task plan.
type Decomposer struct {
	vocab Vocabulary
	log   *slog.Logger
}

func NewDecomposer(vocab Vocabulary, log *slog.Logger) *Decomposer {
	if log == nil {
		log = slog.Default()
	}
	vocab.normalize()
	return &Decomposer{vocab: vocab, log: log.With("component", "decomposer")}
}

// Decompose builds the plan for one request. The plan always opens with a
// context-analysis task; recognized intents append their tasks after it in
// priority order. A request with no recognized intent still yields the
// context-analysis task, so the run can at least report what the workspace
// looks like. A blank request is refused.
//
// runContext is the caller's run-scoped data (patch edits, probe ports). It
// is consumed by the tools at execution time; task selection itself is
// keyword-driven.
func (d *Decomposer) Decompose(request string, runContext map[string]any) ([]Task, error) {
	trimmed := strings.TrimSpace(request)
	if trimmed == "" {
		return nil, &tool.Error{
			Code:    tool.ErrorCodeDecompositionFailed,
			Message: "empty request",
		}
	}
	tokens := requestTokens(trimmed)

	fileIntent := containsAny(tokens, d.vocab.File)
	editIntent := containsAny(tokens, d.vocab.Edit)
	serverIntent := containsAny(tokens, d.vocab.Server)

	tasks := []Task{
		newTask(TypeContextAnalysis, "load workspace context", 0, nil),
	}
	// Editing implies locating the target first, so edit intent carries
	// the search task even without an explicit search keyword.
	if fileIntent || editIntent {
		tasks = append(tasks, newTask(TypeFileSearch, "locate files relevant to the request", 1, []string{TypeContextAnalysis}))
	}
	if editIntent {
		tasks = append(tasks, newTask(TypeFilePatch, "apply requested file changes", 2, []string{TypeFileSearch}))
	}
	if serverIntent {
		tasks = append(tasks, newTask(TypeDevServer, "check the development server", 3, []string{TypeContextAnalysis}))
	}

	d.log.Debug("request decomposed",
		"tasks", len(tasks),
		"file_intent", fileIntent,
		"edit_intent", editIntent,
		"server_intent", serverIntent,
		"context_keys", len(runContext))
	return tasks, nil
}
