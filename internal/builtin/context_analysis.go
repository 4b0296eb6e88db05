package builtin

import (
	"context"
	"os"
	"sort"
	"time"

	"github.com/guestflow/cottage-agent/internal/tool"
)

// newContextAnalysis builds the tool every run starts with: a shallow
// workspace profile the later tasks key off.
func newContextAnalysis(opts Options) *tool.Descriptor {
	return &tool.Descriptor{
		Name:        "context-analysis",
		Description: "Profile the workspace: project kind, top-level layout.",
		Inputs:      []string{"request"},
		Outputs:     []string{"context"},
		Timeout:     10 * time.Second,
		FailureModes: []tool.FailureMode{
			{Name: "workspace_unreadable", Match: "permission denied"},
			{Name: "workspace_missing", Match: "no such file"},
		},
		Handler: func(ctx context.Context, inputs map[string]any) (map[string]any, error) {
			ents, err := os.ReadDir(opts.WorkspaceRoot)
			if err != nil {
				return nil, err
			}

			names := make([]string, 0, len(ents))
			var fileCount int
			for _, ent := range ents {
				if ent.IsDir() && isExcludedDirName(ent.Name()) {
					continue
				}
				if !ent.IsDir() {
					fileCount++
				}
				names = append(names, ent.Name())
			}
			sort.Strings(names)

			return map[string]any{
				"context": map[string]any{
					"workspace_root": opts.WorkspaceRoot,
					"project_kind":   detectProjectKind(names),
					"entries":        names,
					"file_count":     fileCount,
				},
				"satisfies": []string{"context_loaded"},
			}, nil
		},
	}
}

func detectProjectKind(topLevel []string) string {
	has := make(map[string]bool, len(topLevel))
	for _, name := range topLevel {
		has[name] = true
	}
	switch {
	case has["package.json"]:
		return "node"
	case has["go.mod"]:
		return "go"
	case has["requirements.txt"] || has["pyproject.toml"]:
		return "python"
	case has["index.html"]:
		return "static"
	default:
		return "unknown"
	}
}
