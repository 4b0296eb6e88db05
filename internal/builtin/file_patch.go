package builtin

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/guestflow/cottage-agent/internal/tool"
)

// newFilePatch builds the only builtin with side effects. Every target file
// is backed up before the write, and the backup ids travel back through the
// result's file_changes so the run journal can undo the patch.
func newFilePatch(opts Options) *tool.Descriptor {
	return &tool.Descriptor{
		Name:           "file-patch",
		Description:    "Write requested changes to workspace files, backing each file up first.",
		Inputs:         []string{"edits"},
		Outputs:        []string{"patched"},
		HasSideEffects: true,
		Timeout:        10 * time.Second,
		FailureModes: []tool.FailureMode{
			{Name: "permission_denied", Match: "permission denied"},
			{Name: "path_escape", Match: "escapes workspace root"},
			{Name: "backup_failed", Match: "backup"},
		},
		Handler: func(ctx context.Context, inputs map[string]any) (map[string]any, error) {
			edits, err := parseEdits(inputs)
			if err != nil {
				return nil, err
			}
			if opts.Backups == nil {
				return nil, errors.New("backup store unavailable")
			}

			var patched []string
			var changes []map[string]any
			for _, ed := range edits {
				target, err := resolveWithinRoot(opts.WorkspaceRoot, ed.path)
				if err != nil {
					return map[string]any{"file_changes": changes}, fmt.Errorf("%s: %w", ed.path, err)
				}

				backupID, err := opts.Backups.Backup(ctx, target)
				if err != nil {
					return map[string]any{"file_changes": changes}, fmt.Errorf("backup %s: %w", ed.path, err)
				}
				// The backup exists from here on. A failed write still
				// reaches the journal through file_changes on the partial
				// result, so rollback can restore what was touched.
				changes = append(changes, map[string]any{
					"path":      target,
					"backup_id": backupID,
				})

				if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
					return map[string]any{"file_changes": changes}, err
				}
				if err := os.WriteFile(target, []byte(ed.content), 0o644); err != nil {
					return map[string]any{"file_changes": changes}, err
				}
				patched = append(patched, target)
				opts.Log.Debug("file patched", "path", target, "backup_id", backupID)
			}

			return map[string]any{
				"patched":      patched,
				"file_changes": changes,
			}, nil
		},
	}
}

type edit struct {
	path    string
	content string
}

// parseEdits accepts the "edits" input as a list of {path, content} objects,
// or the flat "path"/"content" pair for single-file calls.
func parseEdits(inputs map[string]any) ([]edit, error) {
	if raw, ok := inputs["edits"]; ok {
		list, ok := raw.([]any)
		if !ok {
			return nil, errors.New("edits must be a list")
		}
		out := make([]edit, 0, len(list))
		for i, item := range list {
			m, ok := item.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("edits[%d] must be an object", i)
			}
			path, _ := m["path"].(string)
			content, _ := m["content"].(string)
			if path == "" {
				return nil, fmt.Errorf("edits[%d] missing path", i)
			}
			out = append(out, edit{path: path, content: content})
		}
		if len(out) == 0 {
			return nil, errors.New("no edits supplied")
		}
		return out, nil
	}

	path := stringInput(inputs, "path")
	if path == "" {
		return nil, errors.New("no edits supplied")
	}
	content, _ := inputs["content"].(string)
	return []edit{{path: path, content: content}}, nil
}
