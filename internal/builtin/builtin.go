// Package builtin registers the engine's standard tools: workspace context
// analysis, file search, file patching, and a dev-server probe.
package builtin

import (
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/guestflow/cottage-agent/internal/backup"
	"github.com/guestflow/cottage-agent/internal/tool"
)

// Options wires the builtin tools to their collaborators.
type Options struct {
	// WorkspaceRoot is the absolute directory every file operation is
	// confined to.
	WorkspaceRoot string
	// Backups issues per-file backups before file-patch writes.
	Backups *backup.Store
	Log     *slog.Logger
}

// RegisterAll adds every builtin tool to the registry.
func RegisterAll(reg *tool.Registry, opts Options) error {
	root := strings.TrimSpace(opts.WorkspaceRoot)
	if root == "" {
		return errors.New("missing WorkspaceRoot")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return err
	}
	opts.WorkspaceRoot = filepath.Clean(abs)
	if opts.Log == nil {
		opts.Log = slog.Default()
	}

	descriptors := []*tool.Descriptor{
		newContextAnalysis(opts),
		newFileSearch(opts),
		newFilePatch(opts),
		newDevServer(opts),
	}
	for _, d := range descriptors {
		if err := reg.Register(*d); err != nil {
			return err
		}
	}
	return nil
}

// Directory names skipped by every workspace walk.
func excludedDirNames() []string {
	return []string{
		".git",
		"node_modules",
		".pnpm-store",
		"dist",
		"build",
		"out",
		"coverage",
		"target",
		".venv",
		"venv",
		".cache",
		".next",
		".turbo",
	}
}

func isExcludedDirName(name string) bool {
	name = strings.TrimSpace(name)
	if name == "" {
		return false
	}
	for _, ex := range excludedDirNames() {
		if name == ex {
			return true
		}
	}
	return false
}

// resolveWithinRoot joins a workspace-relative path onto the root and
// rejects anything that escapes it.
func resolveWithinRoot(root string, rel string) (string, error) {
	rel = strings.TrimSpace(rel)
	if rel == "" {
		return "", errors.New("invalid path")
	}
	target := rel
	if !filepath.IsAbs(target) {
		target = filepath.Join(root, target)
	}
	target = filepath.Clean(target)
	if target == root {
		return target, nil
	}
	prefix := root + string(os.PathSeparator)
	if !strings.HasPrefix(target, prefix) {
		return "", errors.New("path escapes workspace root")
	}
	return target, nil
}

func stringInput(inputs map[string]any, key string) string {
	if inputs == nil {
		return ""
	}
	s, _ := inputs[key].(string)
	return strings.TrimSpace(s)
}
