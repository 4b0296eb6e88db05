package builtin

import (
	"context"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"
	"time"
	"unicode"

	"github.com/guestflow/cottage-agent/internal/tool"
)

const fileSearchResultLimit = 50

// newFileSearch builds the tool that locates workspace files matching the
// request. Matching is by filename token; contents are never read.
func newFileSearch(opts Options) *tool.Descriptor {
	return &tool.Descriptor{
		Name:        "file-search",
		Description: "Find workspace files whose names match the request.",
		Inputs:      []string{"request"},
		Outputs:     []string{"results"},
		Timeout:     15 * time.Second,
		FailureModes: []tool.FailureMode{
			{Name: "workspace_unreadable", Match: "permission denied"},
		},
		Handler: func(ctx context.Context, inputs map[string]any) (map[string]any, error) {
			tokens := searchTokens(stringInput(inputs, "request"))

			var results []string
			err := filepath.WalkDir(opts.WorkspaceRoot, func(path string, d fs.DirEntry, err error) error {
				if err != nil {
					return err
				}
				if cerr := ctx.Err(); cerr != nil {
					return cerr
				}
				if d.IsDir() {
					if path != opts.WorkspaceRoot && isExcludedDirName(d.Name()) {
						return filepath.SkipDir
					}
					return nil
				}
				if len(results) >= fileSearchResultLimit {
					return filepath.SkipAll
				}
				if matchesTokens(d.Name(), tokens) {
					rel, rerr := filepath.Rel(opts.WorkspaceRoot, path)
					if rerr != nil {
						rel = path
					}
					results = append(results, rel)
				}
				return nil
			})
			if err != nil {
				return nil, err
			}
			sort.Strings(results)

			return map[string]any{
				"results":   results,
				"satisfies": []string{"results_recorded"},
			}, nil
		},
	}
}

// searchTokens extracts filename-ish tokens from the request: anything with
// a dot (config.json, server.js) plus plain latin words long enough to be a
// name fragment. Trigger verbs in either language carry no filename signal
// and are skipped naturally because they never match a file name.
func searchTokens(request string) []string {
	fields := strings.FieldsFunc(strings.ToLower(request), func(r rune) bool {
		return unicode.IsSpace(r) || r == ',' || r == ';' || r == '"' || r == '\''
	})
	var tokens []string
	for _, f := range fields {
		f = strings.Trim(f, ".") // sentence punctuation, not extensions
		if f == "" {
			continue
		}
		if strings.Contains(f, ".") || len(f) >= 3 {
			tokens = append(tokens, f)
		}
	}
	return tokens
}

func matchesTokens(name string, tokens []string) bool {
	if len(tokens) == 0 {
		return false
	}
	lower := strings.ToLower(name)
	base := strings.TrimSuffix(lower, filepath.Ext(lower))
	for _, tok := range tokens {
		if lower == tok || base == tok {
			return true
		}
		if strings.Contains(tok, ".") && strings.Contains(lower, tok) {
			return true
		}
	}
	return false
}
