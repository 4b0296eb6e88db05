package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/guestflow/cottage-agent/internal/tool"
)

// Verifier checks one post-act condition against a task's result.
type Verifier func(ctx context.Context, res tool.InvocationResult) error

func builtinVerifiers(workspaceRoot string) map[string]Verifier {
	return map[string]Verifier{
		"context_loaded":   verifyContextLoaded,
		"results_recorded": verifyResultsRecorded,
		"syntax_check":     verifySyntax,
		"typescript_check": verifyTypescript,
		"build_test":       verifyBuild(workspaceRoot),
	}
}

func verifyContextLoaded(_ context.Context, res tool.InvocationResult) error {
	if res.Data == nil {
		return errors.New("no output data")
	}
	if _, ok := res.Data["context"]; !ok {
		return errors.New("context output missing")
	}
	return nil
}

func verifyResultsRecorded(_ context.Context, res tool.InvocationResult) error {
	if res.Data == nil {
		return errors.New("no output data")
	}
	if _, ok := res.Data["results"]; !ok {
		return errors.New("results output missing")
	}
	return nil
}

// verifySyntax applies cheap static checks per extension: JSON must parse,
// script files must balance their brackets.
func verifySyntax(_ context.Context, res tool.InvocationResult) error {
	for _, ch := range res.Changes {
		body, err := os.ReadFile(ch.Path)
		if err != nil {
			return fmt.Errorf("read %s: %w", ch.Path, err)
		}
		switch strings.ToLower(filepath.Ext(ch.Path)) {
		case ".json":
			if !json.Valid(body) {
				return fmt.Errorf("%s: invalid JSON", ch.Path)
			}
		case ".js", ".mjs", ".cjs", ".ts", ".tsx", ".jsx":
			if err := checkBracketBalance(string(body)); err != nil {
				return fmt.Errorf("%s: %w", ch.Path, err)
			}
		}
	}
	return nil
}

// verifyTypescript rejects leftover merge-conflict markers and unbalanced
// brackets in TypeScript sources.
func verifyTypescript(_ context.Context, res tool.InvocationResult) error {
	for _, ch := range res.Changes {
		ext := strings.ToLower(filepath.Ext(ch.Path))
		if ext != ".ts" && ext != ".tsx" {
			continue
		}
		body, err := os.ReadFile(ch.Path)
		if err != nil {
			return fmt.Errorf("read %s: %w", ch.Path, err)
		}
		text := string(body)
		for _, marker := range []string{"<<<<<<<", ">>>>>>>", "======="} {
			if strings.Contains(text, marker) {
				return fmt.Errorf("%s: merge conflict marker %q", ch.Path, marker)
			}
		}
		if err := checkBracketBalance(text); err != nil {
			return fmt.Errorf("%s: %w", ch.Path, err)
		}
	}
	return nil
}

// verifyBuild confirms every changed file still exists non-empty under the
// workspace root.
func verifyBuild(workspaceRoot string) Verifier {
	return func(_ context.Context, res tool.InvocationResult) error {
		for _, ch := range res.Changes {
			path := ch.Path
			if !filepath.IsAbs(path) {
				path = filepath.Join(workspaceRoot, path)
			}
			st, err := os.Stat(path)
			if err != nil {
				return fmt.Errorf("stat %s: %w", ch.Path, err)
			}
			if st.Size() == 0 {
				return fmt.Errorf("%s: empty after patch", ch.Path)
			}
		}
		return nil
	}
}

// checkBracketBalance walks the text counting (), [], {} nesting while
// skipping string/template literals and comments. It is a smoke test, not a
// parser.
func checkBracketBalance(text string) error {
	var depth int
	var inLine, inBlock bool
	var strDelim rune

	runes := []rune(text)
	for i := 0; i < len(runes); i++ {
		r := runes[i]

		if inLine {
			if r == '\n' {
				inLine = false
			}
			continue
		}
		if inBlock {
			if r == '*' && i+1 < len(runes) && runes[i+1] == '/' {
				inBlock = false
				i++
			}
			continue
		}
		if strDelim != 0 {
			if r == '\\' {
				i++
				continue
			}
			if r == strDelim {
				strDelim = 0
			}
			continue
		}

		switch r {
		case '/':
			if i+1 < len(runes) {
				switch runes[i+1] {
				case '/':
					inLine = true
					i++
				case '*':
					inBlock = true
					i++
				}
			}
		case '\'', '"', '`':
			strDelim = r
		case '(', '[', '{':
			depth++
		case ')', ']', '}':
			depth--
			if depth < 0 {
				return errors.New("unbalanced brackets")
			}
		}
	}
	if depth != 0 {
		return errors.New("unbalanced brackets")
	}
	return nil
}
