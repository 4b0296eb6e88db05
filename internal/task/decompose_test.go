package task

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/guestflow/cottage-agent/internal/tool"
)

func taskTypes(tasks []Task) []string {
	out := make([]string, 0, len(tasks))
	for _, t := range tasks {
		out = append(out, t.Type)
	}
	return out
}

func TestDecomposeGeorgianCreateRequest(t *testing.T) {
	t.Parallel()

	d := NewDecomposer(DefaultVocabulary(), nil)
	tasks, err := d.Decompose("შექმენი ფაილი config.json", nil)
	if err != nil {
		t.Fatalf("decompose: %v", err)
	}

	got := taskTypes(tasks)
	want := []string{TypeContextAnalysis, TypeFileSearch}
	if len(got) != len(want) {
		t.Fatalf("types got=%v, want=%v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("types[%d] got=%q, want=%q", i, got[i], want[i])
		}
	}
	if tasks[0].Priority != 0 {
		t.Fatalf("context-analysis priority got=%d, want=0", tasks[0].Priority)
	}
}

func TestDecomposeGeorgianEditRequest(t *testing.T) {
	t.Parallel()

	d := NewDecomposer(DefaultVocabulary(), nil)
	tasks, err := d.Decompose("შეცვალე server.js", nil)
	if err != nil {
		t.Fatalf("decompose: %v", err)
	}

	got := taskTypes(tasks)
	want := []string{TypeContextAnalysis, TypeFileSearch, TypeFilePatch}
	if len(got) != len(want) {
		t.Fatalf("types got=%v, want=%v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("types[%d] got=%q, want=%q", i, got[i], want[i])
		}
	}

	patch := tasks[2]
	if len(patch.Preconditions) != 1 || patch.Preconditions[0] != TypeFileSearch {
		t.Fatalf("file-patch preconditions got=%v, want=[%s]", patch.Preconditions, TypeFileSearch)
	}
	wantChecks := []string{"syntax_check", "typescript_check", "build_test"}
	if len(patch.Verifications) != len(wantChecks) {
		t.Fatalf("file-patch verifications got=%v, want=%v", patch.Verifications, wantChecks)
	}
}

func TestDecomposeEnglishServerRequest(t *testing.T) {
	t.Parallel()

	d := NewDecomposer(DefaultVocabulary(), nil)
	tasks, err := d.Decompose("please start the dev server", nil)
	if err != nil {
		t.Fatalf("decompose: %v", err)
	}

	got := taskTypes(tasks)
	if got[0] != TypeContextAnalysis {
		t.Fatalf("first task got=%q, want=%q", got[0], TypeContextAnalysis)
	}
	found := false
	for _, typ := range got {
		if typ == TypeDevServer {
			found = true
		}
	}
	if !found {
		t.Fatalf("dev-server task missing from %v", got)
	}
}

func TestDecomposeEmptyRequestFails(t *testing.T) {
	t.Parallel()

	d := NewDecomposer(DefaultVocabulary(), nil)
	_, err := d.Decompose("   ", nil)
	if err == nil {
		t.Fatalf("expected error for blank request")
	}
	var terr *tool.Error
	if !errors.As(err, &terr) {
		t.Fatalf("error type got=%T, want=*tool.Error", err)
	}
	if terr.Code != tool.ErrorCodeDecompositionFailed {
		t.Fatalf("code got=%q, want=%q", terr.Code, tool.ErrorCodeDecompositionFailed)
	}
}

func TestDecomposeUnrecognizedRequestStillAnalyzes(t *testing.T) {
	t.Parallel()

	d := NewDecomposer(DefaultVocabulary(), nil)
	tasks, err := d.Decompose("გამარჯობა", nil)
	if err != nil {
		t.Fatalf("decompose: %v", err)
	}
	if len(tasks) != 1 || tasks[0].Type != TypeContextAnalysis {
		t.Fatalf("tasks got=%v, want lone context-analysis", taskTypes(tasks))
	}
}

func TestDecomposeEnglishCaseInsensitive(t *testing.T) {
	t.Parallel()

	d := NewDecomposer(DefaultVocabulary(), nil)
	tasks, err := d.Decompose("FIX the login bug", nil)
	if err != nil {
		t.Fatalf("decompose: %v", err)
	}
	got := taskTypes(tasks)
	want := []string{TypeContextAnalysis, TypeFileSearch, TypeFilePatch}
	if len(got) != len(want) {
		t.Fatalf("types got=%v, want=%v", got, want)
	}
}

func TestLoadVocabularyOverride(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "vocab.yaml")
	body := "edit:\n  - გადააკეთე\n"
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write vocab: %v", err)
	}

	v, err := LoadVocabulary(path)
	if err != nil {
		t.Fatalf("load vocabulary: %v", err)
	}
	if len(v.Edit) != 1 || v.Edit[0] != "გადააკეთე" {
		t.Fatalf("edit words got=%v, want=[გადააკეთე]", v.Edit)
	}
	// Untouched sections keep defaults.
	if len(v.File) == 0 || len(v.Server) == 0 {
		t.Fatalf("defaults dropped: file=%v server=%v", v.File, v.Server)
	}

	d := NewDecomposer(v, nil)
	tasks, err := d.Decompose("გადააკეთე index.html", nil)
	if err != nil {
		t.Fatalf("decompose: %v", err)
	}
	got := taskTypes(tasks)
	want := []string{TypeContextAnalysis, TypeFileSearch, TypeFilePatch}
	if len(got) != len(want) {
		t.Fatalf("types got=%v, want=%v", got, want)
	}
}

func TestLoadVocabularyMissingFile(t *testing.T) {
	t.Parallel()

	v, err := LoadVocabulary(filepath.Join(t.TempDir(), "missing.yaml"))
	if err == nil {
		t.Fatalf("expected error for missing file")
	}
	// Defaults are still returned so callers can degrade.
	if len(v.File) == 0 {
		t.Fatalf("defaults not returned on error")
	}
}

func TestDecomposeFilenameDoesNotTriggerServerIntent(t *testing.T) {
	t.Parallel()

	d := NewDecomposer(DefaultVocabulary(), nil)

	// "server.js" is a filename token, not the server trigger word.
	tasks, err := d.Decompose("შეცვალე server.js", nil)
	if err != nil {
		t.Fatalf("decompose: %v", err)
	}
	for _, task := range tasks {
		if task.Type == TypeDevServer {
			t.Fatalf("dev-server task leaked from filename: %v", taskTypes(tasks))
		}
	}

	tasks, err = d.Decompose("edit devserver.ts", nil)
	if err != nil {
		t.Fatalf("decompose: %v", err)
	}
	for _, task := range tasks {
		if task.Type == TypeDevServer {
			t.Fatalf("dev-server task leaked from filename: %v", taskTypes(tasks))
		}
	}

	// The bare word still triggers, even before sentence punctuation.
	tasks, err = d.Decompose("please start the dev server.", nil)
	if err != nil {
		t.Fatalf("decompose: %v", err)
	}
	found := false
	for _, task := range tasks {
		if task.Type == TypeDevServer {
			found = true
		}
	}
	if !found {
		t.Fatalf("dev-server task missing from %v", taskTypes(tasks))
	}
}
