package tool

import (
	"fmt"
	"strings"
	"testing"
)

func TestSanitizeInputs_RedactsContentAndDataKeys(t *testing.T) {
	t.Parallel()

	secret := "const apiKey = \"do-not-log-me\";"
	in := map[string]any{
		"path":         "/workspace/server.js",
		"file_content": secret,
		"raw_data":     []byte{0x01, 0x02, 0x03},
		"mode":         "overwrite",
	}
	out := SanitizeInputs(in)

	rendered := fmt.Sprintf("%v", out)
	if strings.Contains(rendered, "do-not-log-me") {
		t.Fatalf("sanitized payload leaked original content: %s", rendered)
	}
	want := fmt.Sprintf("[redacted %d bytes]", len(secret))
	if out["file_content"] != want {
		t.Fatalf("file_content=%v, want=%q", out["file_content"], want)
	}
	if out["raw_data"] != "[redacted 3 bytes]" {
		t.Fatalf("raw_data=%v, want length-tagged placeholder", out["raw_data"])
	}
	if out["path"] != "/workspace/server.js" {
		t.Fatalf("path=%v, want passthrough", out["path"])
	}
	if out["mode"] != "overwrite" {
		t.Fatalf("mode=%v, want passthrough", out["mode"])
	}
}

func TestSanitizeInputs_TruncatesLongScalars(t *testing.T) {
	t.Parallel()

	long := strings.Repeat("x", 5000)
	out := SanitizeInputs(map[string]any{"query": long})
	s, ok := out["query"].(string)
	if !ok {
		t.Fatalf("query not a string: %T", out["query"])
	}
	if len(s) >= len(long) {
		t.Fatalf("long scalar not truncated (len=%d)", len(s))
	}
	if !strings.Contains(s, "5000 bytes total") {
		t.Fatalf("truncated scalar missing length tag: %q", s[len(s)-40:])
	}
}

func TestSanitizeInputs_RedactsNestedMaps(t *testing.T) {
	t.Parallel()

	out := SanitizeInputs(map[string]any{
		"patch": map[string]any{
			"path":    "a.ts",
			"content": "let x = 1",
		},
	})
	nested, ok := out["patch"].(map[string]any)
	if !ok {
		t.Fatalf("patch not a map: %T", out["patch"])
	}
	if nested["content"] == "let x = 1" {
		t.Fatalf("nested content not redacted")
	}
}
