package task

import (
	"fmt"
	"os"
	"strings"
	"unicode"

	"gopkg.in/yaml.v3"
)

// Vocabulary holds the trigger keywords for each intent, lowercase.
// Georgian terms are matched as-is; Georgian script has no case folding.
type Vocabulary struct {
	File   []string `yaml:"file"`
	Edit   []string `yaml:"edit"`
	Server []string `yaml:"server"`
}

// DefaultVocabulary covers the Georgian and English phrasing guests and
// hosts actually use. Overridable from a YAML file via LoadVocabulary.
func DefaultVocabulary() Vocabulary {
	return Vocabulary{
		File: []string{
			"ფაილი", "შექმენი", "კოდი", "მოძებნე",
			"file", "create", "code", "find", "search",
		},
		Edit: []string{
			"შეცვალე", "გაასწორე",
			"edit", "modify", "change", "fix",
		},
		Server: []string{
			"სერვერი", "გაუშვი",
			"server", "run", "start", "dev",
		},
	}
}

// LoadVocabulary reads a trigger-word override from a YAML file. Empty
// sections fall back to the defaults so a partial override stays usable.
func LoadVocabulary(path string) (Vocabulary, error) {
	v := DefaultVocabulary()
	raw, err := os.ReadFile(path)
	if err != nil {
		return v, fmt.Errorf("read vocabulary: %w", err)
	}
	var loaded Vocabulary
	if err := yaml.Unmarshal(raw, &loaded); err != nil {
		return v, fmt.Errorf("parse vocabulary: %w", err)
	}
	if len(loaded.File) > 0 {
		v.File = loaded.File
	}
	if len(loaded.Edit) > 0 {
		v.Edit = loaded.Edit
	}
	if len(loaded.Server) > 0 {
		v.Server = loaded.Server
	}
	v.normalize()
	return v, nil
}

func (v *Vocabulary) normalize() {
	v.File = lowerAll(v.File)
	v.Edit = lowerAll(v.Edit)
	v.Server = lowerAll(v.Server)
}

func lowerAll(words []string) []string {
	out := make([]string, 0, len(words))
	for _, w := range words {
		w = strings.ToLower(strings.TrimSpace(w))
		if w != "" {
			out = append(out, w)
		}
	}
	return out
}

// requestTokens splits a request into whole words for intent matching.
// Dots inside a token are kept so filenames like "server.js" stay one token
// and never collide with a bare trigger word.
func requestTokens(request string) []string {
	fields := strings.FieldsFunc(strings.ToLower(request), func(r rune) bool {
		switch r {
		case ',', ';', ':', '!', '?', '"', '\'', '(', ')':
			return true
		}
		return unicode.IsSpace(r)
	})
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		f = strings.Trim(f, ".") // sentence punctuation, not extensions
		if f != "" {
			out = append(out, f)
		}
	}
	return out
}

func containsAny(tokens []string, words []string) bool {
	for _, tok := range tokens {
		for _, w := range words {
			if tok == w {
				return true
			}
		}
	}
	return false
}
