package catalog

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"

	"github.com/tutu-network/shf/internal/domain"
)

var known = map[domain.Token]bool{"corn": true, "wheat": true, "gold": true, "seeds": true}

func TestBuiltinRules(t *testing.T) {
	tests := []struct {
		key      string
		wantEst  int64
		wantWeek bool
	}{
		{"quiz", 1, true},
		{"lesson", 2, true},
		{"on_time_payment", 8, false},
		{"savings_goal", 15, false},
		{"referral", 4, false},
	}

	cat, err := Default(known)
	if err != nil {
		t.Fatalf("Default: %v", err)
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			r, ok := cat.Rule(tt.key)
			if !ok {
				t.Fatalf("Rule(%q) not found", tt.key)
			}
			if r.EstimatedPoints() != tt.wantEst {
				t.Errorf("Rule(%q).EstimatedPoints() = %d, want %d", tt.key, r.EstimatedPoints(), tt.wantEst)
			}
			if _, ok := r.Cap.Limit(domain.WindowWeek); ok != tt.wantWeek {
				t.Errorf("Rule(%q) weekly cap present = %v, want %v", tt.key, ok, tt.wantWeek)
			}
		})
	}
	if _, ok := cat.Rule("nonexistent"); ok {
		t.Error("Rule(nonexistent) should not be found")
	}
}

func TestDefaultCatalogValid(t *testing.T) {
	cat, err := Default(known)
	if err != nil {
		t.Fatalf("Default() error: %v", err)
	}
	if cat.Len() != len(Builtin) {
		t.Errorf("Len() = %d, want %d", cat.Len(), len(Builtin))
	}
}

func TestAllBuiltinRulesHaveLabels(t *testing.T) {
	for _, r := range Builtin {
		if r.Label == "" {
			t.Errorf("rule %q has empty Label", r.ActionKey)
		}
		if len(r.Weights) == 0 {
			t.Errorf("rule %q has no weights", r.ActionKey)
		}
	}
}

// ─── Decoding Tests ─────────────────────────────────────────────────────────

const tomlDoc = `
version = 3

[[rules]]
action_key = "quiz"
est_points = 1
weights = { corn = 2 }
cap = { per_week = 5 }

[[rules]]
action_key = "lesson"
score_delta = 2
weights = { wheat = 3 }
`

const jsonDoc = `{
  "version": 3,
  "rules": [
    {"action_key": "quiz", "est_points": 1, "weights": {"corn": 2}, "cap": {"per_week": 5}},
    {"action_key": "lesson", "score_delta": 2, "weights": {"wheat": 3}, "cap": {}}
  ]
}`

const yamlDoc = `
version: 3
rules:
  - action_key: quiz
    est_points: 1
    weights: {corn: 2}
    cap: {per_week: 5}
  - action_key: lesson
    score_delta: 2
    weights: {wheat: 3}
`

func TestDecode_AllFormats(t *testing.T) {
	tests := []struct {
		format Format
		doc    string
	}{
		{FormatTOML, tomlDoc},
		{FormatJSON, jsonDoc},
		{FormatYAML, yamlDoc},
	}
	for _, tt := range tests {
		t.Run(string(tt.format), func(t *testing.T) {
			cat, err := Decode([]byte(tt.doc), tt.format, known)
			if err != nil {
				t.Fatalf("Decode() error: %v", err)
			}
			if cat.Version != 3 {
				t.Errorf("Version = %d, want 3", cat.Version)
			}
			if cat.Len() != 2 {
				t.Fatalf("Len() = %d, want 2", cat.Len())
			}
			quiz, ok := cat.Rule("quiz")
			if !ok {
				t.Fatal("quiz missing")
			}
			if n, ok := quiz.Cap.Limit(domain.WindowWeek); !ok || n != 5 {
				t.Errorf("quiz per_week = %d,%v, want 5", n, ok)
			}
			if quiz.Weights["corn"] != 2 {
				t.Errorf("quiz corn weight = %d, want 2", quiz.Weights["corn"])
			}
			lesson, _ := cat.Rule("lesson")
			if lesson.RewardScore() != 2 {
				t.Errorf("lesson score = %d, want 2", lesson.RewardScore())
			}
			// Catalog order is preserved.
			if cat.Rules[0].ActionKey != "quiz" || cat.Rules[1].ActionKey != "lesson" {
				t.Errorf("order = %s,%s", cat.Rules[0].ActionKey, cat.Rules[1].ActionKey)
			}
		})
	}
}

func TestDecode_RejectsUnknownToken(t *testing.T) {
	doc := `{"version":1,"rules":[{"action_key":"x","weights":{"diamonds":1}}]}`
	if _, err := Decode([]byte(doc), FormatJSON, known); !errors.Is(err, domain.ErrValidation) {
		t.Errorf("Decode() error = %v, want ErrValidation", err)
	}
}

func TestFormatFromPath(t *testing.T) {
	tests := map[string]Format{
		"rules.toml": FormatTOML,
		"rules.JSON": FormatJSON,
		"rules.yml":  FormatYAML,
		"rules.yaml": FormatYAML,
	}
	for path, want := range tests {
		got, err := FormatFromPath(path)
		if err != nil || got != want {
			t.Errorf("FormatFromPath(%q) = %q,%v, want %q", path, got, err, want)
		}
	}
	if _, err := FormatFromPath("rules.ini"); err == nil {
		t.Error("FormatFromPath(rules.ini) should fail")
	}
}

// ─── FileSource Tests ───────────────────────────────────────────────────────

func writeFile(t *testing.T, path, content string, mtime time.Time) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.Chtimes(path, mtime, mtime); err != nil {
		t.Fatal(err)
	}
}

func TestFileSource_HotReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.toml")
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	writeFile(t, path, tomlDoc, base)

	logger, _ := test.NewNullLogger()
	src, err := NewFileSource(path, known, logger)
	if err != nil {
		t.Fatalf("NewFileSource() error: %v", err)
	}

	cat, _ := src.LoadCatalog(context.Background())
	if cat.Version != 3 {
		t.Fatalf("Version = %d, want 3", cat.Version)
	}

	updated := `version = 4
[[rules]]
action_key = "quiz"
est_points = 2
`
	writeFile(t, path, updated, base.Add(time.Minute))

	cat, _ = src.LoadCatalog(context.Background())
	if cat.Version != 4 {
		t.Errorf("Version after reload = %d, want 4", cat.Version)
	}
	if cat.Len() != 1 {
		t.Errorf("Len() after reload = %d, want 1", cat.Len())
	}
}

func TestFileSource_KeepsLastGoodCatalog(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.toml")
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	writeFile(t, path, tomlDoc, base)

	logger, hook := test.NewNullLogger()
	src, err := NewFileSource(path, known, logger)
	if err != nil {
		t.Fatalf("NewFileSource() error: %v", err)
	}

	writeFile(t, path, "this is [not toml", base.Add(time.Minute))

	cat, err := src.LoadCatalog(context.Background())
	if err != nil {
		t.Fatalf("LoadCatalog() error: %v", err)
	}
	if cat.Version != 3 {
		t.Errorf("Version = %d, want last good 3", cat.Version)
	}
	if hook.LastEntry() == nil || hook.LastEntry().Level != logrus.WarnLevel {
		t.Error("reload failure should be logged at warn level")
	}
}

func TestNewFileSource_MissingFile(t *testing.T) {
	if _, err := NewFileSource(filepath.Join(t.TempDir(), "nope.toml"), known, nil); err == nil {
		t.Error("NewFileSource on missing file should fail")
	}
}
