// Package catalog provides the reward rule catalog: a built-in default set of
// rules plus loaders for operator-supplied catalog files.
//
// Catalog files may be TOML, JSON or YAML, chosen by extension:
//
//	version = 3
//
//	[[rules]]
//	action_key = "quiz"
//	label      = "Finish a quiz"
//	est_points = 1
//	weights    = { corn = 2 }
//	cap        = { per_week = 5 }
package catalog

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/tutu-network/shf/internal/domain"
)

func intPtr(n int) *int { return &n }
func int64Ptr(n int64) *int64 { return &n }

// Builtin is the catalog used when no catalog file is configured.
var Builtin = []domain.Rule{
	{
		ActionKey: "quiz",
		Label:     "Finish a financial literacy quiz",
		Weights:   map[domain.Token]int64{"corn": 2},
		EstPoints: int64Ptr(1),
		Cap:       domain.CapPolicy{PerWeek: intPtr(5)},
	},
	{
		ActionKey:  "lesson",
		Label:      "Complete a lesson",
		Weights:    map[domain.Token]int64{"wheat": 3},
		ScoreDelta: int64Ptr(2),
		Cap:        domain.CapPolicy{PerWeek: intPtr(7), PerMonth: intPtr(20)},
	},
	{
		ActionKey:  "on_time_payment",
		Label:      "Make a bill payment on time",
		Weights:    map[domain.Token]int64{"gold": 1},
		ScoreDelta: int64Ptr(8),
		Cap:        domain.CapPolicy{PerMonth: intPtr(4)},
	},
	{
		ActionKey:  "budget_checkin",
		Label:      "Review the monthly budget",
		Weights:    map[domain.Token]int64{"seeds": 10},
		ScoreDelta: int64Ptr(3),
		Cap:        domain.CapPolicy{PerWeek: intPtr(1), PerMonth: intPtr(4)},
	},
	{
		ActionKey:  "savings_goal",
		Label:      "Hit a savings goal",
		Weights:    map[domain.Token]int64{"gold": 2, "corn": 5},
		ScoreDelta: int64Ptr(15),
		Cap:        domain.CapPolicy{PerMonth: intPtr(1), PerQuarter: intPtr(2)},
	},
	{
		ActionKey: "referral",
		Label:     "Refer a friend",
		Weights:   map[domain.Token]int64{"wheat": 5},
		EstPoints: int64Ptr(4),
		Cap:       domain.CapPolicy{PerQuarter: intPtr(3)},
	},
	{
		ActionKey: "daily_login",
		Label:     "Open the app",
		Weights:   map[domain.Token]int64{"seeds": 1},
	},
}

// BuiltinVersion is the version stamped on the built-in catalog.
const BuiltinVersion = 1

// Default returns a validated copy of the built-in catalog.
func Default(known map[domain.Token]bool) (*domain.RuleCatalog, error) {
	rules := make([]domain.Rule, len(Builtin))
	copy(rules, Builtin)
	return domain.NewRuleCatalog(BuiltinVersion, rules, known)
}

// ─── Decoding ───────────────────────────────────────────────────────────────

// Format is a catalog file encoding.
type Format string

const (
	FormatTOML Format = "toml"
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// FormatFromPath picks the encoding from a file extension.
func FormatFromPath(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		return FormatTOML, nil
	case ".json":
		return FormatJSON, nil
	case ".yaml", ".yml":
		return FormatYAML, nil
	}
	return "", fmt.Errorf("catalog %s: unsupported extension", path)
}

// Decode parses and validates a catalog document.
func Decode(data []byte, format Format, known map[domain.Token]bool) (*domain.RuleCatalog, error) {
	var doc domain.RuleCatalog
	switch format {
	case FormatTOML:
		if _, err := toml.Decode(string(data), &doc); err != nil {
			return nil, fmt.Errorf("decode toml catalog: %w", err)
		}
	case FormatJSON:
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&doc); err != nil {
			return nil, fmt.Errorf("decode json catalog: %w", err)
		}
	case FormatYAML:
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("decode yaml catalog: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported catalog format %q", format)
	}
	return domain.NewRuleCatalog(doc.Version, doc.Rules, known)
}

// LoadFile reads and validates a catalog file.
func LoadFile(path string, known map[domain.Token]bool) (*domain.RuleCatalog, error) {
	format, err := FormatFromPath(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	return Decode(data, format, known)
}

// ─── File Source ────────────────────────────────────────────────────────────

// FileSource is a hot-reloadable domain.CatalogSource backed by a file.
// The file is re-read whenever its modification time changes; a file that
// fails to parse is logged and the last good catalog keeps being served.
type FileSource struct {
	path  string
	known map[domain.Token]bool
	log   logrus.FieldLogger

	mu      sync.Mutex
	current *domain.RuleCatalog
	modTime time.Time
}

// NewFileSource loads the file once; the initial load must succeed.
func NewFileSource(path string, known map[domain.Token]bool, log logrus.FieldLogger) (*FileSource, error) {
	if log == nil {
		log = logrus.StandardLogger()
	}
	fs := &FileSource{
		path:  path,
		known: known,
		log:   log.WithField("component", "catalog"),
	}
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat catalog: %w", err)
	}
	cat, err := LoadFile(path, known)
	if err != nil {
		return nil, err
	}
	fs.current = cat
	fs.modTime = info.ModTime()
	fs.log.WithFields(logrus.Fields{"path": path, "version": cat.Version, "rules": cat.Len()}).Info("catalog loaded")
	return fs, nil
}

// LoadCatalog returns the current catalog, reloading it first if the file changed.
func (s *FileSource) LoadCatalog(ctx context.Context) (*domain.RuleCatalog, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	info, err := os.Stat(s.path)
	if err != nil {
		s.log.WithError(err).Warn("catalog file unavailable, serving last good catalog")
		return s.current, nil
	}
	if info.ModTime().Equal(s.modTime) {
		return s.current, nil
	}

	cat, err := LoadFile(s.path, s.known)
	if err != nil {
		s.log.WithError(err).Warn("catalog reload failed, serving last good catalog")
		// Do not retry the same broken file on every call.
		s.modTime = info.ModTime()
		return s.current, nil
	}
	s.current = cat
	s.modTime = info.ModTime()
	s.log.WithFields(logrus.Fields{"version": cat.Version, "rules": cat.Len()}).Info("catalog reloaded")
	return cat, nil
}
