package domain

import (
	"fmt"
	"time"
)

// ─── Rule Catalog ───────────────────────────────────────────────────────────
// Static configuration: which actions earn what, and how often.

// Window is a rolling cap window.
type Window string

const (
	WindowWeek    Window = "week"
	WindowMonth   Window = "month"
	WindowQuarter Window = "quarter"
)

// Windows lists the cap windows from shortest to longest.
var Windows = []Window{WindowWeek, WindowMonth, WindowQuarter}

// Duration returns the rolling length of the window.
func (w Window) Duration() time.Duration {
	switch w {
	case WindowWeek:
		return 7 * 24 * time.Hour
	case WindowMonth:
		return 30 * 24 * time.Hour
	case WindowQuarter:
		return 90 * 24 * time.Hour
	}
	return 0
}

// CapPolicy limits how many rewarded occurrences an action may have per window.
// A nil limit means the window is uncapped.
type CapPolicy struct {
	PerWeek    *int `json:"per_week,omitempty" toml:"per_week" yaml:"per_week"`
	PerMonth   *int `json:"per_month,omitempty" toml:"per_month" yaml:"per_month"`
	PerQuarter *int `json:"per_quarter,omitempty" toml:"per_quarter" yaml:"per_quarter"`
}

// Limit returns the limit for a window and whether one is defined.
func (c CapPolicy) Limit(w Window) (int, bool) {
	var p *int
	switch w {
	case WindowWeek:
		p = c.PerWeek
	case WindowMonth:
		p = c.PerMonth
	case WindowQuarter:
		p = c.PerQuarter
	}
	if p == nil {
		return 0, false
	}
	return *p, true
}

// Rule is one catalog entry.
type Rule struct {
	ActionKey  string          `json:"action_key" toml:"action_key" yaml:"action_key"`
	Label      string          `json:"label,omitempty" toml:"label" yaml:"label"`
	Weights    map[Token]int64 `json:"weights,omitempty" toml:"weights" yaml:"weights"`
	ScoreDelta *int64          `json:"score_delta,omitempty" toml:"score_delta" yaml:"score_delta"`
	Cap        CapPolicy       `json:"cap" toml:"cap" yaml:"cap"`
	EstPoints  *int64          `json:"est_points,omitempty" toml:"est_points" yaml:"est_points"`
}

// EstimatedPoints is the expected score gain of one occurrence:
// EstPoints if set, else ScoreDelta if set, else the sum of weights.
func (r Rule) EstimatedPoints() int64 {
	if r.EstPoints != nil {
		return *r.EstPoints
	}
	if r.ScoreDelta != nil {
		return *r.ScoreDelta
	}
	var sum int64
	for _, w := range r.Weights {
		sum += w
	}
	return sum
}

// RewardScore is the score delta posted for one occurrence by default.
func (r Rule) RewardScore() int64 {
	if r.ScoreDelta != nil {
		return *r.ScoreDelta
	}
	return r.EstimatedPoints()
}

// RewardTokens is a copy of the default token deltas for one occurrence.
func (r Rule) RewardTokens() map[Token]int64 {
	out := make(map[Token]int64, len(r.Weights))
	for t, w := range r.Weights {
		if w != 0 {
			out[t] = w
		}
	}
	return out
}

// RuleCatalog is an ordered, versioned set of rules.
type RuleCatalog struct {
	Version int    `json:"version" toml:"version" yaml:"version"`
	Rules   []Rule `json:"rules" toml:"rules" yaml:"rules"`

	index map[string]int
}

// NewRuleCatalog validates rules and builds the key index.
// known is the set of tokens rules may reward; the reserved currency is never allowed.
func NewRuleCatalog(version int, rules []Rule, known map[Token]bool) (*RuleCatalog, error) {
	c := &RuleCatalog{Version: version, Rules: rules}
	if err := c.Validate(known); err != nil {
		return nil, err
	}
	return c, nil
}

// Validate checks the catalog and (re)builds its index.
func (c *RuleCatalog) Validate(known map[Token]bool) error {
	index := make(map[string]int, len(c.Rules))
	for i, r := range c.Rules {
		if r.ActionKey == "" {
			return &ValidationError{Field: fmt.Sprintf("rules[%d].action_key", i), Reason: "required"}
		}
		if _, dup := index[r.ActionKey]; dup {
			return &ValidationError{Field: "rules." + r.ActionKey, Reason: "duplicate action key"}
		}
		for _, w := range Windows {
			if n, ok := r.Cap.Limit(w); ok && n < 0 {
				return &ValidationError{Field: "rules." + r.ActionKey + ".cap." + string(w), Reason: "must not be negative"}
			}
		}
		for t := range r.Weights {
			if t == Currency || (known != nil && !known[t]) {
				return &ValidationError{Field: "rules." + r.ActionKey + ".weights", Reason: fmt.Sprintf("unknown token %q", t)}
			}
		}
		index[r.ActionKey] = i
	}
	c.index = index
	return nil
}

// Rule looks up a rule by action key.
func (c *RuleCatalog) Rule(actionKey string) (Rule, bool) {
	if c == nil {
		return Rule{}, false
	}
	if c.index == nil {
		for _, r := range c.Rules {
			if r.ActionKey == actionKey {
				return r, true
			}
		}
		return Rule{}, false
	}
	i, ok := c.index[actionKey]
	if !ok {
		return Rule{}, false
	}
	return c.Rules[i], true
}

// Len returns the number of rules.
func (c *RuleCatalog) Len() int {
	if c == nil {
		return 0
	}
	return len(c.Rules)
}
