package rewards

import (
	"encoding/json"
	"sort"
	"time"

	"github.com/tutu-network/shf/internal/domain"
)

// ─── Cap Engine ─────────────────────────────────────────────────────────────
// Sliding-window rate limiting, one independent window per cap period.
// A window counts posted entries for the action whose timestamp is within
// [now - W, ∞) and that moved a balance or the score.

// Allowance is how many more rewarded occurrences a window permits.
// Unlimited means the rule defines no cap for that window.
type Allowance int64

// Unlimited is the Allowance of an uncapped window. It marshals to JSON null.
const Unlimited Allowance = -1

// IsUnlimited reports whether the window is uncapped.
func (a Allowance) IsUnlimited() bool { return a < 0 }

// MarshalJSON renders Unlimited as null.
func (a Allowance) MarshalJSON() ([]byte, error) {
	if a.IsUnlimited() {
		return []byte("null"), nil
	}
	return json.Marshal(int64(a))
}

// UnmarshalJSON reads null as Unlimited.
func (a *Allowance) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*a = Unlimited
		return nil
	}
	var n int64
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*a = Allowance(n)
	return nil
}

// WindowUsage is the state of one capped window.
type WindowUsage struct {
	Window    domain.Window `json:"window"`
	Limit     int           `json:"limit"`
	Used      int           `json:"used"`
	Remaining Allowance     `json:"remaining"`
	// ResetAt is when the next slot frees up; zero unless the window is exhausted
	// by counted entries.
	ResetAt time.Time `json:"reset_at,omitzero"`
}

// Remaining is the per-window allowance of one action at one instant.
type Remaining struct {
	ActionKey  string        `json:"action_key"`
	PerWeek    Allowance     `json:"per_week"`
	PerMonth   Allowance     `json:"per_month"`
	PerQuarter Allowance     `json:"per_quarter"`
	Windows    []WindowUsage `json:"windows,omitempty"` // capped windows only, shortest first
}

// Get returns the allowance of a window.
func (r Remaining) Get(w domain.Window) Allowance {
	switch w {
	case domain.WindowWeek:
		return r.PerWeek
	case domain.WindowMonth:
		return r.PerMonth
	case domain.WindowQuarter:
		return r.PerQuarter
	}
	return Unlimited
}

// Blocked reports whether any capped window has no allowance left.
func (r Remaining) Blocked() bool {
	for _, u := range r.Windows {
		if u.Remaining == 0 {
			return true
		}
	}
	return false
}

// Binding returns the most restrictive capped window: the smallest remaining,
// and on a tie the one that resets last. ok is false for an uncapped action.
func (r Remaining) Binding() (WindowUsage, bool) {
	var (
		best  WindowUsage
		found bool
	)
	for _, u := range r.Windows {
		switch {
		case !found:
			best, found = u, true
		case u.Remaining < best.Remaining:
			best = u
		case u.Remaining == best.Remaining && u.ResetAt.After(best.ResetAt):
			best = u
		}
	}
	return best, found
}

// ComputeRemaining evaluates a rule's cap policy against a subject's entries.
// Entries need not be sorted.
func ComputeRemaining(rule domain.Rule, entries []domain.LedgerEntry, now time.Time) Remaining {
	r := Remaining{
		ActionKey:  rule.ActionKey,
		PerWeek:    Unlimited,
		PerMonth:   Unlimited,
		PerQuarter: Unlimited,
	}

	var counted []int64
	for _, e := range entries {
		if e.ActionKey == rule.ActionKey && e.Posted() && e.HasEffect() {
			counted = append(counted, e.Timestamp)
		}
	}
	sort.Slice(counted, func(i, j int) bool { return counted[i] < counted[j] })

	for _, w := range domain.Windows {
		limit, ok := rule.Cap.Limit(w)
		if !ok {
			continue
		}
		u := usage(w, limit, counted, now)
		r.Windows = append(r.Windows, u)
		switch w {
		case domain.WindowWeek:
			r.PerWeek = u.Remaining
		case domain.WindowMonth:
			r.PerMonth = u.Remaining
		case domain.WindowQuarter:
			r.PerQuarter = u.Remaining
		}
	}
	return r
}

// usage counts the sorted timestamps inside one window.
func usage(w domain.Window, limit int, sorted []int64, now time.Time) WindowUsage {
	span := w.Duration()
	since := now.Add(-span).UnixMilli()
	first := sort.Search(len(sorted), func(i int) bool { return sorted[i] >= since })
	inWindow := sorted[first:]

	u := WindowUsage{Window: w, Limit: limit, Used: len(inWindow)}
	left := limit - len(inWindow)
	if left < 0 {
		left = 0
	}
	u.Remaining = Allowance(left)

	// One more slot opens when the (used-limit+1)-th oldest counted entry
	// leaves the window. The window edge is inclusive, so that happens one
	// millisecond after ts+span.
	if left == 0 && limit > 0 && len(inWindow) >= limit {
		k := len(inWindow) - limit
		u.ResetAt = time.UnixMilli(inWindow[k]).UTC().Add(span + time.Millisecond)
	}
	return u
}
