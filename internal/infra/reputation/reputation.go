// Package reputation turns accumulated ledger score deltas into a bounded
// reputation score and a named tier.
//
//	score = clamp(baseline + Σ scoreDelta, min, max)
//
// Tier breakpoints are fixed and inclusive on the lower edge:
//
//	Foundation  < 660
//	Bronze      660 – 699
//	Silver      700 – 739
//	Gold        740 – 779
//	Platinum    ≥ 780
//
// Discounts or other benefits attached to a tier are external configuration;
// this package only names the band.
package reputation

import (
	"fmt"
	"strings"
)

// ─── Constants ──────────────────────────────────────────────────────────────

const (
	// DefaultBaseline is the score of a subject with an empty ledger.
	DefaultBaseline = 600

	// DefaultMinScore is the floor every score is clamped to.
	DefaultMinScore = 300

	// DefaultMaxScore is the ceiling every score is clamped to.
	DefaultMaxScore = 850
)

// ─── Tiers ──────────────────────────────────────────────────────────────────

// Tier is a named band of the reputation score.
type Tier string

const (
	TierFoundation Tier = "Foundation"
	TierBronze     Tier = "Bronze"
	TierSilver     Tier = "Silver"
	TierGold       Tier = "Gold"
	TierPlatinum   Tier = "Platinum"
)

// breakpoint is the lowest score that belongs to a tier.
type breakpoint struct {
	tier  Tier
	floor int64
}

// breakpoints in ascending order. Foundation has no lower edge of its own;
// it starts wherever the scale does.
var breakpoints = []breakpoint{
	{TierFoundation, 0},
	{TierBronze, 660},
	{TierSilver, 700},
	{TierGold, 740},
	{TierPlatinum, 780},
}

// Tiers lists every tier from lowest to highest.
func Tiers() []Tier {
	out := make([]Tier, len(breakpoints))
	for i, b := range breakpoints {
		out[i] = b.tier
	}
	return out
}

// TierBand is the closed score interval of one tier on a scale.
type TierBand struct {
	Tier Tier  `json:"tier"`
	Min  int64 `json:"min"`
	Max  int64 `json:"max"`
}

// Bands lists the tiers reachable on this scale, lowest first.
func (s Scale) Bands() []TierBand {
	var out []TierBand
	for _, t := range Tiers() {
		lo, hi, ok := s.Band(t)
		if !ok || lo > hi {
			continue
		}
		out = append(out, TierBand{Tier: t, Min: lo, Max: hi})
	}
	return out
}

// ParseTier resolves a tier name case-insensitively.
func ParseTier(s string) (Tier, error) {
	for _, b := range breakpoints {
		if strings.EqualFold(string(b.tier), strings.TrimSpace(s)) {
			return b.tier, nil
		}
	}
	return "", fmt.Errorf("unknown tier %q", s)
}

// TierForScore returns the tier a (clamped) score falls into.
func TierForScore(score int64) Tier {
	tier := TierFoundation
	for _, b := range breakpoints {
		if score >= b.floor {
			tier = b.tier
		}
	}
	return tier
}

func tierIndex(t Tier) int {
	for i, b := range breakpoints {
		if b.tier == t {
			return i
		}
	}
	return -1
}

// ─── Scale ──────────────────────────────────────────────────────────────────

// Scale bounds the score and sets the starting point of a fresh ledger.
type Scale struct {
	Baseline int64 `json:"baseline" toml:"baseline"`
	Min      int64 `json:"min" toml:"min"`
	Max      int64 `json:"max" toml:"max"`
}

// DefaultScale returns the 300–850 scale starting at 600.
func DefaultScale() Scale {
	return Scale{
		Baseline: DefaultBaseline,
		Min:      DefaultMinScore,
		Max:      DefaultMaxScore,
	}
}

// Validate checks that the scale is ordered and the baseline lies inside it.
func (s Scale) Validate() error {
	if s.Min > s.Max {
		return fmt.Errorf("score scale: min %d exceeds max %d", s.Min, s.Max)
	}
	if s.Baseline < s.Min || s.Baseline > s.Max {
		return fmt.Errorf("score scale: baseline %d outside [%d, %d]", s.Baseline, s.Min, s.Max)
	}
	return nil
}

// Score computes the clamped score for the accumulated score deltas.
func (s Scale) Score(sumDeltas int64) int64 {
	return clamp(s.Baseline+sumDeltas, s.Min, s.Max)
}

// Band returns the inclusive score range of a tier on this scale.
func (s Scale) Band(t Tier) (lo, hi int64, ok bool) {
	i := tierIndex(t)
	if i < 0 {
		return 0, 0, false
	}
	lo = breakpoints[i].floor
	if lo < s.Min {
		lo = s.Min
	}
	hi = s.Max
	if i+1 < len(breakpoints) && breakpoints[i+1].floor-1 < hi {
		hi = breakpoints[i+1].floor - 1
	}
	return lo, hi, true
}

// ─── Standing ───────────────────────────────────────────────────────────────

// Standing is a subject's score, its tier, and the distance to the next one.
type Standing struct {
	Score    int64 `json:"score"`
	Tier     Tier  `json:"tier"`
	BandLow  int64 `json:"band_low"`
	BandHigh int64 `json:"band_high"`
	NextTier Tier  `json:"next_tier,omitempty"` // empty at the top tier
	ToNext   int64 `json:"to_next"`            // points still needed for NextTier
}

// Standing evaluates the accumulated score deltas on this scale.
func (s Scale) Standing(sumDeltas int64) Standing {
	score := s.Score(sumDeltas)
	tier := TierForScore(score)
	lo, hi, _ := s.Band(tier)
	st := Standing{Score: score, Tier: tier, BandLow: lo, BandHigh: hi}
	if next, need, ok := s.Next(score); ok {
		st.NextTier = next
		st.ToNext = need
	}
	return st
}

// Next returns the tier above the score's tier and the points needed to
// reach its lower edge. ok is false at the top tier.
func (s Scale) Next(score int64) (Tier, int64, bool) {
	i := tierIndex(TierForScore(score))
	if i+1 >= len(breakpoints) {
		return "", 0, false
	}
	nb := breakpoints[i+1]
	if nb.floor > s.Max {
		return "", 0, false
	}
	return nb.tier, nb.floor - score, true
}

// PointsToReach returns how many points a score still needs to enter tier t.
// It is zero when the score is already at or above the tier.
func (s Scale) PointsToReach(score int64, t Tier) (int64, error) {
	lo, _, ok := s.Band(t)
	if !ok {
		return 0, fmt.Errorf("unknown tier %q", t)
	}
	if lo > s.Max {
		return 0, fmt.Errorf("tier %s is above the scale maximum %d", t, s.Max)
	}
	if score >= lo {
		return 0, nil
	}
	return lo - score, nil
}

// ─── Pure Helper Functions ──────────────────────────────────────────────────

// clamp restricts a value to [min, max].
func clamp(v, min, max int64) int64 {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}
