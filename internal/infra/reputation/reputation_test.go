package reputation

import "testing"

// ─── Tier Tests ─────────────────────────────────────────────────────────────

func TestTierForScore_Boundaries(t *testing.T) {
	tests := []struct {
		score int64
		want  Tier
	}{
		{300, TierFoundation},
		{659, TierFoundation},
		{660, TierBronze},
		{699, TierBronze},
		{700, TierSilver},
		{739, TierSilver},
		{740, TierGold},
		{779, TierGold},
		{780, TierPlatinum},
		{850, TierPlatinum},
	}
	for _, tt := range tests {
		if got := TierForScore(tt.score); got != tt.want {
			t.Errorf("TierForScore(%d) = %s, want %s", tt.score, got, tt.want)
		}
	}
}

func TestParseTier(t *testing.T) {
	got, err := ParseTier(" gold ")
	if err != nil {
		t.Fatalf("ParseTier error: %v", err)
	}
	if got != TierGold {
		t.Errorf("ParseTier = %s, want Gold", got)
	}
	if _, err := ParseTier("diamond"); err == nil {
		t.Error("ParseTier(diamond) should fail")
	}
}

func TestTiers_Ascending(t *testing.T) {
	want := []Tier{TierFoundation, TierBronze, TierSilver, TierGold, TierPlatinum}
	got := Tiers()
	if len(got) != len(want) {
		t.Fatalf("Tiers() len = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Tiers()[%d] = %s, want %s", i, got[i], want[i])
		}
	}
}

func TestScale_Bands(t *testing.T) {
	got := DefaultScale().Bands()
	want := []TierBand{
		{TierFoundation, 300, 659},
		{TierBronze, 660, 699},
		{TierSilver, 700, 739},
		{TierGold, 740, 779},
		{TierPlatinum, 780, 850},
	}
	if len(got) != len(want) {
		t.Fatalf("Bands() = %+v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Bands()[%d] = %+v, want %+v", i, got[i], want[i])
		}
	}

	short := Scale{Baseline: 600, Min: 300, Max: 720}
	if b := short.Bands(); len(b) != 3 || b[2].Tier != TierSilver || b[2].Max != 720 {
		t.Errorf("Bands() on a 720 scale = %+v, want Foundation..Silver capped at 720", b)
	}
}

// ─── Scale Tests ────────────────────────────────────────────────────────────

func TestScale_ScoreClamps(t *testing.T) {
	s := DefaultScale()
	tests := []struct {
		sum  int64
		want int64
	}{
		{0, 600},
		{60, 660},
		{-1000, 300},
		{1000, 850},
	}
	for _, tt := range tests {
		if got := s.Score(tt.sum); got != tt.want {
			t.Errorf("Score(%d) = %d, want %d", tt.sum, got, tt.want)
		}
	}
}

func TestScale_Validate(t *testing.T) {
	if err := DefaultScale().Validate(); err != nil {
		t.Errorf("default scale invalid: %v", err)
	}
	if err := (Scale{Baseline: 600, Min: 900, Max: 850}).Validate(); err == nil {
		t.Error("min > max should be rejected")
	}
	if err := (Scale{Baseline: 200, Min: 300, Max: 850}).Validate(); err == nil {
		t.Error("baseline below min should be rejected")
	}
}

func TestScale_Band(t *testing.T) {
	s := DefaultScale()
	tests := []struct {
		tier   Tier
		lo, hi int64
	}{
		{TierFoundation, 300, 659},
		{TierBronze, 660, 699},
		{TierSilver, 700, 739},
		{TierGold, 740, 779},
		{TierPlatinum, 780, 850},
	}
	for _, tt := range tests {
		lo, hi, ok := s.Band(tt.tier)
		if !ok || lo != tt.lo || hi != tt.hi {
			t.Errorf("Band(%s) = [%d,%d] %v, want [%d,%d]", tt.tier, lo, hi, ok, tt.lo, tt.hi)
		}
	}
	if _, _, ok := s.Band("Diamond"); ok {
		t.Error("Band(Diamond) should not be ok")
	}
}

func TestScale_Next(t *testing.T) {
	s := DefaultScale()

	tier, need, ok := s.Next(600)
	if !ok || tier != TierBronze || need != 60 {
		t.Errorf("Next(600) = %s,%d,%v, want Bronze,60,true", tier, need, ok)
	}

	tier, need, ok = s.Next(779)
	if !ok || tier != TierPlatinum || need != 1 {
		t.Errorf("Next(779) = %s,%d,%v, want Platinum,1,true", tier, need, ok)
	}

	if _, _, ok := s.Next(800); ok {
		t.Error("Next at top tier should not be ok")
	}
}

func TestScale_Next_CappedScale(t *testing.T) {
	// A scale that tops out below Platinum never offers it as a goal.
	s := Scale{Baseline: 600, Min: 300, Max: 760}
	if _, _, ok := s.Next(750); ok {
		t.Error("Next should not point above the scale maximum")
	}
}

func TestScale_Standing(t *testing.T) {
	st := DefaultScale().Standing(105)
	if st.Score != 705 {
		t.Errorf("Score = %d, want 705", st.Score)
	}
	if st.Tier != TierSilver {
		t.Errorf("Tier = %s, want Silver", st.Tier)
	}
	if st.BandLow != 700 || st.BandHigh != 739 {
		t.Errorf("Band = [%d,%d], want [700,739]", st.BandLow, st.BandHigh)
	}
	if st.NextTier != TierGold || st.ToNext != 35 {
		t.Errorf("Next = %s/%d, want Gold/35", st.NextTier, st.ToNext)
	}
}

func TestScale_PointsToReach(t *testing.T) {
	s := DefaultScale()

	need, err := s.PointsToReach(600, TierGold)
	if err != nil || need != 140 {
		t.Errorf("PointsToReach(600, Gold) = %d,%v, want 140", need, err)
	}

	need, err = s.PointsToReach(790, TierGold)
	if err != nil || need != 0 {
		t.Errorf("PointsToReach(790, Gold) = %d,%v, want 0", need, err)
	}

	if _, err := s.PointsToReach(600, "Diamond"); err == nil {
		t.Error("unknown tier should fail")
	}
}
