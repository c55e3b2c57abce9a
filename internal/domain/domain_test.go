package domain

import (
	"errors"
	"testing"
	"time"
)

func intp(n int) *int { return &n }
func i64p(n int64) *int64 { return &n }

// ─── LedgerEntry Tests ──────────────────────────────────────────────────────

func TestLedgerEntry_HasEffect(t *testing.T) {
	tests := []struct {
		name  string
		entry LedgerEntry
		want  bool
	}{
		{"empty", LedgerEntry{}, false},
		{"zero deltas", LedgerEntry{TokenDeltas: map[Token]int64{"corn": 0}}, false},
		{"score only", LedgerEntry{ScoreDelta: 1}, true},
		{"negative token", LedgerEntry{TokenDeltas: map[Token]int64{"corn": -3}}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.entry.HasEffect(); got != tt.want {
				t.Errorf("HasEffect() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestLedgerEntry_IsReversal(t *testing.T) {
	marker := LedgerEntry{Kind: KindAdjustment, RefID: "e1", Meta: map[string]string{MetaReverses: "true"}}
	if !marker.IsReversal() {
		t.Error("marker should be a reversal")
	}
	dispute := LedgerEntry{Kind: KindDispute, RefID: "e1"}
	if dispute.IsReversal() {
		t.Error("dispute is not a reversal")
	}
	manual := LedgerEntry{Kind: KindAdjustment, Meta: map[string]string{MetaReason: "fix"}}
	if manual.IsReversal() {
		t.Error("manual adjustment is not a reversal")
	}
}

func TestLedgerEntry_CloneIsDeep(t *testing.T) {
	orig := LedgerEntry{
		TokenDeltas: map[Token]int64{"corn": 5},
		Meta:        map[string]string{"k": "v"},
	}
	c := orig.Clone()
	c.TokenDeltas["corn"] = 99
	c.Meta["k"] = "changed"
	if orig.TokenDeltas["corn"] != 5 {
		t.Error("clone shares TokenDeltas with original")
	}
	if orig.Meta["k"] != "v" {
		t.Error("clone shares Meta with original")
	}
}

func TestLedgerEntry_Time(t *testing.T) {
	ts := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	e := LedgerEntry{Timestamp: ts.UnixMilli()}
	if !e.Time().Equal(ts) {
		t.Errorf("Time() = %v, want %v", e.Time(), ts)
	}
}

func TestSortEntries_TimestampThenSeq(t *testing.T) {
	entries := []LedgerEntry{
		{ID: "c", Timestamp: 200, Seq: 3},
		{ID: "b", Timestamp: 100, Seq: 2},
		{ID: "a", Timestamp: 100, Seq: 1},
	}
	SortEntries(entries)
	for i, want := range []string{"a", "b", "c"} {
		if entries[i].ID != want {
			t.Errorf("entries[%d] = %s, want %s", i, entries[i].ID, want)
		}
	}
	if HeadSeq(entries) != 3 {
		t.Errorf("HeadSeq = %d, want 3", HeadSeq(entries))
	}
	if HeadSeq(nil) != 0 {
		t.Error("HeadSeq(nil) should be 0")
	}
}

func TestEntryFilter_Apply(t *testing.T) {
	entries := []LedgerEntry{
		{ID: "1", Timestamp: 10, Kind: KindEarn, ActionKey: "quiz", Status: StatusPosted},
		{ID: "2", Timestamp: 20, Kind: KindEarn, ActionKey: "lesson", Status: StatusPosted},
		{ID: "3", Timestamp: 30, Kind: KindSpend, Status: StatusPosted},
		{ID: "4", Timestamp: 40, Kind: KindEarn, ActionKey: "quiz", Status: StatusReversed},
	}

	tests := []struct {
		name   string
		filter EntryFilter
		want   []string
	}{
		{"no constraint", EntryFilter{}, []string{"1", "2", "3", "4"}},
		{"by action", EntryFilter{ActionKey: "quiz"}, []string{"1", "4"}},
		{"by kind", EntryFilter{Kind: KindSpend}, []string{"3"}},
		{"by status", EntryFilter{Status: StatusPosted, ActionKey: "quiz"}, []string{"1"}},
		{"range inclusive", EntryFilter{From: 20, To: 30}, []string{"2", "3"}},
		{"limit keeps newest", EntryFilter{Limit: 2}, []string{"3", "4"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.filter.Apply(entries)
			if len(got) != len(tt.want) {
				t.Fatalf("Apply() returned %d entries, want %d", len(got), len(tt.want))
			}
			for i := range got {
				if got[i].ID != tt.want[i] {
					t.Errorf("got[%d] = %s, want %s", i, got[i].ID, tt.want[i])
				}
			}
		})
	}
}

// ─── Catalog Tests ──────────────────────────────────────────────────────────

func TestRule_EstimatedPoints(t *testing.T) {
	tests := []struct {
		name string
		rule Rule
		want int64
	}{
		{"explicit est", Rule{EstPoints: i64p(7), ScoreDelta: i64p(2)}, 7},
		{"score delta", Rule{ScoreDelta: i64p(3), Weights: map[Token]int64{"corn": 10}}, 3},
		{"weights sum", Rule{Weights: map[Token]int64{"corn": 2, "wheat": 3}}, 5},
		{"nothing", Rule{}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.rule.EstimatedPoints(); got != tt.want {
				t.Errorf("EstimatedPoints() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestRule_RewardScore(t *testing.T) {
	r := Rule{EstPoints: i64p(1)}
	if r.RewardScore() != 1 {
		t.Errorf("RewardScore() = %d, want 1 (falls back to est points)", r.RewardScore())
	}
	r.ScoreDelta = i64p(4)
	if r.RewardScore() != 4 {
		t.Errorf("RewardScore() = %d, want 4", r.RewardScore())
	}
}

func TestCapPolicy_Limit(t *testing.T) {
	c := CapPolicy{PerWeek: intp(5), PerQuarter: intp(20)}
	if n, ok := c.Limit(WindowWeek); !ok || n != 5 {
		t.Errorf("Limit(week) = %d,%v, want 5,true", n, ok)
	}
	if _, ok := c.Limit(WindowMonth); ok {
		t.Error("month should be uncapped")
	}
	if n, ok := c.Limit(WindowQuarter); !ok || n != 20 {
		t.Errorf("Limit(quarter) = %d,%v, want 20,true", n, ok)
	}
}

func TestWindow_Duration(t *testing.T) {
	if WindowWeek.Duration() != 7*24*time.Hour {
		t.Error("week should be 7 days")
	}
	if WindowMonth.Duration() != 30*24*time.Hour {
		t.Error("month should be 30 days")
	}
	if WindowQuarter.Duration() != 90*24*time.Hour {
		t.Error("quarter should be 90 days")
	}
}

func TestNewRuleCatalog_Validation(t *testing.T) {
	known := map[Token]bool{"corn": true}

	tests := []struct {
		name  string
		rules []Rule
	}{
		{"missing key", []Rule{{}}},
		{"duplicate", []Rule{{ActionKey: "quiz"}, {ActionKey: "quiz"}}},
		{"negative cap", []Rule{{ActionKey: "quiz", Cap: CapPolicy{PerMonth: intp(-1)}}}},
		{"unknown token", []Rule{{ActionKey: "quiz", Weights: map[Token]int64{"gold": 1}}}},
		{"currency weight", []Rule{{ActionKey: "quiz", Weights: map[Token]int64{Currency: 1}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewRuleCatalog(1, tt.rules, known)
			if !errors.Is(err, ErrValidation) {
				t.Errorf("NewRuleCatalog() error = %v, want ErrValidation", err)
			}
		})
	}
}

func TestRuleCatalog_Lookup(t *testing.T) {
	cat, err := NewRuleCatalog(1, []Rule{{ActionKey: "quiz"}, {ActionKey: "lesson"}}, nil)
	if err != nil {
		t.Fatalf("NewRuleCatalog() error: %v", err)
	}
	if r, ok := cat.Rule("lesson"); !ok || r.ActionKey != "lesson" {
		t.Errorf("Rule(lesson) = %v,%v", r, ok)
	}
	if _, ok := cat.Rule("missing"); ok {
		t.Error("Rule(missing) should not be found")
	}
	if cat.Len() != 2 {
		t.Errorf("Len() = %d, want 2", cat.Len())
	}

	// Unindexed catalogs (e.g. decoded straight from a file) still resolve.
	raw := &RuleCatalog{Rules: []Rule{{ActionKey: "quiz"}}}
	if _, ok := raw.Rule("quiz"); !ok {
		t.Error("unindexed catalog lookup failed")
	}
}

// ─── Error Tests ────────────────────────────────────────────────────────────

func TestBalanceError_Is(t *testing.T) {
	tokenErr := &BalanceError{Token: "corn", Requested: 11, Available: 10}
	if !errors.Is(tokenErr, ErrInsufficientBalance) {
		t.Error("token shortfall should match ErrInsufficientBalance")
	}
	if errors.Is(tokenErr, ErrInsufficientFunds) {
		t.Error("token shortfall should not match ErrInsufficientFunds")
	}

	fundsErr := &BalanceError{Token: Currency, Requested: 5, Available: 1}
	if !errors.Is(fundsErr, ErrInsufficientFunds) {
		t.Error("currency shortfall should match ErrInsufficientFunds")
	}
}

func TestPersistenceError_Unwrap(t *testing.T) {
	cause := errors.New("disk full")
	err := error(&PersistenceError{Op: "append", Err: cause})
	if !errors.Is(err, ErrPersistence) {
		t.Error("should match ErrPersistence")
	}
	if !errors.Is(err, cause) {
		t.Error("should unwrap to the cause")
	}
}

func TestValidationError_Is(t *testing.T) {
	err := error(&ValidationError{Field: "amount", Reason: "must be positive"})
	if !errors.Is(err, ErrValidation) {
		t.Error("should match ErrValidation")
	}
	if err.Error() != "invalid amount: must be positive" {
		t.Errorf("Error() = %q", err.Error())
	}
}
