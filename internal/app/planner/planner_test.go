package planner

import (
	"testing"

	"github.com/tutu-network/shf/internal/domain"
)

func est(n int64) *int64 { return &n }

func testCatalog(t *testing.T) *domain.RuleCatalog {
	t.Helper()
	cat, err := domain.NewRuleCatalog(1, []domain.Rule{
		{ActionKey: "quiz", EstPoints: est(1)},
		{ActionKey: "lesson", EstPoints: est(5)},
		{ActionKey: "payment", EstPoints: est(8)},
		{ActionKey: "budget", EstPoints: est(5)},
		{ActionKey: "noop", EstPoints: est(0)},
	}, nil)
	if err != nil {
		t.Fatal(err)
	}
	return cat
}

func allOpen(domain.Rule) (bool, domain.Window) { return false, "" }

func keys(p Plan) []string {
	out := make([]string, len(p.Steps))
	for i, s := range p.Steps {
		out[i] = s.ActionKey
	}
	return out
}

func equal(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestBuild_GreedyDescending(t *testing.T) {
	p := Build(testCatalog(t), allOpen, 12)

	want := []string{"payment", "lesson"}
	if !equal(keys(p), want) {
		t.Errorf("steps = %v, want %v", keys(p), want)
	}
	if p.Achievable != 13 || !p.Satisfied {
		t.Errorf("achievable = %d satisfied = %v, want 13 true", p.Achievable, p.Satisfied)
	}
	if p.Steps[1].Cumulative != 13 {
		t.Errorf("cumulative = %d, want 13", p.Steps[1].Cumulative)
	}
}

func TestBuild_TiesKeepCatalogOrder(t *testing.T) {
	p := Build(testCatalog(t), allOpen, 100)

	// lesson precedes budget in the catalog; both are worth 5.
	want := []string{"payment", "lesson", "budget", "quiz"}
	if !equal(keys(p), want) {
		t.Errorf("steps = %v, want %v", keys(p), want)
	}
	if p.Satisfied {
		t.Error("plan should not be satisfied")
	}
	if p.Achievable != 19 {
		t.Errorf("achievable = %d, want 19", p.Achievable)
	}
}

func TestBuild_SkipsCappedActions(t *testing.T) {
	capped := func(r domain.Rule) (bool, domain.Window) {
		if r.ActionKey == "payment" {
			return true, domain.WindowMonth
		}
		return false, ""
	}
	p := Build(testCatalog(t), capped, 6)

	for _, s := range p.Steps {
		if s.ActionKey == "payment" {
			t.Fatal("capped action must never be planned")
		}
	}
	if !equal(keys(p), []string{"lesson", "budget"}) {
		t.Errorf("steps = %v", keys(p))
	}
	if len(p.Skipped) != 1 || p.Skipped[0].Binding != domain.WindowMonth {
		t.Errorf("skipped = %+v", p.Skipped)
	}
}

func TestBuild_NonPositiveNeed(t *testing.T) {
	for _, need := range []int64{0, -5} {
		p := Build(testCatalog(t), allOpen, need)
		if !p.Satisfied || len(p.Steps) != 0 {
			t.Errorf("Build(need=%d) = %+v, want empty satisfied plan", need, p)
		}
	}
}

func TestBuild_Deterministic(t *testing.T) {
	cat := testCatalog(t)
	first := Build(cat, allOpen, 14)
	for i := 0; i < 20; i++ {
		if got := Build(cat, allOpen, 14); !equal(keys(got), keys(first)) {
			t.Fatalf("run %d: steps = %v, want %v", i, keys(got), keys(first))
		}
	}
}
