package rewards

import (
	"context"
	"time"

	"github.com/tutu-network/shf/internal/app/planner"
	"github.com/tutu-network/shf/internal/domain"
	"github.com/tutu-network/shf/internal/infra/observability"
	"github.com/tutu-network/shf/internal/infra/reputation"
)

// ─── Queries ────────────────────────────────────────────────────────────────
// Queries never take the subject lock. Each one loads a snapshot at the start
// of the call and answers from it, so concurrent appends are simply not seen.

// Balances returns every token balance at asOf (zero asOf = now). Known
// tokens and the currency are always present, zero when never touched.
func (e *Engine) Balances(ctx context.Context, subjectID string, asOf time.Time) (map[domain.Token]int64, error) {
	proj, err := e.fold(ctx, subjectID, asOf)
	if err != nil {
		return nil, err
	}
	return e.fillBalances(proj), nil
}

// Score returns the clamped score at asOf (zero asOf = now).
func (e *Engine) Score(ctx context.Context, subjectID string, asOf time.Time) (int64, error) {
	proj, err := e.fold(ctx, subjectID, asOf)
	if err != nil {
		return 0, err
	}
	return e.config.Scale.Score(proj.ScoreSum), nil
}

// Tier returns the tier at asOf (zero asOf = now).
func (e *Engine) Tier(ctx context.Context, subjectID string, asOf time.Time) (reputation.Tier, error) {
	score, err := e.Score(ctx, subjectID, asOf)
	if err != nil {
		return "", err
	}
	return reputation.TierForScore(score), nil
}

// Standing returns score, tier, band and the gap to the next tier at asOf.
func (e *Engine) Standing(ctx context.Context, subjectID string, asOf time.Time) (reputation.Standing, error) {
	proj, err := e.fold(ctx, subjectID, asOf)
	if err != nil {
		return reputation.Standing{}, err
	}
	return e.config.Scale.Standing(proj.ScoreSum), nil
}

// Remaining returns the per-window allowance of an action right now.
func (e *Engine) Remaining(ctx context.Context, subjectID, actionKey string) (Remaining, error) {
	if err := requireSubject(subjectID); err != nil {
		return Remaining{}, err
	}
	snap, err := e.load(ctx, subjectID)
	if err != nil {
		return Remaining{}, err
	}
	rule, ok := snap.catalog.Rule(actionKey)
	if !ok {
		return Remaining{}, domain.ErrUnknownAction
	}
	return ComputeRemaining(rule, snap.entries, snap.now), nil
}

// History returns the subject's entries matching f, ascending.
func (e *Engine) History(ctx context.Context, subjectID string, f domain.EntryFilter) ([]domain.LedgerEntry, error) {
	if err := requireSubject(subjectID); err != nil {
		return nil, err
	}
	if f.Kind != "" && !f.Kind.Valid() {
		return nil, &domain.ValidationError{Field: "kind", Reason: "unknown entry kind " + string(f.Kind)}
	}
	if f.Status != "" && f.Status != domain.StatusPosted && f.Status != domain.StatusReversed {
		return nil, &domain.ValidationError{Field: "status", Reason: "unknown status " + string(f.Status)}
	}
	if f.Limit < 0 {
		return nil, &domain.ValidationError{Field: "limit", Reason: "must not be negative"}
	}
	if f.From != 0 && f.To != 0 && f.From > f.To {
		return nil, &domain.ValidationError{Field: "from", Reason: "after to"}
	}

	start := time.Now()
	entries, err := e.store.QueryEntries(ctx, subjectID, f)
	observability.StoreLatency.WithLabelValues("query").Observe(msSince(start))
	if err != nil {
		return nil, storeErr("query entries", err)
	}
	if entries == nil {
		entries = []domain.LedgerEntry{}
	}
	return entries, nil
}

// Plan recommends actions worth at least need score points, skipping
// actions that are capped right now.
func (e *Engine) Plan(ctx context.Context, subjectID string, need int64) (planner.Plan, error) {
	if err := requireSubject(subjectID); err != nil {
		return planner.Plan{}, err
	}
	snap, err := e.load(ctx, subjectID)
	if err != nil {
		return planner.Plan{}, err
	}
	return planner.Build(snap.catalog, availability(snap), need), nil
}

// PlanForTier plans the points the subject still needs to enter a tier.
func (e *Engine) PlanForTier(ctx context.Context, subjectID string, tier reputation.Tier) (planner.Plan, error) {
	if err := requireSubject(subjectID); err != nil {
		return planner.Plan{}, err
	}
	snap, err := e.load(ctx, subjectID)
	if err != nil {
		return planner.Plan{}, err
	}
	score := e.config.Scale.Score(e.projection(snap).ScoreSum)
	need, err := e.config.Scale.PointsToReach(score, tier)
	if err != nil {
		return planner.Plan{}, &domain.ValidationError{Field: "tier", Reason: err.Error()}
	}
	return planner.Build(snap.catalog, availability(snap), need), nil
}

// Catalog returns the rule catalog in effect.
func (e *Engine) Catalog(ctx context.Context) (*domain.RuleCatalog, error) {
	cat, err := e.store.LoadCatalog(ctx)
	if err != nil {
		return nil, storeErr("load catalog", err)
	}
	return cat, nil
}

// ─── Summary ────────────────────────────────────────────────────────────────

// Summary is the admin view of one subject.
type Summary struct {
	SubjectID      string                 `json:"subject_id"`
	Balances       map[domain.Token]int64 `json:"balances"`
	Standing       reputation.Standing    `json:"standing"`
	Entries        int                    `json:"entries"`
	HeadSeq        int64                  `json:"head_seq"`
	CatalogVersion int                    `json:"catalog_version"`
	Capped         []Remaining            `json:"capped"` // actions blocked right now
	AsOf           time.Time              `json:"as_of"`
}

// Summary assembles balances, standing and cap state from one snapshot.
func (e *Engine) Summary(ctx context.Context, subjectID string) (Summary, error) {
	if err := requireSubject(subjectID); err != nil {
		return Summary{}, err
	}
	snap, err := e.load(ctx, subjectID)
	if err != nil {
		return Summary{}, err
	}
	proj := e.projection(snap)

	s := Summary{
		SubjectID:      subjectID,
		Balances:       e.fillBalances(proj),
		Standing:       e.config.Scale.Standing(proj.ScoreSum),
		Entries:        len(snap.entries),
		HeadSeq:        snap.head,
		CatalogVersion: snap.catalog.Version,
		Capped:         []Remaining{},
		AsOf:           snap.now,
	}
	for _, rule := range snap.catalog.Rules {
		if rem := ComputeRemaining(rule, snap.entries, snap.now); rem.Blocked() {
			s.Capped = append(s.Capped, rem)
		}
	}
	return s, nil
}

// ─── Helpers ────────────────────────────────────────────────────────────────

func (e *Engine) fold(ctx context.Context, subjectID string, asOf time.Time) (Projection, error) {
	if err := requireSubject(subjectID); err != nil {
		return Projection{}, err
	}
	snap, err := e.load(ctx, subjectID)
	if err != nil {
		return Projection{}, err
	}
	if asOf.IsZero() {
		return e.projection(snap), nil
	}
	return Fold(snap.entries, asOf.UnixMilli()), nil
}

func (e *Engine) fillBalances(p Projection) map[domain.Token]int64 {
	out := make(map[domain.Token]int64, len(p.Balances)+1)
	for _, tok := range e.rates.Tokens() {
		out[tok] = 0
	}
	out[domain.Currency] = 0
	for tok, v := range p.Balances {
		out[tok] = v
	}
	return out
}

// availability adapts the cap engine to the planner.
func availability(snap snapshot) planner.Availability {
	return func(rule domain.Rule) (bool, domain.Window) {
		rem := ComputeRemaining(rule, snap.entries, snap.now)
		if !rem.Blocked() {
			return false, ""
		}
		b, _ := rem.Binding()
		return true, b.Window
	}
}
