package rewards

import (
	"sync"

	"github.com/tutu-network/shf/internal/domain"
	"github.com/tutu-network/shf/internal/infra/observability"
)

// ─── Balance Projector ──────────────────────────────────────────────────────

// Projection is the fold of a subject's posted entries.
type Projection struct {
	Seq      int64                  `json:"seq"` // highest sequence folded
	Balances map[domain.Token]int64 `json:"balances"`
	ScoreSum int64                  `json:"score_sum"`
}

func newProjection() Projection {
	return Projection{Balances: make(map[domain.Token]int64)}
}

func (p Projection) clone() Projection {
	out := Projection{Seq: p.Seq, ScoreSum: p.ScoreSum, Balances: make(map[domain.Token]int64, len(p.Balances))}
	for t, v := range p.Balances {
		out.Balances[t] = v
	}
	return out
}

func (p *Projection) apply(e domain.LedgerEntry) {
	if !e.Posted() {
		if e.Seq > p.Seq {
			p.Seq = e.Seq
		}
		return
	}
	p.add(e)
}

// add folds an entry's deltas regardless of its current status.
func (p *Projection) add(e domain.LedgerEntry) {
	if e.Seq > p.Seq {
		p.Seq = e.Seq
	}
	for t, d := range e.TokenDeltas {
		if d == 0 {
			continue
		}
		p.Balances[t] += d
	}
	p.ScoreSum += e.ScoreDelta
}

// Balance returns the balance of one token (0 when never touched).
func (p Projection) Balance(t domain.Token) int64 {
	return p.Balances[t]
}

// Fold sums the entries with timestamp <= asOf that were posted at asOf.
// An entry reversed by a marker later than asOf still counts. asOf 0 means
// no bound, and entries count by their current status.
func Fold(entries []domain.LedgerEntry, asOf int64) Projection {
	p := newProjection()
	if asOf == 0 {
		for _, e := range entries {
			p.apply(e)
		}
		return p
	}

	reversedAt := make(map[string]int64)
	for _, e := range entries {
		if e.IsReversal() {
			reversedAt[e.RefID] = e.Timestamp
		}
	}
	for _, e := range entries {
		if e.Timestamp > asOf {
			continue
		}
		if e.Posted() {
			p.add(e)
			continue
		}
		if ts, ok := reversedAt[e.ID]; ok && ts > asOf {
			p.add(e)
		} else {
			p.apply(e)
		}
	}
	return p
}

// Projector caches the unbounded fold per subject and applies only entries
// newer than the cached sequence. Any reversal drops the cache, since it
// changes the status of an entry that was already folded.
type Projector struct {
	mu    sync.Mutex
	cache map[string]Projection
}

// NewProjector creates an empty projector.
func NewProjector() *Projector {
	return &Projector{cache: make(map[string]Projection)}
}

// Project returns the current fold of a subject given its full entry list.
func (p *Projector) Project(subjectID string, entries []domain.LedgerEntry) Projection {
	p.mu.Lock()
	cached, ok := p.cache[subjectID]
	p.mu.Unlock()

	head := domain.HeadSeq(entries)
	if ok && cached.Seq > head {
		// The caller holds an older snapshot than the cache; fold it as is.
		ok = false
	}

	var proj Projection
	if ok {
		proj = cached.clone()
		for _, e := range entries {
			if e.Seq <= cached.Seq {
				continue
			}
			if e.IsReversal() {
				ok = false
				break
			}
			proj.apply(e)
		}
	}
	if ok {
		observability.ProjectorFolds.WithLabelValues("hit").Inc()
	} else {
		observability.ProjectorFolds.WithLabelValues("miss").Inc()
		proj = Fold(entries, 0)
		proj.Seq = head
	}

	p.mu.Lock()
	if cur, exists := p.cache[subjectID]; !exists || cur.Seq <= proj.Seq {
		p.cache[subjectID] = proj.clone()
	}
	p.mu.Unlock()
	return proj
}

// Invalidate drops the cached fold of a subject.
func (p *Projector) Invalidate(subjectID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.cache, subjectID)
}
