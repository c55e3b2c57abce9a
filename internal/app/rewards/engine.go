// Package rewards is the ledger engine: it decides every command against a
// snapshot of the subject's ledger and appends the resulting entry.
//
// Every mutating command runs the same cycle:
//  1. Validate the command (no store access)
//  2. Take the subject's lock and load a snapshot (catalog, entries, head seq)
//  3. Decide: caps, balances, reversibility; produce at most one entry
//  4. Append with expectedSeq = snapshot head; on conflict, go back to 2
//  5. Publish the posted entry to the live feed
package rewards

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/tutu-network/shf/internal/domain"
	"github.com/tutu-network/shf/internal/infra/conversion"
	"github.com/tutu-network/shf/internal/infra/observability"
	"github.com/tutu-network/shf/internal/infra/reputation"
)

// Config controls engine behavior.
type Config struct {
	MaxAppendRetries int              // decide-then-append attempts per command (default: 5)
	Scale            reputation.Scale // score scale (default: 600 / 300..850)
}

// DefaultConfig returns safe engine defaults.
func DefaultConfig() Config {
	return Config{
		MaxAppendRetries: 5,
		Scale:            reputation.DefaultScale(),
	}
}

// Engine executes ledger commands and answers ledger queries.
type Engine struct {
	config    Config
	store     domain.PersistenceAdapter
	rates     *conversion.RateTable
	projector *Projector
	feed      *Feed
	tracer    *observability.Tracer
	log       logrus.FieldLogger

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex // subject → command lock

	// Injectable clock for testing.
	now func() time.Time
}

// Option customizes an Engine.
type Option func(*Engine)

// WithLogger sets the engine's logger.
func WithLogger(log logrus.FieldLogger) Option {
	return func(e *Engine) { e.log = log }
}

// WithTracer records a span per command.
func WithTracer(t *observability.Tracer) Option {
	return func(e *Engine) { e.tracer = t }
}

// WithClock replaces the wall clock.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// New creates a ledger engine over a store and a conversion rate table.
func New(cfg Config, store domain.PersistenceAdapter, rates *conversion.RateTable, opts ...Option) (*Engine, error) {
	if store == nil {
		return nil, errors.New("rewards: nil store")
	}
	if rates == nil {
		return nil, errors.New("rewards: nil rate table")
	}
	if cfg.MaxAppendRetries <= 0 {
		cfg.MaxAppendRetries = DefaultConfig().MaxAppendRetries
	}
	if err := cfg.Scale.Validate(); err != nil {
		return nil, fmt.Errorf("rewards: %w", err)
	}

	e := &Engine{
		config:    cfg,
		store:     store,
		rates:     rates,
		projector: NewProjector(),
		feed:      NewFeed(),
		locks:     make(map[string]*sync.Mutex),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.log == nil {
		l := logrus.New()
		e.log = l
	}
	e.log = e.log.WithField("component", "rewards")
	return e, nil
}

// Feed returns the live feed of posted entries.
func (e *Engine) Feed() *Feed { return e.feed }

// Rates returns the conversion rate table.
func (e *Engine) Rates() *conversion.RateTable { return e.rates }

// Scale returns the score scale.
func (e *Engine) Scale() reputation.Scale { return e.config.Scale }

// Spans returns the most recent command spans, oldest first.
func (e *Engine) Spans(limit int) []observability.Span {
	if e.tracer == nil {
		return []observability.Span{}
	}
	return e.tracer.Spans(limit)
}

// SpanCount returns how many command spans are buffered.
func (e *Engine) SpanCount() int {
	if e.tracer == nil {
		return 0
	}
	return e.tracer.SpanCount()
}

// ResetSpans drops the buffered command spans.
func (e *Engine) ResetSpans() {
	if e.tracer != nil {
		e.tracer.Reset()
	}
}

// ─── Snapshot ───────────────────────────────────────────────────────────────

// snapshot is everything one decision reads. It is never refreshed
// mid-decision; a stale snapshot surfaces as ErrConflict at append time.
type snapshot struct {
	subject string
	catalog *domain.RuleCatalog
	entries []domain.LedgerEntry
	head    int64
	now     time.Time
}

func (e *Engine) load(ctx context.Context, subjectID string) (snapshot, error) {
	cat, err := e.store.LoadCatalog(ctx)
	if err != nil {
		return snapshot{}, storeErr("load catalog", err)
	}
	if cat == nil {
		return snapshot{}, &domain.PersistenceError{Op: "load catalog", Err: errors.New("no catalog")}
	}

	start := time.Now()
	entries, err := e.store.LoadEntries(ctx, subjectID)
	observability.StoreLatency.WithLabelValues("load").Observe(msSince(start))
	if err != nil {
		return snapshot{}, storeErr("load entries", err)
	}
	return snapshot{
		subject: subjectID,
		catalog: cat,
		entries: entries,
		head:    domain.HeadSeq(entries),
		now:     e.now().UTC(),
	}, nil
}

// projection is the current fold of the snapshot.
func (e *Engine) projection(snap snapshot) Projection {
	return e.projector.Project(snap.subject, snap.entries)
}

// ─── Decide-then-Append ─────────────────────────────────────────────────────

// decideFunc turns a snapshot into at most one entry. A nil entry with a nil
// error means the command completed without appending (e.g. a capped earn).
type decideFunc func(snap snapshot) (*domain.LedgerEntry, error)

// mutate runs the decide-then-append cycle for one command under the
// subject's lock, retrying on head conflicts.
func (e *Engine) mutate(ctx context.Context, command, subjectID string, decide decideFunc) (posted domain.LedgerEntry, ok bool, err error) {
	span := e.tracer.StartSpan(ctx, "ledger."+command, map[string]string{"subject": subjectID})
	defer func() {
		e.tracer.EndSpan(span, err)
		if err != nil {
			observability.CommandErrors.WithLabelValues(command, errorClass(err)).Inc()
		}
	}()

	unlock := e.lock(subjectID)
	defer unlock()

	log := e.log.WithFields(logrus.Fields{"command": command, "subject": subjectID})
	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return domain.LedgerEntry{}, false, err
		}

		snap, err := e.load(ctx, subjectID)
		if err != nil {
			return domain.LedgerEntry{}, false, err
		}
		entry, err := decide(snap)
		if err != nil {
			return domain.LedgerEntry{}, false, err
		}
		if entry == nil {
			return domain.LedgerEntry{}, false, nil
		}
		entry.SubjectID = subjectID
		entry.Timestamp = snap.now.UnixMilli()

		start := time.Now()
		posted, err = e.store.AppendEntry(ctx, *entry, snap.head)
		observability.StoreLatency.WithLabelValues("append").Observe(msSince(start))

		if errors.Is(err, domain.ErrConflict) {
			observability.CommandConflicts.WithLabelValues(command).Inc()
			if attempt < e.config.MaxAppendRetries {
				log.WithField("attempt", attempt).Warn("ledger head moved, retrying")
				continue
			}
			return domain.LedgerEntry{}, false, fmt.Errorf("%s after %d attempts: %w", command, attempt, domain.ErrConflict)
		}
		if err != nil {
			return domain.LedgerEntry{}, false, storeErr("append entry", err)
		}
		break
	}

	if posted.IsReversal() {
		e.projector.Invalidate(subjectID)
	}
	observability.EntriesPosted.WithLabelValues(string(posted.Kind)).Inc()
	log.WithFields(logrus.Fields{
		"entry_id": posted.ID,
		"kind":     posted.Kind,
		"seq":      posted.Seq,
	}).Info("entry posted")
	e.feed.Publish(posted)
	return posted, true, nil
}

// lock serializes commands of one subject within this process.
func (e *Engine) lock(subjectID string) func() {
	e.locksMu.Lock()
	mu, ok := e.locks[subjectID]
	if !ok {
		mu = &sync.Mutex{}
		e.locks[subjectID] = mu
	}
	e.locksMu.Unlock()

	mu.Lock()
	return mu.Unlock
}

// ─── Helpers ────────────────────────────────────────────────────────────────

// storeErr passes ledger-level store errors through and wraps anything else
// as a PersistenceError.
func storeErr(op string, err error) error {
	switch {
	case errors.Is(err, domain.ErrPersistence),
		errors.Is(err, domain.ErrConflict),
		errors.Is(err, domain.ErrEntryNotFound),
		errors.Is(err, domain.ErrAlreadyReversed),
		errors.Is(err, domain.ErrNotReversible),
		errors.Is(err, domain.ErrValidation),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return err
	}
	return &domain.PersistenceError{Op: op, Err: err}
}

// errorClass is the metric label of a command error.
func errorClass(err error) string {
	switch {
	case errors.Is(err, domain.ErrValidation):
		return "validation"
	case errors.Is(err, domain.ErrUnknownAction):
		return "unknown_action"
	case errors.Is(err, domain.ErrUnknownToken):
		return "unknown_token"
	case errors.Is(err, domain.ErrEmptyBundle):
		return "empty_bundle"
	case errors.Is(err, domain.ErrInsufficientBalance):
		return "insufficient_balance"
	case errors.Is(err, domain.ErrInsufficientFunds):
		return "insufficient_funds"
	case errors.Is(err, domain.ErrEntryNotFound):
		return "not_found"
	case errors.Is(err, domain.ErrAlreadyReversed):
		return "already_reversed"
	case errors.Is(err, domain.ErrNotReversible):
		return "not_reversible"
	case errors.Is(err, domain.ErrConflict):
		return "conflict"
	case errors.Is(err, domain.ErrPersistence):
		return "persistence"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	}
	return "other"
}

func requireSubject(subjectID string) error {
	if subjectID == "" {
		return &domain.ValidationError{Field: "subject", Reason: "required"}
	}
	return nil
}

func msSince(start time.Time) float64 {
	return float64(time.Since(start).Microseconds()) / 1000
}
