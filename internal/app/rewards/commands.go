package rewards

import (
	"context"
	"sort"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/tutu-network/shf/internal/domain"
	"github.com/tutu-network/shf/internal/infra/observability"
)

// ─── Earn ───────────────────────────────────────────────────────────────────

// EarnOptions overrides the catalog's default reward for one occurrence.
type EarnOptions struct {
	Rewards    map[domain.Token]int64 // nil = rule weights
	ScoreDelta *int64                 // nil = rule score
	Meta       map[string]string
}

// EarnOutcome is the result of an earn command. A capped earn is an outcome,
// not an error: Posted is false, Entry is nil, and Binding/ResetAt say which
// window blocked it and when it frees up.
type EarnOutcome struct {
	Posted    bool                `json:"posted"`
	Capped    bool                `json:"capped"`
	Entry     *domain.LedgerEntry `json:"entry,omitempty"`
	Remaining Remaining           `json:"remaining"`
	Binding   domain.Window       `json:"binding_window,omitempty"`
	ResetAt   time.Time           `json:"reset_at,omitzero"`
}

// Earn records one occurrence of a catalog action, unless a cap window for
// the action is exhausted.
func (e *Engine) Earn(ctx context.Context, subjectID, actionKey string, opts EarnOptions) (EarnOutcome, error) {
	if err := requireSubject(subjectID); err != nil {
		return EarnOutcome{}, e.reject("earn", err)
	}
	if actionKey == "" {
		return EarnOutcome{}, e.reject("earn", &domain.ValidationError{Field: "action", Reason: "required"})
	}
	if err := e.checkRewards(opts.Rewards); err != nil {
		return EarnOutcome{}, e.reject("earn", err)
	}

	var out EarnOutcome
	posted, ok, err := e.mutate(ctx, "earn", subjectID, func(snap snapshot) (*domain.LedgerEntry, error) {
		rule, found := snap.catalog.Rule(actionKey)
		if !found {
			return nil, domain.ErrUnknownAction
		}

		rem := ComputeRemaining(rule, snap.entries, snap.now)
		if rem.Blocked() {
			out = blockedOutcome(rem)
			return nil, nil
		}

		deltas := rule.RewardTokens()
		if opts.Rewards != nil {
			deltas = copyDeltas(opts.Rewards)
		}
		score := rule.RewardScore()
		if opts.ScoreDelta != nil {
			score = *opts.ScoreDelta
		}
		entry := &domain.LedgerEntry{
			Kind:        domain.KindEarn,
			ActionKey:   rule.ActionKey,
			TokenDeltas: deltas,
			ScoreDelta:  score,
			Meta:        copyMeta(opts.Meta),
		}

		// Remaining as it will be once the entry is posted.
		after := append(append([]domain.LedgerEntry(nil), snap.entries...), domain.LedgerEntry{
			ActionKey:   entry.ActionKey,
			Timestamp:   snap.now.UnixMilli(),
			TokenDeltas: entry.TokenDeltas,
			ScoreDelta:  entry.ScoreDelta,
			Status:      domain.StatusPosted,
		})
		out = EarnOutcome{Remaining: ComputeRemaining(rule, after, snap.now)}
		return entry, nil
	})
	if err != nil {
		return EarnOutcome{}, err
	}

	if !ok {
		observability.EarnBlocked.WithLabelValues(string(out.Binding)).Inc()
		e.log.WithFields(logrus.Fields{
			"subject":  subjectID,
			"action":   actionKey,
			"window":   out.Binding,
			"reset_at": out.ResetAt,
		}).Warn("earn capped")
		return out, nil
	}
	out.Posted = true
	out.Entry = &posted
	return out, nil
}

func blockedOutcome(rem Remaining) EarnOutcome {
	out := EarnOutcome{Capped: true, Remaining: rem}
	if b, ok := rem.Binding(); ok {
		out.Binding = b.Window
		out.ResetAt = b.ResetAt
	}
	return out
}

// checkRewards validates explicit earn rewards. Earn never mints currency.
func (e *Engine) checkRewards(rewards map[domain.Token]int64) error {
	for tok, amt := range rewards {
		if tok == domain.Currency {
			return &domain.ValidationError{Field: "rewards." + string(tok), Reason: "currency is only minted by conversion"}
		}
		if !e.rates.Known(tok) {
			return &domain.ValidationError{Field: "rewards." + string(tok), Reason: "unknown token"}
		}
		if amt < 0 {
			return &domain.ValidationError{Field: "rewards." + string(tok), Reason: "must not be negative"}
		}
	}
	return nil
}

// ─── Convert ────────────────────────────────────────────────────────────────

// Convert exchanges a bundle of tokens for currency at the configured rates.
// The gain is floor(Σ amount × rate); the fractional remainder is discarded.
func (e *Engine) Convert(ctx context.Context, subjectID string, bundle map[domain.Token]int64) (domain.LedgerEntry, error) {
	if err := requireSubject(subjectID); err != nil {
		return domain.LedgerEntry{}, e.reject("convert", err)
	}
	if _, reserved := bundle[domain.Currency]; reserved {
		return domain.LedgerEntry{}, e.reject("convert", &domain.ValidationError{Field: "bundle." + string(domain.Currency), Reason: "currency cannot be converted"})
	}
	quote, err := e.rates.Price(bundle)
	if err != nil {
		return domain.LedgerEntry{}, e.reject("convert", err)
	}

	posted, _, err := e.mutate(ctx, "convert", subjectID, func(snap snapshot) (*domain.LedgerEntry, error) {
		proj := e.projection(snap)
		for _, tok := range sortedTokens(bundle) {
			if amt := bundle[tok]; amt > proj.Balance(tok) {
				return nil, &domain.BalanceError{Token: tok, Requested: amt, Available: proj.Balance(tok)}
			}
		}

		deltas := make(map[domain.Token]int64, len(bundle)+1)
		for tok, amt := range bundle {
			if amt != 0 {
				deltas[tok] = -amt
			}
		}
		deltas[domain.Currency] = quote.Gain
		return &domain.LedgerEntry{
			Kind:        domain.KindConvert,
			TokenDeltas: deltas,
			Meta: map[string]string{
				"exact":     quote.Exact.String(),
				"remainder": quote.Remainder.String(),
			},
		}, nil
	})
	if err != nil {
		return domain.LedgerEntry{}, err
	}
	observability.CurrencyMinted.Add(float64(quote.Gain))
	return posted, nil
}

// ─── Spend ──────────────────────────────────────────────────────────────────

// Spend debits currency.
func (e *Engine) Spend(ctx context.Context, subjectID string, amount int64, meta map[string]string) (domain.LedgerEntry, error) {
	if err := requireSubject(subjectID); err != nil {
		return domain.LedgerEntry{}, e.reject("spend", err)
	}
	if amount <= 0 {
		return domain.LedgerEntry{}, e.reject("spend", &domain.ValidationError{Field: "amount", Reason: "must be positive"})
	}

	posted, _, err := e.mutate(ctx, "spend", subjectID, func(snap snapshot) (*domain.LedgerEntry, error) {
		if bal := e.projection(snap).Balance(domain.Currency); amount > bal {
			return nil, &domain.BalanceError{Token: domain.Currency, Requested: amount, Available: bal}
		}
		return &domain.LedgerEntry{
			Kind:        domain.KindSpend,
			TokenDeltas: map[domain.Token]int64{domain.Currency: -amount},
			Meta:        copyMeta(meta),
		}, nil
	})
	if err != nil {
		return domain.LedgerEntry{}, err
	}
	observability.CurrencySpent.Add(float64(amount))
	return posted, nil
}

// ─── Adjust ─────────────────────────────────────────────────────────────────

// Adjustment is a manual correction posted by an operator.
type Adjustment struct {
	TokenDeltas map[domain.Token]int64 `json:"token_deltas"`
	ScoreDelta  int64                  `json:"score_delta"`
	Reason      string                 `json:"reason"`
	Meta        map[string]string      `json:"meta,omitempty"`
}

// Adjust posts a manual adjustment. No balance may go negative.
func (e *Engine) Adjust(ctx context.Context, subjectID string, adj Adjustment) (domain.LedgerEntry, error) {
	if err := requireSubject(subjectID); err != nil {
		return domain.LedgerEntry{}, e.reject("adjust", err)
	}
	if adj.Reason == "" {
		return domain.LedgerEntry{}, e.reject("adjust", &domain.ValidationError{Field: "reason", Reason: "required"})
	}
	effect := adj.ScoreDelta != 0
	for tok, d := range adj.TokenDeltas {
		if tok != domain.Currency && !e.rates.Known(tok) {
			return domain.LedgerEntry{}, e.reject("adjust", &domain.ValidationError{Field: "token_deltas." + string(tok), Reason: "unknown token"})
		}
		if d != 0 {
			effect = true
		}
	}
	if !effect {
		return domain.LedgerEntry{}, e.reject("adjust", &domain.ValidationError{Field: "token_deltas", Reason: "adjustment has no effect"})
	}

	posted, _, err := e.mutate(ctx, "adjust", subjectID, func(snap snapshot) (*domain.LedgerEntry, error) {
		proj := e.projection(snap)
		for _, tok := range sortedTokens(adj.TokenDeltas) {
			d := adj.TokenDeltas[tok]
			if bal := proj.Balance(tok); bal+d < 0 {
				return nil, &domain.BalanceError{Token: tok, Requested: -d, Available: bal}
			}
		}
		meta := copyMeta(adj.Meta)
		if meta == nil {
			meta = make(map[string]string, 1)
		}
		meta[domain.MetaReason] = adj.Reason
		return &domain.LedgerEntry{
			Kind:        domain.KindAdjustment,
			TokenDeltas: copyDeltas(adj.TokenDeltas),
			ScoreDelta:  adj.ScoreDelta,
			Meta:        meta,
		}, nil
	})
	return posted, err
}

// ─── Reverse ────────────────────────────────────────────────────────────────

// Reverse withdraws a posted entry. The target flips to reversed and a
// zero-delta adjustment marker referencing it is appended, atomically. A
// reversal that would leave any balance negative is refused.
func (e *Engine) Reverse(ctx context.Context, subjectID, entryID, reason string) (domain.LedgerEntry, error) {
	if err := requireSubject(subjectID); err != nil {
		return domain.LedgerEntry{}, e.reject("reverse", err)
	}
	if entryID == "" {
		return domain.LedgerEntry{}, e.reject("reverse", &domain.ValidationError{Field: "entry_id", Reason: "required"})
	}
	if reason == "" {
		return domain.LedgerEntry{}, e.reject("reverse", &domain.ValidationError{Field: "reason", Reason: "required"})
	}

	return e.post(ctx, "reverse", subjectID, func(snap snapshot) (*domain.LedgerEntry, error) {
		target, ok := findEntry(snap.entries, entryID)
		if !ok {
			return nil, domain.ErrEntryNotFound
		}
		if err := domain.CheckReversible(target); err != nil {
			return nil, err
		}

		proj := e.projection(snap)
		for _, tok := range sortedTokens(target.TokenDeltas) {
			d := target.TokenDeltas[tok]
			if bal := proj.Balance(tok); bal-d < 0 {
				return nil, &domain.BalanceError{Token: tok, Requested: d, Available: bal}
			}
		}
		return &domain.LedgerEntry{
			Kind:  domain.KindAdjustment,
			RefID: target.ID,
			Meta: map[string]string{
				domain.MetaReverses: "true",
				domain.MetaReason:   reason,
				"reversed_seq":      strconv.FormatInt(target.Seq, 10),
			},
		}, nil
	})
}

// ─── Disputes ───────────────────────────────────────────────────────────────

// OpenDispute records a dispute against an existing entry. It has no balance
// or score effect.
func (e *Engine) OpenDispute(ctx context.Context, subjectID, entryID, reason string) (domain.LedgerEntry, error) {
	if err := requireSubject(subjectID); err != nil {
		return domain.LedgerEntry{}, e.reject("dispute", err)
	}
	if entryID == "" {
		return domain.LedgerEntry{}, e.reject("dispute", &domain.ValidationError{Field: "entry_id", Reason: "required"})
	}
	if reason == "" {
		return domain.LedgerEntry{}, e.reject("dispute", &domain.ValidationError{Field: "reason", Reason: "required"})
	}

	return e.post(ctx, "dispute", subjectID, func(snap snapshot) (*domain.LedgerEntry, error) {
		target, ok := findEntry(snap.entries, entryID)
		if !ok {
			return nil, domain.ErrEntryNotFound
		}
		return &domain.LedgerEntry{
			Kind:      domain.KindDispute,
			ActionKey: target.ActionKey,
			RefID:     target.ID,
			Meta:      map[string]string{domain.MetaReason: reason},
		}, nil
	})
}

// post runs a command that always appends on success.
func (e *Engine) post(ctx context.Context, command, subjectID string, decide decideFunc) (domain.LedgerEntry, error) {
	posted, _, err := e.mutate(ctx, command, subjectID, decide)
	return posted, err
}

// reject counts a command refused before it reached the store.
func (e *Engine) reject(command string, err error) error {
	observability.CommandErrors.WithLabelValues(command, errorClass(err)).Inc()
	return err
}

// ─── Pure Helper Functions ──────────────────────────────────────────────────

func findEntry(entries []domain.LedgerEntry, id string) (domain.LedgerEntry, bool) {
	for _, e := range entries {
		if e.ID == id {
			return e, true
		}
	}
	return domain.LedgerEntry{}, false
}

// sortedTokens gives balance checks a stable order, so the reported token
// is deterministic.
func sortedTokens(m map[domain.Token]int64) []domain.Token {
	out := make([]domain.Token, 0, len(m))
	for t := range m {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func copyDeltas(m map[domain.Token]int64) map[domain.Token]int64 {
	out := make(map[domain.Token]int64, len(m))
	for t, v := range m {
		if v != 0 {
			out[t] = v
		}
	}
	return out
}

func copyMeta(m map[string]string) map[string]string {
	if len(m) == 0 {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
