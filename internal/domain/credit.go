// Package domain holds the ledger's pure types: entries, rules, filters and
// the errors commands fail with. It imports nothing from the rest of the module.
package domain

import (
	"sort"
	"time"
)

// ─── Ledger Types ───────────────────────────────────────────────────────────
// These live in domain because they represent core business rules.
// The ledger is append-only: balances and score are folds over entries.

// EntryKind represents the business reason for a ledger entry.
type EntryKind string

const (
	KindEarn       EntryKind = "earn"
	KindConvert    EntryKind = "convert"
	KindSpend      EntryKind = "spend"
	KindAdjustment EntryKind = "adjustment"
	KindDispute    EntryKind = "dispute"
)

// Valid reports whether k is one of the known entry kinds.
func (k EntryKind) Valid() bool {
	switch k {
	case KindEarn, KindConvert, KindSpend, KindAdjustment, KindDispute:
		return true
	}
	return false
}

// EntryStatus tracks whether an entry still counts toward balances.
type EntryStatus string

const (
	StatusPosted   EntryStatus = "posted"
	StatusReversed EntryStatus = "reversed"
)

// Token is a token symbol, e.g. "corn".
type Token string

// Currency is the reserved pseudo-token that every other token converts into.
const Currency Token = "SHF"

// MetaReverses marks an adjustment entry as the reversal marker of RefID.
const MetaReverses = "reverses"

// MetaReason is the free-form reason recorded on adjustments, reversals and disputes.
const MetaReason = "reason"

// LedgerEntry is a single immutable row in a subject's ledger.
type LedgerEntry struct {
	ID          string            `json:"id"`
	SubjectID   string            `json:"subject_id"`
	Seq         int64             `json:"seq"`
	Timestamp   int64             `json:"ts"` // epoch millis
	Kind        EntryKind         `json:"kind"`
	ActionKey   string            `json:"action_key,omitempty"`
	TokenDeltas map[Token]int64   `json:"token_deltas"`
	ScoreDelta  int64             `json:"score_delta"`
	Meta        map[string]string `json:"meta,omitempty"`
	Status      EntryStatus       `json:"status"`
	RefID       string            `json:"ref_id,omitempty"` // target of a dispute or reversal
}

// Time returns the entry timestamp as a time.Time in UTC.
func (e LedgerEntry) Time() time.Time {
	return time.UnixMilli(e.Timestamp).UTC()
}

// Posted reports whether the entry counts toward balances and caps.
func (e LedgerEntry) Posted() bool {
	return e.Status == StatusPosted
}

// HasEffect reports whether the entry moves any balance or the score.
func (e LedgerEntry) HasEffect() bool {
	if e.ScoreDelta != 0 {
		return true
	}
	for _, d := range e.TokenDeltas {
		if d != 0 {
			return true
		}
	}
	return false
}

// IsReversal reports whether the entry is the marker that reversed RefID.
func (e LedgerEntry) IsReversal() bool {
	return e.Kind == KindAdjustment && e.RefID != "" && e.Meta[MetaReverses] == "true"
}

// Clone returns a deep copy so stored entries cannot be mutated by callers.
func (e LedgerEntry) Clone() LedgerEntry {
	out := e
	if e.TokenDeltas != nil {
		out.TokenDeltas = make(map[Token]int64, len(e.TokenDeltas))
		for k, v := range e.TokenDeltas {
			out.TokenDeltas[k] = v
		}
	}
	if e.Meta != nil {
		out.Meta = make(map[string]string, len(e.Meta))
		for k, v := range e.Meta {
			out.Meta[k] = v
		}
	}
	return out
}

// SortEntries orders entries by timestamp, then sequence.
func SortEntries(entries []LedgerEntry) {
	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].Timestamp != entries[j].Timestamp {
			return entries[i].Timestamp < entries[j].Timestamp
		}
		return entries[i].Seq < entries[j].Seq
	})
}

// HeadSeq returns the highest sequence number in entries, 0 for an empty ledger.
func HeadSeq(entries []LedgerEntry) int64 {
	var head int64
	for _, e := range entries {
		if e.Seq > head {
			head = e.Seq
		}
	}
	return head
}

// EntryFilter selects entries for history queries.
// Zero values mean "no constraint".
type EntryFilter struct {
	ActionKey string      `json:"action_key,omitempty"`
	Kind      EntryKind   `json:"kind,omitempty"`
	Status    EntryStatus `json:"status,omitempty"`
	From      int64       `json:"from,omitempty"` // inclusive, epoch millis
	To        int64       `json:"to,omitempty"`   // inclusive, epoch millis
	Limit     int         `json:"limit,omitempty"` // newest N
}

// Match reports whether e satisfies every constraint of the filter except Limit.
func (f EntryFilter) Match(e LedgerEntry) bool {
	if f.ActionKey != "" && e.ActionKey != f.ActionKey {
		return false
	}
	if f.Kind != "" && e.Kind != f.Kind {
		return false
	}
	if f.Status != "" && e.Status != f.Status {
		return false
	}
	if f.From != 0 && e.Timestamp < f.From {
		return false
	}
	if f.To != 0 && e.Timestamp > f.To {
		return false
	}
	return true
}

// Apply filters entries (already in ledger order). Limit keeps the newest
// matches; the result stays in ascending order.
func (f EntryFilter) Apply(entries []LedgerEntry) []LedgerEntry {
	out := make([]LedgerEntry, 0, len(entries))
	for _, e := range entries {
		if f.Match(e) {
			out = append(out, e)
		}
	}
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[len(out)-f.Limit:]
	}
	return out
}

// Stamp fills the store-assigned fields of a new entry: ID (when empty),
// timestamp (when zero), sequence and posted status.
func Stamp(e LedgerEntry, seq int64, now time.Time, newID func() string) LedgerEntry {
	out := e.Clone()
	if out.ID == "" {
		out.ID = newID()
	}
	if out.Timestamp == 0 {
		out.Timestamp = now.UnixMilli()
	}
	if out.TokenDeltas == nil {
		out.TokenDeltas = map[Token]int64{}
	}
	out.Seq = seq
	out.Status = StatusPosted
	return out
}

// CheckReversible reports why target cannot be reversed, or nil if it can.
func CheckReversible(target LedgerEntry) error {
	if target.Status == StatusReversed {
		return ErrAlreadyReversed
	}
	if target.Kind == KindDispute || target.IsReversal() {
		return ErrNotReversible
	}
	return nil
}
