package domain

import "context"

// ─── Service Interfaces ─────────────────────────────────────────────────────
// These interfaces define boundaries between layers.
// Infrastructure implements them; application layer depends on them.

// LedgerStore is the append-only entry log for all subjects.
type LedgerStore interface {
	// AppendEntry assigns ID, timestamp (when zero) and the next sequence,
	// and persists the entry atomically. It fails with ErrConflict when the
	// subject's head sequence is not expectedSeq. A reversal marker also
	// flips its RefID target to reversed within the same atomic unit.
	AppendEntry(ctx context.Context, entry LedgerEntry, expectedSeq int64) (LedgerEntry, error)

	// LoadEntries returns every entry of a subject, ascending by (timestamp, seq).
	LoadEntries(ctx context.Context, subjectID string) ([]LedgerEntry, error)

	// QueryEntries returns the entries matching f, ascending by (timestamp, seq).
	QueryEntries(ctx context.Context, subjectID string, f EntryFilter) ([]LedgerEntry, error)
}

// CatalogSource provides the rule catalog (static or hot-reloadable).
type CatalogSource interface {
	LoadCatalog(ctx context.Context) (*RuleCatalog, error)
}

// PersistenceAdapter is everything the engine requires from its host.
type PersistenceAdapter interface {
	LedgerStore
	CatalogSource
}

// Persistence composes a store and a catalog source into a PersistenceAdapter.
type Persistence struct {
	LedgerStore
	CatalogSource
}

// StaticCatalog is a CatalogSource that always returns the same catalog.
type StaticCatalog struct {
	Catalog *RuleCatalog
}

// LoadCatalog returns the wrapped catalog.
func (s StaticCatalog) LoadCatalog(context.Context) (*RuleCatalog, error) {
	return s.Catalog, nil
}
