// Package memory provides an in-process domain.LedgerStore for tests and
// ephemeral ledgers.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tutu-network/shf/internal/domain"
)

// LedgerStore is an in-memory implementation of domain.LedgerStore.
// Entries are kept per subject in append order.
type LedgerStore struct {
	mu       sync.RWMutex
	subjects map[string][]domain.LedgerEntry

	// Injectable clock for testing.
	now func() time.Time
}

// NewLedgerStore creates an empty in-memory ledger store.
func NewLedgerStore() *LedgerStore {
	return &LedgerStore{
		subjects: make(map[string][]domain.LedgerEntry),
		now:      time.Now,
	}
}

// SetClock overrides the clock used for entries without a timestamp.
func (s *LedgerStore) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

func newEntryID() string {
	return uuid.Must(uuid.NewV7()).String()
}

// AppendEntry implements domain.LedgerStore.
func (s *LedgerStore) AppendEntry(_ context.Context, entry domain.LedgerEntry, expectedSeq int64) (domain.LedgerEntry, error) {
	if entry.SubjectID == "" {
		return domain.LedgerEntry{}, &domain.ValidationError{Field: "subject_id", Reason: "required"}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	entries := s.subjects[entry.SubjectID]
	head := int64(len(entries))
	if head != expectedSeq {
		return domain.LedgerEntry{}, fmt.Errorf("%w: head %d, expected %d", domain.ErrConflict, head, expectedSeq)
	}

	target := -1
	if entry.IsReversal() {
		for i := range entries {
			if entries[i].ID == entry.RefID {
				target = i
				break
			}
		}
		if target < 0 {
			return domain.LedgerEntry{}, fmt.Errorf("%w: %s", domain.ErrEntryNotFound, entry.RefID)
		}
		if err := domain.CheckReversible(entries[target]); err != nil {
			return domain.LedgerEntry{}, fmt.Errorf("%w: %s", err, entry.RefID)
		}
	}

	stored := domain.Stamp(entry, head+1, s.now(), newEntryID)
	for i := range entries {
		if entries[i].ID == stored.ID {
			return domain.LedgerEntry{}, &domain.ValidationError{Field: "id", Reason: "duplicate entry id"}
		}
	}

	if target >= 0 {
		entries[target].Status = domain.StatusReversed
	}
	s.subjects[entry.SubjectID] = append(entries, stored)
	return stored.Clone(), nil
}

// LoadEntries implements domain.LedgerStore.
func (s *LedgerStore) LoadEntries(ctx context.Context, subjectID string) ([]domain.LedgerEntry, error) {
	return s.QueryEntries(ctx, subjectID, domain.EntryFilter{})
}

// QueryEntries implements domain.LedgerStore.
func (s *LedgerStore) QueryEntries(_ context.Context, subjectID string, f domain.EntryFilter) ([]domain.LedgerEntry, error) {
	s.mu.RLock()
	entries := make([]domain.LedgerEntry, 0, len(s.subjects[subjectID]))
	for _, e := range s.subjects[subjectID] {
		entries = append(entries, e.Clone())
	}
	s.mu.RUnlock()

	domain.SortEntries(entries)
	return f.Apply(entries), nil
}
