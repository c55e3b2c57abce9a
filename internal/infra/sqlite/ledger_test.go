package sqlite

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/tutu-network/shf/internal/domain"
)

// ─── Helpers ────────────────────────────────────────────────────────────────

func newTestDB(t *testing.T) *DB {
	t.Helper()
	dir := t.TempDir()
	db, err := Open(dir)
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	db.SetClock(func() time.Time {
		return time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	})
	t.Cleanup(func() { db.Close() })
	return db
}

func earnEntry(subject string, ts int64) domain.LedgerEntry {
	return domain.LedgerEntry{
		SubjectID:   subject,
		Timestamp:   ts,
		Kind:        domain.KindEarn,
		ActionKey:   "quiz",
		TokenDeltas: map[domain.Token]int64{"corn": 2},
		ScoreDelta:  1,
		Meta:        map[string]string{"source": "test"},
	}
}

// ─── Append / Load ──────────────────────────────────────────────────────────

func TestLedger_AppendAndLoad(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	stored, err := db.AppendEntry(ctx, earnEntry("alice", 0), 0)
	if err != nil {
		t.Fatalf("AppendEntry() error: %v", err)
	}
	if stored.Seq != 1 {
		t.Errorf("Seq = %d, want 1", stored.Seq)
	}
	wantTS := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC).UnixMilli()
	if stored.Timestamp != wantTS {
		t.Errorf("Timestamp = %d, want %d", stored.Timestamp, wantTS)
	}

	entries, err := db.LoadEntries(ctx, "alice")
	if err != nil {
		t.Fatalf("LoadEntries() error: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("entries = %d, want 1", len(entries))
	}
	got := entries[0]
	if got.ID != stored.ID {
		t.Errorf("ID = %s, want %s", got.ID, stored.ID)
	}
	if got.TokenDeltas["corn"] != 2 {
		t.Errorf("corn delta = %d, want 2", got.TokenDeltas["corn"])
	}
	if got.Meta["source"] != "test" {
		t.Errorf("meta source = %q, want test", got.Meta["source"])
	}
	if got.Status != domain.StatusPosted {
		t.Errorf("Status = %s, want posted", got.Status)
	}
	if got.ActionKey != "quiz" || got.Kind != domain.KindEarn {
		t.Errorf("action/kind = %s/%s", got.ActionKey, got.Kind)
	}
}

func TestLedger_NullActionKeyRoundTrip(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	adj := domain.LedgerEntry{
		SubjectID:   "alice",
		Kind:        domain.KindAdjustment,
		TokenDeltas: map[domain.Token]int64{"corn": -1},
	}
	if _, err := db.AppendEntry(ctx, adj, 0); err != nil {
		t.Fatal(err)
	}
	entries, _ := db.LoadEntries(ctx, "alice")
	if entries[0].ActionKey != "" {
		t.Errorf("ActionKey = %q, want empty", entries[0].ActionKey)
	}
	if entries[0].Meta != nil {
		t.Errorf("Meta = %v, want nil", entries[0].Meta)
	}
}

func TestLedger_ConflictOnStaleSeq(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	if _, err := db.AppendEntry(ctx, earnEntry("alice", 0), 0); err != nil {
		t.Fatal(err)
	}
	_, err := db.AppendEntry(ctx, earnEntry("alice", 0), 0)
	if !errors.Is(err, domain.ErrConflict) {
		t.Errorf("stale append error = %v, want ErrConflict", err)
	}

	head, err := readHead(ctx, db.db, "alice")
	if err != nil || head != 1 {
		t.Errorf("HeadSeq = %d,%v, want 1", head, err)
	}
}

func TestLedger_ReversalIsAtomic(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	target, _ := db.AppendEntry(ctx, earnEntry("alice", 0), 0)
	marker := domain.LedgerEntry{
		SubjectID: "alice",
		Kind:      domain.KindAdjustment,
		RefID:     target.ID,
		Meta:      map[string]string{domain.MetaReverses: "true"},
	}
	if _, err := db.AppendEntry(ctx, marker, 1); err != nil {
		t.Fatalf("reversal error: %v", err)
	}

	entries, _ := db.LoadEntries(ctx, "alice")
	if entries[0].Status != domain.StatusReversed {
		t.Errorf("target status = %s, want reversed", entries[0].Status)
	}
	if !entries[1].IsReversal() {
		t.Error("second entry should be the reversal marker")
	}

	// A failed reversal must not advance the head.
	_, err := db.AppendEntry(ctx, marker, 2)
	if !errors.Is(err, domain.ErrAlreadyReversed) {
		t.Errorf("double reversal error = %v, want ErrAlreadyReversed", err)
	}
	head, _ := readHead(ctx, db.db, "alice")
	if head != 2 {
		t.Errorf("head = %d, want 2", head)
	}

	marker.RefID = "missing"
	if _, err := db.AppendEntry(ctx, marker, 2); !errors.Is(err, domain.ErrEntryNotFound) {
		t.Errorf("missing target error = %v, want ErrEntryNotFound", err)
	}
}

func TestLedger_QueryFilters(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	for i, ts := range []int64{1000, 2000, 3000, 4000} {
		e := earnEntry("alice", ts)
		if i%2 == 1 {
			e.ActionKey = "lesson"
		}
		if _, err := db.AppendEntry(ctx, e, int64(i)); err != nil {
			t.Fatal(err)
		}
	}

	tests := []struct {
		name   string
		filter domain.EntryFilter
		want   []int64
	}{
		{"all", domain.EntryFilter{}, []int64{1000, 2000, 3000, 4000}},
		{"action", domain.EntryFilter{ActionKey: "quiz"}, []int64{1000, 3000}},
		{"range", domain.EntryFilter{From: 2000, To: 3000}, []int64{2000, 3000}},
		{"newest two ascending", domain.EntryFilter{Limit: 2}, []int64{3000, 4000}},
		{"kind none", domain.EntryFilter{Kind: domain.KindSpend}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := db.QueryEntries(ctx, "alice", tt.filter)
			if err != nil {
				t.Fatalf("QueryEntries() error: %v", err)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("got %d entries, want %d", len(got), len(tt.want))
			}
			for i := range got {
				if got[i].Timestamp != tt.want[i] {
					t.Errorf("got[%d].ts = %d, want %d", i, got[i].Timestamp, tt.want[i])
				}
			}
		})
	}
}

func TestLedger_ConcurrentAppendsNeverFork(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			// Retry until this writer lands, like the engine does.
			for attempt := 0; attempt < 50; attempt++ {
				head, err := readHead(ctx, db.db, "alice")
				if err != nil {
					continue
				}
				if _, err := db.AppendEntry(ctx, earnEntry("alice", 0), head); err == nil {
					return
				}
			}
		}()
	}
	wg.Wait()

	entries, _ := db.LoadEntries(ctx, "alice")
	seen := map[int64]bool{}
	for _, e := range entries {
		if seen[e.Seq] {
			t.Fatalf("duplicate seq %d", e.Seq)
		}
		seen[e.Seq] = true
	}
	for s := int64(1); s <= int64(len(entries)); s++ {
		if !seen[s] {
			t.Errorf("seq %d missing; sequence must be contiguous", s)
		}
	}
}

func TestOpen_Reopen(t *testing.T) {
	dir := t.TempDir()
	db, err := Open(dir)
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	if _, err := db.AppendEntry(ctx, earnEntry("alice", 5), 0); err != nil {
		t.Fatal(err)
	}
	db.Close()

	db2, err := Open(dir)
	if err != nil {
		t.Fatalf("reopen error: %v", err)
	}
	defer db2.Close()
	entries, _ := db2.LoadEntries(ctx, "alice")
	if len(entries) != 1 {
		t.Errorf("entries after reopen = %d, want 1", len(entries))
	}
}

// ─── Failure Paths ──────────────────────────────────────────────────────────

func TestLedger_BeginFailureIsPersistenceError(t *testing.T) {
	sqlDB, mock, err := sqlmock.New()
	if err != nil {
		t.Fatal(err)
	}
	defer sqlDB.Close()

	mock.ExpectBegin().WillReturnError(errors.New("disk I/O error"))

	_, err = Wrap(sqlDB).AppendEntry(context.Background(), earnEntry("alice", 1), 0)
	if !errors.Is(err, domain.ErrPersistence) {
		t.Errorf("error = %v, want ErrPersistence", err)
	}
	var pe *domain.PersistenceError
	if !errors.As(err, &pe) || pe.Op != "sqlite begin" {
		t.Errorf("PersistenceError op = %v", pe)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestLedger_CommitFailureIsPersistenceError(t *testing.T) {
	sqlDB, mock, err := sqlmock.New()
	if err != nil {
		t.Fatal(err)
	}
	defer sqlDB.Close()

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT head_seq FROM subject_heads").
		WithArgs("alice").
		WillReturnRows(sqlmock.NewRows([]string{"head_seq"}).AddRow(0))
	mock.ExpectExec("INSERT INTO ledger_entries").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("INSERT INTO subject_heads").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit().WillReturnError(errors.New("database is locked"))

	_, err = Wrap(sqlDB).AppendEntry(context.Background(), earnEntry("alice", 1), 0)
	if !errors.Is(err, domain.ErrPersistence) {
		t.Errorf("error = %v, want ErrPersistence", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestLedger_QueryFailureIsPersistenceError(t *testing.T) {
	sqlDB, mock, err := sqlmock.New()
	if err != nil {
		t.Fatal(err)
	}
	defer sqlDB.Close()

	mock.ExpectQuery("SELECT (.+) FROM ledger_entries").WillReturnError(errors.New("no such table"))

	_, err = Wrap(sqlDB).LoadEntries(context.Background(), "alice")
	if !errors.Is(err, domain.ErrPersistence) {
		t.Errorf("error = %v, want ErrPersistence", err)
	}
}
