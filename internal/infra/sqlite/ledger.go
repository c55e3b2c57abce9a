package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	msqlite "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"

	"github.com/tutu-network/shf/internal/domain"
)

// ─── Ledger Schema ──────────────────────────────────────────────────────────

// LedgerMigrations returns the ledger schema migration statements.
// Each string is a single SQL statement (SQLite executes one at a time).
func LedgerMigrations() []string {
	return []string{
		// Append-only entry log. token_deltas and meta are JSON objects.
		`CREATE TABLE IF NOT EXISTS ledger_entries (
			id           TEXT PRIMARY KEY,
			subject_id   TEXT NOT NULL,
			seq          INTEGER NOT NULL,
			ts           INTEGER NOT NULL,
			kind         TEXT NOT NULL,
			action_key   TEXT,
			token_deltas TEXT NOT NULL DEFAULT '{}',
			score_delta  INTEGER NOT NULL DEFAULT 0,
			meta         TEXT NOT NULL DEFAULT '{}',
			status       TEXT NOT NULL DEFAULT 'posted',
			ref_id       TEXT,
			UNIQUE(subject_id, seq)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_ledger_subject_ts ON ledger_entries(subject_id, ts, seq)`,
		`CREATE INDEX IF NOT EXISTS idx_ledger_subject_action ON ledger_entries(subject_id, action_key, ts)`,

		// Head sequence per subject, the optimistic concurrency token.
		`CREATE TABLE IF NOT EXISTS subject_heads (
			subject_id TEXT PRIMARY KEY,
			head_seq   INTEGER NOT NULL DEFAULT 0,
			updated_at INTEGER NOT NULL
		)`,
	}
}

const entryColumns = `id, subject_id, seq, ts, kind, action_key, token_deltas, score_delta, meta, status, ref_id`

// ─── Ledger Operations ──────────────────────────────────────────────────────

func newEntryID() string {
	return uuid.Must(uuid.NewV7()).String()
}

// AppendEntry implements domain.LedgerStore. The head check, the optional
// reversal flip, the insert and the head bump share one transaction.
func (db *DB) AppendEntry(ctx context.Context, entry domain.LedgerEntry, expectedSeq int64) (domain.LedgerEntry, error) {
	if entry.SubjectID == "" {
		return domain.LedgerEntry{}, &domain.ValidationError{Field: "subject_id", Reason: "required"}
	}

	tx, err := db.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.LedgerEntry{}, persistenceErr("begin", err)
	}
	defer tx.Rollback()

	head, err := readHead(ctx, tx, entry.SubjectID)
	if err != nil {
		return domain.LedgerEntry{}, err
	}
	if head != expectedSeq {
		return domain.LedgerEntry{}, fmt.Errorf("%w: head %d, expected %d", domain.ErrConflict, head, expectedSeq)
	}

	if entry.IsReversal() {
		if err := reverseTarget(ctx, tx, entry.SubjectID, entry.RefID); err != nil {
			return domain.LedgerEntry{}, err
		}
	}

	stored := domain.Stamp(entry, head+1, db.now(), newEntryID)
	deltas, meta, err := encodeMaps(stored)
	if err != nil {
		return domain.LedgerEntry{}, err
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO ledger_entries (`+entryColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, stored.ID, stored.SubjectID, stored.Seq, stored.Timestamp, string(stored.Kind),
		nullString(stored.ActionKey), deltas, stored.ScoreDelta, meta, string(stored.Status),
		nullString(stored.RefID))
	if err != nil {
		if isUniqueViolation(err) {
			return domain.LedgerEntry{}, fmt.Errorf("%w: %v", domain.ErrConflict, err)
		}
		return domain.LedgerEntry{}, persistenceErr("insert entry", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO subject_heads (subject_id, head_seq, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(subject_id) DO UPDATE SET
			head_seq   = excluded.head_seq,
			updated_at = excluded.updated_at
	`, stored.SubjectID, stored.Seq, db.now().UnixMilli())
	if err != nil {
		return domain.LedgerEntry{}, persistenceErr("bump head", err)
	}

	if err := tx.Commit(); err != nil {
		return domain.LedgerEntry{}, persistenceErr("commit", err)
	}
	return stored, nil
}

// reverseTarget flips a posted entry to reversed inside tx.
func reverseTarget(ctx context.Context, tx *sql.Tx, subjectID, refID string) error {
	row := tx.QueryRowContext(ctx,
		`SELECT `+entryColumns+` FROM ledger_entries WHERE id = ? AND subject_id = ?`,
		refID, subjectID)
	target, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %s", domain.ErrEntryNotFound, refID)
	}
	if err != nil {
		return persistenceErr("read reversal target", err)
	}
	if err := domain.CheckReversible(target); err != nil {
		return fmt.Errorf("%w: %s", err, refID)
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE ledger_entries SET status = ? WHERE id = ?`,
		string(domain.StatusReversed), refID,
	); err != nil {
		return persistenceErr("reverse entry", err)
	}
	return nil
}

// LoadEntries implements domain.LedgerStore.
func (db *DB) LoadEntries(ctx context.Context, subjectID string) ([]domain.LedgerEntry, error) {
	return db.QueryEntries(ctx, subjectID, domain.EntryFilter{})
}

// QueryEntries implements domain.LedgerStore.
func (db *DB) QueryEntries(ctx context.Context, subjectID string, f domain.EntryFilter) ([]domain.LedgerEntry, error) {
	where := []string{"subject_id = ?"}
	args := []any{subjectID}
	if f.ActionKey != "" {
		where = append(where, "action_key = ?")
		args = append(args, f.ActionKey)
	}
	if f.Kind != "" {
		where = append(where, "kind = ?")
		args = append(args, string(f.Kind))
	}
	if f.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(f.Status))
	}
	if f.From != 0 {
		where = append(where, "ts >= ?")
		args = append(args, f.From)
	}
	if f.To != 0 {
		where = append(where, "ts <= ?")
		args = append(args, f.To)
	}

	query := `SELECT ` + entryColumns + ` FROM ledger_entries WHERE ` + strings.Join(where, " AND ")
	if f.Limit > 0 {
		// Newest N, flipped back to ascending below.
		query += ` ORDER BY ts DESC, seq DESC LIMIT ?`
		args = append(args, f.Limit)
	} else {
		query += ` ORDER BY ts ASC, seq ASC`
	}

	rows, err := db.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, persistenceErr("query entries", err)
	}
	defer rows.Close()

	var out []domain.LedgerEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, persistenceErr("scan entry", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, persistenceErr("iterate entries", err)
	}
	if f.Limit > 0 {
		domain.SortEntries(out)
	}
	return out, nil
}

type rowQuerier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// readHead returns the current head sequence of a subject (0 when empty).
func readHead(ctx context.Context, q rowQuerier, subjectID string) (int64, error) {
	var head int64
	err := q.QueryRowContext(ctx,
		`SELECT head_seq FROM subject_heads WHERE subject_id = ?`, subjectID,
	).Scan(&head)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, persistenceErr("read head", err)
	}
	return head, nil
}

// ─── Row Helpers ────────────────────────────────────────────────────────────

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (domain.LedgerEntry, error) {
	var (
		e                  domain.LedgerEntry
		kind, status       string
		actionKey, refID   sql.NullString
		deltasJSON, metaJS string
	)
	if err := row.Scan(&e.ID, &e.SubjectID, &e.Seq, &e.Timestamp, &kind, &actionKey,
		&deltasJSON, &e.ScoreDelta, &metaJS, &status, &refID); err != nil {
		return domain.LedgerEntry{}, err
	}
	e.Kind = domain.EntryKind(kind)
	e.Status = domain.EntryStatus(status)
	e.ActionKey = actionKey.String
	e.RefID = refID.String
	if err := json.Unmarshal([]byte(deltasJSON), &e.TokenDeltas); err != nil {
		return domain.LedgerEntry{}, fmt.Errorf("decode token_deltas of %s: %w", e.ID, err)
	}
	if metaJS != "" && metaJS != "{}" {
		if err := json.Unmarshal([]byte(metaJS), &e.Meta); err != nil {
			return domain.LedgerEntry{}, fmt.Errorf("decode meta of %s: %w", e.ID, err)
		}
	}
	if e.TokenDeltas == nil {
		e.TokenDeltas = map[domain.Token]int64{}
	}
	return e, nil
}

func encodeMaps(e domain.LedgerEntry) (deltas, meta string, err error) {
	d, err := json.Marshal(e.TokenDeltas)
	if err != nil {
		return "", "", &domain.ValidationError{Field: "token_deltas", Reason: err.Error()}
	}
	m := []byte("{}")
	if len(e.Meta) > 0 {
		if m, err = json.Marshal(e.Meta); err != nil {
			return "", "", &domain.ValidationError{Field: "meta", Reason: err.Error()}
		}
	}
	return string(d), string(m), nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func isUniqueViolation(err error) bool {
	var se *msqlite.Error
	if !errors.As(err, &se) {
		return false
	}
	code := se.Code()
	return code == sqlite3lib.SQLITE_CONSTRAINT_UNIQUE || code == sqlite3lib.SQLITE_CONSTRAINT_PRIMARYKEY
}

func persistenceErr(op string, err error) error {
	return &domain.PersistenceError{Op: "sqlite " + op, Err: err}
}
