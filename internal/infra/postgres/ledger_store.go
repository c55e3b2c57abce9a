package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/tutu-network/shf/internal/domain"
)

// LedgerStore implements domain.LedgerStore using PostgreSQL.
type LedgerStore struct {
	pool *Pool
	now  func() time.Time
}

// NewLedgerStore creates a new LedgerStore.
func NewLedgerStore(pool *Pool) *LedgerStore {
	return &LedgerStore{pool: pool, now: time.Now}
}

// Compile-time interface check.
var _ domain.LedgerStore = (*LedgerStore)(nil)

const entryColumns = `id, subject_id, seq, ts, kind, action_key, token_deltas, score_delta, meta, status, ref_id`

func newEntryID() string {
	return uuid.Must(uuid.NewV7()).String()
}

// AppendEntry implements domain.LedgerStore. The subject's head row is
// locked for the duration of the transaction; a first append for a new
// subject races on the (subject_id, seq) unique key instead.
func (s *LedgerStore) AppendEntry(ctx context.Context, entry domain.LedgerEntry, expectedSeq int64) (domain.LedgerEntry, error) {
	if entry.SubjectID == "" {
		return domain.LedgerEntry{}, &domain.ValidationError{Field: "subject_id", Reason: "required"}
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return domain.LedgerEntry{}, persistenceErr("begin", err)
	}
	defer tx.Rollback(ctx)

	var head int64
	err = tx.QueryRow(ctx,
		`SELECT head_seq FROM subject_heads WHERE subject_id = $1 FOR UPDATE`, entry.SubjectID,
	).Scan(&head)
	if err != nil && !isNotFoundError(err) {
		return domain.LedgerEntry{}, persistenceErr("read head", err)
	}
	if head != expectedSeq {
		return domain.LedgerEntry{}, fmt.Errorf("%w: head %d, expected %d", domain.ErrConflict, head, expectedSeq)
	}

	if entry.IsReversal() {
		if err := reverseTarget(ctx, tx, entry.SubjectID, entry.RefID); err != nil {
			return domain.LedgerEntry{}, err
		}
	}

	stored := domain.Stamp(entry, head+1, s.now(), newEntryID)
	deltas, err := json.Marshal(stored.TokenDeltas)
	if err != nil {
		return domain.LedgerEntry{}, &domain.ValidationError{Field: "token_deltas", Reason: err.Error()}
	}
	meta := []byte("{}")
	if len(stored.Meta) > 0 {
		if meta, err = json.Marshal(stored.Meta); err != nil {
			return domain.LedgerEntry{}, &domain.ValidationError{Field: "meta", Reason: err.Error()}
		}
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO ledger_entries (`+entryColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, stored.ID, stored.SubjectID, stored.Seq, stored.Timestamp, string(stored.Kind),
		nullable(stored.ActionKey), deltas, stored.ScoreDelta, meta, string(stored.Status),
		nullable(stored.RefID))
	if err != nil {
		if isDuplicateKeyError(err) {
			return domain.LedgerEntry{}, fmt.Errorf("%w: %v", domain.ErrConflict, err)
		}
		return domain.LedgerEntry{}, persistenceErr("insert entry", err)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO subject_heads (subject_id, head_seq, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (subject_id) DO UPDATE SET
			head_seq   = EXCLUDED.head_seq,
			updated_at = now()
	`, stored.SubjectID, stored.Seq)
	if err != nil {
		return domain.LedgerEntry{}, persistenceErr("bump head", err)
	}

	if err := tx.Commit(ctx); err != nil {
		if isDuplicateKeyError(err) {
			return domain.LedgerEntry{}, fmt.Errorf("%w: %v", domain.ErrConflict, err)
		}
		return domain.LedgerEntry{}, persistenceErr("commit", err)
	}
	return stored, nil
}

func reverseTarget(ctx context.Context, tx pgx.Tx, subjectID, refID string) error {
	row := tx.QueryRow(ctx,
		`SELECT `+entryColumns+` FROM ledger_entries WHERE id = $1 AND subject_id = $2 FOR UPDATE`,
		refID, subjectID)
	target, err := scanEntry(row)
	if isNotFoundError(err) {
		return fmt.Errorf("%w: %s", domain.ErrEntryNotFound, refID)
	}
	if err != nil {
		return persistenceErr("read reversal target", err)
	}
	if err := domain.CheckReversible(target); err != nil {
		return fmt.Errorf("%w: %s", err, refID)
	}
	if _, err := tx.Exec(ctx,
		`UPDATE ledger_entries SET status = $1 WHERE id = $2`,
		string(domain.StatusReversed), refID,
	); err != nil {
		return persistenceErr("reverse entry", err)
	}
	return nil
}

// LoadEntries implements domain.LedgerStore.
func (s *LedgerStore) LoadEntries(ctx context.Context, subjectID string) ([]domain.LedgerEntry, error) {
	return s.QueryEntries(ctx, subjectID, domain.EntryFilter{})
}

// QueryEntries implements domain.LedgerStore.
func (s *LedgerStore) QueryEntries(ctx context.Context, subjectID string, f domain.EntryFilter) ([]domain.LedgerEntry, error) {
	where := []string{"subject_id = $1"}
	args := []any{subjectID}
	add := func(clause string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(clause, len(args)))
	}
	if f.ActionKey != "" {
		add("action_key = $%d", f.ActionKey)
	}
	if f.Kind != "" {
		add("kind = $%d", string(f.Kind))
	}
	if f.Status != "" {
		add("status = $%d", string(f.Status))
	}
	if f.From != 0 {
		add("ts >= $%d", f.From)
	}
	if f.To != 0 {
		add("ts <= $%d", f.To)
	}

	query := `SELECT ` + entryColumns + ` FROM ledger_entries WHERE ` + strings.Join(where, " AND ")
	if f.Limit > 0 {
		args = append(args, f.Limit)
		query += fmt.Sprintf(` ORDER BY ts DESC, seq DESC LIMIT $%d`, len(args))
	} else {
		query += ` ORDER BY ts ASC, seq ASC`
	}

	rows, err := s.pool.Query(ctx, query, args...)
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

func scanEntry(row pgx.Row) (domain.LedgerEntry, error) {
	var (
		e                 domain.LedgerEntry
		kind, status      string
		actionKey, refID  *string
		deltasRaw, metaRaw []byte
	)
	if err := row.Scan(&e.ID, &e.SubjectID, &e.Seq, &e.Timestamp, &kind, &actionKey,
		&deltasRaw, &e.ScoreDelta, &metaRaw, &status, &refID); err != nil {
		return domain.LedgerEntry{}, err
	}
	e.Kind = domain.EntryKind(kind)
	e.Status = domain.EntryStatus(status)
	if actionKey != nil {
		e.ActionKey = *actionKey
	}
	if refID != nil {
		e.RefID = *refID
	}
	if err := json.Unmarshal(deltasRaw, &e.TokenDeltas); err != nil {
		return domain.LedgerEntry{}, fmt.Errorf("decode token_deltas of %s: %w", e.ID, err)
	}
	if e.TokenDeltas == nil {
		e.TokenDeltas = map[domain.Token]int64{}
	}
	var meta map[string]string
	if err := json.Unmarshal(metaRaw, &meta); err != nil {
		return domain.LedgerEntry{}, fmt.Errorf("decode meta of %s: %w", e.ID, err)
	}
	if len(meta) > 0 {
		e.Meta = meta
	}
	return e, nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func persistenceErr(op string, err error) error {
	return &domain.PersistenceError{Op: "postgres " + op, Err: err}
}
