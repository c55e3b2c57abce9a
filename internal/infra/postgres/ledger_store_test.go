package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/tutu-network/shf/internal/domain"
)

// setupTestDB creates a PostgreSQL container and applies the embedded migrations.
// Returns a cleanup function that must be called after tests complete.
func setupTestDB(t *testing.T) (*Pool, func()) {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping postgres container test in -short mode")
	}

	ctx := context.Background()

	container, err := postgres.Run(ctx, "postgres:15-alpine",
		postgres.WithDatabase("testdb"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	require.NoError(t, err, "failed to start postgres container")

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err, "failed to get connection string")

	pool, err := NewPool(ctx, dsn)
	require.NoError(t, err, "failed to create pool")
	require.NoError(t, pool.Migrate(ctx), "failed to migrate")
	// Migrations are idempotent.
	require.NoError(t, pool.Migrate(ctx), "failed to re-run migrations")

	cleanup := func() {
		pool.Close()
		if err := container.Terminate(ctx); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	}
	return pool, cleanup
}

func earnEntry(subject string, ts int64) domain.LedgerEntry {
	return domain.LedgerEntry{
		SubjectID:   subject,
		Timestamp:   ts,
		Kind:        domain.KindEarn,
		ActionKey:   "quiz",
		TokenDeltas: map[domain.Token]int64{"corn": 2},
		ScoreDelta:  1,
	}
}

func TestLedgerStore_AppendAndQuery(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewLedgerStore(pool)
	ctx := context.Background()

	first, err := store.AppendEntry(ctx, earnEntry("alice", 1000), 0)
	require.NoError(t, err)
	assert.Equal(t, int64(1), first.Seq)
	assert.NotEmpty(t, first.ID)

	second := earnEntry("alice", 2000)
	second.ActionKey = "lesson"
	second.Meta = map[string]string{"source": "test"}
	_, err = store.AppendEntry(ctx, second, 1)
	require.NoError(t, err)

	all, err := store.LoadEntries(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, int64(2), all[0].TokenDeltas["corn"])
	assert.Equal(t, "test", all[1].Meta["source"])
	assert.Nil(t, all[0].Meta)

	quiz, err := store.QueryEntries(ctx, "alice", domain.EntryFilter{ActionKey: "quiz"})
	require.NoError(t, err)
	require.Len(t, quiz, 1)
	assert.Equal(t, first.ID, quiz[0].ID)

	newest, err := store.QueryEntries(ctx, "alice", domain.EntryFilter{Limit: 1})
	require.NoError(t, err)
	require.Len(t, newest, 1)
	assert.Equal(t, int64(2000), newest[0].Timestamp)
}

func TestLedgerStore_Conflict(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewLedgerStore(pool)
	ctx := context.Background()

	_, err := store.AppendEntry(ctx, earnEntry("bob", 0), 0)
	require.NoError(t, err)

	_, err = store.AppendEntry(ctx, earnEntry("bob", 0), 0)
	assert.True(t, errors.Is(err, domain.ErrConflict), "got %v", err)
}

func TestLedgerStore_Reversal(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewLedgerStore(pool)
	ctx := context.Background()

	target, err := store.AppendEntry(ctx, earnEntry("carol", 0), 0)
	require.NoError(t, err)

	marker := domain.LedgerEntry{
		SubjectID: "carol",
		Kind:      domain.KindAdjustment,
		RefID:     target.ID,
		Meta:      map[string]string{domain.MetaReverses: "true"},
	}
	_, err = store.AppendEntry(ctx, marker, 1)
	require.NoError(t, err)

	entries, err := store.LoadEntries(ctx, "carol")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusReversed, entries[0].Status)

	_, err = store.AppendEntry(ctx, marker, 2)
	assert.ErrorIs(t, err, domain.ErrAlreadyReversed)
}
