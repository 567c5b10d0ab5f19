package sqlite

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/secretmarket/internal/domain"
)

func setupDB(t *testing.T) *RecordStore {
	t.Helper()
	db, err := Open(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewRecordStore(db)
}

func testRecord(id string, created time.Time) domain.MarketRecord {
	return domain.MarketRecord{
		ID:                id,
		EncryptedCriteria: "U2FsdGVkX1" + id,
		CriteriaHash:      "hash-" + id,
		HashAlgorithm:     "sha256",
		CreatedAt:         created,
	}
}

func TestInsertThenGet(t *testing.T) {
	s := setupDB(t)
	ctx := context.Background()
	created := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	rec := testRecord("m1", created)
	rec.EncryptedPassword = "U2FsdGVkX1pw"
	require.NoError(t, s.Insert(ctx, rec))

	got, err := s.Get(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, rec, got)
	assert.True(t, got.HasPassword())
}

func TestInsertDuplicateKeepsFirst(t *testing.T) {
	s := setupDB(t)
	ctx := context.Background()

	first := testRecord("dup", time.Now().UTC())
	require.NoError(t, s.Insert(ctx, first))

	second := first
	second.CriteriaHash = "other"
	err := s.Insert(ctx, second)
	assert.ErrorIs(t, err, domain.ErrAlreadyExists)

	got, err := s.Get(ctx, "dup")
	require.NoError(t, err)
	assert.Equal(t, first.CriteriaHash, got.CriteriaHash)
}

func TestConcurrentInsertOneWins(t *testing.T) {
	s := setupDB(t)
	ctx := context.Background()

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		oks  int
		dups int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := s.Insert(ctx, testRecord("race", time.Now().UTC()))
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				oks++
			} else if assert.ErrorIs(t, err, domain.ErrAlreadyExists) {
				dups++
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, oks)
	assert.Equal(t, 7, dups)
}

func TestGetNotFound(t *testing.T) {
	s := setupDB(t)
	_, err := s.Get(context.Background(), "nope")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestMarkRevealedIdempotent(t *testing.T) {
	s := setupDB(t)
	ctx := context.Background()
	require.NoError(t, s.Insert(ctx, testRecord("r", time.Now().UTC())))

	at := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, s.MarkRevealed(ctx, "r", at))
	require.NoError(t, s.MarkRevealed(ctx, "r", at.Add(time.Hour)))

	got, err := s.Get(ctx, "r")
	require.NoError(t, err)
	assert.True(t, got.Revealed)
	require.NotNil(t, got.RevealedAt)
	assert.True(t, got.RevealedAt.Equal(at))

	assert.ErrorIs(t, s.MarkRevealed(ctx, "ghost", at), domain.ErrNotFound)
}

func TestListUnrevealed(t *testing.T) {
	s := setupDB(t)
	ctx := context.Background()
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		require.NoError(t, s.Insert(ctx, testRecord(fmt.Sprintf("m%d", i), base.Add(time.Duration(i)*time.Hour))))
	}
	require.NoError(t, s.MarkRevealed(ctx, "m2", base))

	all, err := s.ListUnrevealed(ctx, domain.ListOpts{})
	require.NoError(t, err)
	require.Len(t, all, 4)
	assert.Equal(t, "m0", all[0].ID)
	assert.Equal(t, "m4", all[3].ID)

	page, err := s.ListUnrevealed(ctx, domain.ListOpts{Limit: 2, Offset: 1})
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, "m1", page[0].ID)
	assert.Equal(t, "m3", page[1].ID)

	since := base.Add(3 * time.Hour)
	recent, err := s.ListUnrevealed(ctx, domain.ListOpts{Since: &since})
	require.NoError(t, err)
	assert.Len(t, recent, 2)

	tail, err := s.ListUnrevealed(ctx, domain.ListOpts{Offset: 3})
	require.NoError(t, err)
	assert.Len(t, tail, 1)

	n, err := s.Count(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 5, n)
}

func TestMigrateIsRepeatable(t *testing.T) {
	db, err := Open(context.Background(), ":memory:")
	require.NoError(t, err)
	defer db.Close()
	require.NoError(t, Migrate(context.Background(), db))
}

func TestAuditStore(t *testing.T) {
	db, err := Open(context.Background(), ":memory:")
	require.NoError(t, err)
	defer db.Close()

	s := NewAuditStore(db)
	clock := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	s.now = func() time.Time { clock = clock.Add(time.Minute); return clock }

	ctx := context.Background()
	require.NoError(t, s.Log(ctx, "market_created", map[string]any{"market_id": "a"}))
	require.NoError(t, s.Log(ctx, "market_resolved", map[string]any{"market_id": "a", "outcome": "YES"}))
	require.NoError(t, s.Log(ctx, "reconcile_sweep", nil))

	entries, err := s.List(ctx, domain.ListOpts{})
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, "reconcile_sweep", entries[0].Event)
	assert.Equal(t, "YES", entries[1].Detail["outcome"])
	assert.Equal(t, "a", entries[2].Detail["market_id"])

	limited, err := s.List(ctx, domain.ListOpts{Limit: 1})
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}
