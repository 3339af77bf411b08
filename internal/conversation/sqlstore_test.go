package conversation

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newSQLiteStore(t *testing.T) *SQLStore {
	t.Helper()
	store, err := NewSQLite(filepath.Join(t.TempDir(), "conv.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func msAt(now time.Time, d time.Duration) int64 {
	return now.Add(d).UnixMilli()
}

func TestSQLStoreUpsertAndGet(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := newSQLiteStore(t)
	now := time.Now()

	rec := &Record{
		Scope:                "k:abc",
		OpenAIConversationID: "conv-1",
		GrokConversationID:   "grok-1",
		LastResponseID:       "resp-1",
		Token:                "sso-token-123456",
		HistoryHash:          "h1",
		CreatedAt:            now.UnixMilli(),
		UpdatedAt:            now.UnixMilli(),
		ExpiresAt:            msAt(now, time.Hour),
	}
	require.NoError(t, store.Upsert(ctx, rec))

	got, err := store.GetByID(ctx, "k:abc", "conv-1", now)
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Equal(t, "grok-1", got.GrokConversationID)
	require.Equal(t, "resp-1", got.LastResponseID)

	missing, err := store.GetByID(ctx, "k:abc", "nope", now)
	require.NoError(t, err)
	require.Nil(t, missing)

	other, err := store.GetByID(ctx, "k:other", "conv-1", now)
	require.NoError(t, err)
	require.Nil(t, other, "records must not leak across scopes")
}

func TestSQLStoreUpsertKeepsCreatedAt(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := newSQLiteStore(t)
	now := time.Now()

	first := &Record{
		Scope: "s", OpenAIConversationID: "c",
		GrokConversationID: "g1",
		CreatedAt:          1000, UpdatedAt: 1000,
	}
	require.NoError(t, store.Upsert(ctx, first))

	second := &Record{
		Scope: "s", OpenAIConversationID: "c",
		GrokConversationID: "g2", LastResponseID: "r2",
		CreatedAt: 2000, UpdatedAt: 2000,
	}
	require.NoError(t, store.Upsert(ctx, second))

	got, err := store.GetByID(ctx, "s", "c", now)
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Equal(t, "g2", got.GrokConversationID)
	require.EqualValues(t, 1000, got.CreatedAt)
	require.EqualValues(t, 2000, got.UpdatedAt)
}

func TestSQLStoreGetPurgesExpired(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := newSQLiteStore(t)
	now := time.Now()

	rec := &Record{
		Scope: "s", OpenAIConversationID: "old",
		GrokConversationID: "g",
		CreatedAt:          msAt(now, -2*time.Hour),
		UpdatedAt:          msAt(now, -2*time.Hour),
		ExpiresAt:          msAt(now, -time.Hour),
	}
	require.NoError(t, store.Upsert(ctx, rec))

	got, err := store.GetByID(ctx, "s", "old", now)
	require.NoError(t, err)
	require.Nil(t, got)

	// The expired row must be gone, not just hidden.
	st, err := store.Stats(ctx, 0, now)
	require.NoError(t, err)
	require.Zero(t, st.ExpiredTotal)
	require.Zero(t, st.ActiveTotal)
}

func TestSQLStoreFindByHistoryHash(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := newSQLiteStore(t)
	now := time.Now()

	older := &Record{
		Scope: "s", OpenAIConversationID: "a",
		GrokConversationID: "ga", HistoryHash: "same",
		CreatedAt: 1, UpdatedAt: 1,
	}
	newer := &Record{
		Scope: "s", OpenAIConversationID: "b",
		GrokConversationID: "gb", HistoryHash: "same",
		CreatedAt: 2, UpdatedAt: 2,
	}
	expired := &Record{
		Scope: "s", OpenAIConversationID: "c",
		GrokConversationID: "gc", HistoryHash: "same",
		CreatedAt: 3, UpdatedAt: 3,
		ExpiresAt: msAt(now, -time.Minute),
	}
	for _, rec := range []*Record{older, newer, expired} {
		require.NoError(t, store.Upsert(ctx, rec))
	}

	got, err := store.FindByHistoryHash(ctx, "s", "same", now)
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Equal(t, "b", got.OpenAIConversationID, "newest live record wins")

	none, err := store.FindByHistoryHash(ctx, "s", "different", now)
	require.NoError(t, err)
	require.Nil(t, none)

	// The expired sibling was purged by the lookup.
	gone, err := store.GetByID(ctx, "s", "c", now.Add(-2*time.Minute))
	require.NoError(t, err)
	require.Nil(t, gone)
}

func TestSQLStoreCleanupExpired(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := newSQLiteStore(t)
	now := time.Now()

	for i, offset := range []time.Duration{-3 * time.Hour, -2 * time.Hour, -time.Hour, time.Hour} {
		rec := &Record{
			Scope: "s", OpenAIConversationID: string(rune('a' + i)),
			GrokConversationID: "g",
			CreatedAt:          1, UpdatedAt: 1,
			ExpiresAt: msAt(now, offset),
		}
		require.NoError(t, store.Upsert(ctx, rec))
	}

	// Limit below the clamp floor still removes one record.
	removed, err := store.CleanupExpired(ctx, 0, now)
	require.NoError(t, err)
	require.Equal(t, 1, removed)

	// Oldest expiry goes first.
	gone, err := store.GetByID(ctx, "s", "a", now.Add(-100*time.Hour))
	require.NoError(t, err)
	require.Nil(t, gone)

	removed, err = store.CleanupExpired(ctx, 100, now)
	require.NoError(t, err)
	require.Equal(t, 2, removed)

	st, err := store.Stats(ctx, 0, now)
	require.NoError(t, err)
	require.Equal(t, 1, st.ActiveTotal)
	require.Zero(t, st.ExpiredTotal)
}

func TestSQLStoreTrimForToken(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := newSQLiteStore(t)
	now := time.Now()

	for i := 0; i < 5; i++ {
		rec := &Record{
			Scope: "s", OpenAIConversationID: string(rune('a' + i)),
			GrokConversationID: "g", Token: "tok",
			CreatedAt: int64(i), UpdatedAt: int64(i),
		}
		require.NoError(t, store.Upsert(ctx, rec))
	}
	other := &Record{
		Scope: "s", OpenAIConversationID: "z",
		GrokConversationID: "g", Token: "other",
		CreatedAt: 100, UpdatedAt: 100,
	}
	require.NoError(t, store.Upsert(ctx, other))

	removed, err := store.TrimForToken(ctx, "s", "tok", 2)
	require.NoError(t, err)
	require.Equal(t, 3, removed)

	// Newest two survive.
	for _, id := range []string{"d", "e", "z"} {
		got, err := store.GetByID(ctx, "s", id, now)
		require.NoError(t, err)
		require.NotNil(t, got, "expected %s to survive", id)
	}
	for _, id := range []string{"a", "b", "c"} {
		got, err := store.GetByID(ctx, "s", id, now)
		require.NoError(t, err)
		require.Nil(t, got, "expected %s to be trimmed", id)
	}

	removed, err = store.TrimForToken(ctx, "s", "tok", 2)
	require.NoError(t, err)
	require.Zero(t, removed)
}

func TestSQLStoreStatsTopTokens(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := newSQLiteStore(t)
	now := time.Now()

	tokens := []string{"token-aaaaaa", "token-aaaaaa", "token-aaaaaa", "token-bbbbbb"}
	for i, token := range tokens {
		rec := &Record{
			Scope: "s", OpenAIConversationID: string(rune('a' + i)),
			GrokConversationID: "g", Token: token,
			CreatedAt: int64(i), UpdatedAt: int64(i),
		}
		require.NoError(t, store.Upsert(ctx, rec))
	}

	st, err := store.Stats(ctx, 5, now)
	require.NoError(t, err)
	require.Equal(t, 4, st.ActiveTotal)
	require.NotEmpty(t, st.TopTokens)
	require.Equal(t, "aaaaaa", st.TopTokens[0].TokenSuffix)
	require.Equal(t, 3, st.TopTokens[0].Count)
}
