package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/market-cli/internal/model"
)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	st, err := NewSQLite(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func TestSQLite_SetAndGet(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	key := Key{EntityID: "f01000", Source: model.SourceAsk}
	require.NoError(t, st.Set(ctx, Entry{Key: key, CachedAt: t0, Payload: []byte(`{"price":"5"}`)}))

	got, err := st.Get(ctx, key)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, key, got.Key)
	assert.True(t, t0.Equal(got.CachedAt))
	assert.JSONEq(t, `{"price":"5"}`, string(got.Payload))
}

func TestSQLite_GetMissing(t *testing.T) {
	st := newTestSQLiteStore(t)

	got, err := st.Get(context.Background(), Key{EntityID: "f09999", Source: model.SourcePower})
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestSQLite_SetReplaces(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	key := Key{EntityID: "f01000", Source: model.SourceAsk}

	require.NoError(t, st.Set(ctx, Entry{Key: key, CachedAt: t0, Payload: []byte(`{"v":1}`)}))
	require.NoError(t, st.Set(ctx, Entry{Key: key, CachedAt: t0.Add(time.Hour), Payload: []byte(`{"v":2}`)}))

	got, err := st.Get(ctx, key)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.JSONEq(t, `{"v":2}`, string(got.Payload))
	assert.True(t, t0.Add(time.Hour).Equal(got.CachedAt))

	entries, err := st.List(ctx, model.SourceAsk, 10)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestSQLite_SourcesAreIndependent(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	require.NoError(t, st.Set(ctx, Entry{Key: Key{"f01000", model.SourceAsk}, CachedAt: t0, Payload: []byte(`{"a":1}`)}))
	require.NoError(t, st.Set(ctx, Entry{Key: Key{"f01000", model.SourcePower}, CachedAt: t0, Payload: []byte(`{"p":1}`)}))

	ask, err := st.Get(ctx, Key{"f01000", model.SourceAsk})
	require.NoError(t, err)
	power, err := st.Get(ctx, Key{"f01000", model.SourcePower})
	require.NoError(t, err)
	assert.JSONEq(t, `{"a":1}`, string(ask.Payload))
	assert.JSONEq(t, `{"p":1}`, string(power.Payload))
}

func TestSQLite_ListNewestFirst(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	for i, id := range []string{"f01", "f02", "f03"} {
		require.NoError(t, st.Set(ctx, Entry{
			Key:      Key{id, model.SourceReputation},
			CachedAt: t0.Add(time.Duration(i) * time.Minute),
			Payload:  []byte(`{}`),
		}))
	}

	entries, err := st.List(ctx, model.SourceReputation, 2)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "f03", entries[0].EntityID)
	assert.Equal(t, "f02", entries[1].EntityID)
	assert.Equal(t, model.SourceReputation, entries[0].Source)
}

func TestSQLite_Prune(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	require.NoError(t, st.Set(ctx, Entry{Key: Key{"old", model.SourceAsk}, CachedAt: t0, Payload: []byte(`{}`)}))
	require.NoError(t, st.Set(ctx, Entry{Key: Key{"new", model.SourceAsk}, CachedAt: t0.Add(2 * time.Hour), Payload: []byte(`{}`)}))

	n, err := st.Prune(ctx, t0.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	old, err := st.Get(ctx, Key{"old", model.SourceAsk})
	require.NoError(t, err)
	assert.Nil(t, old)

	fresh, err := st.Get(ctx, Key{"new", model.SourceAsk})
	require.NoError(t, err)
	assert.NotNil(t, fresh)
}

func TestSQLite_MigrateIdempotent(t *testing.T) {
	st := newTestSQLiteStore(t)
	require.NoError(t, st.Migrate(context.Background()))
	require.NoError(t, st.Migrate(context.Background()))
}

func TestSQLite_SurvivesReopen(t *testing.T) {
	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "reopen.db")

	st, err := NewSQLite(dbPath)
	require.NoError(t, err)
	require.NoError(t, st.Migrate(ctx))
	require.NoError(t, st.Set(ctx, Entry{Key: Key{"f01000", model.SourceIndex}, CachedAt: t0, Payload: []byte(`{"indexed":true}`)}))
	require.NoError(t, st.Close())

	st2, err := NewSQLite(dbPath)
	require.NoError(t, err)
	defer st2.Close() //nolint:errcheck
	require.NoError(t, st2.Migrate(ctx))

	got, err := st2.Get(ctx, Key{"f01000", model.SourceIndex})
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.JSONEq(t, `{"indexed":true}`, string(got.Payload))
}

func TestOpen_SQLiteWithMemoryTier(t *testing.T) {
	ctx := context.Background()
	s, err := Open(ctx, Options{
		Driver:        "sqlite",
		DatabaseURL:   filepath.Join(t.TempDir(), "open.db"),
		MemoryEntries: 16,
	})
	require.NoError(t, err)
	defer s.Close() //nolint:errcheck

	_, ok := s.(*LRUStore)
	assert.True(t, ok)
	require.NoError(t, s.Set(ctx, Entry{Key: Key{"f01", model.SourceAsk}, CachedAt: t0, Payload: []byte(`{}`)}))
}

func TestOpen_UnknownDriver(t *testing.T) {
	_, err := Open(context.Background(), Options{Driver: "mysql"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown driver")
}
