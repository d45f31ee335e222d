package store

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/market-cli/internal/model"
)

type countingStore struct {
	*SQLiteStore
	gets atomic.Int32
}

func (c *countingStore) Get(ctx context.Context, key Key) (*Entry, error) {
	c.gets.Add(1)
	return c.SQLiteStore.Get(ctx, key)
}

func TestLRU_ReadThrough(t *testing.T) {
	backing := &countingStore{SQLiteStore: newTestSQLiteStore(t)}
	ctx := context.Background()
	key := Key{"f01000", model.SourceAsk}
	require.NoError(t, backing.Set(ctx, Entry{Key: key, CachedAt: t0, Payload: []byte(`{"v":1}`)}))

	s, err := NewLRU(backing, 8)
	require.NoError(t, err)

	for range 3 {
		got, err := s.Get(ctx, key)
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.JSONEq(t, `{"v":1}`, string(got.Payload))
	}
	assert.Equal(t, int32(1), backing.gets.Load())
}

func TestLRU_MissNotCached(t *testing.T) {
	backing := &countingStore{SQLiteStore: newTestSQLiteStore(t)}
	s, err := NewLRU(backing, 8)
	require.NoError(t, err)

	for range 2 {
		got, err := s.Get(context.Background(), Key{"none", model.SourceAsk})
		require.NoError(t, err)
		assert.Nil(t, got)
	}
	assert.Equal(t, int32(2), backing.gets.Load())
}

func TestLRU_WriteThrough(t *testing.T) {
	backing := &countingStore{SQLiteStore: newTestSQLiteStore(t)}
	s, err := NewLRU(backing, 8)
	require.NoError(t, err)
	ctx := context.Background()
	key := Key{"f01000", model.SourcePower}

	require.NoError(t, s.Set(ctx, Entry{Key: key, CachedAt: t0, Payload: []byte(`{"v":2}`)}))

	got, err := s.Get(ctx, key)
	require.NoError(t, err)
	assert.JSONEq(t, `{"v":2}`, string(got.Payload))
	assert.Equal(t, int32(0), backing.gets.Load())

	persisted, err := backing.SQLiteStore.Get(ctx, key)
	require.NoError(t, err)
	assert.NotNil(t, persisted)
}

func TestLRU_PruneDropsMemory(t *testing.T) {
	backing := &countingStore{SQLiteStore: newTestSQLiteStore(t)}
	s, err := NewLRU(backing, 8)
	require.NoError(t, err)
	ctx := context.Background()
	key := Key{"f01000", model.SourceAsk}

	require.NoError(t, s.Set(ctx, Entry{Key: key, CachedAt: t0, Payload: []byte(`{}`)}))
	n, err := s.Prune(ctx, t0.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := s.Get(ctx, key)
	require.NoError(t, err)
	assert.Nil(t, got)
}
