package store

import (
	"context"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rotisserie/eris"

	"github.com/sells-group/market-cli/internal/model"
)

// LRUStore is a read-through, write-through memory tier over another Store.
type LRUStore struct {
	next  Store
	cache *lru.Cache[Key, Entry]
}

// NewLRU wraps next with an in-memory cache of at most size entries.
func NewLRU(next Store, size int) (*LRUStore, error) {
	c, err := lru.New[Key, Entry](size)
	if err != nil {
		return nil, eris.Wrap(err, "lru: create")
	}
	return &LRUStore{next: next, cache: c}, nil
}

func (s *LRUStore) Get(ctx context.Context, key Key) (*Entry, error) {
	if e, ok := s.cache.Get(key); ok {
		return &e, nil
	}
	e, err := s.next.Get(ctx, key)
	if err != nil || e == nil {
		return e, err
	}
	s.cache.Add(key, *e)
	return e, nil
}

func (s *LRUStore) Set(ctx context.Context, e Entry) error {
	if err := s.next.Set(ctx, e); err != nil {
		s.cache.Remove(e.Key)
		return err
	}
	s.cache.Add(e.Key, e)
	return nil
}

func (s *LRUStore) List(ctx context.Context, source model.Source, limit int) ([]Entry, error) {
	return s.next.List(ctx, source, limit)
}

func (s *LRUStore) Prune(ctx context.Context, olderThan time.Time) (int, error) {
	n, err := s.next.Prune(ctx, olderThan)
	s.cache.Purge()
	return n, err
}

func (s *LRUStore) Migrate(ctx context.Context) error { return s.next.Migrate(ctx) }

func (s *LRUStore) Close() error {
	s.cache.Purge()
	return s.next.Close()
}
