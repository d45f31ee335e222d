// Package store is the durable enrichment cache: the last result per
// (miner, source), surviving restarts.
package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/market-cli/internal/model"
)

// Key addresses one cache entry.
type Key struct {
	EntityID string
	Source   model.Source
}

func (k Key) String() string { return string(k.Source) + "/" + k.EntityID }

// Entry is the cached result of one completed refresh. Payload is the JSON
// encoding of the source's field group.
type Entry struct {
	Key
	CachedAt time.Time
	Payload  json.RawMessage
}

// Store defines the durable cache. Set fully replaces the entry for its key.
type Store interface {
	// Get returns nil, nil when no entry exists.
	Get(ctx context.Context, key Key) (*Entry, error)
	Set(ctx context.Context, entry Entry) error
	// List returns the most recently cached entries of a source.
	List(ctx context.Context, source model.Source, limit int) ([]Entry, error)
	// Prune deletes entries cached before olderThan.
	Prune(ctx context.Context, olderThan time.Time) (int, error)

	Migrate(ctx context.Context) error
	Close() error
}

// Options selects and tunes a Store backend.
type Options struct {
	Driver        string
	DatabaseURL   string
	MemoryEntries int
	Pool          *PoolConfig
}

// Open creates the configured backend, migrates it, and wraps it in a
// memory tier when MemoryEntries > 0.
func Open(ctx context.Context, opts Options) (Store, error) {
	var (
		s   Store
		err error
	)
	switch opts.Driver {
	case "", "sqlite":
		dsn := opts.DatabaseURL
		if dsn == "" {
			dsn = "market-cache.db"
		}
		s, err = NewSQLite(dsn)
	case "postgres":
		s, err = NewPostgres(ctx, opts.DatabaseURL, opts.Pool)
	default:
		return nil, eris.Errorf("store: unknown driver %q", opts.Driver)
	}
	if err != nil {
		return nil, err
	}
	if err := s.Migrate(ctx); err != nil {
		_ = s.Close()
		return nil, err
	}
	if opts.MemoryEntries > 0 {
		return NewLRU(s, opts.MemoryEntries)
	}
	return s, nil
}
