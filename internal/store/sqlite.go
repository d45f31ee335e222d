package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/market-cli/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

// cached_at holds UTC unix nanoseconds so range comparisons are numeric.
const sqliteMigration = `
CREATE TABLE IF NOT EXISTS enrichment_cache (
	entity_id TEXT    NOT NULL,
	source    TEXT    NOT NULL,
	payload   TEXT    NOT NULL,
	cached_at INTEGER NOT NULL,
	PRIMARY KEY (entity_id, source)
);

CREATE INDEX IF NOT EXISTS idx_enrichment_cache_cached_at ON enrichment_cache(cached_at);
CREATE INDEX IF NOT EXISTS idx_enrichment_cache_source ON enrichment_cache(source, cached_at);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) Get(ctx context.Context, key Key) (*Entry, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT payload, cached_at FROM enrichment_cache WHERE entity_id = ? AND source = ?`,
		key.EntityID, string(key.Source),
	)

	var payload string
	var cachedAt int64
	err := row.Scan(&payload, &cachedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get %s", key)
	}
	return &Entry{Key: key, CachedAt: fromNanos(cachedAt), Payload: []byte(payload)}, nil
}

func (s *SQLiteStore) Set(ctx context.Context, e Entry) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO enrichment_cache (entity_id, source, payload, cached_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT (entity_id, source) DO UPDATE SET
			payload = excluded.payload,
			cached_at = excluded.cached_at`,
		e.EntityID, string(e.Source), string(e.Payload), e.CachedAt.UTC().UnixNano(),
	)
	return eris.Wrapf(err, "sqlite: set %s", e.Key)
}

func (s *SQLiteStore) List(ctx context.Context, source model.Source, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT entity_id, payload, cached_at FROM enrichment_cache
		 WHERE source = ? ORDER BY cached_at DESC LIMIT ?`,
		string(source), limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list entries")
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var (
			e        Entry
			payload  string
			cachedAt int64
		)
		if err := rows.Scan(&e.EntityID, &payload, &cachedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan entry")
		}
		e.Source = source
		e.Payload = []byte(payload)
		e.CachedAt = fromNanos(cachedAt)
		entries = append(entries, e)
	}
	return entries, eris.Wrap(rows.Err(), "sqlite: list entries iterate")
}

func (s *SQLiteStore) Prune(ctx context.Context, olderThan time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM enrichment_cache WHERE cached_at < ?`,
		olderThan.UTC().UnixNano(),
	)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: prune entries")
	}
	n, err := res.RowsAffected()
	return int(n), eris.Wrap(err, "sqlite: rows affected")
}

func fromNanos(n int64) time.Time {
	return time.Unix(0, n).UTC()
}
