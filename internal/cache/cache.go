// Package cache persists Census API metadata between runs. The
// variables.json and geography.json payloads run to several megabytes and
// never change within a vintage, so refetching them on every invocation is
// pure waste.
package cache

import (
	"context"
	"database/sql"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

// DefaultTTL is how long cached metadata stays fresh. Vintage metadata is
// effectively immutable; the TTL guards against the rare mid-year fixup.
const DefaultTTL = 30 * 24 * time.Hour

// Store is a SQLite-backed key/value cache for API payloads.
type Store struct {
	db  *sql.DB
	ttl time.Duration
}

// Open opens (or creates) the cache database at path and runs migrations.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, eris.Wrap(err, "cache: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "cache: exec %s", pragma)
		}
	}

	s := &Store{db: db, ttl: DefaultTTL}
	if err := s.migrate(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// SetTTL overrides the freshness window.
func (s *Store) SetTTL(ttl time.Duration) {
	s.ttl = ttl
}

const migration = `
CREATE TABLE IF NOT EXISTS metadata (
	key        TEXT PRIMARY KEY,
	body       BLOB NOT NULL,
	fetched_at DATETIME NOT NULL DEFAULT (datetime('now')),
	expires_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_metadata_expires_at ON metadata(expires_at);
`

func (s *Store) migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, migration)
	return eris.Wrap(err, "cache: migrate")
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Get returns the cached payload for key, or (nil, false, nil) on a miss or
// an expired entry.
func (s *Store) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var body []byte
	var expiresAt time.Time
	err := s.db.QueryRowContext(ctx,
		`SELECT body, expires_at FROM metadata WHERE key = ?`, key,
	).Scan(&body, &expiresAt)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, eris.Wrapf(err, "cache: get %s", key)
	}
	if time.Now().UTC().After(expiresAt) {
		zap.L().Debug("cache entry expired", zap.String("key", key))
		return nil, false, nil
	}
	return body, true, nil
}

// Put stores a payload under key with the store's TTL.
func (s *Store) Put(ctx context.Context, key string, body []byte) error {
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO metadata (key, body, fetched_at, expires_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET body = excluded.body,
		   fetched_at = excluded.fetched_at, expires_at = excluded.expires_at`,
		key, body, now, now.Add(s.ttl),
	)
	return eris.Wrapf(err, "cache: put %s", key)
}

// Purge drops expired entries. Returns the number removed.
func (s *Store) Purge(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM metadata WHERE expires_at < ?`, time.Now().UTC(),
	)
	if err != nil {
		return 0, eris.Wrap(err, "cache: purge")
	}
	n, _ := res.RowsAffected()
	return n, nil
}
