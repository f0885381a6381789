package cache

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"
)

// SQLiteCache implements Cache on a single SQLite file in WAL mode, so
// readers never block the writer.
type SQLiteCache struct {
	db      *sql.DB
	nowFunc func() time.Time
}

const sqliteCacheSchema = `
CREATE TABLE IF NOT EXISTS cache (
	key          TEXT PRIMARY KEY,
	value        BLOB NOT NULL,
	content_hash TEXT,
	created_at   INTEGER NOT NULL,
	expires_at   INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_cache_expires_at ON cache(expires_at);
`

// NewSQLite opens (creating if needed) the cache database at path.
func NewSQLite(path string) (*SQLiteCache, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, eris.Wrapf(err, "cache: create dir %s", dir)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, eris.Wrap(err, "cache: open sqlite")
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
	if _, err := db.Exec(sqliteCacheSchema); err != nil {
		db.Close()
		return nil, eris.Wrap(err, "cache: migrate")
	}
	return &SQLiteCache{db: db, nowFunc: time.Now}, nil
}

func (c *SQLiteCache) Get(ctx context.Context, key string) (*Entry, error) {
	row := c.db.QueryRowContext(ctx,
		`SELECT value, content_hash, created_at, expires_at FROM cache WHERE key = ?`, key)

	var (
		e       = Entry{Key: key}
		hash    sql.NullString
		created int64
		expires int64
	)
	err := row.Scan(&e.Value, &hash, &created, &expires)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "cache: get %s", key)
	}
	e.ContentHash = hash.String
	e.CreatedAt = time.UnixMilli(created).UTC()
	e.ExpiresAt = time.UnixMilli(expires).UTC()

	if e.Expired(c.nowFunc()) {
		// Lazy reap; a failure here only delays cleanup.
		_, _ = c.db.ExecContext(ctx, `DELETE FROM cache WHERE key = ? AND expires_at <= ?`, key, c.nowFunc().UnixMilli())
		return nil, nil
	}
	return &e, nil
}

func (c *SQLiteCache) Set(ctx context.Context, key string, value []byte, contentHash string, ttl time.Duration) error {
	if err := checkKey(key); err != nil {
		return err
	}
	now := c.nowFunc()
	if value == nil {
		value = []byte{}
	}
	_, err := c.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO cache (key, value, content_hash, created_at, expires_at) VALUES (?, ?, ?, ?, ?)`,
		key, value, nullString(contentHash), now.UnixMilli(), now.Add(ttlOrDefault(ttl)).UnixMilli(),
	)
	return eris.Wrapf(err, "cache: set %s", key)
}

func (c *SQLiteCache) HasHashChanged(ctx context.Context, key, newHash string) (bool, error) {
	changed, _, err := c.CompareHash(ctx, key, newHash)
	return changed, err
}

func (c *SQLiteCache) CompareHash(ctx context.Context, key, newHash string) (bool, bool, error) {
	if err := checkKey(key); err != nil {
		return false, false, err
	}

	var old sql.NullString
	err := c.db.QueryRowContext(ctx, `SELECT content_hash FROM cache WHERE key = ?`, key).Scan(&old)
	if err != nil && err != sql.ErrNoRows {
		return false, false, eris.Wrapf(err, "cache: read hash %s", key)
	}
	known := old.Valid && old.String != ""
	if known && old.String == newHash {
		return false, true, nil
	}

	now := c.nowFunc()
	_, err = c.db.ExecContext(ctx,
		`INSERT INTO cache (key, value, content_hash, created_at, expires_at) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET content_hash = excluded.content_hash,
		   expires_at = MAX(cache.expires_at, excluded.expires_at)`,
		key, []byte{}, newHash, now.UnixMilli(), now.Add(HashTTL).UnixMilli(),
	)
	if err != nil {
		return false, known, eris.Wrapf(err, "cache: record hash %s", key)
	}
	return true, known, nil
}

func (c *SQLiteCache) Cleanup(ctx context.Context) (int, error) {
	res, err := c.db.ExecContext(ctx, `DELETE FROM cache WHERE expires_at <= ?`, c.nowFunc().UnixMilli())
	if err != nil {
		return 0, eris.Wrap(err, "cache: cleanup")
	}
	n, err := res.RowsAffected()
	return int(n), eris.Wrap(err, "cache: rows affected")
}

func (c *SQLiteCache) Clear(ctx context.Context) error {
	_, err := c.db.ExecContext(ctx, `DELETE FROM cache`)
	return eris.Wrap(err, "cache: clear")
}

func (c *SQLiteCache) Stats(ctx context.Context) (Stats, error) {
	s := Stats{Backend: "sqlite"}
	err := c.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(SUM(CASE WHEN expires_at <= ? THEN 1 ELSE 0 END), 0) FROM cache`,
		c.nowFunc().UnixMilli(),
	).Scan(&s.Total, &s.Expired)
	if err != nil {
		return s, eris.Wrap(err, "cache: stats")
	}
	s.Valid = s.Total - s.Expired
	return s, nil
}

func (c *SQLiteCache) Close() error {
	return c.db.Close()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
