package tools

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"log/slog"
	"time"

	_ "modernc.org/sqlite" // pure-Go SQLite driver
)

const fetchCacheTTL = 15 * time.Minute

// FetchCache stores fetched page bodies keyed by URL hash so repeated
// lookups within the TTL skip the network.
type FetchCache struct {
	db  *sql.DB
	ttl time.Duration
}

// NewFetchCache opens (or creates) the cache database at dbPath. A
// single connection serializes writers so concurrent tool calls never
// hit SQLITE_BUSY.
func NewFetchCache(dbPath string) (*FetchCache, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)

	c := &FetchCache{db: db, ttl: fetchCacheTTL}
	if err := c.init(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return c, nil
}

func (c *FetchCache) init(ctx context.Context) error {
	_, err := c.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS fetch_cache (
		url_hash TEXT PRIMARY KEY,
		url TEXT NOT NULL,
		body TEXT NOT NULL,
		fetched_at INTEGER NOT NULL
	)`)
	return err
}

// Get returns the cached body for url if it is fresher than the TTL.
func (c *FetchCache) Get(ctx context.Context, url string) (string, bool) {
	var body string
	var fetchedAt int64
	err := c.db.QueryRowContext(ctx,
		`SELECT body, fetched_at FROM fetch_cache WHERE url_hash = ?`,
		hashURL(url)).Scan(&body, &fetchedAt)
	if err != nil {
		return "", false
	}
	if time.Since(time.Unix(fetchedAt, 0)) > c.ttl {
		return "", false
	}
	return body, true
}

// Put stores a fetched body, replacing any previous entry for the URL.
func (c *FetchCache) Put(ctx context.Context, url, body string) {
	_, err := c.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO fetch_cache (url_hash, url, body, fetched_at) VALUES (?, ?, ?, ?)`,
		hashURL(url), url, body, time.Now().Unix())
	if err != nil {
		slog.Warn("fetchcache.put_failed", "error", err)
	}
}

// Prune removes entries older than the TTL.
func (c *FetchCache) Prune(ctx context.Context) {
	cutoff := time.Now().Add(-c.ttl).Unix()
	if _, err := c.db.ExecContext(ctx, `DELETE FROM fetch_cache WHERE fetched_at < ?`, cutoff); err != nil {
		slog.Warn("fetchcache.prune_failed", "error", err)
	}
}

func (c *FetchCache) Close() error { return c.db.Close() }

func hashURL(url string) string {
	sum := sha256.Sum256([]byte(url))
	return hex.EncodeToString(sum[:])
}
