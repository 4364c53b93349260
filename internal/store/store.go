// Package store is the local SQLite cache: the durable backing for the LLM
// facade's content-addressed response cache, so repeated prompts within the
// configured TTL never pay for a second API call.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Store is the SQLite-backed cache.
type Store struct {
	db   *sql.DB
	path string
}

// NewStore opens (creating if necessary) the SQLite database at dbPath
// inside dataDir.
func NewStore(dataDir string) (*Store, error) {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}

	dbPath := filepath.Join(dataDir, "llm_cache.db")
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite database: %w", err)
	}

	s := &Store{db: db, path: dbPath}
	if err := s.initialize(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initializing database: %w", err)
	}
	return s, nil
}

func (s *Store) initialize() error {
	_, err := s.db.Exec(`
	CREATE TABLE IF NOT EXISTS llm_cache (
		cache_key   TEXT PRIMARY KEY,
		value       TEXT NOT NULL,
		expires_at  DATETIME NOT NULL,
		created_at  DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_llm_cache_expires_at ON llm_cache (expires_at);
	`)
	if err != nil {
		return fmt.Errorf("creating llm_cache table: %w", err)
	}
	return nil
}

// Close closes the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// Get returns the cached value for key if present and not expired. It
// satisfies internal/llm.Cache.
func (s *Store) Get(ctx context.Context, key string) (string, bool, error) {
	var value string
	var expiresAt time.Time

	err := s.db.QueryRowContext(ctx,
		`SELECT value, expires_at FROM llm_cache WHERE cache_key = ?`, key,
	).Scan(&value, &expiresAt)

	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("reading llm cache: %w", err)
	}
	if time.Now().UTC().After(expiresAt) {
		return "", false, nil
	}
	return value, true, nil
}

// Set stores value under key with the given TTL, replacing any prior entry.
// It satisfies internal/llm.Cache.
func (s *Store) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO llm_cache (cache_key, value, expires_at, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(cache_key) DO UPDATE SET value = excluded.value, expires_at = excluded.expires_at
	`, key, value, now.Add(ttl), now)
	if err != nil {
		return fmt.Errorf("writing llm cache: %w", err)
	}
	return nil
}

// Purge deletes expired cache rows, returning the number removed. Wired into
// the scheduler's cache-cleanup task.
func (s *Store) Purge(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM llm_cache WHERE expires_at < ?`, time.Now().UTC())
	if err != nil {
		return 0, fmt.Errorf("purging expired cache entries: %w", err)
	}
	return res.RowsAffected()
}

// Stats reports the total entry count and the oldest created_at timestamp in
// the cache, for the admin cache-telemetry endpoint.
func (s *Store) Stats(ctx context.Context) (count int, oldest time.Time, err error) {
	err = s.db.QueryRowContext(ctx, `SELECT COUNT(*), COALESCE(MIN(created_at), ?) FROM llm_cache`, time.Time{}).
		Scan(&count, &oldest)
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("reading cache stats: %w", err)
	}
	return count, oldest, nil
}
