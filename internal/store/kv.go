package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// CachePut stores an ancillary blob under an opaque key with an optional
// expiry. A non-positive ttl stores the value without expiry.
func (s *Store) CachePut(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	var expires sql.NullString
	if ttl > 0 {
		expires = sql.NullString{
			String: time.Now().UTC().Add(ttl).Format(time.RFC3339Nano),
			Valid:  true,
		}
	}

	query := `
	INSERT INTO kv_cache (key, value, expires_at)
	VALUES (?, ?, ?)
	ON CONFLICT(key) DO UPDATE SET
		value = excluded.value,
		expires_at = excluded.expires_at
	`
	if _, err := s.conn.ExecContext(ctx, query, key, value, expires); err != nil {
		return fmt.Errorf("%w: cache put %q: %v", ErrWriteFailed, key, err)
	}
	return nil
}

// CacheGet retrieves a blob by key. The second return is false on a
// miss or when the entry's expiry has passed; an expired entry is
// deleted on the read that discovers it.
func (s *Store) CacheGet(ctx context.Context, key string) ([]byte, bool, error) {
	var value []byte
	var expires sql.NullString

	err := s.conn.QueryRowContext(ctx,
		`SELECT value, expires_at FROM kv_cache WHERE key = ?`, key).Scan(&value, &expires)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("cache get %q: %w", key, err)
	}

	if expires.Valid {
		t, err := time.Parse(time.RFC3339Nano, expires.String)
		if err == nil && time.Now().UTC().After(t) {
			if _, err := s.conn.ExecContext(ctx, `DELETE FROM kv_cache WHERE key = ?`, key); err != nil {
				s.logger.Warn("failed to purge expired cache entry", zap.String("key", key), zap.Error(err))
			}
			return nil, false, nil
		}
	}

	return value, true, nil
}

// CacheDelete removes a blob by key. Idempotent.
func (s *Store) CacheDelete(ctx context.Context, key string) error {
	if _, err := s.conn.ExecContext(ctx, `DELETE FROM kv_cache WHERE key = ?`, key); err != nil {
		return fmt.Errorf("%w: cache delete %q: %v", ErrWriteFailed, key, err)
	}
	return nil
}

// SweepExpiredCache bulk-deletes every expired KV entry using the
// expiry index. Returns the number of entries removed.
func (s *Store) SweepExpiredCache(ctx context.Context) (int, error) {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	res, err := s.conn.ExecContext(ctx,
		`DELETE FROM kv_cache WHERE expires_at IS NOT NULL AND expires_at <= ?`, now)
	if err != nil {
		return 0, fmt.Errorf("sweep expired cache: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("sweep expired cache: rows affected: %w", err)
	}
	return int(n), nil
}
