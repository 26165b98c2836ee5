package store

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"
)

const (
	kvTable     = "kv_cache"
	outboxTable = "sync_queue"
)

// Collection describes a registered record collection: the table that
// backs it, the payload field holding the primary key, and the payload
// field used as the partition (secondary index) value.
type Collection struct {
	// Name is the logical collection name used by callers.
	Name string

	// KeyField is the payload field extracted as the primary key
	// (an id or a composite business code).
	KeyField string

	// PartitionField is the payload field extracted as the partition
	// value. Optional; records without it index under the empty string.
	PartitionField string

	table string
}

// collections is the registry of entity collections. The outbox and KV
// cache tables are fixed schema, not registered here.
var collections = []Collection{
	{Name: "residents", KeyField: "id", PartitionField: "barangay_code", table: "residents"},
	{Name: "households", KeyField: "code", PartitionField: "barangay_code", table: "households"},
	{Name: "users", KeyField: "id", PartitionField: "barangay_code", table: "users"},
}

// Collections returns the registered collection names.
func Collections() []string {
	names := make([]string, len(collections))
	for i, col := range collections {
		names[i] = col.Name
	}
	return names
}

func lookupCollection(name string) (*Collection, error) {
	for i := range collections {
		if collections[i].Name == name {
			return &collections[i], nil
		}
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownCollection, name)
}

// extract pulls the primary key and partition value out of a payload.
// A missing or empty key field violates the primary key constraint and
// fails the write.
func (c *Collection) extract(payload json.RawMessage) (key, partition string, err error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(payload, &fields); err != nil {
		return "", "", fmt.Errorf("decode payload: %w", err)
	}

	raw, ok := fields[c.KeyField]
	if !ok {
		return "", "", fmt.Errorf("payload missing key field %q", c.KeyField)
	}
	key = scalarString(raw)
	if key == "" {
		return "", "", fmt.Errorf("payload key field %q is empty", c.KeyField)
	}

	if c.PartitionField != "" {
		if raw, ok := fields[c.PartitionField]; ok {
			partition = scalarString(raw)
		}
	}

	return key, partition, nil
}

// scalarString renders a JSON scalar as its index value. Strings are
// unquoted; numbers keep their literal form so numeric ids stay stable.
func scalarString(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}

// migrations holds the ordered schema upgrade steps. PRAGMA user_version
// records how many have been applied; Migrate runs only the missing
// tail, so adding a step here upgrades existing databases without
// touching their data.
var migrations = []string{
	// v1: entity collections, sync outbox, KV cache.
	`
	CREATE TABLE IF NOT EXISTS residents (
		key TEXT PRIMARY KEY,
		partition TEXT NOT NULL DEFAULT '',
		updated_at TEXT NOT NULL,
		payload TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_residents_partition ON residents(partition);

	CREATE TABLE IF NOT EXISTS households (
		key TEXT PRIMARY KEY,
		partition TEXT NOT NULL DEFAULT '',
		updated_at TEXT NOT NULL,
		payload TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_households_partition ON households(partition);

	CREATE TABLE IF NOT EXISTS users (
		key TEXT PRIMARY KEY,
		partition TEXT NOT NULL DEFAULT '',
		updated_at TEXT NOT NULL,
		payload TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_users_partition ON users(partition);

	CREATE TABLE IF NOT EXISTS sync_queue (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		action TEXT NOT NULL,
		resource_type TEXT NOT NULL,
		payload TEXT NOT NULL,
		enqueued_at TEXT NOT NULL,
		synced INTEGER NOT NULL DEFAULT 0,
		retry_count INTEGER NOT NULL DEFAULT 0
	);
	CREATE INDEX IF NOT EXISTS idx_sync_queue_type ON sync_queue(resource_type);
	CREATE INDEX IF NOT EXISTS idx_sync_queue_synced ON sync_queue(synced);

	CREATE TABLE IF NOT EXISTS kv_cache (
		key TEXT PRIMARY KEY,
		value BLOB NOT NULL,
		expires_at TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_kv_cache_expiry ON kv_cache(expires_at);
	`,
}

// Migrate applies any schema steps the database hasn't seen yet.
// Idempotent; safe to call on every open.
func (s *Store) Migrate(ctx context.Context) error {
	var version int
	if err := s.conn.QueryRowContext(ctx, "PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}

	if version > len(migrations) {
		return fmt.Errorf("database schema version %d is newer than this build (max %d)", version, len(migrations))
	}

	for i := version; i < len(migrations); i++ {
		tx, err := s.conn.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin migration %d: %w", i+1, err)
		}

		if _, err := tx.ExecContext(ctx, migrations[i]); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("apply migration %d: %w", i+1, err)
		}

		// PRAGMA does not accept bind parameters.
		if _, err := tx.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d", i+1)); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("bump schema version to %d: %w", i+1, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", i+1, err)
		}

		s.logger.Info("applied schema migration", zap.Int("version", i+1))
	}

	return nil
}
