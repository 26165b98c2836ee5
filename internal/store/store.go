// Package store provides the durable on-device record store for the
// Citizenly offline data layer.
//
// The store is an embedded SQLite database (WAL mode) holding one table
// per registered collection, a generic key-value cache table with expiry,
// and the sync outbox. It is the only durable state the client owns:
// everything else (the in-memory query cache, the flush guard) is
// rebuilt from here after a restart.
//
// Every write is committed before the call returns; there is no
// write-behind buffering.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
	"go.uber.org/zap"
)

// Store wraps the embedded SQLite connection.
type Store struct {
	conn   *sql.DB
	path   string
	logger *zap.Logger
}

// Record is a stored payload together with the columns the store
// maintains alongside it.
type Record struct {
	// Key is the record's primary key, extracted from the payload
	// using the collection's key field.
	Key string

	// Partition is the record's partition value (e.g. a barangay
	// geographic code), used as the secondary index.
	Partition string

	// UpdatedAt is the time of the last local write of this record.
	UpdatedAt time.Time

	// Payload is the full application payload. A put replaces it
	// wholesale; the store never merges.
	Payload json.RawMessage
}

// Open creates or opens the store database at the given path.
//
// The parent directory is created if missing. The database is opened in
// embedded mode with WAL enabled for concurrent reads. Callers must
// invoke Migrate before using collection operations, and Close when done.
//
// If the host has no usable persistent storage (directory cannot be
// created, database cannot be opened), the returned error wraps
// ErrUnavailable.
func Open(path string, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("%w: create data directory: %v", ErrUnavailable, err)
	}

	conn, err := sql.Open("sqlite3", "file:"+path)
	if err != nil {
		return nil, fmt.Errorf("%w: open database: %v", ErrUnavailable, err)
	}

	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("%w: ping database: %v", ErrUnavailable, err)
	}

	conn.SetMaxOpenConns(25)
	conn.SetMaxIdleConns(5)
	conn.SetConnMaxLifetime(5 * time.Minute)

	s := &Store{conn: conn, path: path, logger: logger}

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := s.conn.Exec(pragma); err != nil {
			_ = s.Close()
			return nil, fmt.Errorf("%w: %s: %v", ErrUnavailable, pragma, err)
		}
	}

	return s, nil
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

// Close checkpoints the WAL and closes the connection.
func (s *Store) Close() error {
	if s.conn == nil {
		return nil
	}

	if _, err := s.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		s.logger.Warn("wal checkpoint failed", zap.Error(err))
	}

	if err := s.conn.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}

	s.conn = nil
	return nil
}

// Put upserts a single record into the collection. The record's key and
// partition are extracted from the payload per the collection registry.
func (s *Store) Put(ctx context.Context, collection string, payload json.RawMessage) error {
	return s.PutMany(ctx, collection, []json.RawMessage{payload})
}

// PutMany upserts a batch of records inside a single transaction.
// Either every record in the batch persists or none do; any failure is
// rolled back and surfaced wrapping ErrWriteFailed.
func (s *Store) PutMany(ctx context.Context, collection string, payloads []json.RawMessage) error {
	col, err := lookupCollection(collection)
	if err != nil {
		return err
	}
	if len(payloads) == 0 {
		return nil
	}

	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: begin tx: %v", ErrWriteFailed, err)
	}
	defer tx.Rollback()

	query := fmt.Sprintf(`
	INSERT INTO %s (key, partition, updated_at, payload)
	VALUES (?, ?, ?, ?)
	ON CONFLICT(key) DO UPDATE SET
		partition = excluded.partition,
		updated_at = excluded.updated_at,
		payload = excluded.payload
	`, col.table)

	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		return fmt.Errorf("%w: prepare upsert: %v", ErrWriteFailed, err)
	}
	defer stmt.Close()

	now := time.Now().UTC().Format(time.RFC3339Nano)
	for _, payload := range payloads {
		key, partition, err := col.extract(payload)
		if err != nil {
			return fmt.Errorf("%w: %s: %v", ErrWriteFailed, collection, err)
		}
		if _, err := stmt.ExecContext(ctx, key, partition, now, string(payload)); err != nil {
			return fmt.Errorf("%w: upsert %s/%s: %v", ErrWriteFailed, collection, key, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit: %v", ErrWriteFailed, err)
	}

	return nil
}

// Get retrieves a single record by primary key.
// Returns ErrNotFound if no record exists at that key.
func (s *Store) Get(ctx context.Context, collection, key string) (*Record, error) {
	col, err := lookupCollection(collection)
	if err != nil {
		return nil, err
	}

	query := fmt.Sprintf(`SELECT key, partition, updated_at, payload FROM %s WHERE key = ?`, col.table)
	row := s.conn.QueryRowContext(ctx, query, key)

	rec, err := scanRecord(row.Scan)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %s/%s", ErrNotFound, collection, key)
	}
	if err != nil {
		return nil, fmt.Errorf("get %s/%s: %w", collection, key, err)
	}
	return rec, nil
}

// GetAll returns every record in the collection, ordered by key.
func (s *Store) GetAll(ctx context.Context, collection string) ([]*Record, error) {
	col, err := lookupCollection(collection)
	if err != nil {
		return nil, err
	}

	query := fmt.Sprintf(`SELECT key, partition, updated_at, payload FROM %s ORDER BY key ASC`, col.table)
	rows, err := s.conn.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("get all %s: %w", collection, err)
	}
	defer rows.Close()

	return scanRecords(rows)
}

// GetByIndex returns every record whose partition value matches,
// using the collection's secondary index. Ordered by key.
func (s *Store) GetByIndex(ctx context.Context, collection, partition string) ([]*Record, error) {
	col, err := lookupCollection(collection)
	if err != nil {
		return nil, err
	}

	query := fmt.Sprintf(`SELECT key, partition, updated_at, payload FROM %s WHERE partition = ? ORDER BY key ASC`, col.table)
	rows, err := s.conn.QueryContext(ctx, query, partition)
	if err != nil {
		return nil, fmt.Errorf("get %s by index: %w", collection, err)
	}
	defer rows.Close()

	return scanRecords(rows)
}

// Delete removes a single record by primary key.
// Returns nil if the record doesn't exist (idempotent).
func (s *Store) Delete(ctx context.Context, collection, key string) error {
	col, err := lookupCollection(collection)
	if err != nil {
		return err
	}

	query := fmt.Sprintf(`DELETE FROM %s WHERE key = ?`, col.table)
	if _, err := s.conn.ExecContext(ctx, query, key); err != nil {
		return fmt.Errorf("%w: delete %s/%s: %v", ErrWriteFailed, collection, key, err)
	}
	return nil
}

// Clear removes every record in the collection. Used on logout/reset.
func (s *Store) Clear(ctx context.Context, collection string) error {
	col, err := lookupCollection(collection)
	if err != nil {
		return err
	}

	if _, err := s.conn.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s`, col.table)); err != nil {
		return fmt.Errorf("%w: clear %s: %v", ErrWriteFailed, collection, err)
	}
	return nil
}

// ClearAll wipes every registered collection, the KV cache table and
// the outbox in a single transaction.
func (s *Store) ClearAll(ctx context.Context) error {
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: begin tx: %v", ErrWriteFailed, err)
	}
	defer tx.Rollback()

	tables := make([]string, 0, len(collections)+2)
	for _, col := range collections {
		tables = append(tables, col.table)
	}
	tables = append(tables, kvTable, outboxTable)

	for _, table := range tables {
		if _, err := tx.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s`, table)); err != nil {
			return fmt.Errorf("%w: clear %s: %v", ErrWriteFailed, table, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit: %v", ErrWriteFailed, err)
	}
	return nil
}

// Stats reports per-collection record counts plus KV and outbox sizes.
func (s *Store) Stats(ctx context.Context) (map[string]int, error) {
	stats := make(map[string]int, len(collections)+2)

	count := func(name, table string) error {
		var n int
		query := fmt.Sprintf(`SELECT COUNT(*) FROM %s`, table)
		if err := s.conn.QueryRowContext(ctx, query).Scan(&n); err != nil {
			return fmt.Errorf("count %s: %w", name, err)
		}
		stats[name] = n
		return nil
	}

	for _, col := range collections {
		if err := count(col.Name, col.table); err != nil {
			return nil, err
		}
	}
	if err := count("kv_cache", kvTable); err != nil {
		return nil, err
	}
	if err := count("sync_queue", outboxTable); err != nil {
		return nil, err
	}

	return stats, nil
}

// scanRecord scans one row into a Record using the given scan function.
func scanRecord(scan func(...any) error) (*Record, error) {
	var rec Record
	var updatedAt, payload string

	if err := scan(&rec.Key, &rec.Partition, &updatedAt, &payload); err != nil {
		return nil, err
	}

	if t, err := time.Parse(time.RFC3339Nano, updatedAt); err == nil {
		rec.UpdatedAt = t
	}
	rec.Payload = json.RawMessage(payload)

	return &rec, nil
}

// scanRecords drains a result set into records.
func scanRecords(rows *sql.Rows) ([]*Record, error) {
	var records []*Record
	for rows.Next() {
		rec, err := scanRecord(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate records: %w", err)
	}
	return records, nil
}
