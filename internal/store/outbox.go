package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// PendingItem is a queued mutation awaiting replay against the backend.
//
// Items live in the sync_queue table. The store assigns the id once on
// append and never reuses it. Synced only ever flips false to true, and
// the retry count only ever increments; both transitions happen through
// MarkSynced and IncrementRetry, which the sync queue alone calls.
// Items are never deleted by the data layer, so exhausted ones stay
// visible for inspection.
type PendingItem struct {
	ID           int64
	Action       string
	ResourceType string
	Payload      json.RawMessage
	EnqueuedAt   time.Time
	Synced       bool
	RetryCount   int
}

// AppendPending persists a new outbox item and returns its assigned id.
func (s *Store) AppendPending(ctx context.Context, action, resourceType string, payload json.RawMessage) (int64, error) {
	query := `
	INSERT INTO sync_queue (action, resource_type, payload, enqueued_at, synced, retry_count)
	VALUES (?, ?, ?, ?, 0, 0)
	`
	res, err := s.conn.ExecContext(ctx, query,
		action, resourceType, string(payload), time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return 0, fmt.Errorf("%w: append pending %s %s: %v", ErrWriteFailed, action, resourceType, err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("append pending: last insert id: %w", err)
	}
	return id, nil
}

// PendingItems returns the unsynced items still under the retry cap, in
// ascending id order (FIFO). Items at or past maxRetries are excluded.
func (s *Store) PendingItems(ctx context.Context, maxRetries int) ([]*PendingItem, error) {
	query := `
	SELECT id, action, resource_type, payload, enqueued_at, synced, retry_count
	FROM sync_queue
	WHERE synced = 0 AND retry_count < ?
	ORDER BY id ASC
	`
	rows, err := s.conn.QueryContext(ctx, query, maxRetries)
	if err != nil {
		return nil, fmt.Errorf("query pending items: %w", err)
	}
	defer rows.Close()

	var items []*PendingItem
	for rows.Next() {
		var item PendingItem
		var payload, enqueuedAt string
		var synced int

		err := rows.Scan(&item.ID, &item.Action, &item.ResourceType,
			&payload, &enqueuedAt, &synced, &item.RetryCount)
		if err != nil {
			return nil, fmt.Errorf("scan pending item: %w", err)
		}

		item.Payload = json.RawMessage(payload)
		item.Synced = synced != 0
		if t, err := time.Parse(time.RFC3339Nano, enqueuedAt); err == nil {
			item.EnqueuedAt = t
		}

		items = append(items, &item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate pending items: %w", err)
	}

	return items, nil
}

// MarkSynced flips an item's synced flag to true.
func (s *Store) MarkSynced(ctx context.Context, id int64) error {
	if _, err := s.conn.ExecContext(ctx, `UPDATE sync_queue SET synced = 1 WHERE id = ?`, id); err != nil {
		return fmt.Errorf("%w: mark synced %d: %v", ErrWriteFailed, id, err)
	}
	return nil
}

// IncrementRetry bumps an item's retry counter after a failed attempt.
func (s *Store) IncrementRetry(ctx context.Context, id int64) error {
	if _, err := s.conn.ExecContext(ctx, `UPDATE sync_queue SET retry_count = retry_count + 1 WHERE id = ?`, id); err != nil {
		return fmt.Errorf("%w: increment retry %d: %v", ErrWriteFailed, id, err)
	}
	return nil
}

// PendingCount counts unsynced items still eligible for flushing.
func (s *Store) PendingCount(ctx context.Context, maxRetries int) (int, error) {
	var n int
	err := s.conn.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM sync_queue WHERE synced = 0 AND retry_count < ?`, maxRetries).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count pending items: %w", err)
	}
	return n, nil
}

// ExhaustedCount counts unsynced items frozen at the retry cap.
func (s *Store) ExhaustedCount(ctx context.Context, maxRetries int) (int, error) {
	var n int
	err := s.conn.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM sync_queue WHERE synced = 0 AND retry_count >= ?`, maxRetries).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count exhausted items: %w", err)
	}
	return n, nil
}

// PendingItem fetches a single outbox item by id, regardless of state.
func (s *Store) PendingItem(ctx context.Context, id int64) (*PendingItem, error) {
	var item PendingItem
	var payload, enqueuedAt string
	var synced int

	err := s.conn.QueryRowContext(ctx, `
	SELECT id, action, resource_type, payload, enqueued_at, synced, retry_count
	FROM sync_queue WHERE id = ?`, id).Scan(
		&item.ID, &item.Action, &item.ResourceType,
		&payload, &enqueuedAt, &synced, &item.RetryCount)
	if err != nil {
		return nil, fmt.Errorf("get pending item %d: %w", id, err)
	}

	item.Payload = json.RawMessage(payload)
	item.Synced = synced != 0
	if t, err := time.Parse(time.RFC3339Nano, enqueuedAt); err == nil {
		item.EnqueuedAt = t
	}

	return &item, nil
}
