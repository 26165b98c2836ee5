// Package outbox implements the sync queue of the Citizenly offline
// data layer.
//
// Mutations performed while the client may be offline are recorded as
// durable outbox items (store.PendingItem) and replayed against the
// backend in enqueue order once connectivity is available. At most one
// flush runs at a time; item failures increment a bounded retry counter
// instead of aborting the drain, and items that exhaust their retries
// are frozen for inspection rather than deleted.
package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/jasperlepardo/citizenly-sub012/internal/netstatus"
	"github.com/jasperlepardo/citizenly-sub012/internal/store"
)

// ErrOffline is returned by ForceSync when the backend is unreachable.
var ErrOffline = errors.New("backend unreachable")

// Config tunes the queue's flush behavior.
type Config struct {
	// MaxRetries is the number of failed attempts after which an item
	// is frozen and excluded from future flushes. Default: 3.
	MaxRetries int

	// ItemDelay is the fixed pause between consecutive remote calls in
	// one flush, to avoid overwhelming the backend. Default: 100ms.
	ItemDelay time.Duration
}

func (c *Config) applyDefaults() {
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
	if c.ItemDelay < 0 {
		c.ItemDelay = 0
	} else if c.ItemDelay == 0 {
		c.ItemDelay = 100 * time.Millisecond
	}
}

// Status is a snapshot of the queue for observability. The application
// drives its "pending changes" indicator from Pending.
type Status struct {
	Flushing  bool `json:"flushing"`
	Pending   int  `json:"pending"`
	Exhausted int  `json:"exhausted"`
	Online    bool `json:"online"`
}

// Queue drains durable pending mutations against the backend.
type Queue struct {
	store  *store.Store
	client *Client
	net    netstatus.Provider
	cfg    Config
	logger *zap.Logger

	// mu guards flushing; the flag keeps at most one drain in flight
	// even when a connectivity edge and a fresh enqueue race. It is
	// process-local on purpose: a restart mid-flush resets it and the
	// durable item list resumes where it left off.
	mu       sync.Mutex
	flushing bool
}

// New constructs a Queue and subscribes it to the provider's
// became-reachable edge so queued work flushes opportunistically.
func New(s *store.Store, client *Client, net netstatus.Provider, cfg Config, logger *zap.Logger) *Queue {
	cfg.applyDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}

	q := &Queue{
		store:  s,
		client: client,
		net:    net,
		cfg:    cfg,
		logger: logger,
	}

	net.Subscribe(func(online bool) {
		if online {
			go func() {
				if err := q.ProcessQueue(context.Background()); err != nil {
					q.logger.Warn("flush after reconnect failed", zap.Error(err))
				}
			}()
		}
	})

	return q
}

// Enqueue persists a new pending mutation and, when the backend is
// reachable, opportunistically triggers a flush in the background.
// Only appends happen here: existing items are never edited.
func (q *Queue) Enqueue(ctx context.Context, action, resourceType string, payload json.RawMessage) (int64, error) {
	switch action {
	case ActionCreate, ActionUpdate, ActionDelete:
	default:
		return 0, fmt.Errorf("unknown action %q", action)
	}
	if _, ok := resources[resourceType]; !ok {
		return 0, fmt.Errorf("unknown resource type %q", resourceType)
	}

	id, err := q.store.AppendPending(ctx, action, resourceType, payload)
	if err != nil {
		return 0, err
	}

	q.logger.Debug("enqueued mutation",
		zap.Int64("id", id),
		zap.String("action", action),
		zap.String("resource", resourceType))

	if q.net.Online() {
		go func() {
			if err := q.ProcessQueue(context.Background()); err != nil {
				q.logger.Warn("opportunistic flush failed", zap.Error(err))
			}
		}()
	}

	return id, nil
}

// ProcessQueue drains the outbox once.
//
// A second concurrent invocation observes the guard and returns
// immediately. If the backend is unreachable at flush start the drain
// is skipped; reachability is not re-checked between items, a later
// item simply fails and increments its retry count. Item failures never
// abort the drain, and successes already applied stay applied.
func (q *Queue) ProcessQueue(ctx context.Context) error {
	q.mu.Lock()
	if q.flushing {
		q.mu.Unlock()
		return nil
	}
	q.flushing = true
	q.mu.Unlock()

	defer func() {
		q.mu.Lock()
		q.flushing = false
		q.mu.Unlock()
	}()

	if !q.net.Online() {
		return nil
	}

	items, err := q.store.PendingItems(ctx, q.cfg.MaxRetries)
	if err != nil {
		return fmt.Errorf("load pending items: %w", err)
	}
	if len(items) == 0 {
		return nil
	}

	q.logger.Info("flushing sync queue", zap.Int("items", len(items)))

	for i, item := range items {
		if i > 0 && q.cfg.ItemDelay > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(q.cfg.ItemDelay):
			}
		}

		if err := q.client.Apply(ctx, item.Action, item.ResourceType, item.Payload); err != nil {
			q.handleItemFailure(ctx, item, items[i+1:], err)
			continue
		}

		if err := q.store.MarkSynced(ctx, item.ID); err != nil {
			q.logger.Error("failed to mark item synced", zap.Int64("id", item.ID), zap.Error(err))
			continue
		}

		q.logger.Debug("item synced",
			zap.Int64("id", item.ID),
			zap.String("action", item.Action),
			zap.String("resource", item.ResourceType))
	}

	return nil
}

// handleItemFailure records a failed attempt: bump the retry counter,
// log the terminal transition when the cap is reached, and flag a
// failed CREATE that later items of the same resource type may depend
// on. The flush continues either way.
func (q *Queue) handleItemFailure(ctx context.Context, item *store.PendingItem, rest []*store.PendingItem, cause error) {
	if err := q.store.IncrementRetry(ctx, item.ID); err != nil {
		q.logger.Error("failed to record retry", zap.Int64("id", item.ID), zap.Error(err))
	}

	attempts := item.RetryCount + 1
	if attempts >= q.cfg.MaxRetries {
		q.logger.Error("sync item exhausted retries; frozen for inspection",
			zap.Int64("id", item.ID),
			zap.String("action", item.Action),
			zap.String("resource", item.ResourceType),
			zap.Int("attempts", attempts),
			zap.Error(cause))
		return
	}

	if item.Action == ActionCreate {
		for _, later := range rest {
			if later.ResourceType == item.ResourceType {
				q.logger.Warn("failed CREATE may orphan later items of same resource type",
					zap.Int64("id", item.ID),
					zap.String("resource", item.ResourceType),
					zap.Int64("dependent_id", later.ID))
				break
			}
		}
	}

	q.logger.Warn("sync item failed; will retry",
		zap.Int64("id", item.ID),
		zap.String("action", item.Action),
		zap.String("resource", item.ResourceType),
		zap.Int("attempts", attempts),
		zap.Error(cause))
}

// ForceSync is a manual flush trigger that fails fast with ErrOffline
// when the backend is unreachable instead of silently no-op-ing.
func (q *Queue) ForceSync(ctx context.Context) error {
	if !q.net.Online() {
		return ErrOffline
	}
	return q.ProcessQueue(ctx)
}

// Status reports whether a flush is running, how many items remain
// pending or exhausted, and current reachability.
func (q *Queue) Status(ctx context.Context) (Status, error) {
	q.mu.Lock()
	flushing := q.flushing
	q.mu.Unlock()

	pending, err := q.store.PendingCount(ctx, q.cfg.MaxRetries)
	if err != nil {
		return Status{}, err
	}
	exhausted, err := q.store.ExhaustedCount(ctx, q.cfg.MaxRetries)
	if err != nil {
		return Status{}, err
	}

	return Status{
		Flushing:  flushing,
		Pending:   pending,
		Exhausted: exhausted,
		Online:    q.net.Online(),
	}, nil
}
