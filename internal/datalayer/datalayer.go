// Package datalayer ties the store, cache and sync queue together into
// the write-through facade the application calls.
//
// Every mutation follows the same path: the canonical record is written
// to the durable store, an outbox item is appended so the backend
// eventually sees the change, and the cached reads touching that
// resource family are burst-invalidated by tag. Reads go through the
// query cache in front of the store.
package datalayer

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jasperlepardo/citizenly-sub012/internal/cache"
	"github.com/jasperlepardo/citizenly-sub012/internal/outbox"
	"github.com/jasperlepardo/citizenly-sub012/internal/store"
)

// deviceIDKey is where the stable installation id lives in the KV table.
const deviceIDKey = "device:id"

// tagFor maps a resource type to the cache tag its reads carry.
var tagFor = map[string]string{
	"resident":  "residents",
	"household": "households",
	"user":      "users",
}

// collectionFor maps a resource type to its store collection.
var collectionFor = map[string]string{
	"resident":  "residents",
	"household": "households",
	"user":      "users",
}

// Service is the application-facing facade over the offline data layer.
type Service struct {
	store  *store.Store
	cache  *cache.Cache
	queue  *outbox.Queue
	logger *zap.Logger
}

// New constructs the facade. All collaborators are injected so tests
// can assemble isolated instances.
func New(s *store.Store, c *cache.Cache, q *outbox.Queue, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{store: s, cache: c, queue: q, logger: logger}
}

// Save writes a resource locally and queues its replay. Action is
// CREATE for new resources and UPDATE for edits; the local effect is
// the same upsert either way.
func (svc *Service) Save(ctx context.Context, action, resourceType string, payload json.RawMessage) error {
	collection, ok := collectionFor[resourceType]
	if !ok {
		return fmt.Errorf("unknown resource type %q", resourceType)
	}

	if err := svc.store.Put(ctx, collection, payload); err != nil {
		return err
	}

	if _, err := svc.queue.Enqueue(ctx, action, resourceType, payload); err != nil {
		return err
	}

	svc.cache.InvalidateByTag(tagFor[resourceType])
	return nil
}

// Delete removes a resource locally and queues the remote delete.
func (svc *Service) Delete(ctx context.Context, resourceType, key string, payload json.RawMessage) error {
	collection, ok := collectionFor[resourceType]
	if !ok {
		return fmt.Errorf("unknown resource type %q", resourceType)
	}

	if err := svc.store.Delete(ctx, collection, key); err != nil {
		return err
	}

	if _, err := svc.queue.Enqueue(ctx, outbox.ActionDelete, resourceType, payload); err != nil {
		return err
	}

	svc.cache.InvalidateByTag(tagFor[resourceType])
	return nil
}

// SaveResident upserts a resident record.
func (svc *Service) SaveResident(ctx context.Context, action string, payload json.RawMessage) error {
	return svc.Save(ctx, action, "resident", payload)
}

// SaveHousehold upserts a household record.
func (svc *Service) SaveHousehold(ctx context.Context, action string, payload json.RawMessage) error {
	return svc.Save(ctx, action, "household", payload)
}

// ResidentsByBarangay returns the residents in a barangay, memoized in
// the query cache under the residents tag.
func (svc *Service) ResidentsByBarangay(ctx context.Context, barangayCode string) ([]*store.Record, error) {
	key := "residents:barangay:" + barangayCode
	opts := cache.SetOptions{Tags: []string{"residents"}}
	return cache.Memoize(ctx, svc.cache, key, opts, func(ctx context.Context) ([]*store.Record, error) {
		return svc.store.GetByIndex(ctx, "residents", barangayCode)
	})
}

// HouseholdsByBarangay returns the households in a barangay, memoized
// under the households tag.
func (svc *Service) HouseholdsByBarangay(ctx context.Context, barangayCode string) ([]*store.Record, error) {
	key := "households:barangay:" + barangayCode
	opts := cache.SetOptions{Tags: []string{"households"}}
	return cache.Memoize(ctx, svc.cache, key, opts, func(ctx context.Context) ([]*store.Record, error) {
		return svc.store.GetByIndex(ctx, "households", barangayCode)
	})
}

// SnapshotStats caches the latest aggregate statistics blob in the
// durable KV table so the dashboard has last-known numbers offline.
func (svc *Service) SnapshotStats(ctx context.Context, stats json.RawMessage, ttl time.Duration) error {
	return svc.store.CachePut(ctx, "stats:aggregate", stats, ttl)
}

// LastKnownStats returns the stored aggregate statistics blob, if any
// unexpired snapshot exists.
func (svc *Service) LastKnownStats(ctx context.Context) (json.RawMessage, bool, error) {
	value, ok, err := svc.store.CacheGet(ctx, "stats:aggregate")
	return json.RawMessage(value), ok, err
}

// DeviceID returns the stable installation id, minting and persisting
// one on first use.
func (svc *Service) DeviceID(ctx context.Context) (string, error) {
	value, ok, err := svc.store.CacheGet(ctx, deviceIDKey)
	if err != nil {
		return "", err
	}
	if ok {
		return string(value), nil
	}

	id := uuid.NewString()
	if err := svc.store.CachePut(ctx, deviceIDKey, []byte(id), 0); err != nil {
		return "", err
	}

	svc.logger.Info("minted device id", zap.String("device_id", id))
	return id, nil
}

// Logout wipes all durable collections and drops the in-memory cache.
func (svc *Service) Logout(ctx context.Context) error {
	if err := svc.store.ClearAll(ctx); err != nil {
		return err
	}
	svc.cache.Purge()
	return nil
}
