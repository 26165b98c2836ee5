package datalayer

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jasperlepardo/citizenly-sub012/internal/cache"
	"github.com/jasperlepardo/citizenly-sub012/internal/netstatus"
	"github.com/jasperlepardo/citizenly-sub012/internal/outbox"
	"github.com/jasperlepardo/citizenly-sub012/internal/store"
)

func testService(t *testing.T) (*Service, *store.Store) {
	t.Helper()

	s, err := store.Open(filepath.Join(t.TempDir(), "citizenly.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	require.NoError(t, s.Migrate(context.Background()))

	c := cache.New(cache.Options{})
	// Offline provider: writes stay queued, nothing flushes during tests.
	client := &outbox.Client{BaseURL: "http://127.0.0.1:0", Tokens: outbox.StaticToken("t")}
	q := outbox.New(s, client, netstatus.NewStatic(false), outbox.Config{MaxRetries: 3}, nil)

	return New(s, c, q, nil), s
}

func TestSave_WriteThroughAndEnqueue(t *testing.T) {
	svc, s := testService(t)
	ctx := context.Background()

	payload := json.RawMessage(`{"id":"r-1","barangay_code":"042108001","first_name":"Ana"}`)
	require.NoError(t, svc.SaveResident(ctx, outbox.ActionCreate, payload))

	// Canonical record is durable.
	rec, err := s.Get(ctx, "residents", "r-1")
	require.NoError(t, err)
	assert.Equal(t, "042108001", rec.Partition)

	// And the mutation is queued for replay.
	items, err := s.PendingItems(ctx, 3)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, outbox.ActionCreate, items[0].Action)
	assert.Equal(t, "resident", items[0].ResourceType)
}

func TestSave_InvalidatesCachedReads(t *testing.T) {
	svc, _ := testService(t)
	ctx := context.Background()

	require.NoError(t, svc.SaveResident(ctx, outbox.ActionCreate,
		json.RawMessage(`{"id":"r-1","barangay_code":"042108001","first_name":"Ana"}`)))

	first, err := svc.ResidentsByBarangay(ctx, "042108001")
	require.NoError(t, err)
	require.Len(t, first, 1)

	// A new write must invalidate the memoized read.
	require.NoError(t, svc.SaveResident(ctx, outbox.ActionCreate,
		json.RawMessage(`{"id":"r-2","barangay_code":"042108001","first_name":"Ben"}`)))

	second, err := svc.ResidentsByBarangay(ctx, "042108001")
	require.NoError(t, err)
	assert.Len(t, second, 2)
}

func TestDelete_RemovesLocallyAndQueues(t *testing.T) {
	svc, s := testService(t)
	ctx := context.Background()

	payload := json.RawMessage(`{"id":"r-1","barangay_code":"042108001"}`)
	require.NoError(t, svc.SaveResident(ctx, outbox.ActionCreate, payload))
	require.NoError(t, svc.Delete(ctx, "resident", "r-1", payload))

	_, err := s.Get(ctx, "residents", "r-1")
	assert.ErrorIs(t, err, store.ErrNotFound)

	items, err := s.PendingItems(ctx, 3)
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, outbox.ActionDelete, items[1].Action)
}

func TestDeviceID_Stable(t *testing.T) {
	svc, _ := testService(t)
	ctx := context.Background()

	first, err := svc.DeviceID(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, first)

	second, err := svc.DeviceID(ctx)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestStatsSnapshot(t *testing.T) {
	svc, _ := testService(t)
	ctx := context.Background()

	require.NoError(t, svc.SnapshotStats(ctx, json.RawMessage(`{"residents":120}`), time.Hour))

	stats, ok, err := svc.LastKnownStats(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.JSONEq(t, `{"residents":120}`, string(stats))
}

func TestLogout_WipesEverything(t *testing.T) {
	svc, s := testService(t)
	ctx := context.Background()

	require.NoError(t, svc.SaveResident(ctx, outbox.ActionCreate,
		json.RawMessage(`{"id":"r-1","barangay_code":"042108001"}`)))

	require.NoError(t, svc.Logout(ctx))

	stats, err := s.Stats(ctx)
	require.NoError(t, err)
	for name, count := range stats {
		assert.Zero(t, count, "collection %s not wiped", name)
	}
}
