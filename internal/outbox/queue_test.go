package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jasperlepardo/citizenly-sub012/internal/netstatus"
	"github.com/jasperlepardo/citizenly-sub012/internal/store"
)

// fakeBackend records every mutation request it receives.
type fakeBackend struct {
	mu       sync.Mutex
	requests []string // "METHOD path"
	auths    []string
	fail     bool
	srv      *httptest.Server
}

func newFakeBackend(t *testing.T) *fakeBackend {
	t.Helper()
	b := &fakeBackend{}
	b.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b.mu.Lock()
		b.requests = append(b.requests, r.Method+" "+r.URL.Path)
		b.auths = append(b.auths, r.Header.Get("Authorization"))
		fail := b.fail
		b.mu.Unlock()

		if fail {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		if r.Method == http.MethodPost {
			w.WriteHeader(http.StatusCreated)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(b.srv.Close)
	return b
}

func (b *fakeBackend) setFail(fail bool) {
	b.mu.Lock()
	b.fail = fail
	b.mu.Unlock()
}

func (b *fakeBackend) recorded() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, len(b.requests))
	copy(out, b.requests)
	return out
}

func testQueue(t *testing.T, backend *fakeBackend, net netstatus.Provider, cfg Config) (*Queue, *store.Store) {
	t.Helper()

	s, err := store.Open(filepath.Join(t.TempDir(), "citizenly.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	require.NoError(t, s.Migrate(context.Background()))

	client := &Client{BaseURL: backend.srv.URL, Tokens: StaticToken("test-token")}
	if cfg.ItemDelay == 0 {
		cfg.ItemDelay = time.Millisecond
	}
	return New(s, client, net, cfg, nil), s
}

func residentPayload(id, name string) json.RawMessage {
	return json.RawMessage(fmt.Sprintf(`{"id":%q,"barangay_code":"042108001","first_name":%q}`, id, name))
}

func TestProcessQueue_FIFO(t *testing.T) {
	backend := newFakeBackend(t)
	q, s := testQueue(t, backend, netstatus.NewStatic(true), Config{MaxRetries: 3})
	ctx := context.Background()

	// Append straight to the durable outbox so no opportunistic flush
	// races the assertion; the drain reads the same rows either way.
	_, err := s.AppendPending(ctx, ActionCreate, "resident", residentPayload("r-1", "Ana"))
	require.NoError(t, err)
	_, err = s.AppendPending(ctx, ActionUpdate, "resident", residentPayload("r-1", "Ana Maria"))
	require.NoError(t, err)
	_, err = s.AppendPending(ctx, ActionDelete, "resident", residentPayload("r-1", ""))
	require.NoError(t, err)

	require.NoError(t, q.ProcessQueue(ctx))

	assert.Equal(t, []string{
		"POST /api/residents",
		"PUT /api/residents/r-1",
		"DELETE /api/residents/r-1",
	}, backend.recorded())

	status, err := q.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, status.Pending)
}

func TestProcessQueue_IdempotentReplay(t *testing.T) {
	backend := newFakeBackend(t)
	q, s := testQueue(t, backend, netstatus.NewStatic(true), Config{MaxRetries: 3})
	ctx := context.Background()

	_, err := s.AppendPending(ctx, ActionCreate, "resident", residentPayload("r-1", "Ana"))
	require.NoError(t, err)

	require.NoError(t, q.ProcessQueue(ctx))
	require.Len(t, backend.recorded(), 1)

	// Everything already synced: replay performs zero remote calls.
	require.NoError(t, q.ProcessQueue(ctx))
	assert.Len(t, backend.recorded(), 1)
}

func TestProcessQueue_OfflineNoOp(t *testing.T) {
	backend := newFakeBackend(t)
	q, s := testQueue(t, backend, netstatus.NewStatic(false), Config{MaxRetries: 3})
	ctx := context.Background()

	_, err := s.AppendPending(ctx, ActionCreate, "resident", residentPayload("r-1", "Ana"))
	require.NoError(t, err)

	require.NoError(t, q.ProcessQueue(ctx))
	assert.Empty(t, backend.recorded())
}

func TestProcessQueue_RetryCap(t *testing.T) {
	const maxRetries = 3

	backend := newFakeBackend(t)
	backend.setFail(true)
	q, s := testQueue(t, backend, netstatus.NewStatic(true), Config{MaxRetries: maxRetries})
	ctx := context.Background()

	id, err := s.AppendPending(ctx, ActionCreate, "resident", residentPayload("r-1", "Ana"))
	require.NoError(t, err)

	for i := 0; i < maxRetries; i++ {
		require.NoError(t, q.ProcessQueue(ctx))
	}

	item, err := s.PendingItem(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, maxRetries, item.RetryCount)
	assert.False(t, item.Synced)
	require.Len(t, backend.recorded(), maxRetries)

	// The (maxRetries+1)-th flush excludes the exhausted item.
	require.NoError(t, q.ProcessQueue(ctx))
	assert.Len(t, backend.recorded(), maxRetries)

	status, err := q.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, status.Pending)
	assert.Equal(t, 1, status.Exhausted)
}

func TestProcessQueue_FailureDoesNotBlockLaterItems(t *testing.T) {
	backend := newFakeBackend(t)
	q, s := testQueue(t, backend, netstatus.NewStatic(true), Config{MaxRetries: 3})
	ctx := context.Background()

	// Household payload without its key field: UPDATE cannot resolve an
	// endpoint and fails, but the later resident item still syncs.
	_, err := s.AppendPending(ctx, ActionUpdate, "household", json.RawMessage(`{"barangay_code":"042108001"}`))
	require.NoError(t, err)
	okID, err := s.AppendPending(ctx, ActionCreate, "resident", residentPayload("r-1", "Ana"))
	require.NoError(t, err)

	require.NoError(t, q.ProcessQueue(ctx))

	assert.Equal(t, []string{"POST /api/residents"}, backend.recorded())

	item, err := s.PendingItem(ctx, okID)
	require.NoError(t, err)
	assert.True(t, item.Synced)
}

func TestApply_AuthHeader(t *testing.T) {
	backend := newFakeBackend(t)
	q, s := testQueue(t, backend, netstatus.NewStatic(true), Config{MaxRetries: 3})
	ctx := context.Background()

	_, err := s.AppendPending(ctx, ActionCreate, "resident", residentPayload("r-1", "Ana"))
	require.NoError(t, err)
	require.NoError(t, q.ProcessQueue(ctx))

	require.Len(t, backend.auths, 1)
	assert.Equal(t, "Bearer test-token", backend.auths[0])
}

// failingTokens simulates a session provider with no valid credential.
type failingTokens struct{}

func (failingTokens) Token(context.Context) (string, error) {
	return "", fmt.Errorf("session expired")
}

func TestApply_MissingCredentialIsRetryable(t *testing.T) {
	backend := newFakeBackend(t)
	net := netstatus.NewStatic(true)

	s, err := store.Open(filepath.Join(t.TempDir(), "citizenly.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	require.NoError(t, s.Migrate(context.Background()))

	client := &Client{BaseURL: backend.srv.URL, Tokens: failingTokens{}}
	q := New(s, client, net, Config{MaxRetries: 3, ItemDelay: time.Millisecond}, nil)
	ctx := context.Background()

	id, err := s.AppendPending(ctx, ActionCreate, "resident", residentPayload("r-1", "Ana"))
	require.NoError(t, err)
	require.NoError(t, q.ProcessQueue(ctx))

	// Auth failure counts as a retryable item failure, not a fatal abort.
	item, err := s.PendingItem(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 1, item.RetryCount)
	assert.False(t, item.Synced)
	assert.Empty(t, backend.recorded(), "no request should reach the backend without a credential")
}

func TestForceSync_OfflineError(t *testing.T) {
	backend := newFakeBackend(t)
	q, _ := testQueue(t, backend, netstatus.NewStatic(false), Config{MaxRetries: 3})

	err := q.ForceSync(context.Background())
	assert.ErrorIs(t, err, ErrOffline)
}

func TestEnqueue_Validation(t *testing.T) {
	backend := newFakeBackend(t)
	q, _ := testQueue(t, backend, netstatus.NewStatic(false), Config{MaxRetries: 3})
	ctx := context.Background()

	_, err := q.Enqueue(ctx, "UPSERT", "resident", residentPayload("r-1", "Ana"))
	assert.Error(t, err)

	_, err = q.Enqueue(ctx, ActionCreate, "vehicle", residentPayload("r-1", "Ana"))
	assert.Error(t, err)
}

func TestEndToEnd_OfflineEnqueueThenReconnect(t *testing.T) {
	backend := newFakeBackend(t)
	net := netstatus.NewStatic(false)
	q, s := testQueue(t, backend, net, Config{MaxRetries: 3})
	ctx := context.Background()

	id, err := q.Enqueue(ctx, ActionCreate, "resident", json.RawMessage(`{"id":"r-9","barangay_code":"042108001","first_name":"Ana"}`))
	require.NoError(t, err)

	// Offline: the item is durable but untouched.
	item, err := s.PendingItem(ctx, id)
	require.NoError(t, err)
	assert.False(t, item.Synced)
	assert.Equal(t, 0, item.RetryCount)
	assert.Empty(t, backend.recorded())

	// Connectivity restored: the reachable edge triggers a flush.
	net.SetOnline(true)

	require.Eventually(t, func() bool {
		status, err := q.Status(ctx)
		return err == nil && status.Pending == 0 && !status.Flushing
	}, 5*time.Second, 10*time.Millisecond)

	assert.Equal(t, []string{"POST /api/residents"}, backend.recorded())

	item, err = s.PendingItem(ctx, id)
	require.NoError(t, err)
	assert.True(t, item.Synced)
}

func TestEndpointFor(t *testing.T) {
	payload := json.RawMessage(`{"id":"r-1","code":"h-7"}`)

	cases := []struct {
		action, resourceType string
		wantMethod, wantPath string
	}{
		{ActionCreate, "resident", "POST", "/api/residents"},
		{ActionUpdate, "resident", "PUT", "/api/residents/r-1"},
		{ActionDelete, "resident", "DELETE", "/api/residents/r-1"},
		{ActionCreate, "household", "POST", "/api/households"},
		{ActionUpdate, "household", "PUT", "/api/households/h-7"},
		{ActionDelete, "user", "DELETE", "/api/users/r-1"},
	}

	for _, tc := range cases {
		method, path, err := endpointFor(tc.action, tc.resourceType, payload)
		require.NoError(t, err, "%s %s", tc.action, tc.resourceType)
		assert.Equal(t, tc.wantMethod, method)
		assert.Equal(t, tc.wantPath, path)
	}

	_, _, err := endpointFor(ActionCreate, "vehicle", payload)
	assert.Error(t, err)
}
