// Package netstatus provides the reachability signal the sync queue
// depends on.
//
// The Monitor probes the backend's health endpoint on an interval and
// turns the result into a boolean plus edge events. Tests and callers
// that manage reachability themselves use Static instead.
package netstatus

import (
	"context"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Provider exposes the current reachability of the backend plus edge
// notifications ("became reachable" / "became unreachable").
type Provider interface {
	// Online reports whether the backend is currently reachable.
	Online() bool

	// Subscribe registers a callback fired on every reachability edge.
	// Callbacks run on the provider's goroutine and must not block.
	Subscribe(fn func(online bool))
}

// MonitorConfig configures a Monitor.
type MonitorConfig struct {
	// HealthURL is the endpoint probed to decide reachability.
	HealthURL string

	// Interval is the probe period. Default: 15s.
	Interval time.Duration

	// Timeout bounds each probe request. Default: 5s.
	Timeout time.Duration
}

// Monitor derives reachability by periodically probing a health URL.
type Monitor struct {
	cfg    MonitorConfig
	client *http.Client
	logger *zap.Logger

	mu     sync.Mutex
	online bool
	subs   []func(online bool)
}

// NewMonitor constructs a Monitor. It starts offline until the first
// successful probe; call Start to begin probing.
func NewMonitor(cfg MonitorConfig, logger *zap.Logger) *Monitor {
	if cfg.Interval <= 0 {
		cfg.Interval = 15 * time.Second
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Monitor{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		logger: logger,
	}
}

// Online implements Provider.
func (m *Monitor) Online() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

// Subscribe implements Provider.
func (m *Monitor) Subscribe(fn func(online bool)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subs = append(m.subs, fn)
}

// Start probes immediately, then on every interval tick until ctx is
// cancelled. It blocks; run it on its own goroutine.
func (m *Monitor) Start(ctx context.Context) {
	m.probe(ctx)

	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.probe(ctx)
		}
	}
}

func (m *Monitor) probe(ctx context.Context) {
	online := false

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.cfg.HealthURL, nil)
	if err == nil {
		resp, err := m.client.Do(req)
		if err == nil {
			_ = resp.Body.Close()
			online = resp.StatusCode >= 200 && resp.StatusCode < 300
		}
	}

	m.setOnline(online)
}

func (m *Monitor) setOnline(online bool) {
	m.mu.Lock()
	changed := m.online != online
	m.online = online
	subs := make([]func(bool), len(m.subs))
	copy(subs, m.subs)
	m.mu.Unlock()

	if !changed {
		return
	}

	if online {
		m.logger.Info("backend became reachable")
	} else {
		m.logger.Warn("backend became unreachable")
	}

	for _, fn := range subs {
		fn(online)
	}
}

// Static is a Provider whose state is set by the caller. The serve
// command uses it when probing is disabled, and tests use it to drive
// reachability deterministically.
type Static struct {
	mu     sync.Mutex
	online bool
	subs   []func(online bool)
}

// NewStatic returns a Static provider with the given initial state.
func NewStatic(online bool) *Static {
	return &Static{online: online}
}

// Online implements Provider.
func (s *Static) Online() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.online
}

// Subscribe implements Provider.
func (s *Static) Subscribe(fn func(online bool)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subs = append(s.subs, fn)
}

// SetOnline updates the state and fires subscribers on an edge.
func (s *Static) SetOnline(online bool) {
	s.mu.Lock()
	changed := s.online != online
	s.online = online
	subs := make([]func(bool), len(s.subs))
	copy(subs, s.subs)
	s.mu.Unlock()

	if !changed {
		return
	}
	for _, fn := range subs {
		fn(online)
	}
}
