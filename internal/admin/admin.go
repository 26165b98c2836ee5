// Package admin exposes the agent's local observability surface over
// HTTP: sync status, manual flush trigger, and store statistics.
package admin

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/jasperlepardo/citizenly-sub012/internal/outbox"
	"github.com/jasperlepardo/citizenly-sub012/internal/store"
)

// Handler serves the admin endpoints.
type Handler struct {
	queue  *outbox.Queue
	store  *store.Store
	logger *zap.Logger
}

// NewHandler constructs an admin Handler.
func NewHandler(queue *outbox.Queue, s *store.Store, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{queue: queue, store: s, logger: logger}
}

// Routes builds the admin router.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.Recoverer)
	r.Use(h.requestLogger)

	r.Get("/health", h.health)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/sync/status", h.syncStatus)
		r.Post("/sync/trigger", h.triggerSync)
		r.Get("/store/stats", h.storeStats)
	})

	return r
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

func (h *Handler) syncStatus(w http.ResponseWriter, r *http.Request) {
	status, err := h.queue.Status(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (h *Handler) triggerSync(w http.ResponseWriter, r *http.Request) {
	if err := h.queue.ForceSync(r.Context()); err != nil {
		if errors.Is(err, outbox.ErrOffline) {
			writeJSON(w, http.StatusConflict, map[string]string{"error": "backend unreachable"})
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "flushed"})
}

func (h *Handler) storeStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.store.Stats(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (h *Handler) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		h.logger.Debug("admin request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Duration("elapsed", time.Since(start)))
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
