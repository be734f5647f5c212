// Package api provides the local REST surface of the sync daemon: health,
// metrics, scheduler status and manual triggers.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rommapp/argosy-launcher-sub002/internal/logging"
	"github.com/rommapp/argosy-launcher-sub002/internal/models"
	"github.com/rommapp/argosy-launcher-sub002/internal/sync"
	"github.com/rommapp/argosy-launcher-sub002/internal/sync/conflict"
	"github.com/rommapp/argosy-launcher-sub002/internal/sync/queue"
	"github.com/rommapp/argosy-launcher-sub002/internal/sync/scheduler"
)

// Scheduler is the background scheduler surface.
type Scheduler interface {
	Status(ctx context.Context) scheduler.SchedulerStatus
	TriggerSync(ctx context.Context) bool
	SetOnlineStatus(online bool)
}

// Queue is the pending upload queue surface.
type Queue interface {
	List(ctx context.Context) ([]*models.PendingUpload, error)
	RetryAll(ctx context.Context) (int64, error)
}

// PreLauncher decides what to do before a game starts.
type PreLauncher interface {
	PreLaunch(ctx context.Context, gameID int64, emulatorID string) conflict.Decision
}

// SyncHandler handles sync status and operations.
type SyncHandler struct {
	scheduler Scheduler
	queue     Queue
	prelaunch PreLauncher
	locks     *sync.LockManager
	// background outlives requests for triggered passes.
	background context.Context
}

// NewSyncHandler creates a new SyncHandler. Triggered passes run on
// background so they survive the request. Pre-launch checks hold the game
// lock from locks, shared with the scheduler's orchestrator.
func NewSyncHandler(background context.Context, s Scheduler, q Queue, p PreLauncher, locks *sync.LockManager) *SyncHandler {
	if locks == nil {
		locks = sync.NewLockManager()
	}
	return &SyncHandler{scheduler: s, queue: q, prelaunch: p, locks: locks, background: background}
}

// Router mounts the handler with health and metrics endpoints.
func (h *SyncHandler) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", h.Health)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/sync", func(r chi.Router) {
		r.Get("/status", h.GetStatus)
		r.Post("/now", h.TriggerSync)
		r.Put("/online", h.SetOnline)
		r.Get("/queue", h.GetQueue)
		r.Post("/queue/retry", h.RetryQueue)
	})
	r.Post("/games/{id}/prelaunch", h.PreLaunch)
	return r
}

// Health handles GET /healthz
func (h *SyncHandler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "ok",
		"service": "argosy-sync",
	})
}

// GetStatus handles GET /sync/status
// Returns scheduler state, last pass times and queue statistics.
func (h *SyncHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.scheduler.Status(r.Context()))
}

// TriggerSync handles POST /sync/now
// Starts an upload and a download pass unless one is running.
func (h *SyncHandler) TriggerSync(w http.ResponseWriter, r *http.Request) {
	if !h.scheduler.TriggerSync(h.background) {
		writeJSON(w, http.StatusConflict, map[string]interface{}{
			"status":  "busy",
			"message": "Sync already in progress",
		})
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"status":  "started",
		"message": "Sync started",
	})
}

// SetOnline handles PUT /sync/online
func (h *SyncHandler) SetOnline(w http.ResponseWriter, r *http.Request) {
	var request struct {
		Online *bool `json:"online"`
	}
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil || request.Online == nil {
		http.Error(w, "online is required", http.StatusBadRequest)
		return
	}
	h.scheduler.SetOnlineStatus(*request.Online)
	writeJSON(w, http.StatusOK, map[string]interface{}{"online": *request.Online})
}

// GetQueue handles GET /sync/queue
func (h *SyncHandler) GetQueue(w http.ResponseWriter, r *http.Request) {
	entries, err := h.queue.List(r.Context())
	if err != nil {
		logging.Error("Failed to list pending uploads", err)
		http.Error(w, "Failed to list queue", http.StatusInternalServerError)
		return
	}
	if entries == nil {
		entries = []*models.PendingUpload{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"entries": entries})
}

// RetryQueue handles POST /sync/queue/retry
// Makes entries that exhausted their retries eligible again.
func (h *SyncHandler) RetryQueue(w http.ResponseWriter, r *http.Request) {
	n, err := h.queue.RetryAll(r.Context())
	if err != nil {
		logging.Error("Failed to reset pending uploads", err)
		http.Error(w, "Failed to retry queue", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"reset": n})
}

// PreLaunch handles POST /games/{id}/prelaunch?emulator=
func (h *SyncHandler) PreLaunch(w http.ResponseWriter, r *http.Request) {
	gameID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || gameID <= 0 {
		http.Error(w, "invalid game id", http.StatusBadRequest)
		return
	}
	var decision conflict.Decision
	h.locks.WithGame(gameID, func() {
		decision = h.prelaunch.PreLaunch(r.Context(), gameID, r.URL.Query().Get("emulator"))
	})
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"decision": decision.Outcome(),
		"detail":   decision,
	})
}

// ensure the concrete types satisfy the handler surfaces
var (
	_ Scheduler   = (*scheduler.Scheduler)(nil)
	_ Queue       = (*queue.Orchestrator)(nil)
	_ PreLauncher = (*conflict.Resolver)(nil)
)

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Warn("Failed to encode response", map[string]interface{}{"error": err.Error()})
	}
}
