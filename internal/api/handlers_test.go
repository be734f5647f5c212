// Package api tests for the sync daemon REST endpoints.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rommapp/argosy-launcher-sub002/internal/models"
	"github.com/rommapp/argosy-launcher-sub002/internal/sync"
	"github.com/rommapp/argosy-launcher-sub002/internal/sync/conflict"
	"github.com/rommapp/argosy-launcher-sub002/internal/sync/queue"
	"github.com/rommapp/argosy-launcher-sub002/internal/sync/scheduler"
)

type fakeScheduler struct {
	busy     bool
	triggers int
	online   *bool
}

func (f *fakeScheduler) Status(context.Context) scheduler.SchedulerStatus {
	return scheduler.SchedulerStatus{IsRunning: true, IsOnline: true, Queue: queue.Stats{Pending: 2, Total: 2}}
}

func (f *fakeScheduler) TriggerSync(context.Context) bool {
	if f.busy {
		return false
	}
	f.triggers++
	return true
}

func (f *fakeScheduler) SetOnlineStatus(online bool) { f.online = &online }

type fakeQueue struct {
	entries []*models.PendingUpload
	err     error
}

func (f *fakeQueue) List(context.Context) ([]*models.PendingUpload, error) { return f.entries, f.err }
func (f *fakeQueue) RetryAll(context.Context) (int64, error)               { return 3, f.err }

type fakePreLauncher struct {
	gameID   int64
	emulator string
	called   chan struct{}
}

func (f *fakePreLauncher) PreLaunch(_ context.Context, gameID int64, emulatorID string) conflict.Decision {
	f.gameID, f.emulator = gameID, emulatorID
	if f.called != nil {
		f.called <- struct{}{}
	}
	return conflict.ServerIsNewer{ServerTimestamp: time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC), Channel: "boss"}
}

func setupHandler() (*SyncHandler, *fakeScheduler, *fakeQueue, *fakePreLauncher) {
	s := &fakeScheduler{}
	q := &fakeQueue{}
	p := &fakePreLauncher{}
	return NewSyncHandler(context.Background(), s, q, p, nil), s, q, p
}

func do(t *testing.T, h http.Handler, method, path string, body []byte) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var decoded map[string]interface{}
	if rec.Header().Get("Content-Type") == "application/json" {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &decoded))
	}
	return rec, decoded
}

// TestHealth verifies the health endpoint.
func TestHealth(t *testing.T) {
	h, _, _, _ := setupHandler()
	rec, body := do(t, h.Router(), http.MethodGet, "/healthz", nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", body["status"])
}

// TestMetrics verifies the Prometheus endpoint is mounted.
func TestMetrics(t *testing.T) {
	h, _, _, _ := setupHandler()
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	h.Router().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}

// TestGetStatus verifies scheduler status is returned as JSON.
func TestGetStatus(t *testing.T) {
	h, _, _, _ := setupHandler()
	rec, body := do(t, h.Router(), http.MethodGet, "/sync/status", nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, body["is_running"])
	q, ok := body["queue"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, float64(2), q["pending"])
}

// TestTriggerSync verifies accepted and busy responses.
func TestTriggerSync(t *testing.T) {
	h, s, _, _ := setupHandler()
	router := h.Router()

	rec, body := do(t, router, http.MethodPost, "/sync/now", nil)
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, "started", body["status"])
	assert.Equal(t, 1, s.triggers)

	s.busy = true
	rec, body = do(t, router, http.MethodPost, "/sync/now", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "busy", body["status"])
}

// TestSetOnline verifies the online toggle and its validation.
func TestSetOnline(t *testing.T) {
	h, s, _, _ := setupHandler()
	router := h.Router()

	rec, _ := do(t, router, http.MethodPut, "/sync/online", []byte(`{"online":false}`))
	assert.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, s.online)
	assert.False(t, *s.online)

	rec, _ = do(t, router, http.MethodPut, "/sync/online", []byte(`{}`))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

// TestGetQueue verifies queue listing and error mapping.
func TestGetQueue(t *testing.T) {
	h, _, q, _ := setupHandler()
	router := h.Router()

	rec, body := do(t, router, http.MethodGet, "/sync/queue", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []interface{}{}, body["entries"])

	q.entries = []*models.PendingUpload{{ID: "a", GameID: 42, SyncType: models.SyncTypeSaveFile}}
	_, body = do(t, router, http.MethodGet, "/sync/queue", nil)
	assert.Len(t, body["entries"], 1)

	q.err = errors.New("database is locked")
	rec, _ = do(t, router, http.MethodGet, "/sync/queue", nil)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

// TestRetryQueue verifies the reset count is reported.
func TestRetryQueue(t *testing.T) {
	h, _, _, _ := setupHandler()
	rec, body := do(t, h.Router(), http.MethodPost, "/sync/queue/retry", nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(3), body["reset"])
}

// TestPreLaunch verifies the decision and its detail are returned.
func TestPreLaunch(t *testing.T) {
	h, _, _, p := setupHandler()
	router := h.Router()

	rec, body := do(t, router, http.MethodPost, "/games/42/prelaunch?emulator=snes9x", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "server_is_newer", body["decision"])
	detail, ok := body["detail"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "boss", detail["channel"])
	assert.Equal(t, int64(42), p.gameID)
	assert.Equal(t, "snes9x", p.emulator)

	rec, _ = do(t, router, http.MethodPost, "/games/abc/prelaunch", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

// TestPreLaunch_holdsGameLock verifies the pre-launch check waits for sync
// work already running on the same game.
func TestPreLaunch_holdsGameLock(t *testing.T) {
	locks := sync.NewLockManager()
	p := &fakePreLauncher{called: make(chan struct{}, 1)}
	router := NewSyncHandler(context.Background(), &fakeScheduler{}, &fakeQueue{}, p, locks).Router()

	mu := locks.GameLock(42)
	mu.Lock()

	done := make(chan int, 1)
	go func() {
		req := httptest.NewRequest(http.MethodPost, "/games/42/prelaunch", nil)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		done <- rec.Code
	}()

	select {
	case <-p.called:
		t.Fatal("pre-launch ran while the game lock was held")
	case <-time.After(50 * time.Millisecond):
	}

	// Other games are not blocked.
	other := NewSyncHandler(context.Background(), &fakeScheduler{}, &fakeQueue{}, &fakePreLauncher{}, locks).Router()
	rec, _ := do(t, other, http.MethodPost, "/games/7/prelaunch", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	mu.Unlock()
	select {
	case <-p.called:
	case <-time.After(time.Second):
		t.Fatal("pre-launch did not run after the lock was released")
	}
	assert.Equal(t, http.StatusOK, <-done)
}
