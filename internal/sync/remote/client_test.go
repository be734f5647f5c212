package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/rommapp/argosy-launcher-sub002/internal/errors"
	"github.com/rommapp/argosy-launcher-sub002/internal/models"
)

var fastRetry = RetryPolicy{Attempts: 3, InitialDelay: time.Millisecond, Multiplier: 2}

func newTestClient(t *testing.T, r http.Handler, cfg Config) *Client {
	t.Helper()
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	cfg.BaseURL = srv.URL
	return NewClient(&cfg, WithRetryPolicy(fastRetry))
}

// TestListByRom tests listing with device scoping and bearer auth.
func TestListByRom(t *testing.T) {
	r := chi.NewRouter()
	r.Get("/api/saves", func(w http.ResponseWriter, req *http.Request) {
		assert.Equal(t, "Bearer tok", req.Header.Get("Authorization"))
		assert.Equal(t, "42", req.URL.Query().Get("rom_id"))
		assert.Equal(t, "dev-1", req.URL.Query().Get("device_id"))
		json.NewEncoder(w).Encode([]models.RemoteSave{
			{ID: 1, RomID: 42, FileName: "argosy-latest.srm", UpdatedAt: "2024-01-01T00:00:00Z",
				DeviceSyncs: []models.DeviceSync{{DeviceID: "dev-1", IsCurrent: true}}},
		})
	})
	c := newTestClient(t, r, Config{Token: "tok", DeviceID: "dev-1"})

	saves, err := c.ListByRom(context.Background(), 42)
	require.NoError(t, err)
	require.Len(t, saves, 1)
	assert.Equal(t, "argosy-latest.srm", saves[0].FileName)
	cur, tracked := saves[0].DeviceStatus("dev-1")
	assert.True(t, cur)
	assert.True(t, tracked)
}

// TestBasicAuth tests the fallback to basic credentials.
func TestBasicAuth(t *testing.T) {
	r := chi.NewRouter()
	r.Get("/api/saves/{id}", func(w http.ResponseWriter, req *http.Request) {
		user, pass, ok := req.BasicAuth()
		assert.True(t, ok)
		assert.Equal(t, "u", user)
		assert.Equal(t, "p", pass)
		fmt.Fprintf(w, `{"id":%s,"file_name":"x.srm"}`, chi.URLParam(req, "id"))
	})
	c := newTestClient(t, r, Config{Username: "u", Password: "p"})

	save, err := c.Get(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, int64(7), save.ID)
}

// TestUpload_create tests a multipart create with channel cleanup params.
func TestUpload_create(t *testing.T) {
	r := chi.NewRouter()
	r.Post("/api/saves", func(w http.ResponseWriter, req *http.Request) {
		q := req.URL.Query()
		assert.Equal(t, "9", q.Get("rom_id"))
		assert.Equal(t, "retroarch", q.Get("emulator"))
		assert.Equal(t, "speedrun", q.Get("slot"))
		assert.Equal(t, "true", q.Get("autocleanup"))
		assert.Equal(t, "10", q.Get("autocleanup_limit"))
		assert.Empty(t, q.Get("overwrite"))

		file, header, err := req.FormFile("saveFile")
		if !assert.NoError(t, err) {
			return
		}
		data, _ := io.ReadAll(file)
		assert.Equal(t, "speedrun.srm", header.Filename)
		assert.Equal(t, "payload", string(data))

		json.NewEncoder(w).Encode(models.RemoteSave{ID: 100, FileName: header.Filename, UpdatedAt: "2024-02-02T00:00:00Z"})
	})
	c := newTestClient(t, r, Config{})

	save, err := c.Upload(context.Background(), UploadRequest{
		RomID: 9, Emulator: "retroarch", FileName: "speedrun.srm",
		Content: strings.NewReader("payload"), Slot: "speedrun", Autocleanup: true,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(100), save.ID)
}

// TestUpload_updateConflict tests that a 409 is reported and not retried.
func TestUpload_updateConflict(t *testing.T) {
	var calls int32
	r := chi.NewRouter()
	r.Put("/api/saves/{id}", func(w http.ResponseWriter, req *http.Request) {
		atomic.AddInt32(&calls, 1)
		assert.Equal(t, "5", chi.URLParam(req, "id"))
		http.Error(w, "device out of sync", http.StatusConflict)
	})
	c := newTestClient(t, r, Config{})

	_, err := c.Upload(context.Background(), UploadRequest{SaveID: 5, FileName: "a.srm", Content: strings.NewReader("x")})
	require.Error(t, err)
	assert.True(t, IsConflict(err))
	assert.Equal(t, apperrors.ErrSyncConflict, CodeOf(err))
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

// TestGet_retriesServerErrors tests backoff retries on 5xx responses.
func TestGet_retriesServerErrors(t *testing.T) {
	var calls int32
	r := chi.NewRouter()
	r.Get("/api/saves/{id}", func(w http.ResponseWriter, req *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write([]byte(`{"id":1}`))
	})
	c := newTestClient(t, r, Config{})

	save, err := c.Get(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, int64(1), save.ID)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

// TestGet_givesUpAfterAttempts tests that the final failure propagates.
func TestGet_givesUpAfterAttempts(t *testing.T) {
	var calls int32
	r := chi.NewRouter()
	r.Get("/api/saves/{id}", func(w http.ResponseWriter, req *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusServiceUnavailable)
	})
	c := newTestClient(t, r, Config{})

	_, err := c.Get(context.Background(), 1)
	require.Error(t, err)
	assert.Equal(t, http.StatusServiceUnavailable, StatusCode(err))
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

// TestGet_noRetryOnClientError tests that 4xx responses fail fast.
func TestGet_noRetryOnClientError(t *testing.T) {
	var calls int32
	r := chi.NewRouter()
	r.Get("/api/saves/{id}", func(w http.ResponseWriter, req *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusUnauthorized)
	})
	c := newTestClient(t, r, Config{})

	_, err := c.Get(context.Background(), 1)
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrSyncAuthFailed, CodeOf(err))
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

// TestDownload tests both the download path and the content endpoint.
func TestDownload(t *testing.T) {
	r := chi.NewRouter()
	r.Get("/raw/saves/a.srm", func(w http.ResponseWriter, req *http.Request) {
		w.Write([]byte("from-path"))
	})
	r.Get("/api/saves/{id}/content/{name}", func(w http.ResponseWriter, req *http.Request) {
		assert.Equal(t, "b.srm", chi.URLParam(req, "name"))
		assert.Equal(t, "true", req.URL.Query().Get("optimistic"))
		w.Write([]byte("from-content"))
	})
	c := newTestClient(t, r, Config{DeviceID: "dev"})

	var buf strings.Builder
	n, err := c.Download(context.Background(), &models.RemoteSave{ID: 1, DownloadPath: "/raw/saves/a.srm"}, &buf)
	require.NoError(t, err)
	assert.Equal(t, int64(9), n)
	assert.Equal(t, "from-path", buf.String())

	buf.Reset()
	_, err = c.Download(context.Background(), &models.RemoteSave{ID: 2, FileName: "b.srm"}, &buf)
	require.NoError(t, err)
	assert.Equal(t, "from-content", buf.String())
}

// TestDeleteAndConfirm tests the batch delete body and device confirmation.
func TestDeleteAndConfirm(t *testing.T) {
	var deleted []int64
	var confirmed string
	r := chi.NewRouter()
	r.Delete("/api/saves", func(w http.ResponseWriter, req *http.Request) {
		var body struct {
			Saves []int64 `json:"saves"`
		}
		assert.NoError(t, json.NewDecoder(req.Body).Decode(&body))
		deleted = body.Saves
		w.WriteHeader(http.StatusNoContent)
	})
	r.Post("/api/saves/{id}/confirm", func(w http.ResponseWriter, req *http.Request) {
		var body map[string]string
		assert.NoError(t, json.NewDecoder(req.Body).Decode(&body))
		confirmed = chi.URLParam(req, "id") + ":" + body["device_id"]
		w.WriteHeader(http.StatusOK)
	})
	c := newTestClient(t, r, Config{DeviceID: "dev"})

	require.NoError(t, c.Delete(context.Background(), []int64{3, 4}))
	assert.Equal(t, []int64{3, 4}, deleted)
	require.NoError(t, c.Delete(context.Background(), nil))

	require.NoError(t, c.Confirm(context.Background(), 8))
	assert.Equal(t, "8:dev", confirmed)
}

// TestTransportError tests categorization of connection failures.
func TestTransportError(t *testing.T) {
	c := NewClient(&Config{BaseURL: "http://127.0.0.1:1"}, WithRetryPolicy(RetryPolicy{Attempts: 1}))

	_, err := c.Get(context.Background(), 1)
	require.Error(t, err)
	var terr *TransportError
	assert.ErrorAs(t, err, &terr)
	assert.False(t, IsConflict(err))
}
