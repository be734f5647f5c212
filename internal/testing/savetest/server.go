// Package savetest provides an in-memory save server and a wired engine
// environment for tests.
package savetest

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sort"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/rommapp/argosy-launcher-sub002/internal/models"
)

// ServerEpoch is the timestamp of the first write to a Server.
var ServerEpoch = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

type storedSave struct {
	meta models.RemoteSave
	data []byte
}

// Server is a fake save server speaking the REST surface of remote.Client.
type Server struct {
	URL string

	mu         sync.Mutex
	saves      map[int64]*storedSave
	platforms  map[int64]int64
	nextID     int64
	clock      time.Time
	requests   int
	writes     int
	confirmed  []int64
	deleted    []int64
	failUpdate int
}

// NewServer starts a fake server closed with the test.
func NewServer(t *testing.T) *Server {
	t.Helper()
	s := &Server{
		saves:     make(map[int64]*storedSave),
		platforms: make(map[int64]int64),
		nextID:    1,
		clock:     ServerEpoch,
	}

	r := chi.NewRouter()
	r.Use(s.count)
	r.Get("/api/saves", s.list)
	r.Post("/api/saves", s.create)
	r.Delete("/api/saves", s.delete)
	r.Get("/api/saves/{id}", s.get)
	r.Put("/api/saves/{id}", s.update)
	r.Post("/api/saves/{id}/confirm", s.confirm)
	r.Get("/api/saves/{id}/content/{name}", s.content)

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	s.URL = srv.URL
	return s
}

// Seed stores a save directly. A zero ID is assigned; an empty UpdatedAt
// gets the next server time.
func (s *Server) Seed(meta models.RemoteSave, data []byte) models.RemoteSave {
	s.mu.Lock()
	defer s.mu.Unlock()
	if meta.ID == 0 {
		meta.ID = s.nextID
	}
	if meta.ID >= s.nextID {
		s.nextID = meta.ID + 1
	}
	if meta.UpdatedAt == "" {
		meta.UpdatedAt = s.tick()
	}
	s.saves[meta.ID] = &storedSave{meta: meta, data: append([]byte(nil), data...)}
	return meta
}

// SetPlatform maps a rom to a platform for platform listings.
func (s *Server) SetPlatform(romID, platformID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.platforms[romID] = platformID
}

// FailUpdates makes every PUT answer with status. Zero disables it.
func (s *Server) FailUpdates(status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failUpdate = status
}

// SetDeviceCurrent sets the is-current flag of a device on a save.
func (s *Server) SetDeviceCurrent(saveID int64, deviceID string, current bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok := s.saves[saveID]; ok {
		setDevice(&st.meta, deviceID, current)
	}
}

// Save returns a stored save and its content.
func (s *Server) Save(id int64) (models.RemoteSave, []byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.saves[id]
	if !ok {
		return models.RemoteSave{}, nil, false
	}
	return st.meta, append([]byte(nil), st.data...), true
}

// Saves returns every stored save ordered by id.
func (s *Server) Saves() []models.RemoteSave {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sorted(func(models.RemoteSave) bool { return true })
}

// Requests is the number of requests served.
func (s *Server) Requests() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.requests
}

// Writes is the number of successful creates and updates.
func (s *Server) Writes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writes
}

// Confirmed lists save ids confirmed by a device.
func (s *Server) Confirmed() []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]int64(nil), s.confirmed...)
}

// Deleted lists save ids removed through the API.
func (s *Server) Deleted() []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]int64(nil), s.deleted...)
}

func (s *Server) tick() string {
	ts := s.clock.Format(time.RFC3339)
	s.clock = s.clock.Add(time.Minute)
	return ts
}

func (s *Server) sorted(keep func(models.RemoteSave) bool) []models.RemoteSave {
	out := make([]models.RemoteSave, 0, len(s.saves))
	for _, st := range s.saves {
		if keep(st.meta) {
			out = append(out, st.meta)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *Server) count(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.requests++
		s.mu.Unlock()
		next.ServeHTTP(w, r)
	})
}

func (s *Server) list(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	s.mu.Lock()
	var out []models.RemoteSave
	switch {
	case q.Get("rom_id") != "":
		romID, _ := strconv.ParseInt(q.Get("rom_id"), 10, 64)
		out = s.sorted(func(m models.RemoteSave) bool { return m.RomID == romID })
	case q.Get("platform_id") != "":
		platformID, _ := strconv.ParseInt(q.Get("platform_id"), 10, 64)
		out = s.sorted(func(m models.RemoteSave) bool { return s.platforms[m.RomID] == platformID })
	default:
		out = s.sorted(func(models.RemoteSave) bool { return true })
	}
	s.mu.Unlock()
	writeJSON(w, out)
}

func (s *Server) get(w http.ResponseWriter, r *http.Request) {
	st, ok := s.lookup(r)
	if !ok {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	s.mu.Lock()
	meta := st.meta
	s.mu.Unlock()
	writeJSON(w, meta)
}

func (s *Server) create(w http.ResponseWriter, r *http.Request) {
	name, data, err := readUpload(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	q := r.URL.Query()
	romID, _ := strconv.ParseInt(q.Get("rom_id"), 10, 64)

	s.mu.Lock()
	meta := models.RemoteSave{
		ID:        s.nextID,
		RomID:     romID,
		FileName:  name,
		Emulator:  q.Get("emulator"),
		Slot:      q.Get("slot"),
		UpdatedAt: s.tick(),
	}
	s.nextID++
	if dev := q.Get("device_id"); dev != "" {
		setDevice(&meta, dev, true)
	}
	s.saves[meta.ID] = &storedSave{meta: meta, data: data}
	s.writes++
	s.mu.Unlock()
	writeJSON(w, meta)
}

func (s *Server) update(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	fail := s.failUpdate
	s.mu.Unlock()
	if fail != 0 {
		http.Error(w, "update rejected", fail)
		return
	}
	st, ok := s.lookup(r)
	if !ok {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	name, data, err := readUpload(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	st.meta.FileName = name
	st.meta.UpdatedAt = s.tick()
	st.data = data
	for i := range st.meta.DeviceSyncs {
		st.meta.DeviceSyncs[i].IsCurrent = false
	}
	if dev := r.URL.Query().Get("device_id"); dev != "" {
		setDevice(&st.meta, dev, true)
	}
	s.writes++
	meta := st.meta
	s.mu.Unlock()
	writeJSON(w, meta)
}

func (s *Server) delete(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Saves []int64 `json:"saves"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	s.mu.Lock()
	for _, id := range body.Saves {
		delete(s.saves, id)
		s.deleted = append(s.deleted, id)
	}
	s.mu.Unlock()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) confirm(w http.ResponseWriter, r *http.Request) {
	st, ok := s.lookup(r)
	if !ok {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	var body struct {
		DeviceID string `json:"device_id"`
	}
	json.NewDecoder(r.Body).Decode(&body)

	s.mu.Lock()
	setDevice(&st.meta, body.DeviceID, true)
	s.confirmed = append(s.confirmed, st.meta.ID)
	s.mu.Unlock()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) content(w http.ResponseWriter, r *http.Request) {
	st, ok := s.lookup(r)
	if !ok {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	s.mu.Lock()
	data := append([]byte(nil), st.data...)
	s.mu.Unlock()
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Write(data)
}

func (s *Server) lookup(r *http.Request) (*storedSave, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		return nil, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.saves[id]
	return st, ok
}

func readUpload(r *http.Request) (string, []byte, error) {
	file, header, err := r.FormFile("saveFile")
	if err != nil {
		return "", nil, fmt.Errorf("missing saveFile: %w", err)
	}
	defer file.Close()
	data, err := io.ReadAll(file)
	return header.Filename, data, err
}

func setDevice(meta *models.RemoteSave, deviceID string, current bool) {
	if deviceID == "" {
		return
	}
	for i := range meta.DeviceSyncs {
		if meta.DeviceSyncs[i].DeviceID == deviceID {
			meta.DeviceSyncs[i].IsCurrent = current
			return
		}
	}
	meta.DeviceSyncs = append(meta.DeviceSyncs, models.DeviceSync{DeviceID: deviceID, IsCurrent: current})
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}
