package savetest

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	stdsync "sync"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"

	"github.com/rommapp/argosy-launcher-sub002/internal/db"
	"github.com/rommapp/argosy-launcher-sub002/internal/models"
	"github.com/rommapp/argosy-launcher-sub002/internal/sync"
	"github.com/rommapp/argosy-launcher-sub002/internal/sync/format"
	"github.com/rommapp/argosy-launcher-sub002/internal/sync/remote"
	"github.com/rommapp/argosy-launcher-sub002/internal/sync/storage"
)

// CacheRoot is where Env keeps snapshots.
const CacheRoot = "/cache"

// Options configure NewEnv.
type Options struct {
	DeviceID string
	// Offline builds the engine without a save server.
	Offline       bool
	SnapshotLimit int
}

// Env is an engine wired to sqlite, an in-memory file system, a real
// snapshot cache and a fake save server.
type Env struct {
	Fs      afero.Fs
	Repo    *db.Repository
	Cache   *storage.SnapshotCache
	Server  *Server
	Client  *remote.Client
	Paths   *Paths
	Formats *format.Registry
	Engine  *sync.Engine
}

// NewEnv builds an Env closed with the test.
func NewEnv(t *testing.T, opts Options) *Env {
	t.Helper()
	database, err := db.Open(t.TempDir())
	require.NoError(t, err)
	repo := db.NewRepository(database.DB)
	t.Cleanup(func() {
		repo.Close()
		database.Close()
	})

	limit := opts.SnapshotLimit
	if limit == 0 {
		limit = storage.DefaultLimit
	}
	fs := afero.NewMemMapFs()
	env := &Env{
		Fs:      fs,
		Repo:    repo,
		Cache:   storage.NewSnapshotCache(fs, repo, CacheRoot, limit),
		Paths:   NewPaths(fs),
		Formats: format.NewRegistry(fs),
	}
	if !opts.Offline {
		env.Server = NewServer(t)
		env.Client = remote.NewClient(&remote.Config{BaseURL: env.Server.URL, DeviceID: opts.DeviceID},
			remote.WithRetryPolicy(remote.RetryPolicy{Attempts: 3, InitialDelay: time.Millisecond, Multiplier: 2}))
	}
	env.Engine = sync.NewEngine(env.Deps())
	return env
}

// Deps returns the collaborators of the engine so tests can swap one.
func (e *Env) Deps() sync.Deps {
	d := sync.Deps{
		Fs:        e.Fs,
		Repo:      e.Repo,
		Snapshots: e.Cache,
		Formats:   e.Formats,
		Paths:     e.Paths,
	}
	if e.Client != nil {
		d.Remote = e.Client
	}
	return d
}

// AddGame stores a catalog entry.
func (e *Env) AddGame(t *testing.T, g models.Game) *models.Game {
	t.Helper()
	require.NoError(t, e.Repo.UpsertGame(context.Background(), &g))
	return &g
}

// WriteSave writes a local save file and sets its mtime.
func (e *Env) WriteSave(t *testing.T, path string, data []byte, mtime time.Time) {
	t.Helper()
	require.NoError(t, e.Fs.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, afero.WriteFile(e.Fs, path, data, 0644))
	if !mtime.IsZero() {
		require.NoError(t, e.Fs.Chtimes(path, mtime, mtime))
	}
}

// ReadFile reads a file from the environment's file system.
func (e *Env) ReadFile(t *testing.T, path string) []byte {
	t.Helper()
	data, err := afero.ReadFile(e.Fs, path)
	require.NoError(t, err)
	return data
}

// Bytes returns n bytes filled with a repeating pattern derived from seed.
func Bytes(seed string, n int) []byte {
	out := make([]byte, n)
	for i := range out {
		out[i] = seed[i%len(seed)]
	}
	return out
}

// Paths is a PathResolver backed by explicit registrations. Saves for
// unregistered games are looked up as <dir>/<emulator>/<rom base>.srm.
type Paths struct {
	fs  afero.Fs
	Dir string

	mu          stdsync.Mutex
	paths       map[string]string
	invalidated int
}

// NewPaths creates a resolver rooted at /saves.
func NewPaths(fs afero.Fs) *Paths {
	return &Paths{fs: fs, Dir: "/saves", paths: make(map[string]string)}
}

func pathKey(gameID int64, emulatorID, channel string) string {
	return fmt.Sprintf("%d/%s/%s", gameID, strings.ToLower(emulatorID), channel)
}

// Set registers the save path of a game.
func (p *Paths) Set(gameID int64, emulatorID, channel, path string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.paths[pathKey(gameID, emulatorID, channel)] = path
}

// Invalidations is the number of Invalidate calls.
func (p *Paths) Invalidations() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.invalidated
}

func (p *Paths) Resolve(_ context.Context, q sync.PathQuery) (string, error) {
	p.mu.Lock()
	path, ok := p.paths[pathKey(q.GameID, q.EmulatorID, q.Channel)]
	p.mu.Unlock()
	if !ok {
		base := strings.TrimSuffix(filepath.Base(q.RomPath), filepath.Ext(q.RomPath))
		if base == "" || base == "." {
			return "", nil
		}
		path = filepath.Join(p.Dir, q.EmulatorID, base+".srm")
	}
	if exists, _ := afero.Exists(p.fs, path); !exists {
		return "", nil
	}
	return path, nil
}

func (p *Paths) SaveDir(_ context.Context, q sync.PathQuery) (string, error) {
	return filepath.Join(p.Dir, q.EmulatorID), nil
}

func (p *Paths) Invalidate(sync.PathQuery) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.invalidated++
}
