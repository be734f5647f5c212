// Package sync implements the save synchronization engine: uploads and
// downloads against the save server with content-hash dedup, channel naming,
// conflict detection and hardcore provenance checks.
package sync

import (
	"context"
	"strings"
	"time"

	"github.com/spf13/afero"

	"github.com/rommapp/argosy-launcher-sub002/internal/logging"
	"github.com/rommapp/argosy-launcher-sub002/internal/models"
	"github.com/rommapp/argosy-launcher-sub002/internal/sync/archive"
	"github.com/rommapp/argosy-launcher-sub002/internal/sync/format"
)

// Engine executes upload and download transactions. It does not serialize
// callers: work on one game must be guarded with LockManager.GameLock.
type Engine struct {
	fs               afero.Fs
	repo             Repository
	remote           RemoteAPI
	snapshots        Snapshots
	formats          *format.Registry
	paths            PathResolver
	platformDefaults map[string]string
	now              func() time.Time
}

// Deps are the collaborators of an Engine. Remote may be nil when no server
// is configured; every transfer then returns NotConfigured.
type Deps struct {
	Fs        afero.Fs
	Repo      Repository
	Remote    RemoteAPI
	Snapshots Snapshots
	Formats   *format.Registry
	Paths     PathResolver
	// PlatformDefaults maps a platform slug to its default emulator id.
	PlatformDefaults map[string]string
	Now              func() time.Time
}

// NewEngine creates a new Engine.
func NewEngine(d Deps) *Engine {
	e := &Engine{
		fs:               d.Fs,
		repo:             d.Repo,
		remote:           d.Remote,
		snapshots:        d.Snapshots,
		formats:          d.Formats,
		paths:            d.Paths,
		platformDefaults: d.PlatformDefaults,
		now:              d.Now,
	}
	if e.fs == nil {
		e.fs = afero.NewOsFs()
	}
	if e.formats == nil {
		e.formats = format.NewRegistry(e.fs)
	}
	if e.now == nil {
		e.now = time.Now
	}
	return e
}

// Configured reports whether a save server is available.
func (e *Engine) Configured() bool {
	return e.remote != nil
}

// Remote returns the save server client, or nil.
func (e *Engine) Remote() RemoteAPI {
	return e.remote
}

// Formats returns the format registry.
func (e *Engine) Formats() *format.Registry {
	return e.formats
}

// Paths returns the path resolver.
func (e *Engine) Paths() PathResolver {
	return e.paths
}

// ResolveEmulator returns the effective emulator id for a game: the explicit
// id unless blank or "default", then the game override, then the platform
// mapping, then the configured platform default. "" means unresolvable.
func (e *Engine) ResolveEmulator(ctx context.Context, game *models.Game, emulatorID string) string {
	if id := strings.TrimSpace(emulatorID); id != "" && !strings.EqualFold(id, "default") {
		return id
	}
	if game == nil {
		return ""
	}
	if game.EmulatorID != "" {
		return game.EmulatorID
	}
	if id, err := e.repo.PlatformEmulator(ctx, game.PlatformSlug); err == nil && id != "" {
		return id
	}
	if id := e.platformDefaults[strings.ToLower(game.PlatformSlug)]; id != "" {
		return id
	}
	logging.Warn("Cannot resolve emulator", map[string]interface{}{
		"game_id":  game.ID,
		"platform": game.PlatformSlug,
	})
	return ""
}

func pathQuery(game *models.Game, emulatorID, channel string) PathQuery {
	return PathQuery{
		GameID:       game.ID,
		EmulatorID:   emulatorID,
		PlatformSlug: game.PlatformSlug,
		Title:        game.Title,
		RomPath:      game.RomPath,
		TitleID:      game.TitleID,
		Channel:      channel,
	}
}

// resolveLocalSave finds the existing local save: the cached record path
// first, then the resolver, retried once with its cache invalidated when a
// title hint exists.
func (e *Engine) resolveLocalSave(ctx context.Context, game *models.Game, emulatorID, channel string, rec *models.SyncRecord) (string, error) {
	if rec != nil && rec.LocalSavePath != "" {
		if exists, _ := afero.Exists(e.fs, rec.LocalSavePath); exists {
			return rec.LocalSavePath, nil
		}
	}
	if e.paths == nil {
		return "", nil
	}

	q := pathQuery(game, emulatorID, channel)
	path, err := e.paths.Resolve(ctx, q)
	if err != nil {
		return "", err
	}
	if path == "" && game.TitleID != "" {
		logging.Debug("Save path not found, retrying without cache", map[string]interface{}{
			"game_id":     game.ID,
			"emulator_id": emulatorID,
		})
		e.paths.Invalidate(q)
		path, err = e.paths.Resolve(ctx, q)
	}
	return path, err
}

// localModified returns the save mtime; folders report their newest file.
func (e *Engine) localModified(path string) time.Time {
	ms, err := archive.ModTime(e.fs, path)
	if err != nil || ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}

// LocalSaveInfo is the on-disk state of a game's save.
type LocalSaveInfo struct {
	Path       string
	EmulatorID string
	Modified   time.Time
	Size       int64
}

// LocateLocalSave resolves the local save of a game without touching the
// server. Path is "" when no save exists.
func (e *Engine) LocateLocalSave(ctx context.Context, gameID int64, emulatorID, channel string) (*LocalSaveInfo, error) {
	game, err := e.repo.GetGame(ctx, gameID)
	if err != nil || game == nil {
		return nil, err
	}
	emu := e.ResolveEmulator(ctx, game, emulatorID)
	if emu == "" {
		return &LocalSaveInfo{}, nil
	}
	rec, err := e.repo.GetSyncRecord(ctx, gameID, emu, channel)
	if err != nil {
		return nil, err
	}
	path, err := e.resolveLocalSave(ctx, game, emu, channel, rec)
	if err != nil || path == "" {
		return &LocalSaveInfo{EmulatorID: emu}, err
	}
	size, _ := archive.Size(e.fs, path)
	return &LocalSaveInfo{Path: path, EmulatorID: emu, Modified: e.localModified(path), Size: size}, nil
}

func ctxFields(gameID int64, emulatorID, channel string) map[string]interface{} {
	return map[string]interface{}{
		"game_id":     gameID,
		"emulator_id": emulatorID,
		"channel":     channel,
	}
}

func timePtr(t time.Time) *time.Time {
	return &t
}
