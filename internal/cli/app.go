package cli

import (
	"context"

	"github.com/spf13/afero"

	"github.com/rommapp/argosy-launcher-sub002/internal/config"
	"github.com/rommapp/argosy-launcher-sub002/internal/db"
	"github.com/rommapp/argosy-launcher-sub002/internal/logging"
	"github.com/rommapp/argosy-launcher-sub002/internal/pathresolve"
	"github.com/rommapp/argosy-launcher-sub002/internal/sync"
	"github.com/rommapp/argosy-launcher-sub002/internal/sync/conflict"
	"github.com/rommapp/argosy-launcher-sub002/internal/sync/format"
	"github.com/rommapp/argosy-launcher-sub002/internal/sync/queue"
	"github.com/rommapp/argosy-launcher-sub002/internal/sync/remote"
	"github.com/rommapp/argosy-launcher-sub002/internal/sync/storage"
)

// app is the wired sync stack shared by all commands of one invocation.
type app struct {
	cfg      *config.Config
	db       *db.DB
	repo     *db.Repository
	fs       afero.Fs
	locks    *sync.LockManager
	cache    *storage.SnapshotCache
	engine   *sync.Engine
	resolver *conflict.Resolver
	orch     *queue.Orchestrator
}

// newApp opens the database and wires the engine from cfg.
func newApp(cfg *config.Config, fs afero.Fs) (*app, error) {
	database, err := db.Open(cfg.DataDir)
	if err != nil {
		return nil, err
	}
	repo := db.NewRepository(database.DB)

	formats := format.NewRegistry(fs)
	cfg.RegisterProfiles(formats)

	deps := sync.Deps{
		Fs:               fs,
		Repo:             repo,
		Formats:          formats,
		Paths:            pathresolve.New(fs, cfg.SaveRoot, pathresolve.WithTemplates(cfg.PathTemplates())),
		PlatformDefaults: cfg.PlatformDefaults,
	}
	if cfg.ServerConfigured() {
		deps.Remote = remote.NewClient(cfg.RemoteConfig())
	}
	cache := storage.NewSnapshotCache(fs, repo, cfg.SnapshotDir, cfg.Snapshots.Limit)
	deps.Snapshots = cache
	engine := sync.NewEngine(deps)

	a := &app{
		cfg:    cfg,
		db:     database,
		repo:   repo,
		fs:     fs,
		locks:  sync.NewLockManager(),
		cache:  cache,
		engine: engine,
	}
	a.resolver = conflict.NewResolver(fs, engine, repo, cache)
	a.orch = queue.NewOrchestrator(engine, repo, a.locks,
		queue.WithFs(fs),
		queue.WithMaxRetries(cfg.Sync.MaxRetries),
		queue.WithHardcoreHandler(a.parkHardcore))

	logging.Debug("Sync stack ready", map[string]interface{}{
		"data_dir":          cfg.DataDir,
		"server_configured": cfg.ServerConfigured(),
	})
	return a, nil
}

// parkHardcore leaves background hardcore mismatches for the user: the
// parked file is kept and its location logged for resolve-hardcore.
func (a *app) parkHardcore(_ context.Context, p sync.NeedsHardcoreResolution) {
	logging.Warn("Server save needs hardcore resolution", map[string]interface{}{
		"game_id":     p.GameID,
		"emulator_id": p.EmulatorID,
		"channel":     p.Channel,
		"temp_path":   p.TempPath,
		"target_path": p.TargetPath,
	})
}

func (a *app) Close() error {
	a.repo.Close()
	return a.db.Close()
}
