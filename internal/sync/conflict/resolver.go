// Package conflict decides what to do with a game's save before launch and
// resolves hardcore mismatches left by downloads.
package conflict

import (
	"context"
	"time"

	"github.com/spf13/afero"

	"github.com/rommapp/argosy-launcher-sub002/internal/logging"
	"github.com/rommapp/argosy-launcher-sub002/internal/metrics"
	"github.com/rommapp/argosy-launcher-sub002/internal/models"
	"github.com/rommapp/argosy-launcher-sub002/internal/sync"
	"github.com/rommapp/argosy-launcher-sub002/internal/sync/remote"
)

// Engine is the part of sync.Engine the resolver drives.
type Engine interface {
	Configured() bool
	Remote() sync.RemoteAPI
	ResolveEmulator(ctx context.Context, game *models.Game, emulatorID string) string
	LocateLocalSave(ctx context.Context, gameID int64, emulatorID, channel string) (*sync.LocalSaveInfo, error)
	FindLatestServerSave(ctx context.Context, game *models.Game, emulatorID, channel string) (*models.RemoteSave, error)
	Upload(ctx context.Context, gameID int64, emulatorID string, opts sync.UploadOptions) sync.Result
	ApplyParkedDownload(ctx context.Context, p sync.NeedsHardcoreResolution, skipBackup bool) sync.Result
}

// Repository is the persistence the resolver reads and writes.
type Repository interface {
	GetGame(ctx context.Context, id int64) (*models.Game, error)
	GetSyncRecord(ctx context.Context, gameID int64, emulatorID, channel string) (*models.SyncRecord, error)
	UpsertSyncRecord(ctx context.Context, rec *models.SyncRecord) error
}

// Snapshots is the snapshot history the resolver compares against.
type Snapshots interface {
	MostRecentInChannel(ctx context.Context, gameID int64, channel string) (*models.Snapshot, error)
	LatestCasualInChannel(ctx context.Context, gameID int64, channel string) (*models.Snapshot, error)
	LatestHardcore(ctx context.Context, gameID int64) (*models.Snapshot, error)
	FindByHash(ctx context.Context, gameID int64, hash string) (*models.Snapshot, error)
	LocalSaveHash(path string) (string, error)
	DowngradeHardcore(ctx context.Context, gameID int64) error
}

// Resolver handles pre-launch decisions and hardcore mismatches.
type Resolver struct {
	fs        afero.Fs
	engine    Engine
	repo      Repository
	snapshots Snapshots
}

// NewResolver creates a new Resolver.
func NewResolver(fs afero.Fs, engine Engine, repo Repository, snapshots Snapshots) *Resolver {
	return &Resolver{fs: fs, engine: engine, repo: repo, snapshots: snapshots}
}

// localState is what is known about the local save of a channel.
type localState struct {
	path string
	// time is the newer of the file mtime and the recorded local update.
	time time.Time
	hash string
}

// PreLaunch decides whether the server save should be pulled before a game
// starts. Lookup failures are reported as NoConnection.
func (r *Resolver) PreLaunch(ctx context.Context, gameID int64, emulatorID string) Decision {
	d := r.preLaunch(ctx, gameID, emulatorID)
	metrics.PreLaunchDecisions.WithLabelValues(d.Outcome()).Inc()
	return d
}

func (r *Resolver) preLaunch(ctx context.Context, gameID int64, emulatorID string) Decision {
	fields := map[string]interface{}{"game_id": gameID}
	if !r.engine.Configured() {
		logging.Debug("Pre-launch check skipped, no server", fields)
		return NoConnection{}
	}

	game, err := r.repo.GetGame(ctx, gameID)
	if err != nil {
		logging.Error("Pre-launch check failed", err, fields)
		return NoConnection{}
	}
	if game == nil || !game.HasRemote() {
		return NoServerSave{}
	}
	emu := r.engine.ResolveEmulator(ctx, game, emulatorID)
	if emu == "" {
		return NoServerSave{}
	}
	channel := game.ActiveChannel
	fields["emulator_id"] = emu
	fields["channel"] = channel

	save, err := r.engine.FindLatestServerSave(ctx, game, emu, channel)
	if err != nil {
		fields["error"] = err.Error()
		logging.Warn("Pre-launch check could not list server saves", fields)
		return NoConnection{}
	}
	if save == nil {
		logging.Debug("No server save for channel", fields)
		return NoServerSave{}
	}
	serverTime := remote.ParseTimestamp(save.UpdatedAt)

	existing, err := r.repo.GetSyncRecord(ctx, gameID, emu, channel)
	if err != nil {
		logging.Error("Pre-launch check failed", err, fields)
		return NoConnection{}
	}
	local := r.localState(ctx, gameID, emu, channel, existing)
	fields["server_time"] = serverTime
	fields["local_time"] = local.time

	deviceID := r.engine.Remote().DeviceID()
	if deviceID == "" && local.path != "" && local.hash != "" {
		if r.untracked(ctx, gameID, channel, local.hash) {
			logging.Info("Local save differs from snapshot history", fields)
			return LocalModified{LocalPath: local.path, ServerTimestamp: serverTime, Channel: channel}
		}
	}

	if deviceID != "" {
		if current, tracked := save.DeviceStatus(deviceID); tracked {
			if current {
				logging.Debug("Device holds the current save", fields)
				return LocalIsNewer{}
			}
			if r.diverged(ctx, gameID, channel, existing, local) {
				logging.Info("Device is behind and local save diverged", fields)
				return LocalModified{LocalPath: local.path, ServerTimestamp: serverTime, Channel: channel}
			}
			return r.serverIsNewer(ctx, game, emu, channel, existing, save, serverTime, fields)
		}
	}

	if local.path != "" && !local.time.IsZero() && !serverTime.After(local.time) {
		logging.Debug("Local save is newer or equal", fields)
		return LocalIsNewer{}
	}
	return r.serverIsNewer(ctx, game, emu, channel, existing, save, serverTime, fields)
}

func (r *Resolver) serverIsNewer(ctx context.Context, game *models.Game, emu, channel string, existing *models.SyncRecord, save *models.RemoteSave, serverTime time.Time, fields map[string]interface{}) Decision {
	rec := existing
	if rec == nil {
		rec = &models.SyncRecord{GameID: game.ID, EmulatorID: emu, Channel: channel}
	}
	rec.RemoteSaveID = save.ID
	rec.ServerUpdatedAt = &serverTime
	rec.Status = models.SyncStatusServerNewer
	if err := r.repo.UpsertSyncRecord(ctx, rec); err != nil {
		logging.Error("Failed to flag server save", err, fields)
		return NoConnection{}
	}
	logging.Info("Server save is newer", fields)
	return ServerIsNewer{ServerTimestamp: serverTime, Channel: channel}
}

func (r *Resolver) localState(ctx context.Context, gameID int64, emu, channel string, rec *models.SyncRecord) localState {
	info, err := r.engine.LocateLocalSave(ctx, gameID, emu, channel)
	if err != nil || info == nil || info.Path == "" {
		return localState{}
	}
	st := localState{path: info.Path, time: info.Modified}
	if rec != nil && rec.LocalUpdatedAt != nil && rec.LocalUpdatedAt.After(st.time) {
		st.time = *rec.LocalUpdatedAt
	}
	st.hash, _ = r.snapshots.LocalSaveHash(info.Path)
	return st
}

// untracked reports whether a local save matches nothing in the snapshot
// history of the game. A named channel compares against its newest snapshot;
// the default channel accepts any snapshot of the game, so a restored older
// snapshot still counts as tracked.
func (r *Resolver) untracked(ctx context.Context, gameID int64, channel, hash string) bool {
	if channel != "" {
		recent, err := r.snapshots.MostRecentInChannel(ctx, gameID, channel)
		if err != nil {
			return false
		}
		if recent != nil {
			return recent.ContentHash != hash
		}
	}
	match, err := r.snapshots.FindByHash(ctx, gameID, hash)
	return err == nil && match == nil
}

// diverged reports whether the local save moved away from the last state
// this device shared with the server.
func (r *Resolver) diverged(ctx context.Context, gameID int64, channel string, rec *models.SyncRecord, local localState) bool {
	if local.hash == "" {
		return false
	}
	if hc, err := r.snapshots.LatestHardcore(ctx, gameID); err == nil && hc != nil && hc.ContentHash == local.hash {
		return false
	}
	if rec != nil && rec.LastUploadedHash != "" {
		return rec.LastUploadedHash != local.hash
	}
	if channel == "" {
		return false
	}
	latest, err := r.snapshots.LatestCasualInChannel(ctx, gameID, channel)
	return err == nil && latest != nil && latest.ContentHash != local.hash
}

// CheckForConflict reports a divergence between the local save of a channel
// and the server: the server is newer and the local content is not what this
// device last uploaded. It returns nil when there is nothing to resolve.
func (r *Resolver) CheckForConflict(ctx context.Context, gameID int64, emulatorID, channel string) (*models.ConflictInfo, error) {
	if !r.engine.Configured() {
		return nil, nil
	}
	game, err := r.repo.GetGame(ctx, gameID)
	if err != nil || game == nil || !game.HasRemote() {
		return nil, err
	}
	emu := r.engine.ResolveEmulator(ctx, game, emulatorID)
	if emu == "" {
		return nil, nil
	}

	info, err := r.engine.LocateLocalSave(ctx, gameID, emu, channel)
	if err != nil || info == nil || info.Path == "" {
		return nil, err
	}
	save, err := r.engine.FindLatestServerSave(ctx, game, emu, channel)
	if err != nil || save == nil {
		return nil, err
	}
	serverTime := remote.ParseTimestamp(save.UpdatedAt)

	rec, err := r.repo.GetSyncRecord(ctx, gameID, emu, channel)
	if err != nil {
		return nil, err
	}
	localHash, _ := r.snapshots.LocalSaveHash(info.Path)
	if rec != nil && rec.LastUploadedHash != "" && rec.LastUploadedHash == localHash {
		return nil, nil
	}

	serverNewer := serverTime.After(info.Modified)
	if deviceID := r.engine.Remote().DeviceID(); deviceID != "" {
		if current, tracked := save.DeviceStatus(deviceID); tracked {
			serverNewer = !current
		}
	}
	if !serverNewer {
		return nil, nil
	}

	conflict := &models.ConflictInfo{
		GameID:          gameID,
		LocalTimestamp:  info.Modified,
		ServerTimestamp: serverTime,
		IsHashConflict:  rec != nil && rec.LastUploadedHash != "" && localHash != "",
	}
	logging.Warn("Save conflict detected", map[string]interface{}{
		"game_id":       gameID,
		"emulator_id":   emu,
		"channel":       channel,
		"local_time":    conflict.LocalTimestamp,
		"server_time":   conflict.ServerTimestamp,
		"hash_conflict": conflict.IsHashConflict,
	})
	return conflict, nil
}

// ResolveHardcore applies the user's choice to a parked download. The parked
// file is always removed.
func (r *Resolver) ResolveHardcore(ctx context.Context, pending sync.NeedsHardcoreResolution, choice Choice) sync.Result {
	defer r.fs.RemoveAll(pending.TempPath)

	fields := map[string]interface{}{
		"game_id":     pending.GameID,
		"emulator_id": pending.EmulatorID,
		"channel":     pending.Channel,
		"choice":      string(choice),
	}

	var result sync.Result
	switch choice {
	case KeepHardcore:
		logging.Info("Keeping hardcore save, overwriting server", fields)
		result = r.engine.Upload(ctx, pending.GameID, pending.EmulatorID, sync.UploadOptions{
			Channel:  pending.Channel,
			Force:    true,
			Hardcore: true,
		})
	case DowngradeToCasual:
		logging.Info("Downgrading to casual save", fields)
		result = r.engine.ApplyParkedDownload(ctx, pending, false)
		if _, ok := result.(sync.Success); ok {
			if err := r.snapshots.DowngradeHardcore(ctx, pending.GameID); err != nil {
				logging.Error("Failed to clear hardcore snapshot flag", err, fields)
			}
		}
	case KeepLocal:
		logging.Info("Keeping local save, discarding download", fields)
		result = sync.Success{}
	default:
		return sync.Failure{Message: ErrUnknownChoice.Message + " " + string(choice), Err: ErrUnknownChoice}
	}

	metrics.HardcoreResolutions.WithLabelValues(string(choice)).Inc()
	return result
}
