package sync

import (
	"context"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/afero"

	apperrors "github.com/rommapp/argosy-launcher-sub002/internal/errors"
	"github.com/rommapp/argosy-launcher-sub002/internal/logging"
	"github.com/rommapp/argosy-launcher-sub002/internal/metrics"
	"github.com/rommapp/argosy-launcher-sub002/internal/models"
	"github.com/rommapp/argosy-launcher-sub002/internal/sync/archive"
	"github.com/rommapp/argosy-launcher-sub002/internal/sync/format"
	"github.com/rommapp/argosy-launcher-sub002/internal/sync/remote"
	"github.com/rommapp/argosy-launcher-sub002/internal/sync/storage"
)

// DownloadOptions tune a download. Channel "" is the default channel.
type DownloadOptions struct {
	Channel string
	// SkipBackup skips snapshotting the existing local save before it is
	// overwritten.
	SkipBackup bool
}

// Download fetches the server save tracked for a game and writes it into
// place. A device holding a hardcore save never has it overwritten by a
// non-hardcore download; NeedsHardcoreResolution is returned instead.
func (e *Engine) Download(ctx context.Context, gameID int64, emulatorID string, opts DownloadOptions) Result {
	result := e.download(ctx, gameID, emulatorID, opts)
	metrics.DownloadsTotal.WithLabelValues(result.Outcome()).Inc()

	fields := ctxFields(gameID, emulatorID, opts.Channel)
	fields["outcome"] = result.Outcome()
	if f, ok := result.(Failure); ok {
		logging.Error("Download failed", f, fields)
	} else {
		logging.Info("Download finished", fields)
	}
	return result
}

func (e *Engine) download(ctx context.Context, gameID int64, emulatorID string, opts DownloadOptions) Result {
	if e.remote == nil {
		return NotConfigured{}
	}
	channel := opts.Channel

	game, err := e.repo.GetGame(ctx, gameID)
	if err != nil {
		return failure("load game", err)
	}
	if game == nil {
		return failf("game %d not found", gameID)
	}
	emu := e.ResolveEmulator(ctx, game, emulatorID)
	if emu == "" {
		return failf("Cannot determine emulator")
	}
	fields := ctxFields(gameID, emu, channel)

	rec, err := e.repo.GetSyncRecord(ctx, gameID, emu, channel)
	if err != nil {
		return failure("load sync record", err)
	}
	if rec == nil {
		return failf("no save tracking found")
	}
	if !rec.HasRemote() {
		return failf("no server save id")
	}

	save, err := e.remote.Get(ctx, rec.RemoteSaveID)
	if err != nil {
		if remote.IsNotFound(err) {
			return failf("save %d not found on server", rec.RemoteSaveID)
		}
		return failure("get save info", err)
	}

	handler, profile := e.formats.Lookup(emu, game.PlatformSlug)
	folderBased := profile.FolderBased() && strings.HasSuffix(strings.ToLower(save.FileName), ".zip")

	target, err := e.downloadTarget(ctx, game, emu, channel, rec, handler, save.FileName)
	if err != nil {
		return failure("resolve save path", err)
	}
	if target == "" {
		return failf("Cannot determine save path")
	}
	fields["target"] = target

	tmp, err := archive.TempPath(e.fs, "download-*"+save.Ext())
	if err != nil {
		return failure("create temp file", err)
	}
	parked := false
	defer func() {
		if !parked {
			e.fs.Remove(tmp)
		}
	}()

	if err := e.fetch(ctx, save, tmp); err != nil {
		return failure("download failed", err)
	}

	hasHardcore, err := e.snapshots.HasHardcore(ctx, gameID)
	if err != nil {
		return failure("check hardcore snapshot", err)
	}
	marked, err := archive.FileHasHardcoreTrailer(e.fs, tmp)
	if err != nil {
		return failure("check hardcore marker", err)
	}
	if hasHardcore && !marked {
		logging.Warn("Server save lacks hardcore marker, resolution required", fields)
		parked = true
		return NeedsHardcoreResolution{
			GameID:      gameID,
			GameTitle:   game.Title,
			EmulatorID:  emu,
			Channel:     channel,
			TempPath:    tmp,
			TargetPath:  target,
			FolderBased: folderBased,
		}
	}

	return e.apply(ctx, game, emu, channel, handler, applyRequest{
		TempPath:   tmp,
		TargetPath: target,
		Remote:     save,
		SkipBackup: opts.SkipBackup,
		Hardcore:   marked,
	})
}

// fetch streams a server save into path.
func (e *Engine) fetch(ctx context.Context, save *models.RemoteSave, path string) error {
	f, err := e.fs.Create(path)
	if err != nil {
		return err
	}
	if _, err := e.remote.Download(ctx, save, f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// downloadTarget decides where a downloaded save is written: the recorded
// path, the resolved existing save, or a new path in the save directory.
func (e *Engine) downloadTarget(ctx context.Context, game *models.Game, emu, channel string, rec *models.SyncRecord, handler format.Handler, remoteFileName string) (string, error) {
	if rec != nil && rec.LocalSavePath != "" {
		return rec.LocalSavePath, nil
	}
	path, err := e.resolveLocalSave(ctx, game, emu, channel, nil)
	if err != nil || path != "" || e.paths == nil {
		return path, err
	}

	dir, err := e.paths.SaveDir(ctx, pathQuery(game, emu, channel))
	if err != nil || dir == "" {
		return "", err
	}
	saveCtx := format.SaveContext{
		GameID:       game.ID,
		EmulatorID:   emu,
		PlatformSlug: game.PlatformSlug,
		RomBase:      game.RomBaseName(),
		TitleID:      game.TitleID,
	}
	return filepath.Join(dir, handler.TargetName(saveCtx, remoteFileName)), nil
}

type applyRequest struct {
	TempPath   string
	TargetPath string
	Remote     *models.RemoteSave
	SkipBackup bool
	// Hardcore is set when the downloaded artifact carried the marker.
	Hardcore bool
}

// apply backs up the current save, writes the downloaded artifact over it,
// records the sync and snapshots the result.
func (e *Engine) apply(ctx context.Context, game *models.Game, emu, channel string, handler format.Handler, req applyRequest) Result {
	fields := ctxFields(game.ID, emu, channel)
	fields["target"] = req.TargetPath

	if exists, _ := afero.Exists(e.fs, req.TargetPath); exists && !req.SkipBackup {
		_, err := e.snapshots.Create(ctx, storage.CreateRequest{GameID: game.ID, EmulatorID: emu, Path: req.TargetPath})
		if err != nil {
			logging.ErrorWithCode("Backup failed, aborting download", string(apperrors.ErrBackupFailed), err, fields)
			return failure("Failed to backup existing save before overwrite", apperrors.Wrap(apperrors.ErrBackupFailed, "backup", err))
		}
	}

	data, err := archive.ReadWithoutTrailer(e.fs, req.TempPath)
	if err != nil {
		return failure("read downloaded save", err)
	}
	saveCtx := format.SaveContext{
		GameID:       game.ID,
		EmulatorID:   emu,
		PlatformSlug: game.PlatformSlug,
		LocalPath:    req.TargetPath,
		RomBase:      game.RomBaseName(),
		TitleID:      game.TitleID,
	}
	if err := handler.ExtractDownload(ctx, data, saveCtx); err != nil {
		return failure("write save", err)
	}

	hash := e.artifactDigest(ctx, handler, saveCtx)
	now := e.now()
	var serverTs time.Time
	var remoteID int64
	if req.Remote != nil {
		serverTs = remote.ParseTimestamp(req.Remote.UpdatedAt)
		remoteID = req.Remote.ID
	}

	rec, err := e.repo.GetSyncRecord(ctx, game.ID, emu, channel)
	if err != nil {
		return failure("load sync record", err)
	}
	if rec == nil {
		rec = &models.SyncRecord{GameID: game.ID, EmulatorID: emu, Channel: channel}
	}
	rec.LocalSavePath = req.TargetPath
	rec.LocalUpdatedAt = timePtr(now)
	rec.LastSyncedAt = timePtr(now)
	rec.Status = models.SyncStatusSynced
	rec.LastUploadedHash = hash
	if remoteID > 0 {
		rec.RemoteSaveID = remoteID
		rec.ServerUpdatedAt = timePtr(serverTs)
	}
	if err := e.repo.UpsertSyncRecord(ctx, rec); err != nil {
		return failure("record download", err)
	}

	romBase := game.RomBaseName()
	isLatest := channel == "" || strings.EqualFold(channel, DefaultSaveName) ||
		(romBase != "" && strings.EqualFold(channel, romBase))
	snap := storage.CreateRequest{GameID: game.ID, EmulatorID: emu, Path: req.TargetPath, Hardcore: req.Hardcore && isLatest}
	if !isLatest {
		snap.Channel = channel
		snap.Locked = true
	}
	if _, err := e.snapshots.Create(ctx, snap); err != nil {
		logging.Error("Snapshot of downloaded save failed", err, fields)
	}

	if remoteID > 0 && e.remote != nil && e.remote.DeviceID() != "" {
		e.ConfirmDeviceSynced(ctx, remoteID)
	}

	return Success{RemoteSaveID: remoteID, ServerTimestamp: serverTs}
}

// ApplyParkedDownload writes a download parked by NeedsHardcoreResolution
// into its target. The parked file is left for the caller to remove.
func (e *Engine) ApplyParkedDownload(ctx context.Context, p NeedsHardcoreResolution, skipBackup bool) Result {
	game, err := e.repo.GetGame(ctx, p.GameID)
	if err != nil {
		return failure("load game", err)
	}
	if game == nil {
		return failf("game %d not found", p.GameID)
	}
	handler, _ := e.formats.Lookup(p.EmulatorID, game.PlatformSlug)

	var save *models.RemoteSave
	if rec, err := e.repo.GetSyncRecord(ctx, p.GameID, p.EmulatorID, p.Channel); err == nil && rec != nil && rec.HasRemote() && e.remote != nil {
		if s, err := e.remote.Get(ctx, rec.RemoteSaveID); err == nil {
			save = s
		}
	}

	return e.apply(ctx, game, p.EmulatorID, p.Channel, handler, applyRequest{
		TempPath:   p.TempPath,
		TargetPath: p.TargetPath,
		Remote:     save,
		SkipBackup: skipBackup,
	})
}

// artifactDigest digests save the way a casual upload would, through the
// artifact the format handler prepares for it.
func (e *Engine) artifactDigest(ctx context.Context, handler format.Handler, save format.SaveContext) string {
	artifact, err := handler.PrepareForUpload(ctx, save)
	if err != nil || artifact == nil {
		hash, _ := archive.DigestPath(e.fs, save.LocalPath)
		return hash
	}
	if artifact.Temporary {
		defer e.fs.Remove(artifact.Path)
	}
	hash, _ := archive.DigestFile(e.fs, artifact.Path)
	return hash
}
