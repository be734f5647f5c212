package sync

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/afero"

	"github.com/rommapp/argosy-launcher-sub002/internal/logging"
	"github.com/rommapp/argosy-launcher-sub002/internal/metrics"
	"github.com/rommapp/argosy-launcher-sub002/internal/models"
	"github.com/rommapp/argosy-launcher-sub002/internal/sync/archive"
	"github.com/rommapp/argosy-launcher-sub002/internal/sync/format"
	"github.com/rommapp/argosy-launcher-sub002/internal/sync/remote"
)

// UploadOptions tune an upload. Channel "" is the default channel.
type UploadOptions struct {
	Channel string
	// Force skips conflict checks and asks the server to overwrite.
	Force bool
	// Hardcore marks the uploaded artifact with the hardcore trailer.
	Hardcore bool
	// Session is the current play session, if any.
	Session *Session
}

// Upload sends the local save of a game to the server.
func (e *Engine) Upload(ctx context.Context, gameID int64, emulatorID string, opts UploadOptions) Result {
	result := e.upload(ctx, gameID, emulatorID, opts)
	metrics.UploadsTotal.WithLabelValues(result.Outcome()).Inc()

	fields := ctxFields(gameID, emulatorID, opts.Channel)
	fields["outcome"] = result.Outcome()
	if f, ok := result.(Failure); ok {
		logging.Error("Upload failed", f, fields)
	} else {
		logging.Info("Upload finished", fields)
	}
	return result
}

func (e *Engine) upload(ctx context.Context, gameID int64, emulatorID string, opts UploadOptions) Result {
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
	if !game.HasRemote() {
		return failf("game %d is not linked to a server rom", gameID)
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

	localPath, err := e.resolveLocalSave(ctx, game, emu, channel, rec)
	if err != nil {
		return failure("resolve save path", err)
	}
	if localPath == "" {
		logging.Debug("No local save to upload", fields)
		return NoSaveFound{}
	}
	if exists, _ := afero.Exists(e.fs, localPath); !exists {
		return NoSaveFound{}
	}
	localModified := e.localModified(localPath)

	handler, profile := e.formats.Lookup(emu, game.PlatformSlug)
	saveCtx := format.SaveContext{
		GameID:       gameID,
		EmulatorID:   emu,
		PlatformSlug: game.PlatformSlug,
		LocalPath:    localPath,
		RomBase:      game.RomBaseName(),
		TitleID:      game.TitleID,
	}
	artifact, err := handler.PrepareForUpload(ctx, saveCtx)
	if err != nil {
		return failure("prepare save", err)
	}
	if artifact == nil {
		logging.Debug("Format handler found nothing to upload", fields)
		return NoSaveFound{}
	}
	if artifact.Temporary {
		defer e.fs.Remove(artifact.Path)
	}

	info, err := e.fs.Stat(artifact.Path)
	if err != nil {
		return failure("stat prepared save", err)
	}
	if info.Size() <= MinValidSaveSize {
		fields["size"] = info.Size()
		logging.Warn("Rejecting empty save", fields)
		return NoSaveFound{}
	}

	uploadPath := artifact.Path
	if opts.Hardcore {
		if !artifact.Temporary {
			tmp, err := e.copyToTemp(artifact.Path)
			if err != nil {
				return failure("copy save for hardcore marker", err)
			}
			defer e.fs.Remove(tmp)
			uploadPath = tmp
		}
		if err := archive.AppendHardcoreTrailer(e.fs, uploadPath); err != nil {
			return failure("append hardcore marker", err)
		}
	}

	hash, err := archive.DigestFile(e.fs, uploadPath)
	if err != nil {
		return failure("digest save", err)
	}
	// A forced upload must reach the server even when this device already
	// sent the same bytes: another device may have replaced them since.
	if !opts.Force && rec != nil && rec.LastUploadedHash == hash {
		logging.Debug("Upload skipped, content unchanged", fields)
		return Success{RemoteSaveID: rec.RemoteSaveID, Skipped: true}
	}

	saves, err := e.remote.ListByRom(ctx, game.RommID)
	if err != nil {
		return failure("list server saves", err)
	}
	romBase := game.RomBaseName()
	latest := selectLatestSave(saves, channel, romBase, profile.IsBundle())
	existing := selectExistingSave(saves, channel, romBase, profile.IsBundle())

	serverTime := func() time.Time {
		if latest != nil {
			return remote.ParseTimestamp(latest.UpdatedAt)
		}
		return e.now()
	}

	if !opts.Force {
		if channel != "" && e.remote.DeviceID() != "" && opts.Session.StartedOnOlderSave() {
			logging.Warn("Session started on an older save", fields)
			return Conflict{GameID: gameID, LocalTimestamp: localModified, ServerTimestamp: serverTime()}
		}
		if channel == "" && latest != nil {
			st := serverTime()
			if st.After(localModified) {
				fields["server_time"] = st
				fields["local_time"] = localModified
				logging.Info("Server save is newer, blocking upload", fields)
				return Conflict{GameID: gameID, LocalTimestamp: localModified, ServerTimestamp: st}
			}
		}
	}

	migrating := existing != nil && profile.IsLegacyBundleName(existing.FileName)
	if migrating {
		if err := e.remote.Delete(ctx, []int64{existing.ID}); err != nil {
			fields["remote_save_id"] = existing.ID
			fields["error"] = err.Error()
			logging.Warn("Failed to delete legacy single-file save", fields)
		}
	}

	var updateID int64
	switch {
	case migrating, channel != "":
	case len(saves) > 0:
		if existing != nil {
			updateID = existing.ID
		}
	case rec != nil:
		updateID = rec.RemoteSaveID
	}

	req := remote.UploadRequest{
		RomID:       game.RommID,
		Emulator:    emu,
		SaveID:      updateID,
		FileName:    UploadFileName(channel, romBase, artifact.Ext),
		Slot:        channel,
		Overwrite:   opts.Force,
		Autocleanup: channel != "",
	}
	saved, err := e.send(ctx, uploadPath, req)
	if err != nil && updateID > 0 && !remote.IsConflict(err) {
		fields["status"] = remote.StatusCode(err)
		logging.Debug("Update failed, retrying as new upload", fields)
		req.SaveID = 0
		saved, err = e.send(ctx, uploadPath, req)
	}
	if remote.IsConflict(err) {
		logging.Info("Server rejected upload, device is out of sync", fields)
		return Conflict{GameID: gameID, LocalTimestamp: localModified, ServerTimestamp: serverTime()}
	}
	if err != nil {
		return failure("upload failed", err)
	}

	serverTs := remote.ParseTimestamp(saved.UpdatedAt)
	updated := &models.SyncRecord{
		GameID:           gameID,
		EmulatorID:       emu,
		Channel:          channel,
		LocalSavePath:    localPath,
		LocalUpdatedAt:   timePtr(serverTs),
		RemoteSaveID:     saved.ID,
		ServerUpdatedAt:  timePtr(serverTs),
		LastSyncedAt:     timePtr(e.now()),
		Status:           models.SyncStatusSynced,
		LastUploadedHash: hash,
	}
	if err := e.repo.UpsertSyncRecord(ctx, updated); err != nil {
		return failure("record upload", err)
	}

	return Success{RemoteSaveID: saved.ID, ServerTimestamp: serverTs}
}

func (e *Engine) send(ctx context.Context, path string, req remote.UploadRequest) (*models.RemoteSave, error) {
	f, err := e.fs.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	req.Content = f
	return e.remote.Upload(ctx, req)
}

// copyToTemp copies a file to a fresh temp path keeping its extension.
func (e *Engine) copyToTemp(src string) (string, error) {
	tmp, err := archive.TempPath(e.fs, "upload-*"+filepath.Ext(src))
	if err != nil {
		return "", err
	}
	in, err := e.fs.Open(src)
	if err != nil {
		return "", err
	}
	defer in.Close()
	out, err := e.fs.OpenFile(tmp, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0644)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		e.fs.Remove(tmp)
		return "", err
	}
	return tmp, out.Close()
}
