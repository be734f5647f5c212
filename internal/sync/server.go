package sync

import (
	"context"
	"strings"
	"time"

	apperrors "github.com/rommapp/argosy-launcher-sub002/internal/errors"
	"github.com/rommapp/argosy-launcher-sub002/internal/logging"
	"github.com/rommapp/argosy-launcher-sub002/internal/models"
	"github.com/rommapp/argosy-launcher-sub002/internal/sync/remote"
)

// CheckForServerUpdates refreshes the sync records of every local game on a
// platform from the server listing and returns the records now flagged
// SERVER_NEWER.
func (e *Engine) CheckForServerUpdates(ctx context.Context, platformID int64) ([]*models.SyncRecord, error) {
	if e.remote == nil {
		return nil, apperrors.New(apperrors.ErrSyncNotConfigured, "save server not configured")
	}
	saves, err := e.remote.ListByPlatform(ctx, platformID)
	if err != nil {
		return nil, err
	}

	games := make(map[int64][]*models.Game)
	var newer []*models.SyncRecord
	for i := range saves {
		save := &saves[i]
		list, ok := games[save.RomID]
		if !ok {
			list, err = e.repo.ListGamesByRommID(ctx, save.RomID)
			if err != nil {
				return newer, err
			}
			games[save.RomID] = list
		}
		for _, game := range list {
			rec, err := e.applyServerSave(ctx, game, save)
			if err != nil {
				return newer, err
			}
			if rec != nil && rec.Status == models.SyncStatusServerNewer {
				newer = append(newer, rec)
			}
		}
	}

	logging.Debug("Checked server for updates", map[string]interface{}{
		"platform_id":  platformID,
		"server_saves": len(saves),
		"newer":        len(newer),
	})
	return newer, nil
}

// CheckAllServerUpdates runs CheckForServerUpdates for every platform with a
// local game. A failing platform is logged and skipped.
func (e *Engine) CheckAllServerUpdates(ctx context.Context) ([]*models.SyncRecord, error) {
	ids, err := e.repo.ListPlatformIDs(ctx)
	if err != nil {
		return nil, err
	}
	var all []*models.SyncRecord
	for _, id := range ids {
		recs, err := e.CheckForServerUpdates(ctx, id)
		if err != nil {
			logging.Error("Server update check failed", err, map[string]interface{}{"platform_id": id})
			continue
		}
		all = append(all, recs...)
	}
	return all, nil
}

// applyServerSave records one server save against a local game. It returns
// nil when the save maps to no channel or is not newer than what is known.
func (e *Engine) applyServerSave(ctx context.Context, game *models.Game, save *models.RemoteSave) (*models.SyncRecord, error) {
	emu := save.Emulator
	if strings.TrimSpace(emu) == "" || strings.EqualFold(emu, "default") {
		emu = e.ResolveEmulator(ctx, game, "")
	}
	if emu == "" {
		return nil, nil
	}
	channel, ok := ChannelForFileName(save.FileName, game.RomBaseName())
	if !ok {
		return nil, nil
	}

	serverTime := remote.ParseTimestamp(save.UpdatedAt)
	existing, err := e.repo.GetSyncRecord(ctx, game.ID, emu, channel)
	if err != nil {
		return nil, err
	}
	if existing != nil && existing.ServerUpdatedAt != nil && !serverTime.After(*existing.ServerUpdatedAt) {
		return nil, nil
	}

	rec := existing
	if rec == nil {
		rec = &models.SyncRecord{GameID: game.ID, EmulatorID: emu, Channel: channel}
	}
	rec.RemoteSaveID = save.ID
	rec.ServerUpdatedAt = timePtr(serverTime)
	rec.Status = determineSyncStatus(rec.LocalUpdatedAt, serverTime)
	if err := e.repo.UpsertSyncRecord(ctx, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

func determineSyncStatus(local *time.Time, server time.Time) models.SyncStatus {
	switch {
	case local == nil:
		return models.SyncStatusServerNewer
	case server.After(*local):
		return models.SyncStatusServerNewer
	case local.After(server):
		return models.SyncStatusLocalNewer
	default:
		return models.SyncStatusSynced
	}
}

// ConfirmDeviceSynced tells the server this device holds the latest revision
// of a save. Failures are logged, not returned.
func (e *Engine) ConfirmDeviceSynced(ctx context.Context, remoteID int64) {
	if e.remote == nil || remoteID <= 0 {
		return
	}
	if err := e.remote.Confirm(ctx, remoteID); err != nil {
		logging.Warn("Device sync confirmation failed", map[string]interface{}{
			"remote_save_id": remoteID,
			"error":          err.Error(),
		})
	}
}

// DeleteServerSaves removes saves from the server in one batch.
func (e *Engine) DeleteServerSaves(ctx context.Context, ids []int64) error {
	if e.remote == nil {
		return apperrors.New(apperrors.ErrSyncNotConfigured, "save server not configured")
	}
	return e.remote.Delete(ctx, ids)
}

// FindLatestServerSave returns the newest server save of a game's channel
// that belongs to the emulator, or nil.
func (e *Engine) FindLatestServerSave(ctx context.Context, game *models.Game, emulatorID, channel string) (*models.RemoteSave, error) {
	if e.remote == nil {
		return nil, apperrors.New(apperrors.ErrSyncNotConfigured, "save server not configured")
	}
	saves, err := e.remote.ListByRom(ctx, game.RommID)
	if err != nil {
		return nil, err
	}
	matching := saves[:0:0]
	for _, s := range saves {
		if s.MatchesEmulator(emulatorID) {
			matching = append(matching, s)
		}
	}
	profile := e.formats.Profile(emulatorID, game.PlatformSlug)
	return selectLatestSave(matching, channel, game.RomBaseName(), profile.IsBundle()), nil
}
