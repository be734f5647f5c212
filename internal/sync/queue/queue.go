// Package queue drives background save sync: it scans for local changes,
// queues them in the durable pending upload table, drains that table with
// exponential backoff and pulls saves the server flagged as newer.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/afero"

	apperrors "github.com/rommapp/argosy-launcher-sub002/internal/errors"
	"github.com/rommapp/argosy-launcher-sub002/internal/logging"
	"github.com/rommapp/argosy-launcher-sub002/internal/metrics"
	"github.com/rommapp/argosy-launcher-sub002/internal/models"
	"github.com/rommapp/argosy-launcher-sub002/internal/sync"
	"github.com/rommapp/argosy-launcher-sub002/internal/sync/remote"
	"github.com/rommapp/argosy-launcher-sub002/internal/uuid"
)

// DefaultMaxRetries is the number of failed attempts after which an entry
// stops being retried.
const DefaultMaxRetries = 3

// uploadPriority orders save uploads ahead of future lower priority work.
const uploadPriority = 10

// Engine is the part of sync.Engine the orchestrator drives.
type Engine interface {
	Configured() bool
	ResolveEmulator(ctx context.Context, game *models.Game, emulatorID string) string
	LocateLocalSave(ctx context.Context, gameID int64, emulatorID, channel string) (*sync.LocalSaveInfo, error)
	FindLatestServerSave(ctx context.Context, game *models.Game, emulatorID, channel string) (*models.RemoteSave, error)
	Upload(ctx context.Context, gameID int64, emulatorID string, opts sync.UploadOptions) sync.Result
	Download(ctx context.Context, gameID int64, emulatorID string, opts sync.DownloadOptions) sync.Result
}

// Repository is the queue table plus the records the orchestrator reads.
type Repository interface {
	GetGame(ctx context.Context, id int64) (*models.Game, error)
	ListDownloadedGames(ctx context.Context) ([]*models.Game, error)
	GetSyncRecord(ctx context.Context, gameID int64, emulatorID, channel string) (*models.SyncRecord, error)
	UpsertSyncRecord(ctx context.Context, rec *models.SyncRecord) error
	ListSyncRecordsByStatus(ctx context.Context, status models.SyncStatus) ([]*models.SyncRecord, error)

	ReplacePendingUpload(ctx context.Context, p *models.PendingUpload) error
	ListRetryablePendingUploads(ctx context.Context, syncType models.SyncType, now time.Time) ([]*models.PendingUpload, error)
	ListPendingUploads(ctx context.Context) ([]*models.PendingUpload, error)
	DeletePendingUpload(ctx context.Context, id string) error
	MarkPendingUploadFailed(ctx context.Context, id, lastError string, nextRetryAt time.Time) error
	ResetExhaustedPendingUploads(ctx context.Context, now time.Time) (int64, error)
	PendingUploadStats(ctx context.Context) (total, exhausted int, err error)
}

// HardcoreHandler receives downloads parked by a hardcore mismatch. It owns
// the parked file.
type HardcoreHandler func(ctx context.Context, pending sync.NeedsHardcoreResolution)

// Orchestrator runs queued sync work. Every transfer holds the game lock.
type Orchestrator struct {
	engine     Engine
	repo       Repository
	locks      *sync.LockManager
	fs         afero.Fs
	maxRetries int
	onHardcore HardcoreHandler
	now        func() time.Time
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithMaxRetries sets the retry limit of new entries.
func WithMaxRetries(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.maxRetries = n
		}
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// WithFs sets the file system parked downloads live on.
func WithFs(fs afero.Fs) Option {
	return func(o *Orchestrator) { o.fs = fs }
}

// WithHardcoreHandler routes parked downloads to h instead of discarding
// them.
func WithHardcoreHandler(h HardcoreHandler) Option {
	return func(o *Orchestrator) { o.onHardcore = h }
}

// NewOrchestrator creates a new Orchestrator.
func NewOrchestrator(engine Engine, repo Repository, locks *sync.LockManager, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		engine:     engine,
		repo:       repo,
		locks:      locks,
		fs:         afero.NewOsFs(),
		maxRetries: DefaultMaxRetries,
		now:        time.Now,
	}
	if o.locks == nil {
		o.locks = sync.NewLockManager()
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// QueueUpload queues the save of a game, replacing any queued entry for it.
func (o *Orchestrator) QueueUpload(ctx context.Context, gameID int64, emulatorID string) error {
	game, err := o.repo.GetGame(ctx, gameID)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrDatabase, "get game", err)
	}
	if game == nil {
		return apperrors.New(apperrors.ErrNotFound, fmt.Sprintf("game %d not found", gameID))
	}
	if !game.HasRemote() {
		return apperrors.New(apperrors.ErrInvalid, fmt.Sprintf("game %d is not linked to a server rom", gameID))
	}

	payload, err := json.Marshal(models.UploadPayload{EmulatorID: emulatorID})
	if err != nil {
		return err
	}
	now := o.now()
	entry := &models.PendingUpload{
		ID:          uuid.New(),
		GameID:      gameID,
		RemoteID:    game.RommID,
		SyncType:    models.SyncTypeSaveFile,
		Priority:    uploadPriority,
		Payload:     payload,
		MaxRetries:  o.maxRetries,
		NextRetryAt: now,
		CreatedAt:   now,
	}
	if err := o.repo.ReplacePendingUpload(ctx, entry); err != nil {
		return apperrors.Wrap(apperrors.ErrDatabase, "queue upload", err)
	}

	logging.Debug("Queued save upload", map[string]interface{}{
		"game_id":     gameID,
		"emulator_id": emulatorID,
		"entry_id":    entry.ID,
	})
	o.updateDepth(ctx)
	return nil
}

// ScanAndQueueLocalChanges queues every downloaded game whose local save
// changed after its last sync, or was never synced. It returns how many
// games were queued.
func (o *Orchestrator) ScanAndQueueLocalChanges(ctx context.Context) (int, error) {
	games, err := o.repo.ListDownloadedGames(ctx)
	if err != nil {
		return 0, apperrors.Wrap(apperrors.ErrDatabase, "list games", err)
	}

	queued := 0
	for _, game := range games {
		if err := ctx.Err(); err != nil {
			return queued, err
		}
		if !game.HasRemote() {
			continue
		}
		emu := o.engine.ResolveEmulator(ctx, game, "")
		if emu == "" {
			continue
		}
		info, err := o.engine.LocateLocalSave(ctx, game.ID, emu, "")
		if err != nil || info == nil || info.Path == "" {
			continue
		}

		rec, err := o.repo.GetSyncRecord(ctx, game.ID, emu, "")
		if err != nil {
			return queued, apperrors.Wrap(apperrors.ErrDatabase, "get sync record", err)
		}
		if rec != nil && rec.LastSyncedAt != nil && !info.Modified.After(*rec.LastSyncedAt) {
			continue
		}

		fields := map[string]interface{}{"game_id": game.ID, "emulator_id": emu, "local_time": info.Modified}
		if rec != nil && rec.LastSyncedAt != nil {
			fields["last_synced"] = *rec.LastSyncedAt
		}
		logging.Debug("Local save newer than last sync", fields)
		if err := o.QueueUpload(ctx, game.ID, emu); err != nil {
			return queued, err
		}
		queued++
	}

	logging.Info("Scanned local saves", map[string]interface{}{"games": len(games), "queued": queued})
	return queued, nil
}

// ProcessPendingUploads drains the retryable queue entries. Successful and
// pointless entries are removed, conflicts stay queued, failures are
// rescheduled with backoff. It returns how many uploads succeeded.
func (o *Orchestrator) ProcessPendingUploads(ctx context.Context) (int, error) {
	entries, err := o.repo.ListRetryablePendingUploads(ctx, models.SyncTypeSaveFile, o.now())
	if err != nil {
		return 0, apperrors.Wrap(apperrors.ErrDatabase, "list pending uploads", err)
	}
	if len(entries) == 0 {
		return 0, nil
	}
	logging.Info("Processing pending uploads", map[string]interface{}{"count": len(entries)})

	processed := 0
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return processed, err
		}
		outcome, err := o.processEntry(ctx, entry)
		if err != nil {
			return processed, err
		}
		metrics.QueueProcessed.WithLabelValues(outcome).Inc()
		if outcome == "success" {
			processed++
		}
	}

	o.updateDepth(ctx)
	logging.Info("Processed pending uploads", map[string]interface{}{"succeeded": processed, "total": len(entries)})
	return processed, nil
}

func (o *Orchestrator) processEntry(ctx context.Context, entry *models.PendingUpload) (string, error) {
	fields := map[string]interface{}{"game_id": entry.GameID, "entry_id": entry.ID, "retry": entry.RetryCount}

	payload, err := entry.DecodeUploadPayload()
	if err != nil {
		return "error", o.markFailed(ctx, entry, "invalid payload: "+err.Error())
	}
	fields["emulator_id"] = payload.EmulatorID

	var result sync.Result
	o.locks.WithGame(entry.GameID, func() {
		result = o.engine.Upload(ctx, entry.GameID, payload.EmulatorID, sync.UploadOptions{})
	})

	switch r := result.(type) {
	case sync.Success:
		return r.Outcome(), o.repo.DeletePendingUpload(ctx, entry.ID)
	case sync.NoSaveFound:
		logging.Debug("Queued save disappeared, dropping entry", fields)
		return r.Outcome(), o.repo.DeletePendingUpload(ctx, entry.ID)
	case sync.Conflict:
		logging.Info("Pending upload conflicts with server, leaving queued", fields)
		return r.Outcome(), nil
	case sync.Failure:
		return r.Outcome(), o.markFailed(ctx, entry, r.Message)
	case sync.NotConfigured, sync.NeedsHardcoreResolution:
		return r.Outcome(), nil
	default:
		return "unknown", nil
	}
}

func (o *Orchestrator) markFailed(ctx context.Context, entry *models.PendingUpload, message string) error {
	next := o.now().Add(calculateBackoff(entry.RetryCount + 1))
	logging.Warn("Pending upload failed", map[string]interface{}{
		"game_id":    entry.GameID,
		"entry_id":   entry.ID,
		"retry":      entry.RetryCount + 1,
		"max":        entry.MaxRetries,
		"next_retry": next,
		"error":      message,
	})
	if err := o.repo.MarkPendingUploadFailed(ctx, entry.ID, message, next); err != nil {
		return apperrors.Wrap(apperrors.ErrDatabase, "mark upload failed", err)
	}
	return nil
}

// DownloadPendingServerSaves downloads every record flagged SERVER_NEWER and
// returns how many succeeded. Failures are logged and skipped.
func (o *Orchestrator) DownloadPendingServerSaves(ctx context.Context) (int, error) {
	recs, err := o.repo.ListSyncRecordsByStatus(ctx, models.SyncStatusServerNewer)
	if err != nil {
		return 0, apperrors.Wrap(apperrors.ErrDatabase, "list server newer records", err)
	}

	downloaded := 0
	for _, rec := range recs {
		if err := ctx.Err(); err != nil {
			return downloaded, err
		}
		var result sync.Result
		o.locks.WithGame(rec.GameID, func() {
			result = o.engine.Download(ctx, rec.GameID, rec.EmulatorID, sync.DownloadOptions{Channel: rec.Channel})
		})
		if o.handleDownload(ctx, result) {
			downloaded++
		}
	}
	if len(recs) > 0 {
		logging.Info("Downloaded pending server saves", map[string]interface{}{"succeeded": downloaded, "total": len(recs)})
	}
	return downloaded, nil
}

// handleDownload reports whether a download succeeded and disposes of
// parked downloads.
func (o *Orchestrator) handleDownload(ctx context.Context, result sync.Result) bool {
	switch r := result.(type) {
	case sync.Success:
		return true
	case sync.NeedsHardcoreResolution:
		if o.onHardcore != nil {
			o.onHardcore(ctx, r)
			return false
		}
		logging.Warn("Discarding non-hardcore server save for hardcore game", map[string]interface{}{
			"game_id":     r.GameID,
			"emulator_id": r.EmulatorID,
			"channel":     r.Channel,
		})
		o.fs.RemoveAll(r.TempPath)
	}
	return false
}

// SyncSavesForNewDownload pulls the server's latest save for a freshly
// installed game, recording it as SERVER_NEWER first.
func (o *Orchestrator) SyncSavesForNewDownload(ctx context.Context, gameID, rommID int64, emulatorID string) error {
	if !o.engine.Configured() {
		return nil
	}
	game, err := o.repo.GetGame(ctx, gameID)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrDatabase, "get game", err)
	}
	if game == nil {
		return apperrors.New(apperrors.ErrNotFound, fmt.Sprintf("game %d not found", gameID))
	}
	if rommID > 0 {
		game.RommID = rommID
	}
	emu := o.engine.ResolveEmulator(ctx, game, emulatorID)
	if emu == "" {
		return apperrors.New(apperrors.ErrInvalid, "cannot determine emulator")
	}

	save, err := o.engine.FindLatestServerSave(ctx, game, emu, "")
	if err != nil {
		return err
	}
	if save == nil {
		logging.Debug("No server save for new download", map[string]interface{}{"game_id": gameID})
		return nil
	}

	serverTime := remote.ParseTimestamp(save.UpdatedAt)
	rec := &models.SyncRecord{
		GameID:          gameID,
		EmulatorID:      emu,
		RemoteSaveID:    save.ID,
		ServerUpdatedAt: &serverTime,
		Status:          models.SyncStatusServerNewer,
	}
	if err := o.repo.UpsertSyncRecord(ctx, rec); err != nil {
		return apperrors.Wrap(apperrors.ErrDatabase, "record server save", err)
	}

	var result sync.Result
	o.locks.WithGame(gameID, func() {
		result = o.engine.Download(ctx, gameID, emu, sync.DownloadOptions{SkipBackup: true})
	})
	if f, ok := result.(sync.Failure); ok {
		return apperrors.Wrap(apperrors.ErrSyncFailed, "download save for new game", f)
	}
	o.handleDownload(ctx, result)
	return nil
}

// Stats summarizes the queue.
type Stats struct {
	Pending int `json:"pending"`
	Failed  int `json:"failed"`
	Total   int `json:"total"`
}

// Stats returns queue statistics. Failed entries have exhausted their
// retries.
func (o *Orchestrator) Stats(ctx context.Context) (Stats, error) {
	total, exhausted, err := o.repo.PendingUploadStats(ctx)
	if err != nil {
		return Stats{}, apperrors.Wrap(apperrors.ErrDatabase, "queue stats", err)
	}
	return Stats{Pending: total - exhausted, Failed: exhausted, Total: total}, nil
}

// List returns every queued entry.
func (o *Orchestrator) List(ctx context.Context) ([]*models.PendingUpload, error) {
	return o.repo.ListPendingUploads(ctx)
}

// RetryAll resets all failed entries for an immediate retry.
func (o *Orchestrator) RetryAll(ctx context.Context) (int64, error) {
	n, err := o.repo.ResetExhaustedPendingUploads(ctx, o.now())
	if err != nil {
		return 0, apperrors.Wrap(apperrors.ErrDatabase, "reset failed uploads", err)
	}
	if n > 0 {
		logging.Info("Reset failed uploads for retry", map[string]interface{}{"count": n})
	}
	return n, nil
}

func (o *Orchestrator) updateDepth(ctx context.Context) {
	if total, _, err := o.repo.PendingUploadStats(ctx); err == nil {
		metrics.QueueDepth.Set(float64(total))
	}
}

// calculateBackoff calculates exponential backoff delay.
// Formula: 2^retry_count * 60s, capped at 1 hour.
func calculateBackoff(retryCount int) time.Duration {
	if retryCount > 6 {
		return time.Hour
	}
	backoff := time.Duration(int64(1)<<uint(retryCount)) * time.Minute
	if backoff > time.Hour {
		backoff = time.Hour
	}
	return backoff
}
