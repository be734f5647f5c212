// Package storage provides the local snapshot cache: timestamped,
// digest-deduplicated copies of saves with locking and retention pruning.
package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/spf13/afero"

	apperrors "github.com/rommapp/argosy-launcher-sub002/internal/errors"
	"github.com/rommapp/argosy-launcher-sub002/internal/logging"
	"github.com/rommapp/argosy-launcher-sub002/internal/metrics"
	"github.com/rommapp/argosy-launcher-sub002/internal/models"
	"github.com/rommapp/argosy-launcher-sub002/internal/sync/archive"
	"github.com/rommapp/argosy-launcher-sub002/internal/uuid"
)

const (
	// DefaultLimit is the retention count used when none is configured.
	DefaultLimit = 10
	// unlockedHeadroom unlocked snapshots always survive pruning on top of
	// the locked ones.
	unlockedHeadroom = 5

	folderSnapshotName = "save.zip"
	timestampLayout    = "20060102_150405.000"
)

// SnapshotRepository is the persistence the cache needs.
type SnapshotRepository interface {
	InsertSnapshot(ctx context.Context, s *models.Snapshot) error
	ReplaceHardcoreSnapshot(ctx context.Context, s *models.Snapshot) (*models.Snapshot, error)
	GetSnapshot(ctx context.Context, id string) (*models.Snapshot, error)
	ListSnapshots(ctx context.Context, gameID int64) ([]*models.Snapshot, error)
	ListAllSnapshots(ctx context.Context) ([]*models.Snapshot, error)
	FindSnapshotByHash(ctx context.Context, gameID int64, hash string) (*models.Snapshot, error)
	FindSnapshotInSlot(ctx context.Context, gameID int64, channel string, hardcore bool, hash string) (*models.Snapshot, error)
	HardcoreSnapshot(ctx context.Context, gameID int64) (*models.Snapshot, error)
	LatestCasualSnapshotInChannel(ctx context.Context, gameID int64, channel string) (*models.Snapshot, error)
	MostRecentSnapshotInChannel(ctx context.Context, gameID int64, channel string) (*models.Snapshot, error)
	CountSnapshots(ctx context.Context, gameID int64) (total, locked int, err error)
	OldestPrunableSnapshots(ctx context.Context, gameID int64, limit int) ([]*models.Snapshot, error)
	DeleteSnapshot(ctx context.Context, id string) error
	DeleteSnapshotsForGame(ctx context.Context, gameID int64) (int64, error)
	SetSnapshotLocked(ctx context.Context, id string, locked bool) error
	SetSnapshotNote(ctx context.Context, id, note string) error
	ClearHardcoreFlag(ctx context.Context, gameID int64) (int64, error)
}

// CreateStatus is the outcome of Create.
type CreateStatus string

const (
	StatusCreated   CreateStatus = "created"
	StatusDuplicate CreateStatus = "duplicate"
	StatusFailed    CreateStatus = "failed"
)

// CreateRequest describes a save to snapshot.
type CreateRequest struct {
	GameID     int64
	EmulatorID string
	// Path is the save file or save folder.
	Path       string
	Channel    string
	Locked     bool
	Hardcore   bool
	CheatsUsed bool
	Note       string
}

// CreateResult reports what Create did. Snapshot is the stored snapshot for
// StatusCreated and the existing match for StatusDuplicate.
type CreateResult struct {
	Status   CreateStatus
	Snapshot *models.Snapshot
}

// SnapshotCache stores snapshots under root as gameId/timestamp/filename.
type SnapshotCache struct {
	fs    afero.Fs
	repo  SnapshotRepository
	root  string
	limit int
	now   func() time.Time
}

// Option configures a SnapshotCache.
type Option func(*SnapshotCache)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(c *SnapshotCache) { c.now = now }
}

// NewSnapshotCache creates a cache rooted at root keeping limit snapshots per
// game before pruning.
func NewSnapshotCache(fs afero.Fs, repo SnapshotRepository, root string, limit int, opts ...Option) *SnapshotCache {
	if limit <= 0 {
		limit = DefaultLimit
	}
	c := &SnapshotCache{fs: fs, repo: repo, root: root, limit: limit, now: time.Now}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Root returns the cache directory.
func (c *SnapshotCache) Root() string {
	return c.root
}

// Limit returns the configured retention count.
func (c *SnapshotCache) Limit() int {
	return c.limit
}

// AbsPath returns the on-disk path of a snapshot.
func (c *SnapshotCache) AbsPath(s *models.Snapshot) string {
	return filepath.Join(c.root, filepath.FromSlash(s.Path))
}

// Create snapshots the save at req.Path. A snapshot already holding the same
// digest in the same slot yields StatusDuplicate without touching disk. A
// hardcore snapshot replaces the game's previous hardcore snapshot.
func (c *SnapshotCache) Create(ctx context.Context, req CreateRequest) (CreateResult, error) {
	result, err := c.create(ctx, req)
	if err != nil {
		metrics.SnapshotsCreated.WithLabelValues(string(StatusFailed)).Inc()
		logging.Error("Snapshot create failed", err, map[string]interface{}{
			"game_id": req.GameID, "channel": req.Channel, "hardcore": req.Hardcore,
		})
		return CreateResult{Status: StatusFailed}, err
	}
	metrics.SnapshotsCreated.WithLabelValues(string(result.Status)).Inc()
	return result, nil
}

func (c *SnapshotCache) create(ctx context.Context, req CreateRequest) (CreateResult, error) {
	info, err := c.fs.Stat(req.Path)
	if err != nil {
		return CreateResult{}, apperrors.Wrap(apperrors.ErrNoSaveFound, "snapshot source missing", err)
	}

	src := req.Path
	fileName := filepath.Base(req.Path)
	if info.IsDir() {
		tmp, err := archive.TempPath(c.fs, "snapshot-*.zip")
		if err != nil {
			return CreateResult{}, err
		}
		defer c.fs.Remove(tmp)
		if err := archive.ZipFolder(c.fs, req.Path, tmp); err != nil {
			return CreateResult{}, apperrors.Wrap(apperrors.ErrSnapshotFailed, "archive save folder", err)
		}
		src = tmp
		fileName = folderSnapshotName
	}

	hash, err := archive.DigestFile(c.fs, src)
	if err != nil {
		return CreateResult{}, apperrors.Wrap(apperrors.ErrSnapshotFailed, "digest save", err)
	}

	existing, err := c.repo.FindSnapshotInSlot(ctx, req.GameID, req.Channel, req.Hardcore, hash)
	if err != nil {
		return CreateResult{}, apperrors.Wrap(apperrors.ErrDatabase, "find duplicate snapshot", err)
	}
	if existing != nil {
		logging.Debug("Snapshot unchanged, skipping", map[string]interface{}{
			"game_id": req.GameID, "snapshot_id": existing.ID, "hash": hash,
		})
		return CreateResult{Status: StatusDuplicate, Snapshot: existing}, nil
	}

	snap, err := c.store(ctx, req, src, fileName, hash)
	if err != nil {
		return CreateResult{}, err
	}

	if _, err := c.Prune(ctx, req.GameID); err != nil {
		logging.Warn("Snapshot prune failed", map[string]interface{}{"game_id": req.GameID, "error": err.Error()})
	}
	return CreateResult{Status: StatusCreated, Snapshot: snap}, nil
}

// store copies src into the cache and records it.
func (c *SnapshotCache) store(ctx context.Context, req CreateRequest, src, fileName, hash string) (*models.Snapshot, error) {
	id := uuid.New()
	created := c.now()

	relDir, err := c.reserveDir(req.GameID, created, id)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrSnapshotFailed, "create snapshot directory", err)
	}
	rel := filepath.ToSlash(filepath.Join(relDir, fileName))
	dst := filepath.Join(c.root, relDir, fileName)

	if err := copyFile(c.fs, src, dst); err != nil {
		c.fs.RemoveAll(filepath.Join(c.root, relDir))
		return nil, apperrors.Wrap(apperrors.ErrSnapshotFailed, "copy save into cache", err)
	}
	if req.Hardcore {
		if err := archive.AppendHardcoreTrailer(c.fs, dst); err != nil {
			c.fs.RemoveAll(filepath.Join(c.root, relDir))
			return nil, apperrors.Wrap(apperrors.ErrSnapshotFailed, "mark hardcore snapshot", err)
		}
	}
	stat, err := c.fs.Stat(dst)
	if err != nil {
		c.fs.RemoveAll(filepath.Join(c.root, relDir))
		return nil, err
	}

	snap := &models.Snapshot{
		ID:          id,
		GameID:      req.GameID,
		EmulatorID:  req.EmulatorID,
		CreatedAt:   created,
		Size:        stat.Size(),
		Path:        rel,
		ContentHash: hash,
		Channel:     req.Channel,
		Locked:      req.Locked || req.Note != "",
		Hardcore:    req.Hardcore,
		CheatsUsed:  req.CheatsUsed,
		Note:        req.Note,
	}

	if req.Hardcore {
		previous, err := c.repo.ReplaceHardcoreSnapshot(ctx, snap)
		if err != nil {
			c.fs.RemoveAll(filepath.Join(c.root, relDir))
			return nil, apperrors.Wrap(apperrors.ErrDatabase, "record hardcore snapshot", err)
		}
		if previous != nil {
			c.removeFiles(previous)
			logging.Info("Replaced hardcore snapshot", map[string]interface{}{
				"game_id": req.GameID, "previous_id": previous.ID, "snapshot_id": snap.ID,
			})
		}
	} else if err := c.repo.InsertSnapshot(ctx, snap); err != nil {
		c.fs.RemoveAll(filepath.Join(c.root, relDir))
		return nil, apperrors.Wrap(apperrors.ErrDatabase, "record snapshot", err)
	}

	logging.Info("Snapshot created", map[string]interface{}{
		"game_id": req.GameID, "snapshot_id": snap.ID, "channel": req.Channel,
		"hardcore": req.Hardcore, "size": snap.Size,
	})
	return snap, nil
}

// reserveDir creates gameId/timestamp, adding the id prefix when two
// snapshots land in the same millisecond.
func (c *SnapshotCache) reserveDir(gameID int64, created time.Time, id string) (string, error) {
	rel := filepath.Join(strconv.FormatInt(gameID, 10), created.UTC().Format(timestampLayout))
	if exists, _ := afero.Exists(c.fs, filepath.Join(c.root, rel)); exists {
		rel += "_" + uuid.Short(id)
	}
	return rel, c.fs.MkdirAll(filepath.Join(c.root, rel), 0755)
}

// Prune deletes the oldest unlocked casual snapshots of a game until at most
// max(limit, locked+5) remain, and returns how many were deleted.
func (c *SnapshotCache) Prune(ctx context.Context, gameID int64) (int, error) {
	total, locked, err := c.repo.CountSnapshots(ctx, gameID)
	if err != nil {
		return 0, apperrors.Wrap(apperrors.ErrDatabase, "count snapshots", err)
	}

	effective := c.limit
	if locked+unlockedHeadroom > effective {
		effective = locked + unlockedHeadroom
	}
	if total <= effective {
		return 0, nil
	}

	victims, err := c.repo.OldestPrunableSnapshots(ctx, gameID, total-effective)
	if err != nil {
		return 0, apperrors.Wrap(apperrors.ErrDatabase, "list prunable snapshots", err)
	}

	deleted := 0
	for _, s := range victims {
		if err := c.repo.DeleteSnapshot(ctx, s.ID); err != nil {
			return deleted, apperrors.Wrap(apperrors.ErrDatabase, "delete snapshot", err)
		}
		c.removeFiles(s)
		deleted++
	}

	metrics.SnapshotsPruned.Add(float64(deleted))
	logging.Info("Pruned snapshots", map[string]interface{}{
		"game_id": gameID, "deleted": deleted, "effective_limit": effective, "locked": locked,
	})
	return deleted, nil
}

// Restore writes a snapshot back to target, unpacking folder snapshots and
// stripping the hardcore trailer.
func (c *SnapshotCache) Restore(ctx context.Context, id, target string) error {
	snap, err := c.repo.GetSnapshot(ctx, id)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrDatabase, "get snapshot", err)
	}
	if snap == nil {
		return apperrors.New(apperrors.ErrNotFound, "snapshot "+id+" not found")
	}

	data, err := archive.ReadWithoutTrailer(c.fs, c.AbsPath(snap))
	if err != nil {
		return apperrors.Wrap(apperrors.ErrSnapshotFailed, "read snapshot", err)
	}

	if archive.IsZipName(snap.Path) {
		if err := archive.ExtractFolder(c.fs, data, target); err != nil {
			return err
		}
	} else {
		if err := c.fs.MkdirAll(filepath.Dir(target), 0755); err != nil {
			return err
		}
		if err := afero.WriteFile(c.fs, target, data, 0644); err != nil {
			return apperrors.Wrap(apperrors.ErrSnapshotFailed, "write restored save", err)
		}
	}

	logging.Info("Snapshot restored", map[string]interface{}{
		"game_id": snap.GameID, "snapshot_id": id, "target": target,
	})
	return nil
}

// Delete removes one snapshot and its files.
func (c *SnapshotCache) Delete(ctx context.Context, id string) error {
	snap, err := c.repo.GetSnapshot(ctx, id)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrDatabase, "get snapshot", err)
	}
	if snap == nil {
		return apperrors.New(apperrors.ErrNotFound, "snapshot "+id+" not found")
	}
	if err := c.repo.DeleteSnapshot(ctx, id); err != nil {
		return apperrors.Wrap(apperrors.ErrDatabase, "delete snapshot", err)
	}
	c.removeFiles(snap)
	return nil
}

// DeleteAllForGame removes every snapshot of a game.
func (c *SnapshotCache) DeleteAllForGame(ctx context.Context, gameID int64) (int64, error) {
	n, err := c.repo.DeleteSnapshotsForGame(ctx, gameID)
	if err != nil {
		return 0, apperrors.Wrap(apperrors.ErrDatabase, "delete game snapshots", err)
	}
	if err := c.fs.RemoveAll(filepath.Join(c.root, strconv.FormatInt(gameID, 10))); err != nil {
		return n, err
	}
	return n, nil
}

// CopyToChannel stores a locked casual copy of a snapshot bound to channel.
func (c *SnapshotCache) CopyToChannel(ctx context.Context, id, channel string) (*models.Snapshot, error) {
	snap, err := c.repo.GetSnapshot(ctx, id)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrDatabase, "get snapshot", err)
	}
	if snap == nil {
		return nil, apperrors.New(apperrors.ErrNotFound, "snapshot "+id+" not found")
	}

	data, err := archive.ReadWithoutTrailer(c.fs, c.AbsPath(snap))
	if err != nil {
		return nil, err
	}
	tmp, err := archive.TempPath(c.fs, "snapshot-copy-*")
	if err != nil {
		return nil, err
	}
	defer c.fs.Remove(tmp)
	if err := afero.WriteFile(c.fs, tmp, data, 0644); err != nil {
		return nil, err
	}

	req := CreateRequest{GameID: snap.GameID, EmulatorID: snap.EmulatorID, Channel: channel, Locked: true}
	return c.store(ctx, req, tmp, filepath.Base(snap.Path), archive.Sum(data))
}

// SetLocked sets or clears the lock flag.
func (c *SnapshotCache) SetLocked(ctx context.Context, id string, locked bool) error {
	return c.repo.SetSnapshotLocked(ctx, id, locked)
}

// SetNote sets a note; a non-empty note locks the snapshot.
func (c *SnapshotCache) SetNote(ctx context.Context, id, note string) error {
	return c.repo.SetSnapshotNote(ctx, id, note)
}

// DowngradeHardcore reclassifies the game's hardcore snapshot as casual.
func (c *SnapshotCache) DowngradeHardcore(ctx context.Context, gameID int64) error {
	_, err := c.repo.ClearHardcoreFlag(ctx, gameID)
	return err
}

// Get returns a snapshot by id, or nil.
func (c *SnapshotCache) Get(ctx context.Context, id string) (*models.Snapshot, error) {
	return c.repo.GetSnapshot(ctx, id)
}

// List returns the snapshots of a game, newest first.
func (c *SnapshotCache) List(ctx context.Context, gameID int64) ([]*models.Snapshot, error) {
	return c.repo.ListSnapshots(ctx, gameID)
}

// HasHardcore reports whether the game has a hardcore snapshot.
func (c *SnapshotCache) HasHardcore(ctx context.Context, gameID int64) (bool, error) {
	s, err := c.repo.HardcoreSnapshot(ctx, gameID)
	return s != nil, err
}

// LatestHardcore returns the hardcore snapshot of a game, or nil.
func (c *SnapshotCache) LatestHardcore(ctx context.Context, gameID int64) (*models.Snapshot, error) {
	return c.repo.HardcoreSnapshot(ctx, gameID)
}

// LatestCasualInChannel returns the newest casual snapshot in channel.
func (c *SnapshotCache) LatestCasualInChannel(ctx context.Context, gameID int64, channel string) (*models.Snapshot, error) {
	return c.repo.LatestCasualSnapshotInChannel(ctx, gameID, channel)
}

// MostRecentInChannel returns the newest snapshot in channel.
func (c *SnapshotCache) MostRecentInChannel(ctx context.Context, gameID int64, channel string) (*models.Snapshot, error) {
	return c.repo.MostRecentSnapshotInChannel(ctx, gameID, channel)
}

// FindByHash returns a snapshot of the game with the digest, or nil.
func (c *SnapshotCache) FindByHash(ctx context.Context, gameID int64, hash string) (*models.Snapshot, error) {
	return c.repo.FindSnapshotByHash(ctx, gameID, hash)
}

// LocalSaveHash returns the digest Create would record for the save at path.
func (c *SnapshotCache) LocalSaveHash(path string) (string, error) {
	return archive.DigestPath(c.fs, path)
}

// SweepReport counts what Sweep removed.
type SweepReport struct {
	OrphanFiles    int
	MissingRecords int
}

// Sweep reconciles the cache directory with the snapshot table: files no
// record points at are deleted, and records whose file is gone are dropped.
func (c *SnapshotCache) Sweep(ctx context.Context) (SweepReport, error) {
	var report SweepReport

	snaps, err := c.repo.ListAllSnapshots(ctx)
	if err != nil {
		return report, apperrors.Wrap(apperrors.ErrDatabase, "list snapshots", err)
	}
	known := make(map[string]bool, len(snaps))
	for _, s := range snaps {
		abs := c.AbsPath(s)
		known[abs] = true
		if exists, _ := afero.Exists(c.fs, abs); !exists {
			if err := c.repo.DeleteSnapshot(ctx, s.ID); err != nil {
				return report, err
			}
			report.MissingRecords++
		}
	}

	if exists, _ := afero.DirExists(c.fs, c.root); !exists {
		return report, nil
	}
	var orphans []string
	err = afero.Walk(c.fs, c.root, func(p string, fi os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !fi.IsDir() && !known[p] {
			orphans = append(orphans, p)
		}
		return nil
	})
	if err != nil {
		return report, err
	}
	for _, p := range orphans {
		if err := c.fs.Remove(p); err != nil {
			return report, err
		}
		removeIfEmpty(c.fs, filepath.Dir(p))
		report.OrphanFiles++
	}

	if report.OrphanFiles > 0 || report.MissingRecords > 0 {
		logging.Warn("Snapshot cache reconciled", map[string]interface{}{
			"orphan_files": report.OrphanFiles, "missing_records": report.MissingRecords,
		})
	}
	return report, nil
}

// removeFiles deletes a snapshot's file and its now-empty timestamp directory.
func (c *SnapshotCache) removeFiles(s *models.Snapshot) {
	abs := c.AbsPath(s)
	if err := c.fs.Remove(abs); err != nil && !os.IsNotExist(err) {
		logging.Warn("Failed to delete snapshot file", map[string]interface{}{"path": abs, "error": err.Error()})
	}
	removeIfEmpty(c.fs, filepath.Dir(abs))
}

func removeIfEmpty(fs afero.Fs, dir string) {
	if empty, err := afero.IsEmpty(fs, dir); err == nil && empty {
		fs.Remove(dir)
	}
}

func copyFile(fs afero.Fs, src, dst string) error {
	in, err := fs.Open(src)
	if err != nil {
		return fmt.Errorf("failed to open source file: %w", err)
	}
	defer in.Close()

	out, err := fs.Create(dst)
	if err != nil {
		return fmt.Errorf("failed to create destination file: %w", err)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return fmt.Errorf("failed to copy file: %w", err)
	}
	return out.Close()
}
