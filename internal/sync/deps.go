package sync

import (
	"context"
	"io"

	"github.com/rommapp/argosy-launcher-sub002/internal/models"
	"github.com/rommapp/argosy-launcher-sub002/internal/sync/remote"
	"github.com/rommapp/argosy-launcher-sub002/internal/sync/storage"
)

// Repository is the persistence the engine reads and writes.
type Repository interface {
	GetSyncRecord(ctx context.Context, gameID int64, emulatorID, channel string) (*models.SyncRecord, error)
	UpsertSyncRecord(ctx context.Context, rec *models.SyncRecord) error
	ListSyncRecordsForGame(ctx context.Context, gameID int64) ([]*models.SyncRecord, error)
	GetGame(ctx context.Context, id int64) (*models.Game, error)
	ListDownloadedGames(ctx context.Context) ([]*models.Game, error)
	ListGamesByRommID(ctx context.Context, rommID int64) ([]*models.Game, error)
	ListPlatformIDs(ctx context.Context) ([]int64, error)
	PlatformEmulator(ctx context.Context, platformSlug string) (string, error)
}

// RemoteAPI is the save server surface used by the engine.
type RemoteAPI interface {
	DeviceID() string
	ListByRom(ctx context.Context, romID int64) ([]models.RemoteSave, error)
	ListByPlatform(ctx context.Context, platformID int64) ([]models.RemoteSave, error)
	Get(ctx context.Context, saveID int64) (*models.RemoteSave, error)
	Upload(ctx context.Context, req remote.UploadRequest) (*models.RemoteSave, error)
	Delete(ctx context.Context, saveIDs []int64) error
	Confirm(ctx context.Context, saveID int64) error
	Download(ctx context.Context, save *models.RemoteSave, w io.Writer) (int64, error)
}

// Snapshots is the snapshot cache surface used by the engine.
type Snapshots interface {
	Create(ctx context.Context, req storage.CreateRequest) (storage.CreateResult, error)
	HasHardcore(ctx context.Context, gameID int64) (bool, error)
	DowngradeHardcore(ctx context.Context, gameID int64) error
}

// PathQuery identifies the save of a game for path resolution.
type PathQuery struct {
	GameID       int64
	EmulatorID   string
	PlatformSlug string
	Title        string
	RomPath      string
	TitleID      string
	Channel      string
}

// PathResolver locates local saves. Resolve returns "" when no save exists
// on disk; SaveDir returns where a new save for the query belongs.
type PathResolver interface {
	Resolve(ctx context.Context, q PathQuery) (string, error)
	SaveDir(ctx context.Context, q PathQuery) (string, error)
	Invalidate(q PathQuery)
}
