package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rommapp/argosy-launcher-sub002/internal/models"
)

const snapshotColumns = `id, game_id, emulator_id, created_at, size, path, content_hash,
	channel, locked, hardcore, cheats_used, note`

func scanSnapshot(s rowScanner) (*models.Snapshot, error) {
	var snap models.Snapshot
	var createdAt int64
	var locked, hardcore, cheats int
	var note sql.NullString

	err := s.Scan(&snap.ID, &snap.GameID, &snap.EmulatorID, &createdAt, &snap.Size, &snap.Path,
		&snap.ContentHash, &snap.Channel, &locked, &hardcore, &cheats, &note)
	if err != nil {
		return nil, err
	}
	snap.CreatedAt = time.UnixMilli(createdAt)
	snap.Locked = locked != 0
	snap.Hardcore = hardcore != 0
	snap.CheatsUsed = cheats != 0
	snap.Note = note.String
	return &snap, nil
}

func (r *Repository) querySnapshot(ctx context.Context, query string, args ...interface{}) (*models.Snapshot, error) {
	stmt, err := r.PrepareStmt(ctx, query)
	if err != nil {
		return nil, err
	}
	snap, err := scanSnapshot(stmt.QueryRowContext(ctx, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get snapshot: %w", err)
	}
	return snap, nil
}

func (r *Repository) querySnapshots(ctx context.Context, query string, args ...interface{}) ([]*models.Snapshot, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list snapshots: %w", err)
	}
	defer rows.Close()

	var snaps []*models.Snapshot
	for rows.Next() {
		snap, err := scanSnapshot(rows)
		if err != nil {
			return nil, err
		}
		snaps = append(snaps, snap)
	}
	return snaps, rows.Err()
}

func insertSnapshot(ctx context.Context, exec interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}, s *models.Snapshot) error {
	query := `
	INSERT INTO snapshots (id, game_id, emulator_id, created_at, size, path, content_hash,
		channel, locked, hardcore, cheats_used, note)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := exec.ExecContext(ctx, query, s.ID, s.GameID, s.EmulatorID, s.CreatedAt.UnixMilli(), s.Size,
		s.Path, s.ContentHash, s.Channel, boolInt(s.Locked), boolInt(s.Hardcore), boolInt(s.CheatsUsed),
		nullString(s.Note))
	return err
}

// InsertSnapshot stores a new snapshot record.
func (r *Repository) InsertSnapshot(ctx context.Context, s *models.Snapshot) error {
	if err := insertSnapshot(ctx, r.db, s); err != nil {
		return fmt.Errorf("insert snapshot: %w", err)
	}
	return nil
}

// ReplaceHardcoreSnapshot atomically swaps the game's hardcore snapshot for s
// and returns the record it replaced, if any.
func (r *Repository) ReplaceHardcoreSnapshot(ctx context.Context, s *models.Snapshot) (*models.Snapshot, error) {
	if !s.Hardcore {
		return nil, fmt.Errorf("replace hardcore snapshot: snapshot %s is not hardcore", s.ID)
	}

	var previous *models.Snapshot
	err := r.withTx(ctx, func(tx *sql.Tx) error {
		old, err := scanSnapshot(tx.QueryRowContext(ctx,
			`SELECT `+snapshotColumns+` FROM snapshots WHERE game_id = ? AND hardcore = 1`, s.GameID))
		switch {
		case errors.Is(err, sql.ErrNoRows):
		case err != nil:
			return err
		default:
			previous = old
			if _, err := tx.ExecContext(ctx, `DELETE FROM snapshots WHERE id = ?`, old.ID); err != nil {
				return err
			}
		}
		return insertSnapshot(ctx, tx, s)
	})
	if err != nil {
		return nil, fmt.Errorf("replace hardcore snapshot: %w", err)
	}
	return previous, nil
}

// GetSnapshot returns a snapshot by id, or nil.
func (r *Repository) GetSnapshot(ctx context.Context, id string) (*models.Snapshot, error) {
	return r.querySnapshot(ctx, `SELECT `+snapshotColumns+` FROM snapshots WHERE id = ?`, id)
}

// ListSnapshots returns a game's snapshots, newest first.
func (r *Repository) ListSnapshots(ctx context.Context, gameID int64) ([]*models.Snapshot, error) {
	return r.querySnapshots(ctx, `SELECT `+snapshotColumns+` FROM snapshots
		WHERE game_id = ? ORDER BY created_at DESC, id DESC`, gameID)
}

// ListAllSnapshots returns every snapshot record.
func (r *Repository) ListAllSnapshots(ctx context.Context) ([]*models.Snapshot, error) {
	return r.querySnapshots(ctx, `SELECT `+snapshotColumns+` FROM snapshots ORDER BY game_id, created_at`)
}

// FindSnapshotByHash returns the newest snapshot of the game with hash.
func (r *Repository) FindSnapshotByHash(ctx context.Context, gameID int64, hash string) (*models.Snapshot, error) {
	return r.querySnapshot(ctx, `SELECT `+snapshotColumns+` FROM snapshots
		WHERE game_id = ? AND content_hash = ? ORDER BY created_at DESC LIMIT 1`, gameID, hash)
}

// FindSnapshotInSlot returns a snapshot with hash in the hardcore slot, or,
// when hardcore is false, in the casual slot of channel.
func (r *Repository) FindSnapshotInSlot(ctx context.Context, gameID int64, channel string, hardcore bool, hash string) (*models.Snapshot, error) {
	if hardcore {
		return r.querySnapshot(ctx, `SELECT `+snapshotColumns+` FROM snapshots
			WHERE game_id = ? AND hardcore = 1 AND content_hash = ? LIMIT 1`, gameID, hash)
	}
	return r.querySnapshot(ctx, `SELECT `+snapshotColumns+` FROM snapshots
		WHERE game_id = ? AND hardcore = 0 AND channel = ? AND content_hash = ? LIMIT 1`, gameID, channel, hash)
}

// HardcoreSnapshot returns the game's hardcore snapshot, or nil.
func (r *Repository) HardcoreSnapshot(ctx context.Context, gameID int64) (*models.Snapshot, error) {
	return r.querySnapshot(ctx, `SELECT `+snapshotColumns+` FROM snapshots
		WHERE game_id = ? AND hardcore = 1 LIMIT 1`, gameID)
}

// LatestCasualSnapshotInChannel returns the newest non-hardcore snapshot bound
// to channel.
func (r *Repository) LatestCasualSnapshotInChannel(ctx context.Context, gameID int64, channel string) (*models.Snapshot, error) {
	return r.querySnapshot(ctx, `SELECT `+snapshotColumns+` FROM snapshots
		WHERE game_id = ? AND hardcore = 0 AND channel = ? ORDER BY created_at DESC LIMIT 1`, gameID, channel)
}

// MostRecentSnapshotInChannel returns the newest snapshot bound to channel.
func (r *Repository) MostRecentSnapshotInChannel(ctx context.Context, gameID int64, channel string) (*models.Snapshot, error) {
	return r.querySnapshot(ctx, `SELECT `+snapshotColumns+` FROM snapshots
		WHERE game_id = ? AND channel = ? ORDER BY created_at DESC LIMIT 1`, gameID, channel)
}

// CountSnapshots returns the total and locked snapshot counts of a game.
func (r *Repository) CountSnapshots(ctx context.Context, gameID int64) (total, locked int, err error) {
	err = r.db.QueryRowContext(ctx, `SELECT COUNT(*), COALESCE(SUM(locked), 0) FROM snapshots WHERE game_id = ?`, gameID).
		Scan(&total, &locked)
	return total, locked, err
}

// OldestPrunableSnapshots returns up to limit unlocked casual snapshots,
// oldest first.
func (r *Repository) OldestPrunableSnapshots(ctx context.Context, gameID int64, limit int) ([]*models.Snapshot, error) {
	return r.querySnapshots(ctx, `SELECT `+snapshotColumns+` FROM snapshots
		WHERE game_id = ? AND locked = 0 AND hardcore = 0 ORDER BY created_at ASC, id ASC LIMIT ?`, gameID, limit)
}

// DeleteSnapshot removes a snapshot record.
func (r *Repository) DeleteSnapshot(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM snapshots WHERE id = ?`, id)
	return err
}

// DeleteSnapshotsForGame removes every snapshot record of a game.
func (r *Repository) DeleteSnapshotsForGame(ctx context.Context, gameID int64) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM snapshots WHERE game_id = ?`, gameID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// SetSnapshotLocked sets the lock flag.
func (r *Repository) SetSnapshotLocked(ctx context.Context, id string, locked bool) error {
	return r.execOne(ctx, `UPDATE snapshots SET locked = ? WHERE id = ?`, boolInt(locked), id)
}

// SetSnapshotNote sets the note; a non-empty note also locks the snapshot.
func (r *Repository) SetSnapshotNote(ctx context.Context, id, note string) error {
	return r.execOne(ctx, `UPDATE snapshots SET note = ?, locked = ? WHERE id = ?`, nullString(note), boolInt(note != ""), id)
}

// ClearHardcoreFlag reclassifies the game's hardcore snapshot as casual.
func (r *Repository) ClearHardcoreFlag(ctx context.Context, gameID int64) (int64, error) {
	res, err := r.db.ExecContext(ctx, `UPDATE snapshots SET hardcore = 0 WHERE game_id = ? AND hardcore = 1`, gameID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (r *Repository) execOne(ctx context.Context, query string, args ...interface{}) error {
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return sql.ErrNoRows
	}
	return nil
}
