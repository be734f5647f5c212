package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/rommapp/argosy-launcher-sub002/internal/models"
)

const syncRecordColumns = `id, game_id, emulator_id, channel, local_save_path, local_updated_at,
	remote_save_id, server_updated_at, last_synced_at, status, last_uploaded_hash`

func scanSyncRecord(s rowScanner) (*models.SyncRecord, error) {
	var rec models.SyncRecord
	var localPath, hash sql.NullString
	var localUpdated, remoteID, serverUpdated, lastSynced sql.NullInt64
	var status string

	err := s.Scan(&rec.ID, &rec.GameID, &rec.EmulatorID, &rec.Channel, &localPath, &localUpdated,
		&remoteID, &serverUpdated, &lastSynced, &status, &hash)
	if err != nil {
		return nil, err
	}
	rec.LocalSavePath = localPath.String
	rec.LocalUpdatedAt = fromMillis(localUpdated)
	rec.RemoteSaveID = remoteID.Int64
	rec.ServerUpdatedAt = fromMillis(serverUpdated)
	rec.LastSyncedAt = fromMillis(lastSynced)
	rec.Status = models.SyncStatus(status)
	rec.LastUploadedHash = hash.String
	return &rec, nil
}

// GetSyncRecord returns the record for (gameID, emulatorID, channel), or nil
// when none exists.
func (r *Repository) GetSyncRecord(ctx context.Context, gameID int64, emulatorID, channel string) (*models.SyncRecord, error) {
	stmt, err := r.PrepareStmt(ctx, `SELECT `+syncRecordColumns+` FROM sync_records
		WHERE game_id = ? AND emulator_id = ? AND channel = ?`)
	if err != nil {
		return nil, err
	}

	rec, err := scanSyncRecord(stmt.QueryRowContext(ctx, gameID, emulatorID, channel))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get sync record: %w", err)
	}
	return rec, nil
}

// UpsertSyncRecord inserts rec or replaces the existing record with the same
// (game, emulator, channel) key. rec.ID is set to the stored row id.
func (r *Repository) UpsertSyncRecord(ctx context.Context, rec *models.SyncRecord) error {
	if !rec.Status.Valid() {
		return fmt.Errorf("upsert sync record: invalid status %q", rec.Status)
	}

	query := `
	INSERT INTO sync_records (game_id, emulator_id, channel, local_save_path, local_updated_at,
		remote_save_id, server_updated_at, last_synced_at, status, last_uploaded_hash)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(game_id, emulator_id, channel) DO UPDATE SET
		local_save_path = excluded.local_save_path,
		local_updated_at = excluded.local_updated_at,
		remote_save_id = excluded.remote_save_id,
		server_updated_at = excluded.server_updated_at,
		last_synced_at = excluded.last_synced_at,
		status = excluded.status,
		last_uploaded_hash = excluded.last_uploaded_hash
	RETURNING id
	`
	err := r.db.QueryRowContext(ctx, query,
		rec.GameID, rec.EmulatorID, rec.Channel, nullString(rec.LocalSavePath), toMillis(rec.LocalUpdatedAt),
		nullInt(rec.RemoteSaveID), toMillis(rec.ServerUpdatedAt), toMillis(rec.LastSyncedAt),
		string(rec.Status), nullString(rec.LastUploadedHash),
	).Scan(&rec.ID)
	if err != nil {
		return fmt.Errorf("upsert sync record: %w", err)
	}
	return nil
}

// UpdateSyncStatus changes only the status of a record.
func (r *Repository) UpdateSyncStatus(ctx context.Context, id int64, status models.SyncStatus) error {
	_, err := r.db.ExecContext(ctx, `UPDATE sync_records SET status = ? WHERE id = ?`, string(status), id)
	return err
}

// ListSyncRecordsByStatus returns all records in status, oldest id first.
func (r *Repository) ListSyncRecordsByStatus(ctx context.Context, status models.SyncStatus) ([]*models.SyncRecord, error) {
	return r.querySyncRecords(ctx, `SELECT `+syncRecordColumns+` FROM sync_records WHERE status = ? ORDER BY id`, string(status))
}

// ListSyncRecordsForGame returns every record of a game.
func (r *Repository) ListSyncRecordsForGame(ctx context.Context, gameID int64) ([]*models.SyncRecord, error) {
	return r.querySyncRecords(ctx, `SELECT `+syncRecordColumns+` FROM sync_records WHERE game_id = ? ORDER BY id`, gameID)
}

func (r *Repository) querySyncRecords(ctx context.Context, query string, args ...interface{}) ([]*models.SyncRecord, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list sync records: %w", err)
	}
	defer rows.Close()

	var records []*models.SyncRecord
	for rows.Next() {
		rec, err := scanSyncRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}
