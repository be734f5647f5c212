package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rommapp/argosy-launcher-sub002/internal/models"
)

const pendingUploadColumns = `id, game_id, remote_id, sync_type, priority, payload, retry_count,
	max_retries, next_retry_at, last_error, created_at`

func scanPendingUpload(s rowScanner) (*models.PendingUpload, error) {
	var p models.PendingUpload
	var syncType, payload string
	var nextRetry, created int64
	var lastError sql.NullString

	err := s.Scan(&p.ID, &p.GameID, &p.RemoteID, &syncType, &p.Priority, &payload, &p.RetryCount,
		&p.MaxRetries, &nextRetry, &lastError, &created)
	if err != nil {
		return nil, err
	}
	p.SyncType = models.SyncType(syncType)
	p.Payload = json.RawMessage(payload)
	p.NextRetryAt = time.UnixMilli(nextRetry)
	p.LastError = lastError.String
	p.CreatedAt = time.UnixMilli(created)
	return &p, nil
}

// ReplacePendingUpload deletes any queued entry of the same game and sync
// type, then inserts p.
func (r *Repository) ReplacePendingUpload(ctx context.Context, p *models.PendingUpload) error {
	payload := string(p.Payload)
	if payload == "" {
		payload = "{}"
	}

	err := r.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM pending_uploads WHERE game_id = ? AND sync_type = ?`,
			p.GameID, string(p.SyncType)); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `
		INSERT INTO pending_uploads (`+pendingUploadColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			p.ID, p.GameID, p.RemoteID, string(p.SyncType), p.Priority, payload, p.RetryCount,
			p.MaxRetries, p.NextRetryAt.UnixMilli(), nullString(p.LastError), p.CreatedAt.UnixMilli())
		return err
	})
	if err != nil {
		return fmt.Errorf("replace pending upload: %w", err)
	}
	return nil
}

// ListRetryablePendingUploads returns entries of syncType that may run at now,
// highest priority first, then oldest first.
func (r *Repository) ListRetryablePendingUploads(ctx context.Context, syncType models.SyncType, now time.Time) ([]*models.PendingUpload, error) {
	return r.queryPendingUploads(ctx, `SELECT `+pendingUploadColumns+` FROM pending_uploads
		WHERE sync_type = ? AND retry_count < max_retries AND next_retry_at <= ?
		ORDER BY priority DESC, created_at ASC`, string(syncType), now.UnixMilli())
}

// ListPendingUploads returns every queued entry.
func (r *Repository) ListPendingUploads(ctx context.Context) ([]*models.PendingUpload, error) {
	return r.queryPendingUploads(ctx, `SELECT `+pendingUploadColumns+` FROM pending_uploads ORDER BY created_at ASC`)
}

// GetPendingUpload returns one entry, or nil.
func (r *Repository) GetPendingUpload(ctx context.Context, id string) (*models.PendingUpload, error) {
	entries, err := r.queryPendingUploads(ctx, `SELECT `+pendingUploadColumns+` FROM pending_uploads WHERE id = ?`, id)
	if err != nil || len(entries) == 0 {
		return nil, err
	}
	return entries[0], nil
}

func (r *Repository) queryPendingUploads(ctx context.Context, query string, args ...interface{}) ([]*models.PendingUpload, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list pending uploads: %w", err)
	}
	defer rows.Close()

	var entries []*models.PendingUpload
	for rows.Next() {
		p, err := scanPendingUpload(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, p)
	}
	return entries, rows.Err()
}

// DeletePendingUpload removes a queue entry.
func (r *Repository) DeletePendingUpload(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM pending_uploads WHERE id = ?`, id)
	return err
}

// MarkPendingUploadFailed increments the retry counter and records the error.
func (r *Repository) MarkPendingUploadFailed(ctx context.Context, id, lastError string, nextRetryAt time.Time) error {
	return r.execOne(ctx, `UPDATE pending_uploads
		SET retry_count = retry_count + 1, last_error = ?, next_retry_at = ? WHERE id = ?`,
		lastError, nextRetryAt.UnixMilli(), id)
}

// ResetExhaustedPendingUploads makes entries that ran out of retries eligible
// again and returns how many were reset.
func (r *Repository) ResetExhaustedPendingUploads(ctx context.Context, now time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `UPDATE pending_uploads
		SET retry_count = 0, last_error = NULL, next_retry_at = ? WHERE retry_count >= max_retries`, now.UnixMilli())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// PendingUploadStats returns the total number of entries and how many have
// exhausted their retries.
func (r *Repository) PendingUploadStats(ctx context.Context) (total, exhausted int, err error) {
	err = r.db.QueryRowContext(ctx, `SELECT COUNT(*),
		COALESCE(SUM(CASE WHEN retry_count >= max_retries THEN 1 ELSE 0 END), 0) FROM pending_uploads`).
		Scan(&total, &exhausted)
	return total, exhausted, err
}
