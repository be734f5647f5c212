package models

import (
	"encoding/json"
	"time"
)

// SyncType classifies a queued operation.
type SyncType string

const (
	SyncTypeSaveFile SyncType = "SAVE_FILE"
)

// PendingUpload is a durable queue entry for a local change awaiting upload.
type PendingUpload struct {
	ID          string          `db:"id" json:"id"`
	GameID      int64           `db:"game_id" json:"game_id"`
	RemoteID    int64           `db:"remote_id" json:"remote_id"`
	SyncType    SyncType        `db:"sync_type" json:"sync_type"`
	Priority    int             `db:"priority" json:"priority"`
	Payload     json.RawMessage `db:"payload" json:"payload"`
	RetryCount  int             `db:"retry_count" json:"retry_count"`
	MaxRetries  int             `db:"max_retries" json:"max_retries"`
	NextRetryAt time.Time       `db:"next_retry_at" json:"next_retry_at"`
	LastError   string          `db:"last_error" json:"last_error,omitempty"`
	CreatedAt   time.Time       `db:"created_at" json:"created_at"`
}

// TableName returns the table name for PendingUpload.
func (PendingUpload) TableName() string {
	return "pending_uploads"
}

// Retryable reports whether the entry may be attempted at now.
func (p *PendingUpload) Retryable(now time.Time) bool {
	return p.RetryCount < p.MaxRetries && !p.NextRetryAt.After(now)
}

// UploadPayload is the JSON payload stored with a SAVE_FILE entry.
type UploadPayload struct {
	EmulatorID string `json:"emulatorId"`
}

// DecodeUploadPayload parses the entry payload.
func (p *PendingUpload) DecodeUploadPayload() (UploadPayload, error) {
	var payload UploadPayload
	if len(p.Payload) == 0 {
		return payload, nil
	}
	err := json.Unmarshal(p.Payload, &payload)
	return payload, err
}
