// Package models provides data model definitions for the save sync engine.
package models

import "time"

// SyncStatus is the reconciliation state of one SyncRecord.
type SyncStatus string

const (
	SyncStatusPendingUpload SyncStatus = "PENDING_UPLOAD"
	SyncStatusServerNewer   SyncStatus = "SERVER_NEWER"
	SyncStatusLocalNewer    SyncStatus = "LOCAL_NEWER"
	SyncStatusSynced        SyncStatus = "SYNCED"
)

// Valid reports whether s is a known status.
func (s SyncStatus) Valid() bool {
	switch s {
	case SyncStatusPendingUpload, SyncStatusServerNewer, SyncStatusLocalNewer, SyncStatusSynced:
		return true
	}
	return false
}

// SyncRecord tracks the sync state of one (game, emulator, channel).
// An empty Channel is the default autosave channel.
type SyncRecord struct {
	ID               int64      `db:"id" json:"id"`
	GameID           int64      `db:"game_id" json:"game_id"`
	EmulatorID       string     `db:"emulator_id" json:"emulator_id"`
	Channel          string     `db:"channel" json:"channel,omitempty"`
	LocalSavePath    string     `db:"local_save_path" json:"local_save_path,omitempty"`
	LocalUpdatedAt   *time.Time `db:"local_updated_at" json:"local_updated_at,omitempty"`
	RemoteSaveID     int64      `db:"remote_save_id" json:"remote_save_id,omitempty"`
	ServerUpdatedAt  *time.Time `db:"server_updated_at" json:"server_updated_at,omitempty"`
	LastSyncedAt     *time.Time `db:"last_synced_at" json:"last_synced_at,omitempty"`
	Status           SyncStatus `db:"status" json:"status"`
	LastUploadedHash string     `db:"last_uploaded_hash" json:"last_uploaded_hash,omitempty"`
}

// TableName returns the table name for SyncRecord.
func (SyncRecord) TableName() string {
	return "sync_records"
}

// IsDefaultChannel reports whether the record tracks the autosave channel.
func (r *SyncRecord) IsDefaultChannel() bool {
	return r.Channel == ""
}

// HasRemote reports whether a remote save id is known.
func (r *SyncRecord) HasRemote() bool {
	return r.RemoteSaveID > 0
}

// ConflictInfo describes a local/server divergence for presentation only.
// It is never persisted.
type ConflictInfo struct {
	GameID          int64     `json:"game_id"`
	LocalTimestamp  time.Time `json:"local_timestamp"`
	ServerTimestamp time.Time `json:"server_timestamp"`
	IsHashConflict  bool      `json:"is_hash_conflict"`
}
