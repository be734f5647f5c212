package models

import "time"

// Snapshot is an immutable local copy of a save. Path is relative to the
// snapshot cache root and has the form gameId/timestamp/filename.
type Snapshot struct {
	ID          string    `db:"id" json:"id"`
	GameID      int64     `db:"game_id" json:"game_id"`
	EmulatorID  string    `db:"emulator_id" json:"emulator_id"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
	Size        int64     `db:"size" json:"size"`
	Path        string    `db:"path" json:"path"`
	ContentHash string    `db:"content_hash" json:"content_hash"`
	Channel     string    `db:"channel" json:"channel,omitempty"`
	Locked      bool      `db:"locked" json:"locked"`
	Hardcore    bool      `db:"hardcore" json:"hardcore"`
	CheatsUsed  bool      `db:"cheats_used" json:"cheats_used"`
	Note        string    `db:"note" json:"note,omitempty"`
}

// TableName returns the table name for Snapshot.
func (Snapshot) TableName() string {
	return "snapshots"
}

// Prunable reports whether retention pruning may delete the snapshot.
func (s *Snapshot) Prunable() bool {
	return !s.Locked && !s.Hardcore
}
