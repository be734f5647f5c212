package models

import (
	"path/filepath"
	"strings"
)

// Game is the slice of the local game catalog the sync engine reads.
type Game struct {
	ID            int64  `db:"id" json:"id"`
	RommID        int64  `db:"romm_id" json:"romm_id,omitempty"`
	PlatformID    int64  `db:"platform_id" json:"platform_id,omitempty"`
	PlatformSlug  string `db:"platform_slug" json:"platform_slug"`
	Title         string `db:"title" json:"title"`
	RomPath       string `db:"rom_path" json:"rom_path,omitempty"`
	TitleID       string `db:"title_id" json:"title_id,omitempty"`
	EmulatorID    string `db:"emulator_id" json:"emulator_id,omitempty"`
	ActiveChannel string `db:"active_channel" json:"active_channel,omitempty"`
}

// TableName returns the table name for Game.
func (Game) TableName() string {
	return "games"
}

// IsDownloaded reports whether a local rom file is known.
func (g *Game) IsDownloaded() bool {
	return g.RomPath != ""
}

// HasRemote reports whether the game is linked to a server rom.
func (g *Game) HasRemote() bool {
	return g.RommID > 0
}

// RomBaseName returns the rom file name without directory or extension.
func (g *Game) RomBaseName() string {
	if g.RomPath == "" {
		return ""
	}
	base := filepath.Base(g.RomPath)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
