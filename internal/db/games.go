package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/rommapp/argosy-launcher-sub002/internal/models"
)

const gameColumns = `id, romm_id, platform_id, platform_slug, title, rom_path, title_id, emulator_id, active_channel`

func scanGame(s rowScanner) (*models.Game, error) {
	var g models.Game
	var rommID, platformID sql.NullInt64
	var romPath, titleID, emulatorID, channel sql.NullString

	err := s.Scan(&g.ID, &rommID, &platformID, &g.PlatformSlug, &g.Title, &romPath, &titleID, &emulatorID, &channel)
	if err != nil {
		return nil, err
	}
	g.RommID = rommID.Int64
	g.PlatformID = platformID.Int64
	g.RomPath = romPath.String
	g.TitleID = titleID.String
	g.EmulatorID = emulatorID.String
	g.ActiveChannel = channel.String
	return &g, nil
}

// UpsertGame inserts or replaces a catalog entry.
func (r *Repository) UpsertGame(ctx context.Context, g *models.Game) error {
	query := `
	INSERT INTO games (` + gameColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		romm_id = excluded.romm_id,
		platform_id = excluded.platform_id,
		platform_slug = excluded.platform_slug,
		title = excluded.title,
		rom_path = excluded.rom_path,
		title_id = excluded.title_id,
		emulator_id = excluded.emulator_id,
		active_channel = excluded.active_channel
	`
	_, err := r.db.ExecContext(ctx, query, g.ID, nullInt(g.RommID), nullInt(g.PlatformID), g.PlatformSlug, g.Title,
		nullString(g.RomPath), nullString(g.TitleID), nullString(g.EmulatorID), nullString(g.ActiveChannel))
	if err != nil {
		return fmt.Errorf("upsert game: %w", err)
	}
	return nil
}

// GetGame returns a game by id, or nil.
func (r *Repository) GetGame(ctx context.Context, id int64) (*models.Game, error) {
	stmt, err := r.PrepareStmt(ctx, `SELECT `+gameColumns+` FROM games WHERE id = ?`)
	if err != nil {
		return nil, err
	}
	g, err := scanGame(stmt.QueryRowContext(ctx, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get game: %w", err)
	}
	return g, nil
}

// ListGames returns the whole catalog.
func (r *Repository) ListGames(ctx context.Context) ([]*models.Game, error) {
	return r.queryGames(ctx, `SELECT `+gameColumns+` FROM games ORDER BY id`)
}

// ListDownloadedGames returns games with a local rom that are linked to a
// server rom.
func (r *Repository) ListDownloadedGames(ctx context.Context) ([]*models.Game, error) {
	return r.queryGames(ctx, `SELECT `+gameColumns+` FROM games
		WHERE rom_path IS NOT NULL AND rom_path != '' AND romm_id IS NOT NULL AND romm_id > 0 ORDER BY id`)
}

// ListGamesByRommID returns local games linked to a server rom.
func (r *Repository) ListGamesByRommID(ctx context.Context, rommID int64) ([]*models.Game, error) {
	return r.queryGames(ctx, `SELECT `+gameColumns+` FROM games WHERE romm_id = ? ORDER BY id`, rommID)
}

// ListPlatformIDs returns the distinct server platform ids of downloaded games.
func (r *Repository) ListPlatformIDs(ctx context.Context) ([]int64, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT DISTINCT platform_id FROM games
		WHERE platform_id IS NOT NULL AND platform_id > 0 AND rom_path IS NOT NULL ORDER BY platform_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (r *Repository) queryGames(ctx context.Context, query string, args ...interface{}) ([]*models.Game, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list games: %w", err)
	}
	defer rows.Close()

	var games []*models.Game
	for rows.Next() {
		g, err := scanGame(rows)
		if err != nil {
			return nil, err
		}
		games = append(games, g)
	}
	return games, rows.Err()
}

// SetActiveChannel records the save channel a game launches with.
func (r *Repository) SetActiveChannel(ctx context.Context, gameID int64, channel string) error {
	return r.execOne(ctx, `UPDATE games SET active_channel = ? WHERE id = ?`, nullString(channel), gameID)
}

// SetPlatformEmulator sets the default emulator for a platform.
func (r *Repository) SetPlatformEmulator(ctx context.Context, platformSlug, emulatorID string) error {
	_, err := r.db.ExecContext(ctx, `INSERT INTO platform_emulators (platform_slug, emulator_id) VALUES (?, ?)
		ON CONFLICT(platform_slug) DO UPDATE SET emulator_id = excluded.emulator_id`, platformSlug, emulatorID)
	return err
}

// PlatformEmulator returns the default emulator for a platform, or "".
func (r *Repository) PlatformEmulator(ctx context.Context, platformSlug string) (string, error) {
	var id string
	err := r.db.QueryRowContext(ctx, `SELECT emulator_id FROM platform_emulators WHERE platform_slug = ?`, platformSlug).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return id, err
}
