// Package db tests for database connection management.
package db

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestOpen verifies database opening with proper configuration.
func TestOpen(t *testing.T) {
	tmpDir := t.TempDir()

	db, err := Open(tmpDir)
	require.NoError(t, err)
	defer db.Close()

	_, err = os.Stat(filepath.Join(tmpDir, FileName))
	require.NoError(t, err, "database file should exist")

	var walMode string
	require.NoError(t, db.QueryRow("PRAGMA journal_mode").Scan(&walMode))
	assert.Equal(t, "wal", walMode)

	var fkEnabled int
	require.NoError(t, db.QueryRow("PRAGMA foreign_keys").Scan(&fkEnabled))
	assert.Equal(t, 1, fkEnabled)
}

// TestOpen_migrationsApplied verifies every table exists after Open.
func TestOpen_migrationsApplied(t *testing.T) {
	db, err := Open(t.TempDir())
	require.NoError(t, err)
	defer db.Close()

	for _, table := range []string{"sync_records", "snapshots", "pending_uploads", "games", "platform_emulators"} {
		var name string
		err := db.QueryRow("SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?", table).Scan(&name)
		assert.NoError(t, err, "table %s should exist", table)
	}

	version, err := SchemaVersion(db.DB)
	require.NoError(t, err)
	assert.Equal(t, int64(2), version)
}

// TestOpen_invalidDataDir verifies error when data directory cannot be created.
func TestOpen_invalidDataDir(t *testing.T) {
	_, err := Open("/dev/null/invalid_path/that/cannot/be/created")
	assert.Error(t, err)
}

// TestDB_reopen verifies reopening an existing database is a no-op migration.
func TestDB_reopen(t *testing.T) {
	tmpDir := t.TempDir()

	db1, err := Open(tmpDir)
	require.NoError(t, err)
	_, err = db1.Exec(`INSERT INTO platform_emulators (platform_slug, emulator_id) VALUES ('snes', 'retroarch')`)
	require.NoError(t, err)
	require.NoError(t, db1.Close())

	db2, err := Open(tmpDir)
	require.NoError(t, err)
	defer db2.Close()

	var emulator string
	require.NoError(t, db2.QueryRow(`SELECT emulator_id FROM platform_emulators WHERE platform_slug = 'snes'`).Scan(&emulator))
	assert.Equal(t, "retroarch", emulator)
}
