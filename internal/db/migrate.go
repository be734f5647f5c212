package db

import (
	"database/sql"
	"embed"
	"sync"

	"github.com/pressly/goose/v3"

	apperrors "github.com/rommapp/argosy-launcher-sub002/internal/errors"
)

//go:embed migrations/*.sql
var embedMigrations embed.FS

// goose keeps its base FS and dialect in package state.
var gooseMu sync.Mutex

// Migrate applies all embedded migrations that have not run yet.
func Migrate(db *sql.DB) error {
	gooseMu.Lock()
	defer gooseMu.Unlock()

	goose.SetBaseFS(embedMigrations)
	goose.SetLogger(goose.NopLogger())
	if err := goose.SetDialect("sqlite3"); err != nil {
		return apperrors.Wrap(apperrors.ErrMigration, "set migration dialect", err)
	}
	if err := goose.Up(db, "migrations"); err != nil {
		return apperrors.Wrap(apperrors.ErrMigration, "apply migrations", err)
	}
	return nil
}

// SchemaVersion returns the newest applied migration version.
func SchemaVersion(db *sql.DB) (int64, error) {
	gooseMu.Lock()
	defer gooseMu.Unlock()

	goose.SetBaseFS(embedMigrations)
	if err := goose.SetDialect("sqlite3"); err != nil {
		return 0, err
	}
	return goose.GetDBVersion(db)
}
