package store

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"

	"github.com/piehlerb/job-estimator-sub000/migrations"
	"github.com/pressly/goose/v3"
)

// RunMigrations applies all pending migrations from one directory of the
// embedded migrations filesystem.
func RunMigrations(ctx context.Context, db *sql.DB, dialect goose.Dialect, dir string) error {
	fsys, err := fs.Sub(migrations.FS, dir)
	if err != nil {
		return fmt.Errorf("open migrations %s: %w", dir, err)
	}

	provider, err := goose.NewProvider(dialect, db, fsys)
	if err != nil {
		return fmt.Errorf("create migration provider: %w", err)
	}

	if _, err := provider.Up(ctx); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	return nil
}
