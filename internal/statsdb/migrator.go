package statsdb

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"log/slog"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jmoiron/sqlx"
)

//go:embed migrations/*.sql
var embeddedMigrations embed.FS

// migrateSchema brings the database at dsn up to the latest schema version.
// It uses a dedicated handle because the migrate driver closes it when done.
func migrateSchema(ctx context.Context, dsn string, logger *slog.Logger) error {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("statsdb: migrate: open: %w", err)
	}
	defer db.Close()

	migrationSource, err := iofs.New(embeddedMigrations, "migrations")
	if err != nil {
		return fmt.Errorf("statsdb: migrate: embedded migrations: %w", err)
	}
	defer migrationSource.Close()

	dbDriver, err := sqlite.WithInstance(db, &sqlite.Config{})
	if err != nil {
		return fmt.Errorf("statsdb: migrate: sqlite driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", migrationSource, "sqlite", dbDriver)
	if err != nil {
		return fmt.Errorf("statsdb: migrate: instance: %w", err)
	}
	defer m.Close()

	logger.DebugContext(ctx, "statsdb: running migrations")
	if err := m.Up(); err != nil {
		if !errors.Is(err, migrate.ErrNoChange) {
			return fmt.Errorf("statsdb: migrate: %w", err)
		}
		logger.DebugContext(ctx, "statsdb: schema up to date")
		return nil
	}
	version, _, _ := m.Version()
	logger.InfoContext(ctx, "statsdb: schema migrated", "version", version)
	return nil
}

func tableExists(ctx context.Context, q sqlx.QueryerContext, name string) (bool, error) {
	var n int
	err := sqlx.GetContext(ctx, q, &n,
		`SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?`, name)
	if err != nil {
		return false, fmt.Errorf("statsdb: check table %s: %w", name, err)
	}
	return n > 0, nil
}

func tableColumns(ctx context.Context, q sqlx.QueryerContext, name string) (map[string]bool, error) {
	rows, err := q.QueryxContext(ctx, `SELECT name FROM pragma_table_info(?)`, name)
	if err != nil {
		return nil, fmt.Errorf("statsdb: table info %s: %w", name, err)
	}
	defer rows.Close()

	cols := make(map[string]bool)
	for rows.Next() {
		var col string
		if err := rows.Scan(&col); err != nil {
			return nil, fmt.Errorf("statsdb: scan table info %s: %w", name, err)
		}
		cols[col] = true
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("statsdb: iterate table info %s: %w", name, err)
	}
	return cols, nil
}
