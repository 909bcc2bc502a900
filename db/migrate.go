package db

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"log/slog"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed migrations
var migrationsFS embed.FS

// newMigrator binds the embedded migrations of dialect d to conn. The returned
// instance is never closed: Close would close conn, which the caller owns.
func newMigrator(conn *sql.DB, d Dialect) (*migrate.Migrate, error) {
	src, err := iofs.New(migrationsFS, "migrations/"+string(d))
	if err != nil {
		return nil, fmt.Errorf("load %s migrations: %w", d, err)
	}
	var driver database.Driver
	switch d {
	case Postgres:
		driver, err = postgres.WithInstance(conn, &postgres.Config{})
	case SQLite:
		driver, err = sqlite.WithInstance(conn, &sqlite.Config{})
	default:
		return nil, fmt.Errorf("unsupported dialect %q", d)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create %s driver: %w", d, err)
	}
	m, err := migrate.NewWithInstance("iofs", src, string(d), driver)
	if err != nil {
		return nil, fmt.Errorf("failed to create migrate instance: %w", err)
	}
	return m, nil
}

// RunMigrations applies all pending versioned migrations. It is idempotent.
//
// Migration files live in db/migrations/<dialect>/ and follow the
// golang-migrate convention:
//
//	000001_description.up.sql
//	000001_description.down.sql
func RunMigrations(conn *sql.DB, d Dialect) error {
	m, err := newMigrator(conn, d)
	if err != nil {
		return err
	}
	if err := m.Up(); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			slog.Info("database schema is up to date", slog.String("component", "db_migrate"))
			return nil
		}
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	version, dirty, err := m.Version()
	if err != nil {
		slog.Warn("could not determine migration version", slog.Any("error", err), slog.String("component", "db_migrate"))
		return nil
	}
	if dirty {
		return fmt.Errorf("database is in dirty state at version %d - manual intervention required", version)
	}
	slog.Info("migrations applied successfully",
		slog.Uint64("version", uint64(version)),
		slog.String("dialect", string(d)),
		slog.String("component", "db_migrate"))
	return nil
}

// MigrateDown rolls back the most recent migration. Development use only.
func MigrateDown(conn *sql.DB, d Dialect) error {
	m, err := newMigrator(conn, d)
	if err != nil {
		return err
	}
	if err := m.Steps(-1); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			slog.Info("no migrations to roll back", slog.String("component", "db_migrate"))
			return nil
		}
		return fmt.Errorf("failed to roll back migration: %w", err)
	}
	return nil
}

// MigrationVersion returns the applied version and dirty flag; 0 when none.
func MigrationVersion(conn *sql.DB, d Dialect) (version uint, dirty bool, err error) {
	m, err := newMigrator(conn, d)
	if err != nil {
		return 0, false, err
	}
	v, dirty, err := m.Version()
	if err != nil {
		if errors.Is(err, migrate.ErrNilVersion) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("failed to get migration version: %w", err)
	}
	return v, dirty, nil
}
