package db

import (
	"context"
	"database/sql"
	"log/slog"

	"github.com/pkg/errors"
	_ "modernc.org/sqlite" // registers the "sqlite" driver
)

var sqlitePragmas = []string{
	"PRAGMA journal_mode=WAL;",
	"PRAGMA synchronous=NORMAL;",
	"PRAGMA busy_timeout=5000;",
	"PRAGMA foreign_keys=ON;",
}

// openSQLite opens a modernc SQLite database and applies the pragmas the
// archive relies on for concurrent readers.
func openSQLite(ctx context.Context, path string) (*sql.DB, error) {
	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrap(err, "open sqlite")
	}
	// a single writer avoids SQLITE_BUSY between the archive worker and token upserts
	conn.SetMaxOpenConns(1)
	for _, p := range sqlitePragmas {
		if _, err := conn.ExecContext(ctx, p); err != nil {
			_ = conn.Close()
			return nil, errors.Wrapf(err, "apply %s", p)
		}
	}
	slog.Debug("sqlite opened", slog.String("component", "db"), slog.String("path", path))
	return conn, nil
}
