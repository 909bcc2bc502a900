// Package db provides the optional persistence layer: connection helpers for
// Postgres and SQLite, versioned migrations, encrypted OAuth token storage and
// the anonymized transcript archive.
package db

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib" // pgx postgres driver registered as 'pgx'

	"github.com/onnwee/anonchat/crypto"
)

// Dialect names the SQL flavour behind a *sql.DB.
type Dialect string

const (
	Postgres Dialect = "postgres"
	SQLite   Dialect = "sqlite"
)

// DialectFor picks the dialect from a DSN. postgres:// and postgresql:// URLs
// (and key=value strings containing host=) are Postgres; everything else is
// treated as a SQLite path or file: URI.
func DialectFor(dsn string) Dialect {
	lower := strings.ToLower(strings.TrimSpace(dsn))
	switch {
	case strings.HasPrefix(lower, "postgres://"), strings.HasPrefix(lower, "postgresql://"):
		return Postgres
	case strings.Contains(lower, "host=") && !strings.HasPrefix(lower, "file:"):
		return Postgres
	}
	return SQLite
}

// Store wraps a connection with its dialect and the token encryptor.
type Store struct {
	DB      *sql.DB
	Dialect Dialect
	enc     crypto.Encryptor
}

// Connect opens dsn with the matching driver and verifies the connection.
func Connect(ctx context.Context, dsn string) (*Store, error) {
	if dsn == "" {
		return nil, fmt.Errorf("DB_DSN is empty")
	}
	d := DialectFor(dsn)
	var (
		conn *sql.DB
		err  error
	)
	switch d {
	case Postgres:
		conn, err = sql.Open("pgx", dsn)
	default:
		conn, err = openSQLite(ctx, strings.TrimPrefix(dsn, "sqlite://"))
	}
	if err != nil {
		return nil, err
	}
	if err := conn.PingContext(ctx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("ping %s: %w", d, err)
	}
	return &Store{DB: conn, Dialect: d}, nil
}

// SetEncryptor enables token encryption. A nil encryptor stores tokens in
// plaintext (encryption_version 0).
func (s *Store) SetEncryptor(enc crypto.Encryptor) { s.enc = enc }

// Close closes the underlying connection.
func (s *Store) Close() error { return s.DB.Close() }

// Ping reports whether the database is reachable.
func (s *Store) Ping(ctx context.Context) error { return s.DB.PingContext(ctx) }

// Migrate applies the embedded migrations for the store's dialect.
func (s *Store) Migrate() error { return RunMigrations(s.DB, s.Dialect) }

// rebind rewrites ? placeholders to $n for Postgres. Queries in this package
// never contain a literal question mark.
func (s *Store) rebind(q string) string {
	if s.Dialect != Postgres {
		return q
	}
	var b strings.Builder
	b.Grow(len(q) + 8)
	n := 0
	for i := 0; i < len(q); i++ {
		if q[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(q[i])
	}
	return b.String()
}

// EncryptorFromEnv builds the token encryptor from ENCRYPTION_KEY. It returns
// nil (plaintext storage) when the variable is unset.
func EncryptorFromEnv() (crypto.Encryptor, error) {
	key := os.Getenv("ENCRYPTION_KEY")
	if key == "" {
		slog.Warn("ENCRYPTION_KEY not set, OAuth tokens will be stored in plaintext (not recommended for production)", slog.String("component", "db_encryption"))
		return nil, nil
	}
	enc, err := crypto.NewAESEncryptor(key)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize encryption: %w", err)
	}
	slog.Info("OAuth token encryption enabled (AES-256-GCM)", slog.String("component", "db_encryption"), slog.String("key_id", enc.KeyID()))
	return enc, nil
}
