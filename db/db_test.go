package db

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

// openTestStore returns a migrated SQLite store in a temp dir. Set TEST_PG_DSN
// to run the same tests against Postgres instead.
func openTestStore(t *testing.T) *Store {
	t.Helper()
	dsn := os.Getenv("TEST_PG_DSN")
	if dsn == "" {
		dsn = filepath.Join(t.TempDir(), "anonchat.db")
	}
	s, err := Connect(context.Background(), dsn)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	if err := s.Migrate(); err != nil {
		s.Close()
		t.Fatalf("migrate: %v", err)
	}
	if s.Dialect == Postgres {
		if _, err := s.DB.Exec(`TRUNCATE transcript_lines, oauth_tokens`); err != nil {
			t.Fatalf("truncate: %v", err)
		}
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestDialectFor(t *testing.T) {
	tests := []struct {
		dsn  string
		want Dialect
	}{
		{"postgres://u:p@localhost:5432/anonchat?sslmode=disable", Postgres},
		{"postgresql://localhost/anonchat", Postgres},
		{"host=localhost user=anonchat dbname=anonchat", Postgres},
		{"/var/lib/anonchat/chat.db", SQLite},
		{"file:chat.db?cache=shared", SQLite},
		{"sqlite://chat.db", SQLite},
	}
	for _, tt := range tests {
		if got := DialectFor(tt.dsn); got != tt.want {
			t.Errorf("DialectFor(%q) = %s, want %s", tt.dsn, got, tt.want)
		}
	}
}

func TestRebind(t *testing.T) {
	q := `SELECT a FROM t WHERE b = ? AND c = ? LIMIT ?`
	pg := &Store{Dialect: Postgres}
	if got, want := pg.rebind(q), `SELECT a FROM t WHERE b = $1 AND c = $2 LIMIT $3`; got != want {
		t.Errorf("postgres rebind = %q, want %q", got, want)
	}
	lite := &Store{Dialect: SQLite}
	if got := lite.rebind(q); got != q {
		t.Errorf("sqlite rebind changed query: %q", got)
	}
}

func TestConnectEmptyDSN(t *testing.T) {
	if _, err := Connect(context.Background(), ""); err == nil {
		t.Fatal("expected error for empty DSN")
	}
}

func TestEncryptorFromEnv(t *testing.T) {
	t.Setenv("ENCRYPTION_KEY", "")
	enc, err := EncryptorFromEnv()
	if err != nil || enc != nil {
		t.Fatalf("unset key: enc=%v err=%v", enc, err)
	}

	t.Setenv("ENCRYPTION_KEY", "too-short")
	if _, err := EncryptorFromEnv(); err == nil {
		t.Fatal("expected error for invalid key")
	}

	t.Setenv("ENCRYPTION_KEY", testKey)
	enc, err = EncryptorFromEnv()
	if err != nil || enc == nil {
		t.Fatalf("valid key: enc=%v err=%v", enc, err)
	}
}
