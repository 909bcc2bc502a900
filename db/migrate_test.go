package db

import (
	"context"
	"path/filepath"
	"testing"
)

func TestMigrationsIdempotent(t *testing.T) {
	s := openTestStore(t)
	// second run must be a no-op
	if err := s.Migrate(); err != nil {
		t.Fatalf("second migrate: %v", err)
	}
	v, dirty, err := MigrationVersion(s.DB, s.Dialect)
	if err != nil {
		t.Fatalf("version: %v", err)
	}
	if v != 1 || dirty {
		t.Errorf("version = %d dirty=%v, want 1 clean", v, dirty)
	}
	for _, table := range []string{"oauth_tokens", "transcript_lines"} {
		var n int
		if err := s.DB.QueryRow(`SELECT COUNT(*) FROM ` + table).Scan(&n); err != nil {
			t.Errorf("table %s missing: %v", table, err)
		}
	}
}

func TestMigrateDown(t *testing.T) {
	s, err := Connect(context.Background(), filepath.Join(t.TempDir(), "down.db"))
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer s.Close()

	if v, _, err := MigrationVersion(s.DB, s.Dialect); err != nil || v != 0 {
		t.Fatalf("fresh version = %d, %v; want 0", v, err)
	}
	if err := s.Migrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	if err := MigrateDown(s.DB, s.Dialect); err != nil {
		t.Fatalf("down: %v", err)
	}
	if _, err := s.DB.Exec(`SELECT COUNT(*) FROM transcript_lines`); err == nil {
		t.Error("transcript_lines still exists after rolling back")
	}
	// back up again to prove the down migration left a clean state
	if err := s.Migrate(); err != nil {
		t.Fatalf("re-migrate: %v", err)
	}
}

func TestUnsupportedDialect(t *testing.T) {
	s := openTestStore(t)
	if err := RunMigrations(s.DB, Dialect("mysql")); err == nil {
		t.Fatal("expected error for unsupported dialect")
	}
}
