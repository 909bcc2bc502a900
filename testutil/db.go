package testutil

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/onnwee/anonchat/db"
)

// SetupTestDB returns a migrated store backed by SQLite in a temp dir, or by
// TEST_PG_DSN when set. Postgres tables are truncated first.
func SetupTestDB(t *testing.T) *db.Store {
	t.Helper()
	dsn := os.Getenv("TEST_PG_DSN")
	if dsn == "" {
		dsn = filepath.Join(t.TempDir(), "test.db")
	}
	store, err := db.Connect(context.Background(), dsn)
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	if err := store.Migrate(); err != nil {
		store.Close()
		t.Fatalf("failed to run migrations: %v", err)
	}
	if store.Dialect == db.Postgres {
		if _, err := store.DB.Exec(`TRUNCATE transcript_lines, oauth_tokens`); err != nil {
			store.Close()
			t.Fatalf("failed to truncate: %v", err)
		}
	}
	t.Cleanup(func() {
		store.Close()
	})
	return store
}
