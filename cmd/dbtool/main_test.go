package main

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/onnwee/anonchat/db"
)

const testKey = "dGVzdC1lbmNyeXB0aW9uLWtleS0zMi1ieXRlcyEhISE="

func TestRunUsage(t *testing.T) {
	ctx := context.Background()
	dsn := filepath.Join(t.TempDir(), "tool.db")
	for _, args := range [][]string{nil, {"migrate"}, {"bogus", "x"}, {"migrate", "sideways"}, {"tokens", "shred"}} {
		if err := run(ctx, args, dsn, &bytes.Buffer{}); !errors.Is(err, errUsage) {
			t.Errorf("run(%v) = %v, want usage error", args, err)
		}
	}
	if err := run(ctx, []string{"migrate", "up"}, "", &bytes.Buffer{}); err == nil {
		t.Error("expected error without DB_DSN")
	}
}

func TestRunMigrateAndEncrypt(t *testing.T) {
	ctx := context.Background()
	dsn := filepath.Join(t.TempDir(), "tool.db")
	var out bytes.Buffer

	if err := run(ctx, []string{"migrate", "up"}, dsn, &out); err != nil {
		t.Fatalf("migrate up: %v", err)
	}
	if err := run(ctx, []string{"migrate", "version"}, dsn, &out); err != nil {
		t.Fatalf("version: %v", err)
	}
	if !strings.Contains(out.String(), "version=1 dirty=false dialect=sqlite") {
		t.Errorf("version output = %q", out.String())
	}

	store, err := db.Connect(ctx, dsn)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	if err := store.UpsertOAuthToken(ctx, db.OAuthToken{Provider: "twitch", AccessToken: "a", RefreshToken: "r"}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	store.Close()

	t.Setenv("ENCRYPTION_KEY", "")
	if err := run(ctx, []string{"tokens", "encrypt"}, dsn, &out); err == nil {
		t.Fatal("expected error without ENCRYPTION_KEY")
	}

	t.Setenv("ENCRYPTION_KEY", testKey)
	out.Reset()
	if err := run(ctx, []string{"tokens", "encrypt", "--dry-run"}, dsn, &out); err != nil {
		t.Fatalf("dry run: %v", err)
	}
	if !strings.Contains(out.String(), "tokens=1 dry_run=true") {
		t.Errorf("dry run output = %q", out.String())
	}
	if err := run(ctx, []string{"tokens", "encrypt"}, dsn, &out); err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	out.Reset()
	if err := run(ctx, []string{"tokens", "status"}, dsn, &out); err != nil {
		t.Fatalf("status: %v", err)
	}
	if strings.TrimSpace(out.String()) != "plaintext=0 encrypted=1" {
		t.Errorf("status output = %q", out.String())
	}

	if err := run(ctx, []string{"migrate", "down"}, dsn, &out); err != nil {
		t.Fatalf("migrate down: %v", err)
	}
}
