package db

import (
	"context"
	"testing"
)

func TestEncryptPlaintextTokens(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	// written before ENCRYPTION_KEY was configured
	for _, p := range []string{"twitch", "twitch-bot"} {
		if err := s.UpsertOAuthToken(ctx, OAuthToken{Provider: p, AccessToken: p + "-access", RefreshToken: p + "-refresh"}); err != nil {
			t.Fatalf("upsert %s: %v", p, err)
		}
	}

	if _, err := s.EncryptPlaintextTokens(ctx, false); err == nil {
		t.Fatal("expected error without encryptor")
	}

	s.SetEncryptor(newTestEncryptor(t))
	n, err := s.EncryptPlaintextTokens(ctx, true)
	if err != nil || n != 2 {
		t.Fatalf("dry run = %d, %v; want 2, nil", n, err)
	}
	status, err := s.TokenEncryptionStatus(ctx)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if status[0] != 2 || status[1] != 0 {
		t.Fatalf("dry run changed rows: %v", status)
	}

	n, err = s.EncryptPlaintextTokens(ctx, false)
	if err != nil || n != 2 {
		t.Fatalf("encrypt = %d, %v; want 2, nil", n, err)
	}
	status, _ = s.TokenEncryptionStatus(ctx)
	if status[0] != 0 || status[1] != 2 {
		t.Errorf("status after encrypt = %v", status)
	}

	got, err := s.GetOAuthToken(ctx, "twitch-bot")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.AccessToken != "twitch-bot-access" || got.RefreshToken != "twitch-bot-refresh" {
		t.Errorf("round trip = %+v", got)
	}

	// nothing left to do
	if n, err := s.EncryptPlaintextTokens(ctx, false); err != nil || n != 0 {
		t.Errorf("second run = %d, %v", n, err)
	}
}
