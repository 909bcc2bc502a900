package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/onnwee/anonchat/crypto"
)

// ErrTokenNotFound is returned by GetOAuthToken when no row exists.
var ErrTokenNotFound = errors.New("oauth token not found")

// OAuthToken is a decrypted oauth_tokens row.
type OAuthToken struct {
	Provider     string
	AccessToken  string
	RefreshToken string
	Expiry       time.Time
	Scope        string
	UpdatedAt    time.Time
}

// UpsertOAuthToken stores a token for provider, encrypting both secrets when
// an encryptor is configured. A refresh token of "" keeps the stored one.
func (s *Store) UpsertOAuthToken(ctx context.Context, tok OAuthToken) error {
	if tok.Provider == "" {
		return fmt.Errorf("provider empty")
	}
	access, refresh := tok.AccessToken, tok.RefreshToken
	version, keyID := 0, ""
	if s.enc != nil {
		var err error
		if access, err = crypto.EncryptString(s.enc, access); err != nil {
			return fmt.Errorf("encrypt access token: %w", err)
		}
		if refresh, err = crypto.EncryptString(s.enc, refresh); err != nil {
			return fmt.Errorf("encrypt refresh token: %w", err)
		}
		version, keyID = 1, s.enc.KeyID()
	}
	var expMs int64
	if !tok.Expiry.IsZero() {
		expMs = tok.Expiry.UnixMilli()
	}
	q := s.rebind(`INSERT INTO oauth_tokens (provider, access_token, refresh_token, expires_at_ms, scope, encryption_version, encryption_key_id, updated_at_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (provider) DO UPDATE SET
			access_token = excluded.access_token,
			refresh_token = CASE WHEN excluded.refresh_token = '' THEN oauth_tokens.refresh_token ELSE excluded.refresh_token END,
			expires_at_ms = excluded.expires_at_ms,
			scope = excluded.scope,
			encryption_version = excluded.encryption_version,
			encryption_key_id = excluded.encryption_key_id,
			updated_at_ms = excluded.updated_at_ms`)
	_, err := s.DB.ExecContext(ctx, q, tok.Provider, access, refresh, expMs, strings.TrimSpace(tok.Scope), version, keyID, time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("upsert oauth token: %w", err)
	}
	return nil
}

// GetOAuthToken loads and decrypts the token for provider. Plaintext rows
// written before encryption was enabled are returned as-is.
func (s *Store) GetOAuthToken(ctx context.Context, provider string) (OAuthToken, error) {
	var (
		tok          OAuthToken
		expMs, updMs int64
		version      int
		keyID        string
	)
	row := s.DB.QueryRowContext(ctx, s.rebind(`SELECT provider, access_token, refresh_token, expires_at_ms, scope, encryption_version, encryption_key_id, updated_at_ms
		FROM oauth_tokens WHERE provider = ? LIMIT 1`), provider)
	if err := row.Scan(&tok.Provider, &tok.AccessToken, &tok.RefreshToken, &expMs, &tok.Scope, &version, &keyID, &updMs); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return OAuthToken{}, ErrTokenNotFound
		}
		return OAuthToken{}, fmt.Errorf("get oauth token: %w", err)
	}
	if expMs > 0 {
		tok.Expiry = time.UnixMilli(expMs)
	}
	tok.UpdatedAt = time.UnixMilli(updMs)
	if version == 0 {
		return tok, nil
	}
	if s.enc == nil {
		return OAuthToken{}, fmt.Errorf("token for %s is encrypted but ENCRYPTION_KEY is not set", provider)
	}
	if keyID != "" && keyID != s.enc.KeyID() {
		slog.Warn("oauth token sealed with a different key", slog.String("component", "db_encryption"),
			slog.String("provider", provider), slog.String("key_id", keyID))
	}
	var err error
	if tok.AccessToken, err = crypto.DecryptString(s.enc, tok.AccessToken); err != nil {
		return OAuthToken{}, fmt.Errorf("decrypt access token: %w", err)
	}
	if tok.RefreshToken, err = crypto.DecryptString(s.enc, tok.RefreshToken); err != nil {
		return OAuthToken{}, fmt.Errorf("decrypt refresh token: %w", err)
	}
	return tok, nil
}

// DeleteOAuthToken removes the stored token for provider, if any.
func (s *Store) DeleteOAuthToken(ctx context.Context, provider string) error {
	if _, err := s.DB.ExecContext(ctx, s.rebind(`DELETE FROM oauth_tokens WHERE provider = ?`), provider); err != nil {
		return fmt.Errorf("delete oauth token: %w", err)
	}
	return nil
}
