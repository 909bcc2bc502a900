package db

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/onnwee/anonchat/crypto"
)

// EncryptPlaintextTokens seals every oauth_tokens row still stored in
// plaintext (encryption_version 0) with the store's encryptor. With dryRun it
// only counts them. It returns the number of rows found.
func (s *Store) EncryptPlaintextTokens(ctx context.Context, dryRun bool) (int, error) {
	if s.enc == nil {
		return 0, fmt.Errorf("no encryptor configured (ENCRYPTION_KEY)")
	}
	rows, err := s.DB.QueryContext(ctx, `SELECT provider, access_token, refresh_token FROM oauth_tokens WHERE encryption_version = 0 ORDER BY provider`)
	if err != nil {
		return 0, fmt.Errorf("failed to query plaintext tokens: %w", err)
	}
	type plain struct{ provider, access, refresh string }
	var found []plain
	for rows.Next() {
		var p plain
		if err := rows.Scan(&p.provider, &p.access, &p.refresh); err != nil {
			rows.Close()
			return 0, fmt.Errorf("failed to scan token row: %w", err)
		}
		found = append(found, p)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("error iterating token rows: %w", err)
	}

	log := slog.With(slog.String("component", "db_encryption"), slog.Bool("dry_run", dryRun))
	if len(found) == 0 {
		log.Info("no plaintext tokens found")
		return 0, nil
	}
	log.Info("found plaintext tokens", slog.Int("count", len(found)))
	if dryRun {
		return len(found), nil
	}

	failed := 0
	for _, p := range found {
		if err := s.sealToken(ctx, p.provider, p.access, p.refresh); err != nil {
			log.Error("failed to encrypt token", slog.String("provider", p.provider), slog.Any("err", err))
			failed++
			continue
		}
		log.Info("token encrypted", slog.String("provider", p.provider))
	}
	if failed > 0 {
		return len(found), fmt.Errorf("encryption completed with %d errors", failed)
	}
	return len(found), nil
}

func (s *Store) sealToken(ctx context.Context, provider, access, refresh string) error {
	var err error
	if access, err = crypto.EncryptString(s.enc, access); err != nil {
		return fmt.Errorf("encrypt access token: %w", err)
	}
	if refresh, err = crypto.EncryptString(s.enc, refresh); err != nil {
		return fmt.Errorf("encrypt refresh token: %w", err)
	}
	// the version guard skips rows sealed concurrently by a running server
	res, err := s.DB.ExecContext(ctx, s.rebind(`UPDATE oauth_tokens
		SET access_token = ?, refresh_token = ?, encryption_version = 1, encryption_key_id = ?, updated_at_ms = ?
		WHERE provider = ? AND encryption_version = 0`),
		access, refresh, s.enc.KeyID(), time.Now().UnixMilli(), provider)
	if err != nil {
		return fmt.Errorf("update token: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if n != 1 {
		return fmt.Errorf("expected 1 row updated, got %d (token may have been modified concurrently)", n)
	}
	return nil
}

// TokenEncryptionStatus counts stored tokens per encryption_version.
func (s *Store) TokenEncryptionStatus(ctx context.Context) (map[int]int, error) {
	rows, err := s.DB.QueryContext(ctx, `SELECT encryption_version, COUNT(*) FROM oauth_tokens GROUP BY encryption_version`)
	if err != nil {
		return nil, fmt.Errorf("query encryption status: %w", err)
	}
	defer rows.Close()
	out := make(map[int]int)
	for rows.Next() {
		var version, count int
		if err := rows.Scan(&version, &count); err != nil {
			return nil, fmt.Errorf("scan encryption status: %w", err)
		}
		out[version] = count
	}
	return out, rows.Err()
}
