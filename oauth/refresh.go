// Package oauth keeps the stored Twitch user token fresh. It performs jittered
// checks and refreshes when expiry falls within a configured window.
package oauth

import (
	"context"
	"errors"
	"log/slog"
	"math/rand"
	"time"

	"github.com/onnwee/anonchat/db"
)

// RefreshFunc performs provider-specific refresh and returns (access, refresh, expiry, scope)
type RefreshFunc func(ctx context.Context, refreshToken string) (string, string, time.Time, string, error)

// TokenStore is the subset of *db.Store the refresher needs.
type TokenStore interface {
	GetOAuthToken(ctx context.Context, provider string) (db.OAuthToken, error)
	UpsertOAuthToken(ctx context.Context, tok db.OAuthToken) error
}

// StartRefresher launches a goroutine that periodically checks a stored token and refreshes it.
// provider: key in oauth_tokens table.
// interval: how often to wake up and check.
// window: refresh when remaining lifetime <= window.
func StartRefresher(ctx context.Context, store TokenStore, provider string, interval, window time.Duration, fn RefreshFunc) {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	if window <= 0 {
		window = 15 * time.Minute
	}
	// Randomize initial delay to spread load across instances.
	//nolint:gosec // G404: math/rand is sufficient for scheduling jitter, not used for security
	initialJitter := time.Duration(rand.Int63n(int64(interval/2) + 1))
	go func() {
		select {
		case <-ctx.Done():
			return
		case <-time.After(initialJitter):
		}
		for {
			// per-iteration jitter of +/-20% of interval
			jitterRange := int64(interval/5) + 1
			//nolint:gosec // G404: math/rand is sufficient for scheduling jitter, not used for security
			jitter := time.Duration(rand.Int63n(jitterRange*2) - jitterRange)
			nextSleep := interval + jitter
			if nextSleep < interval/2 {
				nextSleep = interval / 2
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(nextSleep):
			}
			if _, err := RefreshIfDue(ctx, store, provider, window, fn); err != nil {
				slog.Warn("token refresh failed", slog.String("component", "oauth_refresh"), slog.String("provider", provider), slog.Any("err", err))
			}
		}
	}()
}

// RefreshIfDue refreshes the stored token when it expires within window. It
// reports whether a refresh was persisted. A missing token or one without a
// refresh token is not an error.
func RefreshIfDue(ctx context.Context, store TokenStore, provider string, window time.Duration, fn RefreshFunc) (bool, error) {
	cur, err := store.GetOAuthToken(ctx, provider)
	if err != nil {
		if errors.Is(err, db.ErrTokenNotFound) {
			return false, nil
		}
		return false, err
	}
	if cur.RefreshToken == "" {
		return false, nil
	}
	if !cur.Expiry.IsZero() && time.Until(cur.Expiry) > window {
		return false, nil
	}
	ctx2, cancel := context.WithTimeout(ctx, 15*time.Second)
	newAT, newRT, newExp, newScope, err := fn(ctx2, cur.RefreshToken)
	cancel()
	if err != nil {
		return false, err
	}
	if newRT == "" {
		newRT = cur.RefreshToken
	}
	if newScope == "" {
		newScope = cur.Scope
	}
	if err := store.UpsertOAuthToken(ctx, db.OAuthToken{
		Provider:     provider,
		AccessToken:  newAT,
		RefreshToken: newRT,
		Expiry:       newExp,
		Scope:        newScope,
	}); err != nil {
		return false, err
	}
	slog.Info("token refreshed", slog.String("component", "oauth_refresh"), slog.String("provider", provider), slog.Time("expires_at", newExp))
	return true, nil
}
