package twitchapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

// TokenURL is the Twitch OAuth token endpoint.
const TokenURL = "https://id.twitch.tv/oauth2/token"

// earlyExpiry refreshes app tokens a minute before Twitch would reject them.
const earlyExpiry = 60 * time.Second

// TokenSource fetches and caches a Twitch app access (client credentials) token.
// NOTE: This token cannot authenticate IRC; chat needs a user token with chat:read.
type TokenSource struct {
	ClientID     string
	ClientSecret string
	// TokenURL overrides the token endpoint (tests).
	TokenURL   string
	HTTPClient *http.Client

	mu   sync.Mutex
	seed *oauth2.Token
	src  oauth2.TokenSource
}

// Get returns a valid (fresh or cached) app access token.
func (ts *TokenSource) Get(ctx context.Context) (string, error) {
	src, err := ts.source()
	if err != nil {
		return "", err
	}
	tok, err := src.Token()
	if err != nil {
		return "", fmt.Errorf("twitch app token: %w", err)
	}
	if tok.AccessToken == "" {
		return "", errors.New("empty access_token in twitch response")
	}
	return tok.AccessToken, nil
}

// SetToken seeds the cache with a known token.
func (ts *TokenSource) SetToken(token string, expiresAt time.Time) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	ts.seed = &oauth2.Token{AccessToken: token, TokenType: "bearer", Expiry: expiresAt}
	ts.src = nil
}

func (ts *TokenSource) source() (oauth2.TokenSource, error) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	if ts.src != nil {
		return ts.src, nil
	}
	if ts.ClientID == "" || ts.ClientSecret == "" {
		return nil, errors.New("missing client id/secret for twitch app token")
	}
	tokenURL := ts.TokenURL
	if tokenURL == "" {
		tokenURL = TokenURL
	}
	cfg := clientcredentials.Config{
		ClientID:     ts.ClientID,
		ClientSecret: ts.ClientSecret,
		TokenURL:     tokenURL,
		AuthStyle:    oauth2.AuthStyleInParams,
	}
	// the token source outlives any single request, so it gets its own context
	base := context.Background()
	if ts.HTTPClient != nil {
		base = context.WithValue(base, oauth2.HTTPClient, ts.HTTPClient)
	}
	ts.src = oauth2.ReuseTokenSourceWithExpiry(ts.seed, cfg.TokenSource(base), earlyExpiry)
	return ts.src, nil
}
