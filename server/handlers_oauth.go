package server

import (
	"crypto/rand"
	"encoding/hex"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/onnwee/anonchat/db"
	"github.com/onnwee/anonchat/telemetry"
	"github.com/onnwee/anonchat/twitchapi"
)

// TwitchProvider is the oauth_tokens key of the bot's user token.
const TwitchProvider = "twitch"

const oauthStateTTL = 10 * time.Minute

// HandleTwitchOAuthStart initiates the Twitch OAuth flow by redirecting to Twitch.
func (h *Handlers) HandleTwitchOAuthStart(w http.ResponseWriter, r *http.Request) {
	cfg := h.deps.Config
	if err := cfg.ValidateOAuthReady(); err != nil {
		http.Error(w, "oauth not configured (need TWITCH_CLIENT_ID + TWITCH_CLIENT_SECRET + TWITCH_REDIRECT_URI)", http.StatusBadRequest)
		return
	}
	oc, err := twitchapi.OAuthConfig(cfg.TwitchClientID, cfg.TwitchClientSecret, cfg.TwitchRedirectURI, cfg.TwitchScopes)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		http.Error(w, "state gen error", http.StatusInternalServerError)
		return
	}
	st := hex.EncodeToString(b)
	if !h.addOAuthState(st, time.Now().Add(oauthStateTTL)) {
		http.Error(w, "too many pending authorizations", http.StatusServiceUnavailable)
		return
	}
	http.Redirect(w, r, twitchapi.BuildAuthorizeURL(oc, st), http.StatusFound)
}

// HandleTwitchOAuthCallback handles the OAuth callback from Twitch and stores tokens.
func (h *Handlers) HandleTwitchOAuthCallback(w http.ResponseWriter, r *http.Request) {
	cfg := h.deps.Config
	code := r.URL.Query().Get("code")
	st := r.URL.Query().Get("state")
	if code == "" || st == "" {
		http.Error(w, "missing code/state", http.StatusBadRequest)
		return
	}
	if !h.consumeOAuthState(st) {
		http.Error(w, "invalid state", http.StatusBadRequest)
		return
	}
	if h.deps.Store == nil {
		http.Error(w, "token storage not configured (set DB_DSN)", http.StatusServiceUnavailable)
		return
	}
	oc, err := twitchapi.OAuthConfig(cfg.TwitchClientID, cfg.TwitchClientSecret, cfg.TwitchRedirectURI, cfg.TwitchScopes)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	ctx := r.Context()
	log := telemetry.LoggerWithCorr(ctx).With(slog.String("component", "oauth"))
	tok, err := twitchapi.ExchangeAuthCode(ctx, oc, code, h.httpClient())
	if err != nil {
		log.Warn("twitch code exchange failed", slog.Any("err", err))
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}
	scopes := twitchapi.TokenScopes(tok)
	expiry := tok.Expiry
	if expiry.IsZero() {
		expiry = twitchapi.ComputeExpiry(0)
	}
	if err := h.deps.Store.UpsertOAuthToken(ctx, db.OAuthToken{
		Provider:     TwitchProvider,
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		Expiry:       expiry,
		Scope:        strings.Join(scopes, " "),
	}); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if h.deps.OnUserToken != nil {
		h.deps.OnUserToken(tok.AccessToken)
	}
	log.Info("twitch user token stored", slog.Any("scopes", scopes), slog.Time("expires_at", expiry))
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "scopes": scopes, "expires_at": expiry})
}
