package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/onnwee/anonchat/config"
	"github.com/onnwee/anonchat/db"
	"github.com/onnwee/anonchat/overlay"
	"github.com/onnwee/anonchat/session"
)

const (
	// Maximum number of OAuth states to keep in memory
	maxOAuthStates = 10000
)

// Sessions is the session control surface; *session.Controller implements it.
type Sessions interface {
	Start(ctx context.Context, p session.Params) (session.Status, error)
	Stop() (session.Status, error)
	Status() session.Status
}

// Deps are the collaborators the handlers need. Store may be nil when no
// database is configured; the archive and OAuth callback then report 503.
type Deps struct {
	Config   *config.Config
	Sessions Sessions
	Overlay  *overlay.Log
	Store    *db.Store
	// HTTPClient is used for the OAuth code exchange; nil means http.DefaultClient.
	HTTPClient *http.Client
	// OnUserToken is called after a user token is stored via the OAuth callback.
	OnUserToken func(accessToken string)
}

// Handlers holds dependencies for all HTTP handlers.
type Handlers struct {
	deps       Deps
	ctx        context.Context
	stateStore map[string]time.Time
	stateMu    sync.RWMutex
	wsOrigins  *corsConfig
}

// NewHandlers creates a new Handlers instance with the given dependencies.
func NewHandlers(ctx context.Context, deps Deps) *Handlers {
	if deps.Config == nil {
		deps.Config = &config.Config{}
	}
	return &Handlers{
		deps:       deps,
		ctx:        ctx,
		stateStore: make(map[string]time.Time),
		wsOrigins:  &corsConfig{permissive: true},
	}
}

// cleanExpiredStates removes expired OAuth states from the store.
// This should be called with stateMu locked.
func (h *Handlers) cleanExpiredStates() {
	now := time.Now()
	for state, expiry := range h.stateStore {
		if now.After(expiry) {
			delete(h.stateStore, state)
		}
	}
}

// addOAuthState adds a new OAuth state to the store with cleanup if needed.
func (h *Handlers) addOAuthState(state string, expiry time.Time) bool {
	h.stateMu.Lock()
	defer h.stateMu.Unlock()

	if len(h.stateStore)%100 == 0 {
		h.cleanExpiredStates()
	}

	// refusing new states fails the flow instead of growing without bound
	if len(h.stateStore) >= maxOAuthStates {
		return false
	}

	h.stateStore[state] = expiry
	return true
}

// consumeOAuthState validates and removes a state in one step.
func (h *Handlers) consumeOAuthState(state string) bool {
	h.stateMu.Lock()
	defer h.stateMu.Unlock()
	exp, ok := h.stateStore[state]
	delete(h.stateStore, state)
	return ok && time.Now().Before(exp)
}

func (h *Handlers) httpClient() *http.Client {
	if h.deps.HTTPClient != nil {
		return h.deps.HTTPClient
	}
	return http.DefaultClient
}

// writeJSON encodes v with the given status.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("failed to encode JSON response", slog.Any("err", err), slog.String("component", "http"))
	}
}

// writeError responds with {"error": msg}.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
