package server

import (
	"crypto/subtle"
	"log/slog"
	"net/http"
	"os"
)

// authConfig guards the admin surface (session control, transcript). Either
// credential kind enables it; with neither the surface is open.
type authConfig struct {
	adminUsername string
	adminPassword string
	adminToken    string
	enabled       bool
}

func loadAuthConfig() *authConfig {
	cfg := &authConfig{
		adminUsername: os.Getenv("ADMIN_USERNAME"),
		adminPassword: os.Getenv("ADMIN_PASSWORD"),
		adminToken:    os.Getenv("ADMIN_TOKEN"),
	}
	cfg.enabled = cfg.adminToken != "" || (cfg.adminUsername != "" && cfg.adminPassword != "")
	if !cfg.enabled {
		slog.Warn("admin auth not configured, anyone can start and stop sessions (set ADMIN_TOKEN or ADMIN_USERNAME+ADMIN_PASSWORD)", slog.String("component", "http"))
	}
	return cfg
}

// authorized checks X-Admin-Token first, then basic auth.
func (c *authConfig) authorized(r *http.Request) bool {
	if c.adminToken != "" && secureEqual(r.Header.Get("X-Admin-Token"), c.adminToken) {
		return true
	}
	if c.adminUsername == "" || c.adminPassword == "" {
		return false
	}
	user, pass, ok := r.BasicAuth()
	if !ok {
		return false
	}
	// evaluate both so timing does not reveal which one matched
	userOK := secureEqual(user, c.adminUsername)
	passOK := secureEqual(pass, c.adminPassword)
	return userOK && passOK
}

func secureEqual(got, want string) bool {
	return got != "" && subtle.ConstantTimeCompare([]byte(got), []byte(want)) == 1
}

func adminAuth(next http.Handler, cfg *authConfig) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !cfg.enabled || cfg.authorized(r) {
			next.ServeHTTP(w, r)
			return
		}
		slog.Warn("admin auth rejected", slog.String("path", r.URL.Path), slog.String("ip", clientIP(r)), slog.String("component", "http"))
		w.Header().Set("WWW-Authenticate", `Basic realm="anonchat admin"`)
		writeError(w, http.StatusUnauthorized, "unauthorized")
	})
}
