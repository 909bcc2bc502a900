package server

import (
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strings"
)

const (
	corsAllowMethods = "GET, POST, OPTIONS"
	corsAllowHeaders = "Content-Type, Authorization, X-Admin-Token, X-Correlation-ID"
)

// corsConfig decides which browser origins may call the API and open the
// overlay websocket. Permissive (the dev default) allows any origin.
type corsConfig struct {
	allowedOrigins []string
	permissive     bool
}

func loadCORSConfig() *corsConfig {
	cfg := &corsConfig{allowedOrigins: []string{}}
	switch strings.ToLower(os.Getenv("ENV")) {
	case "", "dev", "development":
		cfg.permissive = true
	}
	if v := os.Getenv("CORS_PERMISSIVE"); v != "" {
		cfg.permissive = v == "1" || v == "true"
	}
	for _, o := range strings.Split(os.Getenv("CORS_ALLOWED_ORIGINS"), ",") {
		if o = strings.TrimSpace(o); o != "" {
			cfg.allowedOrigins = append(cfg.allowedOrigins, o)
		}
	}
	if !cfg.permissive && len(cfg.allowedOrigins) == 0 {
		slog.Warn("CORS restricted and CORS_ALLOWED_ORIGINS empty, cross-origin overlays and websocket viewers will be refused", slog.String("component", "http"))
	}
	return cfg
}

// originHosts converts the allowed origins to the host patterns the websocket
// handshake matches against ("https://*.example.com" becomes "*.example.com").
func (c *corsConfig) originHosts() []string {
	out := make([]string, 0, len(c.allowedOrigins))
	for _, o := range c.allowedOrigins {
		if u, err := url.Parse(o); err == nil && u.Host != "" {
			out = append(out, u.Host)
			continue
		}
		out = append(out, o)
	}
	return out
}

// isOriginAllowed matches exact origins and "*.domain" patterns, which cover
// subdomains and the bare domain over http or https.
func isOriginAllowed(origin string, allowedOrigins []string) bool {
	for _, allowed := range allowedOrigins {
		if origin == allowed {
			return true
		}
		domain, ok := strings.CutPrefix(allowed, "*.")
		if !ok {
			continue
		}
		if strings.HasSuffix(origin, "."+domain) || origin == "https://"+domain || origin == "http://"+domain {
			return true
		}
	}
	return false
}

func withCORSConfig(next http.Handler, cfg *corsConfig) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		switch origin := r.Header.Get("Origin"); {
		case cfg.permissive:
			h.Set("Access-Control-Allow-Origin", "*")
		case origin != "" && isOriginAllowed(origin, cfg.allowedOrigins):
			h.Set("Access-Control-Allow-Origin", origin)
			h.Set("Access-Control-Allow-Credentials", "true")
			h.Add("Vary", "Origin")
		}
		if h.Get("Access-Control-Allow-Origin") != "" {
			h.Set("Access-Control-Allow-Methods", corsAllowMethods)
			h.Set("Access-Control-Allow-Headers", corsAllowHeaders)
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
