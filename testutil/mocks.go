// Package testutil holds shared fixtures: a mock Twitch API server and a
// migrated test database.
package testutil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
)

// MockTwitchServer creates a test server that mocks Twitch Helix and OAuth responses
type MockTwitchServer struct {
	*httptest.Server

	mu       sync.Mutex
	Handlers map[string]http.HandlerFunc
	requests map[string]int
}

// NewMockTwitchServer creates a new mock Twitch API server
func NewMockTwitchServer(t *testing.T) *MockTwitchServer {
	t.Helper()
	m := &MockTwitchServer{
		Handlers: make(map[string]http.HandlerFunc),
		requests: make(map[string]int),
	}
	m.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.URL.Path
		m.mu.Lock()
		m.requests[key]++
		handler, ok := m.Handlers[key]
		m.mu.Unlock()
		if ok {
			handler(w, r)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	t.Cleanup(m.Close)
	return m
}

// Handle registers fn for path.
func (m *MockTwitchServer) Handle(path string, fn http.HandlerFunc) {
	m.mu.Lock()
	m.Handlers[path] = fn
	m.mu.Unlock()
}

// Requests returns how many times path was hit.
func (m *MockTwitchServer) Requests(path string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.requests[path]
}

// HTTPClient returns a client that sends every request, whatever its host, to
// the mock server. Pass it to the Helix client, token source or OAuth helpers.
func (m *MockTwitchServer) HTTPClient() *http.Client {
	return &http.Client{Transport: &RewriteTransport{Transport: http.DefaultTransport, Host: m.URL}}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v) //nolint:errcheck // test mock response
}

// MockUserResponse adds a handler for /helix/users endpoint
func (m *MockTwitchServer) MockUserResponse(userID, login string) {
	m.Handle("/helix/users", func(w http.ResponseWriter, r *http.Request) {
		if !strings.EqualFold(r.URL.Query().Get("login"), login) {
			writeJSON(w, map[string]any{"data": []any{}})
			return
		}
		writeJSON(w, map[string]any{"data": []map[string]string{{"id": userID, "login": login}}})
	})
}

// Badge is one badge version served by the mock.
type Badge struct {
	SetID, VersionID, URL string
}

func badgeSets(list []Badge) []map[string]any {
	bySet := map[string][]map[string]string{}
	var order []string
	for _, b := range list {
		if _, ok := bySet[b.SetID]; !ok {
			order = append(order, b.SetID)
		}
		bySet[b.SetID] = append(bySet[b.SetID], map[string]string{
			"id":           b.VersionID,
			"image_url_1x": b.URL,
			"image_url_2x": b.URL,
			"image_url_4x": b.URL,
		})
	}
	out := make([]map[string]any, 0, len(order))
	for _, id := range order {
		out = append(out, map[string]any{"set_id": id, "versions": bySet[id]})
	}
	return out
}

// MockChannelBadges adds a handler for /helix/chat/badges
func (m *MockTwitchServer) MockChannelBadges(broadcasterID string, list []Badge) {
	m.Handle("/helix/chat/badges", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("broadcaster_id") != broadcasterID {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		writeJSON(w, map[string]any{"data": badgeSets(list)})
	})
}

// MockGlobalBadges adds a handler for /helix/chat/badges/global
func (m *MockTwitchServer) MockGlobalBadges(list []Badge) {
	m.Handle("/helix/chat/badges/global", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{"data": badgeSets(list)})
	})
}

// MockStreamsResponse adds a handler for /helix/streams endpoint
func (m *MockTwitchServer) MockStreamsResponse(streams []map[string]any) {
	m.Handle("/helix/streams", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{"data": streams})
	})
}

// MockOAuthTokenResponse adds a handler for the OAuth token endpoint. Every
// grant type gets the same answer; scopes are reported as a JSON array the way
// Twitch does.
func (m *MockTwitchServer) MockOAuthTokenResponse(accessToken, refreshToken string, expiresIn int, scopes ...string) {
	m.Handle("/oauth2/token", func(w http.ResponseWriter, r *http.Request) {
		resp := map[string]any{
			"access_token": accessToken,
			"expires_in":   expiresIn,
			"token_type":   "bearer",
		}
		if refreshToken != "" {
			resp["refresh_token"] = refreshToken
		}
		if len(scopes) > 0 {
			resp["scope"] = scopes
		}
		writeJSON(w, resp)
	})
}

// RewriteTransport sends every request to Host, keeping the path and query.
type RewriteTransport struct {
	Transport http.RoundTripper
	Host      string
}

func (t *RewriteTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	req.URL.Scheme = "http"
	host := strings.TrimPrefix(strings.TrimPrefix(t.Host, "http://"), "https://")
	req.URL.Host = host
	req.Host = host
	return t.Transport.RoundTrip(req)
}
