package server

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/onnwee/anonchat/alias"
	"github.com/onnwee/anonchat/chat"
	"github.com/onnwee/anonchat/config"
	"github.com/onnwee/anonchat/db"
	"github.com/onnwee/anonchat/overlay"
	"github.com/onnwee/anonchat/session"
	"github.com/onnwee/anonchat/testutil"
)

type fakeSessions struct {
	mu      sync.Mutex
	running bool
	params  session.Params
	fatal   string
}

func (f *fakeSessions) Start(ctx context.Context, p session.Params) (session.Status, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if p.Channel == "" {
		return session.Status{}, session.ErrNoChannel
	}
	if f.running {
		return session.Status{}, session.ErrAlreadyRunning
	}
	f.running = true
	f.params = p
	return f.statusLocked(), nil
}

func (f *fakeSessions) Stop() (session.Status, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.running {
		return session.Status{State: session.StateStopped}, session.ErrNotRunning
	}
	f.running = false
	return session.Status{State: session.StateStopped, Channel: f.params.Channel}, nil
}

func (f *fakeSessions) Status() session.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.statusLocked()
}

func (f *fakeSessions) statusLocked() session.Status {
	if !f.running {
		return session.Status{State: session.StateStopped, Fatal: f.fatal}
	}
	return session.Status{State: session.StateRunning, SessionID: "sess-1", Channel: f.params.Channel, PoolSize: len(f.params.Pool), Fatal: f.fatal}
}

type testEnv struct {
	sessions *fakeSessions
	log      *overlay.Log
	handler  http.Handler
	deps     Deps
}

func newTestEnv(t *testing.T, mutate func(*Deps)) *testEnv {
	t.Helper()
	for _, k := range []string{"ADMIN_TOKEN", "ADMIN_USERNAME", "ADMIN_PASSWORD", "ENV", "CORS_PERMISSIVE", "CORS_ALLOWED_ORIGINS", "RATE_LIMIT_ENABLED"} {
		t.Setenv(k, "")
	}
	env := &testEnv{sessions: &fakeSessions{}, log: overlay.NewLog(10)}
	env.deps = Deps{
		Config:   &config.Config{TwitchChannel: "defaultchan", OverlayHistory: 10},
		Sessions: env.sessions,
		Overlay:  env.log,
	}
	if mutate != nil {
		mutate(&env.deps)
	}
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	env.handler = NewMux(ctx, env.deps)
	return env
}

func (e *testEnv) do(t *testing.T, method, target, body string, hdr ...string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	for i := 0; i+1 < len(hdr); i += 2 {
		req.Header.Set(hdr[i], hdr[i+1])
	}
	rr := httptest.NewRecorder()
	e.handler.ServeHTTP(rr, req)
	return rr
}

func line(text string) chat.DisplayRecord {
	return chat.DisplayRecord{Pseudonym: "Otter", DisplayName: "RealViewer", Text: text, Time: "22:13", BadgeURLs: []string{}}
}

func TestHealthzOK(t *testing.T) {
	env := newTestEnv(t, nil)
	rr := env.do(t, http.MethodGet, "/healthz", "")
	if rr.Code != http.StatusOK || rr.Body.String() != "ok" {
		t.Fatalf("expected 200 ok, got %d %q", rr.Code, rr.Body.String())
	}
	if rr.Header().Get("X-Correlation-ID") == "" {
		t.Error("missing correlation id header")
	}
}

func TestHealthzWithDatabase(t *testing.T) {
	store := testutil.SetupTestDB(t)
	env := newTestEnv(t, func(d *Deps) { d.Store = store })
	if rr := env.do(t, http.MethodGet, "/healthz", ""); rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	store.Close()
	if rr := env.do(t, http.MethodGet, "/healthz", ""); rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("closed db: expected 503, got %d", rr.Code)
	}
}

func TestReadyzReportsHaltedSession(t *testing.T) {
	env := newTestEnv(t, nil)
	if rr := env.do(t, http.MethodGet, "/readyz", ""); rr.Code != http.StatusOK {
		t.Fatalf("expected ready, got %d", rr.Code)
	}
	env.sessions.fatal = "alias pool is empty"
	rr := env.do(t, http.MethodGet, "/readyz", "")
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rr.Code)
	}
	var body map[string]string
	_ = json.NewDecoder(rr.Body).Decode(&body)
	if body["failed_check"] != "session" {
		t.Errorf("failed_check = %q", body["failed_check"])
	}
}

func TestSessionStartStop(t *testing.T) {
	env := newTestEnv(t, nil)

	rr := env.do(t, http.MethodPost, "/api/session/start", `{"channel":"SomeChannel","aliases":"Fox\n\nOwl\n"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("start: %d %s", rr.Code, rr.Body.String())
	}
	var st session.Status
	if err := json.NewDecoder(rr.Body).Decode(&st); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if st.State != session.StateRunning || st.PoolSize != 2 {
		t.Errorf("status = %+v", st)
	}
	if got := env.sessions.params.Pool; len(got) != 2 || got[0] != "Fox" || got[1] != "Owl" {
		t.Errorf("pool = %v", got)
	}

	if rr := env.do(t, http.MethodPost, "/api/session/start", `{}`); rr.Code != http.StatusConflict {
		t.Errorf("second start: expected 409, got %d", rr.Code)
	}
	if rr := env.do(t, http.MethodGet, "/api/session", ""); rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), `"running"`) {
		t.Errorf("status: %d %s", rr.Code, rr.Body.String())
	}
	if rr := env.do(t, http.MethodPost, "/api/session/stop", ""); rr.Code != http.StatusOK {
		t.Errorf("stop: expected 200, got %d", rr.Code)
	}
	if rr := env.do(t, http.MethodPost, "/api/session/stop", ""); rr.Code != http.StatusConflict {
		t.Errorf("second stop: expected 409, got %d", rr.Code)
	}
}

func TestSessionStartDefaults(t *testing.T) {
	env := newTestEnv(t, nil)

	// empty body: configured channel and default pool
	if rr := env.do(t, http.MethodPost, "/api/session/start", ""); rr.Code != http.StatusOK {
		t.Fatalf("start: %d %s", rr.Code, rr.Body.String())
	}
	if env.sessions.params.Channel != "defaultchan" || env.sessions.params.Pool != nil {
		t.Errorf("params = %+v", env.sessions.params)
	}
	_, _ = env.sessions.Stop()

	// an explicit empty list is an empty pool, not the default
	if rr := env.do(t, http.MethodPost, "/api/session/start", `{"aliases":""}`); rr.Code != http.StatusOK {
		t.Fatalf("start: %d", rr.Code)
	}
	if p := env.sessions.params.Pool; p == nil || len(p) != 0 {
		t.Errorf("pool = %#v, want empty non-nil", p)
	}
}

func TestSessionStartErrors(t *testing.T) {
	env := newTestEnv(t, func(d *Deps) { d.Config.TwitchChannel = "" })
	if rr := env.do(t, http.MethodPost, "/api/session/start", `{`); rr.Code != http.StatusBadRequest {
		t.Errorf("bad json: expected 400, got %d", rr.Code)
	}
	if rr := env.do(t, http.MethodPost, "/api/session/start", `{}`); rr.Code != http.StatusBadRequest {
		t.Errorf("no channel: expected 400, got %d", rr.Code)
	}
	if rr := env.do(t, http.MethodGet, "/api/session/start", ""); rr.Code != http.StatusMethodNotAllowed {
		t.Errorf("GET start: expected 405, got %d", rr.Code)
	}
}

func TestSessionControlRequiresAdmin(t *testing.T) {
	t.Setenv("ADMIN_TOKEN", "s3cret")
	sessions := &fakeSessions{}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h := NewMux(ctx, Deps{Config: &config.Config{TwitchChannel: "c"}, Sessions: sessions, Overlay: overlay.NewLog(5)})

	req := httptest.NewRequest(http.MethodPost, "/api/session/start", nil)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}

	req = httptest.NewRequest(http.MethodPost, "/api/session/start", nil)
	req.Header.Set("X-Admin-Token", "s3cret")
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}

	// the overlay and status stay public
	for _, path := range []string{"/", "/api/session", "/healthz"} {
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, path, nil))
		if rr.Code != http.StatusOK {
			t.Errorf("%s: expected 200, got %d", path, rr.Code)
		}
	}
}

func TestTranscript(t *testing.T) {
	env := newTestEnv(t, nil)
	if rr := env.do(t, http.MethodGet, "/api/transcript", ""); rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("no store: expected 503, got %d", rr.Code)
	}

	store := testutil.SetupTestDB(t)
	err := store.InsertTranscript(context.Background(), []db.TranscriptLine{
		{SessionID: "s", Channel: "c", Pseudonym: "Fox", Message: "one", SentAt: time.Now()},
		{SessionID: "s", Channel: "c", Pseudonym: "Owl", Message: "two", SentAt: time.Now()},
	})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	env = newTestEnv(t, func(d *Deps) { d.Store = store })
	rr := env.do(t, http.MethodGet, "/api/transcript?channel=c&limit=1", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d %s", rr.Code, rr.Body.String())
	}
	var lines []db.TranscriptLine
	_ = json.NewDecoder(rr.Body).Decode(&lines)
	if len(lines) != 1 || lines[0].Message != "two" || lines[0].Pseudonym != "Owl" {
		t.Errorf("lines = %+v", lines)
	}

	rr = env.do(t, http.MethodGet, "/api/transcript?channel=none", "")
	if strings.TrimSpace(rr.Body.String()) != "[]" {
		t.Errorf("empty result = %q, want []", rr.Body.String())
	}
}

func TestOverlayPage(t *testing.T) {
	env := newTestEnv(t, nil)
	env.log.Render(line("<b>hi</b>"))

	rr := env.do(t, http.MethodGet, "/", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	body := rr.Body.String()
	if !strings.Contains(body, "Otter") || !strings.Contains(body, "&lt;b&gt;hi&lt;/b&gt;") {
		t.Error("page missing escaped line")
	}
	if strings.Contains(body, "RealViewer") {
		t.Error("page leaked the display name")
	}
	if rr := env.do(t, http.MethodGet, "/nope", ""); rr.Code != http.StatusNotFound {
		t.Errorf("unknown path: expected 404, got %d", rr.Code)
	}
}

func TestConfigHidesSecrets(t *testing.T) {
	env := newTestEnv(t, func(d *Deps) {
		d.Config.TwitchClientSecret = "very-secret"
		d.Config.TwitchOAuthToken = "oauth:also-secret"
		d.Config.AliasPool = alias.Pool{"Fox", "Owl"}
	})
	rr := env.do(t, http.MethodGet, "/config", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if strings.Contains(rr.Body.String(), "secret") {
		t.Errorf("config leaked a secret: %s", rr.Body.String())
	}
	if strings.Contains(rr.Body.String(), "Fox") {
		t.Error("config should report pool size, not entries")
	}
}

// readEvent reads one SSE event, skipping comment lines.
func readEvent(t *testing.T, r *bufio.Reader) (event, data string) {
	t.Helper()
	for {
		l, err := r.ReadString('\n')
		if err != nil {
			t.Fatalf("read sse: %v", err)
		}
		l = strings.TrimRight(l, "\n")
		switch {
		case l == "" && event != "":
			return event, data
		case strings.HasPrefix(l, "event: "):
			event = strings.TrimPrefix(l, "event: ")
		case strings.HasPrefix(l, "data: "):
			data = strings.TrimPrefix(l, "data: ")
		}
	}
}

func TestOverlayStreamSSE(t *testing.T) {
	env := newTestEnv(t, nil)
	env.log.Render(line("before"))
	srv := httptest.NewServer(env.handler)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/overlay/stream", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("content type = %q", ct)
	}
	r := bufio.NewReader(resp.Body)

	ev, data := readEvent(t, r)
	var snap []overlay.Line
	if err := json.Unmarshal([]byte(data), &snap); ev != "snapshot" || err != nil {
		t.Fatalf("first event = %s %s (%v)", ev, data, err)
	}
	if len(snap) != 1 || snap[0].Text != "before" || strings.Contains(data, "RealViewer") {
		t.Fatalf("snapshot = %s", data)
	}

	env.log.Render(line("after"))
	ev, data = readEvent(t, r)
	var got overlay.Line
	if err := json.Unmarshal([]byte(data), &got); ev != "line" || err != nil {
		t.Fatalf("second event = %s %s (%v)", ev, data, err)
	}
	if got.Text != "after" || got.Seq != snap[0].Seq+1 || got.Pseudonym != "Otter" {
		t.Errorf("line = %+v", got)
	}

	// a reset ends the stream so the viewer reconnects to an empty log
	env.log.Reset()
	if _, err := io.ReadAll(r); err != nil {
		t.Errorf("stream did not end cleanly: %v", err)
	}
}

func TestOverlayWebsocket(t *testing.T) {
	env := newTestEnv(t, nil)
	env.log.Render(line("before"))
	srv := httptest.NewServer(env.handler)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	u, _ := url.Parse(srv.URL)
	u.Scheme = "ws"
	u.Path = "/overlay/ws"
	c, _, err := websocket.Dial(ctx, u.String(), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer c.Close(websocket.StatusNormalClosure, "")

	var msg wsMessage
	if err := wsjson.Read(ctx, c, &msg); err != nil {
		t.Fatalf("read snapshot: %v", err)
	}
	if msg.Type != "snapshot" || len(msg.Lines) != 1 || msg.Lines[0].Text != "before" {
		t.Fatalf("snapshot = %+v", msg)
	}

	env.log.Render(line("after"))
	msg = wsMessage{}
	if err := wsjson.Read(ctx, c, &msg); err != nil {
		t.Fatalf("read line: %v", err)
	}
	if msg.Type != "line" || msg.Line == nil || msg.Line.Text != "after" {
		t.Fatalf("line = %+v", msg)
	}

	env.log.Reset()
	_, _, err = c.Read(ctx)
	if status := websocket.CloseStatus(err); status != websocket.StatusGoingAway {
		t.Errorf("close status = %v (err %v), want going away", status, err)
	}
}

func TestTwitchOAuthFlow(t *testing.T) {
	mock := testutil.NewMockTwitchServer(t)
	mock.MockOAuthTokenResponse("user-access", "user-refresh", 14400, "chat:read")
	store := testutil.SetupTestDB(t)
	var notified string
	env := newTestEnv(t, func(d *Deps) {
		d.Config = &config.Config{
			TwitchClientID:     "cid",
			TwitchClientSecret: "csecret",
			TwitchRedirectURI:  "http://localhost:8080/auth/twitch/callback",
			TwitchScopes:       "chat:read",
		}
		d.Store = store
		d.HTTPClient = mock.HTTPClient()
		d.OnUserToken = func(at string) { notified = at }
	})

	rr := env.do(t, http.MethodGet, "/auth/twitch/start", "")
	if rr.Code != http.StatusFound {
		t.Fatalf("start: expected 302, got %d", rr.Code)
	}
	loc, err := url.Parse(rr.Header().Get("Location"))
	if err != nil || loc.Host != "id.twitch.tv" {
		t.Fatalf("redirect = %q", rr.Header().Get("Location"))
	}
	q := loc.Query()
	if q.Get("client_id") != "cid" || q.Get("scope") != "chat:read" || q.Get("state") == "" {
		t.Errorf("authorize query = %v", q)
	}
	state := q.Get("state")

	if rr := env.do(t, http.MethodGet, "/auth/twitch/callback?code=abc&state=forged", ""); rr.Code != http.StatusBadRequest {
		t.Errorf("forged state: expected 400, got %d", rr.Code)
	}

	rr = env.do(t, http.MethodGet, "/auth/twitch/callback?code=abc&state="+state, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("callback: %d %s", rr.Code, rr.Body.String())
	}
	tok, err := store.GetOAuthToken(context.Background(), TwitchProvider)
	if err != nil {
		t.Fatalf("stored token: %v", err)
	}
	if tok.AccessToken != "user-access" || tok.RefreshToken != "user-refresh" || tok.Scope != "chat:read" {
		t.Errorf("stored %+v", tok)
	}
	if notified != "user-access" {
		t.Errorf("OnUserToken got %q", notified)
	}

	// states are single use
	if rr := env.do(t, http.MethodGet, "/auth/twitch/callback?code=abc&state="+state, ""); rr.Code != http.StatusBadRequest {
		t.Errorf("replayed state: expected 400, got %d", rr.Code)
	}
}

func TestTwitchOAuthNotConfigured(t *testing.T) {
	env := newTestEnv(t, nil)
	if rr := env.do(t, http.MethodGet, "/auth/twitch/start", ""); rr.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rr.Code)
	}
	if rr := env.do(t, http.MethodGet, "/auth/twitch/callback", ""); rr.Code != http.StatusBadRequest {
		t.Errorf("missing code: expected 400, got %d", rr.Code)
	}
}

func TestStartAndShutdown(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- Start(ctx, Deps{Config: &config.Config{}, Sessions: &fakeSessions{}, Overlay: overlay.NewLog(1)}, "127.0.0.1:0")
	}()

	cancel()
	if err := <-done; err != nil {
		t.Fatalf("server returned error: %v", err)
	}
}
