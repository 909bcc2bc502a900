package server

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/onnwee/anonchat/alias"
	"github.com/onnwee/anonchat/db"
	"github.com/onnwee/anonchat/session"
	"github.com/onnwee/anonchat/telemetry"
)

// startRequest is the body of POST /api/session/start. Both fields are
// optional: the channel falls back to TWITCH_CHANNEL and a missing alias list
// to the configured pool. An empty alias string is an empty pool.
type startRequest struct {
	Channel string  `json:"channel"`
	Aliases *string `json:"aliases"`
}

// HandleSessionStart starts a chat session.
func (h *Handlers) HandleSessionStart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req startRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	p := session.Params{Channel: req.Channel}
	if p.Channel == "" {
		p.Channel = h.deps.Config.TwitchChannel
	}
	if req.Aliases != nil {
		p.Pool = alias.ParsePool(*req.Aliases)
	}

	st, err := h.deps.Sessions.Start(r.Context(), p)
	if err != nil {
		log := telemetry.LoggerWithCorr(r.Context())
		switch {
		case errors.Is(err, session.ErrAlreadyRunning):
			writeJSON(w, http.StatusConflict, map[string]any{"error": err.Error(), "status": h.deps.Sessions.Status()})
		case errors.Is(err, session.ErrNoChannel):
			writeError(w, http.StatusBadRequest, err.Error())
		default:
			log.Error("session start failed", slog.Any("err", err), slog.String("component", "http"))
			writeError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// HandleSessionStop stops the running session.
func (h *Handlers) HandleSessionStop(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	st, err := h.deps.Sessions.Stop()
	if err != nil {
		if errors.Is(err, session.ErrNotRunning) {
			writeJSON(w, http.StatusConflict, map[string]any{"error": err.Error(), "status": st})
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// HandleSessionStatus reports the controller state.
func (h *Handlers) HandleSessionStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, h.deps.Sessions.Status())
}

// HandleTranscript returns archived lines, newest page in chronological order.
// Params: channel, session_id, limit (default 100, max 1000).
func (h *Handlers) HandleTranscript(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if h.deps.Store == nil {
		writeError(w, http.StatusServiceUnavailable, "archive not configured (set DB_DSN)")
		return
	}
	q := r.URL.Query()
	f := db.TranscriptFilter{
		Channel:   q.Get("channel"),
		SessionID: q.Get("session_id"),
		Limit:     queryInt(r, "limit", 100),
	}
	lines, err := h.deps.Store.ListTranscript(r.Context(), f)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if lines == nil {
		lines = []db.TranscriptLine{}
	}
	writeJSON(w, http.StatusOK, lines)
}
