package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/onnwee/anonchat/overlay"
	"github.com/onnwee/anonchat/telemetry"
)

const (
	streamPingInterval = 20 * time.Second
	wsWriteTimeout     = 5 * time.Second
)

// overlayPage serves the overlay at / and 404s every other unmatched path.
func (h *Handlers) overlayPage() http.Handler {
	page := &overlay.Page{Log: h.deps.Overlay, StreamPath: "/overlay/stream"}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		page.ServeHTTP(w, r)
	})
}

// HandleOverlayStream streams the overlay log as Server-Sent Events: one
// "snapshot" event with the retained history, then a "line" event per rendered
// line. The stream ends when the viewer falls behind or the log is reset; the
// browser's EventSource reconnects and receives a fresh snapshot.
func (h *Handlers) HandleOverlayStream(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	snap, sub := h.deps.Overlay.Subscribe()
	defer sub.Close()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	log := telemetry.LoggerWithCorr(r.Context()).With(slog.String("component", "overlay_sse"))
	if snap == nil {
		snap = []overlay.Line{}
	}
	if err := writeEvent(w, "snapshot", snap); err != nil {
		log.Debug("sse write failed", slog.Any("err", err))
		return
	}
	flusher.Flush()

	ticker := time.NewTicker(streamPingInterval)
	defer ticker.Stop()
	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := fmt.Fprint(w, ":ping\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case line, ok := <-sub.C:
			if !ok {
				log.Debug("overlay subscription closed")
				return
			}
			if err := writeEvent(w, "line", line); err != nil {
				log.Debug("sse write failed", slog.Any("err", err))
				return
			}
			flusher.Flush()
		}
	}
}

func writeEvent(w http.ResponseWriter, event string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
	return err
}

// wsMessage is the websocket frame: Type "snapshot" carries Lines, Type
// "line" carries Line.
type wsMessage struct {
	Type  string         `json:"type"`
	Lines []overlay.Line `json:"lines,omitempty"`
	Line  *overlay.Line  `json:"line,omitempty"`
}

// HandleOverlayWS is the websocket equivalent of HandleOverlayStream. The
// server closes with StatusGoingAway when the viewer falls behind or the log
// is reset.
func (h *Handlers) HandleOverlayWS(w http.ResponseWriter, r *http.Request) {
	opts := &websocket.AcceptOptions{}
	if h.wsOrigins.permissive {
		opts.InsecureSkipVerify = true
	} else {
		opts.OriginPatterns = h.wsOrigins.originHosts()
	}
	c, err := websocket.Accept(w, r, opts)
	if err != nil {
		// Accept has already written the error response
		slog.Debug("websocket accept failed", slog.Any("err", err), slog.String("component", "overlay_ws"))
		return
	}
	defer c.Close(websocket.StatusInternalError, "")

	// viewers never send; CloseRead handles pings and reports the peer closing
	ctx := c.CloseRead(r.Context())

	snap, sub := h.deps.Overlay.Subscribe()
	defer sub.Close()

	if snap == nil {
		snap = []overlay.Line{}
	}
	if err := wsWrite(ctx, c, wsMessage{Type: "snapshot", Lines: snap}); err != nil {
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case line, ok := <-sub.C:
			if !ok {
				// the log either evicted this viewer or was reset
				_ = c.Close(websocket.StatusGoingAway, "overlay reset or viewer too slow")
				return
			}
			if err := wsWrite(ctx, c, wsMessage{Type: "line", Line: &line}); err != nil {
				return
			}
		}
	}
}

func wsWrite(ctx context.Context, c *websocket.Conn, msg wsMessage) error {
	ctx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
	defer cancel()
	return wsjson.Write(ctx, c, msg)
}
