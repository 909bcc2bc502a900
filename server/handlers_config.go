package server

import (
	"net/http"
	"os"
	"strings"

	"github.com/onnwee/anonchat/telemetry"
)

// HandleConfig returns the non-secret settings the overlay runs with.
func (h *Handlers) HandleConfig(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	cfg := h.deps.Config
	out := map[string]any{
		"channel":         cfg.TwitchChannel,
		"bot_username":    cfg.TwitchBotUsername,
		"anonymous_irc":   cfg.TwitchBotUsername == "",
		"alias_pool":      len(cfg.AliasPool),
		"alias_file":      cfg.AliasPoolFile != "",
		"time_layout":     cfg.OverlayTimeLayout,
		"history":         cfg.OverlayHistory,
		"auto_start":      cfg.ChatAutoStart,
		"archive":         h.deps.Store != nil,
		"helix":           cfg.ValidateHelixReady() == nil,
		"log_level":       strings.ToLower(os.Getenv("LOG_LEVEL")),
		"overlay_viewers": h.deps.Overlay.Viewers(),
		"tracing":         telemetry.IsTracingEnabled(),
	}
	if cfg.OverlayLocation != nil {
		out["timezone"] = cfg.OverlayLocation.String()
	}
	writeJSON(w, http.StatusOK, out)
}
