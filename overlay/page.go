package overlay

import (
	_ "embed"
	"html/template"
	"log/slog"
	"net/http"
)

//go:embed page.html.tmpl
var pageSource string

var pageTemplate = template.Must(template.New("overlay").Parse(pageSource))

// Page serves the overlay document. History is rendered on the server; the
// embedded script follows StreamPath and appends new lines with auto-scroll.
type Page struct {
	Log        *Log
	Title      string
	StreamPath string
}

type pageData struct {
	Title      string
	StreamPath string
	Lines      []Line
}

func (p *Page) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	data := pageData{Title: p.Title, StreamPath: p.StreamPath}
	if data.Title == "" {
		data.Title = "chat"
	}
	if data.StreamPath == "" {
		data.StreamPath = "/overlay/stream"
	}
	if p.Log != nil {
		data.Lines = p.Log.Snapshot()
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	if err := pageTemplate.Execute(w, data); err != nil {
		slog.Warn("overlay page render failed", slog.String("component", "overlay"), slog.Any("err", err))
	}
}
