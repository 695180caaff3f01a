package server

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"log/slog"
	"net/http"

	"github.com/brojonat/memoboard/service/memo"
)

//go:embed templates/*.html
var templatesFS embed.FS

var templateFuncs = template.FuncMap{
	"shortAddr": shortAddr,
}

// TemplateRenderer renders the embedded HTML pages.
type TemplateRenderer struct {
	templates *template.Template
	logger    *slog.Logger
}

// NewTemplateRenderer parses the embedded templates.
func NewTemplateRenderer(logger *slog.Logger) (*TemplateRenderer, error) {
	tmpl, err := template.New("").Funcs(templateFuncs).ParseFS(templatesFS, "templates/*.html")
	if err != nil {
		return nil, fmt.Errorf("failed to parse templates: %w", err)
	}
	return &TemplateRenderer{templates: tmpl, logger: logger}, nil
}

// Render executes name into a buffer; a failed render writes nothing.
func (tr *TemplateRenderer) Render(w http.ResponseWriter, name string, data any) error {
	var buf bytes.Buffer
	if err := tr.templates.ExecuteTemplate(&buf, name, data); err != nil {
		return err
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, err := buf.WriteTo(w)
	return err
}

// boardPage is the data behind board.html.
type boardPage struct {
	View    memo.View
	Backend string
	Price   string
}

// handleBoardPage serves the memo board. The page renders the current view
// server-side and then follows /api/v1/stream.
// GET /
func handleBoardPage(renderer *TemplateRenderer, ctrl Controller, backend, price string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		page := boardPage{
			View:    ctrl.CurrentView(),
			Backend: backend,
			Price:   price,
		}
		if err := renderer.Render(w, "board.html", page); err != nil {
			renderer.logger.ErrorContext(r.Context(), "failed to render board", "error", err)
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		}
	}
}

// shortAddr abbreviates a long address or signature to its ends.
func shortAddr(s string) string {
	if len(s) <= 14 {
		return s
	}
	return s[:6] + "…" + s[len(s)-4:]
}
