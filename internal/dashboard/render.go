package dashboard

import (
	"embed"
	"fmt"
	htmltemplate "html/template"
	"io"
	texttemplate "text/template"
	"time"
)

//go:embed templates/*.tmpl
var templateFS embed.FS

var (
	htmlTemplates = htmltemplate.Must(htmltemplate.ParseFS(templateFS, "templates/*.html.tmpl"))
	textTemplates = texttemplate.Must(texttemplate.ParseFS(templateFS, "templates/*.txt.tmpl"))
)

// DefaultTitle is the page heading.
const DefaultTitle = "TorTurbo Dashboard"

// PageOptions controls the surrounding page of RenderPage.
type PageOptions struct {
	Title        string
	StaticPrefix string        // where dashboard.css and dashboard.js are served
	CardsURL     string        // fragment polled by the page script
	Refresh      time.Duration // page script refresh period
}

type pageData struct {
	Title         string
	StaticPrefix  string
	CardsURL      string
	RefreshMillis int64
	View          View
}

// RenderPage writes the full dashboard page for v.
func RenderPage(w io.Writer, v View, opts PageOptions) error {
	if opts.Title == "" {
		opts.Title = DefaultTitle
	}
	if opts.StaticPrefix == "" {
		opts.StaticPrefix = "/static"
	}
	if opts.CardsURL == "" {
		opts.CardsURL = "/dashboard/cards"
	}
	if opts.Refresh <= 0 {
		opts.Refresh = defaultInterval
	}
	data := pageData{
		Title:         opts.Title,
		StaticPrefix:  opts.StaticPrefix,
		CardsURL:      opts.CardsURL,
		RefreshMillis: opts.Refresh.Milliseconds(),
		View:          v,
	}
	if err := htmlTemplates.ExecuteTemplate(w, "page", data); err != nil {
		return fmt.Errorf("render page: %w", err)
	}
	return nil
}

// RenderCards writes only the grid contents: one card per circuit when the
// view is ready, otherwise the "Loading…" placeholder. A ready view with no
// circuits renders nothing at all.
func RenderCards(w io.Writer, v View) error {
	if err := htmlTemplates.ExecuteTemplate(w, "cards", v); err != nil {
		return fmt.Errorf("render cards: %w", err)
	}
	return nil
}

// RenderText writes the view as plain text, one line per circuit.
func RenderText(w io.Writer, v View) error {
	if err := textTemplates.ExecuteTemplate(w, "text", v); err != nil {
		return fmt.Errorf("render text: %w", err)
	}
	return nil
}
