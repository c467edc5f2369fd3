package api

import (
	"bytes"
	"net/http"

	"github.com/okian/torturbo/internal/dashboard"
)

// DashboardHandler serves the HTML dashboard.
type DashboardHandler struct {
	deps Dependencies
	page dashboard.PageOptions
}

// NewDashboardHandler creates a new dashboard handler. A zero refresh period
// in page falls back to the poll interval of deps.
func NewDashboardHandler(deps Dependencies, page dashboard.PageOptions) *DashboardHandler {
	return &DashboardHandler{deps: deps, page: page}
}

// HandlePage handles GET / and GET /dashboard.
func (h *DashboardHandler) HandlePage(w http.ResponseWriter, r *http.Request) {
	if !allowGet(w, r) {
		return
	}
	page := h.page
	if page.Refresh <= 0 {
		page.Refresh = h.deps.Interval()
	}
	var buf bytes.Buffer
	if err := dashboard.RenderPage(&buf, h.deps.View(), page); err != nil {
		writeError(w, http.StatusInternalServerError, "render_failed", err)
		return
	}
	writeHTML(w, buf.Bytes())
}

// HandleCards handles GET /dashboard/cards and returns only the grid contents.
func (h *DashboardHandler) HandleCards(w http.ResponseWriter, r *http.Request) {
	if !allowGet(w, r) {
		return
	}
	var buf bytes.Buffer
	if err := dashboard.RenderCards(&buf, h.deps.View()); err != nil {
		writeError(w, http.StatusInternalServerError, "render_failed", err)
		return
	}
	writeHTML(w, buf.Bytes())
}

func writeHTML(w http.ResponseWriter, body []byte) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}
