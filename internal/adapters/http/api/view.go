package api

import (
	"net/http"
	"time"

	"github.com/okian/torturbo/internal/domain/circuit"
	"github.com/okian/torturbo/internal/dashboard"
)

// viewResponse is the JSON shape of a dashboard view. Circuits is null
// unless the view is ready.
type viewResponse struct {
	State       string            `json:"state"`
	Circuits    []circuit.Circuit `json:"circuits"`
	Error       string            `json:"error,omitempty"`
	RequestID   string            `json:"request_id,omitempty"`
	Seq         uint64            `json:"seq"`
	UpdatedAt   *time.Time        `json:"updated_at,omitempty"`
	Placeholder bool              `json:"placeholder"`
}

func newViewResponse(v dashboard.View) viewResponse {
	resp := viewResponse{
		State:       string(v.State),
		Error:       v.ErrorText(),
		RequestID:   v.RequestID,
		Seq:         v.Seq,
		Placeholder: v.ShowPlaceholder(),
	}
	if v.State == dashboard.StateReady {
		resp.Circuits = v.Circuits
		if resp.Circuits == nil {
			resp.Circuits = []circuit.Circuit{}
		}
	}
	if !v.UpdatedAt.IsZero() {
		at := v.UpdatedAt.UTC()
		resp.UpdatedAt = &at
	}
	return resp
}

// ViewHandler serves the current view as JSON.
type ViewHandler struct {
	deps Dependencies
}

// NewViewHandler creates a new view handler.
func NewViewHandler(deps Dependencies) *ViewHandler {
	return &ViewHandler{deps: deps}
}

// HandleView handles GET /api/view.
func (h *ViewHandler) HandleView(w http.ResponseWriter, r *http.Request) {
	if !allowGet(w, r) {
		return
	}
	writeJSON(w, http.StatusOK, newViewResponse(h.deps.View()))
}
