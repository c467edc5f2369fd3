package api

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/okian/torturbo/internal/adapters/repository"
	"github.com/okian/torturbo/internal/domain/circuit"
)

const defaultHistoryLimit = 50

type snapshotResponse struct {
	RequestID string            `json:"request_id"`
	Seq       uint64            `json:"seq"`
	State     string            `json:"state"`
	Error     string            `json:"error,omitempty"`
	At        time.Time         `json:"at"`
	Circuits  []circuit.Circuit `json:"circuits"`
}

type pointResponse struct {
	RequestID string      `json:"request_id"`
	Seq       uint64      `json:"seq"`
	At        time.Time   `json:"at"`
	RTT       circuit.RTT `json:"rtt"`
	Millis    *float64    `json:"ms,omitempty"`
}

type historyResponse struct {
	Limit     int                `json:"limit"`
	Snapshots []snapshotResponse `json:"snapshots"`
}

type seriesResponse struct {
	Ordinal int             `json:"ordinal"`
	Limit   int             `json:"limit"`
	Points  []pointResponse `json:"points"`
}

// HistoryHandler serves recorded snapshots and per-circuit RTT series.
type HistoryHandler struct {
	deps Dependencies
}

// NewHistoryHandler creates a new history handler.
func NewHistoryHandler(deps Dependencies) *HistoryHandler {
	return &HistoryHandler{deps: deps}
}

// HandleRecent handles GET /api/history.
func (h *HistoryHandler) HandleRecent(w http.ResponseWriter, r *http.Request) {
	if !allowGet(w, r) {
		return
	}
	limit, err := h.parseLimit(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_limit", err)
		return
	}
	snaps, err := h.deps.Recent(r.Context(), limit)
	if err != nil {
		writeHistoryError(w, err)
		return
	}
	resp := historyResponse{Limit: limit, Snapshots: make([]snapshotResponse, 0, len(snaps))}
	for _, s := range snaps {
		resp.Snapshots = append(resp.Snapshots, snapshotResponse(s))
	}
	writeJSON(w, http.StatusOK, resp)
}

// HandleSeries handles GET /api/history/{ordinal}.
func (h *HistoryHandler) HandleSeries(w http.ResponseWriter, r *http.Request) {
	if !allowGet(w, r) {
		return
	}
	ordinal, err := strconv.Atoi(r.PathValue("ordinal"))
	if err != nil || ordinal < 1 {
		writeError(w, http.StatusBadRequest, "invalid_ordinal",
			fmt.Errorf("%w: ordinal must be a positive integer", ErrBadRequest))
		return
	}
	limit, err := h.parseLimit(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_limit", err)
		return
	}
	points, err := h.deps.Series(r.Context(), ordinal, limit)
	if err != nil {
		writeHistoryError(w, err)
		return
	}
	resp := seriesResponse{Ordinal: ordinal, Limit: limit, Points: make([]pointResponse, 0, len(points))}
	for _, p := range points {
		pr := pointResponse{RequestID: p.RequestID, Seq: p.Seq, At: p.At, RTT: p.RTT}
		if ms, ok := p.RTT.Millis(); ok {
			pr.Millis = &ms
		}
		resp.Points = append(resp.Points, pr)
	}
	writeJSON(w, http.StatusOK, resp)
}

// parseLimit reads ?limit=N. Missing means the default; values above the
// service maximum are capped.
func (h *HistoryHandler) parseLimit(r *http.Request) (int, error) {
	limit := defaultHistoryLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			return 0, fmt.Errorf("%w: limit must be a positive integer", ErrBadRequest)
		}
		limit = n
	}
	if maxLimit := h.deps.MaxHistoryLimit(); maxLimit > 0 && limit > maxLimit {
		limit = maxLimit
	}
	return limit, nil
}

func writeHistoryError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, repository.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", err)
	case errors.Is(err, repository.ErrInvalidLimit), errors.Is(err, repository.ErrInvalidOrdinal):
		writeError(w, http.StatusBadRequest, "bad_request", err)
	case errors.Is(err, repository.ErrClosed):
		writeError(w, http.StatusServiceUnavailable, "unavailable", err)
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", err)
	}
}
