// Package api declares HTTP contracts and route registration helpers.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/okian/torturbo/internal/adapters/repository"
	"github.com/okian/torturbo/internal/dashboard"
	"github.com/okian/torturbo/pkg/logger"
)

// Dependencies required by HTTP handlers. Using an interface bundle keeps
// the handler layer loosely coupled to implementations in other packages.
type Dependencies interface {
	// View returns the current dashboard view.
	View() dashboard.View

	// Subscribe delivers every applied view until cancel is called.
	Subscribe(buffer int) (<-chan dashboard.View, func())

	// Read operations expose the recorded history.
	Recent(ctx context.Context, limit int) ([]repository.Snapshot, error)
	Series(ctx context.Context, ordinal, limit int) ([]repository.Point, error)

	Interval() time.Duration
	MaxHistoryLimit() int
}

// Server wires HTTP routes for the dashboard and its API.
type Server struct {
	healthHandler    *HealthHandler
	statsHandler     *StatsHandler
	dashboardHandler *DashboardHandler
	viewHandler      *ViewHandler
	liveHandler      *LiveHandler
	historyHandler   *HistoryHandler
}

// NewServer creates a new API server with all handlers.
func NewServer(deps Dependencies, statsProvider StatsProvider, opts ...Option) *Server {
	cfg := newConfig(opts)
	return &Server{
		healthHandler:    NewHealthHandler(),
		statsHandler:     NewStatsHandler(statsProvider),
		dashboardHandler: NewDashboardHandler(deps, cfg.page),
		viewHandler:      NewViewHandler(deps),
		liveHandler:      NewLiveHandler(deps, cfg.ping, cfg.logger),
		historyHandler:   NewHistoryHandler(deps),
	}
}

// Register attaches all HTTP routes to mux.
func (s *Server) Register(ctx context.Context, mux *http.ServeMux) {
	mux.HandleFunc("/{$}", MetricsMiddleware(s.dashboardHandler.HandlePage, "root"))
	mux.HandleFunc("/dashboard", MetricsMiddleware(s.dashboardHandler.HandlePage, "dashboard"))
	mux.HandleFunc("/dashboard/cards", MetricsMiddleware(s.dashboardHandler.HandleCards, "dashboard_cards"))
	mux.HandleFunc("/api/view", MetricsMiddleware(s.viewHandler.HandleView, "view"))
	mux.HandleFunc("/api/live", MetricsMiddleware(s.liveHandler.HandleLive, "live"))
	mux.HandleFunc("/api/history", MetricsMiddleware(s.historyHandler.HandleRecent, "history"))
	mux.HandleFunc("/api/history/{ordinal}", MetricsMiddleware(s.historyHandler.HandleSeries, "history_series"))
	mux.HandleFunc("/healthz", MetricsMiddleware(s.healthHandler.HandleHealth, "healthz"))
	mux.HandleFunc("/stats", MetricsMiddleware(s.statsHandler.HandleStats, "stats"))

	logger.Get().Named("api").Debug(ctx, "api routes registered")
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code string, err error) {
	msg := http.StatusText(status)
	if err != nil {
		msg = err.Error()
	}
	writeJSON(w, status, errorResponse{Code: code, Message: msg})
}

// allowGet answers 405 for anything but GET and HEAD.
func allowGet(w http.ResponseWriter, r *http.Request) bool {
	if r.Method == http.MethodGet || r.Method == http.MethodHead {
		return true
	}
	w.Header().Set("Allow", "GET, HEAD")
	writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", ErrMethodNotAllowed)
	return false
}
