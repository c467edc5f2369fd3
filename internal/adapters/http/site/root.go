// Package site serves the embedded dashboard assets.
package site

import (
	"context"
	"errors"
	"net/http"

	"github.com/okian/torturbo/internal/adapters/http/api"
)

// Prefix is where the assets are mounted.
const Prefix = "/static/"

// Error constants
var (
	ErrAssetMissing = errors.New("dashboard asset missing")
)

// Register attaches the embedded asset routes to mux.
func Register(_ context.Context, mux *http.ServeMux) {
	if mux == nil {
		panic("mux is nil")
	}
	mux.HandleFunc("GET "+Prefix, api.MetricsMiddleware(NewAssetHandler().ServeHTTP, "static"))
}

// AssetHandler serves files from the embedded static directory.
type AssetHandler struct {
	files http.Handler
}

// NewAssetHandler creates a new asset handler.
func NewAssetHandler() *AssetHandler {
	return &AssetHandler{files: http.StripPrefix(Prefix, http.FileServer(FS()))}
}

// ServeHTTP serves one asset. Directory listings are not exposed.
func (h *AssetHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path == Prefix || r.URL.Path[len(r.URL.Path)-1] == '/' {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Cache-Control", "public, max-age=300")
	h.files.ServeHTTP(w, r)
}
