package site

import (
	"embed"
	"fmt"
	"io/fs"
	"net/http"
)

//go:embed static/*
var staticFS embed.FS

// FS returns an http.FileSystem for the embedded assets.
func FS() http.FileSystem {
	sub, err := fs.Sub(staticFS, "static")
	if err != nil {
		return http.FS(staticFS)
	}
	return http.FS(sub)
}

// Asset returns the content of one embedded file.
func Asset(name string) ([]byte, error) {
	b, err := fs.ReadFile(staticFS, "static/"+name)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrAssetMissing, name)
	}
	return b, nil
}
