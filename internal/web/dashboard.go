package web

import (
	"net/http"
	"path/filepath"
)

// Dashboard serves the dashboard HTML file from the given path. An
// empty path falls back to web/dashboard.html relative to the working
// directory.
func Dashboard(path string) http.HandlerFunc {
	if path == "" {
		path = filepath.Join("web", "dashboard.html")
	}
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
		w.Header().Set("Pragma", "no-cache")
		w.Header().Set("Expires", "0")

		http.ServeFile(w, r, path)
	}
}
