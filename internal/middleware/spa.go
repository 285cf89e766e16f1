// Package middleware carries the HTTP plumbing shared by the console's
// routes, currently the single-page-app fallback for the web UI.
package middleware

import (
	"io/fs"
	"net/http"
	"strings"
)

// SPA serves the console's built web UI from fsys. Real files are served
// as-is, with an immutable cache header on hashed assets; every other GET
// falls back to index.html so the client-side router owns the path.
// index.html itself is never cached, so a redeploy shows up on reload.
func SPA(fsys fs.FS) http.Handler {
	files := http.FileServer(http.FS(fsys))
	index, _ := fs.ReadFile(fsys, "index.html")

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			http.NotFound(w, r)
			return
		}
		// The API, health, and metrics surfaces are routed explicitly; a
		// miss there is a real 404, not a client-side route.
		if strings.HasPrefix(r.URL.Path, "/api/") || r.URL.Path == "/metrics" || r.URL.Path == "/healthz" {
			http.NotFound(w, r)
			return
		}

		name := strings.TrimPrefix(r.URL.Path, "/")
		if name != "" && name != "index.html" {
			if f, err := fsys.Open(name); err == nil {
				stat, statErr := f.Stat()
				f.Close()
				if statErr == nil && !stat.IsDir() {
					if strings.HasPrefix(name, "assets/") {
						w.Header().Set("Cache-Control", "public, max-age=31536000, immutable")
					}
					files.ServeHTTP(w, r)
					return
				}
			}
		}

		if index == nil {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Header().Set("Cache-Control", "no-store")
		w.Write(index)
	})
}
