package web

import (
	"io/fs"
	"net/http"
	"path"
	"strings"
)

// StaticFiles serves GET and HEAD requests for files that exist in root.
// Everything else, directories included, falls through to the next stage.
func StaticFiles(root fs.FS) Middleware {
	fileServer := http.FileServer(http.FS(root))

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodGet && r.Method != http.MethodHead {
				next.ServeHTTP(w, r)
				return
			}

			name := strings.TrimPrefix(path.Clean(r.URL.Path), "/")
			if name == "" || name == "." || !fs.ValidPath(name) {
				next.ServeHTTP(w, r)
				return
			}

			info, err := fs.Stat(root, name)
			if err != nil || info.IsDir() {
				next.ServeHTTP(w, r)
				return
			}

			fileServer.ServeHTTP(w, r)
		})
	}
}
