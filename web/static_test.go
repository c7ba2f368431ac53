package web

import (
	"net/http"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
)

// TestStaticFiles tests which requests are served from the web root
func TestStaticFiles(t *testing.T) {
	root := fstest.MapFS{
		"css/site.css": {Data: []byte("body{}")},
		"favicon.ico":  {Data: []byte("icon")},
	}
	fallthroughHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})
	h := StaticFiles(root)(fallthroughHandler)

	tests := []struct {
		name   string
		method string
		target string
		status int
	}{
		{"file", http.MethodGet, "/css/site.css", http.StatusOK},
		{"head", http.MethodHead, "/favicon.ico", http.StatusOK},
		{"post", http.MethodPost, "/css/site.css", http.StatusTeapot},
		{"missing", http.MethodGet, "/css/missing.css", http.StatusTeapot},
		{"directory", http.MethodGet, "/css", http.StatusTeapot},
		{"root", http.MethodGet, "/", http.StatusTeapot},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := serve(h, tt.method, tt.target)
			assert.Equal(t, tt.status, rec.Code)
		})
	}

	rec := serve(h, http.MethodGet, "/css/site.css")
	assert.Equal(t, "body{}", rec.Body.String())
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/css")
}
