package webmonitor

import (
	"net/http"
	"os"
	"path/filepath"
	"strings"
)

// captureHandler serves saved plate_/full_ JPEGs by base name only.
type captureHandler struct {
	dir string
}

func newCaptureHandler(dir string) *captureHandler {
	return &captureHandler{dir: dir}
}

func (h *captureHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	filename := filepath.Base(r.URL.Path)
	if h.dir == "" || !isCaptureName(filename) {
		http.NotFound(w, r)
		return
	}

	path := filepath.Join(h.dir, filename)
	if !fileExists(path) {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Cache-Control", "public, max-age=86400")
	http.ServeFile(w, r, path)
}

func isCaptureName(name string) bool {
	return (strings.HasPrefix(name, "plate_") || strings.HasPrefix(name, "full_")) &&
		strings.HasSuffix(name, ".jpg")
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return !info.IsDir()
}
