package static

import (
	"crypto/sha256"
	_ "embed"
	"fmt"
	"log/slog"
	"net/http"
)

//go:embed app.css
var appCSS []byte

//go:embed app.js
var appJS []byte

//go:embed favicon.svg
var favicon []byte

// HTMXURL is loaded from the CDN with a pinned version.
const HTMXURL = "https://unpkg.com/htmx.org@2.0.8/dist/htmx.min.js"

var (
	CSSAssetPath string
	JSAssetPath  string
)

func Init() {
	CSSAssetPath = fmt.Sprintf("/static/app.%s.css", shortHash(appCSS))
	JSAssetPath = fmt.Sprintf("/static/app.%s.js", shortHash(appJS))
}

func shortHash(b []byte) string {
	return fmt.Sprintf("%x", sha256.Sum256(b))[:12]
}

// Register serves the content-hashed assets and the favicon.
func Register(mux *http.ServeMux) {
	if CSSAssetPath == "" {
		Init()
	}
	mux.HandleFunc("GET "+CSSAssetPath, serve("text/css; charset=utf-8", appCSS))
	mux.HandleFunc("GET "+JSAssetPath, serve("application/javascript; charset=utf-8", appJS))
	mux.HandleFunc("GET /favicon.ico", serve("image/svg+xml", favicon))
}

func serve(contentType string, body []byte) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", contentType)
		w.Header().Set("Cache-Control", "public, max-age=31536000, immutable")
		if _, err := w.Write(body); err != nil {
			slog.ErrorContext(r.Context(), "failed to write static asset", "path", r.URL.Path, "error", err)
		}
	}
}
