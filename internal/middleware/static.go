package middleware

import (
	"net/http"
	"os"
	"path/filepath"
)

const fallbackSVG = `<svg xmlns="http://www.w3.org/2000/svg" viewBox="0 0 200 200"><rect width="200" height="200" fill="#f7f2fa"/><path d="M100 55l12 24 27 4-19 19 4 27-24-13-24 13 4-27-19-19 27-4z" fill="#c9a6e8"/><text x="100" y="175" text-anchor="middle" font-family="Arial" font-size="14" fill="#8a6bac">GIFT</text></svg>`

// StaticFileServer serves gift icons with a generic SVG fallback so a missing
// catalog upload never breaks the client.
func StaticFileServer(dir string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := filepath.Join(dir, filepath.Clean(r.URL.Path))

		if _, err := os.Stat(path); err == nil {
			w.Header().Set("Cache-Control", "public, max-age=2592000")
			http.ServeFile(w, r, path)
			return
		}

		w.Header().Set("Content-Type", "image/svg+xml")
		w.Header().Set("Cache-Control", "public, max-age=86400")
		w.Write([]byte(fallbackSVG))
	})
}
