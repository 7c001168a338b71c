package ui

import (
	"embed"
	"net/http"
)

//go:embed loading.html
var content embed.FS

// Placeholder returns the handler guards render while a client's session
// state is still unknown. It answers 202 with a Retry-After hint so both
// browsers and SPA fetches treat it as "come back in a moment".
func Placeholder() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, err := content.ReadFile("loading.html")
		if err != nil {
			http.Error(w, "placeholder not found", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Header().Set("Cache-Control", "no-store")
		w.Header().Set("Retry-After", "1")
		w.WriteHeader(http.StatusAccepted)
		_, _ = w.Write(data)
	})
}
