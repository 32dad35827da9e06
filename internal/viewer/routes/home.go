// internal/viewer/routes/home.go

package routes

import (
	"net/http"

	"github.com/petervdpas/goopcall/internal/controls"
)

func registerHomeRoutes(mux *http.ServeMux, d Deps) {
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		title := safeCall(d.SelfLabel)
		if title == "" {
			title = "goopcall"
		}
		page := controls.PageData{
			Title:    title,
			Self:     d.SelfID,
			Role:     d.Role,
			Target:   safeCall(d.Target),
			Theme:    safeCall(d.Theme),
			Controls: controls.Present(d.Call.Snapshot()),
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		if err := controls.RenderPage(w, page); err != nil {
			log.Errorf("render page: %v", err)
		}
	})

	// JSON endpoint for self identity
	handleGet(mux, "/api/self", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{
			"id":        d.SelfID,
			"role":      d.Role,
			"label":     safeCall(d.SelfLabel),
			"signaling": d.Connected != nil && d.Connected(),
		})
	})
}
