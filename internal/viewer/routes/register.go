// internal/viewer/routes/register.go
package routes

import (
	"net/http"

	"github.com/petervdpas/goopcall/internal/call"
	"github.com/petervdpas/goopcall/internal/controls"
	"github.com/petervdpas/goopcall/internal/media"
)

type Logs interface {
	ServeLogsJSON(w http.ResponseWriter, r *http.Request)
	ServeLogsSSE(w http.ResponseWriter, r *http.Request)
}

// Call is the slice of the call machine the viewer drives.
type Call interface {
	controls.Intents
	Snapshot() call.Snapshot
	Subscribe() (ch chan call.Snapshot, cancel func())
	PeerStats() (media.Stats, bool)
}

type Deps struct {
	Call Call
	Logs Logs

	SelfID    string
	Role      string
	SelfLabel func() string
	Target    func() string // peer prefilled in the Idle input
	Theme     func() string
	Connected func() bool // relay socket up
}

func Register(mux *http.ServeMux, d Deps) {
	registerAPILogRoutes(mux, d)
	registerHomeRoutes(mux, d)
	registerCallRoutes(mux, d)
	registerOpenAPIRoute(mux)
}
