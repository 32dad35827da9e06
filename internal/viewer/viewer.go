// Package viewer serves the local call UI: the controls page, the snapshot
// stream that keeps it live, the intent endpoints behind its buttons and
// the buffered process log.
package viewer

import (
	"context"
	"errors"
	"net"
	"net/http"

	logging "github.com/ipfs/go-log/v2"

	"github.com/petervdpas/goopcall/internal/util"
	"github.com/petervdpas/goopcall/internal/viewer/routes"
)

var log = logging.Logger("viewer")

type Viewer struct {
	Call routes.Call
	Logs *LogBuffer

	SelfID    string
	Role      string
	SelfLabel func() string
	Target    func() string
	Theme     func() string
	Connected func() bool // signaling socket state
}

// Handler builds the viewer's HTTP handler.
func Handler(v Viewer) http.Handler {
	mux := http.NewServeMux()

	deps := routes.Deps{
		Call:      v.Call,
		SelfID:    v.SelfID,
		Role:      v.Role,
		SelfLabel: v.SelfLabel,
		Target:    v.Target,
		Theme:     v.Theme,
		Connected: v.Connected,
	}
	// A nil *LogBuffer must stay a nil interface.
	if v.Logs != nil {
		deps.Logs = v.Logs
	}
	routes.Register(mux, deps)

	return noCache(mux)
}

// Start serves the viewer on addr until ctx is cancelled.
func Start(ctx context.Context, addr string, v Viewer) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return Serve(ctx, ln, v)
}

// Serve is Start on an existing listener.
func Serve(ctx context.Context, ln net.Listener, v Viewer) error {
	srv := &http.Server{
		Handler:           Handler(v),
		ReadHeaderTimeout: util.DefaultDialTimeout,
		// Streams end when ctx does.
		BaseContext: func(net.Listener) context.Context { return ctx },
	}

	stop := context.AfterFunc(ctx, func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), util.ShortTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			_ = srv.Close()
		}
	})
	defer stop()

	log.Infof("viewer listening on http://%s", ln.Addr())
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
