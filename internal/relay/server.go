package relay

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"

	"github.com/petervdpas/goopcall/internal/util"
)

// Handler exposes the hub at /ws plus a /healthz probe.
func Handler(h *Hub) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/ws", h)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		peers, calls := h.Stats()
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"status": "ok",
			"peers":  peers,
			"calls":  calls,
		})
	})
	return mux
}

// Serve runs the relay on addr until ctx is cancelled.
func Serve(ctx context.Context, addr string, h *Hub) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	srv := &http.Server{
		Handler:           Handler(h),
		ReadHeaderTimeout: util.DefaultDialTimeout,
	}

	stop := context.AfterFunc(ctx, func() {
		h.Close()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), util.ShortTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			_ = srv.Close()
		}
	})
	defer stop()

	log.Infof("relay listening on ws://%s/ws", ln.Addr())
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
