package routes

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	logging "github.com/ipfs/go-log/v2"

	"github.com/petervdpas/goopcall/internal/call"
	"github.com/petervdpas/goopcall/internal/controls"
	"github.com/petervdpas/goopcall/internal/media"
)

var log = logging.Logger("viewer")

const heartbeatInterval = 25 * time.Second

type intentRequest struct {
	CallID string `json:"call_id"`
	PeerID string `json:"peer_id"`
}

type intentResponse struct {
	Status   string        `json:"status"`
	Snapshot call.Snapshot `json:"snapshot"`
}

type debugResponse struct {
	Snapshot call.Snapshot `json:"snapshot"`
	Peer     *media.Stats  `json:"peer"`
}

func registerCallRoutes(mux *http.ServeMux, d Deps) {
	// GET /api/call/state: the latest snapshot.
	handleGet(mux, "/api/call/state", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, d.Call.Snapshot())
	})

	// GET /api/call/controls: the rendered controls fragment.
	handleGet(mux, "/api/call/controls", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		if err := controls.Render(w, controls.Present(d.Call.Snapshot())); err != nil {
			log.Errorf("render controls: %v", err)
		}
	})

	// GET /api/call/debug: snapshot plus live peer counters.
	handleGet(mux, "/api/call/debug", func(w http.ResponseWriter, r *http.Request) {
		resp := debugResponse{Snapshot: d.Call.Snapshot()}
		if st, ok := d.Call.PeerStats(); ok {
			resp.Peer = &st
		}
		writeJSON(w, resp)
	})

	// POST /api/call/{intent}
	for _, kind := range []controls.IntentKind{
		controls.IntentStart,
		controls.IntentCancel,
		controls.IntentAccept,
		controls.IntentReject,
		controls.IntentEnd,
		controls.IntentToggleMute,
	} {
		handlePost(mux, "/api/call/"+string(kind), func(w http.ResponseWriter, r *http.Request, req intentRequest) {
			in := controls.Intent{Kind: kind, CallID: req.CallID, PeerID: req.PeerID}
			if err := controls.Dispatch(d.Call, in); err != nil {
				status := http.StatusInternalServerError
				if errors.Is(err, controls.ErrMissingField) || errors.Is(err, controls.ErrUnknownIntent) {
					status = http.StatusBadRequest
				}
				http.Error(w, err.Error(), status)
				return
			}
			writeJSON(w, intentResponse{Status: "ok", Snapshot: d.Call.Snapshot()})
		})
	}

	// GET /api/call/events streams one "snapshot" event per published snapshot,
	// starting with the current one.
	handleGet(mux, "/api/call/events", func(w http.ResponseWriter, r *http.Request) {
		flusher, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "streaming not supported", http.StatusInternalServerError)
			return
		}
		sseHeaders(w)

		ch, cancel := d.Call.Subscribe()
		defer cancel()

		heartbeat := time.NewTicker(heartbeatInterval)
		defer heartbeat.Stop()

		ctx := r.Context()
		for {
			select {
			case <-ctx.Done():
				return
			case <-heartbeat.C:
				fmt.Fprintf(w, ": ping\n\n")
				flusher.Flush()
			case snap, ok := <-ch:
				if !ok {
					return
				}
				data, err := json.Marshal(snap)
				if err != nil {
					continue
				}
				fmt.Fprintf(w, "event: snapshot\ndata: %s\n\n", data)
				flusher.Flush()
			}
		}
	})
}
