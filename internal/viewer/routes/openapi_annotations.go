// Package routes: swaggo annotation stubs.
// Each function below is a documentation stub only; the real handler logic lives
// in the anonymous closures passed to handlePost/handleGet/mux.HandleFunc.
// Run `go generate` from the project root to regenerate ./docs/.
package routes

import (
	"net/http"

	"github.com/swaggo/swag"

	_ "github.com/petervdpas/goopcall/docs"
)

// registerOpenAPIRoute serves the generated document at /api/openapi.json.
func registerOpenAPIRoute(mux *http.ServeMux) {
	handleGet(mux, "/api/openapi.json", func(w http.ResponseWriter, r *http.Request) {
		doc, err := swag.ReadDoc()
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		_, _ = w.Write([]byte(doc))
	})
}

// ── Call ─────────────────────────────────────────────────────────────────────

// swagCallState is a documentation stub for GET /api/call/state.
//
//	@Summary	Current call snapshot
//	@Tags		call
//	@Produce	json
//	@Success	200	{object}	call.Snapshot
//	@Router		/api/call/state [get]
func swagCallState() {}

// swagCallControls is a documentation stub for GET /api/call/controls.
//
//	@Summary	Rendered controls fragment
//	@Description	The HTML fragment for the current state. The page swaps it in on every snapshot event.
//	@Tags		call
//	@Produce	html
//	@Success	200	{string}	string	"HTML fragment"
//	@Router		/api/call/controls [get]
func swagCallControls() {}

// swagCallEvents is a documentation stub for GET /api/call/events.
//
//	@Summary	SSE stream of call snapshots
//	@Description	Emits a 'snapshot' event with the current snapshot on connect and one per state change.
//	@Tags		call
//	@Produce	text/event-stream
//	@Success	200	{string}	string	"SSE stream"
//	@Router		/api/call/events [get]
func swagCallEvents() {}

// swagCallDebug is a documentation stub for GET /api/call/debug.
//
//	@Summary	Snapshot plus live peer connection counters
//	@Tags		call
//	@Produce	json
//	@Success	200	{object}	debugResponse
//	@Router		/api/call/debug [get]
func swagCallDebug() {}

// swagCallStart is a documentation stub for POST /api/call/start.
//
//	@Summary	Call a peer
//	@Tags		call
//	@Accept		json
//	@Produce	json
//	@Param		body	body		intentRequest	true	"peer_id is required"
//	@Success	200		{object}	intentResponse
//	@Failure	400		{string}	string	"missing peer_id"
//	@Router		/api/call/start [post]
func swagCallStart() {}

// swagCallCancel is a documentation stub for POST /api/call/cancel.
//
//	@Summary	Withdraw an outgoing call before it is answered
//	@Tags		call
//	@Produce	json
//	@Success	200	{object}	intentResponse
//	@Router		/api/call/cancel [post]
func swagCallCancel() {}

// swagCallAccept is a documentation stub for POST /api/call/accept.
//
//	@Summary	Accept the incoming call
//	@Tags		call
//	@Accept		json
//	@Produce	json
//	@Param		body	body		intentRequest	true	"call_id is required"
//	@Success	200		{object}	intentResponse
//	@Failure	400		{string}	string	"missing call_id"
//	@Router		/api/call/accept [post]
func swagCallAccept() {}

// swagCallReject is a documentation stub for POST /api/call/reject.
//
//	@Summary	Reject the incoming call
//	@Tags		call
//	@Accept		json
//	@Produce	json
//	@Param		body	body		intentRequest	true	"call_id is required"
//	@Success	200		{object}	intentResponse
//	@Failure	400		{string}	string	"missing call_id"
//	@Router		/api/call/reject [post]
func swagCallReject() {}

// swagCallEnd is a documentation stub for POST /api/call/end.
//
//	@Summary	Hang up
//	@Tags		call
//	@Produce	json
//	@Success	200	{object}	intentResponse
//	@Router		/api/call/end [post]
func swagCallEnd() {}

// swagCallToggleMute is a documentation stub for POST /api/call/toggle-mute.
//
//	@Summary	Mute or unmute the local microphone
//	@Tags		call
//	@Produce	json
//	@Success	200	{object}	intentResponse
//	@Router		/api/call/toggle-mute [post]
func swagCallToggleMute() {}

// ── Logs ─────────────────────────────────────────────────────────────────────

// swagLogs is a documentation stub for GET /api/logs.
//
//	@Summary	Buffered log lines
//	@Tags		logs
//	@Produce	json
//	@Param		n	query	int	false	"newest n lines only"
//	@Success	200	{array}	object
//	@Router		/api/logs [get]
func swagLogs() {}

// swagLogsStream is a documentation stub for GET /api/logs/stream.
//
//	@Summary	SSE tail of new log lines
//	@Tags		logs
//	@Produce	text/event-stream
//	@Success	200	{string}	string	"SSE stream"
//	@Router		/api/logs/stream [get]
func swagLogsStream() {}
