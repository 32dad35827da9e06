// Package relay is the reference message channel: a websocket hub that
// pairs one caller with one callee, forwards their negotiation messages and
// feeds call audio to a transcriber whose output goes back to both sides.
package relay

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	logging "github.com/ipfs/go-log/v2"
	"github.com/oklog/ulid/v2"

	"github.com/petervdpas/goopcall/internal/signaling"
	"github.com/petervdpas/goopcall/internal/util"
)

var log = logging.Logger("relay")

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// Local UIs and native clients connect from anywhere.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Reasons carried by call_rejected.
const (
	ReasonOffline = "offline"
	ReasonBusy    = "busy"
	ReasonInvalid = "invalid"
)

// client is one websocket connection.
type client struct {
	id     string // ulid, per connection
	peerID string
	role   string
	name   string

	conn    *websocket.Conn
	writeMu sync.Mutex

	// guarded by Hub.mu
	callID string
}

func (c *client) send(event string, payload any) {
	var data json.RawMessage
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			log.Errorf("[%s] marshal %s: %v", c.peerID, event, err)
			return
		}
		data = b
	}
	c.sendRaw(event, data)
}

func (c *client) sendRaw(event string, data json.RawMessage) {
	b, err := json.Marshal(signaling.Envelope{Event: event, Data: data})
	if err != nil {
		return
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(util.DefaultWriteTimeout))
	if err := c.conn.WriteMessage(websocket.TextMessage, b); err != nil {
		log.Debugf("[%s] write %s: %v", c.peerID, event, err)
	}
}

// callEntry pairs two clients. Accepted calls own a transcriber.
type callEntry struct {
	id       string
	caller   *client
	callee   *client
	accepted bool
	tr       Transcriber
}

func (e *callEntry) other(c *client) *client {
	if c == e.caller {
		return e.callee
	}
	return e.caller
}

// Hub routes messages between connected clients. It implements http.Handler
// for the websocket endpoint.
type Hub struct {
	newTranscriber Factory

	ctx    context.Context
	cancel context.CancelFunc

	mu    sync.Mutex
	peers map[string]*client
	calls map[string]*callEntry
}

// NewHub creates a hub. A nil factory disables transcription.
func NewHub(ctx context.Context, f Factory) *Hub {
	ctx, cancel := context.WithCancel(ctx)
	return &Hub{
		newTranscriber: f,
		ctx:            ctx,
		cancel:         cancel,
		peers:          make(map[string]*client),
		calls:          make(map[string]*callEntry),
	}
}

// ServeHTTP upgrades /ws?role=agent|customer&peer=<id>[&name=<label>].
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	peerID, err := util.ValidatePeerID(q.Get("peer"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	role := q.Get("role")
	if role != "agent" && role != "customer" {
		http.Error(w, "role must be agent or customer", http.StatusBadRequest)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warnf("upgrade %s: %v", peerID, err)
		return
	}

	c := &client{
		id:     ulid.Make().String(),
		peerID: peerID,
		role:   role,
		name:   q.Get("name"),
		conn:   conn,
	}
	h.register(c)
	log.Infof("[%s] %s connected (%s)", c.id, peerID, role)

	stop := context.AfterFunc(h.ctx, func() { _ = conn.Close() })
	defer stop()

	h.readLoop(c)

	h.unregister(c)
	_ = conn.Close()
	log.Infof("[%s] %s disconnected", c.id, peerID)
}

func (h *Hub) register(c *client) {
	h.mu.Lock()
	old := h.peers[c.peerID]
	h.peers[c.peerID] = c
	h.mu.Unlock()

	// Newest connection wins.
	if old != nil {
		log.Infof("[%s] replaced by %s", old.id, c.id)
		_ = old.conn.Close()
	}
}

func (h *Hub) unregister(c *client) {
	h.endCall(c, "")

	h.mu.Lock()
	if h.peers[c.peerID] == c {
		delete(h.peers, c.peerID)
	}
	h.mu.Unlock()
}

// Online reports whether peerID has a live connection.
func (h *Hub) Online(peerID string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	_, ok := h.peers[peerID]
	return ok
}

// Stats counts connected peers and open calls.
func (h *Hub) Stats() (peers, calls int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.peers), len(h.calls)
}

// Close drops every connection and transcriber.
func (h *Hub) Close() {
	h.cancel()

	h.mu.Lock()
	var trs []Transcriber
	for id, e := range h.calls {
		if e.tr != nil {
			trs = append(trs, e.tr)
		}
		delete(h.calls, id)
	}
	h.mu.Unlock()

	for _, tr := range trs {
		_ = tr.Close()
	}
}

func (h *Hub) readLoop(c *client) {
	for {
		kind, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		switch kind {
		case websocket.BinaryMessage:
			h.audio(c, data)
		case websocket.TextMessage:
			var env signaling.Envelope
			if err := json.Unmarshal(data, &env); err != nil {
				log.Warnf("[%s] malformed frame: %v", c.peerID, err)
				continue
			}
			h.route(c, env)
		}
	}
}

func (h *Hub) route(c *client, env signaling.Envelope) {
	switch env.Event {
	case signaling.TypeCallInitiate:
		h.initiate(c, env.Data)
	case signaling.TypeCallAccept:
		h.accept(c, env.Data)
	case signaling.TypeCallReject:
		h.reject(c, env.Data)
	case signaling.TypeCallOffer, signaling.TypeCallAnswer, signaling.TypeCallICE:
		h.forward(c, env)
	case signaling.TypeCallEnd:
		var p signaling.CallEnd
		_ = json.Unmarshal(env.Data, &p)
		h.endCall(c, p.CallID)
	default:
		log.Debugf("[%s] ignoring %q", c.peerID, env.Event)
	}
}

// initiatePayload also accepts the older targetCustomerId field.
type initiatePayload struct {
	signaling.CallInitiate
	TargetCustomerID string `json:"targetCustomerId"`
}

func (h *Hub) initiate(c *client, data json.RawMessage) {
	var p initiatePayload
	if err := json.Unmarshal(data, &p); err != nil {
		c.send(signaling.TypeCallRejected, signaling.CallRejected{Reason: ReasonInvalid})
		return
	}
	target := p.TargetPeerID
	if target == "" {
		target = p.TargetCustomerID
	}

	h.mu.Lock()
	callee, online := h.peers[target]
	var reason string
	switch {
	case target == "" || target == c.peerID:
		reason = ReasonInvalid
	case !online:
		reason = ReasonOffline
	case c.callID != "" || callee.callID != "":
		reason = ReasonBusy
	}
	if reason != "" {
		h.mu.Unlock()
		log.Infof("[%s] call to %q refused: %s", c.peerID, target, reason)
		c.send(signaling.TypeCallRejected, signaling.CallRejected{Reason: reason})
		return
	}

	e := &callEntry{id: uuid.NewString(), caller: c, callee: callee}
	h.calls[e.id] = e
	c.callID = e.id
	callee.callID = e.id
	h.mu.Unlock()

	log.Infof("[%s] %s -> %s", e.id, c.peerID, callee.peerID)
	callee.send(signaling.TypeCallIncoming, signaling.CallIncoming{
		CallID:   e.id,
		From:     c.peerID,
		PeerName: c.name,
	})
}

// calleeCall returns the unanswered call c was offered under callID.
func (h *Hub) calleeCall(c *client, callID string) *callEntry {
	e, ok := h.calls[callID]
	if !ok || e.callee != c || e.accepted {
		return nil
	}
	return e
}

func (h *Hub) accept(c *client, data json.RawMessage) {
	var p signaling.CallAccept
	_ = json.Unmarshal(data, &p)

	h.mu.Lock()
	e := h.calleeCall(c, p.CallID)
	if e == nil {
		h.mu.Unlock()
		log.Debugf("[%s] accept for unknown call %q", c.peerID, p.CallID)
		return
	}
	e.accepted = true
	h.mu.Unlock()

	h.startTranscriber(e)

	log.Infof("[%s] accepted by %s", e.id, c.peerID)
	e.caller.send(signaling.TypeCallStarted, signaling.CallStarted{CallID: e.id})
}

func (h *Hub) reject(c *client, data json.RawMessage) {
	var p signaling.CallReject
	_ = json.Unmarshal(data, &p)

	h.mu.Lock()
	e := h.calleeCall(c, p.CallID)
	if e == nil {
		// A callee that already accepted rejects after a local media failure.
		if cur, ok := h.calls[p.CallID]; ok && cur.callee == c {
			e = cur
		}
	}
	if e == nil {
		h.mu.Unlock()
		return
	}
	h.removeLocked(e)
	h.mu.Unlock()

	h.closeTranscriber(e)
	log.Infof("[%s] rejected by %s", e.id, c.peerID)
	e.caller.send(signaling.TypeCallRejected, signaling.CallRejected{})
}

func (h *Hub) forward(c *client, env signaling.Envelope) {
	h.mu.Lock()
	e, ok := h.calls[c.callID]
	h.mu.Unlock()
	if !ok {
		log.Debugf("[%s] %s outside a call", c.peerID, env.Event)
		return
	}
	e.other(c).sendRaw(env.Event, env.Data)
}

// endCall closes c's call. A non-empty callID must match it.
func (h *Hub) endCall(c *client, callID string) {
	h.mu.Lock()
	e, ok := h.calls[c.callID]
	if !ok || (callID != "" && callID != e.id) {
		h.mu.Unlock()
		return
	}
	h.removeLocked(e)
	h.mu.Unlock()

	h.closeTranscriber(e)
	log.Infof("[%s] ended by %s", e.id, c.peerID)
	e.other(c).send(signaling.TypeCallEnded, signaling.CallEnded{})
}

func (h *Hub) removeLocked(e *callEntry) {
	delete(h.calls, e.id)
	if e.caller.callID == e.id {
		e.caller.callID = ""
	}
	if e.callee.callID == e.id {
		e.callee.callID = ""
	}
}

func (h *Hub) audio(c *client, pcm []byte) {
	h.mu.Lock()
	e, ok := h.calls[c.callID]
	var tr Transcriber
	if ok && e.accepted {
		tr = e.tr
	}
	h.mu.Unlock()
	if tr != nil {
		tr.Send(pcm)
	}
}

func (h *Hub) startTranscriber(e *callEntry) {
	if h.newTranscriber == nil {
		return
	}
	emit := func(chunk signaling.TranscriptChunk) {
		e.caller.send(signaling.TypeTranscriptChunk, chunk)
		e.callee.send(signaling.TypeTranscriptChunk, chunk)
	}
	tr, err := h.newTranscriber(h.ctx, e.id, emit)
	if err != nil {
		log.Warnf("[%s] transcriber: %v", e.id, err)
		return
	}

	h.mu.Lock()
	if _, live := h.calls[e.id]; !live {
		h.mu.Unlock()
		_ = tr.Close()
		return
	}
	e.tr = tr
	h.mu.Unlock()
}

func (h *Hub) closeTranscriber(e *callEntry) {
	h.mu.Lock()
	tr := e.tr
	e.tr = nil
	h.mu.Unlock()
	if tr != nil {
		_ = tr.Close()
	}
}
