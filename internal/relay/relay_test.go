package relay

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/petervdpas/goopcall/internal/config"
	"github.com/petervdpas/goopcall/internal/signaling"
)

type testRelay struct {
	hub *Hub
	srv *httptest.Server
}

func newTestRelay(t *testing.T, f Factory) *testRelay {
	t.Helper()
	hub := NewHub(context.Background(), f)
	srv := httptest.NewServer(Handler(hub))
	t.Cleanup(func() {
		hub.Close()
		srv.Close()
	})
	return &testRelay{hub: hub, srv: srv}
}

func (r *testRelay) dial(t *testing.T, role, peer, name string) *websocket.Conn {
	t.Helper()
	u := "ws" + strings.TrimPrefix(r.srv.URL, "http") + "/ws?" + url.Values{
		"role": {role},
		"peer": {peer},
		"name": {name},
	}.Encode()
	conn, _, err := websocket.DefaultDialer.Dial(u, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", peer, err)
	}
	t.Cleanup(func() { conn.Close() })

	deadline := time.Now().Add(2 * time.Second)
	for !r.hub.Online(peer) {
		if time.Now().After(deadline) {
			t.Fatalf("%s never registered", peer)
		}
		time.Sleep(5 * time.Millisecond)
	}
	return conn
}

func send(t *testing.T, conn *websocket.Conn, event string, payload any) {
	t.Helper()
	data, err := json.Marshal(payload)
	if err != nil {
		t.Fatal(err)
	}
	b, _ := json.Marshal(signaling.Envelope{Event: event, Data: data})
	if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
		t.Fatal(err)
	}
}

func read(t *testing.T, conn *websocket.Conn) signaling.Envelope {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	_, b, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var env signaling.Envelope
	if err := json.Unmarshal(b, &env); err != nil {
		t.Fatal(err)
	}
	return env
}

func expect[T any](t *testing.T, conn *websocket.Conn, event string) T {
	t.Helper()
	env := read(t, conn)
	if env.Event != event {
		t.Fatalf("got %s (%s), want %s", env.Event, env.Data, event)
	}
	var v T
	if len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, &v); err != nil {
			t.Fatal(err)
		}
	}
	return v
}

func mockFactory(every int) Factory {
	return NewFactory(config.Relay{Transcriber: config.TranscriberMock, TranscribeEvery: every}, 16000)
}

func TestCallLifecycle(t *testing.T) {
	r := newTestRelay(t, mockFactory(2))
	agent := r.dial(t, "agent", "agent-1", "Support Agent")
	customer := r.dial(t, "customer", "customer-001", "")

	send(t, agent, signaling.TypeCallInitiate, signaling.CallInitiate{TargetPeerID: "customer-001"})
	in := expect[signaling.CallIncoming](t, customer, signaling.TypeCallIncoming)
	if in.CallID == "" || in.From != "agent-1" || in.PeerName != "Support Agent" {
		t.Fatalf("incoming = %+v", in)
	}

	send(t, customer, signaling.TypeCallAccept, signaling.CallAccept{CallID: in.CallID})
	started := expect[signaling.CallStarted](t, agent, signaling.TypeCallStarted)
	if started.CallID != in.CallID {
		t.Fatalf("started = %+v", started)
	}

	offer := map[string]any{"sdp": map[string]string{"type": "offer", "sdp": "v=0"}}
	send(t, agent, signaling.TypeCallOffer, offer)
	got := read(t, customer)
	if got.Event != signaling.TypeCallOffer || !strings.Contains(string(got.Data), `"v=0"`) {
		t.Fatalf("offer relay = %s %s", got.Event, got.Data)
	}

	for range 2 {
		if err := customer.WriteMessage(websocket.BinaryMessage, make([]byte, 640)); err != nil {
			t.Fatal(err)
		}
	}
	for _, conn := range []*websocket.Conn{agent, customer} {
		chunk := expect[signaling.TranscriptChunk](t, conn, signaling.TypeTranscriptChunk)
		if chunk.Text != mockPhrases[0] || !chunk.IsFinal || chunk.ChunkIndex != 1 {
			t.Fatalf("transcript = %+v", chunk)
		}
	}

	send(t, agent, signaling.TypeCallEnd, signaling.CallEnd{CallID: in.CallID})
	expect[signaling.CallEnded](t, customer, signaling.TypeCallEnded)

	deadline := time.Now().Add(2 * time.Second)
	for {
		if _, calls := r.hub.Stats(); calls == 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("call not removed")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestInitiateRefusals(t *testing.T) {
	r := newTestRelay(t, nil)
	agent := r.dial(t, "agent", "agent-1", "")

	send(t, agent, signaling.TypeCallInitiate, signaling.CallInitiate{TargetPeerID: "nobody"})
	if rej := expect[signaling.CallRejected](t, agent, signaling.TypeCallRejected); rej.Reason != ReasonOffline {
		t.Fatalf("offline reason = %q", rej.Reason)
	}

	send(t, agent, signaling.TypeCallInitiate, signaling.CallInitiate{TargetPeerID: "agent-1"})
	if rej := expect[signaling.CallRejected](t, agent, signaling.TypeCallRejected); rej.Reason != ReasonInvalid {
		t.Fatalf("self reason = %q", rej.Reason)
	}

	customer := r.dial(t, "customer", "customer-001", "")
	other := r.dial(t, "agent", "agent-2", "")
	send(t, agent, signaling.TypeCallInitiate, map[string]string{"targetCustomerId": "customer-001"})
	expect[signaling.CallIncoming](t, customer, signaling.TypeCallIncoming)

	send(t, other, signaling.TypeCallInitiate, signaling.CallInitiate{TargetPeerID: "customer-001"})
	if rej := expect[signaling.CallRejected](t, other, signaling.TypeCallRejected); rej.Reason != ReasonBusy {
		t.Fatalf("busy reason = %q", rej.Reason)
	}
}

func TestRejectAndCancel(t *testing.T) {
	r := newTestRelay(t, nil)
	agent := r.dial(t, "agent", "agent-1", "")
	customer := r.dial(t, "customer", "customer-001", "")

	send(t, agent, signaling.TypeCallInitiate, signaling.CallInitiate{TargetPeerID: "customer-001"})
	in := expect[signaling.CallIncoming](t, customer, signaling.TypeCallIncoming)
	send(t, customer, signaling.TypeCallReject, signaling.CallReject{CallID: in.CallID})
	expect[signaling.CallRejected](t, agent, signaling.TypeCallRejected)

	// Cancel before an answer: the caller's call_end may carry no callId.
	send(t, agent, signaling.TypeCallInitiate, signaling.CallInitiate{TargetPeerID: "customer-001"})
	expect[signaling.CallIncoming](t, customer, signaling.TypeCallIncoming)
	send(t, agent, signaling.TypeCallEnd, signaling.CallEnd{})
	expect[signaling.CallEnded](t, customer, signaling.TypeCallEnded)
}

func TestStaleCallIDIgnored(t *testing.T) {
	r := newTestRelay(t, nil)
	agent := r.dial(t, "agent", "agent-1", "")
	customer := r.dial(t, "customer", "customer-001", "")

	send(t, agent, signaling.TypeCallInitiate, signaling.CallInitiate{TargetPeerID: "customer-001"})
	in := expect[signaling.CallIncoming](t, customer, signaling.TypeCallIncoming)

	send(t, customer, signaling.TypeCallAccept, signaling.CallAccept{CallID: "not-" + in.CallID})
	send(t, agent, signaling.TypeCallEnd, signaling.CallEnd{CallID: "not-" + in.CallID})
	send(t, customer, signaling.TypeCallAccept, signaling.CallAccept{CallID: in.CallID})

	// The first accept and the end were dropped, so the next frame is the start.
	if started := expect[signaling.CallStarted](t, agent, signaling.TypeCallStarted); started.CallID != in.CallID {
		t.Fatalf("started = %+v", started)
	}
}

func TestDisconnectEndsCall(t *testing.T) {
	r := newTestRelay(t, nil)
	agent := r.dial(t, "agent", "agent-1", "")
	customer := r.dial(t, "customer", "customer-001", "")

	send(t, agent, signaling.TypeCallInitiate, signaling.CallInitiate{TargetPeerID: "customer-001"})
	in := expect[signaling.CallIncoming](t, customer, signaling.TypeCallIncoming)
	send(t, customer, signaling.TypeCallAccept, signaling.CallAccept{CallID: in.CallID})
	expect[signaling.CallStarted](t, agent, signaling.TypeCallStarted)

	customer.Close()
	expect[signaling.CallEnded](t, agent, signaling.TypeCallEnded)
}

func TestHandshakeValidation(t *testing.T) {
	r := newTestRelay(t, nil)
	for _, q := range []string{"role=agent", "peer=a1", "role=boss&peer=a1"} {
		resp, err := http.Get(r.srv.URL + "/ws?" + q)
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("%s: status %d", q, resp.StatusCode)
		}
	}

	resp, err := http.Get(r.srv.URL + "/healthz")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var health struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil || health.Status != "ok" {
		t.Fatalf("healthz = %+v, %v", health, err)
	}
}

type collector struct {
	mu     sync.Mutex
	chunks []signaling.TranscriptChunk
}

func (c *collector) emit(ch signaling.TranscriptChunk) {
	c.mu.Lock()
	c.chunks = append(c.chunks, ch)
	c.mu.Unlock()
}

func (c *collector) list() []signaling.TranscriptChunk {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]signaling.TranscriptChunk(nil), c.chunks...)
}

func TestMockTranscriberCycles(t *testing.T) {
	var c collector
	m := NewMockTranscriber(3, c.emit)
	for range 3 * (len(mockPhrases) + 1) {
		m.Send(nil)
	}
	got := c.list()
	if len(got) != len(mockPhrases)+1 {
		t.Fatalf("emitted %d chunks", len(got))
	}
	if got[0].Text != mockPhrases[0] || got[len(mockPhrases)].Text != mockPhrases[0] {
		t.Fatalf("phrases do not cycle: %+v", got)
	}
	if got[2].ChunkIndex != 3 {
		t.Fatalf("chunk index = %d", got[2].ChunkIndex)
	}

	_ = m.Close()
	for range 3 {
		m.Send(nil)
	}
	if len(c.list()) != len(mockPhrases)+1 {
		t.Fatal("emitted after close")
	}
}

func TestStreamTranscriber(t *testing.T) {
	type seen struct {
		auth  string
		cfg   streamConfig
		audio int
	}
	got := make(chan seen, 1)

	up := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		s := seen{auth: r.Header.Get("Authorization")}
		_, b, err := conn.ReadMessage()
		if err != nil {
			return
		}
		_ = json.Unmarshal(b, &s.cfg)

		kind, audio, err := conn.ReadMessage()
		if err != nil || kind != websocket.BinaryMessage {
			return
		}
		s.audio = len(audio)
		got <- s

		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"text":"hello there","isFinal":false,"chunkIndex":4}`))
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`not json`))
		_, _, _ = conn.ReadMessage()
	}))
	defer srv.Close()

	var c collector
	tr, err := DialStream(context.Background(), StreamOptions{
		URL:        "ws" + strings.TrimPrefix(srv.URL, "http"),
		APIKey:     "secret",
		CallID:     "c1",
		SampleRate: 16000,
	}, c.emit)
	if err != nil {
		t.Fatal(err)
	}
	tr.Send(make([]byte, 640))

	s := <-got
	if s.auth != "secret" || s.cfg.Type != "config" || s.cfg.CallID != "c1" ||
		s.cfg.SampleRate != 16000 || s.cfg.Encoding != "pcm_s16le" || s.audio != 640 {
		t.Fatalf("server saw %+v", s)
	}

	deadline := time.Now().Add(2 * time.Second)
	for len(c.list()) == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	chunks := c.list()
	if len(chunks) != 1 || chunks[0].Text != "hello there" || chunks[0].IsFinal || chunks[0].ChunkIndex != 4 {
		t.Fatalf("chunks = %+v", chunks)
	}

	if err := tr.Close(); err != nil {
		t.Fatal(err)
	}
	_ = tr.Close()
	tr.Send([]byte{1})
}

func TestStreamFallsBackToMock(t *testing.T) {
	f := NewFactory(config.Relay{
		Transcriber:     config.TranscriberStream,
		TranscriberURL:  "ws://127.0.0.1:1/none",
		TranscribeEvery: 1,
	}, 16000)

	var c collector
	tr, err := f(context.Background(), "c1", c.emit)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := tr.(*MockTranscriber); !ok {
		t.Fatalf("transcriber = %T", tr)
	}
	tr.Send(nil)
	if len(c.list()) != 1 {
		t.Fatal("mock fallback did not emit")
	}
}
