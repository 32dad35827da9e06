package signaling

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v4"
)

func recv(t *testing.T, ch <-chan Message) Message {
	t.Helper()
	select {
	case m, ok := <-ch:
		if !ok {
			t.Fatal("frame channel closed")
		}
		return m
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for frame")
	}
	return Message{}
}

func TestSendEncodesPayload(t *testing.T) {
	local, remote := NewPipe()
	a := New(local)

	a.Send(TypeCallInitiate, CallInitiate{TargetPeerID: "customer-001"})
	m := recv(t, remote.Frames())
	if m.Type != TypeCallInitiate {
		t.Fatalf("type = %q", m.Type)
	}
	if string(m.Data) != `{"targetPeerId":"customer-001"}` {
		t.Fatalf("data = %s", m.Data)
	}

	a.Send(TypeCallEnd, CallEnd{})
	if m := recv(t, remote.Frames()); string(m.Data) != `{}` {
		t.Fatalf("empty call_end data = %s", m.Data)
	}

	a.SendAudio([]byte{1, 2, 3, 4})
	m = recv(t, remote.Frames())
	if m.Type != TypeAudioChunk || len(m.Binary) != 4 {
		t.Fatalf("audio frame = %+v", m)
	}
}

func TestSendAfterCloseDoesNotPanic(t *testing.T) {
	local, remote := NewPipe()
	a := New(local)
	remote.Close()
	a.Send(TypeCallAccept, CallAccept{CallID: "c1"})
	a.SendAudio([]byte{0, 0})
}

func TestRunDispatchesInOrder(t *testing.T) {
	local, remote := NewPipe()
	a := New(local)

	got := make(chan int, 3)
	a.On(TypeTranscriptChunk, func(m Message) {
		var tc TranscriptChunk
		if err := m.Decode(&tc); err != nil {
			t.Error(err)
			return
		}
		got <- tc.ChunkIndex
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go a.Run(ctx)

	for _, idx := range []int{2, 0, 1} {
		b, _ := json.Marshal(TranscriptChunk{Text: "x", ChunkIndex: idx})
		if err := remote.Emit(TypeTranscriptChunk, b); err != nil {
			t.Fatal(err)
		}
	}
	for _, want := range []int{2, 0, 1} {
		select {
		case idx := <-got:
			if idx != want {
				t.Fatalf("chunk %d, want %d", idx, want)
			}
		case <-time.After(2 * time.Second):
			t.Fatal("timed out")
		}
	}
}

func TestOnReplacesHandler(t *testing.T) {
	a := New(nil)
	var first, second int
	a.On(TypeCallEnded, func(Message) { first++ })
	a.On(TypeCallEnded, func(Message) { second++ })

	a.dispatch(Message{Type: TypeCallEnded})
	if first != 0 || second != 1 {
		t.Fatalf("first=%d second=%d", first, second)
	}
}

func TestSubscriptionCloseLeavesNewerHandler(t *testing.T) {
	a := New(nil)
	var old, newer int
	sub := a.Subscribe(map[string]Handler{
		TypeCallStarted:  func(Message) { old++ },
		TypeCallRejected: func(Message) { old++ },
	})
	a.On(TypeCallStarted, func(Message) { newer++ })

	sub.Close()
	sub.Close()

	a.dispatch(Message{Type: TypeCallStarted})
	a.dispatch(Message{Type: TypeCallRejected})
	if old != 0 || newer != 1 {
		t.Fatalf("old=%d newer=%d", old, newer)
	}
}

func TestDecodeOfferKeepsSDPType(t *testing.T) {
	raw := `{"sdp":{"type":"offer","sdp":"v=0\r\n"}}`
	var o CallOffer
	if err := (Message{Data: json.RawMessage(raw)}).Decode(&o); err != nil {
		t.Fatal(err)
	}
	if o.SDP.Type != webrtc.SDPTypeOffer || !strings.HasPrefix(o.SDP.SDP, "v=0") {
		t.Fatalf("offer = %+v", o.SDP)
	}
}

func TestWSTransportRoundTrip(t *testing.T) {
	upgrader := websocket.Upgrader{}
	query := make(chan string, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		query <- r.URL.RawQuery
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer c.Close()
		// Echo everything back.
		for {
			kind, b, err := c.ReadMessage()
			if err != nil {
				return
			}
			if err := c.WriteMessage(kind, b); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	connected := make(chan struct{}, 1)
	tr, err := DialWS(context.Background(), WSOptions{
		URL:       "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws",
		Role:      "agent",
		PeerID:    "agent-1",
		Reconnect: 50 * time.Millisecond,
		OnConnect: func() { connected <- struct{}{} },
	})
	if err != nil {
		t.Fatal(err)
	}
	defer tr.Close()

	select {
	case <-connected:
	case <-time.After(2 * time.Second):
		t.Fatal("never connected")
	}
	if q := <-query; !strings.Contains(q, "role=agent") || !strings.Contains(q, "peer=agent-1") {
		t.Fatalf("query = %q", q)
	}

	a := New(tr)
	a.Send(TypeCallAccept, CallAccept{CallID: "c1"})
	m := recv(t, tr.Frames())
	var acc CallAccept
	if err := m.Decode(&acc); err != nil || m.Type != TypeCallAccept || acc.CallID != "c1" {
		t.Fatalf("echo = %+v (%v)", m, err)
	}

	a.SendAudio([]byte{9, 9})
	if m := recv(t, tr.Frames()); m.Type != TypeAudioChunk || len(m.Binary) != 2 {
		t.Fatalf("binary echo = %+v", m)
	}
}

func TestWSTransportReportsDroppedSocket(t *testing.T) {
	upgrader := websocket.Upgrader{}
	var dials atomic.Int32
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := dials.Add(1)
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer c.Close()
		// The relay drops the first socket, as when a newer one replaces it.
		if n == 1 {
			<-release
			return
		}
		for {
			if _, _, err := c.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	connected := make(chan struct{}, 4)
	lost := make(chan bool, 4)
	var self atomic.Pointer[WSTransport]
	tr, err := DialWS(context.Background(), WSOptions{
		URL:       "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws",
		Role:      "customer",
		PeerID:    "customer-001",
		Reconnect: 20 * time.Millisecond,
		OnConnect: func() { connected <- struct{}{} },
		OnDisconnect: func() {
			lost <- self.Load().Connected()
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	self.Store(tr)
	defer tr.Close()
	close(release)

	wait := func(ch <-chan struct{}, what string) {
		t.Helper()
		select {
		case <-ch:
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for %s", what)
		}
	}
	wait(connected, "first connect")

	select {
	case up := <-lost:
		if up {
			t.Fatal("still reported connected inside OnDisconnect")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("dropped socket not reported")
	}

	wait(connected, "redial")
	if !tr.Connected() {
		t.Fatal("not connected after redial")
	}
	select {
	case <-lost:
		t.Fatal("second socket reported lost")
	default:
	}
}
