package signaling

import (
	"context"
	"encoding/json"
	"errors"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/petervdpas/goopcall/internal/util"
)

var ErrNotConnected = errors.New("signaling: not connected")

const maxBackoff = 30 * time.Second

// WSOptions configures the relay connection.
type WSOptions struct {
	URL    string // ws://host:port/ws
	Role   string // agent | customer
	PeerID string
	Label  string // shown to callees as peerName

	// Initial redial delay; doubled on every failure up to 30s.
	Reconnect time.Duration

	// OnConnect runs after every successful dial, including redials.
	OnConnect func()

	// OnDisconnect runs when an open socket drops, before the redial. The
	// relay ends any call the client was in when its socket goes away.
	OnDisconnect func()
}

// WSTransport is a websocket client that keeps itself connected to the relay.
type WSTransport struct {
	opts   WSOptions
	dialer *websocket.Dialer
	frames chan Message

	writeMu sync.Mutex
	mu      sync.RWMutex
	conn    *websocket.Conn

	cancel context.CancelFunc
	done   chan struct{}
}

// DialWS starts the connection loop and returns immediately. Messages sent
// while the socket is down fail with ErrNotConnected.
func DialWS(ctx context.Context, opts WSOptions) (*WSTransport, error) {
	target, err := socketURL(opts)
	if err != nil {
		return nil, err
	}
	if opts.Reconnect <= 0 {
		opts.Reconnect = time.Second
	}
	ctx, cancel := context.WithCancel(ctx)
	t := &WSTransport{
		opts:   opts,
		dialer: &websocket.Dialer{HandshakeTimeout: util.DefaultDialTimeout},
		frames: make(chan Message, 256),
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go t.loop(ctx, target)
	return t, nil
}

func socketURL(opts WSOptions) (string, error) {
	u, err := url.Parse(opts.URL)
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set("role", opts.Role)
	q.Set("peer", opts.PeerID)
	if opts.Label != "" {
		q.Set("name", opts.Label)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (t *WSTransport) loop(ctx context.Context, target string) {
	defer close(t.done)
	defer close(t.frames)

	backoff := t.opts.Reconnect
	for {
		conn, _, err := t.dialer.DialContext(ctx, target, nil)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Warnf("dial %s: %v (retry in %s)", t.opts.URL, err, backoff)
			if !sleepCtx(ctx, backoff) {
				return
			}
			backoff = min(backoff*2, maxBackoff)
			continue
		}

		backoff = t.opts.Reconnect
		t.setConn(conn)
		log.Infof("connected to %s as %s (%s)", t.opts.URL, t.opts.PeerID, t.opts.Role)
		if t.opts.OnConnect != nil {
			t.opts.OnConnect()
		}

		t.readLoop(ctx, conn)
		t.setConn(nil)
		_ = conn.Close()

		if ctx.Err() != nil {
			return
		}
		log.Warnf("connection to %s lost (retry in %s)", t.opts.URL, backoff)
		if t.opts.OnDisconnect != nil {
			t.opts.OnDisconnect()
		}
		if !sleepCtx(ctx, backoff) {
			return
		}
	}
}

func (t *WSTransport) readLoop(ctx context.Context, conn *websocket.Conn) {
	// Unblock ReadMessage on shutdown.
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	for {
		kind, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var m Message
		switch kind {
		case websocket.TextMessage:
			var env Envelope
			if err := json.Unmarshal(data, &env); err != nil {
				log.Warnf("malformed frame: %v", err)
				continue
			}
			m = Message{Type: env.Event, Data: env.Data}
		case websocket.BinaryMessage:
			m = Message{Type: TypeAudioChunk, Binary: data}
		default:
			continue
		}
		select {
		case t.frames <- m:
		case <-ctx.Done():
			return
		}
	}
}

func (t *WSTransport) setConn(c *websocket.Conn) {
	t.mu.Lock()
	t.conn = c
	t.mu.Unlock()
}

// Connected reports whether a socket is currently open.
func (t *WSTransport) Connected() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.conn != nil
}

func (t *WSTransport) Emit(event string, data json.RawMessage) error {
	b, err := json.Marshal(Envelope{Event: event, Data: data})
	if err != nil {
		return err
	}
	return t.write(websocket.TextMessage, b)
}

// EmitBinary sends payload as a binary frame. The relay treats every binary
// frame as audio, so event is only checked.
func (t *WSTransport) EmitBinary(event string, payload []byte) error {
	if event != TypeAudioChunk {
		return errors.New("signaling: binary frames carry audio only")
	}
	return t.write(websocket.BinaryMessage, payload)
}

func (t *WSTransport) write(kind int, b []byte) error {
	t.mu.RLock()
	conn := t.conn
	t.mu.RUnlock()
	if conn == nil {
		return ErrNotConnected
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(util.DefaultWriteTimeout))
	return conn.WriteMessage(kind, b)
}

func (t *WSTransport) Frames() <-chan Message { return t.frames }

func (t *WSTransport) Close() error {
	t.cancel()
	<-t.done
	return nil
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
