package relay

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/petervdpas/goopcall/internal/config"
	"github.com/petervdpas/goopcall/internal/signaling"
	"github.com/petervdpas/goopcall/internal/util"
)

// Transcriber consumes one call's PCM audio.
type Transcriber interface {
	Send(pcm []byte)
	Close() error
}

// Factory opens a transcriber for callID. emit may be called from any
// goroutine.
type Factory func(ctx context.Context, callID string, emit func(signaling.TranscriptChunk)) (Transcriber, error)

// NewFactory picks the transcriber named by cfg. A stream transcriber that
// cannot connect falls back to the mock.
func NewFactory(cfg config.Relay, sampleRate int) Factory {
	every := cfg.TranscribeEvery
	mock := func(_ context.Context, callID string, emit func(signaling.TranscriptChunk)) (Transcriber, error) {
		return NewMockTranscriber(every, emit), nil
	}
	if cfg.Transcriber != config.TranscriberStream {
		return mock
	}
	return func(ctx context.Context, callID string, emit func(signaling.TranscriptChunk)) (Transcriber, error) {
		tr, err := DialStream(ctx, StreamOptions{
			URL:        cfg.TranscriberURL,
			APIKey:     cfg.TranscriberAPIKey,
			CallID:     callID,
			SampleRate: sampleRate,
		}, emit)
		if err != nil {
			log.Warnf("[%s] stream transcriber unavailable, using mock: %v", callID, err)
			return mock(ctx, callID, emit)
		}
		return tr, nil
	}
}

var mockPhrases = []string{
	"Hi, I need help with my order.",
	"It was supposed to arrive two days ago.",
	"Can you check the tracking status?",
	"I've been a customer for a long time.",
	"I'd really appreciate some help here.",
	"Is there anything you can do?",
	"Maybe a credit or something?",
	"Okay, that sounds fair. Thank you.",
}

// MockTranscriber emits the next canned phrase every N audio chunks.
type MockTranscriber struct {
	every int
	emit  func(signaling.TranscriptChunk)

	mu     sync.Mutex
	count  int
	index  int
	closed bool
}

func NewMockTranscriber(every int, emit func(signaling.TranscriptChunk)) *MockTranscriber {
	if every <= 0 {
		every = 10
	}
	return &MockTranscriber{every: every, emit: emit}
}

func (m *MockTranscriber) Send(_ []byte) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.count++
	if m.count%m.every != 0 {
		m.mu.Unlock()
		return
	}
	text := mockPhrases[m.index%len(mockPhrases)]
	m.index++
	chunk := signaling.TranscriptChunk{Text: text, IsFinal: true, ChunkIndex: m.index}
	m.mu.Unlock()

	m.emit(chunk)
}

func (m *MockTranscriber) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}

// StreamOptions configures a remote speech-to-text websocket session.
type StreamOptions struct {
	URL        string
	APIKey     string
	CallID     string
	SampleRate int
}

type streamConfig struct {
	Type       string `json:"type"`
	CallID     string `json:"callId"`
	SampleRate int    `json:"sampleRate"`
	Encoding   string `json:"encoding"`
}

// StreamTranscriber forwards audio as binary frames and relays the JSON
// results it gets back.
type StreamTranscriber struct {
	callID string
	conn   *websocket.Conn

	writeMu sync.Mutex
	mu      sync.Mutex
	closed  bool
	done    chan struct{}
}

// DialStream connects, sends the config frame and starts reading results.
func DialStream(ctx context.Context, opts StreamOptions, emit func(signaling.TranscriptChunk)) (*StreamTranscriber, error) {
	header := http.Header{}
	if opts.APIKey != "" {
		header.Set("Authorization", opts.APIKey)
	}
	dialer := websocket.Dialer{HandshakeTimeout: util.DefaultDialTimeout}
	conn, _, err := dialer.DialContext(ctx, opts.URL, header)
	if err != nil {
		return nil, err
	}

	cfg, _ := json.Marshal(streamConfig{
		Type:       "config",
		CallID:     opts.CallID,
		SampleRate: opts.SampleRate,
		Encoding:   "pcm_s16le",
	})
	_ = conn.SetWriteDeadline(time.Now().Add(util.DefaultWriteTimeout))
	if err := conn.WriteMessage(websocket.TextMessage, cfg); err != nil {
		_ = conn.Close()
		return nil, err
	}

	s := &StreamTranscriber{callID: opts.CallID, conn: conn, done: make(chan struct{})}
	go s.listen(emit)
	log.Infof("[%s] stream transcriber connected to %s", opts.CallID, opts.URL)
	return s, nil
}

func (s *StreamTranscriber) listen(emit func(signaling.TranscriptChunk)) {
	defer close(s.done)
	for {
		kind, data, err := s.conn.ReadMessage()
		if err != nil {
			s.mu.Lock()
			closed := s.closed
			s.closed = true
			s.mu.Unlock()
			if !closed {
				log.Warnf("[%s] stream transcriber: %v", s.callID, err)
			}
			return
		}
		if kind != websocket.TextMessage {
			continue
		}
		var chunk signaling.TranscriptChunk
		if err := json.Unmarshal(data, &chunk); err != nil || chunk.Text == "" {
			continue
		}
		emit(chunk)
	}
}

func (s *StreamTranscriber) Send(pcm []byte) {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(util.DefaultWriteTimeout))
	if err := s.conn.WriteMessage(websocket.BinaryMessage, pcm); err != nil {
		log.Debugf("[%s] stream transcriber write: %v", s.callID, err)
	}
}

func (s *StreamTranscriber) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		<-s.done
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.writeMu.Lock()
	_ = s.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(util.ShortTimeout))
	s.writeMu.Unlock()

	err := s.conn.Close()
	<-s.done
	return err
}
