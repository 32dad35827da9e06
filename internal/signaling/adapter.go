// Package signaling carries call control messages between a client and the
// relay. It knows nothing about call state: it frames, sends and dispatches.
package signaling

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	logging "github.com/ipfs/go-log/v2"
)

var log = logging.Logger("signaling")

// Transport moves frames to and from the relay.
type Transport interface {
	Emit(event string, data json.RawMessage) error
	EmitBinary(event string, payload []byte) error
	// Frames yields inbound messages in arrival order. It is closed when the
	// transport shuts down.
	Frames() <-chan Message
	Close() error
}

// Handler receives one inbound message. Handlers run on the adapter's
// reader goroutine and must not block.
type Handler func(Message)

type registration struct {
	h Handler
}

// Adapter sends typed payloads and dispatches inbound messages to at most
// one handler per message type.
type Adapter struct {
	t Transport

	mu       sync.RWMutex
	handlers map[string]*registration
}

func New(t Transport) *Adapter {
	return &Adapter{
		t:        t,
		handlers: make(map[string]*registration),
	}
}

// Send marshals payload and hands it to the transport. Failures are logged
// and otherwise swallowed.
func (a *Adapter) Send(msgType string, payload any) {
	var data json.RawMessage
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			log.Errorf("encode %s: %v", msgType, err)
			return
		}
		data = b
	}
	if err := a.t.Emit(msgType, data); err != nil {
		log.Warnf("send %s: %v", msgType, fmt.Errorf("%w: %v", ErrTransportDeliveryUnknown, err))
		return
	}
	log.Debugf("sent %s", msgType)
}

// SendAudio emits one audio_chunk frame of raw PCM.
func (a *Adapter) SendAudio(pcm []byte) {
	if err := a.t.EmitBinary(TypeAudioChunk, pcm); err != nil {
		log.Debugf("send %s: %v", TypeAudioChunk, fmt.Errorf("%w: %v", ErrTransportDeliveryUnknown, err))
	}
}

// On installs h for msgType, replacing any earlier handler.
func (a *Adapter) On(msgType string, h Handler) *Subscription {
	return a.Subscribe(map[string]Handler{msgType: h})
}

// Subscribe installs a set of handlers at once. Closing the returned
// subscription removes them again, unless a later registration has
// replaced them in the meantime.
func (a *Adapter) Subscribe(handlers map[string]Handler) *Subscription {
	sub := &Subscription{a: a, regs: make(map[string]*registration, len(handlers))}

	a.mu.Lock()
	for typ, h := range handlers {
		r := &registration{h: h}
		a.handlers[typ] = r
		sub.regs[typ] = r
	}
	a.mu.Unlock()
	return sub
}

// Run dispatches inbound frames until ctx is cancelled or the transport
// closes its frame channel.
func (a *Adapter) Run(ctx context.Context) error {
	frames := a.t.Frames()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case m, ok := <-frames:
			if !ok {
				return nil
			}
			a.dispatch(m)
		}
	}
}

func (a *Adapter) dispatch(m Message) {
	a.mu.RLock()
	r := a.handlers[m.Type]
	a.mu.RUnlock()

	if r == nil {
		log.Debugf("no handler for %s", m.Type)
		return
	}
	r.h(m)
}

// Close shuts the underlying transport.
func (a *Adapter) Close() error {
	return a.t.Close()
}

// Subscription is a handle on handlers installed through Subscribe.
type Subscription struct {
	a    *Adapter
	once sync.Once
	regs map[string]*registration
}

// Close removes the handlers this subscription installed. Safe to call twice.
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.a.mu.Lock()
		for typ, r := range s.regs {
			if s.a.handlers[typ] == r {
				delete(s.a.handlers, typ)
			}
		}
		s.a.mu.Unlock()
	})
}
