package signaling

import (
	"encoding/json"
	"errors"
	"sync"
)

var (
	ErrClosed     = errors.New("signaling: transport closed")
	ErrBufferFull = errors.New("signaling: peer buffer full")
)

const pipeBuffer = 1024

// Pipe is an in-memory Transport. Frames emitted on one end arrive on the
// other, in order.
type Pipe struct {
	mu     sync.RWMutex
	closed bool
	in     chan Message
	peer   *Pipe
}

// NewPipe returns two connected ends.
func NewPipe() (*Pipe, *Pipe) {
	a := &Pipe{in: make(chan Message, pipeBuffer)}
	b := &Pipe{in: make(chan Message, pipeBuffer)}
	a.peer, b.peer = b, a
	return a, b
}

func (p *Pipe) Emit(event string, data json.RawMessage) error {
	return p.deliver(Message{Type: event, Data: append(json.RawMessage(nil), data...)})
}

func (p *Pipe) EmitBinary(event string, payload []byte) error {
	return p.deliver(Message{Type: event, Binary: append([]byte(nil), payload...)})
}

func (p *Pipe) deliver(m Message) error {
	p.mu.RLock()
	closed := p.closed
	p.mu.RUnlock()
	if closed {
		return ErrClosed
	}

	dst := p.peer
	dst.mu.RLock()
	defer dst.mu.RUnlock()
	if dst.closed {
		return ErrClosed
	}
	select {
	case dst.in <- m:
		return nil
	default:
		return ErrBufferFull
	}
}

func (p *Pipe) Frames() <-chan Message { return p.in }

func (p *Pipe) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	close(p.in)
	return nil
}
