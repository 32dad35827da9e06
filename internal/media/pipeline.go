package media

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
)

// Pipeline acquires microphones and builds peer connections with one
// shared configuration. The configuration can be swapped at runtime; the
// next attempt picks it up.
type Pipeline struct {
	mic Microphone

	mu  sync.RWMutex
	cfg Config
}

func NewPipeline(cfg Config, mic Microphone) *Pipeline {
	return &Pipeline{cfg: cfg, mic: mic}
}

// SetConfig replaces the configuration used by later attempts.
func (p *Pipeline) SetConfig(cfg Config) {
	p.mu.Lock()
	p.cfg = cfg
	p.mu.Unlock()
}

func (p *Pipeline) config() Config {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.cfg
}

// Acquire opens the microphone. Failures are ErrPermissionDenied or
// ErrDeviceUnavailable.
func (p *Pipeline) Acquire(ctx context.Context) (Local, error) {
	cfg := p.config()
	lm := &LocalMedia{cfg: cfg, stop: make(chan struct{})}
	lm.enabled.Store(true)

	src, err := p.mic.Open(ctx, cfg, lm.enabled.Load)
	if err != nil {
		return nil, classify(err)
	}
	if ctx.Err() != nil {
		_ = src.Close()
		return nil, ctx.Err()
	}
	lm.src = src
	log.Infof("microphone acquired (%d Hz, %d ms frames)", cfg.SampleRate, cfg.FrameMs)
	return lm, nil
}

// LocalMedia is an opened microphone plus its capture loop.
type LocalMedia struct {
	cfg     Config
	src     Source
	enabled atomic.Bool

	mu        sync.Mutex
	capturing bool
	released  bool
	stop      chan struct{}
	wg        sync.WaitGroup
}

// SetEnabled is the mute gate. While disabled both the outbound track and
// captured chunks carry silence.
func (l *LocalMedia) SetEnabled(on bool) { l.enabled.Store(on) }

func (l *LocalMedia) Enabled() bool { return l.enabled.Load() }

// StartCapture runs the capture loop until Release. Every frame of
// FrameMs is handed to onChunk as little-endian PCM16, in order. A second
// call while capturing is a no-op.
func (l *LocalMedia) StartCapture(onChunk func(pcm []byte)) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.released {
		return ErrReleased
	}
	if l.capturing {
		return nil
	}
	l.capturing = true

	l.wg.Add(1)
	go l.captureLoop(onChunk)
	return nil
}

func (l *LocalMedia) captureLoop(onChunk func([]byte)) {
	defer l.wg.Done()

	framer := NewFramer(l.cfg.frameSamples())
	var sent uint64
	for {
		samples, err := l.src.Read()
		select {
		case <-l.stop:
			log.Debugf("capture stopped after %d chunks", sent)
			return
		default:
		}
		if err != nil {
			log.Warnf("capture read: %v", err)
			return
		}
		if !l.enabled.Load() {
			clear(samples)
		}
		framer.Push(samples, func(frame []int16) {
			onChunk(EncodePCM16(frame))
			sent++
		})
	}
}

// Release stops capture and closes the microphone. Safe to call twice.
func (l *LocalMedia) Release() {
	l.mu.Lock()
	if l.released {
		l.mu.Unlock()
		return
	}
	l.released = true
	close(l.stop)
	l.mu.Unlock()

	if l.src != nil {
		if err := l.src.Close(); err != nil {
			log.Debugf("close microphone: %v", err)
		}
	}
	l.wg.Wait()
	l.enabled.Store(true)
	log.Infof("microphone released")
}

// CreatePeer builds a peer connection carrying local's audio track.
func (p *Pipeline) CreatePeer(local Local, ev PeerEvents) (Connection, error) {
	lm, ok := local.(*LocalMedia)
	if !ok {
		return nil, fmt.Errorf("media: unsupported local handle %T", local)
	}
	return newPeer(p.config(), lm.src, ev)
}
