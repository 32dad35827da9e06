// Package media owns the microphone, the WebRTC peer connection and the
// capture loop that turns microphone audio into PCM chunks for the relay.
//
// Handles returned here are owned by exactly one call attempt. The caller
// releases them together; Release and Close are safe to call more than once.
package media

import (
	"context"
	"errors"
	"fmt"
	"strings"

	logging "github.com/ipfs/go-log/v2"
	"github.com/pion/webrtc/v4"
)

var log = logging.Logger("media")

var (
	ErrPermissionDenied  = errors.New("media: microphone permission denied")
	ErrDeviceUnavailable = errors.New("media: no usable microphone")
	ErrReleased          = errors.New("media: handle released")
)

// Config is the subset of the client config the pipeline needs.
type Config struct {
	ICEServers []string
	SampleRate int
	FrameMs    int
}

func (c Config) frameSamples() int {
	n := c.SampleRate * c.FrameMs / 1000
	if n < 1 {
		n = 1
	}
	return n
}

// Source is an opened microphone.
type Source interface {
	// Track is the outbound audio track, or nil when the source can only be
	// read locally.
	Track() webrtc.TrackLocal
	// Read blocks until the next block of mono samples is available.
	Read() ([]int16, error)
	Close() error
}

// Microphone opens audio sources. enabled reports the current mute gate;
// sources consult it for every outbound block.
type Microphone interface {
	Open(ctx context.Context, cfg Config, enabled func() bool) (Source, error)
}

// Local is the microphone side of an attempt.
type Local interface {
	SetEnabled(on bool)
	Enabled() bool
	StartCapture(onChunk func(pcm []byte)) error
	Release()
}

// Connection is the peer side of an attempt.
type Connection interface {
	CreateOffer() (webrtc.SessionDescription, error)
	CreateAnswer() (webrtc.SessionDescription, error)
	SetRemoteDescription(sd webrtc.SessionDescription) error
	AddICECandidate(c webrtc.ICECandidateInit) error
	Stats() Stats
	Close() error
}

// PeerEvents are the callbacks a peer connection raises. They run on pion's
// goroutines.
type PeerEvents struct {
	OnRemoteTrack  func()
	OnICECandidate func(webrtc.ICECandidateInit)
	OnStateChange  func(webrtc.PeerConnectionState)
}

// Engine is what the call state machine drives.
type Engine interface {
	Acquire(ctx context.Context) (Local, error)
	CreatePeer(local Local, ev PeerEvents) (Connection, error)
}

// classify maps a driver error onto the two failures the user can act on.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrPermissionDenied) || errors.Is(err, ErrDeviceUnavailable) {
		return err
	}
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "permission") || strings.Contains(msg, "denied") || strings.Contains(msg, "not allowed") {
		return fmt.Errorf("%w: %v", ErrPermissionDenied, err)
	}
	return fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
}
