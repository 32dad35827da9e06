package call

import (
	"errors"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/petervdpas/goopcall/internal/media"
)

var (
	// ErrStaleOperation marks an async result that arrived after its attempt
	// was cancelled or superseded. Its handles are released, never attached.
	ErrStaleOperation = errors.New("call: stale operation")

	// ErrInvalidTransition marks an event the current state has no row for.
	// It is logged and the event dropped.
	ErrInvalidTransition = errors.New("call: invalid transition")
)

type State string

const (
	StateIdle      State = "idle"
	StateRinging   State = "ringing"
	StateIncoming  State = "incoming"
	StateConnected State = "connected"
	StateEnded     State = "ended"
)

type Role string

const (
	RoleCaller Role = "caller"
	RoleCallee Role = "callee"
)

// Leg is the local side of a non-idle session: either CallerLeg or CalleeLeg.
type Leg interface {
	Role() Role
	PeerID() string
}

// CallerLeg is set when this client placed the call.
type CallerLeg struct {
	Target string
}

func (l CallerLeg) Role() Role     { return RoleCaller }
func (l CallerLeg) PeerID() string { return l.Target }

// CalleeLeg is set when the call came in.
type CalleeLeg struct {
	From     string
	PeerName string
}

func (l CalleeLeg) Role() Role     { return RoleCallee }
func (l CalleeLeg) PeerID() string { return l.From }

// TranscriptChunk is one transcription result in arrival order.
type TranscriptChunk struct {
	Text          string    `json:"text"`
	IsFinal       bool      `json:"is_final"`
	SequenceIndex int       `json:"sequence_index"`
	ReceivedAt    time.Time `json:"received_at"`
}

// Snapshot is an immutable copy of the session handed to observers.
type Snapshot struct {
	State        State             `json:"state"`
	Role         Role              `json:"role,omitempty"`
	CallID       string            `json:"call_id,omitempty"`
	Peer         string            `json:"peer,omitempty"`
	PeerName     string            `json:"peer_name,omitempty"`
	StartedAt    time.Time         `json:"started_at,omitzero"`
	Duration     time.Duration     `json:"duration"`
	TimerRunning bool              `json:"timer_running"`
	Muted        bool              `json:"muted"`
	Pending      bool              `json:"pending"`
	HasMedia     bool              `json:"has_media"`
	RemoteAudio  bool              `json:"remote_audio"`
	Transcript   []TranscriptChunk `json:"transcript"`

	// Failure is set on exactly one snapshot after a media failure.
	Failure string `json:"failure,omitempty"`
}

// session is the mutable call state. Only the machine's loop goroutine
// touches it.
type session struct {
	state  State
	leg    Leg
	callID string

	startedAt  time.Time
	duration   time.Duration
	muted      bool
	transcript []TranscriptChunk

	// attempt names the current async operation. Results carrying another
	// value are stale.
	attempt uint64
	pending bool

	// local and peer are attached and detached together.
	local media.Local
	peer  media.Connection

	remoteAudio   bool
	localDescSent bool
	remoteDescSet bool
	localICE      []webrtc.ICECandidateInit
	remoteICE     []webrtc.ICECandidateInit
	pendingOffer  *webrtc.SessionDescription

	tick     Timer
	cooldown Timer
	failure  string
}

func (s *session) snapshot() Snapshot {
	snap := Snapshot{
		State:        s.state,
		CallID:       s.callID,
		StartedAt:    s.startedAt,
		Duration:     s.duration,
		TimerRunning: s.tick != nil,
		Muted:        s.muted,
		Pending:      s.pending,
		HasMedia:     s.local != nil && s.peer != nil,
		RemoteAudio:  s.remoteAudio,
		Transcript:   append([]TranscriptChunk(nil), s.transcript...),
		Failure:      s.failure,
	}
	if s.leg != nil {
		snap.Role = s.leg.Role()
		snap.Peer = s.leg.PeerID()
		if cl, ok := s.leg.(CalleeLeg); ok {
			snap.PeerName = cl.PeerName
		}
	}
	if snap.Transcript == nil {
		snap.Transcript = []TranscriptChunk{}
	}
	return snap
}
