// Package controls maps a call snapshot to the affordances a user sees and
// forwards the intents those affordances raise. Present is pure; Dispatch
// holds no state.
package controls

import (
	"errors"
	"fmt"
	"time"

	"github.com/petervdpas/goopcall/internal/call"
)

type IntentKind string

const (
	IntentStart      IntentKind = "start"
	IntentCancel     IntentKind = "cancel"
	IntentAccept     IntentKind = "accept"
	IntentReject     IntentKind = "reject"
	IntentEnd        IntentKind = "end"
	IntentToggleMute IntentKind = "toggle-mute"
)

// Intent is what a button asks the state machine to do.
type Intent struct {
	Kind   IntentKind `json:"kind"`
	CallID string     `json:"call_id,omitempty"`
	PeerID string     `json:"peer_id,omitempty"`
}

type Button struct {
	Label  string
	Title  string
	Style  string // primary | danger | muted | plain
	Intent Intent
}

type Line struct {
	Time  string
	Text  string
	Final bool
	Index int
}

// Controls is one of five mutually exclusive affordance sets, selected by
// State.
type Controls struct {
	State      call.State
	Status     string
	Peer       string
	Buttons    []Button
	PeerInput  bool // Idle: ask for the peer to call
	Duration   string
	Muted      bool
	Transcript []Line
	Notice     string
	Busy       bool
}

// Present maps a snapshot to controls.
func Present(s call.Snapshot) Controls {
	c := Controls{
		State: s.State,
		Peer:  peerLabel(s),
		Busy:  s.Pending,
	}

	switch s.State {
	case call.StateIdle:
		c.PeerInput = true
		c.Buttons = []Button{{
			Label:  "Call",
			Title:  "Start voice call",
			Style:  "primary",
			Intent: Intent{Kind: IntentStart},
		}}
		if s.Failure != "" {
			c.Notice = "Call failed: " + s.Failure
		}

	case call.StateRinging:
		c.Status = "Ringing..."
		if s.Pending {
			c.Status = "Connecting..."
		}
		c.Buttons = []Button{{
			Label:  "Cancel",
			Style:  "danger",
			Intent: Intent{Kind: IntentCancel},
		}}

	case call.StateIncoming:
		c.Status = "Incoming call"
		if s.Pending {
			c.Status = "Connecting..."
			c.Buttons = []Button{{
				Label:  "Reject",
				Style:  "danger",
				Intent: Intent{Kind: IntentReject, CallID: s.CallID},
			}}
			break
		}
		c.Buttons = []Button{
			{Label: "Accept", Style: "primary", Intent: Intent{Kind: IntentAccept, CallID: s.CallID}},
			{Label: "Reject", Style: "danger", Intent: Intent{Kind: IntentReject, CallID: s.CallID}},
		}

	case call.StateConnected:
		c.Duration = FormatDuration(s.Duration)
		c.Muted = s.Muted
		mute := Button{Label: "Mute", Title: "Mute", Style: "plain", Intent: Intent{Kind: IntentToggleMute}}
		if s.Muted {
			mute = Button{Label: "Unmute", Title: "Unmute", Style: "muted", Intent: Intent{Kind: IntentToggleMute}}
		}
		c.Buttons = []Button{
			mute,
			{Label: "End", Style: "danger", Intent: Intent{Kind: IntentEnd}},
		}
		c.Transcript = lines(s.Transcript)

	case call.StateEnded:
		c.Status = "Call ended"
		c.Transcript = lines(s.Transcript)
	}
	return c
}

func peerLabel(s call.Snapshot) string {
	if s.PeerName != "" {
		return s.PeerName
	}
	return s.Peer
}

func lines(chunks []call.TranscriptChunk) []Line {
	if len(chunks) == 0 {
		return nil
	}
	out := make([]Line, len(chunks))
	for i, ch := range chunks {
		out[i] = Line{
			Time:  ch.ReceivedAt.Format("15:04:05"),
			Text:  ch.Text,
			Final: ch.IsFinal,
			Index: ch.SequenceIndex,
		}
	}
	return out
}

// FormatDuration renders whole seconds as m:ss.
func FormatDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	secs := int(d / time.Second)
	return fmt.Sprintf("%d:%02d", secs/60, secs%60)
}

// Intents is the state machine surface the controls drive.
type Intents interface {
	StartCall(peer string)
	Cancel()
	Accept(callID string)
	Reject(callID string)
	End()
	ToggleMute()
}

var (
	ErrUnknownIntent = errors.New("controls: unknown intent")
	ErrMissingField  = errors.New("controls: missing field")
)

// Dispatch forwards in to target.
func Dispatch(target Intents, in Intent) error {
	switch in.Kind {
	case IntentStart:
		if in.PeerID == "" {
			return fmt.Errorf("%w: peer_id", ErrMissingField)
		}
		target.StartCall(in.PeerID)
	case IntentCancel:
		target.Cancel()
	case IntentAccept:
		if in.CallID == "" {
			return fmt.Errorf("%w: call_id", ErrMissingField)
		}
		target.Accept(in.CallID)
	case IntentReject:
		if in.CallID == "" {
			return fmt.Errorf("%w: call_id", ErrMissingField)
		}
		target.Reject(in.CallID)
	case IntentEnd:
		target.End()
	case IntentToggleMute:
		target.ToggleMute()
	default:
		return fmt.Errorf("%w: %q", ErrUnknownIntent, in.Kind)
	}
	return nil
}
