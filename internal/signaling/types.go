package signaling

import (
	"encoding/json"
	"errors"

	"github.com/pion/webrtc/v4"
)

// Message types exchanged with the relay.
const (
	TypeCallInitiate    = "call_initiate"
	TypeCallIncoming    = "call_incoming"
	TypeCallAccept      = "call_accept"
	TypeCallReject      = "call_reject"
	TypeCallStarted     = "call_started"
	TypeCallRejected    = "call_rejected"
	TypeCallOffer       = "call_offer"
	TypeCallAnswer      = "call_answer"
	TypeCallICE         = "call_ice"
	TypeCallEnd         = "call_end"
	TypeCallEnded       = "call_ended"
	TypeTranscriptChunk = "transcript_chunk"
	TypeAudioChunk      = "audio_chunk"
)

// ErrTransportDeliveryUnknown is logged when a send could not be handed to
// the transport. Delivery is never confirmed or retried.
var ErrTransportDeliveryUnknown = errors.New("signaling: delivery unknown")

// Envelope is the JSON text frame on the socket.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Message is one inbound frame after transport decoding. Text frames fill
// Data, audio frames fill Binary.
type Message struct {
	Type   string
	Data   json.RawMessage
	Binary []byte
}

// Decode unmarshals the JSON payload into v. An empty payload leaves v untouched.
func (m Message) Decode(v any) error {
	if len(m.Data) == 0 {
		return nil
	}
	return json.Unmarshal(m.Data, v)
}

type CallInitiate struct {
	TargetPeerID string `json:"targetPeerId"`
}

type CallIncoming struct {
	CallID   string `json:"callId"`
	From     string `json:"from"`
	PeerName string `json:"peerName,omitempty"`
}

type CallAccept struct {
	CallID string `json:"callId"`
}

type CallReject struct {
	CallID string `json:"callId"`
}

type CallStarted struct {
	CallID string `json:"callId"`
}

type CallRejected struct {
	Reason string `json:"reason,omitempty"`
}

type CallOffer struct {
	SDP webrtc.SessionDescription `json:"sdp"`
}

type CallAnswer struct {
	SDP webrtc.SessionDescription `json:"sdp"`
}

type CallICE struct {
	Candidate webrtc.ICECandidateInit `json:"candidate"`
}

type CallEnd struct {
	CallID string `json:"callId,omitempty"`
}

type CallEnded struct {
	Reason string `json:"reason,omitempty"`
}

type TranscriptChunk struct {
	Text       string `json:"text"`
	IsFinal    bool   `json:"isFinal"`
	ChunkIndex int    `json:"chunkIndex"`
}
