package call

import (
	"github.com/pion/webrtc/v4"

	"github.com/petervdpas/goopcall/internal/signaling"
)

// Handlers returns the inbound signaling handlers for this machine. Install
// them with Adapter.Subscribe; closing that subscription detaches the
// machine from the channel.
func (m *Machine) Handlers() map[string]signaling.Handler {
	return map[string]signaling.Handler{
		signaling.TypeCallIncoming: decode(m, func(p signaling.CallIncoming) { m.onIncoming(p) }),
		signaling.TypeCallStarted:  decode(m, func(p signaling.CallStarted) { m.onStarted(p) }),
		signaling.TypeCallRejected: decode(m, func(signaling.CallRejected) { m.onRejected(signaling.TypeCallRejected) }),
		signaling.TypeCallEnded:    decode(m, func(signaling.CallEnded) { m.onEnded() }),
		signaling.TypeCallOffer:    decode(m, func(p signaling.CallOffer) { m.onOffer(p.SDP) }),
		signaling.TypeCallAnswer:   decode(m, func(p signaling.CallAnswer) { m.onAnswer(p.SDP) }),
		signaling.TypeCallICE:      decode(m, func(p signaling.CallICE) { m.onICE(p.Candidate) }),
		signaling.TypeTranscriptChunk: decode(m, func(p signaling.TranscriptChunk) {
			m.onTranscript(p)
		}),
	}
}

// decode unmarshals the payload on the reader goroutine and queues fn on
// the loop. Undecodable messages are dropped.
func decode[T any](m *Machine, fn func(T)) signaling.Handler {
	return func(msg signaling.Message) {
		var p T
		if err := msg.Decode(&p); err != nil {
			log.Warnf("drop %s: %v", msg.Type, err)
			return
		}
		m.post(func() { fn(p) })
	}
}

func (m *Machine) onIncoming(p signaling.CallIncoming) {
	if p.CallID == "" {
		log.Warnf("call_incoming without callId from %s", p.From)
		return
	}
	switch m.s.state {
	case StateIdle:
	case StateEnded:
		m.resetToIdle()
	default:
		if p.CallID == m.s.callID {
			// Duplicate notice for the call we already show.
			return
		}
		if m.replyBusy {
			m.sig.Send(signaling.TypeCallReject, signaling.CallReject{CallID: p.CallID})
			log.Infof("[%s] busy, rejected call from %s", p.CallID, p.From)
		} else {
			log.Infof("[%s] busy, ignored call from %s", p.CallID, p.From)
		}
		return
	}

	m.s.state = StateIncoming
	m.s.leg = CalleeLeg{From: p.From, PeerName: p.PeerName}
	m.s.callID = p.CallID
	log.Infof("[%s] incoming call from %s", p.CallID, p.From)
	m.publish()
}

func (m *Machine) onStarted(p signaling.CallStarted) {
	if m.s.state != StateRinging || m.s.pending {
		m.invalid(signaling.TypeCallStarted)
		return
	}
	m.s.callID = p.CallID
	log.Infof("[%s] accepted by %s", p.CallID, m.s.leg.PeerID())
	m.beginConnect(StateRinging)
	m.publish()
}

// onRejected handles call_rejected, and call_ended outside Connected.
func (m *Machine) onRejected(event string) {
	switch m.s.state {
	case StateRinging:
		log.Infof("[%s] call to %s rejected", m.tag(), m.s.leg.PeerID())
	case StateIncoming:
		log.Infof("[%s] incoming call withdrawn", m.tag())
	default:
		m.invalid(event)
		return
	}
	m.s.attempt++
	m.releaseMedia()
	m.resetToIdle()
	m.publish()
}

func (m *Machine) onEnded() {
	if m.s.state != StateConnected {
		m.onRejected(signaling.TypeCallEnded)
		return
	}
	log.Infof("[%s] remote hung up", m.tag())
	m.enterEnded()
}

func (m *Machine) onOffer(sd webrtc.SessionDescription) {
	switch {
	case m.s.state == StateConnected && m.s.peer != nil:
		m.applyOffer(sd)
	case m.s.pending:
		m.s.pendingOffer = &sd
	default:
		m.invalid(signaling.TypeCallOffer)
	}
}

func (m *Machine) onAnswer(sd webrtc.SessionDescription) {
	if m.s.state != StateConnected || m.s.peer == nil {
		m.invalid(signaling.TypeCallAnswer)
		return
	}
	if err := m.s.peer.SetRemoteDescription(sd); err != nil {
		log.Warnf("[%s] set remote answer: %v", m.tag(), err)
		return
	}
	m.s.remoteDescSet = true
	m.flushRemoteICE()
}

func (m *Machine) onICE(c webrtc.ICECandidateInit) {
	switch {
	case m.s.state == StateConnected && m.s.peer != nil && m.s.remoteDescSet:
		if err := m.s.peer.AddICECandidate(c); err != nil {
			log.Warnf("[%s] add ice candidate: %v", m.tag(), err)
		}
	case m.s.state == StateConnected || m.s.pending:
		m.s.remoteICE = append(m.s.remoteICE, c)
	default:
		m.invalid(signaling.TypeCallICE)
	}
}

func (m *Machine) onTranscript(p signaling.TranscriptChunk) {
	if m.s.state != StateConnected {
		m.invalid(signaling.TypeTranscriptChunk)
		return
	}
	m.s.transcript = append(m.s.transcript, TranscriptChunk{
		Text:          p.Text,
		IsFinal:       p.IsFinal,
		SequenceIndex: p.ChunkIndex,
		ReceivedAt:    m.clock.Now(),
	})
	m.publish()
}
