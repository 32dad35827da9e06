package call

import (
	"fmt"

	"github.com/pion/webrtc/v4"

	"github.com/petervdpas/goopcall/internal/media"
	"github.com/petervdpas/goopcall/internal/signaling"
)

// beginConnect starts acquiring media for the current call. The session
// stays in from (Ringing or Incoming) with Pending set until the result is
// applied on the loop.
func (m *Machine) beginConnect(from State) {
	m.s.attempt++
	m.s.pending = true
	token := m.s.attempt
	caller := from == StateRinging
	log.Infof("[%s] acquiring media", m.tag())
	go m.connect(token, from, caller)
}

// connect runs off the loop. Whatever it acquires is either handed to the
// loop in one piece or released here.
func (m *Machine) connect(token uint64, from State, caller bool) {
	local, err := m.media.Acquire(m.ctx)
	if err != nil {
		m.post(func() { m.connectFailed(token, from, err) })
		return
	}

	peer, err := m.media.CreatePeer(local, media.PeerEvents{
		OnRemoteTrack: func() {
			m.post(func() { m.remoteTrack(token) })
		},
		OnICECandidate: func(c webrtc.ICECandidateInit) {
			m.post(func() { m.localCandidate(token, c) })
		},
		OnStateChange: func(s webrtc.PeerConnectionState) {
			if s == webrtc.PeerConnectionStateFailed {
				log.Warnf("peer connection failed (attempt %d)", token)
			}
		},
	})
	if err != nil {
		local.Release()
		m.post(func() { m.connectFailed(token, from, fmt.Errorf("create peer: %w", err)) })
		return
	}

	var offer *webrtc.SessionDescription
	if caller {
		sd, err := peer.CreateOffer()
		if err != nil {
			release(local, peer)
			m.post(func() { m.connectFailed(token, from, fmt.Errorf("create offer: %w", err)) })
			return
		}
		offer = &sd
	}

	if !m.post(func() { m.connected(token, from, local, peer, offer) }) {
		release(local, peer)
	}
}

func (m *Machine) current(token uint64, from State) bool {
	return token == m.s.attempt && m.s.state == from && m.s.pending
}

// connected attaches both handles and enters Connected.
func (m *Machine) connected(token uint64, from State, local media.Local, peer media.Connection, offer *webrtc.SessionDescription) {
	if !m.current(token, from) {
		log.Debugf("%v: connect result for attempt %d", ErrStaleOperation, token)
		release(local, peer)
		return
	}

	m.s.local, m.s.peer = local, peer
	m.s.pending = false
	m.s.state = StateConnected
	m.s.startedAt = m.clock.Now()
	m.s.duration = 0
	m.s.transcript = nil
	m.startTimer()

	if err := local.StartCapture(m.sig.SendAudio); err != nil {
		log.Warnf("[%s] start capture: %v", m.tag(), err)
	}

	if offer != nil {
		m.sig.Send(signaling.TypeCallOffer, signaling.CallOffer{SDP: *offer})
		m.s.localDescSent = true
		m.flushLocalICE()
	} else {
		m.sig.Send(signaling.TypeCallAccept, signaling.CallAccept{CallID: m.s.callID})
	}
	log.Infof("[%s] connected with %s", m.tag(), m.s.leg.PeerID())

	if m.s.pendingOffer != nil {
		sd := *m.s.pendingOffer
		m.s.pendingOffer = nil
		m.applyOffer(sd)
	}
	m.publish()
}

func (m *Machine) connectFailed(token uint64, from State, err error) {
	if !m.current(token, from) {
		log.Debugf("%v: connect failure for attempt %d: %v", ErrStaleOperation, token, err)
		return
	}

	// Tell the far end so it does not wait for us.
	callID := m.s.callID
	if from == StateIncoming {
		m.sig.Send(signaling.TypeCallReject, signaling.CallReject{CallID: callID})
	} else if callID != "" {
		m.sig.Send(signaling.TypeCallEnd, signaling.CallEnd{CallID: callID})
	}

	m.s.attempt++
	m.releaseMedia()
	m.fail(err)
	m.resetToIdle()
	m.publish()
}

func (m *Machine) remoteTrack(token uint64) {
	if token != m.s.attempt || m.s.state != StateConnected {
		return
	}
	if !m.s.remoteAudio {
		m.s.remoteAudio = true
		log.Infof("[%s] remote audio flowing", m.tag())
		m.publish()
	}
}

// localCandidate forwards a gathered candidate, holding it back until our
// description has been sent.
func (m *Machine) localCandidate(token uint64, c webrtc.ICECandidateInit) {
	if token != m.s.attempt {
		return
	}
	if !m.s.localDescSent {
		m.s.localICE = append(m.s.localICE, c)
		return
	}
	m.sig.Send(signaling.TypeCallICE, signaling.CallICE{Candidate: c})
}

func (m *Machine) flushLocalICE() {
	for _, c := range m.s.localICE {
		m.sig.Send(signaling.TypeCallICE, signaling.CallICE{Candidate: c})
	}
	m.s.localICE = nil
}

func (m *Machine) flushRemoteICE() {
	for _, c := range m.s.remoteICE {
		if err := m.s.peer.AddICECandidate(c); err != nil {
			log.Warnf("[%s] add ice candidate: %v", m.tag(), err)
		}
	}
	m.s.remoteICE = nil
}

// applyOffer sets the remote description and builds the answer off the loop.
func (m *Machine) applyOffer(sd webrtc.SessionDescription) {
	peer := m.s.peer
	if err := peer.SetRemoteDescription(sd); err != nil {
		log.Warnf("[%s] set remote offer: %v", m.tag(), err)
		return
	}
	m.s.remoteDescSet = true
	m.flushRemoteICE()

	token := m.s.attempt
	go func() {
		answer, err := peer.CreateAnswer()
		m.post(func() { m.answered(token, peer, answer, err) })
	}()
}

func (m *Machine) answered(token uint64, peer media.Connection, answer webrtc.SessionDescription, err error) {
	if token != m.s.attempt || m.s.state != StateConnected || m.s.peer != peer {
		log.Debugf("%v: answer for attempt %d", ErrStaleOperation, token)
		return
	}
	if err != nil {
		log.Warnf("[%s] create answer: %v", m.tag(), err)
		return
	}
	m.sig.Send(signaling.TypeCallAnswer, signaling.CallAnswer{SDP: answer})
	m.s.localDescSent = true
	m.flushLocalICE()
}
