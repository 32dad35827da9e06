// Package call runs the voice call state machine for one client.
//
// Every input (user intents, signaling messages, timers, async media
// results and peer callbacks) is turned into a closure and executed on a
// single loop goroutine, so the session has exactly one writer. Observers
// get immutable snapshots through Subscribe.
package call

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	logging "github.com/ipfs/go-log/v2"

	"github.com/petervdpas/goopcall/internal/media"
	"github.com/petervdpas/goopcall/internal/signaling"
)

var log = logging.Logger("call")

// Signaler is the outbound half of the signaling adapter.
type Signaler interface {
	Send(msgType string, payload any)
	SendAudio(pcm []byte)
}

type Options struct {
	Self      string
	Signaling Signaler
	Media     media.Engine
	Clock     Clock

	// EndedCooldown is how long Ended is held before returning to Idle.
	EndedCooldown time.Duration

	// ReplyBusy answers a second incoming call with call_reject.
	ReplyBusy bool
}

// Machine owns the call session.
type Machine struct {
	self  string
	sig   Signaler
	media media.Engine
	clock Clock

	cooldown  time.Duration
	replyBusy bool

	s session

	// failTimer republishes without Failure once the notice has been shown.
	failTimer Timer
	failSeq   uint64

	events  chan func()
	ctx     context.Context
	cancel  context.CancelFunc
	stopped chan struct{}
	once    sync.Once

	last atomic.Pointer[Snapshot]

	subMu sync.RWMutex
	subs  map[chan Snapshot]struct{}
}

// New creates a machine in Idle and starts its loop.
func New(opts Options) *Machine {
	if opts.Clock == nil {
		opts.Clock = realClock{}
	}
	if opts.EndedCooldown <= 0 {
		opts.EndedCooldown = 3 * time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())
	m := &Machine{
		self:      opts.Self,
		sig:       opts.Signaling,
		media:     opts.Media,
		clock:     opts.Clock,
		cooldown:  opts.EndedCooldown,
		replyBusy: opts.ReplyBusy,
		s:         session{state: StateIdle},
		events:    make(chan func(), 128),
		ctx:       ctx,
		cancel:    cancel,
		stopped:   make(chan struct{}),
		subs:      make(map[chan Snapshot]struct{}),
	}
	snap := m.s.snapshot()
	m.last.Store(&snap)
	go m.loop()
	return m
}

func (m *Machine) loop() {
	defer close(m.stopped)
	for {
		select {
		case <-m.ctx.Done():
			m.stopTimers()
			if m.failTimer != nil {
				m.failTimer.Stop()
			}
			m.releaseMedia()
			return
		case fn := <-m.events:
			fn()
		}
	}
}

// post queues fn for the loop. It reports false once the machine is closed.
func (m *Machine) post(fn func()) bool {
	if m.ctx.Err() != nil {
		return false
	}
	select {
	case m.events <- fn:
		return true
	case <-m.ctx.Done():
		return false
	}
}

// do runs fn on the loop and waits for it to finish.
func (m *Machine) do(fn func()) {
	done := make(chan struct{})
	if !m.post(func() { fn(); close(done) }) {
		return
	}
	select {
	case <-done:
	case <-m.stopped:
	}
}

// Close stops the loop and releases any media. Safe to call twice.
func (m *Machine) Close() {
	m.once.Do(func() {
		m.cancel()
		<-m.stopped

		m.subMu.Lock()
		for ch := range m.subs {
			close(ch)
		}
		m.subs = map[chan Snapshot]struct{}{}
		m.subMu.Unlock()
	})
}

// Snapshot returns the most recently published snapshot.
func (m *Machine) Snapshot() Snapshot {
	return *m.last.Load()
}

// Subscribe returns a channel of snapshots, starting with the current one.
// Slow subscribers miss intermediate snapshots rather than block the loop.
func (m *Machine) Subscribe() (ch chan Snapshot, cancel func()) {
	ch = make(chan Snapshot, 16)
	ch <- m.Snapshot()

	m.subMu.Lock()
	m.subs[ch] = struct{}{}
	m.subMu.Unlock()

	var once sync.Once
	cancel = func() {
		once.Do(func() {
			m.subMu.Lock()
			if _, ok := m.subs[ch]; ok {
				delete(m.subs, ch)
				close(ch)
			}
			m.subMu.Unlock()
		})
	}
	return ch, cancel
}

func (m *Machine) publish() {
	snap := m.s.snapshot()
	m.last.Store(&snap)

	m.subMu.RLock()
	for ch := range m.subs {
		select {
		case ch <- snap:
		default:
		}
	}
	m.subMu.RUnlock()

	// Failure is carried by one snapshot only.
	m.s.failure = ""
}

// Reconfigure swaps the tunables that config reloads may change.
func (m *Machine) Reconfigure(cooldown time.Duration, replyBusy bool) {
	m.do(func() {
		if cooldown > 0 {
			m.cooldown = cooldown
		}
		m.replyBusy = replyBusy
	})
}

// PeerStats reports the live peer connection, if any.
func (m *Machine) PeerStats() (media.Stats, bool) {
	var (
		st media.Stats
		ok bool
	)
	m.do(func() {
		if m.s.peer != nil {
			st, ok = m.s.peer.Stats(), true
		}
	})
	return st, ok
}

func (m *Machine) invalid(event string) {
	log.Debugf("%v: %s in %s", ErrInvalidTransition, event, m.s.state)
}

func (m *Machine) tag() string {
	if m.s.callID != "" {
		return m.s.callID
	}
	return "-"
}

// ── Intents ──────────────────────────────────────────────────────────────────

// StartCall places a call to peer.
func (m *Machine) StartCall(peer string) {
	m.do(func() { m.startCall(peer) })
}

// Cancel withdraws a ringing call.
func (m *Machine) Cancel() {
	m.do(m.cancelCall)
}

// Accept answers the incoming call. callID must match the one on screen.
func (m *Machine) Accept(callID string) {
	m.do(func() { m.accept(callID) })
}

// Reject declines the incoming call. callID must match the one on screen.
func (m *Machine) Reject(callID string) {
	m.do(func() { m.reject(callID) })
}

// End hangs up. In Ringing it cancels, in Incoming it rejects.
func (m *Machine) End() {
	m.do(func() {
		switch m.s.state {
		case StateRinging:
			m.cancelCall()
		case StateIncoming:
			m.reject(m.s.callID)
		case StateConnected:
			m.endLocal()
		default:
			m.invalid("end")
		}
	})
}

// ToggleMute flips the microphone gate. It sends nothing.
func (m *Machine) ToggleMute() {
	m.do(func() {
		if m.s.local == nil {
			m.invalid("toggle mute")
			return
		}
		m.s.muted = !m.s.muted
		m.s.local.SetEnabled(!m.s.muted)
		log.Infof("[%s] muted=%v", m.tag(), m.s.muted)
		m.publish()
	})
}

// SignalingLost applies a remote hangup after the signaling socket dropped.
// The relay has already ended whatever call this client was part of.
func (m *Machine) SignalingLost() {
	m.do(func() {
		switch m.s.state {
		case StateConnected:
			log.Warnf("[%s] signaling lost, ending call", m.tag())
			m.enterEnded()
		case StateRinging, StateIncoming:
			log.Warnf("[%s] signaling lost, dropping %s call", m.tag(), m.s.state)
			m.s.attempt++
			m.releaseMedia()
			m.resetToIdle()
			m.publish()
		}
	})
}

func (m *Machine) startCall(peer string) {
	if peer == "" {
		log.Warnf("start call: empty peer id")
		return
	}
	switch m.s.state {
	case StateIdle:
	case StateEnded:
		m.resetToIdle()
	default:
		m.invalid("start call")
		return
	}
	m.s.state = StateRinging
	m.s.leg = CallerLeg{Target: peer}
	m.s.duration = 0
	m.s.transcript = nil
	m.sig.Send(signaling.TypeCallInitiate, signaling.CallInitiate{TargetPeerID: peer})
	log.Infof("calling %s", peer)
	m.publish()
}

func (m *Machine) cancelCall() {
	if m.s.state != StateRinging {
		m.invalid("cancel")
		return
	}
	callID := m.s.callID
	m.s.attempt++
	m.releaseMedia()
	m.sig.Send(signaling.TypeCallEnd, signaling.CallEnd{CallID: callID})
	log.Infof("[%s] cancelled", m.tag())
	m.resetToIdle()
	m.publish()
}

func (m *Machine) accept(callID string) {
	if m.s.state != StateIncoming {
		m.invalid("accept")
		return
	}
	if callID != m.s.callID {
		log.Warnf("accept for %s ignored, incoming call is %s", callID, m.s.callID)
		return
	}
	if m.s.pending {
		return
	}
	m.beginConnect(StateIncoming)
	m.publish()
}

func (m *Machine) reject(callID string) {
	if m.s.state != StateIncoming {
		m.invalid("reject")
		return
	}
	if callID != m.s.callID {
		log.Warnf("reject for %s ignored, incoming call is %s", callID, m.s.callID)
		return
	}
	m.s.attempt++
	m.releaseMedia()
	m.sig.Send(signaling.TypeCallReject, signaling.CallReject{CallID: callID})
	log.Infof("[%s] rejected", callID)
	m.resetToIdle()
	m.publish()
}

func (m *Machine) endLocal() {
	m.sig.Send(signaling.TypeCallEnd, signaling.CallEnd{CallID: m.s.callID})
	log.Infof("[%s] hung up", m.tag())
	m.enterEnded()
}

// ── Transitions shared by intents and remote events ─────────────────────────

func (m *Machine) enterEnded() {
	m.s.attempt++
	m.stopTimers()
	m.releaseMedia()
	m.s.state = StateEnded
	m.s.pending = false

	token := m.s.attempt
	m.s.cooldown = m.clock.AfterFunc(m.cooldown, func() {
		m.post(func() { m.cooldownDone(token) })
	})
	m.publish()
}

func (m *Machine) cooldownDone(token uint64) {
	if m.s.state != StateEnded || token != m.s.attempt {
		return
	}
	m.s.cooldown = nil
	m.resetToIdle()
	m.publish()
}

// resetToIdle clears everything that belongs to a call. Media must already
// be released.
func (m *Machine) resetToIdle() {
	m.stopTimers()
	failure := m.s.failure
	m.s = session{state: StateIdle, attempt: m.s.attempt, failure: failure}
}

func (m *Machine) stopTimers() {
	if m.s.tick != nil {
		m.s.tick.Stop()
		m.s.tick = nil
	}
	if m.s.cooldown != nil {
		m.s.cooldown.Stop()
		m.s.cooldown = nil
	}
}

// releaseMedia detaches and releases both handles.
func (m *Machine) releaseMedia() {
	peer, local := m.s.peer, m.s.local
	m.s.peer, m.s.local = nil, nil
	m.s.muted = false
	m.s.localDescSent, m.s.remoteDescSet = false, false
	m.s.localICE, m.s.remoteICE, m.s.pendingOffer = nil, nil, nil
	release(local, peer)
}

func release(local media.Local, peer media.Connection) {
	if peer != nil {
		if err := peer.Close(); err != nil {
			log.Debugf("close peer: %v", err)
		}
	}
	if local != nil {
		local.Release()
	}
}

func (m *Machine) startTimer() {
	token := m.s.attempt
	m.s.tick = m.clock.AfterFunc(time.Second, func() {
		m.post(func() { m.tick(token) })
	})
}

func (m *Machine) tick(token uint64) {
	if m.s.state != StateConnected || token != m.s.attempt || m.s.tick == nil {
		return
	}
	m.s.duration = m.clock.Now().Sub(m.s.startedAt).Truncate(time.Second)
	m.startTimer()
	m.publish()
}

// fail marks the next published snapshot with err. The failure stays on
// Snapshot() for one cooldown period, then a clean snapshot replaces it.
func (m *Machine) fail(err error) {
	m.s.failure = fmt.Sprintf("%v", err)
	log.Errorf("[%s] media failure: %v", m.tag(), err)

	if m.failTimer != nil {
		m.failTimer.Stop()
	}
	m.failSeq++
	seq := m.failSeq
	m.failTimer = m.clock.AfterFunc(m.cooldown, func() {
		m.post(func() { m.expireFailure(seq) })
	})
}

func (m *Machine) expireFailure(seq uint64) {
	if seq != m.failSeq {
		return
	}
	m.failTimer = nil
	if m.last.Load().Failure != "" {
		m.publish()
	}
}
