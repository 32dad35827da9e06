package media

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pion/interceptor"
	"github.com/pion/rtcp"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
)

// codecPopulator is implemented by sources that bring their own encoders
// and must register them with the media engine.
type codecPopulator interface {
	PopulateCodecs(me *webrtc.MediaEngine)
}

// Stats is a point-in-time view of a peer connection.
type Stats struct {
	ConnectionState string  `json:"connection_state"`
	SignalingState  string  `json:"signaling_state"`
	RTPPackets      uint64  `json:"rtp_packets"`
	RTPBytes        uint64  `json:"rtp_bytes"`
	RTCPPackets     uint64  `json:"rtcp_packets"`
	FractionLost    float64 `json:"fraction_lost"`
	RemoteTrack     bool    `json:"remote_track"`
}

// Peer wraps a pion peer connection for one call attempt.
type Peer struct {
	pc *webrtc.PeerConnection

	rtpPackets   atomic.Uint64
	rtpBytes     atomic.Uint64
	rtcpPackets  atomic.Uint64
	fractionLost atomic.Uint32
	remoteTrack  atomic.Bool

	closeOnce sync.Once
	closeErr  error
}

func newPeer(cfg Config, src Source, ev PeerEvents) (*Peer, error) {
	mediaEngine := &webrtc.MediaEngine{}
	if cp, ok := src.(codecPopulator); ok {
		cp.PopulateCodecs(mediaEngine)
	} else if err := mediaEngine.RegisterDefaultCodecs(); err != nil {
		return nil, err
	}

	interceptorRegistry := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(mediaEngine, interceptorRegistry); err != nil {
		return nil, err
	}

	// Let ICE ride out short NAT hiccups before declaring the path dead.
	se := webrtc.SettingEngine{}
	se.SetICETimeouts(30*time.Second, 120*time.Second, 2*time.Second)

	api := webrtc.NewAPI(
		webrtc.WithMediaEngine(mediaEngine),
		webrtc.WithInterceptorRegistry(interceptorRegistry),
		webrtc.WithSettingEngine(se),
	)

	pc, err := api.NewPeerConnection(webrtc.Configuration{
		ICEServers: []webrtc.ICEServer{{URLs: cfg.ICEServers}},
	})
	if err != nil {
		return nil, err
	}
	p := &Peer{pc: pc}

	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		// nil marks the end of gathering.
		if c == nil || ev.OnICECandidate == nil {
			return
		}
		ev.OnICECandidate(c.ToJSON())
	})
	pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		log.Infof("remote %s track %s (%s)", track.Kind(), track.ID(), track.Codec().MimeType)
		if track.Kind() != webrtc.RTPCodecTypeAudio {
			return
		}
		p.remoteTrack.Store(true)
		if ev.OnRemoteTrack != nil {
			ev.OnRemoteTrack()
		}
		go p.readRemote(track)
	})
	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		log.Infof("peer connection %s", s)
		if ev.OnStateChange != nil {
			ev.OnStateChange(s)
		}
	})

	var track webrtc.TrackLocal
	if src != nil {
		track = src.Track()
	}
	if track != nil {
		sender, err := pc.AddTrack(track)
		if err != nil {
			_ = pc.Close()
			return nil, err
		}
		go p.drainRTCP(sender)
	} else {
		// Keep a valid audio m-line so the far side can still talk to us.
		if _, err := pc.AddTransceiverFromKind(webrtc.RTPCodecTypeAudio, webrtc.RTPTransceiverInit{
			Direction: webrtc.RTPTransceiverDirectionRecvonly,
		}); err != nil {
			_ = pc.Close()
			return nil, err
		}
		log.Warnf("no local track, peer is receive-only")
	}
	return p, nil
}

func (p *Peer) readRemote(track *webrtc.TrackRemote) {
	for {
		pkt, _, err := track.ReadRTP()
		if err != nil {
			return
		}
		p.countRTP(pkt)
	}
}

func (p *Peer) countRTP(pkt *rtp.Packet) {
	p.rtpPackets.Add(1)
	p.rtpBytes.Add(uint64(len(pkt.Payload)))
}

// drainRTCP reads sender reports so the interceptors keep working and
// remembers the last loss fraction the far end reported.
func (p *Peer) drainRTCP(sender *webrtc.RTPSender) {
	for {
		pkts, _, err := sender.ReadRTCP()
		if err != nil {
			return
		}
		p.countRTCP(pkts)
	}
}

func (p *Peer) countRTCP(pkts []rtcp.Packet) {
	for _, pkt := range pkts {
		p.rtcpPackets.Add(1)
		if rr, ok := pkt.(*rtcp.ReceiverReport); ok {
			for _, r := range rr.Reports {
				p.fractionLost.Store(uint32(r.FractionLost))
			}
		}
	}
}

func (p *Peer) CreateOffer() (webrtc.SessionDescription, error) {
	offer, err := p.pc.CreateOffer(nil)
	if err != nil {
		return webrtc.SessionDescription{}, err
	}
	if err := p.pc.SetLocalDescription(offer); err != nil {
		return webrtc.SessionDescription{}, err
	}
	return offer, nil
}

func (p *Peer) CreateAnswer() (webrtc.SessionDescription, error) {
	answer, err := p.pc.CreateAnswer(nil)
	if err != nil {
		return webrtc.SessionDescription{}, err
	}
	if err := p.pc.SetLocalDescription(answer); err != nil {
		return webrtc.SessionDescription{}, err
	}
	return answer, nil
}

func (p *Peer) SetRemoteDescription(sd webrtc.SessionDescription) error {
	return p.pc.SetRemoteDescription(sd)
}

var errNoRemoteDescription = errors.New("media: candidate before remote description")

func (p *Peer) AddICECandidate(c webrtc.ICECandidateInit) error {
	if p.pc.RemoteDescription() == nil {
		return errNoRemoteDescription
	}
	return p.pc.AddICECandidate(c)
}

func (p *Peer) Stats() Stats {
	return Stats{
		ConnectionState: p.pc.ConnectionState().String(),
		SignalingState:  p.pc.SignalingState().String(),
		RTPPackets:      p.rtpPackets.Load(),
		RTPBytes:        p.rtpBytes.Load(),
		RTCPPackets:     p.rtcpPackets.Load(),
		FractionLost:    float64(p.fractionLost.Load()) / 256,
		RemoteTrack:     p.remoteTrack.Load(),
	}
}

// Close tears the connection down. Safe to call twice.
func (p *Peer) Close() error {
	p.closeOnce.Do(func() {
		p.closeErr = p.pc.Close()
	})
	return p.closeErr
}
