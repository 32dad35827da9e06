package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync/atomic"
	"time"

	logging "github.com/ipfs/go-log/v2"
	"golang.org/x/sync/errgroup"

	"github.com/petervdpas/goopcall/internal/call"
	"github.com/petervdpas/goopcall/internal/config"
	"github.com/petervdpas/goopcall/internal/media"
	"github.com/petervdpas/goopcall/internal/relay"
	"github.com/petervdpas/goopcall/internal/signaling"
	"github.com/petervdpas/goopcall/internal/viewer"
)

var log = logging.Logger("app")

type Options struct {
	PeerDir string
	CfgPath string
	Cfg     config.Config
}

// Run starts one agent or customer client: the signaling socket, the call
// machine, the media pipeline and the local viewer. It returns when ctx is
// cancelled or a component fails.
func Run(ctx context.Context, opt Options) error {
	cfg := opt.Cfg

	logBuf := viewer.NewLogBuffer(800)
	stopCapture := logBuf.Capture()
	defer stopCapture()

	if err := applyLogLevels(cfg.Log); err != nil {
		log.Warnf("log levels: %v", err)
	}
	logBanner(opt.PeerDir, opt.CfgPath, cfg)

	var current atomic.Pointer[config.Config]
	current.Store(&cfg)

	pipeline := media.NewPipeline(mediaConfig(cfg), media.DefaultMicrophone())

	cl, err := startClient(ctx, cfg, pipeline)
	if err != nil {
		return err
	}
	defer cl.Close()
	machine, adapter, transport := cl.machine, cl.adapter, cl.transport

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return config.Watch(ctx, opt.CfgPath, func(next config.Config) {
			next = withRole(next, cfg.Identity.Role)
			prev := current.Load()
			current.Store(&next)

			pipeline.SetConfig(mediaConfig(next))
			machine.Reconfigure(time.Duration(next.Call.EndedCooldownMs)*time.Millisecond, next.Call.ReplyBusy)
			if err := applyLogLevels(next.Log); err != nil {
				log.Warnf("log levels: %v", err)
			}
			if restartNeeded(*prev, next) {
				log.Warnf("identity, signaling or viewer settings changed; restart to apply")
			}
			log.Infof("config reloaded from %s", opt.CfgPath)
		})
	})

	if addr := NormalizeLocalViewer(cfg.Viewer.HTTPAddr); addr != "" {
		g.Go(func() error {
			return viewer.Start(ctx, addr, viewer.Viewer{
				Call:      machine,
				Logs:      logBuf,
				SelfID:    cfg.Identity.PeerID,
				Role:      cfg.Identity.Role,
				SelfLabel: func() string { return current.Load().Identity.Label },
				Theme:     func() string { return current.Load().Viewer.Theme },
				Connected: transport.Connected,
			})
		})
	}

	g.Go(func() error {
		err := adapter.Run(ctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})

	err = g.Wait()
	log.Infof("shutting down")
	return err
}

// client is the signaling socket, adapter and call machine of one peer.
type client struct {
	transport *signaling.WSTransport
	adapter   *signaling.Adapter
	machine   *call.Machine
	sub       *signaling.Subscription
}

// startClient dials the relay and attaches a call machine driving engine.
// A dropped socket ends whatever call the machine was in.
func startClient(ctx context.Context, cfg config.Config, engine media.Engine) (*client, error) {
	// Set once the machine exists; the socket may drop before that.
	var machineRef atomic.Pointer[call.Machine]

	transport, err := signaling.DialWS(ctx, signaling.WSOptions{
		URL:       cfg.Signaling.URL,
		Role:      cfg.Identity.Role,
		PeerID:    cfg.Identity.PeerID,
		Label:     cfg.Identity.Label,
		Reconnect: time.Duration(cfg.Signaling.ReconnectMs) * time.Millisecond,
		OnDisconnect: func() {
			if m := machineRef.Load(); m != nil {
				m.SignalingLost()
			}
		},
	})
	if err != nil {
		return nil, fmt.Errorf("signaling: %w", err)
	}
	adapter := signaling.New(transport)

	machine := call.New(call.Options{
		Self:          cfg.Identity.PeerID,
		Signaling:     adapter,
		Media:         engine,
		EndedCooldown: time.Duration(cfg.Call.EndedCooldownMs) * time.Millisecond,
		ReplyBusy:     cfg.Call.ReplyBusy,
	})
	machineRef.Store(machine)

	return &client{
		transport: transport,
		adapter:   adapter,
		machine:   machine,
		sub:       adapter.Subscribe(machine.Handlers()),
	}, nil
}

func (c *client) Close() {
	c.sub.Close()
	c.machine.Close()
	_ = c.adapter.Close()
}

// RunRelay starts the reference relay.
func RunRelay(ctx context.Context, opt Options) error {
	cfg := opt.Cfg

	if err := applyLogLevels(cfg.Log); err != nil {
		log.Warnf("log levels: %v", err)
	}
	logBanner(opt.PeerDir, opt.CfgPath, cfg)

	hub := relay.NewHub(ctx, relay.NewFactory(cfg.Relay, cfg.Media.SampleRate))
	defer hub.Close()

	addr := net.JoinHostPort(cfg.Relay.Bind, strconv.Itoa(cfg.Relay.Port))
	log.Infof("transcriber: %s", cfg.Relay.Transcriber)
	return relay.Serve(ctx, addr, hub)
}

func mediaConfig(cfg config.Config) media.Config {
	return media.Config{
		ICEServers: cfg.Media.ICEServers,
		SampleRate: cfg.Media.SampleRate,
		FrameMs:    cfg.Media.FrameMs,
	}
}

// restartNeeded reports changes that live components cannot pick up.
func restartNeeded(prev, next config.Config) bool {
	return prev.Identity.PeerID != next.Identity.PeerID ||
		prev.Identity.Role != next.Identity.Role ||
		prev.Signaling != next.Signaling ||
		prev.Viewer.HTTPAddr != next.Viewer.HTTPAddr
}
