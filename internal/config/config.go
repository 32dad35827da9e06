package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"strings"

	"github.com/petervdpas/goopcall/internal/util"
)

// Roles a client can run as.
const (
	RoleAgent    = "agent"
	RoleCustomer = "customer"
)

// Transcriber kinds understood by the relay.
const (
	TranscriberMock   = "mock"
	TranscriberStream = "stream"
)

type Config struct {
	Identity  Identity  `json:"identity"`
	Signaling Signaling `json:"signaling"`
	Media     Media     `json:"media"`
	Call      Call      `json:"call"`
	Viewer    Viewer    `json:"viewer"`
	Relay     Relay     `json:"relay"`
	Log       Log       `json:"log"`
}

type Identity struct {
	PeerID string `json:"peer_id"`
	Role   string `json:"role"` // "agent" or "customer"
	Label  string `json:"label"`
}

type Signaling struct {
	// Websocket URL of the relay, e.g. ws://127.0.0.1:3001/ws
	URL string `json:"url"`

	// Delay before redialing a dropped signaling socket.
	ReconnectMs int `json:"reconnect_ms"`
}

type Media struct {
	// STUN servers handed to every new peer connection.
	ICEServers []string `json:"ice_servers"`

	SampleRate int `json:"sample_rate"`

	// Capture frame length. Each frame becomes one audio_chunk.
	FrameMs int `json:"frame_ms"`
}

type Call struct {
	// How long the Ended state is shown before controls reset to Idle.
	EndedCooldownMs int `json:"ended_cooldown_ms"`

	// Answer a second incoming call with call_reject instead of ignoring it.
	ReplyBusy bool `json:"reply_busy"`
}

type Viewer struct {
	HTTPAddr string `json:"http_addr"`
	Theme    string `json:"theme"`
}

type Relay struct {
	Bind string `json:"bind"`
	Port int    `json:"port"`

	Transcriber    string `json:"transcriber"`     // "mock" or "stream"
	TranscriberURL string `json:"transcriber_url"` // used when transcriber = "stream"

	// Mock transcriber emits one phrase every N audio chunks.
	TranscribeEvery int `json:"transcribe_every"`

	// Secret for the stream transcriber. Never written to the config file;
	// populated from GOOPCALL_TRANSCRIBER_API_KEY.
	TranscriberAPIKey string `json:"-"`
}

type Log struct {
	Level      string            `json:"level"`
	Subsystems map[string]string `json:"subsystems,omitempty"`
}

func Default() Config {
	return Config{
		Identity: Identity{
			PeerID: "agent-1",
			Role:   RoleAgent,
			Label:  "Support Agent",
		},
		Signaling: Signaling{
			URL:         "ws://127.0.0.1:3001/ws",
			ReconnectMs: 2000,
		},
		Media: Media{
			ICEServers: []string{"stun:stun.l.google.com:19302"},
			SampleRate: 16000,
			FrameMs:    20,
		},
		Call: Call{
			EndedCooldownMs: 3000,
			ReplyBusy:       false,
		},
		Viewer: Viewer{
			HTTPAddr: "127.0.0.1:7780",
			Theme:    "dark",
		},
		Relay: Relay{
			Bind:            "127.0.0.1",
			Port:            3001,
			Transcriber:     TranscriberMock,
			TranscribeEvery: 10,
		},
		Log: Log{
			Level: "info",
		},
	}
}

func (c *Config) Validate() error {
	// Identity
	if _, err := util.ValidatePeerID(c.Identity.PeerID); err != nil {
		return fmt.Errorf("identity.peer_id: %w", err)
	}
	if c.Identity.Role != RoleAgent && c.Identity.Role != RoleCustomer {
		return errors.New("identity.role must be agent or customer")
	}

	// Signaling
	if err := validateSocketURL(c.Signaling.URL); err != nil {
		return fmt.Errorf("signaling.url: %w", err)
	}
	if c.Signaling.ReconnectMs < 0 {
		return errors.New("signaling.reconnect_ms must be >= 0")
	}

	// Media
	if len(c.Media.ICEServers) == 0 {
		return errors.New("media.ice_servers needs at least one stun server")
	}
	for _, s := range c.Media.ICEServers {
		if !strings.HasPrefix(s, "stun:") && !strings.HasPrefix(s, "stuns:") {
			return fmt.Errorf("media.ice_servers: %q is not a stun: url", s)
		}
	}
	switch c.Media.SampleRate {
	case 8000, 16000, 24000, 48000:
	default:
		return errors.New("media.sample_rate must be 8000, 16000, 24000 or 48000")
	}
	if c.Media.FrameMs < 10 || c.Media.FrameMs > 100 {
		return errors.New("media.frame_ms must be 10..100")
	}

	// Call
	if c.Call.EndedCooldownMs < 0 || c.Call.EndedCooldownMs > 60000 {
		return errors.New("call.ended_cooldown_ms must be 0..60000")
	}

	// Viewer (optional)
	if a := strings.TrimSpace(c.Viewer.HTTPAddr); a != "" {
		if _, _, err := net.SplitHostPort(a); err != nil {
			return fmt.Errorf("viewer.http_addr: %w", err)
		}
	}

	// Relay
	if c.Relay.Port <= 0 || c.Relay.Port > 65535 {
		return errors.New("relay.port must be 1..65535")
	}
	if b := c.Relay.Bind; b != "" && net.ParseIP(b) == nil {
		return errors.New("relay.bind must be a valid IP address")
	}
	switch c.Relay.Transcriber {
	case TranscriberMock:
		if c.Relay.TranscribeEvery <= 0 {
			return errors.New("relay.transcribe_every must be > 0")
		}
	case TranscriberStream:
		if err := validateSocketURL(c.Relay.TranscriberURL); err != nil {
			return fmt.Errorf("relay.transcriber_url: %w", err)
		}
	default:
		return errors.New("relay.transcriber must be mock or stream")
	}

	return nil
}

func validateSocketURL(raw string) error {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("invalid url: %v", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return errors.New("scheme must be ws or wss")
	}
	if u.Host == "" {
		return errors.New("missing host")
	}
	return nil
}

func Load(path string) (Config, error) {
	cfg, err := LoadPartial(path)
	if err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// LoadPartial reads a config file and applies the environment overlay
// without validation.
func LoadPartial(path string) (Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}

	// Strip UTF-8 BOM if present (common when editing JSON on Windows).
	b = stripBOM(b)

	// Start from defaults so missing JSON fields remain initialized.
	cfg := Default()
	if err := json.Unmarshal(b, &cfg); err != nil {
		return Config{}, err
	}

	applyEnv(&cfg)
	return cfg, nil
}

// stripBOM removes a UTF-8 byte order mark if present.
func stripBOM(b []byte) []byte {
	if len(b) >= 3 && b[0] == 0xEF && b[1] == 0xBB && b[2] == 0xBF {
		return b[3:]
	}
	return b
}

func Save(path string, cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	return util.WriteJSONFile(path, cfg)
}

// Ensure loads config if it exists; otherwise creates a default config file.
// Returns (cfg, createdNew, err).
func Ensure(path string) (Config, bool, error) {
	if _, err := os.Stat(path); err == nil {
		cfg, err := Load(path)
		return cfg, false, err
	} else if !os.IsNotExist(err) {
		return Config{}, false, err
	}

	cfg := Default()
	if err := Save(path, cfg); err != nil {
		return Config{}, false, fmt.Errorf("create default config: %w", err)
	}
	applyEnv(&cfg)
	return cfg, true, cfg.Validate()
}
