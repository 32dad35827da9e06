package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if cfg.Media.SampleRate != 16000 || cfg.Media.FrameMs != 20 {
		t.Fatalf("media defaults = %+v", cfg.Media)
	}
	if cfg.Call.EndedCooldownMs != 3000 {
		t.Fatalf("cooldown = %d, want 3000", cfg.Call.EndedCooldownMs)
	}
}

func TestValidateRejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"role", func(c *Config) { c.Identity.Role = "admin" }, "identity.role"},
		{"peer id", func(c *Config) { c.Identity.PeerID = "" }, "identity.peer_id"},
		{"signaling scheme", func(c *Config) { c.Signaling.URL = "http://x/ws" }, "signaling.url"},
		{"no stun", func(c *Config) { c.Media.ICEServers = nil }, "media.ice_servers"},
		{"turn", func(c *Config) { c.Media.ICEServers = []string{"turn:example.org"} }, "media.ice_servers"},
		{"sample rate", func(c *Config) { c.Media.SampleRate = 11025 }, "media.sample_rate"},
		{"frame", func(c *Config) { c.Media.FrameMs = 5 }, "media.frame_ms"},
		{"cooldown", func(c *Config) { c.Call.EndedCooldownMs = -1 }, "call.ended_cooldown_ms"},
		{"viewer addr", func(c *Config) { c.Viewer.HTTPAddr = "nope" }, "viewer.http_addr"},
		{"relay port", func(c *Config) { c.Relay.Port = 0 }, "relay.port"},
		{"transcriber", func(c *Config) { c.Relay.Transcriber = "whisper" }, "relay.transcriber"},
		{"stream url", func(c *Config) {
			c.Relay.Transcriber = TranscriberStream
			c.Relay.TranscriberURL = ""
		}, "relay.transcriber_url"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(&cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("error %q does not mention %q", err, tc.want)
			}
		})
	}
}

func TestLoadKeepsDefaultsAndStripsBOM(t *testing.T) {
	t.Setenv(EnvSignalingURL, "")
	t.Setenv(EnvPeerID, "")
	t.Setenv(EnvLogLevel, "")

	path := filepath.Join(t.TempDir(), "goopcall.json")
	body := "\xEF\xBB\xBF" + `{"identity":{"peer_id":"customer-001","role":"customer"}}`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Identity.PeerID != "customer-001" || cfg.Identity.Role != RoleCustomer {
		t.Fatalf("identity = %+v", cfg.Identity)
	}
	if cfg.Signaling.URL != Default().Signaling.URL {
		t.Fatalf("signaling url default lost: %q", cfg.Signaling.URL)
	}
}

func TestEnvOverlay(t *testing.T) {
	t.Setenv(EnvSignalingURL, "wss://relay.example.com/ws")
	t.Setenv(EnvTranscriberAPIKey, "secret")
	t.Setenv(EnvPeerID, "")
	t.Setenv(EnvLogLevel, "")

	path := filepath.Join(t.TempDir(), "goopcall.json")
	cfg, created, err := Ensure(path)
	if err != nil {
		t.Fatal(err)
	}
	if !created {
		t.Fatal("expected a new config file")
	}
	if cfg.Signaling.URL != "wss://relay.example.com/ws" {
		t.Fatalf("url = %q", cfg.Signaling.URL)
	}
	if cfg.Relay.TranscriberAPIKey != "secret" {
		t.Fatal("api key not applied")
	}

	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(string(b), "secret") || strings.Contains(string(b), "relay.example.com") {
		t.Fatalf("environment leaked into saved file:\n%s", b)
	}
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	if err := LoadDotEnv(filepath.Join(dir, "missing.env")); err != nil {
		t.Fatalf("missing .env should be ignored: %v", err)
	}

	t.Setenv(EnvLogLevel, "")
	os.Unsetenv(EnvLogLevel)
	envPath := filepath.Join(dir, ".env")
	if err := os.WriteFile(envPath, []byte(EnvLogLevel+"=debug\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := LoadDotEnv(envPath); err != nil {
		t.Fatal(err)
	}
	if got := os.Getenv(EnvLogLevel); got != "debug" {
		t.Fatalf("%s = %q, want debug", EnvLogLevel, got)
	}
}

func TestWatchReloads(t *testing.T) {
	t.Setenv(EnvSignalingURL, "")
	t.Setenv(EnvPeerID, "")
	t.Setenv(EnvLogLevel, "")

	path := filepath.Join(t.TempDir(), "goopcall.json")
	if _, _, err := Ensure(path); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	got := make(chan Config, 4)
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = Watch(ctx, path, func(c Config) {
			select {
			case got <- c:
			default:
			}
		})
	}()

	// Give the watcher a moment to register before writing.
	time.Sleep(100 * time.Millisecond)

	cfg := Default()
	cfg.Media.ICEServers = []string{"stun:stun.example.org:3478"}
	if err := Save(path, cfg); err != nil {
		t.Fatal(err)
	}

	select {
	case c := <-got:
		if c.Media.ICEServers[0] != "stun:stun.example.org:3478" {
			t.Fatalf("reloaded ice servers = %v", c.Media.ICEServers)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("no reload observed")
	}

	cancel()
	<-done
}
