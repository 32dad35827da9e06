package config

import (
	"errors"
	"io/fs"
	"os"
	"strings"

	"github.com/joho/godotenv"
)

// Environment overrides. Secrets only ever come from here.
const (
	EnvSignalingURL      = "GOOPCALL_SIGNALING_URL"
	EnvPeerID            = "GOOPCALL_PEER_ID"
	EnvLogLevel          = "GOOPCALL_LOG_LEVEL"
	EnvTranscriberAPIKey = "GOOPCALL_TRANSCRIBER_API_KEY"
)

// LoadDotEnv loads a .env file into the process environment. Variables that
// are already set win. A missing file is not an error.
func LoadDotEnv(path string) error {
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return err
	}
	return nil
}

func applyEnv(cfg *Config) {
	if v := strings.TrimSpace(os.Getenv(EnvSignalingURL)); v != "" {
		cfg.Signaling.URL = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvPeerID)); v != "" {
		cfg.Identity.PeerID = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvLogLevel)); v != "" {
		cfg.Log.Level = v
	}
	cfg.Relay.TranscriberAPIKey = os.Getenv(EnvTranscriberAPIKey)
}
