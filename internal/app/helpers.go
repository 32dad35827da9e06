// internal/app/helpers.go
package app

import (
	"fmt"
	"sort"
	"strings"

	logging "github.com/ipfs/go-log/v2"

	"github.com/petervdpas/goopcall/internal/config"
)

// NormalizeLocalViewer keeps the viewer on loopback: ":7780" and
// "0.0.0.0:7780" both become "127.0.0.1:7780".
func NormalizeLocalViewer(cfgAddr string) string {
	a := strings.TrimSpace(cfgAddr)

	if strings.HasPrefix(a, ":") {
		a = "127.0.0.1" + a
	}
	if strings.HasPrefix(a, "0.0.0.0:") {
		a = "127.0.0.1:" + strings.TrimPrefix(a, "0.0.0.0:")
	}
	return a
}

// withRole pins the role chosen on the command line over the file's.
func withRole(cfg config.Config, role string) config.Config {
	cfg.Identity.Role = role
	return cfg
}

// applyLogLevels sets the global level, then per-subsystem overrides.
func applyLogLevels(l config.Log) error {
	lvl, err := logging.LevelFromString(l.Level)
	if err != nil {
		return fmt.Errorf("log.level: %w", err)
	}
	logging.SetAllLoggers(lvl)

	names := make([]string, 0, len(l.Subsystems))
	for name := range l.Subsystems {
		names = append(names, name)
	}
	sort.Strings(names)

	var errs []string
	for _, name := range names {
		if err := logging.SetLogLevel(name, l.Subsystems[name]); err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", name, err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("log.subsystems: %s", strings.Join(errs, "; "))
	}
	return nil
}

func logBanner(peerDir, cfgPath string, cfg config.Config) {
	log.Info("────────────────────────────────────────")
	log.Info("goopcall peer scope")
	log.Infof(" Peer folder : %s", peerDir)
	log.Infof(" Config file : %s", cfgPath)
	log.Infof(" Identity    : %s (%s)", cfg.Identity.PeerID, cfg.Identity.Role)
	log.Infof(" Relay       : %s", cfg.Signaling.URL)
	log.Info("")
	log.Info(" This process represents ONE peer.")
	log.Info(" Different folder/config = different peer.")
	log.Info("────────────────────────────────────────")
}
