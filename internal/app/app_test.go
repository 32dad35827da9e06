package app

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/petervdpas/goopcall/internal/config"
)

func TestNormalizeLocalViewer(t *testing.T) {
	tests := map[string]string{
		":7780":          "127.0.0.1:7780",
		"0.0.0.0:7780":   "127.0.0.1:7780",
		" 127.0.0.1:80 ": "127.0.0.1:80",
		"":               "",
	}
	for in, want := range tests {
		if got := NormalizeLocalViewer(in); got != want {
			t.Errorf("NormalizeLocalViewer(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestApplyLogLevels(t *testing.T) {
	if err := applyLogLevels(config.Log{Level: "info", Subsystems: map[string]string{"call": "debug"}}); err != nil {
		t.Fatal(err)
	}
	if err := applyLogLevels(config.Log{Level: "loud"}); err == nil {
		t.Fatal("bad level accepted")
	}
	if err := applyLogLevels(config.Log{Level: "info", Subsystems: map[string]string{"call": "loud"}}); err == nil {
		t.Fatal("bad subsystem level accepted")
	}
}

func TestRestartNeeded(t *testing.T) {
	base := config.Default()

	same := base
	same.Call.ReplyBusy = true
	same.Media.ICEServers = []string{"stun:example.org:3478"}
	if restartNeeded(base, same) {
		t.Fatal("live settings flagged for restart")
	}

	moved := base
	moved.Signaling.URL = "ws://10.0.0.1:3001/ws"
	if !restartNeeded(base, moved) {
		t.Fatal("signaling change not flagged")
	}
}

func TestReloadKeepsCommandRole(t *testing.T) {
	running := config.Default()
	running.Identity.Role = config.RoleCustomer // forced by the subcommand

	fromFile := config.Default() // file still says agent
	fromFile.Call.ReplyBusy = true
	if !restartNeeded(running, fromFile) {
		t.Fatal("role mismatch should count as a restart change")
	}
	next := withRole(fromFile, running.Identity.Role)
	if next.Identity.Role != config.RoleCustomer || !next.Call.ReplyBusy {
		t.Fatalf("withRole = %+v", next.Identity)
	}
	if restartNeeded(running, next) {
		t.Fatal("reload with the pinned role flagged for restart")
	}
}

func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()
	return ln.Addr().(*net.TCPAddr).Port
}

func TestRunRelayServesUntilCancelled(t *testing.T) {
	cfg := config.Default()
	cfg.Relay.Port = freePort(t)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- RunRelay(ctx, Options{PeerDir: t.TempDir(), CfgPath: "goopcall.json", Cfg: cfg})
	}()

	url := fmt.Sprintf("http://127.0.0.1:%d/healthz", cfg.Relay.Port)
	deadline := time.Now().Add(3 * time.Second)
	for {
		resp, err := http.Get(url)
		if err == nil {
			var h struct {
				Status string `json:"status"`
			}
			_ = json.NewDecoder(resp.Body).Decode(&h)
			resp.Body.Close()
			if h.Status != "ok" {
				t.Fatalf("healthz status = %q", h.Status)
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("relay never came up: %v", err)
		}
		time.Sleep(20 * time.Millisecond)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("RunRelay = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("relay did not stop")
	}
}
