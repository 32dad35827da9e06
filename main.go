// main.go
package main

//go:generate swag init -g internal/viewer/routes/openapi_annotations.go -o docs --outputTypes go

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/petervdpas/goopcall/internal/app"
	"github.com/petervdpas/goopcall/internal/config"
)

var (
	showHelp = flag.Bool("h", false, "Show help")
	version  = flag.Bool("version", false, "Show version")
)

// appVersion is set at build time via -ldflags "-X main.appVersion=x.y.z"
var appVersion = "dev"

const configName = "goopcall.json"

func main() {
	flag.Parse()

	if *version {
		fmt.Printf("goopcall v%s\n", appVersion)
		return
	}

	args := flag.Args()
	if *showHelp || len(args) == 0 {
		showUsage()
		return
	}

	command := args[0]
	switch command {
	case config.RoleAgent, config.RoleCustomer, "relay":
		if len(args) < 2 {
			fmt.Fprintf(os.Stderr, "Error: %s command requires directory path\n", command)
			fmt.Fprintf(os.Stderr, "Usage: goopcall %s <peer-directory>\n", command)
			os.Exit(1)
		}
		run(command, args[1])

	default:
		fmt.Fprintf(os.Stderr, "Error: unknown command '%s'\n", command)
		fmt.Fprintln(os.Stderr)
		showUsage()
		os.Exit(1)
	}
}

func run(command, peerDirArg string) {
	absDir, err := filepath.Abs(peerDirArg)
	if err != nil {
		log.Fatalf("Invalid peer directory: %v", err)
	}
	if err := os.MkdirAll(absDir, 0o755); err != nil {
		log.Fatalf("Cannot create peer directory: %v", err)
	}

	// Secrets and overrides live next to the config.
	if err := config.LoadDotEnv(filepath.Join(absDir, ".env")); err != nil {
		log.Fatalf("Failed to load .env: %v", err)
	}

	cfgPath := filepath.Join(absDir, configName)
	cfg, created, err := config.Ensure(cfgPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if created {
		if command == config.RoleCustomer {
			cfg.Identity = config.Identity{PeerID: "customer-001", Role: config.RoleCustomer, Label: "Customer"}
			cfg.Viewer.HTTPAddr = "127.0.0.1:7781"
			if err := config.Save(cfgPath, cfg); err != nil {
				log.Fatalf("Failed to write config: %v", err)
			}
		}
		log.Printf("Created default config at %s", cfgPath)
	}

	if command != "relay" && cfg.Identity.Role != command {
		log.Printf("Config role is %q; running as %q", cfg.Identity.Role, command)
		cfg.Identity.Role = command
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigCh
		log.Println("Shutting down gracefully...")
		cancel()
	}()

	opts := app.Options{PeerDir: absDir, CfgPath: cfgPath, Cfg: cfg}
	if command == "relay" {
		err = app.RunRelay(ctx, opts)
	} else {
		err = app.Run(ctx, opts)
	}
	if err != nil {
		log.Fatalf("%s failed: %v", command, err)
	}
}

func showUsage() {
	fmt.Println(`goopcall: one-to-one voice calls between an agent and a customer

Usage:
  goopcall agent <peer-directory>      Run as the support agent
  goopcall customer <peer-directory>   Run as the customer
  goopcall relay <peer-directory>      Run the signaling relay

Each peer directory holds goopcall.json (created with defaults on first run)
and an optional .env file.

Flags:
  -h          Show help
  -version    Show version`)
}
