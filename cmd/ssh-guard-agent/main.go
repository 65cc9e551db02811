// Command ssh-guard-agent runs the dual-socket SSH agent daemon: one
// Local listener that auto-approves requests from the same host, one
// Forwarded listener gated by an interactive approval prompt, both
// backed by a shared key vault and an optional upstream agent for keys
// this daemon doesn't hold itself.
//
// Grounded directly on the teacher's main.go: flag parsing, umask-guarded
// socket creation, SIGHUP reload, and SIGINT/SIGTERM graceful shutdown,
// adapted from one listener to the spec's two, and from the teacher's
// Policy to this project's Config/KeyVault/known_hosts triad.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/tavisrudd/ssh-guard-agent/internal/approval"
	"github.com/tavisrudd/ssh-guard-agent/internal/auditlog"
	"github.com/tavisrudd/ssh-guard-agent/internal/config"
	"github.com/tavisrudd/ssh-guard-agent/internal/handler"
	"github.com/tavisrudd/ssh-guard-agent/internal/knownhosts"
	"github.com/tavisrudd/ssh-guard-agent/internal/server"
	"github.com/tavisrudd/ssh-guard-agent/internal/sessiontable"
	"github.com/tavisrudd/ssh-guard-agent/internal/upstream"
	"github.com/tavisrudd/ssh-guard-agent/internal/vault"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", defaultConfigPath(), "daemon config path")
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: ssh-guard-agent [--flags]\n\n")
		fmt.Fprintf(os.Stderr, "  --config PATH   daemon config path (default %s)\n", defaultConfigPath())
	}
	flag.Parse()

	cfg, initialResult := config.Load(configPath)
	if !initialResult.OK {
		log.Fatalf("config: %s: %v", configPath, initialResult.Errors)
	}
	file, approvalTimeout := cfg.Snapshot()

	if err := os.MkdirAll(file.StateDir, 0o700); err != nil {
		log.Fatalf("state dir %s: %v", file.StateDir, err)
	}

	kv, err := vault.Open(file.VaultDir)
	if err != nil {
		log.Fatalf("vault: %v", err)
	}
	kv.Watch()
	defer kv.Close()

	knownHostsStore, err := knownhosts.Load(file.KnownHosts)
	if err != nil {
		log.Fatalf("known_hosts: %s: %v", file.KnownHosts, err)
	}

	upstreamPath := file.Upstream
	if upstreamPath == "" {
		upstreamPath = os.Getenv("SSH_AUTH_SOCK")
	}
	upstreamPath = upstream.CapturePath(upstreamPath, file.ListenLocal, file.ListenForwarded)
	upstreamProxy := upstream.New(upstreamPath)

	sessions := sessiontable.NewBounded(file.ResolvedSessionTableCapacity())

	prompt := approval.NewTerminalPrompt()
	prompt.Timeout = approvalTimeout

	audit, err := auditlog.Open(filepath.Join(file.StateDir, "audit"))
	if err != nil {
		log.Fatalf("auditlog: %v", err)
	}
	recordingPrompt := auditlog.Wrap(prompt, audit)

	h := handler.New(kv, knownHostsStore, recordingPrompt, upstreamProxy, sessions)

	localListener, err := server.Bind(file.ListenLocal, handler.Local)
	if err != nil {
		log.Fatalf("bind local socket: %v", err)
	}
	forwardedListener, err := server.Bind(file.ListenForwarded, handler.Forwarded)
	if err != nil {
		log.Fatalf("bind forwarded socket: %v", err)
	}

	log.Printf("ssh-guard-agent pid=%d local=%s forwarded=%s upstream=%s vault=%s",
		os.Getpid(), file.ListenLocal, file.ListenForwarded, upstreamPath, file.VaultDir)

	cfg.OnReload(func(result config.LoadResult) {
		if !result.OK {
			log.Printf("config: reload failed: %v (keeping previous)", result.Errors)
			return
		}
		log.Printf("config: reloaded from %s", configPath)
	})
	cfg.Watch()

	hupCh := make(chan os.Signal, 1)
	signal.Notify(hupCh, syscall.SIGHUP)
	go func() {
		for range hupCh {
			log.Printf("SIGHUP: reloading known_hosts")
			reloaded, err := knownhosts.Load(file.KnownHosts)
			if err != nil {
				log.Printf("known_hosts reload: %v", err)
				continue
			}
			h.SetKnownHosts(reloaded)
		}
	}()

	live := &server.LiveSet{}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Printf("received %v, shutting down", sig)
		localListener.Shutdown()
		forwardedListener.Shutdown()
	}()

	go localListener.Serve(h, live)
	forwardedListener.Serve(h, live)

	live.Wait()
}

func defaultConfigPath() string {
	if dir := os.Getenv("XDG_CONFIG_HOME"); dir != "" {
		return filepath.Join(dir, "ssh-guard-agent", "config.yaml")
	}
	return filepath.Join(os.Getenv("HOME"), ".config", "ssh-guard-agent", "config.yaml")
}
