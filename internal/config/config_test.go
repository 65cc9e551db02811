package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, dir, contents string) string {
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadValidConfig(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, `
listen_local: /run/ssh-guard-agent/local.sock
listen_forwarded: /run/ssh-guard-agent/forwarded.sock
upstream: /run/original-agent.sock
known_hosts: /home/user/.ssh/known_hosts
vault_dir: /home/user/.ssh-guard-agent/vault
state_dir: /home/user/.ssh-guard-agent/state
session_table_capacity: 64
approval_timeout: 10s
`)
	c, result := Load(path)
	if !result.OK {
		t.Fatalf("expected OK load, got errors: %v", result.Errors)
	}
	file, timeout := c.Snapshot()
	if file.ListenLocal != "/run/ssh-guard-agent/local.sock" {
		t.Errorf("unexpected listen_local: %q", file.ListenLocal)
	}
	if file.ResolvedSessionTableCapacity() != 64 {
		t.Errorf("expected capacity 64, got %d", file.ResolvedSessionTableCapacity())
	}
	if timeout != 10*time.Second {
		t.Errorf("expected 10s timeout, got %v", timeout)
	}
}

func TestLoadAppliesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, `
listen_local: /run/local.sock
listen_forwarded: /run/forwarded.sock
known_hosts: /home/user/.ssh/known_hosts
vault_dir: /vault
state_dir: /state
`)
	c, result := Load(path)
	if !result.OK {
		t.Fatalf("expected OK load, got errors: %v", result.Errors)
	}
	file, timeout := c.Snapshot()
	if file.ResolvedSessionTableCapacity() != defaultSessionTableCapacity {
		t.Errorf("expected default capacity %d, got %d", defaultSessionTableCapacity, file.ResolvedSessionTableCapacity())
	}
	if timeout != defaultApprovalTimeout {
		t.Errorf("expected default timeout, got %v", timeout)
	}
}

// TestLoadExplicitZeroCapacityMeansUnbounded covers the one
// config-exposed knob SPEC_FULL.md calls out for parity testing: an
// operator who writes session_table_capacity: 0 must get the
// unbounded table, not the 256-entry default an omitted field gets.
func TestLoadExplicitZeroCapacityMeansUnbounded(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, `
listen_local: /run/local.sock
listen_forwarded: /run/forwarded.sock
known_hosts: /home/user/.ssh/known_hosts
vault_dir: /vault
state_dir: /state
session_table_capacity: 0
`)
	c, result := Load(path)
	if !result.OK {
		t.Fatalf("expected OK load, got errors: %v", result.Errors)
	}
	file, _ := c.Snapshot()
	if file.SessionTableCapacity == nil {
		t.Fatal("expected an explicit session_table_capacity: 0 to be preserved, not treated as absent")
	}
	if got := file.ResolvedSessionTableCapacity(); got != 0 {
		t.Errorf("expected resolved capacity 0 (unbounded), got %d", got)
	}
}

func TestLoadRejectsSameSocketPath(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, `
listen_local: /run/same.sock
listen_forwarded: /run/same.sock
known_hosts: /home/user/.ssh/known_hosts
vault_dir: /vault
state_dir: /state
`)
	_, result := Load(path)
	if result.OK {
		t.Fatal("expected load to fail when listen_local == listen_forwarded")
	}
}

func TestLoadRejectsUnknownField(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, `
listen_local: /run/local.sock
listen_forwarded: /run/forwarded.sock
known_hosts: /home/user/.ssh/known_hosts
vault_dir: /vault
state_dir: /state
totally_unknown_field: true
`)
	_, result := Load(path)
	if result.OK {
		t.Fatal("expected strict decoding to reject an unknown field")
	}
}

func TestReloadKeepsPreviousValidConfigOnBadEdit(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, `
listen_local: /run/local.sock
listen_forwarded: /run/forwarded.sock
known_hosts: /home/user/.ssh/known_hosts
vault_dir: /vault
state_dir: /state
`)
	c, result := Load(path)
	if !result.OK {
		t.Fatalf("expected initial load OK, got: %v", result.Errors)
	}
	before, _ := c.Snapshot()

	if err := os.WriteFile(path, []byte("not: [valid"), 0o600); err != nil {
		t.Fatal(err)
	}
	badResult := c.reload()
	if badResult.OK {
		t.Fatal("expected reload of malformed YAML to fail")
	}
	after, _ := c.Snapshot()
	if after != before {
		t.Error("expected Config to retain its previous valid state after a bad reload")
	}
}

func TestLoadMissingFileFails(t *testing.T) {
	_, result := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if result.OK {
		t.Fatal("expected load of a missing file to fail")
	}
}
