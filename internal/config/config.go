// Package config loads the daemon's YAML configuration: listener
// socket paths, the upstream agent to chain to, the known_hosts file,
// and the on-disk locations of the vault and state directory.
//
// Grounded on the teacher's Policy (policy.go): strict (KnownFields)
// YAML decoding, a Load/LoadResult pair that keeps the previous valid
// config on a bad reload rather than crashing the daemon, and an
// fsnotify directory watch feeding a Watch/OnReload pair for SIGHUP-less
// hot reload. The rule-matching DSL (MatchSpec, coding-agent heuristics,
// confirm policy) has no equivalent here — a forwarded connection is
// gated by the session-bind-aware ApprovalPrompt, not by a YAML rule
// table.
package config

import (
	"bytes"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// File is the top-level YAML structure of the daemon's configuration.
type File struct {
	ListenLocal     string `yaml:"listen_local"`
	ListenForwarded string `yaml:"listen_forwarded"`
	Upstream        string `yaml:"upstream,omitempty"`
	KnownHosts      string `yaml:"known_hosts"`
	VaultDir        string `yaml:"vault_dir"`
	StateDir        string `yaml:"state_dir"`
	// SessionTableCapacity is a pointer so an omitted field (nil) and an
	// explicit session_table_capacity: 0 (unbounded, per sessiontable's
	// own NewBounded contract) don't collapse into the same zero value.
	SessionTableCapacity *int   `yaml:"session_table_capacity,omitempty"`
	ApprovalTimeout      string `yaml:"approval_timeout,omitempty"`
}

// ResolvedSessionTableCapacity returns the capacity to pass to
// sessiontable.NewBounded: the configured value if the field was
// present (0 meaning unbounded), or defaultSessionTableCapacity if the
// field was omitted entirely.
func (f File) ResolvedSessionTableCapacity() int {
	if f.SessionTableCapacity == nil {
		return defaultSessionTableCapacity
	}
	return *f.SessionTableCapacity
}

// defaultSessionTableCapacity is the capacity used when the config file
// omits session_table_capacity. sessiontable itself has no such default:
// sessiontable.New and NewBounded(0) are both unbounded.
const defaultSessionTableCapacity = 256

// defaultApprovalTimeout matches approval.DefaultTimeout. Duplicated
// here rather than imported to keep config a leaf package the way
// sessiontable duplicates knownhosts' VerificationKind.
const defaultApprovalTimeout = 30 * time.Second

// LoadResult carries the outcome of a Load call. On success the Config
// holds the new File and its parsed approval timeout; on failure, the Config
// keeps whatever it last loaded successfully.
type LoadResult struct {
	OK     bool
	Errors []string
}

// Config is a mutable, hot-reloadable handle on the daemon's
// configuration file.
type Config struct {
	mu       sync.RWMutex
	path     string
	file     File
	timeout  time.Duration
	onReload func(LoadResult)
}

// Load reads and strictly decodes path, returning a ready Config and
// the outcome of the initial load.
func Load(path string) (*Config, LoadResult) {
	c := &Config{path: path}
	result := c.reload()
	return c, result
}

// OnReload sets a callback invoked after a reload triggered by Watch.
// Must be set before calling Watch.
func (c *Config) OnReload(fn func(LoadResult)) {
	c.onReload = fn
}

// Watch starts an fsnotify watch on the config file's directory (so
// atomic renames and symlink swaps are caught, matching the teacher's
// Policy.Watch) and reloads on write/create events for the watched
// file's basename.
func (c *Config) Watch() {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		log.Printf("config: watch setup failed: %v, hot reload disabled", err)
		return
	}
	dir := filepath.Dir(c.path)
	if err := watcher.Add(dir); err != nil {
		log.Printf("config: watch %s failed: %v, hot reload disabled", dir, err)
		watcher.Close()
		return
	}
	base := filepath.Base(c.path)
	go func() {
		defer watcher.Close()
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Base(event.Name) != base {
					continue
				}
				if event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
					result := c.reload()
					if c.onReload != nil {
						c.onReload(result)
					}
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.Printf("config: watch error: %v", err)
			}
		}
	}()
}

func (c *Config) reload() LoadResult {
	c.mu.Lock()
	defer c.mu.Unlock()

	data, err := os.ReadFile(c.path)
	if err != nil {
		log.Printf("config: read %s: %v (keeping previous)", c.path, err)
		return LoadResult{OK: false, Errors: []string{err.Error()}}
	}

	var file File
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&file); err != nil {
		log.Printf("config: %s: %v (keeping previous)", c.path, err)
		return LoadResult{OK: false, Errors: []string{err.Error()}}
	}

	if errs := validate(file); len(errs) > 0 {
		log.Printf("config: %s: %d error(s) (keeping previous)", c.path, len(errs))
		for _, e := range errs {
			log.Printf("  %s", e)
		}
		return LoadResult{OK: false, Errors: errs}
	}

	timeout := defaultApprovalTimeout
	if file.ApprovalTimeout != "" {
		parsed, err := time.ParseDuration(file.ApprovalTimeout)
		if err != nil {
			errMsg := fmt.Sprintf("invalid approval_timeout %q: %v", file.ApprovalTimeout, err)
			log.Printf("config: %s: %s (keeping previous)", c.path, errMsg)
			return LoadResult{OK: false, Errors: []string{errMsg}}
		}
		timeout = parsed
	}

	c.file = file
	c.timeout = timeout
	return LoadResult{OK: true}
}

func validate(f File) []string {
	var errs []string
	if f.ListenLocal == "" {
		errs = append(errs, "listen_local is required")
	}
	if f.ListenForwarded == "" {
		errs = append(errs, "listen_forwarded is required")
	}
	if f.ListenLocal == f.ListenForwarded && f.ListenLocal != "" {
		errs = append(errs, "listen_local and listen_forwarded must differ")
	}
	if f.VaultDir == "" {
		errs = append(errs, "vault_dir is required")
	}
	if f.SessionTableCapacity != nil && *f.SessionTableCapacity < 0 {
		errs = append(errs, "session_table_capacity must not be negative")
	}
	return errs
}

// Snapshot returns the currently active File and resolved approval
// timeout, safe to call concurrently with a reload.
func (c *Config) Snapshot() (File, time.Duration) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.file, c.timeout
}
