// Package auditlog writes one YAML file per approval decision to the
// state directory, an append-only record distinct from the daemon's
// stdlib-log journal line.
//
// Grounded on the teacher's Logger (logger.go): a per-event YAML file
// under stateDir named by timestamp/decision, written with
// gopkg.in/yaml.v3, alongside a one-line log.Printf journal entry.
// Dropped from the teacher's version: the tmux status-bar render step
// (render()/current.yaml/writeIdle) and the rule-name/config-SHA/coding-
// agent fields, none of which this spec's trust model produces —
// approval decisions here come from a socket-type gate and a
// session-bind verification, not a rule engine.
package auditlog

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/tavisrudd/ssh-guard-agent/internal/agentproto"
	"github.com/tavisrudd/ssh-guard-agent/internal/sessiontable"
	"github.com/tavisrudd/ssh-guard-agent/internal/signer"
)

// Log writes decision records under dir.
type Log struct {
	dir string
}

// Open ensures dir exists and returns a Log writing into it.
func Open(dir string) (*Log, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("auditlog: mkdir %s: %w", dir, err)
	}
	return &Log{dir: dir}, nil
}

type decisionEvent struct {
	Timestamp      string `yaml:"timestamp"`
	Decision       string `yaml:"decision"`
	KeyFingerprint string `yaml:"key_fingerprint"`
	KeyComment     string `yaml:"key_comment,omitempty"`
	Algorithm      string `yaml:"algorithm"`
	Hostname       string `yaml:"hostname,omitempty"`
	Verification   string `yaml:"verification,omitempty"`
	IsForwarded    bool   `yaml:"is_forwarded"`
	Username       string `yaml:"username,omitempty"`
	SignAlgorithm  string `yaml:"sign_algorithm,omitempty"`
}

// Record writes one decision file and a journal line.
func (l *Log) Record(view signer.View, introspection *agentproto.Introspection, hostContext *sessiontable.HostContext, approved bool) {
	now := time.Now()
	decision := "denied"
	if approved {
		decision = "approved"
	}

	ev := decisionEvent{
		Timestamp:      now.Format(time.RFC3339),
		Decision:       decision,
		KeyFingerprint: view.Fingerprint(),
		KeyComment:     view.Comment(),
		Algorithm:      view.Algorithm().SSHName(),
	}
	if hostContext != nil {
		ev.Hostname = hostContext.Hostname
		ev.Verification = verificationLabel(hostContext.Verification)
		ev.IsForwarded = hostContext.IsForwarded
	}
	if introspection != nil {
		ev.Username = introspection.Username
		ev.SignAlgorithm = introspection.Algorithm
	}

	filename := fmt.Sprintf("%s-%s-%s.yaml", now.Format("20060102-150405.000000000"), sanitize(ev.KeyFingerprint), decision)
	path := filepath.Join(l.dir, filename)
	data, err := yaml.Marshal(&ev)
	if err != nil {
		log.Printf("auditlog: marshal: %v", err)
		return
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		log.Printf("auditlog: write %s: %v", path, err)
		return
	}

	log.Printf("auth: %s key=%s host=%s decision=%s", ev.Algorithm, ev.KeyFingerprint, ev.Hostname, decision)
}

func verificationLabel(k sessiontable.VerificationKind) string {
	switch k {
	case sessiontable.Verified:
		return "verified"
	case sessiontable.Mismatch:
		return "mismatch"
	default:
		return "unknown"
	}
}

func sanitize(fingerprint string) string {
	out := make([]byte, 0, len(fingerprint))
	for _, c := range fingerprint {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '-', c == '_':
			out = append(out, byte(c))
		default:
			out = append(out, '_')
		}
	}
	return string(out)
}
