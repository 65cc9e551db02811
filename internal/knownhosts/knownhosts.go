// Package knownhosts parses an OpenSSH known_hosts file and answers
// host-key verification queries against it, including HMAC-SHA1 hashed
// entries (HashKnownHosts yes) that the teacher agent's resolver skips
// outright — here they're load-bearing, since spec host verification
// must distinguish Mismatch from Unknown even when every line is hashed.
package knownhosts

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"fmt"
	"log"
	"os"
	"strings"
)

// HostMatchKind tags the two host_field dialects a line can use.
type HostMatchKind int

const (
	MatchPlain HostMatchKind = iota
	MatchHashed
)

// HostMatch is the parsed host_field of one entry.
type HostMatch struct {
	Kind HostMatchKind

	// MatchPlain
	Names []string

	// MatchHashed
	Salt []byte
	Hash []byte
}

// Entry is one parsed, non-comment, non-blank known_hosts line.
type Entry struct {
	Host    HostMatch
	KeyType string
	KeyBlob []byte
}

// Store holds the entries loaded from a known_hosts file at process
// start. It is read-only after Load and safe for concurrent lookups.
type Store struct {
	entries []Entry
}

// Load reads and parses path. A missing file yields an empty Store
// rather than an error — the core treats an absent known_hosts as
// "nothing known", not a fatal condition. Any other read failure is
// returned as an error.
func Load(path string) (*Store, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &Store{}, nil
		}
		return nil, fmt.Errorf("knownhosts: reading %s: %w", path, err)
	}
	s := &Store{}
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		entry, ok := parseLine(line)
		if !ok {
			continue
		}
		s.entries = append(s.entries, entry)
	}
	log.Printf("knownhosts: loaded %d entries from %s", len(s.entries), path)
	return s, nil
}

func parseLine(line string) (Entry, bool) {
	fields := strings.Fields(line)
	if len(fields) < 3 {
		return Entry{}, false
	}
	hostField, keyType, keyB64 := fields[0], fields[1], fields[2]
	keyBlob, err := base64.StdEncoding.DecodeString(keyB64)
	if err != nil {
		return Entry{}, false
	}
	host, ok := parseHostField(hostField)
	if !ok {
		return Entry{}, false
	}
	return Entry{Host: host, KeyType: keyType, KeyBlob: keyBlob}, true
}

func parseHostField(field string) (HostMatch, bool) {
	if strings.HasPrefix(field, "|1|") {
		parts := strings.Split(field, "|")
		if len(parts) != 4 {
			return HostMatch{}, false
		}
		salt, err := base64.StdEncoding.DecodeString(parts[2])
		if err != nil {
			return HostMatch{}, false
		}
		hash, err := base64.StdEncoding.DecodeString(parts[3])
		if err != nil {
			return HostMatch{}, false
		}
		return HostMatch{Kind: MatchHashed, Salt: salt, Hash: hash}, true
	}
	// Names are kept exactly as written: lookupNames constructs the same
	// bare-hostname or "[hostname]:port" dialect forms a query compares
	// against, so no bracket stripping happens here.
	names := strings.Split(field, ",")
	return HostMatch{Kind: MatchPlain, Names: names}, true
}

// lookupNames returns the names a query for (hostname, port) would be
// matched against: just "[hostname]" form stripped to hostname for the
// default port, or both the bare hostname and the "[hostname]:port"
// dialect form otherwise.
func lookupNames(hostname string, port int) []string {
	if port == 22 {
		return []string{hostname}
	}
	return []string{hostname, fmt.Sprintf("[%s]:%d", hostname, port)}
}

func hashedMatches(m HostMatch, name string) bool {
	mac := hmac.New(sha1.New, m.Salt)
	mac.Write([]byte(name))
	return hmac.Equal(mac.Sum(nil), m.Hash)
}

func plainMatches(m HostMatch, name string) bool {
	for _, n := range m.Names {
		if n == name {
			return true
		}
	}
	return false
}

func (e Entry) matchesHost(names []string) bool {
	for _, name := range names {
		switch e.Host.Kind {
		case MatchHashed:
			if hashedMatches(e.Host, name) {
				return true
			}
		case MatchPlain:
			if plainMatches(e.Host, name) {
				return true
			}
		}
	}
	return false
}

// VerificationKind tags the HostVerification union.
type VerificationKind int

const (
	Verified VerificationKind = iota
	Mismatch
	Unknown
)

// HostVerification is the outcome of Verify.
type HostVerification struct {
	Kind     VerificationKind
	Hostname string
}

func (v HostVerification) String() string {
	switch v.Kind {
	case Verified:
		return "Verified(" + v.Hostname + ")"
	case Mismatch:
		return "Mismatch(" + v.Hostname + ")"
	default:
		return "Unknown(" + v.Hostname + ")"
	}
}

// Verify checks candidateBlob against the store's entries for
// (hostname, port): Verified if some entry matches both the host and
// the key, Mismatch if some entry matches the host but not the key,
// Unknown if no entry matches the host at all.
func (s *Store) Verify(hostname string, port int, candidateBlob []byte) HostVerification {
	names := lookupNames(hostname, port)
	hostMatched := false
	for _, e := range s.entries {
		if !e.matchesHost(names) {
			continue
		}
		hostMatched = true
		if bytesEqual(e.KeyBlob, candidateBlob) {
			return HostVerification{Kind: Verified, Hostname: hostname}
		}
	}
	if hostMatched {
		return HostVerification{Kind: Mismatch, Hostname: hostname}
	}
	return HostVerification{Kind: Unknown, Hostname: hostname}
}

// HostnamesForKey returns the union of plain names from entries whose
// key blob equals blob. Hashed entries cannot reverse-map and are
// omitted, same limitation the teacher's resolver documents.
func (s *Store) HostnamesForKey(blob []byte) []string {
	seen := make(map[string]bool)
	var out []string
	for _, e := range s.entries {
		if e.Host.Kind != MatchPlain || !bytesEqual(e.KeyBlob, blob) {
			continue
		}
		for _, n := range e.Host.Names {
			if !seen[n] {
				seen[n] = true
				out = append(out, n)
			}
		}
	}
	return out
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// HashEntry constructs the "|1|salt|hash" host field for name under
// salt, for use by tooling that writes hashed known_hosts entries.
func HashEntry(salt []byte, name string) string {
	mac := hmac.New(sha1.New, salt)
	mac.Write([]byte(name))
	return "|1|" + base64.StdEncoding.EncodeToString(salt) + "|" + base64.StdEncoding.EncodeToString(mac.Sum(nil))
}
