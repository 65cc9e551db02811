// Package vault implements the KeyVault collaborator as an
// age-encrypted directory of private keys: one <fingerprint>.age file
// per key, decrypted on demand, plus a directory watch that picks up
// keys added or removed on disk without a restart.
//
// The directory-watch mechanism is grounded directly on the teacher's
// Policy.Watch (policy.go): an fsnotify watcher on the containing
// directory (so symlink replacement and atomic renames are caught),
// filtered to the relevant files, triggering a rescan.
package vault

import (
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/rand"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"filippo.io/age"
	"github.com/fsnotify/fsnotify"

	"github.com/tavisrudd/ssh-guard-agent/internal/pubkey"
	"github.com/tavisrudd/ssh-guard-agent/internal/signer"
)

const identityFileName = "identity.age-key"

// AgeVault is a signer.KeyVault backed by age-encrypted key files under
// dir. Each key's private material lives in memory only for the
// duration of a List/Load/ListAllSigners scan and a Sign call; it is
// re-decrypted from disk each time rather than cached.
type AgeVault struct {
	dir      string
	identity *age.X25519Identity

	mu      sync.RWMutex
	entries map[string]keyFileEntry // fingerprint -> entry, refreshed by scan() and the fsnotify watch

	watcher *fsnotify.Watcher
}

type keyFileEntry struct {
	path      string
	algorithm signer.KeyAlgorithm
	comment   string
	createdAt time.Time
}

// Open loads or creates the vault's master identity at
// dir/identity.age-key and performs an initial scan of dir for
// <fingerprint>.age key files.
func Open(dir string) (*AgeVault, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("vault: mkdir %s: %w", dir, err)
	}
	identity, err := loadOrCreateIdentity(filepath.Join(dir, identityFileName))
	if err != nil {
		return nil, err
	}
	v := &AgeVault{dir: dir, identity: identity, entries: make(map[string]keyFileEntry)}
	if err := v.scan(); err != nil {
		return nil, err
	}
	return v, nil
}

func loadOrCreateIdentity(path string) (*age.X25519Identity, error) {
	data, err := os.ReadFile(path)
	if err == nil {
		return age.ParseX25519Identity(strings.TrimSpace(string(data)))
	}
	if !os.IsNotExist(err) {
		return nil, fmt.Errorf("vault: reading identity %s: %w", path, err)
	}
	identity, err := age.GenerateX25519Identity()
	if err != nil {
		return nil, fmt.Errorf("vault: generating identity: %w", err)
	}
	if err := os.WriteFile(path, []byte(identity.String()+"\n"), 0o600); err != nil {
		return nil, fmt.Errorf("vault: writing identity %s: %w", path, err)
	}
	return identity, nil
}

// Watch starts an fsnotify watch on the vault directory so keys added
// or removed on disk are picked up without a process restart. Watch
// setup failures are logged and non-fatal, matching the teacher's
// Policy.Watch fallback-to-manual-reload behavior.
func (v *AgeVault) Watch() {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		log.Printf("vault: watch setup failed: %v", err)
		return
	}
	if err := watcher.Add(v.dir); err != nil {
		log.Printf("vault: watch %s failed: %v", v.dir, err)
		watcher.Close()
		return
	}
	v.watcher = watcher
	go func() {
		defer watcher.Close()
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if !strings.HasSuffix(event.Name, ".age") {
					continue
				}
				if err := v.scan(); err != nil {
					log.Printf("vault: rescan after %v: %v", event, err)
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.Printf("vault: watch error: %v", err)
			}
		}
	}()
}

// Close stops the directory watch, if running.
func (v *AgeVault) Close() {
	if v.watcher != nil {
		v.watcher.Close()
	}
}

// scan rebuilds the in-memory index of <fingerprint>.age files. It
// fully decrypts and parses each file, keeping only the algorithm and
// comment in the index; the decrypted private key is not retained.
func (v *AgeVault) scan() error {
	glob := filepath.Join(v.dir, "*.age")
	matches, err := filepath.Glob(glob)
	if err != nil {
		return fmt.Errorf("vault: glob %s: %w", glob, err)
	}
	entries := make(map[string]keyFileEntry, len(matches))
	for _, path := range matches {
		fp := strings.TrimSuffix(filepath.Base(path), ".age")
		material, err := v.decryptFile(path)
		if err != nil {
			log.Printf("vault: skipping %s: %v", path, err)
			continue
		}
		info, err := os.Stat(path)
		var createdAt time.Time
		if err == nil {
			createdAt = info.ModTime()
		}
		entries[fp] = keyFileEntry{path: path, algorithm: material.algorithm, comment: material.comment, createdAt: createdAt}
	}
	v.mu.Lock()
	v.entries = entries
	v.mu.Unlock()
	return nil
}

// List returns the stable identifiers of every key currently indexed.
func (v *AgeVault) List() ([]signer.KeyIdentifier, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	ids := make([]signer.KeyIdentifier, 0, len(v.entries))
	for fp, e := range v.entries {
		ids = append(ids, signer.KeyIdentifier{ID: fp, Algorithm: e.algorithm, Comment: e.comment, CreatedAt: e.createdAt})
	}
	return ids, nil
}

// Load decrypts and returns the full Signer for id. A decryption
// failure (corrupt file, key removed since List) surfaces as an error;
// callers treat that as a missing key, per spec.md §7.
func (v *AgeVault) Load(id signer.KeyIdentifier) (signer.Signer, error) {
	v.mu.RLock()
	e, ok := v.entries[id.ID]
	v.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("vault: no key with fingerprint %s", id.ID)
	}
	material, err := v.decryptFile(e.path)
	if err != nil {
		return nil, fmt.Errorf("vault: decrypt %s: %w", e.path, err)
	}
	return material.toSigner()
}

// ListAllSigners decrypts every indexed key and returns live Signers.
// Acceptable given expected vault sizes of at most tens of keys.
func (v *AgeVault) ListAllSigners() ([]signer.Signer, error) {
	ids, err := v.List()
	if err != nil {
		return nil, err
	}
	signers := make([]signer.Signer, 0, len(ids))
	for _, id := range ids {
		s, err := v.Load(id)
		if err != nil {
			log.Printf("vault: load %s: %v", id.ID, err)
			continue
		}
		signers = append(signers, s)
	}
	return signers, nil
}

// keyMaterial is the decrypted, in-memory form of one vault entry.
type keyMaterial struct {
	algorithm  signer.KeyAlgorithm
	comment    string
	ed25519Sk  ed25519.PrivateKey
	ecdsaSk    *ecdsa.PrivateKey
}

func (m keyMaterial) toSigner() (signer.Signer, error) {
	switch m.algorithm {
	case signer.Ed25519:
		return newEd25519Signer(m.ed25519Sk, m.comment)
	case signer.EcdsaP256:
		return newECDSAP256Signer(m.ecdsaSk, m.comment)
	default:
		return nil, fmt.Errorf("vault: unsupported algorithm %v", m.algorithm)
	}
}

// decryptFile decrypts path against the vault's master identity and
// parses its plaintext: a format version tag on the first line, the
// key's algorithm name on the second, the comment on the third, and the
// base64 private key bytes on the fourth.
func (v *AgeVault) decryptFile(path string) (keyMaterial, error) {
	f, err := os.Open(path)
	if err != nil {
		return keyMaterial{}, err
	}
	defer f.Close()
	r, err := age.Decrypt(f, v.identity)
	if err != nil {
		return keyMaterial{}, fmt.Errorf("age decrypt: %w", err)
	}
	return parseKeyMaterial(r)
}

// GenerateEd25519 creates a fresh Ed25519 key, writes it into the vault
// under its fingerprint, and returns its Signer.
func (v *AgeVault) GenerateEd25519(comment string) (signer.Signer, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, err
	}
	blob, err := pubkey.EncodeEd25519PublicKey(pub)
	if err != nil {
		return nil, err
	}
	fp := pubkey.Fingerprint(blob)
	if err := v.writeKeyFile(fp, signer.Ed25519, comment, priv); err != nil {
		return nil, err
	}
	if err := v.scan(); err != nil {
		return nil, err
	}
	return newEd25519Signer(priv, comment)
}

// GenerateECDSAP256 creates a fresh ECDSA-P256 key, writes it into the
// vault under its fingerprint, and returns its Signer.
func (v *AgeVault) GenerateECDSAP256(comment string) (signer.Signer, error) {
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, err
	}
	point := elliptic.Marshal(elliptic.P256(), priv.X, priv.Y)
	blob, err := pubkey.EncodeECDSAP256PublicKey(point)
	if err != nil {
		return nil, err
	}
	fp := pubkey.Fingerprint(blob)
	if err := v.writeKeyFile(fp, signer.EcdsaP256, comment, priv); err != nil {
		return nil, err
	}
	if err := v.scan(); err != nil {
		return nil, err
	}
	return newECDSAP256Signer(priv, comment)
}

func (v *AgeVault) writeKeyFile(fingerprint string, algo signer.KeyAlgorithm, comment string, priv any) error {
	plaintext, err := marshalKeyMaterial(algo, comment, priv)
	if err != nil {
		return err
	}
	path := filepath.Join(v.dir, sanitizeFingerprint(fingerprint)+".age")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("vault: create %s: %w", path, err)
	}
	defer f.Close()
	w, err := age.Encrypt(f, v.identity.Recipient())
	if err != nil {
		return fmt.Errorf("vault: age encrypt: %w", err)
	}
	if _, err := w.Write(plaintext); err != nil {
		return fmt.Errorf("vault: writing plaintext: %w", err)
	}
	return w.Close()
}

func sanitizeFingerprint(fp string) string {
	return strings.ReplaceAll(strings.TrimPrefix(fp, "SHA256:"), "/", "_")
}
