package knownhosts

import (
	"crypto/rand"
	"encoding/base64"
	"os"
	"path/filepath"
	"testing"
)

func writeTempKnownHosts(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "known_hosts")
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

// Scenario 5 from spec.md §8: hashed known_hosts end-to-end.
func TestHashedKnownHostsEndToEnd(t *testing.T) {
	salt := make([]byte, 20)
	if _, err := rand.Read(salt); err != nil {
		t.Fatal(err)
	}
	blob := []byte{1, 2, 3, 4}
	hostField := HashEntry(salt, "myserver.example.com")
	line := hostField + " ssh-ed25519 " + base64.StdEncoding.EncodeToString(blob) + "\n"

	path := writeTempKnownHosts(t, line)
	store, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}

	got := store.Verify("myserver.example.com", 22, blob)
	if got.Kind != Verified {
		t.Errorf("got %v, want Verified", got)
	}

	got2 := store.Verify("other", 22, blob)
	if got2.Kind != Unknown {
		t.Errorf("got %v, want Unknown", got2)
	}
}

func TestPortDialect(t *testing.T) {
	blob := []byte{9, 9, 9}
	line := "[example.com]:2222 ssh-ed25519 " + base64.StdEncoding.EncodeToString(blob) + "\n"
	path := writeTempKnownHosts(t, line)
	store, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if got := store.Verify("example.com", 2222, blob); got.Kind != Verified {
		t.Errorf("port 2222: got %v, want Verified", got)
	}
	if got := store.Verify("example.com", 22, blob); got.Kind == Verified {
		t.Errorf("port 22 should not match the :2222 entry, got %v", got)
	}
}

func TestMismatchVsUnknown(t *testing.T) {
	blobA := []byte{1, 1, 1}
	blobB := []byte{2, 2, 2}
	line := "example.com ssh-ed25519 " + base64.StdEncoding.EncodeToString(blobA) + "\n"
	path := writeTempKnownHosts(t, line)
	store, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if got := store.Verify("example.com", 22, blobB); got.Kind != Mismatch {
		t.Errorf("got %v, want Mismatch", got)
	}
	if got := store.Verify("unrelated.com", 22, blobA); got.Kind != Unknown {
		t.Errorf("got %v, want Unknown", got)
	}
}

func TestPlainCommaSeparatedNames(t *testing.T) {
	blob := []byte{7, 7, 7}
	line := "hosta.example.com,hostb.example.com ssh-ed25519 " + base64.StdEncoding.EncodeToString(blob) + "\n"
	path := writeTempKnownHosts(t, line)
	store, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if got := store.Verify("hostb.example.com", 22, blob); got.Kind != Verified {
		t.Errorf("got %v, want Verified", got)
	}
}

func TestCommentsAndBlankLinesSkipped(t *testing.T) {
	blob := []byte{3, 3, 3}
	contents := "# comment\n\nexample.com ssh-ed25519 " + base64.StdEncoding.EncodeToString(blob) + "\n"
	path := writeTempKnownHosts(t, contents)
	store, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(store.entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(store.entries))
	}
}

func TestHostnamesForKey(t *testing.T) {
	blob := []byte{4, 4, 4}
	contents := "a.example.com ssh-ed25519 " + base64.StdEncoding.EncodeToString(blob) + "\n" +
		"b.example.com ssh-ed25519 " + base64.StdEncoding.EncodeToString(blob) + "\n"
	path := writeTempKnownHosts(t, contents)
	store, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	names := store.HostnamesForKey(blob)
	if len(names) != 2 {
		t.Errorf("got %v, want 2 names", names)
	}
}

func TestHostnamesForKeyOmitsHashedEntries(t *testing.T) {
	salt := make([]byte, 20)
	if _, err := rand.Read(salt); err != nil {
		t.Fatal(err)
	}
	blob := []byte{5, 5, 5}
	line := HashEntry(salt, "hidden.example.com") + " ssh-ed25519 " + base64.StdEncoding.EncodeToString(blob) + "\n"
	path := writeTempKnownHosts(t, line)
	store, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if names := store.HostnamesForKey(blob); len(names) != 0 {
		t.Errorf("expected no reverse mapping for hashed entry, got %v", names)
	}
}

func TestLoadMissingFileIsEmptyNotError(t *testing.T) {
	store, err := Load(filepath.Join(t.TempDir(), "does-not-exist"))
	if err != nil {
		t.Fatalf("expected no error for missing file, got %v", err)
	}
	if got := store.Verify("anything", 22, []byte{1}); got.Kind != Unknown {
		t.Errorf("got %v, want Unknown", got)
	}
}
