package vault

import (
	"bytes"
	"testing"
	"time"

	"golang.org/x/crypto/ed25519"

	"github.com/tavisrudd/ssh-guard-agent/internal/signer"
)

func TestGenerateEd25519RoundTripsThroughDisk(t *testing.T) {
	dir := t.TempDir()
	v, err := Open(dir)
	if err != nil {
		t.Fatal(err)
	}
	defer v.Close()

	s, err := v.GenerateEd25519("test-key")
	if err != nil {
		t.Fatal(err)
	}

	// Reopen a fresh vault instance against the same directory: the key
	// must survive the round trip through its encrypted file.
	v2, err := Open(dir)
	if err != nil {
		t.Fatal(err)
	}
	defer v2.Close()

	ids, err := v2.List()
	if err != nil {
		t.Fatal(err)
	}
	if len(ids) != 1 {
		t.Fatalf("expected 1 key after reopen, got %d", len(ids))
	}

	reloaded, err := v2.Load(ids[0])
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(reloaded.PublicKeyBlob(), s.PublicKeyBlob()) {
		t.Error("public key blob changed across reopen")
	}

	msg := []byte("verify-me")
	sig, err := reloaded.Sign(msg)
	if err != nil {
		t.Fatal(err)
	}
	rawPub := reloaded.PublicKeyBlob()
	// Re-decode the ed25519 raw key from the blob for direct verification.
	pub := ed25519.PublicKey(rawPub[len(rawPub)-32:])
	// Re-decode the raw signature from its wire form for direct verification.
	rawSig := sig[len(sig)-64:]
	if !ed25519.Verify(pub, msg, rawSig) {
		t.Error("signature produced after reload does not verify")
	}
}

func TestGenerateECDSAP256RoundTrip(t *testing.T) {
	dir := t.TempDir()
	v, err := Open(dir)
	if err != nil {
		t.Fatal(err)
	}
	defer v.Close()

	s, err := v.GenerateECDSAP256("ecdsa-key")
	if err != nil {
		t.Fatal(err)
	}
	ids, err := v.List()
	if err != nil {
		t.Fatal(err)
	}
	if len(ids) != 1 {
		t.Fatalf("expected 1 key, got %d", len(ids))
	}
	loaded, err := v.Load(ids[0])
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(loaded.PublicKeyBlob(), s.PublicKeyBlob()) {
		t.Error("ecdsa public key blob changed")
	}
}

func TestListAllSignersMergesMultipleKeys(t *testing.T) {
	dir := t.TempDir()
	v, err := Open(dir)
	if err != nil {
		t.Fatal(err)
	}
	defer v.Close()

	if _, err := v.GenerateEd25519("k1"); err != nil {
		t.Fatal(err)
	}
	if _, err := v.GenerateECDSAP256("k2"); err != nil {
		t.Fatal(err)
	}

	signers, err := v.ListAllSigners()
	if err != nil {
		t.Fatal(err)
	}
	if len(signers) != 2 {
		t.Fatalf("expected 2 signers, got %d", len(signers))
	}
}

func TestFsnotifyWatchPicksUpNewKey(t *testing.T) {
	dir := t.TempDir()
	v, err := Open(dir)
	if err != nil {
		t.Fatal(err)
	}
	defer v.Close()
	v.Watch()

	// Write the key through a second instance so that only v's directory
	// watch, not a rescan inside GenerateEd25519, can make v see it.
	writer, err := Open(dir)
	if err != nil {
		t.Fatal(err)
	}
	defer writer.Close()
	if _, err := writer.GenerateEd25519("watched-key"); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		ids, err := v.List()
		if err != nil {
			t.Fatal(err)
		}
		if len(ids) == 1 {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Error("expected the directory watch to observe the generated key within the deadline")
}

func TestLoadUnknownFingerprintFails(t *testing.T) {
	dir := t.TempDir()
	v, err := Open(dir)
	if err != nil {
		t.Fatal(err)
	}
	defer v.Close()

	_, err = v.Load(signer.KeyIdentifier{ID: "nonexistent"})
	if err == nil {
		t.Error("expected error loading an unknown key identifier")
	}
}
