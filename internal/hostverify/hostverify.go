// Package hostverify implements the cryptographic half of session
// binding: given a host key blob, a session id, and a signature blob,
// decide whether the host key actually signed that session id.
//
// Verification for the two supported algorithms is delegated to
// golang.org/x/crypto/ssh's PublicKey.Verify rather than re-implemented
// by hand — the teacher already treats x/crypto/ssh as the source of
// truth for public-key parsing (session.go's parseSessionBind calls
// ssh.ParsePublicKey directly), and Verify's per-algorithm dispatch
// (raw ed25519 verification, SHA-256-then-ECDSA for nistp256) matches
// spec.md §4.5 exactly.
package hostverify

import (
	"golang.org/x/crypto/ssh"

	"github.com/tavisrudd/ssh-guard-agent/internal/wire"
)

const (
	algoEd25519   = "ssh-ed25519"
	algoEcdsaP256 = "ecdsa-sha2-nistp256"
)

func isUnverifiedRSAAlgorithm(name string) bool {
	switch name {
	case "ssh-rsa", "rsa-sha2-256", "rsa-sha2-512":
		return true
	default:
		return false
	}
}

// Verify checks whether signatureBlob is a valid signature by the host
// key hostKeyBlob over sessionID. It never panics: any parse error or
// length mismatch yields false, matching spec.md's "a malformed bind is
// a non-binding, not a crash" rule.
func Verify(hostKeyBlob, sessionID, signatureBlob []byte) bool {
	keyAlgo, ok := leadingName(hostKeyBlob)
	if !ok {
		return false
	}
	sigAlgo, sigContent, ok := parseSignatureBlob(signatureBlob)
	if !ok {
		return false
	}
	if keyAlgo != sigAlgo {
		return false
	}

	if isUnverifiedRSAAlgorithm(keyAlgo) {
		return true
	}
	if keyAlgo != algoEd25519 && keyAlgo != algoEcdsaP256 {
		return false
	}

	pub, err := ssh.ParsePublicKey(hostKeyBlob)
	if err != nil {
		return false
	}
	sig := &ssh.Signature{Format: sigAlgo, Blob: sigContent}
	if err := pub.Verify(sessionID, sig); err != nil {
		return false
	}
	return true
}

// leadingName reads the algorithm name string leading a public-key or
// signature blob.
func leadingName(blob []byte) (string, bool) {
	name, err := wire.NewReader(blob).UTF8String()
	if err != nil {
		return "", false
	}
	return name, true
}

// parseSignatureBlob splits a signature wire blob into its algorithm
// name and inner content, which for ssh-ed25519 is the raw 64-byte
// signature and for ecdsa-sha2-nistp256 is the mpint(r)||mpint(s)
// bytes — exactly the two forms golang.org/x/crypto/ssh's Signature.Blob
// expects for those formats.
func parseSignatureBlob(blob []byte) (name string, content []byte, ok bool) {
	r := wire.NewReader(blob)
	name, err := r.UTF8String()
	if err != nil {
		return "", nil, false
	}
	content, err = r.String()
	if err != nil {
		return "", nil, false
	}
	return name, content, true
}
