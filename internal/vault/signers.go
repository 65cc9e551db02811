package vault

import (
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"fmt"

	"github.com/tavisrudd/ssh-guard-agent/internal/pubkey"
	"github.com/tavisrudd/ssh-guard-agent/internal/signer"
	"github.com/tavisrudd/ssh-guard-agent/internal/wire"
)

// ed25519Signer is the software-Ed25519 concrete Signer.
type ed25519Signer struct {
	pub     ed25519.PublicKey
	priv    ed25519.PrivateKey
	comment string
	blob    []byte
}

func newEd25519Signer(priv ed25519.PrivateKey, comment string) (signer.Signer, error) {
	pub := priv.Public().(ed25519.PublicKey)
	blob, err := pubkey.EncodeEd25519PublicKey(pub)
	if err != nil {
		return nil, err
	}
	return &ed25519Signer{pub: pub, priv: priv, comment: comment, blob: blob}, nil
}

func (s *ed25519Signer) Algorithm() signer.KeyAlgorithm { return signer.Ed25519 }
func (s *ed25519Signer) PublicKeyBlob() []byte          { return s.blob }
func (s *ed25519Signer) Comment() string                { return s.comment }
func (s *ed25519Signer) Fingerprint() string            { return pubkey.Fingerprint(s.blob) }

func (s *ed25519Signer) Sign(payload []byte) ([]byte, error) {
	raw := ed25519.Sign(s.priv, payload)
	return pubkey.EncodeEd25519Signature(raw)
}

// ecdsaP256Signer is the software-ECDSA-P256 concrete Signer.
type ecdsaP256Signer struct {
	priv    *ecdsa.PrivateKey
	comment string
	blob    []byte
}

func newECDSAP256Signer(priv *ecdsa.PrivateKey, comment string) (signer.Signer, error) {
	point := elliptic.Marshal(elliptic.P256(), priv.X, priv.Y)
	blob, err := pubkey.EncodeECDSAP256PublicKey(point)
	if err != nil {
		return nil, err
	}
	return &ecdsaP256Signer{priv: priv, comment: comment, blob: blob}, nil
}

func (s *ecdsaP256Signer) Algorithm() signer.KeyAlgorithm { return signer.EcdsaP256 }
func (s *ecdsaP256Signer) PublicKeyBlob() []byte          { return s.blob }
func (s *ecdsaP256Signer) Comment() string                { return s.comment }
func (s *ecdsaP256Signer) Fingerprint() string            { return pubkey.Fingerprint(s.blob) }

func (s *ecdsaP256Signer) Sign(payload []byte) ([]byte, error) {
	digest := sha256.Sum256(payload)
	r, sVal, err := ecdsa.Sign(rand.Reader, s.priv, digest[:])
	if err != nil {
		return nil, fmt.Errorf("vault: ecdsa sign: %w", err)
	}
	rFixed, err := wire.MpintToFixed(r.Bytes(), 32)
	if err != nil {
		return nil, err
	}
	sFixed, err := wire.MpintToFixed(sVal.Bytes(), 32)
	if err != nil {
		return nil, err
	}
	return pubkey.EncodeECDSAP256Signature(append(rFixed, sFixed...))
}
