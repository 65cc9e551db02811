// Package pubkey encodes and decodes the two SSH public-key and
// signature wire formats this agent supports — ssh-ed25519 and
// ecdsa-sha2-nistp256 — and derives fingerprints and authorized_keys
// lines from them.
package pubkey

import (
	"crypto/sha256"
	"encoding/base64"
	"fmt"

	"github.com/tavisrudd/ssh-guard-agent/internal/signer"
	"github.com/tavisrudd/ssh-guard-agent/internal/wire"
)

const (
	NameEd25519     = "ssh-ed25519"
	NameEcdsaP256   = "ecdsa-sha2-nistp256"
	ecdsaCurveName  = "nistp256"
	ed25519KeyLen   = 32
	ed25519SigLen   = 64
	ecdsaPointLen   = 65
	ecdsaCoordWidth = 32
)

// EncodeEd25519PublicKey builds the ssh-ed25519 public-key blob for a
// raw 32-byte public key.
func EncodeEd25519PublicKey(raw []byte) ([]byte, error) {
	if len(raw) != ed25519KeyLen {
		return nil, fmt.Errorf("pubkey: ed25519 public key must be %d bytes, got %d", ed25519KeyLen, len(raw))
	}
	w := wire.NewWriter()
	w.UTF8String(NameEd25519)
	w.String(raw)
	return w.Bytes(), nil
}

// EncodeECDSAP256PublicKey builds the ecdsa-sha2-nistp256 public-key
// blob for a 65-byte uncompressed point (0x04 || X || Y).
func EncodeECDSAP256PublicKey(point []byte) ([]byte, error) {
	if len(point) != ecdsaPointLen || point[0] != 0x04 {
		return nil, fmt.Errorf("pubkey: ecdsa-p256 point must be %d uncompressed bytes", ecdsaPointLen)
	}
	w := wire.NewWriter()
	w.UTF8String(NameEcdsaP256)
	w.UTF8String(ecdsaCurveName)
	w.String(point)
	return w.Bytes(), nil
}

// DecodedPublicKey is the parsed form of a public-key blob: the
// algorithm name together with whichever of RawKey/Point applies.
type DecodedPublicKey struct {
	Algorithm string
	RawKey    []byte // ed25519: 32-byte raw public key
	Point     []byte // ecdsa-p256: 65-byte uncompressed point
}

// DecodePublicKey parses a public-key blob of either supported
// algorithm, or any other name (host keys may be RSA, which this agent
// never verifies but must still be able to name).
func DecodePublicKey(blob []byte) (DecodedPublicKey, error) {
	r := wire.NewReader(blob)
	name, err := r.UTF8String()
	if err != nil {
		return DecodedPublicKey{}, fmt.Errorf("pubkey: algorithm name: %w", err)
	}
	switch name {
	case NameEd25519:
		raw, err := r.String()
		if err != nil {
			return DecodedPublicKey{}, fmt.Errorf("pubkey: ed25519 key: %w", err)
		}
		if len(raw) != ed25519KeyLen {
			return DecodedPublicKey{}, fmt.Errorf("pubkey: ed25519 key must be %d bytes, got %d", ed25519KeyLen, len(raw))
		}
		return DecodedPublicKey{Algorithm: name, RawKey: append([]byte(nil), raw...)}, nil
	case NameEcdsaP256:
		curve, err := r.UTF8String()
		if err != nil {
			return DecodedPublicKey{}, fmt.Errorf("pubkey: ecdsa curve name: %w", err)
		}
		if curve != ecdsaCurveName {
			return DecodedPublicKey{}, fmt.Errorf("pubkey: unexpected ecdsa curve %q", curve)
		}
		point, err := r.String()
		if err != nil {
			return DecodedPublicKey{}, fmt.Errorf("pubkey: ecdsa point: %w", err)
		}
		if len(point) != ecdsaPointLen || point[0] != 0x04 {
			return DecodedPublicKey{}, fmt.Errorf("pubkey: malformed ecdsa-p256 point")
		}
		return DecodedPublicKey{Algorithm: name, Point: append([]byte(nil), point...)}, nil
	default:
		return DecodedPublicKey{Algorithm: name}, nil
	}
}

// EncodeEd25519Signature builds the ssh-ed25519 signature wire form for
// a raw 64-byte signature.
func EncodeEd25519Signature(raw []byte) ([]byte, error) {
	if len(raw) != ed25519SigLen {
		return nil, fmt.Errorf("pubkey: ed25519 signature must be %d bytes, got %d", ed25519SigLen, len(raw))
	}
	w := wire.NewWriter()
	w.UTF8String(NameEd25519)
	w.String(raw)
	return w.Bytes(), nil
}

// EncodeECDSAP256Signature builds the ecdsa-sha2-nistp256 signature wire
// form from the 64-byte raw r‖s representation, rejecting any other
// length with an error rather than guessing at a split point.
func EncodeECDSAP256Signature(rawRS []byte) ([]byte, error) {
	if len(rawRS) != ecdsaCoordWidth*2 {
		return nil, fmt.Errorf("pubkey: ecdsa-p256 signature must be %d bytes, got %d", ecdsaCoordWidth*2, len(rawRS))
	}
	r, s := rawRS[:ecdsaCoordWidth], rawRS[ecdsaCoordWidth:]
	w := wire.NewWriter()
	w.UTF8String(NameEcdsaP256)
	w.Composite(func(inner *wire.Writer) {
		inner.Mpint(r)
		inner.Mpint(s)
	})
	return w.Bytes(), nil
}

// DecodedSignature is the parsed form of a signature wire blob.
type DecodedSignature struct {
	Algorithm string
	RawSig    []byte // ed25519: 64-byte raw signature
	R, S      []byte // ecdsa-p256: fixed-width (32-byte) coordinates
}

// DecodeSignature parses a signature blob of either supported
// algorithm. ECDSA coordinates are normalized to 32 bytes via the
// mpint-to-fixed rule.
func DecodeSignature(blob []byte) (DecodedSignature, error) {
	r := wire.NewReader(blob)
	name, err := r.UTF8String()
	if err != nil {
		return DecodedSignature{}, fmt.Errorf("pubkey: signature algorithm name: %w", err)
	}
	switch name {
	case NameEd25519:
		raw, err := r.String()
		if err != nil {
			return DecodedSignature{}, fmt.Errorf("pubkey: ed25519 signature: %w", err)
		}
		if len(raw) != ed25519SigLen {
			return DecodedSignature{}, fmt.Errorf("pubkey: ed25519 signature must be %d bytes, got %d", ed25519SigLen, len(raw))
		}
		return DecodedSignature{Algorithm: name, RawSig: append([]byte(nil), raw...)}, nil
	case NameEcdsaP256:
		inner, err := r.Composite()
		if err != nil {
			return DecodedSignature{}, fmt.Errorf("pubkey: ecdsa signature body: %w", err)
		}
		rRaw, err := inner.Mpint()
		if err != nil {
			return DecodedSignature{}, fmt.Errorf("pubkey: ecdsa r: %w", err)
		}
		sRaw, err := inner.Mpint()
		if err != nil {
			return DecodedSignature{}, fmt.Errorf("pubkey: ecdsa s: %w", err)
		}
		rFixed, err := wire.MpintToFixed(rRaw, ecdsaCoordWidth)
		if err != nil {
			return DecodedSignature{}, fmt.Errorf("pubkey: ecdsa r: %w", err)
		}
		sFixed, err := wire.MpintToFixed(sRaw, ecdsaCoordWidth)
		if err != nil {
			return DecodedSignature{}, fmt.Errorf("pubkey: ecdsa s: %w", err)
		}
		return DecodedSignature{Algorithm: name, R: rFixed, S: sFixed}, nil
	default:
		return DecodedSignature{Algorithm: name}, nil
	}
}

// Fingerprint derives the "SHA256:<base64, unpadded>" fingerprint of a
// public-key blob.
func Fingerprint(blob []byte) string {
	sum := sha256.Sum256(blob)
	enc := base64.StdEncoding.EncodeToString(sum[:])
	for len(enc) > 0 && enc[len(enc)-1] == '=' {
		enc = enc[:len(enc)-1]
	}
	return "SHA256:" + enc
}

// AuthorizedKeysLine formats blob in authorized_keys form:
// "algorithm_name base64(blob) comment".
func AuthorizedKeysLine(algorithmName string, blob []byte, comment string) string {
	return fmt.Sprintf("%s %s %s", algorithmName, base64.StdEncoding.EncodeToString(blob), comment)
}

// AlgorithmName returns the canonical wire name for a signer.KeyAlgorithm.
func AlgorithmName(a signer.KeyAlgorithm) string { return a.SSHName() }
