package vault

import (
	"bufio"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"encoding/base64"
	"fmt"
	"io"
	"math/big"
	"strings"

	"github.com/tavisrudd/ssh-guard-agent/internal/signer"
)

// Plaintext key-file format, chosen for this vault rather than carried
// over from the teacher (whose keys never touch local disk at all —
// they live behind gpg-agent/YubiKey). Four lines:
//
//	ssh-guard-agent-key-v1 (keyMaterialFormatVersion)
//	algorithm-name
//	comment
//	base64(raw private key material)
const keyMaterialFormatVersion = "ssh-guard-agent-key-v1"

func marshalKeyMaterial(algo signer.KeyAlgorithm, comment string, priv any) ([]byte, error) {
	var raw []byte
	switch k := priv.(type) {
	case ed25519.PrivateKey:
		raw = []byte(k)
	case *ecdsa.PrivateKey:
		raw = k.D.Bytes()
		raw = leftPad(raw, 32)
	default:
		return nil, fmt.Errorf("vault: unsupported private key type %T", priv)
	}
	var b strings.Builder
	fmt.Fprintln(&b, keyMaterialFormatVersion)
	fmt.Fprintln(&b, algo.SSHName())
	fmt.Fprintln(&b, comment)
	fmt.Fprintln(&b, base64.StdEncoding.EncodeToString(raw))
	return []byte(b.String()), nil
}

func parseKeyMaterial(r io.Reader) (keyMaterial, error) {
	scanner := bufio.NewScanner(r)
	lines := make([]string, 0, 4)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return keyMaterial{}, err
	}
	if len(lines) != 4 || lines[0] != keyMaterialFormatVersion {
		return keyMaterial{}, fmt.Errorf("vault: unrecognized key material format")
	}
	algoName, comment, rawB64 := lines[1], lines[2], lines[3]
	algo, ok := signer.AlgorithmFromSSHName(algoName)
	if !ok {
		return keyMaterial{}, fmt.Errorf("vault: unsupported algorithm %q", algoName)
	}
	raw, err := base64.StdEncoding.DecodeString(rawB64)
	if err != nil {
		return keyMaterial{}, fmt.Errorf("vault: decoding key bytes: %w", err)
	}
	switch algo {
	case signer.Ed25519:
		if len(raw) != ed25519.PrivateKeySize {
			return keyMaterial{}, fmt.Errorf("vault: ed25519 private key must be %d bytes, got %d", ed25519.PrivateKeySize, len(raw))
		}
		return keyMaterial{algorithm: algo, comment: comment, ed25519Sk: ed25519.PrivateKey(raw)}, nil
	case signer.EcdsaP256:
		curve := elliptic.P256()
		d := new(big.Int).SetBytes(raw)
		priv := new(ecdsa.PrivateKey)
		priv.Curve = curve
		priv.D = d
		priv.PublicKey.X, priv.PublicKey.Y = curve.ScalarBaseMult(raw)
		return keyMaterial{algorithm: algo, comment: comment, ecdsaSk: priv}, nil
	default:
		return keyMaterial{}, fmt.Errorf("vault: unsupported algorithm %v", algo)
	}
}

func leftPad(b []byte, width int) []byte {
	if len(b) >= width {
		return b
	}
	out := make([]byte, width)
	copy(out[width-len(b):], b)
	return out
}
