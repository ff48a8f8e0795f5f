// Package crypto implements the cryptographic core of the PowerAuth protocol:
// P-256 key agreement, the KDF family, the symmetric signature scheme, the
// activation envelopes (protocol versions 2 and 3) and the vault key transport.
//
// All byte layouts in this package are protocol surface and must not change:
// public keys are uncompressed SEC1 points (65 bytes), ECDSA signatures are
// DER, derived keys are 16 bytes.
package crypto

import (
	"crypto/ecdh"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"math/big"
)

var (
	// ErrInvalidKey is returned when key material cannot be parsed.
	ErrInvalidKey = errors.New("invalid key material")

	// ErrInvalidSignature is returned when an ECDSA signature fails to verify.
	ErrInvalidSignature = errors.New("invalid ECDSA signature")
)

// GenerateKeyPair generates a new P-256 key pair for ECDH key agreement.
func GenerateKeyPair() (*ecdh.PrivateKey, error) {
	key, err := ecdh.P256().GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("EC key generation failed: %w", err)
	}
	return key, nil
}

// SharedSecret computes the raw ECDH shared secret (the 32-byte X coordinate)
// between a private key and a peer public key.
func SharedSecret(priv *ecdh.PrivateKey, pub *ecdh.PublicKey) ([]byte, error) {
	secret, err := priv.ECDH(pub)
	if err != nil {
		return nil, fmt.Errorf("ECDH failed: %w", err)
	}
	return secret, nil
}

// PublicKeyBytes encodes a public key as an uncompressed SEC1 point (65 bytes).
func PublicKeyBytes(pub *ecdh.PublicKey) []byte {
	return pub.Bytes()
}

// ParsePublicKey parses an uncompressed SEC1 point into a P-256 public key.
func ParsePublicKey(b []byte) (*ecdh.PublicKey, error) {
	pub, err := ecdh.P256().NewPublicKey(b)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	return pub, nil
}

// PrivateKeyBytes encodes a private key as its 32-byte big-endian scalar.
func PrivateKeyBytes(priv *ecdh.PrivateKey) []byte {
	return priv.Bytes()
}

// ParsePrivateKey parses a 32-byte scalar into a P-256 private key.
func ParsePrivateKey(b []byte) (*ecdh.PrivateKey, error) {
	priv, err := ecdh.P256().NewPrivateKey(b)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	return priv, nil
}

// ecdsaPrivateKey lifts a raw P-256 scalar into an ECDSA private key.
func ecdsaPrivateKey(scalar []byte) (*ecdsa.PrivateKey, error) {
	if len(scalar) != 32 {
		return nil, ErrInvalidKey
	}
	d := new(big.Int).SetBytes(scalar)
	if d.Sign() == 0 || d.Cmp(elliptic.P256().Params().N) >= 0 {
		return nil, ErrInvalidKey
	}
	priv := &ecdsa.PrivateKey{D: d}
	priv.Curve = elliptic.P256()
	priv.X, priv.Y = elliptic.P256().ScalarBaseMult(scalar)
	return priv, nil
}

// ecdsaPublicKey lifts an uncompressed SEC1 point into an ECDSA public key.
func ecdsaPublicKey(point []byte) (*ecdsa.PublicKey, error) {
	if len(point) != 65 || point[0] != 0x04 {
		return nil, ErrInvalidKey
	}
	x := new(big.Int).SetBytes(point[1:33])
	y := new(big.Int).SetBytes(point[33:65])
	if !elliptic.P256().IsOnCurve(x, y) {
		return nil, ErrInvalidKey
	}
	return &ecdsa.PublicKey{Curve: elliptic.P256(), X: x, Y: y}, nil
}

// SignData computes the ECDSA P-256 signature (DER) over SHA-256(data) using
// the given raw private key scalar.
func SignData(data, privateKey []byte) ([]byte, error) {
	priv, err := ecdsaPrivateKey(privateKey)
	if err != nil {
		return nil, err
	}
	digest := sha256.Sum256(data)
	sig, err := ecdsa.SignASN1(rand.Reader, priv, digest[:])
	if err != nil {
		return nil, fmt.Errorf("ECDSA signing failed: %w", err)
	}
	return sig, nil
}

// VerifyData verifies a DER-encoded ECDSA P-256 signature over SHA-256(data)
// against the given uncompressed SEC1 public key.
func VerifyData(data, signature, publicKey []byte) (bool, error) {
	pub, err := ecdsaPublicKey(publicKey)
	if err != nil {
		return false, err
	}
	digest := sha256.Sum256(data)
	return ecdsa.VerifyASN1(pub, digest[:], signature), nil
}

// RandomBytes returns n cryptographically secure random bytes.
func RandomBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return nil, fmt.Errorf("random generation failed: %w", err)
	}
	return b, nil
}
