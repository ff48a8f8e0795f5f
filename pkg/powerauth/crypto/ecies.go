package crypto

import (
	"errors"
	"fmt"
)

// ErrMACMismatch is returned when an envelope MAC fails to verify.
var ErrMACMismatch = errors.New("envelope MAC mismatch")

// Envelope is the ECIES-like construction protecting activation payloads in
// protocol version 3. The ephemeral public key is an uncompressed SEC1 point;
// the payload is AES-128-CBC encrypted with a zero IV and authenticated by
// HMAC-SHA-256 over the ciphertext.
type Envelope struct {
	EphemeralPublicKey []byte
	EncryptedData      []byte
	MAC                []byte
}

// envelopeKeys derives the 16-byte encryption key and 16-byte MAC key from
// an ECDH shared secret via the X9.63 KDF with the ephemeral public key as
// shared info.
func envelopeKeys(sharedSecret, ephemeralPublicKey []byte) (encKey, macKey []byte) {
	derived := KDFX963(sharedSecret, ephemeralPublicKey, 32)
	return derived[:16], derived[16:32]
}

// EncryptEnvelope seals data for the holder of the given public key. A fresh
// ephemeral key pair is generated per envelope.
func EncryptEnvelope(recipientPublicKey, data []byte) (*Envelope, error) {
	recipient, err := ParsePublicKey(recipientPublicKey)
	if err != nil {
		return nil, err
	}
	ephemeral, err := GenerateKeyPair()
	if err != nil {
		return nil, err
	}
	shared, err := SharedSecret(ephemeral, recipient)
	if err != nil {
		return nil, err
	}

	ephemeralBytes := PublicKeyBytes(ephemeral.PublicKey())
	encKey, macKey := envelopeKeys(shared, ephemeralBytes)

	encrypted, err := AESEncryptCBC(encKey, ZeroIV, data)
	if err != nil {
		return nil, err
	}
	return &Envelope{
		EphemeralPublicKey: ephemeralBytes,
		EncryptedData:      encrypted,
		MAC:                HMACSHA256(macKey, encrypted),
	}, nil
}

// DecryptEnvelope opens an envelope with the recipient private key. The MAC
// is verified before decryption.
func DecryptEnvelope(recipientPrivateKey []byte, env *Envelope) ([]byte, error) {
	priv, err := ParsePrivateKey(recipientPrivateKey)
	if err != nil {
		return nil, err
	}
	ephemeral, err := ParsePublicKey(env.EphemeralPublicKey)
	if err != nil {
		return nil, err
	}
	shared, err := SharedSecret(priv, ephemeral)
	if err != nil {
		return nil, err
	}

	encKey, macKey := envelopeKeys(shared, env.EphemeralPublicKey)
	if !SecureEquals(HMACSHA256(macKey, env.EncryptedData), env.MAC) {
		return nil, ErrMACMismatch
	}

	data, err := AESDecryptCBC(encKey, ZeroIV, env.EncryptedData)
	if err != nil {
		return nil, fmt.Errorf("envelope decryption failed: %w", err)
	}
	return data, nil
}
