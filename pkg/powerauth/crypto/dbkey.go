package crypto

import (
	"errors"
	"fmt"
)

// Server private keys can be stored encrypted at rest. The per-record key is
// derived from a server-wide secret and the (userID, activationID) pair, so a
// leaked database row cannot be decrypted without the server secret and a
// copied row cannot be re-bound to another activation.

// EncryptionMode selects how the server private key column is protected.
type EncryptionMode string

const (
	// EncryptionModeNone stores the private key unencrypted.
	EncryptionModeNone EncryptionMode = "NO_ENCRYPTION"
	// EncryptionModeAESHMAC stores the key AES-128-CBC encrypted with an
	// HMAC-SHA-256 tag (encrypt-then-MAC).
	EncryptionModeAESHMAC EncryptionMode = "AES_HMAC"
)

// ErrRecordKeyInvalid is returned when an encrypted record fails MAC
// verification or is structurally malformed.
var ErrRecordKeyInvalid = errors.New("encrypted server private key is invalid")

// recordKeys derives the per-record encryption and MAC keys.
func recordKeys(masterDBKey []byte, userID, activationID string) (encKey, macKey []byte) {
	context := []byte(userID + "&" + activationID)
	base := HMACSHA256(masterDBKey, context)
	return KDFInternal(base, 1), KDFInternal(base, 2)
}

// EncryptServerPrivateKey seals a raw server private key for storage.
// Layout: IV (16) || ciphertext || MAC (32), MAC over IV || ciphertext.
func EncryptServerPrivateKey(privateKey, masterDBKey []byte, userID, activationID string) ([]byte, error) {
	if len(masterDBKey) == 0 {
		return nil, fmt.Errorf("master DB encryption key is not configured")
	}
	encKey, macKey := recordKeys(masterDBKey, userID, activationID)
	iv, err := RandomBytes(16)
	if err != nil {
		return nil, err
	}
	ciphertext, err := AESEncryptCBC(encKey, iv, privateKey)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, len(iv)+len(ciphertext)+32)
	out = append(out, iv...)
	out = append(out, ciphertext...)
	out = append(out, HMACSHA256(macKey, out)...)
	return out, nil
}

// DecryptServerPrivateKey opens a record sealed by EncryptServerPrivateKey.
func DecryptServerPrivateKey(record, masterDBKey []byte, userID, activationID string) ([]byte, error) {
	if len(record) < 16+16+32 {
		return nil, ErrRecordKeyInvalid
	}
	encKey, macKey := recordKeys(masterDBKey, userID, activationID)
	body, mac := record[:len(record)-32], record[len(record)-32:]
	if !SecureEquals(HMACSHA256(macKey, body), mac) {
		return nil, ErrRecordKeyInvalid
	}
	plain, err := AESDecryptCBC(encKey, body[:16], body[16:])
	if err != nil {
		return nil, ErrRecordKeyInvalid
	}
	return plain, nil
}
