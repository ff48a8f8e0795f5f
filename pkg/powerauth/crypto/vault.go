package crypto

// EncryptVaultKey produces the transport-encrypted vault unlock key for an
// activation. The vault encryption key is AES-128-CBC encrypted (PKCS#7,
// zero IV) under the transport key; both keys come from the derived family,
// so the client can decrypt with nothing beyond the shared master secret.
func EncryptVaultKey(keys *KeyFamily) ([]byte, error) {
	return AESEncryptCBC(keys.Transport, ZeroIV, keys.VaultEncryption)
}

// DecryptVaultKey is the client-side inverse of EncryptVaultKey. The server
// uses it only in tests, to assert the round trip.
func DecryptVaultKey(keys *KeyFamily, encrypted []byte) ([]byte, error) {
	return AESDecryptCBC(keys.Transport, ZeroIV, encrypted)
}
