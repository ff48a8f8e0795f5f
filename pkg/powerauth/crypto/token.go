package crypto

// Token digests authenticate lightweight requests after activation without
// computing a full PowerAuth signature. The digest is HMAC-SHA-256 keyed by
// the token secret over nonce "&" timestamp.

// TokenSecretLength is the length of a token secret in bytes.
const TokenSecretLength = 16

// GenerateTokenSecret generates a fresh random token secret.
func GenerateTokenSecret() ([]byte, error) {
	return RandomBytes(TokenSecretLength)
}

// ComputeTokenDigest computes the token digest for a nonce and a timestamp
// rendered as decimal milliseconds.
func ComputeTokenDigest(tokenSecret, nonce []byte, timestamp string) []byte {
	data := make([]byte, 0, len(nonce)+1+len(timestamp))
	data = append(data, nonce...)
	data = append(data, '&')
	data = append(data, timestamp...)
	return HMACSHA256(tokenSecret, data)
}

// ValidateTokenDigest verifies a token digest in constant time.
func ValidateTokenDigest(tokenSecret, nonce []byte, timestamp string, digest []byte) bool {
	return SecureEquals(ComputeTokenDigest(tokenSecret, nonce, timestamp), digest)
}
