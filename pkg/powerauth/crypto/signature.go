package crypto

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
)

// SignatureType identifies the combination of authentication factors that
// produced a PowerAuth signature.
type SignatureType string

const (
	SignatureTypePossession                  SignatureType = "POSSESSION"
	SignatureTypePossessionKnowledge         SignatureType = "POSSESSION_KNOWLEDGE"
	SignatureTypePossessionBiometry          SignatureType = "POSSESSION_BIOMETRY"
	SignatureTypePossessionKnowledgeBiometry SignatureType = "POSSESSION_KNOWLEDGE_BIOMETRY"
)

// ErrUnknownSignatureType is returned for a signature type outside the four
// supported factor combinations.
var ErrUnknownSignatureType = errors.New("unknown signature type")

// Valid reports whether t is one of the supported factor combinations.
func (t SignatureType) Valid() bool {
	switch t {
	case SignatureTypePossession, SignatureTypePossessionKnowledge,
		SignatureTypePossessionBiometry, SignatureTypePossessionKnowledgeBiometry:
		return true
	}
	return false
}

// FactorKeys selects the factor keys for this signature type from the derived
// key family, in the fixed protocol order possession, knowledge, biometry.
func (t SignatureType) FactorKeys(keys *KeyFamily) ([][]byte, error) {
	switch t {
	case SignatureTypePossession:
		return [][]byte{keys.Possession}, nil
	case SignatureTypePossessionKnowledge:
		return [][]byte{keys.Possession, keys.Knowledge}, nil
	case SignatureTypePossessionBiometry:
		return [][]byte{keys.Possession, keys.Biometry}, nil
	case SignatureTypePossessionKnowledgeBiometry:
		return [][]byte{keys.Possession, keys.Knowledge, keys.Biometry}, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownSignatureType, t)
}

// CtrDataLength is the length of the version 3 hash-chain counter.
const CtrDataLength = 16

// CounterBytesV2 renders the integer counter for the version 2 signature
// base: 16 bytes with the big-endian counter in the low 8.
func CounterBytesV2(counter uint64) []byte {
	out := make([]byte, CtrDataLength)
	binary.BigEndian.PutUint64(out[8:], counter)
	return out
}

// NextCtrData advances the version 3 hash-chain counter by one step:
// ctrData' = SHA-256(ctrData)[0:16].
func NextCtrData(ctrData []byte) []byte {
	digest := sha256.Sum256(ctrData)
	out := make([]byte, CtrDataLength)
	copy(out, digest[:CtrDataLength])
	return out
}

// GenerateCtrData generates a fresh random hash-chain counter seed.
func GenerateCtrData() ([]byte, error) {
	return RandomBytes(CtrDataLength)
}

// SignatureBase builds the canonical signature base string:
// data "&" Base64(ctrBytes) "&" Base64(applicationSecret).
func SignatureBase(data, ctrBytes, applicationSecret []byte) []byte {
	var b strings.Builder
	b.Write(data)
	b.WriteByte('&')
	b.WriteString(base64.StdEncoding.EncodeToString(ctrBytes))
	b.WriteByte('&')
	b.WriteString(base64.StdEncoding.EncodeToString(applicationSecret))
	return []byte(b.String())
}

// ComputeSignature computes the decimalized PowerAuth signature of the base
// string under the given factor keys. Each factor contributes one 8-digit
// group: HMAC-SHA-256(factorKey, base), low 4 bytes as a big-endian integer
// modulo 10^8. Groups are joined with '-'.
func ComputeSignature(base []byte, factorKeys [][]byte) string {
	components := make([]string, len(factorKeys))
	for i, key := range factorKeys {
		mac := HMACSHA256(key, base)
		trunc := binary.BigEndian.Uint32(mac[len(mac)-4:])
		components[i] = fmt.Sprintf("%08d", trunc%100000000)
	}
	return strings.Join(components, "-")
}

// VerifySignatureString compares a received signature against an expected one
// in constant time.
func VerifySignatureString(expected, received string) bool {
	return subtle.ConstantTimeCompare([]byte(expected), []byte(received)) == 1
}
