package crypto

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/binary"
)

// Derived key indices fixed by the protocol. KDFInternal applied to the
// master secret with these indices yields the per-activation key family.
const (
	KeyIndexMasterSecret        uint64 = 0
	KeyIndexSignaturePossession uint64 = 1
	KeyIndexSignatureKnowledge  uint64 = 2
	KeyIndexSignatureBiometry   uint64 = 3
	KeyIndexTransport           uint64 = 1000
	KeyIndexVaultEncryption     uint64 = 2000
)

// KDFInternal derives a 16-byte subkey from the given key and a 64-bit index:
// HMAC-SHA-256(key, be64(index))[0:16].
func KDFInternal(key []byte, index uint64) []byte {
	var data [8]byte
	binary.BigEndian.PutUint64(data[:], index)
	mac := hmac.New(sha256.New, key)
	mac.Write(data[:])
	return mac.Sum(nil)[:16]
}

// KDFX963 implements the ANSI X9.63 KDF with SHA-256. The shared info is
// mixed into every hash block. Used by the version 3 activation envelope.
func KDFX963(secret, sharedInfo []byte, length int) []byte {
	out := make([]byte, 0, length)
	var counter [4]byte
	for i := uint32(1); len(out) < length; i++ {
		binary.BigEndian.PutUint32(counter[:], i)
		h := sha256.New()
		h.Write(secret)
		h.Write(counter[:])
		h.Write(sharedInfo)
		out = append(out, h.Sum(nil)...)
	}
	return out[:length]
}

// KeyFamily holds the per-activation keys derived from the ECDH shared secret.
type KeyFamily struct {
	MasterSecret    []byte
	Possession      []byte
	Knowledge       []byte
	Biometry        []byte
	Transport       []byte
	VaultEncryption []byte
}

// DeriveKeyFamily derives the full key family from a raw ECDH shared secret.
func DeriveKeyFamily(sharedSecret []byte) *KeyFamily {
	master := KDFInternal(sharedSecret, KeyIndexMasterSecret)
	return &KeyFamily{
		MasterSecret:    master,
		Possession:      KDFInternal(master, KeyIndexSignaturePossession),
		Knowledge:       KDFInternal(master, KeyIndexSignatureKnowledge),
		Biometry:        KDFInternal(master, KeyIndexSignatureBiometry),
		Transport:       KDFInternal(master, KeyIndexTransport),
		VaultEncryption: KDFInternal(master, KeyIndexVaultEncryption),
	}
}

// Destroy zeros all key material in the family.
func (f *KeyFamily) Destroy() {
	if f == nil {
		return
	}
	clear(f.MasterSecret)
	clear(f.Possession)
	clear(f.Knowledge)
	clear(f.Biometry)
	clear(f.Transport)
	clear(f.VaultEncryption)
}
