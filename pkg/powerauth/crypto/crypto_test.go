package crypto

import (
	"bytes"
	"encoding/base64"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKDFInternal(t *testing.T) {
	key := []byte("0123456789abcdef")

	t.Run("deterministic", func(t *testing.T) {
		a := KDFInternal(key, 1)
		b := KDFInternal(key, 1)
		assert.Equal(t, a, b)
	})

	t.Run("16 bytes", func(t *testing.T) {
		assert.Len(t, KDFInternal(key, 0), 16)
		assert.Len(t, KDFInternal(key, 2000), 16)
	})

	t.Run("distinct per index", func(t *testing.T) {
		seen := map[string]bool{}
		for _, idx := range []uint64{0, 1, 2, 3, 1000, 2000} {
			derived := string(KDFInternal(key, idx))
			assert.False(t, seen[derived], "index %d collided", idx)
			seen[derived] = true
		}
	})

	t.Run("distinct per key", func(t *testing.T) {
		other := []byte("fedcba9876543210")
		assert.NotEqual(t, KDFInternal(key, 1), KDFInternal(other, 1))
	})
}

func TestDeriveKeyFamily(t *testing.T) {
	shared := bytes.Repeat([]byte{0x42}, 32)
	family := DeriveKeyFamily(shared)

	assert.Equal(t, KDFInternal(shared, KeyIndexMasterSecret), family.MasterSecret)
	assert.Equal(t, KDFInternal(family.MasterSecret, KeyIndexSignaturePossession), family.Possession)
	assert.Equal(t, KDFInternal(family.MasterSecret, KeyIndexTransport), family.Transport)
	assert.Equal(t, KDFInternal(family.MasterSecret, KeyIndexVaultEncryption), family.VaultEncryption)
}

func TestKDFX963(t *testing.T) {
	secret := []byte("shared-secret")
	info := []byte("info")

	out := KDFX963(secret, info, 32)
	assert.Len(t, out, 32)
	assert.Equal(t, out, KDFX963(secret, info, 32))

	// Longer output extends, it does not recompute
	long := KDFX963(secret, info, 48)
	assert.Equal(t, out, long[:32])

	assert.NotEqual(t, out, KDFX963(secret, []byte("other"), 32))
}

func TestAESCBCRoundTrip(t *testing.T) {
	key := bytes.Repeat([]byte{0x01}, 16)
	iv := bytes.Repeat([]byte{0x02}, 16)

	for _, size := range []int{0, 1, 15, 16, 17, 100} {
		plaintext := bytes.Repeat([]byte{0xAB}, size)
		ciphertext, err := AESEncryptCBC(key, iv, plaintext)
		require.NoError(t, err)
		assert.Zero(t, len(ciphertext)%16)

		decrypted, err := AESDecryptCBC(key, iv, ciphertext)
		require.NoError(t, err)
		assert.Equal(t, plaintext, decrypted)
	}
}

func TestAESCBCWrongKey(t *testing.T) {
	key := bytes.Repeat([]byte{0x01}, 16)
	iv := bytes.Repeat([]byte{0x02}, 16)
	ciphertext, err := AESEncryptCBC(key, iv, []byte("some payload"))
	require.NoError(t, err)

	wrong := bytes.Repeat([]byte{0x03}, 16)
	decrypted, err := AESDecryptCBC(wrong, iv, ciphertext)
	if err == nil {
		// Garbage padding may accidentally validate; the plaintext must differ.
		assert.NotEqual(t, []byte("some payload"), decrypted)
	}
}

func TestKeyRoundTrip(t *testing.T) {
	priv, err := GenerateKeyPair()
	require.NoError(t, err)

	pubBytes := PublicKeyBytes(priv.PublicKey())
	assert.Len(t, pubBytes, 65)
	assert.Equal(t, byte(0x04), pubBytes[0])

	parsedPub, err := ParsePublicKey(pubBytes)
	require.NoError(t, err)
	assert.Equal(t, pubBytes, PublicKeyBytes(parsedPub))

	privBytes := PrivateKeyBytes(priv)
	parsedPriv, err := ParsePrivateKey(privBytes)
	require.NoError(t, err)
	assert.Equal(t, privBytes, PrivateKeyBytes(parsedPriv))
}

func TestSharedSecretAgreement(t *testing.T) {
	alice, err := GenerateKeyPair()
	require.NoError(t, err)
	bob, err := GenerateKeyPair()
	require.NoError(t, err)

	ab, err := SharedSecret(alice, bob.PublicKey())
	require.NoError(t, err)
	ba, err := SharedSecret(bob, alice.PublicKey())
	require.NoError(t, err)

	assert.Equal(t, ab, ba)
	assert.Len(t, ab, 32)
}

func TestSignAndVerifyData(t *testing.T) {
	priv, err := GenerateKeyPair()
	require.NoError(t, err)
	privBytes := PrivateKeyBytes(priv)
	pubBytes := PublicKeyBytes(priv.PublicKey())

	data := []byte("operation approval payload")
	sig, err := SignData(data, privBytes)
	require.NoError(t, err)

	ok, err := VerifyData(data, sig, pubBytes)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = VerifyData([]byte("tampered"), sig, pubBytes)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestActivationCode(t *testing.T) {
	t.Run("format and checksum", func(t *testing.T) {
		code, err := GenerateActivationCode()
		require.NoError(t, err)

		groups := strings.Split(code, "-")
		require.Len(t, groups, 4)
		for _, g := range groups {
			assert.Len(t, g, 5)
		}
		assert.True(t, ValidateActivationCode(code))
	})

	t.Run("tampered code fails checksum", func(t *testing.T) {
		code, err := GenerateActivationCode()
		require.NoError(t, err)

		raw := []byte(code)
		orig := raw[0]
		for _, c := range []byte(base32Alphabet) {
			if c != orig {
				raw[0] = c
				break
			}
		}
		assert.False(t, ValidateActivationCode(string(raw)))
	})

	t.Run("malformed layouts rejected", func(t *testing.T) {
		assert.False(t, ValidateActivationCode(""))
		assert.False(t, ValidateActivationCode("ABCDE-FGHIJ"))
		assert.False(t, ValidateActivationCode("abcde-fghij-klmno-pqrst"))
		assert.False(t, ValidateActivationCode("ABCDE-FGHIJ-KLMNO-PQRS1"))
	})
}

func TestShortIDAndOTPFormat(t *testing.T) {
	short, err := GenerateActivationIDShort()
	require.NoError(t, err)
	assert.Regexp(t, `^[A-Z2-7]{5}-[A-Z2-7]{5}$`, short)

	otp, err := GenerateActivationOTPV2()
	require.NoError(t, err)
	assert.Regexp(t, `^[A-Z2-7]{5}-[A-Z2-7]{5}$`, otp)
}

func TestV2EnvelopeRoundTrip(t *testing.T) {
	master, err := GenerateKeyPair()
	require.NoError(t, err)
	device, err := GenerateKeyPair()
	require.NoError(t, err)
	clientEphemeral, err := GenerateKeyPair()
	require.NoError(t, err)

	idShort := "AAAAA-BBBBB"
	otp := "CCCCC-DDDDD"
	nonce := bytes.Repeat([]byte{0x11}, 16)
	devicePubBytes := PublicKeyBytes(device.PublicKey())

	// Client side: OTP layer, then ephemeral layer against the master public key.
	shared, err := SharedSecret(clientEphemeral, master.PublicKey())
	require.NoError(t, err)
	inner, err := AESEncryptCBC(deriveOTPKey(otp, idShort), nonce, devicePubBytes)
	require.NoError(t, err)
	cDevicePub, err := AESEncryptCBC(deriveEphemeralKey(shared), nonce, inner)
	require.NoError(t, err)

	decrypted, err := DecryptDevicePublicKeyV2(
		cDevicePub, idShort, PrivateKeyBytes(master),
		PublicKeyBytes(clientEphemeral.PublicKey()), otp, nonce)
	require.NoError(t, err)
	assert.Equal(t, devicePubBytes, decrypted)
}

func TestEncryptServerPublicKeyV2ClientDecrypt(t *testing.T) {
	device, err := GenerateKeyPair()
	require.NoError(t, err)
	serverEphemeral, err := GenerateKeyPair()
	require.NoError(t, err)
	server, err := GenerateKeyPair()
	require.NoError(t, err)

	idShort := "EEEEE-FFFFF"
	otp := "GGGGG-HHHHH"
	nonce := bytes.Repeat([]byte{0x22}, 16)
	serverPubBytes := PublicKeyBytes(server.PublicKey())

	cServerPub, err := EncryptServerPublicKeyV2(
		serverPubBytes, PublicKeyBytes(device.PublicKey()),
		PrivateKeyBytes(serverEphemeral), otp, idShort, nonce)
	require.NoError(t, err)

	// Client side: peel the ephemeral layer, then the OTP layer.
	shared, err := SharedSecret(device, serverEphemeral.PublicKey())
	require.NoError(t, err)
	inner, err := AESDecryptCBC(deriveEphemeralKey(shared), nonce, cServerPub)
	require.NoError(t, err)
	decrypted, err := AESDecryptCBC(deriveOTPKey(otp, idShort), nonce, inner)
	require.NoError(t, err)
	assert.Equal(t, serverPubBytes, decrypted)
}

func TestApplicationSignature(t *testing.T) {
	appKey := bytes.Repeat([]byte{0x0A}, 16)
	appSecret := bytes.Repeat([]byte{0x0B}, 16)
	nonce := bytes.Repeat([]byte{0x0C}, 16)
	cDevicePub := bytes.Repeat([]byte{0x0D}, 80)

	sig := HMACSHA256(appSecret, []byte("IIIII-JJJJJ&"+
		base64.StdEncoding.EncodeToString(nonce)+"&"+
		base64.StdEncoding.EncodeToString(cDevicePub)+"&"+
		base64.StdEncoding.EncodeToString(appKey)))

	assert.True(t, ValidateApplicationSignature("IIIII-JJJJJ", nonce, cDevicePub, appKey, appSecret, sig))
	assert.False(t, ValidateApplicationSignature("IIIII-JJJJK", nonce, cDevicePub, appKey, appSecret, sig))
	sig[0] ^= 0xFF
	assert.False(t, ValidateApplicationSignature("IIIII-JJJJJ", nonce, cDevicePub, appKey, appSecret, sig))
}

func TestEnvelopeRoundTrip(t *testing.T) {
	recipient, err := GenerateKeyPair()
	require.NoError(t, err)

	payload := []byte(`{"devicePublicKey":"..."}`)
	env, err := EncryptEnvelope(PublicKeyBytes(recipient.PublicKey()), payload)
	require.NoError(t, err)
	assert.Len(t, env.EphemeralPublicKey, 65)
	assert.Len(t, env.MAC, 32)

	opened, err := DecryptEnvelope(PrivateKeyBytes(recipient), env)
	require.NoError(t, err)
	assert.Equal(t, payload, opened)
}

func TestEnvelopeMACTamper(t *testing.T) {
	recipient, err := GenerateKeyPair()
	require.NoError(t, err)

	env, err := EncryptEnvelope(PublicKeyBytes(recipient.PublicKey()), []byte("payload"))
	require.NoError(t, err)
	env.EncryptedData[0] ^= 0x01

	_, err = DecryptEnvelope(PrivateKeyBytes(recipient), env)
	assert.ErrorIs(t, err, ErrMACMismatch)
}

func TestVaultKeyRoundTrip(t *testing.T) {
	family := DeriveKeyFamily(bytes.Repeat([]byte{0x33}, 32))

	encrypted, err := EncryptVaultKey(family)
	require.NoError(t, err)

	decrypted, err := DecryptVaultKey(family, encrypted)
	require.NoError(t, err)
	assert.Equal(t, family.VaultEncryption, decrypted)
}

func TestSignatureComputation(t *testing.T) {
	family := DeriveKeyFamily(bytes.Repeat([]byte{0x44}, 32))

	t.Run("component count follows factor count", func(t *testing.T) {
		base := SignatureBase([]byte("data"), CounterBytesV2(0), []byte("secret"))

		for typ, want := range map[SignatureType]int{
			SignatureTypePossession:                  1,
			SignatureTypePossessionKnowledge:         2,
			SignatureTypePossessionBiometry:          2,
			SignatureTypePossessionKnowledgeBiometry: 3,
		} {
			keys, err := typ.FactorKeys(family)
			require.NoError(t, err)
			sig := ComputeSignature(base, keys)
			groups := strings.Split(sig, "-")
			assert.Len(t, groups, want, "type %s", typ)
			for _, g := range groups {
				assert.Regexp(t, `^\d{8}$`, g)
			}
		}
	})

	t.Run("unknown type rejected", func(t *testing.T) {
		_, err := SignatureType("KNOWLEDGE").FactorKeys(family)
		assert.ErrorIs(t, err, ErrUnknownSignatureType)
	})

	t.Run("base changes with counter", func(t *testing.T) {
		keys, _ := SignatureTypePossession.FactorKeys(family)
		sig0 := ComputeSignature(SignatureBase([]byte("d"), CounterBytesV2(0), []byte("s")), keys)
		sig1 := ComputeSignature(SignatureBase([]byte("d"), CounterBytesV2(1), []byte("s")), keys)
		assert.NotEqual(t, sig0, sig1)
	})
}

func TestCounterBytesV2Layout(t *testing.T) {
	b := CounterBytesV2(0x0102030405060708)
	require.Len(t, b, 16)
	assert.Equal(t, bytes.Repeat([]byte{0}, 8), b[:8])
	assert.Equal(t, []byte{1, 2, 3, 4, 5, 6, 7, 8}, b[8:])
}

func TestCtrDataChain(t *testing.T) {
	seed, err := GenerateCtrData()
	require.NoError(t, err)
	require.Len(t, seed, CtrDataLength)

	next := NextCtrData(seed)
	assert.Len(t, next, CtrDataLength)
	assert.NotEqual(t, seed, next)
	assert.Equal(t, next, NextCtrData(seed))
}

func TestServerPrivateKeyAtRest(t *testing.T) {
	masterDBKey := bytes.Repeat([]byte{0x55}, 16)
	privateKey := bytes.Repeat([]byte{0x66}, 32)

	record, err := EncryptServerPrivateKey(privateKey, masterDBKey, "user-1", "activation-1")
	require.NoError(t, err)

	t.Run("round trip", func(t *testing.T) {
		opened, err := DecryptServerPrivateKey(record, masterDBKey, "user-1", "activation-1")
		require.NoError(t, err)
		assert.Equal(t, privateKey, opened)
	})

	t.Run("bound to user and activation", func(t *testing.T) {
		_, err := DecryptServerPrivateKey(record, masterDBKey, "user-2", "activation-1")
		assert.ErrorIs(t, err, ErrRecordKeyInvalid)
		_, err = DecryptServerPrivateKey(record, masterDBKey, "user-1", "activation-2")
		assert.ErrorIs(t, err, ErrRecordKeyInvalid)
	})

	t.Run("tamper detected", func(t *testing.T) {
		mangled := append([]byte{}, record...)
		mangled[20] ^= 0x01
		_, err := DecryptServerPrivateKey(mangled, masterDBKey, "user-1", "activation-1")
		assert.ErrorIs(t, err, ErrRecordKeyInvalid)
	})

	t.Run("missing master key", func(t *testing.T) {
		_, err := EncryptServerPrivateKey(privateKey, nil, "user-1", "activation-1")
		assert.Error(t, err)
	})
}

func TestTokenDigest(t *testing.T) {
	secret, err := GenerateTokenSecret()
	require.NoError(t, err)
	nonce := bytes.Repeat([]byte{0x77}, 16)

	digest := ComputeTokenDigest(secret, nonce, "1700000000000")
	assert.True(t, ValidateTokenDigest(secret, nonce, "1700000000000", digest))
	assert.False(t, ValidateTokenDigest(secret, nonce, "1700000000001", digest))

	other, err := GenerateTokenSecret()
	require.NoError(t, err)
	assert.False(t, ValidateTokenDigest(other, nonce, "1700000000000", digest))
}
