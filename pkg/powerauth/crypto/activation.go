package crypto

import (
	"crypto/rand"
	"crypto/sha1"
	"encoding/base64"
	"fmt"
	"math/big"
	"strings"

	"golang.org/x/crypto/pbkdf2"
)

// base32Alphabet is the RFC 4648 Base32 alphabet without padding, used for
// activation codes. The last symbol of a version 3 code is a Luhn mod 32
// checksum over the preceding 19 symbols in this alphabet.
const base32Alphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ234567"

// ActivationCodeLength is the number of Base32 symbols in a version 3
// activation code (excluding group separators).
const ActivationCodeLength = 20

// GenerateActivationCode generates a version 3 activation code:
// 4 groups of 5 Base32 symbols, the last symbol a checksum.
// Format: XXXXX-XXXXX-XXXXX-XXXXX.
func GenerateActivationCode() (string, error) {
	symbols := make([]byte, ActivationCodeLength)
	for i := 0; i < ActivationCodeLength-1; i++ {
		n, err := rand.Int(rand.Reader, big.NewInt(int64(len(base32Alphabet))))
		if err != nil {
			return "", fmt.Errorf("random generation failed: %w", err)
		}
		symbols[i] = base32Alphabet[n.Int64()]
	}
	symbols[ActivationCodeLength-1] = base32Alphabet[luhnMod32Checksum(symbols[:ActivationCodeLength-1])]
	return formatActivationCode(symbols), nil
}

// ValidateActivationCode checks the structure and checksum of a version 3
// activation code.
func ValidateActivationCode(code string) bool {
	groups := strings.Split(code, "-")
	if len(groups) != 4 {
		return false
	}
	var symbols []byte
	for _, g := range groups {
		if len(g) != 5 {
			return false
		}
		for i := 0; i < len(g); i++ {
			if strings.IndexByte(base32Alphabet, g[i]) < 0 {
				return false
			}
		}
		symbols = append(symbols, g...)
	}
	expected := base32Alphabet[luhnMod32Checksum(symbols[:ActivationCodeLength-1])]
	return symbols[ActivationCodeLength-1] == expected
}

// luhnMod32Checksum computes the Luhn mod N check digit (N=32) over the
// given symbols in the Base32 alphabet.
func luhnMod32Checksum(symbols []byte) int {
	n := len(base32Alphabet)
	factor := 2
	sum := 0
	for i := len(symbols) - 1; i >= 0; i-- {
		code := strings.IndexByte(base32Alphabet, symbols[i])
		addend := factor * code
		if factor == 2 {
			factor = 1
		} else {
			factor = 2
		}
		sum += addend/n + addend%n
	}
	return (n - sum%n) % n
}

func formatActivationCode(symbols []byte) string {
	return string(symbols[0:5]) + "-" + string(symbols[5:10]) + "-" +
		string(symbols[10:15]) + "-" + string(symbols[15:20])
}

// GenerateActivationIDShort generates a version 2 short activation identifier:
// 2 groups of 5 Base32 symbols (XXXXX-XXXXX), no checksum.
func GenerateActivationIDShort() (string, error) {
	return randomBase32Groups(2)
}

// GenerateActivationOTPV2 generates a version 2 activation OTP in the same
// XXXXX-XXXXX layout as the short identifier.
func GenerateActivationOTPV2() (string, error) {
	return randomBase32Groups(2)
}

func randomBase32Groups(groups int) (string, error) {
	parts := make([]string, groups)
	for g := 0; g < groups; g++ {
		var sb strings.Builder
		for i := 0; i < 5; i++ {
			n, err := rand.Int(rand.Reader, big.NewInt(int64(len(base32Alphabet))))
			if err != nil {
				return "", fmt.Errorf("random generation failed: %w", err)
			}
			sb.WriteByte(base32Alphabet[n.Int64()])
		}
		parts[g] = sb.String()
	}
	return strings.Join(parts, "-"), nil
}

// SignActivationData computes the ECDSA activation signature over the
// advertised activation data (code, or short id and OTP for version 2) by
// the application master private key.
func SignActivationData(activationData string, masterPrivateKey []byte) ([]byte, error) {
	return SignData([]byte(activationData), masterPrivateKey)
}

// v2 activation envelope
//
// The device public key travels AES-128-CBC encrypted under two stacked keys:
// an OTP-based key derived with PBKDF2 from the activation OTP salted by the
// short activation identifier, and (outermost) an ephemeral key agreed
// between the client ephemeral key pair and the application master key pair.
// The activation nonce doubles as CBC IV for both layers.

const pbkdf2Iterations = 10000

// deriveOTPKey derives the 16-byte OTP-based envelope key.
func deriveOTPKey(activationOTP, activationIDShort string) []byte {
	return pbkdf2.Key([]byte(activationOTP), []byte(activationIDShort), pbkdf2Iterations, 16, sha1.New)
}

// deriveEphemeralKey reduces an ECDH shared secret to a 16-byte envelope key.
func deriveEphemeralKey(sharedSecret []byte) []byte {
	return KDFInternal(sharedSecret, KeyIndexMasterSecret)
}

// DecryptDevicePublicKeyV2 unwraps the version 2 encrypted device public key.
// The ephemeral layer is only present when ephemeralPublicKey is non-nil.
func DecryptDevicePublicKeyV2(cDevicePublicKey []byte, activationIDShort string, masterPrivateKey []byte, ephemeralPublicKey []byte, activationOTP string, activationNonce []byte) ([]byte, error) {
	data := cDevicePublicKey

	if ephemeralPublicKey != nil {
		masterPriv, err := ParsePrivateKey(masterPrivateKey)
		if err != nil {
			return nil, err
		}
		ephPub, err := ParsePublicKey(ephemeralPublicKey)
		if err != nil {
			return nil, err
		}
		shared, err := SharedSecret(masterPriv, ephPub)
		if err != nil {
			return nil, err
		}
		data, err = AESDecryptCBC(deriveEphemeralKey(shared), activationNonce, data)
		if err != nil {
			return nil, err
		}
	}

	return AESDecryptCBC(deriveOTPKey(activationOTP, activationIDShort), activationNonce, data)
}

// EncryptServerPublicKeyV2 wraps the server public key for the version 2
// activation response. The layering mirrors DecryptDevicePublicKeyV2: the
// OTP-based key is applied first, then an ephemeral key agreed between the
// server-generated ephemeral private key and the device public key.
func EncryptServerPublicKeyV2(serverPublicKey []byte, devicePublicKey []byte, ephemeralPrivateKey []byte, activationOTP, activationIDShort string, activationNonce []byte) ([]byte, error) {
	inner, err := AESEncryptCBC(deriveOTPKey(activationOTP, activationIDShort), activationNonce, serverPublicKey)
	if err != nil {
		return nil, err
	}

	ephPriv, err := ParsePrivateKey(ephemeralPrivateKey)
	if err != nil {
		return nil, err
	}
	devicePub, err := ParsePublicKey(devicePublicKey)
	if err != nil {
		return nil, err
	}
	shared, err := SharedSecret(ephPriv, devicePub)
	if err != nil {
		return nil, err
	}
	return AESEncryptCBC(deriveEphemeralKey(shared), activationNonce, inner)
}

// ValidateApplicationSignature checks the version 2 application signature:
// HMAC-SHA-256 keyed by the application secret over
// identity "&" Base64(nonce) "&" Base64(C_devicePublicKey) "&" Base64(applicationKey).
func ValidateApplicationSignature(identity string, activationNonce, cDevicePublicKey, applicationKey, applicationSecret, signature []byte) bool {
	base := identity + "&" +
		base64.StdEncoding.EncodeToString(activationNonce) + "&" +
		base64.StdEncoding.EncodeToString(cDevicePublicKey) + "&" +
		base64.StdEncoding.EncodeToString(applicationKey)
	expected := HMACSHA256(applicationSecret, []byte(base))
	return SecureEquals(expected, signature)
}

// ComputeServerDataSignature signs the encrypted server public key for the
// version 2 activation response: ECDSA by the master private key over
// activationID "&" Base64(C_serverPublicKey).
func ComputeServerDataSignature(activationID string, cServerPublicKey, masterPrivateKey []byte) ([]byte, error) {
	base := activationID + "&" + base64.StdEncoding.EncodeToString(cServerPublicKey)
	return SignData([]byte(base), masterPrivateKey)
}
