package model

import "errors"

// Domain errors. The store converts driver-level errors into these; the API
// layer maps them onto wire error codes.
var (
	ErrActivationNotFound   = errors.New("activation not found")
	ErrApplicationNotFound  = errors.New("application not found")
	ErrMasterKeyPairMissing = errors.New("no master key pair configured for application")

	// ErrInvalidActivationState means the requested operation is not legal in
	// the activation's current status.
	ErrInvalidActivationState = errors.New("operation not allowed in current activation state")

	// ErrActivationExpired covers both genuinely expired activations and the
	// deliberately generic rejection of broken key-exchange attempts.
	ErrActivationExpired = errors.New("activation expired")

	// ErrInvalidInput means a request field is missing or malformed.
	ErrInvalidInput = errors.New("invalid input")

	// ErrInvalidActivationOtp means the activation OTP did not match.
	ErrInvalidActivationOtp = errors.New("invalid activation OTP")

	// ErrCryptoFailure means key material could not be used: parse failure,
	// MAC mismatch, failed ECDH. Distinct from a negative signature
	// verification, which is a regular result and not an error.
	ErrCryptoFailure = errors.New("cryptographic operation failed")

	// ErrGenerationLimit means identifier generation exhausted its retries.
	ErrGenerationLimit = errors.New("unable to generate a unique identifier")

	ErrTokenNotFound       = errors.New("token not found")
	ErrCallbackNotFound    = errors.New("callback not found")
	ErrIntegrationNotFound = errors.New("integration not found")
	ErrDuplicateEntity     = errors.New("entity already exists")

	// ErrConfig means server-side configuration required for the operation is
	// missing, such as the master DB encryption key.
	ErrConfig = errors.New("server configuration error")
)
