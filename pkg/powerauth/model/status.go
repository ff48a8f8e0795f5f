// Package model defines the persistent entities of the PowerAuth server and
// the domain errors shared between the store, the service layer and the API.
package model

// ActivationStatus is the lifecycle state of an activation record.
type ActivationStatus string

const (
	// StatusCreated means the activation was initialized but no device has
	// completed key exchange yet.
	StatusCreated ActivationStatus = "CREATED"
	// StatusPendingCommit means key exchange succeeded and the activation
	// awaits server-side commit. Historically named OTP_USED.
	StatusPendingCommit ActivationStatus = "PENDING_COMMIT"
	// StatusActive means the activation is committed and signatures verify.
	StatusActive ActivationStatus = "ACTIVE"
	// StatusBlocked means the activation is temporarily disabled, either by
	// an operator or by exceeding the failed attempt limit.
	StatusBlocked ActivationStatus = "BLOCKED"
	// StatusRemoved is the terminal state. Key material is tombstoned.
	StatusRemoved ActivationStatus = "REMOVED"
)

// Valid reports whether s is a known status.
func (s ActivationStatus) Valid() bool {
	switch s {
	case StatusCreated, StatusPendingCommit, StatusActive, StatusBlocked, StatusRemoved:
		return true
	}
	return false
}

// Terminal reports whether the status permits no further transitions.
func (s ActivationStatus) Terminal() bool {
	return s == StatusRemoved
}

// OtpValidation selects when the activation OTP is verified during
// provisioning. The mode is frozen at init.
type OtpValidation string

const (
	OtpValidationNone          OtpValidation = "NONE"
	OtpValidationOnKeyExchange OtpValidation = "ON_KEY_EXCHANGE"
	OtpValidationOnCommit      OtpValidation = "ON_COMMIT"
)

// Valid reports whether v is a known OTP validation mode.
func (v OtpValidation) Valid() bool {
	switch v {
	case OtpValidationNone, OtpValidationOnKeyExchange, OtpValidationOnCommit:
		return true
	}
	return false
}

// BlockedReasonMaxFailedAttempts is recorded when the signature engine blocks
// an activation for exceeding the failed attempt limit.
const BlockedReasonMaxFailedAttempts = "MAX_FAILED_ATTEMPTS"
