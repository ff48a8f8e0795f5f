package model

import (
	"time"
)

// Activation is the aggregate root binding a device to a user. It carries
// the server key pair, the device public key once key exchange completes,
// and the counter state the signature engine advances.
//
// All mutations of counter, failed attempt and status fields must go through
// the store's for-update transaction so that concurrent verifications
// serialize per activation.
type Activation struct {
	ActivationID string `gorm:"column:activation_id;primaryKey;size:37"`

	// ActivationCode is the v3 code (XXXXX-XXXXX-XXXXX-XXXXX) handed to the
	// client. Unique among records in CREATED or PENDING_COMMIT.
	ActivationCode string `gorm:"column:activation_code;size:23;index"`

	// ActivationIDShort is the v2 short identifier (XXXXX-XXXXX). Empty for
	// v3 records.
	ActivationIDShort string `gorm:"column:activation_id_short;size:11;index"`

	ActivationName *string `gorm:"column:activation_name;size:255"`
	Extras         *string `gorm:"column:extras;size:255"`

	UserID        string `gorm:"column:user_id;size:255;not null;index"`
	ApplicationID uint   `gorm:"column:application_id;not null;index"`

	// MasterKeyPairID snapshots the master key pair in force at creation.
	// It never follows later rotations.
	MasterKeyPairID uint `gorm:"column:master_keypair_id;not null"`

	// ServerPublicKey is the Base64 SEC1 point. ServerPrivateKey is Base64 of
	// either the raw scalar or the AES_HMAC-sealed record, depending on
	// ServerPrivateKeyEncryption.
	ServerPublicKey            *string `gorm:"column:server_public_key"`
	ServerPrivateKey           *string `gorm:"column:server_private_key"`
	ServerPrivateKeyEncryption string  `gorm:"column:server_private_key_encryption;size:32;default:NO_ENCRYPTION"`

	// DevicePublicKey is NULL exactly while the record is in CREATED.
	DevicePublicKey *string `gorm:"column:device_public_key"`

	// Counter advances on every signature verification attempt, including
	// failed ones. CtrData is the v3 hash-chain counter advancing in
	// lockstep, stored Base64.
	Counter uint64  `gorm:"column:counter;not null;default:0"`
	CtrData *string `gorm:"column:ctr_data;size:32"`

	FailedAttempts    uint32 `gorm:"column:failed_attempts;not null;default:0"`
	MaxFailedAttempts uint32 `gorm:"column:max_failed_attempts;not null;default:5"`

	ActivationStatus ActivationStatus `gorm:"column:activation_status;size:16;not null;index"`
	BlockedReason    *string          `gorm:"column:blocked_reason;size:255"`

	ActivationOtp           *string       `gorm:"column:activation_otp;size:255"`
	ActivationOtpValidation OtpValidation `gorm:"column:activation_otp_validation;size:16;not null;default:NONE"`

	// Version is the protocol generation (2 or 3), frozen at init.
	Version int `gorm:"column:version;not null;default:3"`

	ActivationFlags []string `gorm:"column:activation_flags;serializer:json"`

	TimestampCreated          time.Time `gorm:"column:timestamp_created;not null"`
	TimestampActivationExpire time.Time `gorm:"column:timestamp_activation_expire;not null"`
	TimestampLastUsed         time.Time `gorm:"column:timestamp_last_used;not null"`
}

// TableName returns the table name for Activation.
func (Activation) TableName() string { return "pa_activation" }

// Expired reports whether the activation passed its key-exchange deadline at
// the given time. Only meaningful for CREATED and PENDING_COMMIT records.
func (a *Activation) Expired(now time.Time) bool {
	return now.After(a.TimestampActivationExpire)
}

// Pending reports whether the record is still in a pre-commit state.
func (a *Activation) Pending() bool {
	return a.ActivationStatus == StatusCreated || a.ActivationStatus == StatusPendingCommit
}

// Tombstone clears all key material and codes. Called on transition to
// REMOVED; the cleared fields are never reconstructed.
func (a *Activation) Tombstone() {
	a.ServerPublicKey = nil
	a.ServerPrivateKey = nil
	a.DevicePublicKey = nil
	a.CtrData = nil
	a.ActivationOtp = nil
	a.ActivationCode = ""
	a.ActivationIDShort = ""
}

// Application groups versions, master key pairs and callback URLs.
type Application struct {
	ID   uint   `gorm:"column:id;primaryKey;autoIncrement"`
	Name string `gorm:"column:name;size:255;uniqueIndex;not null"`

	Versions []ApplicationVersion `gorm:"foreignKey:ApplicationID"`
}

// TableName returns the table name for Application.
func (Application) TableName() string { return "pa_application" }

// ApplicationVersion carries the credentials a client presents: the
// application key identifies the version, the secret feeds the signature
// base. Both are 16 random bytes stored Base64.
type ApplicationVersion struct {
	ID            uint   `gorm:"column:id;primaryKey;autoIncrement"`
	ApplicationID uint   `gorm:"column:application_id;not null;index"`
	Name          string `gorm:"column:name;size:255;not null"`

	ApplicationKey    string `gorm:"column:application_key;size:32;uniqueIndex;not null"`
	ApplicationSecret string `gorm:"column:application_secret;size:32;not null"`
	Supported         bool   `gorm:"column:supported;not null;default:true"`
}

// TableName returns the table name for ApplicationVersion.
func (ApplicationVersion) TableName() string { return "pa_application_version" }

// MasterKeyPair is the application-wide long-term key pair. Only the newest
// per application signs new activations; older ones stay valid for records
// that snapshot them.
type MasterKeyPair struct {
	ID            uint   `gorm:"column:id;primaryKey;autoIncrement"`
	ApplicationID uint   `gorm:"column:application_id;not null;index"`
	Name          string `gorm:"column:name;size:255"`

	MasterKeyPublic  string `gorm:"column:master_key_public;not null"`
	MasterKeyPrivate string `gorm:"column:master_key_private;not null"`

	TimestampCreated time.Time `gorm:"column:timestamp_created;not null"`
}

// TableName returns the table name for MasterKeyPair.
func (MasterKeyPair) TableName() string { return "pa_master_keypair" }

// SignatureAudit is the append-only log of signature verification attempts.
type SignatureAudit struct {
	ID            uint   `gorm:"column:id;primaryKey;autoIncrement"`
	ActivationID  string `gorm:"column:activation_id;size:37;not null;index"`
	ApplicationID uint   `gorm:"column:application_id;not null"`
	UserID        string `gorm:"column:user_id;size:255;not null"`

	SignatureType string `gorm:"column:signature_type;size:255;not null"`
	// DataFingerprint is Base64(SHA-256(data)); raw request data never lands
	// in the audit log.
	DataFingerprint  string    `gorm:"column:data_fingerprint;size:64;not null"`
	Valid            bool      `gorm:"column:valid;not null"`
	Note             string    `gorm:"column:note;size:255"`
	Counter          uint64    `gorm:"column:counter;not null"`
	ActivationStatus string    `gorm:"column:activation_status;size:16"`
	TimestampCreated time.Time `gorm:"column:timestamp_created;not null;index"`
}

// TableName returns the table name for SignatureAudit.
func (SignatureAudit) TableName() string { return "pa_signature_audit" }

// ActivationHistory is the append-only log of status transitions.
type ActivationHistory struct {
	ID           uint             `gorm:"column:id;primaryKey;autoIncrement"`
	ActivationID string           `gorm:"column:activation_id;size:37;not null;index"`
	Status       ActivationStatus `gorm:"column:activation_status;size:16;not null"`
	// ExternalUserID identifies the admin caller for operator-driven
	// transitions; nil for protocol-driven ones.
	ExternalUserID   *string   `gorm:"column:external_user_id;size:255"`
	TimestampCreated time.Time `gorm:"column:timestamp_created;not null;index"`
}

// TableName returns the table name for ActivationHistory.
func (ActivationHistory) TableName() string { return "pa_activation_history" }

// CallbackURL registers an outbound notification target for activation
// status changes within an application.
type CallbackURL struct {
	ID            string `gorm:"column:id;primaryKey;size:37"`
	ApplicationID uint   `gorm:"column:application_id;not null;index"`
	Name          string `gorm:"column:name;size:255;not null"`
	CallbackURL   string `gorm:"column:callback_url;size:1024;not null"`
}

// TableName returns the table name for CallbackURL.
func (CallbackURL) TableName() string { return "pa_callback_url" }

// Integration holds HTTP Basic credentials for admin callers. The secret is
// stored bcrypt-hashed.
type Integration struct {
	ID               string `gorm:"column:id;primaryKey;size:37"`
	Name             string `gorm:"column:name;size:255;uniqueIndex;not null"`
	ClientToken      string `gorm:"column:client_token;size:37;uniqueIndex;not null"`
	ClientSecretHash string `gorm:"column:client_secret_hash;not null"`
}

// TableName returns the table name for Integration.
func (Integration) TableName() string { return "pa_integration" }

// Token is a lightweight authentication token issued against an active
// activation.
type Token struct {
	ID            string `gorm:"column:token_id;primaryKey;size:37"`
	ActivationID  string `gorm:"column:activation_id;size:37;not null;index"`
	TokenSecret   string `gorm:"column:token_secret;size:32;not null"`
	SignatureType string `gorm:"column:signature_type;size:255;not null"`

	TimestampCreated time.Time `gorm:"column:timestamp_created;not null"`
}

// TableName returns the table name for Token.
func (Token) TableName() string { return "pa_token" }

// AllModels returns every entity for migration.
func AllModels() []any {
	return []any{
		&Activation{},
		&Application{},
		&ApplicationVersion{},
		&MasterKeyPair{},
		&SignatureAudit{},
		&ActivationHistory{},
		&CallbackURL{},
		&Integration{},
		&Token{},
	}
}
