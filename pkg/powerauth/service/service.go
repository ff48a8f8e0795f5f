// Package service implements the PowerAuth server operations: activation
// lifecycle, signature verification, vault unlock, tokens and the v2 to v3
// upgrade. Each operation is a method on Service; all activation state
// mutations go through the store's row-locked transaction so concurrent
// requests on one activation serialize.
package service

import (
	"context"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/marmos91/trustd/pkg/metrics"
	"github.com/marmos91/trustd/pkg/powerauth/callback"
	"github.com/marmos91/trustd/pkg/powerauth/crypto"
	"github.com/marmos91/trustd/pkg/powerauth/model"
	"github.com/marmos91/trustd/pkg/powerauth/store"
)

// Config carries the protocol knobs of the service layer.
type Config struct {
	// ActivationValidity bounds the key-exchange window of a new activation.
	ActivationValidity time.Duration

	// SignatureMaxFailedAttempts is the default lockout threshold for new
	// activations.
	SignatureMaxFailedAttempts uint32

	// SignatureValidationLookahead is how far past the stored counter the
	// verification searches for a match.
	SignatureValidationLookahead int

	// ActivationIDIterations and ActivationCodeIterations bound identifier
	// generation retries on collision.
	ActivationIDIterations   int
	ActivationCodeIterations int

	// ServerPrivateKeyEncryption selects how server private keys are stored
	// at rest. AES_HMAC requires MasterDBEncryptionKey.
	ServerPrivateKeyEncryption crypto.EncryptionMode
	MasterDBEncryptionKey      []byte

	// ExpirationSweepInterval is the period of the background expiration
	// sweep.
	ExpirationSweepInterval time.Duration
}

// ApplyDefaults fills in missing configuration with protocol defaults.
func (c *Config) ApplyDefaults() {
	if c.ActivationValidity == 0 {
		c.ActivationValidity = 5 * time.Minute
	}
	if c.SignatureMaxFailedAttempts == 0 {
		c.SignatureMaxFailedAttempts = 5
	}
	if c.SignatureValidationLookahead == 0 {
		c.SignatureValidationLookahead = 20
	}
	if c.ActivationIDIterations == 0 {
		c.ActivationIDIterations = 10
	}
	if c.ActivationCodeIterations == 0 {
		c.ActivationCodeIterations = 10
	}
	if c.ServerPrivateKeyEncryption == "" {
		c.ServerPrivateKeyEncryption = crypto.EncryptionModeNone
	}
	if c.ExpirationSweepInterval == 0 {
		c.ExpirationSweepInterval = time.Minute
	}
}

// Service exposes the PowerAuth server operations.
type Service struct {
	store   *store.Store
	config  Config
	sink    callback.Sink
	metrics *metrics.Metrics

	// now is the clock; replaced in tests.
	now func() time.Time
}

// New creates a service. A nil sink disables callbacks, a nil metrics
// disables instrumentation.
func New(st *store.Store, config Config, sink callback.Sink, m *metrics.Metrics) *Service {
	config.ApplyDefaults()
	if sink == nil {
		sink = callback.NopSink{}
	}
	return &Service{
		store:   st,
		config:  config,
		sink:    sink,
		metrics: m,
		now:     time.Now,
	}
}

// Store exposes the underlying store for the API layer (integration auth,
// callback registration).
func (s *Service) Store() *store.Store { return s.store }

func strPtr(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}

// decodeBase64 decodes a request field, mapping failures onto ErrInvalidInput.
func decodeBase64(field, value string) ([]byte, error) {
	if value == "" {
		return nil, fmt.Errorf("%w: missing %s", model.ErrInvalidInput, field)
	}
	b, err := base64.StdEncoding.DecodeString(value)
	if err != nil {
		return nil, fmt.Errorf("%w: %s is not valid Base64", model.ErrInvalidInput, field)
	}
	return b, nil
}

func encodeBase64(b []byte) string {
	return base64.StdEncoding.EncodeToString(b)
}

// constantTimeEquals compares two OTP strings without leaking the match
// position.
func constantTimeEquals(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// masterKeyPairFor resolves the master key pair snapshotted by the activation.
func (s *Service) masterKeyPairFor(ctx context.Context, a *model.Activation) (*model.MasterKeyPair, error) {
	return s.store.GetMasterKeyPair(ctx, a.MasterKeyPairID)
}

// sealServerPrivateKey prepares the at-rest form of a server private key
// according to the configured encryption mode.
func (s *Service) sealServerPrivateKey(privateKey []byte, userID, activationID string) (string, crypto.EncryptionMode, error) {
	if s.config.ServerPrivateKeyEncryption == crypto.EncryptionModeAESHMAC {
		sealed, err := crypto.EncryptServerPrivateKey(privateKey, s.config.MasterDBEncryptionKey, userID, activationID)
		if err != nil {
			return "", "", fmt.Errorf("%w: %v", model.ErrConfig, err)
		}
		return encodeBase64(sealed), crypto.EncryptionModeAESHMAC, nil
	}
	return encodeBase64(privateKey), crypto.EncryptionModeNone, nil
}

// openServerPrivateKey recovers the raw server private key of an activation,
// honoring the encryption mode recorded on the row.
func (s *Service) openServerPrivateKey(a *model.Activation) ([]byte, error) {
	if a.ServerPrivateKey == nil {
		return nil, model.ErrCryptoFailure
	}
	raw, err := base64.StdEncoding.DecodeString(*a.ServerPrivateKey)
	if err != nil {
		return nil, fmt.Errorf("%w: stored server private key is corrupted", model.ErrCryptoFailure)
	}
	if crypto.EncryptionMode(a.ServerPrivateKeyEncryption) == crypto.EncryptionModeAESHMAC {
		opened, err := crypto.DecryptServerPrivateKey(raw, s.config.MasterDBEncryptionKey, a.UserID, a.ActivationID)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", model.ErrCryptoFailure, err)
		}
		return opened, nil
	}
	return raw, nil
}

// keyFamilyFor derives the per-activation key family from the stored server
// private key and device public key.
func (s *Service) keyFamilyFor(a *model.Activation) (*crypto.KeyFamily, error) {
	if a.DevicePublicKey == nil {
		return nil, model.ErrCryptoFailure
	}
	serverPrivBytes, err := s.openServerPrivateKey(a)
	if err != nil {
		return nil, err
	}
	serverPriv, err := crypto.ParsePrivateKey(serverPrivBytes)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrCryptoFailure, err)
	}
	deviceBytes, err := base64.StdEncoding.DecodeString(*a.DevicePublicKey)
	if err != nil {
		return nil, fmt.Errorf("%w: stored device public key is corrupted", model.ErrCryptoFailure)
	}
	devicePub, err := crypto.ParsePublicKey(deviceBytes)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrCryptoFailure, err)
	}
	shared, err := crypto.SharedSecret(serverPriv, devicePub)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrCryptoFailure, err)
	}
	return crypto.DeriveKeyFamily(shared), nil
}

// transition moves the activation to a new status and appends the history
// entry inside the caller's transaction. The caller must notify after commit.
func (s *Service) transition(ctx context.Context, tx *gorm.DB, a *model.Activation, status model.ActivationStatus, externalUserID *string) error {
	a.ActivationStatus = status
	return s.store.AppendActivationHistory(ctx, tx, &model.ActivationHistory{
		ActivationID:     a.ActivationID,
		Status:           status,
		ExternalUserID:   externalUserID,
		TimestampCreated: s.now(),
	})
}

// notifyTransition records metrics and enqueues the callback for a committed
// status change.
func (s *Service) notifyTransition(applicationID uint, activationID string, status model.ActivationStatus) {
	s.metrics.RecordActivationTransition(string(status))
	s.sink.Notify(applicationID, activationID)
}

// expireLocked tombstones a pending activation whose key-exchange window
// closed. Runs inside the row lock.
func (s *Service) expireLocked(ctx context.Context, tx *gorm.DB, a *model.Activation) error {
	a.Tombstone()
	return s.transition(ctx, tx, a, model.StatusRemoved, nil)
}
