package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/marmos91/trustd/internal/logger"
	"github.com/marmos91/trustd/pkg/powerauth/crypto"
	"github.com/marmos91/trustd/pkg/powerauth/model"
	"github.com/marmos91/trustd/pkg/powerauth/store"
)

// InitActivationRequest starts a new activation for a user.
type InitActivationRequest struct {
	UserID        string
	ApplicationID uint

	// Version pins the protocol generation: 2 or 3. Defaults to 3.
	Version int

	// MaxFailedAttempts overrides the configured lockout threshold.
	MaxFailedAttempts *uint32

	// ActivationExpire overrides the configured key-exchange deadline.
	ActivationExpire *time.Time

	// ActivationOtp with its validation mode configures additional OTP
	// verification during provisioning (version 3 only; version 2 generates
	// its own OTP).
	ActivationOtp           string
	ActivationOtpValidation model.OtpValidation
}

// InitActivationResponse carries the identifiers and signed activation data
// the client needs to complete key exchange.
type InitActivationResponse struct {
	ActivationID string
	UserID       string

	// ActivationCode is set for version 3.
	ActivationCode string

	// ActivationIDShort and ActivationOtp are set for version 2.
	ActivationIDShort string
	ActivationOtp     string

	// ActivationSignature is the Base64 ECDSA signature of the activation
	// data by the application master private key.
	ActivationSignature string
}

// InitActivation creates a CREATED activation record with a fresh server key
// pair and unique identifiers, signed by the newest master key pair of the
// application.
func (s *Service) InitActivation(ctx context.Context, req InitActivationRequest) (*InitActivationResponse, error) {
	if req.UserID == "" {
		return nil, fmt.Errorf("%w: missing userId", model.ErrInvalidInput)
	}
	version := req.Version
	if version == 0 {
		version = 3
	}
	if version != 2 && version != 3 {
		return nil, fmt.Errorf("%w: unsupported activation version %d", model.ErrInvalidInput, version)
	}
	otpValidation := req.ActivationOtpValidation
	if otpValidation == "" {
		otpValidation = model.OtpValidationNone
	}
	if !otpValidation.Valid() {
		return nil, fmt.Errorf("%w: unknown OTP validation mode %q", model.ErrInvalidInput, req.ActivationOtpValidation)
	}
	if otpValidation != model.OtpValidationNone && version == 3 && req.ActivationOtp == "" {
		return nil, fmt.Errorf("%w: OTP validation requires an activation OTP", model.ErrInvalidInput)
	}

	if _, err := s.store.GetApplication(ctx, req.ApplicationID); err != nil {
		return nil, err
	}
	masterKeyPair, err := s.store.LatestMasterKeyPair(ctx, req.ApplicationID)
	if err != nil {
		return nil, err
	}
	masterPrivateKey, err := decodeBase64("master private key", masterKeyPair.MasterKeyPrivate)
	if err != nil {
		return nil, fmt.Errorf("%w: master private key unreadable", model.ErrConfig)
	}

	activationID, err := s.generateActivationID(ctx)
	if err != nil {
		return nil, err
	}

	now := s.now()
	expire := now.Add(s.config.ActivationValidity)
	if req.ActivationExpire != nil {
		expire = *req.ActivationExpire
	}
	maxFailed := s.config.SignatureMaxFailedAttempts
	if req.MaxFailedAttempts != nil {
		maxFailed = *req.MaxFailedAttempts
	}

	serverKeyPair, err := crypto.GenerateKeyPair()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrCryptoFailure, err)
	}
	serverPrivateKey, mode, err := s.sealServerPrivateKey(crypto.PrivateKeyBytes(serverKeyPair), req.UserID, activationID)
	if err != nil {
		return nil, err
	}
	serverPublicKey := encodeBase64(crypto.PublicKeyBytes(serverKeyPair.PublicKey()))

	activation := &model.Activation{
		ActivationID:               activationID,
		UserID:                     req.UserID,
		ApplicationID:              req.ApplicationID,
		MasterKeyPairID:            masterKeyPair.ID,
		ServerPublicKey:            &serverPublicKey,
		ServerPrivateKey:           &serverPrivateKey,
		ServerPrivateKeyEncryption: string(mode),
		MaxFailedAttempts:          maxFailed,
		ActivationStatus:           model.StatusCreated,
		ActivationOtpValidation:    otpValidation,
		Version:                    version,
		TimestampCreated:           now,
		TimestampActivationExpire:  expire,
		TimestampLastUsed:          now,
	}

	var activationData string
	switch version {
	case 3:
		code, err := s.generateActivationCode(ctx, req.ApplicationID)
		if err != nil {
			return nil, err
		}
		activation.ActivationCode = code
		activation.ActivationOtp = strPtr(req.ActivationOtp)
		activationData = code
	case 2:
		shortID, err := s.generateActivationIDShort(ctx, req.ApplicationID)
		if err != nil {
			return nil, err
		}
		otp, err := crypto.GenerateActivationOTPV2()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", model.ErrCryptoFailure, err)
		}
		activation.ActivationIDShort = shortID
		activation.ActivationOtp = &otp
		activationData = shortID + "&" + otp
	}

	signature, err := crypto.SignActivationData(activationData, masterPrivateKey)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrCryptoFailure, err)
	}

	if err := s.store.CreateActivation(ctx, activation); err != nil {
		return nil, err
	}
	if err := s.store.AppendActivationHistory(ctx, nil, &model.ActivationHistory{
		ActivationID:     activationID,
		Status:           model.StatusCreated,
		TimestampCreated: now,
	}); err != nil {
		return nil, err
	}
	s.notifyTransition(req.ApplicationID, activationID, model.StatusCreated)

	logger.Info("activation initialized",
		"activationId", activationID, "userId", req.UserID,
		"applicationId", req.ApplicationID, "version", version)

	resp := &InitActivationResponse{
		ActivationID:        activationID,
		UserID:              req.UserID,
		ActivationCode:      activation.ActivationCode,
		ActivationIDShort:   activation.ActivationIDShort,
		ActivationSignature: encodeBase64(signature),
	}
	if version == 2 && activation.ActivationOtp != nil {
		resp.ActivationOtp = *activation.ActivationOtp
	}
	return resp, nil
}

func (s *Service) generateActivationID(ctx context.Context) (string, error) {
	for i := 0; i < s.config.ActivationIDIterations; i++ {
		id := uuid.NewString()
		exists, err := s.store.ActivationIDExists(ctx, id)
		if err != nil {
			return "", err
		}
		if !exists {
			return id, nil
		}
	}
	return "", fmt.Errorf("%w: activation id", model.ErrGenerationLimit)
}

func (s *Service) generateActivationCode(ctx context.Context, applicationID uint) (string, error) {
	for i := 0; i < s.config.ActivationCodeIterations; i++ {
		code, err := crypto.GenerateActivationCode()
		if err != nil {
			return "", fmt.Errorf("%w: %v", model.ErrCryptoFailure, err)
		}
		exists, err := s.store.ActivationCodeExists(ctx, applicationID, code)
		if err != nil {
			return "", err
		}
		if !exists {
			return code, nil
		}
	}
	return "", fmt.Errorf("%w: activation code", model.ErrGenerationLimit)
}

func (s *Service) generateActivationIDShort(ctx context.Context, applicationID uint) (string, error) {
	for i := 0; i < s.config.ActivationCodeIterations; i++ {
		shortID, err := crypto.GenerateActivationIDShort()
		if err != nil {
			return "", fmt.Errorf("%w: %v", model.ErrCryptoFailure, err)
		}
		exists, err := s.store.ActivationShortIDExists(ctx, applicationID, shortID)
		if err != nil {
			return "", err
		}
		if !exists {
			return shortID, nil
		}
	}
	return "", fmt.Errorf("%w: activation short id", model.ErrGenerationLimit)
}

// CommitActivation moves a PENDING_COMMIT activation to ACTIVE. When the OTP
// validation mode is ON_COMMIT the OTP must match; a mismatch counts as a
// failed attempt and removes the activation when the limit is exhausted.
// Committing an already ACTIVE activation is an idempotent no-op.
func (s *Service) CommitActivation(ctx context.Context, activationID, activationOtp string, externalUserID *string) error {
	var (
		applicationID uint
		committed     bool
		removed       bool
		otpMismatch   bool
	)
	err := s.store.WithActivationForUpdate(ctx, activationID, func(tx *gorm.DB, a *model.Activation) error {
		applicationID = a.ApplicationID

		if a.ActivationStatus == model.StatusActive {
			return nil
		}
		if a.ActivationStatus != model.StatusPendingCommit {
			return model.ErrInvalidActivationState
		}
		if a.Expired(s.now()) {
			removed = true
			return s.expireLocked(ctx, tx, a)
		}

		if a.ActivationOtpValidation == model.OtpValidationOnCommit {
			stored := ""
			if a.ActivationOtp != nil {
				stored = *a.ActivationOtp
			}
			if !constantTimeEquals(stored, activationOtp) {
				otpMismatch = true
				a.FailedAttempts++
				if a.FailedAttempts >= a.MaxFailedAttempts {
					removed = true
					a.Tombstone()
					return s.transition(ctx, tx, a, model.StatusRemoved, externalUserID)
				}
				return nil
			}
			a.FailedAttempts = 0
		}

		committed = true
		return s.transition(ctx, tx, a, model.StatusActive, externalUserID)
	})
	if err != nil {
		return err
	}
	if removed {
		s.notifyTransition(applicationID, activationID, model.StatusRemoved)
		return model.ErrActivationExpired
	}
	if otpMismatch {
		return model.ErrInvalidActivationOtp
	}
	if committed {
		s.notifyTransition(applicationID, activationID, model.StatusActive)
		logger.Info("activation committed", "activationId", activationID)
	}
	return nil
}

// ActivationStatusResponse is the public view of an activation record.
type ActivationStatusResponse struct {
	ActivationID      string
	ActivationStatus  model.ActivationStatus
	BlockedReason     string
	ActivationName    string
	UserID            string
	ApplicationID     uint
	Version           int
	Counter           uint64
	FailedAttempts    uint32
	MaxFailedAttempts uint32
	ActivationFlags   []string
	TimestampCreated  time.Time
	TimestampLastUsed time.Time
}

// GetActivationStatus reports the current state of an activation. An unknown
// activation id reports REMOVED rather than an error, so callers cannot probe
// which identifiers exist. A pending record past its deadline is removed
// lazily here.
func (s *Service) GetActivationStatus(ctx context.Context, activationID string) (*ActivationStatusResponse, error) {
	a, err := s.store.GetActivation(ctx, activationID)
	if err != nil {
		if errors.Is(err, model.ErrActivationNotFound) {
			return &ActivationStatusResponse{
				ActivationID:     activationID,
				ActivationStatus: model.StatusRemoved,
			}, nil
		}
		return nil, err
	}

	if a.Pending() && a.Expired(s.now()) {
		if err := s.removeExpired(ctx, activationID); err != nil && !errors.Is(err, model.ErrActivationNotFound) {
			return nil, err
		}
		a, err = s.store.GetActivation(ctx, activationID)
		if err != nil {
			return nil, err
		}
	}

	resp := &ActivationStatusResponse{
		ActivationID:      a.ActivationID,
		ActivationStatus:  a.ActivationStatus,
		UserID:            a.UserID,
		ApplicationID:     a.ApplicationID,
		Version:           a.Version,
		Counter:           a.Counter,
		FailedAttempts:    a.FailedAttempts,
		MaxFailedAttempts: a.MaxFailedAttempts,
		ActivationFlags:   a.ActivationFlags,
		TimestampCreated:  a.TimestampCreated,
		TimestampLastUsed: a.TimestampLastUsed,
	}
	if a.BlockedReason != nil {
		resp.BlockedReason = *a.BlockedReason
	}
	if a.ActivationName != nil {
		resp.ActivationName = *a.ActivationName
	}
	return resp, nil
}

// removeExpired transitions one expired pending activation to REMOVED under
// its row lock.
func (s *Service) removeExpired(ctx context.Context, activationID string) error {
	var applicationID uint
	var removed bool
	err := s.store.WithActivationForUpdate(ctx, activationID, func(tx *gorm.DB, a *model.Activation) error {
		applicationID = a.ApplicationID
		if !a.Pending() || !a.Expired(s.now()) {
			return nil
		}
		removed = true
		return s.expireLocked(ctx, tx, a)
	})
	if err != nil {
		return err
	}
	if removed {
		s.notifyTransition(applicationID, activationID, model.StatusRemoved)
	}
	return nil
}

// RemoveActivation transitions any non-REMOVED activation to REMOVED,
// tombstones its key material and revokes its tokens.
func (s *Service) RemoveActivation(ctx context.Context, activationID string, externalUserID *string) error {
	var applicationID uint
	err := s.store.WithActivationForUpdate(ctx, activationID, func(tx *gorm.DB, a *model.Activation) error {
		applicationID = a.ApplicationID
		if a.ActivationStatus.Terminal() {
			return model.ErrInvalidActivationState
		}
		a.Tombstone()
		return s.transition(ctx, tx, a, model.StatusRemoved, externalUserID)
	})
	if err != nil {
		return err
	}
	if err := s.store.DeleteTokensForActivation(ctx, activationID); err != nil {
		logger.Warn("failed to revoke tokens of removed activation",
			"activationId", activationID, "error", err)
	}
	s.notifyTransition(applicationID, activationID, model.StatusRemoved)
	logger.Info("activation removed", "activationId", activationID)
	return nil
}

// BlockActivation blocks an ACTIVE activation. Blocking an already BLOCKED
// activation is a no-op.
func (s *Service) BlockActivation(ctx context.Context, activationID, reason string, externalUserID *string) error {
	if reason == "" {
		reason = "NOT_SPECIFIED"
	}
	var applicationID uint
	var blocked bool
	err := s.store.WithActivationForUpdate(ctx, activationID, func(tx *gorm.DB, a *model.Activation) error {
		applicationID = a.ApplicationID
		if a.ActivationStatus == model.StatusBlocked {
			return nil
		}
		if a.ActivationStatus != model.StatusActive {
			return model.ErrInvalidActivationState
		}
		blocked = true
		a.BlockedReason = &reason
		return s.transition(ctx, tx, a, model.StatusBlocked, externalUserID)
	})
	if err != nil {
		return err
	}
	if blocked {
		s.notifyTransition(applicationID, activationID, model.StatusBlocked)
		logger.Info("activation blocked", "activationId", activationID, "reason", reason)
	}
	return nil
}

// UnblockActivation returns a BLOCKED activation to ACTIVE and resets the
// failed attempt counter.
func (s *Service) UnblockActivation(ctx context.Context, activationID string, externalUserID *string) error {
	var applicationID uint
	err := s.store.WithActivationForUpdate(ctx, activationID, func(tx *gorm.DB, a *model.Activation) error {
		applicationID = a.ApplicationID
		if a.ActivationStatus != model.StatusBlocked {
			return model.ErrInvalidActivationState
		}
		a.FailedAttempts = 0
		a.BlockedReason = nil
		return s.transition(ctx, tx, a, model.StatusActive, externalUserID)
	})
	if err != nil {
		return err
	}
	s.notifyTransition(applicationID, activationID, model.StatusActive)
	logger.Info("activation unblocked", "activationId", activationID)
	return nil
}

// UpdateActivationOtp rotates the activation OTP before commit. Allowed only
// while the record is CREATED or PENDING_COMMIT and the validation mode is
// ON_COMMIT.
func (s *Service) UpdateActivationOtp(ctx context.Context, activationID, activationOtp string, externalUserID *string) error {
	if activationOtp == "" {
		return fmt.Errorf("%w: missing activationOtp", model.ErrInvalidInput)
	}
	return s.store.WithActivationForUpdate(ctx, activationID, func(tx *gorm.DB, a *model.Activation) error {
		if !a.Pending() || a.ActivationOtpValidation != model.OtpValidationOnCommit {
			return model.ErrInvalidActivationState
		}
		a.ActivationOtp = &activationOtp
		return nil
	})
}

// ListActivations returns all activations of a user, optionally narrowed to
// one application.
func (s *Service) ListActivations(ctx context.Context, userID string, applicationID *uint) ([]*model.Activation, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: missing userId", model.ErrInvalidInput)
	}
	return s.store.ListActivationsByUser(ctx, userID, applicationID)
}

// LookupActivations returns activations matching the filter.
func (s *Service) LookupActivations(ctx context.Context, filter store.LookupFilter) ([]*model.Activation, error) {
	return s.store.LookupActivations(ctx, filter)
}

// ActivationHistory returns the status transition log of an activation,
// bounded by the time range when given.
func (s *Service) ActivationHistory(ctx context.Context, activationID string, from, to *time.Time) ([]*model.ActivationHistory, error) {
	return s.store.ListActivationHistory(ctx, activationID, from, to)
}
