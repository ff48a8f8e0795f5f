package service

import (
	"context"
	"errors"

	"github.com/marmos91/trustd/pkg/powerauth/crypto"
	"github.com/marmos91/trustd/pkg/powerauth/model"
)

// VaultUnlockResponse carries the outcome of a vault unlock attempt. The
// encrypted vault key is present only when the accompanying signature
// verified.
type VaultUnlockResponse struct {
	ActivationID      string
	UserID            string
	ActivationStatus  model.ActivationStatus
	BlockedReason     string
	SignatureValid    bool
	RemainingAttempts uint32

	// EncryptedVaultEncryptionKey is the vault key sealed under the transport
	// key, Base64. Empty when the signature was invalid.
	EncryptedVaultEncryptionKey string
}

// VaultUnlock verifies the inbound signature and, on success, returns the
// vault encryption key sealed under the activation's transport key. An
// invalid signature still burns a counter value, exactly as a plain
// verification would.
//
// An unknown activation id yields a synthetic REMOVED response with user
// "UNKNOWN" rather than an error, so the endpoint cannot be used to probe
// which activations exist.
func (s *Service) VaultUnlock(ctx context.Context, req VerifySignatureRequest) (*VaultUnlockResponse, error) {
	verification, err := s.VerifySignature(ctx, req)
	if err != nil {
		if errors.Is(err, model.ErrActivationNotFound) {
			s.metrics.RecordVaultUnlock(false)
			return &VaultUnlockResponse{
				ActivationID:     req.ActivationID,
				UserID:           "UNKNOWN",
				ActivationStatus: model.StatusRemoved,
			}, nil
		}
		return nil, err
	}

	resp := &VaultUnlockResponse{
		ActivationID:      verification.ActivationID,
		UserID:            verification.UserID,
		ActivationStatus:  verification.ActivationStatus,
		BlockedReason:     verification.BlockedReason,
		SignatureValid:    verification.SignatureValid,
		RemainingAttempts: verification.RemainingAttempts,
	}
	if !verification.SignatureValid {
		s.metrics.RecordVaultUnlock(false)
		return resp, nil
	}

	a, err := s.store.GetActivation(ctx, req.ActivationID)
	if err != nil {
		return nil, err
	}
	keys, err := s.keyFamilyFor(a)
	if err != nil {
		return nil, err
	}
	defer keys.Destroy()

	sealed, err := crypto.EncryptVaultKey(keys)
	if err != nil {
		return nil, err
	}
	resp.EncryptedVaultEncryptionKey = encodeBase64(sealed)
	s.metrics.RecordVaultUnlock(true)
	return resp, nil
}
