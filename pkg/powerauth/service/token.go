package service

import (
	"context"
	"encoding/base64"
	"fmt"

	"github.com/google/uuid"

	"github.com/marmos91/trustd/pkg/powerauth/crypto"
	"github.com/marmos91/trustd/pkg/powerauth/model"
)

// CreateTokenResponse hands the client its token credentials. The secret is
// returned exactly once.
type CreateTokenResponse struct {
	TokenID     string
	TokenSecret string
}

// CreateToken issues a token against an ACTIVE activation. Tokens let the
// client authenticate lightweight requests with a simple HMAC digest instead
// of a full PowerAuth signature.
func (s *Service) CreateToken(ctx context.Context, activationID string, signatureType crypto.SignatureType) (*CreateTokenResponse, error) {
	if !signatureType.Valid() {
		return nil, fmt.Errorf("%w: %q", crypto.ErrUnknownSignatureType, signatureType)
	}
	a, err := s.store.GetActivation(ctx, activationID)
	if err != nil {
		return nil, err
	}
	if a.ActivationStatus != model.StatusActive {
		return nil, model.ErrInvalidActivationState
	}

	secret, err := crypto.GenerateTokenSecret()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrCryptoFailure, err)
	}
	token := &model.Token{
		ID:               uuid.NewString(),
		ActivationID:     activationID,
		TokenSecret:      encodeBase64(secret),
		SignatureType:    string(signatureType),
		TimestampCreated: s.now(),
	}
	if err := s.store.CreateToken(ctx, token); err != nil {
		return nil, err
	}
	return &CreateTokenResponse{TokenID: token.ID, TokenSecret: token.TokenSecret}, nil
}

// ValidateTokenResponse reports the digest verification outcome together with
// the identity the token is bound to.
type ValidateTokenResponse struct {
	TokenValid       bool
	ActivationID     string
	UserID           string
	ApplicationID    uint
	SignatureType    crypto.SignatureType
	ActivationStatus model.ActivationStatus
}

// ValidateToken verifies a token digest over nonce and timestamp. The token
// only validates while its activation is ACTIVE.
func (s *Service) ValidateToken(ctx context.Context, tokenID, nonceBase64, timestamp, digestBase64 string) (*ValidateTokenResponse, error) {
	nonce, err := decodeBase64("nonce", nonceBase64)
	if err != nil {
		return nil, err
	}
	digest, err := decodeBase64("tokenDigest", digestBase64)
	if err != nil {
		return nil, err
	}
	if timestamp == "" {
		return nil, fmt.Errorf("%w: missing timestamp", model.ErrInvalidInput)
	}

	token, err := s.store.GetToken(ctx, tokenID)
	if err != nil {
		return nil, err
	}
	a, err := s.store.GetActivation(ctx, token.ActivationID)
	if err != nil {
		return nil, err
	}

	resp := &ValidateTokenResponse{
		ActivationID:     a.ActivationID,
		UserID:           a.UserID,
		ApplicationID:    a.ApplicationID,
		SignatureType:    crypto.SignatureType(token.SignatureType),
		ActivationStatus: a.ActivationStatus,
	}
	if a.ActivationStatus != model.StatusActive {
		return resp, nil
	}

	secret, err := base64.StdEncoding.DecodeString(token.TokenSecret)
	if err != nil {
		return nil, fmt.Errorf("%w: stored token secret is corrupted", model.ErrCryptoFailure)
	}
	resp.TokenValid = crypto.ValidateTokenDigest(secret, nonce, timestamp, digest)
	return resp, nil
}

// RemoveToken deletes a token. The activation id must match the token's
// binding, so a caller cannot revoke another activation's tokens.
func (s *Service) RemoveToken(ctx context.Context, tokenID, activationID string) error {
	token, err := s.store.GetToken(ctx, tokenID)
	if err != nil {
		return err
	}
	if token.ActivationID != activationID {
		return model.ErrTokenNotFound
	}
	return s.store.DeleteToken(ctx, tokenID)
}
