package service

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"github.com/marmos91/trustd/internal/logger"
	"github.com/marmos91/trustd/pkg/powerauth/crypto"
	"github.com/marmos91/trustd/pkg/powerauth/model"
)

// StartUpgradeResponse hands the client the hash-chain counter seed it will
// sign with after the upgrade commits.
type StartUpgradeResponse struct {
	ActivationID string
	CtrData      string
}

// StartUpgrade begins the version 2 to 3 migration of an ACTIVE activation:
// the server seeds ctrData while the record keeps verifying version 2
// signatures until CommitUpgrade. Calling it again before commit returns the
// same seed.
func (s *Service) StartUpgrade(ctx context.Context, activationID string) (*StartUpgradeResponse, error) {
	var resp *StartUpgradeResponse
	err := s.store.WithActivationForUpdate(ctx, activationID, func(tx *gorm.DB, a *model.Activation) error {
		if a.ActivationStatus != model.StatusActive {
			return model.ErrInvalidActivationState
		}
		if a.Version != 2 {
			return fmt.Errorf("%w: activation is not version 2", model.ErrInvalidActivationState)
		}
		if a.CtrData == nil {
			ctrData, err := crypto.GenerateCtrData()
			if err != nil {
				return fmt.Errorf("%w: %v", model.ErrCryptoFailure, err)
			}
			encoded := encodeBase64(ctrData)
			a.CtrData = &encoded
		}
		resp = &StartUpgradeResponse{ActivationID: a.ActivationID, CtrData: *a.CtrData}
		return nil
	})
	if err != nil {
		return nil, err
	}
	logger.Info("upgrade started", "activationId", activationID)
	return resp, nil
}

// CommitUpgrade finishes the migration: the activation flips to version 3 and
// from now on only hash-chain signatures verify. Requires a prior
// StartUpgrade.
func (s *Service) CommitUpgrade(ctx context.Context, activationID string) error {
	err := s.store.WithActivationForUpdate(ctx, activationID, func(tx *gorm.DB, a *model.Activation) error {
		if a.ActivationStatus != model.StatusActive {
			return model.ErrInvalidActivationState
		}
		if a.Version == 3 {
			return nil
		}
		if a.CtrData == nil {
			return fmt.Errorf("%w: upgrade not started", model.ErrInvalidActivationState)
		}
		a.Version = 3
		return nil
	})
	if err != nil {
		return err
	}
	logger.Info("upgrade committed", "activationId", activationID)
	return nil
}
