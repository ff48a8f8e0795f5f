package store

import (
	"context"

	"github.com/marmos91/trustd/pkg/powerauth/model"
)

// CreateMasterKeyPair persists a new master key pair and makes it current
// for its application.
func (s *Store) CreateMasterKeyPair(ctx context.Context, keyPair *model.MasterKeyPair) error {
	if err := s.db.WithContext(ctx).Create(keyPair).Error; err != nil {
		return err
	}
	s.keyPairCache.invalidate(keyPair.ApplicationID)
	return nil
}

// GetMasterKeyPair fetches a master key pair by id. Activation records
// resolve their snapshot through this, so rotation never affects them.
func (s *Store) GetMasterKeyPair(ctx context.Context, id uint) (*model.MasterKeyPair, error) {
	var keyPair model.MasterKeyPair
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&keyPair).Error
	if err != nil {
		return nil, convertNotFoundError(err, model.ErrMasterKeyPairMissing)
	}
	return &keyPair, nil
}

// LatestMasterKeyPair returns the newest master key pair of an application,
// the one that signs new activations. Results are cached with a TTL; a
// rotation may be picked up late, which is safe because older pairs remain
// valid.
func (s *Store) LatestMasterKeyPair(ctx context.Context, applicationID uint) (*model.MasterKeyPair, error) {
	if cached, ok := s.keyPairCache.get(applicationID); ok {
		return &cached, nil
	}

	var keyPair model.MasterKeyPair
	err := s.db.WithContext(ctx).
		Where("application_id = ?", applicationID).
		Order("timestamp_created DESC").
		First(&keyPair).Error
	if err != nil {
		return nil, convertNotFoundError(err, model.ErrMasterKeyPairMissing)
	}

	s.keyPairCache.put(applicationID, keyPair)
	return &keyPair, nil
}
