package store

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/marmos91/trustd/pkg/powerauth/model"
)

// ErrInvalidCredentials is returned when integration credentials fail to
// verify. It deliberately does not distinguish unknown token from wrong
// secret.
var ErrInvalidCredentials = errors.New("invalid integration credentials")

// CreateIntegration registers admin credentials. The returned secret is the
// only time the plaintext is available; the database keeps a bcrypt hash.
func (s *Store) CreateIntegration(ctx context.Context, name string) (*model.Integration, string, error) {
	clientToken := uuid.NewString()
	clientSecret := uuid.NewString()

	hash, err := bcrypt.GenerateFromPassword([]byte(clientSecret), bcrypt.DefaultCost)
	if err != nil {
		return nil, "", err
	}

	integration := &model.Integration{
		ID:               uuid.NewString(),
		Name:             name,
		ClientToken:      clientToken,
		ClientSecretHash: string(hash),
	}
	if err := s.db.WithContext(ctx).Create(integration).Error; err != nil {
		if isUniqueConstraintError(err) {
			return nil, "", model.ErrDuplicateEntity
		}
		return nil, "", err
	}
	return integration, clientSecret, nil
}

// VerifyIntegration checks HTTP Basic credentials against the integration
// table.
func (s *Store) VerifyIntegration(ctx context.Context, clientToken, clientSecret string) (*model.Integration, error) {
	var integration model.Integration
	err := s.db.WithContext(ctx).
		Where("client_token = ?", clientToken).
		First(&integration).Error
	if err != nil {
		return nil, convertNotFoundError(err, ErrInvalidCredentials)
	}

	if bcrypt.CompareHashAndPassword([]byte(integration.ClientSecretHash), []byte(clientSecret)) != nil {
		return nil, ErrInvalidCredentials
	}
	return &integration, nil
}

// HasIntegrations reports whether any integration credentials exist.
func (s *Store) HasIntegrations(ctx context.Context) (bool, error) {
	var count int64
	if err := s.db.WithContext(ctx).Model(&model.Integration{}).Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}
