package store

import (
	"context"

	"github.com/marmos91/trustd/pkg/powerauth/model"
)

// CreateToken persists a newly issued token.
func (s *Store) CreateToken(ctx context.Context, token *model.Token) error {
	if err := s.db.WithContext(ctx).Create(token).Error; err != nil {
		if isUniqueConstraintError(err) {
			return model.ErrDuplicateEntity
		}
		return err
	}
	return nil
}

// GetToken fetches a token by id.
func (s *Store) GetToken(ctx context.Context, tokenID string) (*model.Token, error) {
	var token model.Token
	err := s.db.WithContext(ctx).Where("token_id = ?", tokenID).First(&token).Error
	if err != nil {
		return nil, convertNotFoundError(err, model.ErrTokenNotFound)
	}
	return &token, nil
}

// DeleteToken removes a token.
func (s *Store) DeleteToken(ctx context.Context, tokenID string) error {
	result := s.db.WithContext(ctx).Delete(&model.Token{}, "token_id = ?", tokenID)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return model.ErrTokenNotFound
	}
	return nil
}

// DeleteTokensForActivation removes all tokens of an activation. Called when
// the activation is removed.
func (s *Store) DeleteTokensForActivation(ctx context.Context, activationID string) error {
	return s.db.WithContext(ctx).Delete(&model.Token{}, "activation_id = ?", activationID).Error
}
