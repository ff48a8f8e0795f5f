package store

import (
	"context"

	"github.com/google/uuid"

	"github.com/marmos91/trustd/pkg/powerauth/model"
)

// CreateCallbackURL registers a callback target for an application.
func (s *Store) CreateCallbackURL(ctx context.Context, callback *model.CallbackURL) error {
	if callback.ID == "" {
		callback.ID = uuid.NewString()
	}
	return s.db.WithContext(ctx).Create(callback).Error
}

// ListCallbackURLs returns all callback targets of an application.
func (s *Store) ListCallbackURLs(ctx context.Context, applicationID uint) ([]*model.CallbackURL, error) {
	var callbacks []*model.CallbackURL
	err := s.db.WithContext(ctx).
		Where("application_id = ?", applicationID).
		Find(&callbacks).Error
	if err != nil {
		return nil, err
	}
	return callbacks, nil
}

// DeleteCallbackURL removes a callback target.
func (s *Store) DeleteCallbackURL(ctx context.Context, id string) error {
	result := s.db.WithContext(ctx).Delete(&model.CallbackURL{}, "id = ?", id)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return model.ErrCallbackNotFound
	}
	return nil
}
