package store

import (
	"context"

	"github.com/marmos91/trustd/pkg/powerauth/model"
)

// CreateApplication persists a new application.
func (s *Store) CreateApplication(ctx context.Context, app *model.Application) error {
	if err := s.db.WithContext(ctx).Create(app).Error; err != nil {
		if isUniqueConstraintError(err) {
			return model.ErrDuplicateEntity
		}
		return err
	}
	return nil
}

// GetApplication fetches an application by id.
func (s *Store) GetApplication(ctx context.Context, id uint) (*model.Application, error) {
	var app model.Application
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&app).Error
	if err != nil {
		return nil, convertNotFoundError(err, model.ErrApplicationNotFound)
	}
	return &app, nil
}

// CreateApplicationVersion persists a new application version and drops any
// cached entry for its key.
func (s *Store) CreateApplicationVersion(ctx context.Context, version *model.ApplicationVersion) error {
	if err := s.db.WithContext(ctx).Create(version).Error; err != nil {
		if isUniqueConstraintError(err) {
			return model.ErrDuplicateEntity
		}
		return err
	}
	s.versionCache.invalidate(version.ApplicationKey)
	return nil
}

// GetApplicationVersionByKey resolves the version a client identified by its
// application key. Results are cached; stale reads are tolerated because key
// and secret are immutable and the supported flag changes rarely.
func (s *Store) GetApplicationVersionByKey(ctx context.Context, applicationKey string) (*model.ApplicationVersion, error) {
	if cached, ok := s.versionCache.get(applicationKey); ok {
		return &cached, nil
	}

	var version model.ApplicationVersion
	err := s.db.WithContext(ctx).
		Where("application_key = ?", applicationKey).
		First(&version).Error
	if err != nil {
		return nil, convertNotFoundError(err, model.ErrApplicationNotFound)
	}

	s.versionCache.put(applicationKey, version)
	return &version, nil
}

// SetApplicationVersionSupported flips the supported flag and invalidates
// the cache entry.
func (s *Store) SetApplicationVersionSupported(ctx context.Context, applicationKey string, supported bool) error {
	result := s.db.WithContext(ctx).
		Model(&model.ApplicationVersion{}).
		Where("application_key = ?", applicationKey).
		Update("supported", supported)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return model.ErrApplicationNotFound
	}
	s.versionCache.invalidate(applicationKey)
	return nil
}
