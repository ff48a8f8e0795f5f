package store

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/marmos91/trustd/pkg/powerauth/model"
)

// GetActivation fetches an activation by id without locking.
func (s *Store) GetActivation(ctx context.Context, activationID string) (*model.Activation, error) {
	var activation model.Activation
	err := s.db.WithContext(ctx).
		Where("activation_id = ?", activationID).
		First(&activation).Error
	if err != nil {
		return nil, convertNotFoundError(err, model.ErrActivationNotFound)
	}
	return &activation, nil
}

// WithActivationForUpdate runs fn inside a transaction holding a row-level
// write lock on the activation. fn may mutate the record; it is saved before
// commit. This is the only way counter, failed attempt and status fields may
// be changed, which serializes concurrent verifications per activation.
func (s *Store) WithActivationForUpdate(ctx context.Context, activationID string, fn func(tx *gorm.DB, activation *model.Activation) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var activation model.Activation
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("activation_id = ?", activationID).
			First(&activation).Error
		if err != nil {
			return convertNotFoundError(err, model.ErrActivationNotFound)
		}

		if err := fn(tx, &activation); err != nil {
			return err
		}

		if err := tx.Save(&activation).Error; err != nil {
			return fmt.Errorf("failed to save activation: %w", err)
		}
		return nil
	})
}

// CreateActivation persists a new activation record.
func (s *Store) CreateActivation(ctx context.Context, activation *model.Activation) error {
	if err := s.db.WithContext(ctx).Create(activation).Error; err != nil {
		if isUniqueConstraintError(err) {
			return model.ErrDuplicateEntity
		}
		return err
	}
	return nil
}

// nonTerminalStatuses are the states in which activation codes must stay
// unique.
var nonTerminalStatuses = []model.ActivationStatus{model.StatusCreated, model.StatusPendingCommit}

// FindActivationByCode looks up a pending activation of an application by
// its v3 activation code.
func (s *Store) FindActivationByCode(ctx context.Context, applicationID uint, activationCode string) (*model.Activation, error) {
	return s.findPending(ctx, applicationID, "activation_code", activationCode)
}

// FindActivationByShortID looks up a pending v2 activation of an application
// by its short identifier.
func (s *Store) FindActivationByShortID(ctx context.Context, applicationID uint, activationIDShort string) (*model.Activation, error) {
	return s.findPending(ctx, applicationID, "activation_id_short", activationIDShort)
}

func (s *Store) findPending(ctx context.Context, applicationID uint, column, value string) (*model.Activation, error) {
	var activation model.Activation
	err := s.db.WithContext(ctx).
		Where(column+" = ? AND application_id = ? AND activation_status IN ?",
			value, applicationID, nonTerminalStatuses).
		First(&activation).Error
	if err != nil {
		return nil, convertNotFoundError(err, model.ErrActivationNotFound)
	}
	return &activation, nil
}

// ActivationIDExists reports whether an activation id is already taken.
func (s *Store) ActivationIDExists(ctx context.Context, activationID string) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).
		Model(&model.Activation{}).
		Where("activation_id = ?", activationID).
		Count(&count).Error
	return count > 0, err
}

// ActivationCodeExists reports whether an activation code is in use by a
// record in a non-terminal state (invariant I5).
func (s *Store) ActivationCodeExists(ctx context.Context, applicationID uint, activationCode string) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).
		Model(&model.Activation{}).
		Where("activation_code = ? AND application_id = ? AND activation_status IN ?",
			activationCode, applicationID, nonTerminalStatuses).
		Count(&count).Error
	return count > 0, err
}

// ActivationShortIDExists is the v2 counterpart of ActivationCodeExists.
func (s *Store) ActivationShortIDExists(ctx context.Context, applicationID uint, activationIDShort string) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).
		Model(&model.Activation{}).
		Where("activation_id_short = ? AND application_id = ? AND activation_status IN ?",
			activationIDShort, applicationID, nonTerminalStatuses).
		Count(&count).Error
	return count > 0, err
}

// ListActivationsByUser returns all activations of a user, optionally
// narrowed to one application.
func (s *Store) ListActivationsByUser(ctx context.Context, userID string, applicationID *uint) ([]*model.Activation, error) {
	q := s.db.WithContext(ctx).Where("user_id = ?", userID)
	if applicationID != nil {
		q = q.Where("application_id = ?", *applicationID)
	}
	var activations []*model.Activation
	if err := q.Order("timestamp_created DESC").Find(&activations).Error; err != nil {
		return nil, err
	}
	return activations, nil
}

// LookupFilter narrows a LookupActivations query. Zero-valued fields are
// ignored.
type LookupFilter struct {
	UserIDs                 []string
	ApplicationIDs          []uint
	Status                  model.ActivationStatus
	TimestampLastUsedBefore *time.Time
}

// LookupActivations returns activations matching the filter.
func (s *Store) LookupActivations(ctx context.Context, filter LookupFilter) ([]*model.Activation, error) {
	q := s.db.WithContext(ctx).Model(&model.Activation{})
	if len(filter.UserIDs) > 0 {
		q = q.Where("user_id IN ?", filter.UserIDs)
	}
	if len(filter.ApplicationIDs) > 0 {
		q = q.Where("application_id IN ?", filter.ApplicationIDs)
	}
	if filter.Status != "" {
		q = q.Where("activation_status = ?", filter.Status)
	}
	if filter.TimestampLastUsedBefore != nil {
		q = q.Where("timestamp_last_used < ?", *filter.TimestampLastUsedBefore)
	}
	var activations []*model.Activation
	if err := q.Order("timestamp_created DESC").Find(&activations).Error; err != nil {
		return nil, err
	}
	return activations, nil
}

// ExpiredPendingActivationIDs returns ids of CREATED or PENDING_COMMIT
// records whose key-exchange window closed before now. Used by the
// expiration sweeper; each id is then removed under its own row lock.
func (s *Store) ExpiredPendingActivationIDs(ctx context.Context, now time.Time, limit int) ([]string, error) {
	var ids []string
	err := s.db.WithContext(ctx).
		Model(&model.Activation{}).
		Where("activation_status IN ? AND timestamp_activation_expire < ?", nonTerminalStatuses, now).
		Limit(limit).
		Pluck("activation_id", &ids).Error
	return ids, err
}
