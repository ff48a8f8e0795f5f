package store

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/marmos91/trustd/pkg/powerauth/model"
)

// AppendActivationHistory writes a status transition record. When tx is
// non-nil the write joins the caller's transaction, making the history event
// durable before any callback is enqueued.
func (s *Store) AppendActivationHistory(ctx context.Context, tx *gorm.DB, entry *model.ActivationHistory) error {
	db := s.db
	if tx != nil {
		db = tx
	}
	return db.WithContext(ctx).Create(entry).Error
}

// ListActivationHistory returns history entries for an activation in
// chronological order, bounded by the time range when given.
func (s *Store) ListActivationHistory(ctx context.Context, activationID string, from, to *time.Time) ([]*model.ActivationHistory, error) {
	q := s.db.WithContext(ctx).Where("activation_id = ?", activationID)
	if from != nil {
		q = q.Where("timestamp_created >= ?", *from)
	}
	if to != nil {
		q = q.Where("timestamp_created <= ?", *to)
	}
	var entries []*model.ActivationHistory
	if err := q.Order("id ASC").Find(&entries).Error; err != nil {
		return nil, err
	}
	return entries, nil
}
