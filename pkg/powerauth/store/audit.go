package store

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/marmos91/trustd/pkg/powerauth/model"
)

// AppendSignatureAudit writes a signature attempt record. When tx is non-nil
// the write joins the caller's transaction so the audit entry commits
// atomically with the counter update it describes.
func (s *Store) AppendSignatureAudit(ctx context.Context, tx *gorm.DB, entry *model.SignatureAudit) error {
	db := s.db
	if tx != nil {
		db = tx
	}
	return db.WithContext(ctx).Create(entry).Error
}

// ListSignatureAudit returns audit entries for an activation in commit
// order, bounded by the time range when given.
func (s *Store) ListSignatureAudit(ctx context.Context, activationID string, from, to *time.Time) ([]*model.SignatureAudit, error) {
	q := s.db.WithContext(ctx).Where("activation_id = ?", activationID)
	if from != nil {
		q = q.Where("timestamp_created >= ?", *from)
	}
	if to != nil {
		q = q.Where("timestamp_created <= ?", *to)
	}
	var entries []*model.SignatureAudit
	if err := q.Order("id ASC").Find(&entries).Error; err != nil {
		return nil, err
	}
	return entries, nil
}
