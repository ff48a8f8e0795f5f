package service

import (
	"context"
	"errors"
	"time"

	"github.com/marmos91/trustd/internal/logger"
	"github.com/marmos91/trustd/pkg/powerauth/model"
)

// sweepBatchSize bounds how many expired records one sweep pass removes.
const sweepBatchSize = 100

// RunExpirationSweeper periodically removes CREATED and PENDING_COMMIT
// activations whose key-exchange window closed. Blocks until ctx is
// cancelled; run it in its own goroutine.
func (s *Service) RunExpirationSweeper(ctx context.Context) {
	ticker := time.NewTicker(s.config.ExpirationSweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed, err := s.SweepExpiredActivations(ctx)
			if err != nil {
				logger.Error("expiration sweep failed", "error", err)
				continue
			}
			if removed > 0 {
				logger.Info("expiration sweep removed activations", "count", removed)
			}
		}
	}
}

// SweepExpiredActivations removes one batch of expired pending activations
// and returns how many records it transitioned.
func (s *Service) SweepExpiredActivations(ctx context.Context) (int, error) {
	ids, err := s.store.ExpiredPendingActivationIDs(ctx, s.now(), sweepBatchSize)
	if err != nil {
		return 0, err
	}

	removed := 0
	for _, id := range ids {
		// removeExpired re-checks state under the row lock, so a record
		// committed between the listing and the lock is left alone
		if err := s.removeExpired(ctx, id); err != nil {
			if errors.Is(err, model.ErrActivationNotFound) {
				continue
			}
			return removed, err
		}
		removed++
	}
	s.metrics.RecordActivationsExpired(removed)
	return removed, nil
}
