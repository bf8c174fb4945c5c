package service

import (
	"context"
	"time"

	"github.com/portfolio-valuation/internal/logging"
	"github.com/portfolio-valuation/internal/models"
)

// DefaultRetentionDays is the snapshot retention window
const DefaultRetentionDays = 90

// RetentionService deletes snapshots that fell out of the retention window
type RetentionService struct {
	snapshots SnapshotRepository
	now       func() time.Time
}

// NewRetentionService creates a new retention service
func NewRetentionService(snapshots SnapshotRepository) *RetentionService {
	return &RetentionService{
		snapshots: snapshots,
		now:       time.Now,
	}
}

// CleanupOlderThan deletes snapshots dated before UTC midnight today minus
// days. days <= 0 is treated as a misconfiguration and deletes nothing; the
// repository always keeps each client's most recent snapshot.
func (s *RetentionService) CleanupOlderThan(ctx context.Context, days int) (*models.RetentionReport, error) {
	logger := logging.FromContext(ctx).WithField("retentionDays", days)

	if days <= 0 {
		logger.Warn("Retention window is not positive, skipping sweep")
		return &models.RetentionReport{RetentionDays: days, Skipped: true}, nil
	}

	cutoff := models.SnapshotDate(s.now()).AddDate(0, 0, -days)
	deleted, err := s.snapshots.DeleteSnapshotsBefore(ctx, cutoff)
	if err != nil {
		logger.WithError(err).Error("Retention sweep failed")
		return nil, asPersistenceError("delete snapshots", err)
	}

	logger.WithFields(map[string]interface{}{
		"cutoff":  cutoff.Format(time.DateOnly),
		"deleted": deleted,
	}).Info("Retention sweep finished")

	return &models.RetentionReport{
		RetentionDays: days,
		Cutoff:        cutoff,
		Deleted:       deleted,
	}, nil
}
