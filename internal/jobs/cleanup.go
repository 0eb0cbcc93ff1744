package jobs

import (
	"log/slog"
	"time"

	"gorm.io/gorm"

	"visitorlens/internal/runs"
)

// Connection provides the database a job works on.
type Connection interface {
	GetConnection() *gorm.DB
}

// CleanupJob removes run ledger entries older than the retention period.
type CleanupJob struct {
	dbManager     Connection
	logger        *slog.Logger
	retentionDays int
}

func NewCleanupJob(dbManager Connection, logger *slog.Logger, retentionDays int) *CleanupJob {
	return &CleanupJob{
		dbManager:     dbManager,
		logger:        logger,
		retentionDays: retentionDays,
	}
}

// Run deletes runs created before the retention cutoff. A non-positive
// retention keeps everything.
func (j *CleanupJob) Run() error {
	if j.retentionDays <= 0 {
		j.logger.Debug("Run retention disabled, skipping cleanup")
		return nil
	}

	db := j.dbManager.GetConnection()
	if db == nil {
		return gorm.ErrInvalidDB
	}
	cutoffDate := time.Now().UTC().AddDate(0, 0, -j.retentionDays)

	deleted, err := runs.Prune(db, cutoffDate)
	if err != nil {
		j.logger.Error("Failed to prune report runs", slog.Any("error", err))
		return err
	}

	if deleted > 0 {
		j.logger.Info("Cleaned up old report runs",
			slog.Int64("deleted_count", deleted),
			slog.Int("retention_days", j.retentionDays))
	}
	return nil
}
