package jobs

import (
	"log/slog"
	"time"

	"visitly/internal/config"
	"visitly/internal/database"
	"visitly/internal/stats"
)

// RetentionJob prunes aggregated stats older than the configured retention
// period. Retention is opt-in: with VISITLY_STATS_RETENTION_DAYS at its
// default of 0 the job never deletes anything and aggregated stats are kept
// forever.
type RetentionJob struct {
	dbManager *database.DBManager
	logger    *slog.Logger
	cfg       *config.Config
}

func NewRetentionJob(dbManager *database.DBManager, logger *slog.Logger, cfg *config.Config) *RetentionJob {
	return &RetentionJob{
		dbManager: dbManager,
		logger:    logger,
		cfg:       cfg,
	}
}

// Run deletes stats rows older than the retention window.
func (j *RetentionJob) Run() error {
	retentionDays := j.cfg.StatsRetentionDays
	if retentionDays <= 0 {
		j.logger.Debug("Stats retention disabled - keeping aggregated stats forever")
		return nil
	}

	db := j.dbManager.GetConnection()
	cutoff := time.Now().UTC().AddDate(0, 0, -retentionDays)

	deleted, err := stats.DeleteOlderThan(db, cutoff)
	if err != nil {
		j.logger.Error("Failed to prune old stats", slog.Any("error", err))
		return err
	}

	if deleted > 0 {
		j.logger.Info("Pruned old aggregated stats",
			slog.Int64("deleted_count", deleted),
			slog.Int("retention_days", retentionDays))
	}

	return nil
}
