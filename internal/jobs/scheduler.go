// Package jobs runs visitly's background work: the hourly aggregation run,
// the rate limiter sweep and the opt-in stats retention prune.
package jobs

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"visitly/internal/aggregation"
	"visitly/internal/config"
	"visitly/internal/database"
	"visitly/internal/ratelimit"
)

const limiterSweepInterval = 10 * time.Minute

// Scheduler is responsible for running background jobs
type Scheduler struct {
	dbManager *database.DBManager
	logger    *slog.Logger
	ctx       context.Context
	cancel    context.CancelFunc
	enabled   bool
	isRunning bool
	cfg       *config.Config

	// Mutex to prevent concurrent job executions
	processingMutex sync.Mutex
	isProcessing    bool

	// Job instances
	aggregator   *aggregation.Aggregator
	limiter      *ratelimit.Limiter
	retentionJob *RetentionJob

	// Tickers for each job type
	aggregationTicker *time.Ticker
	sweepTicker       *time.Ticker
	retentionTicker   *time.Ticker
}

func NewScheduler(dbManager *database.DBManager, logger *slog.Logger, aggregator *aggregation.Aggregator, limiter *ratelimit.Limiter) (*Scheduler, error) {
	ctx, cancel := context.WithCancel(context.Background())
	cfg := config.GetConfig()

	s := &Scheduler{
		dbManager:    dbManager,
		logger:       logger,
		ctx:          ctx,
		cancel:       cancel,
		enabled:      true,
		isRunning:    false,
		cfg:          cfg,
		aggregator:   aggregator,
		limiter:      limiter,
		retentionJob: NewRetentionJob(dbManager, logger, cfg),
	}

	return s, nil
}

// executeJobSafely runs a job only if no other job is currently executing
func (s *Scheduler) executeJobSafely(jobName string, jobFunc func() error) {
	s.processingMutex.Lock()
	if s.isProcessing {
		s.logger.Debug("Skipping job execution - previous job still running", slog.String("job", jobName))
		s.processingMutex.Unlock()
		return
	}
	s.isProcessing = true
	s.processingMutex.Unlock()

	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("Panic recovered in background job",
				slog.String("job", jobName),
				slog.Any("panic", r))
		}

		s.processingMutex.Lock()
		s.isProcessing = false
		s.processingMutex.Unlock()
	}()

	if err := jobFunc(); err != nil {
		s.logger.Error("Error executing job", slog.String("job", jobName), slog.Any("error", err))
	}
}

// Start begins all background jobs
func (s *Scheduler) Start() error {
	if !s.enabled {
		s.logger.Info("Background jobs are disabled.")
		return nil
	}

	if s.isRunning {
		s.logger.Info("Background jobs already running.")
		return nil
	}

	s.logger.Info("Starting background jobs...")

	s.isRunning = true

	s.startAggregationJob()
	s.startLimiterSweepJob()
	s.startRetentionJob()

	s.logger.Info("Background jobs started",
		slog.Bool("enabled", s.enabled),
		slog.Bool("isRunning", s.isRunning))

	return nil
}

func (s *Scheduler) startAggregationJob() {
	interval := time.Duration(s.cfg.JobIntervalSeconds) * time.Second
	s.logger.Info("Starting aggregation job", slog.Duration("interval", interval))
	s.aggregationTicker = time.NewTicker(interval)

	go func() {
		// Run initial execution to catch up on anything pending
		s.logger.Info("Running initial aggregation...")
		s.executeJobSafely("aggregation", s.runAggregation)

		for {
			select {
			case <-s.aggregationTicker.C:
				s.executeJobSafely("aggregation", s.runAggregation)
			case <-s.ctx.Done():
				s.logger.Info("Aggregation job stopped")
				return
			}
		}
	}()
}

// runAggregation adapts the aggregator to the job interface. A run already
// in flight (e.g. triggered manually through the admin API) is not an error
// for the scheduler.
func (s *Scheduler) runAggregation() error {
	_, err := s.aggregator.Run()
	if err == aggregation.ErrAlreadyRunning {
		s.logger.Debug("Skipping scheduled aggregation - a run is already in progress")
		return nil
	}
	return err
}

func (s *Scheduler) startLimiterSweepJob() {
	s.logger.Info("Starting rate limiter sweep job", slog.Duration("interval", limiterSweepInterval))
	s.sweepTicker = time.NewTicker(limiterSweepInterval)

	go func() {
		for {
			select {
			case <-s.sweepTicker.C:
				removed := s.limiter.Sweep()
				if removed > 0 {
					s.logger.Debug("Swept expired rate limit windows", slog.Int("removed", removed))
				}
			case <-s.ctx.Done():
				s.logger.Info("Rate limiter sweep job stopped")
				return
			}
		}
	}()
}

func (s *Scheduler) startRetentionJob() {
	interval := 24 * time.Hour
	s.logger.Info("Starting stats retention job", slog.Duration("interval", interval))
	s.retentionTicker = time.NewTicker(interval)

	go func() {
		// Run initial retention pass
		if err := s.retentionJob.Run(); err != nil {
			s.logger.Error("Error in initial retention job", slog.Any("error", err))
		}

		for {
			select {
			case <-s.retentionTicker.C:
				if err := s.retentionJob.Run(); err != nil {
					s.logger.Error("Error in retention job", slog.Any("error", err))
				}
			case <-s.ctx.Done():
				s.logger.Info("Retention job stopped")
				return
			}
		}
	}()
}

// Stop halts all background jobs.
// Implements cartridge.BackgroundWorker interface.
func (s *Scheduler) Stop() {
	s.logger.Info("Stopping background jobs...")
	s.enabled = false

	if s.aggregationTicker != nil {
		s.aggregationTicker.Stop()
	}
	if s.sweepTicker != nil {
		s.sweepTicker.Stop()
	}
	if s.retentionTicker != nil {
		s.retentionTicker.Stop()
	}

	s.cancel()
	s.isRunning = false
	s.logger.Info("Background jobs stopped")
}

// IsRunning returns whether jobs are currently running
func (s *Scheduler) IsRunning() bool {
	return s.isRunning
}
