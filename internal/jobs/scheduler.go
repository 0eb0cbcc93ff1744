package jobs

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"visitorlens/internal/config"
)

// Scheduler runs background jobs on fixed intervals. It implements
// cartridge.BackgroundWorker.
type Scheduler struct {
	logger    *slog.Logger
	ctx       context.Context
	cancel    context.CancelFunc
	enabled   bool
	isRunning bool
	interval  time.Duration

	// Mutex to prevent concurrent job executions
	processingMutex sync.Mutex
	isProcessing    bool

	cleanupJob    *CleanupJob
	cleanupTicker *time.Ticker
	wg            sync.WaitGroup
}

func NewScheduler(dbManager Connection, logger *slog.Logger, cfg *config.Config) (*Scheduler, error) {
	ctx, cancel := context.WithCancel(context.Background())

	interval := time.Duration(cfg.JobIntervalSeconds) * time.Second
	if interval <= 0 {
		interval = time.Hour
	}

	return &Scheduler{
		logger:     logger,
		ctx:        ctx,
		cancel:     cancel,
		enabled:    true,
		interval:   interval,
		cleanupJob: NewCleanupJob(dbManager, logger, cfg.RunsRetentionDays),
	}, nil
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

	s.isRunning = true
	s.startCleanupJob()

	s.logger.Info("Background jobs started", slog.Duration("interval", s.interval))
	return nil
}

func (s *Scheduler) startCleanupJob() {
	s.cleanupTicker = time.NewTicker(s.interval)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		s.executeJobSafely("runs_cleanup", s.cleanupJob.Run)

		for {
			select {
			case <-s.cleanupTicker.C:
				s.executeJobSafely("runs_cleanup", s.cleanupJob.Run)
			case <-s.ctx.Done():
				s.logger.Info("Cleanup job stopped")
				return
			}
		}
	}()
}

// Stop halts all background jobs and waits for the running one to return.
func (s *Scheduler) Stop() {
	s.logger.Info("Stopping background jobs...")
	s.enabled = false

	if s.cleanupTicker != nil {
		s.cleanupTicker.Stop()
	}

	s.cancel()
	s.wg.Wait()
	s.isRunning = false
	s.logger.Info("Background jobs stopped")
}

// IsRunning returns whether jobs are currently running
func (s *Scheduler) IsRunning() bool {
	return s.isRunning
}

// PruneRuns runs the retention cleanup immediately.
func (s *Scheduler) PruneRuns() error {
	return s.cleanupJob.Run()
}
