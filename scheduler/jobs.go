package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/go-co-op/gocron"
	"go.uber.org/zap"
)

// Scheduler manages the scheduled jobs
type Scheduler struct {
	cron           *gocron.Scheduler
	runner         *CycleRunner
	poller         *SnapshotPoller
	cyclePeriod    time.Duration
	snapshotPeriod time.Duration
	cancel         context.CancelFunc
	logger         *zap.SugaredLogger
}

// NewScheduler creates a new scheduler instance. poller may be nil.
func NewScheduler(runner *CycleRunner, poller *SnapshotPoller, cyclePeriod, snapshotPeriod time.Duration, logger *zap.SugaredLogger) *Scheduler {
	return &Scheduler{
		cron:           gocron.NewScheduler(time.UTC),
		runner:         runner,
		poller:         poller,
		cyclePeriod:    cyclePeriod,
		snapshotPeriod: snapshotPeriod,
		logger:         logger.Named("scheduler"),
	}
}

// Start starts all scheduled jobs. Jobs stop when ctx ends or Stop is called.
func (s *Scheduler) Start(ctx context.Context) error {
	s.logger.Info("Starting scheduler...")
	ctx, s.cancel = context.WithCancel(ctx)

	// Feed cycle; the runner's own guard makes overlapping ticks no-ops
	if _, err := s.cron.Every(s.cyclePeriod).Do(func() {
		s.runner.RunCycle(ctx)
	}); err != nil {
		return fmt.Errorf("failed to schedule feed cycle: %w", err)
	}

	// Snapshot poller
	if s.poller != nil {
		if _, err := s.cron.Every(s.snapshotPeriod).Do(func() {
			s.poller.Run(ctx)
		}); err != nil {
			return fmt.Errorf("failed to schedule snapshot poller: %w", err)
		}
	}

	s.cron.StartAsync()
	s.logger.Infof("Scheduler started successfully (cycle every %v, snapshot every %v)", s.cyclePeriod, s.snapshotPeriod)
	return nil
}

// Stop stops the scheduler and waits for triggered cycles to return
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.cron.Stop()
	s.runner.Wait()
	s.logger.Info("Scheduler stopped")
}
