package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/therealutkarshpriyadarshi/videocontent/internal/cache"
	"github.com/therealutkarshpriyadarshi/videocontent/internal/logging"
	"github.com/therealutkarshpriyadarshi/videocontent/internal/metrics"
)

// JobMaintainer is the part of the job queue the scheduler maintains
type JobMaintainer interface {
	ReapStuck(ctx context.Context, timeout time.Duration) (int, error)
	RefreshGauges(ctx context.Context) error
}

// Locker elects a single reaper across worker processes
type Locker interface {
	AcquireLock(ctx context.Context, resource string, ttl time.Duration) (*cache.Lock, error)
	ReleaseLock(ctx context.Context, lock *cache.Lock) error
}

const reapLockResource = "scheduler:reap"

// Scheduler periodically force-fails jobs stuck in processing and samples
// the queue gauges
type Scheduler struct {
	jobs       JobMaintainer
	locker     Locker
	jobTimeout time.Duration
	interval   time.Duration
	logger     *logging.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewScheduler creates a scheduler. locker may be nil when only one worker
// process runs.
func NewScheduler(jobs JobMaintainer, locker Locker, jobTimeout, interval time.Duration, logger *logging.Logger) *Scheduler {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	ctx, cancel := context.WithCancel(context.Background())

	return &Scheduler{
		jobs:       jobs,
		locker:     locker,
		jobTimeout: jobTimeout,
		interval:   interval,
		logger:     logger,
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Start begins the scheduler
func (s *Scheduler) Start() {
	s.wg.Add(1)
	go s.loop()
	s.logger.Infof("Scheduler started, reaping jobs processing longer than %s", s.jobTimeout)
}

// Stop stops the scheduler and waits for a running pass to finish
func (s *Scheduler) Stop() {
	s.cancel()
	s.wg.Wait()
	s.logger.Info("Scheduler stopped")
}

func (s *Scheduler) loop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.RunOnce(s.ctx); err != nil {
				s.logger.WithError(err).Error("Scheduler pass failed")
			}
		}
	}
}

// RunOnce reaps stuck jobs and refreshes the queue gauges. It returns the
// number of jobs reaped; zero when another process holds the reap lock.
func (s *Scheduler) RunOnce(ctx context.Context) (int, error) {
	if err := s.jobs.RefreshGauges(ctx); err != nil {
		s.logger.WithError(err).Warn("Failed to refresh queue gauges")
	}

	if s.locker != nil {
		lock, err := s.locker.AcquireLock(ctx, reapLockResource, s.interval)
		if err != nil {
			return 0, err
		}
		if lock == nil {
			s.logger.Debug("Reap lock held elsewhere, skipping")
			return 0, nil
		}
		defer func() {
			if err := s.locker.ReleaseLock(context.WithoutCancel(ctx), lock); err != nil {
				s.logger.WithError(err).Warn("Failed to release reap lock")
			}
		}()
	}

	reaped, err := s.jobs.ReapStuck(ctx, s.jobTimeout)
	if reaped > 0 {
		metrics.JobsReapedTotal.Add(float64(reaped))
		s.logger.Warnf("Reaped %d stuck jobs", reaped)
	}
	return reaped, err
}
