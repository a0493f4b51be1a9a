// Package scheduler runs the server's periodic background jobs: earnings
// recalculation, payout processing and import recovery.
package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/zfogg/vidlayer/internal/earnings"
	"github.com/zfogg/vidlayer/internal/logger"
	"github.com/zfogg/vidlayer/internal/metrics"
	"github.com/zfogg/vidlayer/internal/payouts"
	"go.uber.org/zap"
)

var errPanicked = errors.New("scheduled job panicked")

// Job is one periodic task. Run gets a context that is cancelled when the
// scheduler stops or the run exceeds its interval.
type Job struct {
	Name     string
	Interval time.Duration
	Run      func(ctx context.Context) error
}

// Scheduler runs each job on its own ticker
type Scheduler struct {
	jobs   []Job
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	once   sync.Once
}

// New creates a scheduler for jobs. Jobs with a non-positive interval are
// skipped.
func New(jobs ...Job) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{ctx: ctx, cancel: cancel}
	for _, job := range jobs {
		if job.Interval <= 0 || job.Run == nil {
			logger.Log.Warn("Skipping scheduled job without interval", zap.String("job", job.Name))
			continue
		}
		s.jobs = append(s.jobs, job)
	}
	return s
}

// Start launches every job. Each job runs once immediately.
func (s *Scheduler) Start() {
	for _, job := range s.jobs {
		logger.Log.Info("Starting scheduled job",
			zap.String("job", job.Name),
			zap.Duration("interval", job.Interval),
		)
		s.wg.Add(1)
		go s.loop(job)
	}
}

// Stop cancels running jobs and waits for them to return
func (s *Scheduler) Stop() {
	s.once.Do(func() {
		s.cancel()
		s.wg.Wait()
		logger.Log.Info("Scheduler stopped")
	})
}

func (s *Scheduler) loop(job Job) {
	defer s.wg.Done()

	s.runOnce(job)

	ticker := time.NewTicker(job.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.runOnce(job)
		case <-s.ctx.Done():
			return
		}
	}
}

func (s *Scheduler) runOnce(job Job) {
	if s.ctx.Err() != nil {
		return
	}
	ctx, cancel := context.WithTimeout(s.ctx, job.Interval)
	defer cancel()

	start := time.Now()
	err := safeRun(ctx, job)
	status := "ok"
	if err != nil {
		status = "error"
		logger.Log.Error("Scheduled job failed",
			zap.String("job", job.Name),
			zap.Duration("duration", time.Since(start)),
			zap.Error(err),
		)
	} else {
		logger.Log.Debug("Scheduled job finished",
			zap.String("job", job.Name),
			zap.Duration("duration", time.Since(start)),
		)
	}
	metrics.Get().SchedulerRunsTotal.WithLabelValues(job.Name, status).Inc()
}

// safeRun keeps a panicking job from taking the server down
func safeRun(ctx context.Context, job Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			logger.Log.Error("Scheduled job panicked", zap.String("job", job.Name), zap.Any("panic", r))
			err = errPanicked
		}
	}()
	return job.Run(ctx)
}

// EarningsRunner is the part of earnings.Service the scheduler drives
type EarningsRunner interface {
	CalculateAll(ctx context.Context, start, end time.Time) (*earnings.RunSummary, error)
	FinalizeAll(ctx context.Context, before time.Time) (*earnings.RunSummary, error)
}

// EarningsJob recalculates the current month for every active creator and
// finalizes open periods that ended before it
func EarningsJob(runner EarningsRunner, interval time.Duration, now func() time.Time) Job {
	if now == nil {
		now = time.Now
	}
	return Job{
		Name:     "earnings",
		Interval: interval,
		Run: func(ctx context.Context) error {
			start, end := earnings.MonthBounds(now())
			summary, err := runner.CalculateAll(ctx, start, end)
			if err != nil {
				return err
			}
			finalized, err := runner.FinalizeAll(ctx, start)
			if err != nil {
				return err
			}
			logger.Log.Info("Earnings run complete",
				zap.Time("period_start", start),
				zap.Int("creators", summary.Creators),
				zap.Int("updated", summary.Updated),
				zap.Int("failed", summary.Failed),
				zap.Int("finalized", finalized.Updated),
			)
			return nil
		},
	}
}

// PayoutProcessor is the part of payouts.Service the scheduler drives
type PayoutProcessor interface {
	RecoverStuck(ctx context.Context) (int, error)
	ProcessPending(ctx context.Context) (*payouts.ProcessSummary, error)
}

// PayoutsJob requeues payouts abandoned in processing, then sends due
// payouts
func PayoutsJob(processor PayoutProcessor, interval time.Duration) Job {
	return Job{
		Name:     "payouts",
		Interval: interval,
		Run: func(ctx context.Context) error {
			if _, err := processor.RecoverStuck(ctx); err != nil {
				return err
			}
			summary, err := processor.ProcessPending(ctx)
			if err != nil {
				return err
			}
			if summary.Processed > 0 {
				logger.Log.Info("Payout run complete",
					zap.Int("processed", summary.Processed),
					zap.Int("completed", summary.Completed),
					zap.Int("manual", summary.Manual),
					zap.Int("retrying", summary.Retrying),
					zap.Int("failed", summary.Failed),
				)
			}
			return nil
		},
	}
}

// ImportRecoverer re-enqueues stuck or orphaned import jobs
type ImportRecoverer interface {
	Recover(ctx context.Context) (int, error)
}

// ImportRecoveryJob picks up imports lost to a restart or a dead worker
func ImportRecoveryJob(recoverer ImportRecoverer, interval time.Duration) Job {
	return Job{
		Name:     "import_recovery",
		Interval: interval,
		Run: func(ctx context.Context) error {
			_, err := recoverer.Recover(ctx)
			return err
		},
	}
}

// AlertEvaluator checks alert rules once
type AlertEvaluator interface {
	Evaluate(ctx context.Context) (int, error)
}

// AlertsJob evaluates operator alert rules
func AlertsJob(evaluator AlertEvaluator, interval time.Duration) Job {
	return Job{
		Name:     "alerts",
		Interval: interval,
		Run: func(ctx context.Context) error {
			_, err := evaluator.Evaluate(ctx)
			return err
		},
	}
}
