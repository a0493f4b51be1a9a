package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zfogg/vidlayer/internal/earnings"
	"github.com/zfogg/vidlayer/internal/payouts"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeEarnings struct {
	mu         sync.Mutex
	calculated [][2]time.Time
	finalized  []time.Time
	err        error
}

func (f *fakeEarnings) CalculateAll(ctx context.Context, start, end time.Time) (*earnings.RunSummary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calculated = append(f.calculated, [2]time.Time{start, end})
	if f.err != nil {
		return nil, f.err
	}
	return &earnings.RunSummary{Creators: 2, Updated: 2}, nil
}

func (f *fakeEarnings) FinalizeAll(ctx context.Context, before time.Time) (*earnings.RunSummary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.finalized = append(f.finalized, before)
	return &earnings.RunSummary{Updated: 1}, nil
}

type fakePayouts struct {
	calls      atomic.Int32
	recovers   atomic.Int32
	recoverErr error
}

func (f *fakePayouts) RecoverStuck(ctx context.Context) (int, error) {
	f.recovers.Add(1)
	return 0, f.recoverErr
}

func (f *fakePayouts) ProcessPending(ctx context.Context) (*payouts.ProcessSummary, error) {
	f.calls.Add(1)
	return &payouts.ProcessSummary{Processed: 1, Completed: 1}, nil
}

type fakeImports struct {
	calls atomic.Int32
}

func (f *fakeImports) Recover(ctx context.Context) (int, error) {
	f.calls.Add(1)
	return 0, nil
}

func TestEarningsJobUsesCurrentMonth(t *testing.T) {
	runner := &fakeEarnings{}
	now := func() time.Time { return time.Date(2024, 3, 17, 15, 4, 5, 0, time.UTC) }

	job := EarningsJob(runner, time.Hour, now)
	require.NoError(t, job.Run(context.Background()))

	require.Len(t, runner.calculated, 1)
	assert.Equal(t, time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), runner.calculated[0][0])
	assert.Equal(t, time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC), runner.calculated[0][1])
	require.Len(t, runner.finalized, 1)
	assert.Equal(t, time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), runner.finalized[0])
}

func TestEarningsJobStopsOnCalculationError(t *testing.T) {
	runner := &fakeEarnings{err: errors.New("db down")}

	job := EarningsJob(runner, time.Hour, nil)
	assert.Error(t, job.Run(context.Background()))
	assert.Empty(t, runner.finalized)
}

func TestPayoutsJobRecoversBeforeSending(t *testing.T) {
	pay := &fakePayouts{}
	job := PayoutsJob(pay, time.Minute)
	require.NoError(t, job.Run(context.Background()))
	assert.Equal(t, int32(1), pay.recovers.Load())
	assert.Equal(t, int32(1), pay.calls.Load())

	pay.recoverErr = errors.New("db down")
	assert.Error(t, job.Run(context.Background()))
	assert.Equal(t, int32(1), pay.calls.Load())
}

func TestSchedulerRunsJobsAndStops(t *testing.T) {
	pay := &fakePayouts{}
	imports := &fakeImports{}

	s := New(
		PayoutsJob(pay, 10*time.Millisecond),
		ImportRecoveryJob(imports, time.Hour),
	)
	s.Start()

	require.Eventually(t, func() bool { return pay.calls.Load() >= 3 }, time.Second, 5*time.Millisecond)
	s.Stop()
	s.Stop()

	// Runs immediately, then waits for the hourly tick
	assert.Equal(t, int32(1), imports.calls.Load())

	after := pay.calls.Load()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, after, pay.calls.Load())
}

func TestSchedulerSkipsJobsWithoutInterval(t *testing.T) {
	s := New(Job{Name: "never", Run: func(context.Context) error { return nil }})
	assert.Empty(t, s.jobs)
	s.Start()
	s.Stop()
}

func TestSchedulerSurvivesPanics(t *testing.T) {
	var calls atomic.Int32
	s := New(Job{
		Name:     "flaky",
		Interval: 5 * time.Millisecond,
		Run: func(context.Context) error {
			if calls.Add(1) == 1 {
				panic("boom")
			}
			return nil
		},
	})
	s.Start()
	require.Eventually(t, func() bool { return calls.Load() >= 2 }, time.Second, 5*time.Millisecond)
	s.Stop()
}

func TestJobContextCancelledOnStop(t *testing.T) {
	started := make(chan struct{})
	var cancelled atomic.Bool
	s := New(Job{
		Name:     "slow",
		Interval: time.Hour,
		Run: func(ctx context.Context) error {
			close(started)
			<-ctx.Done()
			cancelled.Store(true)
			return ctx.Err()
		},
	})
	s.Start()
	<-started
	s.Stop()
	assert.True(t, cancelled.Load())
}
