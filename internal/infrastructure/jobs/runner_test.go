package jobs

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func testRunnerConfig() RunnerConfig {
	return RunnerConfig{Workers: 2, PollInterval: 10 * time.Millisecond}
}

func TestRunnerExecutesJobs(t *testing.T) {
	ctx := context.Background()
	q, _ := setupQueue(t)

	var handled atomic.Int64
	runner := NewRunner(q, testRunnerConfig(), zaptest.NewLogger(t))
	runner.Register("persist-bid", func(_ context.Context, job Job) error {
		handled.Add(1)
		return nil
	})
	require.NoError(t, runner.Start(ctx))
	t.Cleanup(func() { _ = runner.Stop(context.Background()) })

	for i := 0; i < 5; i++ {
		require.NoError(t, q.Enqueue(ctx, mustJob(t, "persist-bid", "", testPayload{})))
	}

	require.Eventually(t, func() bool { return handled.Load() == 5 }, 3*time.Second, 10*time.Millisecond)

	stats, err := q.Stats(ctx, "persist-bid")
	require.NoError(t, err)
	assert.Equal(t, int64(0), stats.Ready)
	assert.Equal(t, int64(5), stats.Done)
}

func TestRunnerRetriesFailedJobs(t *testing.T) {
	ctx := context.Background()
	q, _ := setupQueue(t)

	var calls atomic.Int64
	runner := NewRunner(q, testRunnerConfig(), zaptest.NewLogger(t))
	runner.Register("update-auction-mirror", func(_ context.Context, job Job) error {
		if calls.Add(1) == 1 {
			return errors.New("mirror write lost a race")
		}
		return nil
	})
	require.NoError(t, runner.Start(ctx))
	t.Cleanup(func() { _ = runner.Stop(context.Background()) })

	require.NoError(t, q.Enqueue(ctx, mustJob(t, "update-auction-mirror", "auction-mirror:a:1", testPayload{})))

	// First attempt fails, backoff parks it delayed, the promoter brings it
	// back and the second attempt succeeds.
	require.Eventually(t, func() bool { return calls.Load() >= 2 }, 5*time.Second, 20*time.Millisecond)

	require.Eventually(t, func() bool {
		stats, err := q.Stats(ctx, "update-auction-mirror")
		return err == nil && stats.Done == 1 && stats.Ready == 0 && stats.Delayed == 0
	}, 3*time.Second, 20*time.Millisecond)
}

func TestRunnerDeadLettersAfterMaxAttempts(t *testing.T) {
	ctx := context.Background()
	q, _ := setupQueue(t)

	var calls atomic.Int64
	runner := NewRunner(q, testRunnerConfig(), zaptest.NewLogger(t))
	runner.Register("persist-bid", func(_ context.Context, job Job) error {
		calls.Add(1)
		return errors.New("always fails")
	})
	require.NoError(t, runner.Start(ctx))
	t.Cleanup(func() { _ = runner.Stop(context.Background()) })

	job := mustJob(t, "persist-bid", "bid:doomed", testPayload{})
	job.MaxAttempts = 1
	require.NoError(t, q.Enqueue(ctx, job))

	require.Eventually(t, func() bool {
		stats, err := q.Stats(ctx, "persist-bid")
		return err == nil && stats.Dead == 1
	}, 3*time.Second, 20*time.Millisecond)

	assert.Equal(t, int64(1), calls.Load())

	dead, err := q.DeadJobs(ctx, "persist-bid", 1)
	require.NoError(t, err)
	require.Len(t, dead, 1)
	assert.Equal(t, "bid:doomed", dead[0].ID)
	assert.Equal(t, 1, dead[0].Attempts)
	assert.Contains(t, dead[0].LastError, "always fails")
}

func TestRunnerStopWaitsForInFlight(t *testing.T) {
	ctx := context.Background()
	q, _ := setupQueue(t)

	release := make(chan struct{})
	var finished atomic.Bool
	runner := NewRunner(q, testRunnerConfig(), zaptest.NewLogger(t))
	runner.Register("persist-bid", func(_ context.Context, job Job) error {
		<-release
		finished.Store(true)
		return nil
	})
	require.NoError(t, runner.Start(ctx))

	require.NoError(t, q.Enqueue(ctx, mustJob(t, "persist-bid", "", testPayload{})))

	// Give a worker time to pick the job up, then stop while it is blocked.
	time.Sleep(100 * time.Millisecond)
	go func() {
		time.Sleep(100 * time.Millisecond)
		close(release)
	}()

	stopCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	require.NoError(t, runner.Stop(stopCtx))
	assert.True(t, finished.Load())
}

func TestRunnerStartValidation(t *testing.T) {
	q, _ := setupQueue(t)
	runner := NewRunner(q, testRunnerConfig(), zaptest.NewLogger(t))

	// No handlers registered.
	assert.Error(t, runner.Start(context.Background()))

	runner.Register("persist-bid", func(context.Context, Job) error { return nil })
	require.NoError(t, runner.Start(context.Background()))
	t.Cleanup(func() { _ = runner.Stop(context.Background()) })

	// Double start.
	assert.Error(t, runner.Start(context.Background()))
}

func TestRetryDelayBounds(t *testing.T) {
	for attempt := 1; attempt <= 20; attempt++ {
		d := retryDelay(attempt)
		assert.GreaterOrEqual(t, d, backoffBase, "attempt %d", attempt)
		assert.LessOrEqual(t, d, backoffCap+backoffCap/4, "attempt %d", attempt)
	}

	// Early attempts stay in the doubling region.
	assert.Less(t, retryDelay(1), 2*backoffBase)
	assert.GreaterOrEqual(t, retryDelay(3), 4*backoffBase)
}
