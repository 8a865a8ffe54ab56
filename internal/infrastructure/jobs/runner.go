package jobs

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"time"

	"go.uber.org/zap"
)

// HandlerFunc processes one job. A nil return completes the job; an error
// schedules a retry until the job's attempt budget is spent.
type HandlerFunc func(ctx context.Context, job Job) error

// RunnerConfig sizes the worker pool.
type RunnerConfig struct {
	Workers      int
	PollInterval time.Duration
}

func DefaultRunnerConfig() RunnerConfig {
	return RunnerConfig{
		Workers:      4,
		PollInterval: 100 * time.Millisecond,
	}
}

// Retry backoff bounds: 1s, 2s, 4s, ... capped at 5m, with jitter so a
// burst of failures does not come back as a burst of retries.
const (
	backoffBase = time.Second
	backoffCap  = 5 * time.Minute
)

// Runner drains registered queues with a worker pool per queue plus one
// promoter goroutine per queue moving due delayed jobs to ready.
type Runner struct {
	queue  *Queue
	config RunnerConfig
	logger *zap.Logger

	handlers map[string]HandlerFunc

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started bool
}

func NewRunner(queue *Queue, config RunnerConfig, logger *zap.Logger) *Runner {
	if config.Workers <= 0 {
		config.Workers = DefaultRunnerConfig().Workers
	}
	if config.PollInterval <= 0 {
		config.PollInterval = DefaultRunnerConfig().PollInterval
	}
	return &Runner{
		queue:    queue,
		config:   config,
		logger:   logger,
		handlers: make(map[string]HandlerFunc),
	}
}

// Register binds a handler to a queue name. Must be called before Start.
func (r *Runner) Register(queue string, h HandlerFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started {
		panic("jobs: Register after Start")
	}
	r.handlers[queue] = h
}

// Start launches workers and promoters. It returns immediately; work stops
// when Stop is called or the given context is cancelled.
func (r *Runner) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started {
		return errors.New("jobs: runner already started")
	}
	if len(r.handlers) == 0 {
		return errors.New("jobs: no handlers registered")
	}
	r.started = true

	runCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel

	for queue := range r.handlers {
		r.wg.Add(1)
		go r.promoteLoop(runCtx, queue)
		for i := 0; i < r.config.Workers; i++ {
			r.wg.Add(1)
			go r.workLoop(runCtx, queue)
		}
	}

	r.logger.Info("job runner started",
		zap.Int("queues", len(r.handlers)),
		zap.Int("workers_per_queue", r.config.Workers),
		zap.Duration("poll_interval", r.config.PollInterval))
	return nil
}

// Stop halts intake and waits for in-flight jobs, up to the context
// deadline. Jobs still on the ready list are picked up by the next runner.
func (r *Runner) Stop(ctx context.Context) error {
	r.mu.Lock()
	cancel := r.cancel
	r.mu.Unlock()
	if cancel == nil {
		return nil
	}
	cancel()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		r.logger.Info("job runner drained")
		return nil
	case <-ctx.Done():
		r.logger.Warn("job runner shutdown timed out")
		return ctx.Err()
	}
}

func (r *Runner) promoteLoop(ctx context.Context, queue string) {
	defer r.wg.Done()

	ticker := time.NewTicker(r.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := r.queue.Promote(ctx, queue, time.Now()); err != nil && ctx.Err() == nil {
				r.logger.Error("promote failed", zap.String("queue", queue), zap.Error(err))
			}
		}
	}
}

func (r *Runner) workLoop(ctx context.Context, queue string) {
	defer r.wg.Done()

	handler := r.handlers[queue]
	ticker := time.NewTicker(r.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		// Drain everything due before sleeping again.
		for {
			if ctx.Err() != nil {
				return
			}
			job, ok, err := r.queue.Pop(ctx, queue)
			if err != nil {
				if ctx.Err() == nil {
					r.logger.Error("pop failed", zap.String("queue", queue), zap.Error(err))
				}
				break
			}
			if !ok {
				break
			}
			r.execute(ctx, handler, job)
		}
	}
}

func (r *Runner) execute(ctx context.Context, handler HandlerFunc, job Job) {
	start := time.Now()
	err := handler(ctx, job)
	if err == nil {
		if markErr := r.queue.MarkDone(ctx, job); markErr != nil && ctx.Err() == nil {
			r.logger.Warn("mark done failed",
				zap.String("queue", job.Queue),
				zap.String("job_id", job.ID),
				zap.Error(markErr))
		}
		r.logger.Debug("job done",
			zap.String("queue", job.Queue),
			zap.String("job_id", job.ID),
			zap.Duration("took", time.Since(start)))
		return
	}

	// Shutdown while a handler held the job: put it straight back so the
	// next runner retries without burning an attempt.
	if ctx.Err() != nil {
		requeueCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if reErr := r.queue.RetryLater(requeueCtx, job, time.Now()); reErr != nil {
			r.logger.Error("requeue on shutdown failed",
				zap.String("queue", job.Queue),
				zap.String("job_id", job.ID),
				zap.Error(reErr))
		}
		return
	}

	job.Attempts++
	job.LastError = err.Error()
	if job.Attempts >= job.MaxAttempts {
		r.logger.Error("job dead-lettered",
			zap.String("queue", job.Queue),
			zap.String("job_id", job.ID),
			zap.Int("attempts", job.Attempts),
			zap.Error(err))
		if dlErr := r.queue.DeadLetter(ctx, job, err); dlErr != nil {
			r.logger.Error("dead letter failed",
				zap.String("queue", job.Queue),
				zap.String("job_id", job.ID),
				zap.Error(dlErr))
		}
		return
	}

	delay := retryDelay(job.Attempts)
	r.logger.Warn("job failed, retrying",
		zap.String("queue", job.Queue),
		zap.String("job_id", job.ID),
		zap.Int("attempt", job.Attempts),
		zap.Duration("retry_in", delay),
		zap.Error(err))
	if reErr := r.queue.RetryLater(ctx, job, time.Now().Add(delay)); reErr != nil {
		r.logger.Error("retry enqueue failed",
			zap.String("queue", job.Queue),
			zap.String("job_id", job.ID),
			zap.Error(reErr))
	}
}

// retryDelay doubles per attempt from backoffBase up to backoffCap, then
// adds up to 25% jitter.
func retryDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := backoffBase
	for i := 1; i < attempt && delay < backoffCap; i++ {
		delay *= 2
	}
	if delay > backoffCap {
		delay = backoffCap
	}
	jitter := time.Duration(rand.Int63n(int64(delay)/4 + 1))
	return delay + jitter
}
