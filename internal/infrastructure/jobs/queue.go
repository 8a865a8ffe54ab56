package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Retention windows for the terminal sets. Dead letters stay long enough
// for an operator to inspect and requeue; the done set only feeds metrics.
const (
	deadRetention = 7 * 24 * time.Hour
	doneRetention = time.Hour
)

// promoteBatch bounds how many delayed jobs a single promoter pass moves.
const promoteBatch = 128

// Queue is a durable at-least-once job queue on Redis. Per queue name q it
// keeps:
//
//	jobs:{q}:ready     LIST  - due jobs, RPUSH by producers, LPOP by workers
//	jobs:{q}:delayed   ZSET  - score = run-at ms
//	jobs:{q}:ids:{id}  STR   - dedup marker per natural job id, TTL-bound
//	jobs:{q}:dead      ZSET  - exhausted jobs, score = failed-at ms
//	jobs:{q}:done      ZSET  - job ids, score = done-at ms
type Queue struct {
	client   *redis.Client
	dedupTTL time.Duration
	logger   *zap.Logger
}

func NewQueue(client *redis.Client, dedupTTL time.Duration, logger *zap.Logger) *Queue {
	return &Queue{client: client, dedupTTL: dedupTTL, logger: logger}
}

func readyKey(queue string) string   { return "jobs:" + queue + ":ready" }
func delayedKey(queue string) string { return "jobs:" + queue + ":delayed" }
func deadKey(queue string) string    { return "jobs:" + queue + ":dead" }
func doneKey(queue string) string    { return "jobs:" + queue + ":done" }
func idKey(queue, id string) string  { return "jobs:" + queue + ":ids:" + id }

// Enqueue makes the job durable before the caller's request returns. Jobs
// sharing a natural id within the dedup window collapse into one; a job
// with an empty id is never deduplicated.
func (q *Queue) Enqueue(ctx context.Context, job Job) error {
	if job.Queue == "" {
		return errors.New("job queue name is empty")
	}
	if job.MaxAttempts <= 0 {
		job.MaxAttempts = DefaultMaxAttempts
	}
	if job.EnqueuedAt == 0 {
		job.EnqueuedAt = time.Now().UnixMilli()
	}

	if job.ID != "" {
		set, err := q.client.SetNX(ctx, idKey(job.Queue, job.ID), "1", q.dedupTTL).Result()
		if err != nil {
			return fmt.Errorf("redis job dedup failed: %w", err)
		}
		if !set {
			q.logger.Debug("job already enqueued",
				zap.String("queue", job.Queue),
				zap.String("job_id", job.ID))
			return nil
		}
	}

	raw, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job failed: %w", err)
	}

	if job.RunAt > time.Now().UnixMilli() {
		if err := q.client.ZAdd(ctx, delayedKey(job.Queue), redis.Z{
			Score:  float64(job.RunAt),
			Member: raw,
		}).Err(); err != nil {
			return fmt.Errorf("redis delayed enqueue failed: %w", err)
		}
		return nil
	}

	if err := q.client.RPush(ctx, readyKey(job.Queue), raw).Err(); err != nil {
		return fmt.Errorf("redis enqueue failed: %w", err)
	}
	return nil
}

// Pop takes the next due job off the ready list. The second return is false
// when the list is empty.
func (q *Queue) Pop(ctx context.Context, queue string) (Job, bool, error) {
	raw, err := q.client.LPop(ctx, readyKey(queue)).Result()
	if errors.Is(err, redis.Nil) {
		return Job{}, false, nil
	}
	if err != nil {
		return Job{}, false, fmt.Errorf("redis pop failed: %w", err)
	}

	var job Job
	if err := json.Unmarshal([]byte(raw), &job); err != nil {
		// An undecodable entry can only loop; park it for inspection.
		q.parkRaw(ctx, queue, raw)
		return Job{}, false, fmt.Errorf("decode job failed: %w", err)
	}
	return job, true, nil
}

// Promote moves due delayed jobs onto the ready list, atomically so no
// concurrent promoter doubles a job. Returns how many were moved.
func (q *Queue) Promote(ctx context.Context, queue string, now time.Time) (int64, error) {
	n, err := promoteScript.Run(ctx, q.client,
		[]string{delayedKey(queue), readyKey(queue)},
		now.UnixMilli(), promoteBatch,
	).Int64()
	if err != nil {
		return 0, fmt.Errorf("redis promote failed: %w", err)
	}
	return n, nil
}

// RetryLater reschedules a failed job with its bumped attempt count.
func (q *Queue) RetryLater(ctx context.Context, job Job, runAt time.Time) error {
	job.RunAt = runAt.UnixMilli()
	raw, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job failed: %w", err)
	}
	if err := q.client.ZAdd(ctx, delayedKey(job.Queue), redis.Z{
		Score:  float64(job.RunAt),
		Member: raw,
	}).Err(); err != nil {
		return fmt.Errorf("redis retry enqueue failed: %w", err)
	}
	return nil
}

// MarkDone records completion for metrics and trims records older than an
// hour. The dedup id key is left to expire so replays of the same natural
// key stay no-ops for the rest of the window.
func (q *Queue) MarkDone(ctx context.Context, job Job) error {
	now := time.Now()
	key := doneKey(job.Queue)
	member := job.ID
	if member == "" {
		member = fmt.Sprintf("anon:%d", now.UnixNano())
	}
	pipe := q.client.Pipeline()
	pipe.ZAdd(ctx, key, redis.Z{Score: float64(now.UnixMilli()), Member: member})
	pipe.ZRemRangeByScore(ctx, key, "-inf", fmt.Sprintf("%d", now.Add(-doneRetention).UnixMilli()))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis mark done failed: %w", err)
	}
	return nil
}

// DeadLetter parks a job whose retry budget is spent. The dedup id key is
// removed so an operator (or a later trigger) can enqueue the same natural
// key again after fixing the cause.
func (q *Queue) DeadLetter(ctx context.Context, job Job, cause error) error {
	if cause != nil {
		job.LastError = cause.Error()
	}
	raw, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job failed: %w", err)
	}

	now := time.Now()
	key := deadKey(job.Queue)
	pipe := q.client.Pipeline()
	pipe.ZAdd(ctx, key, redis.Z{Score: float64(now.UnixMilli()), Member: raw})
	pipe.ZRemRangeByScore(ctx, key, "-inf", fmt.Sprintf("%d", now.Add(-deadRetention).UnixMilli()))
	if job.ID != "" {
		pipe.Del(ctx, idKey(job.Queue, job.ID))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis dead letter failed: %w", err)
	}
	return nil
}

// parkRaw dead-letters an entry that could not be decoded as a Job.
func (q *Queue) parkRaw(ctx context.Context, queue, raw string) {
	if err := q.client.ZAdd(ctx, deadKey(queue), redis.Z{
		Score:  float64(time.Now().UnixMilli()),
		Member: raw,
	}).Err(); err != nil {
		q.logger.Error("parking undecodable job failed",
			zap.String("queue", queue),
			zap.Error(err))
	}
}

// QueueStats reports queue depths for metrics and readiness surfaces.
type QueueStats struct {
	Ready   int64
	Delayed int64
	Dead    int64
	Done    int64
}

func (q *Queue) Stats(ctx context.Context, queue string) (QueueStats, error) {
	pipe := q.client.Pipeline()
	ready := pipe.LLen(ctx, readyKey(queue))
	delayed := pipe.ZCard(ctx, delayedKey(queue))
	dead := pipe.ZCard(ctx, deadKey(queue))
	done := pipe.ZCard(ctx, doneKey(queue))
	if _, err := pipe.Exec(ctx); err != nil {
		return QueueStats{}, fmt.Errorf("redis queue stats failed: %w", err)
	}
	return QueueStats{
		Ready:   ready.Val(),
		Delayed: delayed.Val(),
		Dead:    dead.Val(),
		Done:    done.Val(),
	}, nil
}

// DeadJobs returns up to limit parked jobs, newest first.
func (q *Queue) DeadJobs(ctx context.Context, queue string, limit int64) ([]Job, error) {
	raws, err := q.client.ZRevRange(ctx, deadKey(queue), 0, limit-1).Result()
	if err != nil {
		return nil, fmt.Errorf("redis dead range failed: %w", err)
	}
	out := make([]Job, 0, len(raws))
	for _, raw := range raws {
		var job Job
		if err := json.Unmarshal([]byte(raw), &job); err != nil {
			continue
		}
		out = append(out, job)
	}
	return out, nil
}
