package jobs

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func setupQueue(t *testing.T) (*Queue, *miniredis.Miniredis) {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return NewQueue(client, time.Hour, zaptest.NewLogger(t)), mr
}

type testPayload struct {
	Value string `json:"value"`
}

func mustJob(t *testing.T, queue, id string, payload any) Job {
	t.Helper()
	job, err := NewJob(queue, id, payload)
	require.NoError(t, err)
	return job
}

func TestEnqueuePop(t *testing.T) {
	ctx := context.Background()

	t.Run("due job round-trips through the ready list", func(t *testing.T) {
		q, _ := setupQueue(t)

		in := mustJob(t, "persist-bid", "bid:1", testPayload{Value: "a"})
		require.NoError(t, q.Enqueue(ctx, in))

		out, ok, err := q.Pop(ctx, "persist-bid")
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, in.ID, out.ID)
		assert.Equal(t, DefaultMaxAttempts, out.MaxAttempts)

		var p testPayload
		require.NoError(t, json.Unmarshal(out.Payload, &p))
		assert.Equal(t, "a", p.Value)

		_, ok, err = q.Pop(ctx, "persist-bid")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("same natural id collapses to one job", func(t *testing.T) {
		q, _ := setupQueue(t)

		require.NoError(t, q.Enqueue(ctx, mustJob(t, "persist-bid", "bid:1", testPayload{Value: "first"})))
		require.NoError(t, q.Enqueue(ctx, mustJob(t, "persist-bid", "bid:1", testPayload{Value: "second"})))

		stats, err := q.Stats(ctx, "persist-bid")
		require.NoError(t, err)
		assert.Equal(t, int64(1), stats.Ready)
	})

	t.Run("distinct ids both enqueue", func(t *testing.T) {
		q, _ := setupQueue(t)

		require.NoError(t, q.Enqueue(ctx, mustJob(t, "persist-bid", "bid:1", testPayload{})))
		require.NoError(t, q.Enqueue(ctx, mustJob(t, "persist-bid", "bid:2", testPayload{})))

		stats, err := q.Stats(ctx, "persist-bid")
		require.NoError(t, err)
		assert.Equal(t, int64(2), stats.Ready)
	})

	t.Run("empty id skips dedup", func(t *testing.T) {
		q, _ := setupQueue(t)

		require.NoError(t, q.Enqueue(ctx, mustJob(t, "persist-bid", "", testPayload{})))
		require.NoError(t, q.Enqueue(ctx, mustJob(t, "persist-bid", "", testPayload{})))

		stats, err := q.Stats(ctx, "persist-bid")
		require.NoError(t, err)
		assert.Equal(t, int64(2), stats.Ready)
	})

	t.Run("dedup marker expires with its ttl", func(t *testing.T) {
		q, mr := setupQueue(t)

		require.NoError(t, q.Enqueue(ctx, mustJob(t, "persist-bid", "bid:1", testPayload{})))
		mr.FastForward(2 * time.Hour)
		require.NoError(t, q.Enqueue(ctx, mustJob(t, "persist-bid", "bid:1", testPayload{})))

		stats, err := q.Stats(ctx, "persist-bid")
		require.NoError(t, err)
		assert.Equal(t, int64(2), stats.Ready)
	})

	t.Run("missing queue name is rejected", func(t *testing.T) {
		q, _ := setupQueue(t)
		assert.Error(t, q.Enqueue(ctx, Job{ID: "x"}))
	})
}

func TestDelayedPromotion(t *testing.T) {
	ctx := context.Background()
	q, _ := setupQueue(t)

	job := mustJob(t, "finalize-auction", "finalize:a:1", testPayload{}).At(time.Now().Add(time.Minute))
	require.NoError(t, q.Enqueue(ctx, job))

	stats, err := q.Stats(ctx, "finalize-auction")
	require.NoError(t, err)
	assert.Equal(t, int64(0), stats.Ready)
	assert.Equal(t, int64(1), stats.Delayed)

	// Not due yet.
	moved, err := q.Promote(ctx, "finalize-auction", time.Now())
	require.NoError(t, err)
	assert.Equal(t, int64(0), moved)

	// Due.
	moved, err = q.Promote(ctx, "finalize-auction", time.Now().Add(2*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, int64(1), moved)

	out, ok, err := q.Pop(ctx, "finalize-auction")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, job.ID, out.ID)

	// Promoting again moves nothing.
	moved, err = q.Promote(ctx, "finalize-auction", time.Now().Add(2*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, int64(0), moved)
}

func TestRetryLater(t *testing.T) {
	ctx := context.Background()
	q, _ := setupQueue(t)

	job := mustJob(t, "update-auction-mirror", "auction-mirror:a:3", testPayload{})
	job.Attempts = 1
	require.NoError(t, q.RetryLater(ctx, job, time.Now().Add(time.Second)))

	stats, err := q.Stats(ctx, "update-auction-mirror")
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Delayed)

	moved, err := q.Promote(ctx, "update-auction-mirror", time.Now().Add(2*time.Second))
	require.NoError(t, err)
	assert.Equal(t, int64(1), moved)

	out, ok, err := q.Pop(ctx, "update-auction-mirror")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 1, out.Attempts)
}

func TestDeadLetter(t *testing.T) {
	ctx := context.Background()
	q, _ := setupQueue(t)

	job := mustJob(t, "persist-bid", "bid:9", testPayload{})
	require.NoError(t, q.Enqueue(ctx, job))
	popped, ok, err := q.Pop(ctx, "persist-bid")
	require.NoError(t, err)
	require.True(t, ok)

	popped.Attempts = popped.MaxAttempts
	require.NoError(t, q.DeadLetter(ctx, popped, assert.AnError))

	stats, err := q.Stats(ctx, "persist-bid")
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Dead)

	dead, err := q.DeadJobs(ctx, "persist-bid", 10)
	require.NoError(t, err)
	require.Len(t, dead, 1)
	assert.Equal(t, "bid:9", dead[0].ID)
	assert.Contains(t, dead[0].LastError, assert.AnError.Error())

	// Dead-lettering releases the dedup marker so the same natural key can
	// be enqueued again.
	require.NoError(t, q.Enqueue(ctx, mustJob(t, "persist-bid", "bid:9", testPayload{})))
	stats, err = q.Stats(ctx, "persist-bid")
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Ready)
}

func TestMarkDone(t *testing.T) {
	ctx := context.Background()
	q, _ := setupQueue(t)

	job := mustJob(t, "persist-bid", "bid:5", testPayload{})
	require.NoError(t, q.Enqueue(ctx, job))
	popped, ok, err := q.Pop(ctx, "persist-bid")
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, q.MarkDone(ctx, popped))

	stats, err := q.Stats(ctx, "persist-bid")
	require.NoError(t, err)
	assert.Equal(t, int64(0), stats.Ready)
	assert.Equal(t, int64(1), stats.Done)

	// Completion keeps the dedup marker: replays inside the window stay
	// no-ops.
	require.NoError(t, q.Enqueue(ctx, mustJob(t, "persist-bid", "bid:5", testPayload{})))
	stats, err = q.Stats(ctx, "persist-bid")
	require.NoError(t, err)
	assert.Equal(t, int64(0), stats.Ready)
}

func TestPopParksUndecodableEntries(t *testing.T) {
	ctx := context.Background()
	q, mr := setupQueue(t)

	_, err := mr.Push(readyKey("persist-bid"), "{not json")
	require.NoError(t, err)

	_, ok, err := q.Pop(ctx, "persist-bid")
	assert.Error(t, err)
	assert.False(t, ok)

	stats, err := q.Stats(ctx, "persist-bid")
	require.NoError(t, err)
	assert.Equal(t, int64(0), stats.Ready)
	assert.Equal(t, int64(1), stats.Dead)
}
