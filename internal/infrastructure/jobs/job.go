package jobs

import (
	"encoding/json"
	"time"
)

// Queue names double as handler registration keys. Each queue carries one
// job shape.
const (
	QueuePersistBid   = "persist-bid"
	QueueUpdateMirror = "update-auction-mirror"
	QueueFinalize     = "finalize-auction"
)

// DefaultMaxAttempts applies when a job is enqueued without an explicit
// retry budget.
const DefaultMaxAttempts = 5

// Job is the unit of background work. ID is a natural key (`bid:{bidID}`,
// `auction-mirror:{auctionID}:{totalBids}`, `finalize:{auctionID}:{endMs}`)
// used to coalesce duplicate enqueues; handlers must still be idempotent
// because delivery is at-least-once.
type Job struct {
	ID          string          `json:"id"`
	Queue       string          `json:"queue"`
	Payload     json.RawMessage `json:"payload"`
	Attempts    int             `json:"attempts"`
	MaxAttempts int             `json:"max_attempts"`
	RunAt       int64           `json:"run_at,omitempty"`
	EnqueuedAt  int64           `json:"enqueued_at"`
	LastError   string          `json:"last_error,omitempty"`
}

// NewJob builds a job due immediately with the default retry budget.
func NewJob(queue, id string, payload any) (Job, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return Job{}, err
	}
	return Job{
		ID:          id,
		Queue:       queue,
		Payload:     body,
		MaxAttempts: DefaultMaxAttempts,
		EnqueuedAt:  time.Now().UnixMilli(),
	}, nil
}

// At delays the job until the given time.
func (j Job) At(runAt time.Time) Job {
	j.RunAt = runAt.UnixMilli()
	return j
}

// WithMaxAttempts overrides the retry budget; non-positive values keep the
// current one.
func (j Job) WithMaxAttempts(n int) Job {
	if n > 0 {
		j.MaxAttempts = n
	}
	return j
}
