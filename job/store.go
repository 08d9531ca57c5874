package job

import (
	"context"
	"encoding/json"
	"time"
)

// Store defines the persistence contract for jobs. Backends must make
// every multi-key mutation atomic so the derived indexes (pending
// lists, status sets, tag sets) can never disagree with the job
// record.
type Store interface {
	// EnqueueJob allocates a new ID and persists the job on the named
	// queue in queued status, with a policy snapshot copied from the
	// queue's current settings. Returns ocypod.ErrUnknownQueue if the
	// queue does not exist.
	EnqueueJob(ctx context.Context, queue string, req NewJobRequest) (*Job, error)

	// ClaimJob atomically pops the head of the queue's pending list,
	// transitions the job to running with a fresh heartbeat, and
	// returns it. Returns (nil, nil) when the queue is empty, and
	// ocypod.ErrUnknownQueue when it does not exist. At most one
	// caller ever receives a given job, even under concurrent claims.
	ClaimJob(ctx context.Context, queue string) (*Job, error)

	// GetJob retrieves a job by ID.
	GetJob(ctx context.Context, id int64) (*Job, error)

	// JobStatus returns only the job's current status.
	JobStatus(ctx context.Context, id int64) (Status, error)

	// JobOutput returns only the job's output field.
	JobOutput(ctx context.Context, id int64) (json.RawMessage, error)

	// UpdateJob applies the requested field changes, validating any
	// status change against the state machine. Requesting failed on a
	// job with retries remaining re-queues it instead. Returns the
	// updated job.
	UpdateJob(ctx context.Context, id int64, req UpdateRequest) (*Job, error)

	// SetJobOutput overwrites the job's output field. Valid in any
	// status, so output can be streamed before completion.
	SetJobOutput(ctx context.Context, id int64, output json.RawMessage) error

	// HeartbeatJob stamps the job's last heartbeat. Returns
	// ocypod.ErrInvalidState if the job is not running.
	HeartbeatJob(ctx context.Context, id int64) error

	// DeleteJob removes the job record and every index entry that
	// references it. Deleting an absent ID is not an error; the
	// boolean reports whether a record was removed.
	DeleteJob(ctx context.Context, id int64) (bool, error)

	// RetryJob re-queues a running job at the front of its pending
	// list (or into the delayed set when delay > 0) and increments its
	// attempt counter. Compare-and-swap: it applies only if the job is
	// still running and its heartbeat still equals expectedHeartbeat;
	// the boolean reports whether it did.
	RetryJob(ctx context.Context, id int64, expectedHeartbeat time.Time, delay time.Duration) (bool, error)

	// TimeoutJob transitions a running job to terminal timed_out under
	// the same compare-and-swap rule as RetryJob.
	TimeoutJob(ctx context.Context, id int64, expectedHeartbeat time.Time) (bool, error)

	// PromoteDelayedJobs moves every delayed retry whose ready time
	// has passed to the front of its queue's pending list, across all
	// queues. Returns how many jobs were promoted.
	PromoteDelayedJobs(ctx context.Context, now time.Time) (int, error)

	// RunningJobs returns the IDs of all jobs currently running.
	RunningJobs(ctx context.Context) ([]int64, error)

	// EndedJobs returns the IDs of all jobs in a terminal status.
	EndedJobs(ctx context.Context) ([]int64, error)

	// StatusCounts returns the number of jobs in each status.
	StatusCounts(ctx context.Context) (map[Status]int64, error)
}
