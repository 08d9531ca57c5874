package job

import (
	"encoding/json"
	"time"

	"github.com/legaultmarc/ocypod"
)

// Status represents the lifecycle status of a job.
type Status string

const (
	// StatusQueued means the job is waiting on its queue's pending list.
	StatusQueued Status = "queued"
	// StatusRunning means a worker has claimed the job.
	StatusRunning Status = "running"
	// StatusCompleted means the job finished successfully.
	StatusCompleted Status = "completed"
	// StatusFailed means the job failed with no retries remaining.
	StatusFailed Status = "failed"
	// StatusCancelled means the job was explicitly cancelled.
	StatusCancelled Status = "cancelled"
	// StatusTimedOut means the monitor gave up on the job after its
	// retry budget was exhausted.
	StatusTimedOut Status = "timed_out"
)

// Statuses lists every valid status.
var Statuses = []Status{
	StatusQueued,
	StatusRunning,
	StatusCompleted,
	StatusFailed,
	StatusCancelled,
	StatusTimedOut,
}

// ParseStatus converts a string into a Status, or returns
// ocypod.ErrInvalidState for anything unknown.
func ParseStatus(s string) (Status, error) {
	for _, status := range Statuses {
		if string(status) == s {
			return status, nil
		}
	}
	return "", ocypod.ErrInvalidState
}

// transitions is the status transition table. running → queued is the
// retry path and is never directly requestable by a client.
var transitions = map[Status][]Status{
	StatusQueued:  {StatusRunning, StatusCancelled},
	StatusRunning: {StatusCompleted, StatusFailed, StatusCancelled, StatusTimedOut, StatusQueued},
}

// Terminal reports whether the status is a sink that permits no
// further transitions.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled, StatusTimedOut:
		return true
	}
	return false
}

// CanTransitionTo reports whether the state machine allows moving from
// s to next.
func (s Status) CanTransitionTo(next Status) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Requestable reports whether a client may ask for this status via an
// update. queued (retry path) and running (claim path) are reserved
// for the server.
func (s Status) Requestable() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled, StatusTimedOut:
		return true
	}
	return false
}

// Job is one unit of work tracked by the server.
type Job struct {
	ID     int64           `json:"id"`
	Queue  string          `json:"queue"`
	Status Status          `json:"status"`
	Input  json.RawMessage `json:"input,omitempty"`
	Output json.RawMessage `json:"output,omitempty"`
	Tags   []string        `json:"tags,omitempty"`

	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
	StartedAt     *time.Time `json:"started_at,omitempty"`
	LastHeartbeat *time.Time `json:"last_heartbeat,omitempty"`
	EndedAt       *time.Time `json:"ended_at,omitempty"`

	// Policy snapshot, copied from the queue's settings at enqueue
	// time.
	Timeout          ocypod.Duration   `json:"timeout"`
	HeartbeatTimeout ocypod.Duration   `json:"heartbeat_timeout"`
	ExpiresAfter     ocypod.Duration   `json:"expires_after"`
	Retries          int               `json:"retries"`
	RetryDelays      []ocypod.Duration `json:"retry_delays,omitempty"`

	// RetriesAttempted counts how many times the job has been
	// re-queued after running.
	RetriesAttempted int `json:"retries_attempted"`
}

// RetryDelay returns how long the job must wait before retry attempt
// number attempt (0-indexed). An empty delay list means retries are
// immediate; a single entry applies to every attempt; a longer list is
// indexed per attempt, clamped to its last entry.
func (j *Job) RetryDelay(attempt int) time.Duration {
	switch {
	case len(j.RetryDelays) == 0:
		return 0
	case len(j.RetryDelays) == 1:
		return j.RetryDelays[0].Std()
	case attempt >= len(j.RetryDelays):
		return j.RetryDelays[len(j.RetryDelays)-1].Std()
	default:
		return j.RetryDelays[attempt].Std()
	}
}

// NewJobRequest is the payload for enqueueing a job.
type NewJobRequest struct {
	Input json.RawMessage `json:"input,omitempty"`
	Tags  []string        `json:"tags,omitempty"`
}

// UpdateRequest carries the fields a client may change on an existing
// job. Nil fields are left untouched.
type UpdateRequest struct {
	Status *Status          `json:"status,omitempty"`
	Output *json.RawMessage `json:"output,omitempty"`
	Tags   *[]string        `json:"tags,omitempty"`
}

// Empty reports whether the request changes nothing.
func (r UpdateRequest) Empty() bool {
	return r.Status == nil && r.Output == nil && r.Tags == nil
}
