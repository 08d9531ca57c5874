package redis

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/legaultmarc/ocypod"
	"github.com/legaultmarc/ocypod/job"
)

// updateAttempts bounds the read-validate-swap loop in UpdateJob. A
// miss means the job changed under the caller; the loop re-reads and
// re-validates against the fresh status.
const updateAttempts = 3

// requeue modes understood by the transition script.
const (
	requeueNone    = "none"
	requeueFront   = "front"
	requeueDelayed = "delayed"
)

// EnqueueJob allocates a new ID and persists the job in queued status
// with a snapshot of the queue's current settings.
func (s *Store) EnqueueJob(ctx context.Context, queueName string, req job.NewJobRequest) (*job.Job, error) {
	settings, err := s.QueueSettings(ctx, queueName)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	j := &job.Job{
		Queue:            queueName,
		Status:           job.StatusQueued,
		Input:            req.Input,
		Tags:             append([]string(nil), req.Tags...),
		CreatedAt:        now,
		UpdatedAt:        now,
		Timeout:          settings.Timeout,
		HeartbeatTimeout: settings.HeartbeatTimeout,
		ExpiresAfter:     settings.ExpiresAfter,
		Retries:          settings.Retries,
		RetryDelays:      settings.RetryDelays,
	}

	fields, err := enqueueFields(j)
	if err != nil {
		return nil, storeErr("enqueue encode", err)
	}
	tags, err := json.Marshal(j.Tags)
	if err != nil {
		return nil, storeErr("enqueue encode", err)
	}
	if len(j.Tags) == 0 {
		// The script expects a JSON array; a nil slice marshals to null.
		tags = []byte("[]")
	}

	keys := []string{
		queueSettingsKey(queueName),
		jobCounterKey,
		queuePendingKey(queueName),
		statusKey(job.StatusQueued),
		queueJobsKey(queueName),
	}
	args := append([]any{jobKeyPrefix, tagKeyPrefix, string(tags)}, fields...)

	id, err := enqueueScript.Run(ctx, s.client, keys, args...).Int64()
	if err != nil {
		return nil, storeErr("enqueue", err)
	}
	if id < 0 {
		return nil, ocypod.ErrUnknownQueue
	}
	j.ID = id

	s.logger.Debug("job enqueued", "job_id", id, "queue", queueName)
	return j, nil
}

// ClaimJob pops the head of the queue's pending list and transitions
// the job to running with a fresh heartbeat. Returns (nil, nil) when
// the queue is empty.
func (s *Store) ClaimJob(ctx context.Context, queueName string) (*job.Job, error) {
	exists, err := s.client.Exists(ctx, queueSettingsKey(queueName)).Result()
	if err != nil {
		return nil, storeErr("claim", err)
	}
	if exists == 0 {
		return nil, ocypod.ErrUnknownQueue
	}

	keys := []string{
		queuePendingKey(queueName),
		statusKey(job.StatusQueued),
		statusKey(job.StatusRunning),
	}
	id, err := claimScript.Run(ctx, s.client, keys, jobKeyPrefix, encodeTime(time.Now())).Int64()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, storeErr("claim", err)
	}

	j, err := s.GetJob(ctx, id)
	if err != nil {
		return nil, err
	}
	s.logger.Debug("job claimed", "job_id", id, "queue", queueName)
	return j, nil
}

// GetJob retrieves a job by ID.
func (s *Store) GetJob(ctx context.Context, id int64) (*job.Job, error) {
	m, err := s.client.HGetAll(ctx, jobKey(id)).Result()
	if err != nil {
		return nil, storeErr("get job", err)
	}
	if len(m) == 0 {
		return nil, ocypod.ErrJobNotFound
	}
	j, err := jobFromMap(m)
	if err != nil {
		return nil, storeErr("get job decode", err)
	}
	return j, nil
}

// JobStatus returns only the job's current status.
func (s *Store) JobStatus(ctx context.Context, id int64) (job.Status, error) {
	v, err := s.client.HGet(ctx, jobKey(id), fieldStatus).Result()
	if err == redis.Nil {
		return "", ocypod.ErrJobNotFound
	}
	if err != nil {
		return "", storeErr("job status", err)
	}
	return job.Status(v), nil
}

// JobOutput returns only the job's output field.
func (s *Store) JobOutput(ctx context.Context, id int64) (json.RawMessage, error) {
	vals, err := s.client.HMGet(ctx, jobKey(id), fieldStatus, fieldOutput).Result()
	if err != nil {
		return nil, storeErr("job output", err)
	}
	if vals[0] == nil {
		return nil, ocypod.ErrJobNotFound
	}
	if vals[1] == nil {
		return nil, nil
	}
	return json.RawMessage(vals[1].(string)), nil
}

// UpdateJob applies the requested field changes, validating any status
// change against the state machine. The status swap is
// compare-and-swap against the status this call observed; a
// concurrent change re-runs the validation on the fresh record.
func (s *Store) UpdateJob(ctx context.Context, id int64, req job.UpdateRequest) (*job.Job, error) {
	if req.Status == nil {
		if req.Empty() {
			return s.GetJob(ctx, id)
		}
		return s.patchJob(ctx, id, req)
	}
	requested := *req.Status

	for attempt := 0; attempt < updateAttempts; attempt++ {
		j, err := s.GetJob(ctx, id)
		if err != nil {
			return nil, err
		}
		if !requested.Requestable() || !j.Status.CanTransitionTo(requested) {
			return nil, ocypod.ErrInvalidTransition
		}

		to := requested
		mode := requeueNone
		ended := "1"
		var readyAt int64
		dropPending := "0"
		switch {
		case requested == job.StatusFailed && j.RetriesAttempted < j.Retries:
			// Failure with retries remaining re-queues instead.
			to = job.StatusQueued
			ended = "0"
			if delay := j.RetryDelay(j.RetriesAttempted); delay > 0 {
				mode = requeueDelayed
				readyAt = time.Now().Add(delay).UnixMilli()
			} else {
				mode = requeueFront
			}
		case j.Status == job.StatusQueued:
			// Direct cancel before pickup: drop the pending entry.
			dropPending = "1"
		}

		output := ""
		outputFlag := "0"
		if req.Output != nil {
			output = string(*req.Output)
			outputFlag = "1"
		}
		tags := "[]"
		tagsFlag := "0"
		if req.Tags != nil {
			encoded, err := json.Marshal(*req.Tags)
			if err != nil {
				return nil, storeErr("update encode", err)
			}
			tags = string(encoded)
			tagsFlag = "1"
		}

		res, err := s.runTransition(ctx, j, transitionArgs{
			from:        j.Status,
			to:          to,
			ended:       ended,
			mode:        mode,
			readyAt:     readyAt,
			outputFlag:  outputFlag,
			output:      output,
			dropPending: dropPending,
			tagsFlag:    tagsFlag,
			tags:        tags,
		})
		if err != nil {
			return nil, storeErr("update job", err)
		}
		switch res {
		case -2:
			return nil, ocypod.ErrJobNotFound
		case 0:
			continue
		}
		return s.GetJob(ctx, id)
	}
	return nil, ocypod.ErrInvalidTransition
}

// patchJob updates output and/or tags without a status change.
func (s *Store) patchJob(ctx context.Context, id int64, req job.UpdateRequest) (*job.Job, error) {
	outputFlag, output := "0", ""
	if req.Output != nil {
		outputFlag, output = "1", string(*req.Output)
	}
	tagsFlag, tags := "0", "[]"
	if req.Tags != nil {
		encoded, err := json.Marshal(*req.Tags)
		if err != nil {
			return nil, storeErr("update encode", err)
		}
		tagsFlag, tags = "1", string(encoded)
	}

	res, err := patchScript.Run(ctx, s.client, []string{jobKey(id)},
		id, encodeTime(time.Now()), outputFlag, output, tagsFlag, tags, tagKeyPrefix).Int64()
	if err != nil {
		return nil, storeErr("update job", err)
	}
	if res == 0 {
		return nil, ocypod.ErrJobNotFound
	}
	return s.GetJob(ctx, id)
}

// SetJobOutput overwrites the job's output field in any status.
func (s *Store) SetJobOutput(ctx context.Context, id int64, output json.RawMessage) error {
	res, err := setOutputScript.Run(ctx, s.client,
		[]string{jobKey(id)}, string(output), encodeTime(time.Now())).Int64()
	if err != nil {
		return storeErr("set output", err)
	}
	if res == 0 {
		return ocypod.ErrJobNotFound
	}
	return nil
}

// HeartbeatJob stamps the job's last heartbeat.
func (s *Store) HeartbeatJob(ctx context.Context, id int64) error {
	res, err := heartbeatScript.Run(ctx, s.client,
		[]string{jobKey(id)}, encodeTime(time.Now())).Int64()
	if err != nil {
		return storeErr("heartbeat", err)
	}
	switch res {
	case -2:
		return ocypod.ErrJobNotFound
	case 0:
		return ocypod.ErrInvalidState
	}
	return nil
}

// DeleteJob removes the job and all its index entries. Deleting an
// absent ID is not an error.
func (s *Store) DeleteJob(ctx context.Context, id int64) (bool, error) {
	res, err := deleteJobScript.Run(ctx, s.client,
		[]string{jobKey(id)},
		id, queueKeyPrefix, statusKeyPrefix, tagKeyPrefix).Int64()
	if err != nil {
		return false, storeErr("delete job", err)
	}
	return res == 1, nil
}

// RetryJob re-queues a running job if its heartbeat is unchanged.
func (s *Store) RetryJob(ctx context.Context, id int64, expectedHeartbeat time.Time, delay time.Duration) (bool, error) {
	j, err := s.GetJob(ctx, id)
	if errors.Is(err, ocypod.ErrJobNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	mode := requeueFront
	var readyAt int64
	if delay > 0 {
		mode = requeueDelayed
		readyAt = time.Now().Add(delay).UnixMilli()
	}
	res, err := s.runTransition(ctx, j, transitionArgs{
		from:    job.StatusRunning,
		to:      job.StatusQueued,
		ended:   "0",
		mode:    mode,
		readyAt: readyAt,
		guard:   encodeTime(expectedHeartbeat),
	})
	if err != nil {
		return false, storeErr("retry job", err)
	}
	if res == 1 {
		s.logger.Debug("job requeued for retry", "job_id", id, "queue", j.Queue)
	}
	return res == 1, nil
}

// TimeoutJob transitions a running job to terminal timed_out if its
// heartbeat is unchanged.
func (s *Store) TimeoutJob(ctx context.Context, id int64, expectedHeartbeat time.Time) (bool, error) {
	j, err := s.GetJob(ctx, id)
	if errors.Is(err, ocypod.ErrJobNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	res, err := s.runTransition(ctx, j, transitionArgs{
		from:  job.StatusRunning,
		to:    job.StatusTimedOut,
		ended: "1",
		mode:  requeueNone,
		guard: encodeTime(expectedHeartbeat),
	})
	if err != nil {
		return false, storeErr("timeout job", err)
	}
	if res == 1 {
		s.logger.Debug("job timed out", "job_id", id, "queue", j.Queue)
	}
	return res == 1, nil
}

// PromoteDelayedJobs moves matured delayed retries to the front of
// their pending lists, one queue at a time.
func (s *Store) PromoteDelayedJobs(ctx context.Context, now time.Time) (int, error) {
	names, err := s.QueueNames(ctx)
	if err != nil {
		return 0, err
	}

	promoted := 0
	score := strconv.FormatInt(now.UnixMilli(), 10)
	for _, name := range names {
		n, err := promoteScript.Run(ctx, s.client,
			[]string{queueDelayedKey(name), queuePendingKey(name)}, score).Int64()
		if err != nil {
			return promoted, storeErr("promote delayed", err)
		}
		promoted += int(n)
	}
	return promoted, nil
}

// RunningJobs returns the IDs of all running jobs, sorted ascending.
func (s *Store) RunningJobs(ctx context.Context) ([]int64, error) {
	return s.statusMembers(ctx, job.StatusRunning)
}

// EndedJobs returns the IDs of all jobs in a terminal status, sorted
// ascending.
func (s *Store) EndedJobs(ctx context.Context) ([]int64, error) {
	var ids []int64
	for _, st := range job.Statuses {
		if !st.Terminal() {
			continue
		}
		members, err := s.statusMembers(ctx, st)
		if err != nil {
			return nil, err
		}
		ids = append(ids, members...)
	}
	sort.Slice(ids, func(i, k int) bool { return ids[i] < ids[k] })
	return ids, nil
}

// StatusCounts returns the number of jobs in each status.
func (s *Store) StatusCounts(ctx context.Context) (map[job.Status]int64, error) {
	pipe := s.client.TxPipeline()
	cmds := make(map[job.Status]*redis.IntCmd, len(job.Statuses))
	for _, st := range job.Statuses {
		cmds[st] = pipe.SCard(ctx, statusKey(st))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, storeErr("status counts", err)
	}

	counts := make(map[job.Status]int64, len(job.Statuses))
	for st, cmd := range cmds {
		counts[st] = cmd.Val()
	}
	return counts, nil
}

// transitionArgs carries the script arguments for one status swap.
type transitionArgs struct {
	from        job.Status
	to          job.Status
	ended       string
	mode        string
	readyAt     int64
	guard       string
	outputFlag  string
	output      string
	dropPending string
	tagsFlag    string
	tags        string
}

func (s *Store) runTransition(ctx context.Context, j *job.Job, a transitionArgs) (int64, error) {
	if a.outputFlag == "" {
		a.outputFlag = "0"
	}
	if a.dropPending == "" {
		a.dropPending = "0"
	}
	if a.tagsFlag == "" {
		a.tagsFlag = "0"
	}
	if a.tags == "" {
		a.tags = "[]"
	}
	keys := []string{
		jobKey(j.ID),
		statusKey(a.from),
		statusKey(a.to),
		queuePendingKey(j.Queue),
		queueDelayedKey(j.Queue),
	}
	return transitionScript.Run(ctx, s.client, keys,
		j.ID, string(a.from), string(a.to), encodeTime(time.Now()),
		a.ended, a.mode, a.readyAt, a.guard,
		a.outputFlag, a.output, a.dropPending,
		a.tagsFlag, a.tags, tagKeyPrefix).Int64()
}

func (s *Store) statusMembers(ctx context.Context, st job.Status) ([]int64, error) {
	members, err := s.client.SMembers(ctx, statusKey(st)).Result()
	if err != nil {
		return nil, storeErr("status members", err)
	}
	ids := make([]int64, 0, len(members))
	for _, m := range members {
		id, err := strconv.ParseInt(m, 10, 64)
		if err != nil {
			return nil, storeErr("status members decode", err)
		}
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, k int) bool { return ids[i] < ids[k] })
	return ids, nil
}
