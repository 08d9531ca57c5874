// Package memory implements store.Store entirely in process memory.
// Safe for concurrent access. Intended for unit testing and
// development; nothing survives a restart.
package memory

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/legaultmarc/ocypod"
	"github.com/legaultmarc/ocypod/job"
	"github.com/legaultmarc/ocypod/queue"
	"github.com/legaultmarc/ocypod/store"
)

var _ store.Store = (*Store)(nil)

// delayedEntry is a retried job waiting out its retry delay.
type delayedEntry struct {
	id      int64
	readyAt time.Time
}

// Store is a fully in-memory implementation of store.Store. The mutex
// makes every operation atomic, mirroring the single Lua script per
// operation in the redis backend.
type Store struct {
	mu sync.RWMutex

	nextID  int64
	jobs    map[int64]*job.Job
	queues  map[string]queue.Settings
	pending map[string][]int64
	delayed map[string][]delayedEntry
	tags    map[string]map[int64]struct{}
}

// New returns a new empty Store.
func New() *Store {
	return &Store{
		jobs:    make(map[int64]*job.Job),
		queues:  make(map[string]queue.Settings),
		pending: make(map[string][]int64),
		delayed: make(map[string][]delayedEntry),
		tags:    make(map[string]map[int64]struct{}),
	}
}

// Ping always succeeds for the memory store.
func (m *Store) Ping(_ context.Context) error { return nil }

// Close is a no-op for the memory store.
func (m *Store) Close() error { return nil }

// ──────────────────────────────────────────────────
// Job store
// ──────────────────────────────────────────────────

// EnqueueJob allocates a new ID and persists the job in queued status
// with a snapshot of the queue's current settings.
func (m *Store) EnqueueJob(_ context.Context, queueName string, req job.NewJobRequest) (*job.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	settings, ok := m.queues[queueName]
	if !ok {
		return nil, ocypod.ErrUnknownQueue
	}

	m.nextID++
	now := time.Now().UTC()
	j := &job.Job{
		ID:               m.nextID,
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
		RetryDelays:      append([]ocypod.Duration(nil), settings.RetryDelays...),
	}

	m.jobs[j.ID] = j
	m.pending[queueName] = append(m.pending[queueName], j.ID)
	for _, t := range j.Tags {
		if m.tags[t] == nil {
			m.tags[t] = make(map[int64]struct{})
		}
		m.tags[t][j.ID] = struct{}{}
	}

	return cloneJob(j), nil
}

// ClaimJob pops the head of the queue's pending list and transitions
// the job to running with a fresh heartbeat.
func (m *Store) ClaimJob(_ context.Context, queueName string) (*job.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.queues[queueName]; !ok {
		return nil, ocypod.ErrUnknownQueue
	}

	list := m.pending[queueName]
	if len(list) == 0 {
		return nil, nil
	}

	id := list[0]
	m.pending[queueName] = list[1:]

	j := m.jobs[id]
	now := time.Now().UTC()
	j.Status = job.StatusRunning
	j.StartedAt = &now
	j.LastHeartbeat = &now
	j.UpdatedAt = now

	return cloneJob(j), nil
}

// GetJob retrieves a job by ID.
func (m *Store) GetJob(_ context.Context, id int64) (*job.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	j, ok := m.jobs[id]
	if !ok {
		return nil, ocypod.ErrJobNotFound
	}
	return cloneJob(j), nil
}

// JobStatus returns only the job's current status.
func (m *Store) JobStatus(_ context.Context, id int64) (job.Status, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	j, ok := m.jobs[id]
	if !ok {
		return "", ocypod.ErrJobNotFound
	}
	return j.Status, nil
}

// JobOutput returns only the job's output field.
func (m *Store) JobOutput(_ context.Context, id int64) (json.RawMessage, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	j, ok := m.jobs[id]
	if !ok {
		return nil, ocypod.ErrJobNotFound
	}
	return append(json.RawMessage(nil), j.Output...), nil
}

// UpdateJob applies the requested field changes, validating any status
// change against the state machine.
func (m *Store) UpdateJob(_ context.Context, id int64, req job.UpdateRequest) (*job.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	j, ok := m.jobs[id]
	if !ok {
		return nil, ocypod.ErrJobNotFound
	}

	now := time.Now().UTC()

	if req.Status != nil {
		requested := *req.Status
		if !requested.Requestable() || !j.Status.CanTransitionTo(requested) {
			return nil, ocypod.ErrInvalidTransition
		}

		switch {
		case requested == job.StatusFailed && j.RetriesAttempted < j.Retries:
			// Failure with retries remaining re-queues instead.
			m.requeueLocked(j, j.RetryDelay(j.RetriesAttempted), now)
		default:
			if j.Status == job.StatusQueued {
				// Direct cancel before pickup: drop the pending entry.
				m.removeFromQueueLocked(j.Queue, id)
			}
			j.Status = requested
			j.EndedAt = &now
		}
	}

	if req.Output != nil {
		j.Output = append(json.RawMessage(nil), *req.Output...)
	}
	if req.Tags != nil {
		m.retagLocked(j, *req.Tags)
	}
	j.UpdatedAt = now

	return cloneJob(j), nil
}

// SetJobOutput overwrites the job's output field in any status.
func (m *Store) SetJobOutput(_ context.Context, id int64, output json.RawMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	j, ok := m.jobs[id]
	if !ok {
		return ocypod.ErrJobNotFound
	}
	j.Output = append(json.RawMessage(nil), output...)
	j.UpdatedAt = time.Now().UTC()
	return nil
}

// HeartbeatJob stamps the job's last heartbeat.
func (m *Store) HeartbeatJob(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	j, ok := m.jobs[id]
	if !ok {
		return ocypod.ErrJobNotFound
	}
	if j.Status != job.StatusRunning {
		return ocypod.ErrInvalidState
	}
	now := time.Now().UTC()
	j.LastHeartbeat = &now
	j.UpdatedAt = now
	return nil
}

// DeleteJob removes the job and every index entry referencing it.
// Deleting an absent ID is not an error.
func (m *Store) DeleteJob(_ context.Context, id int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.deleteJobLocked(id), nil
}

// RetryJob re-queues a running job if its heartbeat is unchanged.
func (m *Store) RetryJob(_ context.Context, id int64, expectedHeartbeat time.Time, delay time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	j, ok := m.jobs[id]
	if !ok || !casGuardHolds(j, expectedHeartbeat) {
		return false, nil
	}

	now := time.Now().UTC()
	m.requeueLocked(j, delay, now)
	j.UpdatedAt = now
	return true, nil
}

// TimeoutJob transitions a running job to terminal timed_out if its
// heartbeat is unchanged.
func (m *Store) TimeoutJob(_ context.Context, id int64, expectedHeartbeat time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	j, ok := m.jobs[id]
	if !ok || !casGuardHolds(j, expectedHeartbeat) {
		return false, nil
	}

	now := time.Now().UTC()
	j.Status = job.StatusTimedOut
	j.EndedAt = &now
	j.UpdatedAt = now
	return true, nil
}

// PromoteDelayedJobs moves matured delayed retries to the front of
// their pending lists.
func (m *Store) PromoteDelayedJobs(_ context.Context, now time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	promoted := 0
	for queueName, entries := range m.delayed {
		var matured []delayedEntry
		var waiting []delayedEntry
		for _, e := range entries {
			if e.readyAt.After(now) {
				waiting = append(waiting, e)
			} else {
				matured = append(matured, e)
			}
		}
		if len(matured) == 0 {
			continue
		}

		// Earliest-ready ends up at the head of the pending list.
		sort.Slice(matured, func(i, k int) bool { return matured[i].readyAt.Before(matured[k].readyAt) })
		for i := len(matured) - 1; i >= 0; i-- {
			m.pending[queueName] = append([]int64{matured[i].id}, m.pending[queueName]...)
		}
		m.delayed[queueName] = waiting
		promoted += len(matured)
	}
	return promoted, nil
}

// RunningJobs returns the IDs of all running jobs, sorted ascending.
func (m *Store) RunningJobs(_ context.Context) ([]int64, error) {
	return m.jobsWhere(func(j *job.Job) bool { return j.Status == job.StatusRunning }), nil
}

// EndedJobs returns the IDs of all jobs in a terminal status, sorted
// ascending.
func (m *Store) EndedJobs(_ context.Context) ([]int64, error) {
	return m.jobsWhere(func(j *job.Job) bool { return j.Status.Terminal() }), nil
}

// StatusCounts returns the number of jobs in each status.
func (m *Store) StatusCounts(_ context.Context) (map[job.Status]int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	counts := make(map[job.Status]int64, len(job.Statuses))
	for _, s := range job.Statuses {
		counts[s] = 0
	}
	for _, j := range m.jobs {
		counts[j.Status]++
	}
	return counts, nil
}

// ──────────────────────────────────────────────────
// Queue registry
// ──────────────────────────────────────────────────

// CreateOrUpdateQueue creates the queue or replaces its settings for
// future jobs only.
func (m *Store) CreateOrUpdateQueue(_ context.Context, name string, settings queue.Settings) (bool, error) {
	if !queue.ValidName(name) {
		return false, ocypod.ErrInvalidSettings
	}
	if err := settings.Validate(); err != nil {
		return false, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	_, exists := m.queues[name]
	m.queues[name] = settings
	return !exists, nil
}

// QueueSettings returns the queue's current settings.
func (m *Store) QueueSettings(_ context.Context, name string) (*queue.Settings, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	settings, ok := m.queues[name]
	if !ok {
		return nil, ocypod.ErrUnknownQueue
	}
	cp := settings
	cp.RetryDelays = append([]ocypod.Duration(nil), settings.RetryDelays...)
	return &cp, nil
}

// DeleteQueue removes the queue and cascades to every job still
// associated with it, in any status.
func (m *Store) DeleteQueue(_ context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.queues[name]; !ok {
		return ocypod.ErrUnknownQueue
	}

	for id, j := range m.jobs {
		if j.Queue == name {
			m.deleteJobLocked(id)
		}
	}
	delete(m.queues, name)
	delete(m.pending, name)
	delete(m.delayed, name)
	return nil
}

// QueueNames returns all known queue names, sorted ascending.
func (m *Store) QueueNames(_ context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	names := make([]string, 0, len(m.queues))
	for name := range m.queues {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// QueueSize returns the length of the queue's pending list.
func (m *Store) QueueSize(_ context.Context, name string) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if _, ok := m.queues[name]; !ok {
		return 0, ocypod.ErrUnknownQueue
	}
	return int64(len(m.pending[name])), nil
}

// ──────────────────────────────────────────────────
// Tag index
// ──────────────────────────────────────────────────

// JobsForTag returns the IDs of all jobs bearing the tag, sorted
// ascending.
func (m *Store) JobsForTag(_ context.Context, tagName string) ([]int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := make([]int64, 0, len(m.tags[tagName]))
	for id := range m.tags[tagName] {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, k int) bool { return ids[i] < ids[k] })
	return ids, nil
}

// ──────────────────────────────────────────────────
// Internals
// ──────────────────────────────────────────────────

// requeueLocked puts a job back in queued status, either at the front
// of the pending list or into the delayed set. Caller holds mu.
func (m *Store) requeueLocked(j *job.Job, delay time.Duration, now time.Time) {
	j.Status = job.StatusQueued
	j.StartedAt = nil
	j.LastHeartbeat = nil
	j.RetriesAttempted++

	if delay > 0 {
		m.delayed[j.Queue] = append(m.delayed[j.Queue], delayedEntry{id: j.ID, readyAt: now.Add(delay)})
		return
	}
	m.pending[j.Queue] = append([]int64{j.ID}, m.pending[j.Queue]...)
}

// retagLocked swaps the job's tag set and index entries. Caller holds
// mu.
func (m *Store) retagLocked(j *job.Job, tags []string) {
	for _, t := range j.Tags {
		delete(m.tags[t], j.ID)
		if len(m.tags[t]) == 0 {
			delete(m.tags, t)
		}
	}
	j.Tags = append([]string(nil), tags...)
	for _, t := range j.Tags {
		if m.tags[t] == nil {
			m.tags[t] = make(map[int64]struct{})
		}
		m.tags[t][j.ID] = struct{}{}
	}
}

// deleteJobLocked removes the job and all its index entries. Caller
// holds mu.
func (m *Store) deleteJobLocked(id int64) bool {
	j, ok := m.jobs[id]
	if !ok {
		return false
	}

	delete(m.jobs, id)
	m.removeFromQueueLocked(j.Queue, id)
	for _, t := range j.Tags {
		delete(m.tags[t], id)
		if len(m.tags[t]) == 0 {
			delete(m.tags, t)
		}
	}
	return true
}

// removeFromQueueLocked drops the job from the queue's pending list
// and delayed set. Caller holds mu.
func (m *Store) removeFromQueueLocked(queueName string, id int64) {
	list := m.pending[queueName]
	for i, pendingID := range list {
		if pendingID == id {
			m.pending[queueName] = append(list[:i:i], list[i+1:]...)
			break
		}
	}
	entries := m.delayed[queueName]
	for i, e := range entries {
		if e.id == id {
			m.delayed[queueName] = append(entries[:i:i], entries[i+1:]...)
			break
		}
	}
}

func (m *Store) jobsWhere(match func(*job.Job) bool) []int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var ids []int64
	for id, j := range m.jobs {
		if match(j) {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, k int) bool { return ids[i] < ids[k] })
	return ids
}

// casGuardHolds reports whether the monitor's view of the job is still
// current: running, with the heartbeat the monitor observed.
func casGuardHolds(j *job.Job, expectedHeartbeat time.Time) bool {
	if j.Status != job.StatusRunning || j.LastHeartbeat == nil {
		return false
	}
	return j.LastHeartbeat.Equal(expectedHeartbeat)
}

func cloneJob(j *job.Job) *job.Job {
	cp := *j
	cp.Input = append(json.RawMessage(nil), j.Input...)
	cp.Output = append(json.RawMessage(nil), j.Output...)
	cp.Tags = append([]string(nil), j.Tags...)
	cp.RetryDelays = append([]ocypod.Duration(nil), j.RetryDelays...)
	cp.StartedAt = cloneTime(j.StartedAt)
	cp.LastHeartbeat = cloneTime(j.LastHeartbeat)
	cp.EndedAt = cloneTime(j.EndedAt)
	return &cp
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	cp := *t
	return &cp
}
