package redis

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/legaultmarc/ocypod"
	"github.com/legaultmarc/ocypod/job"
	"github.com/legaultmarc/ocypod/queue"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return New(client)
}

func mustCreateQueue(t *testing.T, s *Store, name string, settings queue.Settings) {
	t.Helper()
	created, err := s.CreateOrUpdateQueue(context.Background(), name, settings)
	require.NoError(t, err)
	require.True(t, created)
}

func TestPing(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Ping(context.Background()))
}

func TestEnqueueJob_UnknownQueue(t *testing.T) {
	s := newTestStore(t)
	_, err := s.EnqueueJob(context.Background(), "nope", job.NewJobRequest{})
	assert.ErrorIs(t, err, ocypod.ErrUnknownQueue)
}

func TestEnqueueAndClaim(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	settings := queue.Settings{
		Timeout:          ocypod.Duration(time.Minute),
		HeartbeatTimeout: ocypod.Duration(30 * time.Second),
		ExpiresAfter:     ocypod.Duration(time.Hour),
		Retries:          2,
		RetryDelays:      []ocypod.Duration{ocypod.Duration(time.Second)},
	}
	mustCreateQueue(t, s, "emails", settings)

	input := json.RawMessage(`{"to":"alice@example.com"}`)
	enq, err := s.EnqueueJob(ctx, "emails", job.NewJobRequest{Input: input, Tags: []string{"batch-1"}})
	require.NoError(t, err)
	assert.Equal(t, int64(1), enq.ID)
	assert.Equal(t, job.StatusQueued, enq.Status)

	claimed, err := s.ClaimJob(ctx, "emails")
	require.NoError(t, err)
	require.NotNil(t, claimed)
	assert.Equal(t, enq.ID, claimed.ID)
	assert.Equal(t, "emails", claimed.Queue)
	assert.Equal(t, job.StatusRunning, claimed.Status)
	assert.JSONEq(t, string(input), string(claimed.Input))
	assert.Equal(t, []string{"batch-1"}, claimed.Tags)
	require.NotNil(t, claimed.StartedAt)
	require.NotNil(t, claimed.LastHeartbeat)

	// Policy snapshot travels with the job.
	assert.Equal(t, settings.Timeout, claimed.Timeout)
	assert.Equal(t, settings.HeartbeatTimeout, claimed.HeartbeatTimeout)
	assert.Equal(t, settings.ExpiresAfter, claimed.ExpiresAfter)
	assert.Equal(t, settings.Retries, claimed.Retries)
	assert.Equal(t, settings.RetryDelays, claimed.RetryDelays)

	empty, err := s.ClaimJob(ctx, "emails")
	require.NoError(t, err)
	assert.Nil(t, empty)

	_, err = s.ClaimJob(ctx, "nope")
	assert.ErrorIs(t, err, ocypod.ErrUnknownQueue)
}

func TestClaimJob_FIFO(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	mustCreateQueue(t, s, "q", queue.DefaultSettings())

	var ids []int64
	for i := 0; i < 3; i++ {
		j, err := s.EnqueueJob(ctx, "q", job.NewJobRequest{})
		require.NoError(t, err)
		ids = append(ids, j.ID)
	}
	for _, want := range ids {
		j, err := s.ClaimJob(ctx, "q")
		require.NoError(t, err)
		require.NotNil(t, j)
		assert.Equal(t, want, j.ID)
	}
}

func TestUpdateJob_Complete(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	mustCreateQueue(t, s, "q", queue.DefaultSettings())

	enq, err := s.EnqueueJob(ctx, "q", job.NewJobRequest{})
	require.NoError(t, err)
	_, err = s.ClaimJob(ctx, "q")
	require.NoError(t, err)

	completed := job.StatusCompleted
	output := json.RawMessage(`{"rows":42}`)
	updated, err := s.UpdateJob(ctx, enq.ID, job.UpdateRequest{Status: &completed, Output: &output})
	require.NoError(t, err)
	assert.Equal(t, job.StatusCompleted, updated.Status)
	assert.JSONEq(t, string(output), string(updated.Output))
	require.NotNil(t, updated.EndedAt)

	// Terminal statuses permit no further transitions.
	cancelled := job.StatusCancelled
	_, err = s.UpdateJob(ctx, enq.ID, job.UpdateRequest{Status: &cancelled})
	assert.ErrorIs(t, err, ocypod.ErrInvalidTransition)
}

func TestUpdateJob_RequestableOnly(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	mustCreateQueue(t, s, "q", queue.DefaultSettings())

	enq, err := s.EnqueueJob(ctx, "q", job.NewJobRequest{})
	require.NoError(t, err)
	_, err = s.ClaimJob(ctx, "q")
	require.NoError(t, err)

	for _, reserved := range []job.Status{job.StatusQueued, job.StatusRunning} {
		st := reserved
		_, err := s.UpdateJob(ctx, enq.ID, job.UpdateRequest{Status: &st})
		assert.ErrorIs(t, err, ocypod.ErrInvalidTransition, "status %s", st)
	}
}

func TestUpdateJob_FailedWithRetriesRequeues(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	settings := queue.DefaultSettings()
	settings.Retries = 1
	mustCreateQueue(t, s, "q", settings)

	enq, err := s.EnqueueJob(ctx, "q", job.NewJobRequest{})
	require.NoError(t, err)
	_, err = s.ClaimJob(ctx, "q")
	require.NoError(t, err)

	failed := job.StatusFailed
	updated, err := s.UpdateJob(ctx, enq.ID, job.UpdateRequest{Status: &failed})
	require.NoError(t, err)
	assert.Equal(t, job.StatusQueued, updated.Status)
	assert.Equal(t, 1, updated.RetriesAttempted)
	assert.Nil(t, updated.StartedAt)
	assert.Nil(t, updated.LastHeartbeat)

	reclaimed, err := s.ClaimJob(ctx, "q")
	require.NoError(t, err)
	require.NotNil(t, reclaimed)
	assert.Equal(t, enq.ID, reclaimed.ID)

	// Budget exhausted: the second failure is final.
	updated, err = s.UpdateJob(ctx, enq.ID, job.UpdateRequest{Status: &failed})
	require.NoError(t, err)
	assert.Equal(t, job.StatusFailed, updated.Status)
	require.NotNil(t, updated.EndedAt)
}

func TestUpdateJob_FailedWithDelayGoesToDelayedSet(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	settings := queue.DefaultSettings()
	settings.Retries = 1
	settings.RetryDelays = []ocypod.Duration{ocypod.Duration(time.Hour)}
	mustCreateQueue(t, s, "q", settings)

	enq, err := s.EnqueueJob(ctx, "q", job.NewJobRequest{})
	require.NoError(t, err)
	_, err = s.ClaimJob(ctx, "q")
	require.NoError(t, err)

	failed := job.StatusFailed
	updated, err := s.UpdateJob(ctx, enq.ID, job.UpdateRequest{Status: &failed})
	require.NoError(t, err)
	assert.Equal(t, job.StatusQueued, updated.Status)

	// Not claimable until its delay matures.
	size, err := s.QueueSize(ctx, "q")
	require.NoError(t, err)
	assert.Equal(t, int64(0), size)

	promoted, err := s.PromoteDelayedJobs(ctx, time.Now().Add(2*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, promoted)

	reclaimed, err := s.ClaimJob(ctx, "q")
	require.NoError(t, err)
	require.NotNil(t, reclaimed)
	assert.Equal(t, enq.ID, reclaimed.ID)
}

func TestUpdateJob_CancelBeforePickup(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	mustCreateQueue(t, s, "q", queue.DefaultSettings())

	enq, err := s.EnqueueJob(ctx, "q", job.NewJobRequest{})
	require.NoError(t, err)

	cancelled := job.StatusCancelled
	updated, err := s.UpdateJob(ctx, enq.ID, job.UpdateRequest{Status: &cancelled})
	require.NoError(t, err)
	assert.Equal(t, job.StatusCancelled, updated.Status)

	size, err := s.QueueSize(ctx, "q")
	require.NoError(t, err)
	assert.Equal(t, int64(0), size)

	j, err := s.ClaimJob(ctx, "q")
	require.NoError(t, err)
	assert.Nil(t, j)
}

func TestUpdateJob_Retag(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	mustCreateQueue(t, s, "q", queue.DefaultSettings())

	enq, err := s.EnqueueJob(ctx, "q", job.NewJobRequest{Tags: []string{"old"}})
	require.NoError(t, err)

	newTags := []string{"fresh", "batch-2"}
	updated, err := s.UpdateJob(ctx, enq.ID, job.UpdateRequest{Tags: &newTags})
	require.NoError(t, err)
	assert.ElementsMatch(t, newTags, updated.Tags)

	ids, err := s.JobsForTag(ctx, "old")
	require.NoError(t, err)
	assert.Empty(t, ids)

	ids, err = s.JobsForTag(ctx, "fresh")
	require.NoError(t, err)
	assert.Equal(t, []int64{enq.ID}, ids)
}

func TestSetJobOutput(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	mustCreateQueue(t, s, "q", queue.DefaultSettings())

	enq, err := s.EnqueueJob(ctx, "q", job.NewJobRequest{})
	require.NoError(t, err)

	// Output can be written in any status, queued included.
	require.NoError(t, s.SetJobOutput(ctx, enq.ID, json.RawMessage(`{"progress":10}`)))

	out, err := s.JobOutput(ctx, enq.ID)
	require.NoError(t, err)
	assert.JSONEq(t, `{"progress":10}`, string(out))

	assert.ErrorIs(t, s.SetJobOutput(ctx, 999, nil), ocypod.ErrJobNotFound)
	_, err = s.JobOutput(ctx, 999)
	assert.ErrorIs(t, err, ocypod.ErrJobNotFound)
}

func TestHeartbeatJob(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	mustCreateQueue(t, s, "q", queue.DefaultSettings())

	enq, err := s.EnqueueJob(ctx, "q", job.NewJobRequest{})
	require.NoError(t, err)

	assert.ErrorIs(t, s.HeartbeatJob(ctx, enq.ID), ocypod.ErrInvalidState)
	assert.ErrorIs(t, s.HeartbeatJob(ctx, 999), ocypod.ErrJobNotFound)

	_, err = s.ClaimJob(ctx, "q")
	require.NoError(t, err)
	require.NoError(t, s.HeartbeatJob(ctx, enq.ID))
}

func TestDeleteJob(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	mustCreateQueue(t, s, "q", queue.DefaultSettings())

	enq, err := s.EnqueueJob(ctx, "q", job.NewJobRequest{Tags: []string{"t1"}})
	require.NoError(t, err)

	removed, err := s.DeleteJob(ctx, enq.ID)
	require.NoError(t, err)
	assert.True(t, removed)

	// Absent IDs are not an error.
	removed, err = s.DeleteJob(ctx, enq.ID)
	require.NoError(t, err)
	assert.False(t, removed)

	_, err = s.GetJob(ctx, enq.ID)
	assert.ErrorIs(t, err, ocypod.ErrJobNotFound)

	ids, err := s.JobsForTag(ctx, "t1")
	require.NoError(t, err)
	assert.Empty(t, ids)

	size, err := s.QueueSize(ctx, "q")
	require.NoError(t, err)
	assert.Equal(t, int64(0), size)
}

func TestRetryJob_CompareAndSwap(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	mustCreateQueue(t, s, "q", queue.DefaultSettings())

	first, err := s.EnqueueJob(ctx, "q", job.NewJobRequest{})
	require.NoError(t, err)
	second, err := s.EnqueueJob(ctx, "q", job.NewJobRequest{})
	require.NoError(t, err)

	claimed, err := s.ClaimJob(ctx, "q")
	require.NoError(t, err)
	require.Equal(t, first.ID, claimed.ID)

	// A stale heartbeat observation must not win.
	ok, err := s.RetryJob(ctx, first.ID, claimed.LastHeartbeat.Add(-time.Second), 0)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = s.RetryJob(ctx, first.ID, *claimed.LastHeartbeat, 0)
	require.NoError(t, err)
	assert.True(t, ok)

	// Retried jobs go to the front, ahead of the untouched second job.
	reclaimed, err := s.ClaimJob(ctx, "q")
	require.NoError(t, err)
	assert.Equal(t, first.ID, reclaimed.ID)
	assert.Equal(t, 1, reclaimed.RetriesAttempted)

	next, err := s.ClaimJob(ctx, "q")
	require.NoError(t, err)
	assert.Equal(t, second.ID, next.ID)

	ok, err = s.RetryJob(ctx, 999, time.Now(), 0)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestTimeoutJob_ClientCompletionWins(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	mustCreateQueue(t, s, "q", queue.DefaultSettings())

	enq, err := s.EnqueueJob(ctx, "q", job.NewJobRequest{})
	require.NoError(t, err)
	claimed, err := s.ClaimJob(ctx, "q")
	require.NoError(t, err)

	completed := job.StatusCompleted
	_, err = s.UpdateJob(ctx, enq.ID, job.UpdateRequest{Status: &completed})
	require.NoError(t, err)

	ok, err := s.TimeoutJob(ctx, enq.ID, *claimed.LastHeartbeat)
	require.NoError(t, err)
	assert.False(t, ok)

	status, err := s.JobStatus(ctx, enq.ID)
	require.NoError(t, err)
	assert.Equal(t, job.StatusCompleted, status)
}

func TestTimeoutJob(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	mustCreateQueue(t, s, "q", queue.DefaultSettings())

	enq, err := s.EnqueueJob(ctx, "q", job.NewJobRequest{})
	require.NoError(t, err)
	claimed, err := s.ClaimJob(ctx, "q")
	require.NoError(t, err)

	ok, err := s.TimeoutJob(ctx, enq.ID, *claimed.LastHeartbeat)
	require.NoError(t, err)
	assert.True(t, ok)

	j, err := s.GetJob(ctx, enq.ID)
	require.NoError(t, err)
	assert.Equal(t, job.StatusTimedOut, j.Status)
	require.NotNil(t, j.EndedAt)
}

func TestQueueRegistry(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	settings := queue.DefaultSettings()
	settings.Retries = 3
	settings.RetryDelays = []ocypod.Duration{ocypod.Duration(time.Second), ocypod.Duration(time.Minute), ocypod.Duration(time.Hour)}

	created, err := s.CreateOrUpdateQueue(ctx, "beta", settings)
	require.NoError(t, err)
	assert.True(t, created)

	created, err = s.CreateOrUpdateQueue(ctx, "beta", settings)
	require.NoError(t, err)
	assert.False(t, created)

	mustCreateQueue(t, s, "alpha", queue.DefaultSettings())

	got, err := s.QueueSettings(ctx, "beta")
	require.NoError(t, err)
	assert.Equal(t, settings, *got)

	names, err := s.QueueNames(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"alpha", "beta"}, names)

	_, err = s.QueueSettings(ctx, "nope")
	assert.ErrorIs(t, err, ocypod.ErrUnknownQueue)
	_, err = s.QueueSize(ctx, "nope")
	assert.ErrorIs(t, err, ocypod.ErrUnknownQueue)

	_, err = s.CreateOrUpdateQueue(ctx, "bad name", queue.DefaultSettings())
	assert.ErrorIs(t, err, ocypod.ErrInvalidSettings)
}

func TestDeleteQueue_Cascades(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	mustCreateQueue(t, s, "doomed", queue.DefaultSettings())
	mustCreateQueue(t, s, "other", queue.DefaultSettings())

	j1, err := s.EnqueueJob(ctx, "doomed", job.NewJobRequest{Tags: []string{"t"}})
	require.NoError(t, err)
	j2, err := s.EnqueueJob(ctx, "doomed", job.NewJobRequest{})
	require.NoError(t, err)
	_, err = s.ClaimJob(ctx, "doomed")
	require.NoError(t, err)

	survivor, err := s.EnqueueJob(ctx, "other", job.NewJobRequest{Tags: []string{"t"}})
	require.NoError(t, err)

	require.NoError(t, s.DeleteQueue(ctx, "doomed"))
	assert.ErrorIs(t, s.DeleteQueue(ctx, "doomed"), ocypod.ErrUnknownQueue)

	for _, id := range []int64{j1.ID, j2.ID} {
		_, err := s.GetJob(ctx, id)
		assert.ErrorIs(t, err, ocypod.ErrJobNotFound)
	}

	// The other queue and its job are untouched.
	ids, err := s.JobsForTag(ctx, "t")
	require.NoError(t, err)
	assert.Equal(t, []int64{survivor.ID}, ids)

	counts, err := s.StatusCounts(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), counts[job.StatusQueued])
	assert.Equal(t, int64(0), counts[job.StatusRunning])
}

func TestStatusIndexes(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	mustCreateQueue(t, s, "q", queue.DefaultSettings())

	j1, err := s.EnqueueJob(ctx, "q", job.NewJobRequest{})
	require.NoError(t, err)
	j2, err := s.EnqueueJob(ctx, "q", job.NewJobRequest{})
	require.NoError(t, err)
	j3, err := s.EnqueueJob(ctx, "q", job.NewJobRequest{})
	require.NoError(t, err)

	_, err = s.ClaimJob(ctx, "q")
	require.NoError(t, err)
	_, err = s.ClaimJob(ctx, "q")
	require.NoError(t, err)

	completed := job.StatusCompleted
	_, err = s.UpdateJob(ctx, j2.ID, job.UpdateRequest{Status: &completed})
	require.NoError(t, err)

	running, err := s.RunningJobs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []int64{j1.ID}, running)

	ended, err := s.EndedJobs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []int64{j2.ID}, ended)

	counts, err := s.StatusCounts(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), counts[job.StatusQueued])
	assert.Equal(t, int64(1), counts[job.StatusRunning])
	assert.Equal(t, int64(1), counts[job.StatusCompleted])
	_ = j3
}

func TestSettingsUpdateNotRetroactive(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	settings := queue.DefaultSettings()
	settings.Retries = 0
	mustCreateQueue(t, s, "q", settings)

	enq, err := s.EnqueueJob(ctx, "q", job.NewJobRequest{})
	require.NoError(t, err)

	settings.Retries = 5
	_, err = s.CreateOrUpdateQueue(ctx, "q", settings)
	require.NoError(t, err)

	j, err := s.GetJob(ctx, enq.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, j.Retries)

	later, err := s.EnqueueJob(ctx, "q", job.NewJobRequest{})
	require.NoError(t, err)
	assert.Equal(t, 5, later.Retries)
}
