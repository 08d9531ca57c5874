package redis

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/legaultmarc/ocypod"
	"github.com/legaultmarc/ocypod/job"
	"github.com/legaultmarc/ocypod/queue"
)

// Hash field names of a job record. Timestamps are RFC3339Nano in UTC,
// durations are nanosecond integers, list fields are JSON.
const (
	fieldID               = "id"
	fieldQueue            = "queue"
	fieldStatus           = "status"
	fieldInput            = "input"
	fieldOutput           = "output"
	fieldTags             = "tags"
	fieldCreatedAt        = "created_at"
	fieldUpdatedAt        = "updated_at"
	fieldStartedAt        = "started_at"
	fieldLastHeartbeat    = "last_heartbeat"
	fieldEndedAt          = "ended_at"
	fieldTimeout          = "timeout"
	fieldHeartbeatTimeout = "heartbeat_timeout"
	fieldExpiresAfter     = "expires_after"
	fieldRetries          = "retries"
	fieldRetryDelays      = "retry_delays"
	fieldAttempts         = "retries_attempted"
)

// timeLayout is also what the heartbeat compare-and-swap guard
// compares against, so encoding must be deterministic. Always UTC.
const timeLayout = time.RFC3339Nano

func encodeTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func decodeTime(s string) (time.Time, error) {
	return time.Parse(timeLayout, s)
}

func encodeDuration(d ocypod.Duration) string {
	return strconv.FormatInt(int64(d), 10)
}

func encodeDelays(delays []ocypod.Duration) (string, error) {
	nanos := make([]int64, len(delays))
	for i, d := range delays {
		nanos[i] = int64(d)
	}
	b, err := json.Marshal(nanos)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func decodeDelays(s string) ([]ocypod.Duration, error) {
	if s == "" || s == "[]" {
		return nil, nil
	}
	var nanos []int64
	if err := json.Unmarshal([]byte(s), &nanos); err != nil {
		return nil, err
	}
	delays := make([]ocypod.Duration, len(nanos))
	for i, n := range nanos {
		delays[i] = ocypod.Duration(n)
	}
	return delays, nil
}

// enqueueFields flattens a new job into the field/value pairs the
// enqueue script HSETs. The script itself fills in the allocated ID.
func enqueueFields(j *job.Job) ([]any, error) {
	tags, err := json.Marshal(j.Tags)
	if err != nil {
		return nil, err
	}
	if len(j.Tags) == 0 {
		// Scripts cjson.decode this field as an array; nil marshals to null.
		tags = []byte("[]")
	}
	delays, err := encodeDelays(j.RetryDelays)
	if err != nil {
		return nil, err
	}
	fields := []any{
		fieldQueue, j.Queue,
		fieldStatus, string(j.Status),
		fieldTags, string(tags),
		fieldCreatedAt, encodeTime(j.CreatedAt),
		fieldUpdatedAt, encodeTime(j.UpdatedAt),
		fieldTimeout, encodeDuration(j.Timeout),
		fieldHeartbeatTimeout, encodeDuration(j.HeartbeatTimeout),
		fieldExpiresAfter, encodeDuration(j.ExpiresAfter),
		fieldRetries, strconv.Itoa(j.Retries),
		fieldRetryDelays, delays,
		fieldAttempts, strconv.Itoa(j.RetriesAttempted),
	}
	if len(j.Input) > 0 {
		fields = append(fields, fieldInput, string(j.Input))
	}
	return fields, nil
}

// jobFromMap rebuilds a job from an HGETALL result.
func jobFromMap(m map[string]string) (*job.Job, error) {
	j := &job.Job{
		Queue:  m[fieldQueue],
		Status: job.Status(m[fieldStatus]),
	}
	var err error
	if j.ID, err = strconv.ParseInt(m[fieldID], 10, 64); err != nil {
		return nil, fmt.Errorf("job field id: %w", err)
	}
	if v := m[fieldInput]; v != "" {
		j.Input = json.RawMessage(v)
	}
	if v := m[fieldOutput]; v != "" {
		j.Output = json.RawMessage(v)
	}
	if v := m[fieldTags]; v != "" && v != "[]" {
		if err := json.Unmarshal([]byte(v), &j.Tags); err != nil {
			return nil, fmt.Errorf("job field tags: %w", err)
		}
	}
	if j.CreatedAt, err = decodeTime(m[fieldCreatedAt]); err != nil {
		return nil, fmt.Errorf("job field created_at: %w", err)
	}
	if j.UpdatedAt, err = decodeTime(m[fieldUpdatedAt]); err != nil {
		return nil, fmt.Errorf("job field updated_at: %w", err)
	}
	for field, dst := range map[string]**time.Time{
		fieldStartedAt:     &j.StartedAt,
		fieldLastHeartbeat: &j.LastHeartbeat,
		fieldEndedAt:       &j.EndedAt,
	} {
		if v, ok := m[field]; ok && v != "" {
			t, err := decodeTime(v)
			if err != nil {
				return nil, fmt.Errorf("job field %s: %w", field, err)
			}
			*dst = &t
		}
	}
	for field, dst := range map[string]*ocypod.Duration{
		fieldTimeout:          &j.Timeout,
		fieldHeartbeatTimeout: &j.HeartbeatTimeout,
		fieldExpiresAfter:     &j.ExpiresAfter,
	} {
		n, err := strconv.ParseInt(m[field], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("job field %s: %w", field, err)
		}
		*dst = ocypod.Duration(n)
	}
	if j.Retries, err = strconv.Atoi(m[fieldRetries]); err != nil {
		return nil, fmt.Errorf("job field retries: %w", err)
	}
	if j.RetriesAttempted, err = strconv.Atoi(m[fieldAttempts]); err != nil {
		return nil, fmt.Errorf("job field retries_attempted: %w", err)
	}
	if j.RetryDelays, err = decodeDelays(m[fieldRetryDelays]); err != nil {
		return nil, fmt.Errorf("job field retry_delays: %w", err)
	}
	return j, nil
}

// settingsFields flattens queue settings into script arguments.
func settingsFields(s queue.Settings) ([]any, error) {
	delays, err := encodeDelays(s.RetryDelays)
	if err != nil {
		return nil, err
	}
	return []any{
		fieldTimeout, encodeDuration(s.Timeout),
		fieldHeartbeatTimeout, encodeDuration(s.HeartbeatTimeout),
		fieldExpiresAfter, encodeDuration(s.ExpiresAfter),
		fieldRetries, strconv.Itoa(s.Retries),
		fieldRetryDelays, delays,
	}, nil
}

// settingsFromMap rebuilds queue settings from an HGETALL result.
func settingsFromMap(m map[string]string) (*queue.Settings, error) {
	s := &queue.Settings{}
	for field, dst := range map[string]*ocypod.Duration{
		fieldTimeout:          &s.Timeout,
		fieldHeartbeatTimeout: &s.HeartbeatTimeout,
		fieldExpiresAfter:     &s.ExpiresAfter,
	} {
		n, err := strconv.ParseInt(m[field], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("queue field %s: %w", field, err)
		}
		*dst = ocypod.Duration(n)
	}
	var err error
	if s.Retries, err = strconv.Atoi(m[fieldRetries]); err != nil {
		return nil, fmt.Errorf("queue field retries: %w", err)
	}
	if s.RetryDelays, err = decodeDelays(m[fieldRetryDelays]); err != nil {
		return nil, fmt.Errorf("queue field retry_delays: %w", err)
	}
	return s, nil
}
