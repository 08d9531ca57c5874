// Package client provides a Go client for a remote ocypod server.
//
// Usage:
//
//	c := client.New("http://localhost:8023")
//
//	id, err := c.Enqueue(ctx, "emails", job.NewJobRequest{Input: payload})
//
//	// Worker loop.
//	j, err := c.Claim(ctx, "emails")
//	if j != nil {
//	    ... do the work, heartbeating ...
//	    err = c.Complete(ctx, j.ID, result)
//	}
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/legaultmarc/ocypod"
	"github.com/legaultmarc/ocypod/job"
	"github.com/legaultmarc/ocypod/queue"
)

// Client talks to one ocypod server over HTTP.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// Option configures the Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithTimeout sets the per-request timeout on the default HTTP client.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.httpClient.Timeout = d }
}

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// New creates a client for the server at baseURL.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// StatusError is returned for any non-success response the client
// cannot map onto one of the ocypod sentinel errors.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("ocypod/client: server returned %d: %s", e.Code, e.Message)
}

// CreateQueue creates the queue or replaces its settings. The boolean
// reports whether the queue was created.
func (c *Client) CreateQueue(ctx context.Context, name string, settings queue.Settings) (bool, error) {
	status, err := c.do(ctx, http.MethodPut, "/queue/"+name, settings, nil)
	if err != nil {
		return false, mapError(err, nil)
	}
	return status == http.StatusCreated, nil
}

// QueueSettings fetches the queue's current settings.
func (c *Client) QueueSettings(ctx context.Context, name string) (*queue.Settings, error) {
	var settings queue.Settings
	if _, err := c.do(ctx, http.MethodGet, "/queue/"+name, nil, &settings); err != nil {
		return nil, mapError(err, map[int]error{http.StatusNotFound: ocypod.ErrUnknownQueue})
	}
	return &settings, nil
}

// DeleteQueue removes the queue and every job still associated with it.
func (c *Client) DeleteQueue(ctx context.Context, name string) error {
	_, err := c.do(ctx, http.MethodDelete, "/queue/"+name, nil, nil)
	return mapError(err, map[int]error{http.StatusNotFound: ocypod.ErrUnknownQueue})
}

// Queues lists all queue names.
func (c *Client) Queues(ctx context.Context) ([]string, error) {
	var names []string
	if _, err := c.do(ctx, http.MethodGet, "/queue", nil, &names); err != nil {
		return nil, mapError(err, nil)
	}
	return names, nil
}

// QueueSize returns the number of pending jobs on the queue.
func (c *Client) QueueSize(ctx context.Context, name string) (int64, error) {
	var size int64
	if _, err := c.do(ctx, http.MethodGet, "/queue/"+name+"/size", nil, &size); err != nil {
		return 0, mapError(err, map[int]error{http.StatusNotFound: ocypod.ErrUnknownQueue})
	}
	return size, nil
}

// Enqueue places a new job on the queue and returns its ID.
func (c *Client) Enqueue(ctx context.Context, queueName string, req job.NewJobRequest) (int64, error) {
	var resp struct {
		ID int64 `json:"id"`
	}
	if _, err := c.do(ctx, http.MethodPost, "/queue/"+queueName+"/job", req, &resp); err != nil {
		return 0, mapError(err, map[int]error{http.StatusNotFound: ocypod.ErrUnknownQueue})
	}
	return resp.ID, nil
}

// Claim pops the next pending job off the queue, or returns (nil, nil)
// when the queue is empty.
func (c *Client) Claim(ctx context.Context, queueName string) (*job.Job, error) {
	var j job.Job
	status, err := c.do(ctx, http.MethodGet, "/queue/"+queueName+"/job", nil, &j)
	if err != nil {
		return nil, mapError(err, map[int]error{http.StatusNotFound: ocypod.ErrUnknownQueue})
	}
	if status == http.StatusNoContent {
		return nil, nil
	}
	return &j, nil
}

// Job fetches the full job record.
func (c *Client) Job(ctx context.Context, id int64) (*job.Job, error) {
	var j job.Job
	if _, err := c.do(ctx, http.MethodGet, jobPath(id), nil, &j); err != nil {
		return nil, mapError(err, map[int]error{http.StatusNotFound: ocypod.ErrJobNotFound})
	}
	return &j, nil
}

// JobStatus fetches only the job's status.
func (c *Client) JobStatus(ctx context.Context, id int64) (job.Status, error) {
	var status job.Status
	if _, err := c.do(ctx, http.MethodGet, jobPath(id)+"/status", nil, &status); err != nil {
		return "", mapError(err, map[int]error{http.StatusNotFound: ocypod.ErrJobNotFound})
	}
	return status, nil
}

// UpdateJob applies a partial update to the job.
func (c *Client) UpdateJob(ctx context.Context, id int64, req job.UpdateRequest) error {
	_, err := c.do(ctx, http.MethodPatch, jobPath(id), req, nil)
	return mapError(err, map[int]error{
		http.StatusNotFound: ocypod.ErrJobNotFound,
		http.StatusConflict: ocypod.ErrInvalidTransition,
	})
}

// Complete marks the job completed, storing output when non-nil.
func (c *Client) Complete(ctx context.Context, id int64, output json.RawMessage) error {
	return c.finish(ctx, id, job.StatusCompleted, output)
}

// Fail marks the job failed, storing output when non-nil. The server
// re-queues it instead if the job has retries remaining.
func (c *Client) Fail(ctx context.Context, id int64, output json.RawMessage) error {
	return c.finish(ctx, id, job.StatusFailed, output)
}

// Cancel marks the job cancelled.
func (c *Client) Cancel(ctx context.Context, id int64) error {
	return c.finish(ctx, id, job.StatusCancelled, nil)
}

func (c *Client) finish(ctx context.Context, id int64, status job.Status, output json.RawMessage) error {
	req := job.UpdateRequest{Status: &status}
	if output != nil {
		req.Output = &output
	}
	return c.UpdateJob(ctx, id, req)
}

// Output fetches the job's output field.
func (c *Client) Output(ctx context.Context, id int64) (json.RawMessage, error) {
	var out json.RawMessage
	if _, err := c.do(ctx, http.MethodGet, jobPath(id)+"/output", nil, &out); err != nil {
		return nil, mapError(err, map[int]error{http.StatusNotFound: ocypod.ErrJobNotFound})
	}
	return out, nil
}

// SetOutput overwrites the job's output field, valid in any status.
func (c *Client) SetOutput(ctx context.Context, id int64, output json.RawMessage) error {
	_, err := c.do(ctx, http.MethodPut, jobPath(id)+"/output", output, nil)
	return mapError(err, map[int]error{http.StatusNotFound: ocypod.ErrJobNotFound})
}

// Heartbeat proves the worker holding the job is still alive.
func (c *Client) Heartbeat(ctx context.Context, id int64) error {
	_, err := c.do(ctx, http.MethodPut, jobPath(id)+"/heartbeat", nil, nil)
	return mapError(err, map[int]error{
		http.StatusNotFound: ocypod.ErrJobNotFound,
		http.StatusConflict: ocypod.ErrInvalidState,
	})
}

// DeleteJob removes the job. Deleting an absent job succeeds.
func (c *Client) DeleteJob(ctx context.Context, id int64) error {
	_, err := c.do(ctx, http.MethodDelete, jobPath(id), nil, nil)
	return mapError(err, nil)
}

// JobsForTag lists the IDs of all jobs bearing the tag.
func (c *Client) JobsForTag(ctx context.Context, tag string) ([]int64, error) {
	var ids []int64
	if _, err := c.do(ctx, http.MethodGet, "/tag/"+tag, nil, &ids); err != nil {
		return nil, mapError(err, nil)
	}
	return ids, nil
}

// Version reports the server's version.
func (c *Client) Version(ctx context.Context) (string, error) {
	var v string
	if _, err := c.do(ctx, http.MethodGet, "/info/version", nil, &v); err != nil {
		return "", mapError(err, nil)
	}
	return v, nil
}

// Healthy reports whether the server can reach its store.
func (c *Client) Healthy(ctx context.Context) bool {
	_, err := c.do(ctx, http.MethodGet, "/health", nil, nil)
	return err == nil
}

// do performs one request, decoding a 2xx body into out when out is
// non-nil. Non-2xx responses become a *StatusError.
func (c *Client) do(ctx context.Context, method, path string, body, out any) (int, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return 0, fmt.Errorf("ocypod/client: encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return 0, fmt.Errorf("ocypod/client: build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("ocypod/client: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var apiErr struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&apiErr)
		return resp.StatusCode, &StatusError{Code: resp.StatusCode, Message: apiErr.Error}
	}

	if out != nil && resp.StatusCode != http.StatusNoContent {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, fmt.Errorf("ocypod/client: decode response: %w", err)
		}
	}
	return resp.StatusCode, nil
}

// mapError converts status-specific failures onto ocypod sentinels so
// callers can use errors.Is the same way they would against the store.
func mapError(err error, byStatus map[int]error) error {
	if err == nil {
		return nil
	}
	var se *StatusError
	if errors.As(err, &se) {
		if mapped, found := byStatus[se.Code]; found {
			return fmt.Errorf("%w: %s", mapped, se.Message)
		}
		if se.Code == http.StatusServiceUnavailable {
			return fmt.Errorf("%w: %s", ocypod.ErrStorageUnavailable, se.Message)
		}
	}
	return err
}

func jobPath(id int64) string {
	return "/job/" + strconv.FormatInt(id, 10)
}
