package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/legaultmarc/ocypod"
	"github.com/legaultmarc/ocypod/job"
	"github.com/legaultmarc/ocypod/metrics"
	"github.com/legaultmarc/ocypod/store/memory"
	"github.com/legaultmarc/ocypod/worker"
)

func newTestRouter(t *testing.T, opts ...Option) (*gin.Engine, *memory.Store) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	s := memory.New()
	pool := worker.NewPool(worker.WithSize(2))
	pool.Start()
	t.Cleanup(func() { _ = pool.Stop(context.Background()) })

	a := New(s, pool, opts...)
	return a.Router(), s
}

func doRequest(r *gin.Engine, method, path, body string) *httptest.ResponseRecorder {
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func createQueue(t *testing.T, r *gin.Engine, name, body string) {
	t.Helper()
	w := doRequest(r, http.MethodPut, "/queue/"+name, body)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
}

func TestQueueLifecycle(t *testing.T) {
	r, _ := newTestRouter(t)

	w := doRequest(r, http.MethodPut, "/queue/build", `{"timeout":"10m","retries":2}`)
	assert.Equal(t, http.StatusCreated, w.Code)

	// Updating an existing queue is a 204.
	w = doRequest(r, http.MethodPut, "/queue/build", `{"timeout":"20m"}`)
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = doRequest(r, http.MethodGet, "/queue/build", "")
	require.Equal(t, http.StatusOK, w.Code)
	var settings struct {
		Timeout string `json:"timeout"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &settings))
	assert.Equal(t, "20m0s", settings.Timeout)

	w = doRequest(r, http.MethodGet, "/queue", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `["build"]`, w.Body.String())

	w = doRequest(r, http.MethodGet, "/queue/nope", "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = doRequest(r, http.MethodPut, "/queue/bad", `{"timeout":"-5s"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doRequest(r, http.MethodDelete, "/queue/build", "")
	assert.Equal(t, http.StatusNoContent, w.Code)
	w = doRequest(r, http.MethodDelete, "/queue/build", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestQueueDefaultsOnEmptyBody(t *testing.T) {
	r, _ := newTestRouter(t)
	createQueue(t, r, "plain", "")

	w := doRequest(r, http.MethodGet, "/queue/plain", "")
	require.Equal(t, http.StatusOK, w.Code)
	var settings struct {
		Timeout string `json:"timeout"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &settings))
	assert.Equal(t, "30m0s", settings.Timeout)
}

func TestEnqueueAndClaim(t *testing.T) {
	r, _ := newTestRouter(t)
	createQueue(t, r, "build", "")

	w := doRequest(r, http.MethodPost, "/queue/build/job", `{"input":{"cmd":"make"},"tags":["ci"]}`)
	require.Equal(t, http.StatusCreated, w.Code)
	assert.JSONEq(t, `{"id":1}`, w.Body.String())

	w = doRequest(r, http.MethodPost, "/queue/nope/job", `{}`)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = doRequest(r, http.MethodGet, "/queue/build/job", "")
	require.Equal(t, http.StatusOK, w.Code)
	var claimed job.Job
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &claimed))
	assert.Equal(t, int64(1), claimed.ID)
	assert.Equal(t, job.StatusRunning, claimed.Status)
	assert.JSONEq(t, `{"cmd":"make"}`, string(claimed.Input))

	// Empty queue claims are 204, not an error.
	w = doRequest(r, http.MethodGet, "/queue/build/job", "")
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = doRequest(r, http.MethodGet, "/queue/nope/job", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestQueueSize(t *testing.T) {
	r, _ := newTestRouter(t)
	createQueue(t, r, "build", "")

	doRequest(r, http.MethodPost, "/queue/build/job", `{}`)
	doRequest(r, http.MethodPost, "/queue/build/job", `{}`)

	w := doRequest(r, http.MethodGet, "/queue/build/size", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "2", strings.TrimSpace(w.Body.String()))
}

func TestJobLifecycle(t *testing.T) {
	r, _ := newTestRouter(t)
	createQueue(t, r, "build", "")
	doRequest(r, http.MethodPost, "/queue/build/job", `{}`)
	doRequest(r, http.MethodGet, "/queue/build/job", "")

	w := doRequest(r, http.MethodPut, "/job/1/heartbeat", "")
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = doRequest(r, http.MethodPatch, "/job/1", `{"status":"completed","output":{"ok":true}}`)
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = doRequest(r, http.MethodGet, "/job/1/status", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `"completed"`, w.Body.String())

	w = doRequest(r, http.MethodGet, "/job/1/output", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"ok":true}`, w.Body.String())

	// Terminal jobs accept no further transitions.
	w = doRequest(r, http.MethodPatch, "/job/1", `{"status":"cancelled"}`)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = doRequest(r, http.MethodGet, "/job/1", "")
	require.Equal(t, http.StatusOK, w.Code)
	var j job.Job
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &j))
	assert.Equal(t, job.StatusCompleted, j.Status)
	assert.NotNil(t, j.EndedAt)
}

func TestJobErrors(t *testing.T) {
	r, _ := newTestRouter(t)
	createQueue(t, r, "build", "")
	doRequest(r, http.MethodPost, "/queue/build/job", `{}`)

	// Heartbeat is only valid while running.
	w := doRequest(r, http.MethodPut, "/job/1/heartbeat", "")
	assert.Equal(t, http.StatusConflict, w.Code)

	w = doRequest(r, http.MethodPut, "/job/99/heartbeat", "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = doRequest(r, http.MethodGet, "/job/99", "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = doRequest(r, http.MethodGet, "/job/abc", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doRequest(r, http.MethodPatch, "/job/1", `{"status":"sideways"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	// queued and running are reserved for the server.
	w = doRequest(r, http.MethodPatch, "/job/1", `{"status":"running"}`)
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestSetOutput(t *testing.T) {
	r, _ := newTestRouter(t)
	createQueue(t, r, "build", "")
	doRequest(r, http.MethodPost, "/queue/build/job", `{}`)

	// Output is writable in any status, before completion included.
	w := doRequest(r, http.MethodPut, "/job/1/output", `{"progress":40}`)
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = doRequest(r, http.MethodPut, "/job/1/output", `{"broken`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doRequest(r, http.MethodPut, "/job/99/output", `{}`)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = doRequest(r, http.MethodGet, "/job/1/output", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"progress":40}`, w.Body.String())
}

func TestDeleteJobIdempotent(t *testing.T) {
	r, _ := newTestRouter(t)
	createQueue(t, r, "build", "")
	doRequest(r, http.MethodPost, "/queue/build/job", `{}`)

	w := doRequest(r, http.MethodDelete, "/job/1", "")
	assert.Equal(t, http.StatusNoContent, w.Code)
	w = doRequest(r, http.MethodDelete, "/job/1", "")
	assert.Equal(t, http.StatusNoContent, w.Code)
}

func TestTagLookup(t *testing.T) {
	r, _ := newTestRouter(t)
	createQueue(t, r, "build", "")
	doRequest(r, http.MethodPost, "/queue/build/job", `{"tags":["ci"]}`)
	doRequest(r, http.MethodPost, "/queue/build/job", `{"tags":["ci","nightly"]}`)

	w := doRequest(r, http.MethodGet, "/tag/ci", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `[1,2]`, w.Body.String())

	// Unknown tags are an empty list, not an error.
	w = doRequest(r, http.MethodGet, "/tag/ghost", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `[]`, w.Body.String())
}

func TestInfoEndpoints(t *testing.T) {
	r, _ := newTestRouter(t)
	createQueue(t, r, "build", "")
	doRequest(r, http.MethodPost, "/queue/build/job", `{}`)

	w := doRequest(r, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, w.Code)

	w = doRequest(r, http.MethodGet, "/info/version", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `"`+ocypod.Version+`"`, w.Body.String())

	w = doRequest(r, http.MethodGet, "/info", "")
	require.Equal(t, http.StatusOK, w.Code)
	var info struct {
		Version  string           `json:"version"`
		Queues   map[string]int64 `json:"queues"`
		Statuses map[string]int64 `json:"statuses"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &info))
	assert.Equal(t, ocypod.Version, info.Version)
	assert.Equal(t, int64(1), info.Queues["build"])
	assert.Equal(t, int64(1), info.Statuses["queued"])
}

func TestMetricsEndpoint(t *testing.T) {
	r, _ := newTestRouter(t, WithMetrics(metrics.New()))
	createQueue(t, r, "build", "")
	doRequest(r, http.MethodPost, "/queue/build/job", `{}`)

	w := doRequest(r, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "ocypod_jobs_enqueued_total 1")
}

func TestMaxBodySize(t *testing.T) {
	r, _ := newTestRouter(t, WithMaxBodySize(64))
	createQueue(t, r, "build", "")

	big := `{"input":"` + strings.Repeat("x", 256) + `"}`
	w := doRequest(r, http.MethodPost, "/queue/build/job", big)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestPoolClosedMapsToServiceUnavailable(t *testing.T) {
	gin.SetMode(gin.TestMode)
	s := memory.New()
	pool := worker.NewPool(worker.WithSize(1))
	pool.Start()
	a := New(s, pool)
	r := a.Router()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, pool.Stop(ctx))

	w := doRequest(r, http.MethodGet, "/queue", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}
