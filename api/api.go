// Package api exposes the server's HTTP surface. Handlers translate
// requests into store operations, funnel them through the worker pool,
// and map error kinds onto status codes.
package api

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/legaultmarc/ocypod"
	"github.com/legaultmarc/ocypod/metrics"
	"github.com/legaultmarc/ocypod/store"
	"github.com/legaultmarc/ocypod/worker"
)

// API wires the HTTP routes to a store through the worker pool.
type API struct {
	store       store.Store
	pool        *worker.Pool
	logger      *slog.Logger
	metrics     *metrics.Metrics
	maxBodySize int64
}

// Option configures the API.
type Option func(*API)

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(a *API) { a.logger = l }
}

// WithMetrics enables request instrumentation and the /metrics route.
func WithMetrics(m *metrics.Metrics) Option {
	return func(a *API) { a.metrics = m }
}

// WithMaxBodySize caps request body size in bytes. Zero means no cap.
func WithMaxBodySize(n int64) Option {
	return func(a *API) { a.maxBodySize = n }
}

// New creates the API.
func New(s store.Store, pool *worker.Pool, opts ...Option) *API {
	a := &API{
		store:  s,
		pool:   pool,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Router builds the gin engine with every route registered.
func (a *API) Router() *gin.Engine {
	r := gin.New()
	r.Use(a.observe(), gin.Recovery())
	if a.maxBodySize > 0 {
		r.Use(a.limitBody())
	}

	r.GET("/health", a.health)
	r.GET("/info", a.info)
	r.GET("/info/version", a.version)
	if a.metrics != nil {
		r.GET("/metrics", gin.WrapH(a.metrics.Handler()))
	}

	q := r.Group("/queue")
	q.GET("", a.listQueues)
	q.PUT("/:name", a.createOrUpdateQueue)
	q.GET("/:name", a.queueSettings)
	q.DELETE("/:name", a.deleteQueue)
	q.GET("/:name/size", a.queueSize)
	q.POST("/:name/job", a.enqueueJob)
	q.GET("/:name/job", a.claimJob)

	j := r.Group("/job")
	j.GET("/:id", a.getJob)
	j.PATCH("/:id", a.updateJob)
	j.DELETE("/:id", a.deleteJob)
	j.GET("/:id/status", a.jobStatus)
	j.GET("/:id/output", a.jobOutput)
	j.PUT("/:id/output", a.setJobOutput)
	j.PUT("/:id/heartbeat", a.heartbeat)

	r.GET("/tag/:name", a.jobsForTag)

	return r
}

// do submits a storage task to the worker pool and blocks until it
// ran, bounding how many Redis commands are in flight at once.
func (a *API) do(c *gin.Context, task worker.Task) error {
	return a.pool.Do(c.Request.Context(), task)
}

// fail maps an error kind onto its status code.
func (a *API) fail(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, ocypod.ErrUnknownQueue), errors.Is(err, ocypod.ErrJobNotFound):
		status = http.StatusNotFound
	case errors.Is(err, ocypod.ErrInvalidTransition), errors.Is(err, ocypod.ErrInvalidState):
		status = http.StatusConflict
	case errors.Is(err, ocypod.ErrInvalidSettings):
		status = http.StatusBadRequest
	case errors.Is(err, ocypod.ErrStorageUnavailable), errors.Is(err, ocypod.ErrPoolClosed):
		status = http.StatusServiceUnavailable
	}
	if status == http.StatusInternalServerError {
		a.logger.Error("request failed", "method", c.Request.Method, "path", c.Request.URL.Path, "error", err)
	}
	c.AbortWithStatusJSON(status, gin.H{"error": err.Error()})
}

func badRequest(c *gin.Context, msg string) {
	c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": msg})
}

// jobID parses the :id route parameter.
func jobID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		badRequest(c, "invalid job id")
		return 0, false
	}
	return id, true
}

// observe logs each request and feeds the latency histogram.
func (a *API) observe() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		elapsed := time.Since(start)

		a.logger.Debug("request handled",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"elapsed", elapsed,
		)
		if a.metrics != nil {
			path := c.FullPath()
			if path == "" {
				path = "unmatched"
			}
			a.metrics.ObserveHTTPRequest(c.Request.Method, path, c.Writer.Status(), elapsed)
		}
	}
}

// limitBody caps how much of a request body handlers will read.
func (a *API) limitBody() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, a.maxBodySize)
		c.Next()
	}
}
