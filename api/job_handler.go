package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/legaultmarc/ocypod/job"
)

// enqueueJob handles POST /queue/:name/job.
func (a *API) enqueueJob(c *gin.Context) {
	var req job.NewJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid job: "+err.Error())
		return
	}

	var j *job.Job
	err := a.do(c, func(ctx context.Context) error {
		var err error
		j, err = a.store.EnqueueJob(ctx, c.Param("name"), req)
		return err
	})
	if err != nil {
		a.fail(c, err)
		return
	}

	if a.metrics != nil {
		a.metrics.JobsEnqueued.Inc()
	}
	c.JSON(http.StatusCreated, gin.H{"id": j.ID})
}

// claimJob handles GET /queue/:name/job. 204 when the queue is empty.
func (a *API) claimJob(c *gin.Context) {
	var j *job.Job
	err := a.do(c, func(ctx context.Context) error {
		var err error
		j, err = a.store.ClaimJob(ctx, c.Param("name"))
		return err
	})
	if err != nil {
		a.fail(c, err)
		return
	}
	if j == nil {
		c.Status(http.StatusNoContent)
		return
	}

	if a.metrics != nil {
		a.metrics.JobsClaimed.Inc()
	}
	c.JSON(http.StatusOK, j)
}

// getJob handles GET /job/:id.
func (a *API) getJob(c *gin.Context) {
	id, ok := jobID(c)
	if !ok {
		return
	}

	var j *job.Job
	err := a.do(c, func(ctx context.Context) error {
		var err error
		j, err = a.store.GetJob(ctx, id)
		return err
	})
	if err != nil {
		a.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, j)
}

// jobStatus handles GET /job/:id/status.
func (a *API) jobStatus(c *gin.Context) {
	id, ok := jobID(c)
	if !ok {
		return
	}

	var status job.Status
	err := a.do(c, func(ctx context.Context) error {
		var err error
		status, err = a.store.JobStatus(ctx, id)
		return err
	})
	if err != nil {
		a.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, status)
}

// updateJob handles PATCH /job/:id.
func (a *API) updateJob(c *gin.Context) {
	id, ok := jobID(c)
	if !ok {
		return
	}

	var req job.UpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid update: "+err.Error())
		return
	}
	if req.Status != nil {
		if _, err := job.ParseStatus(string(*req.Status)); err != nil {
			badRequest(c, "unknown status: "+string(*req.Status))
			return
		}
	}

	err := a.do(c, func(ctx context.Context) error {
		_, err := a.store.UpdateJob(ctx, id, req)
		return err
	})
	if err != nil {
		a.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// jobOutput handles GET /job/:id/output.
func (a *API) jobOutput(c *gin.Context) {
	id, ok := jobID(c)
	if !ok {
		return
	}

	var output json.RawMessage
	err := a.do(c, func(ctx context.Context) error {
		var err error
		output, err = a.store.JobOutput(ctx, id)
		return err
	})
	if err != nil {
		a.fail(c, err)
		return
	}
	if len(output) == 0 {
		output = json.RawMessage("null")
	}
	c.Data(http.StatusOK, "application/json; charset=utf-8", output)
}

// setJobOutput handles PUT /job/:id/output. The body is stored as-is,
// in any job status.
func (a *API) setJobOutput(c *gin.Context) {
	id, ok := jobID(c)
	if !ok {
		return
	}

	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		badRequest(c, "cannot read body: "+err.Error())
		return
	}
	if !json.Valid(body) {
		badRequest(c, "output must be valid JSON")
		return
	}

	err = a.do(c, func(ctx context.Context) error {
		return a.store.SetJobOutput(ctx, id, body)
	})
	if err != nil {
		a.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// heartbeat handles PUT /job/:id/heartbeat.
func (a *API) heartbeat(c *gin.Context) {
	id, ok := jobID(c)
	if !ok {
		return
	}

	err := a.do(c, func(ctx context.Context) error {
		return a.store.HeartbeatJob(ctx, id)
	})
	if err != nil {
		a.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// deleteJob handles DELETE /job/:id. Deleting an absent job succeeds.
func (a *API) deleteJob(c *gin.Context) {
	id, ok := jobID(c)
	if !ok {
		return
	}

	err := a.do(c, func(ctx context.Context) error {
		_, err := a.store.DeleteJob(ctx, id)
		return err
	})
	if err != nil {
		a.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// jobsForTag handles GET /tag/:name.
func (a *API) jobsForTag(c *gin.Context) {
	var ids []int64
	err := a.do(c, func(ctx context.Context) error {
		var err error
		ids, err = a.store.JobsForTag(ctx, c.Param("name"))
		return err
	})
	if err != nil {
		a.fail(c, err)
		return
	}
	if ids == nil {
		ids = []int64{}
	}
	c.JSON(http.StatusOK, ids)
}
