package api

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/legaultmarc/ocypod/queue"
)

// createOrUpdateQueue handles PUT /queue/:name. An empty body creates
// the queue with default settings; fields present in the body override
// the defaults.
func (a *API) createOrUpdateQueue(c *gin.Context) {
	settings := queue.DefaultSettings()
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&settings); err != nil {
			badRequest(c, "invalid queue settings: "+err.Error())
			return
		}
	}

	var created bool
	err := a.do(c, func(ctx context.Context) error {
		var err error
		created, err = a.store.CreateOrUpdateQueue(ctx, c.Param("name"), settings)
		return err
	})
	if err != nil {
		a.fail(c, err)
		return
	}

	if created {
		c.Status(http.StatusCreated)
		return
	}
	c.Status(http.StatusNoContent)
}

// queueSettings handles GET /queue/:name.
func (a *API) queueSettings(c *gin.Context) {
	var settings *queue.Settings
	err := a.do(c, func(ctx context.Context) error {
		var err error
		settings, err = a.store.QueueSettings(ctx, c.Param("name"))
		return err
	})
	if err != nil {
		a.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, settings)
}

// deleteQueue handles DELETE /queue/:name.
func (a *API) deleteQueue(c *gin.Context) {
	err := a.do(c, func(ctx context.Context) error {
		return a.store.DeleteQueue(ctx, c.Param("name"))
	})
	if err != nil {
		a.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// listQueues handles GET /queue.
func (a *API) listQueues(c *gin.Context) {
	var names []string
	err := a.do(c, func(ctx context.Context) error {
		var err error
		names, err = a.store.QueueNames(ctx)
		return err
	})
	if err != nil {
		a.fail(c, err)
		return
	}
	if names == nil {
		names = []string{}
	}
	c.JSON(http.StatusOK, names)
}

// queueSize handles GET /queue/:name/size, the pending count only.
func (a *API) queueSize(c *gin.Context) {
	var size int64
	err := a.do(c, func(ctx context.Context) error {
		var err error
		size, err = a.store.QueueSize(ctx, c.Param("name"))
		return err
	})
	if err != nil {
		a.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, size)
}
