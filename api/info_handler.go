package api

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/legaultmarc/ocypod"
	"github.com/legaultmarc/ocypod/job"
)

// serverInfo is the GET /info response.
type serverInfo struct {
	Version  string               `json:"version"`
	Queues   map[string]int64     `json:"queues"`
	Statuses map[job.Status]int64 `json:"statuses"`
}

// info handles GET /info: per-queue pending sizes and global status
// counts.
func (a *API) info(c *gin.Context) {
	out := serverInfo{
		Version: ocypod.Version,
		Queues:  map[string]int64{},
	}
	err := a.do(c, func(ctx context.Context) error {
		names, err := a.store.QueueNames(ctx)
		if err != nil {
			return err
		}
		for _, name := range names {
			size, err := a.store.QueueSize(ctx, name)
			if err != nil {
				// Deleted between the listing and the size read.
				continue
			}
			out.Queues[name] = size
		}
		out.Statuses, err = a.store.StatusCounts(ctx)
		return err
	})
	if err != nil {
		a.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

// version handles GET /info/version.
func (a *API) version(c *gin.Context) {
	c.JSON(http.StatusOK, ocypod.Version)
}

// health handles GET /health with a live round trip to the store.
func (a *API) health(c *gin.Context) {
	if err := a.store.Ping(c.Request.Context()); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
