// Package store defines the aggregate persistence interface.
//
// Each entity package (job, queue, tag) defines its own store
// interface; the composite [Store] composes them all, so a single
// backend satisfies every subsystem's persistence contract.
//
// # Available backends
//
//   - store/redis — the authoritative Redis backend; every multi-key
//     mutation is one Lua script
//   - store/memory — mutex-guarded in-memory backend for unit tests
//     and development
package store

import (
	"context"

	"github.com/legaultmarc/ocypod/job"
	"github.com/legaultmarc/ocypod/queue"
	"github.com/legaultmarc/ocypod/tag"
)

// Store is the aggregate persistence interface. A single backend
// implements all of it.
type Store interface {
	job.Store
	queue.Store
	tag.Store

	// Ping checks backend connectivity; it backs GET /health.
	Ping(ctx context.Context) error

	// Close releases the backend's resources.
	Close() error
}
