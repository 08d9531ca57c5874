// Package tag defines the read-only tag index interface.
//
// Tags are free-form labels attached to jobs. The index maps each
// tag to the set of job IDs bearing it and is maintained exclusively
// by the job store's create, update and delete paths, inside the same
// atomic operation that touches the job record; there is no
// independent write API.
package tag

import "context"

// Store defines the lookup contract for the tag index.
type Store interface {
	// JobsForTag returns the IDs of all jobs bearing the tag, sorted
	// ascending. An unknown tag yields an empty slice, not an error.
	JobsForTag(ctx context.Context, tag string) ([]int64, error)
}
