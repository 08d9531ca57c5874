package ocypod

import "errors"

// Sentinel errors returned by core operations. The HTTP layer maps
// each kind to a status code; everything else surfaces as a 500.
var (
	// Not found errors.
	ErrUnknownQueue = errors.New("ocypod: unknown queue")
	ErrJobNotFound  = errors.New("ocypod: job not found")

	// State errors.
	ErrInvalidTransition = errors.New("ocypod: invalid status transition")
	ErrInvalidState      = errors.New("ocypod: operation not valid for current status")

	// Validation errors.
	ErrInvalidSettings = errors.New("ocypod: invalid queue settings")

	// Infrastructure errors.
	ErrStorageUnavailable = errors.New("ocypod: storage unavailable")
	ErrPoolClosed         = errors.New("ocypod: worker pool closed")
)
