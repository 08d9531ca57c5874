package queue

import "context"

// Store defines the persistence contract for the queue registry.
type Store interface {
	// CreateOrUpdateQueue validates the settings and creates the
	// queue, or replaces the settings of an existing one for future
	// jobs only. The boolean reports whether the queue was created.
	CreateOrUpdateQueue(ctx context.Context, name string, settings Settings) (bool, error)

	// QueueSettings returns the queue's current settings, or
	// ocypod.ErrUnknownQueue.
	QueueSettings(ctx context.Context, name string) (*Settings, error)

	// DeleteQueue removes the queue, its settings, and every job
	// still associated with it in any status, including all index
	// entries those jobs hold. Returns ocypod.ErrUnknownQueue if the
	// queue does not exist.
	DeleteQueue(ctx context.Context, name string) error

	// QueueNames returns all known queue names, sorted ascending.
	QueueNames(ctx context.Context) ([]string, error)

	// QueueSize returns the length of the queue's pending list only;
	// running and ended jobs are not counted.
	QueueSize(ctx context.Context, name string) (int64, error)
}
