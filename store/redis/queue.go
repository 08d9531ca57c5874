package redis

import (
	"context"
	"sort"

	"github.com/legaultmarc/ocypod"
	"github.com/legaultmarc/ocypod/queue"
)

// CreateOrUpdateQueue creates the queue or replaces its settings for
// future jobs only. The boolean reports whether the queue was created.
func (s *Store) CreateOrUpdateQueue(ctx context.Context, name string, settings queue.Settings) (bool, error) {
	if !queue.ValidName(name) {
		return false, ocypod.ErrInvalidSettings
	}
	if err := settings.Validate(); err != nil {
		return false, err
	}

	fields, err := settingsFields(settings)
	if err != nil {
		return false, storeErr("queue encode", err)
	}
	args := append([]any{name}, fields...)
	created, err := upsertQueueScript.Run(ctx, s.client,
		[]string{queueSettingsKey(name), queuesKey}, args...).Int64()
	if err != nil {
		return false, storeErr("create queue", err)
	}

	s.logger.Debug("queue settings written", "queue", name, "created", created == 1)
	return created == 1, nil
}

// QueueSettings returns the queue's current settings.
func (s *Store) QueueSettings(ctx context.Context, name string) (*queue.Settings, error) {
	m, err := s.client.HGetAll(ctx, queueSettingsKey(name)).Result()
	if err != nil {
		return nil, storeErr("queue settings", err)
	}
	if len(m) == 0 {
		return nil, ocypod.ErrUnknownQueue
	}
	settings, err := settingsFromMap(m)
	if err != nil {
		return nil, storeErr("queue settings decode", err)
	}
	return settings, nil
}

// DeleteQueue removes the queue and cascades to every job still
// associated with it, in any status.
func (s *Store) DeleteQueue(ctx context.Context, name string) error {
	keys := []string{
		queueSettingsKey(name),
		queuePendingKey(name),
		queueDelayedKey(name),
		queueJobsKey(name),
		queuesKey,
	}
	removed, err := deleteQueueScript.Run(ctx, s.client, keys,
		jobKeyPrefix, statusKeyPrefix, tagKeyPrefix, name).Int64()
	if err != nil {
		return storeErr("delete queue", err)
	}
	if removed < 0 {
		return ocypod.ErrUnknownQueue
	}

	s.logger.Debug("queue deleted", "queue", name, "jobs_removed", removed)
	return nil
}

// QueueNames returns all known queue names, sorted ascending.
func (s *Store) QueueNames(ctx context.Context) ([]string, error) {
	names, err := s.client.SMembers(ctx, queuesKey).Result()
	if err != nil {
		return nil, storeErr("queue names", err)
	}
	sort.Strings(names)
	return names, nil
}

// QueueSize returns the length of the queue's pending list.
func (s *Store) QueueSize(ctx context.Context, name string) (int64, error) {
	size, err := queueSizeScript.Run(ctx, s.client,
		[]string{queueSettingsKey(name), queuePendingKey(name)}).Int64()
	if err != nil {
		return 0, storeErr("queue size", err)
	}
	if size < 0 {
		return 0, ocypod.ErrUnknownQueue
	}
	return size, nil
}
