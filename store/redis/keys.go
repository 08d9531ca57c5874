package redis

import (
	"strconv"

	"github.com/legaultmarc/ocypod/job"
)

// All keys live under one namespace so a shared Redis instance stays
// navigable.
const (
	keyPrefix = "ocypod:"

	// jobCounterKey backs the monotonic job ID allocator.
	jobCounterKey = keyPrefix + "job-id"

	// queuesKey is the Set of all known queue names.
	queuesKey = keyPrefix + "queues"

	// Prefixes handed to Lua scripts that derive keys from hash
	// fields (queue name, status, tags) at execution time.
	jobKeyPrefix    = keyPrefix + "job:"
	queueKeyPrefix  = keyPrefix + "queue:"
	statusKeyPrefix = keyPrefix + "status:"
	tagKeyPrefix    = keyPrefix + "tag:"
)

func jobKey(id int64) string {
	return jobKeyPrefix + strconv.FormatInt(id, 10)
}

func queueSettingsKey(name string) string {
	return queueKeyPrefix + name + ":settings"
}

func queuePendingKey(name string) string {
	return queueKeyPrefix + name + ":pending"
}

func queueDelayedKey(name string) string {
	return queueKeyPrefix + name + ":delayed"
}

func queueJobsKey(name string) string {
	return queueKeyPrefix + name + ":all"
}

func statusKey(s job.Status) string {
	return statusKeyPrefix + string(s)
}

func tagKey(tag string) string {
	return tagKeyPrefix + tag
}
