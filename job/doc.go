// Package job defines the job entity, its status state machine, and
// the store interface every backend implements.
//
// # Job Entity
//
// A [Job] is one unit of work: an opaque JSON input, an independently
// writable JSON output, a set of tags, and the timestamps and policy
// snapshot the monitor needs to enforce liveness. Policy fields
// (timeout, heartbeat timeout, expiry, retry budget and delays) are
// copied from the owning queue's settings at enqueue time; later edits
// to the queue never touch jobs already in flight.
//
// # State machine
//
//	queued → running → completed
//	queued → running → failed | cancelled | timed_out
//	queued → running → queued → ...   (retry, monitor or explicit failure)
//	queued → cancelled
//
// Terminal statuses are sinks. [Status.CanTransitionTo] is the single
// source of truth; every backend validates transitions against it and
// rejects anything else with ocypod.ErrInvalidTransition.
//
// # Store
//
// [Store] is the persistence contract. Claiming relies on the
// backend's native atomic pop so that two concurrent claims on the
// same queue can never return the same job. The monitor-facing
// operations (RetryJob, TimeoutJob) are compare-and-swap: they apply
// only if the job is still running with the heartbeat the monitor
// observed, so a client update racing the monitor always wins.
package job
