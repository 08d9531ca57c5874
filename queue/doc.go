// Package queue defines queue settings and the registry store
// interface.
//
// Queues are named FIFO holders of pending jobs. Each queue carries a
// [Settings] record — retry budget, retry delays, execution timeout,
// heartbeat timeout and post-completion expiry — that is snapshotted
// onto every job at enqueue time. Updating a queue's settings only
// affects jobs enqueued afterwards.
//
// Deleting a queue cascades to every job still associated with it,
// whatever status those jobs are in.
package queue
