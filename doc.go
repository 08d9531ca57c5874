// Package ocypod implements a Redis-backed job queue server. Clients
// enqueue opaque units of work onto named queues, workers claim them
// over HTTP, and a background monitor enforces heartbeat, timeout,
// retry and expiry policy.
//
// The root package holds what every subsystem shares: the sentinel
// error kinds that form the public error contract, server
// configuration, and the human-readable Duration type used in queue
// settings and config files.
//
// # Architecture
//
// Subsystems follow a composable store pattern where each entity
// package (job, queue, tag) defines its own store interface and a
// single backend implements all of them. The authoritative backend is
// store/redis, which expresses every multi-key mutation as one Lua
// script so the derived indexes (pending lists, status sets, tag sets)
// can never drift from the job records. store/memory implements the
// same interfaces behind a mutex for unit tests and development.
//
// All storage access is funnelled through a bounded worker pool
// (package worker); the HTTP layer (package api) and the periodic
// monitor (package monitor) share that path.
package ocypod
