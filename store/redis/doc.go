// Package redis implements store.Store against Redis, the
// authoritative backend of the server.
//
// # Layout
//
// Jobs are Hashes keyed by a monotonically increasing integer ID from
// an INCR counter. Each queue owns a FIFO pending List (RPUSH on
// enqueue, LPOP on claim), a delayed-retry Sorted Set scored by
// ready-time, a membership Set of every job it still owns, and a
// settings Hash. Jobs are additionally indexed by per-status Sets and
// per-tag Sets.
//
// # Atomicity
//
// Exactly-once delivery of a queue slot rests on LPOP inside a single
// Lua script; there is no read-then-write anywhere on the claim path.
// Every operation that touches more than one key (enqueue, claim,
// update, delete, queue cascade, retry, timeout, promotion) is one
// script, so a crash can never leave the derived indexes disagreeing
// with the job record. Monitor transitions are compare-and-swap keyed
// on the job's current status and last heartbeat.
//
// Scripts derive some keys from prefixes passed as arguments, which
// assumes a single Redis instance (or a cluster client with hash tags
// disabled); that matches how the server is deployed.
//
// Usage:
//
//	opts, _ := goredis.ParseURL("redis://127.0.0.1:6379/0")
//	s := redisstore.New(goredis.NewClient(opts))
//	if err := s.Ping(ctx); err != nil { ... }
package redis
