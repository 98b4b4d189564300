// Package scheduler provides tickbot's durable one-shot job scheduler.
//
// # Overview
//
// A job is a persisted description of one future action invocation, plus
// optional reminders that fire at backward offsets from the primary time.
// Actions are registered under a stable string name and resolved by name at
// fire time, so handlers can be upgraded in a long-running process without
// touching persisted jobs.
//
// # Durability
//
// The full job set is serialized to a flat JSON file. Writes are debounced
// so bursts of Schedule/Cancel calls coalesce into one disk write, and each
// write goes through a temp file followed by an atomic rename so a crash
// mid-write never leaves a truncated file. In-memory state stays
// authoritative for the life of the process; a failed write is retried by
// the next successful flush.
//
// # Restore
//
// Restore reconstructs live timers from the persisted records. Overdue jobs
// fire once after a short grace delay; reminders whose computed time has
// already passed are dropped rather than fired late. A record referencing an
// unregistered action is kept in the job set unarmed so operators can find
// it via Jobs(), and is logged as a configuration error.
//
// # Semantics
//
// Jobs are one-shot: the primary fire retires the job regardless of handler
// outcome (a failing handler is logged, never retried — re-scheduling is the
// handler's own business). Reminder fires never retire the job. Cancellation
// stops every timer of a job but cannot interrupt a handler that is already
// running.
package scheduler
