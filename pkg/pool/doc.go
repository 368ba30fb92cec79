// Package pool implements a prioritized worker pool with per-task timeouts
// and cooperative cancellation.
//
// # Overview
//
// A Pool owns a fixed set of workers (goroutines), a pending queue ordered by
// descending priority (FIFO within equal priority), and a table of in-flight
// assignments. Callers submit typed tasks and receive a Future that settles
// exactly once: with the handler's result on success, or with an error on
// handler failure, timeout, cancellation, worker fault, or pool shutdown.
//
// Handlers are registered per task type in a Registry shared by all workers
// of a pool. Registering the same type twice overwrites the previous handler;
// last registration wins.
//
// # Timeouts and cancellation
//
// A task's Timeout is measured from submission, so it covers queue wait as
// well as execution. A task that waits too long in the queue can time out
// before it ever runs.
//
// Cancellation of a queued task is exact: the task is removed from the queue
// and never reaches a worker. Cancellation of an in-flight task is advisory:
// the handler's context is cancelled and the caller's Future settles
// immediately, but the worker stays busy until the handler actually returns.
// A result arriving for a task that is no longer tracked is discarded.
//
// # Lifecycle
//
// Pools are constructed explicitly with New and passed to whatever needs
// them; there is no package-level singleton. After Shutdown the pool settles
// every outstanding Future with ErrPoolShutdown and rejects further
// submissions. A pool cannot be reused after shutdown.
package pool
