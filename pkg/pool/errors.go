package pool

import (
	"errors"
	"fmt"
)

var (
	// ErrTimeout settles a Future whose task exceeded its deadline
	// (queued or running).
	ErrTimeout = errors.New("task deadline exceeded")

	// ErrCancelled settles a Future whose task was cancelled via Cancel.
	ErrCancelled = errors.New("task cancelled")

	// ErrPoolShutdown is returned by Submit after Shutdown and settles every
	// Future still outstanding when Shutdown runs.
	ErrPoolShutdown = errors.New("pool shutting down")

	// ErrDuplicateID rejects a submission whose id is already queued or in flight.
	ErrDuplicateID = errors.New("task id already pending")

	// ErrQueueFull rejects a submission once MaxQueueDepth is reached.
	ErrQueueFull = errors.New("task queue full")

	// ErrNoHandler is wrapped in a HandlerError when a task's type has no
	// registered handler.
	ErrNoHandler = errors.New("no handler registered for task type")
)

// HandlerError reports that a task's handler failed: it returned an error,
// panicked, or did not exist. It travels through the Future's error path,
// never as a synchronous Submit error.
type HandlerError struct {
	TaskType string
	Err      error
}

func (e *HandlerError) Error() string {
	return fmt.Sprintf("handler %q: %v", e.TaskType, e.Err)
}

func (e *HandlerError) Unwrap() error { return e.Err }

// WorkerFaultError reports that a worker stopped unexpectedly while holding
// a task. The fault is isolated to the tasks that worker held.
type WorkerFaultError struct {
	Worker int
	Err    error
}

func (e *WorkerFaultError) Error() string {
	return fmt.Sprintf("worker %d fault: %v", e.Worker, e.Err)
}

func (e *WorkerFaultError) Unwrap() error { return e.Err }
