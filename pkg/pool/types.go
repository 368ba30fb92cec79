package pool

import (
	"runtime"
	"time"

	"taskd/pkg/logx"
)

// Task is a unit of work submitted to a Pool.
//
// Payload is opaque to the pool; it is handed to the registered handler
// unchanged. When a task crosses an isolation boundary (e.g. the HTTP API),
// Payload must be plain data.
type Task struct {
	// ID correlates the submission with its result and supports Cancel.
	// If empty, Submit generates a "tsk-" prefixed UUID.
	// IDs must be unique among tasks currently queued or in flight;
	// duplicates are rejected with ErrDuplicateID.
	ID string `json:"id"`

	// Type selects the registered handler.
	Type string `json:"type"`

	Payload any `json:"payload,omitempty"`

	// Priority orders the pending queue; higher runs first.
	// Equal priorities dispatch in submission order.
	Priority int `json:"priority,omitempty"`

	// Timeout bounds queue wait plus execution. Zero means no deadline.
	Timeout time.Duration `json:"timeout,omitempty"`
}

// Options configures a Pool.
type Options struct {
	// Workers is the fixed worker count. Defaults to host logical CPUs
	// minus one, minimum 1.
	Workers int

	// MaxQueueDepth, when > 0, bounds the pending queue; Submit fails fast
	// with ErrQueueFull once the bound is reached. Zero means unbounded.
	MaxQueueDepth int

	// Registry holds the task handlers shared by all workers of this pool.
	// Required.
	Registry *Registry

	Log logx.Logger

	// OnEvent, if set, receives task lifecycle notifications. Implementations
	// must not block and must not call back into the Pool: queued events are
	// delivered while the pool holds its internal lock.
	OnEvent func(Event)
}

func (o Options) withDefaults() Options {
	if o.Workers <= 0 {
		o.Workers = runtime.NumCPU() - 1
	}
	if o.Workers < 1 {
		o.Workers = 1
	}
	if o.Log.IsZero() {
		o.Log = logx.Nop()
	}
	return o
}

// EventKind classifies task lifecycle events.
type EventKind int

const (
	EventQueued EventKind = iota
	EventStarted
	EventCompleted
	EventFailed
	EventCancelled
	EventTimeout
)

func (k EventKind) String() string {
	switch k {
	case EventQueued:
		return "queued"
	case EventStarted:
		return "started"
	case EventCompleted:
		return "completed"
	case EventFailed:
		return "failed"
	case EventCancelled:
		return "cancelled"
	case EventTimeout:
		return "timeout"
	default:
		return "unknown"
	}
}

// Event is a task lifecycle notification delivered via Options.OnEvent.
type Event struct {
	Kind       EventKind
	Task       Task
	Err        error
	QueueDelay time.Duration
	Duration   time.Duration
	At         time.Time
}

// Stats is a point-in-time view of a pool.
type Stats struct {
	TotalWorkers  int `json:"total_workers"`
	ActiveWorkers int `json:"active_workers"`
	ReadyWorkers  int `json:"ready_workers"`
	QueuedTasks   int `json:"queued_tasks"`
	InFlight      int `json:"in_flight"`
	MaxWorkers    int `json:"max_workers"`

	// Lifetime counters.
	Submitted uint64 `json:"submitted"`
	Completed uint64 `json:"completed"`
	Failed    uint64 `json:"failed"`
	Cancelled uint64 `json:"cancelled"`
	TimedOut  uint64 `json:"timed_out"`
}
