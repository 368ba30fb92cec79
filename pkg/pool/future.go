package pool

import (
	"context"
	"sync"
)

// Future is the caller's handle on a submitted task. It settles exactly once.
type Future struct {
	taskID string
	once   sync.Once
	done   chan struct{}
	value  any
	err    error
}

func newFuture(taskID string) *Future {
	return &Future{taskID: taskID, done: make(chan struct{})}
}

// TaskID returns the id of the task this future tracks, including a
// generated id when the submission left it empty.
func (f *Future) TaskID() string { return f.taskID }

func (f *Future) settle(value any, err error) {
	f.once.Do(func() {
		f.value = value
		f.err = err
		close(f.done)
	})
}

// Done is closed once the future has settled.
func (f *Future) Done() <-chan struct{} { return f.done }

// Wait blocks until the future settles or ctx is done.
func (f *Future) Wait(ctx context.Context) (any, error) {
	select {
	case <-f.done:
		return f.value, f.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Value returns the result. Valid only after Done is closed.
func (f *Future) Value() any { return f.value }

// Err returns the settlement error, if any. Valid only after Done is closed.
func (f *Future) Err() error { return f.err }
