package pool

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"taskd/pkg/logx"
)

// worker is one execution context. It owns a 1-slot assignment channel and
// runs at most one task at a time. All mutable fields besides the channel
// are guarded by the pool mutex.
type worker struct {
	id    int
	pool  *Pool
	tasks chan assignment

	// Guarded by pool.mu.
	ready  bool
	busyID string
}

// assignment carries one dispatched task plus its run context. The context
// is cancelled on advisory cancellation, timeout, and pool shutdown.
type assignment struct {
	p   *pending
	ctx context.Context
}

func (w *worker) run() {
	w.pool.workerReady(w)
	for a := range w.tasks {
		start := time.Now()
		w.pool.emit(Event{
			Kind:       EventStarted,
			Task:       a.p.task,
			QueueDelay: start.Sub(a.p.enqueuedAt),
			At:         start,
		})
		value, err := w.execute(a.ctx, a.p.task)
		w.pool.onWorkerResult(w, a.p, value, err, start)
	}
	w.pool.onWorkerExit(w)
}

// execute looks up and runs the handler for one task. Handler errors and
// panics are converted to a HandlerError so a bad task can never kill the
// worker; only the task that misbehaved fails.
func (w *worker) execute(ctx context.Context, t Task) (value any, err error) {
	h, ok := w.pool.registry.lookup(t.Type)
	if !ok {
		return nil, &HandlerError{TaskType: t.Type, Err: fmt.Errorf("%w: %q", ErrNoHandler, t.Type)}
	}

	defer func() {
		if r := recover(); r != nil {
			value = nil
			err = &HandlerError{TaskType: t.Type, Err: fmt.Errorf("handler panic: %v", r)}
			w.pool.log.Error("handler panic",
				logx.Int("worker", w.id),
				logx.String("task", t.ID),
				logx.String("type", t.Type),
				logx.Any("panic", r),
				logx.String("stack", string(debug.Stack())),
			)
		}
	}()

	v, herr := h(ctx, t.Payload)
	if herr != nil {
		return nil, &HandlerError{TaskType: t.Type, Err: herr}
	}
	return v, nil
}
