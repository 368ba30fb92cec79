package pool

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"taskd/pkg/logx"
)

// pending associates a submitted task with the caller's Future. It lives
// from submission until result, timeout, cancellation, or shutdown.
type pending struct {
	task       Task
	fut        *Future
	enqueuedAt time.Time

	// timer is the armed timeout, nil when the task has none.
	timer *time.Timer

	// worker and cancelRun are set at dispatch; worker stays nil while the
	// task is queued.
	worker    *worker
	cancelRun context.CancelFunc

	// Queue bookkeeping.
	seq     uint64
	heapIdx int
}

// Pool schedules prioritized tasks across a fixed set of workers.
type Pool struct {
	opts     Options
	log      logx.Logger
	registry *Registry

	// mu guards queue, pending, inflight, workers, and the counters as one
	// unit: dispatch reads and writes all of them atomically.
	mu       sync.Mutex
	queue    pendingQueue
	pending  map[string]*pending // queued + in-flight, keyed by task id
	inflight map[string]*pending // dispatched only
	workers  []*worker           // active set; empty after shutdown
	closed   bool

	baseCtx    context.Context
	baseCancel context.CancelFunc
	wg         sync.WaitGroup

	// Lifetime counters, guarded by mu.
	submitted uint64
	completed uint64
	failed    uint64
	cancelled uint64
	timedOut  uint64
}

// New builds and starts a pool. Workers spin up immediately; tasks submitted
// before a worker signals ready simply wait in the queue.
func New(opts Options) *Pool {
	opts = opts.withDefaults()
	if opts.Registry == nil {
		opts.Registry = NewRegistry()
	}

	p := &Pool{
		opts:     opts,
		log:      opts.Log,
		registry: opts.Registry,
		pending:  map[string]*pending{},
		inflight: map[string]*pending{},
	}
	p.baseCtx, p.baseCancel = context.WithCancel(context.Background())

	for i := 0; i < opts.Workers; i++ {
		w := &worker{id: i, pool: p, tasks: make(chan assignment, 1)}
		p.workers = append(p.workers, w)
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			w.run()
		}()
	}

	p.log.Info("pool started", logx.Int("workers", opts.Workers), logx.Int("max_queue_depth", opts.MaxQueueDepth))
	return p
}

// Registry returns the handler registry shared by this pool's workers.
func (p *Pool) Registry() *Registry { return p.registry }

// Submit enqueues a task and returns its Future.
//
// Submit errors are programmer/lifecycle errors only (duplicate id, queue
// full, pool shut down); per-task failures always surface through the Future.
func (p *Pool) Submit(t Task) (*Future, error) {
	if strings.TrimSpace(t.ID) == "" {
		t.ID = "tsk-" + uuid.NewString()
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, ErrPoolShutdown
	}
	if _, dup := p.pending[t.ID]; dup {
		p.mu.Unlock()
		return nil, ErrDuplicateID
	}
	if p.opts.MaxQueueDepth > 0 && p.queue.len() >= p.opts.MaxQueueDepth {
		p.mu.Unlock()
		return nil, ErrQueueFull
	}

	pd := &pending{task: t, fut: newFuture(t.ID), enqueuedAt: time.Now()}
	p.pending[t.ID] = pd
	p.queue.push(pd)
	p.submitted++

	// The timeout covers queue wait plus execution, so it is armed here and
	// not at dispatch.
	if t.Timeout > 0 {
		id := t.ID
		pd.timer = time.AfterFunc(t.Timeout, func() { p.expire(id) })
	}

	// Emitted before dispatch so the queued event strictly precedes the
	// started event a worker emits for the same task.
	p.emit(Event{Kind: EventQueued, Task: t, At: pd.enqueuedAt})
	p.dispatchLocked()
	p.mu.Unlock()

	p.log.Debug("task queued", logx.String("task", t.ID), logx.String("type", t.Type), logx.Int("priority", t.Priority))
	return pd.fut, nil
}

// Cancel removes a queued task, or advisorily cancels an in-flight one.
// It reports whether the id was known (queued or in flight).
//
// For in-flight tasks the handler's context is cancelled and the Future
// settles with ErrCancelled immediately, but the worker is not treated as
// idle until its handler actually returns; a late result is discarded.
func (p *Pool) Cancel(id string) bool {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return false
	}
	pd, ok := p.pending[id]
	if !ok {
		p.mu.Unlock()
		return false
	}
	p.untrackLocked(pd)
	p.cancelled++
	p.mu.Unlock()

	pd.fut.settle(nil, ErrCancelled)
	p.log.Debug("task cancelled", logx.String("task", id), logx.Bool("was_running", pd.worker != nil))
	p.emit(Event{Kind: EventCancelled, Task: pd.task, Err: ErrCancelled, At: time.Now()})
	return true
}

// expire is the timeout timer callback.
func (p *Pool) expire(id string) {
	p.mu.Lock()
	pd, ok := p.pending[id]
	if !ok || p.closed {
		p.mu.Unlock()
		return
	}
	p.untrackLocked(pd)
	p.timedOut++
	p.mu.Unlock()

	pd.fut.settle(nil, ErrTimeout)
	p.log.Debug("task timed out", logx.String("task", id), logx.Duration("timeout", pd.task.Timeout))
	p.emit(Event{Kind: EventTimeout, Task: pd.task, Err: ErrTimeout, At: time.Now()})
}

// untrackLocked removes a pending task from all tracking. Queued tasks are
// removed from the queue exactly; in-flight tasks get their run context
// cancelled (advisory) while the worker stays busy.
func (p *Pool) untrackLocked(pd *pending) {
	delete(p.pending, pd.task.ID)
	if pd.timer != nil {
		pd.timer.Stop()
	}
	if pd.worker == nil {
		p.queue.remove(pd.task.ID)
		return
	}
	delete(p.inflight, pd.task.ID)
	if pd.cancelRun != nil {
		pd.cancelRun()
	}
}

// dispatchLocked is the sole place where assignment happens: it pairs idle
// workers with queued tasks until one of them runs out. Callers hold p.mu.
func (p *Pool) dispatchLocked() {
	if p.closed {
		return
	}
	for p.queue.len() > 0 {
		w := p.idleWorkerLocked()
		if w == nil {
			return
		}
		pd := p.queue.pop()
		pd.worker = w
		w.busyID = pd.task.ID
		p.inflight[pd.task.ID] = pd

		ctx, cancel := context.WithCancel(p.baseCtx)
		pd.cancelRun = cancel

		// Cap-1 channel and the worker is idle, so this never blocks.
		w.tasks <- assignment{p: pd, ctx: ctx}
	}
}

func (p *Pool) idleWorkerLocked() *worker {
	for _, w := range p.workers {
		if w.ready && w.busyID == "" {
			return w
		}
	}
	return nil
}

// workerReady marks a worker as initialized and able to take work.
func (p *Pool) workerReady(w *worker) {
	p.mu.Lock()
	w.ready = true
	p.dispatchLocked()
	p.mu.Unlock()
	p.log.Debug("worker ready", logx.Int("worker", w.id))
}

// onWorkerResult records one finished execution. Results for tasks no longer
// tracked (timed out, cancelled, shut down) are discarded; either way the
// worker goes idle and the queue is drained into it.
func (p *Pool) onWorkerResult(w *worker, pd *pending, value any, err error, started time.Time) {
	dur := time.Since(started)

	p.mu.Lock()
	w.busyID = ""
	cur, tracked := p.inflight[pd.task.ID]
	if !tracked || cur != pd {
		p.dispatchLocked()
		p.mu.Unlock()
		p.log.Debug("stale result discarded", logx.String("task", pd.task.ID), logx.Duration("dur", dur))
		return
	}
	delete(p.inflight, pd.task.ID)
	delete(p.pending, pd.task.ID)
	if pd.timer != nil {
		pd.timer.Stop()
	}
	if pd.cancelRun != nil {
		pd.cancelRun()
	}
	if err != nil {
		p.failed++
	} else {
		p.completed++
	}
	p.dispatchLocked()
	p.mu.Unlock()

	pd.fut.settle(value, err)
	queueDelay := started.Sub(pd.enqueuedAt)
	if err != nil {
		p.log.Warn("task failed", logx.String("task", pd.task.ID), logx.String("type", pd.task.Type), logx.Err(err), logx.Duration("dur", dur))
		p.emit(Event{Kind: EventFailed, Task: pd.task, Err: err, QueueDelay: queueDelay, Duration: dur, At: time.Now()})
		return
	}
	p.log.Debug("task completed", logx.String("task", pd.task.ID), logx.String("type", pd.task.Type), logx.Duration("dur", dur))
	p.emit(Event{Kind: EventCompleted, Task: pd.task, QueueDelay: queueDelay, Duration: dur, At: time.Now()})
}

// onWorkerExit removes a worker from the active set permanently. A task it
// was still holding fails with a WorkerFaultError. During shutdown this is
// the normal exit path and the bookkeeping has already been cleared.
func (p *Pool) onWorkerExit(w *worker) {
	p.mu.Lock()
	for i, x := range p.workers {
		if x == w {
			p.workers = append(p.workers[:i], p.workers[i+1:]...)
			break
		}
	}
	w.ready = false
	var pd *pending
	if w.busyID != "" {
		pd = p.inflight[w.busyID]
		if pd != nil {
			delete(p.inflight, pd.task.ID)
			delete(p.pending, pd.task.ID)
			if pd.timer != nil {
				pd.timer.Stop()
			}
			if pd.cancelRun != nil {
				pd.cancelRun()
			}
			p.failed++
		}
		w.busyID = ""
	}
	closed := p.closed
	p.dispatchLocked()
	p.mu.Unlock()

	if pd != nil {
		err := &WorkerFaultError{Worker: w.id, Err: errors.New("worker exited unexpectedly")}
		pd.fut.settle(nil, err)
		p.emit(Event{Kind: EventFailed, Task: pd.task, Err: err, At: time.Now()})
	}
	if !closed {
		p.log.Warn("worker exited", logx.Int("worker", w.id))
	}
}

// Shutdown settles every queued and in-flight Future with ErrPoolShutdown,
// stops the workers gracefully (in-flight handlers see their context
// cancelled and may clean up), and waits for them until ctx expires.
// The pool accepts no submissions afterwards. Shutdown is idempotent.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	var victims []*pending
	if !p.closed {
		p.closed = true
		victims = p.queue.drain()
		for _, pd := range p.inflight {
			victims = append(victims, pd)
		}
		p.inflight = map[string]*pending{}
		p.pending = map[string]*pending{}
		for _, pd := range victims {
			if pd.timer != nil {
				pd.timer.Stop()
			}
		}
		workers := p.workers
		p.workers = nil
		for _, w := range workers {
			close(w.tasks)
		}
		p.baseCancel()
	}
	p.mu.Unlock()

	for _, pd := range victims {
		pd.fut.settle(nil, ErrPoolShutdown)
		p.emit(Event{Kind: EventFailed, Task: pd.task, Err: ErrPoolShutdown, At: time.Now()})
	}

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		p.log.Info("pool stopped")
		return nil
	case <-ctx.Done():
		p.log.Warn("pool stop timed out", logx.Err(ctx.Err()))
		return ctx.Err()
	}
}

// Stats returns current pool counts. Pure read; no side effects.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()

	st := Stats{
		TotalWorkers: len(p.workers),
		QueuedTasks:  p.queue.len(),
		InFlight:     len(p.inflight),
		MaxWorkers:   p.opts.Workers,
		Submitted:    p.submitted,
		Completed:    p.completed,
		Failed:       p.failed,
		Cancelled:    p.cancelled,
		TimedOut:     p.timedOut,
	}
	for _, w := range p.workers {
		if w.ready {
			st.ReadyWorkers++
		}
		if w.busyID != "" {
			st.ActiveWorkers++
		}
	}
	return st
}

func (p *Pool) emit(ev Event) {
	if p.opts.OnEvent == nil {
		return
	}
	if ev.At.IsZero() {
		ev.At = time.Now()
	}
	p.opts.OnEvent(ev)
}
