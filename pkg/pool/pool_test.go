package pool

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func sumHandler(_ context.Context, payload any) (any, error) {
	values, ok := payload.([]int)
	if !ok {
		return nil, errors.New("payload must be []int")
	}
	total := 0
	for _, v := range values {
		total += v
	}
	return total, nil
}

// blocker builds a handler that signals when it starts and then waits for
// release (or its context).
type blocker struct {
	started chan string
	release chan struct{}
}

func newBlocker() *blocker {
	return &blocker{started: make(chan string, 16), release: make(chan struct{})}
}

func (b *blocker) handler(ctx context.Context, payload any) (any, error) {
	id, _ := payload.(string)
	b.started <- id
	select {
	case <-b.release:
		return "done", nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func waitCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestEndToEndSum(t *testing.T) {
	t.Parallel()
	reg := NewRegistry()
	reg.Register("sum", sumHandler)
	p := New(Options{Workers: 2, Registry: reg})
	defer p.Shutdown(context.Background())

	fut, err := p.Submit(Task{ID: "t1", Type: "sum", Payload: []int{1, 2, 3, 4, 5}})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	v, err := fut.Wait(waitCtx(t))
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if v.(int) != 15 {
		t.Fatalf("result = %v, want 15", v)
	}
}

func TestPriorityOrdering(t *testing.T) {
	t.Parallel()
	b := newBlocker()
	var mu sync.Mutex
	var order []int

	reg := NewRegistry()
	reg.Register("block", b.handler)
	reg.Register("record", func(_ context.Context, payload any) (any, error) {
		mu.Lock()
		order = append(order, payload.(int))
		mu.Unlock()
		return nil, nil
	})
	p := New(Options{Workers: 1, Registry: reg})
	defer p.Shutdown(context.Background())

	busy, err := p.Submit(Task{ID: "busy", Type: "block", Payload: "busy"})
	if err != nil {
		t.Fatalf("Submit busy: %v", err)
	}
	<-b.started // worker occupied; everything below queues

	var futs []*Future
	for _, prio := range []int{1, 5, 3} {
		f, err := p.Submit(Task{Type: "record", Payload: prio, Priority: prio})
		if err != nil {
			t.Fatalf("Submit prio %d: %v", prio, err)
		}
		futs = append(futs, f)
	}

	close(b.release)
	if _, err := busy.Wait(waitCtx(t)); err != nil {
		t.Fatalf("busy task: %v", err)
	}
	for _, f := range futs {
		if _, err := f.Wait(waitCtx(t)); err != nil {
			t.Fatalf("record task: %v", err)
		}
	}

	mu.Lock()
	defer mu.Unlock()
	want := []int{5, 3, 1}
	if len(order) != len(want) {
		t.Fatalf("order = %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("order = %v, want %v", order, want)
		}
	}
}

func TestFIFOTieBreak(t *testing.T) {
	t.Parallel()
	b := newBlocker()
	var mu sync.Mutex
	var order []string

	reg := NewRegistry()
	reg.Register("block", b.handler)
	reg.Register("record", func(_ context.Context, payload any) (any, error) {
		mu.Lock()
		order = append(order, payload.(string))
		mu.Unlock()
		return nil, nil
	})
	p := New(Options{Workers: 1, Registry: reg})
	defer p.Shutdown(context.Background())

	_, err := p.Submit(Task{ID: "busy", Type: "block", Payload: "busy"})
	if err != nil {
		t.Fatalf("Submit busy: %v", err)
	}
	<-b.started

	fa, err := p.Submit(Task{ID: "a", Type: "record", Payload: "a", Priority: 7})
	if err != nil {
		t.Fatalf("Submit a: %v", err)
	}
	fb, err := p.Submit(Task{ID: "b", Type: "record", Payload: "b", Priority: 7})
	if err != nil {
		t.Fatalf("Submit b: %v", err)
	}

	close(b.release)
	ctx := waitCtx(t)
	if _, err := fa.Wait(ctx); err != nil {
		t.Fatalf("a: %v", err)
	}
	if _, err := fb.Wait(ctx); err != nil {
		t.Fatalf("b: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(order) != 2 || order[0] != "a" || order[1] != "b" {
		t.Fatalf("order = %v, want [a b]", order)
	}
}

func TestAtMostOneTaskPerWorker(t *testing.T) {
	t.Parallel()
	var running, peak int64

	reg := NewRegistry()
	reg.Register("count", func(_ context.Context, _ any) (any, error) {
		n := atomic.AddInt64(&running, 1)
		for {
			old := atomic.LoadInt64(&peak)
			if n <= old || atomic.CompareAndSwapInt64(&peak, old, n) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
		atomic.AddInt64(&running, -1)
		return nil, nil
	})
	p := New(Options{Workers: 2, Registry: reg})
	defer p.Shutdown(context.Background())

	var futs []*Future
	for i := 0; i < 10; i++ {
		f, err := p.Submit(Task{Type: "count"})
		if err != nil {
			t.Fatalf("Submit: %v", err)
		}
		futs = append(futs, f)
	}
	ctx := waitCtx(t)
	for _, f := range futs {
		if _, err := f.Wait(ctx); err != nil {
			t.Fatalf("Wait: %v", err)
		}
	}
	if got := atomic.LoadInt64(&peak); got > 2 {
		t.Fatalf("peak concurrent executions = %d, want <= 2", got)
	}
}

func TestTimeoutWhileQueued(t *testing.T) {
	t.Parallel()
	b := newBlocker()
	var executed atomic.Bool

	reg := NewRegistry()
	reg.Register("block", b.handler)
	reg.Register("never", func(_ context.Context, _ any) (any, error) {
		executed.Store(true)
		return nil, nil
	})
	p := New(Options{Workers: 1, Registry: reg})
	defer p.Shutdown(context.Background())

	_, err := p.Submit(Task{ID: "busy", Type: "block", Payload: "busy"})
	if err != nil {
		t.Fatalf("Submit busy: %v", err)
	}
	<-b.started

	fut, err := p.Submit(Task{ID: "doomed", Type: "never", Timeout: 100 * time.Millisecond})
	if err != nil {
		t.Fatalf("Submit doomed: %v", err)
	}

	start := time.Now()
	_, werr := fut.Wait(waitCtx(t))
	if !errors.Is(werr, ErrTimeout) {
		t.Fatalf("err = %v, want ErrTimeout", werr)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Fatalf("timeout took %v, expected ~100ms", elapsed)
	}
	if st := p.Stats(); st.QueuedTasks != 0 {
		t.Fatalf("QueuedTasks = %d, want 0", st.QueuedTasks)
	}

	close(b.release)
	time.Sleep(50 * time.Millisecond)
	if executed.Load() {
		t.Fatal("timed-out task must never execute")
	}
}

func TestTimeoutInFlightDiscardsLateResult(t *testing.T) {
	t.Parallel()
	b := newBlocker()
	reg := NewRegistry()
	reg.Register("block", b.handler)
	reg.Register("sum", sumHandler)
	p := New(Options{Workers: 1, Registry: reg})
	defer p.Shutdown(context.Background())

	// Handler ignores ctx cancellation until released: the timeout settles the
	// future while the worker is still running.
	slow := newBlocker()
	reg.Register("slow", func(_ context.Context, payload any) (any, error) {
		slow.started <- ""
		<-slow.release
		return "late", nil
	})

	fut, err := p.Submit(Task{ID: "s", Type: "slow", Timeout: 50 * time.Millisecond})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	<-slow.started

	if _, werr := fut.Wait(waitCtx(t)); !errors.Is(werr, ErrTimeout) {
		t.Fatalf("err = %v, want ErrTimeout", werr)
	}

	// Exactly-once: the late handler result must not re-settle the future.
	close(slow.release)
	time.Sleep(50 * time.Millisecond)
	if fut.Value() != nil || !errors.Is(fut.Err(), ErrTimeout) {
		t.Fatalf("future re-settled: value=%v err=%v", fut.Value(), fut.Err())
	}

	// The worker is usable again afterwards.
	f2, err := p.Submit(Task{Type: "sum", Payload: []int{2, 3}})
	if err != nil {
		t.Fatalf("Submit sum: %v", err)
	}
	v, err := f2.Wait(waitCtx(t))
	if err != nil || v.(int) != 5 {
		t.Fatalf("sum after timeout: v=%v err=%v", v, err)
	}
}

func TestCancelQueuedTask(t *testing.T) {
	t.Parallel()
	b := newBlocker()
	var executed atomic.Bool

	reg := NewRegistry()
	reg.Register("block", b.handler)
	reg.Register("never", func(_ context.Context, _ any) (any, error) {
		executed.Store(true)
		return nil, nil
	})
	p := New(Options{Workers: 1, Registry: reg})
	defer p.Shutdown(context.Background())

	_, err := p.Submit(Task{ID: "busy", Type: "block", Payload: "busy"})
	if err != nil {
		t.Fatalf("Submit busy: %v", err)
	}
	<-b.started

	fut, err := p.Submit(Task{ID: "victim", Type: "never"})
	if err != nil {
		t.Fatalf("Submit victim: %v", err)
	}

	if !p.Cancel("victim") {
		t.Fatal("Cancel(victim) = false, want true")
	}
	if _, werr := fut.Wait(waitCtx(t)); !errors.Is(werr, ErrCancelled) {
		t.Fatalf("err = %v, want ErrCancelled", werr)
	}
	if p.Cancel("victim") {
		t.Fatal("second Cancel must return false")
	}
	if p.Cancel("no-such-task") {
		t.Fatal("Cancel of unknown id must return false")
	}

	close(b.release)
	time.Sleep(50 * time.Millisecond)
	if executed.Load() {
		t.Fatal("cancelled task must never reach a worker")
	}
}

func TestCancelInFlightKeepsWorkerBusy(t *testing.T) {
	t.Parallel()
	b := newBlocker()
	var bStarted atomic.Bool

	reg := NewRegistry()
	// Ignores ctx: simulates a handler that does not honor advisory cancel.
	reg.Register("stubborn", func(_ context.Context, payload any) (any, error) {
		b.started <- payload.(string)
		<-b.release
		return nil, nil
	})
	reg.Register("mark", func(_ context.Context, _ any) (any, error) {
		bStarted.Store(true)
		return nil, nil
	})
	p := New(Options{Workers: 1, Registry: reg})
	defer p.Shutdown(context.Background())

	fa, err := p.Submit(Task{ID: "a", Type: "stubborn", Payload: "a"})
	if err != nil {
		t.Fatalf("Submit a: %v", err)
	}
	<-b.started

	if !p.Cancel("a") {
		t.Fatal("Cancel(a) = false, want true")
	}
	if _, werr := fa.Wait(waitCtx(t)); !errors.Is(werr, ErrCancelled) {
		t.Fatalf("err = %v, want ErrCancelled", werr)
	}

	fb, err := p.Submit(Task{ID: "b", Type: "mark"})
	if err != nil {
		t.Fatalf("Submit b: %v", err)
	}

	// The sole worker is still running the cancelled handler, so b must wait.
	time.Sleep(100 * time.Millisecond)
	if bStarted.Load() {
		t.Fatal("task dispatched to a worker still running a cancelled handler")
	}

	close(b.release)
	if _, err := fb.Wait(waitCtx(t)); err != nil {
		t.Fatalf("b: %v", err)
	}
}

func TestHandlerFailureIsolation(t *testing.T) {
	t.Parallel()
	reg := NewRegistry()
	reg.Register("boom", func(_ context.Context, _ any) (any, error) {
		return nil, errors.New("kaboom")
	})
	reg.Register("sum", sumHandler)
	p := New(Options{Workers: 1, Registry: reg})
	defer p.Shutdown(context.Background())

	fboom, err := p.Submit(Task{Type: "boom"})
	if err != nil {
		t.Fatalf("Submit boom: %v", err)
	}
	_, werr := fboom.Wait(waitCtx(t))
	var he *HandlerError
	if !errors.As(werr, &he) {
		t.Fatalf("err = %v, want *HandlerError", werr)
	}
	if he.TaskType != "boom" {
		t.Fatalf("TaskType = %q, want boom", he.TaskType)
	}

	fsum, err := p.Submit(Task{Type: "sum", Payload: []int{4, 5}})
	if err != nil {
		t.Fatalf("Submit sum: %v", err)
	}
	v, err := fsum.Wait(waitCtx(t))
	if err != nil || v.(int) != 9 {
		t.Fatalf("sum after failure: v=%v err=%v", v, err)
	}
}

func TestHandlerPanicIsolation(t *testing.T) {
	t.Parallel()
	reg := NewRegistry()
	reg.Register("panic", func(_ context.Context, _ any) (any, error) {
		panic("boom")
	})
	reg.Register("sum", sumHandler)
	p := New(Options{Workers: 1, Registry: reg})
	defer p.Shutdown(context.Background())

	fp, err := p.Submit(Task{Type: "panic"})
	if err != nil {
		t.Fatalf("Submit panic: %v", err)
	}
	_, werr := fp.Wait(waitCtx(t))
	var he *HandlerError
	if !errors.As(werr, &he) {
		t.Fatalf("err = %v, want *HandlerError", werr)
	}

	fsum, err := p.Submit(Task{Type: "sum", Payload: []int{1, 1}})
	if err != nil {
		t.Fatalf("Submit sum: %v", err)
	}
	if v, err := fsum.Wait(waitCtx(t)); err != nil || v.(int) != 2 {
		t.Fatalf("sum after panic: v=%v err=%v", v, err)
	}
}

func TestNoHandler(t *testing.T) {
	t.Parallel()
	p := New(Options{Workers: 1, Registry: NewRegistry()})
	defer p.Shutdown(context.Background())

	fut, err := p.Submit(Task{Type: "ghost"})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	_, werr := fut.Wait(waitCtx(t))
	if !errors.Is(werr, ErrNoHandler) {
		t.Fatalf("err = %v, want ErrNoHandler", werr)
	}
}

func TestDuplicateIDRejected(t *testing.T) {
	t.Parallel()
	b := newBlocker()
	reg := NewRegistry()
	reg.Register("block", b.handler)
	p := New(Options{Workers: 1, Registry: reg})
	defer p.Shutdown(context.Background())

	fut, err := p.Submit(Task{ID: "dup", Type: "block", Payload: "dup"})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	<-b.started

	if _, err := p.Submit(Task{ID: "dup", Type: "block"}); !errors.Is(err, ErrDuplicateID) {
		t.Fatalf("err = %v, want ErrDuplicateID", err)
	}

	close(b.release)
	if _, err := fut.Wait(waitCtx(t)); err != nil {
		t.Fatalf("Wait: %v", err)
	}

	// Once settled, the id may be reused.
	if _, err := p.Submit(Task{ID: "dup", Type: "block"}); err != nil {
		t.Fatalf("reuse after settle: %v", err)
	}
}

func TestQueueFull(t *testing.T) {
	t.Parallel()
	b := newBlocker()
	reg := NewRegistry()
	reg.Register("block", b.handler)
	p := New(Options{Workers: 1, MaxQueueDepth: 1, Registry: reg})
	defer p.Shutdown(context.Background())

	_, err := p.Submit(Task{ID: "running", Type: "block", Payload: "running"})
	if err != nil {
		t.Fatalf("Submit running: %v", err)
	}
	<-b.started

	if _, err := p.Submit(Task{ID: "queued", Type: "block"}); err != nil {
		t.Fatalf("Submit queued: %v", err)
	}
	if _, err := p.Submit(Task{ID: "rejected", Type: "block"}); !errors.Is(err, ErrQueueFull) {
		t.Fatalf("err = %v, want ErrQueueFull", err)
	}
	close(b.release)
}

func TestShutdownDrains(t *testing.T) {
	t.Parallel()
	b := newBlocker()
	reg := NewRegistry()
	reg.Register("block", b.handler)
	p := New(Options{Workers: 1, Registry: reg})

	busy, err := p.Submit(Task{ID: "busy", Type: "block", Payload: "busy"})
	if err != nil {
		t.Fatalf("Submit busy: %v", err)
	}
	<-b.started

	var queued []*Future
	for i := 0; i < 3; i++ {
		f, err := p.Submit(Task{Type: "block"})
		if err != nil {
			t.Fatalf("Submit: %v", err)
		}
		queued = append(queued, f)
	}

	if err := p.Shutdown(waitCtx(t)); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}

	ctx := waitCtx(t)
	for i, f := range queued {
		if _, werr := f.Wait(ctx); !errors.Is(werr, ErrPoolShutdown) {
			t.Fatalf("queued[%d] err = %v, want ErrPoolShutdown", i, werr)
		}
	}
	if _, werr := busy.Wait(ctx); !errors.Is(werr, ErrPoolShutdown) {
		t.Fatalf("busy err = %v, want ErrPoolShutdown", werr)
	}

	if st := p.Stats(); st.TotalWorkers != 0 || st.QueuedTasks != 0 {
		t.Fatalf("post-shutdown stats = %+v, want zero workers and queue", st)
	}

	if _, err := p.Submit(Task{Type: "block"}); !errors.Is(err, ErrPoolShutdown) {
		t.Fatalf("Submit after shutdown err = %v, want ErrPoolShutdown", err)
	}

	// Idempotent.
	if err := p.Shutdown(waitCtx(t)); err != nil {
		t.Fatalf("second Shutdown: %v", err)
	}
}

func TestStatsAndEvents(t *testing.T) {
	t.Parallel()
	var mu sync.Mutex
	var kinds []EventKind

	reg := NewRegistry()
	reg.Register("sum", sumHandler)
	p := New(Options{
		Workers:  2,
		Registry: reg,
		OnEvent: func(ev Event) {
			mu.Lock()
			kinds = append(kinds, ev.Kind)
			mu.Unlock()
		},
	})
	defer p.Shutdown(context.Background())

	st := p.Stats()
	if st.TotalWorkers != 2 || st.MaxWorkers != 2 {
		t.Fatalf("stats = %+v, want 2 workers", st)
	}

	fut, err := p.Submit(Task{Type: "sum", Payload: []int{1, 2}})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if _, err := fut.Wait(waitCtx(t)); err != nil {
		t.Fatalf("Wait: %v", err)
	}

	st = p.Stats()
	if st.Submitted != 1 || st.Completed != 1 {
		t.Fatalf("counters = %+v, want submitted=1 completed=1", st)
	}

	mu.Lock()
	defer mu.Unlock()
	want := []EventKind{EventQueued, EventStarted, EventCompleted}
	if len(kinds) != len(want) {
		t.Fatalf("events = %v, want %v", kinds, want)
	}
	for i := range want {
		if kinds[i] != want[i] {
			t.Fatalf("events = %v, want %v", kinds, want)
		}
	}
}

func TestDefaultWorkerCount(t *testing.T) {
	t.Parallel()
	p := New(Options{Registry: NewRegistry()})
	defer p.Shutdown(context.Background())

	st := p.Stats()
	if st.TotalWorkers < 1 {
		t.Fatalf("TotalWorkers = %d, want >= 1", st.TotalWorkers)
	}
}
