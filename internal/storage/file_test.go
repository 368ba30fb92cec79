package storage

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"taskd/internal/eventbus"
	logx "taskd/pkg/logx"
	"taskd/pkg/pool"
)

func openTestStore(t *testing.T, maxEntries int) Store {
	t.Helper()
	st, err := Open(Config{
		Driver:     "file",
		Path:       filepath.Join(t.TempDir(), "taskd.db"),
		MaxEntries: maxEntries,
	}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestOpenDisabled(t *testing.T) {
	t.Parallel()
	for _, driver := range []string{"", "none"} {
		st, err := Open(Config{Driver: driver}, logx.Nop())
		if err != nil || st != nil {
			t.Fatalf("Open(%q) = %v, %v; want nil, nil", driver, st, err)
		}
	}
}

func TestOpenUnknownDriver(t *testing.T) {
	t.Parallel()
	if _, err := Open(Config{Driver: "postgres"}, logx.Nop()); err == nil {
		t.Fatal("expected error for unknown driver")
	}
}

func TestFileAppendAndRecent(t *testing.T) {
	t.Parallel()
	st := openTestStore(t, 0)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		err := st.Append(ctx, Record{
			At:     time.Now(),
			TaskID: fmt.Sprintf("tsk-%d", i),
			Type:   "echo",
			Status: "completed",
		})
		if err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	got, err := st.Recent(ctx, 2)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len(Recent) = %d, want 2", len(got))
	}
	// Newest first.
	if got[0].TaskID != "tsk-2" || got[1].TaskID != "tsk-1" {
		t.Fatalf("order = %s, %s", got[0].TaskID, got[1].TaskID)
	}
}

func TestFileRetentionBound(t *testing.T) {
	t.Parallel()
	st := openTestStore(t, 5)
	ctx := context.Background()

	for i := 0; i < 20; i++ {
		if err := st.Append(ctx, Record{TaskID: fmt.Sprintf("tsk-%d", i), Type: "echo", Status: "completed"}); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}
	got, err := st.Recent(ctx, 0)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(got) != 5 {
		t.Fatalf("len(Recent) = %d, want 5", len(got))
	}
	if got[0].TaskID != "tsk-19" {
		t.Fatalf("newest = %s, want tsk-19", got[0].TaskID)
	}
}

func TestFileReopenLoadsTail(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	cfg := Config{Driver: "file", Path: filepath.Join(dir, "taskd.db")}
	ctx := context.Background()

	st, err := Open(cfg, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := st.Append(ctx, Record{TaskID: "tsk-a", Type: "echo", Status: "failed", Error: "boom"}); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := st.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	st, err = Open(cfg, logx.Nop())
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer st.Close()

	got, err := st.Recent(ctx, 10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(got) != 1 || got[0].TaskID != "tsk-a" || got[0].Error != "boom" {
		t.Fatalf("got = %+v", got)
	}
}

func TestRecorderAppendsSettledTasks(t *testing.T) {
	t.Parallel()
	st := openTestStore(t, 0)
	bus := eventbus.New()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rec := NewRecorder(st, bus, logx.Nop())
	done := make(chan struct{})
	go func() {
		defer close(done)
		rec.Run(ctx)
	}()

	publish := func(typ string, pe pool.Event) {
		bus.Publish(eventbus.Event{Type: typ, Data: pe})
	}
	publish(eventbus.TaskQueued, pool.Event{Task: pool.Task{ID: "tsk-q", Type: "echo"}})
	publish(eventbus.TaskCompleted, pool.Event{
		Task:       pool.Task{ID: "tsk-ok", Type: "echo", Priority: 3},
		QueueDelay: 10 * time.Millisecond,
		Duration:   20 * time.Millisecond,
	})
	publish(eventbus.TaskFailed, pool.Event{
		Task: pool.Task{ID: "tsk-bad", Type: "echo"},
		Err:  errors.New("handler blew up"),
	})

	deadline := time.After(2 * time.Second)
	for {
		got, err := st.Recent(context.Background(), 10)
		if err != nil {
			t.Fatalf("Recent: %v", err)
		}
		if len(got) == 2 {
			if got[0].TaskID != "tsk-bad" || got[0].Status != "failed" || got[0].Error != "handler blew up" {
				t.Fatalf("failed record = %+v", got[0])
			}
			if got[1].TaskID != "tsk-ok" || got[1].Status != "completed" || got[1].WaitMS != 10 {
				t.Fatalf("completed record = %+v", got[1])
			}
			break
		}
		select {
		case <-deadline:
			t.Fatalf("recorder wrote %d records, want 2", len(got))
		case <-time.After(10 * time.Millisecond):
		}
	}

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("recorder did not stop")
	}
}
