package storage

import (
	"context"

	"taskd/internal/eventbus"
	logx "taskd/pkg/logx"
	"taskd/pkg/pool"
)

// Recorder consumes task lifecycle events and appends one history
// record per settled task. Queued/started events are ignored.
type Recorder struct {
	store Store
	bus   eventbus.Bus
	log   logx.Logger
}

func NewRecorder(store Store, bus eventbus.Bus, log logx.Logger) *Recorder {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Recorder{store: store, bus: bus, log: log}
}

// Run blocks until ctx is cancelled. Safe to run in its own goroutine.
func (r *Recorder) Run(ctx context.Context) {
	if r.store == nil {
		return
	}
	ch, unsub := r.bus.Subscribe(64)
	defer unsub()

	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-ch:
			if !ok {
				return
			}
			rec, ok := toRecord(e)
			if !ok {
				continue
			}
			if err := r.store.Append(ctx, rec); err != nil && ctx.Err() == nil {
				r.log.Warn("history append failed",
					logx.String("task_id", rec.TaskID), logx.Err(err))
			}
		}
	}
}

func toRecord(e eventbus.Event) (Record, bool) {
	var status string
	switch e.Type {
	case eventbus.TaskCompleted:
		status = "completed"
	case eventbus.TaskFailed:
		status = "failed"
	case eventbus.TaskCancelled:
		status = "cancelled"
	case eventbus.TaskTimeout:
		status = "timeout"
	default:
		return Record{}, false
	}
	pe, ok := e.Data.(pool.Event)
	if !ok {
		return Record{}, false
	}
	rec := Record{
		At:       e.Time,
		TaskID:   pe.Task.ID,
		Type:     pe.Task.Type,
		Status:   status,
		Priority: pe.Task.Priority,
		WaitMS:   pe.QueueDelay.Milliseconds(),
		RunMS:    pe.Duration.Milliseconds(),
	}
	if pe.Err != nil {
		rec.Error = pe.Err.Error()
	}
	return rec, true
}
