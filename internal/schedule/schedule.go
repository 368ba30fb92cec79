// Package schedule submits recurring tasks to the pool on cron schedules.
//
// Definitions come from configuration and are swapped wholesale on reload:
// Apply validates every spec before touching the running cron, so a bad
// reload leaves the previous schedules in place.
package schedule

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"taskd/internal/config"
	logx "taskd/pkg/logx"
	"taskd/pkg/pool"
)

// Submitter is the slice of the pool the scheduler needs.
type Submitter interface {
	Submit(t pool.Task) (*pool.Future, error)
}

type entry struct {
	def config.ScheduleConfig
	id  cron.EntryID
}

type Service struct {
	mu sync.Mutex

	log    logx.Logger
	submit Submitter

	parser  cron.Parser
	c       *cron.Cron
	entries map[string]entry
	started bool
}

func New(submit Submitter, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	return &Service{
		log:     log,
		submit:  submit,
		parser:  parser,
		c:       cron.New(cron.WithParser(parser)),
		entries: map[string]entry{},
	}
}

func (s *Service) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.started = true
	s.c.Start()
}

// Stop halts scheduling and waits for in-flight job funcs (which only
// submit; they do not run handlers) or ctx, whichever comes first.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.started = false
	done := s.c.Stop().Done()
	s.mu.Unlock()

	select {
	case <-done:
	case <-ctx.Done():
	}
}

// Apply replaces the registered schedules with defs. defaultTimeout is
// used for definitions without an explicit timeout.
func (s *Service) Apply(defs []config.ScheduleConfig, defaultTimeout time.Duration) error {
	type staged struct {
		def     config.ScheduleConfig
		sched   cron.Schedule
		payload any
		timeout time.Duration
	}

	// Validate everything before mutating the cron.
	stagedDefs := make([]staged, 0, len(defs))
	for _, d := range defs {
		sched, err := s.parser.Parse(d.Spec)
		if err != nil {
			return fmt.Errorf("schedule %q: parse spec %q: %w", d.Name, d.Spec, err)
		}
		var payload any
		if len(d.Payload) > 0 {
			if err := json.Unmarshal(d.Payload, &payload); err != nil {
				return fmt.Errorf("schedule %q: payload: %w", d.Name, err)
			}
		}
		timeout, err := config.ParseDurationOrDefault("timeout", d.Timeout, defaultTimeout)
		if err != nil {
			return fmt.Errorf("schedule %q: %w", d.Name, err)
		}
		stagedDefs = append(stagedDefs, staged{def: d, sched: sched, payload: payload, timeout: timeout})
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for name, e := range s.entries {
		s.c.Remove(e.id)
		delete(s.entries, name)
	}
	for _, st := range stagedDefs {
		def := st.def
		payload := st.payload
		timeout := st.timeout
		id := s.c.Schedule(st.sched, cron.FuncJob(func() {
			s.fire(def, payload, timeout)
		}))
		s.entries[def.Name] = entry{def: def, id: id}
	}
	return nil
}

// Names returns the registered schedule names.
func (s *Service) Names() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.entries))
	for name := range s.entries {
		out = append(out, name)
	}
	return out
}

func (s *Service) fire(def config.ScheduleConfig, payload any, timeout time.Duration) {
	_, err := s.submit.Submit(pool.Task{
		Type:     def.Type,
		Payload:  payload,
		Priority: def.Priority,
		Timeout:  timeout,
	})
	if err != nil {
		s.log.Warn("scheduled submit failed",
			logx.String("schedule", def.Name),
			logx.String("type", def.Type),
			logx.Err(err))
		return
	}
	s.log.Debug("scheduled task submitted",
		logx.String("schedule", def.Name),
		logx.String("type", def.Type))
}
