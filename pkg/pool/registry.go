package pool

import (
	"context"
	"sort"
	"sync"
)

// Handler executes one task's payload. Handlers may block; ctx is cancelled
// on advisory cancellation, timeout settlement, and pool shutdown. A handler
// returning an error (or panicking) fails only its own task.
type Handler func(ctx context.Context, payload any) (any, error)

// Registry maps task types to handlers. One Registry is shared by all
// workers of a pool ("worker flavor"); independent pools may use independent
// registries.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

func NewRegistry() *Registry {
	return &Registry{handlers: map[string]Handler{}}
}

// Register binds a handler to a task type. Re-registering the same type
// overwrites the previous handler; last registration wins.
func (r *Registry) Register(taskType string, h Handler) {
	r.mu.Lock()
	r.handlers[taskType] = h
	r.mu.Unlock()
}

func (r *Registry) lookup(taskType string) (Handler, bool) {
	r.mu.RLock()
	h, ok := r.handlers[taskType]
	r.mu.RUnlock()
	return h, ok
}

// Types returns the registered task types, sorted.
func (r *Registry) Types() []string {
	r.mu.RLock()
	out := make([]string, 0, len(r.handlers))
	for t := range r.handlers {
		out = append(out, t)
	}
	r.mu.RUnlock()
	sort.Strings(out)
	return out
}
