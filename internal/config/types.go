package config

import (
	"encoding/json"
	"fmt"
	"strings"
)

type Config struct {
	Logging LoggingConfig `json:"logging"`

	// Pool controls the worker pool executing submitted tasks.
	Pool PoolConfig `json:"pool"`

	// HTTP fronts the pool with the submit/cancel/stats API.
	HTTP HTTPConfig `json:"http"`

	// Storage persists task outcomes for /history. Omit to disable.
	Storage *StorageConfig `json:"storage,omitempty"`

	// Schedules are recurring submissions driven by cron specs.
	Schedules []ScheduleConfig `json:"schedules,omitempty"`
}

type LoggingConfig struct {
	Level   string        `json:"level,omitempty"`
	Console bool          `json:"console"`
	File    LogFileConfig `json:"file,omitempty"`
}

type LogFileConfig struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path,omitempty"`
}

// PoolConfig mirrors pool.Options plus a daemon-side default timeout.
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
//
// Defaults (when fields are omitted/zero):
//   - workers: host logical CPUs minus one, minimum 1
//   - max_queue_depth: 0 (unbounded)
//   - default_timeout: "0s" (no deadline)
type PoolConfig struct {
	Workers       int `json:"workers,omitempty"`
	MaxQueueDepth int `json:"max_queue_depth,omitempty"`

	// DefaultTimeout applies to submissions that carry no timeout of their own.
	DefaultTimeout string `json:"default_timeout,omitempty"`
}

type HTTPConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr,omitempty"`

	// RatePerSec throttles incoming API requests. 0 disables throttling.
	RatePerSec int `json:"rate_per_sec,omitempty"`

	// Pprof mounts net/http/pprof under /debug when true.
	Pprof bool `json:"pprof,omitempty"`
}

// StorageConfig selects the task-history backend.
//
// Driver values: "none" (or empty), "file" (JSONL), "sqlite".
type StorageConfig struct {
	Driver      string `json:"driver,omitempty"`
	Path        string `json:"path,omitempty"`
	BusyTimeout string `json:"busy_timeout,omitempty"`

	// MaxEntries bounds the retained history (oldest pruned first).
	MaxEntries int `json:"max_entries,omitempty"`
}

// ScheduleConfig defines one recurring submission. Spec accepts cron
// expressions ("*/5 * * * *"), descriptors ("@hourly"), and "@every 55m".
type ScheduleConfig struct {
	Name     string          `json:"name"`
	Spec     string          `json:"spec"`
	Type     string          `json:"type"`
	Payload  json.RawMessage `json:"payload,omitempty"`
	Priority int             `json:"priority,omitempty"`
	Timeout  string          `json:"timeout,omitempty"`
}

// Validate checks cross-field constraints that the strict decoder cannot.
func (c *Config) Validate() error {
	if c.Pool.Workers < 0 {
		return fmt.Errorf("pool.workers must be >= 0")
	}
	if c.Pool.MaxQueueDepth < 0 {
		return fmt.Errorf("pool.max_queue_depth must be >= 0")
	}
	if _, err := ParseDurationField("pool.default_timeout", c.Pool.DefaultTimeout); err != nil {
		return err
	}
	if c.HTTP.Enabled && strings.TrimSpace(c.HTTP.Addr) == "" {
		return fmt.Errorf("http.addr is required when http.enabled")
	}
	if c.Storage != nil {
		if _, err := ParseDurationField("storage.busy_timeout", c.Storage.BusyTimeout); err != nil {
			return err
		}
	}
	seen := map[string]bool{}
	for i, s := range c.Schedules {
		name := strings.TrimSpace(s.Name)
		if name == "" {
			return fmt.Errorf("schedules[%d].name is required", i)
		}
		if seen[name] {
			return fmt.Errorf("schedules[%d]: duplicate name %q", i, name)
		}
		seen[name] = true
		if strings.TrimSpace(s.Spec) == "" {
			return fmt.Errorf("schedules[%d].spec is required", i)
		}
		if strings.TrimSpace(s.Type) == "" {
			return fmt.Errorf("schedules[%d].type is required", i)
		}
		if _, err := ParseDurationField(fmt.Sprintf("schedules[%d].timeout", i), s.Timeout); err != nil {
			return err
		}
	}
	return nil
}

// Default returns the config used when no file is present: console logging,
// pool sized off the host, HTTP API on :8080.
func Default() *Config {
	return &Config{
		Logging: LoggingConfig{Level: "info", Console: true},
		HTTP:    HTTPConfig{Enabled: true, Addr: ":8080"},
	}
}
