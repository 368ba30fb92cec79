package storage

import (
	"errors"
	"time"
)

var ErrDisabled = errors.New("storage disabled")

// Config configures storage.
//
// Driver values:
//   - "file": dependency-free file backend (jsonl)
//   - "sqlite": SQLite database file (optional build tag)
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default

	// MaxEntries bounds retained history; 0 means keep everything.
	MaxEntries int
}

// Record captures one settled task.
// Keep it compact and schema-stable.
type Record struct {
	At       time.Time `json:"at"`
	TaskID   string    `json:"task_id"`
	Type     string    `json:"type"`
	Status   string    `json:"status"` // completed | failed | cancelled | timeout
	Priority int       `json:"priority,omitempty"`
	Error    string    `json:"error,omitempty"`
	WaitMS   int64     `json:"wait_ms,omitempty"`
	RunMS    int64     `json:"run_ms,omitempty"`
}
