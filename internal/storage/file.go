package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"

	logx "taskd/pkg/logx"
)

// recentCap bounds the in-memory tail served by Recent when the
// configured retention is unbounded.
const recentCap = 1000

// fileStore is a dependency-free persistence backend.
//
// Files:
//   - <prefix>.history.jsonl (append-only JSON Lines)
//
// When retention is bounded, the file is periodically compacted down to
// the retained tail.
type fileStore struct {
	log logx.Logger

	mu sync.Mutex

	path string
	file *os.File

	// tail holds the most recent records, newest last.
	tail       []Record
	maxEntries int

	writes int
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	dir := filepath.Dir(path)
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	historyPath := filepath.Join(dir, base) + ".history.jsonl"

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	keep := cfg.MaxEntries
	if keep <= 0 {
		keep = recentCap
	}

	tail, err := loadTail(historyPath, keep)
	if err != nil && !os.IsNotExist(err) {
		return nil, err
	}

	f, err := os.OpenFile(historyPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, err
	}

	return &fileStore{
		log:        log,
		path:       historyPath,
		file:       f,
		tail:       tail,
		maxEntries: cfg.MaxEntries,
	}, nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return nil
	}
	err := s.file.Close()
	s.file = nil
	return err
}

func (s *fileStore) Append(ctx context.Context, r Record) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return errors.New("history file closed")
	}
	if err := json.NewEncoder(s.file).Encode(r); err != nil {
		return err
	}

	s.tail = append(s.tail, r)
	if max := s.tailCap(); len(s.tail) > max {
		s.tail = append(s.tail[:0], s.tail[len(s.tail)-max:]...)
	}

	s.writes++
	if s.maxEntries > 0 && s.writes%(s.maxEntries*2) == 0 {
		// Best-effort compact.
		if err := s.compactLocked(); err != nil {
			s.log.Debug("history compact failed", logx.Any("err", err))
		}
	}
	return nil
}

func (s *fileStore) Recent(ctx context.Context, limit int) ([]Record, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.tail)
	if limit > 0 && limit < n {
		n = limit
	}
	// Newest first.
	out := make([]Record, 0, n)
	for i := len(s.tail) - 1; i >= len(s.tail)-n; i-- {
		out = append(out, s.tail[i])
	}
	return out, nil
}

func (s *fileStore) tailCap() int {
	if s.maxEntries > 0 {
		return s.maxEntries
	}
	return recentCap
}

// compactLocked rewrites the history file down to the retained tail.
func (s *fileStore) compactLocked() error {
	tmp := s.path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(f)
	for _, r := range s.tail {
		if err := enc.Encode(r); err != nil {
			_ = f.Close()
			return err
		}
	}
	if err := f.Close(); err != nil {
		return err
	}
	if err := s.file.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return err
	}
	nf, err := os.OpenFile(s.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		s.file = nil
		return err
	}
	s.file = nf
	return nil
}

func loadTail(path string, max int) ([]Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	var out []Record
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var r Record
		if err := json.Unmarshal(sc.Bytes(), &r); err != nil {
			continue
		}
		out = append(out, r)
		if len(out) > max {
			out = append(out[:0], out[len(out)-max:]...)
		}
	}
	return out, sc.Err()
}
