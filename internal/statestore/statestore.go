// Package statestore persists per-task alert state to one JSON file per
// task under a data directory. Saves are crash-atomic: write to a
// temporary sibling, fsync, then rename over the target — the same
// pattern the agent's updater uses to atomically activate a new binary.
// A corrupt or unreadable file is treated as missing, not fatal: the
// caller takes the first-run path and a warning is logged.
package statestore

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/pilot-net/urlcheck/pkg/types"
)

// Store is a file-backed, per-task state store. One mutex per task name
// serializes the read-evaluate-write sequence so concurrent probes for the
// same task never interleave their updates; a single store-wide map guards
// creation of those per-task mutexes.
type Store struct {
	dir    string
	logger *slog.Logger

	taskLocksMu sync.Mutex
	taskLocks   map[string]*sync.Mutex
}

// New returns a Store rooted at dir, creating the directory if needed.
func New(dir string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating state directory %q: %w", dir, err)
	}
	return &Store{
		dir:       dir,
		logger:    logger.With("component", "statestore"),
		taskLocks: make(map[string]*sync.Mutex),
	}, nil
}

// Lock returns the per-task mutex for taskName, creating it on first use.
// Callers hold this for the full read-evaluate-write sequence.
func (s *Store) Lock(taskName string) func() {
	s.taskLocksMu.Lock()
	mu, ok := s.taskLocks[taskName]
	if !ok {
		mu = &sync.Mutex{}
		s.taskLocks[taskName] = mu
	}
	s.taskLocksMu.Unlock()

	mu.Lock()
	return mu.Unlock
}

// Load reads a task's state. A missing or corrupt file returns
// (fresh-state, false, nil) rather than an error — first-run and
// corruption are handled identically by design, per the durability
// contract in the spec this store implements.
func (s *Store) Load(taskName string) (state *types.TaskState, existed bool, err error) {
	path := s.path(taskName)
	data, readErr := os.ReadFile(path)
	if readErr != nil {
		if errors.Is(readErr, os.ErrNotExist) {
			return types.NewTaskState(taskName), false, nil
		}
		s.logger.Warn("state file unreadable, treating as missing", "task", taskName, "error", readErr)
		return types.NewTaskState(taskName), false, nil
	}

	var st types.TaskState
	if err := json.Unmarshal(data, &st); err != nil {
		s.logger.Warn("state file corrupt, treating as missing", "task", taskName, "error", err)
		return types.NewTaskState(taskName), false, nil
	}
	return &st, true, nil
}

// Save writes state atomically: a temp file in the same directory is
// written, fsynced, and renamed over the target so readers never observe
// a partially-written file.
func (s *Store) Save(taskName string, state *types.TaskState) error {
	path := s.path(taskName)
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshaling state for %q: %w", taskName, err)
	}

	tmp, err := os.CreateTemp(s.dir, "."+sanitize(taskName)+".tmp-*")
	if err != nil {
		return fmt.Errorf("creating temp state file for %q: %w", taskName, err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath) // no-op once the rename below succeeds

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("writing temp state file for %q: %w", taskName, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("syncing temp state file for %q: %w", taskName, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing temp state file for %q: %w", taskName, err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("renaming state file for %q: %w", taskName, err)
	}
	return nil
}

// ListTaskNames lists every task with a persisted state file.
func (s *Store) ListTaskNames() ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(s.dir, "*.json"))
	if err != nil {
		return nil, fmt.Errorf("listing state directory: %w", err)
	}
	names := make([]string, 0, len(matches))
	for _, m := range matches {
		base := filepath.Base(m)
		names = append(names, strings.TrimSuffix(base, ".json"))
	}
	return names, nil
}

func (s *Store) path(taskName string) string {
	return filepath.Join(s.dir, sanitize(taskName)+".json")
}

// sanitize strips path separators from a task name so it can't escape dir.
func sanitize(taskName string) string {
	return strings.NewReplacer("/", "_", "\\", "_", "..", "_").Replace(taskName)
}
