package secrets

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sync"
)

// LocalStore resolves secrets from a flat JSON file, used in development
// and in tests where provisioning a 1Password Connect server isn't
// practical. File shape: {"name": "value", ...}.
type LocalStore struct {
	path   string
	logger *slog.Logger

	mu     sync.RWMutex
	values map[string]string
	loaded bool
}

// NewLocalStore returns a store backed by path. The file is read lazily on
// first GetSecret call and need not exist yet.
func NewLocalStore(path string, logger *slog.Logger) (*LocalStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	return &LocalStore{path: path, logger: logger.With("component", "secrets")}, nil
}

func (s *LocalStore) GetSecret(ctx context.Context, name string) (string, error) {
	s.mu.Lock()
	if !s.loaded {
		s.load()
		s.loaded = true
	}
	v, ok := s.values[name]
	s.mu.Unlock()
	if !ok {
		return "", fmt.Errorf("secret %q not found in %s", name, s.path)
	}
	return v, nil
}

func (s *LocalStore) load() {
	s.values = make(map[string]string)
	data, err := os.ReadFile(s.path)
	if err != nil {
		if !os.IsNotExist(err) {
			s.logger.Warn("failed to read local secrets file", "path", s.path, "error", err)
		}
		return
	}
	if err := json.Unmarshal(data, &s.values); err != nil {
		s.logger.Warn("failed to parse local secrets file", "path", s.path, "error", err)
		s.values = make(map[string]string)
	}
}

// Close is a no-op for the local backend.
func (s *LocalStore) Close() error { return nil }
