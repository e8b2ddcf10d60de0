package secrets

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/1Password/connect-sdk-go/connect"
)

// OnePasswordStore resolves notifier credentials from a 1Password vault via
// the Connect API. Each secret is one vault item, looked up by title
// (the name passed to GetSecret), with the value in a "credential" field.
type OnePasswordStore struct {
	client  connect.Client
	vaultID string
	logger  *slog.Logger

	mu    sync.RWMutex
	cache map[string]string
}

// NewOnePasswordStore creates a Connect-backed credential store.
func NewOnePasswordStore(host, token, vaultID string, logger *slog.Logger) (*OnePasswordStore, error) {
	if host == "" || token == "" || vaultID == "" {
		return nil, fmt.Errorf("1password configuration incomplete: host, token, and vault are required")
	}
	client := connect.NewClientWithUserAgent(host, token, "urlcheck")
	return &OnePasswordStore{
		client:  client,
		vaultID: vaultID,
		logger:  logger,
		cache:   make(map[string]string),
	}, nil
}

// GetSecret looks up the named vault item and returns its "credential" field.
func (s *OnePasswordStore) GetSecret(ctx context.Context, name string) (string, error) {
	s.mu.RLock()
	if v, ok := s.cache[name]; ok {
		s.mu.RUnlock()
		return v, nil
	}
	s.mu.RUnlock()

	items, err := s.client.GetItemsByTitle(name, s.vaultID)
	if err != nil {
		return "", fmt.Errorf("looking up secret %q: %w", name, err)
	}
	if len(items) == 0 {
		return "", fmt.Errorf("secret %q not found in vault", name)
	}

	item, err := s.client.GetItem(items[0].ID, s.vaultID)
	if err != nil {
		return "", fmt.Errorf("fetching secret %q: %w", name, err)
	}

	for _, field := range item.Fields {
		if field.ID == "credential" || field.Label == "credential" {
			s.mu.Lock()
			s.cache[name] = field.Value
			s.mu.Unlock()
			return field.Value, nil
		}
	}
	return "", fmt.Errorf("secret %q has no credential field", name)
}

// Close clears the in-memory cache.
func (s *OnePasswordStore) Close() error {
	s.mu.Lock()
	s.cache = make(map[string]string)
	s.mu.Unlock()
	return nil
}
