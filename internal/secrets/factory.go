package secrets

import (
	"fmt"
	"log/slog"
	"os"
)

// ConfigFromEnv builds a Config from URL_CHECK_-prefixed and 1Password's
// own conventional environment variables.
func ConfigFromEnv() Config {
	return Config{
		Backend:          getEnv("URL_CHECK_SECRETS_BACKEND", "auto"),
		OnePasswordHost:  os.Getenv("OP_CONNECT_HOST"),
		OnePasswordToken: os.Getenv("OP_CONNECT_TOKEN"),
		OnePasswordVault: getEnv("OP_VAULT_ID", "url-check secrets"),
		LocalSecretsFile: getEnv("URL_CHECK_SECRETS_FILE", "conf/secrets.json"),
	}
}

// NewCredentialStore builds a CredentialStore per cfg.Backend.
func NewCredentialStore(cfg Config, logger *slog.Logger) (CredentialStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	backend := cfg.Backend
	if backend == "" {
		backend = "auto"
	}

	switch backend {
	case "1password":
		if cfg.OnePasswordToken == "" {
			return nil, fmt.Errorf("1password backend requested but OP_CONNECT_TOKEN not set")
		}
		return NewOnePasswordStore(cfg.OnePasswordHost, cfg.OnePasswordToken, cfg.OnePasswordVault, logger)

	case "local":
		return NewLocalStore(cfg.LocalSecretsFile, logger)

	case "auto":
		if cfg.OnePasswordToken != "" && cfg.OnePasswordHost != "" {
			store, err := NewOnePasswordStore(cfg.OnePasswordHost, cfg.OnePasswordToken, cfg.OnePasswordVault, logger)
			if err != nil {
				logger.Warn("failed to initialize 1password, falling back to local secrets file", "error", err)
				return NewLocalStore(cfg.LocalSecretsFile, logger)
			}
			return store, nil
		}
		logger.Info("OP_CONNECT_TOKEN not set, using local secrets file")
		return NewLocalStore(cfg.LocalSecretsFile, logger)

	default:
		return nil, fmt.Errorf("unknown secrets backend: %s", backend)
	}
}

func getEnv(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}
