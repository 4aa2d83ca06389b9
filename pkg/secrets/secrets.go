package secrets

import (
	"context"
	"errors"
	"os"
	"strings"
	"sync"
)

// Manager provides access to secrets from various sources
type Manager interface {
	// GetSecret retrieves a secret by key
	GetSecret(ctx context.Context, key string) (string, error)

	// GetSecretWithDefault retrieves a secret with a default value if not found
	GetSecretWithDefault(ctx context.Context, key, defaultValue string) string
}

// Common errors
var (
	ErrManagerNotInitialized = errors.New("secrets manager not initialized")
	ErrSecretNotFound        = errors.New("secret not found")
)

var (
	defaultManager Manager
	managerMu      sync.RWMutex
)

// SetManager installs the process-wide manager
func SetManager(manager Manager) {
	managerMu.Lock()
	defaultManager = manager
	managerMu.Unlock()
}

// GetSecret retrieves a secret from the default manager
func GetSecret(ctx context.Context, key string) (string, error) {
	managerMu.RLock()
	m := defaultManager
	managerMu.RUnlock()
	if m == nil {
		return "", ErrManagerNotInitialized
	}
	return m.GetSecret(ctx, key)
}

// GetSecretWithDefault retrieves a secret with a default value if not found
func GetSecretWithDefault(ctx context.Context, key, defaultValue string) string {
	managerMu.RLock()
	m := defaultManager
	managerMu.RUnlock()
	if m == nil {
		return defaultValue
	}
	return m.GetSecretWithDefault(ctx, key, defaultValue)
}

// EnvManager reads secrets from environment variables only
type EnvManager struct {
	lookup func(string) (string, bool)
}

// NewEnvManager creates a manager backed by the process environment
func NewEnvManager() *EnvManager {
	return &EnvManager{lookup: os.LookupEnv}
}

// GetSecret maps key to an env var name (jwt-secret -> JWT_SECRET) and reads it
func (m *EnvManager) GetSecret(_ context.Context, key string) (string, error) {
	if value, ok := m.lookup(EnvKey(key)); ok && value != "" {
		return value, nil
	}
	return "", ErrSecretNotFound
}

// GetSecretWithDefault retrieves a secret with a default value if not found
func (m *EnvManager) GetSecretWithDefault(ctx context.Context, key, defaultValue string) string {
	if value, err := m.GetSecret(ctx, key); err == nil {
		return value
	}
	return defaultValue
}

// EnvKey converts a secret key to its environment variable name
func EnvKey(key string) string {
	return strings.ToUpper(strings.NewReplacer("-", "_", ".", "_").Replace(key))
}
