// Package auth implements bearer-token authentication for the management
// API: a fixed set of config-defined tokens, each bound to one
// model.Role, gating mutating routes when enabled.
package auth

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/swarmwarden/swarmwarden/internal/config"
	"github.com/swarmwarden/swarmwarden/internal/model"
)

// Identity is the caller resolved from a valid bearer token.
type Identity struct {
	User string
	Role model.Role
}

// TokenManager validates bearer tokens against the configured static
// token set. Unlike the teacher's rotating-secret TokenManager, tokens
// here are operator-provisioned via config and never expire on their
// own — config.Loader's Reload() is how they get rotated.
type TokenManager struct {
	mu      sync.RWMutex
	enabled bool
	tokens  map[string]Identity // token string → identity
	logger  *slog.Logger
}

// NewTokenManager builds a TokenManager from the management API's auth
// config section.
func NewTokenManager(cfg config.AuthConfig, logger *slog.Logger) *TokenManager {
	if logger == nil {
		logger = slog.Default()
	}
	m := &TokenManager{
		enabled: cfg.Enabled,
		tokens:  make(map[string]Identity, len(cfg.Tokens)),
		logger:  logger.With("component", "auth.TokenManager"),
	}
	for _, t := range cfg.Tokens {
		m.tokens[t.Token] = Identity{User: t.User, Role: model.Role(t.Role)}
	}
	return m
}

// Enabled reports whether auth gating is active for this deployment.
func (m *TokenManager) Enabled() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.enabled
}

// Authenticate resolves a bearer token to its Identity. Always succeeds
// with an anonymous Identity carrying RoleViewer when auth is disabled.
func (m *TokenManager) Authenticate(token string) (Identity, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if !m.enabled {
		return Identity{Role: model.RoleViewer}, nil
	}
	id, ok := m.tokens[token]
	if !ok {
		return Identity{}, fmt.Errorf("invalid bearer token")
	}
	return id, nil
}

// Reload replaces the token set, e.g. after config.Loader.Reload().
func (m *TokenManager) Reload(cfg config.AuthConfig) {
	tokens := make(map[string]Identity, len(cfg.Tokens))
	for _, t := range cfg.Tokens {
		tokens[t.Token] = Identity{User: t.User, Role: model.Role(t.Role)}
	}
	m.mu.Lock()
	m.enabled = cfg.Enabled
	m.tokens = tokens
	m.mu.Unlock()
}

// HasPermission reports whether role may perform action against the
// management API. admin may do anything; autopilot may drive agents but
// not touch the kill switch or auth config; viewer is read-only.
func HasPermission(role model.Role, action string) bool {
	switch role {
	case model.RoleAdmin:
		return true
	case model.RoleAutopilot:
		return action != "killswitch.trigger" && action != "killswitch.reset" && action != "auth.manage"
	case model.RoleViewer:
		return action == "read"
	default:
		return false
	}
}
