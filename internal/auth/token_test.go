package auth

import (
	"testing"

	"github.com/swarmwarden/swarmwarden/internal/config"
	"github.com/swarmwarden/swarmwarden/internal/model"
)

func newManager(enabled bool) *TokenManager {
	return NewTokenManager(config.AuthConfig{
		Enabled: enabled,
		Tokens: []config.StaticToken{
			{Token: "admin-tok", Role: "admin", User: "root"},
			{Token: "auto-tok", Role: "autopilot", User: "autopilot-1"},
			{Token: "view-tok", Role: "viewer", User: "dashboard"},
		},
	}, nil)
}

func TestTokenManager_DisabledAllowsAnyToken(t *testing.T) {
	m := newManager(false)
	id, err := m.Authenticate("anything")
	if err != nil {
		t.Fatalf("Authenticate() error: %v", err)
	}
	if id.Role != model.RoleViewer {
		t.Errorf("role = %q, want %q when auth disabled", id.Role, model.RoleViewer)
	}
}

func TestTokenManager_ValidTokenResolvesIdentity(t *testing.T) {
	m := newManager(true)
	id, err := m.Authenticate("admin-tok")
	if err != nil {
		t.Fatalf("Authenticate() error: %v", err)
	}
	if id.Role != model.RoleAdmin {
		t.Errorf("role = %q, want %q", id.Role, model.RoleAdmin)
	}
	if id.User != "root" {
		t.Errorf("user = %q, want %q", id.User, "root")
	}
}

func TestTokenManager_InvalidTokenRejected(t *testing.T) {
	m := newManager(true)
	if _, err := m.Authenticate("nope"); err == nil {
		t.Fatal("expected an error for an unknown token")
	}
}

func TestTokenManager_Reload(t *testing.T) {
	m := newManager(true)
	m.Reload(config.AuthConfig{
		Enabled: true,
		Tokens:  []config.StaticToken{{Token: "new-tok", Role: "viewer", User: "u"}},
	})

	if _, err := m.Authenticate("admin-tok"); err == nil {
		t.Fatal("expected the old token to be gone after reload")
	}
	if _, err := m.Authenticate("new-tok"); err != nil {
		t.Fatalf("expected the new token to authenticate: %v", err)
	}
}

func TestTokenManager_Enabled(t *testing.T) {
	if newManager(true).Enabled() != true {
		t.Error("expected Enabled() true")
	}
	if newManager(false).Enabled() != false {
		t.Error("expected Enabled() false")
	}
}

func TestHasPermission(t *testing.T) {
	tests := []struct {
		role   model.Role
		action string
		want   bool
	}{
		{model.RoleAdmin, "killswitch.trigger", true},
		{model.RoleAdmin, "auth.manage", true},
		{model.RoleAutopilot, "killswitch.trigger", false},
		{model.RoleAutopilot, "agent.goal", true},
		{model.RoleViewer, "read", true},
		{model.RoleViewer, "agent.goal", false},
		{model.Role("unknown"), "read", false},
	}

	for _, tt := range tests {
		got := HasPermission(tt.role, tt.action)
		if got != tt.want {
			t.Errorf("HasPermission(%q, %q) = %v, want %v", tt.role, tt.action, got, tt.want)
		}
	}
}
