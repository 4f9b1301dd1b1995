package policy

import (
	"testing"

	"github.com/swarmwarden/swarmwarden/internal/model"
)

func newTestEngine(t *testing.T, cfg Config) *Engine {
	t.Helper()
	cel, err := NewCELEvaluator(nil)
	if err != nil {
		t.Fatalf("NewCELEvaluator() error: %v", err)
	}
	approvals := NewApprovalRegistry(0, nil)
	return NewEngine(cfg, cel, approvals, nil)
}

func TestEngine_AllowsWithinDefaults(t *testing.T) {
	e := newTestEngine(t, Config{RequestsPerMinute: 100, ConcurrencyLimit: 5})

	action := model.Action{
		Type:       model.ActionMoveTo,
		AgentID:    "agent-1",
		Role:       model.RoleAutopilot,
		Parameters: map[string]interface{}{"target": map[string]interface{}{"x": 1.0, "y": 2.0, "z": 3.0}},
	}

	report := e.ValidateTaskPolicy(action, &model.Agent{ID: "agent-1"}, "agent")
	if !report.Valid {
		t.Fatalf("expected valid report, got errors: %v", report.Errors)
	}
}

func TestEngine_RejectsViewerMutation(t *testing.T) {
	e := newTestEngine(t, Config{RequestsPerMinute: 100, ConcurrencyLimit: 5})

	action := model.Action{Type: model.ActionMineBlock, AgentID: "agent-1", Role: model.RoleViewer}
	report := e.ValidateTaskPolicy(action, nil, "viewer-user")
	if report.Valid {
		t.Error("expected viewer mine_block to be denied")
	}
}

func TestEngine_RejectsAutopilotOnForeignAgent(t *testing.T) {
	e := newTestEngine(t, Config{RequestsPerMinute: 100, ConcurrencyLimit: 5})

	action := model.Action{Type: model.ActionChat, AgentID: "bob-agent-1", Role: model.RoleAutopilot,
		Parameters: map[string]interface{}{"message": "hi"}}
	report := e.ValidateTaskPolicy(action, nil, "alice")
	if report.Valid {
		t.Error("expected cross-user autopilot action to be denied")
	}
}

func TestEngine_RateLimitEnforced(t *testing.T) {
	e := newTestEngine(t, Config{RequestsPerMinute: 1, ConcurrencyLimit: 5})

	action := model.Action{Type: model.ActionChat, AgentID: "agent-1", Role: model.RoleAdmin,
		Parameters: map[string]interface{}{"message": "hi"}}

	first := e.ValidateTaskPolicy(action, nil, "admin-1")
	if !first.Valid {
		t.Fatalf("first request should be allowed, got errors: %v", first.Errors)
	}

	second := e.ValidateTaskPolicy(action, nil, "admin-1")
	if second.Valid {
		t.Error("second request within the same window should be rate-limited")
	}
	if second.RateLimit.Allowed {
		t.Error("expected RateLimit.Allowed=false on denial")
	}
}

func TestEngine_ConcurrencyLimitEnforced(t *testing.T) {
	e := newTestEngine(t, Config{RequestsPerMinute: 1000, ConcurrencyLimit: 1})

	e.BeginTask("agent-1")
	action := model.Action{Type: model.ActionChat, AgentID: "agent-1", Role: model.RoleAdmin,
		Parameters: map[string]interface{}{"message": "hi"}}

	report := e.ValidateTaskPolicy(action, nil, "admin-1")
	if report.Valid {
		t.Error("expected concurrency-limited action to be denied")
	}
	if report.Concurrency.Allowed {
		t.Error("expected Concurrency.Allowed=false")
	}

	e.EndTask("agent-1")
	if n := e.InFlight("agent-1"); n != 0 {
		t.Errorf("InFlight after EndTask = %d, want 0", n)
	}
}

func TestEngine_DangerousBlockRoutesToApprovalForNonAdmin(t *testing.T) {
	e := newTestEngine(t, Config{RequestsPerMinute: 1000, ConcurrencyLimit: 5})

	action := model.Action{
		Type:       model.ActionPlaceBlock,
		AgentID:    "agent-1",
		Role:       model.RoleAutopilot,
		Parameters: map[string]interface{}{"target": map[string]interface{}{"x": 1.0, "y": 2.0, "z": 3.0}, "blockType": "tnt"},
	}

	report := e.ValidateTaskPolicy(action, nil, "agent")
	if !report.Valid {
		t.Fatalf("dangerous-but-autopilot action should still be policy-valid pending approval, errors: %v", report.Errors)
	}
	if !report.RequiresApproval {
		t.Error("expected RequiresApproval=true for dangerous block as autopilot")
	}
	if len(report.Warnings) == 0 {
		t.Error("expected a warning describing the dangerous block")
	}
}

func TestEngine_DangerousBlockWarnsButAllowsAdmin(t *testing.T) {
	e := newTestEngine(t, Config{RequestsPerMinute: 1000, ConcurrencyLimit: 5})

	action := model.Action{
		Type:       model.ActionMineBlock,
		AgentID:    "agent-1",
		Role:       model.RoleAdmin,
		Parameters: map[string]interface{}{"target": map[string]interface{}{"x": 1.0, "y": 2.0, "z": 3.0}, "blockType": "spawner"},
	}

	report := e.ValidateTaskPolicy(action, nil, "admin-1")
	if !report.Valid {
		t.Fatalf("expected admin dangerous-block action to be valid, errors: %v", report.Errors)
	}
	if report.RequiresApproval {
		t.Error("admin should never require approval")
	}
	if len(report.Warnings) == 0 {
		t.Error("expected a warning even though admin is allowed through")
	}
}

func TestEngine_SafeBlockNoWarning(t *testing.T) {
	e := newTestEngine(t, Config{RequestsPerMinute: 1000, ConcurrencyLimit: 5})

	action := model.Action{
		Type:       model.ActionMineBlock,
		AgentID:    "agent-1",
		Role:       model.RoleAutopilot,
		Parameters: map[string]interface{}{"target": map[string]interface{}{"x": 1.0, "y": 2.0, "z": 3.0}, "blockType": "stone"},
	}

	report := e.ValidateTaskPolicy(action, nil, "agent")
	if !report.Valid {
		t.Fatalf("expected valid report, errors: %v", report.Errors)
	}
	if report.RequiresApproval {
		t.Error("safe block should never require approval")
	}
	if len(report.Warnings) != 0 {
		t.Errorf("expected no warnings for a safe block, got %v", report.Warnings)
	}
}

func TestEngine_CustomCELRuleDenies(t *testing.T) {
	cel, err := NewCELEvaluator(nil)
	if err != nil {
		t.Fatalf("NewCELEvaluator() error: %v", err)
	}
	rule, err := cel.CompileExpression(`agent.health < 3`, "deny", "agent too weak to act")
	if err != nil {
		t.Fatalf("CompileExpression() error: %v", err)
	}

	e := NewEngine(Config{
		RequestsPerMinute: 1000,
		ConcurrencyLimit:  5,
		CustomRules:       []CompiledRule{rule},
	}, cel, NewApprovalRegistry(0, nil), nil)

	action := model.Action{Type: model.ActionChat, AgentID: "agent-1", Role: model.RoleAdmin,
		Parameters: map[string]interface{}{"message": "help"}}

	report := e.ValidateTaskPolicy(action, &model.Agent{ID: "agent-1", Health: 1}, "admin-1")
	if report.Valid {
		t.Error("expected custom CEL deny rule to invalidate the report")
	}
}

func TestEngine_SetAllowListHotReload(t *testing.T) {
	e := newTestEngine(t, Config{RequestsPerMinute: 1000, ConcurrencyLimit: 5})

	e.SetAllowList(TaskAllowList{model.RoleViewer: {string(model.ActionMineBlock)}})

	action := model.Action{Type: model.ActionMineBlock, AgentID: "agent-1", Role: model.RoleViewer,
		Parameters: map[string]interface{}{"target": map[string]interface{}{"x": 1.0, "y": 2.0, "z": 3.0}}}

	report := e.ValidateTaskPolicy(action, nil, "viewer-1")
	if !report.Valid {
		t.Fatalf("expected hot-reloaded allow-list to permit viewer mine_block, errors: %v", report.Errors)
	}
}
