package router

import (
	"context"
	"testing"
	"time"

	"github.com/swarmwarden/swarmwarden/internal/driver"
	"github.com/swarmwarden/swarmwarden/internal/model"
)

func newTestRouter(t *testing.T, cfg Config) (*Router, *driver.Mock) {
	t.Helper()
	m := driver.NewMock(16)
	if err := m.Connect(context.Background(), "agent-1", nil); err != nil {
		t.Fatalf("Connect() error: %v", err)
	}
	<-m.Events()
	return New(m, cfg, nil), m
}

func moveAction(agentID string, approved bool) model.Action {
	return model.Action{
		ID:      "a1",
		Type:    model.ActionMoveTo,
		AgentID: agentID,
		Parameters: map[string]interface{}{
			"target": map[string]interface{}{"x": 1.0, "y": 64.0, "z": 1.0},
		},
		Role:     model.RoleAutopilot,
		Approved: approved,
	}
}

func TestRouter_RouteTaskDispatchesSuccessfully(t *testing.T) {
	r, _ := newTestRouter(t, Config{})
	result := r.RouteTask(context.Background(), moveAction("agent-1", false))
	if !result.Success {
		t.Fatalf("Result = %+v, want Success", result)
	}
	stats := r.Stats()
	if stats.Total != 1 || stats.Succeeded != 1 {
		t.Errorf("Stats = %+v, want Total=1 Succeeded=1", stats)
	}
}

func TestRouter_RejectsSchemaInvalidAction(t *testing.T) {
	r, _ := newTestRouter(t, Config{})
	action := moveAction("agent-1", false)
	delete(action.Parameters, "target")

	result := r.RouteTask(context.Background(), action)
	if result.Success || !result.Skipped {
		t.Fatalf("Result = %+v, want rejected", result)
	}
	if r.Stats().Rejected != 1 {
		t.Errorf("Rejected = %d, want 1", r.Stats().Rejected)
	}
}

func TestRouter_DangerousActionRequiresApproval(t *testing.T) {
	r, _ := newTestRouter(t, Config{RequireApprovalForDangerous: true})
	action := model.Action{
		ID: "a2", Type: model.ActionPlaceBlock, AgentID: "agent-1",
		Parameters: map[string]interface{}{
			"target":    map[string]interface{}{"x": 1.0, "y": 64.0, "z": 1.0},
			"blockType": "tnt",
		},
		Approved: false,
	}

	result := r.RouteTask(context.Background(), action)
	if result.Success || !result.Skipped {
		t.Fatalf("Result = %+v, want rejected pending approval", result)
	}

	stats := r.Stats()
	if stats.DangerousLogged != 1 {
		t.Errorf("DangerousLogged = %d, want 1", stats.DangerousLogged)
	}

	action.Approved = true
	result = r.RouteTask(context.Background(), action)
	if !result.Success {
		t.Fatalf("approved dangerous action Result = %+v, want Success", result)
	}
}

func TestRouter_MaxActivePerAgentEnforced(t *testing.T) {
	m := driver.NewMock(16)
	m.Connect(context.Background(), "agent-1", nil)
	<-m.Events()
	r := New(m, Config{MaxActivePerAgent: 1}, nil)

	r.mu.Lock()
	r.active["agent-1"] = 1
	r.mu.Unlock()

	result := r.RouteTask(context.Background(), moveAction("agent-1", false))
	if result.Success || !result.Skipped {
		t.Fatalf("Result = %+v, want rejected due to concurrency limit", result)
	}
}

func TestRouter_OnResultCallbackInvoked(t *testing.T) {
	r, _ := newTestRouter(t, Config{})
	var captured Result
	r.OnResult(func(res Result) { captured = res })

	r.RouteTask(context.Background(), moveAction("agent-1", false))
	if captured.Action.ID != "a1" {
		t.Errorf("callback did not receive the routed action, got %+v", captured)
	}
}

func TestRouter_UnknownActionTypeRejected(t *testing.T) {
	r, _ := newTestRouter(t, Config{})
	result := r.RouteTask(context.Background(), model.Action{ID: "a3", Type: "not_a_real_type", AgentID: "agent-1"})
	if result.Success || !result.Skipped {
		t.Fatalf("Result = %+v, want rejected for unknown action type", result)
	}
}

func TestRouter_LookAtUsesWiredPositionLookup(t *testing.T) {
	r, m := newTestRouter(t, Config{})
	r.SetPositionLookup(func(agentID string) (model.Position, bool) {
		return model.Position{X: 0, Y: 64, Z: 0}, true
	})

	action := model.Action{
		ID: "a4", Type: model.ActionLookAt, AgentID: "agent-1",
		Parameters: map[string]interface{}{
			"target": map[string]interface{}{"x": 10.0, "y": 64.0, "z": 0.0},
		},
		Role: model.RoleAutopilot,
	}
	result := r.RouteTask(context.Background(), action)
	if !result.Success {
		t.Fatalf("Result = %+v, want Success", result)
	}

	_, yaw, pitch, _, _, _, err := m.Snapshot("agent-1")
	if err != nil {
		t.Fatalf("Snapshot() error: %v", err)
	}
	if yaw != 90 {
		t.Errorf("dispatched yaw = %f, want 90 (facing +X)", yaw)
	}
	if pitch != 0 {
		t.Errorf("dispatched pitch = %f, want 0 (level)", pitch)
	}
}

func TestRouter_LookAtWithoutPositionLookupTreatsSelfAsOrigin(t *testing.T) {
	r, m := newTestRouter(t, Config{})

	action := model.Action{
		ID: "a5", Type: model.ActionLookAt, AgentID: "agent-1",
		Parameters: map[string]interface{}{
			"target": map[string]interface{}{"x": 0.0, "y": 0.0, "z": 10.0},
		},
		Role: model.RoleAutopilot,
	}
	result := r.RouteTask(context.Background(), action)
	if !result.Success {
		t.Fatalf("Result = %+v, want Success", result)
	}

	_, yaw, pitch, _, _, _, err := m.Snapshot("agent-1")
	if err != nil {
		t.Fatalf("Snapshot() error: %v", err)
	}
	if yaw != 0 {
		t.Errorf("dispatched yaw = %f, want 0 (facing +Z from origin)", yaw)
	}
	if pitch != 0 {
		t.Errorf("dispatched pitch = %f, want 0", pitch)
	}
}

func TestRouter_TaskTimeoutConfigurable(t *testing.T) {
	m := driver.NewMock(16)
	m.Connect(context.Background(), "agent-1", nil)
	<-m.Events()
	r := New(m, Config{TaskTimeout: 10 * time.Millisecond}, nil)
	if r.cfg.TaskTimeout != 10*time.Millisecond {
		t.Errorf("TaskTimeout = %v, want 10ms", r.cfg.TaskTimeout)
	}
}
