package detection

import (
	"testing"
	"time"

	"github.com/swarmwarden/swarmwarden/internal/config"
)

func TestLoopDetector_ExceedsThreshold(t *testing.T) {
	cfg := config.LoopDetectionConfig{
		Enabled:   true,
		Threshold: 3,
		Window:    10 * time.Second,
		Action:    "pause",
	}
	d := NewLoopDetector(cfg)

	event := ActionEvent{
		AgentID:   "agent-1",
		Signature: "action:mine_block:stone",
	}

	for i := 0; i < 3; i++ {
		result := d.Check(event)
		if result != nil {
			t.Errorf("Check #%d: expected nil, got detection event", i+1)
		}
	}

	result := d.Check(event)
	if result == nil {
		t.Fatal("Check #4: expected detection event, got nil")
	}
	if result.Type != "loop" {
		t.Errorf("event type = %q, want \"loop\"", result.Type)
	}
	if result.AgentID != "agent-1" {
		t.Errorf("agent_id = %q, want \"agent-1\"", result.AgentID)
	}
	if result.Action != "pause" {
		t.Errorf("action = %q, want \"pause\"", result.Action)
	}
}

func TestLoopDetector_BelowThreshold(t *testing.T) {
	cfg := config.LoopDetectionConfig{
		Enabled:   true,
		Threshold: 5,
		Window:    10 * time.Second,
		Action:    "pause",
	}
	d := NewLoopDetector(cfg)

	event := ActionEvent{
		AgentID:   "agent-1",
		Signature: "action:chat",
	}

	for i := 0; i < 5; i++ {
		result := d.Check(event)
		if result != nil {
			t.Errorf("Check #%d: expected nil, got detection event", i+1)
		}
	}
}

func TestLoopDetector_DifferentSignatures(t *testing.T) {
	cfg := config.LoopDetectionConfig{
		Enabled:   true,
		Threshold: 2,
		Window:    10 * time.Second,
		Action:    "pause",
	}
	d := NewLoopDetector(cfg)

	for i := 0; i < 5; i++ {
		event := ActionEvent{
			AgentID:   "agent-1",
			Signature: "action:" + string(rune('A'+i)),
		}
		result := d.Check(event)
		if result != nil {
			t.Errorf("Check with distinct signature #%d: expected nil, got detection", i+1)
		}
	}
}

func TestLoopDetector_DifferentAgents(t *testing.T) {
	cfg := config.LoopDetectionConfig{
		Enabled:   true,
		Threshold: 2,
		Window:    10 * time.Second,
		Action:    "pause",
	}
	d := NewLoopDetector(cfg)

	for i := 0; i < 5; i++ {
		event := ActionEvent{
			AgentID:   "agent-" + string(rune('A'+i)),
			Signature: "same-action",
		}
		result := d.Check(event)
		if result != nil {
			t.Errorf("Check with distinct agent #%d: expected nil, got detection", i+1)
		}
	}
}

func TestLoopDetector_WindowExpiry(t *testing.T) {
	cfg := config.LoopDetectionConfig{
		Enabled:   true,
		Threshold: 2,
		Window:    50 * time.Millisecond,
		Action:    "alert",
	}
	d := NewLoopDetector(cfg)

	event := ActionEvent{
		AgentID:   "agent-1",
		Signature: "action:chat",
	}

	d.Check(event)
	d.Check(event)

	time.Sleep(100 * time.Millisecond)

	result := d.Check(event)
	if result != nil {
		t.Error("expected nil after window expiry, got detection event")
	}
}

func TestLoopDetector_ResetAgent(t *testing.T) {
	cfg := config.LoopDetectionConfig{
		Enabled:   true,
		Threshold: 2,
		Window:    10 * time.Second,
		Action:    "pause",
	}
	d := NewLoopDetector(cfg)

	event := ActionEvent{
		AgentID:   "agent-1",
		Signature: "action:chat",
	}

	d.Check(event)
	d.Check(event)

	d.ResetAgent("agent-1")

	result := d.Check(event)
	if result != nil {
		t.Error("expected nil after ResetAgent, got detection event")
	}
}

func TestLoopDetector_DetectionDetails(t *testing.T) {
	cfg := config.LoopDetectionConfig{
		Enabled:   true,
		Threshold: 1,
		Window:    10 * time.Second,
		Action:    "terminate",
	}
	d := NewLoopDetector(cfg)

	event := ActionEvent{
		AgentID:   "agent-7",
		Signature: "repeated-action",
	}

	d.Check(event)

	result := d.Check(event)
	if result == nil {
		t.Fatal("expected detection event")
	}

	if result.Details["signature"] != "repeated-action" {
		t.Errorf("details.signature = %v, want \"repeated-action\"", result.Details["signature"])
	}
	if result.Details["count"] != 2 {
		t.Errorf("details.count = %v, want 2", result.Details["count"])
	}
	if result.Details["threshold"] != 1 {
		t.Errorf("details.threshold = %v, want 1", result.Details["threshold"])
	}
	if result.AgentID != "agent-7" {
		t.Errorf("agent_id = %q, want \"agent-7\"", result.AgentID)
	}
}
