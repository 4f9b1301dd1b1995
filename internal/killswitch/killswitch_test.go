package killswitch

import (
	"os"
	"path/filepath"
	"testing"
)

func TestKillSwitch_GlobalTrigger(t *testing.T) {
	ks := New(nil)

	blocked, _ := ks.IsBlocked("agent-1")
	if blocked {
		t.Fatal("expected not blocked initially")
	}

	ks.TriggerGlobal("runaway agent", "api")

	blocked, msg := ks.IsBlocked("agent-1")
	if !blocked {
		t.Fatal("expected blocked after global trigger")
	}
	if msg != "global kill switch engaged" {
		t.Errorf("message = %q, want %q", msg, "global kill switch engaged")
	}

	blocked, _ = ks.IsBlocked("agent-99")
	if !blocked {
		t.Fatal("expected all agents blocked after global trigger")
	}
}

func TestKillSwitch_GlobalReset(t *testing.T) {
	ks := New(nil)
	ks.TriggerGlobal("test", "cli")

	blocked, _ := ks.IsBlocked("agent-1")
	if !blocked {
		t.Fatal("expected blocked")
	}

	ks.ResetGlobal()

	blocked, _ = ks.IsBlocked("agent-1")
	if blocked {
		t.Fatal("expected not blocked after reset")
	}
}

func TestKillSwitch_AgentTrigger(t *testing.T) {
	ks := New(nil)

	ks.TriggerAgent("agent-1", "cost exceeded", "api")

	blocked, msg := ks.IsBlocked("agent-1")
	if !blocked {
		t.Fatal("expected agent-1 blocked")
	}
	if msg == "" {
		t.Fatal("expected non-empty message")
	}

	blocked, _ = ks.IsBlocked("agent-2")
	if blocked {
		t.Fatal("expected agent-2 not blocked")
	}
}

func TestKillSwitch_AgentReset(t *testing.T) {
	ks := New(nil)
	ks.TriggerAgent("agent-1", "test", "api")

	blocked, _ := ks.IsBlocked("agent-1")
	if !blocked {
		t.Fatal("expected blocked")
	}

	ks.ResetAgent("agent-1")

	blocked, _ = ks.IsBlocked("agent-1")
	if blocked {
		t.Fatal("expected not blocked after agent reset")
	}
}

func TestKillSwitch_PriorityOrder(t *testing.T) {
	ks := New(nil)

	ks.TriggerAgent("agent-1", "agent reason", "api")

	blocked, msg := ks.IsBlocked("agent-1")
	if !blocked {
		t.Fatal("expected blocked")
	}
	if msg != "agent kill switch engaged: agent reason" {
		t.Errorf("expected agent-level message, got %q", msg)
	}

	// Global takes absolute precedence once engaged.
	ks.TriggerGlobal("global reason", "api")

	blocked, msg = ks.IsBlocked("agent-1")
	if !blocked {
		t.Fatal("expected blocked")
	}
	if msg != "global kill switch engaged" {
		t.Errorf("expected global message, got %q", msg)
	}
}

func TestKillSwitch_History(t *testing.T) {
	ks := New(nil)

	ks.TriggerGlobal("reason1", "api")
	ks.TriggerAgent("agent-1", "reason2", "cli")

	history := ks.History()
	if len(history) != 2 {
		t.Fatalf("history length = %d, want 2", len(history))
	}

	if history[0].Scope != ScopeGlobal {
		t.Errorf("history[0].Scope = %q, want %q", history[0].Scope, ScopeGlobal)
	}
	if history[1].Scope != ScopeAgent {
		t.Errorf("history[1].Scope = %q, want %q", history[1].Scope, ScopeAgent)
	}
}

func TestKillSwitch_Status(t *testing.T) {
	ks := New(nil)

	status := ks.Status()
	if status["global_triggered"].(bool) {
		t.Error("expected global_triggered=false")
	}
	if status["history_count"].(int) != 0 {
		t.Error("expected history_count=0")
	}

	ks.TriggerGlobal("test", "api")
	ks.TriggerAgent("agent-1", "test", "api")

	status = ks.Status()
	if !status["global_triggered"].(bool) {
		t.Error("expected global_triggered=true")
	}
	if status["history_count"].(int) != 2 {
		t.Errorf("history_count = %d, want 2", status["history_count"].(int))
	}
	agents := status["agent_kills"].(map[string]TriggerRecord)
	if _, ok := agents["agent-1"]; !ok {
		t.Error("expected agent-1 in agent_kills")
	}
}

func TestKillSwitch_FileKill(t *testing.T) {
	tmpDir := t.TempDir()
	killFile := filepath.Join(tmpDir, "KILL")

	ks := New(nil)
	ks.fileWatchPath = killFile

	ks.CheckFileKill()
	blocked, _ := ks.IsBlocked("agent-1")
	if blocked {
		t.Fatal("expected not blocked without KILL file")
	}

	if err := os.WriteFile(killFile, []byte("STOP"), 0644); err != nil {
		t.Fatal(err)
	}

	ks.CheckFileKill()
	blocked, _ = ks.IsBlocked("agent-1")
	if !blocked {
		t.Fatal("expected blocked after KILL file created")
	}

	historyBefore := len(ks.History())
	ks.CheckFileKill()
	historyAfter := len(ks.History())
	if historyAfter != historyBefore {
		t.Errorf("duplicate history entry created: before=%d, after=%d", historyBefore, historyAfter)
	}
}
