// Package killswitch implements an emergency stop mechanism that operates
// outside any agent's planning loop. When triggered, it immediately blocks
// all further action dispatch at the admission layer for the affected
// scope — no exceptions, and no dependence on an agent "choosing" to stop.
package killswitch

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Scope determines what a kill switch trigger affects.
type Scope string

const (
	ScopeGlobal Scope = "global" // every connected agent
	ScopeAgent  Scope = "agent"  // one agent
)

// TriggerRecord logs who/what triggered the kill switch and when.
type TriggerRecord struct {
	Scope     Scope     `json:"scope"`
	TargetID  string    `json:"target_id,omitempty"` // agent ID
	Reason    string    `json:"reason"`
	Source    string    `json:"source"` // api, cli, file, detection
	Timestamp time.Time `json:"timestamp"`
}

// KillSwitch is an emergency stop that blocks all action dispatch once
// triggered, at global or per-agent scope. admission.Host checks it
// before policy evaluation, so nothing that happens inside a planning
// cycle can bypass it.
type KillSwitch struct {
	mu sync.RWMutex

	// globalTriggered is the master kill switch.
	globalTriggered bool

	// agentKills tracks per-agent kill switches. Key is agent ID.
	agentKills map[string]TriggerRecord

	// history keeps a record of all triggers for audit.
	history []TriggerRecord

	// fileWatchPath is checked for a KILL sentinel file.
	fileWatchPath string

	logger *slog.Logger
}

// New creates a KillSwitch. A sentinel KILL file under ~/.swarmwarden/KILL
// triggers a global kill once CheckFileKill notices it; call
// CheckFileKill periodically (e.g. once a second) to arm this.
func New(logger *slog.Logger) *KillSwitch {
	if logger == nil {
		logger = slog.Default()
	}

	homeDir, _ := os.UserHomeDir()
	watchPath := filepath.Join(homeDir, ".swarmwarden", "KILL")

	return &KillSwitch{
		agentKills:    make(map[string]TriggerRecord),
		fileWatchPath: watchPath,
		logger:        logger.With("component", "killswitch"),
	}
}

// IsBlocked reports whether agentID should be blocked from dispatching any
// further action. Hot path: called on every admission check, so it must
// stay fast.
func (ks *KillSwitch) IsBlocked(agentID string) (bool, string) {
	ks.mu.RLock()
	defer ks.mu.RUnlock()

	if ks.globalTriggered {
		return true, "global kill switch engaged"
	}
	if record, ok := ks.agentKills[agentID]; ok {
		return true, fmt.Sprintf("agent kill switch engaged: %s", record.Reason)
	}
	return false, ""
}

// TriggerGlobal engages the global kill switch, blocking every agent.
func (ks *KillSwitch) TriggerGlobal(reason, source string) {
	ks.mu.Lock()
	defer ks.mu.Unlock()

	ks.globalTriggered = true
	record := TriggerRecord{
		Scope:     ScopeGlobal,
		Reason:    reason,
		Source:    source,
		Timestamp: time.Now(),
	}
	ks.history = append(ks.history, record)

	ks.logger.Error("GLOBAL KILL SWITCH TRIGGERED",
		"reason", reason,
		"source", source,
	)
}

// TriggerAgent engages the kill switch for a single agent.
func (ks *KillSwitch) TriggerAgent(agentID, reason, source string) {
	ks.mu.Lock()
	defer ks.mu.Unlock()

	record := TriggerRecord{
		Scope:     ScopeAgent,
		TargetID:  agentID,
		Reason:    reason,
		Source:    source,
		Timestamp: time.Now(),
	}
	ks.agentKills[agentID] = record
	ks.history = append(ks.history, record)

	ks.logger.Error("AGENT KILL SWITCH TRIGGERED",
		"agent_id", agentID,
		"reason", reason,
		"source", source,
	)
}

// ResetGlobal disarms the global kill switch.
func (ks *KillSwitch) ResetGlobal() {
	ks.mu.Lock()
	defer ks.mu.Unlock()
	ks.globalTriggered = false
	ks.logger.Info("global kill switch reset")
}

// ResetAgent disarms the kill switch for a single agent.
func (ks *KillSwitch) ResetAgent(agentID string) {
	ks.mu.Lock()
	defer ks.mu.Unlock()
	delete(ks.agentKills, agentID)
	ks.logger.Info("agent kill switch reset", "agent_id", agentID)
}

// Status returns a snapshot of current trigger state, for the management API.
func (ks *KillSwitch) Status() map[string]interface{} {
	ks.mu.RLock()
	defer ks.mu.RUnlock()

	agentKills := make(map[string]TriggerRecord, len(ks.agentKills))
	for k, v := range ks.agentKills {
		agentKills[k] = v
	}

	return map[string]interface{}{
		"global_triggered": ks.globalTriggered,
		"agent_kills":      agentKills,
		"history_count":    len(ks.history),
	}
}

// History returns the full trigger history for audit purposes.
func (ks *KillSwitch) History() []TriggerRecord {
	ks.mu.RLock()
	defer ks.mu.RUnlock()
	out := make([]TriggerRecord, len(ks.history))
	copy(out, ks.history)
	return out
}

// CheckFileKill checks for a sentinel KILL file and triggers the global
// kill switch if found. Call this periodically (e.g. every second).
func (ks *KillSwitch) CheckFileKill() {
	if ks.fileWatchPath == "" {
		return
	}
	if _, err := os.Stat(ks.fileWatchPath); err == nil {
		ks.mu.RLock()
		alreadyTriggered := ks.globalTriggered
		ks.mu.RUnlock()

		if !alreadyTriggered {
			ks.TriggerGlobal("KILL sentinel file detected", "file")
		}
	}
}
