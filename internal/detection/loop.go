package detection

import (
	"fmt"
	"sync"
	"time"

	"github.com/swarmwarden/swarmwarden/internal/config"
)

// LoopDetector detects repeated identical actions within a sliding window.
type LoopDetector struct {
	mu     sync.Mutex
	config config.LoopDetectionConfig
	// agentID → signature → timestamps
	windows map[string]map[string][]time.Time
}

// NewLoopDetector creates a new loop detector.
func NewLoopDetector(cfg config.LoopDetectionConfig) *LoopDetector {
	return &LoopDetector{
		config:  cfg,
		windows: make(map[string]map[string][]time.Time),
	}
}

// Check records an action and returns a detection event if a loop is found.
func (d *LoopDetector) Check(event ActionEvent) *Event {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := time.Now()
	agentWindows, ok := d.windows[event.AgentID]
	if !ok {
		agentWindows = make(map[string][]time.Time)
		d.windows[event.AgentID] = agentWindows
	}

	agentWindows[event.Signature] = append(agentWindows[event.Signature], now)

	cutoff := now.Add(-d.config.Window)
	timestamps := agentWindows[event.Signature]
	pruned := timestamps[:0]
	for _, ts := range timestamps {
		if ts.After(cutoff) {
			pruned = append(pruned, ts)
		}
	}
	agentWindows[event.Signature] = pruned

	if len(pruned) > d.config.Threshold {
		return &Event{
			Type:    "loop",
			AgentID: event.AgentID,
			Action:  d.config.Action,
			Message: fmt.Sprintf("Loop detected: action %q repeated %d times in %s (threshold: %d)",
				event.Signature, len(pruned), d.config.Window, d.config.Threshold),
			Details: map[string]interface{}{
				"signature": event.Signature,
				"count":     len(pruned),
				"window":    d.config.Window.String(),
				"threshold": d.config.Threshold,
			},
		}
	}

	return nil
}

// ResetAgent clears state for an agent.
func (d *LoopDetector) ResetAgent(agentID string) {
	d.mu.Lock()
	delete(d.windows, agentID)
	d.mu.Unlock()
}
