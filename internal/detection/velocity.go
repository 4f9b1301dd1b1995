package detection

import (
	"fmt"
	"sync"
	"time"

	"github.com/swarmwarden/swarmwarden/internal/config"
)

// VelocityDetector detects when an agent is firing actions too rapidly,
// suggesting its planning loop has gone out of control. Unlike loop
// detection (which catches repeated identical actions), velocity
// detection catches diverse rapid actions — the hallmark of a runaway
// agent spamming the admission host.
type VelocityDetector struct {
	mu     sync.Mutex
	config config.VelocityDetectionConfig
	// agentID → list of action timestamps
	windows map[string][]time.Time
	// agentID → time when velocity first exceeded threshold
	breachStart map[string]time.Time
}

// NewVelocityDetector creates a new velocity detector.
func NewVelocityDetector(cfg config.VelocityDetectionConfig) *VelocityDetector {
	if cfg.Threshold <= 0 {
		cfg.Threshold = 10
	}
	if cfg.SustainedSeconds <= 0 {
		cfg.SustainedSeconds = 5
	}
	return &VelocityDetector{
		config:      cfg,
		windows:     make(map[string][]time.Time),
		breachStart: make(map[string]time.Time),
	}
}

// Check records an action and returns a detection event if velocity
// has been exceeded for the sustained period.
func (d *VelocityDetector) Check(event ActionEvent) *Event {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := time.Now()

	d.windows[event.AgentID] = append(d.windows[event.AgentID], now)

	cutoff := now.Add(-time.Duration(d.config.SustainedSeconds+1) * time.Second)
	timestamps := d.windows[event.AgentID]
	pruned := timestamps[:0]
	for _, ts := range timestamps {
		if ts.After(cutoff) {
			pruned = append(pruned, ts)
		}
	}
	d.windows[event.AgentID] = pruned

	oneSecAgo := now.Add(-time.Second)
	recentCount := 0
	for _, ts := range pruned {
		if ts.After(oneSecAgo) {
			recentCount++
		}
	}

	if recentCount > d.config.Threshold {
		if _, ok := d.breachStart[event.AgentID]; !ok {
			d.breachStart[event.AgentID] = now
		}

		breachDuration := now.Sub(d.breachStart[event.AgentID])
		if breachDuration >= time.Duration(d.config.SustainedSeconds)*time.Second {
			return &Event{
				Type:    "velocity",
				AgentID: event.AgentID,
				Action:  d.config.Action,
				Message: fmt.Sprintf("Action velocity breach: %d actions/sec sustained for %s (threshold: %d/sec for %ds)",
					recentCount, breachDuration.Round(time.Second), d.config.Threshold, d.config.SustainedSeconds),
				Details: map[string]interface{}{
					"velocity":          recentCount,
					"threshold":         d.config.Threshold,
					"sustained_seconds": d.config.SustainedSeconds,
					"breach_duration":   breachDuration.String(),
				},
			}
		}
	} else {
		delete(d.breachStart, event.AgentID)
	}

	return nil
}

// ResetAgent clears state for an agent.
func (d *VelocityDetector) ResetAgent(agentID string) {
	d.mu.Lock()
	delete(d.windows, agentID)
	delete(d.breachStart, agentID)
	d.mu.Unlock()
}
