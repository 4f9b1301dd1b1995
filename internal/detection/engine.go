package detection

import (
	"log/slog"
	"sync"

	"github.com/swarmwarden/swarmwarden/internal/config"
)

// Event represents a detected anomaly.
type Event struct {
	Type    string // loop, velocity, spiral
	AgentID string
	Action  string // recommended action: pause, alert, terminate
	Message string
	Details map[string]interface{}
}

// EventHandler is called when an anomaly is detected.
type EventHandler func(event Event)

// Engine orchestrates all detection subsystems over a single agent's
// dispatched-action stream.
type Engine struct {
	mu       sync.RWMutex
	config   config.DetectionConfig
	loop     *LoopDetector
	spiral   *SpiralDetector
	velocity *VelocityDetector
	handler  EventHandler
	logger   *slog.Logger
}

// NewEngine creates a new detection engine.
func NewEngine(cfg config.DetectionConfig, handler EventHandler, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		config:   cfg,
		loop:     NewLoopDetector(cfg.Loop),
		spiral:   NewSpiralDetector(cfg.Spiral),
		velocity: NewVelocityDetector(cfg.Velocity),
		handler:  handler,
		logger:   logger.With("component", "detection"),
	}
}

// ActionEvent represents one dispatched action to be analyzed by detectors.
type ActionEvent struct {
	AgentID    string
	ActionType string
	Signature  string // hash of action type + target params, for loop detection
	GoalText   string // serialized goal name+context, for spiral detection
}

// Analyze runs all enabled detectors against a dispatched action event.
func (e *Engine) Analyze(event ActionEvent) {
	e.mu.RLock()
	cfg := e.config
	e.mu.RUnlock()

	if cfg.Loop.Enabled {
		if detected := e.loop.Check(event); detected != nil {
			e.logger.Warn("loop detected",
				"agent_id", event.AgentID,
				"signature", event.Signature,
				"count", detected.Details["count"],
			)
			if e.handler != nil {
				e.handler(*detected)
			}
		}
	}

	if cfg.Spiral.Enabled && event.GoalText != "" {
		if detected := e.spiral.Check(event); detected != nil {
			e.logger.Warn("goal spiral detected",
				"agent_id", event.AgentID,
				"similarity", detected.Details["avg_similarity"],
			)
			if e.handler != nil {
				e.handler(*detected)
			}
		}
	}

	if cfg.Velocity.Enabled {
		if detected := e.velocity.Check(event); detected != nil {
			e.logger.Error("ACTION VELOCITY BREACH",
				"agent_id", event.AgentID,
				"velocity", detected.Details["velocity"],
			)
			if e.handler != nil {
				e.handler(*detected)
			}
		}
	}
}

// ResetAgent clears all detector state for an agent, e.g. after disconnect.
func (e *Engine) ResetAgent(agentID string) {
	e.loop.ResetAgent(agentID)
	e.spiral.ResetAgent(agentID)
	e.velocity.ResetAgent(agentID)
}

// UpdateConfig replaces the detection configuration, resetting all
// detector windows.
func (e *Engine) UpdateConfig(cfg config.DetectionConfig) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.config = cfg
	e.loop = NewLoopDetector(cfg.Loop)
	e.spiral = NewSpiralDetector(cfg.Spiral)
	e.velocity = NewVelocityDetector(cfg.Velocity)
}
