// Package orchestrator implements Orchestrator (spec component C10):
// the top-level owner that wires ClientDriver, WorldObserver,
// GoalPlanner, AdmissionHost, Coordinator, and one AutonomyLoop per
// connected agent into a single swarm lifecycle.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/swarmwarden/swarmwarden/internal/admission"
	"github.com/swarmwarden/swarmwarden/internal/alert"
	"github.com/swarmwarden/swarmwarden/internal/config"
	"github.com/swarmwarden/swarmwarden/internal/coordinator"
	"github.com/swarmwarden/swarmwarden/internal/detection"
	"github.com/swarmwarden/swarmwarden/internal/driver"
	"github.com/swarmwarden/swarmwarden/internal/experience"
	"github.com/swarmwarden/swarmwarden/internal/loop"
	"github.com/swarmwarden/swarmwarden/internal/metrics"
	"github.com/swarmwarden/swarmwarden/internal/model"
	"github.com/swarmwarden/swarmwarden/internal/planner"
	"github.com/swarmwarden/swarmwarden/internal/registry"
	"github.com/swarmwarden/swarmwarden/internal/world"
)

// Driver is what Orchestrator needs from a connected game client: the
// full action surface (driver.ClientDriver) plus the bulk-scan surface
// WorldObserver consumes (world.ScanSource). driver.Mock and
// driver.NATSBridge both satisfy it.
type Driver interface {
	driver.ClientDriver
	world.ScanSource
}

var (
	// ErrAgentAlreadyConnected is returned by ConnectAgentWithAutonomy for
	// a duplicate agentID.
	ErrAgentAlreadyConnected = errors.New("agent_already_connected")
	// ErrAgentNotConnected is returned for operations against an agentID
	// with no active loop.
	ErrAgentNotConnected = errors.New("agent_not_connected")
)

// swarmGoal is a goal queued against every agent, present and future.
type swarmGoal struct {
	name     string
	context  map[string]interface{}
	priority model.Priority
}

// Config bundles the tunables for the collaborators Orchestrator
// constructs internally (World, Planner, Loop). PolicyEngine and Router
// are built by the caller and arrive pre-composed inside host, since
// they carry domain-specific setup (CEL rules, rate-limit overrides,
// dangerous-block lists) that Orchestrator has no opinion on.
type Config struct {
	World       world.Config
	Planner     planner.Config
	Loop        loop.Config
	Detection   config.DetectionConfig
	Experience  int // capacity; 0 uses experience.DefaultCapacity
	DefaultRole model.AgentRole
}

// Orchestrator is the top-level swarm control plane (C10).
type Orchestrator struct {
	mu sync.Mutex

	driver   Driver
	observer *world.Observer
	planner  *planner.Planner
	registry *registry.Registry
	coord    *coordinator.Coordinator
	host     *admission.Host
	exp      *experience.Buffer
	alerts   *alert.Manager // optional
	detector *detection.Engine

	loops      map[string]*loop.Loop
	swarmGoals []swarmGoal

	cfg    Config
	logger *slog.Logger
}

// New wires one Orchestrator from its already-constructed collaborators.
// Callers build PolicyEngine and Router themselves (they carry their own
// domain-specific configuration, e.g. CEL rules and rate-limit
// overrides) and pass the composed AdmissionHost in. alerts may be nil;
// a nil alert.Manager means detected anomalies are logged but never
// dispatched to Slack/webhook.
func New(d Driver, host *admission.Host, alerts *alert.Manager, cfg Config, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	expCap := cfg.Experience
	if expCap <= 0 {
		expCap = experience.DefaultCapacity
	}
	reg := registry.New(logger)
	o := &Orchestrator{
		driver:   d,
		observer: world.New(d, cfg.World, logger),
		planner:  planner.New(cfg.Planner, logger),
		registry: reg,
		coord:    coordinator.New(reg, logger),
		host:     host,
		exp:      experience.New(expCap, logger),
		alerts:   alerts,
		loops:    make(map[string]*loop.Loop),
		cfg:      cfg,
		logger:   logger.With("component", "orchestrator.Orchestrator"),
	}
	o.detector = detection.NewEngine(cfg.Detection, o.handleDetection, logger)
	host.SetPositionLookup(func(agentID string) (model.Position, bool) {
		snap := o.observer.Snapshot(agentID)
		if snap == nil {
			return model.Position{}, false
		}
		return snap.Self.Position, true
	})
	return o
}

// handleDetection applies a detector's recommended response: pause stops
// the offending agent's loop in place, terminate disconnects it entirely,
// and alert (or any other action) only notifies. Every event is forwarded
// to the alert manager, when configured, regardless of action.
func (o *Orchestrator) handleDetection(event detection.Event) {
	o.logger.Warn("anomaly detected", "type", event.Type, "agent_id", event.AgentID, "action", event.Action, "message", event.Message)
	metrics.RecordDetection(event.Type, event.Action)

	if o.alerts != nil {
		o.alerts.Send(alert.Alert{
			Type:     "detection_" + event.Type,
			Severity: detectionSeverity(event.Action),
			Title:    fmt.Sprintf("%s detected for agent %s", event.Type, event.AgentID),
			Message:  event.Message,
			AgentID:  event.AgentID,
			Details:  event.Details,
		})
	}

	switch event.Action {
	case "pause":
		o.mu.Lock()
		l, ok := o.loops[event.AgentID]
		o.mu.Unlock()
		if ok {
			l.Pause()
		}
	case "terminate":
		go func() {
			if err := o.DisconnectAgent(context.Background(), event.AgentID); err != nil {
				o.logger.Warn("detection-triggered disconnect failed", "agent_id", event.AgentID, "error", err)
			}
		}()
	}
}

func detectionSeverity(action string) string {
	switch action {
	case "terminate":
		return "critical"
	case "pause":
		return "warning"
	default:
		return "info"
	}
}

// ConnectAgentWithAutonomy connects an agent through the driver,
// registers it, starts world observation, starts its AutonomyLoop with
// the given initial goals (plus any standing swarm goals), and tracks it
// for later disconnect/reset.
func (o *Orchestrator) ConnectAgentWithAutonomy(ctx context.Context, agentID string, credentials []byte, ownerUserID string, goals []model.Goal) error {
	o.mu.Lock()
	if _, exists := o.loops[agentID]; exists {
		o.mu.Unlock()
		return fmt.Errorf("%w: %q", ErrAgentAlreadyConnected, agentID)
	}
	o.mu.Unlock()

	if err := o.driver.Connect(ctx, agentID, credentials); err != nil {
		return fmt.Errorf("connect agent %q: %w", agentID, err)
	}

	role := o.cfg.DefaultRole
	if role == "" {
		role = model.RoleGeneralist
	}
	if err := o.registry.Register(&model.Agent{
		ID:     agentID,
		Role:   role,
		Status: model.StatusIdle,
		Owner:  ownerUserID,
	}); err != nil {
		o.driver.Disconnect(ctx, agentID, "registration failed")
		return fmt.Errorf("register agent %q: %w", agentID, err)
	}

	if err := o.observer.StartObserving(ctx, agentID); err != nil {
		o.registry.Unregister(agentID)
		o.driver.Disconnect(ctx, agentID, "observation start failed")
		return fmt.Errorf("start observing agent %q: %w", agentID, err)
	}

	l := loop.New(agentID, ownerUserID, o.observer, o.planner, o.registry, o.host, o.exp, o.detector, o.cfg.Loop, o.logger)

	o.mu.Lock()
	for _, g := range goals {
		l.QueueGoal(g.Name, g.Context, g.Priority)
	}
	for _, sg := range o.swarmGoals {
		l.QueueGoal(sg.name, sg.context, sg.priority)
	}
	o.loops[agentID] = l
	o.mu.Unlock()

	l.Start(ctx)
	metrics.SetConnectedAgents(len(o.ConnectedAgents()))
	o.logger.Info("agent connected with autonomy", "agent_id", agentID, "owner", ownerUserID, "initial_goals", len(goals))
	return nil
}

// DisconnectAgent reverses ConnectAgentWithAutonomy in failure-safe
// order: stop the loop first (so no new actions are dispatched), then
// stop observation, then deregister, then disconnect the driver. Each
// step runs even if an earlier one errors, and the first error
// encountered is returned.
func (o *Orchestrator) DisconnectAgent(ctx context.Context, agentID string) error {
	o.mu.Lock()
	l, ok := o.loops[agentID]
	delete(o.loops, agentID)
	o.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %q", ErrAgentNotConnected, agentID)
	}

	l.Stop()
	o.observer.StopObserving(agentID)
	o.detector.ResetAgent(agentID)

	var firstErr error
	if err := o.registry.Unregister(agentID); err != nil {
		firstErr = err
	}
	if err := o.driver.Disconnect(ctx, agentID, "orchestrator disconnect"); err != nil && firstErr == nil {
		firstErr = err
	}

	metrics.SetConnectedAgents(len(o.ConnectedAgents()))
	o.logger.Info("agent disconnected", "agent_id", agentID)
	return firstErr
}

// QueueSwarmGoal queues a goal on every currently connected agent's loop
// and records it so every future ConnectAgentWithAutonomy call also
// receives it.
func (o *Orchestrator) QueueSwarmGoal(name string, goalCtx map[string]interface{}, priority model.Priority) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.swarmGoals = append(o.swarmGoals, swarmGoal{name: name, context: goalCtx, priority: priority})
	for _, l := range o.loops {
		l.QueueGoal(name, goalCtx, priority)
	}
}

// TaskOutcome is one agent's result from CoordinateTask.
type TaskOutcome struct {
	AgentID string
	Error   error
}

// CoordinateTask queues taskType as a goal on each named agent's loop.
// It returns one TaskOutcome per requested agent (recording
// ErrAgentNotConnected for any agent with no active loop) and a single
// error if any agent failed. Because AutonomyLoop dispatches
// asynchronously on its own tick, this call reports queuing success, not
// the eventual in-world outcome -- callers wanting that should consult
// Loop.GetHistory or the ExperienceBuffer after the fact.
func (o *Orchestrator) CoordinateTask(agentIDs []string, taskType string, params map[string]interface{}) ([]TaskOutcome, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	outcomes := make([]TaskOutcome, 0, len(agentIDs))
	var anyErr error
	for _, agentID := range agentIDs {
		l, ok := o.loops[agentID]
		if !ok {
			err := fmt.Errorf("%w: %q", ErrAgentNotConnected, agentID)
			outcomes = append(outcomes, TaskOutcome{AgentID: agentID, Error: err})
			anyErr = err
			continue
		}
		l.QueueGoal(taskType, params, model.PriorityHigh)
		outcomes = append(outcomes, TaskOutcome{AgentID: agentID})
	}
	return outcomes, anyErr
}

// EmergencyReset stops every loop, disconnects every agent, and clears
// standing swarm goals and the planner's template cache. It is
// idempotent: calling it with no connected agents is a no-op.
func (o *Orchestrator) EmergencyReset(ctx context.Context) {
	o.mu.Lock()
	agentIDs := make([]string, 0, len(o.loops))
	for id := range o.loops {
		agentIDs = append(agentIDs, id)
	}
	o.mu.Unlock()

	for _, id := range agentIDs {
		if err := o.DisconnectAgent(ctx, id); err != nil {
			o.logger.Warn("emergency reset: disconnect failed", "agent_id", id, "error", err)
		}
	}

	o.mu.Lock()
	o.swarmGoals = nil
	o.mu.Unlock()
	o.planner.InvalidateCache()
	o.logger.Warn("emergency reset complete", "agents_disconnected", len(agentIDs))
}

// Loop returns the active AutonomyLoop for agentID, or nil if not
// connected. Exposed for tests and for API handlers (C-ambient) that
// need Loop.GetHistory.
func (o *Orchestrator) Loop(agentID string) *loop.Loop {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.loops[agentID]
}

// Registry exposes the underlying AgentRegistry for read-heavy ambient
// consumers (e.g. the API's /api/agents listing).
func (o *Orchestrator) Registry() *registry.Registry {
	return o.registry
}

// Coordinator exposes the underlying Coordinator for work-assignment
// callers.
func (o *Orchestrator) Coordinator() *coordinator.Coordinator {
	return o.coord
}

// Experience exposes the shared ExperienceBuffer.
func (o *Orchestrator) Experience() *experience.Buffer {
	return o.exp
}

// Detector exposes the shared detection Engine, e.g. for tests asserting
// on anomaly handling.
func (o *Orchestrator) Detector() *detection.Engine {
	return o.detector
}

// Host exposes the underlying AdmissionHost, e.g. for the management
// API's approval-resolution handlers.
func (o *Orchestrator) Host() *admission.Host {
	return o.host
}

// ConnectedAgents lists the agentIDs with an active loop.
func (o *Orchestrator) ConnectedAgents() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	ids := make([]string, 0, len(o.loops))
	for id := range o.loops {
		ids = append(ids, id)
	}
	return ids
}
