// Package coordinator implements the Coordinator (spec component C7): a
// stateless facade over AgentRegistry that assigns work by capability,
// region hint, or global least-load, and flags region collisions for
// resolution. It holds no state of its own — every operation reads and
// writes through the registry's single lock, so assignment is atomic
// with respect to concurrent callers.
package coordinator

import (
	"errors"
	"log/slog"

	"github.com/swarmwarden/swarmwarden/internal/model"
	"github.com/swarmwarden/swarmwarden/internal/registry"
)

// ErrNoAvailableAgents is returned by AssignWork when no agent can take
// the request under any of the three assignment strategies.
var ErrNoAvailableAgents = errors.New("no_available_agents")

// WorkRequest describes one unit of work to place with an agent.
type WorkRequest struct {
	WorkID             string
	RequiredCapability string // optional
	RegionHint         string // optional
	Details            map[string]interface{}
}

// CollisionSuggestion pairs a detected collision with the recommended
// remediation: reassign the busier agent's current work elsewhere.
type CollisionSuggestion struct {
	registry.Collision
	ReassignAgentID string
}

// Coordinator is C7. It embeds no state beyond a registry reference and
// a logger — see spec.md §4.7 ("Stateless facade over AgentRegistry").
type Coordinator struct {
	registry *registry.Registry
	logger   *slog.Logger
}

// New creates a Coordinator over reg.
func New(reg *registry.Registry, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{registry: reg, logger: logger.With("component", "coordinator.Coordinator")}
}

// AssignWork picks an agent for req using, in order: (a) required
// capability -> least-loaded capable agent; (b) region hint ->
// suggestNextAgent(region); (c) global least-loaded Idle agent. Ties are
// broken lexicographically by agent ID (stable, inherited from the
// registry's own tie-break in SuggestNextAgent and applied here directly
// for the capability/global paths).
func (c *Coordinator) AssignWork(req WorkRequest) (*model.WorkClaim, error) {
	agentID, err := c.pickAgent(req)
	if err != nil {
		return nil, err
	}

	claim, err := c.registry.ClaimWork(req.WorkID, agentID, req.Details)
	if err != nil {
		return nil, err
	}
	c.logger.Info("work assigned", "work_id", req.WorkID, "agent_id", agentID)
	return claim, nil
}

func (c *Coordinator) pickAgent(req WorkRequest) (string, error) {
	if req.RequiredCapability != "" {
		if id, ok := c.leastLoadedCapable(req.RequiredCapability); ok {
			return id, nil
		}
		return "", ErrNoAvailableAgents
	}

	if req.RegionHint != "" {
		id, err := c.registry.SuggestNextAgent(req.RegionHint)
		if err != nil {
			return "", ErrNoAvailableAgents
		}
		return id, nil
	}

	if id, ok := c.leastLoadedIdle(); ok {
		return id, nil
	}
	return "", ErrNoAvailableAgents
}

// leastLoadedCapable finds the agent advertising capability with the
// fewest active claims, breaking ties lexicographically.
func (c *Coordinator) leastLoadedCapable(capability string) (string, bool) {
	candidates := c.registry.FindByCapability(capability)
	return c.leastLoadedAmong(candidates)
}

// leastLoadedIdle finds the globally least-loaded Idle agent.
func (c *Coordinator) leastLoadedIdle() (string, bool) {
	var idle []*model.Agent
	for _, a := range c.registry.All() {
		if a.Status == model.StatusIdle {
			idle = append(idle, a)
		}
	}
	return c.leastLoadedAmong(idle)
}

func (c *Coordinator) leastLoadedAmong(candidates []*model.Agent) (string, bool) {
	if len(candidates) == 0 {
		return "", false
	}
	// registry.FindByCapability/All already return ID-sorted slices, so a
	// stable linear scan preserves the lexicographic tie-break.
	best := candidates[0]
	bestLoad := len(c.registry.ClaimsForAgent(best.ID))
	for _, a := range candidates[1:] {
		load := len(c.registry.ClaimsForAgent(a.ID))
		if load < bestLoad {
			best, bestLoad = a, load
		}
	}
	return best.ID, true
}

// CheckAndResolveCollisions lists every colliding pair in regionID and
// suggests reassigning whichever agent in the pair currently holds more
// work (the "busier" agent), per spec.md §4.7.
func (c *Coordinator) CheckAndResolveCollisions(regionID string, threshold float64) []CollisionSuggestion {
	collisions := c.registry.FindCollisions(regionID, threshold)
	suggestions := make([]CollisionSuggestion, 0, len(collisions))
	for _, col := range collisions {
		busier := col.AgentA
		if len(c.registry.ClaimsForAgent(col.AgentB)) > len(c.registry.ClaimsForAgent(col.AgentA)) {
			busier = col.AgentB
		}
		suggestions = append(suggestions, CollisionSuggestion{Collision: col, ReassignAgentID: busier})
	}
	return suggestions
}
