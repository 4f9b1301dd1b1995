// Package registry implements the AgentRegistry (spec component C3): the
// single in-memory source of truth for which agents exist, where they
// are, what region they belong to, and what work they hold. Every write
// is serialized through one lock so that claimWork, region membership,
// and unregister can never observe or leave a torn state.
package registry

import (
	"fmt"
	"log/slog"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/swarmwarden/swarmwarden/internal/model"
)

// Registry owns Agents, Regions, and WorkClaims (spec.md §3). One
// sync.RWMutex serializes all writes; reads that only need a consistent
// snapshot take the read lock.
type Registry struct {
	mu      sync.RWMutex
	agents  map[string]*model.Agent
	regions map[string]*model.Region
	claims  map[string]*model.WorkClaim // workID -> claim

	logger *slog.Logger
}

// New creates an empty Registry.
func New(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		agents:  make(map[string]*model.Agent),
		regions: make(map[string]*model.Region),
		claims:  make(map[string]*model.WorkClaim),
		logger:  logger.With("component", "registry.Registry"),
	}
}

// Register adds a new agent. Returns an error if agentID is already
// registered.
func (r *Registry) Register(agent *model.Agent) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.agents[agent.ID]; exists {
		return fmt.Errorf("agent %q is already registered", agent.ID)
	}

	cp := agent.Clone()
	if cp.RegisteredAt.IsZero() {
		cp.RegisteredAt = time.Now()
	}
	cp.LastUpdate = time.Now()
	r.agents[agent.ID] = cp

	r.logger.Info("agent registered", "agent_id", agent.ID, "role", agent.Role)
	return nil
}

// Unregister removes an agent, releasing all of its work claims and
// region memberships atomically so no dangling entries survive.
func (r *Registry) Unregister(agentID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.agents[agentID]; !exists {
		return fmt.Errorf("agent %q not found", agentID)
	}

	for workID, claim := range r.claims {
		if claim.AgentID == agentID {
			delete(r.claims, workID)
		}
	}
	for _, region := range r.regions {
		delete(region.AgentIDs, agentID)
	}

	delete(r.agents, agentID)
	r.logger.Info("agent unregistered", "agent_id", agentID)
	return nil
}

// Get returns a deep copy of the agent, or nil if not found.
func (r *Registry) Get(agentID string) *model.Agent {
	r.mu.RLock()
	defer r.mu.RUnlock()

	a, ok := r.agents[agentID]
	if !ok {
		return nil
	}
	return a.Clone()
}

// UpdatePosition updates an agent's known position.
func (r *Registry) UpdatePosition(agentID string, pos model.Position) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.agents[agentID]
	if !ok {
		return fmt.Errorf("agent %q not found", agentID)
	}
	a.Position = pos
	a.LastUpdate = time.Now()
	return nil
}

// UpdateStatus updates an agent's status, rejecting values outside the
// closed AgentStatus enum.
func (r *Registry) UpdateStatus(agentID string, status model.AgentStatus) error {
	if !model.ValidAgentStatus(status) {
		return fmt.Errorf("invalid agent status %q", status)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.agents[agentID]
	if !ok {
		return fmt.Errorf("agent %q not found", agentID)
	}
	a.Status = status
	a.LastUpdate = time.Now()
	return nil
}

// FindByCapability returns deep copies of every agent that has the given
// capability. Linear scan -- the registry is not expected to hold more
// than a few hundred agents.
func (r *Registry) FindByCapability(capability string) []*model.Agent {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*model.Agent
	for _, a := range r.agents {
		if a.HasCapability(capability) {
			out = append(out, a.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Filter narrows a candidate set in FindNearest.
type Filter func(*model.Agent) bool

// FindNearest does a full scan for the closest agent to pos matching
// filter (nil filter matches everyone), using Euclidean distance.
func (r *Registry) FindNearest(pos model.Position, filter Filter) *model.Agent {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var best *model.Agent
	bestDist := math.Inf(1)
	for _, a := range r.agents {
		if filter != nil && !filter(a) {
			continue
		}
		d := distance(pos, a.Position)
		if d < bestDist {
			bestDist = d
			best = a
		}
	}
	if best == nil {
		return nil
	}
	return best.Clone()
}

func distance(a, b model.Position) float64 {
	dx := a.X - b.X
	dy := a.Y - b.Y
	dz := a.Z - b.Z
	return math.Sqrt(dx*dx + dy*dy + dz*dz)
}

// ClaimWork atomically creates a WorkClaim for workID if none exists.
// Returns an error if workID is already claimed or agentID is unknown.
func (r *Registry) ClaimWork(workID, agentID string, details map[string]interface{}) (*model.WorkClaim, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.claims[workID]; exists {
		return nil, fmt.Errorf("work %q is already claimed", workID)
	}
	if _, ok := r.agents[agentID]; !ok {
		return nil, fmt.Errorf("agent %q not found", agentID)
	}

	claim := &model.WorkClaim{
		WorkID:    workID,
		AgentID:   agentID,
		ClaimedAt: time.Now(),
		Details:   details,
	}
	r.claims[workID] = claim
	r.agents[agentID].Metrics.TasksClaimed++

	cp := *claim
	return &cp, nil
}

// ReleaseWork removes a claim. Idempotent: releasing an unclaimed workID
// is not an error.
func (r *Registry) ReleaseWork(workID string) {
	r.mu.Lock()
	delete(r.claims, workID)
	r.mu.Unlock()
}

// ClaimsForAgent returns the workIDs currently claimed by agentID.
func (r *Registry) ClaimsForAgent(agentID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var ids []string
	for workID, claim := range r.claims {
		if claim.AgentID == agentID {
			ids = append(ids, workID)
		}
	}
	sort.Strings(ids)
	return ids
}

// AssignToRegion adds agentID to regionID, creating the region if absent.
// De-duplicates: re-assigning is a no-op.
func (r *Registry) AssignToRegion(regionID, agentID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.agents[agentID]; !ok {
		return fmt.Errorf("agent %q not found", agentID)
	}

	region, ok := r.regions[regionID]
	if !ok {
		region = &model.Region{ID: regionID, AgentIDs: make(map[string]struct{})}
		r.regions[regionID] = region
	}
	region.AgentIDs[agentID] = struct{}{}
	return nil
}

// RegionAgents returns the agentIDs assigned to regionID.
func (r *Registry) RegionAgents(regionID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	region, ok := r.regions[regionID]
	if !ok {
		return nil
	}
	ids := make([]string, 0, len(region.AgentIDs))
	for id := range region.AgentIDs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// CheckCollision reports whether agents a and b are within threshold
// distance of each other.
func (r *Registry) CheckCollision(agentA, agentB string, threshold float64) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	a, ok := r.agents[agentA]
	if !ok {
		return false, fmt.Errorf("agent %q not found", agentA)
	}
	b, ok := r.agents[agentB]
	if !ok {
		return false, fmt.Errorf("agent %q not found", agentB)
	}
	return distance(a.Position, b.Position) < threshold, nil
}

// Collision is one unordered pair of agents found to be too close.
type Collision struct {
	AgentA   string
	AgentB   string
	Distance float64
}

// FindCollisions returns all unordered agent pairs within regionID that
// are closer than threshold.
func (r *Registry) FindCollisions(regionID string, threshold float64) []Collision {
	r.mu.RLock()
	defer r.mu.RUnlock()

	region, ok := r.regions[regionID]
	if !ok {
		return nil
	}
	ids := make([]string, 0, len(region.AgentIDs))
	for id := range region.AgentIDs {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var out []Collision
	for i := 0; i < len(ids); i++ {
		for j := i + 1; j < len(ids); j++ {
			ai, aj := r.agents[ids[i]], r.agents[ids[j]]
			if ai == nil || aj == nil {
				continue
			}
			d := distance(ai.Position, aj.Position)
			if d < threshold {
				out = append(out, Collision{AgentA: ids[i], AgentB: ids[j], Distance: d})
			}
		}
	}
	return out
}

// RegionBalance reports the per-agent task count, mean, and stddev
// (imbalance proxy) for regionID.
type RegionBalance struct {
	Counts map[string]int
	Mean   float64
	Stddev float64
}

// RegionBalance computes load distribution across a region's agents,
// using claim count per agent as the load proxy.
func (r *Registry) RegionBalance(regionID string) RegionBalance {
	r.mu.RLock()
	defer r.mu.RUnlock()

	region, ok := r.regions[regionID]
	if !ok {
		return RegionBalance{Counts: map[string]int{}}
	}

	counts := make(map[string]int, len(region.AgentIDs))
	for id := range region.AgentIDs {
		counts[id] = 0
	}
	for _, claim := range r.claims {
		if _, inRegion := region.AgentIDs[claim.AgentID]; inRegion {
			counts[claim.AgentID]++
		}
	}

	if len(counts) == 0 {
		return RegionBalance{Counts: counts}
	}

	var sum float64
	for _, c := range counts {
		sum += float64(c)
	}
	mean := sum / float64(len(counts))

	var variance float64
	for _, c := range counts {
		d := float64(c) - mean
		variance += d * d
	}
	variance /= float64(len(counts))

	return RegionBalance{Counts: counts, Mean: mean, Stddev: math.Sqrt(variance)}
}

// SuggestNextAgent returns the agentID within regionID with the fewest
// active claims, breaking ties lexicographically.
func (r *Registry) SuggestNextAgent(regionID string) (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	region, ok := r.regions[regionID]
	if !ok || len(region.AgentIDs) == 0 {
		return "", fmt.Errorf("region %q has no agents", regionID)
	}

	counts := make(map[string]int, len(region.AgentIDs))
	ids := make([]string, 0, len(region.AgentIDs))
	for id := range region.AgentIDs {
		counts[id] = 0
		ids = append(ids, id)
	}
	for _, claim := range r.claims {
		if _, inRegion := region.AgentIDs[claim.AgentID]; inRegion {
			counts[claim.AgentID]++
		}
	}
	sort.Strings(ids)

	best := ids[0]
	for _, id := range ids[1:] {
		if counts[id] < counts[best] {
			best = id
		}
	}
	return best, nil
}

// NewWorkID generates a sortable, collision-resistant work identifier.
func NewWorkID() string {
	return ulid.Make().String()
}

// Len returns the number of registered agents.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.agents)
}

// All returns deep copies of every registered agent, sorted by ID.
func (r *Registry) All() []*model.Agent {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*model.Agent, 0, len(r.agents))
	for _, a := range r.agents {
		out = append(out, a.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
