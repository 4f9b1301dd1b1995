// Package model holds the shared data types that flow between the
// control-plane components: agents, work claims, world snapshots,
// actions, plans, goals, approval tickets, and experience entries.
// Components own their own maps keyed by these types' IDs; nothing in
// this package is mutated outside the owning component's lock.
package model

import "time"

// Role is the access level granted to an agent or an API caller.
type Role string

const (
	RoleAdmin    Role = "admin"
	RoleAutopilot Role = "autopilot"
	RoleViewer   Role = "viewer"
)

// AgentStatus is the exclusive state an agent occupies at any instant.
type AgentStatus string

const (
	StatusOffline  AgentStatus = "offline"
	StatusIdle     AgentStatus = "idle"
	StatusBusy     AgentStatus = "busy"
	StatusMining   AgentStatus = "mining"
	StatusBuilding AgentStatus = "building"
	StatusMoving   AgentStatus = "moving"
	StatusBlocked  AgentStatus = "blocked"
	StatusError    AgentStatus = "error"
)

// ValidAgentStatus reports whether s is one of the enumerated statuses.
func ValidAgentStatus(s AgentStatus) bool {
	switch s {
	case StatusOffline, StatusIdle, StatusBusy, StatusMining, StatusBuilding, StatusMoving, StatusBlocked, StatusError:
		return true
	}
	return false
}

// AgentRole categorizes the behavioral class assigned to an agent.
type AgentRole string

const (
	RoleMiner      AgentRole = "miner"
	RoleBuilder    AgentRole = "builder"
	RoleExplorer   AgentRole = "explorer"
	RoleGuard      AgentRole = "guard"
	RoleCourier    AgentRole = "courier"
	RoleGeneralist AgentRole = "generalist"
)

// Position is a world coordinate.
type Position struct {
	X, Y, Z float64
}

// InventorySlot is a single inventory entry.
type InventorySlot struct {
	Slot  int    `json:"slot"`
	Name  string `json:"name"`
	Count int    `json:"count"`
	Meta  int    `json:"meta"`
}

// Agent is the control plane's view of one connected game-client agent.
// Exactly one Status holds at a time; updating Position always bumps
// LastUpdate. Agent is owned exclusively by the registry package — every
// other component references an agent by its ID.
type Agent struct {
	ID             string
	Role           AgentRole
	Capabilities   map[string]struct{}
	Status         AgentStatus
	Owner          string
	Position       Position
	Health         int
	MaxHealth      int
	Food           int
	Inventory      []InventorySlot
	RegisteredAt   time.Time
	LastUpdate     time.Time
	Metrics        AgentMetrics
	EncryptedCreds []byte // reconnection credentials slot; no code sets or reads it, so it stays nil
}

// AgentMetrics accumulates lightweight counters for an agent's lifetime.
type AgentMetrics struct {
	ActionsSucceeded int
	ActionsFailed    int
	ActionsRejected  int
	TasksClaimed     int
}

// HasCapability reports whether the agent advertises the named capability.
func (a *Agent) HasCapability(cap string) bool {
	if a == nil {
		return false
	}
	_, ok := a.Capabilities[cap]
	return ok
}

// Clone returns a deep-enough copy safe to hand to callers outside the
// registry lock (Inventory and Capabilities are copied).
func (a *Agent) Clone() *Agent {
	if a == nil {
		return nil
	}
	cp := *a
	if a.Capabilities != nil {
		cp.Capabilities = make(map[string]struct{}, len(a.Capabilities))
		for k := range a.Capabilities {
			cp.Capabilities[k] = struct{}{}
		}
	}
	cp.Inventory = append([]InventorySlot(nil), a.Inventory...)
	return &cp
}

// WorkClaim is an at-most-one assignment of a work item to an agent.
type WorkClaim struct {
	WorkID    string
	AgentID   string
	ClaimedAt time.Time
	Details   map[string]interface{}
}

// Region is a named locality bucket used for coordination hints.
type Region struct {
	ID      string
	AgentIDs map[string]struct{}
}
