package trace

import (
	"encoding/json"
	"time"
)

// Status is the policy/dispatch outcome of one routed Action.
type Status string

const (
	StatusAllowed  Status = "allowed"
	StatusDenied   Status = "denied"
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
	StatusBlocked  Status = "blocked" // kill switch
)

// Record is a single hash-chained audit entry for one
// ActionRouter.routeTask call: what was attempted, what the policy
// engine decided, and (if dispatched) how it went.
type Record struct {
	ID           string          `json:"id" db:"id"`
	AgentID      string          `json:"agent_id" db:"agent_id"`
	Timestamp    time.Time       `json:"timestamp" db:"timestamp"`
	ActionType   string          `json:"action_type" db:"action_type"`
	ActionID     string          `json:"action_id" db:"action_id"`
	Parameters   json.RawMessage `json:"parameters,omitempty" db:"parameters"`
	Status       Status          `json:"status" db:"status"`
	PolicyReason string          `json:"policy_reason,omitempty" db:"policy_reason"`
	LatencyMs    int64           `json:"latency_ms" db:"latency_ms"`
	Error        string          `json:"error,omitempty" db:"error"`
	PrevHash     string          `json:"prev_hash" db:"prev_hash"`
	Hash         string          `json:"hash" db:"hash"`
}

// Violation records a policy rejection or kill-switch block, kept apart
// from Record so operators can query "what went wrong" without scanning
// every allowed action too.
type Violation struct {
	ID         string          `json:"id" db:"id"`
	RecordID   string          `json:"record_id" db:"record_id"`
	AgentID    string          `json:"agent_id" db:"agent_id"`
	Reason     string          `json:"reason" db:"reason"`
	Timestamp  time.Time       `json:"timestamp" db:"timestamp"`
	ActionJSON json.RawMessage `json:"action_json,omitempty" db:"action_json"`
}

// Filter defines query parameters for listing audit records.
type Filter struct {
	AgentID    string
	ActionType string
	Status     Status
	Since      *time.Time
	Until      *time.Time
	Limit      int
	Offset     int
}

// AgentStats holds aggregated audit metrics for one agent.
type AgentStats struct {
	AgentID         string  `json:"agent_id"`
	TotalActions    int     `json:"total_actions"`
	AllowedActions  int     `json:"allowed_actions"`
	DeniedActions   int     `json:"denied_actions"`
	PendingApprovals int    `json:"pending_approvals"`
	TotalViolations int     `json:"total_violations"`
	ErrorRate       float64 `json:"error_rate"`
}

// SystemStats holds aggregate metrics across every agent.
type SystemStats struct {
	TotalRecords    int64 `json:"total_records"`
	TotalAgents     int64 `json:"total_agents"`
	TotalViolations int64 `json:"total_violations"`
	PendingApprovals int64 `json:"pending_approvals"`
}
