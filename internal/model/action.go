package model

import "time"

// ActionType is the closed enum of atomic operations the planner may emit
// and the router may dispatch. No other value is valid.
type ActionType string

const (
	ActionMoveTo        ActionType = "move_to"
	ActionNavigate      ActionType = "navigate"
	ActionFollow        ActionType = "follow"
	ActionMineBlock     ActionType = "mine_block"
	ActionPlaceBlock    ActionType = "place_block"
	ActionInteract      ActionType = "interact"
	ActionUseItem       ActionType = "use_item"
	ActionLookAt        ActionType = "look_at"
	ActionChat          ActionType = "chat"
	ActionGetInventory  ActionType = "get_inventory"
	ActionEquipItem     ActionType = "equip_item"
	ActionDropItem      ActionType = "drop_item"
)

// AllActionTypes lists every member of the closed action enum, used by
// the schema validator to reject unknown types.
var AllActionTypes = []ActionType{
	ActionMoveTo, ActionNavigate, ActionFollow, ActionMineBlock, ActionPlaceBlock,
	ActionInteract, ActionUseItem, ActionLookAt, ActionChat, ActionGetInventory,
	ActionEquipItem, ActionDropItem,
}

// Action is one atomic, schema-validated operation against the game world.
type Action struct {
	ID         string
	Type       ActionType
	AgentID    string
	Parameters map[string]interface{}
	Caller     string
	Role       Role
	Approved   bool
	CreatedAt  time.Time
}

// Plan is an ordered, finite sequence of Actions targeting one Goal.
type Plan struct {
	GoalName string
	AgentID  string
	Actions  []Action
	Warnings []string
}

// Priority is the urgency a Goal carries in an agent's queue.
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityNormal Priority = "normal"
	PriorityLow    Priority = "low"
)

// Goal is a named intent resolved to a Plan via a GoalPlanner template.
type Goal struct {
	Name     string
	Context  map[string]interface{}
	Priority Priority
}

// ApprovalStatus is the terminal-DAG state of an ApprovalTicket.
type ApprovalStatus string

const (
	ApprovalPending  ApprovalStatus = "pending"
	ApprovalApproved ApprovalStatus = "approved"
	ApprovalRejected ApprovalStatus = "rejected"
)

// ApprovalTicket tracks the lifecycle of a dangerous action awaiting
// human sign-off. Once terminal, a ticket is immutable.
type ApprovalTicket struct {
	Token       string
	Task        Action
	Requester   string
	RequestedAt time.Time
	Status      ApprovalStatus
	Approver    string
	Reason      string
}

// Terminal reports whether the ticket has left the pending state.
func (t *ApprovalTicket) Terminal() bool {
	return t.Status == ApprovalApproved || t.Status == ApprovalRejected
}

// Experience is one {agent, action, outcome} tuple retained in the
// bounded experience ring.
type Experience struct {
	ID        string
	AgentID   string
	Action    Action
	Success   bool
	Reward    float64
	Metrics   map[string]interface{}
	Notes     string
	Timestamp time.Time
}
