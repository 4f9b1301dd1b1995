package policy

import (
	"fmt"
	"strings"

	"github.com/swarmwarden/swarmwarden/internal/model"
)

// roleCapability implements the role hierarchy from spec.md §4.2 gate 1:
// admin superset of autopilot superset of viewer.
var roleCapability = map[model.Role]int{
	model.RoleViewer:    0,
	model.RoleAutopilot: 1,
	model.RoleAdmin:     2,
}

// atLeast reports whether role has at least the privilege of min.
func atLeast(role, min model.Role) bool {
	return roleCapability[role] >= roleCapability[min]
}

// TaskAllowList holds the per-role list of permitted action types. A list
// containing "*" permits every action type for that role.
type TaskAllowList map[model.Role][]string

// DefaultTaskAllowList gives admin and autopilot every action type and
// viewer only read-only operations, matching spec.md §4.2 gate 3 ("viewer
// read-only").
func DefaultTaskAllowList() TaskAllowList {
	return TaskAllowList{
		model.RoleAdmin:     {"*"},
		model.RoleAutopilot: {"*"},
		model.RoleViewer:    {string(model.ActionGetInventory), string(model.ActionLookAt)},
	}
}

// checkTaskAllowList implements spec.md §4.2 gate 2: per role, a list or "*".
// Grounded on the allow/deny glob matching shape of a capability boundary
// check -- here the match is an exact action-type membership test rather
// than a path glob, since the action catalog is a closed enum.
func checkTaskAllowList(allowList TaskAllowList, role model.Role, actionType model.ActionType) error {
	allowed, ok := allowList[role]
	if !ok {
		return fmt.Errorf("role %q has no configured task allow-list", role)
	}
	for _, a := range allowed {
		if a == "*" || strings.EqualFold(a, string(actionType)) {
			return nil
		}
	}
	return fmt.Errorf("role %q is not permitted to perform %q", role, actionType)
}

// checkBotAccess implements spec.md §4.2 gate 3: admin sees all, autopilot
// only agentId prefixed by its userId, viewer read-only (enforced by the
// allow-list gate, not here).
func checkBotAccess(role model.Role, userID, agentID string) error {
	if role == model.RoleAdmin {
		return nil
	}
	if role == model.RoleAutopilot {
		if strings.HasPrefix(agentID, userID) {
			return nil
		}
		return fmt.Errorf("autopilot user %q may not act on agent %q", userID, agentID)
	}
	// Viewer: read-only access is enforced by the task allow-list gate.
	return nil
}
