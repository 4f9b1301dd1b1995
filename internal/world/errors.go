package world

import "fmt"

func errAlreadyObserving(agentID string) error {
	return fmt.Errorf("agent %q is already being observed", agentID)
}
