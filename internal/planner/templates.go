package planner

import (
	"math"
	"time"

	"github.com/swarmwarden/swarmwarden/internal/model"
)

// defaultTemplates returns the closed set of required goal templates
// (spec.md §4.6): mine_coal, gather_wood, explore_area, find_mobs,
// find_shelter, idle.
func defaultTemplates() map[string]Template {
	return map[string]Template{
		"mine_coal":    mineBlockTemplate([]string{"coal_ore", "deepslate_coal_ore"}),
		"gather_wood":  mineBlockTemplate([]string{"oak_log", "birch_log", "spruce_log", "jungle_log"}),
		"explore_area": exploreAreaTemplate,
		"find_mobs":    findMobsTemplate,
		"find_shelter": findShelterTemplate,
		"idle":         idleTemplate,
	}
}

func coord(pos model.Position) map[string]interface{} {
	return map[string]interface{}{"x": pos.X, "y": pos.Y, "z": pos.Z}
}

func newAction(agentID string, caller string, role model.Role, t model.ActionType, params map[string]interface{}) model.Action {
	return model.Action{
		ID:         newActionID(),
		Type:       t,
		AgentID:    agentID,
		Parameters: params,
		Caller:     caller,
		Role:       role,
		CreatedAt:  time.Now(),
	}
}

// mineBlockTemplate builds a template that locates the nearest block
// whose Name is in targets, walks to it, and mines it.
func mineBlockTemplate(targets []string) Template {
	wanted := make(map[string]struct{}, len(targets))
	for _, t := range targets {
		wanted[t] = struct{}{}
	}

	return func(req Request) (model.Plan, error) {
		if req.Snapshot == nil {
			return model.Plan{Warnings: []string{"no snapshot available; cannot locate target block"}}, nil
		}

		var best *model.Block
		bestDist := math.Inf(1)
		for i := range req.Snapshot.Blocks {
			b := req.Snapshot.Blocks[i]
			if _, ok := wanted[b.Name]; !ok {
				continue
			}
			if b.Distance < bestDist {
				bestDist = b.Distance
				block := b
				best = &block
			}
		}
		if best == nil {
			return model.Plan{Warnings: []string{"no matching block within scan radius"}}, nil
		}

		actions := []model.Action{
			newAction(req.AgentID, "planner", model.RoleAutopilot, model.ActionMoveTo, map[string]interface{}{"target": coord(best.Pos)}),
			newAction(req.AgentID, "planner", model.RoleAutopilot, model.ActionMineBlock, map[string]interface{}{
				"target":    coord(best.Pos),
				"blockType": best.Name,
			}),
		}
		return model.Plan{Actions: actions}, nil
	}
}

// exploreAreaTemplate emits an outward spiral of waypoints from the
// agent's current position.
func exploreAreaTemplate(req Request) (model.Plan, error) {
	var self model.Position
	if req.Snapshot != nil {
		self = req.Snapshot.Self.Position
	}

	const legs = 8
	waypoints := make([]interface{}, 0, legs)
	radius := 4.0
	angle := 0.0
	for i := 0; i < legs; i++ {
		angle += math.Pi / 3
		radius += 3
		wp := model.Position{
			X: self.X + radius*math.Cos(angle),
			Y: self.Y,
			Z: self.Z + radius*math.Sin(angle),
		}
		waypoints = append(waypoints, coord(wp))
	}

	actions := []model.Action{
		newAction(req.AgentID, "planner", model.RoleAutopilot, model.ActionNavigate, map[string]interface{}{"waypoints": waypoints}),
	}
	return model.Plan{Actions: actions}, nil
}

// findMobsTemplate locates the nearest passive or hostile entity and follows it;
// falling back to a warning if nothing is in view.
func findMobsTemplate(req Request) (model.Plan, error) {
	if req.Snapshot == nil {
		return model.Plan{Warnings: []string{"no snapshot available; cannot locate mobs"}}, nil
	}

	var best *model.Entity
	bestDist := math.Inf(1)
	for i := range req.Snapshot.Entities {
		e := req.Snapshot.Entities[i]
		if e.Kind != model.EntityPassive && e.Kind != model.EntityHostile {
			continue
		}
		if e.Distance < bestDist {
			bestDist = e.Distance
			entity := e
			best = &entity
		}
	}
	if best == nil {
		return model.Plan{Warnings: []string{"no mobs within scan radius"}}, nil
	}

	actions := []model.Action{
		newAction(req.AgentID, "planner", model.RoleAutopilot, model.ActionFollow, map[string]interface{}{
			"target": map[string]interface{}{"entity": best.ID},
		}),
	}
	return model.Plan{Actions: actions}, nil
}

// findShelterTemplate navigates toward a safe enclosed position when
// hostiles are nearby, then places a single block as an emergency wall.
func findShelterTemplate(req Request) (model.Plan, error) {
	if req.Snapshot == nil {
		return model.Plan{Warnings: []string{"no snapshot available; cannot assess shelter need"}}, nil
	}

	self := req.Snapshot.Self.Position
	if req.Snapshot.Counters.NearbyHostiles == 0 {
		return model.Plan{Warnings: []string{"no hostiles nearby; shelter not required"}}, nil
	}

	// Retreat opposite the nearest hostile, then wall off behind.
	var nearest *model.Entity
	bestDist := math.Inf(1)
	for i := range req.Snapshot.Entities {
		e := req.Snapshot.Entities[i]
		if e.Kind == model.EntityHostile && e.Distance < bestDist {
			bestDist = e.Distance
			entity := e
			nearest = &entity
		}
	}

	retreat := self
	if nearest != nil {
		dx, dz := self.X-nearest.Pos.X, self.Z-nearest.Pos.Z
		norm := math.Hypot(dx, dz)
		if norm > 0 {
			retreat.X += (dx / norm) * 5
			retreat.Z += (dz / norm) * 5
		}
	}

	actions := []model.Action{
		newAction(req.AgentID, "planner", model.RoleAutopilot, model.ActionMoveTo, map[string]interface{}{"target": coord(retreat)}),
		newAction(req.AgentID, "planner", model.RoleAutopilot, model.ActionPlaceBlock, map[string]interface{}{
			"target":    coord(model.Position{X: retreat.X, Y: retreat.Y, Z: retreat.Z}),
			"blockType": "cobblestone",
			"face":      "north",
		}),
	}
	return model.Plan{Actions: actions}, nil
}

// idleTemplate emits an empty plan: the agent holds position and does
// nothing until its next goal arrives.
func idleTemplate(req Request) (model.Plan, error) {
	return model.Plan{}, nil
}
