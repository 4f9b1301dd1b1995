package router

import (
	"context"
	"fmt"
	"math"

	"github.com/swarmwarden/swarmwarden/internal/driver"
	"github.com/swarmwarden/swarmwarden/internal/model"
)

// routeTable is the fixed mapping from action type to handler group,
// flags, and ClientDriver dispatch -- spec.md §4.8's "routing table".
var routeTable = map[model.ActionType]route{
	model.ActionMoveTo: {
		group: GroupMovement, requiresLocation: true, requiresAgent: true,
		dispatch: func(ctx context.Context, d driver.ClientDriver, a model.Action, _ PositionLookup) error {
			target, err := coordParam(a, "target")
			if err != nil {
				return err
			}
			return d.MoveTo(ctx, a.AgentID, target)
		},
	},
	model.ActionNavigate: {
		group: GroupMovement, requiresLocation: true, requiresAgent: true,
		dispatch: func(ctx context.Context, d driver.ClientDriver, a model.Action, _ PositionLookup) error {
			waypoints, err := coordArrayParam(a, "waypoints")
			if err != nil {
				return err
			}
			return d.NavigateWaypoints(ctx, a.AgentID, waypoints)
		},
	},
	model.ActionFollow: {
		group: GroupMovement, requiresAgent: true,
		dispatch: func(ctx context.Context, d driver.ClientDriver, a model.Action, _ PositionLookup) error {
			target, ok := a.Parameters["target"].(map[string]interface{})
			if !ok {
				return fmt.Errorf("missing follow target")
			}
			entity, _ := target["entity"].(string)
			return d.FollowEntity(ctx, a.AgentID, entity)
		},
	},
	model.ActionMineBlock: {
		group: GroupInteraction, dangerousAction: true, requiresLocation: true, requiresAgent: true,
		dispatch: func(ctx context.Context, d driver.ClientDriver, a model.Action, _ PositionLookup) error {
			target, err := coordParam(a, "target")
			if err != nil {
				return err
			}
			return d.Dig(ctx, a.AgentID, target)
		},
	},
	model.ActionPlaceBlock: {
		group: GroupInteraction, dangerousAction: true, requiresLocation: true, requiresAgent: true,
		dispatch: func(ctx context.Context, d driver.ClientDriver, a model.Action, _ PositionLookup) error {
			target, err := coordParam(a, "target")
			if err != nil {
				return err
			}
			face, _ := a.Parameters["face"].(string)
			return d.PlaceBlock(ctx, a.AgentID, target, face)
		},
	},
	model.ActionInteract: {
		group: GroupInteraction, requiresLocation: true, requiresAgent: true,
		dispatch: func(ctx context.Context, d driver.ClientDriver, a model.Action, _ PositionLookup) error {
			target, err := coordParam(a, "target")
			if err != nil {
				return err
			}
			return d.ActivateBlock(ctx, a.AgentID, target)
		},
	},
	model.ActionUseItem: {
		group: GroupInteraction, requiresAgent: true,
		dispatch: func(ctx context.Context, d driver.ClientDriver, a model.Action, _ PositionLookup) error {
			itemName, _ := a.Parameters["itemName"].(string)
			var targetPtr *model.Position
			if _, present := a.Parameters["target"]; present {
				target, err := coordParam(a, "target")
				if err != nil {
					return err
				}
				targetPtr = &target
			}
			return d.ActivateItem(ctx, a.AgentID, itemName, targetPtr)
		},
	},
	model.ActionLookAt: {
		group: GroupBasic, requiresLocation: true, requiresAgent: true,
		dispatch: func(ctx context.Context, d driver.ClientDriver, a model.Action, lookup PositionLookup) error {
			target, err := coordParam(a, "target")
			if err != nil {
				return err
			}
			var self model.Position
			if lookup != nil {
				if pos, ok := lookup(a.AgentID); ok {
					self = pos
				}
			}
			yaw, pitch := yawPitchToward(self, target)
			return d.Look(ctx, a.AgentID, yaw, pitch)
		},
	},
	model.ActionChat: {
		group: GroupBasic, requiresAgent: true,
		dispatch: func(ctx context.Context, d driver.ClientDriver, a model.Action, _ PositionLookup) error {
			message, _ := a.Parameters["message"].(string)
			return d.Chat(ctx, a.AgentID, message)
		},
	},
	model.ActionGetInventory: {
		group: GroupInventory, requiresAgent: true,
		dispatch: func(ctx context.Context, d driver.ClientDriver, a model.Action, _ PositionLookup) error {
			_, err := d.GetInventory(ctx, a.AgentID)
			return err
		},
	},
	model.ActionEquipItem: {
		group: GroupInventory, requiresAgent: true,
		dispatch: func(ctx context.Context, d driver.ClientDriver, a model.Action, _ PositionLookup) error {
			itemName, _ := a.Parameters["itemName"].(string)
			slot, _ := toInt(a.Parameters["slot"])
			return d.Equip(ctx, a.AgentID, itemName, slot)
		},
	},
	model.ActionDropItem: {
		group: GroupInventory, requiresAgent: true,
		dispatch: func(ctx context.Context, d driver.ClientDriver, a model.Action, _ PositionLookup) error {
			slot, _ := toInt(a.Parameters["slot"])
			count, _ := toInt(a.Parameters["count"])
			return d.Drop(ctx, a.AgentID, slot, count)
		},
	},
}

func coordParam(a model.Action, name string) (model.Position, error) {
	raw, ok := a.Parameters[name].(map[string]interface{})
	if !ok {
		return model.Position{}, fmt.Errorf("missing or malformed %q parameter", name)
	}
	x, okx := toFloat(raw["x"])
	y, oky := toFloat(raw["y"])
	z, okz := toFloat(raw["z"])
	if !okx || !oky || !okz {
		return model.Position{}, fmt.Errorf("%q requires numeric x, y, z", name)
	}
	return model.Position{X: x, Y: y, Z: z}, nil
}

func coordArrayParam(a model.Action, name string) ([]model.Position, error) {
	raw, ok := a.Parameters[name].([]interface{})
	if !ok {
		return nil, fmt.Errorf("missing or malformed %q parameter", name)
	}
	out := make([]model.Position, 0, len(raw))
	for i, el := range raw {
		m, ok := el.(map[string]interface{})
		if !ok {
			return nil, fmt.Errorf("%s[%d] must be an {x,y,z} object", name, i)
		}
		x, okx := toFloat(m["x"])
		y, oky := toFloat(m["y"])
		z, okz := toFloat(m["z"])
		if !okx || !oky || !okz {
			return nil, fmt.Errorf("%s[%d] requires numeric x, y, z", name, i)
		}
		out = append(out, model.Position{X: x, Y: y, Z: z})
	}
	return out, nil
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}

func toInt(v interface{}) (int, bool) {
	f, ok := toFloat(v)
	return int(f), ok
}

// yawPitchToward derives the yaw/pitch (in degrees) that orients self
// toward target. Yaw is measured clockwise from north (+Z), matching
// the driver's Look convention; pitch is measured from the horizontal
// plane, negative looking up and positive looking down. When self and
// target coincide (zero horizontal and vertical distance), yaw/pitch
// both fall back to 0 rather than dividing by zero.
func yawPitchToward(self, target model.Position) (yaw, pitch float64) {
	dx := target.X - self.X
	dy := target.Y - self.Y
	dz := target.Z - self.Z

	horizontal := math.Hypot(dx, dz)
	if horizontal == 0 && dy == 0 {
		return 0, 0
	}

	yaw = math.Atan2(dx, dz) * 180 / math.Pi
	pitch = -math.Atan2(dy, horizontal) * 180 / math.Pi
	return yaw, pitch
}
