// Package schema implements the declarative ActionSchema validator (spec
// component C1). It is pure and stateless: given an Action, it walks a
// fixed table of per-type field rules and returns valid/errors. Nothing
// here touches the network, a clock, or any other component's state.
package schema

import (
	"fmt"

	"github.com/swarmwarden/swarmwarden/internal/model"
)

// World bounds for coordinate validation.
const (
	MinX = -30_000_000.0
	MaxX = 30_000_000.0
	MinZ = -30_000_000.0
	MaxZ = 30_000_000.0
	MinY = -64.0
	MaxY = 319.0
)

// DangerousBlocks is the default blacklist of block types that require
// approval before being placed or mined. Callers pass their own set via
// policy.Config.DangerousBlocks, but this default set is always the starting point.
var DangerousBlocks = map[string]struct{}{
	"tnt":                        {},
	"command_block":              {},
	"repeating_command_block":    {},
	"chain_command_block":        {},
	"structure_block":            {},
	"jigsaw":                     {},
	"bedrock":                    {},
	"void_air":                   {},
	"end_portal_frame":           {},
	"end_portal":                 {},
	"spawner":                    {},
	"end_gateway":                {},
}

// Result is the outcome of validating one Action.
type Result struct {
	Valid  bool
	Errors []string
}

func fail(format string, args ...interface{}) Result {
	return Result{Valid: false, Errors: []string{fmt.Sprintf(format, args...)}}
}

func merge(results ...Result) Result {
	out := Result{Valid: true}
	for _, r := range results {
		if !r.Valid {
			out.Valid = false
		}
		out.Errors = append(out.Errors, r.Errors...)
	}
	return out
}

// fieldSpec describes the shape of one required or optional parameter.
type fieldSpec struct {
	name     string
	required bool
	kind     fieldKind
	minLen   int
	maxLen   int
	min, max float64
	enum     []string
	elemKind fieldKind // for arrays
	minItems int
	maxItems int
}

type fieldKind int

const (
	kindString fieldKind = iota
	kindNumber
	kindBool
	kindCoord
	kindArrayCoord
	kindEnum
	kindFollowTarget
)

// Validate walks the declarative schema table for a.Type and returns the
// recursive validation result. Unknown types are rejected outright.
func Validate(a model.Action) Result {
	specs, ok := paramSpecs[a.Type]
	if !ok {
		return fail("unknown action type %q", a.Type)
	}

	results := []Result{validateTopLevel(a)}
	for _, spec := range specs {
		results = append(results, validateField(spec, a.Parameters))
	}
	return merge(results...)
}

// validateTopLevel checks the fields every Action carries regardless of type.
func validateTopLevel(a model.Action) Result {
	if a.AgentID == "" {
		return fail("agentId is required")
	}
	switch a.Role {
	case model.RoleAdmin, model.RoleAutopilot, model.RoleViewer, "":
	default:
		return fail("unknown role %q", a.Role)
	}
	return Result{Valid: true}
}

func validateField(spec fieldSpec, params map[string]interface{}) Result {
	raw, present := params[spec.name]
	if !present {
		if spec.required {
			return fail("missing required field %q", spec.name)
		}
		return Result{Valid: true}
	}

	switch spec.kind {
	case kindString:
		s, ok := raw.(string)
		if !ok {
			return fail("field %q must be a string", spec.name)
		}
		if len(s) < spec.minLen || (spec.maxLen > 0 && len(s) > spec.maxLen) {
			return fail("field %q length %d out of range [%d,%d]", spec.name, len(s), spec.minLen, spec.maxLen)
		}
		return Result{Valid: true}

	case kindEnum:
		s, ok := raw.(string)
		if !ok {
			return fail("field %q must be a string", spec.name)
		}
		for _, e := range spec.enum {
			if s == e {
				return Result{Valid: true}
			}
		}
		return fail("field %q value %q not in enum %v", spec.name, s, spec.enum)

	case kindNumber:
		n, ok := toFloat(raw)
		if !ok {
			return fail("field %q must be a number", spec.name)
		}
		if spec.min != 0 || spec.max != 0 {
			if n < spec.min || n > spec.max {
				return fail("field %q value %v out of range [%v,%v]", spec.name, n, spec.min, spec.max)
			}
		}
		return Result{Valid: true}

	case kindCoord:
		return validateCoordField(spec.name, raw)

	case kindFollowTarget:
		m, ok := raw.(map[string]interface{})
		if !ok {
			return fail("field %q must be a {entity} object", spec.name)
		}
		entity, ok := m["entity"].(string)
		if !ok {
			return fail("field %q.entity must be a string", spec.name)
		}
		if len(entity) < 1 || len(entity) > 32 {
			return fail("field %q.entity length %d out of range [1,32]", spec.name, len(entity))
		}
		return Result{Valid: true}

	case kindArrayCoord:
		arr, ok := raw.([]interface{})
		if !ok {
			return fail("field %q must be an array", spec.name)
		}
		if len(arr) < spec.minItems || (spec.maxItems > 0 && len(arr) > spec.maxItems) {
			return fail("field %q length %d out of range [%d,%d]", spec.name, len(arr), spec.minItems, spec.maxItems)
		}
		var results []Result
		for i, el := range arr {
			results = append(results, validateCoordField(fmt.Sprintf("%s[%d]", spec.name, i), el))
		}
		return merge(results...)
	}

	return fail("unhandled field kind for %q", spec.name)
}

// validateCoordField checks that raw is a {x,y,z} map within world bounds.
func validateCoordField(name string, raw interface{}) Result {
	m, ok := raw.(map[string]interface{})
	if !ok {
		return fail("field %q must be an {x,y,z} object", name)
	}
	x, okx := toFloat(m["x"])
	y, oky := toFloat(m["y"])
	z, okz := toFloat(m["z"])
	if !okx || !oky || !okz {
		return fail("field %q requires numeric x, y, z", name)
	}
	return ValidateCoordinates(x, y, z, name)
}

// ValidateCoordinates is the separate coordinate-bounds helper required by
// spec.md §4.1. It can be called standalone as well as via schema.Validate.
func ValidateCoordinates(x, y, z float64, field string) Result {
	if x < MinX || x > MaxX {
		return fail("%s.x=%v out of bounds [%v,%v]", field, x, MinX, MaxX)
	}
	if z < MinZ || z > MaxZ {
		return fail("%s.z=%v out of bounds [%v,%v]", field, z, MinZ, MaxZ)
	}
	if y < MinY || y > MaxY {
		return fail("%s.y=%v out of bounds [%v,%v]", field, y, MinY, MaxY)
	}
	return Result{Valid: true}
}

// SafeBlockType reports whether blockType is NOT in the dangerous set.
// This is the `safeBlockType` predicate from spec.md §4.1; it is purely
// advisory here — the policy engine is what turns an unsafe block into a
// deny/approve decision.
func SafeBlockType(blockType string, dangerous map[string]struct{}) bool {
	if dangerous == nil {
		dangerous = DangerousBlocks
	}
	_, bad := dangerous[blockType]
	return !bad
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

// paramSpecs is the declarative table mapping action types to their
// required/optional parameters. This is the source of truth for what a
// valid Action of a given type looks like.
var paramSpecs = map[model.ActionType][]fieldSpec{
	model.ActionMoveTo: {
		{name: "target", required: true, kind: kindCoord},
	},
	model.ActionNavigate: {
		{name: "waypoints", required: true, kind: kindArrayCoord, minItems: 1, maxItems: 50},
	},
	model.ActionFollow: {
		{name: "target", required: true, kind: kindFollowTarget},
	},
	model.ActionMineBlock: {
		{name: "target", required: true, kind: kindCoord},
		{name: "blockType", required: false, kind: kindString, maxLen: 32},
	},
	model.ActionPlaceBlock: {
		{name: "target", required: true, kind: kindCoord},
		{name: "blockType", required: true, kind: kindString, maxLen: 32},
		{name: "face", required: false, kind: kindEnum, enum: []string{"top", "bottom", "north", "south", "east", "west"}},
	},
	model.ActionInteract: {
		{name: "target", required: true, kind: kindCoord},
		{name: "hand", required: false, kind: kindEnum, enum: []string{"left", "right"}},
	},
	model.ActionUseItem: {
		{name: "itemName", required: true, kind: kindString, maxLen: 32},
		{name: "target", required: false, kind: kindCoord},
	},
	model.ActionLookAt: {
		{name: "target", required: true, kind: kindCoord},
	},
	model.ActionChat: {
		{name: "message", required: true, kind: kindString, minLen: 1, maxLen: 256},
	},
	model.ActionGetInventory: {},
	model.ActionEquipItem: {
		{name: "itemName", required: true, kind: kindString, maxLen: 32},
		{name: "slot", required: false, kind: kindNumber, min: 0, max: 8},
	},
	model.ActionDropItem: {
		{name: "slot", required: true, kind: kindNumber, min: 0, max: 8},
		{name: "count", required: false, kind: kindNumber, min: 1, max: 64},
	},
}
