package model

import "time"

// EntityKind classifies a world entity observed in a scan.
type EntityKind string

const (
	EntityPlayer  EntityKind = "player"
	EntityHostile EntityKind = "hostile"
	EntityPassive EntityKind = "passive"
	EntityItem    EntityKind = "item"
)

// Entity is a living or item actor observed within scan radius.
type Entity struct {
	ID       string
	Name     string
	Kind     EntityKind
	Pos      Position
	Distance float64
	Health   int
	Yaw      float64
	Pitch    float64
}

// Block is a non-air block observed within block-scan radius.
type Block struct {
	Name      string
	Pos       Position
	Distance  float64
	Hardness  float64
	Material  string
	Diggable  bool
}

// BiomeInfo describes the ambient environment at the agent's position.
type BiomeInfo struct {
	Name    string
	Weather string
}

// SnapshotCounters summarizes entity/block population for quick checks.
type SnapshotCounters struct {
	NearbyPlayers   int
	NearbyHostiles  int
	NearbyPassives  int
	ResourceBlocks  int
}

// WorldSnapshot is an immutable record of one scan. A new scan produces a
// brand-new WorldSnapshot value; consumers never observe a partially
// updated snapshot — WorldObserver swaps the whole value atomically.
type WorldSnapshot struct {
	Timestamp time.Time
	AgentID   string
	Self      Agent
	Entities  []Entity
	Blocks    []Block
	Biome     BiomeInfo
	Counters  SnapshotCounters
}

// SafetyHazards is the advisory output of an isSafePosition check.
type SafetyHazards struct {
	Lava           bool
	HostilesNearby bool
	FallRisk       bool
}

// Safe reports whether no hazard is set.
func (h SafetyHazards) Safe() bool {
	return !h.Lava && !h.HostilesNearby && !h.FallRisk
}
