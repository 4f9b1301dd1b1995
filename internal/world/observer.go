// Package world implements WorldObserver (spec component C5): periodic
// per-agent world scans producing immutable snapshots, plus a bounded
// event history. Its per-agent goroutine/done-channel Start/Stop shape is
// grounded on the teacher's internal/mdloader.Watcher.Start/Stop, which
// runs a background loop until its done channel is closed.
package world

import (
	"context"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/swarmwarden/swarmwarden/internal/model"
)

// Defaults per spec.md §4.5.
const (
	DefaultScanRadius      = 32.0
	DefaultBlockScanRadius = 16.0
	DefaultUpdateInterval  = 2000 * time.Millisecond
	DefaultEventRingSize   = 100

	// maxBlockScanPositions bounds the cubic sweep's cost. A radius of 16
	// implies up to (2*16+1)^3 ≈ 35,937 candidate positions; ScanSource
	// implementations are expected to return only non-air blocks already,
	// so this cap only bites if an implementation returns an unfiltered
	// sweep. When the cap truncates, Scan logs a warning rather than
	// silently dropping data.
	maxBlockScanPositions = 4096
)

// ScanSource is the data-gathering contract a ClientDriver implementation
// offers WorldObserver. It is deliberately separate from driver.ClientDriver
// (which mirrors spec.md §4.4's action primitives one-for-one): bulk scan
// queries are not part of that inbound contract, so they live here instead
// of bloating it.
type ScanSource interface {
	SelfState(ctx context.Context, agentID string) (pos model.Position, yaw, pitch float64, health int, err error)
	EntitiesWithin(ctx context.Context, agentID string, radius float64) ([]model.Entity, error)
	BlocksWithin(ctx context.Context, agentID string, radius float64) ([]model.Block, error)
	Biome(ctx context.Context, agentID string) (model.BiomeInfo, error)
}

// ScanEvent is one entry in an agent's bounded event history.
type ScanEvent struct {
	Timestamp time.Time
	AgentID   string
	Kind      string // "scan", "stopped", "error"
	Detail    string
}

type observedAgent struct {
	cancel   context.CancelFunc
	done     chan struct{}
	snapshot *model.WorldSnapshot
}

// Config tunes scan behavior; zero values are replaced by defaults.
type Config struct {
	ScanRadius      float64
	BlockScanRadius float64
	UpdateInterval  time.Duration
	EventRingSize   int
}

func (c Config) withDefaults() Config {
	if c.ScanRadius <= 0 {
		c.ScanRadius = DefaultScanRadius
	}
	if c.BlockScanRadius <= 0 {
		c.BlockScanRadius = DefaultBlockScanRadius
	}
	if c.UpdateInterval <= 0 {
		c.UpdateInterval = DefaultUpdateInterval
	}
	if c.EventRingSize <= 0 {
		c.EventRingSize = DefaultEventRingSize
	}
	return c
}

// Observer is WorldObserver (C5). It owns Snapshots and event histories
// exclusively (spec.md §3) — no other component ever mutates them.
type Observer struct {
	mu        sync.RWMutex
	source    ScanSource
	cfg       Config
	agents    map[string]*observedAgent
	events    map[string][]ScanEvent
	logger    *slog.Logger
}

// New creates an Observer backed by the given ScanSource.
func New(source ScanSource, cfg Config, logger *slog.Logger) *Observer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Observer{
		source: source,
		cfg:    cfg.withDefaults(),
		agents: make(map[string]*observedAgent),
		events: make(map[string][]ScanEvent),
		logger: logger.With("component", "world.Observer"),
	}
}

// StartObserving performs an initial scan and then launches the periodic
// scan goroutine for agentID. Calling it twice for the same agent is an
// error; call StopObserving first.
func (o *Observer) StartObserving(ctx context.Context, agentID string) error {
	o.mu.Lock()
	if _, exists := o.agents[agentID]; exists {
		o.mu.Unlock()
		return errAlreadyObserving(agentID)
	}
	loopCtx, cancel := context.WithCancel(ctx)
	rec := &observedAgent{cancel: cancel, done: make(chan struct{})}
	o.agents[agentID] = rec
	o.mu.Unlock()

	if err := o.scan(loopCtx, agentID); err != nil {
		o.logger.Warn("initial scan failed", "agent_id", agentID, "error", err)
		o.recordEvent(agentID, "error", err.Error())
	}

	go o.loop(loopCtx, agentID, rec)
	return nil
}

// StopObserving cancels agentID's scan loop and waits for it to exit.
func (o *Observer) StopObserving(agentID string) {
	o.mu.Lock()
	rec, exists := o.agents[agentID]
	if !exists {
		o.mu.Unlock()
		return
	}
	delete(o.agents, agentID)
	o.mu.Unlock()

	rec.cancel()
	<-rec.done
}

func (o *Observer) loop(ctx context.Context, agentID string, rec *observedAgent) {
	defer close(rec.done)
	ticker := time.NewTicker(o.cfg.UpdateInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			o.recordEvent(agentID, "stopped", "context cancelled")
			return
		case <-ticker.C:
			if err := o.scan(ctx, agentID); err != nil {
				o.logger.Warn("scan failed", "agent_id", agentID, "error", err)
				o.recordEvent(agentID, "error", err.Error())
			}
		}
	}
}

// scan performs one full scan and atomically replaces agentID's snapshot.
func (o *Observer) scan(ctx context.Context, agentID string) error {
	pos, yaw, pitch, health, err := o.source.SelfState(ctx, agentID)
	if err != nil {
		return err
	}
	entities, err := o.source.EntitiesWithin(ctx, agentID, o.cfg.ScanRadius)
	if err != nil {
		return err
	}
	blocks, err := o.source.BlocksWithin(ctx, agentID, o.cfg.BlockScanRadius)
	if err != nil {
		return err
	}
	if len(blocks) > maxBlockScanPositions {
		o.logger.Warn("block scan truncated",
			"agent_id", agentID,
			"found", len(blocks),
			"cap", maxBlockScanPositions,
		)
		blocks = blocks[:maxBlockScanPositions]
	}
	biome, err := o.source.Biome(ctx, agentID)
	if err != nil {
		return err
	}

	snapshot := &model.WorldSnapshot{
		Timestamp: time.Now(),
		AgentID:   agentID,
		Self: model.Agent{
			ID:       agentID,
			Position: pos,
			Health:   health,
		},
		Entities: entities,
		Blocks:   blocks,
		Biome:    biome,
		Counters: summarize(entities, blocks),
	}
	_ = yaw
	_ = pitch

	o.mu.Lock()
	if rec, ok := o.agents[agentID]; ok {
		rec.snapshot = snapshot
	}
	o.mu.Unlock()

	o.recordEvent(agentID, "scan", "ok")
	return nil
}

func summarize(entities []model.Entity, blocks []model.Block) model.SnapshotCounters {
	var c model.SnapshotCounters
	for _, e := range entities {
		switch e.Kind {
		case model.EntityPlayer:
			c.NearbyPlayers++
		case model.EntityHostile:
			c.NearbyHostiles++
		case model.EntityPassive:
			c.NearbyPassives++
		}
	}
	for _, b := range blocks {
		if isResourceBlock(b.Name) {
			c.ResourceBlocks++
		}
	}
	return c
}

func isResourceBlock(name string) bool {
	switch name {
	case "coal_ore", "iron_ore", "gold_ore", "diamond_ore", "oak_log", "birch_log", "spruce_log":
		return true
	}
	return false
}

// Snapshot returns the last completed scan for agentID, or nil if the
// agent is not observed or has not completed an initial scan yet.
func (o *Observer) Snapshot(agentID string) *model.WorldSnapshot {
	o.mu.RLock()
	defer o.mu.RUnlock()
	rec, ok := o.agents[agentID]
	if !ok {
		return nil
	}
	return rec.snapshot
}

// recordEvent appends to agentID's bounded event ring, evicting the
// oldest entry first on overflow.
func (o *Observer) recordEvent(agentID, kind, detail string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	ring := o.events[agentID]
	ring = append(ring, ScanEvent{Timestamp: time.Now(), AgentID: agentID, Kind: kind, Detail: detail})
	if len(ring) > o.cfg.EventRingSize {
		ring = ring[len(ring)-o.cfg.EventRingSize:]
	}
	o.events[agentID] = ring
}

// History returns the last n recorded events for agentID (n<=0 returns
// the full bounded ring).
func (o *Observer) History(agentID string, n int) []ScanEvent {
	o.mu.RLock()
	defer o.mu.RUnlock()
	ring := o.events[agentID]
	if n <= 0 || n >= len(ring) {
		return append([]ScanEvent(nil), ring...)
	}
	return append([]ScanEvent(nil), ring[len(ring)-n:]...)
}

// findEntities filters the last snapshot's entities by kind ("" = any)
// without rescanning.
func (o *Observer) findEntities(agentID string, kind model.EntityKind) []model.Entity {
	snap := o.Snapshot(agentID)
	if snap == nil {
		return nil
	}
	if kind == "" {
		return append([]model.Entity(nil), snap.Entities...)
	}
	out := make([]model.Entity, 0, len(snap.Entities))
	for _, e := range snap.Entities {
		if e.Kind == kind {
			out = append(out, e)
		}
	}
	return out
}

// FindEntities is the exported form of findEntities.
func (o *Observer) FindEntities(agentID string, kind model.EntityKind) []model.Entity {
	return o.findEntities(agentID, kind)
}

// GetNearestEntity returns the closest entity of kind ("" = any) from the
// last snapshot without rescanning.
func (o *Observer) GetNearestEntity(agentID string, kind model.EntityKind) *model.Entity {
	entities := o.findEntities(agentID, kind)
	var best *model.Entity
	bestDist := math.Inf(1)
	for i := range entities {
		if entities[i].Distance < bestDist {
			bestDist = entities[i].Distance
			e := entities[i]
			best = &e
		}
	}
	return best
}

// GetNearestBlock returns the closest block matching name ("" = any
// non-air block) from the last snapshot without rescanning.
func (o *Observer) GetNearestBlock(agentID string, name string) *model.Block {
	snap := o.Snapshot(agentID)
	if snap == nil {
		return nil
	}
	var best *model.Block
	bestDist := math.Inf(1)
	for i := range snap.Blocks {
		b := snap.Blocks[i]
		if name != "" && b.Name != name {
			continue
		}
		if b.Distance < bestDist {
			bestDist = b.Distance
			best = &b
		}
	}
	return best
}

// IsSafePosition reports advisory hazards at pos based on the last
// snapshot: lava, hostiles within 10 blocks, and fall risk (an air
// column of 5 or more immediately below pos). It never blocks on a
// fresh scan and never returns an error — safety assessment here is
// advisory only (spec.md §4.5).
func (o *Observer) IsSafePosition(agentID string, pos model.Position) model.SafetyHazards {
	snap := o.Snapshot(agentID)
	if snap == nil {
		return model.SafetyHazards{}
	}

	var hazards model.SafetyHazards
	for _, b := range snap.Blocks {
		if b.Name == "lava" && samePosition(b.Pos, pos) {
			hazards.Lava = true
		}
	}
	for _, e := range snap.Entities {
		if e.Kind == model.EntityHostile && distance(e.Pos, pos) <= 10 {
			hazards.HostilesNearby = true
			break
		}
	}
	hazards.FallRisk = airColumnBelow(snap.Blocks, pos) >= 5
	return hazards
}

func samePosition(a, b model.Position) bool {
	return int(a.X) == int(b.X) && int(a.Y) == int(b.Y) && int(a.Z) == int(b.Z)
}

func distance(a, b model.Position) float64 {
	dx, dy, dz := a.X-b.X, a.Y-b.Y, a.Z-b.Z
	return math.Sqrt(dx*dx + dy*dy + dz*dz)
}

// airColumnBelow counts consecutive positions directly below pos that
// have no recorded block (treated as air), up to a cap of 8.
func airColumnBelow(blocks []model.Block, pos model.Position) int {
	occupied := make(map[[3]int]struct{}, len(blocks))
	for _, b := range blocks {
		occupied[[3]int{int(b.Pos.X), int(b.Pos.Y), int(b.Pos.Z)}] = struct{}{}
	}
	count := 0
	for dy := 1; dy <= 8; dy++ {
		key := [3]int{int(pos.X), int(pos.Y) - dy, int(pos.Z)}
		if _, ok := occupied[key]; ok {
			break
		}
		count++
	}
	return count
}
