package driver

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/swarmwarden/swarmwarden/internal/model"
)

// mockAgentState is the Mock driver's in-memory view of one connected
// agent. Every field is protected by Mock.mu.
type mockAgentState struct {
	pos       model.Position
	yaw       float64
	pitch     float64
	health    int
	inventory []model.InventorySlot
	blocks    map[model.Position]model.Block
	entities  []model.Entity
	biome     model.BiomeInfo
}

var _ ClientDriver = (*Mock)(nil)

// Mock is a deterministic, in-memory ClientDriver with no network
// dependency. Every unit test in this module that needs a driver uses
// Mock rather than a real bridge.
type Mock struct {
	mu      sync.Mutex
	agents  map[string]*mockAgentState
	events  chan Event
	closed  bool
	onEvent func(Event) // optional hook, mainly for test assertions
}

// NewMock creates an empty Mock driver. bufferSize sizes the event
// channel; 0 defaults to 64.
func NewMock(bufferSize int) *Mock {
	if bufferSize <= 0 {
		bufferSize = 64
	}
	return &Mock{
		agents: make(map[string]*mockAgentState),
		events: make(chan Event, bufferSize),
	}
}

func (m *Mock) emit(evt Event) {
	evt.Timestamp = time.Now()
	select {
	case m.events <- evt:
	default:
		// Drop rather than block the caller; tests that need every event
		// should size the buffer generously.
	}
}

func (m *Mock) Events() <-chan Event {
	return m.events
}

// Connect registers agentID with a default starting state and emits a
// spawn event.
func (m *Mock) Connect(ctx context.Context, agentID string, credentials []byte) error {
	m.mu.Lock()
	if _, exists := m.agents[agentID]; exists {
		m.mu.Unlock()
		return fmt.Errorf("agent %q already connected", agentID)
	}
	m.agents[agentID] = &mockAgentState{health: 20, blocks: make(map[model.Position]model.Block)}
	m.mu.Unlock()

	m.emit(Event{Type: EventSpawn, AgentID: agentID})
	return nil
}

func (m *Mock) Disconnect(ctx context.Context, agentID string, reason string) error {
	m.mu.Lock()
	if _, exists := m.agents[agentID]; !exists {
		m.mu.Unlock()
		return fmt.Errorf("agent %q not connected", agentID)
	}
	delete(m.agents, agentID)
	m.mu.Unlock()

	m.emit(Event{Type: EventEnd, AgentID: agentID, Payload: map[string]interface{}{"reason": reason}})
	return nil
}

func (m *Mock) state(agentID string) (*mockAgentState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.agents[agentID]
	if !ok {
		return nil, fmt.Errorf("agent %q not connected", agentID)
	}
	return s, nil
}

func (m *Mock) MoveTo(ctx context.Context, agentID string, target model.Position) error {
	s, err := m.state(agentID)
	if err != nil {
		return err
	}
	m.mu.Lock()
	s.pos = target
	m.mu.Unlock()
	m.emit(Event{Type: EventMove, AgentID: agentID, Payload: map[string]interface{}{"pos": target}})
	return nil
}

func (m *Mock) NavigateWaypoints(ctx context.Context, agentID string, waypoints []model.Position) error {
	for _, wp := range waypoints {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if err := m.MoveTo(ctx, agentID, wp); err != nil {
			return err
		}
	}
	return nil
}

func (m *Mock) FollowEntity(ctx context.Context, agentID string, entity string) error {
	if _, err := m.state(agentID); err != nil {
		return err
	}
	return nil
}

func (m *Mock) Dig(ctx context.Context, agentID string, block model.Position) error {
	s, err := m.state(agentID)
	if err != nil {
		return err
	}
	m.mu.Lock()
	delete(s.blocks, block)
	m.mu.Unlock()
	return nil
}

func (m *Mock) PlaceBlock(ctx context.Context, agentID string, against model.Position, face string) error {
	s, err := m.state(agentID)
	if err != nil {
		return err
	}
	m.mu.Lock()
	s.blocks[against] = model.Block{Name: "placed_block", Pos: against, Diggable: true}
	m.mu.Unlock()
	return nil
}

func (m *Mock) ActivateBlock(ctx context.Context, agentID string, target model.Position) error {
	_, err := m.state(agentID)
	return err
}

func (m *Mock) ActivateItem(ctx context.Context, agentID string, itemName string, target *model.Position) error {
	_, err := m.state(agentID)
	return err
}

func (m *Mock) Equip(ctx context.Context, agentID, itemName string, slot int) error {
	s, err := m.state(agentID)
	if err != nil {
		return err
	}
	m.mu.Lock()
	s.inventory = append(s.inventory, model.InventorySlot{Slot: slot, Name: itemName, Count: 1})
	m.mu.Unlock()
	return nil
}

func (m *Mock) Drop(ctx context.Context, agentID string, slot, count int) error {
	s, err := m.state(agentID)
	if err != nil {
		return err
	}
	m.mu.Lock()
	kept := s.inventory[:0]
	for _, item := range s.inventory {
		if item.Slot == slot {
			continue
		}
		kept = append(kept, item)
	}
	s.inventory = kept
	m.mu.Unlock()
	return nil
}

func (m *Mock) Look(ctx context.Context, agentID string, yaw, pitch float64) error {
	s, err := m.state(agentID)
	if err != nil {
		return err
	}
	m.mu.Lock()
	s.yaw, s.pitch = yaw, pitch
	m.mu.Unlock()
	return nil
}

func (m *Mock) Chat(ctx context.Context, agentID, message string) error {
	if _, err := m.state(agentID); err != nil {
		return err
	}
	m.emit(Event{Type: EventChat, AgentID: agentID, Payload: map[string]interface{}{"message": message}})
	return nil
}

func (m *Mock) GetInventory(ctx context.Context, agentID string) ([]model.InventorySlot, error) {
	s, err := m.state(agentID)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]model.InventorySlot(nil), s.inventory...), nil
}

func (m *Mock) BlockAt(ctx context.Context, agentID string, pos model.Position) (model.Block, error) {
	s, err := m.state(agentID)
	if err != nil {
		return model.Block{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := s.blocks[pos]
	if !ok {
		return model.Block{Name: "air", Pos: pos}, nil
	}
	return b, nil
}

func (m *Mock) NearestEntity(ctx context.Context, agentID string, filter string) (*model.Entity, error) {
	s, err := m.state(agentID)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	var best *model.Entity
	bestDist := math.Inf(1)
	for i := range s.entities {
		e := s.entities[i]
		if filter != "" && string(e.Kind) != filter {
			continue
		}
		if e.Distance < bestDist {
			bestDist = e.Distance
			best = &e
		}
	}
	return best, nil
}

// SeedEntities lets tests populate the entity list NearestEntity and
// scans observe, bypassing a real scan.
func (m *Mock) SeedEntities(agentID string, entities []model.Entity) error {
	s, err := m.state(agentID)
	if err != nil {
		return err
	}
	m.mu.Lock()
	s.entities = entities
	m.mu.Unlock()
	return nil
}

// SeedBlocks lets tests populate blocks visible to BlockAt and scans.
func (m *Mock) SeedBlocks(agentID string, blocks map[model.Position]model.Block) error {
	s, err := m.state(agentID)
	if err != nil {
		return err
	}
	m.mu.Lock()
	s.blocks = blocks
	m.mu.Unlock()
	return nil
}

// SetHealth lets tests drive the health observed in subsequent scans.
func (m *Mock) SetHealth(agentID string, health int) error {
	s, err := m.state(agentID)
	if err != nil {
		return err
	}
	m.mu.Lock()
	s.health = health
	m.mu.Unlock()
	m.emit(Event{Type: EventHealth, AgentID: agentID, Payload: map[string]interface{}{"health": health}})
	return nil
}

// Snapshot returns a read-only copy of agentID's simulated self-state,
// for tests; WorldObserver's scans go through SelfState, EntitiesWithin,
// BlocksWithin and Biome instead.
func (m *Mock) Snapshot(agentID string) (pos model.Position, yaw, pitch float64, health int, entities []model.Entity, blocks []model.Block, err error) {
	s, err := m.state(agentID)
	if err != nil {
		return model.Position{}, 0, 0, 0, nil, nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	blockList := make([]model.Block, 0, len(s.blocks))
	for _, b := range s.blocks {
		blockList = append(blockList, b)
	}
	return s.pos, s.yaw, s.pitch, s.health, append([]model.Entity(nil), s.entities...), blockList, nil
}

// SetBiome lets tests drive the biome/weather observed in scans.
func (m *Mock) SetBiome(agentID string, biome model.BiomeInfo) error {
	s, err := m.state(agentID)
	if err != nil {
		return err
	}
	m.mu.Lock()
	s.biome = biome
	m.mu.Unlock()
	return nil
}

// SelfState implements world.ScanSource.
func (m *Mock) SelfState(ctx context.Context, agentID string) (model.Position, float64, float64, int, error) {
	s, err := m.state(agentID)
	if err != nil {
		return model.Position{}, 0, 0, 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return s.pos, s.yaw, s.pitch, s.health, nil
}

// EntitiesWithin implements world.ScanSource. The Mock driver's entity
// list is seeded directly via SeedEntities rather than computed from
// radius, since it has no real world to sweep.
func (m *Mock) EntitiesWithin(ctx context.Context, agentID string, radius float64) ([]model.Entity, error) {
	s, err := m.state(agentID)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.Entity, 0, len(s.entities))
	for _, e := range s.entities {
		if e.Distance <= radius {
			out = append(out, e)
		}
	}
	return out, nil
}

// BlocksWithin implements world.ScanSource, returning the seeded block
// set unfiltered by radius (the Mock driver has no coordinate space to
// sweep; SeedBlocks controls exactly what is "visible").
func (m *Mock) BlocksWithin(ctx context.Context, agentID string, radius float64) ([]model.Block, error) {
	s, err := m.state(agentID)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.Block, 0, len(s.blocks))
	for _, b := range s.blocks {
		out = append(out, b)
	}
	return out, nil
}

// Biome implements world.ScanSource.
func (m *Mock) Biome(ctx context.Context, agentID string) (model.BiomeInfo, error) {
	s, err := m.state(agentID)
	if err != nil {
		return model.BiomeInfo{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return s.biome, nil
}

// Close shuts down the event channel. Safe to call once.
func (m *Mock) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	m.closed = true
	close(m.events)
}
