package world

import (
	"context"
	"testing"
	"time"

	"github.com/swarmwarden/swarmwarden/internal/driver"
	"github.com/swarmwarden/swarmwarden/internal/model"
)

func newTestObserver(t *testing.T, interval time.Duration) (*Observer, *driver.Mock) {
	t.Helper()
	m := driver.NewMock(16)
	ctx := context.Background()
	if err := m.Connect(ctx, "agent-1", nil); err != nil {
		t.Fatalf("Connect() error: %v", err)
	}
	<-m.Events()

	obs := New(m, Config{UpdateInterval: interval}, nil)
	return obs, m
}

func TestObserver_StartObservingPerformsInitialScan(t *testing.T) {
	obs, m := newTestObserver(t, time.Hour)
	defer obs.StopObserving("agent-1")

	m.SeedEntities("agent-1", []model.Entity{
		{ID: "e1", Kind: model.EntityHostile, Distance: 3},
	})
	m.SeedBlocks("agent-1", map[model.Position]model.Block{
		{X: 1, Y: 1, Z: 1}: {Name: "coal_ore", Pos: model.Position{X: 1, Y: 1, Z: 1}, Distance: 2},
	})

	if err := obs.StartObserving(context.Background(), "agent-1"); err != nil {
		t.Fatalf("StartObserving() error: %v", err)
	}

	snap := obs.Snapshot("agent-1")
	if snap == nil {
		t.Fatal("expected a snapshot after StartObserving")
	}
	if snap.Counters.NearbyHostiles != 1 {
		t.Errorf("NearbyHostiles = %d, want 1", snap.Counters.NearbyHostiles)
	}
	if snap.Counters.ResourceBlocks != 1 {
		t.Errorf("ResourceBlocks = %d, want 1", snap.Counters.ResourceBlocks)
	}
}

func TestObserver_StartObservingRejectsDuplicate(t *testing.T) {
	obs, _ := newTestObserver(t, time.Hour)
	defer obs.StopObserving("agent-1")

	if err := obs.StartObserving(context.Background(), "agent-1"); err != nil {
		t.Fatalf("first StartObserving() error: %v", err)
	}
	if err := obs.StartObserving(context.Background(), "agent-1"); err == nil {
		t.Error("expected error starting observation twice for the same agent")
	}
}

func TestObserver_PeriodicScanUpdatesSnapshot(t *testing.T) {
	obs, m := newTestObserver(t, 10*time.Millisecond)
	defer obs.StopObserving("agent-1")

	if err := obs.StartObserving(context.Background(), "agent-1"); err != nil {
		t.Fatalf("StartObserving() error: %v", err)
	}
	first := obs.Snapshot("agent-1")

	m.SeedEntities("agent-1", []model.Entity{{ID: "e2", Kind: model.EntityPassive, Distance: 1}})

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		snap := obs.Snapshot("agent-1")
		if snap != nil && snap.Timestamp.After(first.Timestamp) && snap.Counters.NearbyPassives == 1 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("snapshot was not refreshed by the periodic scan loop")
}

func TestObserver_StopObservingHaltsLoop(t *testing.T) {
	obs, _ := newTestObserver(t, 10*time.Millisecond)
	if err := obs.StartObserving(context.Background(), "agent-1"); err != nil {
		t.Fatalf("StartObserving() error: %v", err)
	}
	obs.StopObserving("agent-1")

	if obs.Snapshot("agent-1") != nil {
		t.Error("expected no snapshot accessible after StopObserving removed the agent")
	}

	// Idempotent: stopping again must not panic or block.
	obs.StopObserving("agent-1")
}

func TestObserver_GetNearestEntityAndBlockUseLastSnapshot(t *testing.T) {
	obs, m := newTestObserver(t, time.Hour)
	defer obs.StopObserving("agent-1")

	m.SeedEntities("agent-1", []model.Entity{
		{ID: "e1", Kind: model.EntityHostile, Distance: 8},
		{ID: "e2", Kind: model.EntityHostile, Distance: 2},
	})
	m.SeedBlocks("agent-1", map[model.Position]model.Block{
		{X: 0, Y: 0, Z: 0}: {Name: "iron_ore", Pos: model.Position{X: 0, Y: 0, Z: 0}, Distance: 6},
		{X: 1, Y: 0, Z: 0}: {Name: "iron_ore", Pos: model.Position{X: 1, Y: 0, Z: 0}, Distance: 1},
	})
	if err := obs.StartObserving(context.Background(), "agent-1"); err != nil {
		t.Fatalf("StartObserving() error: %v", err)
	}

	nearest := obs.GetNearestEntity("agent-1", model.EntityHostile)
	if nearest == nil || nearest.ID != "e2" {
		t.Fatalf("GetNearestEntity = %+v, want e2", nearest)
	}

	block := obs.GetNearestBlock("agent-1", "iron_ore")
	if block == nil || block.Distance != 1 {
		t.Fatalf("GetNearestBlock = %+v, want the distance-1 block", block)
	}
}

func TestObserver_IsSafePositionFlagsHazards(t *testing.T) {
	obs, m := newTestObserver(t, time.Hour)
	defer obs.StopObserving("agent-1")

	lavaPos := model.Position{X: 3, Y: 5, Z: 3}
	m.SeedBlocks("agent-1", map[model.Position]model.Block{
		lavaPos: {Name: "lava", Pos: lavaPos},
	})
	m.SeedEntities("agent-1", []model.Entity{
		{ID: "h1", Kind: model.EntityHostile, Pos: model.Position{X: 0, Y: 5, Z: 0}, Distance: 5},
	})
	if err := obs.StartObserving(context.Background(), "agent-1"); err != nil {
		t.Fatalf("StartObserving() error: %v", err)
	}

	hazards := obs.IsSafePosition("agent-1", lavaPos)
	if !hazards.Lava {
		t.Error("expected Lava hazard at the seeded lava position")
	}
	if !hazards.HostilesNearby {
		t.Error("expected HostilesNearby given the seeded hostile at distance 5 from origin")
	}
	if hazards.Safe() {
		t.Error("Safe() should be false when hazards are set")
	}
}

func TestObserver_HistoryRecordsScans(t *testing.T) {
	obs, _ := newTestObserver(t, time.Hour)
	defer obs.StopObserving("agent-1")

	if err := obs.StartObserving(context.Background(), "agent-1"); err != nil {
		t.Fatalf("StartObserving() error: %v", err)
	}

	history := obs.History("agent-1", 0)
	if len(history) == 0 {
		t.Fatal("expected at least one recorded scan event")
	}
	if history[0].Kind != "scan" {
		t.Errorf("event kind = %q, want scan", history[0].Kind)
	}
}

func TestObserver_SnapshotNilForUnobservedAgent(t *testing.T) {
	obs, _ := newTestObserver(t, time.Hour)
	if snap := obs.Snapshot("ghost"); snap != nil {
		t.Error("expected nil snapshot for an agent never observed")
	}
}
