package driver

import (
	"context"
	"testing"
	"time"

	"github.com/swarmwarden/swarmwarden/internal/model"
)

func TestMock_ConnectEmitsSpawn(t *testing.T) {
	m := NewMock(4)
	ctx := context.Background()

	if err := m.Connect(ctx, "agent-1", nil); err != nil {
		t.Fatalf("Connect() error: %v", err)
	}

	select {
	case evt := <-m.Events():
		if evt.Type != EventSpawn || evt.AgentID != "agent-1" {
			t.Errorf("event = %+v, want spawn for agent-1", evt)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for spawn event")
	}
}

func TestMock_ConnectRejectsDuplicate(t *testing.T) {
	m := NewMock(4)
	ctx := context.Background()
	m.Connect(ctx, "agent-1", nil)

	if err := m.Connect(ctx, "agent-1", nil); err == nil {
		t.Error("expected error connecting the same agent twice")
	}
}

func TestMock_MoveToUpdatesPositionAndEmits(t *testing.T) {
	m := NewMock(4)
	ctx := context.Background()
	m.Connect(ctx, "agent-1", nil)
	<-m.Events() // drain spawn

	target := model.Position{X: 5, Y: 10, Z: -2}
	if err := m.MoveTo(ctx, "agent-1", target); err != nil {
		t.Fatalf("MoveTo() error: %v", err)
	}

	pos, _, _, _, _, _, err := m.Snapshot("agent-1")
	if err != nil {
		t.Fatalf("Snapshot() error: %v", err)
	}
	if pos != target {
		t.Errorf("position = %+v, want %+v", pos, target)
	}

	select {
	case evt := <-m.Events():
		if evt.Type != EventMove {
			t.Errorf("event type = %v, want move", evt.Type)
		}
	default:
		t.Error("expected a move event")
	}
}

func TestMock_NavigateWaypointsHonorsCancellation(t *testing.T) {
	m := NewMock(32)
	ctx := context.Background()
	m.Connect(ctx, "agent-1", nil)
	<-m.Events()

	cancelCtx, cancel := context.WithCancel(ctx)
	cancel()

	waypoints := []model.Position{{X: 1}, {X: 2}, {X: 3}}
	err := m.NavigateWaypoints(cancelCtx, "agent-1", waypoints)
	if err == nil {
		t.Error("expected cancellation error from NavigateWaypoints")
	}
}

func TestMock_PlaceAndDigBlock(t *testing.T) {
	m := NewMock(4)
	ctx := context.Background()
	m.Connect(ctx, "agent-1", nil)
	<-m.Events()

	pos := model.Position{X: 1, Y: 1, Z: 1}
	if err := m.PlaceBlock(ctx, "agent-1", pos, "top"); err != nil {
		t.Fatalf("PlaceBlock() error: %v", err)
	}
	block, err := m.BlockAt(ctx, "agent-1", pos)
	if err != nil {
		t.Fatalf("BlockAt() error: %v", err)
	}
	if block.Name != "placed_block" {
		t.Errorf("block.Name = %q, want placed_block", block.Name)
	}

	if err := m.Dig(ctx, "agent-1", pos); err != nil {
		t.Fatalf("Dig() error: %v", err)
	}
	block, err = m.BlockAt(ctx, "agent-1", pos)
	if err != nil {
		t.Fatalf("BlockAt() after dig error: %v", err)
	}
	if block.Name != "air" {
		t.Errorf("block.Name after dig = %q, want air", block.Name)
	}
}

func TestMock_EquipAndDrop(t *testing.T) {
	m := NewMock(4)
	ctx := context.Background()
	m.Connect(ctx, "agent-1", nil)
	<-m.Events()

	if err := m.Equip(ctx, "agent-1", "diamond_pickaxe", 0); err != nil {
		t.Fatalf("Equip() error: %v", err)
	}
	inv, err := m.GetInventory(ctx, "agent-1")
	if err != nil {
		t.Fatalf("GetInventory() error: %v", err)
	}
	if len(inv) != 1 || inv[0].Name != "diamond_pickaxe" {
		t.Fatalf("inventory = %+v, want one diamond_pickaxe slot", inv)
	}

	if err := m.Drop(ctx, "agent-1", 0, 1); err != nil {
		t.Fatalf("Drop() error: %v", err)
	}
	inv, _ = m.GetInventory(ctx, "agent-1")
	if len(inv) != 0 {
		t.Errorf("inventory after drop = %+v, want empty", inv)
	}
}

func TestMock_NearestEntityFiltersByKind(t *testing.T) {
	m := NewMock(4)
	ctx := context.Background()
	m.Connect(ctx, "agent-1", nil)
	<-m.Events()

	m.SeedEntities("agent-1", []model.Entity{
		{ID: "e1", Kind: model.EntityHostile, Distance: 5},
		{ID: "e2", Kind: model.EntityPassive, Distance: 2},
	})

	nearest, err := m.NearestEntity(ctx, "agent-1", string(model.EntityHostile))
	if err != nil {
		t.Fatalf("NearestEntity() error: %v", err)
	}
	if nearest == nil || nearest.ID != "e1" {
		t.Fatalf("NearestEntity(hostile) = %+v, want e1", nearest)
	}
}

func TestMock_DisconnectEmitsEnd(t *testing.T) {
	m := NewMock(4)
	ctx := context.Background()
	m.Connect(ctx, "agent-1", nil)
	<-m.Events()

	if err := m.Disconnect(ctx, "agent-1", "shutdown"); err != nil {
		t.Fatalf("Disconnect() error: %v", err)
	}

	select {
	case evt := <-m.Events():
		if evt.Type != EventEnd {
			t.Errorf("event type = %v, want end", evt.Type)
		}
	default:
		t.Error("expected an end event")
	}

	if err := m.MoveTo(ctx, "agent-1", model.Position{}); err == nil {
		t.Error("expected error acting on disconnected agent")
	}
}

func TestMock_OperationsOnUnknownAgentFail(t *testing.T) {
	m := NewMock(4)
	ctx := context.Background()

	if _, err := m.GetInventory(ctx, "ghost"); err == nil {
		t.Error("expected error for unknown agent")
	}
}
