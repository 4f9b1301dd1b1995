// Package driver defines ClientDriver (spec component C4, external): the
// boundary between the control plane and whatever actually speaks to a
// game client process. The interface is the inbound contract spec.md
// §4.4 names primitive-for-primitive; internal/adapter.Adapter in the
// teacher repo plays the same "pluggable external integration" role for
// LLM agent frameworks, generalized here to a game-world driver.
package driver

import (
	"context"
	"time"

	"github.com/swarmwarden/swarmwarden/internal/model"
)

// DefaultCallTimeout bounds any driver primitive call that does not
// already carry a deadline (spec.md §4.4: "default 30s").
const DefaultCallTimeout = 30 * time.Second

// EventType is the closed enum of the driver's outbound event stream.
type EventType string

const (
	EventSpawn  EventType = "spawn"
	EventMove   EventType = "move"
	EventHealth EventType = "health"
	EventChat   EventType = "chat"
	EventError  EventType = "error"
	EventEnd    EventType = "end"
)

// Event is one entry in a ClientDriver's event stream.
type Event struct {
	Type      EventType
	AgentID   string
	Payload   map[string]interface{}
	Timestamp time.Time
}

// ClientDriver is the inbound contract the core consumes, matching
// spec.md §4.4 primitive-for-primitive. Every primitive must honor
// context cancellation; implementations may additionally time out
// internally after DefaultCallTimeout.
type ClientDriver interface {
	Connect(ctx context.Context, agentID string, credentials []byte) error
	Disconnect(ctx context.Context, agentID string, reason string) error

	MoveTo(ctx context.Context, agentID string, target model.Position) error
	NavigateWaypoints(ctx context.Context, agentID string, waypoints []model.Position) error
	FollowEntity(ctx context.Context, agentID string, entity string) error
	Dig(ctx context.Context, agentID string, block model.Position) error
	PlaceBlock(ctx context.Context, agentID string, against model.Position, face string) error
	ActivateBlock(ctx context.Context, agentID string, target model.Position) error
	ActivateItem(ctx context.Context, agentID string, itemName string, target *model.Position) error
	Equip(ctx context.Context, agentID, itemName string, slot int) error
	Drop(ctx context.Context, agentID string, slot, count int) error
	Look(ctx context.Context, agentID string, yaw, pitch float64) error
	Chat(ctx context.Context, agentID, message string) error
	GetInventory(ctx context.Context, agentID string) ([]model.InventorySlot, error)
	BlockAt(ctx context.Context, agentID string, pos model.Position) (model.Block, error)
	NearestEntity(ctx context.Context, agentID string, filter string) (*model.Entity, error)

	// Events returns the driver's event stream. The channel is closed
	// when the driver shuts down.
	Events() <-chan Event
}
