package driver

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	nc "github.com/nats-io/nats.go"

	"github.com/swarmwarden/swarmwarden/internal/model"
)

var _ ClientDriver = (*NATSBridge)(nil)

// NATSBridge is a real ClientDriver wiring: outbound primitives are
// published as NATS requests to the client process, and the inbound
// event stream is a subscription on a per-deployment subject. Grounded
// on ODSapper-CLIAIMONITOR's internal/nats.Client request/subscribe
// pattern, generalized from host/agent control messages to game-client
// driver primitives.
type NATSBridge struct {
	conn         *nc.Conn
	subjectPrefix string
	timeout      time.Duration
	events       chan Event
	sub          *nc.Subscription
	logger       *slog.Logger
}

// NATSBridgeConfig configures a NATSBridge.
type NATSBridgeConfig struct {
	URL           string
	SubjectPrefix string // e.g. "swarmwarden" -> requests on "swarmwarden.cmd.<agentId>.<primitive>"
	EventSubject  string // e.g. "swarmwarden.events" -> subscribed for the inbound stream
	CallTimeout   time.Duration
}

// NewNATSBridge connects to a NATS server and subscribes to the
// configured event subject.
func NewNATSBridge(cfg NATSBridgeConfig, logger *slog.Logger) (*NATSBridge, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = DefaultCallTimeout
	}

	opts := []nc.Option{
		nc.ReconnectWait(2 * time.Second),
		nc.MaxReconnects(-1),
		nc.DisconnectErrHandler(func(_ *nc.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", "err", err)
			}
		}),
		nc.ReconnectHandler(func(c *nc.Conn) {
			logger.Info("nats reconnected", "url", c.ConnectedUrl())
		}),
	}

	conn, err := nc.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS at %s: %w", cfg.URL, err)
	}

	b := &NATSBridge{
		conn:          conn,
		subjectPrefix: cfg.SubjectPrefix,
		timeout:       cfg.CallTimeout,
		events:        make(chan Event, 256),
		logger:        logger.With("component", "driver.NATSBridge"),
	}

	sub, err := conn.Subscribe(cfg.EventSubject, b.handleEvent)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to subscribe to %s: %w", cfg.EventSubject, err)
	}
	b.sub = sub

	return b, nil
}

func (b *NATSBridge) handleEvent(msg *nc.Msg) {
	var evt Event
	if err := json.Unmarshal(msg.Data, &evt); err != nil {
		b.logger.Warn("failed to decode driver event", "err", err)
		return
	}
	select {
	case b.events <- evt:
	default:
		b.logger.Warn("event channel full, dropping event", "type", evt.Type, "agent_id", evt.AgentID)
	}
}

func (b *NATSBridge) Events() <-chan Event {
	return b.events
}

// Close unsubscribes and closes the underlying NATS connection.
func (b *NATSBridge) Close() {
	if b.sub != nil {
		b.sub.Unsubscribe()
	}
	b.conn.Close()
	close(b.events)
}

// call publishes a JSON request for agentID's primitive and waits for an
// acknowledgement, honoring ctx cancellation as well as the bridge's
// default call timeout.
func (b *NATSBridge) call(ctx context.Context, agentID, primitive string, payload interface{}) error {
	subject := fmt.Sprintf("%s.cmd.%s.%s", b.subjectPrefix, agentID, primitive)

	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal %s payload: %w", primitive, err)
	}

	timeout := b.timeout
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining < timeout {
			timeout = remaining
		}
	}

	type ack struct {
		OK    bool   `json:"ok"`
		Error string `json:"error,omitempty"`
	}

	replyCh := make(chan error, 1)
	go func() {
		msg, err := b.conn.Request(subject, data, timeout)
		if err != nil {
			replyCh <- fmt.Errorf("%s request failed: %w", primitive, err)
			return
		}
		var a ack
		if err := json.Unmarshal(msg.Data, &a); err != nil {
			replyCh <- fmt.Errorf("%s ack decode failed: %w", primitive, err)
			return
		}
		if !a.OK {
			replyCh <- fmt.Errorf("%s rejected: %s", primitive, a.Error)
			return
		}
		replyCh <- nil
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-replyCh:
		return err
	}
}

func (b *NATSBridge) Connect(ctx context.Context, agentID string, credentials []byte) error {
	return b.call(ctx, agentID, "connect", map[string]interface{}{"credentials": credentials})
}

func (b *NATSBridge) Disconnect(ctx context.Context, agentID string, reason string) error {
	return b.call(ctx, agentID, "disconnect", map[string]interface{}{"reason": reason})
}

func (b *NATSBridge) MoveTo(ctx context.Context, agentID string, target model.Position) error {
	return b.call(ctx, agentID, "move_to", target)
}

func (b *NATSBridge) NavigateWaypoints(ctx context.Context, agentID string, waypoints []model.Position) error {
	return b.call(ctx, agentID, "navigate", map[string]interface{}{"waypoints": waypoints})
}

func (b *NATSBridge) FollowEntity(ctx context.Context, agentID string, entity string) error {
	return b.call(ctx, agentID, "follow", map[string]interface{}{"entity": entity})
}

func (b *NATSBridge) Dig(ctx context.Context, agentID string, block model.Position) error {
	return b.call(ctx, agentID, "dig", block)
}

func (b *NATSBridge) PlaceBlock(ctx context.Context, agentID string, against model.Position, face string) error {
	return b.call(ctx, agentID, "place_block", map[string]interface{}{"against": against, "face": face})
}

func (b *NATSBridge) ActivateBlock(ctx context.Context, agentID string, target model.Position) error {
	return b.call(ctx, agentID, "activate_block", target)
}

func (b *NATSBridge) ActivateItem(ctx context.Context, agentID string, itemName string, target *model.Position) error {
	return b.call(ctx, agentID, "activate_item", map[string]interface{}{"itemName": itemName, "target": target})
}

func (b *NATSBridge) Equip(ctx context.Context, agentID, itemName string, slot int) error {
	return b.call(ctx, agentID, "equip", map[string]interface{}{"itemName": itemName, "slot": slot})
}

func (b *NATSBridge) Drop(ctx context.Context, agentID string, slot, count int) error {
	return b.call(ctx, agentID, "drop", map[string]interface{}{"slot": slot, "count": count})
}

func (b *NATSBridge) Look(ctx context.Context, agentID string, yaw, pitch float64) error {
	return b.call(ctx, agentID, "look", map[string]interface{}{"yaw": yaw, "pitch": pitch})
}

func (b *NATSBridge) Chat(ctx context.Context, agentID, message string) error {
	return b.call(ctx, agentID, "chat", map[string]interface{}{"message": message})
}

func (b *NATSBridge) GetInventory(ctx context.Context, agentID string) ([]model.InventorySlot, error) {
	subject := fmt.Sprintf("%s.query.%s.get_inventory", b.subjectPrefix, agentID)
	msg, err := b.conn.Request(subject, nil, b.timeout)
	if err != nil {
		return nil, fmt.Errorf("get_inventory request failed: %w", err)
	}
	var inv []model.InventorySlot
	if err := json.Unmarshal(msg.Data, &inv); err != nil {
		return nil, fmt.Errorf("get_inventory decode failed: %w", err)
	}
	return inv, nil
}

func (b *NATSBridge) BlockAt(ctx context.Context, agentID string, pos model.Position) (model.Block, error) {
	subject := fmt.Sprintf("%s.query.%s.block_at", b.subjectPrefix, agentID)
	data, err := json.Marshal(pos)
	if err != nil {
		return model.Block{}, err
	}
	msg, err := b.conn.Request(subject, data, b.timeout)
	if err != nil {
		return model.Block{}, fmt.Errorf("block_at request failed: %w", err)
	}
	var block model.Block
	if err := json.Unmarshal(msg.Data, &block); err != nil {
		return model.Block{}, fmt.Errorf("block_at decode failed: %w", err)
	}
	return block, nil
}

func (b *NATSBridge) NearestEntity(ctx context.Context, agentID string, filter string) (*model.Entity, error) {
	subject := fmt.Sprintf("%s.query.%s.nearest_entity", b.subjectPrefix, agentID)
	data, err := json.Marshal(map[string]interface{}{"filter": filter})
	if err != nil {
		return nil, err
	}
	msg, err := b.conn.Request(subject, data, b.timeout)
	if err != nil {
		return nil, fmt.Errorf("nearest_entity request failed: %w", err)
	}
	if len(msg.Data) == 0 || string(msg.Data) == "null" {
		return nil, nil
	}
	var entity model.Entity
	if err := json.Unmarshal(msg.Data, &entity); err != nil {
		return nil, fmt.Errorf("nearest_entity decode failed: %w", err)
	}
	return &entity, nil
}

// SelfState implements world.ScanSource by querying the client process
// for its current position, orientation, and health.
func (b *NATSBridge) SelfState(ctx context.Context, agentID string) (model.Position, float64, float64, int, error) {
	subject := fmt.Sprintf("%s.query.%s.self_state", b.subjectPrefix, agentID)
	msg, err := b.conn.Request(subject, nil, b.timeout)
	if err != nil {
		return model.Position{}, 0, 0, 0, fmt.Errorf("self_state request failed: %w", err)
	}
	var state struct {
		Pos    model.Position `json:"pos"`
		Yaw    float64        `json:"yaw"`
		Pitch  float64        `json:"pitch"`
		Health int            `json:"health"`
	}
	if err := json.Unmarshal(msg.Data, &state); err != nil {
		return model.Position{}, 0, 0, 0, fmt.Errorf("self_state decode failed: %w", err)
	}
	return state.Pos, state.Yaw, state.Pitch, state.Health, nil
}

// EntitiesWithin implements world.ScanSource.
func (b *NATSBridge) EntitiesWithin(ctx context.Context, agentID string, radius float64) ([]model.Entity, error) {
	subject := fmt.Sprintf("%s.query.%s.entities_within", b.subjectPrefix, agentID)
	data, err := json.Marshal(map[string]interface{}{"radius": radius})
	if err != nil {
		return nil, err
	}
	msg, err := b.conn.Request(subject, data, b.timeout)
	if err != nil {
		return nil, fmt.Errorf("entities_within request failed: %w", err)
	}
	var entities []model.Entity
	if err := json.Unmarshal(msg.Data, &entities); err != nil {
		return nil, fmt.Errorf("entities_within decode failed: %w", err)
	}
	return entities, nil
}

// BlocksWithin implements world.ScanSource.
func (b *NATSBridge) BlocksWithin(ctx context.Context, agentID string, radius float64) ([]model.Block, error) {
	subject := fmt.Sprintf("%s.query.%s.blocks_within", b.subjectPrefix, agentID)
	data, err := json.Marshal(map[string]interface{}{"radius": radius})
	if err != nil {
		return nil, err
	}
	msg, err := b.conn.Request(subject, data, b.timeout)
	if err != nil {
		return nil, fmt.Errorf("blocks_within request failed: %w", err)
	}
	var blocks []model.Block
	if err := json.Unmarshal(msg.Data, &blocks); err != nil {
		return nil, fmt.Errorf("blocks_within decode failed: %w", err)
	}
	return blocks, nil
}

// Biome implements world.ScanSource.
func (b *NATSBridge) Biome(ctx context.Context, agentID string) (model.BiomeInfo, error) {
	subject := fmt.Sprintf("%s.query.%s.biome", b.subjectPrefix, agentID)
	msg, err := b.conn.Request(subject, nil, b.timeout)
	if err != nil {
		return model.BiomeInfo{}, fmt.Errorf("biome request failed: %w", err)
	}
	var biome model.BiomeInfo
	if err := json.Unmarshal(msg.Data, &biome); err != nil {
		return model.BiomeInfo{}, fmt.Errorf("biome decode failed: %w", err)
	}
	return biome, nil
}
