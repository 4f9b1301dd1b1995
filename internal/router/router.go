// Package router implements ActionRouter (spec component C8): the final
// validated-dispatch stage between a decided Action and the ClientDriver.
// It owns a fixed routing table (action type -> handler group and
// danger/location/agent flags) and a set of dispatch counters; it does
// not own policy state (that is PolicyEngine's, C2) or approval state
// (also PolicyEngine's) -- AdmissionHost (C12) composes the two.
package router

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/swarmwarden/swarmwarden/internal/driver"
	"github.com/swarmwarden/swarmwarden/internal/model"
	"github.com/swarmwarden/swarmwarden/internal/schema"
)

// DefaultTaskTimeout bounds a single dispatched action (spec.md §4.8:
// "default 30000" ms).
const DefaultTaskTimeout = 30 * time.Second

// HandlerGroup classifies an action type for routing/metrics purposes.
type HandlerGroup string

const (
	GroupMovement    HandlerGroup = "movement"
	GroupInteraction HandlerGroup = "interaction"
	GroupBasic       HandlerGroup = "basic"
	GroupInventory   HandlerGroup = "inventory"
)

// dispatchFunc invokes the one ClientDriver primitive an action type maps
// to.
type dispatchFunc func(ctx context.Context, d driver.ClientDriver, action model.Action, lookup PositionLookup) error

// PositionLookup resolves an agent's last known world position, e.g.
// from world.Observer via Orchestrator. A nil lookup, or a miss (ok
// == false), leaves position-dependent dispatch (currently only
// look_at) without a self position to compute a heading from.
type PositionLookup func(agentID string) (model.Position, bool)

type route struct {
	group            HandlerGroup
	dangerousAction  bool
	requiresLocation bool
	requiresAgent    bool
	dispatch         dispatchFunc
}

// Stats are the cumulative counters spec.md §4.8 names.
type Stats struct {
	Total           int
	Succeeded       int
	Failed          int
	Rejected        int
	DangerousLogged int
}

// Config tunes Router behavior.
type Config struct {
	RequireApprovalForDangerous bool
	MaxActivePerAgent           int // default 1, mirrors PolicyEngine's own default concurrency gate
	TaskTimeout                 time.Duration
}

func (c Config) withDefaults() Config {
	if c.MaxActivePerAgent <= 0 {
		c.MaxActivePerAgent = 1
	}
	if c.TaskTimeout <= 0 {
		c.TaskTimeout = DefaultTaskTimeout
	}
	return c
}

// Result is the outcome of routing and dispatching one Action.
type Result struct {
	Action  model.Action
	Success bool
	Error   string
	Skipped bool // true when rejected before dispatch (validation/approval/concurrency)
}

// Router is ActionRouter (C8).
type Router struct {
	mu     sync.Mutex
	active map[string]int
	stats  Stats

	cfg      Config
	driver   driver.ClientDriver
	logger   *slog.Logger
	position PositionLookup // optional; nil means look_at can't compute a real heading

	// onResult, if set, is invoked after every routeTask call (success or
	// failure) so a collaborator (e.g. ExperienceBuffer, C11) can persist
	// the outcome. Router holds no experience state of its own.
	onResult func(Result)
}

// New creates a Router dispatching through d.
func New(d driver.ClientDriver, cfg Config, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		active: make(map[string]int),
		cfg:    cfg.withDefaults(),
		driver: d,
		logger: logger.With("component", "router.Router"),
	}
}

// OnResult registers a callback invoked after every RouteTask call.
func (r *Router) OnResult(fn func(Result)) {
	r.mu.Lock()
	r.onResult = fn
	r.mu.Unlock()
}

// SetPositionLookup wires the agent self-position resolver used to
// compute a real heading for look_at. Separate from New for the same
// reason admission.Host's SetTracer/SetMessageGuard are: most unit
// tests don't need it wired. A Router with no lookup set computes the
// look_at heading as if the agent stood at the origin (0,0,0).
func (r *Router) SetPositionLookup(lookup PositionLookup) {
	r.mu.Lock()
	r.position = lookup
	r.mu.Unlock()
}

// RouteTask runs the full pipeline: schema validate, route lookup,
// approval gate, per-agent active-count check, dispatch, result
// persistence. It never panics for a rejection -- rejection is reported
// as Result{Skipped: true}.
func (r *Router) RouteTask(ctx context.Context, action model.Action) Result {
	r.bumpTotal()

	if result := schema.Validate(action); !result.Valid {
		return r.reject(action, fmt.Sprintf("schema validation failed: %v", result.Errors))
	}

	rt, ok := routeTable[action.Type]
	if !ok {
		return r.reject(action, fmt.Sprintf("no route for action type %q", action.Type))
	}

	if rt.dangerousAction {
		r.mu.Lock()
		r.stats.DangerousLogged++
		r.mu.Unlock()
		if r.cfg.RequireApprovalForDangerous && !action.Approved {
			return r.reject(action, "dangerous action requires prior approval")
		}
	}

	if rt.requiresAgent && action.AgentID == "" {
		return r.reject(action, "action requires an agentId")
	}

	if !r.beginActive(action.AgentID) {
		return r.reject(action, fmt.Sprintf("agent %q already at max active actions (%d)", action.AgentID, r.cfg.MaxActivePerAgent))
	}
	defer r.endActive(action.AgentID)

	dispatchCtx, cancel := context.WithTimeout(ctx, r.cfg.TaskTimeout)
	defer cancel()

	r.mu.Lock()
	lookup := r.position
	r.mu.Unlock()

	err := rt.dispatch(dispatchCtx, r.driver, action, lookup)
	result := Result{Action: action, Success: err == nil}
	if err != nil {
		result.Error = err.Error()
		r.mu.Lock()
		r.stats.Failed++
		r.mu.Unlock()
		r.logger.Warn("action dispatch failed", "agent_id", action.AgentID, "type", action.Type, "error", err)
	} else {
		r.mu.Lock()
		r.stats.Succeeded++
		r.mu.Unlock()
	}
	r.persist(result)
	return result
}

func (r *Router) bumpTotal() {
	r.mu.Lock()
	r.stats.Total++
	r.mu.Unlock()
}

func (r *Router) reject(action model.Action, reason string) Result {
	r.mu.Lock()
	r.stats.Rejected++
	r.mu.Unlock()
	r.logger.Info("action rejected", "agent_id", action.AgentID, "type", action.Type, "reason", reason)
	result := Result{Action: action, Success: false, Error: reason, Skipped: true}
	r.persist(result)
	return result
}

func (r *Router) persist(result Result) {
	r.mu.Lock()
	fn := r.onResult
	r.mu.Unlock()
	if fn != nil {
		fn(result)
	}
}

func (r *Router) beginActive(agentID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.active[agentID] >= r.cfg.MaxActivePerAgent {
		return false
	}
	r.active[agentID]++
	return true
}

func (r *Router) endActive(agentID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.active[agentID] > 0 {
		r.active[agentID]--
	}
}

// ActiveCount returns the number of in-flight dispatches for agentID.
func (r *Router) ActiveCount(agentID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active[agentID]
}

// Stats returns a copy of the cumulative counters.
func (r *Router) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stats
}
