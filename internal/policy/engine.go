// Package policy implements the PolicyEngine (spec component C2): the
// single gate every Action passes through before it may reach a
// ClientDriver. It owns two pieces of mutable state exclusively --
// RateBuckets and ApprovalTickets (spec.md §3) -- plus a pure,
// stateless rule pipeline of five fixed gates run in order, followed by
// an optional CEL-based custom safety layer.
package policy

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/swarmwarden/swarmwarden/internal/model"
	"github.com/swarmwarden/swarmwarden/internal/schema"
)

// ConcurrencyResult reports the outcome of the per-agent in-flight check
// (spec.md §4.2 gate 5).
type ConcurrencyResult struct {
	Allowed  bool
	InFlight int
	Limit    int
}

// Report is the structured, non-throwing outcome of ValidateTaskPolicy.
// Policy never errors in the Go sense for a denied action -- denial is
// data, always returned to the caller as Valid=false plus Errors.
type Report struct {
	Valid            bool
	Errors           []string
	Warnings         []string
	RateLimit        RateLimitResult
	Concurrency      ConcurrencyResult
	RequiresApproval bool
}

// Config bundles the Engine's tunables, normally sourced from
// internal/config.
type Config struct {
	AllowList         TaskAllowList
	RequestsPerMinute int
	RoleRateOverrides map[model.Role]int
	ConcurrencyLimit  int
	DangerousBlocks   map[string]struct{}
	CustomRules       []CompiledRule
}

// Engine is the PolicyEngine. One Engine serves the whole swarm; all
// exported methods are safe for concurrent use.
type Engine struct {
	mu sync.Mutex

	allowList         TaskAllowList
	rateLimiter       *RateLimiter
	roleRateOverrides map[model.Role]int
	concurrencyLimit  int
	inFlight          map[string]int

	dangerousBlocks map[string]struct{}
	customRules     []CompiledRule
	cel             *CELEvaluator

	Approvals *ApprovalRegistry

	logger *slog.Logger
}

// NewEngine constructs an Engine. cel may be nil if no custom safety
// rules are configured.
func NewEngine(cfg Config, cel *CELEvaluator, approvals *ApprovalRegistry, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	allowList := cfg.AllowList
	if allowList == nil {
		allowList = DefaultTaskAllowList()
	}
	dangerous := cfg.DangerousBlocks
	if dangerous == nil {
		dangerous = schema.DangerousBlocks
	}
	concurrencyLimit := cfg.ConcurrencyLimit
	if concurrencyLimit <= 0 {
		concurrencyLimit = 1
	}

	return &Engine{
		allowList:         allowList,
		rateLimiter:       NewRateLimiter(cfg.RequestsPerMinute),
		roleRateOverrides: cfg.RoleRateOverrides,
		concurrencyLimit:  concurrencyLimit,
		inFlight:          make(map[string]int),
		dangerousBlocks:   dangerous,
		customRules:       cfg.CustomRules,
		cel:               cel,
		Approvals:         approvals,
		logger:            logger.With("component", "policy.Engine"),
	}
}

// ValidateTaskPolicy runs the five fixed gates in order (role, task
// allow-list, bot access, rate limit, concurrency), then the dangerous-
// block check, then any custom CEL safety rules. It returns a complete
// Report regardless of outcome and never panics for a policy reason.
func (e *Engine) ValidateTaskPolicy(action model.Action, agent *model.Agent, userID string) Report {
	role := action.Role

	// Gate 1: role hierarchy. A role outside admin/autopilot/viewer is
	// rejected here; that viewer never mutates the world is enforced by
	// the allow-list below.
	if _, known := roleCapability[role]; !known {
		return Report{Valid: false, Errors: []string{fmt.Sprintf("unknown role %q", role)}}
	}

	// Gate 2: task allow-list.
	e.mu.Lock()
	allowList := e.allowList
	e.mu.Unlock()
	if err := checkTaskAllowList(allowList, role, action.Type); err != nil {
		return Report{Valid: false, Errors: []string{err.Error()}}
	}

	// Gate 3: bot access (autopilot may only act on its own agents).
	if err := checkBotAccess(role, userID, action.AgentID); err != nil {
		return Report{Valid: false, Errors: []string{err.Error()}}
	}

	// Gate 4: rate limit.
	override := 0
	if e.roleRateOverrides != nil {
		override = e.roleRateOverrides[role]
	}
	rl := e.rateLimiter.Allow(userID, string(role), override)
	if !rl.Allowed {
		return Report{
			Valid:     false,
			Errors:    []string{fmt.Sprintf("rate limit exceeded for user %q, resets at %s", userID, rl.ResetAt)},
			RateLimit: rl,
		}
	}

	// Gate 5: per-agent concurrency.
	conc := e.checkConcurrency(action.AgentID)
	if !conc.Allowed {
		return Report{
			Valid:       false,
			Errors:      []string{fmt.Sprintf("agent %q has %d actions in flight, limit %d", action.AgentID, conc.InFlight, conc.Limit)},
			RateLimit:   rl,
			Concurrency: conc,
		}
	}

	report := Report{Valid: true, RateLimit: rl, Concurrency: conc}

	// Dangerous-block check: place_block / mine_block against an unsafe
	// block type. Admin gets a warning and proceeds; everyone else is
	// routed to approval.
	if dangerWarning, needsApproval := e.checkDanger(action); dangerWarning != "" {
		if needsApproval && role != model.RoleAdmin {
			report.RequiresApproval = true
			report.Warnings = append(report.Warnings, dangerWarning)
		} else {
			report.Warnings = append(report.Warnings, dangerWarning)
		}
	}

	// Optional custom safety layer, evaluated only once the fixed gates
	// have all passed.
	for _, rule := range e.customRules {
		matched, err := e.cel.Evaluate(rule, action, agent)
		if err != nil {
			e.logger.Warn("custom safety rule evaluation failed", "expression", rule.Expression, "err", err)
			continue
		}
		if !matched {
			continue
		}
		switch rule.Effect {
		case "deny", "terminate":
			report.Valid = false
			report.Errors = append(report.Errors, rule.Message)
		case "approve":
			report.RequiresApproval = true
			report.Warnings = append(report.Warnings, rule.Message)
		default:
			report.Warnings = append(report.Warnings, rule.Message)
		}
	}

	return report
}

// checkDanger reports a non-empty warning and needsApproval=true when the
// action targets a block in the dangerous set (spec.md §4.1/§6).
func (e *Engine) checkDanger(action model.Action) (warning string, needsApproval bool) {
	if action.Type != model.ActionPlaceBlock && action.Type != model.ActionMineBlock {
		return "", false
	}
	blockType, _ := action.Parameters["blockType"].(string)
	if blockType == "" {
		return "", false
	}
	if schema.SafeBlockType(blockType, e.dangerousBlocks) {
		return "", false
	}
	return fmt.Sprintf("action %s targets dangerous block %q", action.Type, blockType), true
}

// checkConcurrency reports whether agentID may accept one more in-flight
// action without consuming a slot -- callers must pair a true result with
// BeginTask/EndTask around the actual dispatch.
func (e *Engine) checkConcurrency(agentID string) ConcurrencyResult {
	e.mu.Lock()
	defer e.mu.Unlock()
	n := e.inFlight[agentID]
	return ConcurrencyResult{Allowed: n < e.concurrencyLimit, InFlight: n, Limit: e.concurrencyLimit}
}

// BeginTask increments the in-flight counter for agentID. Call this only
// after ValidateTaskPolicy reports Concurrency.Allowed, immediately before
// dispatch.
func (e *Engine) BeginTask(agentID string) {
	e.mu.Lock()
	e.inFlight[agentID]++
	e.mu.Unlock()
}

// EndTask decrements the in-flight counter for agentID. Callers must call
// this exactly once per BeginTask, including on the error and panic-
// recovery paths -- AdmissionHost is responsible for the defer.
func (e *Engine) EndTask(agentID string) {
	e.mu.Lock()
	if e.inFlight[agentID] > 0 {
		e.inFlight[agentID]--
	}
	e.mu.Unlock()
}

// InFlight returns the current in-flight count for agentID, mainly for
// diagnostics and tests.
func (e *Engine) InFlight(agentID string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.inFlight[agentID]
}

// SetAllowList replaces the task allow-list, e.g. on config hot-reload.
func (e *Engine) SetAllowList(allowList TaskAllowList) {
	e.mu.Lock()
	e.allowList = allowList
	e.mu.Unlock()
}
