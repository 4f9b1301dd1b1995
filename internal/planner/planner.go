// Package planner implements GoalPlanner (spec component C6): a closed
// registry of named goal templates, each turning a world snapshot plus
// context into a schema-validated Plan. Templates are pure functions of
// their inputs — the Planner around them owns only caching and
// validation, grounded on the teacher's template-plus-cache shape in
// policy/loader.go (a config table looked up by name, with a TTL cache
// layered on top by the caller).
package planner

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/swarmwarden/swarmwarden/internal/model"
	"github.com/swarmwarden/swarmwarden/internal/registry"
	"github.com/swarmwarden/swarmwarden/internal/schema"
)

// Defaults per spec.md §4.6.
const (
	DefaultMaxPlanLength = 20
	DefaultCacheTTL      = 30 * time.Second
)

// Request bundles everything a template needs to build a Plan. Templates
// never mutate any of these — Registry is read via its own locked
// accessors, Snapshot is an already-immutable value.
type Request struct {
	AgentID  string
	Snapshot *model.WorldSnapshot
	Registry *registry.Registry
	Context  map[string]interface{}
}

// Template produces a Plan for one goal invocation. Given the same
// Request fields, a template must return the same Plan (spec.md §4.6:
// "deterministic given the same snapshot + context").
type Template func(req Request) (model.Plan, error)

// Evaluation is the result of evaluatePlan: whether a plan is still
// worth pursuing given current conditions, plus advisory notes.
type Evaluation struct {
	Feasible    bool
	Warnings    []string
	Suggestions []string
}

type cacheEntry struct {
	plan      model.Plan
	createdAt time.Time
}

type cacheKey struct {
	agentID  string
	goalName string
}

// Config tunes planner behavior; zero values fall back to spec defaults.
type Config struct {
	MaxPlanLength int
	CacheTTL      time.Duration
}

func (c Config) withDefaults() Config {
	if c.MaxPlanLength <= 0 {
		c.MaxPlanLength = DefaultMaxPlanLength
	}
	if c.CacheTTL <= 0 {
		c.CacheTTL = DefaultCacheTTL
	}
	return c
}

// Planner is GoalPlanner (C6).
type Planner struct {
	mu        sync.Mutex
	templates map[string]Template
	cache     map[cacheKey]cacheEntry
	cfg       Config
	logger    *slog.Logger
}

// New creates a Planner pre-loaded with the closed set of required
// templates (RegisterTemplate may be used by tests to add stand-ins).
func New(cfg Config, logger *slog.Logger) *Planner {
	if logger == nil {
		logger = slog.Default()
	}
	p := &Planner{
		templates: make(map[string]Template),
		cache:     make(map[cacheKey]cacheEntry),
		cfg:       cfg.withDefaults(),
		logger:    logger.With("component", "planner.Planner"),
	}
	for name, tmpl := range defaultTemplates() {
		p.templates[name] = tmpl
	}
	return p
}

// RegisterTemplate adds or replaces a named template. Used by tests and
// by operators extending the closed set via configuration.
func (p *Planner) RegisterTemplate(name string, tmpl Template) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.templates[name] = tmpl
}

// TemplateNames returns the sorted set of registered goal names.
func (p *Planner) TemplateNames() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	names := make([]string, 0, len(p.templates))
	for name := range p.templates {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Generate resolves goalName to a validated, length-capped Plan for
// req.AgentID, serving from cache when a fresh entry exists.
func (p *Planner) Generate(goalName string, req Request) (model.Plan, error) {
	key := cacheKey{agentID: req.AgentID, goalName: goalName}

	p.mu.Lock()
	if entry, ok := p.cache[key]; ok && time.Since(entry.createdAt) < p.cfg.CacheTTL {
		p.mu.Unlock()
		return entry.plan, nil
	}
	tmpl, ok := p.templates[goalName]
	p.mu.Unlock()

	if !ok {
		return model.Plan{}, fmt.Errorf("unknown goal template %q", goalName)
	}

	plan, err := tmpl(req)
	if err != nil {
		return model.Plan{}, fmt.Errorf("template %q failed: %w", goalName, err)
	}
	plan.GoalName = goalName
	plan.AgentID = req.AgentID

	plan = p.validateActions(plan)
	plan = p.truncate(plan)

	p.mu.Lock()
	p.cache[key] = cacheEntry{plan: plan, createdAt: time.Now()}
	p.mu.Unlock()

	return plan, nil
}

// validateActions runs every action through ActionSchema, dropping any
// that fail validation and recording a warning rather than failing the
// whole plan — templates are internal and should never emit an invalid
// action, but this is the safety net spec.md §4.6 names explicitly.
func (p *Planner) validateActions(plan model.Plan) model.Plan {
	kept := plan.Actions[:0:0]
	for _, action := range plan.Actions {
		result := schema.Validate(action)
		if !result.Valid {
			plan.Warnings = append(plan.Warnings, fmt.Sprintf("dropped invalid %s action: %v", action.Type, result.Errors))
			p.logger.Warn("planner dropped invalid action", "agent_id", plan.AgentID, "type", action.Type, "errors", result.Errors)
			continue
		}
		kept = append(kept, action)
	}
	plan.Actions = kept
	return plan
}

// truncate caps the plan at cfg.MaxPlanLength, discarding the tail and
// appending a warning. It never splits a plan across calls.
func (p *Planner) truncate(plan model.Plan) model.Plan {
	if len(plan.Actions) <= p.cfg.MaxPlanLength {
		return plan
	}
	dropped := len(plan.Actions) - p.cfg.MaxPlanLength
	plan.Actions = plan.Actions[:p.cfg.MaxPlanLength]
	plan.Warnings = append(plan.Warnings, fmt.Sprintf("plan truncated: dropped %d trailing action(s) past maxPlanLength=%d", dropped, p.cfg.MaxPlanLength))
	return plan
}

// InvalidateCache clears every cached plan, e.g. on config hot-reload.
func (p *Planner) InvalidateCache() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cache = make(map[cacheKey]cacheEntry)
}

// EvaluatePlan checks a previously generated plan against current
// conditions: agent health, inventory pressure, and nearby hostiles.
func (p *Planner) EvaluatePlan(agent *model.Agent, snapshot *model.WorldSnapshot, plan model.Plan) Evaluation {
	eval := Evaluation{Feasible: true}

	if agent != nil {
		lowHealth := agent.MaxHealth > 0 && agent.Health*2 < agent.MaxHealth
		if lowHealth {
			eval.Warnings = append(eval.Warnings, "agent health below 50%")
			eval.Suggestions = append(eval.Suggestions, "prefer find_shelter over the current plan")
		}
		if len(agent.Inventory) >= 36 {
			eval.Warnings = append(eval.Warnings, "inventory near capacity")
			eval.Suggestions = append(eval.Suggestions, "deposit or drop items before continuing")
		}
	}

	if snapshot != nil && snapshot.Counters.NearbyHostiles > 0 {
		eval.Warnings = append(eval.Warnings, fmt.Sprintf("%d hostile(s) nearby", snapshot.Counters.NearbyHostiles))
		if snapshot.Counters.NearbyHostiles >= 3 {
			eval.Feasible = false
			eval.Suggestions = append(eval.Suggestions, "abort plan and retreat; hostile count exceeds safe threshold")
		}
	}

	if len(plan.Actions) == 0 {
		eval.Warnings = append(eval.Warnings, "plan has no actions")
	}

	return eval
}

func newActionID() string {
	return uuid.NewString()
}
