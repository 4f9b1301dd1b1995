package policy

import (
	"fmt"
	"log/slog"

	"github.com/google/cel-go/cel"

	"github.com/swarmwarden/swarmwarden/internal/model"
)

// CompiledRule wraps a pre-compiled CEL AST for repeated evaluation. These
// back the optional, operator-authored safety invariants layered on top of
// the five fixed policy gates (role, allow-list, bot access, rate limit,
// concurrency) -- e.g. "action.type == 'mine_block' && action.params.blockType
// == 'obsidian' && agent.role != 'miner'".
type CompiledRule struct {
	Expression string
	Effect     string // deny, terminate, approve -- never allow
	Message    string
	program    cel.Program
}

// CELEvaluator compiles and evaluates CEL expressions against an Action +
// Agent pair. Expressions are compiled once at load time; evaluation is
// lock-free and safe for concurrent use.
type CELEvaluator struct {
	env    *cel.Env
	logger *slog.Logger
}

// NewCELEvaluator creates a CELEvaluator with the variable declarations
// available to custom safety rules.
func NewCELEvaluator(logger *slog.Logger) (*CELEvaluator, error) {
	if logger == nil {
		logger = slog.Default()
	}

	env, err := cel.NewEnv(
		cel.Variable("action.type", cel.StringType),
		cel.Variable("action.params", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("action.agent_id", cel.StringType),

		cel.Variable("agent.id", cel.StringType),
		cel.Variable("agent.role", cel.StringType),
		cel.Variable("agent.capabilities", cel.ListType(cel.StringType)),
		cel.Variable("agent.health", cel.IntType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	return &CELEvaluator{
		env:    env,
		logger: logger.With("component", "policy.CELEvaluator"),
	}, nil
}

// CompileExpression parses and type-checks a CEL expression, returning a
// CompiledRule ready for evaluation. Call this at load time, not in the
// hot path.
func (c *CELEvaluator) CompileExpression(expr, effect, message string) (CompiledRule, error) {
	ast, issues := c.env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return CompiledRule{}, fmt.Errorf("CEL compile error in %q: %w", expr, issues.Err())
	}
	if ast.OutputType() != cel.BoolType {
		return CompiledRule{}, fmt.Errorf("CEL expression %q must evaluate to bool, got %s", expr, ast.OutputType())
	}

	prg, err := c.env.Program(ast)
	if err != nil {
		return CompiledRule{}, fmt.Errorf("CEL program creation failed for %q: %w", expr, err)
	}

	return CompiledRule{Expression: expr, Effect: effect, Message: message, program: prg}, nil
}

// Evaluate runs a pre-compiled CEL rule against the given action/agent.
// Returns true if the condition matched (i.e. the rule should fire).
func (c *CELEvaluator) Evaluate(rule CompiledRule, action model.Action, agent *model.Agent) (bool, error) {
	params := action.Parameters
	if params == nil {
		params = map[string]interface{}{}
	}

	caps := make([]interface{}, 0)
	role := ""
	health := int64(0)
	agentID := ""
	if agent != nil {
		agentID = agent.ID
		role = string(agent.Role)
		health = int64(agent.Health)
		for capName := range agent.Capabilities {
			caps = append(caps, capName)
		}
	}

	vars := map[string]interface{}{
		"action.type":     string(action.Type),
		"action.params":   params,
		"action.agent_id": action.AgentID,

		"agent.id":           agentID,
		"agent.role":         role,
		"agent.capabilities": caps,
		"agent.health":       health,
	}

	out, _, err := rule.program.Eval(vars)
	if err != nil {
		return false, fmt.Errorf("CEL evaluation error for %q: %w", rule.Expression, err)
	}

	result, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("CEL expression %q returned non-bool: %T", rule.Expression, out.Value())
	}
	return result, nil
}
