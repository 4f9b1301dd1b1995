// Package admission implements AdmissionHost (spec component C12): the
// single entry point that composes PolicyEngine (C2) and ActionRouter
// (C8). Every Action the swarm executes passes through here first.
package admission

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/swarmwarden/swarmwarden/internal/alert"
	"github.com/swarmwarden/swarmwarden/internal/metrics"
	"github.com/swarmwarden/swarmwarden/internal/model"
	"github.com/swarmwarden/swarmwarden/internal/policy"
	"github.com/swarmwarden/swarmwarden/internal/router"
	"github.com/swarmwarden/swarmwarden/internal/trace"
)

// KillSwitchChecker is the minimal surface AdmissionHost needs from
// internal/killswitch. Declared here (rather than importing killswitch
// directly) so AdmissionHost can be exercised and tested without it; a
// nil checker means no kill-switch is wired.
type KillSwitchChecker interface {
	IsBlocked(agentID string) (bool, string)
}

// MessageGuard is the minimal surface AdmissionHost needs from
// internal/sanitize and internal/messaging to screen a chat action
// before dispatch. A nil guard means chat actions go straight to the
// router unscreened.
type MessageGuard interface {
	// Check returns allowed=false with a reason when a chat action's
	// message should be blocked -- either a secret/PII hit or a
	// per-agent rate cap breach.
	Check(agentID, message string) (allowed bool, reason string)
}

// AlertSender is the minimal surface AdmissionHost needs from
// internal/alert to notify on dangerous-action warnings and
// approval-required holds (spec.md §4.16). A nil sender means these
// still happen (the action is still held/warned and audit-logged) but
// nothing is pushed to Slack/webhook.
type AlertSender interface {
	Send(alert.Alert)
}

// ExecutionOutcome is what executeTask returns: either a dispatched
// router.Result, or a held ApprovalTicket when the task is dangerous and
// the caller is not admin.
type ExecutionOutcome struct {
	Report  policy.Report
	Result  router.Result
	Ticket  *model.ApprovalTicket
	Blocked bool // killswitch engaged
}

// Host is AdmissionHost (C12).
type Host struct {
	policyEngine *policy.Engine
	router       *router.Router
	killSwitch   KillSwitchChecker
	messages     MessageGuard
	tracer       trace.Store // optional; a nil tracer records nothing
	alerts       AlertSender // optional; a nil sender notifies no one
	logger       *slog.Logger
}

// New creates a Host composing engine and r. killSwitch may be nil; a
// message guard is attached afterwards with SetMessageGuard.
func New(engine *policy.Engine, r *router.Router, killSwitch KillSwitchChecker, logger *slog.Logger) *Host {
	if logger == nil {
		logger = slog.Default()
	}
	return &Host{
		policyEngine: engine,
		router:       r,
		killSwitch:   killSwitch,
		logger:       logger.With("component", "admission.Host"),
	}
}

// SetMessageGuard wires the chat-action secret/PII scan and per-agent
// rate cap. Separate from New so callers that don't need it (most unit
// tests) can keep constructing a Host with the original four args.
func (h *Host) SetMessageGuard(guard MessageGuard) {
	h.messages = guard
}

// SetTracer wires an append-only audit log. When set, every
// ExecuteTask call writes one hash-chained trace.Record regardless of
// outcome (spec.md §3's persistence note). Separate from New for the
// same reason as SetMessageGuard.
func (h *Host) SetTracer(tracer trace.Store) {
	h.tracer = tracer
}

// SetAlertSender wires notification delivery for PolicyEngine's
// dangerous-admin-warning and approval-required outcomes (spec.md
// §4.16). Separate from New for the same reason as SetMessageGuard.
func (h *Host) SetAlertSender(sender AlertSender) {
	h.alerts = sender
}

// SetPositionLookup forwards to the underlying Router so look_at can
// compute a real heading from the agent's last observed position
// (wired in by Orchestrator, which owns world.Observer).
func (h *Host) SetPositionLookup(lookup router.PositionLookup) {
	h.router.SetPositionLookup(lookup)
}

// ExecuteTask validates action against policy, then either dispatches it
// through the router or returns a held ApprovalTicket for a dangerous,
// non-admin action. The per-agent concurrency counter is incremented
// immediately before dispatch and decremented on every exit path
// (success, dispatch error, or panic) via defer -- spec.md §4.12's
// "guaranteed even on exception".
func (h *Host) ExecuteTask(ctx context.Context, action model.Action, agent *model.Agent, userID string) ExecutionOutcome {
	start := time.Now()

	if h.killSwitch != nil {
		if blocked, reason := h.killSwitch.IsBlocked(action.AgentID); blocked {
			h.logger.Warn("task blocked by kill switch", "agent_id", action.AgentID, "reason", reason)
			outcome := ExecutionOutcome{Blocked: true, Report: policy.Report{Valid: false, Errors: []string{fmt.Sprintf("kill switch engaged: %s", reason)}}}
			h.recordTrace(action, start, trace.StatusBlocked, reason)
			return outcome
		}
	}

	if h.messages != nil && action.Type == model.ActionChat {
		if message, _ := action.Parameters["message"].(string); message != "" {
			if allowed, reason := h.messages.Check(action.AgentID, message); !allowed {
				h.logger.Warn("chat action blocked by message guard", "agent_id", action.AgentID, "reason", reason)
				outcome := ExecutionOutcome{Report: policy.Report{Valid: false, Errors: []string{reason}}}
				h.recordTrace(action, start, trace.StatusDenied, reason)
				return outcome
			}
		}
	}

	report := h.policyEngine.ValidateTaskPolicy(action, agent, userID)
	if !report.Valid {
		h.recordTrace(action, start, trace.StatusDenied, strings.Join(report.Errors, "; "))
		return ExecutionOutcome{Report: report}
	}

	if report.RequiresApproval {
		ticket := h.policyEngine.Approvals.RequestApproval(action, userID)
		h.recordTrace(action, start, trace.StatusPending, "")
		if h.alerts != nil {
			h.alerts.Send(alert.Alert{
				Type:     "approval_required",
				Severity: "warning",
				Title:    fmt.Sprintf("approval required for %s by agent %s", action.Type, action.AgentID),
				Message:  strings.Join(report.Warnings, "; "),
				AgentID:  action.AgentID,
			})
		}
		return ExecutionOutcome{Report: report, Ticket: ticket}
	}

	if len(report.Warnings) > 0 && h.alerts != nil {
		h.alerts.Send(alert.Alert{
			Type:     "dangerous_admin_override",
			Severity: "info",
			Title:    fmt.Sprintf("admin proceeded on flagged %s for agent %s", action.Type, action.AgentID),
			Message:  strings.Join(report.Warnings, "; "),
			AgentID:  action.AgentID,
		})
	}

	result := h.dispatch(ctx, action)
	status := trace.StatusAllowed
	errMsg := ""
	if !result.Success {
		errMsg = result.Error
	}
	h.recordTraceWithError(action, start, status, "", errMsg)
	return ExecutionOutcome{Report: report, Result: result}
}

// recordTrace appends a hash-chained audit record for action. A nil
// tracer is a no-op.
func (h *Host) recordTrace(action model.Action, start time.Time, status trace.Status, reason string) {
	h.recordTraceWithError(action, start, status, reason, "")
}

func (h *Host) recordTraceWithError(action model.Action, start time.Time, status trace.Status, reason, errMsg string) {
	metrics.RecordAction(action.AgentID, string(action.Type), string(status), time.Since(start))
	if status == trace.StatusDenied || status == trace.StatusBlocked {
		metrics.RecordViolation(action.AgentID)
	}

	if h.tracer == nil {
		return
	}

	prevHash, err := h.tracer.LastHash(action.AgentID)
	if err != nil {
		h.logger.Warn("failed to read prior trace hash", "agent_id", action.AgentID, "error", err)
		return
	}

	params, _ := json.Marshal(action.Parameters)
	rec := &trace.Record{
		ID:           uuid.NewString(),
		AgentID:      action.AgentID,
		Timestamp:    start,
		ActionType:   string(action.Type),
		ActionID:     action.ID,
		Parameters:   params,
		Status:       status,
		PolicyReason: reason,
		LatencyMs:    time.Since(start).Milliseconds(),
		Error:        errMsg,
		PrevHash:     prevHash,
	}
	rec.Hash = trace.ComputeHash(rec)

	if err := h.tracer.InsertRecord(rec); err != nil {
		h.logger.Warn("failed to persist trace record", "agent_id", action.AgentID, "error", err)
		return
	}

	if status == trace.StatusDenied || status == trace.StatusBlocked {
		violation := &trace.Violation{
			ID:         uuid.NewString(),
			RecordID:   rec.ID,
			AgentID:    action.AgentID,
			Reason:     reason,
			Timestamp:  start,
			ActionJSON: params,
		}
		if err := h.tracer.InsertViolation(violation); err != nil {
			h.logger.Warn("failed to persist violation", "agent_id", action.AgentID, "error", err)
		}
	}
}

// dispatch wraps the router call with the guaranteed BeginTask/EndTask
// pairing.
func (h *Host) dispatch(ctx context.Context, action model.Action) router.Result {
	h.policyEngine.BeginTask(action.AgentID)
	defer h.policyEngine.EndTask(action.AgentID)
	return h.router.RouteTask(ctx, action)
}

// ApproveDangerousTask resolves a held ticket and, if approved, executes
// the task immediately as autopilot (spec.md §4.12).
func (h *Host) ApproveDangerousTask(ctx context.Context, token, approverID string) (router.Result, error) {
	start := time.Now()
	ticket, err := h.policyEngine.Approvals.Approve(token, model.RoleAdmin, approverID)
	if err != nil {
		return router.Result{}, err
	}

	task := ticket.Task
	task.Approved = true
	task.Role = model.RoleAutopilot
	result := h.dispatch(ctx, task)
	h.recordTraceWithError(task, start, trace.StatusApproved, "approved by "+approverID, errString(result))
	return result, nil
}

// RejectDangerousTask resolves a held ticket as rejected without
// executing it.
func (h *Host) RejectDangerousTask(token, approverID, reason string) (*model.ApprovalTicket, error) {
	ticket, err := h.policyEngine.Approvals.Reject(token, model.RoleAdmin, approverID, reason)
	if err == nil && ticket != nil {
		h.recordTrace(ticket.Task, time.Now(), trace.StatusRejected, reason)
	}
	return ticket, err
}

func errString(r router.Result) string {
	if r.Success {
		return ""
	}
	return r.Error
}
