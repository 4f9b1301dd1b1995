package policy

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/swarmwarden/swarmwarden/internal/metrics"
	"github.com/swarmwarden/swarmwarden/internal/model"
)

// ApprovalRegistry is the PolicyEngine's exclusive store of ApprovalTickets
// (spec.md §3: "PolicyEngine exclusively owns RateBuckets and
// ApprovalTickets"). Tickets form a DAG: pending -> {approved, rejected};
// once terminal a ticket never changes again.
//
// Unlike a long-poll approval queue, RequestApproval does not block --
// AdmissionHost hands the ticket straight back to the caller and a later,
// independent Approve/Reject call (typically from an operator via the API)
// resolves it. This matches spec.md §4.12: "approveDangerousTask(token,
// approverId) executes the held task as autopilot" as a distinct RPC, not
// a continuation of the original request.
type ApprovalRegistry struct {
	mu      sync.Mutex
	tickets map[string]*model.ApprovalTicket
	ttl     time.Duration
	logger  *slog.Logger
}

// NewApprovalRegistry creates an ApprovalRegistry. A zero ttl disables
// automatic expiry.
func NewApprovalRegistry(ttl time.Duration, logger *slog.Logger) *ApprovalRegistry {
	if logger == nil {
		logger = slog.Default()
	}
	return &ApprovalRegistry{
		tickets: make(map[string]*model.ApprovalTicket),
		ttl:     ttl,
		logger:  logger.With("component", "policy.ApprovalRegistry"),
	}
}

// RequestApproval creates a new pending ApprovalTicket for the given
// dangerous action and returns it.
func (a *ApprovalRegistry) RequestApproval(task model.Action, requester string) *model.ApprovalTicket {
	ticket := &model.ApprovalTicket{
		Token:       uuid.NewString(),
		Task:        task,
		Requester:   requester,
		RequestedAt: time.Now(),
		Status:      model.ApprovalPending,
	}

	a.mu.Lock()
	a.tickets[ticket.Token] = ticket
	a.mu.Unlock()

	a.logger.Info("approval ticket created",
		"token", ticket.Token,
		"agent_id", task.AgentID,
		"action_type", task.Type,
		"requester", requester,
	)
	metrics.SetApprovalsPending(len(a.ListPending()))
	return ticket
}

// Get returns the ticket for token, or nil if unknown.
func (a *ApprovalRegistry) Get(token string) *model.ApprovalTicket {
	a.mu.Lock()
	defer a.mu.Unlock()
	t, ok := a.tickets[token]
	if !ok {
		return nil
	}
	cp := *t
	return &cp
}

// Approve transitions a pending ticket to approved. Only admin may approve
// (spec.md §4.2: "only admin may approve or modify policy"). Calling
// Approve on an already-terminal ticket returns an error -- approval is
// idempotent only in the sense that it never silently re-applies.
func (a *ApprovalRegistry) Approve(token string, approver model.Role, approverID string) (*model.ApprovalTicket, error) {
	return a.resolve(token, approver, approverID, model.ApprovalApproved, "")
}

// Reject transitions a pending ticket to rejected.
func (a *ApprovalRegistry) Reject(token string, approver model.Role, approverID, reason string) (*model.ApprovalTicket, error) {
	return a.resolve(token, approver, approverID, model.ApprovalRejected, reason)
}

func (a *ApprovalRegistry) resolve(token string, approver model.Role, approverID string, status model.ApprovalStatus, reason string) (*model.ApprovalTicket, error) {
	if approver != model.RoleAdmin {
		return nil, fmt.Errorf("only admin may resolve approval tickets")
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	t, ok := a.tickets[token]
	if !ok {
		return nil, fmt.Errorf("approval ticket %q not found", token)
	}
	if t.Terminal() {
		return nil, fmt.Errorf("approval ticket %q already %s", token, t.Status)
	}

	t.Status = status
	t.Approver = approverID
	t.Reason = reason

	a.logger.Info("approval ticket resolved",
		"token", token,
		"status", status,
		"approver", approverID,
	)

	cp := *t
	metrics.SetApprovalsPending(a.countPendingLocked())
	return &cp, nil
}

// countPendingLocked returns the number of pending tickets. Callers must
// already hold a.mu.
func (a *ApprovalRegistry) countPendingLocked() int {
	n := 0
	for _, t := range a.tickets {
		if t.Status == model.ApprovalPending {
			n++
		}
	}
	return n
}

// ListPending returns all tickets still awaiting resolution.
func (a *ApprovalRegistry) ListPending() []*model.ApprovalTicket {
	a.mu.Lock()
	defer a.mu.Unlock()

	out := make([]*model.ApprovalTicket, 0)
	for _, t := range a.tickets {
		if t.Status == model.ApprovalPending {
			cp := *t
			out = append(out, &cp)
		}
	}
	return out
}

// SweepExpired rejects tickets older than the registry's ttl. Callers
// (the start command's sweep ticker in cmd/swarmwardend) invoke this
// periodically; it is a no-op when ttl is zero.
func (a *ApprovalRegistry) SweepExpired() []*model.ApprovalTicket {
	if a.ttl <= 0 {
		return nil
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	var expired []*model.ApprovalTicket
	now := time.Now()
	for _, t := range a.tickets {
		if t.Status == model.ApprovalPending && now.Sub(t.RequestedAt) > a.ttl {
			t.Status = model.ApprovalRejected
			t.Reason = "expired"
			cp := *t
			expired = append(expired, &cp)
		}
	}
	if len(expired) > 0 {
		a.logger.Warn("approval tickets expired", "count", len(expired))
		metrics.SetApprovalsPending(a.countPendingLocked())
	}
	return expired
}
