package admission

import (
	"context"
	"testing"

	"github.com/swarmwarden/swarmwarden/internal/alert"
	"github.com/swarmwarden/swarmwarden/internal/driver"
	"github.com/swarmwarden/swarmwarden/internal/model"
	"github.com/swarmwarden/swarmwarden/internal/policy"
	"github.com/swarmwarden/swarmwarden/internal/router"
	"github.com/swarmwarden/swarmwarden/internal/trace"
)

func newTestHost(t *testing.T) (*Host, *driver.Mock) {
	t.Helper()
	m := driver.NewMock(16)
	if err := m.Connect(context.Background(), "user1-agent-1", nil); err != nil {
		t.Fatalf("Connect() error: %v", err)
	}
	<-m.Events()

	approvals := policy.NewApprovalRegistry(0, nil)
	engine := policy.NewEngine(policy.Config{}, nil, approvals, nil)
	r := router.New(m, router.Config{RequireApprovalForDangerous: true}, nil)
	return New(engine, r, nil, nil), m
}

func chatAction(agentID string) model.Action {
	return model.Action{
		ID: "a1", Type: model.ActionChat, AgentID: agentID, Role: model.RoleAutopilot,
		Parameters: map[string]interface{}{"message": "hello"},
	}
}

func TestHost_ExecuteTaskDispatchesAllowedAction(t *testing.T) {
	h, _ := newTestHost(t)
	outcome := h.ExecuteTask(context.Background(), chatAction("user1-agent-1"), nil, "user1")
	if !outcome.Report.Valid {
		t.Fatalf("Report = %+v, want Valid", outcome.Report)
	}
	if !outcome.Result.Success {
		t.Fatalf("Result = %+v, want Success", outcome.Result)
	}
}

func TestHost_ExecuteTaskRejectsPolicyViolation(t *testing.T) {
	h, _ := newTestHost(t)
	action := chatAction("user1-agent-1")
	action.Role = model.RoleViewer

	outcome := h.ExecuteTask(context.Background(), action, nil, "user1")
	if outcome.Report.Valid {
		t.Fatal("expected policy rejection for viewer attempting chat")
	}
	if outcome.Result.Success {
		t.Error("should not have dispatched a rejected action")
	}
}

func TestHost_ExecuteTaskReturnsTicketForDangerousNonAdmin(t *testing.T) {
	h, _ := newTestHost(t)
	action := model.Action{
		ID: "a2", Type: model.ActionPlaceBlock, AgentID: "user1-agent-1", Role: model.RoleAutopilot,
		Parameters: map[string]interface{}{
			"target":    map[string]interface{}{"x": 1.0, "y": 64.0, "z": 1.0},
			"blockType": "tnt",
		},
	}

	outcome := h.ExecuteTask(context.Background(), action, nil, "user1")
	if outcome.Ticket == nil {
		t.Fatal("expected an ApprovalTicket for a dangerous non-admin action")
	}
	if outcome.Ticket.Status != model.ApprovalPending {
		t.Errorf("ticket status = %v, want pending", outcome.Ticket.Status)
	}
}

func TestHost_ApproveDangerousTaskExecutes(t *testing.T) {
	h, _ := newTestHost(t)
	action := model.Action{
		ID: "a3", Type: model.ActionPlaceBlock, AgentID: "user1-agent-1", Role: model.RoleAutopilot,
		Parameters: map[string]interface{}{
			"target":    map[string]interface{}{"x": 1.0, "y": 64.0, "z": 1.0},
			"blockType": "tnt",
		},
	}
	outcome := h.ExecuteTask(context.Background(), action, nil, "user1")
	if outcome.Ticket == nil {
		t.Fatal("expected a ticket before approval")
	}

	result, err := h.ApproveDangerousTask(context.Background(), outcome.Ticket.Token, "admin-1")
	if err != nil {
		t.Fatalf("ApproveDangerousTask() error: %v", err)
	}
	if !result.Success {
		t.Fatalf("Result = %+v, want Success after approval", result)
	}
}

func TestHost_RejectDangerousTaskDoesNotExecute(t *testing.T) {
	h, m := newTestHost(t)
	action := model.Action{
		ID: "a4", Type: model.ActionPlaceBlock, AgentID: "user1-agent-1", Role: model.RoleAutopilot,
		Parameters: map[string]interface{}{
			"target":    map[string]interface{}{"x": 1.0, "y": 64.0, "z": 1.0},
			"blockType": "tnt",
		},
	}
	outcome := h.ExecuteTask(context.Background(), action, nil, "user1")

	ticket, err := h.RejectDangerousTask(outcome.Ticket.Token, "admin-1", "too risky")
	if err != nil {
		t.Fatalf("RejectDangerousTask() error: %v", err)
	}
	if ticket.Status != model.ApprovalRejected {
		t.Errorf("ticket status = %v, want rejected", ticket.Status)
	}

	block, _ := m.BlockAt(context.Background(), "user1-agent-1", model.Position{X: 1, Y: 64, Z: 1})
	if block.Name == "placed_block" {
		t.Error("rejected ticket must not have dispatched the place_block action")
	}
}

type stubKillSwitch struct {
	blocked bool
	reason  string
}

func (s stubKillSwitch) IsBlocked(agentID string) (bool, string) { return s.blocked, s.reason }

func TestHost_ExecuteTaskRespectsKillSwitch(t *testing.T) {
	m := driver.NewMock(16)
	m.Connect(context.Background(), "user1-agent-1", nil)
	<-m.Events()
	approvals := policy.NewApprovalRegistry(0, nil)
	engine := policy.NewEngine(policy.Config{}, nil, approvals, nil)
	r := router.New(m, router.Config{}, nil)
	h := New(engine, r, stubKillSwitch{blocked: true, reason: "emergency stop"}, nil)

	outcome := h.ExecuteTask(context.Background(), chatAction("user1-agent-1"), nil, "user1")
	if !outcome.Blocked {
		t.Fatal("expected outcome.Blocked=true when kill switch engaged")
	}
	if outcome.Result.Success {
		t.Error("should not dispatch when kill switch blocks the agent")
	}
}

type stubMessageGuard struct {
	allowed bool
	reason  string
}

func (s stubMessageGuard) Check(agentID, message string) (bool, string) { return s.allowed, s.reason }

func TestHost_ExecuteTaskBlocksChatOnMessageGuardRejection(t *testing.T) {
	h, _ := newTestHost(t)
	h.SetMessageGuard(stubMessageGuard{allowed: false, reason: "secret leaked"})

	outcome := h.ExecuteTask(context.Background(), chatAction("user1-agent-1"), nil, "user1")
	if outcome.Report.Valid {
		t.Fatal("expected the message guard rejection to invalidate the report")
	}
	if len(outcome.Report.Errors) == 0 || outcome.Report.Errors[0] != "secret leaked" {
		t.Errorf("Errors = %v, want the guard's reason", outcome.Report.Errors)
	}
	if outcome.Result.Success {
		t.Error("blocked chat action must not have been dispatched to the driver")
	}
}

func TestHost_ExecuteTaskAllowsChatWhenMessageGuardPasses(t *testing.T) {
	h, _ := newTestHost(t)
	h.SetMessageGuard(stubMessageGuard{allowed: true})

	outcome := h.ExecuteTask(context.Background(), chatAction("user1-agent-1"), nil, "user1")
	if !outcome.Report.Valid || !outcome.Result.Success {
		t.Fatalf("expected dispatch to succeed, got report=%+v result=%+v", outcome.Report, outcome.Result)
	}
}

func TestHost_ExecuteTaskSkipsMessageGuardForNonChatActions(t *testing.T) {
	h, _ := newTestHost(t)
	h.SetMessageGuard(stubMessageGuard{allowed: false, reason: "should never be consulted"})

	action := model.Action{
		ID: "a5", Type: model.ActionPlaceBlock, AgentID: "user1-agent-1", Role: model.RoleAdmin,
		Parameters: map[string]interface{}{
			"target":    map[string]interface{}{"x": 1.0, "y": 64.0, "z": 1.0},
			"blockType": "dirt",
		},
	}
	outcome := h.ExecuteTask(context.Background(), action, nil, "user1")
	if !outcome.Report.Valid {
		t.Fatalf("non-chat action should not be affected by the message guard: %+v", outcome.Report)
	}
}

func TestHost_ExecuteTaskRecordsTraceForDispatchedAction(t *testing.T) {
	h, _ := newTestHost(t)
	tracer := trace.NewMemoryStore()
	h.SetTracer(tracer)

	h.ExecuteTask(context.Background(), chatAction("user1-agent-1"), nil, "user1")

	records, count, err := tracer.ListRecords(trace.Filter{AgentID: "user1-agent-1"})
	if err != nil {
		t.Fatalf("ListRecords() error: %v", err)
	}
	if count != 1 || len(records) != 1 {
		t.Fatalf("count = %d, len = %d, want 1/1", count, len(records))
	}
	if records[0].Status != trace.StatusAllowed {
		t.Errorf("Status = %q, want allowed", records[0].Status)
	}
}

func TestHost_ExecuteTaskRecordsViolationOnPolicyRejection(t *testing.T) {
	h, _ := newTestHost(t)
	tracer := trace.NewMemoryStore()
	h.SetTracer(tracer)

	action := chatAction("user1-agent-1")
	action.Role = model.RoleViewer
	h.ExecuteTask(context.Background(), action, nil, "user1")

	violations, err := tracer.ListViolations("user1-agent-1", 0)
	if err != nil {
		t.Fatalf("ListViolations() error: %v", err)
	}
	if len(violations) != 1 {
		t.Fatalf("len(violations) = %d, want 1", len(violations))
	}
}

func TestHost_ExecuteTaskRecordsTraceWhenKillSwitchBlocks(t *testing.T) {
	m := driver.NewMock(16)
	m.Connect(context.Background(), "user1-agent-1", nil)
	<-m.Events()
	approvals := policy.NewApprovalRegistry(0, nil)
	engine := policy.NewEngine(policy.Config{}, nil, approvals, nil)
	r := router.New(m, router.Config{}, nil)
	h := New(engine, r, stubKillSwitch{blocked: true, reason: "emergency stop"}, nil)
	tracer := trace.NewMemoryStore()
	h.SetTracer(tracer)

	h.ExecuteTask(context.Background(), chatAction("user1-agent-1"), nil, "user1")

	records, _, err := tracer.ListRecords(trace.Filter{AgentID: "user1-agent-1"})
	if err != nil {
		t.Fatalf("ListRecords() error: %v", err)
	}
	if len(records) != 1 || records[0].Status != trace.StatusBlocked {
		t.Fatalf("records = %+v, want one blocked record", records)
	}
}

type stubAlertSender struct {
	alerts []alert.Alert
}

func (s *stubAlertSender) Send(a alert.Alert) {
	s.alerts = append(s.alerts, a)
}

func dangerousAction(agentID string, role model.Role) model.Action {
	return model.Action{
		ID: "a6", Type: model.ActionPlaceBlock, AgentID: agentID, Role: role,
		Parameters: map[string]interface{}{
			"target":    map[string]interface{}{"x": 1.0, "y": 64.0, "z": 1.0},
			"blockType": "tnt",
		},
	}
}

func TestHost_ExecuteTaskAlertsOnApprovalRequired(t *testing.T) {
	h, _ := newTestHost(t)
	sender := &stubAlertSender{}
	h.SetAlertSender(sender)

	outcome := h.ExecuteTask(context.Background(), dangerousAction("user1-agent-1", model.RoleAutopilot), nil, "user1")
	if outcome.Ticket == nil {
		t.Fatal("expected a ticket for a dangerous non-admin action")
	}
	if len(sender.alerts) != 1 {
		t.Fatalf("len(alerts) = %d, want 1", len(sender.alerts))
	}
	if sender.alerts[0].Type != "approval_required" {
		t.Errorf("alert.Type = %q, want approval_required", sender.alerts[0].Type)
	}
}

func TestHost_ExecuteTaskAlertsOnDangerousAdminOverride(t *testing.T) {
	h, _ := newTestHost(t)
	sender := &stubAlertSender{}
	h.SetAlertSender(sender)

	outcome := h.ExecuteTask(context.Background(), dangerousAction("user1-agent-1", model.RoleAdmin), nil, "user1")
	if !outcome.Result.Success {
		t.Fatalf("Result = %+v, want admin override to still dispatch", outcome.Result)
	}
	if len(sender.alerts) != 1 {
		t.Fatalf("len(alerts) = %d, want 1", len(sender.alerts))
	}
	if sender.alerts[0].Type != "dangerous_admin_override" {
		t.Errorf("alert.Type = %q, want dangerous_admin_override", sender.alerts[0].Type)
	}
}

func TestHost_ExecuteTaskNilAlertSenderIsNoop(t *testing.T) {
	h, _ := newTestHost(t)
	outcome := h.ExecuteTask(context.Background(), dangerousAction("user1-agent-1", model.RoleAdmin), nil, "user1")
	if !outcome.Result.Success {
		t.Fatalf("Result = %+v, want admin override to still dispatch with no alert sender wired", outcome.Result)
	}
}

func TestHost_ExecuteTaskTraceChainsAcrossCalls(t *testing.T) {
	h, _ := newTestHost(t)
	tracer := trace.NewMemoryStore()
	h.SetTracer(tracer)

	h.ExecuteTask(context.Background(), chatAction("user1-agent-1"), nil, "user1")
	h.ExecuteTask(context.Background(), chatAction("user1-agent-1"), nil, "user1")

	valid, brokenAt, err := tracer.VerifyAgentChain("user1-agent-1")
	if err != nil {
		t.Fatalf("VerifyAgentChain() error: %v", err)
	}
	if !valid {
		t.Errorf("expected a valid chain across two calls, broken at %d", brokenAt)
	}
}
