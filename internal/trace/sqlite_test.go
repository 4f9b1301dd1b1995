package trace

import (
	"testing"
	"time"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("NewSQLiteStore() error: %v", err)
	}
	if err := s.Initialize(); err != nil {
		t.Fatalf("Initialize() error: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func insertChained(t *testing.T, s *SQLiteStore, agentID, actionType string, status Status) *Record {
	t.Helper()
	prev, err := s.LastHash(agentID)
	if err != nil {
		t.Fatalf("LastHash() error: %v", err)
	}
	r := &Record{
		ID:         actionType + "-" + agentID + "-rec",
		AgentID:    agentID,
		Timestamp:  time.Now(),
		ActionType: actionType,
		ActionID:   "act-1",
		Status:     status,
		PrevHash:   prev,
	}
	r.Hash = ComputeHash(r)
	if err := s.InsertRecord(r); err != nil {
		t.Fatalf("InsertRecord() error: %v", err)
	}
	return r
}

func TestSQLiteStore_InsertAndGetRecord(t *testing.T) {
	s := newTestStore(t)
	r := insertChained(t, s, "agent-1", "move_to", StatusAllowed)

	got, err := s.GetRecord(r.ID)
	if err != nil {
		t.Fatalf("GetRecord() error: %v", err)
	}
	if got == nil || got.AgentID != "agent-1" || got.Status != StatusAllowed {
		t.Fatalf("GetRecord() = %+v", got)
	}
}

func TestSQLiteStore_GetRecordMissingReturnsNil(t *testing.T) {
	s := newTestStore(t)
	got, err := s.GetRecord("does-not-exist")
	if err != nil {
		t.Fatalf("GetRecord() error: %v", err)
	}
	if got != nil {
		t.Errorf("GetRecord() = %+v, want nil", got)
	}
}

func TestSQLiteStore_ListRecordsFiltersByAgent(t *testing.T) {
	s := newTestStore(t)
	insertChained(t, s, "agent-1", "move_to", StatusAllowed)
	insertChained(t, s, "agent-2", "chat", StatusAllowed)

	records, count, err := s.ListRecords(Filter{AgentID: "agent-1"})
	if err != nil {
		t.Fatalf("ListRecords() error: %v", err)
	}
	if count != 1 || len(records) != 1 {
		t.Fatalf("count = %d, len = %d, want 1/1", count, len(records))
	}
	if records[0].AgentID != "agent-1" {
		t.Errorf("AgentID = %q, want agent-1", records[0].AgentID)
	}
}

func TestSQLiteStore_VerifyAgentChainValid(t *testing.T) {
	s := newTestStore(t)
	insertChained(t, s, "agent-1", "move_to", StatusAllowed)
	insertChained(t, s, "agent-1", "chat", StatusAllowed)

	valid, brokenAt, err := s.VerifyAgentChain("agent-1")
	if err != nil {
		t.Fatalf("VerifyAgentChain() error: %v", err)
	}
	if !valid {
		t.Errorf("expected a valid chain, broken at %d", brokenAt)
	}
}

func TestSQLiteStore_VerifyAgentChainDetectsTamper(t *testing.T) {
	s := newTestStore(t)
	r := insertChained(t, s, "agent-1", "move_to", StatusAllowed)

	if _, err := s.db.Exec("UPDATE records SET hash = ? WHERE id = ?", "tampered", r.ID); err != nil {
		t.Fatalf("tamper update error: %v", err)
	}

	valid, brokenAt, err := s.VerifyAgentChain("agent-1")
	if err != nil {
		t.Fatalf("VerifyAgentChain() error: %v", err)
	}
	if valid {
		t.Error("expected tampered chain to be invalid")
	}
	if brokenAt != 0 {
		t.Errorf("brokenAt = %d, want 0", brokenAt)
	}
}

func TestSQLiteStore_InsertAndListViolations(t *testing.T) {
	s := newTestStore(t)
	v := &Violation{ID: "v1", RecordID: "r1", AgentID: "agent-1", Reason: "dangerous block", Timestamp: time.Now()}
	if err := s.InsertViolation(v); err != nil {
		t.Fatalf("InsertViolation() error: %v", err)
	}

	violations, err := s.ListViolations("agent-1", 0)
	if err != nil {
		t.Fatalf("ListViolations() error: %v", err)
	}
	if len(violations) != 1 || violations[0].Reason != "dangerous block" {
		t.Fatalf("ListViolations() = %+v", violations)
	}
}

func TestSQLiteStore_AgentStats(t *testing.T) {
	s := newTestStore(t)
	insertChained(t, s, "agent-1", "move_to", StatusAllowed)
	insertChained(t, s, "agent-1", "place_block", StatusDenied)

	stats, err := s.GetAgentStats("agent-1")
	if err != nil {
		t.Fatalf("GetAgentStats() error: %v", err)
	}
	if stats.TotalActions != 2 || stats.AllowedActions != 1 || stats.DeniedActions != 1 {
		t.Fatalf("stats = %+v", stats)
	}
	if stats.ErrorRate != 0.5 {
		t.Errorf("ErrorRate = %v, want 0.5", stats.ErrorRate)
	}
}

func TestSQLiteStore_SystemStats(t *testing.T) {
	s := newTestStore(t)
	insertChained(t, s, "agent-1", "move_to", StatusAllowed)
	insertChained(t, s, "agent-2", "chat", StatusAllowed)

	stats, err := s.GetSystemStats()
	if err != nil {
		t.Fatalf("GetSystemStats() error: %v", err)
	}
	if stats.TotalRecords != 2 || stats.TotalAgents != 2 {
		t.Fatalf("stats = %+v", stats)
	}
}

func TestSQLiteStore_PruneOlderThan(t *testing.T) {
	s := newTestStore(t)
	r := insertChained(t, s, "agent-1", "move_to", StatusAllowed)
	if _, err := s.db.Exec("UPDATE records SET timestamp = ? WHERE id = ?", time.Now().AddDate(0, 0, -30), r.ID); err != nil {
		t.Fatalf("backdate error: %v", err)
	}

	pruned, err := s.PruneOlderThan(7)
	if err != nil {
		t.Fatalf("PruneOlderThan() error: %v", err)
	}
	if pruned != 1 {
		t.Errorf("pruned = %d, want 1", pruned)
	}
}
