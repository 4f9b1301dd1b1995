package experience

import (
	"testing"
)

func TestBuffer_LogAssignsIDWhenMissing(t *testing.T) {
	b := New(10, nil)
	id := b.Log(Entry{AgentID: "agent-1", Reward: 1})
	if id == "" {
		t.Fatal("expected a generated entry ID")
	}
}

func TestBuffer_EvictsOldestFirstOnOverflow(t *testing.T) {
	b := New(3, nil)
	b.Log(Entry{ID: "e1", AgentID: "agent-1"})
	b.Log(Entry{ID: "e2", AgentID: "agent-1"})
	b.Log(Entry{ID: "e3", AgentID: "agent-1"})
	b.Log(Entry{ID: "e4", AgentID: "agent-1"})

	all := b.Recent("agent-1", 0)
	if len(all) != 3 {
		t.Fatalf("len(all) = %d, want 3", len(all))
	}
	if all[0].ID != "e2" {
		t.Errorf("oldest retained entry = %q, want e2 (e1 evicted)", all[0].ID)
	}
	if all[len(all)-1].ID != "e4" {
		t.Errorf("newest entry = %q, want e4", all[len(all)-1].ID)
	}
}

func TestBuffer_RecentFiltersByAgent(t *testing.T) {
	b := New(10, nil)
	b.Log(Entry{ID: "e1", AgentID: "agent-1"})
	b.Log(Entry{ID: "e2", AgentID: "agent-2"})
	b.Log(Entry{ID: "e3", AgentID: "agent-1"})

	matches := b.Recent("agent-1", 0)
	if len(matches) != 2 {
		t.Fatalf("len(matches) = %d, want 2", len(matches))
	}
	for _, e := range matches {
		if e.AgentID != "agent-1" {
			t.Errorf("unexpected agent in filtered results: %+v", e)
		}
	}
}

func TestBuffer_RecentCapsToN(t *testing.T) {
	b := New(10, nil)
	for i := 0; i < 5; i++ {
		b.Log(Entry{AgentID: "agent-1"})
	}
	matches := b.Recent("agent-1", 2)
	if len(matches) != 2 {
		t.Fatalf("len(matches) = %d, want 2", len(matches))
	}
}

func TestBuffer_SummarizeComputesMeanReward(t *testing.T) {
	b := New(10, nil)
	b.Log(Entry{AgentID: "agent-1", Reward: 1})
	b.Log(Entry{AgentID: "agent-1", Reward: 3})

	summary := b.Summarize("agent-1", 0)
	if summary.MeanReward != 2 {
		t.Errorf("MeanReward = %v, want 2", summary.MeanReward)
	}
	if summary.Count != 2 {
		t.Errorf("Count = %d, want 2", summary.Count)
	}
}

func TestBuffer_SummarizeEmptyAgent(t *testing.T) {
	b := New(10, nil)
	summary := b.Summarize("ghost", 0)
	if summary.Count != 0 || summary.MeanReward != 0 {
		t.Errorf("expected zero-value summary for unknown agent, got %+v", summary)
	}
}

func TestBuffer_LenTracksEntryCount(t *testing.T) {
	b := New(2, nil)
	b.Log(Entry{AgentID: "agent-1"})
	if b.Len() != 1 {
		t.Errorf("Len() = %d, want 1", b.Len())
	}
	b.Log(Entry{AgentID: "agent-1"})
	b.Log(Entry{AgentID: "agent-1"})
	if b.Len() != 2 {
		t.Errorf("Len() = %d, want 2 (capacity bound)", b.Len())
	}
}
