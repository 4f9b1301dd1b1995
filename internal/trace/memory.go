package trace

import "sync"

// MemoryStore is a non-persistent Store used by tests and by any
// deployment that runs without a configured sqlite path. Still
// hash-chains every record per agent; it just keeps them in a slice
// instead of a database.
type MemoryStore struct {
	mu         sync.Mutex
	records    []*Record
	violations []*Violation
}

// NewMemoryStore creates an empty in-memory audit store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (m *MemoryStore) Initialize() error { return nil }
func (m *MemoryStore) Close() error      { return nil }

func (m *MemoryStore) InsertRecord(r *Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *r
	m.records = append(m.records, &cp)
	return nil
}

func (m *MemoryStore) GetRecord(id string) (*Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.records {
		if r.ID == id {
			cp := *r
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *MemoryStore) ListRecords(filter Filter) ([]*Record, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var matched []*Record
	for _, r := range m.records {
		if filter.AgentID != "" && r.AgentID != filter.AgentID {
			continue
		}
		if filter.ActionType != "" && r.ActionType != filter.ActionType {
			continue
		}
		if filter.Status != "" && r.Status != filter.Status {
			continue
		}
		if filter.Since != nil && r.Timestamp.Before(*filter.Since) {
			continue
		}
		if filter.Until != nil && r.Timestamp.After(*filter.Until) {
			continue
		}
		cp := *r
		matched = append(matched, &cp)
	}

	total := len(matched)
	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	start := filter.Offset
	if start > total {
		start = total
	}
	end := start + limit
	if end > total {
		end = total
	}
	return matched[start:end], total, nil
}

func (m *MemoryStore) LastHash(agentID string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.records) - 1; i >= 0; i-- {
		if m.records[i].AgentID == agentID {
			return m.records[i].Hash, nil
		}
	}
	return ComputeAgentSeed(agentID), nil
}

func (m *MemoryStore) InsertViolation(v *Violation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *v
	m.violations = append(m.violations, &cp)
	return nil
}

func (m *MemoryStore) ListViolations(agentID string, limit int) ([]*Violation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var matched []*Violation
	for i := len(m.violations) - 1; i >= 0; i-- {
		v := m.violations[i]
		if agentID != "" && v.AgentID != agentID {
			continue
		}
		cp := *v
		matched = append(matched, &cp)
		if limit > 0 && len(matched) >= limit {
			break
		}
	}
	return matched, nil
}

func (m *MemoryStore) GetAgentStats(agentID string) (*AgentStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	stats := &AgentStats{AgentID: agentID}
	for _, r := range m.records {
		if r.AgentID != agentID {
			continue
		}
		stats.TotalActions++
		switch r.Status {
		case StatusAllowed:
			stats.AllowedActions++
		case StatusDenied:
			stats.DeniedActions++
		case StatusPending:
			stats.PendingApprovals++
		}
	}
	for _, v := range m.violations {
		if v.AgentID == agentID {
			stats.TotalViolations++
		}
	}
	if stats.TotalActions > 0 {
		stats.ErrorRate = float64(stats.DeniedActions) / float64(stats.TotalActions)
	}
	return stats, nil
}

func (m *MemoryStore) GetSystemStats() (*SystemStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	seen := map[string]bool{}
	stats := &SystemStats{}
	for _, r := range m.records {
		stats.TotalRecords++
		seen[r.AgentID] = true
		if r.Status == StatusPending {
			stats.PendingApprovals++
		}
	}
	stats.TotalAgents = int64(len(seen))
	stats.TotalViolations = int64(len(m.violations))
	return stats, nil
}

func (m *MemoryStore) PruneOlderThan(days int) (int64, error) {
	return 0, nil
}

func (m *MemoryStore) VerifyAgentChain(agentID string) (bool, int, error) {
	m.mu.Lock()
	var chain []*Record
	for _, r := range m.records {
		if r.AgentID == agentID {
			chain = append(chain, r)
		}
	}
	m.mu.Unlock()

	valid, brokenAt := VerifyChain(chain)
	return valid, brokenAt, nil
}

var _ Store = (*MemoryStore)(nil)
