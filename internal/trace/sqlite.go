package trace

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite-backed audit store.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS records (
		id              TEXT PRIMARY KEY,
		agent_id        TEXT NOT NULL,
		timestamp       DATETIME NOT NULL,
		action_type     TEXT NOT NULL,
		action_id       TEXT NOT NULL,
		parameters      TEXT,
		status          TEXT NOT NULL,
		policy_reason   TEXT,
		latency_ms      INTEGER DEFAULT 0,
		error           TEXT,
		prev_hash       TEXT,
		hash            TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS violations (
		id              TEXT PRIMARY KEY,
		record_id       TEXT NOT NULL,
		agent_id        TEXT NOT NULL,
		reason          TEXT NOT NULL,
		timestamp       DATETIME NOT NULL,
		action_json     TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_records_agent ON records(agent_id);
	CREATE INDEX IF NOT EXISTS idx_records_timestamp ON records(timestamp);
	CREATE INDEX IF NOT EXISTS idx_records_action_type ON records(action_type);
	CREATE INDEX IF NOT EXISTS idx_records_status ON records(status);
	CREATE INDEX IF NOT EXISTS idx_violations_agent ON violations(agent_id);
	`

	_, err := s.db.Exec(schema)
	return err
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// --- Records ---

func (s *SQLiteStore) InsertRecord(r *Record) error {
	_, err := s.db.Exec(`INSERT INTO records (id, agent_id, timestamp, action_type, action_id,
		parameters, status, policy_reason, latency_ms, error, prev_hash, hash)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.AgentID, r.Timestamp, r.ActionType, r.ActionID,
		nullableJSON(r.Parameters), r.Status, nullStr(r.PolicyReason), r.LatencyMs,
		nullStr(r.Error), r.PrevHash, r.Hash,
	)
	return err
}

func (s *SQLiteStore) GetRecord(id string) (*Record, error) {
	r := &Record{}
	var params, policyReason, errStr sql.NullString

	err := s.db.QueryRow(`SELECT id, agent_id, timestamp, action_type, action_id,
		parameters, status, policy_reason, latency_ms, error, prev_hash, hash
		FROM records WHERE id = ?`, id).Scan(
		&r.ID, &r.AgentID, &r.Timestamp, &r.ActionType, &r.ActionID,
		&params, &r.Status, &policyReason, &r.LatencyMs, &errStr, &r.PrevHash, &r.Hash,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	r.Parameters = jsonOrNil(params)
	r.PolicyReason = policyReason.String
	r.Error = errStr.String
	return r, nil
}

func (s *SQLiteStore) ListRecords(filter Filter) ([]*Record, int, error) {
	where, args := buildWhere(filter)
	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}

	var count int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM records"+where, args...).Scan(&count); err != nil {
		return nil, 0, err
	}

	query := "SELECT id, agent_id, timestamp, action_type, action_id, status, latency_ms, policy_reason, hash FROM records" + where + " ORDER BY timestamp DESC LIMIT ? OFFSET ?"
	args = append(args, limit, filter.Offset)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var records []*Record
	for rows.Next() {
		r := &Record{}
		var policyReason sql.NullString
		if err := rows.Scan(&r.ID, &r.AgentID, &r.Timestamp, &r.ActionType, &r.ActionID,
			&r.Status, &r.LatencyMs, &policyReason, &r.Hash); err != nil {
			return nil, 0, err
		}
		r.PolicyReason = policyReason.String
		records = append(records, r)
	}
	return records, count, nil
}

// LastHash returns the most recent record's hash for agentID, or its
// chain seed if the agent has no records yet.
func (s *SQLiteStore) LastHash(agentID string) (string, error) {
	var hash string
	err := s.db.QueryRow(`SELECT hash FROM records WHERE agent_id = ? ORDER BY timestamp DESC LIMIT 1`, agentID).Scan(&hash)
	if err == sql.ErrNoRows {
		return ComputeAgentSeed(agentID), nil
	}
	if err != nil {
		return "", err
	}
	return hash, nil
}

// --- Violations ---

func (s *SQLiteStore) InsertViolation(v *Violation) error {
	_, err := s.db.Exec(`INSERT INTO violations (id, record_id, agent_id, reason, timestamp, action_json)
		VALUES (?, ?, ?, ?, ?, ?)`,
		v.ID, v.RecordID, v.AgentID, v.Reason, v.Timestamp, nullableJSON(v.ActionJSON),
	)
	return err
}

func (s *SQLiteStore) ListViolations(agentID string, limit int) ([]*Violation, error) {
	if limit <= 0 {
		limit = 50
	}

	query := "SELECT id, record_id, agent_id, reason, timestamp, action_json FROM violations"
	args := []interface{}{}
	if agentID != "" {
		query += " WHERE agent_id = ?"
		args = append(args, agentID)
	}
	query += " ORDER BY timestamp DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var violations []*Violation
	for rows.Next() {
		v := &Violation{}
		var actionJSON sql.NullString
		if err := rows.Scan(&v.ID, &v.RecordID, &v.AgentID, &v.Reason, &v.Timestamp, &actionJSON); err != nil {
			return nil, err
		}
		v.ActionJSON = jsonOrNil(actionJSON)
		violations = append(violations, v)
	}
	return violations, nil
}

// --- Stats ---

func (s *SQLiteStore) GetAgentStats(agentID string) (*AgentStats, error) {
	stats := &AgentStats{AgentID: agentID}

	s.db.QueryRow("SELECT COUNT(*) FROM records WHERE agent_id = ?", agentID).Scan(&stats.TotalActions)
	s.db.QueryRow("SELECT COUNT(*) FROM records WHERE agent_id = ? AND status = ?", agentID, StatusAllowed).Scan(&stats.AllowedActions)
	s.db.QueryRow("SELECT COUNT(*) FROM records WHERE agent_id = ? AND status = ?", agentID, StatusDenied).Scan(&stats.DeniedActions)
	s.db.QueryRow("SELECT COUNT(*) FROM records WHERE agent_id = ? AND status = ?", agentID, StatusPending).Scan(&stats.PendingApprovals)
	s.db.QueryRow("SELECT COUNT(*) FROM violations WHERE agent_id = ?", agentID).Scan(&stats.TotalViolations)

	if stats.TotalActions > 0 {
		stats.ErrorRate = float64(stats.DeniedActions) / float64(stats.TotalActions)
	}
	return stats, nil
}

func (s *SQLiteStore) GetSystemStats() (*SystemStats, error) {
	stats := &SystemStats{}
	s.db.QueryRow("SELECT COUNT(*) FROM records").Scan(&stats.TotalRecords)
	s.db.QueryRow("SELECT COUNT(DISTINCT agent_id) FROM records").Scan(&stats.TotalAgents)
	s.db.QueryRow("SELECT COUNT(*) FROM violations").Scan(&stats.TotalViolations)
	s.db.QueryRow("SELECT COUNT(*) FROM records WHERE status = ?", StatusPending).Scan(&stats.PendingApprovals)
	return stats, nil
}

// --- Maintenance ---

func (s *SQLiteStore) PruneOlderThan(days int) (int64, error) {
	cutoff := time.Now().AddDate(0, 0, -days)
	result, err := s.db.Exec("DELETE FROM records WHERE timestamp < ?", cutoff)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

func (s *SQLiteStore) VerifyAgentChain(agentID string) (bool, int, error) {
	rows, err := s.db.Query(`SELECT id, agent_id, timestamp, action_type, action_id, parameters, status, prev_hash, hash
		FROM records WHERE agent_id = ? ORDER BY timestamp ASC`, agentID)
	if err != nil {
		return false, 0, err
	}
	defer rows.Close()

	var records []*Record
	for rows.Next() {
		r := &Record{}
		var params sql.NullString
		if err := rows.Scan(&r.ID, &r.AgentID, &r.Timestamp, &r.ActionType, &r.ActionID, &params, &r.Status, &r.PrevHash, &r.Hash); err != nil {
			return false, 0, err
		}
		r.Parameters = jsonOrNil(params)
		records = append(records, r)
	}

	valid, brokenAt := VerifyChain(records)
	return valid, brokenAt, nil
}

// --- Helpers ---

func buildWhere(f Filter) (string, []interface{}) {
	var conditions []string
	var args []interface{}

	if f.AgentID != "" {
		conditions = append(conditions, "agent_id = ?")
		args = append(args, f.AgentID)
	}
	if f.ActionType != "" {
		conditions = append(conditions, "action_type = ?")
		args = append(args, f.ActionType)
	}
	if f.Status != "" {
		conditions = append(conditions, "status = ?")
		args = append(args, f.Status)
	}
	if f.Since != nil {
		conditions = append(conditions, "timestamp >= ?")
		args = append(args, *f.Since)
	}
	if f.Until != nil {
		conditions = append(conditions, "timestamp <= ?")
		args = append(args, *f.Until)
	}

	if len(conditions) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conditions, " AND "), args
}

func nullStr(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullableJSON(data json.RawMessage) sql.NullString {
	if data == nil || string(data) == "null" {
		return sql.NullString{}
	}
	return sql.NullString{String: string(data), Valid: true}
}

func jsonOrNil(ns sql.NullString) json.RawMessage {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	return json.RawMessage(ns.String)
}
