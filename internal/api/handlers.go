package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/swarmwarden/swarmwarden/internal/killswitch"
	"github.com/swarmwarden/swarmwarden/internal/model"
	"github.com/swarmwarden/swarmwarden/internal/trace"
)

// --- Agents ---

func (s *Server) handleListAgents(w http.ResponseWriter, r *http.Request) {
	if s.orch == nil {
		writeError(w, http.StatusServiceUnavailable, "orchestrator not configured")
		return
	}
	agents := s.orch.Registry().All()
	writeJSON(w, map[string]interface{}{"agents": agents})
}

func (s *Server) handleGetAgent(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	agent := s.orch.Registry().Get(id)
	if agent == nil {
		writeError(w, http.StatusNotFound, "agent not found")
		return
	}
	writeJSON(w, agent)
}

type queueGoalRequest struct {
	Name     string                 `json:"name"`
	Priority model.Priority         `json:"priority,omitempty"`
	Context  map[string]interface{} `json:"context,omitempty"`
}

func (s *Server) handleQueueAgentGoal(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	var req queueGoalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}
	if req.Priority == "" {
		req.Priority = model.PriorityNormal
	}

	l := s.orch.Loop(id)
	if l == nil {
		writeError(w, http.StatusNotFound, "agent not connected")
		return
	}
	l.QueueGoal(req.Name, req.Context, req.Priority)
	writeJSON(w, map[string]string{"status": "queued"})
}

func (s *Server) handleDisconnectAgent(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	if err := s.orch.DisconnectAgent(ctx, id); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, map[string]string{"status": "disconnected"})
}

// --- Swarm goals ---

func (s *Server) handleQueueSwarmGoal(w http.ResponseWriter, r *http.Request) {
	var req queueGoalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}
	if req.Priority == "" {
		req.Priority = model.PriorityNormal
	}

	s.orch.QueueSwarmGoal(req.Name, req.Context, req.Priority)
	writeJSON(w, map[string]string{"status": "queued"})
}

// --- Approvals ---

func (s *Server) handleListApprovals(w http.ResponseWriter, r *http.Request) {
	if s.approvals == nil {
		writeJSON(w, map[string]interface{}{"approvals": []interface{}{}})
		return
	}
	writeJSON(w, map[string]interface{}{"approvals": s.approvals.ListPending()})
}

type resolveApprovalRequest struct {
	Approve    bool   `json:"approve"`
	ApproverID string `json:"approver_id"`
	Reason     string `json:"reason,omitempty"`
}

func (s *Server) handleResolveApproval(w http.ResponseWriter, r *http.Request) {
	token := mux.Vars(r)["token"]

	var req resolveApprovalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.ApproverID == "" {
		writeError(w, http.StatusBadRequest, "approver_id is required")
		return
	}

	if !req.Approve {
		ticket, err := s.orch.Host().RejectDangerousTask(token, req.ApproverID, req.Reason)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeJSON(w, ticket)
		return
	}

	result, err := s.orch.Host().ApproveDangerousTask(r.Context(), token, req.ApproverID)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, result)
}

// --- Kill switch ---

func (s *Server) handleTriggerKillSwitch(w http.ResponseWriter, r *http.Request) {
	if s.killSwitch == nil {
		writeError(w, http.StatusServiceUnavailable, "kill switch not configured")
		return
	}
	scope := mux.Vars(r)["scope"]

	var req struct {
		Reason string `json:"reason"`
	}
	json.NewDecoder(r.Body).Decode(&req)
	if req.Reason == "" {
		req.Reason = "triggered via management API"
	}

	if scope == string(killswitch.ScopeGlobal) {
		s.killSwitch.TriggerGlobal(req.Reason, "api")
	} else {
		s.killSwitch.TriggerAgent(scope, req.Reason, "api")
	}
	writeJSON(w, map[string]string{"status": "triggered", "scope": scope})
}

func (s *Server) handleResetKillSwitch(w http.ResponseWriter, r *http.Request) {
	if s.killSwitch == nil {
		writeError(w, http.StatusServiceUnavailable, "kill switch not configured")
		return
	}
	scope := mux.Vars(r)["scope"]

	if scope == string(killswitch.ScopeGlobal) {
		s.killSwitch.ResetGlobal()
	} else {
		s.killSwitch.ResetAgent(scope)
	}
	writeJSON(w, map[string]string{"status": "reset", "scope": scope})
}

// --- Audit log ---

func (s *Server) handleListTraces(w http.ResponseWriter, r *http.Request) {
	if s.tracer == nil {
		writeJSON(w, map[string]interface{}{"traces": []interface{}{}, "total": 0})
		return
	}

	filter := trace.Filter{
		AgentID:    r.URL.Query().Get("agent_id"),
		ActionType: r.URL.Query().Get("action_type"),
		Status:     trace.Status(r.URL.Query().Get("status")),
		Limit:      queryInt(r, "limit", 50),
		Offset:     queryInt(r, "offset", 0),
	}

	records, total, err := s.tracer.ListRecords(filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, map[string]interface{}{"traces": records, "total": total})
}

func (s *Server) handleListViolations(w http.ResponseWriter, r *http.Request) {
	if s.tracer == nil {
		writeJSON(w, map[string]interface{}{"violations": []interface{}{}})
		return
	}

	agentID := r.URL.Query().Get("agent_id")
	violations, err := s.tracer.ListViolations(agentID, queryInt(r, "limit", 50))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, map[string]interface{}{"violations": violations})
}

// --- System ---

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]string{"status": "ok"})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if s.tracer == nil {
		writeJSON(w, map[string]interface{}{})
		return
	}
	stats, err := s.tracer.GetSystemStats()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, stats)
}

// --- Helpers ---

func writeJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

func queryInt(r *http.Request, key string, defaultVal int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return defaultVal
	}
	return v
}
