// Package api implements the HTTP management surface (spec.md §4.20):
// agent/goal/approval/kill-switch routes plus a WebSocket hub
// broadcasting swarm events to connected dashboards. Grounded on the
// teacher's internal/api/{server.go,handlers.go,websocket.go}, routed
// with gorilla/mux instead of the teacher's Go 1.22 http.ServeMux
// patterns, matching the management-HTTP-surface convention used for
// this same concern elsewhere in the example pack.
package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/swarmwarden/swarmwarden/internal/auth"
	"github.com/swarmwarden/swarmwarden/internal/config"
	"github.com/swarmwarden/swarmwarden/internal/killswitch"
	"github.com/swarmwarden/swarmwarden/internal/orchestrator"
	"github.com/swarmwarden/swarmwarden/internal/policy"
	"github.com/swarmwarden/swarmwarden/internal/trace"
)

// Server is the management API + WebSocket event hub.
type Server struct {
	config       config.Config
	orch         *orchestrator.Orchestrator
	tracer       trace.Store // optional
	cfgLoader    *config.Loader
	approvals    *policy.ApprovalRegistry
	tokenManager *auth.TokenManager // optional; nil disables auth entirely
	killSwitch   *killswitch.KillSwitch // optional
	wsHub        *WebSocketHub
	router       *mux.Router
	httpServer   *http.Server
	logger       *slog.Logger
}

// Deps bundles Server's collaborators. Tracer, TokenManager, and
// KillSwitch may all be nil.
type Deps struct {
	Orchestrator *orchestrator.Orchestrator
	Tracer       trace.Store
	CfgLoader    *config.Loader
	Approvals    *policy.ApprovalRegistry
	TokenManager *auth.TokenManager
	KillSwitch   *killswitch.KillSwitch
}

// NewServer creates a new management API server.
func NewServer(cfg config.Config, deps Deps, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		config:       cfg,
		orch:         deps.Orchestrator,
		tracer:       deps.Tracer,
		cfgLoader:    deps.CfgLoader,
		approvals:    deps.Approvals,
		tokenManager: deps.TokenManager,
		killSwitch:   deps.KillSwitch,
		wsHub:        NewWebSocketHub(logger, cfg.Server.CORS),
		router:       mux.NewRouter(),
		logger:       logger.With("component", "api.Server"),
	}
	s.registerRoutes()
	return s
}

// authRequired wraps a handler with bearer-token authentication. If
// auth is disabled or no TokenManager is wired, the handler runs
// unwrapped.
func (s *Server) authRequired(action string, next http.HandlerFunc) http.HandlerFunc {
	if !s.config.Auth.Enabled || s.tokenManager == nil || !s.tokenManager.Enabled() {
		return next
	}

	return func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if header == "" || !strings.HasPrefix(header, "Bearer ") {
			writeError(w, http.StatusUnauthorized, "missing or malformed Authorization header")
			return
		}
		token := strings.TrimPrefix(header, "Bearer ")

		identity, err := s.tokenManager.Authenticate(token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "invalid bearer token")
			return
		}
		if !auth.HasPermission(identity.Role, action) {
			writeError(w, http.StatusForbidden, "insufficient permissions")
			return
		}

		next(w, r)
	}
}

func (s *Server) registerRoutes() {
	s.router.HandleFunc("/api/agents", s.authRequired("read", s.handleListAgents)).Methods(http.MethodGet)
	s.router.HandleFunc("/api/agents/{id}", s.authRequired("read", s.handleGetAgent)).Methods(http.MethodGet)
	s.router.HandleFunc("/api/agents/{id}/goals", s.authRequired("agent.goal", s.handleQueueAgentGoal)).Methods(http.MethodPost)
	s.router.HandleFunc("/api/agents/{id}/disconnect", s.authRequired("agent.disconnect", s.handleDisconnectAgent)).Methods(http.MethodPost)

	s.router.HandleFunc("/api/swarm/goals", s.authRequired("swarm.goal", s.handleQueueSwarmGoal)).Methods(http.MethodPost)

	s.router.HandleFunc("/api/approvals", s.authRequired("read", s.handleListApprovals)).Methods(http.MethodGet)
	s.router.HandleFunc("/api/approvals/{token}/resolve", s.authRequired("approval.resolve", s.handleResolveApproval)).Methods(http.MethodPost)

	s.router.HandleFunc("/api/killswitch/{scope}", s.authRequired("killswitch.trigger", s.handleTriggerKillSwitch)).Methods(http.MethodPost)
	s.router.HandleFunc("/api/killswitch/{scope}/reset", s.authRequired("killswitch.trigger", s.handleResetKillSwitch)).Methods(http.MethodPost)

	s.router.HandleFunc("/api/traces", s.authRequired("read", s.handleListTraces)).Methods(http.MethodGet)
	s.router.HandleFunc("/api/violations", s.authRequired("read", s.handleListViolations)).Methods(http.MethodGet)

	s.router.HandleFunc("/api/health", s.handleHealth).Methods(http.MethodGet)
	s.router.HandleFunc("/api/stats", s.authRequired("read", s.handleStats)).Methods(http.MethodGet)
	s.router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	s.router.HandleFunc("/ws", s.wsHub.HandleWebSocket)
}

// Handler returns the HTTP handler, with CORS applied if configured.
func (s *Server) Handler() http.Handler {
	if s.config.Server.CORS {
		return corsMiddleware(s.router)
	}
	return s.router
}

// Start starts the API server on addr. Blocks until Shutdown or a fatal error.
func (s *Server) Start(addr string) error {
	go s.wsHub.Run()

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("management API listening", "addr", addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.wsHub.Close()
	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}

// Broadcast pushes an event to every connected WebSocket client.
// eventType is one of "agent_status_changed", "action_executed",
// "approval_required".
func (s *Server) Broadcast(eventType string, data interface{}) {
	s.wsHub.Broadcast(eventType, data)
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// Router returns the underlying mux.Router for mounting additional routes.
func (s *Server) Router() *mux.Router {
	return s.router
}

// Addr formats a listen address from a port, e.g. for cmd/swarmwardend.
func Addr(port int) string {
	return fmt.Sprintf(":%d", port)
}
