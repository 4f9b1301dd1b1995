package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"

	"github.com/swarmwarden/swarmwarden/internal/admission"
	"github.com/swarmwarden/swarmwarden/internal/alert"
	"github.com/swarmwarden/swarmwarden/internal/api"
	"github.com/swarmwarden/swarmwarden/internal/auth"
	"github.com/swarmwarden/swarmwarden/internal/config"
	"github.com/swarmwarden/swarmwarden/internal/driver"
	"github.com/swarmwarden/swarmwarden/internal/killswitch"
	"github.com/swarmwarden/swarmwarden/internal/messaging"
	"github.com/swarmwarden/swarmwarden/internal/orchestrator"
	"github.com/swarmwarden/swarmwarden/internal/policy"
	"github.com/swarmwarden/swarmwarden/internal/router"
	"github.com/swarmwarden/swarmwarden/internal/sanitize"
	"github.com/swarmwarden/swarmwarden/internal/telemetry"
	"github.com/swarmwarden/swarmwarden/internal/trace"
)

var (
	version   = "dev"
	commit    = "none"
	buildDate = "unknown"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "swarmwardend",
		Short: "Control plane for autonomous game-client agent swarms",
		Long:  "SwarmWarden -- Observe. Decide. Validate. Act.\nA control plane that drives a swarm of autonomous game-client agents through a policy-gated admission host.",
	}

	var configFile string
	var port int
	var devMode bool

	startCmd := &cobra.Command{
		Use:   "start",
		Short: "Start the swarm control plane and management API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStart(configFile, port, devMode)
		},
	}
	startCmd.Flags().StringVarP(&configFile, "config", "c", "", "Path to config file (default: swarmwarden.yaml)")
	startCmd.Flags().IntVarP(&port, "port", "p", 0, "Override HTTP port (default: 6777)")
	startCmd.Flags().BoolVar(&devMode, "dev", false, "Dev mode: verbose logs, CORS *")

	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Generate a starter swarmwarden.yaml",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInit()
		},
	}

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show the running control plane's swarm-wide stats",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(port)
		},
	}
	statusCmd.Flags().IntVarP(&port, "port", "p", 0, "Control plane port (default: 6777)")

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("swarmwardend %s\n", version)
			fmt.Printf("  Commit:  %s\n", commit)
			fmt.Printf("  Built:   %s\n", buildDate)
		},
	}

	agentCmd := &cobra.Command{
		Use:   "agent",
		Short: "Agent goal commands",
	}
	agentGoalCmd := &cobra.Command{
		Use:   "goal [agent-id] [goal-name]",
		Short: "Queue a goal on one connected agent",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAgentGoal(port, args[0], args[1])
		},
	}
	agentGoalCmd.Flags().IntVarP(&port, "port", "p", 0, "Control plane port (default: 6777)")
	agentCmd.AddCommand(agentGoalCmd)

	swarmCmd := &cobra.Command{
		Use:   "swarm",
		Short: "Swarm-wide goal commands",
	}
	swarmGoalCmd := &cobra.Command{
		Use:   "goal [goal-name]",
		Short: "Queue a goal on every currently connected agent",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSwarmGoal(port, args[0])
		},
	}
	swarmGoalCmd.Flags().IntVarP(&port, "port", "p", 0, "Control plane port (default: 6777)")
	swarmCmd.AddCommand(swarmGoalCmd)

	killswitchCmd := &cobra.Command{
		Use:   "killswitch",
		Short: "Kill switch commands",
	}
	killswitchTriggerCmd := &cobra.Command{
		Use:   "trigger [scope]",
		Short: "Trigger the kill switch (\"global\" or an agent ID)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runKillSwitch(port, args[0], "trigger")
		},
	}
	killswitchResetCmd := &cobra.Command{
		Use:   "reset [scope]",
		Short: "Reset the kill switch (\"global\" or an agent ID)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runKillSwitch(port, args[0], "reset")
		},
	}
	killswitchTriggerCmd.Flags().IntVarP(&port, "port", "p", 0, "Control plane port (default: 6777)")
	killswitchResetCmd.Flags().IntVarP(&port, "port", "p", 0, "Control plane port (default: 6777)")
	killswitchCmd.AddCommand(killswitchTriggerCmd, killswitchResetCmd)

	rootCmd.AddCommand(startCmd, initCmd, statusCmd, versionCmd, agentCmd, swarmCmd, killswitchCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// runStart is the composition root: it builds every SpecC1-C12
// collaborator and wires them into one Orchestrator plus one
// management api.Server, following the teacher's runStart shape.
func runStart(configFile string, portOverride int, devMode bool) error {
	cfgLoader := config.NewLoader()
	if configFile == "" {
		configFile = findConfigFile()
	}
	if configFile != "" {
		if err := cfgLoader.Load(configFile); err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
	}

	cfg := cfgLoader.Get()
	if portOverride > 0 {
		cfg.Server.Port = portOverride
	}
	if devMode {
		cfg.Server.CORS = true
		cfg.Server.LogLevel = "debug"
	}

	logger := telemetry.NewLogger(telemetry.Options{Level: cfg.Server.LogLevel, JSON: false})

	// Audit log.
	var tracer trace.Store
	if cfg.Storage.Driver == "sqlite" || cfg.Storage.Path != "" {
		store, err := trace.NewSQLiteStore(cfg.Storage.Path)
		if err != nil {
			return fmt.Errorf("failed to open storage: %w", err)
		}
		if err := store.Initialize(); err != nil {
			return fmt.Errorf("failed to initialize storage: %w", err)
		}
		defer func() { _ = store.Close() }()
		tracer = store
	} else {
		tracer = trace.NewMemoryStore()
	}

	alertMgr := alert.NewManager(cfg.Alerts, logger)

	approvals := policy.NewApprovalRegistry(5*time.Minute, logger)

	dangerousBlocks := make(map[string]struct{}, len(cfg.Policy.DangerousBlocks))
	for _, b := range cfg.Policy.DangerousBlocks {
		dangerousBlocks[b] = struct{}{}
	}
	policyEngine := policy.NewEngine(policy.Config{
		RequestsPerMinute: cfg.Policy.GlobalRequestsPerMinute,
		ConcurrencyLimit:  cfg.Policy.MaxTasksPerAgent,
		DangerousBlocks:   dangerousBlocks,
	}, nil, approvals, logger)

	// Kill switch, checked ahead of all policy evaluation.
	ks := killswitch.New(logger)
	go func() {
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()
		for range ticker.C {
			ks.CheckFileKill()
		}
	}()

	clientDriver, err := buildDriver(cfg.Driver, logger)
	if err != nil {
		return fmt.Errorf("failed to build client driver: %w", err)
	}

	r := router.New(clientDriver, router.Config{
		RequireApprovalForDangerous: cfg.Policy.RequireApprovalForDangerous,
		TaskTimeout:                 time.Duration(cfg.Router.TaskTimeoutMs) * time.Millisecond,
	}, logger)

	host := admission.New(policyEngine, r, ks, logger)
	host.SetTracer(tracer)
	host.SetAlertSender(alertMgr)

	// Periodic maintenance: expire stale approval tickets and prune the
	// audit log past its retention window.
	maintenance := cron.New()
	if _, err := maintenance.AddFunc("@every 1m", func() {
		if expired := approvals.SweepExpired(); len(expired) > 0 {
			logger.Info("swept expired approval tickets", "count", len(expired))
		}
	}); err != nil {
		return fmt.Errorf("failed to schedule approval sweep: %w", err)
	}
	retentionDays := int(cfg.Storage.Retention / (24 * time.Hour))
	if retentionDays > 0 {
		if _, err := maintenance.AddFunc("@daily", func() {
			pruned, err := tracer.PruneOlderThan(retentionDays)
			if err != nil {
				logger.Warn("trace prune failed", "error", err)
				return
			}
			if pruned > 0 {
				logger.Info("pruned trace records past retention window", "count", pruned, "retention_days", retentionDays)
			}
		}); err != nil {
			return fmt.Errorf("failed to schedule trace prune: %w", err)
		}
	}
	maintenance.Start()
	defer maintenance.Stop()

	scanner := sanitize.NewScanner(sanitize.Config{
		Enabled: cfg.Sanitize.Enabled,
		Mode:    cfg.Sanitize.Mode,
	}, logger)
	interceptor := messaging.NewInterceptor(messaging.Config{
		MessagesPerHour: cfg.Messaging.MessagesPerHour,
	}, logger)
	host.SetMessageGuard(messaging.NewGuard(interceptor, scanner))

	orch := orchestrator.New(clientDriver, host, alertMgr, orchestrator.Config{
		Detection: cfg.Detection,
	}, logger)

	var tokenManager *auth.TokenManager
	if cfg.Auth.Enabled {
		tokenManager = auth.NewTokenManager(cfg.Auth, logger)
	}

	apiServer := api.NewServer(*cfg, api.Deps{
		Orchestrator: orch,
		Tracer:       tracer,
		CfgLoader:    cfgLoader,
		Approvals:    approvals,
		TokenManager: tokenManager,
		KillSwitch:   ks,
	}, logger)

	fmt.Println()
	fmt.Println("  swarmwardend " + version)
	fmt.Println("  Observe. Decide. Validate. Act.")
	fmt.Println()
	fmt.Printf("  -> HTTP:    http://localhost:%d\n", cfg.Server.Port)
	fmt.Printf("  -> API:     http://localhost:%d/api\n", cfg.Server.Port)
	fmt.Printf("  -> WS:      ws://localhost:%d/ws\n", cfg.Server.Port)
	fmt.Printf("  -> Driver:  %s\n", cfg.Driver.Kind)
	fmt.Println()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigCh
		logger.Info("shutting down...")
		orch.EmergencyReset(context.Background())
		shutCtx, shutCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutCancel()
		_ = apiServer.Shutdown(shutCtx)
	}()

	logger.Info("starting management API", "port", cfg.Server.Port)
	if err := apiServer.Start(api.Addr(cfg.Server.Port)); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("API server error: %w", err)
	}
	return nil
}

// buildDriver selects the ClientDriver implementation named in
// cfg.Kind. "mock" is for local/dev use (no real game client attaches);
// "nats" bridges to a real one over NATS request/reply + subscription.
func buildDriver(cfg config.DriverConfig, logger *slog.Logger) (orchestrator.Driver, error) {
	switch cfg.Kind {
	case "nats":
		return driver.NewNATSBridge(driver.NATSBridgeConfig{
			URL:           cfg.NATSUrl,
			SubjectPrefix: "swarmwarden",
			EventSubject:  "swarmwarden.events",
		}, logger)
	default:
		return driver.NewMock(256), nil
	}
}

func runInit() error {
	configPath := "swarmwarden.yaml"
	if _, err := os.Stat(configPath); err == nil {
		fmt.Printf("  (skip) %s already exists\n", configPath)
	} else {
		if err := config.GenerateDefault(configPath); err != nil {
			return err
		}
		fmt.Printf("  created %s\n", configPath)
	}
	fmt.Println()
	fmt.Println("  Next steps:")
	fmt.Println("    swarmwardend start                        # start the control plane")
	fmt.Println("    swarmwardend agent goal <id> <goal>        # queue a goal on one agent")
	fmt.Println("    swarmwardend swarm goal <goal>             # queue a goal on the whole swarm")
	return nil
}

func runStatus(port int) error {
	p := resolvePort(port)
	resp, err := http.Get(fmt.Sprintf("http://localhost:%d/api/stats", p))
	if err != nil {
		fmt.Printf("swarmwardend is not running on port %d\n", p)
		return nil
	}
	defer func() { _ = resp.Body.Close() }()

	var stats map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&stats); err != nil {
		return err
	}
	fmt.Println("swarmwardend status")
	fmt.Println("--------------------")
	for k, v := range stats {
		fmt.Printf("  %-20s %v\n", k+":", v)
	}
	return nil
}

func runAgentGoal(port int, agentID, goalName string) error {
	p := resolvePort(port)
	body, _ := json.Marshal(map[string]interface{}{"name": goalName})
	resp, err := http.Post(fmt.Sprintf("http://localhost:%d/api/agents/%s/goals", p, agentID), "application/json", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("queue goal failed (HTTP %d)", resp.StatusCode)
	}
	fmt.Printf("queued %q on agent %s\n", goalName, agentID)
	return nil
}

func runSwarmGoal(port int, goalName string) error {
	p := resolvePort(port)
	body, _ := json.Marshal(map[string]interface{}{"name": goalName})
	resp, err := http.Post(fmt.Sprintf("http://localhost:%d/api/swarm/goals", p), "application/json", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("queue swarm goal failed (HTTP %d)", resp.StatusCode)
	}
	fmt.Printf("queued %q across the swarm\n", goalName)
	return nil
}

func runKillSwitch(port int, scope, action string) error {
	p := resolvePort(port)
	url := fmt.Sprintf("http://localhost:%d/api/killswitch/%s", p, scope)
	if action == "reset" {
		url += "/reset"
	}
	resp, err := http.Post(url, "application/json", bytes.NewReader([]byte(`{"reason":"triggered via CLI"}`)))
	if err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	fmt.Printf("kill switch %s for scope %q (HTTP %d)\n", action, scope, resp.StatusCode)
	return nil
}

func findConfigFile() string {
	candidates := []string{
		"swarmwarden.yaml",
		"swarmwarden.yml",
		filepath.Join(os.Getenv("HOME"), ".config", "swarmwarden", "config.yaml"),
	}
	for _, c := range candidates {
		if _, err := os.Stat(c); err == nil {
			return c
		}
	}
	return ""
}

func resolvePort(port int) int {
	if port == 0 {
		return 6777
	}
	return port
}

