// Package config holds swarmwarden's top-level Config struct and its
// YAML loader, grounded on the teacher's internal/config.Config shape
// and defaults pattern.
package config

import (
	"sort"
	"time"

	"github.com/swarmwarden/swarmwarden/internal/schema"
)

// Config is the top-level swarmwarden configuration.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Storage    StorageConfig    `yaml:"storage"`
	World      WorldConfig      `yaml:"world"`
	Planner    PlannerConfig    `yaml:"planner"`
	Router     RouterConfig     `yaml:"router"`
	Policy     PolicyConfig     `yaml:"policy"`
	Experience ExperienceConfig `yaml:"experience"`
	Driver     DriverConfig     `yaml:"driver"`
	Alerts     AlertsConfig     `yaml:"alerts"`
	Auth       AuthConfig       `yaml:"auth"`
	Detection  DetectionConfig  `yaml:"detection"`
	Messaging  MessagingConfig  `yaml:"messaging"`
	Sanitize   SanitizeConfig   `yaml:"sanitize"`
}

// ServerConfig controls the management API.
type ServerConfig struct {
	Port     int    `yaml:"port"`
	GRPCPort int    `yaml:"grpc_port"`
	LogLevel string `yaml:"log_level"`
	CORS     bool   `yaml:"cors"`
	FailMode string `yaml:"fail_mode"` // "closed" = deny on error, "open" = allow on error
}

// StorageConfig controls the action trace store.
type StorageConfig struct {
	Driver    string        `yaml:"driver"`
	Path      string        `yaml:"path"`
	Retention time.Duration `yaml:"retention"`
}

// WorldConfig mirrors world.Config.
type WorldConfig struct {
	ScanRadius      int           `yaml:"scan_radius"`
	BlockScanRadius int           `yaml:"block_scan_radius"`
	UpdateInterval  time.Duration `yaml:"update_interval"`
}

// PlannerConfig mirrors planner.Config.
type PlannerConfig struct {
	MaxPlanLength int           `yaml:"max_plan_length"`
	PlanCacheTTL  time.Duration `yaml:"plan_cache_ttl"`
}

// RouterConfig mirrors router.Config.
type RouterConfig struct {
	TaskTimeoutMs int `yaml:"task_timeout_ms"`
}

// PolicyConfig mirrors policy.Config.
type PolicyConfig struct {
	GlobalRequestsPerMinute     int      `yaml:"global_requests_per_minute"`
	MaxTasksPerAgent            int      `yaml:"max_tasks_per_agent"`
	DangerousBlocks             []string `yaml:"dangerous_blocks"`
	RequireApprovalForDangerous bool     `yaml:"require_approval_for_dangerous"`
}

// ExperienceConfig mirrors experience.Buffer's capacity.
type ExperienceConfig struct {
	Capacity int `yaml:"capacity"`
}

// DriverConfig selects and configures the ClientDriver implementation.
type DriverConfig struct {
	Kind    string `yaml:"kind"` // "nats" | "mock"
	NATSUrl string `yaml:"nats_url"`
}

// AlertsConfig configures outbound alert senders.
type AlertsConfig struct {
	Slack   SlackAlertConfig   `yaml:"slack"`
	Webhook WebhookAlertConfig `yaml:"webhook"`
}

// SlackAlertConfig configures the Slack incoming-webhook sender.
type SlackAlertConfig struct {
	WebhookURL string `yaml:"webhook_url"`
	Channel    string `yaml:"channel"`
}

// WebhookAlertConfig configures the generic HTTP webhook sender.
type WebhookAlertConfig struct {
	URL    string `yaml:"url"`
	Secret string `yaml:"secret"`
}

// AuthConfig configures the management API's bearer-token auth gate.
type AuthConfig struct {
	Enabled bool          `yaml:"enabled"`
	Tokens  []StaticToken `yaml:"tokens"`
}

// StaticToken is one configured bearer credential.
type StaticToken struct {
	Token string `yaml:"token"`
	Role  string `yaml:"role"`
	User  string `yaml:"user"`
}

// DetectionConfig configures the operational anomaly detectors.
type DetectionConfig struct {
	Loop     LoopDetectionConfig     `yaml:"loop"`
	Velocity VelocityDetectionConfig `yaml:"velocity"`
	Spiral   SpiralDetectionConfig   `yaml:"spiral"`
}

// LoopDetectionConfig configures detection.LoopDetector.
type LoopDetectionConfig struct {
	Enabled   bool          `yaml:"enabled"`
	Threshold int           `yaml:"threshold"`
	Window    time.Duration `yaml:"window"`
	Action    string        `yaml:"action"` // pause, alert, terminate
}

// VelocityDetectionConfig configures detection.VelocityDetector.
type VelocityDetectionConfig struct {
	Enabled          bool   `yaml:"enabled"`
	Threshold        int    `yaml:"threshold"` // actions per second
	SustainedSeconds int    `yaml:"sustained_seconds"`
	Action           string `yaml:"action"`
}

// SpiralDetectionConfig configures detection.SpiralDetector.
type SpiralDetectionConfig struct {
	Enabled             bool    `yaml:"enabled"`
	SimilarityThreshold float64 `yaml:"similarity_threshold"`
	Window              int     `yaml:"window"`
	Action              string  `yaml:"action"`
}

// MessagingConfig controls the per-agent chat-action rate cap.
type MessagingConfig struct {
	MessagesPerHour int `yaml:"messages_per_hour"`
}

// SanitizeConfig controls secret/PII scanning of outbound chat messages.
type SanitizeConfig struct {
	Enabled bool   `yaml:"enabled"`
	Mode    string `yaml:"mode"` // flag, warn, deny
}

// DefaultConfig returns a Config with sensible defaults for zero-config
// startup, mirroring the teacher's DefaultConfig.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:     6777,
			GRPCPort: 6778,
			LogLevel: "info",
			CORS:     false,
			FailMode: "closed",
		},
		Storage: StorageConfig{
			Driver:    "sqlite",
			Path:      "./swarmwarden.db",
			Retention: 30 * 24 * time.Hour,
		},
		World: WorldConfig{
			ScanRadius:      32,
			BlockScanRadius: 16,
			UpdateInterval:  2 * time.Second,
		},
		Planner: PlannerConfig{
			MaxPlanLength: 20,
			PlanCacheTTL:  30 * time.Second,
		},
		Router: RouterConfig{
			TaskTimeoutMs: 30000,
		},
		Policy: PolicyConfig{
			GlobalRequestsPerMinute:     600,
			MaxTasksPerAgent:            8,
			DangerousBlocks:             defaultDangerousBlocks(),
			RequireApprovalForDangerous: true,
		},
		Experience: ExperienceConfig{
			Capacity: 5000,
		},
		Driver: DriverConfig{
			Kind: "mock",
		},
		Detection: DetectionConfig{
			Loop: LoopDetectionConfig{
				Enabled:   true,
				Threshold: 5,
				Window:    60 * time.Second,
				Action:    "pause",
			},
			Velocity: VelocityDetectionConfig{
				Enabled:          true,
				Threshold:        10,
				SustainedSeconds: 5,
				Action:           "alert",
			},
			Spiral: SpiralDetectionConfig{
				Enabled:             true,
				SimilarityThreshold: 0.85,
				Window:              5,
				Action:              "alert",
			},
		},
		Messaging: MessagingConfig{
			MessagesPerHour: 30,
		},
		Sanitize: SanitizeConfig{
			Enabled: true,
			Mode:    "deny",
		},
	}
}

// defaultDangerousBlocks returns the spec's required 12-entry baseline
// dangerous-block set, sourced from schema.DangerousBlocks so the
// config default and the schema validator's fallback can never drift
// apart.
func defaultDangerousBlocks() []string {
	out := make([]string, 0, len(schema.DangerousBlocks))
	for block := range schema.DangerousBlocks {
		out = append(out, block)
	}
	sort.Strings(out)
	return out
}
