// Package sanitize screens outbound chat text for secrets and PII before
// it reaches the game world. A chat message that leaks an API key or an
// email address is as much an incident as a dangerous block edit — this
// is defense-in-depth, not a complete filter; a sufficiently obfuscated
// secret will still slip through.
package sanitize

import (
	"log/slog"
	"regexp"
	"strings"
	"sync"
)

// Config holds sanitization settings.
type Config struct {
	Enabled     bool   `yaml:"enabled" json:"enabled"`
	Mode        string `yaml:"mode" json:"mode"` // flag, warn, deny
	OnDetection struct {
		Action string `yaml:"action" json:"action"` // flag, alert, deny
		Alert  bool   `yaml:"alert" json:"alert"`
	} `yaml:"on_detection" json:"on_detection"`
}

// ScanResult is the outcome of scanning a chat message.
type ScanResult struct {
	Detected bool     `json:"detected"`
	Flags    []string `json:"flags,omitempty"`
	Severity string   `json:"severity"` // low, medium, high, critical
	Details  string   `json:"details,omitempty"`
}

// Scanner checks outbound chat text for secret/PII patterns.
type Scanner struct {
	mu       sync.RWMutex
	config   Config
	patterns []*compiledPattern
	logger   *slog.Logger
}

type compiledPattern struct {
	Name     string
	Regex    *regexp.Regexp
	Severity string
}

// NewScanner creates a new chat scanner with default patterns.
func NewScanner(cfg Config, logger *slog.Logger) *Scanner {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Scanner{
		config: cfg,
		logger: logger.With("component", "sanitize.Scanner"),
	}
	s.loadDefaultPatterns()
	return s
}

// Scan checks a chat action's message parameter for secrets/PII.
func (s *Scanner) Scan(content string) ScanResult {
	if !s.config.Enabled || content == "" {
		return ScanResult{Severity: "none"}
	}

	s.mu.RLock()
	patterns := s.patterns
	s.mu.RUnlock()

	var flags []string
	highestSeverity := "none"

	for _, p := range patterns {
		if p.Regex.MatchString(content) {
			flags = append(flags, p.Name)
			if severityRank(p.Severity) > severityRank(highestSeverity) {
				highestSeverity = p.Severity
			}
		}
	}

	if len(flags) == 0 {
		return ScanResult{Severity: "none"}
	}

	return ScanResult{
		Detected: true,
		Flags:    flags,
		Severity: highestSeverity,
		Details:  strings.Join(flags, ", "),
	}
}

func (s *Scanner) loadDefaultPatterns() {
	rawPatterns := []struct {
		name     string
		pattern  string
		severity string
	}{
		// API keys / tokens
		{"aws_access_key", `\bAKIA[0-9A-Z]{16}\b`, "critical"},
		{"generic_api_key", `(?i)\b(api[_-]?key|secret[_-]?key|access[_-]?token)\s*[:=]\s*['"]?[A-Za-z0-9_\-]{16,}['"]?`, "critical"},
		{"bearer_token", `(?i)\bBearer\s+[A-Za-z0-9_\-.]{20,}`, "high"},
		{"github_token", `\bgh[pousr]_[A-Za-z0-9]{36,}\b`, "critical"},
		{"jwt", `\beyJ[A-Za-z0-9_-]{10,}\.[A-Za-z0-9_-]{10,}\.[A-Za-z0-9_-]{10,}\b`, "high"},
		{"private_key_block", `-----BEGIN (RSA |EC |OPENSSH )?PRIVATE KEY-----`, "critical"},

		// PII
		{"email", `\b[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}\b`, "medium"},
		{"ssn", `\b\d{3}-\d{2}-\d{4}\b`, "high"},
		{"credit_card", `\b(?:\d[ -]*?){13,16}\b`, "high"},
		{"phone_number", `\b\+?1?[ .\-]?\(?\d{3}\)?[ .\-]?\d{3}[ .\-]?\d{4}\b`, "low"},

		// Credential-shaped phrasing that tends to accompany a leak
		{"password_assignment", `(?i)\bpassword\s*[:=]\s*\S{6,}`, "high"},
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, rp := range rawPatterns {
		re, err := regexp.Compile(rp.pattern)
		if err != nil {
			s.logger.Warn("failed to compile scan pattern", "name", rp.name, "error", err)
			continue
		}
		s.patterns = append(s.patterns, &compiledPattern{
			Name:     rp.name,
			Regex:    re,
			Severity: rp.severity,
		})
	}
}

func severityRank(s string) int {
	switch s {
	case "critical":
		return 4
	case "high":
		return 3
	case "medium":
		return 2
	case "low":
		return 1
	default:
		return 0
	}
}
