// Package messaging enforces a per-agent chat-rate cap independent of
// PolicyEngine's general task rate limit. Secret/PII content scanning
// for chat text lives in internal/sanitize; this package only counts.
package messaging

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/swarmwarden/swarmwarden/internal/sanitize"
)

// Config holds messaging governance settings.
type Config struct {
	MessagesPerHour int `yaml:"messages_per_hour" json:"messages_per_hour"`
}

// DefaultMessagesPerHour is used when Config.MessagesPerHour is unset.
const DefaultMessagesPerHour = 50

// SendResult is the outcome of evaluating an outbound chat message.
type SendResult struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason,omitempty"`
}

// Interceptor caps how many chat actions an agent may send per hour.
type Interceptor struct {
	mu sync.RWMutex

	config Config

	// timestamps tracks each agent's recent chat sends.
	timestamps map[string][]time.Time

	logger *slog.Logger
}

// NewInterceptor creates a new message interceptor.
func NewInterceptor(cfg Config, logger *slog.Logger) *Interceptor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Interceptor{
		config:     cfg,
		timestamps: make(map[string][]time.Time),
		logger:     logger.With("component", "messaging.Interceptor"),
	}
}

// Evaluate checks whether agentID may send another chat action this hour,
// recording it if so.
func (i *Interceptor) Evaluate(agentID string) SendResult {
	maxPerHour := i.config.MessagesPerHour
	if maxPerHour <= 0 {
		maxPerHour = DefaultMessagesPerHour
	}

	i.mu.Lock()
	defer i.mu.Unlock()

	now := time.Now()
	oneHourAgo := now.Add(-time.Hour)

	timestamps := i.timestamps[agentID]
	count := 0
	kept := timestamps[:0]
	for _, ts := range timestamps {
		if ts.After(oneHourAgo) {
			kept = append(kept, ts)
			count++
		}
	}
	i.timestamps[agentID] = kept

	if count >= maxPerHour {
		return SendResult{
			Allowed: false,
			Reason:  fmt.Sprintf("chat rate limit exceeded: %d/%d per hour", count, maxPerHour),
		}
	}

	i.timestamps[agentID] = append(i.timestamps[agentID], now)
	return SendResult{Allowed: true}
}

// Reset clears rate tracking for an agent, e.g. after disconnect.
func (i *Interceptor) Reset(agentID string) {
	i.mu.Lock()
	defer i.mu.Unlock()
	delete(i.timestamps, agentID)
}

// Guard composes the rate-cap Interceptor with a sanitize.Scanner into
// the single admission.MessageGuard shape AdmissionHost expects before
// dispatching a chat action.
type Guard struct {
	Interceptor *Interceptor
	Scanner     *sanitize.Scanner
}

// NewGuard wires a Guard from already-constructed collaborators.
func NewGuard(interceptor *Interceptor, scanner *sanitize.Scanner) *Guard {
	return &Guard{Interceptor: interceptor, Scanner: scanner}
}

// Check scans message for secrets/PII first (a match is blocked
// regardless of rate), then enforces the per-agent messages/hour cap.
func (g *Guard) Check(agentID, message string) (bool, string) {
	if g.Scanner != nil {
		if result := g.Scanner.Scan(message); result.Detected {
			return false, fmt.Sprintf("chat message blocked: %s (severity: %s)", result.Details, result.Severity)
		}
	}
	if g.Interceptor != nil {
		if result := g.Interceptor.Evaluate(agentID); !result.Allowed {
			return false, result.Reason
		}
	}
	return true, ""
}
